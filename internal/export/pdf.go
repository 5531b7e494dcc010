/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"

	"github.com/jung-kurt/gofpdf"
	_ "golang.org/x/image/webp"
)

// PDFOptions controls PDF conversion. Units are points.
type PDFOptions struct {
	Title string
	// DPI maps page pixels to points; defaults to 150.
	DPI int
}

// ConvertZipToPDF renders an export archive's page images into a single
// multi-page PDF, one image per page at the image's natural aspect.
// Pages are re-encoded as PNG so WebP exports work too.
func ConvertZipToPDF(zipPath, outPath string, opt PDFOptions) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open export archive: %w", err)
	}
	defer zr.Close()

	pages := pageEntries(zr)
	if len(pages) == 0 {
		return fmt.Errorf("no page images in %s", zipPath)
	}

	dpi := opt.DPI
	if dpi <= 0 {
		dpi = 150
	}
	scale := 72.0 / float64(dpi)

	if !strings.HasSuffix(strings.ToLower(outPath), ".pdf") {
		outPath += ".pdf"
	}

	var pdf *gofpdf.Fpdf
	for i, pg := range pages {
		rc, err := pg.Open()
		if err != nil {
			return fmt.Errorf("open page %s: %w", pg.Name, err)
		}
		img, _, err := image.Decode(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("decode page %s: %w", pg.Name, err)
		}
		b := img.Bounds()
		wPt := float64(b.Dx()) * scale
		hPt := float64(b.Dy()) * scale

		if pdf == nil {
			pdf = gofpdf.NewCustom(&gofpdf.InitType{
				UnitStr: "pt",
				Size:    gofpdf.SizeType{Wd: wPt, Ht: hPt},
			})
			if opt.Title != "" {
				pdf.SetTitle(opt.Title, true)
			}
			pdf.SetMargins(0, 0, 0)
			pdf.SetAutoPageBreak(false, 0)
		}
		pdf.AddPageFormat("P", gofpdf.SizeType{Wd: wPt, Ht: hPt})

		buf := &bytes.Buffer{}
		if err := png.Encode(buf, img); err != nil {
			return fmt.Errorf("encode page %s: %w", pg.Name, err)
		}
		name := fmt.Sprintf("page-%d", i+1)
		pdf.RegisterImageOptionsReader(name, gofpdf.ImageOptions{ImageType: "PNG"}, buf)
		pdf.ImageOptions(name, 0, 0, wPt, hPt, false, gofpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		if pdf.Err() {
			return fmt.Errorf("render page %s: %s", pg.Name, pdf.Error())
		}
	}

	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}
