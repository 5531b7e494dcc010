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
	"io"
	"path/filepath"
	"strings"
)

// CBZOptions controls CBZ conversion.
type CBZOptions struct {
	Series string
	Title  string
	// RightToLeft marks manga reading order in the ComicInfo manifest.
	RightToLeft bool
}

// ConvertZipToCBZ repackages an export archive's page images into a CBZ
// with zero-padded page names and a ComicInfo.xml manifest for reader
// compatibility.
func ConvertZipToCBZ(zipPath, outPath string, opt CBZOptions) error {
	zr, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open export archive: %w", err)
	}
	defer zr.Close()

	pages := pageEntries(zr)
	if len(pages) == 0 {
		return fmt.Errorf("no page images in %s", zipPath)
	}

	if !strings.HasSuffix(strings.ToLower(outPath), ".cbz") {
		outPath += ".cbz"
	}
	zw, f, err := createZip(outPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	pad := padWidth(len(pages))
	for i, pg := range pages {
		rc, err := pg.Open()
		if err != nil {
			return fmt.Errorf("open page %s: %w", pg.Name, err)
		}
		data, err := io.ReadAll(rc)
		_ = rc.Close()
		if err != nil {
			return fmt.Errorf("read page %s: %w", pg.Name, err)
		}
		name := fmt.Sprintf("%0*d%s", pad, i+1, strings.ToLower(filepath.Ext(pg.Name)))
		if err := addZipFile(zw, name, data); err != nil {
			return fmt.Errorf("zip add page: %w", err)
		}
	}

	if err := addZipFile(zw, "ComicInfo.xml", []byte(buildComicInfoXML(opt, len(pages)))); err != nil {
		return fmt.Errorf("zip add manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close cbz: %w", err)
	}
	return nil
}

func buildComicInfoXML(opt CBZOptions, pageCount int) string {
	series := opt.Series
	title := opt.Title
	if title == "" {
		title = series
	}
	reading := "LeftToRight"
	if opt.RightToLeft {
		reading = "RightToLeft"
	}
	buf := &bytes.Buffer{}
	fmt.Fprintf(buf, "<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	fmt.Fprintf(buf, "<ComicInfo xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\">\n")
	if series != "" {
		fmt.Fprintf(buf, "  <Series>%s</Series>\n", xmlEsc(series))
	}
	if title != "" {
		fmt.Fprintf(buf, "  <Title>%s</Title>\n", xmlEsc(title))
	}
	fmt.Fprintf(buf, "  <PageCount>%d</PageCount>\n", pageCount)
	fmt.Fprintf(buf, "  <ReadingDirection>%s</ReadingDirection>\n", reading)
	fmt.Fprintf(buf, "</ComicInfo>\n")
	return buf.String()
}
