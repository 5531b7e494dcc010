/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"

	"kagescan/internal/domain"
)

// UploadRequest describes a new project upload. File must point at a ZIP
// archive or a single image.
type UploadRequest struct {
	Name           string
	SourceLanguage string
	TargetLanguage string
	File           string
	// Progress, when set, receives 0..100 as the file body is streamed.
	Progress func(percent int)
}

// progressReader reports cumulative read percentage to a callback.
type progressReader struct {
	r        io.Reader
	total    int64
	read     int64
	lastPct  int
	progress func(int)
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.progress != nil && p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		if pct != p.lastPct {
			p.lastPct = pct
			p.progress(pct)
		}
	}
	return n, err
}

// CreateProject uploads a new project (multipart: name, source_language,
// target_language, file) and returns the created project.
func (c *Client) CreateProject(ctx context.Context, req UploadRequest) (*domain.Project, error) {
	f, err := os.Open(req.File)
	if err != nil {
		return nil, fmt.Errorf("open upload file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}

	// Stream the multipart body through a pipe so large archives never sit
	// fully in memory.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		defer pw.Close()
		write := func(field, value string) error {
			return mw.WriteField(field, value)
		}
		if err := write("name", req.Name); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := write("source_language", req.SourceLanguage); err != nil {
			pw.CloseWithError(err)
			return
		}
		if err := write("target_language", req.TargetLanguage); err != nil {
			pw.CloseWithError(err)
			return
		}
		part, err := mw.CreateFormFile("file", filepath.Base(req.File))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: f, total: info.Size(), progress: req.Progress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/projects/", pr)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errorFromResponse(resp)
	}

	var p domain.Project
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return nil, err
	}
	c.log.Info("project created", slog.String("id", p.ID), slog.String("name", p.Name), slog.Int("pages", len(p.Pages)))
	return &p, nil
}
