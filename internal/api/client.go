/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package api is the HTTP client for the Kage Scan backend. It mirrors the
// REST surface one-to-one and surfaces the server's `detail` messages as
// typed errors; it performs no state handling of its own.
package api

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	applog "kagescan/internal/log"

	"kagescan/internal/domain"
)

// Client is the HTTP client for the backend API.
type Client struct {
	BaseURL string
	client  *http.Client
	log     *slog.Logger

	// ValidateResponses enables JSON-schema validation of project payloads.
	ValidateResponses bool
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	TLSInsecure bool
	// ValidateResponses turns on JSON-schema checking of project payloads.
	ValidateResponses bool
}

// NewClient creates a backend client. baseURL may include a trailing slash;
// it will be normalized.
func NewClient(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	transport := http.DefaultTransport
	if opts.TLSInsecure {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		transport = t
	}
	return &Client{
		BaseURL:           strings.TrimRight(opts.BaseURL, "/"),
		client:            &http.Client{Timeout: timeout, Transport: transport},
		log:               applog.WithComponent("api"),
		ValidateResponses: opts.ValidateResponses,
	}
}

// Error is a failed API call. Detail carries the server-reported message
// when the body had one; otherwise it falls back to the HTTP status.
type Error struct {
	StatusCode int
	Detail     string
}

func (e *Error) Error() string {
	if e.Detail != "" {
		return e.Detail
	}
	return fmt.Sprintf("server returned status %d", e.StatusCode)
}

// errorFromResponse decodes the FastAPI `{"detail": "..."}` error body.
func errorFromResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Detail string `json:"detail"`
	}
	_ = json.Unmarshal(body, &payload)
	return &Error{StatusCode: resp.StatusCode, Detail: strings.TrimSpace(payload.Detail)}
}

func (c *Client) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		e := errorFromResponse(resp)
		c.log.Warn("request failed", slog.String("method", method), slog.String("path", u.Path), slog.Int("status", resp.StatusCode))
		return nil, e
	}
	return resp, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, dest any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	resp, err := c.do(ctx, method, path, body, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if dest == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// ListProjects returns all projects, newest first.
func (c *Client) ListProjects(ctx context.Context) ([]domain.ProjectListItem, error) {
	var list []domain.ProjectListItem
	if err := c.getJSON(ctx, "/api/projects/", &list); err != nil {
		return nil, err
	}
	return list, nil
}

// GetProject returns a full project with pages and text blocks.
func (c *Client) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/projects/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if c.ValidateResponses {
		if err := domain.ValidateProjectJSON(data); err != nil {
			return nil, err
		}
	}
	var p domain.Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdateTextBlock sends a partial block update. The server marks the block
// edited regardless of which fields are present.
func (c *Client) UpdateTextBlock(ctx context.Context, projectID, blockID string, patch domain.BlockPatch) (*domain.TextBlock, error) {
	path := "/api/projects/" + url.PathEscape(projectID) + "/blocks/" + url.PathEscape(blockID)
	var b domain.TextBlock
	if err := c.sendJSON(ctx, http.MethodPatch, path, patch, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// PipelineAccepted is the immediate response to a pipeline start request.
type PipelineAccepted struct {
	Status    string `json:"status"`
	ProjectID string `json:"project_id"`
	Message   string `json:"message"`
}

// StartPipeline kicks off detection, OCR and translation for a project.
// The server answers 202 immediately; progress is observed via PipelineStatus.
func (c *Client) StartPipeline(ctx context.Context, projectID string) (*PipelineAccepted, error) {
	var acc PipelineAccepted
	if err := c.sendJSON(ctx, http.MethodPost, "/api/pipeline/"+url.PathEscape(projectID)+"/start", nil, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

// PipelineStatus polls the pipeline progress for a project.
func (c *Client) PipelineStatus(ctx context.Context, projectID string) (*domain.PipelineStatus, error) {
	var st domain.PipelineStatus
	if err := c.getJSON(ctx, "/api/pipeline/"+url.PathEscape(projectID)+"/status", &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// ExportProject downloads the rendered archive for a project and streams it
// into w. It returns the number of bytes written.
func (c *Client) ExportProject(ctx context.Context, projectID string, w io.Writer) (int64, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/export/projects/"+url.PathEscape(projectID)+"/export", nil, "")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return io.Copy(w, resp.Body)
}

// GetSettings returns the AI provider configuration.
func (c *Client) GetSettings(ctx context.Context) (*domain.Settings, error) {
	var s domain.Settings
	if err := c.getJSON(ctx, "/api/settings/", &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// UpdateSettings applies a partial settings update.
func (c *Client) UpdateSettings(ctx context.Context, patch domain.SettingsPatch) (*domain.Settings, error) {
	var s domain.Settings
	if err := c.sendJSON(ctx, http.MethodPatch, "/api/settings/", patch, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// StartDeviceAuth begins the Copilot device-flow authorization.
func (c *Client) StartDeviceAuth(ctx context.Context) (*domain.DeviceCode, error) {
	var dc domain.DeviceCode
	if err := c.sendJSON(ctx, http.MethodPost, "/api/settings/copilot/device-code", nil, &dc); err != nil {
		return nil, err
	}
	return &dc, nil
}

// PollDeviceAuth checks whether the user has authorized the device code.
func (c *Client) PollDeviceAuth(ctx context.Context, deviceCode string) (*domain.DevicePoll, error) {
	payload := struct {
		DeviceCode string `json:"device_code"`
	}{DeviceCode: deviceCode}
	var p domain.DevicePoll
	if err := c.sendJSON(ctx, http.MethodPost, "/api/settings/copilot/poll", payload, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
