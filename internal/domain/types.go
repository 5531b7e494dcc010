/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package domain

// This file defines the client-side data model for Kage Scan projects.
// Shapes mirror the backend wire format (snake_case JSON) exactly; the
// store replaces a Project wholesale on fetch and never merges partial
// server state into it.

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Project statuses as reported by the backend.
const (
	ProjectPending    = "pending"
	ProjectProcessing = "processing"
	ProjectReady      = "ready"
	ProjectError      = "error"
	ProjectExported   = "exported"
)

// Page statuses as reported by the pipeline.
const (
	PagePending    = "pending"
	PageProcessing = "processing"
	PageOCRDone    = "ocr_done"
	PageTranslated = "translated"
	PageDone       = "done"
)

// Text alignment values accepted for a block.
const (
	AlignLeft   = "left"
	AlignCenter = "center"
	AlignRight  = "right"
)

// Typography limits enforced on local edits.
const (
	MinFontSize = 8
	MaxFontSize = 48
)

// MinBlockSize is the smallest width/height (in model units) a text block
// may have after a local edit.
const MinBlockSize = 20

// errMarker prefixes translations the backend produced from a failed
// translation call. Blocks carrying it render as plain boxes, never as a
// typeset overlay.
const errMarker = "[ERRO]"

// Project is a manga translation project with its ordered pages.
type Project struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
	Pages          []Page    `json:"pages"`
}

// ProjectListItem is the lightweight listing form without nested data.
type ProjectListItem struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	SourceLanguage string    `json:"source_language"`
	TargetLanguage string    `json:"target_language"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	PageCount      int       `json:"page_count"`
}

// Page is a single manga page. Order is fixed by the server-assigned
// PageNumber and never changed client-side.
type Page struct {
	ID         string      `json:"id"`
	ProjectID  string      `json:"project_id"`
	Filename   string      `json:"filename"`
	PageNumber int         `json:"page_number"`
	ImagePath  string      `json:"image_path"`
	Status     string      `json:"status"`
	TextBlocks []TextBlock `json:"text_blocks"`
}

// TextBlock is a detected/translated text region on a page. Box fields are
// model-space pixels relative to the original image resolution.
type TextBlock struct {
	ID             string  `json:"id"`
	PageID         string  `json:"page_id"`
	BoxX           float64 `json:"box_x"`
	BoxY           float64 `json:"box_y"`
	BoxWidth       float64 `json:"box_width"`
	BoxHeight      float64 `json:"box_height"`
	TextOriginal   string  `json:"text_original"`
	TextTranslated string  `json:"text_translated"`
	FontSize       int     `json:"font_size"`
	FontFamily     string  `json:"font_family"`
	TextColor      string  `json:"text_color"`
	TextAlignment  string  `json:"text_alignment"`
	IsEdited       bool    `json:"is_edited"`
}

// HasTranslation reports whether the block carries a usable translation,
// i.e. non-empty and not a backend error placeholder.
func (b TextBlock) HasTranslation() bool {
	s := strings.TrimSpace(b.TextTranslated)
	return s != "" && !strings.HasPrefix(s, errMarker)
}

// BlockPatch is a partial update for a TextBlock. Nil fields are untouched;
// it doubles as the PATCH request body (omitempty on pointers) and as the
// merge carrier for optimistic store edits.
type BlockPatch struct {
	TextOriginal   *string  `json:"text_original,omitempty"`
	TextTranslated *string  `json:"text_translated,omitempty"`
	BoxX           *float64 `json:"box_x,omitempty"`
	BoxY           *float64 `json:"box_y,omitempty"`
	BoxWidth       *float64 `json:"box_width,omitempty"`
	BoxHeight      *float64 `json:"box_height,omitempty"`
	FontSize       *int     `json:"font_size,omitempty"`
	FontFamily     *string  `json:"font_family,omitempty"`
	TextColor      *string  `json:"text_color,omitempty"`
	TextAlignment  *string  `json:"text_alignment,omitempty"`
}

// IsZero reports whether the patch carries no fields.
func (p BlockPatch) IsZero() bool {
	return p.TextOriginal == nil && p.TextTranslated == nil &&
		p.BoxX == nil && p.BoxY == nil && p.BoxWidth == nil && p.BoxHeight == nil &&
		p.FontSize == nil && p.FontFamily == nil && p.TextColor == nil && p.TextAlignment == nil
}

// Apply merges the patch into the block and marks it edited. Box and
// typography values are clamped to the model invariants: non-negative
// positions, MinBlockSize floor on dimensions, font size within
// [MinFontSize, MaxFontSize], alignment restricted to known values.
func (p BlockPatch) Apply(b *TextBlock) {
	if p.TextOriginal != nil {
		b.TextOriginal = *p.TextOriginal
	}
	if p.TextTranslated != nil {
		b.TextTranslated = *p.TextTranslated
	}
	if p.BoxX != nil {
		b.BoxX = max(0, *p.BoxX)
	}
	if p.BoxY != nil {
		b.BoxY = max(0, *p.BoxY)
	}
	if p.BoxWidth != nil {
		b.BoxWidth = max(MinBlockSize, *p.BoxWidth)
	}
	if p.BoxHeight != nil {
		b.BoxHeight = max(MinBlockSize, *p.BoxHeight)
	}
	if p.FontSize != nil {
		b.FontSize = clampFontSize(*p.FontSize)
	}
	if p.FontFamily != nil {
		b.FontFamily = *p.FontFamily
	}
	if p.TextColor != nil {
		b.TextColor = *p.TextColor
	}
	if p.TextAlignment != nil {
		if a := normalizeAlignment(*p.TextAlignment); a != "" {
			b.TextAlignment = a
		}
	}
	b.IsEdited = true
}

func clampFontSize(v int) int {
	if v < MinFontSize {
		return MinFontSize
	}
	if v > MaxFontSize {
		return MaxFontSize
	}
	return v
}

func normalizeAlignment(a string) string {
	switch strings.ToLower(strings.TrimSpace(a)) {
	case AlignLeft:
		return AlignLeft
	case AlignCenter:
		return AlignCenter
	case AlignRight:
		return AlignRight
	}
	return ""
}

// PageProgress counts pages per pipeline status. The wire shape varies by
// backend version: either status→count aggregates or page-id→status rows.
// Both decode into counts.
type PageProgress map[string]int

func (p *PageProgress) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PageProgress, len(raw))
	for k, v := range raw {
		var n int
		if err := json.Unmarshal(v, &n); err == nil {
			out[k] += n
			continue
		}
		var status string
		if err := json.Unmarshal(v, &status); err != nil {
			return fmt.Errorf("page_statuses value for %q: %w", k, err)
		}
		out[status]++
	}
	*p = out
	return nil
}

// Done is the number of pages that finished translating.
func (p PageProgress) Done() int { return p[PageTranslated] }

// PipelineStatus is the transient progress report returned by the status
// endpoint. It is never persisted inside a Project.
type PipelineStatus struct {
	ProjectID     string       `json:"project_id"`
	ProjectStatus string       `json:"project_status"`
	TotalPages    int          `json:"total_pages"`
	PageStatuses  PageProgress `json:"page_statuses"`
}

// Terminal reports whether the project-level status means polling must stop.
func (s PipelineStatus) Terminal() bool {
	return s.ProjectStatus == ProjectReady || s.ProjectStatus == ProjectError
}

// Settings is the backend AI provider configuration. The OpenRouter key
// arrives masked from the server.
type Settings struct {
	Provider             string `json:"provider"`
	OpenRouterKey        string `json:"openrouter_key"`
	OpenRouterModel      string `json:"openrouter_model"`
	CopilotModel         string `json:"copilot_model"`
	CopilotAuthenticated bool   `json:"copilot_authenticated"`
}

// SettingsPatch is a partial settings update.
type SettingsPatch struct {
	Provider        *string `json:"provider,omitempty"`
	OpenRouterKey   *string `json:"openrouter_key,omitempty"`
	OpenRouterModel *string `json:"openrouter_model,omitempty"`
	CopilotModel    *string `json:"copilot_model,omitempty"`
}

// DeviceCode is the response starting a Copilot device-flow authorization.
type DeviceCode struct {
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	DeviceCode      string `json:"device_code"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// Device-flow poll statuses.
const (
	AuthPending       = "pending"
	AuthAuthenticated = "authenticated"
	AuthError         = "error"
)

// DevicePoll is one poll result of the device-flow authorization.
type DevicePoll struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// Terminal reports whether the device-flow polling must stop.
func (p DevicePoll) Terminal() bool {
	return p.Status == AuthAuthenticated || p.Status == AuthError
}
