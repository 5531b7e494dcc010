/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package telemetry sends opt-in anonymous usage events and crash reports.
// Everything is off by default; without both opt-in and a configured endpoint
// every call is a no-op. Events carry no project names, no page images and no
// text content, only coarse counters.
package telemetry

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	applog "kagescan/internal/log"
	"kagescan/internal/version"
)

// Config holds the telemetry endpoints and opt-in flag.
//
// Environment variables (read by FromEnv):
//   - KS_TELEMETRY_OPT_IN: "1", "true", "yes" or "on" to enable
//   - KS_TELEMETRY_URL: URL to POST JSON usage events to
//   - KS_CRASH_UPLOAD_URL: URL to POST crash reports to
//   - KS_TELEMETRY_TIMEOUT_MS: request timeout, default 1500ms
//   - KS_TELEMETRY_DEBUG: if set, log send attempts at debug level
type Config struct {
	OptIn        bool
	EventsURL    string
	CrashURL     string
	Timeout      time.Duration
	DebugLogging bool
}

// FromEnv builds a Config from the KS_TELEMETRY_* environment variables.
func FromEnv() Config {
	cfg := Config{
		OptIn:        parseBool(os.Getenv("KS_TELEMETRY_OPT_IN")),
		EventsURL:    strings.TrimSpace(os.Getenv("KS_TELEMETRY_URL")),
		CrashURL:     strings.TrimSpace(os.Getenv("KS_CRASH_UPLOAD_URL")),
		Timeout:      1500 * time.Millisecond,
		DebugLogging: os.Getenv("KS_TELEMETRY_DEBUG") != "",
	}
	if ms := strings.TrimSpace(os.Getenv("KS_TELEMETRY_TIMEOUT_MS")); ms != "" {
		if v, err := time.ParseDuration(ms + "ms"); err == nil {
			cfg.Timeout = v
		}
	}
	return cfg
}

func parseBool(v string) bool {
	s := strings.ToLower(strings.TrimSpace(v))
	return s == "1" || s == "true" || s == "yes" || s == "on"
}

// event is the JSON body posted for one usage event.
type event struct {
	Name    string         `json:"name"`
	Time    string         `json:"ts"`
	Version string         `json:"version"`
	OS      string         `json:"os"`
	Arch    string         `json:"arch"`
	Props   map[string]any `json:"props,omitempty"`
}

// Reporter posts events asynchronously and drops them silently on error so
// that telemetry can never stall an upload, a pipeline run or the UI thread.
type Reporter struct {
	cfg    Config
	log    *slog.Logger
	cli    *http.Client
	q      chan event
	once   sync.Once
	closed chan struct{}
}

// New constructs a Reporter and starts its background sender.
func New(cfg Config) *Reporter {
	r := &Reporter{
		cfg:    cfg,
		log:    applog.WithComponent("telemetry"),
		cli:    &http.Client{Timeout: cfg.Timeout},
		q:      make(chan event, 64),
		closed: make(chan struct{}),
	}
	go r.loop()
	return r
}

// Enabled reports whether usage events would actually be sent.
func (r *Reporter) Enabled() bool { return r != nil && r.cfg.OptIn && r.cfg.EventsURL != "" }

// Event enqueues one usage event. Props must not contain identifying data.
// Full queues drop the event rather than block the caller.
func (r *Reporter) Event(name string, props map[string]any) {
	if !r.Enabled() || name == "" {
		return
	}
	ev := event{
		Name:    name,
		Time:    time.Now().UTC().Format(time.RFC3339Nano),
		Version: version.String(),
		OS:      runtime.GOOS,
		Arch:    runtime.GOARCH,
		Props:   props,
	}
	select {
	case r.q <- ev:
	default:
	}
}

// UploadCrash posts a crash report and waits for the attempt to finish.
// Crash reports go out synchronously: the process is usually about to exit
// and a fire-and-forget goroutine would be killed mid-request.
func (r *Reporter) UploadCrash(report []byte) {
	if r == nil || !r.cfg.OptIn || r.cfg.CrashURL == "" {
		return
	}
	req, err := http.NewRequest(http.MethodPost, r.cfg.CrashURL, bytes.NewReader(report))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	resp, err := r.cli.Do(req)
	if err != nil {
		if r.cfg.DebugLogging {
			r.log.Debug("crash upload failed", slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if r.cfg.DebugLogging {
		r.log.Debug("crash report uploaded")
	}
}

// Close stops the background sender. Queued events are dropped.
func (r *Reporter) Close() { r.once.Do(func() { close(r.closed) }) }

func (r *Reporter) loop() {
	for {
		select {
		case <-r.closed:
			return
		case ev := <-r.q:
			r.send(ev)
		}
	}
}

func (r *Reporter) send(ev event) {
	buf, err := json.Marshal(ev)
	if err != nil {
		return
	}
	req, err := http.NewRequest(http.MethodPost, r.cfg.EventsURL, bytes.NewReader(buf))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := r.cli.Do(req)
	if err != nil {
		if r.cfg.DebugLogging {
			r.log.Debug("event send failed", slog.String("event", ev.Name), slog.Any("err", err))
		}
		return
	}
	_ = resp.Body.Close()
	if r.cfg.DebugLogging {
		r.log.Debug("event sent", slog.String("event", ev.Name))
	}
}

var (
	defaultReporter *Reporter
	defaultOnce     sync.Once
)

func def() *Reporter {
	defaultOnce.Do(func() { defaultReporter = New(FromEnv()) })
	return defaultReporter
}

// The package-level helpers name the few things worth counting. Each takes
// only sizes and durations, never project names or content.

// ChapterUploaded records that a chapter archive became a project.
func ChapterUploaded(pages int) {
	def().Event("chapter_uploaded", map[string]any{"pages": pages})
}

// PipelineFinished records one full translation pipeline run.
func PipelineFinished(status string, dur time.Duration) {
	def().Event("pipeline_finished", map[string]any{
		"status":      status,
		"duration_ms": dur.Milliseconds(),
	})
}

// ProjectExported records a successful export download.
func ProjectExported(bytes int64) {
	def().Event("project_exported", map[string]any{"bytes": bytes})
}

// UploadCrash posts a crash report via the default reporter.
func UploadCrash(report []byte) { def().UploadCrash(report) }
