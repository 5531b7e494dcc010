/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package telemetry

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestReporterSendsEventWhenOptedIn(t *testing.T) {
	got := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		select {
		case got <- b:
		default:
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := New(Config{OptIn: true, EventsURL: srv.URL, Timeout: 2 * time.Second})
	defer rep.Close()
	if !rep.Enabled() {
		t.Fatal("reporter should be enabled")
	}
	rep.Event("pipeline_finished", map[string]any{"status": "done"})

	select {
	case body := <-got:
		var ev event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Fatalf("decode event: %v", err)
		}
		if ev.Name != "pipeline_finished" {
			t.Fatalf("event name = %q", ev.Name)
		}
		if ev.Props["status"] != "done" {
			t.Fatalf("props = %v", ev.Props)
		}
		if ev.Version == "" || ev.OS == "" {
			t.Fatalf("missing build fields: %+v", ev)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("event never arrived")
	}
}

func TestReporterDisabledIsNoOp(t *testing.T) {
	var mu sync.Mutex
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
	}))
	defer srv.Close()

	// Opted out: the endpoint being set must not matter.
	rep := New(Config{OptIn: false, EventsURL: srv.URL, CrashURL: srv.URL, Timeout: time.Second})
	defer rep.Close()
	if rep.Enabled() {
		t.Fatal("reporter should be disabled without opt-in")
	}
	rep.Event("chapter_uploaded", nil)
	rep.UploadCrash([]byte("panic: boom"))

	// Opted in but no endpoints configured.
	rep2 := New(Config{OptIn: true, Timeout: time.Second})
	defer rep2.Close()
	if rep2.Enabled() {
		t.Fatal("reporter should be disabled without an events URL")
	}
	rep2.UploadCrash([]byte("panic: boom"))

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if hits != 0 {
		t.Fatalf("server was hit %d times", hits)
	}
}

func TestUploadCrashCompletesBeforeReturn(t *testing.T) {
	var mu sync.Mutex
	var body []byte
	var ctype string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		body = b
		ctype = r.Header.Get("Content-Type")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rep := New(Config{OptIn: true, CrashURL: srv.URL, Timeout: 2 * time.Second})
	defer rep.Close()
	rep.UploadCrash([]byte("panic: nil page"))

	// No waiting: the upload must have landed by the time the call returns.
	mu.Lock()
	defer mu.Unlock()
	if string(body) != "panic: nil page" {
		t.Fatalf("crash body = %q", body)
	}
	if ctype != "text/plain; charset=utf-8" {
		t.Fatalf("content type = %q", ctype)
	}
}
