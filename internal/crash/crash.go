/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package crash turns a panic into a crash report file and a clean exit.
// Local edits need no rescue step here: the edit journal persists each
// mutation as it happens, so a crashed session resumes from SQLite.
package crash

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	"kagescan/internal/journal"
	applog "kagescan/internal/log"
	"kagescan/internal/telemetry"
	"kagescan/internal/version"
)

// ReportsDirName is the crash report folder under the app data dir.
const ReportsDirName = "crashes"

// exitFn is swapped in tests so Recover does not end the test process.
var exitFn = os.Exit

// Context describes what was open when the panic hit.
type Context struct {
	// DataDir receives the report; empty falls back to the OS temp dir.
	DataDir   string
	ProjectID string
	Journal   *journal.Journal
}

// Recover captures a panic, logs it with the stack, writes a crash report,
// and exits with code 2.
//
// Usage: defer crash.Recover(cc)
func Recover(cc Context) {
	if r := recover(); r != nil {
		l := applog.WithComponent("crash")
		stack := debug.Stack()
		l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

		reportPath, _ := writeReport(cc, r, stack)

		if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\n", reportPath); err != nil {
			l.Error("failed to write crash message to stderr", slog.Any("err", err))
		}
		if _, err := fmt.Fprintf(os.Stderr, "Version: %s\nOS/Arch: %s/%s\n", version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
			l.Error("failed to write version info to stderr", slog.Any("err", err))
		}
		exitFn(2)
	}
}

func writeReport(cc Context, panicVal any, stack []byte) (string, error) {
	dir := os.TempDir()
	if cc.DataDir != "" {
		dir = filepath.Join(cc.DataDir, ReportsDirName)
		_ = os.MkdirAll(dir, 0o755)
	}
	stamp := time.Now().Format("20060102-150405")
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", stamp))

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return path, err
	}
	defer func() {
		if err := f.Close(); err != nil {
			applog.WithComponent("crash").Error("failed to close crash report file", slog.Any("err", err), slog.String("path", path))
		}
	}()

	var buf bytes.Buffer
	_, _ = fmt.Fprintf(&buf, "Kage Scan Crash Report\n")
	_, _ = fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	_, _ = fmt.Fprintf(&buf, "Version: %s\n", version.String())
	_, _ = fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if cc.ProjectID != "" {
		_, _ = fmt.Fprintf(&buf, "ProjectID: %s\n", cc.ProjectID)
	}
	if cc.Journal != nil && cc.ProjectID != "" {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if edits, err := cc.Journal.PendingEdits(ctx, cc.ProjectID); err == nil {
			_, _ = fmt.Fprintf(&buf, "PendingEdits: %d (journaled, safe)\n", len(edits))
		}
		cancel()
	}
	_, _ = fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	_, _ = fmt.Fprintf(&buf, "Stack:\n%s\n", string(stack))

	if _, err := f.Write(buf.Bytes()); err != nil {
		return path, err
	}
	_ = f.Sync()

	// opt-in crash upload, anonymized
	telemetry.UploadCrash(buf.Bytes())
	return path, nil
}
