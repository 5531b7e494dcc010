/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package ui

import (
	"os"
	"testing"

	"kagescan/internal/config"
)

func TestPersistSettingsWritesConfigFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	cfg := config.Defaults()
	cfg.General.SourceLanguage = "ko"
	cfg.Backend.BaseURL = "http://localhost:9000"

	// empty key: only the YAML file is written, no keyring entry
	if err := persistSettings(cfg, ""); err != nil {
		t.Fatalf("persist: %v", err)
	}
	path, err := config.ConfigPath()
	if err != nil {
		t.Fatalf("config path: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("config file missing: %v", err)
	}

	got, _, err := config.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.General.SourceLanguage != "ko" {
		t.Fatalf("source language = %q, want ko", got.General.SourceLanguage)
	}
	if got.Backend.BaseURL != "http://localhost:9000" {
		t.Fatalf("base url = %q", got.Backend.BaseURL)
	}
}
