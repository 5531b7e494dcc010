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
	"log/slog"

	"kagescan/internal/config"
	applog "kagescan/internal/log"
)

// persistSettings writes the local config file and keeps the OpenRouter
// key in the OS keyring. An emptied key removes the stored one; a keyring
// removal failure is non-fatal since the key may never have been stored.
func persistSettings(cfg config.AppConfig, apiKey string) error {
	if apiKey == "" {
		if err := config.ClearAPIKey(); err != nil {
			applog.WithComponent("ui").Debug("keyring clear skipped", slog.Any("err", err))
		}
	}
	return config.Save(cfg, apiKey)
}
