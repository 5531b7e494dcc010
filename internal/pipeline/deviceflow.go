/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kagescan/internal/domain"
	applog "kagescan/internal/log"
)

// AuthBackend is the slice of the API client the device-flow poller needs.
type AuthBackend interface {
	StartDeviceAuth(ctx context.Context) (*domain.DeviceCode, error)
	PollDeviceAuth(ctx context.Context, deviceCode string) (*domain.DevicePoll, error)
}

// DeviceFlow polls the Copilot device authorization until the user approves
// or the code expires. The exchange itself happens server-side; this client
// only relays user_code/verification_uri and watches for a terminal status.
type DeviceFlow struct {
	backend AuthBackend
	log     *slog.Logger

	// interval overrides the server-announced poll interval when positive.
	interval time.Duration

	mu      sync.Mutex
	cancel  context.CancelFunc
	polling bool

	userCode        string
	verificationURI string

	// OnPrompt fires once with the code the user must enter in the browser.
	OnPrompt func(code domain.DeviceCode)
	// OnResult fires with every poll response, including the terminal one.
	OnResult func(poll domain.DevicePoll)
}

func NewDeviceFlow(backend AuthBackend) *DeviceFlow {
	return &DeviceFlow{backend: backend, log: applog.WithComponent("deviceflow")}
}

// Polling reports whether a flow is currently active.
func (d *DeviceFlow) Polling() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.polling
}

// Prompt returns the current user code and verification URI, empty when no
// flow is active.
func (d *DeviceFlow) Prompt() (userCode, verificationURI string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.userCode, d.verificationURI
}

// Cancel aborts an active flow. No further poll queries run and the prompt
// state is cleared.
func (d *DeviceFlow) Cancel() {
	d.mu.Lock()
	cancel := d.cancel
	d.cancel = nil
	d.polling = false
	d.userCode = ""
	d.verificationURI = ""
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run starts the device flow and blocks until a terminal poll result,
// cancellation, or a transport failure. The poll interval comes from the
// device-code response (seconds), defaulting to 5.
func (d *DeviceFlow) Run(ctx context.Context) (*domain.DevicePoll, error) {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	if d.polling {
		d.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("device flow already running")
	}
	d.polling = true
	d.cancel = cancel
	d.mu.Unlock()
	defer d.Cancel()

	dc, err := d.backend.StartDeviceAuth(ctx)
	if err != nil {
		d.log.Error("device code request failed", slog.Any("err", err))
		return nil, err
	}
	d.mu.Lock()
	d.userCode = dc.UserCode
	d.verificationURI = dc.VerificationURI
	d.mu.Unlock()
	if d.OnPrompt != nil {
		d.OnPrompt(*dc)
	}
	d.log.Info("device flow started", slog.String("user_code", dc.UserCode))

	interval := time.Duration(dc.Interval) * time.Second
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if d.interval > 0 {
		interval = d.interval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}

		poll, err := d.backend.PollDeviceAuth(ctx, dc.DeviceCode)
		if err != nil {
			d.log.Error("device poll failed", slog.Any("err", err))
			return nil, err
		}
		if d.OnResult != nil {
			d.OnResult(*poll)
		}
		if poll.Terminal() {
			d.log.Info("device flow terminal", slog.String("status", poll.Status))
			return poll, nil
		}
	}
}
