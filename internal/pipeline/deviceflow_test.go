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
	"sync"
	"testing"
	"time"

	"kagescan/internal/domain"
)

type fakeAuthBackend struct {
	mu       sync.Mutex
	statuses []string
	polls    int
}

func (f *fakeAuthBackend) StartDeviceAuth(context.Context) (*domain.DeviceCode, error) {
	return &domain.DeviceCode{
		DeviceCode:      "dev-123",
		UserCode:        "ABCD-1234",
		VerificationURI: "https://github.com/login/device",
		ExpiresIn:       900,
		Interval:        1,
	}, nil
}

func (f *fakeAuthBackend) PollDeviceAuth(_ context.Context, deviceCode string) (*domain.DevicePoll, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.polls
	f.polls++
	status := domain.AuthPending
	if i < len(f.statuses) {
		status = f.statuses[i]
	}
	return &domain.DevicePoll{Status: status}, nil
}

func (f *fakeAuthBackend) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func TestDeviceFlowAuthenticates(t *testing.T) {
	fb := &fakeAuthBackend{statuses: []string{domain.AuthPending, domain.AuthAuthenticated}}
	d := NewDeviceFlow(fb)
	d.interval = 5 * time.Millisecond

	var promptCode string
	d.OnPrompt = func(dc domain.DeviceCode) { promptCode = dc.UserCode }

	poll, err := d.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if poll.Status != domain.AuthAuthenticated {
		t.Fatalf("status = %s", poll.Status)
	}
	if promptCode != "ABCD-1234" {
		t.Fatalf("prompt code = %q", promptCode)
	}
	if fb.pollCount() != 2 {
		t.Fatalf("expected 2 polls, got %d", fb.pollCount())
	}
	if d.Polling() {
		t.Fatalf("flow still reports polling after terminal result")
	}
}

func TestDeviceFlowCancelClearsPromptAndStopsPolls(t *testing.T) {
	fb := &fakeAuthBackend{} // pending forever
	d := NewDeviceFlow(fb)
	d.interval = 5 * time.Millisecond

	done := make(chan error, 1)
	go func() {
		_, err := d.Run(context.Background())
		done <- err
	}()

	time.Sleep(30 * time.Millisecond)
	if !d.Polling() {
		t.Fatalf("flow should be polling")
	}
	if code, uri := d.Prompt(); code == "" || uri == "" {
		t.Fatalf("prompt not exposed while polling")
	}

	d.Cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("cancel must surface as error")
		}
	case <-time.After(time.Second):
		t.Fatalf("flow did not stop after cancel")
	}
	if code, uri := d.Prompt(); code != "" || uri != "" {
		t.Fatalf("prompt not cleared after cancel: %q %q", code, uri)
	}
	count := fb.pollCount()
	time.Sleep(30 * time.Millisecond)
	if fb.pollCount() != count {
		t.Fatalf("polls continued after cancel")
	}
}
