/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package pipeline drives the backend's asynchronous processing endpoints:
// the detect→OCR→translate pipeline and the Copilot device-flow
// authorization. Both are modeled as explicit pollers with a cancellation
// context checked before every tick.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"kagescan/internal/api"
	"kagescan/internal/domain"
	applog "kagescan/internal/log"
)

// State is the poller lifecycle.
type State int

const (
	StateIdle State = iota
	StateRequested
	StatePolling
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRequested:
		return "requested"
	case StatePolling:
		return "polling"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// DefaultInterval is the fixed delay between status queries.
const DefaultInterval = 3 * time.Second

// Backend is the slice of the API client the poller needs.
type Backend interface {
	StartPipeline(ctx context.Context, projectID string) (*api.PipelineAccepted, error)
	PipelineStatus(ctx context.Context, projectID string) (*domain.PipelineStatus, error)
}

// Poller runs one pipeline execution: start request, then status queries on
// a fixed interval until a terminal project status. There is no retry
// ceiling; polling continues until a terminal status, a query failure, or
// cancellation.
type Poller struct {
	backend  Backend
	interval time.Duration
	log      *slog.Logger

	mu     sync.Mutex
	state  State
	cancel context.CancelFunc

	// OnStatus receives every status response, including the terminal one.
	OnStatus func(domain.PipelineStatus)
}

// NewPoller creates a poller. A non-positive interval falls back to
// DefaultInterval.
func NewPoller(backend Backend, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Poller{
		backend:  backend,
		interval: interval,
		log:      applog.WithComponent("pipeline"),
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Cancel stops the polling loop. No further ticks execute after it returns;
// an in-flight status request is abandoned via its context.
func (p *Poller) Cancel() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (p *Poller) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()
}

// Run executes the pipeline for a project and blocks until it reaches a
// terminal status. It returns the terminal status on success; a start
// failure, a poll transport failure, or cancellation returns an error and
// stops the loop without further queries.
func (p *Poller) Run(ctx context.Context, projectID string) (*domain.PipelineStatus, error) {
	ctx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	if p.state == StateRequested || p.state == StatePolling {
		p.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("pipeline already running")
	}
	p.state = StateRequested
	p.cancel = cancel
	p.mu.Unlock()
	defer cancel()

	acc, err := p.backend.StartPipeline(ctx, projectID)
	if err != nil {
		p.setState(StateFailed)
		p.log.Error("pipeline start failed", slog.String("project_id", projectID), slog.Any("err", err))
		return nil, err
	}
	p.log.Info("pipeline accepted", slog.String("project_id", projectID), slog.String("message", acc.Message))
	p.setState(StatePolling)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		// The cancellation token is checked before each tick is scheduled.
		select {
		case <-ctx.Done():
			p.setState(StateFailed)
			return nil, ctx.Err()
		case <-ticker.C:
		}

		st, err := p.backend.PipelineStatus(ctx, projectID)
		if err != nil {
			p.setState(StateFailed)
			p.log.Error("pipeline status query failed", slog.String("project_id", projectID), slog.Any("err", err))
			return nil, err
		}
		if p.OnStatus != nil {
			p.OnStatus(*st)
		}
		if st.Terminal() {
			if st.ProjectStatus == domain.ProjectError {
				p.setState(StateFailed)
			} else {
				p.setState(StateDone)
			}
			p.log.Info("pipeline terminal", slog.String("project_id", projectID), slog.String("status", st.ProjectStatus))
			return st, nil
		}
	}
}
