/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package store

import (
	"context"
	"image"
	"log/slog"
	"sync"

	applog "kagescan/internal/log"
)

// ImageFetcher resolves a URL to a decoded image.
type ImageFetcher interface {
	FetchImage(ctx context.Context, imageURL string) (image.Image, error)
}

// ImageState is the lifecycle of one page image load.
type ImageState int

const (
	ImageIdle ImageState = iota
	ImageLoading
	ImageReady
	ImageUnavailable
)

func (s ImageState) String() string {
	switch s {
	case ImageIdle:
		return "idle"
	case ImageLoading:
		return "loading"
	case ImageReady:
		return "ready"
	case ImageUnavailable:
		return "unavailable"
	}
	return "unknown"
}

// ImageLoader loads page images asynchronously. An empty URL resolves to
// unavailable immediately without a fetch; a load superseded by a newer
// Load never overwrites the newer result.
type ImageLoader struct {
	fetcher ImageFetcher
	log     *slog.Logger

	mu    sync.Mutex
	gen   uint64
	url   string
	state ImageState
	img   image.Image

	// OnChange fires after every state transition, outside the lock.
	OnChange func()
}

func NewImageLoader(fetcher ImageFetcher) *ImageLoader {
	return &ImageLoader{fetcher: fetcher, log: applog.WithComponent("imageloader")}
}

// State returns the current load state and the decoded image when ready.
func (l *ImageLoader) State() (ImageState, image.Image) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state, l.img
}

// URL returns the most recently requested URL.
func (l *ImageLoader) URL() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.url
}

func (l *ImageLoader) notify() {
	if l.OnChange != nil {
		l.OnChange()
	}
}

// Load starts fetching url, superseding any in-flight load. It blocks
// until the fetch resolves or a newer Load takes over; callers run it on
// their own goroutine.
func (l *ImageLoader) Load(ctx context.Context, url string) {
	l.mu.Lock()
	l.gen++
	gen := l.gen
	l.url = url
	if url == "" {
		l.state = ImageUnavailable
		l.img = nil
		l.mu.Unlock()
		l.notify()
		return
	}
	l.state = ImageLoading
	l.img = nil
	l.mu.Unlock()
	l.notify()

	img, err := l.fetcher.FetchImage(ctx, url)

	l.mu.Lock()
	if gen != l.gen {
		l.mu.Unlock()
		l.log.Debug("stale image load discarded", slog.String("url", url))
		return
	}
	if err != nil {
		l.state = ImageUnavailable
		l.img = nil
		l.mu.Unlock()
		l.log.Warn("image load failed", slog.String("url", url), slog.Any("err", err))
		l.notify()
		return
	}
	l.state = ImageReady
	l.img = img
	l.mu.Unlock()
	l.notify()
}
