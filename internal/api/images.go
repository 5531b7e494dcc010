/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package api

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"strings"
	"time"

	retry "github.com/avast/retry-go/v4"
	_ "golang.org/x/image/webp"
)

// Page images are served from the backend's static /data mount. Fetches are
// idempotent, so transient transport failures are retried; API polls are not.

const imageFetchAttempts = 3

// ImageURL resolves a server-relative image path to its static asset URL.
func (c *Client) ImageURL(imagePath string) string {
	if imagePath == "" {
		return ""
	}
	return c.BaseURL + "/data/" + strings.TrimLeft(imagePath, "/")
}

// FetchImage downloads and decodes a page image (PNG, JPEG or WebP).
func (c *Client) FetchImage(ctx context.Context, imageURL string) (image.Image, error) {
	var img image.Image
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode == http.StatusNotFound {
				return retry.Unrecoverable(fmt.Errorf("image not found: %s", imageURL))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				return fmt.Errorf("image fetch status %d", resp.StatusCode)
			}
			decoded, _, err := image.Decode(resp.Body)
			if err != nil {
				_, _ = io.Copy(io.Discard, resp.Body)
				return retry.Unrecoverable(fmt.Errorf("decode image: %w", err))
			}
			img = decoded
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(imageFetchAttempts),
		retry.Delay(300*time.Millisecond),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		return nil, err
	}
	return img, nil
}
