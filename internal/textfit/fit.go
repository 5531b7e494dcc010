/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package textfit

import (
	"strings"

	"kagescan/internal/domain"
)

// boxPadding matches the typesetter's 4 px inset on every side.
const boxPadding = 4

// lineSpacing is the extra pixels between lines on top of the font size.
const lineSpacing = 4

// Result is a fitted layout for one text block.
type Result struct {
	Lines    []string
	FontSize int
	// LineHeight is FontSize+lineSpacing, the vertical step between lines.
	LineHeight float64
}

// Wrap word-wraps text so no line exceeds maxWidth at the given size. A
// single word wider than maxWidth gets its own line rather than being
// split.
func Wrap(m Measurer, family string, sizePt float64, text string, maxWidth float64) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		words := strings.Fields(para)
		if len(words) == 0 {
			continue
		}
		cur := words[0]
		for _, w := range words[1:] {
			if m.Width(family, sizePt, cur+" "+w) <= maxWidth {
				cur += " " + w
				continue
			}
			lines = append(lines, cur)
			cur = w
		}
		lines = append(lines, cur)
	}
	return lines
}

// Fit wraps text into the block box, shrinking from the requested font
// size down to the minimum until the wrapped lines fit the box height.
// When even the minimum size overflows, the minimum-size layout is
// returned anyway; the renderer clips.
func Fit(m Measurer, text, family string, requested int, boxW, boxH float64) Result {
	if requested > domain.MaxFontSize {
		requested = domain.MaxFontSize
	}
	if requested < domain.MinFontSize {
		requested = domain.MinFontSize
	}
	innerW := boxW - 2*boxPadding
	innerH := boxH - 2*boxPadding
	if innerW < 1 {
		innerW = 1
	}

	var last Result
	for size := requested; size >= domain.MinFontSize; size-- {
		lines := Wrap(m, family, float64(size), text, innerW)
		lineH := float64(size + lineSpacing)
		last = Result{Lines: lines, FontSize: size, LineHeight: lineH}
		if len(lines) == 0 {
			return last
		}
		if lineH*float64(len(lines)) <= innerH && widest(m, family, float64(size), lines) <= innerW {
			return last
		}
	}
	return last
}

func widest(m Measurer, family string, sizePt float64, lines []string) float64 {
	var w float64
	for _, l := range lines {
		if lw := m.Width(family, sizePt, l); lw > w {
			w = lw
		}
	}
	return w
}
