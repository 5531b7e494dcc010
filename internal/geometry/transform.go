/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package geometry

// Mapping between model space (pixels at the original image resolution, as
// persisted) and view space (on-screen pixels at the fit-to-container scale).
// Pure functions, no state.

import "math"

// MinViewSize is the smallest width/height in view pixels a resize gesture
// may produce; anything below is rejected by the canvas.
const MinViewSize = 20

// Box is an axis-aligned rectangle. Whether its values are model units or
// view pixels depends on which side of the transform it sits on.
type Box struct {
	X, Y, W, H float64
}

// Transform maps model-space values into view space by a single scalar.
// A zero Transform maps 1:1.
type Transform struct {
	scale float64
}

// Identity is the 1:1 transform used until a real scale is computed.
var Identity = Transform{scale: 1}

// FitScale derives the fit-to-container transform for an image of natural
// size imgW x imgH shown inside containerW x containerH. The scale is the
// minimum of the width and height fit ratios and never exceeds 1 (images are
// never upscaled past native resolution). Non-positive dimensions mean the
// container has not been measured yet; the previous transform is kept so the
// scale can never become 0 or infinite.
func FitScale(prev Transform, imgW, imgH, containerW, containerH float64) Transform {
	if imgW <= 0 || imgH <= 0 || containerW <= 0 || containerH <= 0 {
		if prev.scale <= 0 {
			return Identity
		}
		return prev
	}
	s := math.Min(containerW/imgW, containerH/imgH)
	if s > 1 {
		s = 1
	}
	return Transform{scale: s}
}

// Scale exposes the scalar, for logging and progress display.
func (t Transform) Scale() float64 {
	if t.scale <= 0 {
		return 1
	}
	return t.scale
}

// ToView maps a model-space value to view pixels.
func (t Transform) ToView(v float64) float64 { return v * t.Scale() }

// ToModel maps a view-space value back to model units, rounded to the
// nearest integer model unit. All box edits commit through this.
func (t Transform) ToModel(v float64) float64 { return math.Round(v / t.Scale()) }

// BoxToView maps a model-space box into view space.
func (t Transform) BoxToView(b Box) Box {
	return Box{X: t.ToView(b.X), Y: t.ToView(b.Y), W: t.ToView(b.W), H: t.ToView(b.H)}
}

// BoxToModel maps a view-space box into model space, rounding every edge
// independently to integer model units.
func (t Transform) BoxToModel(b Box) Box {
	return Box{X: t.ToModel(b.X), Y: t.ToModel(b.Y), W: t.ToModel(b.W), H: t.ToModel(b.H)}
}

// Contains reports whether the point lies inside the box.
func (b Box) Contains(x, y float64) bool {
	return x >= b.X && y >= b.Y && x <= b.X+b.W && y <= b.Y+b.H
}
