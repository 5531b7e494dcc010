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

import (
	"math"
	"testing"
)

func TestFitScaleNeverUpscales(t *testing.T) {
	tr := FitScale(Identity, 800, 1200, 4000, 4000)
	if tr.Scale() != 1 {
		t.Fatalf("scale must cap at 1, got %v", tr.Scale())
	}
}

func TestFitScalePicksMinRatio(t *testing.T) {
	// width ratio 0.5, height ratio 0.25 -> 0.25
	tr := FitScale(Identity, 1000, 2000, 500, 500)
	if tr.Scale() != 0.25 {
		t.Fatalf("expected 0.25, got %v", tr.Scale())
	}
}

func TestFitScaleGuardsZeroContainer(t *testing.T) {
	prev := FitScale(Identity, 1000, 1000, 500, 500) // 0.5
	tr := FitScale(prev, 1000, 1000, 0, 500)
	if tr.Scale() != 0.5 {
		t.Fatalf("zero container must keep prior scale, got %v", tr.Scale())
	}
	tr = FitScale(Transform{}, 1000, 1000, 0, 0)
	if s := tr.Scale(); s != 1 || math.IsInf(s, 0) || s == 0 {
		t.Fatalf("unmeasured container with no prior scale must default to 1, got %v", s)
	}
}

func TestRoundTripWithinRounding(t *testing.T) {
	for _, scale := range []float64{0.1, 0.25, 0.33, 0.5, 0.75, 1} {
		tr := FitScale(Identity, 1000, 1000, 1000*scale, 1000*scale)
		for _, v := range []float64{0, 1, 7, 19.5, 20, 333, 999.49} {
			got := tr.ToModel(tr.ToView(v))
			if got != math.Round(v) {
				t.Fatalf("scale %v: round trip of %v = %v, want %v", scale, v, got, math.Round(v))
			}
		}
	}
}

func TestBoxMappingRoundsEdges(t *testing.T) {
	tr := FitScale(Identity, 1000, 1000, 300, 300) // 0.3
	view := tr.BoxToView(Box{X: 100, Y: 50, W: 200, H: 120})
	if view.X != 30 || view.Y != 15 || view.W != 60 || view.H != 36 {
		t.Fatalf("unexpected view box: %+v", view)
	}
	model := tr.BoxToModel(Box{X: 31, Y: 16, W: 61, H: 35})
	want := Box{X: math.Round(31 / 0.3), Y: math.Round(16 / 0.3), W: math.Round(61 / 0.3), H: math.Round(35 / 0.3)}
	if model != want {
		t.Fatalf("model box %+v, want %+v", model, want)
	}
}

func TestBoxContains(t *testing.T) {
	b := Box{X: 10, Y: 10, W: 20, H: 20}
	if !b.Contains(10, 10) || !b.Contains(30, 30) || !b.Contains(15, 25) {
		t.Fatalf("points on or inside bounds must be contained")
	}
	if b.Contains(9.9, 15) || b.Contains(15, 30.1) {
		t.Fatalf("points outside bounds must not be contained")
	}
}
