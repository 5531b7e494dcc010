/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package textfit approximates the backend typesetter on the client: it
// wraps a block's translated text into lines that fit the block box,
// shrinking the font size toward the floor until the text fits, so the
// canvas preview tracks what the exported page will look like.
package textfit

import (
	"fmt"
	"os"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
)

// Measurer reports text extents for a font family at a point size.
type Measurer interface {
	// Width is the advance width of s in pixels.
	Width(family string, sizePt float64, s string) float64
	// LineHeight is ascent+descent+gap in pixels.
	LineHeight(family string, sizePt float64) float64
}

// BasicMeasurer measures with the fixed basicfont face, scaling its
// advances linearly to the requested size. Deterministic, no font files
// needed; the real renderer swaps in a Library.
type BasicMeasurer struct{}

// Face7x13 is nominally a 13 px face.
const basicFaceSize = 13.0

func (BasicMeasurer) Width(_ string, sizePt float64, s string) float64 {
	d := &font.Drawer{Face: basicfont.Face7x13}
	w := float64(d.MeasureString(s) >> 6)
	return w * sizePt / basicFaceSize
}

func (BasicMeasurer) LineHeight(_ string, sizePt float64) float64 {
	m := basicfont.Face7x13.Metrics()
	h := float64(m.Height.Round())
	return h * sizePt / basicFaceSize
}

// Library measures with real OpenType fonts loaded from disk, keyed by
// family. Unknown families fall back to the first loaded font, then to
// BasicMeasurer.
type Library struct {
	mu    sync.Mutex
	fonts map[string]*opentype.Font
	faces map[faceKey]font.Face
	order []string
}

type faceKey struct {
	family string
	sizePt float64
}

func NewLibrary() *Library {
	return &Library{fonts: make(map[string]*opentype.Font), faces: make(map[faceKey]font.Face)}
}

// LoadTTF registers a font file under a family name.
func (l *Library) LoadTTF(family, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read font %s: %w", path, err)
	}
	f, err := opentype.Parse(data)
	if err != nil {
		return fmt.Errorf("parse font %s: %w", path, err)
	}
	l.mu.Lock()
	if _, ok := l.fonts[family]; !ok {
		l.order = append(l.order, family)
	}
	l.fonts[family] = f
	l.mu.Unlock()
	return nil
}

func (l *Library) face(family string, sizePt float64) font.Face {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := faceKey{family: family, sizePt: sizePt}
	if f, ok := l.faces[key]; ok {
		return f
	}
	ot := l.fonts[family]
	if ot == nil && len(l.order) > 0 {
		ot = l.fonts[l.order[0]]
	}
	if ot == nil {
		return nil
	}
	face, err := opentype.NewFace(ot, &opentype.FaceOptions{Size: sizePt, DPI: 72, Hinting: font.HintingFull})
	if err != nil {
		return nil
	}
	l.faces[key] = face
	return face
}

func (l *Library) Width(family string, sizePt float64, s string) float64 {
	face := l.face(family, sizePt)
	if face == nil {
		return BasicMeasurer{}.Width(family, sizePt, s)
	}
	d := &font.Drawer{Face: face}
	return float64(d.MeasureString(s) >> 6)
}

func (l *Library) LineHeight(family string, sizePt float64) float64 {
	face := l.face(family, sizePt)
	if face == nil {
		return BasicMeasurer{}.LineHeight(family, sizePt)
	}
	m := face.Metrics()
	return float64(m.Height.Round())
}
