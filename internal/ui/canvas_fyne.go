//go:build fyne && cgo

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
	"image"
	"image/color"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/widget"

	"kagescan/internal/domain"
	"kagescan/internal/geometry"
	"kagescan/internal/store"
	"kagescan/internal/textfit"
)

// connectCanvas routes canvas gestures into the store's local edit path.
// Commits merge into the active page optimistically, snapshotting for undo
// and journaling through the edit recorder; the server sees them only on
// an explicit save.
func connectCanvas(pc *PageCanvas, st *store.Store) {
	pc.OnSelect = func(id string) { st.SelectTextBlock(id) }
	pc.OnCommitMove = func(id string, x, y float64) {
		st.UpdateTextBlock(id, domain.BlockPatch{BoxX: &x, BoxY: &y})
	}
	pc.OnCommitResize = func(id string, x, y, w, h float64) {
		st.UpdateTextBlock(id, domain.BlockPatch{BoxX: &x, BoxY: &y, BoxWidth: &w, BoxHeight: &h})
	}
}

// handleSize is the side of a resize handle square in view pixels.
const handleSize = 10

// PageCanvas renders the active page image at fit-to-container scale with
// one interactive overlay rectangle per text block. Blocks with a usable
// translation get an opaque cover plus typeset preview text. All gestures
// work in view space; commits convert to model units on release.
type PageCanvas struct {
	widget.BaseWidget

	img        image.Image
	imgW, imgH float64
	blocks     []domain.TextBlock
	selectedID string
	transform  geometry.Transform
	measurer   textfit.Measurer

	dragMode dragMode
	dragBox  geometry.Box // working view-space box of the selected block
	startBox geometry.Box // view-space box at gesture start

	// OnSelect fires with the tapped block id, or "" for the background.
	OnSelect func(id string)
	// OnCommitMove fires on drag release with the new model-space position.
	OnCommitMove func(id string, x, y float64)
	// OnCommitResize fires on resize release with model-space x, y, w, h.
	OnCommitResize func(id string, x, y, w, h float64)
}

type dragMode int

const (
	dragNone dragMode = iota
	dragMove
	dragResizeNW
	dragResizeNE
	dragResizeSW
	dragResizeSE
)

func NewPageCanvas() *PageCanvas {
	pc := &PageCanvas{
		transform: geometry.Identity,
		measurer:  textfit.BasicMeasurer{},
	}
	pc.ExtendBaseWidget(pc)
	return pc
}

// SetMeasurer swaps the text measurer, e.g. for a loaded font library.
func (p *PageCanvas) SetMeasurer(m textfit.Measurer) {
	p.measurer = m
	p.Refresh()
}

// SetPage replaces the rendered page. A nil image shows the unavailable
// placeholder; blocks still overlay at the last known scale.
func (p *PageCanvas) SetPage(img image.Image, blocks []domain.TextBlock, selectedID string) {
	p.img = img
	if img != nil {
		b := img.Bounds()
		p.imgW = float64(b.Dx())
		p.imgH = float64(b.Dy())
	} else {
		p.imgW, p.imgH = 0, 0
	}
	p.blocks = blocks
	p.selectedID = selectedID
	p.dragMode = dragNone
	p.Refresh()
}

// SetSelected updates the selection without replacing the page.
func (p *PageCanvas) SetSelected(id string) {
	p.selectedID = id
	p.dragMode = dragNone
	p.Refresh()
}

// Transform exposes the current model/view mapping.
func (p *PageCanvas) Transform() geometry.Transform { return p.transform }

func (p *PageCanvas) PreferredSize() fyne.Size { return fyne.NewSize(800, 600) }

func (p *PageCanvas) selectedBlock() (domain.TextBlock, bool) {
	if p.selectedID == "" {
		return domain.TextBlock{}, false
	}
	for _, b := range p.blocks {
		if b.ID == p.selectedID {
			return b, true
		}
	}
	return domain.TextBlock{}, false
}

func modelBox(b domain.TextBlock) geometry.Box {
	return geometry.Box{X: b.BoxX, Y: b.BoxY, W: b.BoxWidth, H: b.BoxHeight}
}

// selectedViewBox is the selected block's box in view space, the working
// drag copy when a gesture is active.
func (p *PageCanvas) selectedViewBox() (geometry.Box, bool) {
	if p.dragMode != dragNone {
		return p.dragBox, true
	}
	b, ok := p.selectedBlock()
	if !ok {
		return geometry.Box{}, false
	}
	return p.transform.BoxToView(modelBox(b)), true
}

// hitTest returns the topmost block under a view-space point, "" if none.
func (p *PageCanvas) hitTest(x, y float64) string {
	for i := len(p.blocks) - 1; i >= 0; i-- {
		if p.transform.BoxToView(modelBox(p.blocks[i])).Contains(x, y) {
			return p.blocks[i].ID
		}
	}
	return ""
}

// handleBoxes returns the four corner handle hit areas in NW, NE, SW, SE
// order.
func (p *PageCanvas) handleBoxes(vb geometry.Box) [4]geometry.Box {
	h := float64(handleSize)
	return [4]geometry.Box{
		{X: vb.X - h/2, Y: vb.Y - h/2, W: h, H: h},
		{X: vb.X + vb.W - h/2, Y: vb.Y - h/2, W: h, H: h},
		{X: vb.X - h/2, Y: vb.Y + vb.H - h/2, W: h, H: h},
		{X: vb.X + vb.W - h/2, Y: vb.Y + vb.H - h/2, W: h, H: h},
	}
}

// Tapped selects the block under the cursor exclusively; tapping the image
// or empty stage clears the selection.
func (p *PageCanvas) Tapped(e *fyne.PointEvent) {
	id := p.hitTest(float64(e.Position.X), float64(e.Position.Y))
	p.selectedID = id
	p.dragMode = dragNone
	if p.OnSelect != nil {
		p.OnSelect(id)
	}
	p.Refresh()
}

func (p *PageCanvas) Dragged(e *fyne.DragEvent) {
	x := float64(e.Position.X)
	y := float64(e.Position.Y)

	if p.dragMode == dragNone {
		vb, ok := p.selectedViewBox()
		if !ok {
			return
		}
		handles := p.handleBoxes(vb)
		switch {
		case handles[0].Contains(x, y):
			p.dragMode = dragResizeNW
		case handles[1].Contains(x, y):
			p.dragMode = dragResizeNE
		case handles[2].Contains(x, y):
			p.dragMode = dragResizeSW
		case handles[3].Contains(x, y):
			p.dragMode = dragResizeSE
		case vb.Contains(x, y):
			p.dragMode = dragMove
		default:
			return
		}
		p.startBox = vb
		p.dragBox = vb
	}

	dx := float64(e.Dragged.DX)
	dy := float64(e.Dragged.DY)
	switch p.dragMode {
	case dragMove:
		p.dragBox.X += dx
		p.dragBox.Y += dy
	case dragResizeNW:
		p.dragBox.X += dx
		p.dragBox.Y += dy
		p.dragBox.W -= dx
		p.dragBox.H -= dy
	case dragResizeNE:
		p.dragBox.Y += dy
		p.dragBox.W += dx
		p.dragBox.H -= dy
	case dragResizeSW:
		p.dragBox.X += dx
		p.dragBox.W -= dx
		p.dragBox.H += dy
	case dragResizeSE:
		p.dragBox.W += dx
		p.dragBox.H += dy
	}
	p.Refresh()
}

// DragEnd commits the gesture in model units. A resize below the minimum
// view size is rejected and the box snaps back.
func (p *PageCanvas) DragEnd() {
	mode := p.dragMode
	p.dragMode = dragNone
	if mode == dragNone || p.selectedID == "" {
		return
	}

	id := p.selectedID
	switch mode {
	case dragMove:
		if p.OnCommitMove != nil {
			p.OnCommitMove(id, p.transform.ToModel(p.dragBox.X), p.transform.ToModel(p.dragBox.Y))
		}
	default:
		if p.dragBox.W < geometry.MinViewSize || p.dragBox.H < geometry.MinViewSize {
			// keep the previous box
			p.Refresh()
			return
		}
		if p.OnCommitResize != nil {
			mb := p.transform.BoxToModel(p.dragBox)
			p.OnCommitResize(id, mb.X, mb.Y, mb.W, mb.H)
		}
	}
	p.Refresh()
}

// blockColor parses a #rrggbb typography color, black when unparsable.
func blockColor(s string) color.Color {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return color.Black
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.Black
	}
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}
}

func (p *PageCanvas) CreateRenderer() fyne.WidgetRenderer {
	bg := canvas.NewRectangle(color.RGBA{R: 30, G: 30, B: 34, A: 255})
	pageImg := canvas.NewImageFromImage(image.NewRGBA(image.Rect(0, 0, 1, 1)))
	pageImg.FillMode = canvas.ImageFillStretch
	placeholder := canvas.NewText("image unavailable", color.RGBA{R: 180, G: 180, B: 180, A: 255})
	placeholder.Hide()

	bbox := canvas.NewRectangle(color.RGBA{})
	bbox.StrokeColor = color.RGBA{R: 0, G: 170, B: 255, A: 255}
	bbox.StrokeWidth = 2
	bbox.Hide()

	var handles [4]*canvas.Rectangle
	for i := range handles {
		handles[i] = canvas.NewRectangle(color.RGBA{R: 0, G: 170, B: 255, A: 255})
		handles[i].Hide()
	}

	return &pageCanvasRenderer{
		pc:          p,
		bg:          bg,
		pageImg:     pageImg,
		placeholder: placeholder,
		bbox:        bbox,
		handles:     handles,
	}
}

type pageCanvasRenderer struct {
	pc          *PageCanvas
	bg          *canvas.Rectangle
	pageImg     *canvas.Image
	placeholder *canvas.Text
	bbox        *canvas.Rectangle
	handles     [4]*canvas.Rectangle

	// per-block visuals, rebuilt when the block list changes
	outlines []*canvas.Rectangle
	covers   []*canvas.Rectangle
	texts    []*canvas.Text
}

func (r *pageCanvasRenderer) Destroy() {}

func (r *pageCanvasRenderer) MinSize() fyne.Size { return fyne.NewSize(320, 240) }

func (r *pageCanvasRenderer) Objects() []fyne.CanvasObject {
	objs := []fyne.CanvasObject{r.bg, r.pageImg, r.placeholder}
	for _, o := range r.outlines {
		objs = append(objs, o)
	}
	for _, c := range r.covers {
		objs = append(objs, c)
	}
	for _, t := range r.texts {
		objs = append(objs, t)
	}
	objs = append(objs, r.bbox)
	for _, h := range r.handles {
		objs = append(objs, h)
	}
	return objs
}

func (r *pageCanvasRenderer) Refresh() {
	r.Layout(r.pc.Size())
	canvas.Refresh(r.pc)
}

func (r *pageCanvasRenderer) Layout(size fyne.Size) {
	p := r.pc
	r.bg.Resize(size)
	r.bg.Move(fyne.NewPos(0, 0))

	p.transform = geometry.FitScale(p.transform, p.imgW, p.imgH, float64(size.Width), float64(size.Height))

	if p.img == nil {
		r.pageImg.Hide()
		r.placeholder.Show()
		r.placeholder.Move(fyne.NewPos(size.Width/2-60, size.Height/2))
	} else {
		r.placeholder.Hide()
		r.pageImg.Show()
		r.pageImg.Image = p.img
		r.pageImg.Resize(fyne.NewSize(float32(p.transform.ToView(p.imgW)), float32(p.transform.ToView(p.imgH))))
		r.pageImg.Move(fyne.NewPos(0, 0))
		r.pageImg.Refresh()
	}

	r.layoutBlocks()
	r.layoutSelection()
}

// layoutBlocks positions the per-block overlays, growing or hiding visuals
// as the block list changes size.
func (r *pageCanvasRenderer) layoutBlocks() {
	p := r.pc
	for len(r.outlines) < len(p.blocks) {
		o := canvas.NewRectangle(color.RGBA{})
		o.StrokeColor = color.RGBA{R: 255, G: 80, B: 80, A: 200}
		o.StrokeWidth = 1
		r.outlines = append(r.outlines, o)

		c := canvas.NewRectangle(color.White)
		r.covers = append(r.covers, c)
	}
	for i, o := range r.outlines {
		if i >= len(p.blocks) {
			o.Hide()
			r.covers[i].Hide()
			continue
		}
		b := p.blocks[i]
		vb := p.transform.BoxToView(modelBox(b))
		if b.ID == p.selectedID && p.dragMode != dragNone {
			vb = p.dragBox
		}
		o.Show()
		o.Resize(fyne.NewSize(float32(vb.W), float32(vb.H)))
		o.Move(fyne.NewPos(float32(vb.X), float32(vb.Y)))

		if b.HasTranslation() {
			r.covers[i].Show()
			r.covers[i].Resize(fyne.NewSize(float32(vb.W), float32(vb.H)))
			r.covers[i].Move(fyne.NewPos(float32(vb.X), float32(vb.Y)))
		} else {
			r.covers[i].Hide()
		}
	}
	r.layoutTexts()
}

// layoutTexts typesets the translated-text previews. Text objects are
// pooled across blocks and lines.
func (r *pageCanvasRenderer) layoutTexts() {
	p := r.pc
	used := 0
	scale := p.transform.Scale()
	for _, b := range p.blocks {
		if !b.HasTranslation() {
			continue
		}
		vb := p.transform.BoxToView(modelBox(b))
		if b.ID == p.selectedID && p.dragMode != dragNone {
			vb = p.dragBox
		}
		fit := textfit.Fit(p.measurer, b.TextTranslated, b.FontFamily, b.FontSize, b.BoxWidth, b.BoxHeight)
		col := blockColor(b.TextColor)
		viewSize := float32(float64(fit.FontSize) * scale)
		lineH := fit.LineHeight * scale
		for j, line := range fit.Lines {
			if used >= len(r.texts) {
				r.texts = append(r.texts, canvas.NewText("", col))
			}
			t := r.texts[used]
			used++
			t.Text = line
			t.Color = col
			t.TextSize = viewSize
			t.Show()

			w := p.measurer.Width(b.FontFamily, float64(fit.FontSize), line) * scale
			x := vb.X + 4*scale
			switch b.TextAlignment {
			case domain.AlignCenter:
				x = vb.X + (vb.W-w)/2
			case domain.AlignRight:
				x = vb.X + vb.W - w - 4*scale
			}
			t.Move(fyne.NewPos(float32(x), float32(vb.Y+4*scale+float64(j)*lineH)))
			t.Refresh()
		}
	}
	for ; used < len(r.texts); used++ {
		r.texts[used].Hide()
	}
}

func (r *pageCanvasRenderer) layoutSelection() {
	vb, ok := r.pc.selectedViewBox()
	if !ok {
		r.bbox.Hide()
		for _, h := range r.handles {
			h.Hide()
		}
		return
	}
	r.bbox.Show()
	r.bbox.Resize(fyne.NewSize(float32(vb.W), float32(vb.H)))
	r.bbox.Move(fyne.NewPos(float32(vb.X), float32(vb.Y)))
	for i, hb := range r.pc.handleBoxes(vb) {
		r.handles[i].Show()
		r.handles[i].Resize(fyne.NewSize(float32(hb.W), float32(hb.H)))
		r.handles[i].Move(fyne.NewPos(float32(hb.X), float32(hb.Y)))
	}
}
