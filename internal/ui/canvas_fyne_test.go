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

// These tests validate the Fyne-based canvas widget. They are gated behind
// the "fyne" build tag so CI (which is headless) does not need Fyne or a
// display. To run locally:
//
//	go test -tags fyne ./internal/ui
package ui

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"testing"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/test"

	"kagescan/internal/api"
	"kagescan/internal/domain"
	"kagescan/internal/store"
)

func testBlock(id string, x, y, w, h float64) domain.TextBlock {
	return domain.TextBlock{ID: id, BoxX: x, BoxY: y, BoxWidth: w, BoxHeight: h, FontSize: 16}
}

// newTestCanvas lays out a 1000x800 page in a 500x400 container so the
// model/view scale is exactly 0.5.
func newTestCanvas(t *testing.T, blocks []domain.TextBlock) *PageCanvas {
	t.Helper()
	test.NewApp()
	pc := NewPageCanvas()
	img := image.NewRGBA(image.Rect(0, 0, 1000, 800))
	pc.SetPage(img, blocks, "")
	pc.Resize(fyne.NewSize(500, 400))
	if got := pc.Transform().Scale(); got != 0.5 {
		t.Fatalf("fit scale = %v, want 0.5", got)
	}
	return pc
}

func TestPageCanvas_Defaults(t *testing.T) {
	pc := NewPageCanvas()
	sz := pc.PreferredSize()
	if sz.Width != 800 || sz.Height != 600 {
		t.Fatalf("unexpected PreferredSize: %v", sz)
	}
}

func TestPageCanvas_TappedSelectsTopmost(t *testing.T) {
	blocks := []domain.TextBlock{
		testBlock("b1", 100, 100, 200, 100),
		testBlock("b2", 150, 120, 200, 100), // overlaps b1, drawn later
	}
	pc := newTestCanvas(t, blocks)

	var selected []string
	pc.OnSelect = func(id string) { selected = append(selected, id) }

	// view point (80, 70) is model (160, 140): inside both, b2 wins
	pc.Tapped(&fyne.PointEvent{Position: fyne.NewPos(80, 70)})
	// view point (55, 55) is model (110, 110): only b1
	pc.Tapped(&fyne.PointEvent{Position: fyne.NewPos(55, 55)})
	// background clears
	pc.Tapped(&fyne.PointEvent{Position: fyne.NewPos(5, 5)})

	want := []string{"b2", "b1", ""}
	if len(selected) != len(want) {
		t.Fatalf("selections = %v, want %v", selected, want)
	}
	for i := range want {
		if selected[i] != want[i] {
			t.Fatalf("selection %d = %q, want %q", i, selected[i], want[i])
		}
	}
}

func TestPageCanvas_DragMoveCommitsModelUnits(t *testing.T) {
	pc := newTestCanvas(t, []domain.TextBlock{testBlock("b1", 100, 100, 200, 100)})
	pc.SetSelected("b1")

	var gotID string
	var gotX, gotY float64
	pc.OnCommitMove = func(id string, x, y float64) { gotID, gotX, gotY = id, x, y }

	// block view box is (50,50,100,50); start inside, away from handles
	pc.Dragged(&fyne.DragEvent{
		PointEvent: fyne.PointEvent{Position: fyne.NewPos(100, 70)},
		Dragged:    fyne.Delta{DX: 20, DY: 10},
	})
	pc.DragEnd()

	if gotID != "b1" {
		t.Fatalf("commit id = %q, want b1", gotID)
	}
	if gotX != 140 || gotY != 120 {
		t.Fatalf("commit position = (%v, %v), want (140, 120)", gotX, gotY)
	}
}

func TestPageCanvas_ResizeCommitsModelBox(t *testing.T) {
	pc := newTestCanvas(t, []domain.TextBlock{testBlock("b1", 100, 100, 200, 100)})
	pc.SetSelected("b1")

	var got [4]float64
	committed := false
	pc.OnCommitResize = func(id string, x, y, w, h float64) {
		committed = true
		got = [4]float64{x, y, w, h}
	}

	// SE handle sits around view (150, 100)
	pc.Dragged(&fyne.DragEvent{
		PointEvent: fyne.PointEvent{Position: fyne.NewPos(148, 98)},
		Dragged:    fyne.Delta{DX: 50, DY: 10},
	})
	pc.DragEnd()

	if !committed {
		t.Fatal("expected resize commit")
	}
	want := [4]float64{100, 100, 300, 120}
	if got != want {
		t.Fatalf("resize commit = %v, want %v", got, want)
	}
}

func TestPageCanvas_ResizeBelowMinimumRejected(t *testing.T) {
	pc := newTestCanvas(t, []domain.TextBlock{testBlock("b1", 100, 100, 200, 100)})
	pc.SetSelected("b1")

	pc.OnCommitResize = func(string, float64, float64, float64, float64) {
		t.Fatal("resize below minimum must not commit")
	}

	// shrink width from 100 to 10 view px via the SE handle
	pc.Dragged(&fyne.DragEvent{
		PointEvent: fyne.PointEvent{Position: fyne.NewPos(148, 98)},
		Dragged:    fyne.Delta{DX: -90, DY: 0},
	})
	pc.DragEnd()
}

func TestBlockColor(t *testing.T) {
	if c := blockColor("#ff0080"); c != (color.RGBA{R: 255, G: 0, B: 128, A: 255}) {
		t.Fatalf("parsed color = %v", c)
	}
	if c := blockColor("not-a-color"); c != color.Black {
		t.Fatalf("fallback color = %v, want black", c)
	}
}

// fakeEditorBackend fails every call so a test catches any accidental
// server round-trip from the edit path.
type fakeEditorBackend struct {
	mu      sync.Mutex
	patches int
}

func (f *fakeEditorBackend) ListProjects(context.Context) ([]domain.ProjectListItem, error) {
	return nil, errors.New("not served")
}

func (f *fakeEditorBackend) GetProject(context.Context, string) (*domain.Project, error) {
	return nil, errors.New("not served")
}

func (f *fakeEditorBackend) UpdateTextBlock(context.Context, string, string, domain.BlockPatch) (*domain.TextBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patches++
	return nil, errors.New("not served")
}

func (f *fakeEditorBackend) CreateProject(context.Context, api.UploadRequest) (*domain.Project, error) {
	return nil, errors.New("not served")
}

func (f *fakeEditorBackend) ExportProject(context.Context, string, io.Writer) (int64, error) {
	return 0, errors.New("not served")
}

func (f *fakeEditorBackend) StartPipeline(context.Context, string) (*api.PipelineAccepted, error) {
	return nil, errors.New("not served")
}

func (f *fakeEditorBackend) PipelineStatus(context.Context, string) (*domain.PipelineStatus, error) {
	return nil, errors.New("not served")
}

type recordedEdit struct {
	blockID string
	patch   domain.BlockPatch
}

type fakeRecorder struct {
	edits []recordedEdit
}

func (r *fakeRecorder) RecordEdit(_, blockID string, patch domain.BlockPatch) error {
	r.edits = append(r.edits, recordedEdit{blockID: blockID, patch: patch})
	return nil
}

func TestCanvasDragCommitsLocallyWithoutServerPatch(t *testing.T) {
	test.NewApp()
	fb := &fakeEditorBackend{}
	st := store.New(fb, time.Millisecond)
	rec := &fakeRecorder{}
	st.SetRecorder(rec)
	st.SetProject(&domain.Project{ID: "p1", Pages: []domain.Page{
		{ID: "pg-1", PageNumber: 1, TextBlocks: []domain.TextBlock{
			testBlock("b1", 100, 100, 200, 100),
		}},
	}})

	pc := NewPageCanvas()
	connectCanvas(pc, st)
	pc.SetPage(image.NewRGBA(image.Rect(0, 0, 1000, 800)), st.Snapshot().Project.Pages[0].TextBlocks, "")
	pc.Resize(fyne.NewSize(500, 400))
	st.SelectTextBlock("b1")
	pc.SetSelected("b1")

	pc.Dragged(&fyne.DragEvent{
		PointEvent: fyne.PointEvent{Position: fyne.NewPos(100, 70)},
		Dragged:    fyne.Delta{DX: 20, DY: 10},
	})
	pc.DragEnd()

	b := st.Snapshot().Project.Pages[0].TextBlocks[0]
	if b.BoxX != 140 || b.BoxY != 120 {
		t.Fatalf("block at (%v, %v), want (140, 120)", b.BoxX, b.BoxY)
	}
	if !b.IsEdited {
		t.Fatalf("local edit must set is_edited")
	}
	fb.mu.Lock()
	patches := fb.patches
	fb.mu.Unlock()
	if patches != 0 {
		t.Fatalf("drag commit must not reach the server, got %d patches", patches)
	}
	if len(rec.edits) != 1 || rec.edits[0].blockID != "b1" || rec.edits[0].patch.BoxX == nil {
		t.Fatalf("edit not journaled: %+v", rec.edits)
	}

	st.Undo()
	b = st.Snapshot().Project.Pages[0].TextBlocks[0]
	if b.BoxX != 100 || b.BoxY != 100 {
		t.Fatalf("undo left block at (%v, %v), want (100, 100)", b.BoxX, b.BoxY)
	}
}
