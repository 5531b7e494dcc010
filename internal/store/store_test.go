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
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"kagescan/internal/api"
	"kagescan/internal/domain"
)

// fakeBackend serves canned projects and records calls.
type fakeBackend struct {
	mu          sync.Mutex
	project     *domain.Project
	getErr      error
	getDelay    time.Duration
	getCalls    int
	patched     []domain.BlockPatch
	statusSeq   []string
	statusCalls int
	exportErr   error
}

func (f *fakeBackend) ListProjects(context.Context) ([]domain.ProjectListItem, error) {
	return []domain.ProjectListItem{{ID: "p1", Name: "chapter 1"}}, nil
}

func (f *fakeBackend) GetProject(ctx context.Context, id string) (*domain.Project, error) {
	f.mu.Lock()
	f.getCalls++
	delay := f.getDelay
	err := f.getErr
	p := f.project
	f.mu.Unlock()
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	cp := *p
	return &cp, nil
}

func (f *fakeBackend) UpdateTextBlock(_ context.Context, _, blockID string, patch domain.BlockPatch) (*domain.TextBlock, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patched = append(f.patched, patch)
	b := f.project.Pages[0].TextBlocks[0]
	patch.Apply(&b)
	return &b, nil
}

func (f *fakeBackend) CreateProject(_ context.Context, req api.UploadRequest) (*domain.Project, error) {
	if req.Progress != nil {
		req.Progress(100)
	}
	return &domain.Project{ID: "new", Name: req.Name, Pages: []domain.Page{{ID: "pg-1"}}}, nil
}

func (f *fakeBackend) ExportProject(_ context.Context, _ string, w io.Writer) (int64, error) {
	if f.exportErr != nil {
		return 0, f.exportErr
	}
	n, _ := w.Write([]byte("zip-bytes"))
	return int64(n), nil
}

func (f *fakeBackend) StartPipeline(_ context.Context, projectID string) (*api.PipelineAccepted, error) {
	return &api.PipelineAccepted{Status: "accepted", ProjectID: projectID}, nil
}

func (f *fakeBackend) PipelineStatus(_ context.Context, projectID string) (*domain.PipelineStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := "processing"
	if f.statusCalls < len(f.statusSeq) {
		status = f.statusSeq[f.statusCalls]
	}
	f.statusCalls++
	return &domain.PipelineStatus{ProjectID: projectID, ProjectStatus: status}, nil
}

func sampleProject() *domain.Project {
	return &domain.Project{
		ID:     "p1",
		Name:   "chapter 1",
		Status: domain.ProjectReady,
		Pages: []domain.Page{
			{ID: "pg-1", PageNumber: 1, TextBlocks: []domain.TextBlock{
				{ID: "b1", PageID: "pg-1", BoxX: 10, BoxY: 20, BoxWidth: 100, BoxHeight: 50, FontSize: 16, TextAlignment: domain.AlignCenter},
				{ID: "b2", PageID: "pg-1", BoxX: 200, BoxY: 30, BoxWidth: 80, BoxHeight: 40, FontSize: 14, TextAlignment: domain.AlignLeft},
			}},
			{ID: "pg-2", PageNumber: 2, TextBlocks: []domain.TextBlock{
				{ID: "b3", PageID: "pg-2", BoxX: 5, BoxY: 5, BoxWidth: 60, BoxHeight: 60, FontSize: 12, TextAlignment: domain.AlignLeft},
			}},
		},
	}
}

func TestSetProjectResetsNavigation(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())
	s.SelectTextBlock("b1")
	s.SetActivePage(1)

	s.SetProject(sampleProject())
	st := s.Snapshot()
	if st.ActivePageIndex != 0 {
		t.Fatalf("active page = %d, want 0", st.ActivePageIndex)
	}
	if st.SelectedBlockID != "" {
		t.Fatalf("selection not cleared")
	}
	if st.Err != "" {
		t.Fatalf("error not cleared")
	}
}

func TestPageNavigationClampsAndClearsSelection(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())

	s.PrevPage()
	if st := s.Snapshot(); st.ActivePageIndex != 0 {
		t.Fatalf("prev at first page must not wrap, got %d", st.ActivePageIndex)
	}
	s.SelectTextBlock("b1")
	s.NextPage()
	st := s.Snapshot()
	if st.ActivePageIndex != 1 {
		t.Fatalf("next page = %d, want 1", st.ActivePageIndex)
	}
	if st.SelectedBlockID != "" {
		t.Fatalf("page switch must clear selection")
	}
	s.NextPage()
	if st := s.Snapshot(); st.ActivePageIndex != 1 {
		t.Fatalf("next at last page must not wrap, got %d", st.ActivePageIndex)
	}
	s.SetActivePage(99)
	if st := s.Snapshot(); st.ActivePageIndex != 1 {
		t.Fatalf("SetActivePage must clamp, got %d", st.ActivePageIndex)
	}
}

func TestSelectionScopedToActivePage(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())
	s.SelectTextBlock("b3") // lives on page 2, not active
	if _, ok := s.SelectedBlock(); ok {
		t.Fatalf("block on another page must not be selectable")
	}
	s.SelectTextBlock("b2")
	b, ok := s.SelectedBlock()
	if !ok || b.ID != "b2" {
		t.Fatalf("selected = %v %v", b.ID, ok)
	}
}

func TestUpdateTextBlockMergesAndMarksEdited(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())

	x, y := 42.0, 7.0
	s.UpdateTextBlock("b1", domain.BlockPatch{BoxX: &x, BoxY: &y})

	st := s.Snapshot()
	b := st.Project.Pages[0].TextBlocks[0]
	if b.BoxX != 42 || b.BoxY != 7 {
		t.Fatalf("box = %v,%v", b.BoxX, b.BoxY)
	}
	if !b.IsEdited {
		t.Fatalf("is_edited not set")
	}
	// Untouched fields keep their values.
	if b.BoxWidth != 100 || b.FontSize != 16 {
		t.Fatalf("merge clobbered untouched fields: %+v", b)
	}
}

func TestUpdateTextBlockNoProjectIsSilent(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	x := 5.0
	s.UpdateTextBlock("b1", domain.BlockPatch{BoxX: &x}) // must not panic
	if st := s.Snapshot(); st.Err != "" {
		t.Fatalf("no-op must not set error")
	}
}

func TestSaveEditsFlushesAndRefetches(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())
	before := fb.getCalls

	var flushedID string
	s.SaveEdits(context.Background(), func(_ context.Context, projectID string) (int, error) {
		flushedID = projectID
		return 2, nil
	})

	if flushedID != "p1" {
		t.Fatalf("flushed project = %q, want p1", flushedID)
	}
	st := s.Snapshot()
	if st.Saving {
		t.Fatalf("saving flag must clear")
	}
	if st.Notice == "" {
		t.Fatalf("expected a save notice")
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.getCalls != before+1 {
		t.Fatalf("refetch count = %d, want %d", fb.getCalls-before, 1)
	}
}

func TestSaveEditsNothingPendingSkipsRefetch(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())
	before := fb.getCalls

	s.SaveEdits(context.Background(), func(context.Context, string) (int, error) {
		return 0, nil
	})

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.getCalls != before {
		t.Fatalf("no edits flushed must not refetch")
	}
}

func TestSaveEditsFailureSetsError(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())

	s.SaveEdits(context.Background(), func(context.Context, string) (int, error) {
		return 1, errors.New("server rejected patch")
	})

	st := s.Snapshot()
	if st.Err != "server rejected patch" {
		t.Fatalf("Err = %q", st.Err)
	}
	if st.Saving {
		t.Fatalf("saving flag must clear on failure")
	}
}

func TestDeleteTextBlockClearsSelection(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())
	s.SelectTextBlock("b1")
	s.DeleteTextBlock("b1")
	st := s.Snapshot()
	if st.SelectedBlockID != "" {
		t.Fatalf("selection must clear when selected block is deleted")
	}
	if len(st.Project.Pages[0].TextBlocks) != 1 || st.Project.Pages[0].TextBlocks[0].ID != "b2" {
		t.Fatalf("block not removed: %+v", st.Project.Pages[0].TextBlocks)
	}
}

func TestUndoRedoBlockEdits(t *testing.T) {
	s := New(&fakeBackend{}, time.Millisecond)
	s.SetProject(sampleProject())

	x := 42.0
	s.UpdateTextBlock("b1", domain.BlockPatch{BoxX: &x})
	s.Undo()
	if st := s.Snapshot(); st.Project.Pages[0].TextBlocks[0].BoxX != 10 {
		t.Fatalf("undo did not restore, box_x = %v", st.Project.Pages[0].TextBlocks[0].BoxX)
	}
	s.Redo()
	if st := s.Snapshot(); st.Project.Pages[0].TextBlocks[0].BoxX != 42 {
		t.Fatalf("redo did not re-apply, box_x = %v", st.Project.Pages[0].TextBlocks[0].BoxX)
	}
}

func TestFetchProjectFailureKeepsState(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())
	s.SetActivePage(1)

	fb.mu.Lock()
	fb.getErr = errors.New("connection refused")
	fb.mu.Unlock()
	s.FetchProject(context.Background(), "p1")

	st := s.Snapshot()
	if st.Err == "" {
		t.Fatalf("fetch failure must surface an error")
	}
	if st.Project == nil || st.ActivePageIndex != 1 {
		t.Fatalf("failed fetch must leave prior state untouched")
	}
}

func TestFetchProjectStaleResponseDiscarded(t *testing.T) {
	fb := &fakeBackend{project: sampleProject(), getDelay: 50 * time.Millisecond}
	s := New(fb, time.Millisecond)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.FetchProject(context.Background(), "p1") // slow, superseded
	}()
	time.Sleep(10 * time.Millisecond)

	fast := sampleProject()
	fast.Name = "newer"
	fb.mu.Lock()
	fb.project = fast
	fb.getDelay = 0
	fb.mu.Unlock()
	s.FetchProject(context.Background(), "p1")
	wg.Wait()

	if st := s.Snapshot(); st.Project.Name != "newer" {
		t.Fatalf("stale fetch overwrote newer state: %q", st.Project.Name)
	}
}

func TestRunPipelineRefetchesOnceOnTerminal(t *testing.T) {
	fb := &fakeBackend{project: sampleProject(), statusSeq: []string{"processing", "ready"}}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())

	fb.mu.Lock()
	fb.getCalls = 0
	fb.mu.Unlock()
	s.RunPipeline(context.Background())

	st := s.Snapshot()
	if st.Processing {
		t.Fatalf("processing flag not cleared")
	}
	if st.Pipeline == nil || st.Pipeline.ProjectStatus != domain.ProjectReady {
		t.Fatalf("pipeline status = %+v", st.Pipeline)
	}
	fb.mu.Lock()
	defer fb.mu.Unlock()
	if fb.getCalls != 1 {
		t.Fatalf("expected exactly one refetch, got %d", fb.getCalls)
	}
}

func TestRunPipelineReentryRejected(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()} // processing forever
	s := New(fb, 5*time.Millisecond)
	s.SetProject(sampleProject())

	go s.RunPipeline(context.Background())
	time.Sleep(20 * time.Millisecond)
	if st := s.Snapshot(); !st.Processing {
		t.Fatalf("pipeline should be running")
	}
	s.RunPipeline(context.Background()) // must return immediately, no second loop
	s.CancelPipeline()
	time.Sleep(20 * time.Millisecond)
	if st := s.Snapshot(); st.Processing {
		t.Fatalf("cancel did not clear processing flag")
	}
}

func TestRunExportWritesArchive(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())

	var buf writeBuffer
	s.RunExport(context.Background(), &buf)
	st := s.Snapshot()
	if st.Exporting {
		t.Fatalf("exporting flag not cleared")
	}
	if st.Err != "" {
		t.Fatalf("unexpected error: %s", st.Err)
	}
	if buf.String() != "zip-bytes" {
		t.Fatalf("archive bytes = %q", buf.String())
	}
	if got := ExportFilename("chapter 1"); got != "chapter 1_translated.zip" {
		t.Fatalf("export filename = %q", got)
	}
}

func TestUploadEmptyNameFailsLocally(t *testing.T) {
	fb := &fakeBackend{}
	s := New(fb, time.Millisecond)
	s.Upload(context.Background(), api.UploadRequest{Name: "   "})
	st := s.Snapshot()
	if st.Err != ErrEmptyName {
		t.Fatalf("err = %q, want %q", st.Err, ErrEmptyName)
	}
	if st.Project != nil {
		t.Fatalf("no project should have been created")
	}
}

func TestAutoName(t *testing.T) {
	cases := map[string]string{
		"chapter_1.zip":           "chapter 1",
		"/tmp/one_piece_1042.zip": "one piece 1042",
		"page.png":                "page",
	}
	for in, want := range cases {
		if got := AutoName(in); got != want {
			t.Errorf("AutoName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResetClearsEverything(t *testing.T) {
	fb := &fakeBackend{project: sampleProject()}
	s := New(fb, time.Millisecond)
	s.SetProject(sampleProject())
	s.SelectTextBlock("b1")
	s.Reset()
	st := s.Snapshot()
	if st.Project != nil || st.SelectedBlockID != "" || st.ActivePageIndex != -1 || st.Err != "" {
		t.Fatalf("reset left state behind: %+v", st)
	}
}

// writeBuffer is a tiny strings.Builder-like io.Writer.
type writeBuffer struct{ b []byte }

func (w *writeBuffer) Write(p []byte) (int, error) { w.b = append(w.b, p...); return len(p), nil }
func (w *writeBuffer) String() string              { return string(w.b) }
