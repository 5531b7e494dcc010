/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package store holds the client-side editing state of one open project:
// the project itself, the active page, the block selection, and the
// transient flags the UI renders (uploading, processing, exporting).
// All mutations go through methods guarded by a mutex; readers get
// snapshot copies. Operations never panic toward callers; async failures
// land in the Err field for the UI to display.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"kagescan/internal/api"
	"kagescan/internal/domain"
	"kagescan/internal/export"
	applog "kagescan/internal/log"
	"kagescan/internal/pipeline"
	"kagescan/internal/telemetry"
	"kagescan/internal/undo"
)

// Backend is the slice of the API client the store drives.
type Backend interface {
	ListProjects(ctx context.Context) ([]domain.ProjectListItem, error)
	GetProject(ctx context.Context, id string) (*domain.Project, error)
	UpdateTextBlock(ctx context.Context, projectID, blockID string, patch domain.BlockPatch) (*domain.TextBlock, error)
	CreateProject(ctx context.Context, req api.UploadRequest) (*domain.Project, error)
	ExportProject(ctx context.Context, projectID string, w io.Writer) (int64, error)
	StartPipeline(ctx context.Context, projectID string) (*api.PipelineAccepted, error)
	PipelineStatus(ctx context.Context, projectID string) (*domain.PipelineStatus, error)
}

// EditRecorder receives every local block mutation, e.g. to journal it for
// a later flush to the server.
type EditRecorder interface {
	RecordEdit(projectID, blockID string, patch domain.BlockPatch) error
}

// State is a read-only snapshot of the store.
type State struct {
	Project         *domain.Project
	Projects        []domain.ProjectListItem
	ActivePageIndex int
	SelectedBlockID string
	Pipeline        *domain.PipelineStatus
	Uploading       bool
	UploadProgress  int
	Processing      bool
	Exporting       bool
	Saving          bool
	Err             string
	Notice          string
}

// Store is the single mutable shared resource of the editor.
type Store struct {
	backend  Backend
	log      *slog.Logger
	recorder EditRecorder
	history  *undo.Manager
	poller   *pipeline.Poller

	mu              sync.Mutex
	project         *domain.Project
	projects        []domain.ProjectListItem
	activePageIndex int
	selectedBlockID string
	pipeline        *domain.PipelineStatus
	uploading       bool
	uploadProgress  int
	processing      bool
	exporting       bool
	saving          bool
	err             string
	notice          string
	fetchGen        uint64

	// OnChange fires after every state mutation, outside the lock.
	OnChange func()
}

// New creates a store over a backend. pollInterval <= 0 uses the default.
func New(backend Backend, pollInterval time.Duration) *Store {
	return &Store{
		backend:         backend,
		log:             applog.WithComponent("store"),
		history:         undo.NewManager(undo.Config{}),
		poller:          pipeline.NewPoller(backend, pollInterval),
		activePageIndex: -1,
	}
}

// SetRecorder installs an edit journal hook. Pass nil to disable.
func (s *Store) SetRecorder(r EditRecorder) {
	s.mu.Lock()
	s.recorder = r
	s.mu.Unlock()
}

func (s *Store) notify() {
	if s.OnChange != nil {
		s.OnChange()
	}
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Project:         cloneProject(s.project),
		ActivePageIndex: s.activePageIndex,
		SelectedBlockID: s.selectedBlockID,
		Uploading:       s.uploading,
		UploadProgress:  s.uploadProgress,
		Processing:      s.processing,
		Exporting:       s.exporting,
		Saving:          s.saving,
		Err:             s.err,
		Notice:          s.notice,
	}
	if s.projects != nil {
		st.Projects = append([]domain.ProjectListItem(nil), s.projects...)
	}
	if s.pipeline != nil {
		p := *s.pipeline
		st.Pipeline = &p
	}
	return st
}

func cloneProject(p *domain.Project) *domain.Project {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Pages = make([]domain.Page, len(p.Pages))
	for i, pg := range p.Pages {
		cp.Pages[i] = pg
		cp.Pages[i].TextBlocks = append([]domain.TextBlock(nil), pg.TextBlocks...)
	}
	return &cp
}

// SetProject replaces the whole project: active page resets to the first
// page (none when empty), selection and error are cleared.
func (s *Store) SetProject(p *domain.Project) {
	s.mu.Lock()
	s.project = cloneProject(p)
	s.selectedBlockID = ""
	s.err = ""
	if p != nil && len(p.Pages) > 0 {
		s.activePageIndex = 0
	} else {
		s.activePageIndex = -1
	}
	s.mu.Unlock()
	s.notify()
}

// FetchProject loads a project and replaces state on success. A fetch
// superseded by a newer one is discarded; failures set Err and leave the
// rest of the state untouched.
func (s *Store) FetchProject(ctx context.Context, id string) {
	s.mu.Lock()
	s.fetchGen++
	gen := s.fetchGen
	s.mu.Unlock()

	p, err := s.backend.GetProject(ctx, id)
	pl := applog.WithProject(s.log, id)

	s.mu.Lock()
	if gen != s.fetchGen {
		s.mu.Unlock()
		pl.Debug("stale project fetch discarded")
		return
	}
	if err != nil {
		s.err = err.Error()
		s.mu.Unlock()
		pl.Error("project fetch failed", slog.Any("err", err))
		s.notify()
		return
	}
	s.mu.Unlock()
	s.SetProject(p)
}

// FetchProjects refreshes the project listing.
func (s *Store) FetchProjects(ctx context.Context) {
	list, err := s.backend.ListProjects(ctx)
	s.mu.Lock()
	if err != nil {
		s.err = err.Error()
	} else {
		s.projects = list
	}
	s.mu.Unlock()
	s.notify()
}

// ActivePage returns a copy of the active page.
func (s *Store) ActivePage() (domain.Page, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg := s.activePageLocked()
	if pg == nil {
		return domain.Page{}, false
	}
	cp := *pg
	cp.TextBlocks = append([]domain.TextBlock(nil), pg.TextBlocks...)
	return cp, true
}

func (s *Store) activePageLocked() *domain.Page {
	if s.project == nil || s.activePageIndex < 0 || s.activePageIndex >= len(s.project.Pages) {
		return nil
	}
	return &s.project.Pages[s.activePageIndex]
}

// SetActivePage switches to the page at index, clamped to the valid range,
// and clears the selection.
func (s *Store) SetActivePage(index int) {
	s.mu.Lock()
	if s.project != nil && len(s.project.Pages) > 0 {
		if index < 0 {
			index = 0
		}
		if index > len(s.project.Pages)-1 {
			index = len(s.project.Pages) - 1
		}
		s.activePageIndex = index
		s.selectedBlockID = ""
	}
	s.mu.Unlock()
	s.notify()
}

// NextPage advances one page; no-op at the last page. Clears selection.
func (s *Store) NextPage() {
	s.mu.Lock()
	if s.project != nil && s.activePageIndex < len(s.project.Pages)-1 {
		s.activePageIndex++
		s.selectedBlockID = ""
	}
	s.mu.Unlock()
	s.notify()
}

// PrevPage goes back one page; no-op at the first page. Clears selection.
func (s *Store) PrevPage() {
	s.mu.Lock()
	if s.project != nil && s.activePageIndex > 0 {
		s.activePageIndex--
		s.selectedBlockID = ""
	}
	s.mu.Unlock()
	s.notify()
}

// SelectTextBlock selects a block on the active page; an empty id or an id
// not on the active page clears the selection.
func (s *Store) SelectTextBlock(id string) {
	s.mu.Lock()
	s.selectedBlockID = ""
	if pg := s.activePageLocked(); pg != nil {
		for _, b := range pg.TextBlocks {
			if b.ID == id {
				s.selectedBlockID = id
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

// SelectedBlock returns a copy of the selected block on the active page.
func (s *Store) SelectedBlock() (domain.TextBlock, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pg := s.activePageLocked()
	if pg == nil || s.selectedBlockID == "" {
		return domain.TextBlock{}, false
	}
	for _, b := range pg.TextBlocks {
		if b.ID == s.selectedBlockID {
			return b, true
		}
	}
	return domain.TextBlock{}, false
}

func blocksBlob(blocks []domain.TextBlock) []byte {
	blob, err := json.Marshal(blocks)
	if err != nil {
		return nil
	}
	return blob
}

// UpdateTextBlock merges the patch into the matching block on the active
// page, marks it edited, and writes the page back at the same index. The
// mutation is local only; the server sees it on an explicit save. Silent
// no-op without a project or active page, or when the block is not on the
// active page.
func (s *Store) UpdateTextBlock(blockID string, patch domain.BlockPatch) {
	if patch.IsZero() {
		return
	}
	var (
		projectID string
		recorder  EditRecorder
		applied   bool
	)
	s.mu.Lock()
	pg := s.activePageLocked()
	if pg != nil {
		for i := range pg.TextBlocks {
			if pg.TextBlocks[i].ID == blockID {
				s.history.PushSnapshot(undo.Snapshot{PageID: pg.ID, Blob: blocksBlob(pg.TextBlocks), TS: time.Now()})
				patch.Apply(&pg.TextBlocks[i])
				projectID = s.project.ID
				recorder = s.recorder
				applied = true
				break
			}
		}
	}
	s.mu.Unlock()
	if !applied {
		return
	}
	if recorder != nil {
		if err := recorder.RecordEdit(projectID, blockID, patch); err != nil {
			s.log.Warn("edit journal write failed", slog.String("block_id", blockID), slog.Any("err", err))
		}
	}
	s.notify()
}

// SaveEdits pushes journaled local edits to the server through flush
// (journal.Flush with the API client as patcher), then refetches the
// project so server truth replaces the optimistic copies. flush reports
// how many edits were applied; a partial failure keeps the unapplied rows
// journaled for the next save.
func (s *Store) SaveEdits(ctx context.Context, flush func(ctx context.Context, projectID string) (int, error)) {
	s.mu.Lock()
	if s.project == nil || s.saving {
		s.mu.Unlock()
		return
	}
	projectID := s.project.ID
	s.saving = true
	s.err = ""
	s.mu.Unlock()
	s.notify()

	n, err := flush(ctx, projectID)

	s.mu.Lock()
	s.saving = false
	if err != nil {
		s.err = firstErrorLine(err)
		s.mu.Unlock()
		s.notify()
		return
	}
	if n == 0 {
		s.mu.Unlock()
		s.notify()
		return
	}
	s.notice = fmt.Sprintf("%d edits saved", n)
	s.mu.Unlock()
	s.log.Info("edits saved", slog.String("project_id", projectID), slog.Int("count", n))
	s.FetchProject(ctx, projectID)
}

// DeleteTextBlock removes the block from the active page; a selected block
// being deleted clears the selection. Local only, like UpdateTextBlock.
func (s *Store) DeleteTextBlock(blockID string) {
	s.mu.Lock()
	if pg := s.activePageLocked(); pg != nil {
		for i := range pg.TextBlocks {
			if pg.TextBlocks[i].ID == blockID {
				s.history.PushSnapshot(undo.Snapshot{PageID: pg.ID, Blob: blocksBlob(pg.TextBlocks), TS: time.Now()})
				pg.TextBlocks = append(pg.TextBlocks[:i], pg.TextBlocks[i+1:]...)
				if s.selectedBlockID == blockID {
					s.selectedBlockID = ""
				}
				break
			}
		}
	}
	s.mu.Unlock()
	s.notify()
}

// Undo restores the active page's block list to the state before the last
// local mutation.
func (s *Store) Undo() {
	s.restoreHistory(func(pageID string, current []byte) (undo.Snapshot, bool) {
		return s.history.Undo(pageID, current)
	})
}

// Redo re-applies the last undone mutation on the active page.
func (s *Store) Redo() {
	s.restoreHistory(func(pageID string, current []byte) (undo.Snapshot, bool) {
		return s.history.Redo(pageID, current)
	})
}

func (s *Store) restoreHistory(pop func(pageID string, current []byte) (undo.Snapshot, bool)) {
	s.mu.Lock()
	pg := s.activePageLocked()
	if pg == nil {
		s.mu.Unlock()
		return
	}
	snap, ok := pop(pg.ID, blocksBlob(pg.TextBlocks))
	if !ok {
		s.mu.Unlock()
		return
	}
	var blocks []domain.TextBlock
	if err := json.Unmarshal(snap.Blob, &blocks); err != nil {
		s.mu.Unlock()
		s.log.Warn("history snapshot corrupt", slog.String("page_id", pg.ID), slog.Any("err", err))
		return
	}
	pg.TextBlocks = blocks
	if s.selectedBlockID != "" {
		found := false
		for _, b := range blocks {
			if b.ID == s.selectedBlockID {
				found = true
				break
			}
		}
		if !found {
			s.selectedBlockID = ""
		}
	}
	s.mu.Unlock()
	s.notify()
}

// RunPipeline starts processing for the current project and blocks until
// the pipeline reaches a terminal status. A second call while one is
// running is rejected. A terminal status triggers exactly one full project
// refetch so the editor reflects server truth.
func (s *Store) RunPipeline(ctx context.Context) {
	s.mu.Lock()
	if s.project == nil {
		s.mu.Unlock()
		return
	}
	if s.processing {
		s.mu.Unlock()
		return
	}
	projectID := s.project.ID
	s.processing = true
	s.err = ""
	s.mu.Unlock()
	s.notify()

	s.poller.OnStatus = func(st domain.PipelineStatus) {
		s.mu.Lock()
		cp := st
		s.pipeline = &cp
		s.mu.Unlock()
		s.notify()
	}
	started := time.Now()
	status, err := s.poller.Run(ctx, projectID)

	s.mu.Lock()
	s.processing = false
	if err != nil {
		s.err = firstErrorLine(err)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Unlock()
	telemetry.PipelineFinished(status.ProjectStatus, time.Since(started))
	if status.ProjectStatus == domain.ProjectError {
		s.mu.Lock()
		s.err = "pipeline failed"
		s.mu.Unlock()
	}
	s.FetchProject(ctx, projectID)
}

// CancelPipeline stops an active polling loop.
func (s *Store) CancelPipeline() {
	s.poller.Cancel()
}

// firstErrorLine keeps only the leading error message so wrapped chains do
// not flood the banner.
func firstErrorLine(err error) string {
	msg := err.Error()
	if i := strings.IndexByte(msg, '\n'); i >= 0 {
		msg = msg[:i]
	}
	return msg
}

// ExportFilename is the download name for a project's export archive.
func ExportFilename(projectName string) string {
	return export.ArchiveName(projectName)
}

// RunExport downloads the project's export archive into w, then refreshes
// the project. Errors land in Err.
func (s *Store) RunExport(ctx context.Context, w io.Writer) {
	s.mu.Lock()
	if s.project == nil || s.exporting {
		s.mu.Unlock()
		return
	}
	projectID := s.project.ID
	s.exporting = true
	s.err = ""
	s.mu.Unlock()
	s.notify()

	n, err := s.backend.ExportProject(ctx, projectID, w)

	s.mu.Lock()
	s.exporting = false
	if err != nil {
		s.err = firstErrorLine(err)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.notice = "export complete"
	s.mu.Unlock()
	telemetry.ProjectExported(n)
	s.log.Info("export downloaded", slog.String("project_id", projectID), slog.Int64("bytes", n))
	s.FetchProject(ctx, projectID)
}

// AutoName derives a project name from an archive filename: basename,
// extension stripped, underscores become spaces. "chapter_1.zip" becomes
// "chapter 1".
func AutoName(filename string) string {
	base := filepath.Base(filename)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.ReplaceAll(base, "_", " ")
}

// ErrEmptyName is the message shown when an upload is submitted without a
// project name. No request is made in that case.
const ErrEmptyName = "Dê um nome ao projeto."

// Upload creates a project from an archive, reporting progress 0–100, and
// opens the created project on success. An empty name fails locally
// without any network call.
func (s *Store) Upload(ctx context.Context, req api.UploadRequest) {
	if strings.TrimSpace(req.Name) == "" {
		s.mu.Lock()
		s.err = ErrEmptyName
		s.mu.Unlock()
		s.notify()
		return
	}
	s.mu.Lock()
	if s.uploading {
		s.mu.Unlock()
		return
	}
	s.uploading = true
	s.uploadProgress = 0
	s.err = ""
	s.mu.Unlock()
	s.notify()

	req.Progress = func(pct int) {
		s.mu.Lock()
		s.uploadProgress = pct
		s.mu.Unlock()
		s.notify()
	}
	p, err := s.backend.CreateProject(ctx, req)

	s.mu.Lock()
	s.uploading = false
	if err != nil {
		s.err = firstErrorLine(err)
		s.mu.Unlock()
		s.notify()
		return
	}
	s.notice = fmt.Sprintf("project %q created", p.Name)
	s.mu.Unlock()
	telemetry.ChapterUploaded(len(p.Pages))
	s.SetProject(p)
}

// ClearError dismisses the error banner.
func (s *Store) ClearError() {
	s.mu.Lock()
	s.err = ""
	s.mu.Unlock()
	s.notify()
}

// ClearNotice dismisses the success banner.
func (s *Store) ClearNotice() {
	s.mu.Lock()
	s.notice = ""
	s.mu.Unlock()
	s.notify()
}

// Reset clears all state back to initial values, e.g. when closing the
// editor view.
func (s *Store) Reset() {
	s.poller.Cancel()
	s.mu.Lock()
	s.project = nil
	s.projects = nil
	s.activePageIndex = -1
	s.selectedBlockID = ""
	s.pipeline = nil
	s.uploading = false
	s.uploadProgress = 0
	s.processing = false
	s.exporting = false
	s.saving = false
	s.err = ""
	s.notice = ""
	s.fetchGen++
	s.mu.Unlock()
	s.notify()
}
