/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

// Package journal keeps a local SQLite record of block edits made in the
// editor. Edits are applied to in-memory state immediately; the journal is
// what survives a crash and what an explicit save flushes to the server.
// It also tracks the recently opened projects list.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"kagescan/internal/domain"
	applog "kagescan/internal/log"
	"kagescan/internal/version"

	// Pure-Go SQLite driver (CGO-free)
	_ "modernc.org/sqlite"
)

const (
	FileName = "journal.sqlite"

	// schemaVersion tracks the local SQLite schema. Bump on breaking
	// changes and add a migration step.
	schemaVersion = 1
)

// Edit is one journaled block mutation, oldest first.
type Edit struct {
	ID        int64
	ProjectID string
	BlockID   string
	Patch     domain.BlockPatch
	CreatedAt time.Time
}

// Recent is one entry of the recently opened projects list.
type Recent struct {
	ProjectID string
	Name      string
	OpenedAt  time.Time
}

// BlockPatcher flushes one journaled edit to the server.
type BlockPatcher interface {
	UpdateTextBlock(ctx context.Context, projectID, blockID string, patch domain.BlockPatch) (*domain.TextBlock, error)
}

// Journal is safe for use from multiple goroutines; the underlying pool is
// capped at one connection.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// Path returns the journal database location under a data directory.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Open creates or opens the journal database under dataDir, enables WAL
// mode, and ensures the schema is current.
func Open(dataDir string) (*Journal, error) {
	l := applog.WithOperation(applog.WithComponent("journal"), "open").With(
		slog.String("dir", dataDir),
	)
	if strings.TrimSpace(dataDir) == "" {
		return nil, errors.New("data dir is required")
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		l.Error("create data dir failed", slog.Any("err", err))
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	path := Path(dataDir)
	dsn := fmt.Sprintf("file:%s?cache=shared&_pragma=busy_timeout(5000)", filepath.ToSlash(path))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		l.Error("sqlite open failed", slog.Any("err", err))
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		l.Error("enable WAL failed", slog.Any("err", err))
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if err := ensureSchema(ctx, db); err != nil {
		_ = db.Close()
		l.Error("ensure schema failed", slog.Any("err", err))
		return nil, err
	}

	l.Info("journal ready", slog.String("path", path))
	return &Journal{db: db, log: applog.WithComponent("journal")}, nil
}

func (j *Journal) Close() error {
	return j.db.Close()
}

func ensureSchema(ctx context.Context, db *sql.DB) error {
	ddl := []string{
		`CREATE TABLE IF NOT EXISTS version (
			id          INTEGER PRIMARY KEY CHECK(id=1),
			schema      INTEGER NOT NULL,
			app         TEXT,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS edits (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			project_id  TEXT NOT NULL,
			block_id    TEXT NOT NULL,
			patch       TEXT NOT NULL,
			created_at  TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_edits_project ON edits(project_id);`,
		`CREATE TABLE IF NOT EXISTS recents (
			project_id  TEXT PRIMARY KEY,
			name        TEXT NOT NULL,
			opened_at   TEXT NOT NULL
		);`,
	}
	for _, q := range ddl {
		if _, err := db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	now := time.Now().UTC().Format(time.RFC3339)
	appv := version.String()
	var cur int
	err := db.QueryRowContext(ctx, `SELECT schema FROM version WHERE id=1`).Scan(&cur)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := db.ExecContext(ctx, `INSERT INTO version (id, schema, app, created_at, updated_at) VALUES(1, ?, ?, ?, ?)`, schemaVersion, appv, now, now); err != nil {
			return fmt.Errorf("insert version: %w", err)
		}
	case err != nil:
		return fmt.Errorf("read version: %w", err)
	default:
		if _, err := db.ExecContext(ctx, `UPDATE version SET app=?, updated_at=? WHERE id=1`, appv, now); err != nil {
			return fmt.Errorf("update version: %w", err)
		}
	}
	return nil
}

// RecordEdit appends one block mutation. Satisfies the store's
// EditRecorder hook.
func (j *Journal) RecordEdit(projectID, blockID string, patch domain.BlockPatch) error {
	blob, err := json.Marshal(patch)
	if err != nil {
		return fmt.Errorf("marshal patch: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err = j.db.Exec(`INSERT INTO edits (project_id, block_id, patch, created_at) VALUES(?, ?, ?, ?)`,
		projectID, blockID, string(blob), now)
	if err != nil {
		return fmt.Errorf("insert edit: %w", err)
	}
	return nil
}

// PendingEdits returns the journaled edits for a project, oldest first.
func (j *Journal) PendingEdits(ctx context.Context, projectID string) ([]Edit, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, project_id, block_id, patch, created_at FROM edits WHERE project_id=? ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query edits: %w", err)
	}
	defer rows.Close()

	var edits []Edit
	for rows.Next() {
		var (
			e       Edit
			blob    string
			created string
		)
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.BlockID, &blob, &created); err != nil {
			return nil, fmt.Errorf("scan edit: %w", err)
		}
		if err := json.Unmarshal([]byte(blob), &e.Patch); err != nil {
			return nil, fmt.Errorf("decode patch %d: %w", e.ID, err)
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			e.CreatedAt = ts
		}
		edits = append(edits, e)
	}
	return edits, rows.Err()
}

// Flush pushes every pending edit for a project to the server in journal
// order and deletes the flushed rows. A PATCH failure stops the flush and
// keeps the failed edit and everything after it.
func (j *Journal) Flush(ctx context.Context, projectID string, patcher BlockPatcher) (int, error) {
	edits, err := j.PendingEdits(ctx, projectID)
	if err != nil {
		return 0, err
	}
	flushed := 0
	for _, e := range edits {
		if _, err := patcher.UpdateTextBlock(ctx, e.ProjectID, e.BlockID, e.Patch); err != nil {
			j.log.Warn("flush stopped", slog.String("project_id", projectID), slog.Int64("edit_id", e.ID), slog.Any("err", err))
			return flushed, fmt.Errorf("flush edit %d: %w", e.ID, err)
		}
		if _, err := j.db.ExecContext(ctx, `DELETE FROM edits WHERE id=?`, e.ID); err != nil {
			return flushed, fmt.Errorf("delete flushed edit %d: %w", e.ID, err)
		}
		flushed++
	}
	return flushed, nil
}

// DiscardEdits drops all pending edits for a project, e.g. after a full
// refetch made them stale.
func (j *Journal) DiscardEdits(ctx context.Context, projectID string) error {
	_, err := j.db.ExecContext(ctx, `DELETE FROM edits WHERE project_id=?`, projectID)
	return err
}

// TouchRecent records that a project was opened now.
func (j *Journal) TouchRecent(projectID, name string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := j.db.Exec(`INSERT INTO recents (project_id, name, opened_at) VALUES(?, ?, ?)
		ON CONFLICT(project_id) DO UPDATE SET name=excluded.name, opened_at=excluded.opened_at`,
		projectID, name, now)
	return err
}

// Recents lists recently opened projects, newest first.
func (j *Journal) Recents(ctx context.Context, limit int) ([]Recent, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT project_id, name, opened_at FROM recents ORDER BY opened_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recents: %w", err)
	}
	defer rows.Close()

	var out []Recent
	for rows.Next() {
		var (
			r      Recent
			opened string
		)
		if err := rows.Scan(&r.ProjectID, &r.Name, &opened); err != nil {
			return nil, fmt.Errorf("scan recent: %w", err)
		}
		if ts, err := time.Parse(time.RFC3339, opened); err == nil {
			r.OpenedAt = ts
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
