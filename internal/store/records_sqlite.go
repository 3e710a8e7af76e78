// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/persistence/sqlite"
)

const recordsSchemaVersion = 1

const recordsSchema = `
CREATE TABLE IF NOT EXISTS artifacts (
	media_file_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	audio_track_index INTEGER NOT NULL DEFAULT 0,
	fp_size INTEGER NOT NULL,
	fp_head TEXT NOT NULL,
	fp_tail TEXT NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('pending', 'building', 'ready', 'failed')),
	path TEXT NOT NULL DEFAULT '',
	size_bytes INTEGER NOT NULL DEFAULT 0,
	error TEXT NOT NULL DEFAULT '',
	created_at_ms INTEGER NOT NULL,
	last_accessed_at_ms INTEGER,
	updated_at_ms INTEGER NOT NULL,
	format_version INTEGER NOT NULL,
	PRIMARY KEY (media_file_id, kind, audio_track_index)
);
CREATE INDEX IF NOT EXISTS idx_artifacts_lru ON artifacts(status, COALESCE(last_accessed_at_ms, created_at_ms));
`

const recordColumns = `media_file_id, kind, audio_track_index, fp_size, fp_head, fp_tail, status, path,
	size_bytes, error, created_at_ms, last_accessed_at_ms, updated_at_ms, format_version`

// SQLiteRecords implements artifact.RecordStore using SQLite.
type SQLiteRecords struct {
	DB *sql.DB
}

// NewSQLiteRecords opens (and migrates) the artifact table at dbPath.
func NewSQLiteRecords(dbPath string) (*SQLiteRecords, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, recordsSchemaVersion, recordsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("record store: migration failed: %w", err)
	}
	return &SQLiteRecords{DB: db}, nil
}

// Ping runs a quick integrity check on the open pool.
func (s *SQLiteRecords) Ping(ctx context.Context) error {
	return sqlite.Check(ctx, s.DB)
}

func (s *SQLiteRecords) Get(ctx context.Context, slot artifact.Slot) (*artifact.Record, error) {
	row := s.DB.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM artifacts WHERE media_file_id = ? AND kind = ? AND audio_track_index = ?`,
		slot.MediaFileID, slot.Kind, slot.AudioTrackIndex)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteRecords) Put(ctx context.Context, rec artifact.Record) error {
	query := `
	INSERT INTO artifacts (` + recordColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(media_file_id, kind, audio_track_index) DO UPDATE SET
		fp_size = excluded.fp_size,
		fp_head = excluded.fp_head,
		fp_tail = excluded.fp_tail,
		status = excluded.status,
		path = excluded.path,
		size_bytes = excluded.size_bytes,
		error = excluded.error,
		created_at_ms = excluded.created_at_ms,
		last_accessed_at_ms = excluded.last_accessed_at_ms,
		updated_at_ms = excluded.updated_at_ms,
		format_version = excluded.format_version
	`
	_, err := s.DB.ExecContext(ctx, query,
		rec.MediaFileID, rec.Kind, rec.AudioTrackIndex,
		rec.Fingerprint.Size, rec.Fingerprint.HeadHash, rec.Fingerprint.TailHash,
		string(rec.Status), rec.Path, rec.SizeBytes, rec.Error,
		toMillis(rec.CreatedAt), nullMillis(rec.LastAccessedAt), toMillis(rec.UpdatedAt),
		rec.FormatVersion,
	)
	return err
}

func (s *SQLiteRecords) Touch(ctx context.Context, slot artifact.Slot, at time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE artifacts SET last_accessed_at_ms = ? WHERE media_file_id = ? AND kind = ? AND audio_track_index = ?`,
		toMillis(at), slot.MediaFileID, slot.Kind, slot.AudioTrackIndex)
	return err
}

func (s *SQLiteRecords) Delete(ctx context.Context, slot artifact.Slot) error {
	_, err := s.DB.ExecContext(ctx,
		`DELETE FROM artifacts WHERE media_file_id = ? AND kind = ? AND audio_track_index = ?`,
		slot.MediaFileID, slot.Kind, slot.AudioTrackIndex)
	return err
}

func (s *SQLiteRecords) DeleteIdle(ctx context.Context, rec artifact.Record, cutoff time.Time) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`DELETE FROM artifacts
		WHERE media_file_id = ? AND kind = ? AND audio_track_index = ?
		AND status = ? AND path = ? AND fp_size = ? AND fp_head = ? AND fp_tail = ? AND format_version = ?
		AND COALESCE(last_accessed_at_ms, created_at_ms) < ?`,
		rec.MediaFileID, rec.Kind, rec.AudioTrackIndex,
		string(rec.Status), rec.Path, rec.Fingerprint.Size, rec.Fingerprint.HeadHash, rec.Fingerprint.TailHash, rec.FormatVersion,
		toMillis(cutoff))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteRecords) Find(ctx context.Context, mediaFileID int64, kind string) ([]artifact.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM artifacts WHERE media_file_id = ? AND kind = ? ORDER BY audio_track_index`,
		mediaFileID, kind)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *SQLiteRecords) List(ctx context.Context) ([]artifact.Record, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM artifacts ORDER BY media_file_id, kind, audio_track_index`)
	if err != nil {
		return nil, err
	}
	return collectRecords(rows)
}

func (s *SQLiteRecords) Close() error {
	return s.DB.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (artifact.Record, error) {
	var (
		rec                  artifact.Record
		status               string
		createdMs, updatedMs int64
		lastAccessedMs       sql.NullInt64
	)
	err := row.Scan(
		&rec.MediaFileID, &rec.Kind, &rec.AudioTrackIndex,
		&rec.Fingerprint.Size, &rec.Fingerprint.HeadHash, &rec.Fingerprint.TailHash,
		&status, &rec.Path, &rec.SizeBytes, &rec.Error,
		&createdMs, &lastAccessedMs, &updatedMs, &rec.FormatVersion,
	)
	if err != nil {
		return artifact.Record{}, err
	}
	rec.Status = artifact.Status(status)
	rec.CreatedAt = fromMillis(createdMs)
	rec.UpdatedAt = fromMillis(updatedMs)
	if lastAccessedMs.Valid {
		rec.LastAccessedAt = fromMillis(lastAccessedMs.Int64)
	}
	return rec, nil
}

func collectRecords(rows *sql.Rows) ([]artifact.Record, error) {
	defer func() { _ = rows.Close() }()
	var out []artifact.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
