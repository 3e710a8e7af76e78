// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/persistence/sqlite"
)

const locksSchemaVersion = 1

const locksSchema = `
CREATE TABLE IF NOT EXISTS build_locks (
	lock_key TEXT PRIMARY KEY,
	media_file_id INTEGER NOT NULL,
	kind TEXT NOT NULL,
	pid INTEGER NOT NULL,
	worker_pid INTEGER NOT NULL DEFAULT 0,
	instance TEXT NOT NULL,
	host TEXT NOT NULL DEFAULT '',
	acquired_at_ms INTEGER NOT NULL
);
`

const lockColumns = `lock_key, media_file_id, kind, pid, worker_pid, instance, host, acquired_at_ms`

// SQLiteLocks implements artifact.LockStore using SQLite. The primary key
// on lock_key makes Insert an atomic test-and-set across processes.
type SQLiteLocks struct {
	DB *sql.DB
}

// NewSQLiteLocks opens (and migrates) the lock table at dbPath.
func NewSQLiteLocks(dbPath string) (*SQLiteLocks, error) {
	db, err := sqlite.Open(dbPath, sqlite.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if err := sqlite.Migrate(context.Background(), db, locksSchemaVersion, locksSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("lock store: migration failed: %w", err)
	}
	return &SQLiteLocks{DB: db}, nil
}

// Ping runs a quick integrity check on the open pool.
func (s *SQLiteLocks) Ping(ctx context.Context) error {
	return sqlite.Check(ctx, s.DB)
}

func (s *SQLiteLocks) Insert(ctx context.Context, rec artifact.LockRecord) (bool, error) {
	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO build_locks (`+lockColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(lock_key) DO NOTHING`,
		rec.Key, rec.MediaFileID, rec.Kind, rec.PID, rec.WorkerPID, rec.Instance, rec.Host, toMillis(rec.AcquiredAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteLocks) Get(ctx context.Context, key string) (*artifact.LockRecord, error) {
	row := s.DB.QueryRowContext(ctx, `SELECT `+lockColumns+` FROM build_locks WHERE lock_key = ?`, key)
	rec, err := scanLock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *SQLiteLocks) SetWorkerPID(ctx context.Context, key, instance string, pid int) error {
	res, err := s.DB.ExecContext(ctx,
		`UPDATE build_locks SET worker_pid = ? WHERE lock_key = ? AND instance = ?`, pid, key, instance)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLockNotOwned
	}
	return nil
}

func (s *SQLiteLocks) DeleteOwned(ctx context.Context, key, instance string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM build_locks WHERE lock_key = ? AND instance = ?`, key, instance)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteLocks) Delete(ctx context.Context, key string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM build_locks WHERE lock_key = ?`, key)
	return err
}

func (s *SQLiteLocks) List(ctx context.Context) ([]artifact.LockRecord, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+lockColumns+` FROM build_locks ORDER BY lock_key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []artifact.LockRecord
	for rows.Next() {
		rec, err := scanLock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteLocks) Close() error {
	return s.DB.Close()
}

func scanLock(row rowScanner) (artifact.LockRecord, error) {
	var (
		rec        artifact.LockRecord
		acquiredMs int64
	)
	if err := row.Scan(&rec.Key, &rec.MediaFileID, &rec.Kind, &rec.PID, &rec.WorkerPID,
		&rec.Instance, &rec.Host, &acquiredMs); err != nil {
		return artifact.LockRecord{}, err
	}
	rec.AcquiredAt = fromMillis(acquiredMs)
	return rec, nil
}
