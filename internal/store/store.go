// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package store holds the durable artifact record and build lock stores.
// SQLite is the default single durable truth; memory stores serve tests and
// ephemeral runs; badger (records) and redis (locks) are optional backends.
package store

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

const (
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
	BackendBadger = "badger"
	BackendRedis  = "redis"

	recordsDBName = "artifacts.sqlite"
	locksDBName   = "locks.sqlite"
	badgerDirName = "artifacts.badger"
)

// NewRecordStore creates a record store for the backend. An empty backend
// means sqlite; sqlite without a directory degrades to memory.
func NewRecordStore(backend, dir string) (artifact.RecordStore, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendSQLite:
		if dir == "" {
			return NewMemoryRecords(), nil
		}
		s, err := NewSQLiteRecords(filepath.Join(dir, recordsDBName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryRecords(), nil
	case BackendBadger:
		if dir == "" {
			return nil, fmt.Errorf("badger record store requires a data directory")
		}
		s, err := NewBadgerRecords(filepath.Join(dir, badgerDirName))
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown record store backend: %s (supported: sqlite, memory, badger)", backend)
	}
}

// NewLockStore creates a lock store for the backend. Locks must outlive the
// process, so memory is only acceptable for tests and single-shot CLI runs.
func NewLockStore(backend, dir string, redisCfg RedisConfig) (artifact.LockStore, error) {
	if backend == "" {
		backend = BackendSQLite
	}
	switch backend {
	case BackendSQLite:
		if dir == "" {
			return NewMemoryLocks(), nil
		}
		s, err := NewSQLiteLocks(filepath.Join(dir, locksDBName))
		if err != nil {
			return nil, err
		}
		return s, nil
	case BackendMemory:
		return NewMemoryLocks(), nil
	case BackendRedis:
		s, err := NewRedisLocks(redisCfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown lock store backend: %s (supported: sqlite, memory, redis)", backend)
	}
}

// SQLiteFiles lists the database files the sqlite backends keep under dir.
func SQLiteFiles(dir, recordBackend, lockBackend string) []string {
	if dir == "" {
		return nil
	}
	var files []string
	if recordBackend == "" || recordBackend == BackendSQLite {
		files = append(files, filepath.Join(dir, recordsDBName))
	}
	if lockBackend == "" || lockBackend == BackendSQLite {
		files = append(files, filepath.Join(dir, locksDBName))
	}
	return files
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Ping reports whether the store behind s is reachable. Stores without a
// native ping are probed with a cheap read.
func Ping(ctx context.Context, s any) error {
	switch v := s.(type) {
	case pinger:
		return v.Ping(ctx)
	case artifact.RecordStore:
		_, err := v.Find(ctx, 0, "")
		return err
	case artifact.LockStore:
		_, err := v.Get(ctx, "health")
		return err
	default:
		return fmt.Errorf("store: unsupported type %T", s)
	}
}
