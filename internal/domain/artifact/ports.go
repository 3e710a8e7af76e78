// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"context"
	"time"
)

// RecordStore persists artifact records. Get returns (nil, nil) when the
// slot has no record.
type RecordStore interface {
	Get(ctx context.Context, slot Slot) (*Record, error)
	// Put inserts or replaces the record for rec.Slot().
	Put(ctx context.Context, rec Record) error
	// Touch bumps LastAccessedAt. Missing slots are not an error.
	Touch(ctx context.Context, slot Slot, at time.Time) error
	Delete(ctx context.Context, slot Slot) error
	// DeleteIdle removes the row for rec.Slot() only while it still holds
	// the same artifact as rec and was last used before cutoff. It reports
	// whether a row was removed.
	DeleteIdle(ctx context.Context, rec Record, cutoff time.Time) (bool, error)
	// Find returns all records of (mediaFileID, kind), across audio tracks.
	Find(ctx context.Context, mediaFileID int64, kind string) ([]Record, error)
	List(ctx context.Context) ([]Record, error)
	Close() error
}

// LockStore persists the durable half of build locks. It must survive a
// restart of the process that wrote it.
type LockStore interface {
	// Insert stores rec iff no lock exists for rec.Key. It reports whether
	// the row was written.
	Insert(ctx context.Context, rec LockRecord) (bool, error)
	Get(ctx context.Context, key string) (*LockRecord, error)
	// SetWorkerPID records the backend worker PID on a lock owned by instance.
	SetWorkerPID(ctx context.Context, key, instance string, pid int) error
	// DeleteOwned removes the lock only if instance still owns it.
	DeleteOwned(ctx context.Context, key, instance string) (bool, error)
	// Delete removes the lock unconditionally (reclaim, forced cancel).
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) ([]LockRecord, error)
	Close() error
}

// LockChecker is the read-only view of the lock state used by the reuse
// evaluator and the eviction manager.
type LockChecker interface {
	IsLocked(ctx context.Context, mediaFileID int64, kind string) (bool, error)
}
