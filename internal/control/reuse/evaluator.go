// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package reuse decides whether a stored artifact can be served for a
// request or must be rebuilt, healing records that no longer match disk.
package reuse

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/metrics"
)

// Outcome explains a decision. Values double as metric labels.
type Outcome string

const (
	OutcomeHit      Outcome = metrics.LookupHit
	OutcomeMiss     Outcome = metrics.LookupMiss
	OutcomeStale    Outcome = metrics.LookupStale
	OutcomeMissing  Outcome = metrics.LookupMissing
	OutcomeNotReady Outcome = metrics.LookupPending
)

const errFileMissing = "artifact file missing"

// Request identifies what the caller wants to serve.
type Request struct {
	Slot     artifact.Slot
	CacheKey string

	// HoldsLock is set when the caller owns the slot's build lock, which
	// allows destructive cleanup of a stale record.
	HoldsLock bool
}

// Decision is the result of Evaluate. Record is set only when Reuse is true.
type Decision struct {
	Reuse   bool
	Record  *artifact.Record
	Outcome Outcome
}

// Evaluator implements the reuse rules against a record store and the
// cache filesystem.
type Evaluator struct {
	records artifact.RecordStore
	locks   artifact.LockChecker
	fs      control.FS
	clock   control.Clock
}

// New creates an Evaluator. A nil fs or clock uses the real ones.
func New(records artifact.RecordStore, locks artifact.LockChecker, fs control.FS, clock control.Clock) *Evaluator {
	if fs == nil {
		fs = control.RealFS{}
	}
	if clock == nil {
		clock = control.RealClock{}
	}
	return &Evaluator{records: records, locks: locks, fs: fs, clock: clock}
}

// Evaluate returns Reuse iff the slot's record is ready, its derived cache
// key equals req.CacheKey and its file exists. A record whose key differs
// is stale: its file and row are deleted before a rebuild. A ready record
// whose file vanished is corrected to failed.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (Decision, error) {
	d, err := e.evaluate(ctx, req)
	if err == nil {
		metrics.IncCacheLookup(string(d.Outcome))
	}
	return d, err
}

func (e *Evaluator) evaluate(ctx context.Context, req Request) (Decision, error) {
	rec, err := e.records.Get(ctx, req.Slot)
	if err != nil {
		return Decision{}, fmt.Errorf("reuse: load %s: %w", req.Slot, err)
	}
	if rec == nil {
		return Decision{Outcome: OutcomeMiss}, nil
	}

	logger := log.WithComponentFromContext(ctx, "reuse").With().
		Str(log.FieldCacheKey, req.CacheKey).
		Str("slot", req.Slot.String()).
		Logger()

	if rec.CacheKey() != req.CacheKey {
		if err := e.dropStale(ctx, req, *rec); err != nil {
			return Decision{}, err
		}
		logger.Info().Str("stale_key", rec.CacheKey()).Msg("stale artifact discarded")
		return Decision{Outcome: OutcomeStale}, nil
	}

	if rec.Status != artifact.StatusReady {
		return Decision{Outcome: OutcomeNotReady}, nil
	}

	present, err := e.present(rec.Path)
	if err != nil {
		return Decision{}, fmt.Errorf("reuse: stat %s: %w", rec.Path, err)
	}
	if !present {
		healed := *rec
		healed.Status = artifact.StatusFailed
		healed.Error = errFileMissing
		healed.SizeBytes = 0
		healed.UpdatedAt = e.clock.Now().UTC()
		if err := e.records.Put(ctx, healed); err != nil {
			return Decision{}, fmt.Errorf("reuse: heal %s: %w", req.Slot, err)
		}
		logger.Warn().Str(log.FieldPath, rec.Path).Msg("ready artifact missing on disk, marked failed")
		return Decision{Outcome: OutcomeMissing}, nil
	}

	return Decision{Reuse: true, Record: rec, Outcome: OutcomeHit}, nil
}

// dropStale deletes the file and then the row of a record that no longer
// matches its source. While another writer holds the slot nothing is
// deleted; the caller will fail to acquire the lock anyway.
func (e *Evaluator) dropStale(ctx context.Context, req Request, rec artifact.Record) error {
	if !req.HoldsLock && e.locks != nil {
		locked, err := e.locks.IsLocked(ctx, req.Slot.MediaFileID, req.Slot.Kind)
		if err != nil {
			return fmt.Errorf("reuse: lock state %s: %w", req.Slot, err)
		}
		if locked {
			return nil
		}
	}
	if rec.Path != "" {
		if err := e.fs.Remove(rec.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
			// Keep the row so the file is not orphaned.
			return fmt.Errorf("reuse: remove stale %s: %w", rec.Path, err)
		}
	}
	if err := e.records.Delete(ctx, req.Slot); err != nil {
		return fmt.Errorf("reuse: delete stale %s: %w", req.Slot, err)
	}
	metrics.IncEviction("stale", rec.SizeBytes)
	return nil
}

func (e *Evaluator) present(path string) (bool, error) {
	if path == "" {
		return false, nil
	}
	info, err := e.fs.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return info.Mode().IsRegular(), nil
}
