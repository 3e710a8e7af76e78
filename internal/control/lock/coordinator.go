// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package lock implements the single-writer build lock. A lock has two
// halves: a persisted row (owner PID, worker PID, instance) that survives
// restarts, and an in-memory cancellation handle that exists only in the
// process running the build.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/metrics"
	"github.com/ManuGH/artifactd/internal/procgroup"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

var (
	// ErrOwnerAlive is returned by Cancel when the owner of a persisted lock
	// could not be terminated and the lock is too young to force.
	ErrOwnerAlive = errors.New("lock owner still alive")
)

// Killer terminates and probes worker processes.
type Killer interface {
	KillGroup(pid int, grace, timeout time.Duration) error
	Alive(pid int) bool
}

// ProcKiller is the Killer backed by procgroup.
type ProcKiller struct{}

func (ProcKiller) KillGroup(pid int, grace, timeout time.Duration) error {
	return procgroup.KillGroup(pid, grace, timeout)
}

func (ProcKiller) Alive(pid int) bool { return procgroup.Alive(pid) }

// Config wires a Coordinator.
type Config struct {
	Locks   artifact.LockStore
	Records artifact.RecordStore
	FS      control.FS
	Clock   control.Clock
	Killer  Killer

	// Identity of this process. Zero values are filled from the OS and a
	// fresh UUID; the UUID tells a restarted process with a recycled PID
	// apart from its previous incarnation.
	PID      int
	Host     string
	Instance string

	KillGrace   time.Duration
	KillTimeout time.Duration

	// ForceUnlockAfter is the lock age after which a lock whose owner cannot
	// be terminated (or lives on another host) is released anyway.
	// Zero disables forcing.
	ForceUnlockAfter time.Duration
}

type handle struct {
	cancel   context.CancelFunc
	done     <-chan struct{}
	canceled bool
}

// Coordinator grants and revokes build locks.
type Coordinator struct {
	locks   artifact.LockStore
	records artifact.RecordStore
	fs      control.FS
	clock   control.Clock
	killer  Killer

	pid      int
	host     string
	instance string

	killGrace        time.Duration
	killTimeout      time.Duration
	forceUnlockAfter time.Duration

	mu      sync.Mutex
	handles map[string]*handle
	logger  zerolog.Logger
}

// New creates a Coordinator. Locks and Records are required.
func New(cfg Config) *Coordinator {
	if cfg.FS == nil {
		cfg.FS = control.RealFS{}
	}
	if cfg.Clock == nil {
		cfg.Clock = control.RealClock{}
	}
	if cfg.Killer == nil {
		cfg.Killer = ProcKiller{}
	}
	if cfg.PID == 0 {
		cfg.PID = os.Getpid()
	}
	if cfg.Host == "" {
		cfg.Host, _ = os.Hostname()
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}
	if cfg.KillGrace <= 0 {
		cfg.KillGrace = 5 * time.Second
	}
	if cfg.KillTimeout <= 0 {
		cfg.KillTimeout = 5 * time.Second
	}
	return &Coordinator{
		locks:            cfg.Locks,
		records:          cfg.Records,
		fs:               cfg.FS,
		clock:            cfg.Clock,
		killer:           cfg.Killer,
		pid:              cfg.PID,
		host:             cfg.Host,
		instance:         cfg.Instance,
		killGrace:        cfg.KillGrace,
		killTimeout:      cfg.KillTimeout,
		forceUnlockAfter: cfg.ForceUnlockAfter,
		handles:          make(map[string]*handle),
		logger:           log.WithComponent("lock"),
	}
}

// Instance returns the identity this coordinator writes into its locks.
func (c *Coordinator) Instance() string { return c.instance }

// TryAcquire records a lock for (mediaFileID, kind) iff none exists. A
// persisted lock left behind by a dead owner, or by a previous incarnation
// of this process, is reclaimed first.
func (c *Coordinator) TryAcquire(ctx context.Context, mediaFileID int64, kind string) (bool, error) {
	key := artifact.LockKey(mediaFileID, kind)
	rec := artifact.LockRecord{
		Key:         key,
		MediaFileID: mediaFileID,
		Kind:        kind,
		PID:         c.pid,
		Instance:    c.instance,
		Host:        c.host,
		AcquiredAt:  c.clock.Now().UTC(),
	}

	ok, err := c.locks.Insert(ctx, rec)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", key, err)
	}
	if !ok {
		ok, err = c.tryReclaim(ctx, rec)
		if err != nil {
			return false, err
		}
	}
	if !ok {
		metrics.IncLockContention(kind)
		c.logger.Debug().Str(log.FieldLockKey, key).Msg("lock busy")
		return false, nil
	}

	c.mu.Lock()
	c.handles[key] = &handle{}
	c.mu.Unlock()

	c.logger.Debug().Str(log.FieldLockKey, key).Msg("lock acquired")
	return true, nil
}

func (c *Coordinator) tryReclaim(ctx context.Context, want artifact.LockRecord) (bool, error) {
	existing, err := c.locks.Get(ctx, want.Key)
	if err != nil {
		return false, fmt.Errorf("acquire %s: %w", want.Key, err)
	}
	if existing == nil {
		// Released between insert and read.
		return c.locks.Insert(ctx, want)
	}

	reason := c.reclaimReason(*existing)
	if reason == "" {
		return false, nil
	}

	if existing.WorkerPID > 0 && existing.WorkerPID != c.pid && c.killer.Alive(existing.WorkerPID) {
		if err := c.killer.KillGroup(existing.WorkerPID, c.killGrace, c.killTimeout); err != nil {
			c.logger.Warn().Err(err).Str(log.FieldLockKey, want.Key).Int(log.FieldWorkerPID, existing.WorkerPID).
				Msg("orphaned worker survived termination, lock kept")
			return false, nil
		}
	}

	// Conditional on the stale instance: a concurrent reclaimer that already
	// replaced the row makes this a no-op.
	removed, err := c.locks.DeleteOwned(ctx, want.Key, existing.Instance)
	if err != nil {
		return false, fmt.Errorf("reclaim %s: %w", want.Key, err)
	}
	if !removed {
		return false, nil
	}
	metrics.IncLockReclaimed(reason)
	c.logger.Warn().
		Str(log.FieldLockKey, want.Key).
		Int(log.FieldPID, existing.PID).
		Str(log.FieldInstance, existing.Instance).
		Str(log.FieldReason, reason).
		Msg("reclaimed stale lock")

	if err := c.failInFlight(ctx, existing.MediaFileID, existing.Kind, "build abandoned by "+reason); err != nil {
		c.logger.Warn().Err(err).Str(log.FieldLockKey, want.Key).Msg("failed to mark abandoned records")
	}
	return c.locks.Insert(ctx, want)
}

// reclaimReason reports why a persisted lock may be taken over, or "".
func (c *Coordinator) reclaimReason(l artifact.LockRecord) string {
	if l.Instance == c.instance {
		return ""
	}
	if c.sameHost(l) {
		if l.PID == c.pid {
			return "previous_instance"
		}
		if !c.killer.Alive(l.PID) {
			return "dead_owner"
		}
		return ""
	}
	if c.expired(l) {
		return "forced"
	}
	return ""
}

func (c *Coordinator) sameHost(l artifact.LockRecord) bool {
	return l.Host == "" || l.Host == c.host
}

func (c *Coordinator) expired(l artifact.LockRecord) bool {
	return c.forceUnlockAfter > 0 && c.clock.Now().Sub(l.AcquiredAt) > c.forceUnlockAfter
}

// Register attaches the in-memory cancellation handle of a running build.
// done must be closed once the build has finished its cleanup. If Cancel
// arrived before Register, cancel is invoked immediately.
func (c *Coordinator) Register(mediaFileID int64, kind string, cancel context.CancelFunc, done <-chan struct{}) {
	key := artifact.LockKey(mediaFileID, kind)
	c.mu.Lock()
	h, ok := c.handles[key]
	if !ok {
		h = &handle{}
		c.handles[key] = h
	}
	h.cancel = cancel
	h.done = done
	early := h.canceled
	c.mu.Unlock()

	if early {
		cancel()
	}
}

// SetWorkerPID persists the PID of the external worker of a build we own.
func (c *Coordinator) SetWorkerPID(ctx context.Context, mediaFileID int64, kind string, pid int) error {
	return c.locks.SetWorkerPID(ctx, artifact.LockKey(mediaFileID, kind), c.instance, pid)
}

// Release drops a lock owned by this coordinator. Releasing an unlocked
// key is a no-op.
func (c *Coordinator) Release(ctx context.Context, mediaFileID int64, kind string) error {
	key := artifact.LockKey(mediaFileID, kind)
	c.mu.Lock()
	delete(c.handles, key)
	c.mu.Unlock()

	removed, err := c.locks.DeleteOwned(ctx, key, c.instance)
	if err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	if removed {
		c.logger.Debug().Str(log.FieldLockKey, key).Msg("lock released")
	}
	return nil
}

// IsLocked reports whether a lock is recorded for (mediaFileID, kind).
func (c *Coordinator) IsLocked(ctx context.Context, mediaFileID int64, kind string) (bool, error) {
	rec, err := c.locks.Get(ctx, artifact.LockKey(mediaFileID, kind))
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Cancel stops the build holding (mediaFileID, kind). A build running in
// this process is canceled through its handle and cleans up after itself.
// Holders that have not registered their handle yet are marked; Register
// then cancels them immediately, so Cancel returns without waiting.
// Otherwise the persisted owner is terminated by PID, in-flight records
// are marked failed, partial files removed and the lock deleted.
func (c *Coordinator) Cancel(ctx context.Context, mediaFileID int64, kind string) error {
	key := artifact.LockKey(mediaFileID, kind)
	logger := c.logger.With().Str(log.FieldLockKey, key).Logger()

	var (
		cancel context.CancelFunc
		done   <-chan struct{}
	)
	c.mu.Lock()
	h, ok := c.handles[key]
	if ok {
		if h.cancel == nil {
			h.canceled = true
		}
		cancel, done = h.cancel, h.done
	}
	c.mu.Unlock()

	if ok {
		if cancel == nil {
			logger.Info().Msg("cancel requested before build start")
			return nil
		}
		logger.Info().Msg("canceling in-process build")
		cancel()
		if done == nil {
			return nil
		}
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	rec, err := c.locks.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	if rec == nil {
		return nil
	}
	if err := c.terminateOwner(*rec, logger); err != nil {
		return err
	}

	cleanupCtx := context.WithoutCancel(ctx)
	if err := c.failInFlight(cleanupCtx, mediaFileID, kind, "canceled"); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	if _, err := c.locks.DeleteOwned(cleanupCtx, key, rec.Instance); err != nil {
		return fmt.Errorf("cancel %s: %w", key, err)
	}
	logger.Info().Int(log.FieldPID, rec.TerminationTarget()).Msg("canceled build of another process")
	return nil
}

// terminateOwner kills the worker (or owner) of a lock held elsewhere.
// Locks that cannot be enforced are forced once older than ForceUnlockAfter.
func (c *Coordinator) terminateOwner(rec artifact.LockRecord, logger zerolog.Logger) error {
	target := rec.TerminationTarget()
	if !c.sameHost(rec) {
		if c.expired(rec) {
			metrics.IncLockReclaimed("forced")
			logger.Warn().Str("host", rec.Host).Msg("forcing unlock of expired remote lock")
			return nil
		}
		return fmt.Errorf("%w: %s held by host %s", ErrOwnerAlive, rec.Key, rec.Host)
	}
	// Our own PID on a foreign instance is a previous incarnation: gone.
	if target == c.pid || !c.killer.Alive(target) {
		return nil
	}

	err := c.killer.KillGroup(target, c.killGrace, c.killTimeout)
	if err == nil || !c.killer.Alive(target) {
		return nil
	}
	if c.expired(rec) {
		metrics.IncLockReclaimed("forced")
		logger.Warn().Err(err).Int(log.FieldPID, target).Msg("owner survived termination, forcing unlock of expired lock")
		return nil
	}
	return fmt.Errorf("%w: pid %d: %v", ErrOwnerAlive, target, err)
}

// failInFlight marks pending/building records of the slot failed and
// removes their partial output.
func (c *Coordinator) failInFlight(ctx context.Context, mediaFileID int64, kind, reason string) error {
	recs, err := c.records.Find(ctx, mediaFileID, kind)
	if err != nil {
		return err
	}
	var errs []error
	for _, rec := range recs {
		if rec.Status != artifact.StatusPending && rec.Status != artifact.StatusBuilding {
			continue
		}
		c.removePartial(rec.Path)
		rec.Status = artifact.StatusFailed
		rec.Error = reason
		rec.SizeBytes = 0
		rec.UpdatedAt = c.clock.Now().UTC()
		if err := c.records.Put(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *Coordinator) removePartial(path string) {
	if path == "" {
		return
	}
	for _, p := range []string{path, path + artifact.PartialSuffix} {
		if err := c.fs.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn().Err(err).Str(log.FieldPath, p).Msg("failed to remove partial output")
		}
	}
}

// RecoveryReport summarizes a startup recovery pass.
type RecoveryReport struct {
	LocksReclaimed int
	RecordsFailed  int
	LocksKept      int
}

// Recover cleans up after a crash: persisted locks whose owner is gone are
// removed (killing orphaned workers), and records stuck in pending or
// building without a lock are marked failed.
func (c *Coordinator) Recover(ctx context.Context) (RecoveryReport, error) {
	var rep RecoveryReport
	locks, err := c.locks.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("recover: list locks: %w", err)
	}

	held := make(map[string]struct{}, len(locks))
	for _, l := range locks {
		reason := c.reclaimReason(l)
		if reason == "" {
			held[l.Key] = struct{}{}
			rep.LocksKept++
			continue
		}
		if l.WorkerPID > 0 && l.WorkerPID != c.pid && c.killer.Alive(l.WorkerPID) {
			if err := c.killer.KillGroup(l.WorkerPID, c.killGrace, c.killTimeout); err != nil {
				c.logger.Warn().Err(err).Str(log.FieldLockKey, l.Key).Int(log.FieldWorkerPID, l.WorkerPID).
					Msg("orphaned worker survived termination, lock kept")
				held[l.Key] = struct{}{}
				rep.LocksKept++
				continue
			}
		}
		if _, err := c.locks.DeleteOwned(ctx, l.Key, l.Instance); err != nil {
			return rep, fmt.Errorf("recover: delete %s: %w", l.Key, err)
		}
		metrics.IncLockReclaimed(reason)
		rep.LocksReclaimed++
		c.logger.Info().Str(log.FieldLockKey, l.Key).Str(log.FieldReason, reason).Msg("recovered stale lock")
	}

	recs, err := c.records.List(ctx)
	if err != nil {
		return rep, fmt.Errorf("recover: list records: %w", err)
	}
	for _, rec := range recs {
		if rec.Status != artifact.StatusPending && rec.Status != artifact.StatusBuilding {
			continue
		}
		if _, locked := held[rec.Slot().LockKey()]; locked {
			continue
		}
		c.removePartial(rec.Path)
		rec.Status = artifact.StatusFailed
		rec.Error = "interrupted by restart"
		rec.SizeBytes = 0
		rec.UpdatedAt = c.clock.Now().UTC()
		if err := c.records.Put(ctx, rec); err != nil {
			return rep, fmt.Errorf("recover: %s: %w", rec.Slot(), err)
		}
		rep.RecordsFailed++
	}

	if rep.LocksReclaimed > 0 || rep.RecordsFailed > 0 {
		c.logger.Info().
			Int("locks_reclaimed", rep.LocksReclaimed).
			Int("records_failed", rep.RecordsFailed).
			Int("locks_kept", rep.LocksKept).
			Msg("recovery complete")
	}
	return rep, nil
}
