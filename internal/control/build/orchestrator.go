// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package build is the entry point of artifact production. It validates a
// request, serves reusable artifacts, and otherwise runs the backend under
// the slot's single-writer lock, leaving the record in a terminal state on
// every exit path.
package build

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/control/lock"
	"github.com/ManuGH/artifactd/internal/control/reuse"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/metrics"
	"github.com/ManuGH/artifactd/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// DefaultCancelGrace bounds the wait for a canceled backend to return
// before cleanup proceeds without it.
const DefaultCancelGrace = 10 * time.Second

// Fingerprinter derives the identity of a source file.
type Fingerprinter interface {
	Compute(ctx context.Context, path string) (artifact.Fingerprint, error)
}

// Config wires an Orchestrator. Records, Locks and Hasher are required.
type Config struct {
	Records  artifact.RecordStore
	Locks    *lock.Coordinator
	Hasher   Fingerprinter
	FS       control.FS
	Clock    control.Clock
	CacheDir string

	CancelGrace time.Duration

	// MaxImportBytes caps imported subtitle files. Zero uses 10 MiB.
	MaxImportBytes int64
}

// Orchestrator runs builds. It starts no goroutines of its own beyond the
// one driving a backend call.
type Orchestrator struct {
	records  artifact.RecordStore
	locks    *lock.Coordinator
	reuse    *reuse.Evaluator
	hasher   Fingerprinter
	fs       control.FS
	clock    control.Clock
	cacheDir string

	cancelGrace    time.Duration
	maxImportBytes int64

	tracer trace.Tracer
}

// New validates cfg and creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Records == nil || cfg.Locks == nil || cfg.Hasher == nil {
		return nil, errors.New("build: records, locks and hasher are required")
	}
	if cfg.CacheDir == "" {
		return nil, errors.New("build: cache dir is required")
	}
	if cfg.FS == nil {
		cfg.FS = control.RealFS{}
	}
	if cfg.Clock == nil {
		cfg.Clock = control.RealClock{}
	}
	if cfg.CancelGrace <= 0 {
		cfg.CancelGrace = DefaultCancelGrace
	}
	if cfg.MaxImportBytes <= 0 {
		cfg.MaxImportBytes = 10 << 20
	}
	return &Orchestrator{
		records:        cfg.Records,
		locks:          cfg.Locks,
		reuse:          reuse.New(cfg.Records, cfg.Locks, cfg.FS, cfg.Clock),
		hasher:         cfg.Hasher,
		fs:             cfg.FS,
		clock:          cfg.Clock,
		cacheDir:       cfg.CacheDir,
		cancelGrace:    cfg.CancelGrace,
		maxImportBytes: cfg.MaxImportBytes,
		tracer:         telemetry.Tracer("artifactd/build"),
	}, nil
}

// Validate checks the preconditions of a build. It has no side effects.
func Validate(src artifact.SourceInput, target artifact.TargetProfile) error {
	if src.ProbeState != artifact.ProbeStateOK {
		return &artifact.InvalidInputError{Reason: artifact.ErrNotAnalyzed}
	}
	if !artifact.IsSupportedContainer(src.Container) {
		return &artifact.UnsupportedContainerError{
			Container: artifact.NormalizeContainer(src.Container),
			Supported: artifact.SupportedInputContainers,
		}
	}
	if target.AudioTrackIndex < 0 {
		return &artifact.InvalidInputError{Reason: "audio track index must not be negative"}
	}
	if artifact.IsVideoKind(artifact.ResolveKind(src, target)) && !src.HasAudioTrack(target.AudioTrackIndex) {
		return &artifact.InvalidInputError{Reason: fmt.Sprintf("audio track %d not present (source has %d)", target.AudioTrackIndex, len(src.AudioTrackCodecs))}
	}
	return nil
}

func buildableKind(kind string) bool {
	return artifact.IsVideoKind(kind) || kind == artifact.KindSubtitleSRT
}

// BuildForTarget returns the artifact for (src, target), building it with
// backend unless a reusable one exists. Canceling ctx cancels the build.
//
// Errors: *artifact.InvalidInputError and *artifact.UnsupportedContainerError
// before any side effect, *artifact.BuildInProgressError when another writer
// holds the slot, *artifact.BackendFailure and *artifact.CancellationError
// after the record was marked failed and the lock released.
func (o *Orchestrator) BuildForTarget(ctx context.Context, backend artifact.Backend, src artifact.SourceInput, target artifact.TargetProfile) (res artifact.ArtifactResult, err error) {
	if err := Validate(src, target); err != nil {
		metrics.IncBuild(target.Kind, metrics.OutcomeInvalid)
		return res, err
	}
	kind := artifact.ResolveKind(src, target)
	if !buildableKind(kind) {
		metrics.IncBuild(kind, metrics.OutcomeInvalid)
		return res, &artifact.InvalidInputError{Reason: "unsupported artifact kind " + kind}
	}
	slot := artifact.Slot{MediaFileID: src.MediaFileID, Kind: kind, AudioTrackIndex: target.AudioTrackIndex}

	ctx, span := o.tracer.Start(ctx, "artifact.build",
		trace.WithAttributes(telemetry.ArtifactAttributes(slot.MediaFileID, kind, slot.AudioTrackIndex, "")...),
		trace.WithAttributes(telemetry.SourceAttributes(artifact.NormalizeContainer(src.Container), src.VideoCodec, src.AudioCodecFor(target.AudioTrackIndex))...),
	)
	outcome := metrics.OutcomeFailed
	defer func() {
		if err == nil {
			outcome = metrics.OutcomeSuccess
			if res.CacheHit {
				outcome = metrics.OutcomeCacheHit
			}
		}
		metrics.IncBuild(kind, outcome)
		span.SetAttributes(telemetry.ResultAttributes(outcome, res.CacheHit, res.SizeBytes)...)
		telemetry.EndSpan(span, err, outcome)
	}()

	logger := log.WithComponentFromContext(ctx, "build").With().
		Int64(log.FieldMediaFileID, slot.MediaFileID).
		Str(log.FieldKind, kind).
		Int(log.FieldAudioTrack, slot.AudioTrackIndex).
		Logger()

	fp, err := o.hasher.Compute(ctx, src.Path)
	if err != nil {
		return res, fmt.Errorf("build: fingerprint %s: %w", src.Path, err)
	}
	key := artifact.BuildCacheKey(artifact.KeyInput{
		FormatVersion:   artifact.FormatVersion,
		Fingerprint:     fp,
		Kind:            kind,
		AudioTrackIndex: slot.AudioTrackIndex,
	})
	span.SetAttributes(telemetry.ArtifactAttributes(slot.MediaFileID, kind, slot.AudioTrackIndex, key)...)
	logger = logger.With().Str(log.FieldCacheKey, key).Logger()

	if hit, ok, err := o.lookup(ctx, slot, key, false); err != nil || ok {
		return hit, err
	}

	lease, err := o.locks.Acquire(ctx, slot.MediaFileID, kind)
	if err != nil {
		if artifact.IsTransient(err) {
			outcome = metrics.OutcomeBusy
		}
		return res, err
	}
	// done closes after the lock is released so a waiting Cancel observes
	// the slot unlocked.
	done := make(chan struct{})
	defer func() {
		if relErr := lease.Release(ctx); relErr != nil {
			logger.Error().Err(relErr).Str(log.FieldLockKey, lease.Key()).Msg("lock release failed")
		}
		close(done)
	}()

	// A build may have finished between the first lookup and the lock grant.
	if hit, ok, err := o.lookup(ctx, slot, key, true); err != nil || ok {
		return hit, err
	}

	res, err = o.run(ctx, logger, backend, lease, done, src, target, slot, fp)
	if artifact.IsCanceled(err) {
		outcome = metrics.OutcomeCanceled
	}
	return res, err
}

// lookup serves a reusable artifact and bumps its access time.
func (o *Orchestrator) lookup(ctx context.Context, slot artifact.Slot, key string, holdsLock bool) (artifact.ArtifactResult, bool, error) {
	d, err := o.reuse.Evaluate(ctx, reuse.Request{Slot: slot, CacheKey: key, HoldsLock: holdsLock})
	if err != nil {
		return artifact.ArtifactResult{}, false, err
	}
	if !d.Reuse {
		return artifact.ArtifactResult{}, false, nil
	}
	if err := o.records.Touch(ctx, slot, o.clock.Now().UTC()); err != nil {
		return artifact.ArtifactResult{}, false, fmt.Errorf("build: touch %s: %w", slot, err)
	}
	return artifact.ArtifactResult{
		Path:      d.Record.Path,
		SizeBytes: d.Record.SizeBytes,
		Kind:      slot.Kind,
		CacheHit:  true,
	}, true, nil
}

type backendOutput struct {
	res artifact.ArtifactResult
	err error
}

// run executes the backend for a slot whose lock is held by lease.
func (o *Orchestrator) run(ctx context.Context, logger zerolog.Logger, backend artifact.Backend, lease *lock.Lease, done <-chan struct{},
	src artifact.SourceInput, target artifact.TargetProfile, slot artifact.Slot, fp artifact.Fingerprint,
) (artifact.ArtifactResult, error) {
	now := o.clock.Now().UTC()
	rec := artifact.Record{
		MediaFileID:     slot.MediaFileID,
		Kind:            slot.Kind,
		AudioTrackIndex: slot.AudioTrackIndex,
		Fingerprint:     fp,
		Status:          artifact.StatusPending,
		Path:            artifact.OutputPath(o.cacheDir, slot, fp),
		CreatedAt:       now,
		UpdatedAt:       now,
		FormatVersion:   artifact.FormatVersion,
	}
	if err := o.records.Put(ctx, rec); err != nil {
		return artifact.ArtifactResult{}, fmt.Errorf("build: record %s: %w", slot, err)
	}
	if err := o.fs.MkdirAll(o.cacheDir, 0o755); err != nil {
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, &artifact.BackendFailure{Kind: slot.Kind, Err: err})
	}

	buildCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lease.Register(cancel, done)

	rec.Status = artifact.StatusBuilding
	rec.UpdatedAt = o.clock.Now().UTC()
	if err := o.records.Put(ctx, rec); err != nil {
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, err)
	}
	logger.Info().Str(log.FieldOldState, string(artifact.StatusPending)).
		Str(log.FieldNewState, string(artifact.StatusBuilding)).
		Str(log.FieldPath, rec.Path).
		Msg("artifact build started")

	target.Kind = slot.Kind
	req := artifact.BuildRequest{
		Source:     src,
		Target:     target,
		OutputPath: rec.Path,
		OnStart: func(pid int) {
			if err := lease.SetWorkerPID(context.WithoutCancel(ctx), pid); err != nil {
				logger.Warn().Err(err).Int(log.FieldWorkerPID, pid).Msg("failed to persist worker pid")
			}
		},
	}

	started := time.Now()
	outCh := make(chan backendOutput, 1)
	go func() {
		r, err := backend.BuildAdaptive(buildCtx, req)
		outCh <- backendOutput{res: r, err: err}
	}()

	var out backendOutput
	select {
	case out = <-outCh:
	case <-buildCtx.Done():
		select {
		case out = <-outCh:
		case <-o.clock.After(o.cancelGrace):
			logger.Warn().Dur("grace", o.cancelGrace).Msg("backend did not stop after cancel, cleaning up anyway")
			out = backendOutput{err: buildCtx.Err()}
		}
	}
	metrics.ObserveBuildDuration(slot.Kind, time.Since(started).Seconds())

	if buildCtx.Err() != nil {
		cause := ctx.Err()
		if cause == nil {
			cause = context.Canceled
		}
		o.removeOutputs(logger, rec.Path, out.res.Path)
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, &artifact.CancellationError{LockKey: lease.Key(), Cause: cause})
	}
	if out.err != nil {
		o.removeOutputs(logger, rec.Path, out.res.Path)
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, &artifact.BackendFailure{Kind: slot.Kind, Err: out.err})
	}

	final := rec.Path
	if out.res.Path != "" {
		final = out.res.Path
	}
	info, err := o.fs.Stat(final)
	if err == nil && (!info.Mode().IsRegular() || info.Size() == 0) {
		err = errors.New("backend produced an empty artifact")
	}
	if err != nil {
		o.removeOutputs(logger, rec.Path, final)
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, &artifact.BackendFailure{Kind: slot.Kind, Err: err})
	}

	rec.Status = artifact.StatusReady
	rec.Path = final
	rec.SizeBytes = info.Size()
	rec.Error = ""
	rec.UpdatedAt = o.clock.Now().UTC()
	if err := o.records.Put(context.WithoutCancel(ctx), rec); err != nil {
		o.removeOutputs(logger, final)
		return artifact.ArtifactResult{}, o.fail(ctx, logger, rec, err)
	}
	logger.Info().Str(log.FieldOldState, string(artifact.StatusBuilding)).
		Str(log.FieldNewState, string(artifact.StatusReady)).
		Str(log.FieldPath, final).
		Int64(log.FieldSizeBytes, rec.SizeBytes).
		Msg("artifact ready")

	return artifact.ArtifactResult{Path: final, SizeBytes: rec.SizeBytes, Kind: slot.Kind}, nil
}

// fail writes the failed state and returns cause. It runs detached from
// ctx so a canceled request still leaves a terminal record.
func (o *Orchestrator) fail(ctx context.Context, logger zerolog.Logger, rec artifact.Record, cause error) error {
	prev := rec.Status
	rec.Status = artifact.StatusFailed
	rec.SizeBytes = 0
	rec.Error = cause.Error()
	rec.UpdatedAt = o.clock.Now().UTC()
	if err := o.records.Put(context.WithoutCancel(ctx), rec); err != nil {
		logger.Error().Err(err).Msg("failed to mark artifact failed")
		return errors.Join(cause, err)
	}
	ev := logger.Warn()
	if artifact.IsCanceled(cause) {
		ev = logger.Info()
	}
	ev.Err(cause).Str(log.FieldOldState, string(prev)).
		Str(log.FieldNewState, string(artifact.StatusFailed)).
		Msg("artifact build failed")
	return cause
}

func (o *Orchestrator) removeOutputs(logger zerolog.Logger, paths ...string) {
	seen := make(map[string]struct{}, 2*len(paths))
	for _, p := range paths {
		if p == "" {
			continue
		}
		for _, name := range []string{p, p + artifact.PartialSuffix} {
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			if err := o.fs.Remove(name); err != nil && !errors.Is(err, os.ErrNotExist) {
				logger.Warn().Err(err).Str(log.FieldPath, name).Msg("failed to remove partial output")
			}
		}
	}
}

// Cancel stops the build of (mediaFileID, kind) wherever it runs.
func (o *Orchestrator) Cancel(ctx context.Context, mediaFileID int64, kind string) error {
	return o.locks.Cancel(ctx, mediaFileID, kind)
}

// Status returns the record of a slot, or nil.
func (o *Orchestrator) Status(ctx context.Context, slot artifact.Slot) (*artifact.Record, error) {
	return o.records.Get(ctx, slot)
}

// Records lists every record of (mediaFileID, kind) across tracks.
func (o *Orchestrator) Records(ctx context.Context, mediaFileID int64, kind string) ([]artifact.Record, error) {
	return o.records.Find(ctx, mediaFileID, kind)
}
