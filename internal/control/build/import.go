// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package build

import (
	"context"
	"fmt"
	"io"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/metrics"
	"github.com/google/renameio/v2"
)

// ImportSubtitle stores a user-supplied SRT file as the imported subtitle
// sidecar of mediaFileID, replacing any previous import atomically. It runs
// under the (mediaFileID, subtitle_srt_imported) lock like a build.
func (o *Orchestrator) ImportSubtitle(ctx context.Context, mediaFileID int64, r io.Reader) (res artifact.ArtifactResult, err error) {
	const kind = artifact.KindSubtitleSRTImported
	slot := artifact.Slot{MediaFileID: mediaFileID, Kind: kind}
	logger := log.WithComponentFromContext(ctx, "build").With().
		Int64(log.FieldMediaFileID, mediaFileID).
		Str(log.FieldKind, kind).
		Logger()

	outcome := metrics.OutcomeFailed
	defer func() {
		if err == nil {
			outcome = metrics.OutcomeSuccess
		}
		metrics.IncBuild(kind, outcome)
	}()

	lease, err := o.locks.Acquire(ctx, mediaFileID, kind)
	if err != nil {
		if artifact.IsTransient(err) {
			outcome = metrics.OutcomeBusy
		}
		return res, err
	}
	done := make(chan struct{})
	defer func() {
		if relErr := lease.Release(ctx); relErr != nil {
			logger.Error().Err(relErr).Str(log.FieldLockKey, lease.Key()).Msg("lock release failed")
		}
		close(done)
	}()

	importCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	lease.Register(cancel, done)

	if err := o.fs.MkdirAll(o.cacheDir, 0o755); err != nil {
		return res, fmt.Errorf("import: cache dir: %w", err)
	}
	path := artifact.OutputPath(o.cacheDir, slot, artifact.Fingerprint{})

	n, err := writeAtomic(importCtx, path, r, o.maxImportBytes)
	if err != nil && importCtx.Err() != nil {
		outcome = metrics.OutcomeCanceled
		logger.Info().Msg("subtitle import canceled")
		return res, &artifact.CancellationError{LockKey: lease.Key(), Cause: context.Cause(importCtx)}
	}
	if err != nil {
		return res, fmt.Errorf("import: write %s: %w", path, err)
	}
	if n == 0 || n > o.maxImportBytes {
		outcome = metrics.OutcomeInvalid
		return res, &artifact.InvalidInputError{Reason: fmt.Sprintf("subtitle must be 1..%d bytes", o.maxImportBytes)}
	}

	fp, err := o.hasher.Compute(ctx, path)
	if err != nil {
		return res, fmt.Errorf("import: fingerprint %s: %w", path, err)
	}

	now := o.clock.Now().UTC()
	rec := artifact.Record{
		MediaFileID:   mediaFileID,
		Kind:          kind,
		Fingerprint:   fp,
		Status:        artifact.StatusReady,
		Path:          path,
		SizeBytes:     n,
		CreatedAt:     now,
		UpdatedAt:     now,
		FormatVersion: artifact.FormatVersion,
	}
	if err := o.records.Put(context.WithoutCancel(ctx), rec); err != nil {
		return res, fmt.Errorf("import: record %s: %w", slot, err)
	}
	logger.Info().Str(log.FieldPath, path).Int64(log.FieldSizeBytes, n).Msg("subtitle imported")
	return artifact.ArtifactResult{Path: path, SizeBytes: n, Kind: kind}, nil
}

// writeAtomic replaces path with the contents of r (fsync, then rename).
// Empty or oversized input, or a canceled ctx, leaves path untouched.
func writeAtomic(ctx context.Context, path string, r io.Reader, limit int64) (int64, error) {
	pending, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o644))
	if err != nil {
		return 0, err
	}
	defer func() { _ = pending.Cleanup() }()

	n, err := io.Copy(pending, io.LimitReader(ctxReader{ctx: ctx, r: r}, limit+1))
	if err != nil {
		return n, err
	}
	if n == 0 || n > limit {
		return n, nil
	}
	if err := ctx.Err(); err != nil {
		return n, err
	}
	return n, pending.CloseAtomicallyReplace()
}

// ctxReader stops a copy at the next Read once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
