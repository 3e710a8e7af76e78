// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg is the build backend driving the ffmpeg and ffprobe
// binaries. Output is staged to a .partial file and renamed into place
// only after ffmpeg exited cleanly.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/rs/zerolog"
)

// Config configures the ffmpeg backend.
type Config struct {
	FFmpegBin    string
	FFprobeBin   string
	ProbeTimeout time.Duration
	Watch        WatchConfig
}

// Backend implements artifact.Backend.
type Backend struct {
	ffmpegBin    string
	ffprobeBin   string
	probeTimeout time.Duration
	watch        WatchConfig
	logger       zerolog.Logger
}

var _ artifact.Backend = (*Backend)(nil)

// New creates a Backend. Empty binary names resolve through PATH.
func New(cfg Config) *Backend {
	if cfg.FFmpegBin == "" {
		cfg.FFmpegBin = "ffmpeg"
	}
	if cfg.FFprobeBin == "" {
		cfg.FFprobeBin = "ffprobe"
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 30 * time.Second
	}
	return &Backend{
		ffmpegBin:    cfg.FFmpegBin,
		ffprobeBin:   cfg.FFprobeBin,
		probeTimeout: cfg.ProbeTimeout,
		watch:        cfg.Watch.withDefaults(),
		logger:       log.WithComponent("ffmpeg"),
	}
}

// BuildAdaptive produces req.OutputPath. On any error the partial file is
// removed and nothing exists at OutputPath.
func (b *Backend) BuildAdaptive(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
	if req.OutputPath == "" {
		return artifact.ArtifactResult{}, errors.New("ffmpeg: output path is required")
	}
	partial := req.OutputPath + artifact.PartialSuffix
	args, err := BuildArgs(req, partial)
	if err != nil {
		return artifact.ArtifactResult{}, err
	}

	logger := b.logger.With().
		Int64(log.FieldMediaFileID, req.Source.MediaFileID).
		Str(log.FieldKind, req.Target.Kind).
		Str(log.FieldPath, req.OutputPath).
		Logger()

	if err := run(ctx, b.ffmpegBin, args, b.watch, req.OnStart, logger); err != nil {
		removeQuietly(logger, partial)
		return artifact.ArtifactResult{}, err
	}

	info, err := os.Stat(partial)
	if err != nil {
		return artifact.ArtifactResult{}, fmt.Errorf("ffmpeg: output missing: %w", err)
	}
	if info.Size() == 0 {
		removeQuietly(logger, partial)
		return artifact.ArtifactResult{}, errors.New("ffmpeg: produced an empty file")
	}
	if err := os.Rename(partial, req.OutputPath); err != nil {
		removeQuietly(logger, partial)
		return artifact.ArtifactResult{}, fmt.Errorf("ffmpeg: finalize: %w", err)
	}

	logger.Debug().Int64(log.FieldSizeBytes, info.Size()).Msg("ffmpeg build finished")
	return artifact.ArtifactResult{Path: req.OutputPath, SizeBytes: info.Size(), Kind: req.Target.Kind}, nil
}

func removeQuietly(logger zerolog.Logger, path string) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Str(log.FieldPath, path).Msg("failed to remove partial output")
	}
}
