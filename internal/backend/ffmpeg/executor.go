// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/artifactd/internal/procgroup"
	"github.com/rs/zerolog"
)

// ErrStalled is returned when ffmpeg stops reporting progress.
var ErrStalled = errors.New("ffmpeg stalled")

// Progress is one flushed block of ffmpeg's -progress output.
type Progress struct {
	Frame     int64
	OutTimeUs int64
	TotalSize int64
	Speed     string
	End       bool
}

func (p Progress) hasAdvanced(prev Progress) bool {
	return p.OutTimeUs > prev.OutTimeUs || p.TotalSize > prev.TotalSize || p.Frame > prev.Frame
}

// WatchConfig tunes stall detection.
type WatchConfig struct {
	StartupGrace time.Duration
	StallTimeout time.Duration
	Tick         time.Duration
	KillGrace    time.Duration
}

func (c WatchConfig) withDefaults() WatchConfig {
	if c.StartupGrace <= 0 {
		c.StartupGrace = 30 * time.Second
	}
	if c.StallTimeout <= 0 {
		c.StallTimeout = 5 * time.Minute
	}
	if c.Tick <= 0 {
		c.Tick = 5 * time.Second
	}
	if c.KillGrace <= 0 {
		c.KillGrace = 5 * time.Second
	}
	return c
}

// ExitError carries ffmpeg's exit status and the tail of its stderr.
type ExitError struct {
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("ffmpeg exited with status %d", e.Code)
	}
	return fmt.Sprintf("ffmpeg exited with status %d: %s", e.Code, e.Stderr)
}

func (e *ExitError) Unwrap() error { return e.Err }

// run executes bin in its own process group with progress supervision.
// onStart receives the PID right after the process started. Cancellation
// and stalls terminate the whole group.
func run(ctx context.Context, bin string, args []string, cfg WatchConfig, onStart func(pid int), logger zerolog.Logger) error {
	cfg = cfg.withDefaults()
	fullArgs := append([]string{"-nostdin", "-progress", "pipe:1", "-nostats"}, args...)
	// #nosec G204 - binary comes from config; arguments are built by BuildArgs
	cmd := exec.Command(bin, fullArgs...)
	procgroup.Set(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg: start: %w", err)
	}
	if onStart != nil {
		onStart(cmd.Process.Pid)
	}
	logger.Debug().Int("pid", cmd.Process.Pid).Strs("args", fullArgs).Msg("ffmpeg started")

	progressCh := make(chan Progress, 16)
	parsed := make(chan struct{})
	go func() {
		defer close(progressCh)
		defer close(parsed)
		parseProgress(stdout, progressCh)
	}()

	waitCh := make(chan error, 1)
	go func() {
		// Wait closes stdout, so it must not run before the parser hit EOF.
		<-parsed
		waitCh <- cmd.Wait()
	}()

	err = watch(ctx, cmd, waitCh, progressCh, cfg, logger)
	for range progressCh {
	}
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStalled) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	code := 1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	return &ExitError{Code: code, Stderr: truncate(strings.TrimSpace(stderr.String())), Err: err}
}

// watch waits for the process, killing its group on cancellation or stall.
func watch(ctx context.Context, cmd *exec.Cmd, waitCh <-chan error, progressCh <-chan Progress, cfg WatchConfig, logger zerolog.Logger) error {
	start := time.Now()
	lastProgressAt := start
	var last Progress

	ticker := time.NewTicker(cfg.Tick)
	defer ticker.Stop()

	for {
		select {
		case err := <-waitCh:
			return err

		case <-ctx.Done():
			_ = procgroup.Terminate(cmd, waitCh, cfg.KillGrace)
			return ctx.Err()

		case p, ok := <-progressCh:
			if !ok {
				progressCh = nil
				continue
			}
			if p.hasAdvanced(last) {
				last = p
				lastProgressAt = time.Now()
			}

		case <-ticker.C:
			if time.Since(start) < cfg.StartupGrace {
				continue
			}
			if time.Since(lastProgressAt) > cfg.StallTimeout {
				logger.Error().
					Dur("since_progress", time.Since(lastProgressAt)).
					Int64("last_out_time_us", last.OutTimeUs).
					Int64("last_total_size", last.TotalSize).
					Str("last_speed", last.Speed).
					Msg("ffmpeg stalled, terminating")
				_ = procgroup.Terminate(cmd, waitCh, cfg.KillGrace)
				return ErrStalled
			}
		}
	}
}

// parseProgress reads key=value lines from r and offers a snapshot on every
// "progress=" line.
func parseProgress(r io.Reader, ch chan<- Progress) {
	scanner := bufio.NewScanner(r)
	var current Progress

	for scanner.Scan() {
		key, val, ok := strings.Cut(strings.TrimSpace(scanner.Text()), "=")
		if !ok {
			continue
		}
		key, val = strings.TrimSpace(key), strings.TrimSpace(val)

		switch key {
		case "frame":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.Frame = v
			}
		case "out_time_us", "out_time_ms":
			// out_time_ms is in microseconds as well.
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.OutTimeUs = v
			}
		case "total_size":
			if v, err := strconv.ParseInt(val, 10, 64); err == nil {
				current.TotalSize = v
			}
		case "speed":
			current.Speed = val
		case "progress":
			current.End = val == "end"
			// Snapshots are cumulative; drop one rather than block the pipe.
			select {
			case ch <- current:
			default:
			}
		}
	}
}
