// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/fingerprint"
	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
)

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func runSweep(args []string, stdout, stderr io.Writer) int {
	var (
		configPath string
		budgetRaw  string
		noOrphans  bool
	)
	fs := newFlagSet("sweep", stderr, &configPath)
	fs.StringVar(&budgetRaw, "budget", "", "byte budget (e.g. 20GiB); defaults to the configured budget")
	fs.BoolVar(&noOrphans, "no-orphans", false, "skip removal of files without a record")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_, cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	budget := cfg.Eviction.BudgetBytes
	if budgetRaw != "" {
		n, err := humanize.ParseBytes(budgetRaw)
		if err != nil || n > math.MaxInt64 {
			fmt.Fprintf(stderr, "invalid --budget %q\n", budgetRaw)
			return 2
		}
		budget = int64(n)
	}

	ctx, stop := signalContext()
	defer stop()

	rt, err := wire(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer rt.Close()

	res, err := rt.sweeper.Sweep(ctx, budget)
	if err != nil {
		fmt.Fprintf(stderr, "sweep failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "budget:    %s\n", humanize.IBytes(uint64(budget)))
	fmt.Fprintf(stdout, "recorded:  %s in %d records\n", humanize.IBytes(uint64(res.TotalBytes)), res.Records)
	fmt.Fprintf(stdout, "evicted:   %d (%s)\n", res.Evicted, humanize.IBytes(uint64(res.EvictedBytes)))
	fmt.Fprintf(stdout, "skipped:   %d locked, %d recent, %d changed\n", res.SkippedLocked, res.SkippedRecent, res.SkippedChanged)
	fmt.Fprintf(stdout, "remaining: %s\n", humanize.IBytes(uint64(res.RemainingBytes)))

	errs := res.Errors
	if !noOrphans {
		orphans, err := rt.sweeper.SweepOrphans(ctx)
		if err != nil {
			fmt.Fprintf(stderr, "orphan sweep failed: %v\n", err)
			return 1
		}
		fmt.Fprintf(stdout, "orphans:   %d of %d files removed (%s)\n", orphans.Removed, orphans.Scanned, humanize.IBytes(uint64(orphans.RemovedBytes)))
		errs += orphans.Errors
	}
	if errs > 0 {
		fmt.Fprintf(stderr, "%d files could not be removed, see log\n", errs)
		return 1
	}
	return 0
}

func runRecover(args []string, stdout, stderr io.Writer) int {
	var configPath string
	fs := newFlagSet("recover", stderr, &configPath)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	_, cfg, err := loadConfig(configPath, stderr)
	if err != nil {
		fmt.Fprintf(stderr, "configuration error: %v\n", err)
		return 1
	}
	ctx, stop := signalContext()
	defer stop()

	rt, err := wire(cfg)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return 1
	}
	defer rt.Close()

	rep, err := rt.recover(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "recovery failed: %v\n", err)
		return 1
	}
	fmt.Fprintf(stdout, "locks reclaimed: %d\nlocks kept:      %d\nrecords failed:  %d\n",
		rep.LocksReclaimed, rep.LocksKept, rep.RecordsFailed)
	return 0
}

type keyOutput struct {
	Path        string               `json:"path"`
	MediaFileID int64                `json:"media_file_id,omitempty"`
	Kind        string               `json:"kind"`
	AudioTrack  int                  `json:"audio_track_index"`
	Fingerprint artifact.Fingerprint `json:"fingerprint"`
	CacheKey    string               `json:"cache_key"`
	FileName    string               `json:"file_name,omitempty"`
}

// runKey needs no configuration: it only reads the source file.
func runKey(args []string, stdout, stderr io.Writer) int {
	var (
		kind  string
		track int
		id    int64
	)
	fs := pflag.NewFlagSet("artifactd key", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVarP(&kind, "kind", "k", artifact.KindRemux, "artifact kind")
	fs.IntVarP(&track, "track", "t", 0, "audio track index")
	fs.Int64Var(&id, "media-file-id", 0, "media file id, used for the artifact file name")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "usage: artifactd key [--kind K] [--track N] [--media-file-id ID] <path>")
		return 2
	}
	if track < 0 {
		fmt.Fprintln(stderr, "--track must not be negative")
		return 2
	}
	path := fs.Arg(0)

	ctx, stop := signalContext()
	defer stop()

	fp, err := fingerprint.New().Compute(ctx, path)
	if err != nil {
		fmt.Fprintf(stderr, "fingerprint: %v\n", err)
		return 1
	}
	out := keyOutput{
		Path:        path,
		MediaFileID: id,
		Kind:        kind,
		AudioTrack:  track,
		Fingerprint: fp,
		CacheKey: artifact.BuildCacheKey(artifact.KeyInput{
			FormatVersion:   artifact.FormatVersion,
			Fingerprint:     fp,
			Kind:            kind,
			AudioTrackIndex: track,
		}),
	}
	if id > 0 {
		slot := artifact.Slot{MediaFileID: id, Kind: kind, AudioTrackIndex: track}
		out.FileName = filepath.Base(artifact.OutputPath("", slot, fp))
	}
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(stderr, "encode: %v\n", err)
		return 1
	}
	return 0
}
