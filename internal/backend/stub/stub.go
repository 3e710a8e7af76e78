// SPDX-License-Identifier: MIT

// Package stub is a deterministic build backend. It never spawns a
// process: probes are derived from the file name and builds write a small
// marker file. The daemon uses it for dry runs and the API tests use it.
package stub

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

// Backend implements artifact.Backend without external tools.
type Backend struct {
	// Delay is how long a build takes. Cancellation is honored while waiting.
	Delay time.Duration
	// Err, when set, fails every build after Delay.
	Err error

	mu     sync.Mutex
	probes map[string]artifact.ProbeResult
	builds atomic.Int64
}

var _ artifact.Backend = (*Backend)(nil)

func New() *Backend {
	return &Backend{probes: make(map[string]artifact.ProbeResult)}
}

// SetProbe overrides the probe result for path.
func (b *Backend) SetProbe(path string, res artifact.ProbeResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.probes == nil {
		b.probes = make(map[string]artifact.ProbeResult)
	}
	b.probes[path] = res
}

// Builds returns the number of BuildAdaptive calls.
func (b *Backend) Builds() int64 { return b.builds.Load() }

// Probe returns the override for path or an h264/aac result whose container
// is the file extension. Missing files fail.
func (b *Backend) Probe(_ context.Context, path string) artifact.ProbeResult {
	b.mu.Lock()
	res, ok := b.probes[path]
	b.mu.Unlock()
	if ok {
		return res
	}

	if _, err := os.Stat(path); err != nil {
		return artifact.ProbeFailure(err.Error())
	}
	return artifact.ProbeResult{
		OK:            true,
		Container:     strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
		VideoCodec:    "h264",
		AudioCodec:    "aac",
		AudioChannels: 2,
		AudioTracks: []artifact.AudioTrackInfo{
			{Index: 0, Codec: "aac", Channels: 2},
			{Index: 1, Codec: "ac3", Channels: 6},
		},
	}
}

// BuildAdaptive writes a marker naming the source, kind and track to
// req.OutputPath via a .partial file.
func (b *Backend) BuildAdaptive(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
	b.builds.Add(1)
	if req.OutputPath == "" {
		return artifact.ArtifactResult{}, errors.New("stub: output path is required")
	}
	if req.OnStart != nil {
		req.OnStart(os.Getpid())
	}

	partial := req.OutputPath + artifact.PartialSuffix
	body := fmt.Sprintf("stub %s kind=%s track=%d\n", req.Source.Path, req.Target.Kind, req.Target.AudioTrackIndex)
	if err := os.WriteFile(partial, []byte(body), 0o600); err != nil {
		return artifact.ArtifactResult{}, fmt.Errorf("stub: write: %w", err)
	}

	if b.Delay > 0 {
		t := time.NewTimer(b.Delay)
		select {
		case <-ctx.Done():
			t.Stop()
			_ = os.Remove(partial)
			return artifact.ArtifactResult{}, ctx.Err()
		case <-t.C:
		}
	}
	if b.Err != nil {
		_ = os.Remove(partial)
		return artifact.ArtifactResult{}, b.Err
	}
	if err := os.Rename(partial, req.OutputPath); err != nil {
		_ = os.Remove(partial)
		return artifact.ArtifactResult{}, fmt.Errorf("stub: finalize: %w", err)
	}
	return artifact.ArtifactResult{Path: req.OutputPath, SizeBytes: int64(len(body)), Kind: req.Target.Kind}, nil
}
