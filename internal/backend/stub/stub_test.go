// SPDX-License-Identifier: MIT

package stub

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "movie.MKV")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o600))

	b := New()
	res := b.Probe(context.Background(), src)
	require.True(t, res.OK)
	assert.Equal(t, "mkv", res.Container)
	assert.Equal(t, "h264", res.VideoCodec)

	assert.False(t, b.Probe(context.Background(), filepath.Join(dir, "missing.mkv")).OK)

	b.SetProbe(src, artifact.ProbeResult{OK: true, Container: "flv"})
	assert.Equal(t, "flv", b.Probe(context.Background(), src).Container)
}

func TestBuildAdaptive(t *testing.T) {
	out := filepath.Join(t.TempDir(), "1__abc__remux_fmp4.mp4")
	b := New()

	var pid int
	res, err := b.BuildAdaptive(context.Background(), artifact.BuildRequest{
		Source:     artifact.SourceInput{Path: "/media/a.mkv"},
		Target:     artifact.TargetProfile{Kind: artifact.KindRemux},
		OutputPath: out,
		OnStart:    func(p int) { pid = p },
	})
	require.NoError(t, err)
	assert.Equal(t, out, res.Path)
	assert.Equal(t, os.Getpid(), pid)
	assert.EqualValues(t, 1, b.Builds())

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "stub /media/a.mkv kind=remux_fmp4_appletv track=0\n", string(data))
	assert.EqualValues(t, len(data), res.SizeBytes)
	assert.NoFileExists(t, out+artifact.PartialSuffix)
}

func TestBuildAdaptive_Failure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.mp4")
	b := New()
	b.Err = errors.New("boom")

	_, err := b.BuildAdaptive(context.Background(), artifact.BuildRequest{OutputPath: out})
	require.EqualError(t, err, "boom")
	assert.NoFileExists(t, out)
	assert.NoFileExists(t, out+artifact.PartialSuffix)
}

func TestBuildAdaptive_Cancel(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.mp4")
	b := New()
	b.Delay = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.BuildAdaptive(ctx, artifact.BuildRequest{OutputPath: out})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, out+artifact.PartialSuffix)
}
