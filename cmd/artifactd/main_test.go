// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/config"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/fingerprint"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEnv points the configuration at a temp data dir with the stub
// backend and in-memory stores.
func stubEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv(config.EnvPrefix+"DATA_DIR", dir)
	t.Setenv(config.EnvPrefix+"BACKEND", config.BackendStub)
	t.Setenv(config.EnvPrefix+"STORE_BACKEND", "memory")
	t.Setenv(config.EnvPrefix+"LOCK_BACKEND", "memory")
	t.Setenv(config.EnvPrefix+"LISTEN_ADDR", "127.0.0.1:0")
	return dir
}

func TestDispatch(t *testing.T) {
	var stdout, stderr bytes.Buffer

	assert.Equal(t, 0, dispatch([]string{"help"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), "sweep")

	stdout.Reset()
	assert.Equal(t, 0, dispatch([]string{"version"}, &stdout, &stderr))
	assert.True(t, strings.HasPrefix(stdout.String(), version))

	stdout.Reset()
	assert.Equal(t, 0, dispatch([]string{"--version"}, &stdout, &stderr))
	assert.Contains(t, stdout.String(), commit)

	assert.Equal(t, 2, dispatch([]string{"bogus"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), `unknown command "bogus"`)

	stderr.Reset()
	assert.Equal(t, 2, dispatch([]string{"sweep", "--nope"}, &stdout, &stderr))
}

func TestResolveConfigPath(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(config.EnvPrefix+"DATA_DIR", dir)

	assert.Equal(t, "/etc/artifactd.yaml", resolveConfigPath(" /etc/artifactd.yaml "))
	assert.Empty(t, resolveConfigPath(""))

	auto := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(auto, []byte("logLevel: debug\n"), 0o600))
	assert.Equal(t, auto, resolveConfigPath(""))
}

func TestRunKey(t *testing.T) {
	src := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(src, bytes.Repeat([]byte("frame"), 4096), 0o644))

	var stdout, stderr bytes.Buffer
	code := runKey([]string{"--kind", artifact.KindRemuxAdaptiveEAC3, "-t", "2", "--media-file-id", "42", src}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())

	var out keyOutput
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &out))

	fp, err := fingerprint.New().Compute(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, fp, out.Fingerprint)
	assert.Equal(t, artifact.BuildCacheKey(artifact.KeyInput{
		FormatVersion:   artifact.FormatVersion,
		Fingerprint:     fp,
		Kind:            artifact.KindRemuxAdaptiveEAC3,
		AudioTrackIndex: 2,
	}), out.CacheKey)
	assert.True(t, strings.HasPrefix(out.FileName, "42__"), out.FileName)
	assert.True(t, strings.HasSuffix(out.FileName, "_adaptive_eac3.a2.mp4"), out.FileName)
}

func TestRunKey_Usage(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 2, runKey(nil, &stdout, &stderr))
	assert.Equal(t, 2, runKey([]string{"-t", "-1", "x"}, &stdout, &stderr))
	assert.Equal(t, 1, runKey([]string{filepath.Join(t.TempDir(), "missing")}, &stdout, &stderr))
}

func TestRunSweepAndRecover(t *testing.T) {
	dir := stubEnv(t)
	orphan := filepath.Join(dir, "cache", "9__deadbeef__remux_fmp4.mp4")
	require.NoError(t, os.MkdirAll(filepath.Dir(orphan), 0o755))
	require.NoError(t, os.WriteFile(orphan, []byte("left behind"), 0o644))

	var stdout, stderr bytes.Buffer
	code := runSweep([]string{"--budget", "1GiB"}, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "budget:    1.0 GiB")
	assert.Contains(t, stdout.String(), "orphans:")

	stdout.Reset()
	assert.Equal(t, 2, runSweep([]string{"--budget", "plenty"}, &stdout, &stderr))

	stdout.Reset()
	code = runRecover(nil, &stdout, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stdout.String(), "locks reclaimed: 0")
}

func TestServe_BuildsThroughAPI(t *testing.T) {
	dir := stubEnv(t)
	src := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(src, []byte("matroska"), 0o644))

	loader, cfg, err := loadConfig("", io.Discard)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	ready := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() { errCh <- serve(ctx, loader, cfg, ready) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-errCh:
		cancel()
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(10 * time.Second):
		cancel()
		t.Fatal("server did not become ready")
	}

	client := &http.Client{Timeout: 5 * time.Second, Transport: &http.Transport{DisableKeepAlives: true}}

	resp, err := client.Get("http://" + addr + "/readyz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := fmt.Sprintf(`{"media_file_id":3,"path":%q,"kind":%q}`, src, artifact.KindRemux)
	resp, err = client.Post("http://"+addr+"/api/v1/artifacts", "application/json", strings.NewReader(body))
	require.NoError(t, err)
	var res artifact.ArtifactResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, filepath.Join(cfg.CacheDir, filepath.Base(res.Path)), res.Path)
	assert.FileExists(t, res.Path)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(20 * time.Second):
		t.Fatal("serve did not shut down")
	}
}
