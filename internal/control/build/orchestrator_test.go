// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package build

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/control/lock"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/fingerprint"
	"github.com/ManuGH/artifactd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type buildFunc func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error)

type fakeBackend struct {
	calls atomic.Int32
	build buildFunc
}

func (b *fakeBackend) Probe(context.Context, string) artifact.ProbeResult {
	return artifact.ProbeResult{OK: true, Container: "mkv"}
}

func (b *fakeBackend) BuildAdaptive(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
	b.calls.Add(1)
	return b.build(ctx, req)
}

// writeOutput stages data to the partial file and renames it into place.
func writeOutput(data string) buildFunc {
	return func(_ context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		partial := req.OutputPath + artifact.PartialSuffix
		if err := os.WriteFile(partial, []byte(data), 0o644); err != nil {
			return artifact.ArtifactResult{}, err
		}
		if err := os.Rename(partial, req.OutputPath); err != nil {
			return artifact.ArtifactResult{}, err
		}
		return artifact.ArtifactResult{Path: req.OutputPath, SizeBytes: int64(len(data)), Kind: req.Target.Kind}, nil
	}
}

type fixture struct {
	records  *store.MemoryRecords
	locks    *store.MemoryLocks
	clock    *control.MockClock
	coord    *lock.Coordinator
	orch     *Orchestrator
	cacheDir string
	src      artifact.SourceInput
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	srcPath := filepath.Join(dir, "movie.mkv")
	require.NoError(t, os.WriteFile(srcPath, []byte("source bytes v1"), 0o644))

	f := &fixture{
		records:  store.NewMemoryRecords(),
		locks:    store.NewMemoryLocks(),
		clock:    control.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		cacheDir: filepath.Join(dir, "cache"),
		src: artifact.SourceInput{
			MediaFileID: 7,
			Path:        srcPath,
			Container:   "mkv",
			VideoCodec:  "h264",
			AudioCodec:  "aac",
			ProbeState:  artifact.ProbeStateOK,
		},
	}
	f.coord = lock.New(lock.Config{
		Locks:    f.locks,
		Records:  f.records,
		Clock:    f.clock,
		PID:      os.Getpid(),
		Host:     "test-host",
		Instance: "test-instance",
	})
	orch, err := New(Config{
		Records:     f.records,
		Locks:       f.coord,
		Hasher:      fingerprint.New(),
		Clock:       f.clock,
		CacheDir:    f.cacheDir,
		CancelGrace: 5 * time.Second,
	})
	require.NoError(t, err)
	f.orch = orch
	return f
}

func (f *fixture) record(t *testing.T, kind string, track int) *artifact.Record {
	t.Helper()
	rec, err := f.records.Get(context.Background(), artifact.Slot{MediaFileID: f.src.MediaFileID, Kind: kind, AudioTrackIndex: track})
	require.NoError(t, err)
	return rec
}

func (f *fixture) assertUnlocked(t *testing.T, kind string) {
	t.Helper()
	ok, err := f.coord.TryAcquire(context.Background(), f.src.MediaFileID, kind)
	require.NoError(t, err)
	require.True(t, ok, "lock must be re-acquirable")
	require.NoError(t, f.coord.Release(context.Background(), f.src.MediaFileID, kind))
}

func cacheEntries(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)

	_, err = New(Config{Records: store.NewMemoryRecords(), Locks: lock.New(lock.Config{Locks: store.NewMemoryLocks(), Records: store.NewMemoryRecords()}), Hasher: fingerprint.New()})
	require.ErrorContains(t, err, "cache dir")
}

func TestBuildForTarget_RejectsUnanalyzedSource(t *testing.T) {
	for _, state := range []artifact.ProbeState{artifact.ProbeStateFailed, artifact.ProbeStateUnknown, ""} {
		t.Run(string(state), func(t *testing.T) {
			f := newFixture(t)
			backend := &fakeBackend{build: writeOutput("x")}
			src := f.src
			src.ProbeState = state

			_, err := f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindRemux})

			var invalid *artifact.InvalidInputError
			require.ErrorAs(t, err, &invalid)
			assert.Contains(t, err.Error(), "analyzed")
			assert.Zero(t, backend.calls.Load())

			recs, err := f.records.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, recs)
			locks, err := f.locks.List(context.Background())
			require.NoError(t, err)
			assert.Empty(t, locks)
		})
	}
}

func TestBuildForTarget_RejectsUnsupportedContainer(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("x")}
	src := f.src
	src.Container = "FLV"

	_, err := f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindRemux})

	var unsupported *artifact.UnsupportedContainerError
	require.ErrorAs(t, err, &unsupported)
	assert.Equal(t, "flv", unsupported.Container)
	assert.Equal(t, artifact.SupportedInputContainers, unsupported.Supported)
	assert.Contains(t, err.Error(), "mkv, m2ts, ts, webm, avi, mp4, mov, m4v")
	assert.Zero(t, backend.calls.Load())
	assert.Empty(t, cacheEntries(t, f.cacheDir))
}

func TestBuildForTarget_ContainerIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("artifact")}
	src := f.src
	src.Container = " MKV "

	res, err := f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindAuto})
	require.NoError(t, err)
	assert.Equal(t, artifact.KindRemux, res.Kind)
}

func TestBuildForTarget_RejectsImportedKind(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("x")}

	_, err := f.orch.BuildForTarget(context.Background(), backend, f.src, artifact.TargetProfile{Kind: artifact.KindSubtitleSRTImported})

	var invalid *artifact.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Zero(t, backend.calls.Load())
}

func TestBuildForTarget_BuildsThenReuses(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("fmp4 payload")}
	ctx := context.Background()

	res, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindAuto})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, artifact.KindRemux, res.Kind)
	assert.Equal(t, int64(len("fmp4 payload")), res.SizeBytes)
	assert.Equal(t, f.cacheDir, filepath.Dir(res.Path))

	rec := f.record(t, artifact.KindRemux, 0)
	require.NotNil(t, rec)
	assert.Equal(t, artifact.StatusReady, rec.Status)
	assert.Equal(t, res.Path, rec.Path)
	assert.Equal(t, artifact.FormatVersion, rec.FormatVersion)
	assert.True(t, rec.LastAccessedAt.IsZero())
	f.assertUnlocked(t, artifact.KindRemux)

	f.clock.Advance(time.Hour)
	again, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, res.Path, again.Path)
	assert.Equal(t, int32(1), backend.calls.Load())

	rec = f.record(t, artifact.KindRemux, 0)
	assert.Equal(t, f.clock.Now(), rec.LastAccessedAt)
	locks, err := f.locks.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, locks)
}

func TestBuildForTarget_TrackGetsOwnSlot(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("payload")}
	ctx := context.Background()

	first, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)
	second, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux, AudioTrackIndex: 2})
	require.NoError(t, err)

	assert.NotEqual(t, first.Path, second.Path)
	assert.False(t, second.CacheHit)
	assert.Equal(t, int32(2), backend.calls.Load())
	assert.NotNil(t, f.record(t, artifact.KindRemux, 2))
}

func TestBuildForTarget_SourceChangeRebuilds(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("payload")}
	ctx := context.Background()

	old, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(f.src.Path, []byte("source bytes v2, longer"), 0o644))
	fresh, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)

	assert.False(t, fresh.CacheHit)
	assert.NotEqual(t, old.Path, fresh.Path)
	assert.NoFileExists(t, old.Path)
	assert.FileExists(t, fresh.Path)
	assert.Equal(t, int32(2), backend.calls.Load())
}

func TestBuildForTarget_BusyLock(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("x")}
	ctx := context.Background()

	ok, err := f.coord.TryAcquire(ctx, f.src.MediaFileID, artifact.KindRemux)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})

	var busy *artifact.BuildInProgressError
	require.ErrorAs(t, err, &busy)
	assert.Equal(t, "7:remux_fmp4_appletv", busy.LockKey)
	assert.True(t, artifact.IsTransient(err))
	assert.Zero(t, backend.calls.Load())
	assert.Nil(t, f.record(t, artifact.KindRemux, 0))
}

func TestBuildForTarget_ConcurrentSameKeySingleWriter(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	started := make(chan struct{})
	unblock := make(chan struct{})
	write := writeOutput("payload")
	backend := &fakeBackend{build: func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		close(started)
		<-unblock
		return write(ctx, req)
	}}
	ctx := context.Background()

	type result struct {
		res artifact.ArtifactResult
		err error
	}
	firstCh := make(chan result, 1)
	go func() {
		res, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
		firstCh <- result{res, err}
	}()
	<-started

	assert.Equal(t, artifact.StatusBuilding, f.record(t, artifact.KindRemux, 0).Status)

	_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.True(t, artifact.IsTransient(err), "second writer must be refused: %v", err)

	close(unblock)
	first := <-firstCh
	require.NoError(t, first.err)
	assert.Equal(t, int32(1), backend.calls.Load())
}

func TestBuildForTarget_DifferentKindsRunInParallel(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	remuxStarted := make(chan struct{})
	unblock := make(chan struct{})
	write := writeOutput("payload")
	backend := &fakeBackend{build: func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		if req.Target.Kind == artifact.KindRemux {
			close(remuxStarted)
			<-unblock
		}
		return write(ctx, req)
	}}
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
		errCh <- err
	}()
	<-remuxStarted

	res, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindTranscode})
	require.NoError(t, err)
	assert.Equal(t, artifact.KindTranscode, res.Kind)

	close(unblock)
	require.NoError(t, <-errCh)
}

func TestBuildForTarget_BackendFailure(t *testing.T) {
	f := newFixture(t)
	cause := errors.New("ffmpeg exited with status 1")
	backend := &fakeBackend{build: func(_ context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		_ = os.WriteFile(req.OutputPath+artifact.PartialSuffix, []byte("half"), 0o644)
		return artifact.ArtifactResult{}, cause
	}}

	_, err := f.orch.BuildForTarget(context.Background(), backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})

	var failure *artifact.BackendFailure
	require.ErrorAs(t, err, &failure)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, artifact.KindRemux, failure.Kind)

	rec := f.record(t, artifact.KindRemux, 0)
	require.NotNil(t, rec)
	assert.Equal(t, artifact.StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "ffmpeg exited")
	assert.Empty(t, cacheEntries(t, f.cacheDir))
	f.assertUnlocked(t, artifact.KindRemux)
}

func TestBuildForTarget_EmptyOutputFails(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("")}

	_, err := f.orch.BuildForTarget(context.Background(), backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})

	var failure *artifact.BackendFailure
	require.ErrorAs(t, err, &failure)
	assert.Equal(t, artifact.StatusFailed, f.record(t, artifact.KindRemux, 0).Status)
	assert.Empty(t, cacheEntries(t, f.cacheDir))
}

func TestBuildForTarget_RetryAfterFailure(t *testing.T) {
	f := newFixture(t)
	fail := true
	write := writeOutput("payload")
	backend := &fakeBackend{build: func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		if fail {
			return artifact.ArtifactResult{}, errors.New("transient disk error")
		}
		return write(ctx, req)
	}}
	ctx := context.Background()

	_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.Error(t, err)

	fail = false
	res, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)
	assert.False(t, res.CacheHit)
	assert.Equal(t, artifact.StatusReady, f.record(t, artifact.KindRemux, 0).Status)
}

// blockingBackend writes a partial file and then waits for cancellation.
func blockingBackend(started chan<- struct{}) *fakeBackend {
	return &fakeBackend{build: func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		if err := os.WriteFile(req.OutputPath+artifact.PartialSuffix, []byte("partial"), 0o644); err != nil {
			return artifact.ArtifactResult{}, err
		}
		close(started)
		<-ctx.Done()
		return artifact.ArtifactResult{}, ctx.Err()
	}}
}

func TestBuildForTarget_CancelViaCoordinator(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	started := make(chan struct{})
	backend := blockingBackend(started)
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
		errCh <- err
	}()
	<-started

	require.NoError(t, f.orch.Cancel(ctx, f.src.MediaFileID, artifact.KindRemux))

	// Cancel returns once cleanup and release are done.
	rec := f.record(t, artifact.KindRemux, 0)
	assert.Equal(t, artifact.StatusFailed, rec.Status)
	assert.Empty(t, cacheEntries(t, f.cacheDir))
	f.assertUnlocked(t, artifact.KindRemux)

	err := <-errCh
	assert.True(t, artifact.IsCanceled(err), "got %v", err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildForTarget_CancelViaContext(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	started := make(chan struct{})
	backend := blockingBackend(started)
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
		errCh <- err
	}()
	<-started
	cancel()

	err := <-errCh
	var canceled *artifact.CancellationError
	require.ErrorAs(t, err, &canceled)
	assert.Equal(t, "7:remux_fmp4_appletv", canceled.LockKey)

	rec := f.record(t, artifact.KindRemux, 0)
	assert.Equal(t, artifact.StatusFailed, rec.Status)
	assert.NotEmpty(t, rec.Error)
	assert.Empty(t, cacheEntries(t, f.cacheDir))
	f.assertUnlocked(t, artifact.KindRemux)
}

func TestBuildForTarget_CleansUpWhenBackendIgnoresCancel(t *testing.T) {
	f := newFixture(t)
	started := make(chan struct{})
	release := make(chan struct{})
	backend := &fakeBackend{build: func(_ context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		_ = os.WriteFile(req.OutputPath+artifact.PartialSuffix, []byte("partial"), 0o644)
		close(started)
		<-release
		return artifact.ArtifactResult{}, nil
	}}
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.BuildForTarget(ctx, backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
		errCh <- err
	}()
	<-started
	cancel()

	// The grace timer runs on the mock clock; fire it once the orchestrator waits.
	require.Eventually(t, func() bool {
		f.clock.Advance(10 * time.Second)
		select {
		case err := <-errCh:
			assert.True(t, artifact.IsCanceled(err))
			return true
		default:
			return false
		}
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, artifact.StatusFailed, f.record(t, artifact.KindRemux, 0).Status)
	f.assertUnlocked(t, artifact.KindRemux)
	close(release)
}

func TestBuildForTarget_PersistsWorkerPID(t *testing.T) {
	f := newFixture(t)
	write := writeOutput("payload")
	var seen int
	backend := &fakeBackend{build: func(ctx context.Context, req artifact.BuildRequest) (artifact.ArtifactResult, error) {
		req.OnStart(424242)
		l, err := f.locks.Get(ctx, artifact.LockKey(req.Source.MediaFileID, req.Target.Kind))
		if err != nil || l == nil {
			return artifact.ArtifactResult{}, errors.New("lock row missing")
		}
		seen = l.WorkerPID
		return write(ctx, req)
	}}

	_, err := f.orch.BuildForTarget(context.Background(), backend, f.src, artifact.TargetProfile{Kind: artifact.KindRemux})
	require.NoError(t, err)
	assert.Equal(t, 424242, seen)
}

func TestImportSubtitle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	body := "1\n00:00:01,000 --> 00:00:02,000\nHello\n"

	res, err := f.orch.ImportSubtitle(ctx, 7, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, artifact.KindSubtitleSRTImported, res.Kind)
	assert.Equal(t, "7__imported__subtitles.srt", filepath.Base(res.Path))
	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	rec := f.record(t, artifact.KindSubtitleSRTImported, 0)
	require.NotNil(t, rec)
	assert.Equal(t, artifact.StatusReady, rec.Status)
	assert.Equal(t, int64(len(body)), rec.SizeBytes)
	f.assertUnlocked(t, artifact.KindSubtitleSRTImported)
}

func TestImportSubtitle_RejectsEmptyAndOversized(t *testing.T) {
	f := newFixture(t)
	f.orch.maxImportBytes = 16
	ctx := context.Background()

	res, err := f.orch.ImportSubtitle(ctx, 7, strings.NewReader("small"))
	require.NoError(t, err)

	var invalid *artifact.InvalidInputError
	_, err = f.orch.ImportSubtitle(ctx, 7, strings.NewReader(""))
	require.ErrorAs(t, err, &invalid)

	_, err = f.orch.ImportSubtitle(ctx, 7, strings.NewReader(strings.Repeat("x", 17)))
	require.ErrorAs(t, err, &invalid)

	data, err := os.ReadFile(res.Path)
	require.NoError(t, err)
	assert.Equal(t, "small", string(data), "rejected import must not replace the previous one")
	assert.Equal(t, []string{"7__imported__subtitles.srt"}, cacheEntries(t, f.cacheDir))
}

func TestBuildForTarget_AutoKindFollowsSelectedAudioTrack(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("artifact")}
	src := f.src
	src.AudioTrackCodecs = []string{"aac", "truehd"}

	res, err := f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindAuto})
	require.NoError(t, err)
	assert.Equal(t, artifact.KindRemux, res.Kind)

	res, err = f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindAuto, AudioTrackIndex: 1})
	require.NoError(t, err)
	assert.Equal(t, artifact.KindRemuxAdaptiveEAC3, res.Kind)
	require.NotNil(t, f.record(t, artifact.KindRemuxAdaptiveEAC3, 1))
}

func TestBuildForTarget_RejectsMissingAudioTrack(t *testing.T) {
	f := newFixture(t)
	backend := &fakeBackend{build: writeOutput("x")}
	src := f.src
	src.AudioTrackCodecs = []string{"aac"}

	_, err := f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindRemux, AudioTrackIndex: 1})

	var invalid *artifact.InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "audio track 1 not present")
	assert.Zero(t, backend.calls.Load())

	// Subtitle kinds index subtitle streams, not audio.
	_, err = f.orch.BuildForTarget(context.Background(), backend, src, artifact.TargetProfile{Kind: artifact.KindSubtitleSRT, AudioTrackIndex: 1})
	require.NoError(t, err)
}

// dripReader yields one byte per read and never ends.
type dripReader struct{}

func (dripReader) Read(p []byte) (int, error) {
	time.Sleep(time.Millisecond)
	if len(p) == 0 {
		return 0, nil
	}
	p[0] = 'x'
	return 1, nil
}

func TestImportSubtitle_Cancel(t *testing.T) {
	f := newFixture(t)
	f.orch.maxImportBytes = 1 << 30
	ctx := context.Background()

	errCh := make(chan error, 1)
	go func() {
		_, err := f.orch.ImportSubtitle(ctx, 7, dripReader{})
		errCh <- err
	}()
	require.Eventually(t, func() bool {
		locked, err := f.coord.IsLocked(ctx, 7, artifact.KindSubtitleSRTImported)
		return err == nil && locked
	}, 5*time.Second, 5*time.Millisecond)

	require.NoError(t, f.coord.Cancel(ctx, 7, artifact.KindSubtitleSRTImported))

	var err error
	select {
	case err = <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("import did not stop after cancel")
	}
	var canceled *artifact.CancellationError
	require.ErrorAs(t, err, &canceled)
	assert.Nil(t, f.record(t, artifact.KindSubtitleSRTImported, 0))
	assert.Empty(t, cacheEntries(t, f.cacheDir), "no partial import left behind")
	f.assertUnlocked(t, artifact.KindSubtitleSRTImported)
}
