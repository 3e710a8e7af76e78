package evict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type lockSet map[string]bool

func (l lockSet) IsLocked(_ context.Context, id int64, kind string) (bool, error) {
	return l[artifact.LockKey(id, kind)], nil
}

// hookedLocks reports every slot unlocked but runs hook first, standing in
// for a request that lands between the sweep's listing and its delete.
type hookedLocks func(id int64, kind string)

func (h hookedLocks) IsLocked(_ context.Context, id int64, kind string) (bool, error) {
	h(id, kind)
	return false, nil
}

// stickyFS refuses to remove one path.
type stickyFS struct {
	control.RealFS
	path string
}

func (s stickyFS) Remove(name string) error {
	if name == s.path {
		return errors.New("device busy")
	}
	return os.Remove(name)
}

type env struct {
	dir     string
	records *store.MemoryRecords
	clock   *control.MockClock
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &env{
		dir:     t.TempDir(),
		records: store.NewMemoryRecords(),
		clock:   control.NewMockClock(now),
		now:     now,
	}
}

// add stores a record of size bytes last used idle ago, with its file.
func (e *env) add(t *testing.T, id int64, status artifact.Status, size int64, idle time.Duration) artifact.Record {
	t.Helper()
	fp := artifact.Fingerprint{Size: id, HeadHash: "h", TailHash: "t"}
	slot := artifact.Slot{MediaFileID: id, Kind: artifact.KindRemux}
	path := artifact.OutputPath(e.dir, slot, fp)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	rec := artifact.Record{
		MediaFileID: id, Kind: slot.Kind, Fingerprint: fp, Status: status,
		Path: path, SizeBytes: size, CreatedAt: e.now.Add(-idle), FormatVersion: artifact.FormatVersion,
	}
	require.NoError(t, e.records.Put(context.Background(), rec))
	return rec
}

func (e *env) manager(locks lockSet, fs control.FS) *Manager {
	return New(Config{Records: e.records, Locks: locks, FS: fs, Clock: e.clock, CacheDir: e.dir})
}

func (e *env) exists(t *testing.T, id int64) bool {
	t.Helper()
	rec, err := e.records.Get(context.Background(), artifact.Slot{MediaFileID: id, Kind: artifact.KindRemux})
	require.NoError(t, err)
	return rec != nil
}

func TestSweep_UnderBudgetIsNoop(t *testing.T) {
	e := newEnv(t)
	e.add(t, 1, artifact.StatusReady, 100, time.Hour)

	res, err := e.manager(lockSet{}, nil).Sweep(context.Background(), 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evicted)
	assert.Equal(t, int64(100), res.RemainingBytes)
}

func TestSweep_OldestFirstUntilUnderBudget(t *testing.T) {
	e := newEnv(t)
	oldest := e.add(t, 1, artifact.StatusReady, 100, 3*time.Hour)
	middle := e.add(t, 2, artifact.StatusFailed, 100, 2*time.Hour)
	newest := e.add(t, 3, artifact.StatusReady, 100, time.Hour)

	res, err := e.manager(lockSet{}, nil).Sweep(context.Background(), 150)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Evicted)
	assert.Equal(t, int64(200), res.EvictedBytes)
	assert.Equal(t, int64(100), res.RemainingBytes)

	assert.NoFileExists(t, oldest.Path)
	assert.NoFileExists(t, middle.Path)
	assert.FileExists(t, newest.Path)
	assert.False(t, e.exists(t, 1))
	assert.False(t, e.exists(t, 2))
	assert.True(t, e.exists(t, 3))
}

func TestSweep_LastAccessedOverridesCreatedAt(t *testing.T) {
	e := newEnv(t)
	a := e.add(t, 1, artifact.StatusReady, 100, 5*time.Hour)
	e.add(t, 2, artifact.StatusReady, 100, 4*time.Hour)
	require.NoError(t, e.records.Touch(context.Background(), a.Slot(), e.now.Add(-time.Hour)))

	_, err := e.manager(lockSet{}, nil).Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.True(t, e.exists(t, 1), "recently touched record survives")
	assert.False(t, e.exists(t, 2))
}

func TestSweep_SafetyWindowHoldsUnderPressure(t *testing.T) {
	e := newEnv(t)
	e.add(t, 1, artifact.StatusReady, 1000, 4*time.Minute)
	e.add(t, 2, artifact.StatusReady, 1000, 5*time.Minute)
	e.add(t, 3, artifact.StatusReady, 1000, 6*time.Minute)

	res, err := e.manager(lockSet{}, nil).Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 2, res.SkippedRecent)
	assert.True(t, e.exists(t, 1))
	assert.True(t, e.exists(t, 2), "exactly at the window edge is not older than it")
	assert.False(t, e.exists(t, 3))
}

func TestSweep_WindowCannotShrinkBelowFiveMinutes(t *testing.T) {
	e := newEnv(t)
	m := New(Config{Records: e.records, Clock: e.clock, Window: time.Second})
	assert.Equal(t, artifact.EvictionSafetyWindow, m.window)
}

func TestSweep_SkipsInFlightAndLocked(t *testing.T) {
	e := newEnv(t)
	e.add(t, 1, artifact.StatusBuilding, 100, time.Hour)
	e.add(t, 2, artifact.StatusPending, 100, time.Hour)
	e.add(t, 3, artifact.StatusReady, 100, time.Hour)
	e.add(t, 4, artifact.StatusReady, 100, 2*time.Hour)

	locks := lockSet{artifact.LockKey(4, artifact.KindRemux): true}
	res, err := e.manager(locks, nil).Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.Equal(t, 1, res.SkippedLocked)
	assert.True(t, e.exists(t, 1))
	assert.True(t, e.exists(t, 2))
	assert.False(t, e.exists(t, 3))
	assert.True(t, e.exists(t, 4))
}

func TestSweep_FileRemovalFailureKeepsRecord(t *testing.T) {
	e := newEnv(t)
	stuck := e.add(t, 1, artifact.StatusReady, 100, 2*time.Hour)
	e.add(t, 2, artifact.StatusReady, 100, time.Hour)

	res, err := e.manager(lockSet{}, stickyFS{path: stuck.Path}).Sweep(context.Background(), 100)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Errors)
	assert.Equal(t, 1, res.Evicted)
	assert.True(t, e.exists(t, 1), "record of an undeletable file is kept")
	assert.FileExists(t, stuck.Path)
	assert.False(t, e.exists(t, 2))
}

func TestSweep_MissingFileStillDropsRecord(t *testing.T) {
	e := newEnv(t)
	rec := e.add(t, 1, artifact.StatusReady, 100, time.Hour)
	require.NoError(t, os.Remove(rec.Path))

	res, err := e.manager(lockSet{}, nil).Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Evicted)
	assert.False(t, e.exists(t, 1))
}

func TestSweep_RejectsNegativeBudget(t *testing.T) {
	e := newEnv(t)
	_, err := e.manager(lockSet{}, nil).Sweep(context.Background(), -1)
	assert.Error(t, err)
}

func TestSweep_LongSequenceStaysWithinBudget(t *testing.T) {
	e := newEnv(t)
	m := e.manager(lockSet{}, nil)
	const budget = 50 * 100

	for i := int64(1); i <= 200; i++ {
		e.add(t, i, artifact.StatusReady, 100, 0)
		e.clock.Advance(time.Minute)
		e.now = e.clock.Now()
		if i%10 == 0 {
			res, err := m.Sweep(context.Background(), budget)
			require.NoError(t, err)
			// Only records younger than the window may keep us above budget.
			assert.LessOrEqual(t, res.RemainingBytes, int64(budget)+5*100, fmt.Sprintf("pass %d", i))
		}
	}
}

func TestSweepOrphans(t *testing.T) {
	e := newEnv(t)
	known := e.add(t, 1, artifact.StatusReady, 10, time.Hour)

	write := func(name string, age time.Duration) string {
		p := filepath.Join(e.dir, name)
		require.NoError(t, os.WriteFile(p, []byte("orphan"), 0o644))
		mt := e.now.Add(-age)
		require.NoError(t, os.Chtimes(p, mt, mt))
		return p
	}
	oldOrphan := write("9__abcdef012345__remux_fmp4.mp4", time.Hour)
	oldPartial := write("9__abcdef012345__remux_fmp4_transcode.mp4.partial", time.Hour)
	freshOrphan := write("8__abcdef012345__subtitles.srt", time.Minute)
	unrelated := write("notes.txt", time.Hour)
	knownPartial := write(filepath.Base(known.Path)+artifact.PartialSuffix, time.Hour)

	res, err := e.manager(lockSet{}, nil).SweepOrphans(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, res.Removed)
	assert.NoFileExists(t, oldOrphan)
	assert.NoFileExists(t, oldPartial)
	assert.FileExists(t, freshOrphan)
	assert.FileExists(t, unrelated)
	assert.FileExists(t, knownPartial)
	assert.FileExists(t, known.Path)
}

func TestRun_SweepsOnTickAndStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())
	e := newEnv(t)
	e.add(t, 1, artifact.StatusReady, 100, time.Hour)
	m := e.manager(lockSet{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, time.Minute, func() int64 { return 0 }) }()

	require.Eventually(t, func() bool {
		e.clock.Advance(time.Minute)
		return !e.exists(t, 1)
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestSweep_RecordUsedAfterListingSurvives(t *testing.T) {
	e := newEnv(t)
	rec := e.add(t, 1, artifact.StatusReady, 100, time.Hour)

	touch := hookedLocks(func(id int64, kind string) {
		slot := artifact.Slot{MediaFileID: id, Kind: kind}
		require.NoError(t, e.records.Touch(context.Background(), slot, e.now))
	})
	m := New(Config{Records: e.records, Locks: touch, Clock: e.clock, CacheDir: e.dir})

	res, err := m.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evicted)
	assert.Equal(t, 1, res.SkippedChanged)
	assert.True(t, e.exists(t, 1))
	assert.FileExists(t, rec.Path)
}

func TestSweep_RebuiltRecordSurvives(t *testing.T) {
	e := newEnv(t)
	old := e.add(t, 1, artifact.StatusReady, 100, time.Hour)

	fresh := old
	fresh.Fingerprint = artifact.Fingerprint{Size: 77, HeadHash: "new", TailHash: "new"}
	fresh.Path = artifact.OutputPath(e.dir, old.Slot(), fresh.Fingerprint)
	fresh.SizeBytes = 300
	fresh.CreatedAt = e.now.Add(-2 * time.Hour)
	rebuild := hookedLocks(func(int64, string) {
		require.NoError(t, os.WriteFile(fresh.Path, make([]byte, fresh.SizeBytes), 0o644))
		require.NoError(t, e.records.Put(context.Background(), fresh))
	})
	m := New(Config{Records: e.records, Locks: rebuild, Clock: e.clock, CacheDir: e.dir})

	res, err := m.Sweep(context.Background(), 0)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Evicted)
	assert.Equal(t, 1, res.SkippedChanged)
	assert.Equal(t, int64(300), res.RemainingBytes)

	got, err := e.records.Get(context.Background(), old.Slot())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fresh.Path, got.Path)
	assert.FileExists(t, fresh.Path)
}
