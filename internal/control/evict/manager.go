// Package evict keeps the artifact cache under its byte budget.
// Policy: only ready or failed records idle longer than the safety window
// are candidates; they are removed least recently used first until the
// recorded total fits the budget. Locked slots are never touched.
package evict

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ManuGH/artifactd/internal/control"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	ReasonBudget = "budget"
	ReasonOrphan = "orphan"
)

// SweepResult captures a single eviction pass outcome.
type SweepResult struct {
	Records        int
	TotalBytes     int64 // recorded size before the pass
	RemainingBytes int64
	Evicted        int
	EvictedBytes   int64
	SkippedLocked  int
	SkippedRecent  int
	SkippedChanged int // row changed between the snapshot and the delete
	Errors         int
}

// OrphanResult captures a pass over files no record refers to.
type OrphanResult struct {
	Scanned      int
	Removed      int
	RemovedBytes int64
	Errors       int
}

// Config wires a Manager.
type Config struct {
	Records  artifact.RecordStore
	Locks    artifact.LockChecker
	FS       control.FS
	Clock    control.Clock
	CacheDir string
	// Window is the eviction safety window. Values below
	// artifact.EvictionSafetyWindow are raised to it.
	Window time.Duration
}

// Manager runs eviction passes. It holds no state between passes.
type Manager struct {
	records  artifact.RecordStore
	locks    artifact.LockChecker
	fs       control.FS
	clock    control.Clock
	cacheDir string
	window   time.Duration
	logger   zerolog.Logger
}

func New(cfg Config) *Manager {
	if cfg.FS == nil {
		cfg.FS = control.RealFS{}
	}
	if cfg.Clock == nil {
		cfg.Clock = control.RealClock{}
	}
	if cfg.Window < artifact.EvictionSafetyWindow {
		cfg.Window = artifact.EvictionSafetyWindow
	}
	return &Manager{
		records:  cfg.Records,
		locks:    cfg.Locks,
		fs:       cfg.FS,
		clock:    cfg.Clock,
		cacheDir: cfg.CacheDir,
		window:   cfg.Window,
		logger:   log.WithComponent("evict"),
	}
}

// Sweep evicts until the recorded artifact bytes fit budgetBytes or no
// eligible candidate remains. The file goes first; a record whose file
// could not be removed is kept so the file is never orphaned.
func (m *Manager) Sweep(ctx context.Context, budgetBytes int64) (res SweepResult, err error) {
	if budgetBytes < 0 {
		return res, fmt.Errorf("eviction budget must be >= 0, got %d", budgetBytes)
	}

	recs, err := m.records.List(ctx)
	if err != nil {
		return res, fmt.Errorf("evict: list records: %w", err)
	}
	res.Records = len(recs)
	for _, r := range recs {
		res.TotalBytes += r.SizeBytes
	}
	total := res.TotalBytes
	defer func() {
		res.RemainingBytes = total
		metrics.SetCacheBytes(total)
	}()

	if total <= budgetBytes {
		return res, nil
	}

	cutoff := m.clock.Now().Add(-m.window)
	candidates := make([]artifact.Record, 0, len(recs))
	for _, r := range recs {
		if r.Status != artifact.StatusReady && r.Status != artifact.StatusFailed {
			continue
		}
		if !r.LastUsed().Before(cutoff) {
			res.SkippedRecent++
			continue
		}
		candidates = append(candidates, r)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].LastUsed(), candidates[j].LastUsed()
		if a.Equal(b) {
			return candidates[i].Slot().String() < candidates[j].Slot().String()
		}
		return a.Before(b)
	})

	for _, r := range candidates {
		if total <= budgetBytes {
			break
		}
		if err := ctx.Err(); err != nil {
			return res, err
		}

		locked, err := m.isLocked(ctx, r.Slot())
		if err != nil {
			res.Errors++
			continue
		}
		if locked {
			res.SkippedLocked++
			continue
		}

		// The snapshot may be stale: a cache hit or a finished rebuild
		// since List makes the row ineligible.
		cur, err := m.records.Get(ctx, r.Slot())
		if err != nil {
			res.Errors++
			continue
		}
		if cur == nil {
			total -= r.SizeBytes
			continue
		}
		if !cur.SameArtifact(r) || !cur.LastUsed().Before(cutoff) {
			total += cur.SizeBytes - r.SizeBytes
			res.SkippedChanged++
			continue
		}

		if err := m.removeFile(cur.Path); err != nil {
			res.Errors++
			m.logger.Warn().Err(err).Str(log.FieldPath, cur.Path).Msg("eviction: file removal failed, record kept")
			continue
		}
		deleted, err := m.records.DeleteIdle(ctx, *cur, cutoff)
		if err != nil {
			res.Errors++
			m.logger.Warn().Err(err).Str("slot", r.Slot().String()).Msg("eviction: record delete failed")
			continue
		}
		if !deleted {
			// Used between the check and the delete. The next lookup finds
			// the file missing and heals the record to failed.
			res.SkippedChanged++
			m.logger.Warn().Str("slot", r.Slot().String()).Msg("eviction: record changed after file removal")
			continue
		}
		r = *cur

		total -= r.SizeBytes
		res.Evicted++
		res.EvictedBytes += r.SizeBytes
		metrics.IncEviction(ReasonBudget, r.SizeBytes)
		m.logger.Debug().
			Str("slot", r.Slot().String()).
			Int64(log.FieldSizeBytes, r.SizeBytes).
			Time("last_used", r.LastUsed()).
			Msg("artifact evicted")
	}

	if res.Evicted > 0 || res.Errors > 0 {
		m.logger.Info().
			Int("evicted", res.Evicted).
			Int64("evicted_bytes", res.EvictedBytes).
			Int64(log.FieldBudgetBytes, budgetBytes).
			Int64("remaining_bytes", total).
			Int("skipped_locked", res.SkippedLocked).
			Int("skipped_changed", res.SkippedChanged).
			Int("errors", res.Errors).
			Msg("eviction sweep complete")
	}
	return res, nil
}

func (m *Manager) isLocked(ctx context.Context, slot artifact.Slot) (bool, error) {
	if m.locks == nil {
		return false, nil
	}
	return m.locks.IsLocked(ctx, slot.MediaFileID, slot.Kind)
}

func (m *Manager) removeFile(path string) error {
	if path == "" {
		return nil
	}
	if err := m.fs.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// isArtifactName matches the flat cache naming scheme, including staging
// files, so unrelated files in the directory are never removed.
func isArtifactName(name string) bool {
	if !strings.Contains(name, "__") {
		return false
	}
	name = strings.TrimSuffix(name, artifact.PartialSuffix)
	return strings.HasSuffix(name, ".mp4") || strings.HasSuffix(name, ".srt")
}

// SweepOrphans removes artifact files in the cache directory that no
// record refers to and that are older than the safety window.
func (m *Manager) SweepOrphans(ctx context.Context) (OrphanResult, error) {
	var res OrphanResult
	if strings.TrimSpace(m.cacheDir) == "" {
		return res, nil
	}

	entries, err := m.fs.ReadDir(m.cacheDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return res, nil
		}
		return res, err
	}

	recs, err := m.records.List(ctx)
	if err != nil {
		return res, fmt.Errorf("evict: list records: %w", err)
	}
	known := make(map[string]struct{}, 2*len(recs))
	for _, r := range recs {
		if r.Path == "" {
			continue
		}
		p := filepath.Clean(r.Path)
		known[p] = struct{}{}
		known[p+artifact.PartialSuffix] = struct{}{}
	}

	cutoff := m.clock.Now().Add(-m.window)
	for _, entry := range entries {
		if entry.IsDir() || !isArtifactName(entry.Name()) {
			continue
		}
		res.Scanned++
		path := filepath.Join(m.cacheDir, entry.Name())
		if _, ok := known[path]; ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			res.Errors++
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := m.removeFile(path); err != nil {
			res.Errors++
			m.logger.Warn().Err(err).Str(log.FieldPath, path).Msg("orphan removal failed")
			continue
		}
		res.Removed++
		res.RemovedBytes += info.Size()
		metrics.IncEviction(ReasonOrphan, info.Size())
	}

	if res.Removed > 0 {
		m.logger.Info().Int("removed", res.Removed).Int64("removed_bytes", res.RemovedBytes).Msg("orphaned artifacts removed")
	}
	return res, nil
}

// Run sweeps every interval until ctx is done. budget is read on each pass
// so configuration reloads take effect without a restart.
func (m *Manager) Run(ctx context.Context, interval time.Duration, budget func() int64) error {
	if interval <= 0 {
		return fmt.Errorf("eviction interval must be > 0")
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-m.clock.After(interval):
		}
		if _, err := m.Sweep(ctx, budget()); err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("eviction sweep failed")
		}
		if _, err := m.SweepOrphans(ctx); err != nil && ctx.Err() == nil {
			m.logger.Error().Err(err).Msg("orphan sweep failed")
		}
	}
}
