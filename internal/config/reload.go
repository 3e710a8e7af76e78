// SPDX-License-Identifier: MIT

package config

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/ManuGH/artifactd/internal/log"
	"github.com/dustin/go-humanize"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

const defaultDebounce = 500 * time.Millisecond

// Holder owns the current configuration and reloads it from the YAML file.
// Only the eviction budget and the log level take effect without a restart;
// other changes are logged and wait for the next start.
type Holder struct {
	mu      sync.RWMutex
	current AppConfig
	loader  *Loader

	watcher  *fsnotify.Watcher
	debounce time.Duration
	logger   zerolog.Logger

	listenersMu sync.RWMutex
	listeners   []chan<- AppConfig
}

// NewHolder creates a Holder around an already loaded configuration.
func NewHolder(initial AppConfig, loader *Loader) *Holder {
	return &Holder{
		current:  initial,
		loader:   loader,
		debounce: defaultDebounce,
		logger:   log.WithComponent("config"),
	}
}

// Get returns the current configuration.
func (h *Holder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Budget returns the current eviction budget. The sweeper reads it on every pass.
func (h *Holder) Budget() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current.Eviction.BudgetBytes
}

// Reload loads and validates the configuration again. On error the old
// configuration stays in place.
func (h *Holder) Reload(_ context.Context) error {
	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().Err(err).Str(log.FieldEvent, "config.reload_failed").Msg("failed to reload configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.logChanges(oldCfg, newCfg)
	h.notify(newCfg)
	h.logger.Info().Str(log.FieldEvent, "config.reload_success").Msg("configuration reloaded")
	return nil
}

// StartWatcher watches the configuration file until ctx is done. Without a
// file it does nothing. The parent directory is watched so editors that
// replace the file by rename are picked up.
func (h *Holder) StartWatcher(ctx context.Context) error {
	path := h.loader.Path()
	if path == "" {
		h.logger.Info().Str(log.FieldEvent, "config.watcher_disabled").Msg("no config file, watcher disabled")
		return nil
	}
	path = filepath.Clean(path)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config dir: %w", err)
	}
	h.watcher = watcher

	h.logger.Info().Str(log.FieldEvent, "config.watcher_started").Str(log.FieldPath, path).Msg("watching config file for changes")
	go h.watchLoop(ctx, watcher, path)
	return nil
}

func (h *Holder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string) {
	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
		_ = watcher.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Debug().Str(log.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			h.logger.Debug().Str("op", event.Op.String()).Msg("config file changed")
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(h.debounce, func() {
				if ctx.Err() != nil {
					return
				}
				_ = h.Reload(ctx)
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().Err(err).Str(log.FieldEvent, "config.watcher_error").Msg("config watcher error")
		}
	}
}

// RegisterListener subscribes ch to successful reloads. Sends never block;
// a full channel misses the update.
func (h *Holder) RegisterListener(ch chan<- AppConfig) {
	h.listenersMu.Lock()
	defer h.listenersMu.Unlock()
	h.listeners = append(h.listeners, ch)
}

func (h *Holder) notify(cfg AppConfig) {
	h.listenersMu.RLock()
	defer h.listenersMu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- cfg:
		default:
			h.logger.Warn().Str(log.FieldEvent, "config.listener_skip").Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *Holder) logChanges(old, cur AppConfig) {
	if old.Eviction.BudgetBytes != cur.Eviction.BudgetBytes {
		h.logger.Info().
			Str("old", humanize.IBytes(uint64(old.Eviction.BudgetBytes))).
			Str("new", humanize.IBytes(uint64(cur.Eviction.BudgetBytes))).
			Msg("config changed: eviction budget")
	}
	if old.LogLevel != cur.LogLevel {
		h.logger.Info().Str("old", old.LogLevel).Str("new", cur.LogLevel).Msg("config changed: log level")
	}

	restart := func(name string, changed bool) {
		if changed {
			h.logger.Warn().Str("setting", name).Msg("config change takes effect after restart")
		}
	}
	restart("listenAddr", old.ListenAddr != cur.ListenAddr)
	restart("cacheDir", old.CacheDir != cur.CacheDir)
	restart("store", old.Store != cur.Store)
	restart("redis", old.Redis != cur.Redis)
	restart("backend", old.Backend != cur.Backend || old.FFmpegBin != cur.FFmpegBin || old.FFprobeBin != cur.FFprobeBin)
	restart("eviction.sweepInterval", old.Eviction.SweepInterval != cur.Eviction.SweepInterval)
	restart("eviction.window", old.Eviction.Window != cur.Eviction.Window)
	restart("build", old.Build != cur.Build)
	restart("tracing", old.Tracing != cur.Tracing)
}
