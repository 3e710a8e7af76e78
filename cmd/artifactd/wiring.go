// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ManuGH/artifactd/internal/backend/ffmpeg"
	"github.com/ManuGH/artifactd/internal/backend/stub"
	"github.com/ManuGH/artifactd/internal/cache"
	"github.com/ManuGH/artifactd/internal/config"
	"github.com/ManuGH/artifactd/internal/control/build"
	"github.com/ManuGH/artifactd/internal/control/evict"
	"github.com/ManuGH/artifactd/internal/control/lock"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/fingerprint"
	alog "github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/store"
)

// runtime is the wired core shared by the daemon and the maintenance commands.
type runtime struct {
	cfg     config.AppConfig
	records artifact.RecordStore
	locks   artifact.LockStore
	memo    cache.Cache
	hasher  *fingerprint.Hasher
	coord   *lock.Coordinator
	orch    *build.Orchestrator
	sweeper *evict.Manager
	backend artifact.Backend
}

func wire(cfg config.AppConfig) (_ *runtime, err error) {
	rt := &runtime{cfg: cfg}
	defer func() {
		if err != nil {
			_ = rt.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	if rt.records, err = store.NewRecordStore(cfg.Store.RecordBackend, cfg.DataDir); err != nil {
		return nil, fmt.Errorf("record store: %w", err)
	}
	rt.locks, err = store.NewLockStore(cfg.Store.LockBackend, cfg.DataDir, store.RedisConfig{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("lock store: %w", err)
	}

	rt.memo, err = cache.New(cache.Config{
		Backend:         cfg.Fingerprint.Cache,
		CleanupInterval: 10 * time.Minute,
		Redis: cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	}, alog.WithComponent("cache"))
	if err != nil {
		return nil, fmt.Errorf("fingerprint cache: %w", err)
	}
	rt.hasher = fingerprint.New(fingerprint.WithMemo(rt.memo, cfg.Fingerprint.TTL))

	rt.coord = lock.New(lock.Config{
		Locks:            rt.locks,
		Records:          rt.records,
		ForceUnlockAfter: cfg.Build.LockForceUnlockAfter,
	})
	rt.orch, err = build.New(build.Config{
		Records:        rt.records,
		Locks:          rt.coord,
		Hasher:         rt.hasher,
		CacheDir:       cfg.CacheDir,
		CancelGrace:    cfg.Build.CancelGrace,
		MaxImportBytes: cfg.Build.MaxImportBytes,
	})
	if err != nil {
		return nil, err
	}
	rt.sweeper = evict.New(evict.Config{
		Records:  rt.records,
		Locks:    rt.coord,
		CacheDir: cfg.CacheDir,
		Window:   cfg.Eviction.Window,
	})
	rt.backend = newBackend(cfg)
	return rt, nil
}

func newBackend(cfg config.AppConfig) artifact.Backend {
	if cfg.Backend == config.BackendStub {
		return stub.New()
	}
	return ffmpeg.New(ffmpeg.Config{
		FFmpegBin:    cfg.FFmpegBin,
		FFprobeBin:   cfg.FFprobeBin,
		ProbeTimeout: cfg.ProbeTimeout,
	})
}

// recover reclaims what a previous run left behind. Records are only
// touched once no live owner holds their lock.
func (rt *runtime) recover(ctx context.Context) (lock.RecoveryReport, error) {
	return rt.coord.Recover(ctx)
}

// Close releases stores and caches. Safe on a partially wired runtime.
func (rt *runtime) Close() error {
	var errs []error
	if rt.memo != nil {
		errs = append(errs, rt.memo.Close())
	}
	if rt.locks != nil {
		errs = append(errs, rt.locks.Close())
	}
	if rt.records != nil {
		errs = append(errs, rt.records.Close())
	}
	return errors.Join(errs...)
}
