// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/ManuGH/artifactd/internal/api"
	"github.com/ManuGH/artifactd/internal/cache"
	"github.com/ManuGH/artifactd/internal/config"
	"github.com/ManuGH/artifactd/internal/health"
	alog "github.com/ManuGH/artifactd/internal/log"
	"github.com/ManuGH/artifactd/internal/store"
	"github.com/ManuGH/artifactd/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func runServe(args []string, stdout, stderr io.Writer) int {
	var configPath string
	fs := newFlagSet("serve", stderr, &configPath)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	loader, cfg, err := loadConfig(configPath, stdout)
	logger := alog.WithComponent("daemon")
	if err != nil {
		logger.Error().Err(err).Str(alog.FieldEvent, "config.load_failed").Str("config_path", loader.Path()).Msg("failed to load configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, loader, cfg, nil); err != nil {
		logger.Error().Err(err).Str(alog.FieldEvent, "daemon.failed").Msg("daemon failed")
		return 1
	}
	logger.Info().Msg("server exiting")
	return 0
}

// serve runs the daemon until ctx is done. When ready is non-nil it receives
// the bound listen address once the API accepts connections.
func serve(ctx context.Context, loader *config.Loader, cfg config.AppConfig, ready chan<- string) error {
	logger := alog.WithComponent("daemon")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		return fmt.Errorf("startup checks: %w", err)
	}

	rt, err := wire(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing stores failed")
		}
	}()

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "artifactd",
		ServiceVersion: version,
		InstanceID:     rt.coord.Instance(),
		ExporterType:   cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
		SamplingRate:   cfg.Tracing.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(sctx); err != nil {
			logger.Warn().Err(err).Msg("telemetry shutdown failed")
		}
	}()

	rep, err := rt.recover(ctx)
	if err != nil {
		return fmt.Errorf("recovery: %w", err)
	}
	logger.Info().
		Str(alog.FieldEvent, "startup.recovered").
		Int("locks_reclaimed", rep.LocksReclaimed).
		Int("records_failed", rep.RecordsFailed).
		Int("locks_kept", rep.LocksKept).
		Str(alog.FieldInstance, rt.coord.Instance()).
		Msg("recovery pass done")

	holder := config.NewHolder(cfg, loader)
	if err := holder.StartWatcher(ctx); err != nil {
		logger.Warn().Err(err).Msg("config watcher unavailable, hot reload disabled")
	}
	updates := make(chan config.AppConfig, 1)
	holder.RegisterListener(updates)

	hm := newHealthManager(rt)

	g, gctx := errgroup.WithContext(ctx)
	srv, err := api.New(api.Config{
		Builder:        rt.orch,
		Backend:        rt.backend,
		Sweeper:        rt.sweeper,
		Health:         hm,
		Budget:         holder.Budget,
		RateLimitRPM:   cfg.RateLimitRPM,
		TracingService: tracingService(cfg),
		BaseContext:    gctx,
	})
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.ListenAddr, err)
	}
	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return gctx },
	}

	logger.Info().
		Str(alog.FieldEvent, "startup").
		Str("version", version).
		Str("commit", commit).
		Str("build_date", buildDate).
		Str("addr", ln.Addr().String()).
		Str("backend", cfg.Backend).
		Str("cache_dir", cfg.CacheDir).
		Msg("starting artifactd")

	g.Go(func() error {
		if err := httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(sctx)
		srv.Wait()
		return err
	})
	g.Go(func() error {
		return rt.sweeper.Run(gctx, cfg.Eviction.SweepInterval, holder.Budget)
	})
	g.Go(func() error {
		applyReloads(gctx, updates)
		return nil
	})

	if ready != nil {
		ready <- ln.Addr().String()
	}
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// applyReloads applies the hot-reloadable settings. The eviction budget is
// read through the holder on every pass and needs nothing here.
func applyReloads(ctx context.Context, updates <-chan config.AppConfig) {
	for {
		select {
		case <-ctx.Done():
			return
		case cfg := <-updates:
			if err := alog.SetLevel(cfg.LogLevel); err != nil {
				logger := alog.WithComponent("daemon")
				logger.Warn().Err(err).Msg("ignoring reloaded log level")
			}
		}
	}
}

func newHealthManager(rt *runtime) *health.Manager {
	hm := health.NewManager(version)
	hm.RegisterChecker(health.NewDirChecker("cache_dir", rt.cfg.CacheDir))
	hm.RegisterChecker(health.NewDirChecker("data_dir", rt.cfg.DataDir))
	if rt.cfg.Backend == config.BackendFFmpeg {
		hm.RegisterChecker(health.NewBinaryChecker("ffmpeg", rt.cfg.FFmpegBin, true))
		hm.RegisterChecker(health.NewBinaryChecker("ffprobe", rt.cfg.FFprobeBin, true))
	}
	hm.RegisterChecker(health.NewFuncChecker("records", func(ctx context.Context) error {
		return store.Ping(ctx, rt.records)
	}))
	hm.RegisterChecker(health.NewFuncChecker("locks", func(ctx context.Context) error {
		return store.Ping(ctx, rt.locks)
	}))
	if rc, ok := rt.memo.(*cache.RedisCache); ok {
		hm.RegisterChecker(health.NewFuncChecker("fingerprint_cache", rc.HealthCheck))
	}
	return hm
}

func tracingService(cfg config.AppConfig) string {
	if !cfg.Tracing.Enabled {
		return ""
	}
	return "artifactd"
}
