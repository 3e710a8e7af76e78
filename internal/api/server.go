// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api is the HTTP surface of artifactd: build, status, cancel,
// subtitle import, eviction sweeps, probes, metrics and health.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"

	"github.com/ManuGH/artifactd/internal/api/middleware"
	"github.com/ManuGH/artifactd/internal/control/evict"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/health"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Builder is the orchestrator as seen by the HTTP layer.
type Builder interface {
	BuildForTarget(ctx context.Context, backend artifact.Backend, src artifact.SourceInput, target artifact.TargetProfile) (artifact.ArtifactResult, error)
	ImportSubtitle(ctx context.Context, mediaFileID int64, r io.Reader) (artifact.ArtifactResult, error)
	Cancel(ctx context.Context, mediaFileID int64, kind string) error
	Status(ctx context.Context, slot artifact.Slot) (*artifact.Record, error)
	Records(ctx context.Context, mediaFileID int64, kind string) ([]artifact.Record, error)
}

// Sweeper runs eviction passes on demand.
type Sweeper interface {
	Sweep(ctx context.Context, budgetBytes int64) (evict.SweepResult, error)
	SweepOrphans(ctx context.Context) (evict.OrphanResult, error)
}

// Config wires a Server. Builder, Backend and Sweeper are required.
type Config struct {
	Builder Builder
	Backend artifact.Backend
	Sweeper Sweeper
	Health  *health.Manager

	// Budget returns the current eviction budget for sweeps without an
	// explicit budget parameter.
	Budget func() int64

	RateLimitRPM   int
	TracingService string

	// BaseContext bounds asynchronous builds; canceling it cancels them.
	BaseContext context.Context
}

// Server serves the API.
type Server struct {
	builder Builder
	backend artifact.Backend
	sweeper Sweeper
	health  *health.Manager
	budget  func() int64

	rateLimitRPM   int
	tracingService string

	baseCtx context.Context
	async   sync.WaitGroup
	logger  zerolog.Logger
}

// New validates cfg and creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Builder == nil || cfg.Backend == nil || cfg.Sweeper == nil {
		return nil, errors.New("api: builder, backend and sweeper are required")
	}
	if cfg.Health == nil {
		cfg.Health = health.NewManager("")
	}
	if cfg.Budget == nil {
		cfg.Budget = func() int64 { return 0 }
	}
	if cfg.BaseContext == nil {
		cfg.BaseContext = context.Background()
	}
	return &Server{
		builder:        cfg.Builder,
		backend:        cfg.Backend,
		sweeper:        cfg.Sweeper,
		health:         cfg.Health,
		budget:         cfg.Budget,
		rateLimitRPM:   cfg.RateLimitRPM,
		tracingService: cfg.TracingService,
		baseCtx:        cfg.BaseContext,
		logger:         log.WithComponent("api"),
	}, nil
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableMetrics:  true,
		EnableLogging:  true,
		TracingService: s.tracingService,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PerMinute(s.rateLimitRPM))

		r.Post("/artifacts", s.handleBuild)
		r.Get("/artifacts/{mediaFileID}/{kind}", s.handleStatus)
		r.Post("/artifacts/{mediaFileID}/{kind}/cancel", s.handleCancel)
		r.Put("/artifacts/{mediaFileID}/subtitles/imported", s.handleImportSubtitle)
		r.Get("/probe", s.handleProbe)
		r.Post("/sweep", s.handleSweep)
	})
	return r
}

// Wait blocks until every asynchronous build started by this server returned.
func (s *Server) Wait() {
	s.async.Wait()
}
