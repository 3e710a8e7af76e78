// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"time"

	"github.com/ManuGH/artifactd/internal/validate"
)

var (
	recordBackends      = []string{"sqlite", "memory", "badger"}
	lockBackends        = []string{"sqlite", "memory", "redis"}
	buildBackends       = []string{BackendFFmpeg, BackendStub}
	fingerprintBackends = []string{"memory", "redis", "none"}
	logLevels           = []string{"trace", "debug", "info", "warn", "error"}
	tracingExporters    = []string{"grpc", "http"}
)

// minEvictionWindow matches the floor the eviction manager enforces.
const minEvictionWindow = 5 * time.Minute

// Validate checks cfg and creates missing data and cache directories.
func Validate(cfg AppConfig) error {
	v := validate.New()

	v.Directory("DataDir", cfg.DataDir, false)
	v.Directory("CacheDir", cfg.CacheDir, false)
	v.ListenAddr("ListenAddr", cfg.ListenAddr)
	v.OneOf("LogLevel", cfg.LogLevel, logLevels)

	v.OneOf("Backend", cfg.Backend, buildBackends)
	if cfg.Backend == BackendFFmpeg {
		v.NotEmpty("FFmpegBin", cfg.FFmpegBin)
		v.NotEmpty("FFprobeBin", cfg.FFprobeBin)
	}
	v.MinDuration("ProbeTimeout", cfg.ProbeTimeout, time.Second)

	v.OneOf("Store.RecordBackend", cfg.Store.RecordBackend, recordBackends)
	v.OneOf("Store.LockBackend", cfg.Store.LockBackend, lockBackends)
	v.OneOf("Fingerprint.Cache", cfg.Fingerprint.Cache, fingerprintBackends)
	if cfg.Store.LockBackend == "redis" || cfg.Fingerprint.Cache == "redis" {
		v.NotEmpty("Redis.Addr", cfg.Redis.Addr)
	}
	v.NonNegative("Redis.DB", int64(cfg.Redis.DB))

	v.Positive("Eviction.BudgetBytes", cfg.Eviction.BudgetBytes)
	v.MinDuration("Eviction.SweepInterval", cfg.Eviction.SweepInterval, time.Second)
	v.MinDuration("Eviction.Window", cfg.Eviction.Window, minEvictionWindow)

	v.MinDuration("Build.CancelGrace", cfg.Build.CancelGrace, time.Millisecond)
	v.MinDuration("Build.LockForceUnlockAfter", cfg.Build.LockForceUnlockAfter, 0)
	v.Positive("Build.MaxImportBytes", cfg.Build.MaxImportBytes)
	v.MinDuration("Fingerprint.TTL", cfg.Fingerprint.TTL, time.Second)

	if cfg.Tracing.Enabled {
		v.OneOf("Tracing.Exporter", cfg.Tracing.Exporter, tracingExporters)
		v.NotEmpty("Tracing.Endpoint", cfg.Tracing.Endpoint)
	}
	if cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1 {
		v.AddError("Tracing.SampleRate", fmt.Sprintf("must be between 0 and 1, got %g", cfg.Tracing.SampleRate), cfg.Tracing.SampleRate)
	}
	v.NonNegative("RateLimitRPM", int64(cfg.RateLimitRPM))

	return v.Err()
}
