// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config loads the artifactd configuration.
// Precedence is environment > YAML file > defaults.
package config

import "time"

// EnvPrefix namespaces every environment key.
const EnvPrefix = "ARTIFACTD_"

// Build backends.
const (
	BackendFFmpeg = "ffmpeg"
	BackendStub   = "stub"
)

// AppConfig is the effective configuration of the daemon.
type AppConfig struct {
	Version string

	DataDir    string
	CacheDir   string
	ListenAddr string
	LogLevel   string

	Backend      string
	FFmpegBin    string
	FFprobeBin   string
	ProbeTimeout time.Duration

	Store       StoreConfig
	Redis       RedisConfig
	Eviction    EvictionConfig
	Build       BuildConfig
	Fingerprint FingerprintConfig
	Tracing     TracingConfig

	// RateLimitRPM limits API requests per client IP and minute. 0 disables.
	RateLimitRPM int
}

// StoreConfig selects the record and lock backends.
type StoreConfig struct {
	RecordBackend string
	LockBackend   string
}

// RedisConfig is shared by the redis lock store and the fingerprint cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// EvictionConfig drives the background sweeper.
type EvictionConfig struct {
	BudgetBytes   int64
	SweepInterval time.Duration
	Window        time.Duration
}

// BuildConfig tunes the orchestrator and lock coordinator.
type BuildConfig struct {
	CancelGrace          time.Duration
	LockForceUnlockAfter time.Duration
	MaxImportBytes       int64
}

// FingerprintConfig selects the fingerprint memo cache.
type FingerprintConfig struct {
	Cache string
	TTL   time.Duration
}

// TracingConfig mirrors telemetry.Config.
type TracingConfig struct {
	Enabled    bool
	Exporter   string
	Endpoint   string
	Insecure   bool
	SampleRate float64
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	return AppConfig{
		DataDir:      "/var/lib/artifactd",
		ListenAddr:   ":8088",
		LogLevel:     "info",
		Backend:      BackendFFmpeg,
		FFmpegBin:    "ffmpeg",
		FFprobeBin:   "ffprobe",
		ProbeTimeout: 30 * time.Second,
		Store: StoreConfig{
			RecordBackend: "sqlite",
			LockBackend:   "sqlite",
		},
		Eviction: EvictionConfig{
			BudgetBytes:   50 << 30,
			SweepInterval: 10 * time.Minute,
			Window:        5 * time.Minute,
		},
		Build: BuildConfig{
			CancelGrace:          10 * time.Second,
			LockForceUnlockAfter: 6 * time.Hour,
			MaxImportBytes:       10 << 20,
		},
		Fingerprint: FingerprintConfig{
			Cache: "memory",
			TTL:   24 * time.Hour,
		},
		Tracing: TracingConfig{
			Exporter:   "grpc",
			Endpoint:   "localhost:4317",
			SampleRate: 1.0,
		},
		RateLimitRPM: 120,
	}
}
