// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence.
type Loader struct {
	configPath string
	version    string
	// ConsumedEnvKeys lists every environment key the last Load read.
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a loader. An empty configPath skips the file layer.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the YAML file path, if any.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) consume(key string) string {
	key = EnvPrefix + key
	l.ConsumedEnvKeys[key] = struct{}{}
	return key
}

func (l *Loader) envString(key, def string) string {
	return ParseString(l.consume(key), def)
}

func (l *Loader) envInt(key string, def int) int {
	return ParseInt(l.consume(key), def)
}

func (l *Loader) envInt64(key string, def int64) int64 {
	return ParseInt64(l.consume(key), def)
}

func (l *Loader) envBytes(key string, def int64) int64 {
	return ParseBytes(l.consume(key), def)
}

func (l *Loader) envDuration(key string, def time.Duration) time.Duration {
	return ParseDuration(l.consume(key), def)
}

func (l *Loader) envBool(key string, def bool) bool {
	return ParseBool(l.consume(key), def)
}

func (l *Loader) envFloat(key string, def float64) float64 {
	return ParseFloat(l.consume(key), def)
}

// Load runs defaults -> file (strict) -> environment -> validation.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		fileCfg, err := l.loadFile(l.configPath)
		if err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
		if err := mergeFile(&cfg, fileCfg); err != nil {
			return cfg, fmt.Errorf("merge file config: %w", err)
		}
	}

	l.mergeEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.DataDir, "cache")
	} else if abs, err := filepath.Abs(cfg.CacheDir); err == nil {
		cfg.CacheDir = abs
	}
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile parses a YAML file strictly: unknown keys and trailing
// documents are errors.
func (l *Loader) loadFile(path string) (*FileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fileCfg FileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fileCfg); err != nil {
		if errors.Is(err, io.EOF) {
			return &FileConfig{}, nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return nil, fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fileCfg, nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v time.Duration) {
	if v != 0 {
		*dst = v
	}
}

func mergeFile(cfg *AppConfig, f *FileConfig) error {
	setString(&cfg.DataDir, f.DataDir)
	setString(&cfg.CacheDir, f.CacheDir)
	setString(&cfg.ListenAddr, f.ListenAddr)
	setString(&cfg.LogLevel, f.LogLevel)

	setString(&cfg.Backend, f.Backend)
	setString(&cfg.FFmpegBin, f.FFmpeg.Bin)
	setString(&cfg.FFprobeBin, f.FFmpeg.FFprobeBin)
	setDuration(&cfg.ProbeTimeout, f.FFmpeg.ProbeTimeout)

	setString(&cfg.Store.RecordBackend, f.Store.Records)
	setString(&cfg.Store.LockBackend, f.Store.Locks)

	setString(&cfg.Redis.Addr, f.Redis.Addr)
	setString(&cfg.Redis.Password, f.Redis.Password)
	if f.Redis.DB != nil {
		cfg.Redis.DB = *f.Redis.DB
	}

	if f.Eviction.Budget != "" {
		n, err := parseSize(f.Eviction.Budget)
		if err != nil {
			return fmt.Errorf("eviction.budget %q: %w", f.Eviction.Budget, ErrInvalidSize)
		}
		cfg.Eviction.BudgetBytes = n
	}
	setDuration(&cfg.Eviction.SweepInterval, f.Eviction.SweepInterval)
	setDuration(&cfg.Eviction.Window, f.Eviction.Window)

	setDuration(&cfg.Build.CancelGrace, f.Build.CancelGrace)
	if f.Build.LockForceUnlockAfter != nil {
		cfg.Build.LockForceUnlockAfter = *f.Build.LockForceUnlockAfter
	}
	if f.Build.MaxImportSize != "" {
		n, err := parseSize(f.Build.MaxImportSize)
		if err != nil {
			return fmt.Errorf("build.maxImportSize %q: %w", f.Build.MaxImportSize, ErrInvalidSize)
		}
		cfg.Build.MaxImportBytes = n
	}

	setString(&cfg.Fingerprint.Cache, f.Fingerprint.Cache)
	setDuration(&cfg.Fingerprint.TTL, f.Fingerprint.TTL)

	if f.Tracing.Enabled != nil {
		cfg.Tracing.Enabled = *f.Tracing.Enabled
	}
	setString(&cfg.Tracing.Exporter, f.Tracing.Exporter)
	setString(&cfg.Tracing.Endpoint, f.Tracing.Endpoint)
	if f.Tracing.Insecure != nil {
		cfg.Tracing.Insecure = *f.Tracing.Insecure
	}
	if f.Tracing.SampleRate != nil {
		cfg.Tracing.SampleRate = *f.Tracing.SampleRate
	}

	if f.RateLimitRPM != nil {
		cfg.RateLimitRPM = *f.RateLimitRPM
	}
	return nil
}

func (l *Loader) mergeEnv(cfg *AppConfig) {
	cfg.DataDir = l.envString("DATA_DIR", cfg.DataDir)
	cfg.CacheDir = l.envString("CACHE_DIR", cfg.CacheDir)
	cfg.ListenAddr = l.envString("LISTEN_ADDR", cfg.ListenAddr)
	cfg.LogLevel = l.envString("LOG_LEVEL", cfg.LogLevel)

	cfg.Backend = l.envString("BACKEND", cfg.Backend)
	cfg.FFmpegBin = l.envString("FFMPEG_BIN", cfg.FFmpegBin)
	cfg.FFprobeBin = l.envString("FFPROBE_BIN", cfg.FFprobeBin)
	cfg.ProbeTimeout = l.envDuration("PROBE_TIMEOUT", cfg.ProbeTimeout)

	cfg.Store.RecordBackend = l.envString("STORE_BACKEND", cfg.Store.RecordBackend)
	cfg.Store.LockBackend = l.envString("LOCK_BACKEND", cfg.Store.LockBackend)

	cfg.Redis.Addr = l.envString("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = l.envString("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = l.envInt("REDIS_DB", cfg.Redis.DB)

	cfg.Eviction.BudgetBytes = l.envBytes("BUDGET_BYTES", cfg.Eviction.BudgetBytes)
	cfg.Eviction.SweepInterval = l.envDuration("SWEEP_INTERVAL", cfg.Eviction.SweepInterval)
	cfg.Eviction.Window = l.envDuration("EVICTION_WINDOW", cfg.Eviction.Window)

	cfg.Build.CancelGrace = l.envDuration("CANCEL_GRACE", cfg.Build.CancelGrace)
	cfg.Build.LockForceUnlockAfter = l.envDuration("LOCK_FORCE_UNLOCK_AFTER", cfg.Build.LockForceUnlockAfter)
	cfg.Build.MaxImportBytes = l.envInt64("MAX_IMPORT_BYTES", cfg.Build.MaxImportBytes)

	cfg.Fingerprint.Cache = l.envString("FINGERPRINT_CACHE", cfg.Fingerprint.Cache)
	cfg.Fingerprint.TTL = l.envDuration("FINGERPRINT_TTL", cfg.Fingerprint.TTL)

	cfg.Tracing.Enabled = l.envBool("TRACING_ENABLED", cfg.Tracing.Enabled)
	cfg.Tracing.Exporter = l.envString("TRACING_EXPORTER", cfg.Tracing.Exporter)
	cfg.Tracing.Endpoint = l.envString("TRACING_ENDPOINT", cfg.Tracing.Endpoint)
	cfg.Tracing.Insecure = l.envBool("TRACING_INSECURE", cfg.Tracing.Insecure)
	cfg.Tracing.SampleRate = l.envFloat("TRACING_SAMPLE_RATE", cfg.Tracing.SampleRate)

	cfg.RateLimitRPM = l.envInt("RATE_LIMIT_RPM", cfg.RateLimitRPM)
}
