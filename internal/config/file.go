// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import "time"

// FileConfig is the YAML schema. Absent keys keep their defaults; sizes
// accept units ("50GiB", "800MB") or plain byte counts.
type FileConfig struct {
	DataDir    string `yaml:"dataDir"`
	CacheDir   string `yaml:"cacheDir"`
	ListenAddr string `yaml:"listenAddr"`
	LogLevel   string `yaml:"logLevel"`

	Backend string `yaml:"backend"`
	FFmpeg  struct {
		Bin          string        `yaml:"bin"`
		FFprobeBin   string        `yaml:"ffprobeBin"`
		ProbeTimeout time.Duration `yaml:"probeTimeout"`
	} `yaml:"ffmpeg"`

	Store struct {
		Records string `yaml:"records"`
		Locks   string `yaml:"locks"`
	} `yaml:"store"`

	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       *int   `yaml:"db"`
	} `yaml:"redis"`

	Eviction struct {
		Budget        string        `yaml:"budget"`
		SweepInterval time.Duration `yaml:"sweepInterval"`
		Window        time.Duration `yaml:"window"`
	} `yaml:"eviction"`

	Build struct {
		CancelGrace          time.Duration  `yaml:"cancelGrace"`
		LockForceUnlockAfter *time.Duration `yaml:"lockForceUnlockAfter"`
		MaxImportSize        string         `yaml:"maxImportSize"`
	} `yaml:"build"`

	Fingerprint struct {
		Cache string        `yaml:"cache"`
		TTL   time.Duration `yaml:"ttl"`
	} `yaml:"fingerprint"`

	Tracing struct {
		Enabled    *bool    `yaml:"enabled"`
		Exporter   string   `yaml:"exporter"`
		Endpoint   string   `yaml:"endpoint"`
		Insecure   *bool    `yaml:"insecure"`
		SampleRate *float64 `yaml:"sampleRate"`
	} `yaml:"tracing"`

	RateLimitRPM *int `yaml:"rateLimitRPM"`
}
