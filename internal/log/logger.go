// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Output formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

const defaultService = "artifactd"

// Config configures the process-wide logger.
type Config struct {
	Level   string    // zerolog level name; empty or unknown means info
	Format  string    // FormatJSON (default) or FormatConsole
	Output  io.Writer // defaults to os.Stdout
	Service string    // defaults to "artifactd"
	Version string
}

var base atomic.Pointer[zerolog.Logger]

// Configure replaces the process-wide logger. The daemon calls it once
// with defaults and again once the configuration is loaded.
func Configure(cfg Config) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	w := cfg.Output
	if w == nil {
		w = os.Stdout
	}
	if cfg.Format == FormatConsole {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.TimeOnly, NoColor: true}
	}
	service := cfg.Service
	if service == "" {
		service = defaultService
	}

	zc := zerolog.New(w).With().Timestamp().Str("service", service)
	if cfg.Version != "" {
		zc = zc.Str("version", cfg.Version)
	}
	l := zc.Logger()
	base.Store(&l)
}

// SetLevel changes the global level without rebuilding the logger.
func SetLevel(level string) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func logger() zerolog.Logger {
	if l := base.Load(); l != nil {
		return *l
	}
	Configure(Config{})
	return *base.Load()
}

// L returns a copy of the base logger for one-off events.
func L() *zerolog.Logger {
	l := logger()
	return &l
}

// WithComponent returns a child logger tagged with component.
func WithComponent(component string) zerolog.Logger {
	return logger().With().Str(FieldComponent, component).Logger()
}
