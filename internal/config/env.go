// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"errors"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ManuGH/artifactd/internal/log"
	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
)

// Sentinel errors for configuration input that cannot be interpreted.
var (
	ErrUnknownConfigField = errors.New("unknown config field")
	ErrInvalidSize        = errors.New("invalid size")
)

// lookupEnv returns the value of key if it is set and non-empty, logging
// the fallback to the default otherwise.
func lookupEnv(logger zerolog.Logger, key string, def any) (string, bool) {
	v, ok := os.LookupEnv(key)
	if ok && v != "" {
		return v, true
	}
	ev := logger.Debug().Str("key", key).Interface("default", def).Str("source", "default")
	if ok {
		ev.Msg("using default value (environment variable is empty)")
	} else {
		ev.Msg("using default value")
	}
	return "", false
}

func logEnvValue(logger zerolog.Logger, key string, value any) {
	lowerKey := strings.ToLower(key)
	if strings.Contains(lowerKey, "password") || strings.Contains(lowerKey, "token") {
		logger.Debug().Str("key", key).Str("source", "environment").Bool("sensitive", true).Msg("using environment variable")
		return
	}
	logger.Debug().Str("key", key).Interface("value", value).Str("source", "environment").Msg("using environment variable")
}

func logInvalidEnv(logger zerolog.Logger, key, raw, kind string, def any) {
	logger.Warn().
		Str("key", key).
		Str("value", raw).
		Interface("default", def).
		Msg("invalid " + kind + " in environment variable, using default")
}

// ParseString reads a string from the environment or returns defaultValue.
func ParseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	logEnvValue(logger, key, v)
	return v
}

// ParseInt reads an integer from the environment. Parse errors fall back to
// defaultValue.
func ParseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	i, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		logInvalidEnv(logger, key, v, "integer", defaultValue)
		return defaultValue
	}
	logEnvValue(logger, key, i)
	return i
}

// ParseInt64 is ParseInt for 64-bit values.
func ParseInt64(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		logInvalidEnv(logger, key, v, "integer", defaultValue)
		return defaultValue
	}
	logEnvValue(logger, key, i)
	return i
}

// ParseBytes reads a size such as "50GiB", "800 MB" or "1048576".
func ParseBytes(key string, defaultValue int64) int64 {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	n, err := parseSize(v)
	if err != nil {
		logInvalidEnv(logger, key, v, "size", defaultValue)
		return defaultValue
	}
	logEnvValue(logger, key, n)
	return n
}

// ParseDuration reads a Go duration ("5m", "90s").
func ParseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	d, err := time.ParseDuration(strings.TrimSpace(v))
	if err != nil {
		logInvalidEnv(logger, key, v, "duration", defaultValue)
		return defaultValue
	}
	logEnvValue(logger, key, d.String())
	return d
}

// ParseBool accepts true/false, 1/0 and yes/no, case-insensitively.
func ParseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes":
		logEnvValue(logger, key, true)
		return true
	case "false", "0", "no":
		logEnvValue(logger, key, false)
		return false
	}
	logInvalidEnv(logger, key, v, "boolean", defaultValue)
	return defaultValue
}

// ParseFloat reads a float64 from the environment.
func ParseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := lookupEnv(logger, key, defaultValue)
	if !ok {
		return defaultValue
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil {
		logInvalidEnv(logger, key, v, "float", defaultValue)
		return defaultValue
	}
	logEnvValue(logger, key, f)
	return f
}

func parseSize(s string) (int64, error) {
	n, err := humanize.ParseBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n > math.MaxInt64 {
		return 0, ErrInvalidSize
	}
	return int64(n), nil
}
