// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestConfigure_AttachesServiceAndComponent(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "artifactd-test", Version: "v0.0.1"})
	t.Cleanup(func() { Configure(Config{}) })

	l := WithComponent("lock")
	l.Info().Str(FieldLockKey, "1:remux").Msg("granted")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "artifactd-test", entry["service"])
	require.Equal(t, "v0.0.1", entry["version"])
	require.Equal(t, "lock", entry[FieldComponent])
	require.Equal(t, "1:remux", entry[FieldLockKey])
}

func TestConfigure_Defaults(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Info().Msg("x")
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "artifactd", entry["service"])
	require.NotContains(t, entry, "version")
}

func TestConfigure_InvalidLevelFallsBackToInfo(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "nonsense", Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	L().Debug().Msg("hidden")
	require.Zero(t, buf.Len())
	L().Info().Msg("shown")
	require.NotZero(t, buf.Len())
}

func TestConfigure_Console(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf, Format: FormatConsole})
	t.Cleanup(func() { Configure(Config{}) })

	evictLogger := WithComponent("evict")
	evictLogger.Info().Int64(FieldSizeBytes, 12).Msg("artifact evicted")
	out := buf.String()
	require.Contains(t, out, "artifact evicted")
	require.Contains(t, out, "size_bytes=12")
	require.NotContains(t, out, "{")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})
	t.Cleanup(func() { Configure(Config{}) })

	require.NoError(t, SetLevel("warn"))
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	L().Info().Msg("hidden")
	require.Zero(t, buf.Len())

	require.Error(t, SetLevel("loud"))
	require.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
}
