// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func TestRequestID(t *testing.T) {
	tests := []struct {
		name string
		ctx  context.Context
		id   string
	}{
		{name: "nil context", ctx: nil, id: "test-id-123"},
		{name: "background context", ctx: context.Background(), id: "req-456"},
		{name: "empty id", ctx: context.Background(), id: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.id, RequestIDFromContext(ContextWithRequestID(tt.ctx, tt.id)))
		})
	}
	require.Empty(t, RequestIDFromContext(nil))
	require.Empty(t, RequestIDFromContext(context.Background()))
}

func TestWithContext_AddsFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := ContextWithRequestID(context.Background(), "req-1")
	traceID := trace.TraceID{1, 2, 3}
	spanID := trace.SpanID{4}
	ctx = trace.ContextWithSpanContext(ctx, trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))

	l := WithContext(ctx, base)
	l.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "req-1", entry[FieldRequestID])
	require.Equal(t, traceID.String(), entry[FieldTraceID])
	require.Equal(t, spanID.String(), entry[FieldSpanID])
}

func TestWithContext_NoFields(t *testing.T) {
	var buf bytes.Buffer
	l := WithContext(context.Background(), zerolog.New(&buf))
	l.Info().Msg("plain")
	require.NotContains(t, buf.String(), FieldRequestID)
	require.NotContains(t, buf.String(), FieldTraceID)
}

func TestWithComponentFromContext(t *testing.T) {
	var global bytes.Buffer
	Configure(Config{Output: &global})
	t.Cleanup(func() { Configure(Config{}) })

	ctx := ContextWithRequestID(context.Background(), "req-9")
	apiLogger := WithComponentFromContext(ctx, "api")
	apiLogger.Info().Msg("global")
	require.Contains(t, global.String(), `"component":"api"`)
	require.Contains(t, global.String(), `"request_id":"req-9"`)

	var attached bytes.Buffer
	custom := zerolog.New(&attached)
	ctx = custom.WithContext(ctx)
	buildLogger := WithComponentFromContext(ctx, "build")
	buildLogger.Info().Msg("attached")
	require.Contains(t, attached.String(), `"component":"build"`)
	require.NotContains(t, global.String(), "attached")
}
