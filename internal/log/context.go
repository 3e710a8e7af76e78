// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package log wraps zerolog with the process-wide logger, canonical field
// names and request/trace correlation taken from a context.
package log

import (
	"context"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

type requestIDKey struct{}

// ContextWithRequestID returns ctx carrying the request ID. A nil ctx is
// treated as context.Background().
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFromContext returns the request ID stored in ctx, or "".
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithContext adds the request ID and the active span of ctx to logger.
func WithContext(ctx context.Context, logger zerolog.Logger) zerolog.Logger {
	if ctx == nil {
		return logger
	}
	rid := RequestIDFromContext(ctx)
	sc := trace.SpanContextFromContext(ctx)
	if rid == "" && !sc.IsValid() {
		return logger
	}
	b := logger.With()
	if rid != "" {
		b = b.Str(FieldRequestID, rid)
	}
	if sc.IsValid() {
		b = b.Str(FieldTraceID, sc.TraceID().String()).Str(FieldSpanID, sc.SpanID().String())
	}
	return b.Logger()
}

// WithComponentFromContext is WithComponent plus the correlation fields of ctx.
// A logger attached to ctx with zerolog's WithContext takes precedence over
// the process-wide one.
func WithComponentFromContext(ctx context.Context, component string) zerolog.Logger {
	l := WithContext(ctx, fromContext(ctx))
	return l.With().Str(FieldComponent, component).Logger()
}

func fromContext(ctx context.Context) zerolog.Logger {
	if ctx != nil {
		if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
			return *l
		}
	}
	return logger()
}
