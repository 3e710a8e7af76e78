// SPDX-License-Identifier: MIT

package middleware

import (
	"net/http"
	"time"

	"github.com/ManuGH/artifactd/internal/metrics"
	"github.com/ManuGH/artifactd/internal/telemetry"
	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/trace"
)

// Metrics records request count and latency by chi route pattern, and
// tags the active span with the matched route.
func Metrics() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(sw, r)

			route := routePattern(r)
			metrics.ObserveHTTP(route, r.Method, sw.status, time.Since(start).Seconds())
			trace.SpanFromContext(r.Context()).SetAttributes(telemetry.HTTPAttributes(r.Method, route, sw.status)...)
		})
	}
}

// routePattern returns the matched chi pattern, never the raw path, so that
// label cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// statusWriter captures the status code and body size.
type statusWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *statusWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }
