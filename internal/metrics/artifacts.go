// Package metrics exposes the Prometheus collectors of artifactd.
// Label values are normalized against allowlists to cap cardinality.
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	buildTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_build_total",
		Help: "Artifact builds by kind and outcome",
	}, []string{"kind", "outcome"})

	buildDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "artifactd_build_duration_seconds",
		Help:    "Wall time of backend builds",
		Buckets: prometheus.ExponentialBuckets(0.5, 2.0, 14), // 0.5s to ~2h
	}, []string{"kind"})

	cacheLookupTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_cache_lookup_total",
		Help: "Reuse evaluations by result",
	}, []string{"result"})

	lockContentionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_lock_contention_total",
		Help: "Lock acquisitions refused because another build holds the key",
	}, []string{"kind"})

	lockReclaimedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_lock_reclaimed_total",
		Help: "Persisted locks taken over from dead or superseded owners",
	}, []string{"reason"})

	evictionTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "artifactd_eviction_total",
		Help: "Artifacts removed by the eviction manager",
	}, []string{"reason"})

	evictionBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "artifactd_eviction_bytes_total",
		Help: "Bytes reclaimed by eviction",
	})

	cacheBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "artifactd_cache_bytes",
		Help: "Sum of recorded artifact sizes after the last sweep",
	})
)

// Build outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeFailed   = "failed"
	OutcomeCanceled = "canceled"
	OutcomeInvalid  = "invalid"
	OutcomeBusy     = "busy"
	OutcomeCacheHit = "cache_hit"
)

// Cache lookup results.
const (
	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupStale   = "stale"
	LookupMissing = "missing"
	LookupPending = "not_ready"
)

var knownKinds = map[string]struct{}{
	"remux_fmp4_appletv":               {},
	"remux_fmp4_appletv_adaptive_eac3": {},
	"remux_fmp4_appletv_adaptive_aac":  {},
	"transcode_fmp4_appletv":           {},
	"subtitle_srt":                     {},
	"subtitle_srt_imported":            {},
}

func kindLabel(kind string) string {
	if _, ok := knownKinds[kind]; ok {
		return kind
	}
	return "unknown"
}

func allow(value string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return "unknown"
}

// IncBuild counts a finished build attempt.
func IncBuild(kind, outcome string) {
	buildTotal.WithLabelValues(kindLabel(kind), allow(outcome,
		OutcomeSuccess, OutcomeFailed, OutcomeCanceled, OutcomeInvalid, OutcomeBusy, OutcomeCacheHit)).Inc()
}

// ObserveBuildDuration records the backend wall time of a build.
func ObserveBuildDuration(kind string, seconds float64) {
	buildDuration.WithLabelValues(kindLabel(kind)).Observe(seconds)
}

// IncCacheLookup counts a reuse evaluation.
func IncCacheLookup(result string) {
	cacheLookupTotal.WithLabelValues(allow(result, LookupHit, LookupMiss, LookupStale, LookupMissing, LookupPending)).Inc()
}

// IncLockContention counts a refused tryAcquire.
func IncLockContention(kind string) {
	lockContentionTotal.WithLabelValues(kindLabel(kind)).Inc()
}

// IncLockReclaimed counts a takeover of a stale persisted lock.
// reason ∈ {dead_owner, previous_instance, forced}
func IncLockReclaimed(reason string) {
	lockReclaimedTotal.WithLabelValues(allow(reason, "dead_owner", "previous_instance", "forced")).Inc()
}

// IncEviction counts one removed artifact.
// reason ∈ {budget, orphan, stale}
func IncEviction(reason string, bytes int64) {
	evictionTotal.WithLabelValues(allow(reason, "budget", "orphan", "stale")).Inc()
	if bytes > 0 {
		evictionBytesTotal.Add(float64(bytes))
	}
}

// SetCacheBytes publishes the recorded cache size.
func SetCacheBytes(n int64) {
	cacheBytes.Set(float64(n))
}
