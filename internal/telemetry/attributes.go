// SPDX-License-Identifier: MIT

// Package telemetry provides OpenTelemetry tracing for artifactd.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by all spans.
const (
	// HTTP attributes
	HTTPMethodKey     = "http.method"
	HTTPStatusCodeKey = "http.status_code"
	HTTPRouteKey      = "http.route"

	// Artifact attributes
	ArtifactMediaFileIDKey = "artifact.media_file_id"
	ArtifactKindKey        = "artifact.kind"
	ArtifactAudioTrackKey  = "artifact.audio_track"
	ArtifactCacheKeyKey    = "artifact.cache_key"
	ArtifactCacheHitKey    = "artifact.cache_hit"
	ArtifactSizeKey        = "artifact.size_bytes"
	ArtifactOutcomeKey     = "artifact.outcome"

	// Source attributes
	SourceContainerKey  = "source.container"
	SourceVideoCodecKey = "source.video_codec"
	SourceAudioCodecKey = "source.audio_codec"

	// Eviction attributes
	SweepBudgetKey    = "sweep.budget_bytes"
	SweepEvictedKey   = "sweep.evicted"
	SweepRemainingKey = "sweep.remaining_bytes"

	// Error attributes
	ErrorKey     = "error"
	ErrorTypeKey = "error.type"
)

// HTTPAttributes creates common HTTP span attributes.
func HTTPAttributes(method, route string, statusCode int) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(HTTPMethodKey, method),
		attribute.String(HTTPRouteKey, route),
		attribute.Int(HTTPStatusCodeKey, statusCode),
	}
}

// ArtifactAttributes identifies the slot a span works on. The cache key is
// omitted while it is not known yet.
func ArtifactAttributes(mediaFileID int64, kind string, audioTrack int, cacheKey string) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(ArtifactMediaFileIDKey, mediaFileID),
		attribute.String(ArtifactKindKey, kind),
		attribute.Int(ArtifactAudioTrackKey, audioTrack),
	}
	if cacheKey != "" {
		attrs = append(attrs, attribute.String(ArtifactCacheKeyKey, cacheKey))
	}
	return attrs
}

// SourceAttributes describes the input of a build.
func SourceAttributes(container, videoCodec, audioCodec string) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, 3)
	if container != "" {
		attrs = append(attrs, attribute.String(SourceContainerKey, container))
	}
	if videoCodec != "" {
		attrs = append(attrs, attribute.String(SourceVideoCodecKey, videoCodec))
	}
	if audioCodec != "" {
		attrs = append(attrs, attribute.String(SourceAudioCodecKey, audioCodec))
	}
	return attrs
}

// ResultAttributes records how a build ended.
func ResultAttributes(outcome string, cacheHit bool, sizeBytes int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(ArtifactOutcomeKey, outcome),
		attribute.Bool(ArtifactCacheHitKey, cacheHit),
		attribute.Int64(ArtifactSizeKey, sizeBytes),
	}
}

// SweepAttributes records the result of an eviction sweep.
func SweepAttributes(budget int64, evicted int, remaining int64) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int64(SweepBudgetKey, budget),
		attribute.Int(SweepEvictedKey, evicted),
		attribute.Int64(SweepRemainingKey, remaining),
	}
}

// ErrorAttributes creates error-related span attributes.
func ErrorAttributes(_ error, errorType string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Bool(ErrorKey, true),
		attribute.String(ErrorTypeKey, errorType),
	}
}
