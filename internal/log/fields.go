// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldRequestID = "request_id"
	FieldTraceID   = "trace_id"
	FieldSpanID    = "span_id"
	FieldInstance  = "instance"

	// Process / pipeline fields
	FieldEvent     = "event"
	FieldComponent = "component"
	FieldPID       = "pid"
	FieldWorkerPID = "worker_pid"

	// Artifact fields
	FieldMediaFileID = "media_file_id"
	FieldKind        = "kind"
	FieldAudioTrack  = "audio_track"
	FieldCacheKey    = "cache_key"
	FieldLockKey     = "lock_key"
	FieldSizeBytes   = "size_bytes"
	FieldBudgetBytes = "budget_bytes"

	// State fields
	FieldOldState = "old_state"
	FieldNewState = "new_state"
	FieldReason   = "reason"

	// Media fields
	FieldCodec     = "codec"
	FieldContainer = "container"

	// Path fields
	FieldPath      = "path"
	FieldFinalPath = "final_path"
)
