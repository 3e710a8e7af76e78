// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// InvalidInputError rejects a source that was not successfully analyzed.
// Not retryable without re-probing.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return "invalid input: " + e.Reason
}

// UnsupportedContainerError rejects a source container outside the supported set.
type UnsupportedContainerError struct {
	Container string
	Supported []string
}

func (e *UnsupportedContainerError) Error() string {
	return fmt.Sprintf("artifact build requires %s container (got %s)", strings.Join(e.Supported, ", "), e.Container)
}

// BuildInProgressError means another writer holds the lock. Callers poll;
// the orchestrator never retries on their behalf.
type BuildInProgressError struct {
	LockKey string
}

func (e *BuildInProgressError) Error() string {
	return "build already in progress for " + e.LockKey
}

// BackendFailure wraps any error surfaced by the build backend.
type BackendFailure struct {
	Kind string
	Err  error
}

func (e *BackendFailure) Error() string {
	if e.Err == nil {
		return "backend build failed (" + e.Kind + ")"
	}
	return "backend build failed (" + e.Kind + "): " + e.Err.Error()
}

func (e *BackendFailure) Unwrap() error { return e.Err }

// CancellationError reports a user-initiated abort. It unwraps to the cause
// (usually context.Canceled) so errors.Is(err, context.Canceled) holds.
type CancellationError struct {
	LockKey string
	Cause   error
}

func (e *CancellationError) Error() string {
	if e.Cause == nil {
		return "build canceled for " + e.LockKey
	}
	return "build canceled for " + e.LockKey + ": " + e.Cause.Error()
}

func (e *CancellationError) Unwrap() error {
	if e.Cause == nil {
		return context.Canceled
	}
	return e.Cause
}

// ErrNotAnalyzed is the reason used when probe_state != ok.
const ErrNotAnalyzed = "media must be analyzed first"

// IsTransient reports whether the caller may retry the same request later.
func IsTransient(err error) bool {
	var inProgress *BuildInProgressError
	return errors.As(err, &inProgress)
}

// IsCanceled reports whether err is a CancellationError.
func IsCanceled(err error) bool {
	var canceled *CancellationError
	return errors.As(err, &canceled)
}
