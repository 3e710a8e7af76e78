package artifact

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnsupportedContainerError_NamesSetAndValue(t *testing.T) {
	err := &UnsupportedContainerError{Container: "xyz", Supported: SupportedInputContainers}
	require.Equal(t, "artifact build requires mkv, m2ts, ts, webm, avi, mp4, mov, m4v container (got xyz)", err.Error())
}

func TestInvalidInputError_MentionsAnalyzed(t *testing.T) {
	err := &InvalidInputError{Reason: ErrNotAnalyzed}
	require.Contains(t, err.Error(), "analyzed")
}

func TestCancellationError_Unwrap(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", &CancellationError{LockKey: "1:remux"})
	require.True(t, errors.Is(err, context.Canceled))
	require.True(t, IsCanceled(err))
	require.False(t, IsTransient(err))

	deadline := &CancellationError{LockKey: "1:remux", Cause: context.DeadlineExceeded}
	require.True(t, errors.Is(deadline, context.DeadlineExceeded))
}

func TestBackendFailure_Unwrap(t *testing.T) {
	cause := errors.New("ffmpeg exited 1")
	err := &BackendFailure{Kind: KindRemux, Err: cause}
	require.ErrorIs(t, err, cause)
	require.Contains(t, err.Error(), "ffmpeg exited 1")
}

func TestIsTransient(t *testing.T) {
	require.True(t, IsTransient(fmt.Errorf("x: %w", &BuildInProgressError{LockKey: "1:remux"})))
	require.False(t, IsTransient(&InvalidInputError{Reason: ErrNotAnalyzed}))
}
