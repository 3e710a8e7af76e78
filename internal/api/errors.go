// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
)

// StatusClientClosedRequest reports a canceled build (nginx convention).
const StatusClientClosedRequest = 499

// retryAfterSeconds is the polling hint sent with 409 responses.
const retryAfterSeconds = 5

// Error codes in response bodies.
const (
	codeBadRequest        = "bad_request"
	codeNotFound          = "not_found"
	codeInvalidInput      = "invalid_input"
	codeUnsupported       = "unsupported_container"
	codeInProgress        = "build_in_progress"
	codeBackendFailure    = "backend_failure"
	codeCanceled          = "canceled"
	codeInternal          = "internal"
	codeProbeFailed       = "probe_failed"
	codeMissingParameters = "missing_parameters"
)

type errorBody struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, r *http.Request, status int, code, detail string) {
	writeJSON(w, status, errorBody{Error: code, Detail: detail, RequestID: log.RequestIDFromContext(r.Context())})
}

// statusFor maps the build error taxonomy to an HTTP status and error code.
func statusFor(err error) (int, string) {
	var (
		invalid     *artifact.InvalidInputError
		unsupported *artifact.UnsupportedContainerError
		inProgress  *artifact.BuildInProgressError
		backend     *artifact.BackendFailure
		canceled    *artifact.CancellationError
	)
	switch {
	case errors.As(err, &invalid):
		return http.StatusUnprocessableEntity, codeInvalidInput
	case errors.As(err, &unsupported):
		return http.StatusUnsupportedMediaType, codeUnsupported
	case errors.As(err, &inProgress):
		return http.StatusConflict, codeInProgress
	case errors.As(err, &canceled):
		return StatusClientClosedRequest, codeCanceled
	case errors.As(err, &backend):
		return http.StatusBadGateway, codeBackendFailure
	default:
		return http.StatusInternalServerError, codeInternal
	}
}

// writeError writes the mapped response for err. Internal errors are
// logged and their detail is not echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	detail := err.Error()
	switch status {
	case http.StatusConflict:
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	case http.StatusInternalServerError:
		logger := log.WithComponentFromContext(r.Context(), "api")
		logger.Error().Err(err).Str(log.FieldPath, r.URL.Path).Msg("request failed")
		detail = "internal error"
	}
	writeProblem(w, r, status, code, detail)
}
