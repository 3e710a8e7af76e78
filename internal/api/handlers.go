// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/artifactd/internal/control/build"
	"github.com/ManuGH/artifactd/internal/control/evict"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
)

// maxBuildBody caps the JSON body of a build request.
const maxBuildBody = 64 << 10

// BuildRequest is the body of POST /api/v1/artifacts.
type BuildRequest struct {
	MediaFileID     int64  `json:"media_file_id"`
	Path            string `json:"path"`
	Kind            string `json:"kind"`
	AudioTrackIndex int    `json:"audio_track_index"`
	ForceAudioCodec string `json:"force_audio_codec,omitempty"`

	// Source skips probing when the caller already analyzed the file.
	Source *artifact.SourceInput `json:"source,omitempty"`
}

// AcceptedResponse answers an asynchronous build.
type AcceptedResponse struct {
	Slot      artifact.Slot `json:"slot"`
	StatusURL string        `json:"status_url"`
}

// SweepResponse reports an on-demand eviction run.
type SweepResponse struct {
	BudgetBytes int64       `json:"budget_bytes"`
	Sweep       sweepBody   `json:"sweep"`
	Orphans     orphansBody `json:"orphans"`
}

type sweepBody struct {
	Records        int   `json:"records"`
	TotalBytes     int64 `json:"total_bytes"`
	RemainingBytes int64 `json:"remaining_bytes"`
	Evicted        int   `json:"evicted"`
	EvictedBytes   int64 `json:"evicted_bytes"`
	SkippedLocked  int   `json:"skipped_locked"`
	SkippedRecent  int   `json:"skipped_recent"`
	SkippedChanged int   `json:"skipped_changed"`
	Errors         int   `json:"errors"`
}

type orphansBody struct {
	Scanned      int   `json:"scanned"`
	Removed      int   `json:"removed"`
	RemovedBytes int64 `json:"removed_bytes"`
	Errors       int   `json:"errors"`
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	var req BuildRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBuildBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "invalid JSON body: "+err.Error())
		return
	}
	if req.MediaFileID <= 0 || req.Kind == "" {
		writeProblem(w, r, http.StatusBadRequest, codeMissingParameters, "media_file_id and kind are required")
		return
	}

	target := artifact.TargetProfile{
		Kind:            req.Kind,
		AudioTrackIndex: req.AudioTrackIndex,
		ForceAudioCodec: req.ForceAudioCodec,
	}

	var src artifact.SourceInput
	if req.Source != nil {
		src = *req.Source
		src.MediaFileID = req.MediaFileID
		if src.Path == "" {
			src.Path = req.Path
		}
	} else {
		if req.Path == "" {
			writeProblem(w, r, http.StatusBadRequest, codeMissingParameters, "path is required when source is omitted")
			return
		}
		src = artifact.SourceFromProbe(req.MediaFileID, req.Path, s.backend.Probe(r.Context(), req.Path))
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		if err := build.Validate(src, target); err != nil {
			s.writeError(w, r, err)
			return
		}
		s.buildAsync(r, src, target)
		slot := artifact.Slot{MediaFileID: src.MediaFileID, Kind: artifact.ResolveKind(src, target), AudioTrackIndex: target.AudioTrackIndex}
		writeJSON(w, http.StatusAccepted, AcceptedResponse{
			Slot:      slot,
			StatusURL: fmt.Sprintf("/api/v1/artifacts/%d/%s?track=%d", slot.MediaFileID, slot.Kind, slot.AudioTrackIndex),
		})
		return
	}

	res, err := s.builder.BuildForTarget(r.Context(), s.backend, src, target)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// buildAsync runs the build detached from the request. The request ID is
// carried over so logs of the background build stay correlated.
func (s *Server) buildAsync(r *http.Request, src artifact.SourceInput, target artifact.TargetProfile) {
	ctx := log.ContextWithRequestID(s.baseCtx, log.RequestIDFromContext(r.Context()))
	logger := log.WithComponentFromContext(ctx, "api")

	s.async.Add(1)
	go func() {
		defer s.async.Done()
		res, err := s.builder.BuildForTarget(ctx, s.backend, src, target)
		if err != nil {
			logger.Warn().Err(err).
				Int64(log.FieldMediaFileID, src.MediaFileID).
				Str(log.FieldKind, target.Kind).
				Msg("async build failed")
			return
		}
		logger.Info().
			Int64(log.FieldMediaFileID, src.MediaFileID).
			Str(log.FieldKind, res.Kind).
			Bool("cache_hit", res.CacheHit).
			Msg("async build finished")
	}()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := mediaFileID(w, r)
	if !ok {
		return
	}
	kind := chi.URLParam(r, "kind")

	if raw := r.URL.Query().Get("track"); raw != "" {
		track, err := strconv.Atoi(raw)
		if err != nil || track < 0 {
			writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "track must be a non-negative integer")
			return
		}
		rec, err := s.builder.Status(r.Context(), artifact.Slot{MediaFileID: id, Kind: kind, AudioTrackIndex: track})
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		if rec == nil {
			writeProblem(w, r, http.StatusNotFound, codeNotFound, "no artifact for this slot")
			return
		}
		writeJSON(w, http.StatusOK, rec)
		return
	}

	recs, err := s.builder.Records(r.Context(), id, kind)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if recs == nil {
		recs = []artifact.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, ok := mediaFileID(w, r)
	if !ok {
		return
	}
	if err := s.builder.Cancel(r.Context(), id, chi.URLParam(r, "kind")); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleImportSubtitle(w http.ResponseWriter, r *http.Request) {
	id, ok := mediaFileID(w, r)
	if !ok {
		return
	}
	res, err := s.builder.ImportSubtitle(r.Context(), id, r.Body)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeProblem(w, r, http.StatusBadRequest, codeMissingParameters, "path is required")
		return
	}
	res := s.backend.Probe(r.Context(), path)
	if !res.OK {
		writeJSON(w, http.StatusUnprocessableEntity, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	budget := s.budget()
	if raw := r.URL.Query().Get("budget"); raw != "" {
		n, err := humanize.ParseBytes(raw)
		if err == nil && n > math.MaxInt64 {
			err = fmt.Errorf("%s overflows", raw)
		}
		if err != nil {
			writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "invalid budget: "+err.Error())
			return
		}
		budget = int64(n)
	}

	ctx := r.Context()
	sw, err := s.sweeper.Sweep(ctx, budget)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orphans, err := s.sweeper.SweepOrphans(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, SweepResponse{
		BudgetBytes: budget,
		Sweep:       sweepFrom(sw),
		Orphans:     orphansFrom(orphans),
	})
}

func sweepFrom(r evict.SweepResult) sweepBody {
	return sweepBody{
		Records:        r.Records,
		TotalBytes:     r.TotalBytes,
		RemainingBytes: r.RemainingBytes,
		Evicted:        r.Evicted,
		EvictedBytes:   r.EvictedBytes,
		SkippedLocked:  r.SkippedLocked,
		SkippedRecent:  r.SkippedRecent,
		SkippedChanged: r.SkippedChanged,
		Errors:         r.Errors,
	}
}

func orphansFrom(r evict.OrphanResult) orphansBody {
	return orphansBody{Scanned: r.Scanned, Removed: r.Removed, RemovedBytes: r.RemovedBytes, Errors: r.Errors}
}

func mediaFileID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "mediaFileID"))
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, r, http.StatusBadRequest, codeBadRequest, "media file id must be a positive integer")
		return 0, false
	}
	return id, true
}
