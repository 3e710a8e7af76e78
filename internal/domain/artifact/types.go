// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"context"
	"fmt"
	"time"
)

// Status is the lifecycle state of an artifact record.
type Status string

const (
	StatusPending  Status = "pending"
	StatusBuilding Status = "building"
	StatusReady    Status = "ready"
	StatusFailed   Status = "failed"
)

// Terminal reports whether no build is expected to move the record further.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed
}

// Valid reports whether s is one of the known states.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusBuilding, StatusReady, StatusFailed:
		return true
	}
	return false
}

// Fingerprint identifies a source file without hashing all of it.
// Two files with the same fingerprint are treated as the same input.
type Fingerprint struct {
	Size     int64  `json:"size"`
	HeadHash string `json:"head_hash"`
	TailHash string `json:"tail_hash"`
}

// IsZero reports whether the fingerprint was never computed.
func (f Fingerprint) IsZero() bool {
	return f.Size == 0 && f.HeadHash == "" && f.TailHash == ""
}

// Slot is the logical position of an artifact: one record per slot.
type Slot struct {
	MediaFileID     int64  `json:"media_file_id"`
	Kind            string `json:"kind"`
	AudioTrackIndex int    `json:"audio_track_index"`
}

// LockKey returns the single-writer key guarding this slot.
// All audio tracks of the same (file, kind) share one lock.
func (s Slot) LockKey() string {
	return LockKey(s.MediaFileID, s.Kind)
}

func (s Slot) String() string {
	return fmt.Sprintf("%d:%s:a%d", s.MediaFileID, s.Kind, s.AudioTrackIndex)
}

// Record is the persisted row for one produced (or attempted) artifact.
type Record struct {
	MediaFileID     int64       `json:"media_file_id"`
	Kind            string      `json:"kind"`
	AudioTrackIndex int         `json:"audio_track_index"`
	Fingerprint     Fingerprint `json:"fingerprint"`
	Status          Status      `json:"status"`
	Path            string      `json:"path,omitempty"`
	SizeBytes       int64       `json:"size_bytes"`
	Error           string      `json:"error,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	LastAccessedAt  time.Time   `json:"last_accessed_at,omitempty"`
	UpdatedAt       time.Time   `json:"updated_at"`
	FormatVersion   int         `json:"format_version"`
}

// Slot returns the logical slot of the record.
func (r Record) Slot() Slot {
	return Slot{MediaFileID: r.MediaFileID, Kind: r.Kind, AudioTrackIndex: r.AudioTrackIndex}
}

// CacheKey derives the lookup key from the fields stored on the record.
func (r Record) CacheKey() string {
	return BuildCacheKey(KeyInput{
		FormatVersion:   r.FormatVersion,
		Fingerprint:     r.Fingerprint,
		Kind:            r.Kind,
		AudioTrackIndex: r.AudioTrackIndex,
	})
}

// SameArtifact reports whether o describes the same produced file as r:
// same slot, status, path, fingerprint and format version.
func (r Record) SameArtifact(o Record) bool {
	return r.Slot() == o.Slot() &&
		r.Status == o.Status &&
		r.Path == o.Path &&
		r.Fingerprint == o.Fingerprint &&
		r.FormatVersion == o.FormatVersion
}

// LastUsed is the LRU timestamp: last access, or creation if never accessed.
func (r Record) LastUsed() time.Time {
	if r.LastAccessedAt.IsZero() {
		return r.CreatedAt
	}
	return r.LastAccessedAt
}

// LockRecord is the persisted half of a build lock. The in-memory half
// (cancellation handle) lives in the coordinator that granted it.
type LockRecord struct {
	Key         string    `json:"key" cbor:"1,keyasint"`
	MediaFileID int64     `json:"media_file_id" cbor:"2,keyasint"`
	Kind        string    `json:"kind" cbor:"3,keyasint"`
	PID         int       `json:"pid" cbor:"4,keyasint"`
	WorkerPID   int       `json:"worker_pid,omitempty" cbor:"5,keyasint,omitempty"`
	Instance    string    `json:"instance" cbor:"6,keyasint"`
	Host        string    `json:"host,omitempty" cbor:"7,keyasint,omitempty"`
	AcquiredAt  time.Time `json:"acquired_at" cbor:"8,keyasint"`
}

// TerminationTarget is the PID to signal when the in-memory handle is gone:
// the backend worker if one was reported, otherwise the owning process.
func (l LockRecord) TerminationTarget() int {
	if l.WorkerPID > 0 {
		return l.WorkerPID
	}
	return l.PID
}

// ProbeState is the analysis state of a source as recorded by the caller.
type ProbeState string

const (
	ProbeStateOK      ProbeState = "ok"
	ProbeStateFailed  ProbeState = "failed"
	ProbeStateUnknown ProbeState = "unknown"
)

// SourceInput is the minimal source metadata a build needs.
type SourceInput struct {
	MediaFileID int64      `json:"media_file_id"`
	Path        string     `json:"path"`
	Container   string     `json:"container,omitempty"`
	VideoCodec  string     `json:"video_codec,omitempty"`
	AudioCodec  string     `json:"audio_codec,omitempty"` // first audio track
	HDRFormat   string     `json:"hdr_format,omitempty"`
	Duration    float64    `json:"duration,omitempty"`
	ProbeState  ProbeState `json:"probe_state,omitempty"`

	// AudioTrackCodecs lists the codec of every audio stream in order.
	// Empty means unknown, in which case AudioCodec stands for all tracks.
	AudioTrackCodecs []string `json:"audio_track_codecs,omitempty"`
}

// AudioCodecFor returns the codec of audio track n. It is empty when the
// track inventory is known and has no track n.
func (s SourceInput) AudioCodecFor(n int) string {
	if len(s.AudioTrackCodecs) == 0 {
		return s.AudioCodec
	}
	if n < 0 || n >= len(s.AudioTrackCodecs) {
		return ""
	}
	return s.AudioTrackCodecs[n]
}

// HasAudioTrack reports whether track n may exist. Without an inventory
// every non-negative index is accepted.
func (s SourceInput) HasAudioTrack(n int) bool {
	if n < 0 {
		return false
	}
	return len(s.AudioTrackCodecs) == 0 || n < len(s.AudioTrackCodecs)
}

// SourceFromProbe builds a SourceInput from a probe result. A failed probe
// yields ProbeStateFailed so the orchestrator refuses to build it.
func SourceFromProbe(mediaFileID int64, path string, res ProbeResult) SourceInput {
	src := SourceInput{MediaFileID: mediaFileID, Path: path, ProbeState: ProbeStateFailed}
	if !res.OK {
		return src
	}
	src.ProbeState = ProbeStateOK
	src.Container = res.Container
	src.VideoCodec = res.VideoCodec
	src.AudioCodec = res.AudioCodec
	for _, tr := range res.AudioTracks {
		src.AudioTrackCodecs = append(src.AudioTrackCodecs, tr.Codec)
	}
	src.HDRFormat = res.HDRFormat
	src.Duration = res.Duration
	return src
}

// TargetProfile selects the codec/container treatment of an artifact.
type TargetProfile struct {
	Kind            string `json:"kind"`
	AudioTrackIndex int    `json:"audio_track_index,omitempty"`
	ForceAudioCodec string `json:"force_audio_codec,omitempty"` // "aac" or "eac3"
}

// ArtifactResult describes a produced (or reused) artifact.
type ArtifactResult struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Kind      string `json:"kind"`
	CacheHit  bool   `json:"cache_hit"`
}

// BuildRequest is what the orchestrator hands to a backend.
type BuildRequest struct {
	Source SourceInput
	Target TargetProfile

	// OutputPath is the final artifact location inside the flat cache dir.
	// Backends may stage to OutputPath+PartialSuffix and rename on success.
	OutputPath string

	// OnStart, if set, receives the PID of the external worker process so
	// it can be terminated after a restart of this process.
	OnStart func(pid int)
}

// Backend is the opaque media engine. Implementations are interchangeable.
type Backend interface {
	// Probe analyzes a file. Failures are reported in the result, not as an error.
	Probe(ctx context.Context, path string) ProbeResult

	// BuildAdaptive produces the artifact. It must stop producing output
	// when ctx is canceled.
	BuildAdaptive(ctx context.Context, req BuildRequest) (ArtifactResult, error)
}
