// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"
)

// FormatVersion is the artifact byte-format contract. Bump it whenever the
// container, track mapping, naming or profile semantics change; the bump
// changes every cache key and so invalidates all cached artifacts.
const FormatVersion = 1

// Output container contract.
const (
	Container    = "mp4"
	MovFlags     = "+frag_keyframe+delay_moov+default_base_moof"
	DirStructure = "flat"
	HEVCTag      = "hvc1"

	VideoMap        = "0:v:0"
	AudioMapPattern = "0:a:{index}"

	// PartialSuffix marks a file a backend is still writing.
	PartialSuffix = ".partial"
)

// EvictionSafetyWindow is the minimum idle time before an artifact may be evicted.
const EvictionSafetyWindow = 5 * time.Minute

// Artifact kinds.
const (
	KindAuto                = "auto"
	KindRemux               = "remux_fmp4_appletv"
	KindRemuxAdaptiveEAC3   = "remux_fmp4_appletv_adaptive_eac3"
	KindRemuxAdaptiveAAC    = "remux_fmp4_appletv_adaptive_aac"
	KindTranscode           = "transcode_fmp4_appletv"
	KindSubtitleSRT         = "subtitle_srt"
	KindSubtitleSRTImported = "subtitle_srt_imported"
)

// SupportedInputContainers lists the accepted source containers (lower case).
var SupportedInputContainers = []string{"mkv", "m2ts", "ts", "webm", "avi", "mp4", "mov", "m4v"}

// CopyableAudioCodecs play on the target without transcoding.
var CopyableAudioCodecs = []string{"aac", "ac3", "eac3"}

// AdaptiveTranscodeAudio codecs must be converted to EAC3 or AAC.
var AdaptiveTranscodeAudio = []string{"truehd", "dts", "dts_hd_ma", "flac", "opus", "pcm"}

// TranscodeVideoCodecs force a full video transcode.
var TranscodeVideoCodecs = []string{"vp9", "av1", "mpeg2video", "vc1", "mpeg4", "prores"}

// AudioEncoding is an adaptive audio output setting.
type AudioEncoding struct {
	Codec    string
	Channels int
	Bitrate  string
}

var (
	AdaptiveAudioEAC3 = AudioEncoding{Codec: "eac3", Channels: 6, Bitrate: "640k"}
	AdaptiveAudioAAC  = AudioEncoding{Codec: "aac", Channels: 6, Bitrate: "384k"}
)

// AudioMap returns the ffmpeg stream specifier for the n-th audio track.
func AudioMap(index int) string {
	if index < 0 {
		index = 0
	}
	return strings.Replace(AudioMapPattern, "{index}", strconv.Itoa(index), 1)
}

// NormalizeContainer lower-cases and trims a container name.
func NormalizeContainer(c string) string {
	return strings.ToLower(strings.TrimSpace(c))
}

// IsSupportedContainer matches case-insensitively.
func IsSupportedContainer(c string) bool {
	return slices.Contains(SupportedInputContainers, NormalizeContainer(c))
}

// IsCopyableAudio reports whether the codec can be stream-copied.
func IsCopyableAudio(codec string) bool {
	return slices.Contains(CopyableAudioCodecs, strings.ToLower(codec))
}

// NeedsAdaptiveAudio reports whether the codec must be re-encoded.
// Any pcm_* variant counts as pcm.
func NeedsAdaptiveAudio(codec string) bool {
	c := strings.ToLower(codec)
	if strings.HasPrefix(c, "pcm") {
		return true
	}
	return slices.Contains(AdaptiveTranscodeAudio, c)
}

// NeedsVideoTranscode reports whether the video codec cannot be remuxed.
func NeedsVideoTranscode(codec string) bool {
	return slices.Contains(TranscodeVideoCodecs, strings.ToLower(codec))
}

// ResolveKind maps KindAuto to a concrete kind from the source codecs.
// Explicit kinds are returned unchanged.
func ResolveKind(src SourceInput, target TargetProfile) string {
	if target.Kind != KindAuto && target.Kind != "" {
		return target.Kind
	}
	switch {
	case NeedsVideoTranscode(src.VideoCodec):
		return KindTranscode
	case NeedsAdaptiveAudio(src.AudioCodecFor(target.AudioTrackIndex)):
		if strings.EqualFold(target.ForceAudioCodec, AdaptiveAudioAAC.Codec) {
			return KindRemuxAdaptiveAAC
		}
		return KindRemuxAdaptiveEAC3
	default:
		return KindRemux
	}
}

// AdaptiveAudioFor returns the audio encoding a kind implies, if any.
func AdaptiveAudioFor(kind, forceAudioCodec string) (AudioEncoding, bool) {
	switch kind {
	case KindRemuxAdaptiveEAC3:
		return AdaptiveAudioEAC3, true
	case KindRemuxAdaptiveAAC:
		return AdaptiveAudioAAC, true
	case KindTranscode:
		if strings.EqualFold(forceAudioCodec, AdaptiveAudioAAC.Codec) {
			return AdaptiveAudioAAC, true
		}
		return AdaptiveAudioEAC3, true
	}
	return AudioEncoding{}, false
}

// KindSuffix is the file name suffix for a video artifact kind.
func KindSuffix(kind string) string {
	switch kind {
	case KindRemuxAdaptiveEAC3:
		return "_adaptive_eac3"
	case KindRemuxAdaptiveAAC:
		return "_adaptive_aac"
	case KindTranscode:
		return "_transcode"
	default:
		return ""
	}
}

// IsVideoKind reports whether the kind produces an fMP4 video artifact.
func IsVideoKind(kind string) bool {
	switch kind {
	case KindRemux, KindRemuxAdaptiveEAC3, KindRemuxAdaptiveAAC, KindTranscode:
		return true
	}
	return false
}

// ArtifactFileName is {mediaFileId}__{fingerprintShort}__remux_fmp4{suffix}.mp4.
func ArtifactFileName(mediaFileID int64, fp Fingerprint, kind string) string {
	return strconv.FormatInt(mediaFileID, 10) + "__" + ShortFingerprint(fp) + "__remux_fmp4" + KindSuffix(kind) + "." + Container
}

// SubtitleFileName is {mediaFileId}__{fingerprintShort}__subtitles.srt.
func SubtitleFileName(mediaFileID int64, fp Fingerprint) string {
	return strconv.FormatInt(mediaFileID, 10) + "__" + ShortFingerprint(fp) + "__subtitles.srt"
}

// ImportedSubtitleFileName is {mediaFileId}__imported__subtitles.srt.
func ImportedSubtitleFileName(mediaFileID int64) string {
	return strconv.FormatInt(mediaFileID, 10) + "__imported__subtitles.srt"
}

// OutputPath places the artifact for a slot in the flat cache directory.
// A non-zero track index adds a track tag (".aN" for video, ".sN" for
// subtitle sidecars) so two tracks of the same kind never share a file.
func OutputPath(cacheDir string, slot Slot, fp Fingerprint) string {
	var name string
	switch slot.Kind {
	case KindSubtitleSRT:
		name = SubtitleFileName(slot.MediaFileID, fp)
	case KindSubtitleSRTImported:
		name = ImportedSubtitleFileName(slot.MediaFileID)
	default:
		name = ArtifactFileName(slot.MediaFileID, fp, slot.Kind)
	}
	if slot.AudioTrackIndex > 0 {
		switch {
		case IsVideoKind(slot.Kind):
			name = strings.TrimSuffix(name, "."+Container) + ".a" + strconv.Itoa(slot.AudioTrackIndex) + "." + Container
		case slot.Kind == KindSubtitleSRT:
			name = strings.TrimSuffix(name, ".srt") + ".s" + strconv.Itoa(slot.AudioTrackIndex) + ".srt"
		}
	}
	return filepath.Join(cacheDir, name)
}
