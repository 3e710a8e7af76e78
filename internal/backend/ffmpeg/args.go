// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

// Video encoder settings for full transcodes.
const (
	transcodeEncoder = "libx265"
	transcodePreset  = "medium"
	transcodeCRF     = "20"
)

// BuildArgs returns the ffmpeg arguments producing the artifact of req at
// out. Progress flags are added by the executor.
func BuildArgs(req artifact.BuildRequest, out string) ([]string, error) {
	kind := req.Target.Kind
	switch {
	case artifact.IsVideoKind(kind):
		return videoArgs(req, out), nil
	case kind == artifact.KindSubtitleSRT:
		return subtitleArgs(req, out), nil
	default:
		return nil, fmt.Errorf("ffmpeg: cannot build kind %q", kind)
	}
}

func baseArgs(input string) []string {
	return []string{
		"-y",
		"-hide_banner",
		"-loglevel", "error",
		"-i", input,
	}
}

func videoArgs(req artifact.BuildRequest, out string) []string {
	kind := req.Target.Kind
	args := baseArgs(req.Source.Path)
	args = append(args,
		"-map", artifact.VideoMap,
		"-map", artifact.AudioMap(req.Target.AudioTrackIndex),
	)

	if kind == artifact.KindTranscode {
		args = append(args,
			"-c:v", transcodeEncoder,
			"-preset", transcodePreset,
			"-crf", transcodeCRF,
			"-pix_fmt", "yuv420p10le",
			"-tag:v", artifact.HEVCTag,
		)
	} else {
		args = append(args, "-c:v", "copy")
		if isHEVC(req.Source.VideoCodec) {
			args = append(args, "-tag:v", artifact.HEVCTag)
		}
	}

	if enc, ok := artifact.AdaptiveAudioFor(kind, req.Target.ForceAudioCodec); ok && needsAudioEncode(kind, req.Source.AudioCodecFor(req.Target.AudioTrackIndex)) {
		args = append(args,
			"-c:a", enc.Codec,
			"-ac", strconv.Itoa(enc.Channels),
			"-b:a", enc.Bitrate,
		)
	} else {
		args = append(args, "-c:a", "copy")
	}

	return append(args,
		"-sn",
		"-dn",
		"-movflags", artifact.MovFlags,
		"-f", artifact.Container,
		out,
	)
}

// needsAudioEncode keeps copyable audio untouched during a video transcode.
func needsAudioEncode(kind, audioCodec string) bool {
	if kind != artifact.KindTranscode {
		return true
	}
	return !artifact.IsCopyableAudio(audioCodec)
}

// subtitleArgs extracts one subtitle stream; the target track index
// selects it among the subtitle streams.
func subtitleArgs(req artifact.BuildRequest, out string) []string {
	args := baseArgs(req.Source.Path)
	return append(args,
		"-map", "0:s:"+strconv.Itoa(req.Target.AudioTrackIndex),
		"-c:s", "srt",
		"-f", "srt",
		out,
	)
}

func isHEVC(codec string) bool {
	c := strings.ToLower(codec)
	return c == "hevc" || c == "h265"
}
