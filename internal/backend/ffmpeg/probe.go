// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
)

const maxStderr = 4096

// Probe runs ffprobe on path. Failures are reported in the result.
func (b *Backend) Probe(ctx context.Context, path string) artifact.ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	args := []string{
		"-v", "error",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	}
	// #nosec G204 - binary comes from config; path is passed as a single argument
	cmd := exec.CommandContext(ctx, b.ffprobeBin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.Output()
	res := ParseProbe(out, path)
	if res.OK {
		if err != nil {
			// Partial files make ffprobe exit non-zero with usable JSON.
			logger := log.WithComponentFromContext(ctx, "ffprobe")
			logger.Warn().Err(err).
				Str(log.FieldPath, path).
				Str("stderr", truncate(stderr.String())).
				Msg("ffprobe non-zero exit but JSON accepted")
		}
		return res
	}
	if err != nil {
		return artifact.ProbeFailure(fmt.Sprintf("ffprobe failed: %v (stderr: %s)", err, truncate(stderr.String())))
	}
	return res
}

func truncate(s string) string {
	if len(s) > maxStderr {
		return s[:maxStderr] + "..."
	}
	return s
}

type probeStream struct {
	Index            int               `json:"index"`
	CodecType        string            `json:"codec_type"`
	CodecName        string            `json:"codec_name"`
	Profile          string            `json:"profile,omitempty"`
	Level            int               `json:"level,omitempty"`
	PixFmt           string            `json:"pix_fmt,omitempty"`
	BitsPerRawSample string            `json:"bits_per_raw_sample,omitempty"`
	Width            int               `json:"width,omitempty"`
	Height           int               `json:"height,omitempty"`
	AvgFrameRate     string            `json:"avg_frame_rate,omitempty"`
	ColorTransfer    string            `json:"color_transfer,omitempty"`
	Channels         int               `json:"channels,omitempty"`
	SampleRate       string            `json:"sample_rate,omitempty"`
	Duration         string            `json:"duration,omitempty"`
	Tags             map[string]string `json:"tags,omitempty"`
	Disposition      map[string]int    `json:"disposition,omitempty"`
	SideDataList     []struct {
		SideDataType string `json:"side_data_type"`
	} `json:"side_data_list,omitempty"`
}

type probeData struct {
	Streams []probeStream `json:"streams"`
	Format  struct {
		Duration   string `json:"duration"`
		FormatName string `json:"format_name"`
	} `json:"format"`
}

// ParseProbe converts ffprobe JSON output into a ProbeResult. The file
// path disambiguates format families ffprobe reports as one name.
func ParseProbe(out []byte, path string) artifact.ProbeResult {
	var data probeData
	if err := json.Unmarshal(out, &data); err != nil {
		return artifact.ProbeFailure("json decode: " + err.Error())
	}
	if data.Format.FormatName == "" {
		return artifact.ProbeFailure("ffprobe returned no format")
	}

	res := artifact.ProbeResult{OK: true, Container: normalizeFormat(data.Format.FormatName, path)}
	var haveVideo, haveAudio bool
	audioN, subN := 0, 0

	for _, s := range data.Streams {
		switch s.CodecType {
		case "video":
			if haveVideo || s.Disposition["attached_pic"] == 1 {
				continue
			}
			haveVideo = true
			res.VideoCodec = s.CodecName
			res.VideoProfile = s.Profile
			if s.Level > 0 {
				res.VideoLevel = strconv.Itoa(s.Level)
			}
			res.BitDepth = bitDepth(s)
			res.HDRFormat = hdrFormat(s)
			res.ResolutionWidth = s.Width
			res.ResolutionHeight = s.Height
			if s.AvgFrameRate != "" && s.AvgFrameRate != "0/0" {
				res.FrameRate = s.AvgFrameRate
			}
			if d, err := strconv.ParseFloat(s.Duration, 64); err == nil {
				res.Duration = d
			}

		case "audio":
			res.AudioTracks = append(res.AudioTracks, artifact.AudioTrackInfo{
				Index:    audioN,
				Codec:    s.CodecName,
				Channels: s.Channels,
				Language: s.Tags["language"],
				Title:    s.Tags["title"],
			})
			audioN++
			if haveAudio {
				continue
			}
			haveAudio = true
			res.AudioCodec = s.CodecName
			res.AudioChannels = s.Channels
			if v, err := strconv.Atoi(s.BitsPerRawSample); err == nil {
				res.AudioBitDepth = v
			}
			if v, err := strconv.Atoi(s.SampleRate); err == nil {
				res.AudioSampleRate = v
			}

		case "subtitle":
			format, ok := subtitleFormat(s.CodecName)
			idx := subN
			subN++
			if !ok {
				continue
			}
			title := s.Tags["title"]
			res.SubtitleTracks = append(res.SubtitleTracks, artifact.SubtitleTrackInfo{
				Index:     idx,
				Language:  s.Tags["language"],
				Format:    format,
				Title:     title,
				IsSDH:     s.Disposition["hearing_impaired"] == 1 || strings.Contains(strings.ToUpper(title), "SDH"),
				IsForced:  s.Disposition["forced"] == 1,
				IsDefault: s.Disposition["default"] == 1,
			})
			if !containsFormat(res.SubtitleFormats, format) {
				res.SubtitleFormats = append(res.SubtitleFormats, format)
			}
		}
	}

	if !haveVideo && !haveAudio {
		return artifact.ProbeFailure("ffprobe returned no playable streams")
	}
	if res.Duration == 0 {
		if d, err := strconv.ParseFloat(data.Format.Duration, 64); err == nil {
			res.Duration = d
		}
	}
	return res
}

// normalizeFormat maps ffprobe's format_name list to a container name.
func normalizeFormat(formatName, path string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	names := strings.Split(formatName, ",")
	first := strings.TrimSpace(names[0])
	switch first {
	case "matroska":
		if ext == "webm" {
			return "webm"
		}
		return "mkv"
	case "mpegts":
		if ext == "m2ts" || ext == "mts" {
			return "m2ts"
		}
		return "ts"
	case "mov":
		switch ext {
		case "mov", "m4v", "mp4":
			return ext
		}
		return "mp4"
	}
	return first
}

func bitDepth(s probeStream) int {
	if v, err := strconv.Atoi(s.BitsPerRawSample); err == nil && v > 0 {
		return v
	}
	switch {
	case strings.Contains(s.PixFmt, "12"):
		return 12
	case strings.Contains(s.PixFmt, "10"):
		return 10
	case s.PixFmt != "":
		return 8
	}
	return 0
}

func hdrFormat(s probeStream) string {
	for _, sd := range s.SideDataList {
		if strings.Contains(strings.ToLower(sd.SideDataType), "dovi") {
			return "dolby_vision"
		}
	}
	switch s.ColorTransfer {
	case "smpte2084":
		return "hdr10"
	case "arib-std-b67":
		return "hlg"
	}
	return ""
}

func subtitleFormat(codec string) (artifact.SubtitleFormat, bool) {
	switch codec {
	case "subrip", "srt":
		return artifact.SubtitleSRT, true
	case "webvtt":
		return artifact.SubtitleWebVTT, true
	case "mov_text":
		return artifact.SubtitleMovText, true
	case "hdmv_pgs_subtitle":
		return artifact.SubtitlePGS, true
	case "dvd_subtitle":
		return artifact.SubtitleVobSub, true
	case "ass", "ssa":
		return artifact.SubtitleASS, true
	}
	return "", false
}

func containsFormat(list []artifact.SubtitleFormat, f artifact.SubtitleFormat) bool {
	for _, v := range list {
		if v == f {
			return true
		}
	}
	return false
}
