// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

// SubtitleFormat is a normalized subtitle codec name.
type SubtitleFormat string

const (
	SubtitleSRT     SubtitleFormat = "srt"
	SubtitleWebVTT  SubtitleFormat = "webvtt"
	SubtitleMovText SubtitleFormat = "mov_text"
	SubtitlePGS     SubtitleFormat = "pgs"
	SubtitleVobSub  SubtitleFormat = "vobsub"
	SubtitleASS     SubtitleFormat = "ass"
)

// TextBased reports whether the format can be converted to an SRT sidecar.
func (f SubtitleFormat) TextBased() bool {
	switch f {
	case SubtitleSRT, SubtitleWebVTT, SubtitleMovText, SubtitleASS:
		return true
	}
	return false
}

// AudioTrackInfo is one audio stream as seen by the prober.
type AudioTrackInfo struct {
	Index    int    `json:"index"`
	Codec    string `json:"codec"`
	Channels int    `json:"channels"`
	Language string `json:"language,omitempty"`
	Title    string `json:"title,omitempty"`
}

// SubtitleTrackInfo is one subtitle stream as seen by the prober.
type SubtitleTrackInfo struct {
	Index     int            `json:"index"`
	Language  string         `json:"language,omitempty"`
	Format    SubtitleFormat `json:"format"`
	Title     string         `json:"title,omitempty"`
	IsSDH     bool           `json:"is_sdh,omitempty"`
	IsForced  bool           `json:"is_forced,omitempty"`
	IsDefault bool           `json:"is_default,omitempty"`
}

// ProbeResult is either a successful analysis (OK) or an error string.
type ProbeResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`

	Container        string  `json:"container,omitempty"`
	VideoCodec       string  `json:"video_codec,omitempty"`
	VideoProfile     string  `json:"video_profile,omitempty"`
	VideoLevel       string  `json:"video_level,omitempty"`
	BitDepth         int     `json:"bit_depth,omitempty"`
	HDRFormat        string  `json:"hdr_format,omitempty"`
	ResolutionWidth  int     `json:"resolution_width,omitempty"`
	ResolutionHeight int     `json:"resolution_height,omitempty"`
	FrameRate        string  `json:"frame_rate,omitempty"`
	AudioCodec       string  `json:"audio_codec,omitempty"`
	AudioChannels    int     `json:"audio_channels,omitempty"`
	AudioBitDepth    int     `json:"audio_bit_depth,omitempty"`
	AudioSampleRate  int     `json:"audio_sample_rate,omitempty"`
	Duration         float64 `json:"duration,omitempty"`

	SubtitleFormats []SubtitleFormat    `json:"subtitle_formats,omitempty"`
	SubtitleTracks  []SubtitleTrackInfo `json:"subtitle_tracks,omitempty"`
	AudioTracks     []AudioTrackInfo    `json:"audio_tracks,omitempty"`
}

// ProbeFailure returns the failure variant of ProbeResult.
func ProbeFailure(msg string) ProbeResult {
	return ProbeResult{OK: false, Error: msg}
}
