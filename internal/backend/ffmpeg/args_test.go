// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package ffmpeg

import (
	"strings"
	"testing"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(kind, video, audio string, track int, force string) artifact.BuildRequest {
	return artifact.BuildRequest{
		Source: artifact.SourceInput{MediaFileID: 1, Path: "/media/in.mkv", Container: "mkv", VideoCodec: video, AudioCodec: audio},
		Target: artifact.TargetProfile{Kind: kind, AudioTrackIndex: track, ForceAudioCodec: force},
	}
}

// flagValue returns the value following flag, or "".
func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

func TestBuildArgs_Video(t *testing.T) {
	tests := []struct {
		name      string
		req       artifact.BuildRequest
		wantVideo string
		wantTag   string
		wantAudio string
		wantAC    string
		wantBR    string
		wantMapA  string
	}{
		{
			name:      "plain remux copies everything",
			req:       request(artifact.KindRemux, "h264", "ac3", 0, ""),
			wantVideo: "copy", wantAudio: "copy", wantMapA: "0:a:0",
		},
		{
			name:      "hevc remux is tagged hvc1",
			req:       request(artifact.KindRemux, "hevc", "eac3", 2, ""),
			wantVideo: "copy", wantTag: "hvc1", wantAudio: "copy", wantMapA: "0:a:2",
		},
		{
			name:      "adaptive eac3",
			req:       request(artifact.KindRemuxAdaptiveEAC3, "h264", "truehd", 0, ""),
			wantVideo: "copy", wantAudio: "eac3", wantAC: "6", wantBR: "640k", wantMapA: "0:a:0",
		},
		{
			name:      "adaptive aac",
			req:       request(artifact.KindRemuxAdaptiveAAC, "h264", "dts", 1, "aac"),
			wantVideo: "copy", wantAudio: "aac", wantAC: "6", wantBR: "384k", wantMapA: "0:a:1",
		},
		{
			name:      "transcode keeps copyable audio",
			req:       request(artifact.KindTranscode, "vp9", "aac", 0, ""),
			wantVideo: "libx265", wantTag: "hvc1", wantAudio: "copy", wantMapA: "0:a:0",
		},
		{
			name:      "transcode converts lossless audio",
			req:       request(artifact.KindTranscode, "av1", "flac", 0, ""),
			wantVideo: "libx265", wantTag: "hvc1", wantAudio: "eac3", wantAC: "6", wantBR: "640k", wantMapA: "0:a:0",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args, err := BuildArgs(tt.req, "/cache/out.mp4.partial")
			require.NoError(t, err)

			assert.Equal(t, "/media/in.mkv", flagValue(args, "-i"))
			assert.Equal(t, tt.wantVideo, flagValue(args, "-c:v"))
			assert.Equal(t, tt.wantTag, flagValue(args, "-tag:v"))
			assert.Equal(t, tt.wantAudio, flagValue(args, "-c:a"))
			assert.Equal(t, tt.wantAC, flagValue(args, "-ac"))
			assert.Equal(t, tt.wantBR, flagValue(args, "-b:a"))
			assert.Equal(t, artifact.MovFlags, flagValue(args, "-movflags"))
			assert.Equal(t, "mp4", flagValue(args, "-f"))
			assert.Equal(t, "/cache/out.mp4.partial", args[len(args)-1])

			joined := strings.Join(args, " ")
			assert.Contains(t, joined, "-map 0:v:0 -map "+tt.wantMapA)
		})
	}
}

func TestBuildArgs_Subtitle(t *testing.T) {
	args, err := BuildArgs(request(artifact.KindSubtitleSRT, "h264", "aac", 3, ""), "/cache/out.srt.partial")
	require.NoError(t, err)

	assert.Equal(t, "0:s:3", flagValue(args, "-map"))
	assert.Equal(t, "srt", flagValue(args, "-c:s"))
	assert.Equal(t, "srt", flagValue(args, "-f"))
	assert.Equal(t, "/cache/out.srt.partial", args[len(args)-1])
}

func TestBuildArgs_RejectsUnbuildableKinds(t *testing.T) {
	for _, kind := range []string{artifact.KindSubtitleSRTImported, artifact.KindAuto, "bogus"} {
		_, err := BuildArgs(request(kind, "h264", "aac", 0, ""), "/x")
		assert.Error(t, err, kind)
	}
}

func TestBuildArgs_AudioFollowsSelectedTrack(t *testing.T) {
	req := request(artifact.KindTranscode, "vp9", "aac", 1, "")
	req.Source.AudioTrackCodecs = []string{"aac", "truehd"}
	args, err := BuildArgs(req, "/cache/out.mp4")
	require.NoError(t, err)
	assert.Contains(t, strings.Join(args, " "), "-map 0:a:1")
	assert.Equal(t, "eac3", flagValue(args, "-c:a"))

	req = request(artifact.KindTranscode, "vp9", "truehd", 1, "")
	req.Source.AudioTrackCodecs = []string{"truehd", "ac3"}
	args, err = BuildArgs(req, "/cache/out.mp4")
	require.NoError(t, err)
	assert.Equal(t, "copy", flagValue(args, "-c:a"), "copyable selected track is not re-encoded")
}
