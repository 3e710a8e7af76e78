// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package artifact

import (
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// KeyInput is the tuple a cache key is derived from.
type KeyInput struct {
	FormatVersion   int
	Fingerprint     Fingerprint
	Kind            string
	AudioTrackIndex int
}

// BuildCacheKey returns v{version}:{size}:{head}:{tail}[:a{track}].
//
// The track suffix is present only for audioTrackIndex > 0. Kind is not part
// of the string: lookups are always scoped by Slot, which carries the kind.
// The format is persisted and compared across implementations; do not change it.
func BuildCacheKey(in KeyInput) string {
	var b strings.Builder
	b.Grow(16 + len(in.Fingerprint.HeadHash) + len(in.Fingerprint.TailHash))
	b.WriteByte('v')
	b.WriteString(strconv.Itoa(in.FormatVersion))
	b.WriteByte(':')
	b.WriteString(strconv.FormatInt(in.Fingerprint.Size, 10))
	b.WriteByte(':')
	b.WriteString(in.Fingerprint.HeadHash)
	b.WriteByte(':')
	b.WriteString(in.Fingerprint.TailHash)
	if in.AudioTrackIndex > 0 {
		b.WriteString(":a")
		b.WriteString(strconv.Itoa(in.AudioTrackIndex))
	}
	return b.String()
}

// LockKey returns "{mediaFileId}:{kind}". Exact textual match only.
func LockKey(mediaFileID int64, kind string) string {
	return strconv.FormatInt(mediaFileID, 10) + ":" + kind
}

// ShortFingerprint is the 12 hex character fingerprint tag used in file
// names. It covers size, head and tail so any source change renames the file.
func ShortFingerprint(fp Fingerprint) string {
	sum := blake3.Sum256([]byte(strconv.FormatInt(fp.Size, 10) + ":" + fp.HeadHash + ":" + fp.TailHash))
	return hex.EncodeToString(sum[:6])
}
