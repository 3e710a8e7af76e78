// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package fingerprint derives the cheap source identity used for cache keys:
// file size plus BLAKE3 hashes of a fixed head and tail window.
package fingerprint

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/ManuGH/artifactd/internal/cache"
	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/ManuGH/artifactd/internal/log"
	"github.com/zeebo/blake3"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultWindow is the number of bytes hashed at each end of the file.
	DefaultWindow = 64 * 1024

	// hashBytes is the truncated digest length (hex doubles it).
	hashBytes = 16

	defaultMemoTTL = 24 * time.Hour
	memoVersion    = "v1"
)

// ErrNotRegular is returned for directories, devices and other non-files.
var ErrNotRegular = errors.New("fingerprint: not a regular file")

// Hasher computes fingerprints. Results are memoized by (path, size, mtime)
// so repeated lookups of an unchanged file do not touch its content.
type Hasher struct {
	window int64
	memo   cache.Cache
	ttl    time.Duration
	group  singleflight.Group
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithWindow overrides the head/tail window size.
func WithWindow(n int64) Option {
	return func(h *Hasher) {
		if n > 0 {
			h.window = n
		}
	}
}

// WithMemo sets the memo cache and its entry TTL.
func WithMemo(c cache.Cache, ttl time.Duration) Option {
	return func(h *Hasher) {
		h.memo = c
		if ttl > 0 {
			h.ttl = ttl
		}
	}
}

// New creates a Hasher. Without WithMemo nothing is memoized.
func New(opts ...Option) *Hasher {
	h := &Hasher{
		window: DefaultWindow,
		memo:   cache.NewNoOpCache(),
		ttl:    defaultMemoTTL,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Compute returns the fingerprint of the file at path.
func (h *Hasher) Compute(ctx context.Context, path string) (artifact.Fingerprint, error) {
	info, err := os.Stat(path)
	if err != nil {
		return artifact.Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return artifact.Fingerprint{}, fmt.Errorf("%w: %s", ErrNotRegular, path)
	}

	key := h.memoKey(path, info)
	if raw, ok := h.memo.Get(ctx, key); ok {
		var fp artifact.Fingerprint
		if err := json.Unmarshal(raw, &fp); err == nil && fp.Size == info.Size() {
			return fp, nil
		}
		h.memo.Delete(ctx, key)
	}

	v, err, _ := h.group.Do(key, func() (any, error) {
		fp, err := h.hashFile(ctx, path)
		if err != nil {
			return artifact.Fingerprint{}, err
		}
		if raw, err := json.Marshal(fp); err == nil {
			h.memo.Set(ctx, key, raw, h.ttl)
		}
		log.L().Debug().
			Str(log.FieldPath, path).
			Int64(log.FieldSizeBytes, fp.Size).
			Str("fingerprint", artifact.ShortFingerprint(fp)).
			Msg("source fingerprinted")
		return fp, nil
	})
	if err != nil {
		return artifact.Fingerprint{}, err
	}
	return v.(artifact.Fingerprint), nil
}

func (h *Hasher) memoKey(path string, info os.FileInfo) string {
	return "fp:" + memoVersion + ":" + strconv.FormatInt(h.window, 10) + ":" +
		strconv.FormatInt(info.Size(), 10) + ":" +
		strconv.FormatInt(info.ModTime().UnixNano(), 10) + ":" + path
}

func (h *Hasher) hashFile(ctx context.Context, path string) (artifact.Fingerprint, error) {
	f, err := os.Open(path)
	if err != nil {
		return artifact.Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return artifact.Fingerprint{}, fmt.Errorf("fingerprint %s: %w", path, err)
	}
	size := info.Size()

	n := h.window
	if size < n {
		n = size
	}

	head, err := hashRange(f, 0, n)
	if err != nil {
		return artifact.Fingerprint{}, fmt.Errorf("fingerprint %s head: %w", path, err)
	}
	if err := ctx.Err(); err != nil {
		return artifact.Fingerprint{}, err
	}
	tail, err := hashRange(f, size-n, n)
	if err != nil {
		return artifact.Fingerprint{}, fmt.Errorf("fingerprint %s tail: %w", path, err)
	}

	return artifact.Fingerprint{Size: size, HeadHash: head, TailHash: tail}, nil
}

func hashRange(r io.ReaderAt, off, n int64) (string, error) {
	hasher := blake3.New()
	if _, err := io.Copy(hasher, io.NewSectionReader(r, off, n)); err != nil {
		return "", err
	}
	sum := hasher.Sum(nil)
	return hex.EncodeToString(sum[:hashBytes]), nil
}
