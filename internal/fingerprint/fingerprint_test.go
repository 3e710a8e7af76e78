// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package fingerprint

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, data, 0o644))
	return p
}

func TestCompute_Deterministic(t *testing.T) {
	dir := t.TempDir()
	data := bytes.Repeat([]byte("0123456789"), 1000)
	a := writeFile(t, dir, "a.mkv", data)
	b := writeFile(t, dir, "b.mkv", data)

	h := New(WithWindow(1024))
	fa, err := h.Compute(context.Background(), a)
	require.NoError(t, err)
	fb, err := h.Compute(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, fa, fb, "identical content yields identical fingerprints")
	assert.Equal(t, int64(len(data)), fa.Size)
	assert.Len(t, fa.HeadHash, 2*hashBytes)
	assert.Len(t, fa.TailHash, 2*hashBytes)
}

func TestCompute_HeadTailSensitivity(t *testing.T) {
	dir := t.TempDir()
	base := bytes.Repeat([]byte{'x'}, 8192)
	h := New(WithWindow(1024))
	ctx := context.Background()

	orig, err := h.Compute(ctx, writeFile(t, dir, "orig", base))
	require.NoError(t, err)

	head := append([]byte(nil), base...)
	head[0] = 'y'
	fh, err := h.Compute(ctx, writeFile(t, dir, "head", head))
	require.NoError(t, err)
	assert.NotEqual(t, orig.HeadHash, fh.HeadHash)
	assert.Equal(t, orig.TailHash, fh.TailHash)

	tail := append([]byte(nil), base...)
	tail[len(tail)-1] = 'y'
	ft, err := h.Compute(ctx, writeFile(t, dir, "tail", tail))
	require.NoError(t, err)
	assert.Equal(t, orig.HeadHash, ft.HeadHash)
	assert.NotEqual(t, orig.TailHash, ft.TailHash)

	// A change in the middle is outside both windows; only size protects us
	// when the length also changes.
	mid := append([]byte(nil), base...)
	mid[4096] = 'y'
	fm, err := h.Compute(ctx, writeFile(t, dir, "mid", mid))
	require.NoError(t, err)
	assert.Equal(t, orig, fm)
}

func TestCompute_SmallAndEmptyFiles(t *testing.T) {
	dir := t.TempDir()
	h := New()
	ctx := context.Background()

	small, err := h.Compute(ctx, writeFile(t, dir, "small", []byte("abc")))
	require.NoError(t, err)
	assert.Equal(t, int64(3), small.Size)
	assert.Equal(t, small.HeadHash, small.TailHash, "window covers the whole file")

	empty, err := h.Compute(ctx, writeFile(t, dir, "empty", nil))
	require.NoError(t, err)
	assert.Equal(t, int64(0), empty.Size)
	assert.NotEmpty(t, empty.HeadHash)
}

func TestCompute_Errors(t *testing.T) {
	h := New()
	_, err := h.Compute(context.Background(), filepath.Join(t.TempDir(), "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = h.Compute(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, ErrNotRegular)
}

func TestCompute_MemoizedUntilFileChanges(t *testing.T) {
	dir := t.TempDir()
	memo := cache.NewMemoryCache(0)
	defer memo.Close()
	h := New(WithWindow(16), WithMemo(memo, time.Hour))
	ctx := context.Background()

	p := writeFile(t, dir, "src", []byte("first-version-of-the-file"))
	first, err := h.Compute(ctx, p)
	require.NoError(t, err)
	again, err := h.Compute(ctx, p)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	stats := memo.Stats()
	assert.Equal(t, int64(1), stats.Sets)
	assert.Equal(t, int64(1), stats.Hits)

	// Rewrite with a different size and a later mtime: new memo key.
	require.NoError(t, os.WriteFile(p, []byte("second-version-of-the-file-longer"), 0o644))
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(p, later, later))

	changed, err := h.Compute(ctx, p)
	require.NoError(t, err)
	assert.NotEqual(t, first, changed)
}

func TestCompute_ConcurrentCallers(t *testing.T) {
	dir := t.TempDir()
	p := writeFile(t, dir, "src", bytes.Repeat([]byte("z"), 4096))
	h := New()

	var wg sync.WaitGroup
	results := make([]string, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			fp, err := h.Compute(context.Background(), p)
			if err == nil {
				results[i] = fp.HeadHash
			}
		}(i)
	}
	wg.Wait()
	for _, r := range results {
		assert.Equal(t, results[0], r)
		assert.NotEmpty(t, r)
	}
}
