// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recordBackends(t *testing.T) map[string]artifact.RecordStore {
	t.Helper()
	dir := t.TempDir()

	sq, err := NewSQLiteRecords(filepath.Join(dir, "records.sqlite"))
	require.NoError(t, err)
	bg, err := NewBadgerRecords(filepath.Join(dir, "records.badger"))
	require.NoError(t, err)

	stores := map[string]artifact.RecordStore{
		"memory": NewMemoryRecords(),
		"sqlite": sq,
		"badger": bg,
	}
	t.Cleanup(func() {
		for _, s := range stores {
			_ = s.Close()
		}
	})
	return stores
}

func sampleRecord(id int64, kind string, track int) artifact.Record {
	created := time.UnixMilli(1_700_000_000_000).UTC()
	return artifact.Record{
		MediaFileID:     id,
		Kind:            kind,
		AudioTrackIndex: track,
		Fingerprint:     artifact.Fingerprint{Size: 1000, HeadHash: "aaaa", TailHash: "bbbb"},
		Status:          artifact.StatusReady,
		Path:            "/cache/x.mp4",
		SizeBytes:       512,
		CreatedAt:       created,
		UpdatedAt:       created,
		FormatVersion:   artifact.FormatVersion,
	}
}

func TestRecordStores_Contract(t *testing.T) {
	for name, s := range recordBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleRecord(7, artifact.KindRemux, 0)

			got, err := s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			assert.Nil(t, got, "missing slot must return nil record without error")

			require.NoError(t, s.Put(ctx, rec))
			got, err = s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			require.NotNil(t, got)
			if diff := cmp.Diff(rec, *got); diff != "" {
				t.Fatalf("record mismatch (-want +got):\n%s", diff)
			}
			assert.True(t, got.LastAccessedAt.IsZero())
			assert.Equal(t, rec.CreatedAt, got.LastUsed().UTC())

			// Upsert replaces the slot in place.
			rec.Status = artifact.StatusFailed
			rec.Error = "boom"
			require.NoError(t, s.Put(ctx, rec))
			got, err = s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			assert.Equal(t, artifact.StatusFailed, got.Status)
			assert.Equal(t, "boom", got.Error)

			touched := time.UnixMilli(1_700_000_100_000).UTC()
			require.NoError(t, s.Touch(ctx, rec.Slot(), touched))
			got, err = s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			assert.True(t, touched.Equal(got.LastAccessedAt))
			assert.True(t, touched.Equal(got.LastUsed()))

			// Touching a missing slot is a no-op.
			require.NoError(t, s.Touch(ctx, artifact.Slot{MediaFileID: 99, Kind: artifact.KindRemux}, touched))

			require.NoError(t, s.Delete(ctx, rec.Slot()))
			got, err = s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}

func TestRecordStores_FindAndList(t *testing.T) {
	for name, s := range recordBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			recs := []artifact.Record{
				sampleRecord(12, artifact.KindRemux, 0),
				sampleRecord(1, artifact.KindRemux, 2),
				sampleRecord(1, artifact.KindRemux, 0),
				sampleRecord(1, artifact.KindTranscode, 0),
			}
			for _, r := range recs {
				require.NoError(t, s.Put(ctx, r))
			}

			found, err := s.Find(ctx, 1, artifact.KindRemux)
			require.NoError(t, err)
			require.Len(t, found, 2)
			assert.Equal(t, 0, found[0].AudioTrackIndex)
			assert.Equal(t, 2, found[1].AudioTrackIndex)

			all, err := s.List(ctx)
			require.NoError(t, err)
			require.Len(t, all, 4)
			var slots []string
			for _, r := range all {
				slots = append(slots, r.Slot().String())
			}
			assert.Equal(t, []string{"1:remux:a0", "1:remux:a2", "1:transcode:a0", "12:remux:a0"}, slots)
		})
	}
}

func TestSQLiteRecords_PersistAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.sqlite")
	ctx := context.Background()

	s, err := NewSQLiteRecords(path)
	require.NoError(t, err)
	rec := sampleRecord(3, artifact.KindRemuxAdaptiveAAC, 1)
	require.NoError(t, s.Put(ctx, rec))
	require.NoError(t, s.Close())

	s, err = NewSQLiteRecords(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.Get(ctx, rec.Slot())
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, rec.CacheKey(), got.CacheKey())
}

func TestSQLiteRecords_RejectsUnknownStatus(t *testing.T) {
	s, err := NewSQLiteRecords(filepath.Join(t.TempDir(), "records.sqlite"))
	require.NoError(t, err)
	defer s.Close()

	rec := sampleRecord(1, artifact.KindRemux, 0)
	rec.Status = "exploded"
	assert.Error(t, s.Put(context.Background(), rec))
}

func TestRecordStores_DeleteIdle(t *testing.T) {
	for name, s := range recordBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleRecord(9, artifact.KindRemux, 1)
			require.NoError(t, s.Put(ctx, rec))
			cutoff := rec.CreatedAt.Add(time.Minute)

			ok, err := s.DeleteIdle(ctx, sampleRecord(10, artifact.KindRemux, 1), cutoff)
			require.NoError(t, err)
			assert.False(t, ok, "missing slot")

			// Used after the caller's snapshot.
			require.NoError(t, s.Touch(ctx, rec.Slot(), cutoff.Add(time.Second)))
			ok, err = s.DeleteIdle(ctx, rec, cutoff)
			require.NoError(t, err)
			assert.False(t, ok)

			// Rebuilt from a changed source under the same slot.
			rebuilt := rec
			rebuilt.Fingerprint.HeadHash = "cccc"
			rebuilt.Path = "/cache/y.mp4"
			require.NoError(t, s.Put(ctx, rebuilt))
			ok, err = s.DeleteIdle(ctx, rec, cutoff)
			require.NoError(t, err)
			assert.False(t, ok)
			got, err := s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, "/cache/y.mp4", got.Path)

			ok, err = s.DeleteIdle(ctx, rebuilt, cutoff)
			require.NoError(t, err)
			assert.True(t, ok)
			got, err = s.Get(ctx, rec.Slot())
			require.NoError(t, err)
			assert.Nil(t, got)
		})
	}
}
