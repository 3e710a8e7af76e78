// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

// MemoryRecords implements artifact.RecordStore using a map (thread-safe).
type MemoryRecords struct {
	mu   sync.RWMutex
	data map[artifact.Slot]artifact.Record
}

// NewMemoryRecords creates an in-memory record store.
func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{data: make(map[artifact.Slot]artifact.Record)}
}

func (s *MemoryRecords) Get(ctx context.Context, slot artifact.Slot) (*artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.data[slot]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryRecords) Put(ctx context.Context, rec artifact.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[rec.Slot()] = rec
	return nil
}

func (s *MemoryRecords) Touch(ctx context.Context, slot artifact.Slot, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.data[slot]
	if !ok {
		return nil
	}
	rec.LastAccessedAt = at
	s.data[slot] = rec
	return nil
}

func (s *MemoryRecords) Delete(ctx context.Context, slot artifact.Slot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, slot)
	return nil
}

func (s *MemoryRecords) DeleteIdle(ctx context.Context, rec artifact.Record, cutoff time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.data[rec.Slot()]
	if !ok || !cur.SameArtifact(rec) || !cur.LastUsed().Before(cutoff) {
		return false, nil
	}
	delete(s.data, rec.Slot())
	return true, nil
}

func (s *MemoryRecords) Find(ctx context.Context, mediaFileID int64, kind string) ([]artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []artifact.Record
	for slot, rec := range s.data {
		if slot.MediaFileID == mediaFileID && slot.Kind == kind {
			out = append(out, rec)
		}
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryRecords) List(ctx context.Context) ([]artifact.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]artifact.Record, 0, len(s.data))
	for _, rec := range s.data {
		out = append(out, rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *MemoryRecords) Close() error {
	s.mu.Lock()
	s.data = make(map[artifact.Slot]artifact.Record)
	s.mu.Unlock()
	return nil
}

// sortRecords gives every backend the same List/Find order.
func sortRecords(recs []artifact.Record) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if a.MediaFileID != b.MediaFileID {
			return a.MediaFileID < b.MediaFileID
		}
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		return a.AudioTrackIndex < b.AudioTrackIndex
	})
}
