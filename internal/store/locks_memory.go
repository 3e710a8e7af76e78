// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"sort"
	"sync"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
)

// MemoryLocks implements artifact.LockStore in process memory.
// It does not survive restarts; use it for tests and one-shot commands.
type MemoryLocks struct {
	mu    sync.Mutex
	locks map[string]artifact.LockRecord
}

func NewMemoryLocks() *MemoryLocks {
	return &MemoryLocks{locks: make(map[string]artifact.LockRecord)}
}

func (s *MemoryLocks) Insert(ctx context.Context, rec artifact.LockRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.locks[rec.Key]; exists {
		return false, nil
	}
	s.locks[rec.Key] = rec
	return true, nil
}

func (s *MemoryLocks) Get(ctx context.Context, key string) (*artifact.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.locks[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *MemoryLocks) SetWorkerPID(ctx context.Context, key, instance string, pid int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.locks[key]
	if !ok || rec.Instance != instance {
		return ErrLockNotOwned
	}
	rec.WorkerPID = pid
	s.locks[key] = rec
	return nil
}

func (s *MemoryLocks) DeleteOwned(ctx context.Context, key, instance string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.locks[key]
	if !ok || rec.Instance != instance {
		return false, nil
	}
	delete(s.locks, key)
	return true, nil
}

func (s *MemoryLocks) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.locks, key)
	return nil
}

func (s *MemoryLocks) List(ctx context.Context) ([]artifact.LockRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]artifact.LockRecord, 0, len(s.locks))
	for _, rec := range s.locks {
		out = append(out, rec)
	}
	sortLocks(out)
	return out, nil
}

func (s *MemoryLocks) Close() error { return nil }

func sortLocks(locks []artifact.LockRecord) {
	sort.Slice(locks, func(i, j int) bool { return locks[i].Key < locks[j].Key })
}
