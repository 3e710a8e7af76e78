// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/dgraph-io/badger/v4"
)

const recordPrefix = "art:"

// BadgerRecords implements artifact.RecordStore on badger.
// Keys are "art:<mediaFileID>:<kind>:<track>" and values are JSON records.
type BadgerRecords struct {
	db *badger.DB
}

// NewBadgerRecords opens a badger database at dir.
func NewBadgerRecords(dir string) (*BadgerRecords, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("record store: open badger: %w", err)
	}
	return &BadgerRecords{db: db}, nil
}

func recordKey(slot artifact.Slot) []byte {
	return []byte(fmt.Sprintf("%s%d:%s:%d", recordPrefix, slot.MediaFileID, slot.Kind, slot.AudioTrackIndex))
}

func (s *BadgerRecords) Get(ctx context.Context, slot artifact.Slot) (*artifact.Record, error) {
	var out artifact.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(slot))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &out)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *BadgerRecords) Put(ctx context.Context, rec artifact.Record) error {
	buf, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Slot()), buf)
	})
}

func (s *BadgerRecords) Touch(ctx context.Context, slot artifact.Slot, at time.Time) error {
	key := recordKey(slot)
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var rec artifact.Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		}); err != nil {
			return err
		}
		rec.LastAccessedAt = at
		buf, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(key, buf)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil
	}
	return err
}

func (s *BadgerRecords) Delete(ctx context.Context, slot artifact.Slot) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(slot))
	})
}

func (s *BadgerRecords) DeleteIdle(ctx context.Context, rec artifact.Record, cutoff time.Time) (bool, error) {
	key := recordKey(rec.Slot())
	deleted := false
	err := s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		var cur artifact.Record
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &cur)
		}); err != nil {
			return err
		}
		if !cur.SameArtifact(rec) || !cur.LastUsed().Before(cutoff) {
			return nil
		}
		deleted = true
		return txn.Delete(key)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *BadgerRecords) Find(ctx context.Context, mediaFileID int64, kind string) ([]artifact.Record, error) {
	return s.scan(ctx, fmt.Sprintf("%s%d:%s:", recordPrefix, mediaFileID, kind))
}

func (s *BadgerRecords) List(ctx context.Context) ([]artifact.Record, error) {
	return s.scan(ctx, recordPrefix)
}

func (s *BadgerRecords) scan(ctx context.Context, prefix string) ([]artifact.Record, error) {
	var out []artifact.Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var rec artifact.Record
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRecords(out)
	return out, nil
}

func (s *BadgerRecords) Close() error { return s.db.Close() }
