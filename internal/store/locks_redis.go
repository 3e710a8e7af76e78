// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/artifactd/internal/domain/artifact"
	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "artifactd:lock:"

// RedisConfig holds Redis connection configuration for the lock store.
type RedisConfig struct {
	Addr     string // host:port
	Password string
	DB       int
	Prefix   string // key namespace, defaults to "artifactd:lock:"
}

// RedisLocks implements artifact.LockStore on Redis so that several hosts
// sharing one cache directory serialize builds. Values are CBOR LockRecords.
// Locks carry no TTL: liveness is decided by the coordinator.
type RedisLocks struct {
	client *redis.Client
	prefix string
}

// NewRedisLocks connects to Redis and verifies the connection.
func NewRedisLocks(cfg RedisConfig) (*RedisLocks, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return newRedisLocks(client, cfg.Prefix), nil
}

func newRedisLocks(client *redis.Client, prefix string) *RedisLocks {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLocks{client: client, prefix: prefix}
}

// Ping checks the redis connection.
func (s *RedisLocks) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisLocks) key(k string) string { return s.prefix + k }

func (s *RedisLocks) Insert(ctx context.Context, rec artifact.LockRecord) (bool, error) {
	buf, err := marshalCBOR(rec)
	if err != nil {
		return false, err
	}
	return s.client.SetNX(ctx, s.key(rec.Key), buf, 0).Result()
}

func (s *RedisLocks) Get(ctx context.Context, key string) (*artifact.LockRecord, error) {
	return s.get(ctx, s.client, s.key(key))
}

// stringGetter is satisfied by both *redis.Client and *redis.Tx.
type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisLocks) get(ctx context.Context, c stringGetter, fullKey string) (*artifact.LockRecord, error) {
	buf, err := c.Get(ctx, fullKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec artifact.LockRecord
	if err := unmarshalCBOR(buf, &rec); err != nil {
		return nil, fmt.Errorf("decode lock %s: %w", fullKey, err)
	}
	return &rec, nil
}

func (s *RedisLocks) SetWorkerPID(ctx context.Context, key, instance string, pid int) error {
	fullKey := s.key(key)
	return s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, fullKey)
		if err != nil {
			return err
		}
		if rec == nil || rec.Instance != instance {
			return ErrLockNotOwned
		}
		rec.WorkerPID = pid
		buf, err := marshalCBOR(rec)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, fullKey, buf, 0)
			return nil
		})
		return err
	}, fullKey)
}

func (s *RedisLocks) DeleteOwned(ctx context.Context, key, instance string) (bool, error) {
	fullKey := s.key(key)
	deleted := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		rec, err := s.get(ctx, tx, fullKey)
		if err != nil {
			return err
		}
		if rec == nil || rec.Instance != instance {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Del(ctx, fullKey)
			return nil
		})
		if err == nil {
			deleted = true
		}
		return err
	}, fullKey)
	if err != nil {
		return false, err
	}
	return deleted, nil
}

func (s *RedisLocks) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, s.key(key)).Err()
}

func (s *RedisLocks) List(ctx context.Context) ([]artifact.LockRecord, error) {
	var out []artifact.LockRecord
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		if !strings.HasPrefix(fullKey, s.prefix) {
			continue
		}
		rec, err := s.get(ctx, s.client, fullKey)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			out = append(out, *rec)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sortLocks(out)
	return out, nil
}

func (s *RedisLocks) Close() error {
	return s.client.Close()
}
