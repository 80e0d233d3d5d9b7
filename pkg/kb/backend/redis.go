// Package backend implements the two concrete Knowledge Base backends:
// a Redis-backed "fast" store and a pure-Go SQLite-backed "embedded"
// store (spec_full.md Section 4.1 addendum).
package backend

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/bubblepkg/bubblepkg/pkg/bpkgerrors"
)

// RedisBackend is the "fast" KB backend: a Redis client storing
// values as JSON blobs under the key space in pkg/kb/keys.go, using
// WATCH/MULTI/EXEC for transactions.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// RedisOptions configures a RedisBackend.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	// Prefix is prepended to every key, e.g. "bubblepkg:" so multiple
	// bubblepkg installations can share one Redis instance.
	Prefix string
}

// NewRedisBackend connects to Redis and pings it with the caller's
// context deadline, returning BackendUnavailable if the ping fails.
func NewRedisBackend(ctx context.Context, opts RedisOptions) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, bpkgerrors.NewBackendUnavailable("redis", err)
	}
	return &RedisBackend{client: client, prefix: opts.Prefix}, nil
}

func (b *RedisBackend) key(k string) string { return b.prefix + k }

// Get implements KB.
func (b *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := b.client.Get(ctx, b.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, bpkgerrors.NewNotFound(key)
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

// Set implements KB.
func (b *RedisBackend) Set(ctx context.Context, key string, value []byte) error {
	if err := b.client.Set(ctx, b.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Transaction implements KB using WATCH/MULTI/EXEC: every key in
// keyGroup is watched, fn is given their current values, and its
// returned writes are queued in a MULTI/EXEC pipeline. If any watched
// key changed between the WATCH and the EXEC, go-redis surfaces
// redis.TxFailedErr and this returns a *bpkgerrors.ConflictErr.
func (b *RedisBackend) Transaction(ctx context.Context, keyGroup []string, fn TxnFunc) error {
	prefixed := make([]string, len(keyGroup))
	for i, k := range keyGroup {
		prefixed[i] = b.key(k)
	}

	txnFn := func(tx *redis.Tx) error {
		view := make(TxnView, len(keyGroup))
		for i, k := range keyGroup {
			val, err := tx.Get(ctx, prefixed[i]).Bytes()
			if errors.Is(err, redis.Nil) {
				view[k] = nil
				continue
			}
			if err != nil {
				return fmt.Errorf("redis txn read %s: %w", k, err)
			}
			view[k] = val
		}

		writes, err := fn(view)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for key, value := range writes {
				pipe.Set(ctx, b.key(key), value, 0)
			}
			return nil
		})
		return err
	}

	err := b.client.Watch(ctx, txnFn, prefixed...)
	if errors.Is(err, redis.TxFailedErr) {
		return bpkgerrors.NewConflict(keyGroup[0])
	}
	if err != nil {
		return fmt.Errorf("redis transaction: %w", err)
	}
	return nil
}

// Scan implements KB with Redis's cursor-based SCAN, matching keys
// under prefix.
func (b *RedisBackend) Scan(ctx context.Context, prefix string) (Iterator, error) {
	iter := b.client.Scan(ctx, 0, b.key(prefix)+"*", 100).Iterator()
	return &redisIterator{client: b.client, iter: iter, trim: len(b.prefix)}, nil
}

type redisIterator struct {
	client *redis.Client
	iter   *redis.ScanIterator
	trim   int
	key    string
	value  []byte
	err    error
}

func (it *redisIterator) Next(ctx context.Context) bool {
	if !it.iter.Next(ctx) {
		it.err = it.iter.Err()
		return false
	}
	fullKey := it.iter.Val()
	it.key = fullKey[it.trim:]
	val, err := it.client.Get(ctx, fullKey).Bytes()
	if err != nil {
		it.err = fmt.Errorf("redis scan get %s: %w", fullKey, err)
		return false
	}
	it.value = val
	return true
}

func (it *redisIterator) Key() string   { return it.key }
func (it *redisIterator) Value() []byte { return it.value }
func (it *redisIterator) Err() error    { return it.err }
func (it *redisIterator) Close() error  { return nil }

// SchemaVersion implements KB.
func (b *RedisBackend) SchemaVersion(ctx context.Context) (int, error) {
	val, err := b.Get(ctx, SchemaVersionKey)
	if err != nil {
		var nf *bpkgerrors.NotFoundErr
		if errors.As(err, &nf) {
			return 0, nil
		}
		return 0, err
	}
	var v int
	if _, err := fmt.Sscanf(string(val), "%d", &v); err != nil {
		return 0, fmt.Errorf("parse schema version: %w", err)
	}
	return v, nil
}

// Close implements KB.
func (b *RedisBackend) Close() error { return b.client.Close() }
