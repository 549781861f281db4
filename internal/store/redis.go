package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
)

// Optimistic-lock retry pacing for Update. Retries continue until ctx ends.
const (
	txInitialBackoff = time.Millisecond
	txMaxBackoff     = 50 * time.Millisecond
)

// RedisBackend stores namespaces as prefixed redis keys.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend wraps an already connected client. prefix keeps this
// application's keys apart from anything else in the same database.
func NewRedisBackend(client *redis.Client, prefix string) *RedisBackend {
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) Namespace(name string) Store {
	return &redisStore{client: b.client, prefix: b.prefix + name + ":"}
}

func (b *RedisBackend) Close() error { return b.client.Close() }

type redisStore struct {
	client *redis.Client
	prefix string
}

func (s *redisStore) Get(ctx context.Context, key string, dest any) (bool, error) {
	data, err := s.client.Get(ctx, s.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return true, decode(key, data, dest)
}

func (s *redisStore) Put(ctx context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.prefix+key, data, 0).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.prefix + k
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (s *redisStore) DeleteAll(ctx context.Context) error {
	var cursor uint64
	pattern := escapeGlob(s.prefix) + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("redis scan: %w", err)
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("redis del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Update uses WATCH/MULTI/EXEC and retries with jittered backoff whenever
// another client changed the key between the read and the write. It only
// gives up when ctx is done or fn fails.
func (s *redisStore) Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	full := s.prefix + key
	txf := func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, full).Bytes()
		if errors.Is(err, redis.Nil) {
			cur = nil
		} else if err != nil {
			return fmt.Errorf("redis get %s: %w", key, err)
		}
		next, err := fn(cur)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if next == nil {
				pipe.Del(ctx, full)
			} else {
				pipe.Set(ctx, full, next, 0)
			}
			return nil
		})
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = txInitialBackoff
	b.MaxInterval = txMaxBackoff
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		err := s.client.Watch(ctx, txf, full)
		if err == nil || errors.Is(err, redis.TxFailedErr) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(b, ctx))
	if errors.Is(err, redis.TxFailedErr) || (err != nil && ctx.Err() != nil) {
		return fmt.Errorf("redis update %s: %w", key, err)
	}
	return err
}

func escapeGlob(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)
	return r.Replace(s)
}
