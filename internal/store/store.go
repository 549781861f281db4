// Package store provides the private key/value store every actor persists
// its state into. A Store is always scoped to one namespace; no two actors
// share a namespace.
package store

import (
	"context"
	"encoding/json"
	"fmt"
)

// Store is one actor's private persisted state.
type Store interface {
	// Get decodes the value stored at key into dest. It reports false when
	// the key does not exist.
	Get(ctx context.Context, key string, dest any) (bool, error)
	// Put JSON-encodes v and stores it at key.
	Put(ctx context.Context, key string, v any) error
	// Delete removes the given keys. Missing keys are ignored.
	Delete(ctx context.Context, keys ...string) error
	// DeleteAll removes every key in the namespace.
	DeleteAll(ctx context.Context) error
	// Update runs fn as an atomic read-modify-write of key. cur is nil when
	// the key does not exist. Returning nil bytes deletes the key. An error
	// from fn aborts the update and is returned unchanged. fn may run more
	// than once when a concurrent writer wins the race, so it must be free
	// of side effects outside its return value.
	Update(ctx context.Context, key string, fn func(cur []byte) ([]byte, error)) error
}

// Backend hands out namespaced stores over one connection.
type Backend interface {
	Namespace(name string) Store
	Close() error
}

// UpdateJSON is Update with JSON decoding and encoding of the value. fn
// receives the zero value of T when the key does not exist.
func UpdateJSON[T any](ctx context.Context, s Store, key string, fn func(v *T) error) error {
	return s.Update(ctx, key, func(cur []byte) ([]byte, error) {
		var v T
		if cur != nil {
			if err := json.Unmarshal(cur, &v); err != nil {
				return nil, fmt.Errorf("decode %s: %w", key, err)
			}
		}
		if err := fn(&v); err != nil {
			return nil, err
		}
		return json.Marshal(v)
	})
}

func decode(key string, data []byte, dest any) error {
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func encode(key string, v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", key, err)
	}
	return data, nil
}
