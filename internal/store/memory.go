package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryBackend keeps every namespace in process memory. State survives an
// actor restart but not a process restart.
type MemoryBackend struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[string][]byte)}
}

func (b *MemoryBackend) Namespace(name string) Store {
	return &memoryStore{b: b, prefix: name + ":"}
}

func (b *MemoryBackend) Close() error { return nil }

type memoryStore struct {
	b      *MemoryBackend
	prefix string
}

func (s *memoryStore) Get(_ context.Context, key string, dest any) (bool, error) {
	s.b.mu.Lock()
	data, ok := s.b.data[s.prefix+key]
	s.b.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, decode(key, data, dest)
}

func (s *memoryStore) Put(_ context.Context, key string, v any) error {
	data, err := encode(key, v)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	s.b.data[s.prefix+key] = data
	s.b.mu.Unlock()
	return nil
}

func (s *memoryStore) Delete(_ context.Context, keys ...string) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for _, k := range keys {
		delete(s.b.data, s.prefix+k)
	}
	return nil
}

func (s *memoryStore) DeleteAll(_ context.Context) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	for k := range s.b.data {
		if strings.HasPrefix(k, s.prefix) {
			delete(s.b.data, k)
		}
	}
	return nil
}

// Update holds the backend lock for the whole call, so fn must not touch
// the store itself.
func (s *memoryStore) Update(_ context.Context, key string, fn func(cur []byte) ([]byte, error)) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()

	cur, ok := s.b.data[s.prefix+key]
	if !ok {
		cur = nil
	}
	next, err := fn(cur)
	if err != nil {
		return err
	}
	if next == nil {
		delete(s.b.data, s.prefix+key)
		return nil
	}
	s.b.data[s.prefix+key] = next
	return nil
}
