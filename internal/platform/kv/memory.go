package kv

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore keeps values in process memory. Entries written with a zero ttl
// never expire.
type MemoryStore struct {
	store *gocache.Cache
}

// NewMemoryStore builds a store that sweeps expired entries every cleanupInterval.
func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{store: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

// Get returns a copy of the stored value or ErrNotFound.
func (m *MemoryStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := m.store.Get(key)
	if !ok {
		return nil, ErrNotFound
	}
	data := v.([]byte)
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// Set stores a copy of value.
func (m *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if ttl <= 0 {
		ttl = gocache.NoExpiration
	}
	data := make([]byte, len(value))
	copy(data, value)
	m.store.Set(key, data, ttl)
	return nil
}

// Delete removes key.
func (m *MemoryStore) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.store.Delete(key)
	return nil
}
