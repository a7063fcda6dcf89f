package cache

import (
	"context"
	"time"

	"github.com/buenedata/plugin-update-server/pkg/release"
	"github.com/patrickmn/go-cache"
)

type MemoryStore struct {
	cache *cache.Cache
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: cache.New(cache.NoExpiration, 10*time.Minute),
	}
}

func (m *MemoryStore) Get(_ context.Context, key string) (*release.Descriptor, bool, error) {
	val, ok := m.cache.Get(key)
	if !ok {
		return nil, false, nil
	}
	return val.(*release.Descriptor), true, nil
}

func (m *MemoryStore) Set(_ context.Context, key string, d *release.Descriptor, ttl time.Duration) error {
	m.cache.Set(key, d, ttl)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.cache.Delete(key)
	return nil
}
