package swcache

import (
	"context"
	"slices"
	"sync"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStorage keeps namespaces in process memory. Entries never expire;
// a namespace lives until Activate deletes it.
type MemoryStorage struct {
	mu     sync.Mutex
	spaces map[string]*memoryCache
}

// NewMemoryStorage creates an empty storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{spaces: make(map[string]*memoryCache)}
}

func (s *MemoryStorage) Open(_ context.Context, name string) (Cache, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.spaces[name]
	if !ok {
		c = &memoryCache{items: gocache.New(gocache.NoExpiration, 0)}
		s.spaces[name] = c
	}
	return c, nil
}

func (s *MemoryStorage) Keys(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.spaces))
	for name := range s.spaces {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

func (s *MemoryStorage) Delete(_ context.Context, name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.spaces[name]
	if !ok {
		return false, nil
	}
	c.items.Flush()
	delete(s.spaces, name)
	return true, nil
}

type memoryCache struct {
	items *gocache.Cache
}

func (c *memoryCache) Match(_ context.Context, key string) (*Entry, bool, error) {
	v, ok := c.items.Get(key)
	if !ok {
		return nil, false, nil
	}
	return v.(*Entry).Clone(), true, nil
}

func (c *memoryCache) Put(_ context.Context, key string, entry *Entry) error {
	c.items.Set(key, entry.Clone(), gocache.NoExpiration)
	return nil
}

func (c *memoryCache) Keys(_ context.Context) ([]string, error) {
	items := c.items.Items()
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}
