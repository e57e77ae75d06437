// Package redisstore keeps cache namespaces in Redis so several edge
// instances can share one set of entries.
//
// Layout, for a key prefix P:
//
//	P:namespaces      SET of namespace names
//	P:ns:<name>       HASH of cache key -> msgpack-encoded entry
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"slices"

	goredis "github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/drsabri-stc/stcedge/internal/swcache"
)

var ErrNilClient = errors.New("redisstore: nil client")

// Storage implements swcache.Storage on Redis.
type Storage struct {
	rdb    goredis.UniversalClient
	prefix string
}

var _ swcache.Storage = (*Storage)(nil)

// Config configures a Storage.
type Config struct {
	Client goredis.UniversalClient
	// Prefix namespaces all keys (default "stcedge").
	Prefix string
}

func New(cfg Config) (*Storage, error) {
	if cfg.Client == nil {
		return nil, ErrNilClient
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "stcedge"
	}
	return &Storage{rdb: cfg.Client, prefix: cfg.Prefix}, nil
}

func (s *Storage) setKey() string {
	return s.prefix + ":namespaces"
}

func (s *Storage) hashKey(name string) string {
	return s.prefix + ":ns:" + name
}

func (s *Storage) Open(ctx context.Context, name string) (swcache.Cache, error) {
	if err := s.rdb.SAdd(ctx, s.setKey(), name).Err(); err != nil {
		return nil, fmt.Errorf("failed to register namespace %s: %w", name, err)
	}
	return &cache{rdb: s.rdb, name: name, setKey: s.setKey(), hashKey: s.hashKey(name)}, nil
}

func (s *Storage) Keys(ctx context.Context) ([]string, error) {
	names, err := s.rdb.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list namespaces: %w", err)
	}
	slices.Sort(names)
	return names, nil
}

func (s *Storage) Delete(ctx context.Context, name string) (bool, error) {
	var removed *goredis.IntCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		removed = pipe.SRem(ctx, s.setKey(), name)
		pipe.Del(ctx, s.hashKey(name))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete namespace %s: %w", name, err)
	}
	return removed.Val() > 0, nil
}

type cache struct {
	rdb     goredis.UniversalClient
	name    string
	setKey  string
	hashKey string
}

func (c *cache) Match(ctx context.Context, key string) (*swcache.Entry, bool, error) {
	b, err := c.rdb.HGet(ctx, c.hashKey, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from %s: %w", key, c.name, err)
	}
	var e swcache.Entry
	if err := msgpack.Unmarshal(b, &e); err != nil {
		return nil, false, fmt.Errorf("failed to decode %s from %s: %w", key, c.name, err)
	}
	return &e, true, nil
}

// Put also re-registers the namespace so a write racing a Delete leaves a
// listed namespace that the next Activate can remove.
func (c *cache) Put(ctx context.Context, key string, entry *swcache.Entry) error {
	b, err := msgpack.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	_, err = c.rdb.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.SAdd(ctx, c.setKey, c.name)
		pipe.HSet(ctx, c.hashKey, key, b)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", key, c.name, err)
	}
	return nil
}

func (c *cache) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.rdb.HKeys(ctx, c.hashKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", c.name, err)
	}
	slices.Sort(keys)
	return keys, nil
}
