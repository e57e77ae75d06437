package swcache

import "context"

// Storage is the set of named cache namespaces, the server-side analogue
// of the browser's CacheStorage. Drivers serialize their own writes.
type Storage interface {
	// Open returns the namespace, creating it if needed.
	Open(ctx context.Context, name string) (Cache, error)
	// Keys lists namespace names.
	Keys(ctx context.Context) ([]string, error)
	// Delete removes a namespace and reports whether it existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache is a single namespace mapping request keys to entries.
type Cache interface {
	Match(ctx context.Context, key string) (*Entry, bool, error)
	Put(ctx context.Context, key string, entry *Entry) error
	Keys(ctx context.Context) ([]string, error)
}
