package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/drsabri-stc/stcedge/internal/datastore/entities"
	"github.com/drsabri-stc/stcedge/internal/swcache"
)

// CacheStorage implements swcache.Storage on a SQL database.
type CacheStorage struct {
	db *gorm.DB
}

var _ swcache.Storage = (*CacheStorage)(nil)

// NewCacheStorage creates a CacheStorage. Tables must already be migrated.
func NewCacheStorage(db *gorm.DB) *CacheStorage {
	return &CacheStorage{db: db}
}

// Open returns the namespace, creating its row on first use.
func (s *CacheStorage) Open(ctx context.Context, name string) (swcache.Cache, error) {
	var ns entities.CacheNamespace
	db := s.db.WithContext(ctx)
	if err := db.Where("name = ?", name).FirstOrCreate(&ns, entities.CacheNamespace{Name: name}).Error; err != nil {
		// A concurrent Open may have inserted the row first.
		if retryErr := db.Where("name = ?", name).First(&ns).Error; retryErr != nil {
			return nil, fmt.Errorf("failed to open cache namespace %s: %w", name, err)
		}
	}
	return &sqlCache{db: s.db, namespaceID: ns.ID, name: name}, nil
}

// Keys returns namespace names in lexical order.
func (s *CacheStorage) Keys(ctx context.Context) ([]string, error) {
	var names []string
	if err := s.db.WithContext(ctx).Model(&entities.CacheNamespace{}).Order("name ASC").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("failed to list cache namespaces: %w", err)
	}
	return names, nil
}

// Delete removes a namespace with all its entries.
func (s *CacheStorage) Delete(ctx context.Context, name string) (bool, error) {
	existed := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ns entities.CacheNamespace
		if err := tx.Where("name = ?", name).First(&ns).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil
			}
			return err
		}
		if err := tx.Where("namespace_id = ?", ns.ID).Delete(&entities.CacheEntry{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&ns).Error; err != nil {
			return err
		}
		existed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to delete cache namespace %s: %w", name, err)
	}
	return existed, nil
}

type sqlCache struct {
	db          *gorm.DB
	namespaceID uint
	name        string
}

func (c *sqlCache) Match(ctx context.Context, key string) (*swcache.Entry, bool, error) {
	var row entities.CacheEntry
	err := c.db.WithContext(ctx).
		Where("namespace_id = ? AND url_hash = ?", c.namespaceID, hashKey(key)).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read %s from %s: %w", key, c.name, err)
	}

	header := http.Header{}
	if row.Header != "" {
		if err := json.Unmarshal([]byte(row.Header), &header); err != nil {
			return nil, false, fmt.Errorf("failed to decode headers of %s: %w", key, err)
		}
	}
	return &swcache.Entry{
		URL:        row.URL,
		Status:     row.Status,
		StatusText: row.StatusText,
		Header:     header,
		Body:       row.Body,
		StoredAt:   row.StoredAt,
	}, true, nil
}

// Put inserts or overwrites the entry for key; last write wins.
func (c *sqlCache) Put(ctx context.Context, key string, entry *swcache.Entry) error {
	header, err := json.Marshal(entry.Header)
	if err != nil {
		return fmt.Errorf("failed to encode headers of %s: %w", key, err)
	}
	row := entities.CacheEntry{
		NamespaceID: c.namespaceID,
		URLHash:     hashKey(key),
		URL:         key,
		Status:      entry.Status,
		StatusText:  entry.StatusText,
		Header:      string(header),
		Body:        entry.Body,
		StoredAt:    entry.StoredAt,
	}
	err = c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "namespace_id"}, {Name: "url_hash"}},
		DoUpdates: clause.AssignmentColumns([]string{"url", "status", "status_text", "header", "body", "stored_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to write %s to %s: %w", key, c.name, err)
	}
	return nil
}

func (c *sqlCache) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	err := c.db.WithContext(ctx).Model(&entities.CacheEntry{}).
		Where("namespace_id = ?", c.namespaceID).
		Order("url ASC").
		Pluck("url", &keys).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list keys of %s: %w", c.name, err)
	}
	return keys, nil
}
