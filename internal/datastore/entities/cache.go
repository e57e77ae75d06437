package entities

import "time"

// CacheNamespace is a named, versioned set of cached responses.
type CacheNamespace struct {
	ID        uint         `gorm:"primaryKey"`
	Name      string       `gorm:"size:191;not null;uniqueIndex"`
	CreatedAt time.Time    `gorm:"autoCreateTime"`
	Entries   []CacheEntry `gorm:"foreignKey:NamespaceID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM.
func (CacheNamespace) TableName() string {
	return "cache_namespaces"
}

// CacheEntry is one stored response. URL can exceed index length limits,
// so uniqueness is enforced on its SHA-256 instead.
type CacheEntry struct {
	ID          uint      `gorm:"primaryKey"`
	NamespaceID uint      `gorm:"not null;uniqueIndex:idx_cache_entries_ns_url,priority:1"`
	URLHash     string    `gorm:"size:64;not null;uniqueIndex:idx_cache_entries_ns_url,priority:2"`
	URL         string    `gorm:"type:text;not null"`
	Status      int       `gorm:"not null"`
	StatusText  string    `gorm:"size:64;default:''"`
	Header      string    `gorm:"type:text"`
	Body        []byte
	StoredAt    time.Time `gorm:"not null"`
}

// TableName returns the table name for GORM.
func (CacheEntry) TableName() string {
	return "cache_entries"
}
