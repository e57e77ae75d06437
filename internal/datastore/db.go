// Package datastore opens the SQL database used for cache namespaces and
// push subscriptions.
package datastore

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/drsabri-stc/stcedge/internal/conf"
	"github.com/drsabri-stc/stcedge/internal/datastore/entities"
	"github.com/drsabri-stc/stcedge/internal/errors"
	"github.com/drsabri-stc/stcedge/internal/logger"
)

// Driver picks the SQL driver for settings: MySQL when a DSN is
// configured, SQLite otherwise.
func Driver(settings *conf.DatastoreSettings) string {
	if settings.MySQLDSN != "" {
		return conf.StorageMySQL
	}
	return conf.StorageSQLite
}

// Open connects to the database and migrates all tables.
func Open(settings *conf.DatastoreSettings, log logger.Logger) (*gorm.DB, error) {
	driver := Driver(settings)

	var dialector gorm.Dialector
	switch driver {
	case conf.StorageMySQL:
		dialector = mysql.Open(settings.MySQLDSN)
	default:
		if dir := filepath.Dir(settings.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, errors.New(fmt.Errorf("failed to create database directory: %w", err)).
					Component("datastore").
					Category(errors.CategoryStorage).
					Context("path", dir).
					Build()
			}
		}
		dialector = sqlite.Open(settings.SQLitePath + "?_foreign_keys=ON&_journal_mode=WAL&_busy_timeout=5000")
	}

	level := gorm_logger.Warn
	if settings.Debug {
		level = gorm_logger.Info
	}
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: newGormLogger(log, level),
	})
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open %s database: %w", driver, err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}

	if driver == conf.StorageSQLite {
		// SQLite serializes writers; one connection avoids SQLITE_BUSY.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("failed to get sql.DB: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table.
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&entities.CacheNamespace{},
		&entities.CacheEntry{},
		&entities.PushSubscription{},
	)
	if err != nil {
		return errors.New(fmt.Errorf("failed to migrate tables: %w", err)).
			Component("datastore").
			Category(errors.CategoryStorage).
			Build()
	}
	return nil
}

// Close releases the underlying connection pool.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// gormWriter forwards gorm log lines to the project logger.
type gormWriter struct {
	log logger.Logger
}

func (w gormWriter) Printf(format string, args ...any) {
	w.log.Debug(fmt.Sprintf(format, args...))
}

func newGormLogger(log logger.Logger, level gorm_logger.LogLevel) gorm_logger.Interface {
	if log == nil {
		return gorm_logger.Default.LogMode(gorm_logger.Silent)
	}
	return gorm_logger.New(gormWriter{log: log.Module("datastore")}, gorm_logger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  level,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
