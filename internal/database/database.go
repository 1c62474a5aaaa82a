package database

import (
	"example.com/smartpos/services/pos/internal/models"

	"github.com/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// ErrStorageUnavailable is returned when the local store cannot be opened or
// initialized. Callers must treat it as fatal; there is no degraded mode.
var ErrStorageUnavailable = errors.New("local storage unavailable")

// Open opens the on-device sqlite store and runs migrations.
//
// The store is deliberately pinned to a single connection: all writers share
// one transaction boundary, which is the single-writer model the rest of the
// core assumes.
func Open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, errors.Wrap(ErrStorageUnavailable, "empty database path")
	}

	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on"
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrapf(ErrStorageUnavailable, "open %s: %v", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := models.SetupModels(db); err != nil {
		return nil, errors.Wrap(ErrStorageUnavailable, err.Error())
	}

	return db, nil
}

// Close releases the underlying connection.
func Close(db *gorm.DB) error {
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
