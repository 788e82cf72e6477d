// Package repo implements the local store: the on-device persistence layer
// for chats and messages, backed by GORM over pure-Go SQLite. This file
// contains database bootstrapping helpers and schema migrations.
package repo

import (
	"os"
	"path/filepath"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/nkoutris/go-chat-sync/internal/domain"
)

// sqlitePragmas tune the local store for a single-process writer with
// concurrent readers. busy_timeout covers the brief write locks taken while
// a turn persists its message pair.
var sqlitePragmas = []string{
	"PRAGMA journal_mode=WAL;",
	"PRAGMA synchronous=NORMAL;",
	"PRAGMA foreign_keys=ON;",
	"PRAGMA busy_timeout=5000;",
}

// OpenSQLite opens (or creates) the local store database, applies pragmas,
// and attaches query tracing so SQL spans nest under the HTTP spans.
func OpenSQLite(path string) (*gorm.DB, error) {
	// Fail early if the parent directory does not exist; the driver's own
	// error for that case ("out of memory (14)" on Windows) is useless.
	if dir := filepath.Dir(path); dir != "." {
		if _, err := os.Stat(dir); err != nil {
			return nil, err
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	for _, pragma := range sqlitePragmas {
		db.Exec(pragma)
	}

	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(10)
		sqlDB.SetMaxIdleConns(10)
		sqlDB.SetConnMaxIdleTime(5 * time.Minute)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}

	return db, nil
}

// AutoMigrate applies the local store schema.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.Chat{},
		&domain.Message{},
		&domain.Idempotency{},
	)
}
