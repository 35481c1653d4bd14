// Package testdb opens migrated in-memory SQLite databases for tests.
package testdb

import (
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/fieldlink/reputation-engine/internal/repository"
)

// New returns an empty, migrated in-memory database that is closed with the test.
func New(t *testing.T) *repository.DB {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), repository.GormConfig(nil))
	if err != nil {
		t.Fatalf("Failed to open in-memory database: %v", err)
	}

	// Every connection to :memory: is a separate database.
	sqlDB, err := gdb.DB()
	if err != nil {
		t.Fatalf("Failed to get database instance: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db := &repository.DB{DB: gdb}
	if err := db.AutoMigrate(); err != nil {
		t.Fatalf("Failed to auto-migrate tables: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})
	return db
}
