// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"database/sql"
	"testing"

	"github.com/filedepot/filedepot/internal/config"
	"github.com/filedepot/filedepot/internal/database"
)

// SetupTestDB creates an in-memory SQLite database for testing.
// The database is automatically closed when the test completes.
func SetupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	// IMPORTANT: force a single connection for in-memory databases.
	// Each connection in the pool gets its own separate :memory:
	// database, so migrations and queries must share one connection.
	db.SetMaxOpenConns(1)

	if err := database.RunMigrations(db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// SetupTestConfig returns a config with small limits suitable for tests.
func SetupTestConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Port:                   "8080",
		DBPath:                 ":memory:",
		StorageBackend:         "filesystem",
		UploadDir:              t.TempDir(),
		SessionBackend:         "memory",
		SessionTTLHours:        24,
		MinChunkSize:           4,
		MaxChunkSize:           10 * 1024 * 1024,
		MaxChunks:              10000,
		MaxFileSize:            100 * 1024 * 1024,
		MaxSingleUploadSize:    10 * 1024 * 1024,
		SweepIntervalMinutes:   60,
		FailedRetentionDays:    7,
		AccessLogRetentionDays: 90,
		SignedURLTTLMinutes:    60,
		UpstreamRetryAttempts:  1,
	}
}
