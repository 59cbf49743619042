// Package dbtest opens a migrated Postgres database for integration tests.
package dbtest

import (
	"database/sql"
	"os"
	"testing"

	"github.com/svenmapprio/menuet/internal/db"
	"github.com/svenmapprio/menuet/internal/db/migrate"
)

// Open returns a database migrated to the latest version, skipping the test when DATABASE_URL
// is unset. Tables touched by tests are truncated before returning.
func Open(t testing.TB) *sql.DB {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := migrate.Run(dsn, migrate.Up); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	conn, err := db.Open(dsn)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	const truncate = `TRUNCATE users, accounts, oauth_sessions, connection_bindings, friends,
		bus_attachments, place_enrichment, enrichment_tasks, guard_policies, audit_log RESTART IDENTITY CASCADE`
	if _, err := conn.Exec(truncate); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return conn
}

// DSN returns DATABASE_URL or skips the test.
func DSN(t testing.TB) string {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	return dsn
}
