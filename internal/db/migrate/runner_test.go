package migrate

import (
	"errors"
	"io/fs"
	"os"
	"strings"
	"testing"

	"github.com/svenmapprio/menuet/internal/db"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", Up)
	if !errors.Is(err, errNoDSN) {
		t.Fatalf("Run with empty DSN = %v, want errNoDSN", err)
	}
}

func TestRun_InvalidDirection(t *testing.T) {
	for _, dir := range []Direction{"", "sideways", "UP", "Down"} {
		t.Run(string(dir), func(t *testing.T) {
			err := Run("postgres://localhost/test", dir)
			if err == nil || !strings.Contains(err.Error(), "direction") {
				t.Errorf("Run(%q) = %v, want direction error", dir, err)
			}
		})
	}
}

func TestRun_InvalidDSN(t *testing.T) {
	for _, dsn := range []string{"invalid-dsn", "://localhost/test", "postgres://localhost with spaces/test"} {
		if err := Run(dsn, Up); err == nil {
			t.Errorf("Run(%q) should fail", dsn)
		}
	}
}

func TestMigrationFS_PairsUpAndDown(t *testing.T) {
	entries, err := fs.ReadDir(db.MigrationFS, "migrations")
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	ups, downs := map[string]bool{}, map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}
	if len(ups) == 0 {
		t.Fatal("no migrations embedded")
	}
	for v := range ups {
		if !downs[v] {
			t.Errorf("migration %s has no down file", v)
		}
	}
}

func TestRun_UpDownUp(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	if err := Run(dsn, Up); err != nil {
		t.Fatalf("up: %v", err)
	}
	if err := Run(dsn, Up); err != nil {
		t.Fatalf("second up should be a no-op: %v", err)
	}
	v, dirty, err := Version(dsn)
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if v < 2 || dirty {
		t.Errorf("Version = %d dirty=%v, want >= 2 clean", v, dirty)
	}
}
