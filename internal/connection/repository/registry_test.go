package repository

import (
	"context"
	"testing"

	"github.com/svenmapprio/menuet/internal/db/dbtest"
)

// exerciseRegistry runs the behaviour every Registry must share. userA and userB must exist.
func exerciseRegistry(t *testing.T, r Registry, userA, userB int64) {
	t.Helper()
	ctx := context.Background()

	b, err := r.Get(ctx, "missing")
	if err != nil {
		t.Fatalf("Get missing: %v", err)
	}
	if b != nil {
		t.Fatalf("Get missing = %+v, want nil", b)
	}

	if err := r.Set(ctx, "conn-1", userA); err != nil {
		t.Fatalf("Set: %v", err)
	}
	b, err = r.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if b == nil || b.UserID != userA || b.ConnectionID != "conn-1" {
		t.Fatalf("Get = %+v, want user %d", b, userA)
	}
	if b.CreatedAt.IsZero() {
		t.Error("CreatedAt should be set")
	}

	// Binding again replaces, never adds.
	if err := r.Set(ctx, "conn-1", userB); err != nil {
		t.Fatalf("Set replace: %v", err)
	}
	b, err = r.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Get after replace: %v", err)
	}
	if b.UserID != userB {
		t.Errorf("UserID = %d, want %d", b.UserID, userB)
	}

	if err := r.Remove(ctx, "conn-1"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if err := r.Remove(ctx, "conn-1"); err != nil {
		t.Fatalf("Remove twice: %v", err)
	}
	b, err = r.Get(ctx, "conn-1")
	if err != nil {
		t.Fatalf("Get after remove: %v", err)
	}
	if b != nil {
		t.Errorf("Get after remove = %+v, want nil", b)
	}
}

func TestMemoryRegistry(t *testing.T) {
	r := NewMemoryRegistry()
	exerciseRegistry(t, r, 1, 2)
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestPostgresRegistry(t *testing.T) {
	conn := dbtest.Open(t)
	ctx := context.Background()
	var a, b int64
	if err := conn.QueryRowContext(ctx, `INSERT INTO users (handle) VALUES ('a') RETURNING id`).Scan(&a); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	if err := conn.QueryRowContext(ctx, `INSERT INTO users (handle) VALUES ('b') RETURNING id`).Scan(&b); err != nil {
		t.Fatalf("insert user: %v", err)
	}
	exerciseRegistry(t, NewPostgresRegistry(conn), a, b)
}
