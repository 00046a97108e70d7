package kv

import (
	"context"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tapdine/tapdine-backend/pkg/db/models"
)

func newTestGormStore(t *testing.T) *GormStore {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&models.KVEntry{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	store, err := NewGormStore(conn)
	if err != nil {
		t.Fatalf("failed to build store: %v", err)
	}
	return store
}

func TestGormStoreRoundTrip(t *testing.T) {
	store := newTestGormStore(t)
	ctx := context.Background()

	if _, ok := store.Get(ctx, "device_id"); ok {
		t.Fatal("expected missing key")
	}

	if err := store.Set(ctx, "device_id", "abc"); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	if err := store.Set(ctx, "device_id", "def"); err != nil {
		t.Fatalf("overwrite failed: %v", err)
	}

	val, ok := store.Get(ctx, "device_id")
	if !ok || val != "def" {
		t.Fatalf("expected def, got %q (%v)", val, ok)
	}

	if err := store.Delete(ctx, "device_id"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := store.Get(ctx, "device_id"); ok {
		t.Fatal("expected key gone after delete")
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ctx := context.Background()

	if err := store.Set(ctx, "session", `{"shop_id":"7"}`); err != nil {
		t.Fatalf("set failed: %v", err)
	}
	val, ok := store.Get(ctx, "session")
	if !ok || val != `{"shop_id":"7"}` {
		t.Fatalf("unexpected value %q", val)
	}
	if err := store.Delete(ctx, "session"); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, ok := store.Get(ctx, "session"); ok {
		t.Fatal("expected key gone")
	}
}
