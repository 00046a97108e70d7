package redis

import (
	"testing"

	"github.com/tapdine/tapdine-backend/pkg/config"
)

func TestOptionsFromConfigRequiresEndpoint(t *testing.T) {
	t.Parallel()

	if _, err := optionsFromConfig(config.RedisConfig{}); err == nil {
		t.Fatal("expected error without url or address")
	}
}

func TestOptionsFromConfigPrefersURL(t *testing.T) {
	t.Parallel()

	opts, err := optionsFromConfig(config.RedisConfig{
		URL:      "redis://localhost:6379/2",
		Address:  "ignored:1",
		PoolSize: 4,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.Addr != "localhost:6379" {
		t.Fatalf("unexpected addr %q", opts.Addr)
	}
	if opts.DB != 2 {
		t.Fatalf("unexpected db %d", opts.DB)
	}
	if opts.PoolSize != 4 {
		t.Fatalf("pool size not applied: %d", opts.PoolSize)
	}
}

func TestIdempotencyKeyNamespacing(t *testing.T) {
	t.Parallel()

	c := &Client{}
	key := c.IdempotencyKey("orders", "txn-123")
	if key != "td:idempotency:orders:txn-123" {
		t.Fatalf("unexpected key %q", key)
	}
}
