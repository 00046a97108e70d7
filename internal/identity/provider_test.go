package identity

import (
	"context"
	"fmt"
	"testing"

	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

func newTestProvider(t *testing.T, store kv.Store) *Provider {
	t.Helper()
	p, err := NewProvider(store, logger.New(logger.Options{ServiceName: "test"}))
	if err != nil {
		t.Fatalf("failed to build provider: %v", err)
	}
	return p
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	p := newTestProvider(t, store)

	first := p.GetOrCreate(context.Background())
	second := p.GetOrCreate(context.Background())

	if first == "" {
		t.Fatal("expected non-empty identity")
	}
	if first != second {
		t.Fatalf("identity changed between calls: %q vs %q", first, second)
	}
}

func TestGetOrCreateReadsPersistedIdentity(t *testing.T) {
	t.Parallel()

	store := kv.NewMemoryStore()
	if err := store.Set(context.Background(), storageKey, "persisted-id"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	p := newTestProvider(t, store)
	if got := p.GetOrCreate(context.Background()); got != "persisted-id" {
		t.Fatalf("expected persisted identity, got %q", got)
	}
}

func TestSignalFailureFallsBackToRandomID(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, kv.NewMemoryStore())
	p.signals = func() (string, error) {
		return "", fmt.Errorf("no signals")
	}

	id := p.GetOrCreate(context.Background())
	if id == "" {
		t.Fatal("expected fallback identity")
	}
	// uuid fallback is 36 chars with dashes, never a 64-char hex digest
	if len(id) == 64 {
		t.Fatalf("expected random uuid fallback, got digest-shaped id %q", id)
	}
}

type failingStore struct{}

func (failingStore) Get(context.Context, string) (string, bool) { return "", false }
func (failingStore) Set(context.Context, string, string) error {
	return fmt.Errorf("disk full")
}
func (failingStore) Delete(context.Context, string) error { return nil }

func TestStorageFailureStillYieldsIdentity(t *testing.T) {
	t.Parallel()

	p := newTestProvider(t, failingStore{})
	id := p.GetOrCreate(context.Background())
	if id == "" {
		t.Fatal("identity must survive storage failure")
	}
	if p.GetOrCreate(context.Background()) != id {
		t.Fatal("in-memory identity should stay stable for the process")
	}
}

func TestDerivedIdentityIsDeterministicPerSignals(t *testing.T) {
	t.Parallel()

	a := newTestProvider(t, kv.NewMemoryStore())
	b := newTestProvider(t, kv.NewMemoryStore())
	a.signals = func() (string, error) { return "linux|arm64|cpus=8|host|CET|en_US", nil }
	b.signals = func() (string, error) { return "linux|arm64|cpus=8|host|CET|en_US", nil }

	if a.GetOrCreate(context.Background()) != b.GetOrCreate(context.Background()) {
		t.Fatal("same signals must derive the same identity")
	}
}
