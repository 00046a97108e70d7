// Package identity derives and persists the stable per-device identifier
// that substitutes for a login before a user authenticates. The id is the
// anonymous cart and session key.
package identity

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tapdine/tapdine-backend/pkg/kv"
	"github.com/tapdine/tapdine-backend/pkg/logger"
)

const storageKey = "device_identity"

// Provider hands out the device identity. The first call derives and
// persists it; later calls are idempotent reads.
type Provider struct {
	store   kv.Store
	logg    *logger.Logger
	signals func() (string, error)

	cached string
}

// NewProvider builds an identity provider over the given storage adapter.
func NewProvider(store kv.Store, logg *logger.Logger) (*Provider, error) {
	if store == nil {
		return nil, fmt.Errorf("kv store required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Provider{
		store:   store,
		logg:    logg,
		signals: collectSignals,
	}, nil
}

// GetOrCreate returns the stable device identity. Identity derivation is
// never fatal: signal collection falls back to a random UUID, and a failed
// persist still returns a usable id for the process lifetime.
func (p *Provider) GetOrCreate(ctx context.Context) string {
	if p.cached != "" {
		return p.cached
	}

	if existing, ok := p.store.Get(ctx, storageKey); ok && existing != "" {
		p.cached = existing
		return existing
	}

	id := p.derive(ctx)
	if err := p.store.Set(ctx, storageKey, id); err != nil {
		p.logg.Warn(p.logg.WithField(ctx, "error", err.Error()), "device identity not persisted, keeping in-memory value")
	}
	p.cached = id
	return id
}

func (p *Provider) derive(ctx context.Context) string {
	raw, err := p.signals()
	if err != nil {
		p.logg.Warn(ctx, "device signals unavailable, falling back to random identity")
		return uuid.NewString()
	}
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// collectSignals combines the stable host characteristics available to the
// process. The combination only needs to be deterministic per device, not
// globally unique on its own; the hash takes care of the rest.
func collectSignals() (string, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return "", fmt.Errorf("hostname unavailable: %w", err)
	}

	zone, _ := time.Now().Zone()
	parts := []string{
		runtime.GOOS,
		runtime.GOARCH,
		fmt.Sprintf("cpus=%d", runtime.NumCPU()),
		hostname,
		zone,
		os.Getenv("LANG"),
	}
	return strings.Join(parts, "|"), nil
}
