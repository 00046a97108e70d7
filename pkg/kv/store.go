// Package kv is the durable client-storage adapter. Device identity, the
// session context and the local cart draft are small values read far more
// often than written, so the interface is a plain synchronous key-value
// surface backed either by the service database or by memory in tests.
package kv

import "context"

// Store is the minimal persistence contract the engine depends on.
type Store interface {
	// Get returns the stored value and whether the key exists. Lookup
	// failures are reported as a missing key; callers fall back to
	// defaults rather than aborting.
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
