// Package serverstore provides the authoritative-tier collaborator: the
// durable backing store a composer's batch writer flushes into and reads
// through on a fast-tier miss. Store is satisfied by an in-process
// memstore (memstore.go, for tests and single-process deployments) and by
// a Redis-backed implementation (redis.go).
package serverstore

import (
	"context"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// Store is the authoritative tier's storage contract. Entries are
// persisted as cachecore.PersistedEntry records, so the encrypted payload
// travels with its expiration and hit-accounting metadata.
type Store interface {
	// Get returns the persisted record for (store, id). ok is false on a
	// miss or an expired entry.
	Get(ctx context.Context, store, id string) (ent cachecore.PersistedEntry, ok bool, err error)

	// Set writes the record for (store, id), replacing any previous one.
	Set(ctx context.Context, store, id string, ent cachecore.PersistedEntry) error

	// Delete removes (store, id). Deleting an absent key is not an error.
	Delete(ctx context.Context, store, id string) error

	// Clear removes every entry this Store is responsible for.
	Clear(ctx context.Context) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
