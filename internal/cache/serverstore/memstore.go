package serverstore

import (
	"context"
	"sync"
	"time"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

type memKey struct {
	store string
	id    string
}

// MemStore is an in-process authoritative tier, used for tests and
// single-process deployments that don't need cross-process durability.
type MemStore struct {
	mu    sync.RWMutex
	items map[memKey]cachecore.PersistedEntry
}

// NewMemStore constructs an empty in-process store.
func NewMemStore() *MemStore {
	return &MemStore{items: make(map[memKey]cachecore.PersistedEntry)}
}

func (m *MemStore) Get(_ context.Context, store, id string) (cachecore.PersistedEntry, bool, error) {
	m.mu.RLock()
	ent, ok := m.items[memKey{store, id}]
	m.mu.RUnlock()

	if !ok {
		return cachecore.PersistedEntry{}, false, nil
	}
	if !ent.Expiration.IsZero() && time.Now().After(ent.Expiration) {
		m.mu.Lock()
		delete(m.items, memKey{store, id})
		m.mu.Unlock()
		return cachecore.PersistedEntry{}, false, nil
	}
	return ent, true, nil
}

func (m *MemStore) Set(_ context.Context, store, id string, ent cachecore.PersistedEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[memKey{store, id}] = ent
	return nil
}

func (m *MemStore) Delete(_ context.Context, store, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, memKey{store, id})
	return nil
}

func (m *MemStore) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items = make(map[memKey]cachecore.PersistedEntry)
	return nil
}

func (m *MemStore) Ping(context.Context) error {
	return nil
}

// Len reports the number of stored entries, expired or not (expiration is
// not checked), for tests.
func (m *MemStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
