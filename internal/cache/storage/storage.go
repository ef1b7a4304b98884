// Package storage implements the bounded, TTL-aware storage engine shared
// by the fast tier and the authoritative tier: a map guarded by a mutex,
// with per-entry hit counters, atomic eviction and expiration counters, and
// an LRU/LFU/Adaptive eviction policy, used
// twice — once holding decoded cachecore.Value payloads (the fast tier)
// and once holding cachecore.EncryptedPayload payloads (the authoritative
// tier).
package storage

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// Policy selects the eviction strategy used once the engine is at capacity.
type Policy string

const (
	PolicyLRU      Policy = "lru"
	PolicyLFU      Policy = "lfu"
	PolicyAdaptive Policy = "adaptive"
)

// Config is the frozen configuration an Engine is constructed with.
type Config struct {
	// CacheSize bounds the resident entry count. Must be > 0.
	CacheSize int
	// EvictionPolicy selects LRU, LFU, or Adaptive.
	EvictionPolicy Policy
	// PrefetchThreshold is the rolling hit-rate below which Adaptive
	// switches from LRU to LFU. Must be in [0, 1].
	PrefetchThreshold float64
	// MaxValueBytes bounds the encoded size of a single entry's payload.
	MaxValueBytes int
	// RejectPastExpiration makes Set fail with InvalidExpiration when the
	// caller supplies an expiration in the past. The authoritative tier
	// sets this true; the fast tier leaves it false because the composer
	// is responsible for interpreting past expirations.
	RejectPastExpiration bool
}

// pastExpirationGrace is the skew tolerance applied when rejecting past
// expirations: an expiration equal to "now" as the caller computed it is
// still a valid write (it produces an immediately-expired entry that reads
// as a miss), so only expirations older than this window are rejected.
const pastExpirationGrace = time.Second

// ExpirationInPast reports whether expiration is far enough in the past to
// be rejected, applying the shared skew tolerance. The zero Time (no
// expiration) is never in the past.
func ExpirationInPast(expiration time.Time) bool {
	return !expiration.IsZero() && time.Since(expiration) > pastExpirationGrace
}

// key identifies an entry by (store, identifier).
type key struct {
	store string
	id    string
}

type entry struct {
	value        interface{}
	expiration   time.Time
	lastUpdated  time.Time
	lastAccessed time.Time
	getHits      int64
	setHits      int64
	sizeBytes    int
}

// Engine is a bounded, TTL-aware key-value store. It is safe for concurrent
// use; Set/Get/Remove/Clear may be called from multiple goroutines, though
// callers needing per-key total ordering must serialize externally (see
// keyLock in package cache).
type Engine struct {
	mu      sync.RWMutex
	entries map[key]*entry
	config  Config

	// recentHits/recentTotal track a rolling window for the Adaptive
	// policy's hit-rate estimate.
	recentHits  int64
	recentTotal int64

	evictions int64
	expired   int64
}

// New constructs a storage engine. A zero Config.CacheSize is treated as
// unbounded-in-practice but is rejected by higher-level configuration
// validation requiring cache-size > 0; the engine itself only refuses to
// evict when CacheSize <= 0.
func New(cfg Config) *Engine {
	if cfg.EvictionPolicy == "" {
		cfg.EvictionPolicy = PolicyLRU
	}
	return &Engine{
		entries: make(map[key]*entry),
		config:  cfg,
	}
}

// sizeOf estimates the encoded size of a payload for ValueTooLarge checks.
// Callers that already know the encoded size (the codec, for the
// authoritative tier) should prefer SetSized.
func sizeOf(payload interface{}) int {
	switch p := payload.(type) {
	case cachecore.Value:
		b, err := cachecore.Encode(p)
		if err != nil {
			return 0
		}
		return len(b)
	case cachecore.EncryptedPayload:
		return len(p.Ciphertext) + len(p.IV) + len(p.Salt) + len(p.Tag)
	default:
		return 0
	}
}

// Set creates or replaces the entry at (store, id). If the engine is at
// capacity and the key is new, one entry is evicted first. set-hit-count
// resets to 1 on replace (see DESIGN.md open-question resolution).
func (e *Engine) Set(store, id string, payload interface{}, expiration time.Time) error {
	return e.SetSized(store, id, payload, expiration, sizeOf(payload))
}

// SetSized is Set with an explicit, already-known encoded size, used by the
// authoritative tier where the codec has already computed it.
func (e *Engine) SetSized(store, id string, payload interface{}, expiration time.Time, size int) error {
	if e.config.RejectPastExpiration && ExpirationInPast(expiration) {
		return &cachecore.ValidationError{Kind: cachecore.ErrInvalidExpiration, Field: "expiration", Got: expiration.String()}
	}
	if e.config.MaxValueBytes > 0 && size > e.config.MaxValueBytes {
		return fmt.Errorf("%w: %d bytes exceeds max %d", cachecore.ErrValueTooLarge, size, e.config.MaxValueBytes)
	}

	now := time.Now()
	k := key{store: store, id: id}

	e.mu.Lock()
	defer e.mu.Unlock()

	if existing, ok := e.entries[k]; ok {
		existing.value = payload
		existing.expiration = expiration
		existing.lastUpdated = now
		existing.lastAccessed = now
		existing.setHits = 1
		existing.sizeBytes = size
		return nil
	}

	if e.config.CacheSize > 0 && len(e.entries) >= e.config.CacheSize {
		e.evictLocked()
	}

	e.entries[k] = &entry{
		value:        payload,
		expiration:   expiration,
		lastUpdated:  now,
		lastAccessed: now,
		setHits:      1,
		sizeBytes:    size,
	}
	return nil
}

// Get returns the entry at (store, id) if present and unexpired, updating
// get-hit-count and last-accessed. A miss (absent or expired) never
// mutates counters; an expired entry is removed in place.
func (e *Engine) Get(store, id string) (*cachecore.CacheEntry, bool) {
	k := key{store: store, id: id}
	now := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	ent, ok := e.entries[k]
	if !ok {
		e.recordAccess(false)
		return nil, false
	}
	if !ent.expiration.IsZero() && !ent.expiration.After(now) {
		delete(e.entries, k)
		atomic.AddInt64(&e.expired, 1)
		e.recordAccess(false)
		return nil, false
	}

	ent.getHits++
	ent.lastAccessed = now
	e.recordAccess(true)

	return &cachecore.CacheEntry{
		Identifier:   id,
		Store:        store,
		Payload:      ent.value,
		Expiration:   ent.expiration,
		LastUpdated:  ent.lastUpdated,
		LastAccessed: ent.lastAccessed,
		GetHitCount:  ent.getHits,
		SetHitCount:  ent.setHits,
		SizeBytes:    ent.sizeBytes,
	}, true
}

// Remove deletes the entry at (store, id) if present. Idempotent.
func (e *Engine) Remove(store, id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.entries, key{store: store, id: id})
}

// Clear deletes every entry in every store.
func (e *Engine) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.entries = make(map[key]*entry)
}

// Len returns the current resident entry count.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Evictions returns the lifetime eviction count.
func (e *Engine) Evictions() int64 { return atomic.LoadInt64(&e.evictions) }

// Expirations returns the lifetime lazy-expiration count.
func (e *Engine) Expirations() int64 { return atomic.LoadInt64(&e.expired) }

// Keys returns the (store, id) pairs of every resident entry, in no
// particular order.
func (e *Engine) Keys() [][2]string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([][2]string, 0, len(e.entries))
	for k := range e.entries {
		out = append(out, [2]string{k.store, k.id})
	}
	return out
}

// recordAccess feeds the rolling hit-rate window used by the Adaptive
// policy. Must be called with e.mu held.
func (e *Engine) recordAccess(hit bool) {
	if e.config.EvictionPolicy != PolicyAdaptive {
		return
	}
	const window = 256
	if e.recentTotal >= window {
		e.recentTotal = 0
		e.recentHits = 0
	}
	e.recentTotal++
	if hit {
		e.recentHits++
	}
}

func (e *Engine) effectivePolicy() Policy {
	if e.config.EvictionPolicy != PolicyAdaptive {
		return e.config.EvictionPolicy
	}
	if e.recentTotal == 0 {
		return PolicyLRU
	}
	rate := float64(e.recentHits) / float64(e.recentTotal)
	if rate < e.config.PrefetchThreshold {
		return PolicyLFU
	}
	return PolicyLRU
}

// candidate pairs a key with its entry for eviction-sort purposes.
type candidate struct {
	k   key
	ent *entry
}

// evictLocked selects and removes exactly one entry, with e.mu already
// held for writing. Tie-break: oldest last-updated, then lexicographic
// (store, id).
func (e *Engine) evictLocked() {
	if len(e.entries) == 0 {
		return
	}

	cands := make([]candidate, 0, len(e.entries))
	for k, ent := range e.entries {
		cands = append(cands, candidate{k, ent})
	}

	policy := e.effectivePolicy()

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		switch policy {
		case PolicyLFU:
			if a.ent.getHits != b.ent.getHits {
				return a.ent.getHits < b.ent.getHits
			}
		default: // LRU
			if !a.ent.lastAccessed.Equal(b.ent.lastAccessed) {
				return a.ent.lastAccessed.Before(b.ent.lastAccessed)
			}
		}
		return tieBreak(a, b)
	})

	victim := cands[0].k
	delete(e.entries, victim)
	atomic.AddInt64(&e.evictions, 1)
}

func tieBreak(a, b candidate) bool {
	if !a.ent.lastUpdated.Equal(b.ent.lastUpdated) {
		return a.ent.lastUpdated.Before(b.ent.lastUpdated)
	}
	if a.k.store != b.k.store {
		return a.k.store < b.k.store
	}
	return a.k.id < b.k.id
}
