// Package cache implements a pluggable key-value caching subsystem that
// transparently compresses and encrypts cached payloads, enforces
// size-bounded eviction, supports real-time subscriptions, and composes a
// fast in-process tier with a durable authoritative tier into a single
// coherent view.
//
// # Architecture
//
// Two independent storage tiers are unified behind one Engine:
//
//  1. Fast tier: an in-process, decoded Engine-backed store.
//  2. Authoritative tier: a durable store holding codec-transformed
//     (compressed + encrypted) payloads, written through a batch writer.
//
// # Storage engine
//
//	eng := storage.New(storage.Config{
//	    CacheSize:      1000,
//	    EvictionPolicy: storage.PolicyLRU,
//	})
//	eng.Set("store", "id", value, time.Now().Add(time.Hour))
//	result, ok := eng.Get("store", "id")
//
// # Codec pipeline
//
//	codec, _ := codec.New(codec.Config{Algorithm: codec.AlgorithmAES256GCM, KeySizeBits: 256})
//	payload, _ := codec.Encode(value, password)
//	value, _ := codec.Decode(payload, password)
//
// # Two-tier composer
//
//	eng, _ := cache.New(ctx, cache.Default(), serverStorage, false)
//	eng.Set(ctx, "id", "store", value, cache.ModeTwoLayer, expiry)
//	result, _ := eng.Get(ctx, "id", "store", cache.ModeTwoLayer)
//
// # Subscription bus
//
//	unsub, _ := eng.SubscribeToUpdates("id", "store", cache.ModeTwoLayer, func(r cachecore.CacheResult) { ... })
//	defer unsub()
//
// # Key Files
//
//   - cachecore/value.go: the tagged Value union and CacheEntry/CacheResult types
//   - cachecore/errors.go: the error taxonomy
//   - config.go: engine configuration and validation
//   - keylock.go: per-key serialization primitive
//   - storage/storage.go: the bounded storage engine
//   - codec/codec.go: compression + AEAD encryption pipeline
//   - batch/batch.go: the authoritative-tier batch writer
//   - composer.go: the two-tier read/write/remove/clear protocol
//   - pubsub/pubsub.go: the per-(store, id) subscription bus
//   - engine.go: the mode-aware operation surface consumed by a dispatcher
//   - serverstore/: the authoritative-tier collaborator (memory + Redis)
package cache
