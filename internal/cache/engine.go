package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goobz22/goobs-cache/internal/cache/batch"
	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
	"github.com/goobz22/goobs-cache/internal/cache/codec"
	"github.com/goobz22/goobs-cache/internal/cache/pubsub"
	"github.com/goobz22/goobs-cache/internal/cache/serverstore"
	"github.com/goobz22/goobs-cache/internal/cache/storage"
)

// Mode selects which tier(s) an operation addresses. Cookie storage
// lives with the external dispatcher; the engine only validates the mode
// name and gives cookie mode a defined, non-panicking response.
type Mode string

const (
	ModeServer   Mode = "server"    // authoritative tier only
	ModeClient   Mode = "client"    // fast tier only
	ModeCookie   Mode = "cookie"    // external collaborator; out of scope
	ModeTwoLayer Mode = "two-layer" // composer: fast + authoritative
)

func validMode(m Mode) bool {
	switch m {
	case ModeServer, ModeClient, ModeCookie, ModeTwoLayer:
		return true
	default:
		return false
	}
}

// invalidModeError reports InvalidCacheMode with the offending
// representation included verbatim, including for an empty-string mode.
func invalidModeError(raw string) error {
	repr := raw
	if repr == "" {
		repr = "<empty>"
	}
	return &cachecore.ValidationError{Kind: cachecore.ErrInvalidCacheMode, Field: "mode", Got: repr}
}

// Engine is the caching subsystem's external surface. Construct with New.
type Engine struct {
	fast     *storage.Engine
	auth     *storage.Engine
	composer *composer
	bus      *pubsub.Bus
	writer   *batch.Writer
	log      *logrus.Logger
	maxAge   time.Duration
}

// New validates cfg, wires the storage engines, codec, batch writer,
// composer, and subscription bus together against store, and returns a
// ready-to-use Engine. ForceReset clears store before anything reads
// from it.
func New(ctx context.Context, cfg Config, store serverstore.Store, isClientSide bool) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, &cachecore.ValidationError{Kind: cachecore.ErrInvalidServerStorage, Field: "server-storage", Got: "<nil>"}
	}

	password, err := cfg.resolveEncryptionPassword()
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = logrus.New()
	}

	cd, err := codec.New(codec.Config{
		Algorithm:        cfg.Algorithm,
		KeySizeBits:      cfg.KeySize,
		CompressionLevel: cfg.CompressionLevel,
	})
	if err != nil {
		return nil, err
	}

	fast := storage.New(storage.Config{
		CacheSize:            cfg.CacheSize,
		EvictionPolicy:       cfg.EvictionPolicy,
		PrefetchThreshold:    cfg.PrefetchThreshold,
		MaxValueBytes:        cachecore.MaxValueBytes,
		RejectPastExpiration: false,
	})
	auth := storage.New(storage.Config{
		CacheSize:            cfg.CacheSize,
		EvictionPolicy:       cfg.EvictionPolicy,
		PrefetchThreshold:    cfg.PrefetchThreshold,
		MaxValueBytes:        cfg.MaxMemoryUsage,
		RejectPastExpiration: true,
	})

	bus := pubsub.New(log)

	persister := &serverstorePersister{store: store, auth: auth}
	writer := batch.New(persister, batch.Config{
		FlushInterval: cfg.PersistenceInterval,
		BatchSize:     cfg.BatchSize,
		Logger:        log,
	})

	if cfg.ForceReset {
		if err := store.Clear(ctx); err != nil {
			_ = writer.Stop(ctx)
			return nil, fmt.Errorf("%w: force reset: %v", cachecore.ErrStorageError, err)
		}
	}

	comp := newComposer(composerDeps{
		Fast:               fast,
		Auth:               auth,
		Backing:            store,
		Codec:              cd,
		Writer:             writer,
		Bus:                bus,
		EncryptionPassword: password,
		IsClientSide:       isClientSide,
		Logger:             log,
	})

	return &Engine{fast: fast, auth: auth, composer: comp, bus: bus, writer: writer, log: log, maxAge: cfg.CacheMaxAge}, nil
}

// serverstorePersister adapts serverstore.Store to batch.Persister while
// keeping the authoritative storage.Engine (the in-process mirror of A
// used for reads) updated alongside the durable backing store, so a
// get() that hits A doesn't need to round-trip to serverstore.Store on
// every read.
type serverstorePersister struct {
	store serverstore.Store
	auth  *storage.Engine
}

func (p *serverstorePersister) Persist(ctx context.Context, store, id string, ent cachecore.PersistedEntry) error {
	if err := p.store.Set(ctx, store, id, ent); err != nil {
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}
	if err := p.auth.SetSized(store, id, ent.Payload, ent.Expiration, ent.Size()); err != nil {
		// The entry expired while sitting in the pending batch; skipping
		// the mirror is correct, reads for it will miss either way.
		if errors.Is(err, cachecore.ErrInvalidExpiration) {
			return nil
		}
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}
	return nil
}

// Set stores value under (storeName, identifier), expiring at expiration.
// The zero Time applies the configured default TTL (cache-max-age).
func (e *Engine) Set(ctx context.Context, identifier, storeName string, value cachecore.Value, mode Mode, expiration time.Time) error {
	if !validMode(mode) {
		return invalidModeError(string(mode))
	}
	if err := validateKeyAndValue(identifier, storeName, value); err != nil {
		return err
	}
	if expiration.IsZero() {
		expiration = time.Now().Add(e.maxAge)
	}

	switch mode {
	case ModeCookie:
		return cachecore.ErrCacheModeExternal
	case ModeServer:
		return e.composer.authoritativeSet(ctx, storeName, identifier, value, expiration)
	case ModeClient:
		return e.fast.Set(storeName, identifier, value, expiration)
	default: // ModeTwoLayer
		return e.composer.set(ctx, storeName, identifier, value, expiration)
	}
}

// Get retrieves the value stored under (storeName, identifier).
func (e *Engine) Get(ctx context.Context, identifier, storeName string, mode Mode) (cachecore.CacheResult, error) {
	if !validMode(mode) {
		return cachecore.Miss(), invalidModeError(string(mode))
	}
	if err := cachecore.ValidateIdentifier("identifier", identifier); err != nil {
		return cachecore.Miss(), err
	}
	if err := cachecore.ValidateIdentifier("store", storeName); err != nil {
		return cachecore.Miss(), err
	}

	switch mode {
	case ModeCookie:
		return cachecore.Miss(), cachecore.ErrCacheModeExternal
	case ModeClient:
		ent, ok := e.fast.Get(storeName, identifier)
		if !ok {
			return cachecore.Miss(), nil
		}
		v, _ := ent.Payload.(cachecore.Value)
		return resultFromEntry(ent, v), nil
	case ModeServer:
		return e.composer.authoritativeGet(ctx, storeName, identifier)
	default: // ModeTwoLayer
		return e.composer.get(ctx, storeName, identifier)
	}
}

// Remove deletes the entry stored under (storeName, identifier).
func (e *Engine) Remove(ctx context.Context, identifier, storeName string, mode Mode) error {
	if !validMode(mode) {
		return invalidModeError(string(mode))
	}
	if err := cachecore.ValidateIdentifier("identifier", identifier); err != nil {
		return err
	}
	if err := cachecore.ValidateIdentifier("store", storeName); err != nil {
		return err
	}

	switch mode {
	case ModeCookie:
		return cachecore.ErrCacheModeExternal
	case ModeClient:
		e.fast.Remove(storeName, identifier)
		return nil
	default:
		return e.composer.remove(ctx, storeName, identifier)
	}
}

// SubscribeToUpdates registers listener for (storeName, identifier) and
// returns an idempotent unsubscribe handle. Not supported in cookie mode.
func (e *Engine) SubscribeToUpdates(identifier, storeName string, mode Mode, listener pubsub.Listener) (pubsub.Unsubscribe, error) {
	if !validMode(mode) {
		return nil, invalidModeError(string(mode))
	}
	if mode == ModeCookie {
		return nil, cachecore.ErrSubscriptionUnsupported
	}
	if err := cachecore.ValidateIdentifier("identifier", identifier); err != nil {
		return nil, err
	}
	if err := cachecore.ValidateIdentifier("store", storeName); err != nil {
		return nil, err
	}
	return e.bus.Subscribe(storeName, identifier, listener), nil
}

// Clear removes every entry from both tiers and notifies every live
// subscriber with the absent sentinel.
func (e *Engine) Clear(ctx context.Context) error {
	return e.composer.clear(ctx)
}

// Close stops the batch writer, performing one final flush.
func (e *Engine) Close(ctx context.Context) error {
	return e.writer.Stop(ctx)
}

func validateKeyAndValue(identifier, store string, v cachecore.Value) error {
	if err := cachecore.ValidateIdentifier("identifier", identifier); err != nil {
		return err
	}
	if err := cachecore.ValidateIdentifier("store", store); err != nil {
		return err
	}
	if !v.Valid() {
		return fmt.Errorf("%w: %q", cachecore.ErrInvalidValueType, v.Kind)
	}
	return nil
}
