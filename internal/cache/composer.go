package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/goobz22/goobs-cache/internal/cache/batch"
	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
	"github.com/goobz22/goobs-cache/internal/cache/codec"
	"github.com/goobz22/goobs-cache/internal/cache/pubsub"
	"github.com/goobz22/goobs-cache/internal/cache/serverstore"
	"github.com/goobz22/goobs-cache/internal/cache/storage"
)

// composer unifies a fast tier and an authoritative tier behind one
// get/set/remove/clear surface, using an L1-then-L2 read-through shape:
// both tiers are independent *storage.Engine instances, and authoritative
// writes flow through the batch writer instead of direct client calls.
type composer struct {
	fast    *storage.Engine
	auth    *storage.Engine
	backing serverstore.Store // durable collaborator behind auth's in-process mirror
	codec   *codec.Codec
	writer  *batch.Writer
	bus     *pubsub.Bus
	locks   *keyLock
	log     *logrus.Logger
	pw      string
	sf      singleflight.Group
	client  bool // IsClientSide capability flag, set at construction
}

type composerDeps struct {
	Fast               *storage.Engine
	Auth               *storage.Engine
	Backing            serverstore.Store
	Codec              *codec.Codec
	Writer             *batch.Writer
	Bus                *pubsub.Bus
	EncryptionPassword string
	IsClientSide       bool
	Logger             *logrus.Logger
}

func newComposer(d composerDeps) *composer {
	log := d.Logger
	if log == nil {
		log = logrus.New()
	}
	return &composer{
		fast:    d.Fast,
		auth:    d.Auth,
		backing: d.Backing,
		codec:   d.Codec,
		writer:  d.Writer,
		bus:     d.Bus,
		locks:   newKeyLock(),
		log:     log,
		pw:      d.EncryptionPassword,
		client:  d.IsClientSide,
	}
}

// cancelErr maps a done context to the error kind the caller observes:
// deadline expiry surfaces as Timeout, everything else as Cancelled.
func cancelErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return cachecore.ErrTimeout
	}
	return cachecore.ErrCancelled
}

// validateExpiration rejects expirations already in the past, with the
// storage package's skew tolerance so an expiration of "now" still lands
// as an immediately-expired entry rather than an error.
func validateExpiration(expiration time.Time) error {
	if storage.ExpirationInPast(expiration) {
		return &cachecore.ValidationError{Kind: cachecore.ErrInvalidExpiration, Field: "expiration", Got: expiration.String()}
	}
	return nil
}

// IsClientSide reports whether this engine instance was constructed for
// a client environment. The value is a capability flag fixed at
// construction, stable across calls for the engine's lifetime.
func (c *composer) IsClientSide() bool { return c.client }

// get implements the read protocol: a fast-tier hit returns directly; a
// miss falls through to the authoritative tier, decoding and repopulating
// the fast tier on a hit there. Concurrent readers of the same key are
// serialized by the per-key lock, which is held across the singleflight
// call: the first reader does the authoritative read and decode and
// repopulates the fast tier, and the readers queued behind it hit the fast
// tier, so singleflight itself never sees two calls for one key at once.
func (c *composer) get(ctx context.Context, store, id string) (cachecore.CacheResult, error) {
	unlock := c.locks.lock(store, id)
	defer unlock()

	if ent, ok := c.fast.Get(store, id); ok {
		v, _ := ent.Payload.(cachecore.Value)
		return resultFromEntry(ent, v), nil
	}

	sfKey := store + "\x00" + id
	res, err, _ := c.sf.Do(sfKey, func() (interface{}, error) {
		return c.getFromAuthority(ctx, store, id)
	})
	if err != nil {
		return cachecore.Miss(), err
	}
	return res.(cachecore.CacheResult), nil
}

func (c *composer) getFromAuthority(ctx context.Context, store, id string) (cachecore.CacheResult, error) {
	return c.readAuthority(ctx, store, id, true)
}

// readAuthority reads and decodes from the authoritative tier, optionally
// repopulating the fast tier (repopulate is false for server-mode reads,
// which bypass the fast tier entirely).
func (c *composer) readAuthority(ctx context.Context, store, id string, repopulate bool) (cachecore.CacheResult, error) {
	select {
	case <-ctx.Done():
		return cachecore.Miss(), cancelErr(ctx)
	default:
	}

	var payload cachecore.EncryptedPayload
	var expiration, lastUpdated time.Time

	ent, ok := c.auth.Get(store, id)
	switch {
	case ok:
		p, ok := ent.Payload.(cachecore.EncryptedPayload)
		if !ok {
			return cachecore.Miss(), fmt.Errorf("authoritative tier entry for %s/%s has unexpected payload type", store, id)
		}
		payload, expiration, lastUpdated = p, ent.Expiration, ent.LastUpdated
	default:
		// The in-process mirror missed. A still-pending batched write is
		// newer than anything the durable backing store holds, so it is
		// consulted first; only then fall through to the backing store,
		// one level further down the authoritative tier.
		rec, found := c.writer.Pending(store, id)
		if found {
			if !rec.Expiration.IsZero() && !rec.Expiration.After(time.Now()) {
				return cachecore.Miss(), nil
			}
		} else {
			var err error
			rec, found, err = c.backing.Get(ctx, store, id)
			if err != nil {
				return cachecore.Miss(), fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
			}
			if !found {
				return cachecore.Miss(), nil
			}
		}
		if err := c.auth.SetSized(store, id, rec.Payload, rec.Expiration, rec.Size()); err != nil {
			c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: authoritative-mirror repopulate failed")
		}
		payload, expiration, lastUpdated = rec.Payload, rec.Expiration, rec.LastUpdated
	}

	v, err := c.codec.Decode(payload, c.pw)
	if err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Error("composer: decode failed on authoritative read")
		return cachecore.Miss(), err
	}

	if !repopulate {
		return cachecore.CacheResult{Found: true, Value: v, Expiration: expiration, LastUpdated: lastUpdated}, nil
	}

	if err := c.fast.Set(store, id, v, expiration); err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: fast-tier repopulate failed")
	}

	repop, _ := c.fast.Get(store, id)
	if repop != nil {
		return resultFromEntry(repop, v), nil
	}
	return cachecore.CacheResult{Found: true, Value: v, Expiration: expiration, LastUpdated: lastUpdated}, nil
}

// set implements the write protocol: encode, submit the payload to the
// batch writer for the authoritative tier, place the decoded value in the
// fast tier, and notify subscribers. The fast tier is rolled back if the
// authoritative submission fails.
func (c *composer) set(ctx context.Context, store, id string, v cachecore.Value, expiration time.Time) error {
	if err := validateExpiration(expiration); err != nil {
		return err
	}

	unlock := c.locks.lock(store, id)
	defer unlock()

	select {
	case <-ctx.Done():
		return cancelErr(ctx)
	default:
	}

	payload, err := c.codec.Encode(v, c.pw)
	if err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Error("composer: encode failed")
		return err
	}

	ent := persistedEntryFor(payload, expiration)
	if err := c.writer.Add(ctx, store, id, ent); err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: authoritative submission failed, rolling back fast tier")
		c.fast.Remove(store, id)
		return err
	}

	// Populate the in-process mirror eagerly rather than waiting for the
	// batch flush, so a read that misses the fast tier still observes
	// this write. This also surfaces an oversized payload now instead of
	// as a deferred flush failure.
	if err := c.auth.SetSized(store, id, payload, expiration, ent.Size()); err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: authoritative-mirror set failed, rolling back")
		c.writer.Discard(store, id)
		c.fast.Remove(store, id)
		return err
	}

	if err := c.fast.Set(store, id, v, expiration); err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: fast-tier set failed, rolling back")
		c.fast.Remove(store, id)
		return err
	}

	c.bus.Publish(store, id, cachecore.CacheResult{Found: true, Value: v, Expiration: expiration})
	return nil
}

// remove implements the remove protocol: drop from both tiers, publish
// the absent sentinel.
func (c *composer) remove(ctx context.Context, store, id string) error {
	unlock := c.locks.lock(store, id)
	defer unlock()

	// Drop any not-yet-flushed batched write for this key first, or a
	// later flush would persist the stale set and resurrect the entry.
	// The durable backing store also needs the delete, or a subsequent
	// get would fall through readAuthority's backing-store branch.
	c.writer.Discard(store, id)
	c.fast.Remove(store, id)
	c.auth.Remove(store, id)
	if err := c.backing.Delete(ctx, store, id); err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Warn("composer: backing-store delete failed")
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}

	c.bus.Publish(store, id, cachecore.Miss())
	return nil
}

// clear implements the clear protocol: clear both tiers, publish the
// absent sentinel to every previously subscribed (store, id).
func (c *composer) clear(ctx context.Context) error {
	keys := c.bus.Keys()

	c.writer.DiscardAll()
	c.fast.Clear()
	c.auth.Clear()
	if err := c.backing.Clear(ctx); err != nil {
		c.log.WithError(err).Warn("composer: backing-store clear failed")
		return fmt.Errorf("%w: %v", cachecore.ErrStorageError, err)
	}

	for _, k := range keys {
		c.bus.Publish(k[0], k[1], cachecore.Miss())
	}
	return nil
}

// authoritativeSet implements server mode's write path: encode and submit
// to the batch writer, bypassing the fast tier entirely. Used when the
// caller has selected the authoritative-tier-only mode rather than the
// two-tier composer.
func (c *composer) authoritativeSet(ctx context.Context, store, id string, v cachecore.Value, expiration time.Time) error {
	if err := validateExpiration(expiration); err != nil {
		return err
	}

	unlock := c.locks.lock(store, id)
	defer unlock()

	payload, err := c.codec.Encode(v, c.pw)
	if err != nil {
		c.log.WithFields(logrus.Fields{"store": store, "id": id}).WithError(err).Error("composer: encode failed")
		return err
	}
	ent := persistedEntryFor(payload, expiration)
	if err := c.writer.Add(ctx, store, id, ent); err != nil {
		return err
	}
	if err := c.auth.SetSized(store, id, payload, expiration, ent.Size()); err != nil {
		c.writer.Discard(store, id)
		return err
	}
	c.bus.Publish(store, id, cachecore.CacheResult{Found: true, Value: v, Expiration: expiration})
	return nil
}

// persistedEntryFor snapshots the write-time metadata that accompanies a
// payload into the durable store: a fresh write has one set, no gets, and
// both instants at now.
func persistedEntryFor(payload cachecore.EncryptedPayload, expiration time.Time) cachecore.PersistedEntry {
	now := time.Now()
	return cachecore.PersistedEntry{
		Payload:      payload,
		Expiration:   expiration,
		LastUpdated:  now,
		LastAccessed: now,
		SetHitCount:  1,
	}
}

// authoritativeGet implements server mode's read path: read and decode
// from the authoritative tier directly, bypassing the fast tier.
func (c *composer) authoritativeGet(ctx context.Context, store, id string) (cachecore.CacheResult, error) {
	unlock := c.locks.lock(store, id)
	defer unlock()
	return c.readAuthority(ctx, store, id, false)
}

func resultFromEntry(ent *cachecore.CacheEntry, v cachecore.Value) cachecore.CacheResult {
	return cachecore.CacheResult{
		Found:        true,
		Value:        v,
		Expiration:   ent.Expiration,
		LastUpdated:  ent.LastUpdated,
		LastAccessed: ent.LastAccessed,
		GetHitCount:  ent.GetHitCount,
		SetHitCount:  ent.SetHitCount,
	}
}
