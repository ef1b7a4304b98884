// Package pubsub implements the per-(store, id) subscription bus:
// synchronous, in-process, per-key listener fan-out with no channels.
// Listeners are invoked directly, and a copy-on-write listener table
// ensures publish never holds a lock across a listener call.
package pubsub

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// Listener receives the new value on a write, or a miss sentinel
// (result.Found == false) on remove/clear.
type Listener func(result cachecore.CacheResult)

type subKey struct {
	store string
	id    string
}

type subscription struct {
	seq      uint64
	listener Listener
}

// Bus delivers state-change notifications to listeners bound to a
// (store-name, identifier) pair.
type Bus struct {
	mu   sync.Mutex
	subs map[subKey][]subscription
	seq  uint64
	log  *logrus.Logger

	metricsPublished int64
	metricsPanics    int64
}

// New constructs an empty bus.
func New(log *logrus.Logger) *Bus {
	if log == nil {
		log = logrus.New()
	}
	return &Bus{
		subs: make(map[subKey][]subscription),
		log:  log,
	}
}

// Unsubscribe removes a previously registered listener. Safe to call more
// than once.
type Unsubscribe func()

// Subscribe registers listener for (store, id) and returns an idempotent
// unsubscribe handle.
func (b *Bus) Subscribe(store, id string, listener Listener) Unsubscribe {
	k := subKey{store, id}

	b.mu.Lock()
	b.seq++
	mySeq := b.seq
	old := b.subs[k]
	next := make([]subscription, len(old), len(old)+1)
	copy(next, old)
	next = append(next, subscription{seq: mySeq, listener: listener})
	b.subs[k] = next
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.removeSeq(k, mySeq)
		})
	}
}

func (b *Bus) removeSeq(k subKey, seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	old := b.subs[k]
	next := make([]subscription, 0, len(old))
	for _, s := range old {
		if s.seq != seq {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(b.subs, k)
		return
	}
	b.subs[k] = next
}

// Publish invokes every live listener for (store, id), in registration
// order, with result. Listener panics are recovered per listener and
// logged; they never interrupt fan-out or the triggering operation.
func (b *Bus) Publish(store, id string, result cachecore.CacheResult) {
	b.mu.Lock()
	listeners := b.subs[subKey{store, id}]
	b.mu.Unlock()

	atomic.AddInt64(&b.metricsPublished, 1)

	for _, s := range listeners {
		b.invokeSafely(store, id, s.listener, result)
	}
}

func (b *Bus) invokeSafely(store, id string, listener Listener, result cachecore.CacheResult) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&b.metricsPanics, 1)
			b.log.WithFields(logrus.Fields{"store": store, "id": id, "panic": r}).Warn("pubsub: listener panicked")
		}
	}()
	listener(result)
}

// SubscriberCount returns the number of live listeners for (store, id).
func (b *Bus) SubscriberCount(store, id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[subKey{store, id}])
}

// TotalSubscribers returns the total number of live listeners across every
// (store, id) pair.
func (b *Bus) TotalSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, s := range b.subs {
		total += len(s)
	}
	return total
}

// Keys returns every (store, id) pair with at least one live subscriber,
// used by the composer's clear-fan-out.
func (b *Bus) Keys() [][2]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][2]string, 0, len(b.subs))
	for k := range b.subs {
		out = append(out, [2]string{k.store, k.id})
	}
	return out
}

// Metrics returns the bus's publish and panic counters.
type Metrics struct {
	Published        int64
	ListenerPanics   int64
	TotalSubscribers int
}

func (b *Bus) Metrics() Metrics {
	return Metrics{
		Published:        atomic.LoadInt64(&b.metricsPublished),
		ListenerPanics:   atomic.LoadInt64(&b.metricsPanics),
		TotalSubscribers: b.TotalSubscribers(),
	}
}
