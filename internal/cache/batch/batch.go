// Package batch implements the authoritative-tier write batcher: pending
// writes accumulate in memory and are flushed together on a timer or once
// a size threshold is reached. A background goroutine drives a time.Ticker
// and a context.CancelFunc handles shutdown; the pending map is protected
// by its own mutex so a flush never blocks unrelated adds for long.
package batch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/goobz22/goobs-cache/internal/cache/cachecore"
)

// Persister is the authoritative-tier collaborator a Writer flushes into.
type Persister interface {
	Persist(ctx context.Context, store, id string, ent cachecore.PersistedEntry) error
}

// Config is the frozen configuration a Writer is constructed with.
type Config struct {
	// FlushInterval is the automatic-flush timer period. Must be > 0.
	FlushInterval time.Duration
	// BatchSize triggers an immediate flush once reached. Must be > 0.
	BatchSize int
	Logger    *logrus.Logger
}

type pendingKey struct {
	store string
	id    string
}

type pendingWrite struct {
	ent cachecore.PersistedEntry
}

// Writer accumulates authoritative-tier writes and flushes them as one
// batch. At most one flush executes at a time; stop() cancels the timer
// and performs one final flush.
type Writer struct {
	persister Persister
	config    Config
	log       *logrus.Logger

	mu      sync.Mutex
	pending map[pendingKey]pendingWrite
	flushMu sync.Mutex // serializes flush() so at most one runs at a time

	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Writer and starts its background flush timer.
func New(persister Persister, cfg Config) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(context.Background())

	w := &Writer{
		persister: persister,
		config:    cfg,
		log:       cfg.Logger,
		pending:   make(map[pendingKey]pendingWrite),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go w.timerLoop()
	return w
}

// Add appends a pending write, replacing any earlier pending write for the
// same key. A size-triggering add synchronously flushes before returning.
func (w *Writer) Add(ctx context.Context, store, id string, ent cachecore.PersistedEntry) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return cachecore.ErrWriterStopped
	}
	w.pending[pendingKey{store, id}] = pendingWrite{ent: ent}
	triggerFlush := len(w.pending) >= w.config.BatchSize
	w.mu.Unlock()

	if triggerFlush {
		return w.Flush(ctx)
	}
	return nil
}

// Flush persists the whole pending map and clears entries that succeeded.
// Each failed key is logged and stays pending; the returned error carries
// the number of failed keys and the first per-key error. Successfully
// persisted keys are removed regardless of sibling failures.
func (w *Writer) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()

	w.mu.Lock()
	batch := w.pending
	w.pending = make(map[pendingKey]pendingWrite)
	w.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	var failed []pendingKey
	var firstErr error
	for k, pw := range batch {
		if err := w.persister.Persist(ctx, k.store, k.id, pw.ent); err != nil {
			w.log.WithFields(logrus.Fields{"store": k.store, "id": k.id}).WithError(err).Warn("batch flush: key failed")
			failed = append(failed, k)
			if firstErr == nil {
				firstErr = fmt.Errorf("flush %s/%s: %w", k.store, k.id, err)
			}
		}
	}

	if len(failed) > 0 {
		w.mu.Lock()
		for _, k := range failed {
			// A newer Add for k made during the flush wins over the failed write.
			if _, newer := w.pending[k]; !newer {
				w.pending[k] = batch[k]
			}
		}
		w.mu.Unlock()
		return fmt.Errorf("%w: %d of %d keys failed: %v", cachecore.ErrStorageError, len(failed), len(batch), firstErr)
	}
	return nil
}

// Stop cancels the flush timer and performs one final flush. Subsequent
// Add calls fail with ErrWriterStopped.
func (w *Writer) Stop(ctx context.Context) error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	w.mu.Unlock()

	w.cancel()
	<-w.done
	return w.Flush(ctx)
}

// Pending returns the not-yet-flushed write for (store, id), if one
// exists. Readers consult it so a write that has been accepted but not
// persisted is still observable after both in-process tiers evict it.
func (w *Writer) Pending(store, id string) (cachecore.PersistedEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pw, ok := w.pending[pendingKey{store, id}]
	return pw.ent, ok
}

// Discard drops any pending write for (store, id) that has not flushed
// yet, so a remove cannot be undone by a stale queued set persisting
// afterwards.
func (w *Writer) Discard(store, id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.pending, pendingKey{store, id})
}

// DiscardAll drops every pending write. Used by clear.
func (w *Writer) DiscardAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = make(map[pendingKey]pendingWrite)
}

// PendingLen reports the current pending-map size, for tests and metrics.
func (w *Writer) PendingLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

func (w *Writer) timerLoop() {
	defer close(w.done)

	interval := w.config.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			if err := w.Flush(context.Background()); err != nil {
				w.log.WithError(err).Warn("batch: periodic flush failed")
			}
		}
	}
}
