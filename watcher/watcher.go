// Package watcher owns the lifecycle of the reconciliation engine: it
// seeds the registry from a full snapshot, resolves operations already in
// flight, runs the event reconcile loop, and exposes the consumer-facing
// read API and notification streams.
package watcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/journal"
	"github.com/yairfalse/vahti/notify"
	"github.com/yairfalse/vahti/reconciler"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/remote"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Watcher maintains a local, always-consistent view of remote instances.
// Consumers read snapshots and subscribe to change streams; they never
// poll the remote.
type Watcher struct {
	client   remote.Client
	registry *registry.Registry
	hub      *notify.Hub
	rec      *reconciler.Reconciler
	journal  *journal.Journal
	history  *history.Store
	logger   zerolog.Logger

	mu       sync.Mutex
	started  bool
	disposed bool
	cancel   context.CancelFunc
	unsub    func()
	done     chan struct{}
}

// Options carries optional collaborators. All may be zero.
type Options struct {
	Journal *journal.Journal
	History *history.Store
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// New creates a watcher over the given remote client. Call Init to start.
func New(client remote.Client, opts Options) *Watcher {
	reg := registry.New(client)
	hub := notify.NewHub(reg.Names)
	rec := reconciler.New(reg, hub, reconciler.Options{
		Journal: opts.Journal,
		History: opts.History,
		Metrics: opts.Metrics,
		Logger:  opts.Logger,
	})

	return &Watcher{
		client:   client,
		registry: reg,
		hub:      hub,
		rec:      rec,
		journal:  opts.Journal,
		history:  opts.History,
		logger:   opts.Logger,
	}
}

// Init brings the watcher online:
//
//  1. subscribe to the operation event feed (before listing, so an event
//     racing the snapshot is queued, not lost),
//  2. seed the registry from the full instance list (the baseline; no
//     change notifications fire),
//  3. resolve operations already in flight so their transitional statuses
//     show immediately,
//  4. start the single-threaded reconcile loop.
//
// Any remote failure here is fatal and not retried.
func (w *Watcher) Init(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.disposed {
		return fmt.Errorf("watcher already disposed")
	}
	if w.started {
		return fmt.Errorf("watcher already initialized")
	}

	// The reconcile loop outlives the Init call; it stops on Dispose.
	runCtx, cancel := context.WithCancel(context.Background())

	events, unsub, err := w.client.SubscribeEvents(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("initialization failed: subscribing to events: %w", err)
	}

	if err := w.seed(ctx); err != nil {
		unsub()
		cancel()
		return err
	}

	if err := w.resolveInFlight(ctx); err != nil {
		unsub()
		cancel()
		return err
	}

	w.cancel = cancel
	w.unsub = unsub
	w.done = make(chan struct{})
	w.started = true

	go func() {
		defer close(w.done)
		w.rec.Run(runCtx, events)
	}()

	w.logger.Info().
		Int("instances", w.registry.Len()).
		Msg("watcher initialized")
	return nil
}

// seed loads the full instance snapshot into the registry.
func (w *Watcher) seed(ctx context.Context) error {
	names, err := w.client.ListInstanceNames(ctx)
	if err != nil {
		return fmt.Errorf("initialization failed: listing instances: %w", err)
	}
	if err := w.registry.Seed(ctx, names); err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	if err := w.journal.Append(journal.EntrySeeded, "", names); err != nil {
		w.logger.Warn().Err(err).Msg("journal append failed")
	}
	if _, err := w.history.RecordBatch(w.registry.Snapshot()); err != nil {
		w.logger.Warn().Err(err).Msg("history write failed")
	}
	return nil
}

// resolveInFlight fetches all listed operations, settled buckets first,
// and applies each one so in-progress transitions are reflected as status
// overrides before the first event arrives.
func (w *Watcher) resolveInFlight(ctx context.Context) error {
	buckets, err := w.client.ListOperations(ctx)
	if err != nil {
		return fmt.Errorf("initialization failed: listing operations: %w", err)
	}

	// An operation can show up in more than one bucket if it settles
	// while we are listing; fetch each id once.
	seen := make(map[string]struct{})
	for _, bucket := range types.OperationBuckets {
		for _, id := range buckets[bucket] {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			op, err := w.client.GetOperation(ctx, id)
			if remote.IsNotFound(err) {
				// Evaporated between listing and fetch.
				continue
			}
			if err != nil {
				return fmt.Errorf("initialization failed: fetching operation %s: %w", id, err)
			}
			if err := w.rec.ApplyInitial(ctx, op); err != nil {
				return fmt.Errorf("initialization failed: %w", err)
			}
		}
	}
	return nil
}

// Dispose stops the watcher: cancels the event subscription, waits for
// the reconcile loop to exit (no registry mutation or notification
// emission happens after Dispose returns), then closes all notification
// channels. Idempotent.
func (w *Watcher) Dispose() {
	w.mu.Lock()
	if w.disposed {
		w.mu.Unlock()
		return
	}
	w.disposed = true
	cancel, unsub, done := w.cancel, w.unsub, w.done
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if unsub != nil {
		unsub()
	}
	if done != nil {
		<-done
	}
	w.hub.Close()

	w.logger.Info().Msg("watcher disposed")
}

// Refresh re-lists the remote and reconciles the registry against the
// full name set: instances that appeared or vanished without an event
// (a dropped feed message, a reconnect) are picked up and notified like
// event changes. The reconciliation itself runs on the event loop,
// serialized with event processing, so the registry keeps a single
// writer.
func (w *Watcher) Refresh(ctx context.Context) error {
	w.mu.Lock()
	running := w.started && !w.disposed
	w.mu.Unlock()
	if !running {
		return fmt.Errorf("watcher not running")
	}

	names, err := w.client.ListInstanceNames(ctx)
	if err != nil {
		return fmt.Errorf("refresh failed: listing instances: %w", err)
	}
	if err := w.rec.Resync(ctx, names); err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}
	return nil
}

// CurrentInstances returns the current instance names: snapshot order,
// event-discovered instances appended.
func (w *Watcher) CurrentInstances() []string {
	return w.registry.Names()
}

// GetInstance returns a copy of the named record, or a not-found error.
func (w *Watcher) GetInstance(name string) (types.Instance, error) {
	return w.registry.Get(name)
}

// Instances subscribes to the full-state stream; the current snapshot is
// delivered first. Like all subscription channels, it closes on Dispose
// and must be drained until then.
func (w *Watcher) Instances() <-chan []string {
	return w.hub.Instances()
}

// Added subscribes to instance additions.
func (w *Watcher) Added() <-chan string {
	return w.hub.Added()
}

// Removed subscribes to instance removals.
func (w *Watcher) Removed() <-chan string {
	return w.hub.Removed()
}

// Updated subscribes to in-place instance changes.
func (w *Watcher) Updated() <-chan string {
	return w.hub.Updated()
}
