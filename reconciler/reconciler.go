// Package reconciler applies the live operation-event feed to the
// instance registry and pushes the resulting changes through the
// notification fan-out. Events are processed strictly one at a time, in
// arrival order, so the registry never sees interleaved partial updates.
package reconciler

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/journal"
	"github.com/yairfalse/vahti/notify"
	"github.com/yairfalse/vahti/registry"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/types"
)

// Reconciler folds operation events into the registry.
type Reconciler struct {
	registry *registry.Registry
	hub      *notify.Hub
	journal  *journal.Journal
	history  *history.Store
	metrics  *telemetry.Metrics
	logger   zerolog.Logger

	// Resync requests are executed on the Run goroutine so the event
	// loop stays the registry's only writer once it is running.
	resyncCh chan resyncRequest
	stopped  chan struct{}
}

type resyncRequest struct {
	names []string
	done  chan error
}

// Options carries the optional collaborators. Journal, History and
// Metrics may be nil; Logger defaults to a disabled logger.
type Options struct {
	Journal *journal.Journal
	History *history.Store
	Metrics *telemetry.Metrics
	Logger  zerolog.Logger
}

// New creates a reconciler over the given registry and fan-out hub.
func New(reg *registry.Registry, hub *notify.Hub, opts Options) *Reconciler {
	return &Reconciler{
		registry: reg,
		hub:      hub,
		journal:  opts.Journal,
		history:  opts.History,
		metrics:  opts.Metrics,
		logger:   opts.Logger,
		resyncCh: make(chan resyncRequest),
		stopped:  make(chan struct{}),
	}
}

// Run consumes events until ctx is cancelled or the feed closes. A failed
// reconciliation is logged and counted, never fatal: one bad event must
// not halt the stream.
func (r *Reconciler) Run(ctx context.Context, events <-chan types.OperationEvent) {
	defer close(r.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-r.resyncCh:
			req.done <- r.resync(ctx, req.names)
		case event, ok := <-events:
			if !ok {
				return
			}
			r.metrics.RecordEvent(ctx)
			if err := r.Apply(ctx, event); err != nil {
				r.metrics.RecordFailure(ctx)
				r.logger.Error().
					Err(err).
					Str("operation_id", event.Operation.ID).
					Str("operation_status", string(event.Operation.Status)).
					Msg("reconciliation failed, continuing with next event")
			}
		}
	}
}

// Apply folds one operation event into the registry and emits exactly one
// notification per affected instance. Duplicate or out-of-order events are
// idempotent: status is always re-derived from the event's own content.
func (r *Reconciler) Apply(ctx context.Context, event types.OperationEvent) error {
	if err := r.journal.Append(journal.EntryEvent, "", event); err != nil {
		r.logger.Warn().Err(err).Msg("journal append failed")
	}
	return r.apply(ctx, event.Operation, true)
}

// ApplyInitial folds an in-flight operation found at startup. It updates
// the registry (and journal/history) without emitting notifications: the
// seeded snapshot plus these overrides together form the baseline.
func (r *Reconciler) ApplyInitial(ctx context.Context, op types.Operation) error {
	return r.apply(ctx, op, false)
}

// Resync reconciles the registry against a freshly listed full name set.
// Instances that appeared or vanished outside the event feed are notified
// the same way event-driven changes are. The work is handed to the Run
// goroutine, serialized with event reconciliation; Resync blocks until it
// completes, ctx is cancelled, or the loop has stopped.
func (r *Reconciler) Resync(ctx context.Context, names []string) error {
	req := resyncRequest{names: names, done: make(chan error, 1)}
	select {
	case r.resyncCh <- req:
	case <-r.stopped:
		return fmt.Errorf("resync: reconciler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}

	// done is buffered: the loop's answer never blocks even if we bail
	// out on cancellation first.
	select {
	case err := <-req.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reconciler) resync(ctx context.Context, names []string) error {
	added, removed, err := r.registry.ReplaceAll(ctx, names)
	if err != nil {
		return fmt.Errorf("resync: %w", err)
	}

	for _, name := range added {
		inst, gerr := r.registry.Get(name)
		if gerr != nil {
			continue
		}
		r.recordChange(ctx, registry.Change{Type: registry.ChangeAdded, Name: name, Instance: inst}, types.Operation{}, true)
	}
	for _, name := range removed {
		r.recordChange(ctx, registry.Change{Type: registry.ChangeRemoved, Name: name}, types.Operation{}, true)
	}
	if len(added)+len(removed) > 0 {
		r.hub.PublishState(r.registry.Names())
	}
	r.metrics.SetInstancesTracked(ctx, int64(r.registry.Len()))
	return nil
}

func (r *Reconciler) apply(ctx context.Context, op types.Operation, emit bool) error {
	start := time.Now()
	changes, err := r.registry.ApplyOperation(ctx, op)
	r.metrics.RecordFetchDuration(ctx, time.Since(start).Seconds())

	// Changes that applied before a transient failure are still real;
	// record and emit them either way.
	keySetChanged := false
	for _, change := range changes {
		if change.Type != registry.ChangeUpdated {
			keySetChanged = true
		}
		r.recordChange(ctx, change, op, emit)
	}
	if emit && keySetChanged {
		r.hub.PublishState(r.registry.Names())
	}
	r.metrics.SetInstancesTracked(ctx, int64(r.registry.Len()))

	if err != nil {
		if jerr := r.journal.AppendError(journal.EntryFailed, "", op, err); jerr != nil {
			r.logger.Warn().Err(jerr).Msg("journal append failed")
		}
		return fmt.Errorf("applying operation %s: %w", op.ID, err)
	}
	return nil
}

func (r *Reconciler) recordChange(ctx context.Context, change registry.Change, op types.Operation, emit bool) {
	if err := r.journal.Append(journal.EntryChange, change.Name, change); err != nil {
		r.logger.Warn().Err(err).Msg("journal append failed")
	}

	var herr error
	switch change.Type {
	case registry.ChangeRemoved:
		_, herr = r.history.RecordRemoval(change.Name)
	default:
		_, herr = r.history.RecordTransition(change.Name, change.Instance.Status, op.ID)
	}
	if herr != nil {
		r.logger.Warn().Err(herr).Str("instance", change.Name).Msg("history write failed")
	}

	r.metrics.RecordChange(ctx, string(change.Type))

	r.logger.Debug().
		Str("instance", change.Name).
		Str("change", string(change.Type)).
		Str("status", string(change.Instance.Status)).
		Str("operation_id", op.ID).
		Msg("instance changed")

	if emit {
		r.hub.Publish(change)
	}
}
