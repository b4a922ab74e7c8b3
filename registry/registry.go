// Package registry holds the local mirror of remote instance state. It is
// the single source of truth for "current instances": a name-keyed record
// map plus the ordering of the most recent full snapshot.
package registry

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yairfalse/vahti/derive"
	"github.com/yairfalse/vahti/remote"
	"github.com/yairfalse/vahti/types"
)

// fetchConcurrency caps parallel instance fetches during snapshot seeding.
const fetchConcurrency = 8

// Registry maps instance names to records. Mutation happens only on the
// reconcile path (one writer); reads may come from any goroutine and
// always see a complete batch, never a half-applied one.
type Registry struct {
	mu      sync.RWMutex
	client  remote.Client
	records map[string]types.Instance
	order   []string
}

// New creates an empty registry backed by client for record fetches.
func New(client remote.Client) *Registry {
	return &Registry{
		client:  client,
		records: make(map[string]types.Instance),
	}
}

// Seed populates an empty registry from a full snapshot. No change
// reporting: the snapshot is the baseline. A name that disappears between
// listing and fetching is skipped; any other fetch failure aborts.
func (r *Registry) Seed(ctx context.Context, names []string) error {
	fetched, err := r.fetchAll(ctx, names)
	if err != nil {
		return fmt.Errorf("seeding registry: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.records = make(map[string]types.Instance, len(fetched))
	r.order = r.order[:0]
	for _, name := range names {
		inst, ok := fetched[name]
		if !ok {
			continue
		}
		r.records[name] = inst
		r.order = append(r.order, name)
	}
	return nil
}

// ReplaceAll reconciles the registry against a new full name snapshot.
// Unknown names are fetched concurrently, names no longer listed are
// dropped, known names keep their record without a re-fetch. The swap is
// atomic: readers see either the old batch or the new one. Returns the
// added and removed names.
func (r *Registry) ReplaceAll(ctx context.Context, names []string) (added, removed []string, err error) {
	r.mu.RLock()
	var unknown []string
	for _, name := range names {
		if _, ok := r.records[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	r.mu.RUnlock()

	fetched, err := r.fetchAll(ctx, unknown)
	if err != nil {
		return nil, nil, fmt.Errorf("replacing snapshot: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	next := make(map[string]types.Instance, len(names))
	nextOrder := make([]string, 0, len(names))
	for _, name := range names {
		if existing, ok := r.records[name]; ok {
			next[name] = existing
		} else if inst, ok := fetched[name]; ok {
			next[name] = inst
			added = append(added, name)
		} else {
			// Listed but gone by fetch time. Not part of the new batch.
			continue
		}
		nextOrder = append(nextOrder, name)
	}
	for _, name := range r.order {
		if _, ok := next[name]; !ok {
			removed = append(removed, name)
		}
	}

	r.records = next
	r.order = nextOrder
	return added, removed, nil
}

// ApplyOperation folds one operation into the registry, one change per
// affected instance at most:
//
//   - in-flight op: the instance's status becomes the derived transitional
//     status (fetching the record first if the instance is new to us);
//   - settled op: the raw record is re-fetched for ground truth;
//   - not-found on fetch: the instance is removed, not an error.
//
// A transient fetch failure keeps the prior record (stale but consistent)
// and is returned alongside the changes that did apply.
func (r *Registry) ApplyOperation(ctx context.Context, op types.Operation) ([]Change, error) {
	var changes []Change

	derived, inFlight := derive.Status(op)
	for _, name := range op.InstanceNames() {
		var (
			change *Change
			err    error
		)
		if inFlight {
			change, err = r.applyOverride(ctx, name, derived)
		} else {
			change, err = r.refetch(ctx, name)
		}
		if err != nil {
			return changes, fmt.Errorf("applying operation %s to %s: %w", op.ID, name, err)
		}
		if change != nil {
			changes = append(changes, *change)
		}
	}
	return changes, nil
}

// applyOverride sets a derived transitional status on an instance affected
// by an in-flight operation.
func (r *Registry) applyOverride(ctx context.Context, name string, status types.InstanceStatus) (*Change, error) {
	r.mu.Lock()
	if existing, ok := r.records[name]; ok {
		existing.Status = status
		r.records[name] = existing
		r.mu.Unlock()
		return &Change{Type: ChangeUpdated, Name: name, Instance: existing.Clone()}, nil
	}
	r.mu.Unlock()

	// Operation references an instance we have never seen: fetch it and
	// treat it as an addition.
	inst, err := r.client.GetInstance(ctx, name)
	if remote.IsNotFound(err) {
		// Created and destroyed between events. Never known, nothing to
		// remove.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	inst.Status = status
	r.insert(name, inst)
	return &Change{Type: ChangeAdded, Name: name, Instance: inst.Clone()}, nil
}

// refetch reloads an instance's raw record after its operation settled.
func (r *Registry) refetch(ctx context.Context, name string) (*Change, error) {
	inst, err := r.client.GetInstance(ctx, name)
	if remote.IsNotFound(err) {
		if r.remove(name) {
			return &Change{Type: ChangeRemoved, Name: name}, nil
		}
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	known := r.insert(name, inst)
	if known {
		return &Change{Type: ChangeUpdated, Name: name, Instance: inst.Clone()}, nil
	}
	return &Change{Type: ChangeAdded, Name: name, Instance: inst.Clone()}, nil
}

// Get returns a copy of the named record, or a NotFoundError if absent.
func (r *Registry) Get(name string) (types.Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inst, ok := r.records[name]
	if !ok {
		return types.Instance{}, &remote.NotFoundError{Kind: "instance", Name: name}
	}
	return inst.Clone(), nil
}

// Names returns the current instance names: snapshot order first,
// event-discovered instances appended in discovery order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// Snapshot returns copies of all current records, in Names() order.
func (r *Registry) Snapshot() []types.Instance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.Instance, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.records[name].Clone())
	}
	return out
}

// Len returns the number of known instances.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// insert stores a record, appending to the order if new. Reports whether
// the name was already known.
func (r *Registry) insert(name string, inst types.Instance) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.records[name]
	r.records[name] = inst
	if !known {
		r.order = append(r.order, name)
	}
	return known
}

// remove drops a record. Reports whether it existed.
func (r *Registry) remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[name]; !ok {
		return false
	}
	delete(r.records, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// fetchAll fetches records for names concurrently. Names that come back
// not-found are omitted from the result; any other error aborts the batch.
func (r *Registry) fetchAll(ctx context.Context, names []string) (map[string]types.Instance, error) {
	fetched := make(map[string]types.Instance, len(names))
	if len(names) == 0 {
		return fetched, nil
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(fetchConcurrency)

	for _, name := range names {
		g.Go(func() error {
			inst, err := r.client.GetInstance(ctx, name)
			if remote.IsNotFound(err) {
				return nil
			}
			if err != nil {
				return fmt.Errorf("fetching instance %s: %w", name, err)
			}
			mu.Lock()
			fetched[name] = inst
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return fetched, nil
}
