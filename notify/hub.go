// Package notify fans registry changes out to consumers over four
// independent broadcast topics: full state, added, removed, updated.
// Every subscriber receives every notification; nothing is replayed from
// before a subscription, but full-state subscribers get the current
// snapshot up front.
//
// Subscription channels close when the hub closes. Consumers must drain
// their channel until it closes; dropping it with notifications still
// queued leaks the delivery goroutine.
package notify

import "github.com/yairfalse/vahti/registry"

// Hub multiplexes registry changes to subscribers.
type Hub struct {
	snapshot func() []string

	state   *topic[[]string]
	added   *topic[string]
	removed *topic[string]
	updated *topic[string]
}

// NewHub creates a hub. snapshot supplies the current instance list for
// late full-state subscribers; nil means no initial emission.
func NewHub(snapshot func() []string) *Hub {
	return &Hub{
		snapshot: snapshot,
		state:    newTopic[[]string](),
		added:    newTopic[string](),
		removed:  newTopic[string](),
		updated:  newTopic[string](),
	}
}

// Instances subscribes to the full-state stream. The current snapshot is
// delivered first; afterwards the complete ordered list arrives on every
// key-set change (never on pure status updates). The snapshot is taken
// while publishing is excluded, so no state emission falls between the
// snapshot and the subscription.
func (h *Hub) Instances() <-chan []string {
	return h.state.subscribe(h.snapshot)
}

// Added subscribes to additions, one name per addition in detection order.
func (h *Hub) Added() <-chan string {
	return h.added.subscribe(nil)
}

// Removed subscribes to removals.
func (h *Hub) Removed() <-chan string {
	return h.removed.subscribe(nil)
}

// Updated subscribes to in-place changes that do not alter membership.
func (h *Hub) Updated() <-chan string {
	return h.updated.subscribe(nil)
}

// Publish routes one registry change to its topic.
func (h *Hub) Publish(change registry.Change) {
	switch change.Type {
	case registry.ChangeAdded:
		h.added.publish(change.Name)
	case registry.ChangeRemoved:
		h.removed.publish(change.Name)
	case registry.ChangeUpdated:
		h.updated.publish(change.Name)
	}
}

// PublishState emits the full ordered instance list.
func (h *Hub) PublishState(names []string) {
	h.state.publish(names)
}

// Close shuts all four topics. Queued notifications still drain to their
// subscribers, then every channel closes. Idempotent.
func (h *Hub) Close() {
	h.state.close()
	h.added.close()
	h.removed.close()
	h.updated.close()
}
