package notify

import (
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/registry"
)

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("channel closed while expecting a value")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for notification")
	}
	panic("unreachable")
}

func assertClosed[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatalf("expected closed channel, got value")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for channel close")
	}
}

func assertSilent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("expected no notification, got %v", v)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_RoutesChangesByType(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	added := hub.Added()
	removed := hub.Removed()
	updated := hub.Updated()

	hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: "foo"})
	hub.Publish(registry.Change{Type: registry.ChangeUpdated, Name: "bar"})
	hub.Publish(registry.Change{Type: registry.ChangeRemoved, Name: "baz"})

	assert.Equal(t, "foo", recv(t, added))
	assert.Equal(t, "bar", recv(t, updated))
	assert.Equal(t, "baz", recv(t, removed))
}

func TestHub_AllSubscribersReceiveEveryNotification(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	first := hub.Added()
	second := hub.Added()

	hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: "foo"})

	assert.Equal(t, "foo", recv(t, first))
	assert.Equal(t, "foo", recv(t, second), "broadcast, not competing delivery")
}

func TestHub_LateSubscriberGetsNoReplay(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: "foo"})

	late := hub.Added()
	assertSilent(t, late)
}

func TestHub_FullStateSubscriberGetsSnapshot(t *testing.T) {
	current := []string{"foo", "bar"}
	hub := NewHub(func() []string { return current })
	defer hub.Close()

	state := hub.Instances()
	assert.Equal(t, []string{"foo", "bar"}, recv(t, state))

	hub.PublishState([]string{"foo", "bar", "baz"})
	assert.Equal(t, []string{"foo", "bar", "baz"}, recv(t, state))
}

func TestHub_SnapshotAtomicWithStatePublish(t *testing.T) {
	var once sync.Once
	entered := make(chan struct{})
	release := make(chan struct{})

	hub := NewHub(func() []string {
		out := []string{"stale"}
		once.Do(func() { close(entered) })
		<-release
		return out
	})
	defer hub.Close()

	type result struct{ ch <-chan []string }
	subscribed := make(chan result)
	go func() {
		subscribed <- result{hub.Instances()}
	}()

	// The snapshot is being taken: a state publish landing right now must
	// not slip past the subscriber being registered.
	<-entered
	published := make(chan struct{})
	go func() {
		hub.PublishState([]string{"fresh"})
		close(published)
	}()
	close(release)

	state := (<-subscribed).ch
	<-published

	assert.Equal(t, []string{"stale"}, recv(t, state), "snapshot delivered first")
	assert.Equal(t, []string{"fresh"}, recv(t, state), "concurrent publish reaches the new subscriber")
}

func TestHub_OrderPreserved(t *testing.T) {
	hub := NewHub(nil)
	defer hub.Close()

	added := hub.Added()
	for _, name := range []string{"a", "b", "c"} {
		hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: name})
	}

	assert.Equal(t, "a", recv(t, added))
	assert.Equal(t, "b", recv(t, added))
	assert.Equal(t, "c", recv(t, added))
}

func TestHub_CloseDrainsThenCloses(t *testing.T) {
	hub := NewHub(nil)

	added := hub.Added()
	hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: "foo"})
	hub.Close()

	assert.Equal(t, "foo", recv(t, added), "queued notification survives close")
	assertClosed(t, added)
}

func TestHub_DeliveryGoroutinesExitAfterDrain(t *testing.T) {
	before := runtime.NumGoroutine()

	hub := NewHub(nil)
	added := hub.Added()
	for _, name := range []string{"a", "b", "c"} {
		hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: name})
	}
	hub.Close()

	for range added {
		// Drain until close, per the subscription contract.
	}

	require.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= before
	}, 2*time.Second, 10*time.Millisecond, "pump goroutines must exit once drained")
}

func TestHub_CloseIdempotent(t *testing.T) {
	hub := NewHub(nil)
	added := hub.Added()

	hub.Close()
	hub.Close()

	assertClosed(t, added)
}

func TestHub_SubscribeAfterClose(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()

	assertClosed(t, hub.Added())
	assertClosed(t, hub.Instances())
}

func TestHub_PublishAfterCloseIsNoop(t *testing.T) {
	hub := NewHub(nil)
	hub.Close()

	require.NotPanics(t, func() {
		hub.Publish(registry.Change{Type: registry.ChangeAdded, Name: "foo"})
		hub.PublishState([]string{"foo"})
	})
}
