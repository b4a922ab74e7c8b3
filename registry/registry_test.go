package registry

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/remote"
	"github.com/yairfalse/vahti/types"
)

// mockClient is an in-memory remote.Client for registry tests.
type mockClient struct {
	mu         sync.Mutex
	instances  map[string]types.Instance
	fetchCount map[string]int
	fetchErr   map[string]error
}

func newMockClient(instances ...types.Instance) *mockClient {
	m := &mockClient{
		instances:  make(map[string]types.Instance),
		fetchCount: make(map[string]int),
		fetchErr:   make(map[string]error),
	}
	for _, inst := range instances {
		m.instances[inst.Name] = inst
	}
	return m
}

func (m *mockClient) ListInstanceNames(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	names := make([]string, 0, len(m.instances))
	for name := range m.instances {
		names = append(names, name)
	}
	return names, nil
}

func (m *mockClient) GetInstance(ctx context.Context, name string) (types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchCount[name]++
	if err := m.fetchErr[name]; err != nil {
		return types.Instance{}, err
	}
	inst, ok := m.instances[name]
	if !ok {
		return types.Instance{}, &remote.NotFoundError{Kind: "instance", Name: name}
	}
	return inst, nil
}

func (m *mockClient) ListOperations(ctx context.Context) (map[types.OperationStatus][]string, error) {
	return nil, nil
}

func (m *mockClient) GetOperation(ctx context.Context, id string) (types.Operation, error) {
	return types.Operation{}, &remote.NotFoundError{Kind: "operation", Name: id}
}

func (m *mockClient) SubscribeEvents(ctx context.Context) (<-chan types.OperationEvent, func(), error) {
	ch := make(chan types.OperationEvent)
	return ch, func() { close(ch) }, nil
}

func (m *mockClient) setInstance(inst types.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[inst.Name] = inst
}

func (m *mockClient) removeInstance(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.instances, name)
}

func (m *mockClient) fetches(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchCount[name]
}

func opStarting(names ...string) types.Operation {
	return types.Operation{
		ID:          "op-1",
		Status:      types.OperationPending,
		Description: "Starting instance",
		Resources:   map[string][]string{"instances": names},
	}
}

func opSettled(names ...string) types.Operation {
	return types.Operation{
		ID:          "op-1",
		Status:      types.OperationSuccess,
		Description: "Starting instance",
		Resources:   map[string][]string{"instances": names},
	}
}

func TestRegistry_Seed(t *testing.T) {
	client := newMockClient(
		types.Instance{Name: "foo", Status: types.InstanceRunning},
		types.Instance{Name: "bar", Status: types.InstanceStopped},
	)
	reg := New(client)

	err := reg.Seed(context.Background(), []string{"foo", "bar"})
	require.NoError(t, err)

	assert.Equal(t, []string{"foo", "bar"}, reg.Names())

	inst, err := reg.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunning, inst.Status)
}

func TestRegistry_Seed_SkipsVanishedName(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceRunning})
	reg := New(client)

	// "ghost" was listed but already gone by fetch time.
	err := reg.Seed(context.Background(), []string{"foo", "ghost"})
	require.NoError(t, err)

	assert.Equal(t, []string{"foo"}, reg.Names())
}

func TestRegistry_Get_NotFound(t *testing.T) {
	reg := New(newMockClient())
	_, err := reg.Get("missing")
	assert.True(t, remote.IsNotFound(err))
}

func TestRegistry_ReplaceAll(t *testing.T) {
	client := newMockClient(
		types.Instance{Name: "foo", Status: types.InstanceRunning},
		types.Instance{Name: "bar", Status: types.InstanceStopped},
	)
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo", "bar"}))

	fooFetches := client.fetches("foo")

	// bar drops out, baz appears.
	client.removeInstance("bar")
	client.setInstance(types.Instance{Name: "baz", Status: types.InstanceRunning})

	added, removed, err := reg.ReplaceAll(context.Background(), []string{"foo", "baz"})
	require.NoError(t, err)

	assert.Equal(t, []string{"baz"}, added)
	assert.Equal(t, []string{"bar"}, removed)
	assert.Equal(t, []string{"foo", "baz"}, reg.Names())

	// foo survived the snapshot and must not have been re-fetched.
	assert.Equal(t, fooFetches, client.fetches("foo"))
}

func TestRegistry_ApplyOperation_InFlightOverride(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceStopped})
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo"}))

	changes, err := reg.ApplyOperation(context.Background(), opStarting("foo"))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeUpdated, changes[0].Type)
	assert.Equal(t, types.InstanceStarting, changes[0].Instance.Status)

	inst, err := reg.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStarting, inst.Status)
}

func TestRegistry_ApplyOperation_SettledRefetches(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceStopped})
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo"}))

	_, err := reg.ApplyOperation(context.Background(), opStarting("foo"))
	require.NoError(t, err)

	// The remote finished starting it.
	client.setInstance(types.Instance{Name: "foo", Status: types.InstanceRunning})

	changes, err := reg.ApplyOperation(context.Background(), opSettled("foo"))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeUpdated, changes[0].Type)

	inst, err := reg.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceRunning, inst.Status, "derived override must clear to re-fetched raw status")
}

func TestRegistry_ApplyOperation_UnknownInstanceAdded(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceRunning})
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo"}))

	client.setInstance(types.Instance{Name: "bar", Status: types.InstanceStopped})

	changes, err := reg.ApplyOperation(context.Background(), opStarting("bar"))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeAdded, changes[0].Type)
	assert.Equal(t, types.InstanceStarting, changes[0].Instance.Status)
	assert.Equal(t, []string{"foo", "bar"}, reg.Names())
}

func TestRegistry_ApplyOperation_NotFoundIsRemoval(t *testing.T) {
	client := newMockClient(
		types.Instance{Name: "foo", Status: types.InstanceRunning},
		types.Instance{Name: "bar", Status: types.InstanceRunning},
	)
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo", "bar"}))

	// foo vanished remotely; its operation settles.
	client.removeInstance("foo")

	changes, err := reg.ApplyOperation(context.Background(), opSettled("foo"))
	require.NoError(t, err)

	require.Len(t, changes, 1)
	assert.Equal(t, ChangeRemoved, changes[0].Type)
	assert.Equal(t, []string{"bar"}, reg.Names())
}

func TestRegistry_ApplyOperation_TransientErrorKeepsRecord(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceStopped})
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo"}))

	client.mu.Lock()
	client.fetchErr["foo"] = errors.New("connection reset")
	client.mu.Unlock()

	changes, err := reg.ApplyOperation(context.Background(), opSettled("foo"))
	require.Error(t, err)
	assert.Empty(t, changes)

	// Prior record retained: stale but consistent.
	inst, err := reg.Get("foo")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStopped, inst.Status)
}

func TestRegistry_ApplyOperation_Idempotent(t *testing.T) {
	client := newMockClient(types.Instance{Name: "foo", Status: types.InstanceStopped})
	reg := New(client)
	require.NoError(t, reg.Seed(context.Background(), []string{"foo"}))

	op := opStarting("foo")
	first, err := reg.ApplyOperation(context.Background(), op)
	require.NoError(t, err)
	second, err := reg.ApplyOperation(context.Background(), op)
	require.NoError(t, err)

	// Same event twice: same resulting state, no add/remove either time.
	assert.Equal(t, first[0].Type, second[0].Type)
	assert.Equal(t, ChangeUpdated, second[0].Type)
	assert.Equal(t, []string{"foo"}, reg.Names())
}
