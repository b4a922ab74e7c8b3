package daemon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/vahti/sim"
	"github.com/yairfalse/vahti/types"
	"github.com/yairfalse/vahti/watcher"
)

func testScenario() *sim.Scenario {
	return &sim.Scenario{
		Instances: []types.Instance{
			{Name: "web-1", Status: types.InstanceRunning},
			{Name: "db-1", Status: types.InstanceStopped},
		},
	}
}

func newTestDaemon(t *testing.T) (*Daemon, *watcher.Watcher) {
	t.Helper()
	w := watcher.New(sim.New(testScenario()), watcher.Options{Logger: zerolog.Nop()})
	d := New(Config{MetricsAddr: "127.0.0.1:0"}, w, zerolog.Nop())
	return d, w
}

func TestDaemonHealth(t *testing.T) {
	d, w := newTestDaemon(t)
	require.NoError(t, w.Init(context.Background()))
	defer w.Dispose()

	health := d.Health()
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Instances)
	assert.GreaterOrEqual(t, health.Uptime, int64(0))
}

func TestDaemonRunStopsOnCancel(t *testing.T) {
	d, _ := newTestDaemon(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("daemon did not stop after cancel")
	}
}

func TestDaemonRunCountsNotifications(t *testing.T) {
	scenario := testScenario()
	scenario.Operations = []sim.ScriptedOp{
		{ID: "op-1", Status: types.OperationRunning, Description: "Starting instance", Instances: []string{"db-1"}},
	}
	scenario.Steps = []sim.Step{
		{
			Delay: sim.Duration(200 * time.Millisecond),
			Event: &sim.ScriptedOp{ID: "op-1", Status: types.OperationRunning, Description: "Starting instance", Instances: []string{"db-1"}},
		},
	}

	w := watcher.New(sim.New(scenario), watcher.Options{Logger: zerolog.Nop()})
	d := New(Config{MetricsAddr: "127.0.0.1:0"}, w, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	// The state stream delivers its snapshot first; the scripted event
	// then produces an update notification on top of it.
	require.Eventually(t, func() bool {
		return d.NotificationCount() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestDaemonRunFailsOnBadInit(t *testing.T) {
	scenario := testScenario()
	w := watcher.New(sim.New(scenario), watcher.Options{Logger: zerolog.Nop()})
	require.NoError(t, w.Init(context.Background()))
	w.Dispose()

	// A disposed watcher cannot be initialized again.
	d := New(Config{MetricsAddr: "127.0.0.1:0"}, w, zerolog.Nop())
	err := d.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "daemon start")
}

func TestServerHealthEndpoint(t *testing.T) {
	d, w := newTestDaemon(t)
	require.NoError(t, w.Init(context.Background()))
	defer w.Dispose()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	d.handleHealth(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var health HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 2, health.Instances)
}

func TestServerReadyEndpoint(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/-/ready", nil)
	rec := httptest.NewRecorder()
	handleOK(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
}

func TestServerShutdown(t *testing.T) {
	d, w := newTestDaemon(t)
	require.NoError(t, w.Init(context.Background()))
	defer w.Dispose()

	srv := NewServer(d)
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, srv.Shutdown(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after shutdown")
	}
}
