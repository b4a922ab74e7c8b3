// Package daemon runs a watcher as a long-lived process: it owns the
// watcher lifecycle, logs every notification stream, and serves metrics
// and health endpoints.
package daemon

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/vahti/watcher"
)

// Config holds daemon configuration
type Config struct {
	MetricsAddr string
}

// Daemon manages a continuously reconciling watcher
type Daemon struct {
	watcher           *watcher.Watcher
	logger            zerolog.Logger
	metricsAddr       string
	startTime         time.Time
	notificationCount atomic.Int64
}

// New creates a new daemon instance
func New(cfg Config, w *watcher.Watcher, logger zerolog.Logger) *Daemon {
	return &Daemon{
		watcher:     w,
		logger:      logger,
		metricsAddr: cfg.MetricsAddr,
		startTime:   time.Now(),
	}
}

// Run initializes the watcher, then logs its notification streams until
// ctx is cancelled. The watcher is disposed on the way out.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.watcher.Init(ctx); err != nil {
		return fmt.Errorf("daemon start: %w", err)
	}
	defer d.watcher.Dispose()

	d.logger.Info().
		Strs("instances", d.watcher.CurrentInstances()).
		Msg("watching")

	state := d.watcher.Instances()
	added := d.watcher.Added()
	removed := d.watcher.Removed()
	updated := d.watcher.Updated()

	for {
		select {
		case <-ctx.Done():
			return nil
		case names, ok := <-state:
			if !ok {
				return nil
			}
			d.notificationCount.Add(1)
			d.logger.Info().Strs("instances", names).Msg("instance list changed")
		case name, ok := <-added:
			if !ok {
				return nil
			}
			d.notificationCount.Add(1)
			d.logStatus("instance added", name)
		case name, ok := <-removed:
			if !ok {
				return nil
			}
			d.notificationCount.Add(1)
			d.logger.Info().Str("instance", name).Msg("instance removed")
		case name, ok := <-updated:
			if !ok {
				return nil
			}
			d.notificationCount.Add(1)
			d.logStatus("instance updated", name)
		}
	}
}

func (d *Daemon) logStatus(msg, name string) {
	event := d.logger.Info().Str("instance", name)
	if inst, err := d.watcher.GetInstance(name); err == nil {
		event = event.Str("status", string(inst.Status))
	}
	event.Msg(msg)
}

// Health returns daemon health status
func (d *Daemon) Health() HealthStatus {
	return HealthStatus{
		Status:        "healthy",
		Uptime:        int64(time.Since(d.startTime).Seconds()),
		Instances:     len(d.watcher.CurrentInstances()),
		Notifications: d.notificationCount.Load(),
	}
}

// HealthStatus represents daemon health
type HealthStatus struct {
	Status        string `json:"status"`
	Uptime        int64  `json:"uptime_seconds"`
	Instances     int    `json:"instances"`
	Notifications int64  `json:"notifications"`
}

// NotificationCount returns total notifications observed
func (d *Daemon) NotificationCount() int64 {
	return d.notificationCount.Load()
}

// MetricsAddr returns the configured metrics listen address
func (d *Daemon) MetricsAddr() string {
	return d.metricsAddr
}
