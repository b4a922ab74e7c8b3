package main

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/oklog/run"
	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/config"
	"github.com/yairfalse/vahti/history"
	"github.com/yairfalse/vahti/internal/daemon"
	"github.com/yairfalse/vahti/journal"
	"github.com/yairfalse/vahti/sim"
	"github.com/yairfalse/vahti/telemetry"
	"github.com/yairfalse/vahti/watcher"
)

var (
	watchConfigPath   string
	watchScenario     string
	watchJournalDir   string
	watchHistoryDir   string
	watchMetricsAddr  string
	watchOTELEndpoint string
	watchDebug        bool
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch instances and stream change notifications",
	Long: `Run Vahti in watch mode against a scenario-driven simulated hypervisor.

The watcher subscribes to the operation event feed first, seeds from a
full snapshot, resolves operations already in flight, then reconciles
every incoming event into the local instance copy. Each change is
logged, journaled and recorded in the status history.

Features:
- Snapshot + event-stream merge with operation dedup
- Transitional statuses derived from operation descriptions
- Prometheus metrics on /metrics endpoint
- Health checks on /health, /-/healthy, /-/ready
- Graceful shutdown on SIGTERM/SIGINT`,
	Example: `  vahti watch --scenario demo.yaml                # Run a scenario
  vahti watch --config vahti.yaml                 # Run from a config file
  vahti watch --scenario demo.yaml --journal ./j  # Keep an audit journal
  vahti watch --scenario demo.yaml --metrics :2112`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&watchConfigPath, "config", "", "Config file path")
	watchCmd.Flags().StringVar(&watchScenario, "scenario", "", "Scenario file driving the simulated remote")
	watchCmd.Flags().StringVar(&watchJournalDir, "journal", "", "Directory for the audit journal")
	watchCmd.Flags().StringVar(&watchHistoryDir, "history", "", "Directory for the status history store")
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics", "", "Metrics HTTP server address")
	watchCmd.Flags().StringVar(&watchOTELEndpoint, "otel-endpoint", "", "OTLP endpoint for traces and metrics")
	watchCmd.Flags().BoolVar(&watchDebug, "debug", false, "Enable debug logging")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadWatchConfig()
	if err != nil {
		return err
	}

	logger := telemetry.NewLogger("vahti", cfg.LogLevel)

	ctx := context.Background()
	shutdownOTEL, err := telemetry.InitOTEL(ctx, telemetry.Config{
		ServiceName:    "vahti",
		ServiceVersion: version,
		OTELEndpoint:   watchOTELEndpoint,
		Insecure:       true,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTEL(shutdownCtx)
	}()

	if cfg.Scenario == "" {
		return fmt.Errorf("a scenario file is required (--scenario or config)")
	}
	scenario, err := sim.LoadScenario(cfg.Scenario)
	if err != nil {
		return fmt.Errorf("failed to load scenario: %w", err)
	}
	client := sim.New(scenario)

	var jrnl *journal.Journal
	if cfg.JournalDir != "" {
		jrnl, err = journal.Open(cfg.JournalDir)
		if err != nil {
			return fmt.Errorf("failed to open journal: %w", err)
		}
		defer func() { _ = jrnl.Close() }()
	}

	var hist *history.Store
	if cfg.HistoryDir != "" {
		hist, err = history.Open(cfg.HistoryDir)
		if err != nil {
			return fmt.Errorf("failed to open history store: %w", err)
		}
		defer func() { _ = hist.Close() }()
	}

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		logger.Warn().Err(err).Msg("metrics disabled")
		metrics = nil
	}

	w := watcher.New(client, watcher.Options{
		Journal: jrnl,
		History: hist,
		Metrics: metrics,
		Logger:  logger,
	})
	d := daemon.New(daemon.Config{MetricsAddr: cfg.MetricsAddr}, w, logger)
	srv := daemon.NewServer(d)

	fmt.Printf("🚀 Starting Vahti watcher...\n")
	fmt.Printf("   Scenario: %s\n", cfg.Scenario)
	fmt.Printf("   Metrics: http://localhost%s/metrics\n", cfg.MetricsAddr)
	fmt.Printf("   Health: http://localhost%s/health\n\n", cfg.MetricsAddr)

	var g run.Group
	g.Add(run.SignalHandler(ctx, syscall.SIGINT, syscall.SIGTERM))
	{
		watchCtx, cancel := context.WithCancel(ctx)
		g.Add(func() error {
			return d.Run(watchCtx)
		}, func(error) {
			cancel()
		})
	}
	g.Add(func() error {
		return srv.ListenAndServe()
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})

	err = g.Run()
	var sig run.SignalError
	if errors.As(err, &sig) {
		fmt.Printf("\n👋 Received %s, watcher stopped\n", sig.Signal)
		return nil
	}
	return err
}

// loadWatchConfig merges the optional config file with command flags;
// flags win.
func loadWatchConfig() (config.Config, error) {
	cfg := config.Default()
	if watchConfigPath != "" {
		loaded, err := config.Load(watchConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = *loaded
	}

	if watchScenario != "" {
		cfg.Scenario = watchScenario
	}
	if watchJournalDir != "" {
		cfg.JournalDir = watchJournalDir
	}
	if watchHistoryDir != "" {
		cfg.HistoryDir = watchHistoryDir
	}
	if watchMetricsAddr != "" {
		cfg.MetricsAddr = watchMetricsAddr
	}
	if watchDebug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
