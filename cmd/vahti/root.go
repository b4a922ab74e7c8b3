package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "vahti",
		Short: "Instance State Watcher",
		Long: `Vahti - Instance State Watcher

Vahti keeps a local, always-consistent copy of a hypervisor's instance
list without polling. It seeds from one snapshot, then folds the
operation event stream into the copy: in-flight operations show as
transitional statuses, settled operations trigger a single refetch.

Consumers read the local copy and subscribe to added, removed, updated
and full-state notification streams.`,
		Version: version,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// init sets up the root command
func init() {
	rootCmd.SetVersionTemplate(`Vahti {{.Version}} - Instance State Watcher
`)
}
