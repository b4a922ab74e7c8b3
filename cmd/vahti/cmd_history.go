package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/yairfalse/vahti/history"
)

var historyDir string

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history [instance]",
	Short: "Inspect recorded status transitions",
	Long: `Inspect the status history recorded by a previous watch run.

Without arguments, lists the latest known state of every instance.
With an instance name, prints that instance's full status timeline.`,
	Example: `  vahti history --history ./hist           # All known instances
  vahti history web-1 --history ./hist     # Timeline for one instance`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().StringVar(&historyDir, "history", "./vahti-history", "Directory of the status history store")
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, err := history.Open(historyDir)
	if err != nil {
		return fmt.Errorf("failed to open history store: %w", err)
	}
	defer func() { _ = store.Close() }()

	if len(args) == 0 {
		return printStates(store)
	}
	return printTimeline(store, args[0])
}

func printStates(store *history.Store) error {
	states := store.All()
	if len(states) == 0 {
		fmt.Println("No recorded instances")
		return nil
	}

	fmt.Printf("📋 %d instance(s), revision %d\n\n", len(states), store.CurrentRevision())
	for _, state := range states {
		marker := "✅"
		if !state.Exists {
			marker = "❌"
		}
		fmt.Printf("%s %-20s %-12s (rev %d-%d)\n",
			marker, state.Name, state.Status, state.FirstSeenRev, state.LastSeenRev)
	}
	return nil
}

func printTimeline(store *history.Store, name string) error {
	timeline, err := store.Timeline(name)
	if err != nil {
		return fmt.Errorf("failed to read timeline: %w", err)
	}
	if len(timeline) == 0 {
		fmt.Printf("No history for %s\n", name)
		return nil
	}

	fmt.Printf("📜 Timeline for %s\n\n", name)
	for _, tr := range timeline {
		what := string(tr.Status)
		if tr.Removed {
			what = "removed"
		}
		line := fmt.Sprintf("  rev %-6d %s  %s", tr.Revision, tr.Timestamp.Format("2006-01-02 15:04:05"), what)
		if tr.OperationID != "" {
			line += fmt.Sprintf("  (operation %s)", tr.OperationID)
		}
		fmt.Println(line)
	}
	return nil
}
