package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/soft-beds-inc/good-night/internal/config"
	"github.com/soft-beds-inc/good-night/internal/statestore"
)

// buildStatusCmd creates the "status" command: report each connector's
// last-processed watermark and the cross-connector dreaming counters,
// without running a cycle.
func buildStatusCmd() *cobra.Command {
	var runtimeDir string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show connector progress and dreaming totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(runtimeDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			store := statestore.New(runtimeDir)
			state, err := store.Snapshot()
			if err != nil {
				return fmt.Errorf("load state: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Provider: %s\n", cfg.Provider.Default)
			fmt.Fprintf(out, "Enabled connectors: %v\n", cfg.Enabled.Connectors)
			fmt.Fprintf(out, "Enabled prompts: %v\n", cfg.Enabled.Prompts)
			fmt.Fprintln(out)

			fmt.Fprintln(out, "Dreaming totals:")
			fmt.Fprintf(out, "  Total runs: %d\n", state.TotalRuns)
			fmt.Fprintf(out, "  Issues found: %d\n", state.TotalIssuesFound)
			fmt.Fprintf(out, "  Resolutions generated: %d\n", state.TotalActionsTaken)
			fmt.Fprintln(out)

			if len(state.Connectors) == 0 {
				fmt.Fprintln(out, "No connector has run yet.")
				return nil
			}
			fmt.Fprintln(out, "Connectors:")
			for id, cs := range state.Connectors {
				lastProcessed := "never"
				if !cs.LastProcessed.IsZero() {
					lastProcessed = cs.LastProcessed.Format("2006-01-02T15:04:05Z07:00")
				}
				fmt.Fprintf(out, "  %s: last_processed=%s conversations_processed=%d\n", id, lastProcessed, cs.ConversationsProcessed)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&runtimeDir, "runtime-dir", "d", defaultRuntimeDir(), "Runtime directory (config, state, resolutions, prompts)")
	return cmd
}
