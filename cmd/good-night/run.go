package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/soft-beds-inc/good-night/internal/config"
	"github.com/soft-beds-inc/good-night/internal/events"
	"github.com/soft-beds-inc/good-night/internal/orchestrator"
	"github.com/soft-beds-inc/good-night/pkg/model"
)

// buildRunCmd creates the "run" command: execute a single dreaming cycle
// and exit, printing a progress line per lifecycle event as it happens.
func buildRunCmd() *cobra.Command {
	var (
		runtimeDir string
		dryRun     bool
		connectors []string
		prompts    []string
		convLimit  int
		quiet      bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one dreaming cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(runtimeDir)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			stream := events.NewStream(events.DefaultCapacity)
			out := cmd.OutOrStdout()
			if !quiet {
				stream.Subscribe(func(evt model.AgentEvent) {
					printEvent(out, evt)
				})
			}

			orch := orchestrator.New(runtimeDir, cfg, dryRun, stream)
			defer orch.Close()
			if len(connectors) > 0 {
				orch.SetConnectorFilter(connectors)
			}
			if len(prompts) > 0 {
				orch.SetPromptFilter(prompts)
			}
			if convLimit > 0 {
				orch.SetConversationLimit(convLimit)
			}

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			result, err := orch.Run(ctx)
			if err != nil {
				return fmt.Errorf("run cycle: %w", err)
			}

			fmt.Fprintln(out)
			if !result.Success {
				fmt.Fprintf(out, "Cycle failed: %s\n", result.Error)
				return fmt.Errorf("dreaming cycle failed: %s", result.Error)
			}
			if result.NoNewConversations {
				fmt.Fprintln(out, "No new conversations to analyze.")
				return nil
			}
			fmt.Fprintf(out, "Analyzed %d conversations, found %d issues, generated %d resolutions in %.1fs (cost: $%.4f)\n",
				result.ConversationsAnalyzed, result.IssuesFound, result.ResolutionsGenerated,
				result.DurationSeconds, result.Statistics.CostUSD())
			return nil
		},
	}

	cmd.Flags().StringVarP(&runtimeDir, "runtime-dir", "d", defaultRuntimeDir(), "Runtime directory (config, state, resolutions, prompts)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Save but do not apply resolution actions")
	cmd.Flags().StringSliceVar(&connectors, "connector", nil, "Restrict to these connector ids (default: config.enabled.connectors)")
	cmd.Flags().StringSliceVar(&prompts, "prompt", nil, "Restrict Stage A to these prompt modules (default: config.enabled.prompts)")
	cmd.Flags().IntVar(&convLimit, "limit", 0, "Cap the number of conversations extracted (0 = unlimited, normal lookback)")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Suppress per-event progress output")
	return cmd
}

func printEvent(out io.Writer, evt model.AgentEvent) {
	label := strings.TrimSpace(evt.AgentID)
	if evt.Stage != "" {
		label = fmt.Sprintf("%s/%s", label, evt.Stage)
	}
	fmt.Fprintf(out, "[%s] %s\n", label, evt.Summary)
}

func defaultRuntimeDir() string {
	if dir := strings.TrimSpace(os.Getenv("GOOD_NIGHT_RUNTIME_DIR")); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		slog.Warn("could not determine home directory, using .good-night", "error", err)
		return ".good-night"
	}
	return home + "/.good-night"
}
