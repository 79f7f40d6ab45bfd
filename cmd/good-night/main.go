// Package main provides the CLI entry point for good-night, a reflective
// dreaming daemon that mines an AI assistant's past conversations for
// recurring friction and turns what it finds into concrete guidance —
// skills, CLAUDE.md preferences, or other registered artifact types.
//
// # Basic Usage
//
// Run one dreaming cycle:
//
//	good-night run --runtime-dir ~/.good-night
//
// Check the last recorded cycle's progress:
//
//	good-night status --runtime-dir ~/.good-night
//
// # Environment Variables
//
//   - GOOD_NIGHT_PROVIDER: overrides provider.default ("anthropic" or "bedrock")
//   - GOOD_NIGHT_API_HOST: overrides api.host
//   - GOOD_NIGHT_LOG_LEVEL: overrides daemon.log_level
//   - ANTHROPIC_API_KEY: Anthropic API key, read via provider.anthropic.api_key_env
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main so tests can exercise it without a process exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "good-night",
		Short: "good-night - reflective dreaming daemon for AI assistant conversations",
		Long: `good-night mines an AI assistant's past conversations for recurring
friction (repeated corrections, frustration, wasted exploration) and turns
what it finds into concrete guidance: skills, CLAUDE.md preferences, or
other artifact types.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildRunCmd(),
		buildStatusCmd(),
		buildServeCmd(),
	)

	return rootCmd
}
