package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command stub. The supervising daemon
// loop (PID file, signal handlers, poll interval, the local HTTP/WebSocket
// control surface) is out of scope for this module: config.DaemonSettings
// and config.APISettings exist so a future implementation has somewhere to
// read its tuning from, but good-night today is a single-shot "run"
// invoked by an external scheduler (cron, systemd timer, launchd).
func buildServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "serve",
		Short:  "Run the supervising daemon loop (not implemented)",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fmt.Errorf("serve: not implemented; invoke 'good-night run' from an external scheduler instead")
		},
	}
}
