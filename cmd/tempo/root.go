package main

import (
	"github.com/spf13/cobra"
)

// version is set at build time via ldflags.
var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tempo",
		Short:         "Session processing orchestrator",
		Long:          "Schedules metric and summary recomputes for agent sessions, runs bulk jobs and tracks historical sync.",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newBulkCmd())
	cmd.AddCommand(newSyncCmd())

	return cmd
}
