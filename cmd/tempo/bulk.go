package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/processor"
)

func newBulkCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "bulk [session-id...]",
		Short: "Recompute many sessions once and exit",
		Long: `Recompute the given sessions, or every eligible session when none are
named. In core mode every session is eligible. In full mode only sessions
whose assessment has not completed are. Interrupting stops after the
session in progress.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := processor.ParseMode(mode)
			if err != nil {
				return err
			}
			return runBulk(cmd.Context(), cmd, m, args)
		},
	}

	cmd.Flags().StringVar(&mode, "mode", string(processor.ModeCoreOnly), "processing mode: core or full")
	return cmd
}

func runBulk(parent context.Context, cmd *cobra.Command, m processor.Mode, ids []string) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	logger := setupLogging(cfg.LogLevel, cfg.LogFile)

	ctx := shutdownContext(parent, logger)

	a, err := newApp(ctx, cfg, false, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	engine := a.orch.Bulk()
	n, err := engine.Prepare(ctx, m, ids)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no sessions to process")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "processing %d sessions in %s mode\n", n, m)

	// The run owns its own lifetime. A signal asks it to stop between items.
	runCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			if err := engine.Cancel(); err != nil {
				logger.Warn("failed to cancel bulk run", "error", err)
			}
		case <-done:
		}
	}()

	sum, err := engine.Run(runCtx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), sum.Text())
	if sum.ErrorCount > 0 {
		return fmt.Errorf("%d sessions failed", sum.ErrorCount)
	}
	return nil
}
