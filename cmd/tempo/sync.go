package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/hermes"
	"github.com/MikeSquared-Agency/tempo/internal/remotesync"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

func newSyncCmd() *cobra.Command {
	var (
		reset    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync <provider>",
		Short: "Scan and upload a provider's historical sessions",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(cmd.Context(), cmd.OutOrStdout(), args[0], reset, interval)
		},
	}

	cmd.Flags().BoolVar(&reset, "reset", false, "clear remote progress before scanning")
	cmd.Flags().DurationVar(&interval, "interval", synctrack.DefaultPollInterval, "progress poll interval")
	return cmd
}

func runSync(parent context.Context, out io.Writer, provider string, reset bool, interval time.Duration) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	logger := setupLogging(cfg.LogLevel, cfg.LogFile)
	ctx := shutdownContext(parent, logger)

	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	if err != nil {
		return err
	}
	defer bus.Close()

	tr := synctrack.NewTracker(provider, remotesync.NewClient(bus, 0), logger.With("component", "sync"))

	if reset {
		if err := tr.Reset(ctx); err != nil {
			return err
		}
		fmt.Fprintf(out, "%s: progress reset\n", provider)
	}

	if err := tr.Scan(ctx); err != nil {
		return err
	}
	found := len(tr.Snapshot().SessionsFound)
	fmt.Fprintf(out, "%s: found %d sessions\n", provider, found)
	if found == 0 {
		return nil
	}

	if err := tr.Sync(ctx); err != nil {
		return err
	}

	complete := make(chan struct{})
	var last synctrack.Progress
	p := synctrack.NewPoller(tr, interval, logger.With("component", "sync", "provider", provider))
	p.OnTick(func(error) {
		snap := tr.Snapshot()
		if snap.Phase != last.Phase || snap.SyncedSessions != last.SyncedSessions {
			fmt.Fprintf(out, "%s: %s %d/%d\n", provider, snap.Phase, snap.SyncedSessions, snap.TotalSessions)
		}
		if snap.IsComplete && !last.IsComplete {
			close(complete)
		}
		last = snap
	})
	p.Start(ctx)
	defer p.Stop()

	select {
	case <-complete:
	case <-ctx.Done():
		return ctx.Err()
	}

	final := tr.Snapshot()
	for _, e := range final.Errors {
		fmt.Fprintf(out, "%s: error: %s\n", provider, e)
	}
	if len(final.Errors) > 0 {
		return fmt.Errorf("sync finished with %d errors", len(final.Errors))
	}
	return nil
}
