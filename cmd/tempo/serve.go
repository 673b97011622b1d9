package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/tempo/internal/api"
	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/localsync"
	"github.com/MikeSquared-Agency/tempo/internal/remotesync"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator with its event subscriptions and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	cfg := config.Load()
	logger := setupLogging(cfg.LogLevel, cfg.LogFile)
	logger.Info("tempo starting", "version", version, "port", cfg.Port)

	ctx := shutdownContext(parent, logger)

	a, err := newApp(ctx, cfg, true, logger)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	defer a.Close()

	if len(cfg.SyncRoots) > 0 {
		agent := localsync.New(cfg.SyncRoots, cfg.SyncStateDir, a.orch.Ingestor(), logger.With("component", "localsync"))
		defer agent.Close()
		if err := remotesync.Serve(a.bus, agent); err != nil {
			return fmt.Errorf("serve sync agent: %w", err)
		}
		logger.Info("local sync agent ready", "providers", len(cfg.SyncRoots))
	}

	if err := a.orch.Start(ctx); err != nil {
		return err
	}
	defer a.orch.Stop()

	srv := api.NewServer(cfg.Port, cfg.APIToken, api.Deps{
		Sessions:   a.db,
		Cache:      a.cache,
		Processor:  a.orch.Processor(),
		Bulk:       a.orch.Bulk(),
		Sync:       a.orch,
		Status:     func() any { return a.orch.Status() },
		Background: context.WithoutCancel(ctx),
	}, logger.With("component", "api"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Start(gctx) })
	g.Go(func() error { return config.Watch(gctx, a.settings, logger.With("component", "settings")) })

	logger.Info("tempo ready")
	err = g.Wait()
	logger.Info("tempo stopped")
	return err
}
