package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/anthropic"
	"github.com/MikeSquared-Agency/tempo/internal/cache"
	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/content"
	"github.com/MikeSquared-Agency/tempo/internal/hermes"
	"github.com/MikeSquared-Agency/tempo/internal/metrics"
	"github.com/MikeSquared-Agency/tempo/internal/orchestrator"
	"github.com/MikeSquared-Agency/tempo/internal/remotesync"
	"github.com/MikeSquared-Agency/tempo/internal/slack"
	"github.com/MikeSquared-Agency/tempo/internal/store"
	"github.com/MikeSquared-Agency/tempo/internal/summarizer"
)

// app is the wired service. bus is nil when NATS was optional and unreachable.
type app struct {
	cfg      config.Config
	settings *config.Holder
	db       *store.Store
	bus      *hermes.Client
	cache    *cache.Cache
	orch     *orchestrator.Orchestrator
	logger   *slog.Logger
}

// newApp connects the store and bus and assembles the orchestrator. With
// requireBus false a NATS failure is logged and the app runs without events.
func newApp(ctx context.Context, cfg config.Config, requireBus bool, logger *slog.Logger) (*app, error) {
	settingsPath := config.ExpandHome(cfg.SettingsPath)
	s, err := config.LoadSettings(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	holder := config.NewHolder(s, settingsPath)
	logger.Info("settings loaded",
		"path", settingsPath,
		"debounce_seconds", s.CoreMetricsDebounceSeconds,
		"stop_on_session_end", s.StopOnSessionEnd,
	)

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("database connected")

	a := &app{cfg: cfg, settings: holder, db: db, logger: logger}

	bus, err := hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
	switch {
	case err == nil:
		a.bus = bus
		logger.Info("NATS connected", "url", cfg.NatsURL)
	case requireBus:
		db.Close()
		return nil, err
	default:
		logger.Warn("running without NATS", "error", err)
	}

	llm := anthropic.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	if llm.HasKey() {
		logger.Info("anthropic client ready", "model", cfg.AnthropicModel)
	} else {
		logger.Warn("ANTHROPIC_API_KEY not set, full mode will skip AI summaries")
	}

	collab := orchestrator.Collaborators{
		Store:   db,
		Content: content.New(cfg.ChronicleURL, logger.With("component", "content")),
		Metrics: metrics.New(db, logger.With("component", "metrics")),
		AI:      summarizer.New(llm, db, logger.With("component", "summarizer")),
	}

	if a.bus != nil {
		a.cache = cache.New(a.bus, hermes.SubjectCacheInvalidated, logger)
		collab.Bus = a.bus
		collab.Remote = remotesync.NewClient(a.bus, 0)
	} else {
		a.cache = cache.New(nil, "", logger)
	}
	collab.Cache = a.cache

	if cfg.SlackBotToken != "" && cfg.SlackChannel != "" {
		collab.Poster = slack.NewPoster(cfg.SlackBotToken, cfg.SlackChannel, logger.With("component", "slack"))
		logger.Info("slack poster ready", "channel", cfg.SlackChannel)
	}

	a.orch = orchestrator.New(collab, holder, orchestrator.Options{
		BulkRateLimit:    time.Duration(cfg.BulkAIRateLimitMs) * time.Millisecond,
		SyncPollInterval: time.Duration(cfg.SyncPollIntervalMs) * time.Millisecond,
		Port:             cfg.Port,
	}, logger)

	return a, nil
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	a.db.Close()
}
