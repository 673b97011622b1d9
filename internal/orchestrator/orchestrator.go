// Package orchestrator assembles the gate, ingestor, debounce scheduler, bulk
// engine and sync trackers around one shared set of collaborators.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/bulk"
	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/gate"
	"github.com/MikeSquared-Agency/tempo/internal/hermes"
	"github.com/MikeSquared-Agency/tempo/internal/ingest"
	"github.com/MikeSquared-Agency/tempo/internal/processor"
	"github.com/MikeSquared-Agency/tempo/internal/scheduler"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

// Store is every record-store operation the orchestrator's parts use.
type Store interface {
	ingest.Store
	processor.SessionStore
	bulk.Lister
}

// Bus is the message bus. It may be nil for one-shot CLI use.
type Bus interface {
	Publish(subject string, data any) error
	Subscribe(subject string, handler func(subject string, data []byte)) error
}

// Collaborators are the external pieces the orchestrator schedules work onto.
type Collaborators struct {
	Store   Store
	Content processor.ContentFetcher
	Metrics processor.MetricsComputer
	AI      processor.Summarizer
	Cache   processor.Invalidator
	Remote  synctrack.Remote
	Bus     Bus
	Poster  bulk.Poster
}

type Options struct {
	BulkRateLimit    time.Duration
	SyncPollInterval time.Duration
	// Port is announced on registration.
	Port int
}

// Status is the operational snapshot served on the status endpoint.
type Status struct {
	HeldSessions     []string                      `json:"held_sessions"`
	PendingDebounces []string                      `json:"pending_debounces"`
	DebounceSeconds  int                           `json:"debounce_seconds"`
	StopOnSessionEnd bool                          `json:"stop_on_session_end"`
	AICredential     bool                          `json:"ai_credential"`
	Bulk             bulk.Snapshot                 `json:"bulk"`
	Sync             map[string]synctrack.Progress `json:"sync"`
}

type Orchestrator struct {
	gate      *gate.Gate
	processor *processor.Processor
	ingestor  *ingest.Ingestor
	debouncer *scheduler.Debouncer
	bulk      *bulk.Engine
	syncs     *synctrack.Set
	settings  *config.Holder
	bus       Bus
	opts      Options
	logger    *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	pollers map[string]*synctrack.Poller
}

func New(c Collaborators, settings *config.Holder, opts Options, logger *slog.Logger) *Orchestrator {
	if opts.SyncPollInterval <= 0 {
		opts.SyncPollInterval = synctrack.DefaultPollInterval
	}

	g := gate.New()
	proc := processor.New(g, c.Store, c.Content, c.Metrics, c.AI, c.Cache, settings, logger.With("component", "processor"))

	var pub bulk.Publisher
	if c.Bus != nil {
		pub = c.Bus
	}
	engine := bulk.New(proc, c.Store, bulk.Options{
		RateLimit: opts.BulkRateLimit,
		Subject:   hermes.SubjectBulkCompleted,
		Publisher: pub,
		Poster:    c.Poster,
	}, logger.With("component", "bulk"))

	return &Orchestrator{
		gate:      g,
		processor: proc,
		ingestor:  ingest.New(c.Store, logger.With("component", "ingest")),
		debouncer: scheduler.New(proc, settings, logger.With("component", "debounce")),
		bulk:      engine,
		syncs:     synctrack.NewSet(c.Remote, logger.With("component", "sync")),
		settings:  settings,
		bus:       c.Bus,
		opts:      opts,
		logger:    logger,
		ctx:       context.Background(),
		pollers:   make(map[string]*synctrack.Poller),
	}
}

func (o *Orchestrator) Processor() *processor.Processor { return o.processor }
func (o *Orchestrator) Bulk() *bulk.Engine              { return o.bulk }
func (o *Orchestrator) Debouncer() *scheduler.Debouncer { return o.debouncer }
func (o *Orchestrator) Ingestor() *ingest.Ingestor      { return o.ingestor }

// Start subscribes to session events and announces the service.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	o.ctx = ctx
	o.mu.Unlock()

	o.debouncer.Start(ctx)

	if o.bus == nil {
		return nil
	}

	subs := []struct {
		subject string
		handler func(string, []byte)
	}{
		{hermes.SubjectSessionDetected, o.ingestor.HandleSessionDetected},
		{hermes.SubjectSessionUpdated, o.debouncer.HandleSessionUpdated},
		{hermes.SubjectSessionEnded, o.ingestor.HandleSessionEnded},
	}
	for _, s := range subs {
		if err := o.bus.Subscribe(s.subject, s.handler); err != nil {
			return fmt.Errorf("subscribe %s: %w", s.subject, err)
		}
	}

	if err := o.bus.Publish(hermes.SubjectRegistered, map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"port":      o.opts.Port,
	}); err != nil {
		o.logger.Warn("failed to publish registration", "error", err)
	}
	return nil
}

// Stop cancels pending debounces, asks a running bulk job to stop after its
// current item and halts every sync poller. It returns once the bulk run
// loop has exited, so collaborators can be closed afterwards.
func (o *Orchestrator) Stop() {
	o.debouncer.Stop()

	// A prepared job that has not started yet is abandoned so it cannot start late.
	switch o.bulk.Snapshot().State {
	case bulk.StateRunning, bulk.StateModeSelection, bulk.StateConfirming:
		if err := o.bulk.Cancel(); err != nil {
			o.logger.Warn("failed to cancel bulk run", "error", err)
		}
	}
	o.bulk.Wait()

	o.mu.Lock()
	pollers := o.pollers
	o.pollers = make(map[string]*synctrack.Poller)
	o.mu.Unlock()
	for _, p := range pollers {
		p.Stop()
	}
}

// SyncStatus returns the tracked progress of provider.
func (o *Orchestrator) SyncStatus(provider string) synctrack.Progress {
	return o.syncs.Get(provider).Snapshot()
}

func (o *Orchestrator) Scan(ctx context.Context, provider string) error {
	return o.syncs.Get(provider).Scan(ctx)
}

// Sync queues the provider's found sessions and polls progress until complete.
func (o *Orchestrator) Sync(ctx context.Context, provider string) error {
	if err := o.syncs.Get(provider).Sync(ctx); err != nil {
		return err
	}
	o.startPoller(provider)
	return nil
}

func (o *Orchestrator) Reset(ctx context.Context, provider string) error {
	o.stopPoller(provider, nil)
	return o.syncs.Get(provider).Reset(ctx)
}

// Tracker exposes a provider's tracker for callers that poll it themselves.
func (o *Orchestrator) Tracker(provider string) *synctrack.Tracker {
	return o.syncs.Get(provider)
}

func (o *Orchestrator) startPoller(provider string) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if _, ok := o.pollers[provider]; ok {
		return
	}
	tr := o.syncs.Get(provider)
	p := synctrack.NewPoller(tr, o.opts.SyncPollInterval, o.logger.With("component", "sync", "provider", provider))
	p.OnTick(func(error) {
		if tr.Snapshot().IsComplete {
			// Stop waits for the loop, so it cannot run on the loop itself.
			go o.stopPoller(provider, p)
		}
	})
	o.pollers[provider] = p
	p.Start(o.ctx)
}

// stopPoller stops provider's poller. A non-nil only restricts it to that
// poller, so a late completion cannot stop a poller started after a reset.
func (o *Orchestrator) stopPoller(provider string, only *synctrack.Poller) {
	o.mu.Lock()
	p, ok := o.pollers[provider]
	if ok && only != nil && p != only {
		ok = false
	}
	if ok {
		delete(o.pollers, provider)
	}
	o.mu.Unlock()

	if ok {
		p.Stop()
		o.logger.Info("sync polling stopped", "provider", provider)
	}
}

// Polling reports whether provider's progress is being polled.
func (o *Orchestrator) Polling(provider string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.pollers[provider]
	return ok
}

func (o *Orchestrator) Status() Status {
	s := o.settings.Settings()
	st := Status{
		HeldSessions:     o.gate.Keys(),
		PendingDebounces: o.debouncer.PendingKeys(),
		DebounceSeconds:  s.CoreMetricsDebounceSeconds,
		StopOnSessionEnd: s.StopOnSessionEnd,
		AICredential:     o.processor.HasAICredential(),
		Bulk:             o.bulk.Snapshot(),
		Sync:             make(map[string]synctrack.Progress),
	}
	for _, t := range o.syncs.All() {
		st.Sync[t.Provider()] = t.Snapshot()
	}
	return st
}
