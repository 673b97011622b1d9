// Package scheduler coalesces bursts of session updates into one core
// metrics recompute per session.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/processor"
	"github.com/MikeSquared-Agency/tempo/internal/session"
)

// ErrStopped is returned by Touch after Stop.
var ErrStopped = errors.New("scheduler stopped")

// Processor runs one guarded session recompute.
type Processor interface {
	Process(ctx context.Context, req processor.Request) (processor.Result, error)
}

type entry struct {
	timer       *time.Timer
	scheduledAt time.Time
}

// Debouncer is a per-session trailing-edge debounce. Each Touch replaces any
// pending timer for the session, so a burst fires once, one window after the
// last event.
type Debouncer struct {
	proc     Processor
	settings *config.Holder
	logger   *slog.Logger

	// window is read on every Touch so settings changes apply to the next event.
	window func() time.Duration

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]*entry
	stopped bool
	running sync.WaitGroup
}

func New(p Processor, settings *config.Holder, logger *slog.Logger) *Debouncer {
	d := &Debouncer{
		proc:     p,
		settings: settings,
		logger:   logger,
		ctx:      context.Background(),
		entries:  make(map[string]*entry),
	}
	d.window = func() time.Duration { return d.settings.Settings().DebounceWindow() }
	return d
}

// Start sets the context handed to firings. Calling it is optional.
func (d *Debouncer) Start(ctx context.Context) {
	d.mu.Lock()
	d.ctx = ctx
	d.stopped = false
	d.mu.Unlock()
}

// Stop cancels every pending timer, rejects further events and waits for
// firings already underway.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	d.stopped = true
	for k, e := range d.entries {
		e.timer.Stop()
		delete(d.entries, k)
	}
	d.mu.Unlock()

	d.running.Wait()
}

// Touch schedules a recompute of sessionID one window from now, replacing any
// timer already pending for it.
func (d *Debouncer) Touch(sessionID string) error {
	window := d.window()

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrStopped
	}
	if prev, ok := d.entries[sessionID]; ok {
		prev.timer.Stop()
	}

	e := &entry{scheduledAt: time.Now().Add(window)}
	e.timer = time.AfterFunc(window, func() { d.fire(sessionID, e) })
	d.entries[sessionID] = e
	return nil
}

// Pending returns the number of sessions waiting for their window to elapse.
func (d *Debouncer) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

// PendingKeys returns the sessions waiting to fire, sorted.
func (d *Debouncer) PendingKeys() []string {
	d.mu.Lock()
	keys := make([]string, 0, len(d.entries))
	for k := range d.entries {
		keys = append(keys, k)
	}
	d.mu.Unlock()

	sort.Strings(keys)
	return keys
}

func (d *Debouncer) fire(sessionID string, e *entry) {
	d.mu.Lock()
	// A superseded timer can still run if Stop lost the race with expiry.
	if d.stopped || d.entries[sessionID] != e {
		d.mu.Unlock()
		return
	}
	delete(d.entries, sessionID)
	ctx := d.ctx
	d.running.Add(1)
	d.mu.Unlock()
	defer d.running.Done()

	res, err := d.proc.Process(ctx, processor.Request{
		SessionID: sessionID,
		Mode:      processor.ModeCoreOnly,
		Trigger:   processor.TriggerDebounce,
	})
	switch {
	case errors.Is(err, processor.ErrInFlight):
		// Whatever holds the gate recomputes from the latest content anyway.
		d.logger.Debug("session busy, dropping debounced recompute", "session_id", sessionID)
	case errors.Is(err, processor.ErrSessionNotFound):
		d.logger.Warn("debounced session has no record", "session_id", sessionID)
	case err != nil:
		d.logger.Error("debounced recompute failed", "session_id", sessionID, "error", err)
	case res.Skipped:
		d.logger.Debug("debounced recompute skipped", "session_id", sessionID)
	default:
		d.logger.Info("core metrics recomputed", "session_id", sessionID)
	}
}

// HandleSessionUpdated is the NATS handler for tempo.session.updated.
func (d *Debouncer) HandleSessionUpdated(subject string, data []byte) {
	var evt session.UpdatedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		d.logger.Error("failed to parse updated event", "subject", subject, "error", err)
		return
	}
	if evt.SessionID == "" {
		d.logger.Warn("rejecting updated event without session id")
		return
	}
	if err := d.Touch(evt.SessionID); err != nil {
		d.logger.Debug("updated event ignored", "session_id", evt.SessionID, "error", err)
	}
}
