// Package synctrack follows a remote historical-session sync from discovery
// through upload, one tracker per provider.
package synctrack

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MikeSquared-Agency/tempo/internal/session"
)

var (
	// ErrNothingToSync is returned by Sync before a scan has found anything.
	ErrNothingToSync = errors.New("no sessions found to sync")
	// ErrResetRequired is returned by Scan and Sync once a run has completed.
	// Reset starts a new run.
	ErrResetRequired = errors.New("sync complete, reset before starting another run")
)

// Phase is the position of a sync in its lifecycle. Phases only move forward
// until Reset.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseScanning  Phase = "scanning"
	PhaseScanned   Phase = "scanned"
	PhaseSyncing   Phase = "syncing"
	PhaseUploading Phase = "uploading"
	PhaseComplete  Phase = "complete"
)

var phaseRank = map[Phase]int{
	PhaseIdle:      0,
	PhaseScanning:  1,
	PhaseScanned:   2,
	PhaseSyncing:   3,
	PhaseUploading: 4,
	PhaseComplete:  5,
}

// Rank orders phases. Unknown phases rank below idle.
func (p Phase) Rank() int {
	r, ok := phaseRank[p]
	if !ok {
		return -1
	}
	return r
}

// Progress is the tracked state of one provider's sync.
type Progress struct {
	Phase           Phase          `json:"phase"`
	TotalSessions   int            `json:"total_sessions"`
	SyncedSessions  int            `json:"synced_sessions"`
	CurrentProvider string         `json:"current_provider,omitempty"`
	CurrentProject  string         `json:"current_project,omitempty"`
	SessionsFound   []session.Info `json:"sessions_found"`
	Errors          []string       `json:"errors"`
	IsComplete      bool           `json:"is_complete"`
}

// Remote performs the actual discovery and upload.
type Remote interface {
	ScanHistoricalSessions(ctx context.Context, providerID string) ([]session.Info, error)
	SyncHistoricalSessions(ctx context.Context, providerID string, sessions []session.Info) error
	GetSyncProgress(ctx context.Context, providerID string) (Progress, error)
	ResetSyncProgress(ctx context.Context, providerID string) error
}

// Tracker holds the local view of one provider's sync. Local errors from
// failed calls are kept apart from errors reported by the remote so a
// refresh does not wipe them.
type Tracker struct {
	provider string
	remote   Remote
	logger   *slog.Logger

	mu        sync.Mutex
	state     Progress
	localErrs []string
}

func NewTracker(provider string, remote Remote, logger *slog.Logger) *Tracker {
	return &Tracker{
		provider: provider,
		remote:   remote,
		logger:   logger.With("provider", provider),
		state:    Progress{Phase: PhaseIdle, CurrentProvider: provider},
	}
}

func (t *Tracker) Provider() string { return t.provider }

// Scan discovers sessions that have not been synced. The phase is scanning
// while the call runs; on failure the error is recorded and the phase goes
// back to where it was.
func (t *Tracker) Scan(ctx context.Context) error {
	t.mu.Lock()
	if t.state.IsComplete {
		t.mu.Unlock()
		return fmt.Errorf("scan %s: %w", t.provider, ErrResetRequired)
	}
	prev := t.state.Phase
	t.advanceLocked(PhaseScanning)
	t.mu.Unlock()

	found, err := t.remote.ScanHistoricalSessions(ctx, t.provider)
	if err != nil {
		t.mu.Lock()
		if t.state.Phase == PhaseScanning {
			t.state.Phase = prev
		}
		t.mu.Unlock()
		t.recordErr(fmt.Errorf("scan: %w", err))
		return fmt.Errorf("scan %s: %w", t.provider, err)
	}

	t.mu.Lock()
	t.state.SessionsFound = found
	t.state.TotalSessions = len(found)
	t.advanceLocked(PhaseScanned)
	t.mu.Unlock()

	t.logger.Info("scan complete", "found", len(found))
	return nil
}

// Sync queues every found session for upload. It can be retried after a failure.
func (t *Tracker) Sync(ctx context.Context) error {
	t.mu.Lock()
	complete := t.state.IsComplete
	found := append([]session.Info(nil), t.state.SessionsFound...)
	t.mu.Unlock()

	if complete {
		return fmt.Errorf("sync %s: %w", t.provider, ErrResetRequired)
	}
	if len(found) == 0 {
		return ErrNothingToSync
	}

	if err := t.remote.SyncHistoricalSessions(ctx, t.provider, found); err != nil {
		t.recordErr(fmt.Errorf("sync: %w", err))
		return fmt.Errorf("sync %s: %w", t.provider, err)
	}

	t.mu.Lock()
	t.advanceLocked(PhaseSyncing)
	t.mu.Unlock()

	t.logger.Info("sync queued", "sessions", len(found))
	return nil
}

// Reset returns the tracker to idle and discards every error and finding.
func (t *Tracker) Reset(ctx context.Context) error {
	if err := t.remote.ResetSyncProgress(ctx, t.provider); err != nil {
		t.recordErr(fmt.Errorf("reset: %w", err))
		return fmt.Errorf("reset %s: %w", t.provider, err)
	}

	t.mu.Lock()
	t.state = Progress{Phase: PhaseIdle, CurrentProvider: t.provider}
	t.localErrs = nil
	t.mu.Unlock()

	t.logger.Info("sync reset")
	return nil
}

// Refresh merges the remote snapshot into the tracked state. A snapshot whose
// phase ranks below the tracked phase does not move the phase back.
func (t *Tracker) Refresh(ctx context.Context) error {
	snap, err := t.remote.GetSyncProgress(ctx, t.provider)
	if err != nil {
		return fmt.Errorf("get progress %s: %w", t.provider, err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	prev := t.state.Phase
	t.advanceLocked(snap.Phase)
	if snap.TotalSessions > 0 {
		t.state.TotalSessions = snap.TotalSessions
	}
	if snap.SyncedSessions > t.state.SyncedSessions {
		t.state.SyncedSessions = snap.SyncedSessions
	}
	if snap.CurrentProvider != "" {
		t.state.CurrentProvider = snap.CurrentProvider
	}
	t.state.CurrentProject = snap.CurrentProject
	if len(snap.SessionsFound) > 0 {
		t.state.SessionsFound = snap.SessionsFound
	}
	t.state.Errors = append(append([]string(nil), t.localErrs...), snap.Errors...)
	t.state.IsComplete = t.state.IsComplete || snap.IsComplete || t.state.Phase == PhaseComplete

	if t.state.Phase != prev {
		t.logger.Info("sync phase changed", "from", prev, "to", t.state.Phase)
	} else if snap.Phase.Rank() < prev.Rank() {
		t.logger.Debug("ignoring stale sync phase", "tracked", prev, "reported", snap.Phase)
	}
	return nil
}

// Snapshot returns a copy of the tracked state.
func (t *Tracker) Snapshot() Progress {
	t.mu.Lock()
	defer t.mu.Unlock()

	p := t.state
	p.SessionsFound = append([]session.Info(nil), t.state.SessionsFound...)
	p.Errors = append([]string(nil), t.state.Errors...)
	return p
}

func (t *Tracker) advanceLocked(p Phase) {
	if p.Rank() > t.state.Phase.Rank() {
		t.state.Phase = p
	}
	if t.state.Phase == PhaseComplete {
		t.state.IsComplete = true
	}
}

func (t *Tracker) recordErr(err error) {
	t.logger.Warn("sync call failed", "phase", t.Snapshot().Phase, "error", err)

	t.mu.Lock()
	t.localErrs = append(t.localErrs, err.Error())
	t.state.Errors = append(t.state.Errors, err.Error())
	t.mu.Unlock()
}

// Set hands out one tracker per provider.
type Set struct {
	remote Remote
	logger *slog.Logger

	mu       sync.Mutex
	trackers map[string]*Tracker
}

func NewSet(remote Remote, logger *slog.Logger) *Set {
	return &Set{remote: remote, logger: logger, trackers: make(map[string]*Tracker)}
}

// Get returns the provider's tracker, creating it on first use.
func (s *Set) Get(provider string) *Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.trackers[provider]
	if !ok {
		t = NewTracker(provider, s.remote, s.logger)
		s.trackers[provider] = t
	}
	return t
}

// All returns every tracker created so far.
func (s *Set) All() []*Tracker {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*Tracker, 0, len(s.trackers))
	for _, t := range s.trackers {
		out = append(out, t)
	}
	return out
}
