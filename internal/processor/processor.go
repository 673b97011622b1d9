// Package processor runs the guarded single-session routine shared by the
// debounce scheduler, bulk runs and manual triggers.
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MikeSquared-Agency/tempo/internal/cache"
	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/gate"
	"github.com/MikeSquared-Agency/tempo/internal/session"
	"github.com/MikeSquared-Agency/tempo/internal/transcript"
)

var (
	// ErrInFlight means another operation currently holds the session.
	// Callers skip rather than wait.
	ErrInFlight = errors.New("session is already being processed")
	// ErrSessionNotFound means the session row disappeared before processing.
	ErrSessionNotFound = errors.New("session not found")
)

// Mode selects how much work is done per session.
type Mode string

const (
	// ModeCoreOnly recomputes core metrics only.
	ModeCoreOnly Mode = "core"
	// ModeFull recomputes core metrics and, if a credential exists, the AI summary.
	ModeFull Mode = "full"
)

// ParseMode accepts "core" or "full".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCoreOnly, ModeFull:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown mode %q (want core or full)", s)
}

// Trigger records which path asked for processing.
type Trigger string

const (
	TriggerDebounce Trigger = "debounce"
	TriggerBulk     Trigger = "bulk"
	TriggerManual   Trigger = "manual"
)

// SessionStore is the slice of the record store the routine needs.
type SessionStore interface {
	GetSessionRow(ctx context.Context, sessionID string) (*session.Row, error)
	SetCoreMetricsStatus(ctx context.Context, sessionID string, status session.Status) error
	SetAssessmentStatus(ctx context.Context, sessionID string, status session.Status) error
}

// ContentFetcher loads the raw transcript of a session.
type ContentFetcher interface {
	FetchContent(ctx context.Context, provider, filePath, sessionID string) (string, error)
}

// MetricsComputer computes and stores core metrics. Calls overwrite.
type MetricsComputer interface {
	ComputeCoreMetrics(ctx context.Context, sessionID, provider, content string) error
}

// Summarizer produces the AI assessment of a session.
type Summarizer interface {
	HasCredential() bool
	ComputeAISummary(ctx context.Context, sessionID string, msgs []transcript.Message) error
}

// Invalidator drops cached reads for a session.
type Invalidator interface {
	Invalidate(keys []cache.Key)
}

// Request asks for one session to be processed.
type Request struct {
	SessionID string
	Mode      Mode
	Trigger   Trigger
}

// Result describes what a completed run did.
type Result struct {
	SessionID   string `json:"session_id"`
	CoreMetrics bool   `json:"core_metrics"`
	AISummary   bool   `json:"ai_summary"`
	Skipped     bool   `json:"skipped"`
}

// Processor runs one session through the collaborators while holding its gate.
type Processor struct {
	gate     *gate.Gate
	store    SessionStore
	content  ContentFetcher
	metrics  MetricsComputer
	ai       Summarizer
	cache    Invalidator
	settings *config.Holder
	logger   *slog.Logger
}

func New(g *gate.Gate, s SessionStore, c ContentFetcher, m MetricsComputer, ai Summarizer, inv Invalidator, settings *config.Holder, logger *slog.Logger) *Processor {
	return &Processor{
		gate:     g,
		store:    s,
		content:  c,
		metrics:  m,
		ai:       ai,
		cache:    inv,
		settings: settings,
		logger:   logger,
	}
}

// HasAICredential reports whether full mode will actually call the AI.
func (p *Processor) HasAICredential() bool {
	return p.ai != nil && p.ai.HasCredential()
}

// Process runs req while holding the session's gate. It returns ErrInFlight
// without doing anything if the gate is held. Core metrics are always
// recomputed, even when already completed, because a live session keeps
// growing. Read caches are invalidated once the row is found, whether the
// work succeeds or fails.
func (p *Processor) Process(ctx context.Context, req Request) (Result, error) {
	res := Result{SessionID: req.SessionID}

	if !p.gate.TryAcquire(req.SessionID) {
		return res, ErrInFlight
	}
	defer p.gate.Release(req.SessionID)

	row, err := p.store.GetSessionRow(ctx, req.SessionID)
	if errors.Is(err, session.ErrNotFound) {
		return res, fmt.Errorf("%w: %s", ErrSessionNotFound, req.SessionID)
	}
	if err != nil {
		return res, fmt.Errorf("lookup session: %w", err)
	}
	defer p.cache.Invalidate(cache.SessionKeys(req.SessionID))

	if p.skipEnded(req, row) {
		p.logger.Debug("session ended, skipping recompute", "session_id", req.SessionID)
		res.Skipped = true
		return res, nil
	}

	content, err := p.content.FetchContent(ctx, row.Provider, row.FilePath, row.SessionID)
	if err != nil {
		p.setCoreStatus(ctx, req.SessionID, session.StatusFailed)
		return res, fmt.Errorf("fetch content: %w", err)
	}

	p.setCoreStatus(ctx, req.SessionID, session.StatusProcessing)
	if err := p.metrics.ComputeCoreMetrics(ctx, row.SessionID, row.Provider, content); err != nil {
		p.setCoreStatus(ctx, req.SessionID, session.StatusFailed)
		return res, fmt.Errorf("compute core metrics: %w", err)
	}
	p.setCoreStatus(ctx, req.SessionID, session.StatusCompleted)
	res.CoreMetrics = true

	if req.Mode != ModeFull {
		return res, nil
	}
	if !p.HasAICredential() {
		p.logger.Debug("no AI credential, skipping summary", "session_id", req.SessionID)
		return res, nil
	}

	tr, err := transcript.ParseString(content)
	if err != nil {
		p.setAssessmentStatus(ctx, req.SessionID, session.StatusFailed)
		return res, fmt.Errorf("parse transcript: %w", err)
	}

	p.setAssessmentStatus(ctx, req.SessionID, session.StatusProcessing)
	if err := p.ai.ComputeAISummary(ctx, row.SessionID, tr.Messages); err != nil {
		p.setAssessmentStatus(ctx, req.SessionID, session.StatusFailed)
		return res, fmt.Errorf("compute ai summary: %w", err)
	}
	p.setAssessmentStatus(ctx, req.SessionID, session.StatusCompleted)
	res.AISummary = true

	return res, nil
}

// skipEnded applies the stop_on_session_end policy. Only debounce firings
// are affected; explicit bulk and manual runs always recompute.
func (p *Processor) skipEnded(req Request, row *session.Row) bool {
	if req.Trigger != TriggerDebounce || p.settings == nil {
		return false
	}
	if !p.settings.Settings().StopOnSessionEnd {
		return false
	}
	return row.Ended() && row.CoreMetricsStatus == session.StatusCompleted
}

func (p *Processor) setCoreStatus(ctx context.Context, sessionID string, status session.Status) {
	if err := p.store.SetCoreMetricsStatus(ctx, sessionID, status); err != nil {
		p.logger.Warn("failed to update core metrics status", "session_id", sessionID, "status", status, "error", err)
	}
}

func (p *Processor) setAssessmentStatus(ctx context.Context, sessionID string, status session.Status) {
	if err := p.store.SetAssessmentStatus(ctx, sessionID, status); err != nil {
		p.logger.Warn("failed to update assessment status", "session_id", sessionID, "status", status, "error", err)
	}
}
