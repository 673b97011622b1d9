// Package bulk runs a user-requested recompute over many sessions: one at a
// time, cancellable between items and rate limited when the AI is involved.
package bulk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tempo/internal/processor"
	"github.com/MikeSquared-Agency/tempo/internal/session"
)

var (
	// ErrJobActive is returned when a bulk job is already underway.
	ErrJobActive = errors.New("bulk job already active")
	// ErrInvalidTransition is returned when an operation does not apply to the current state.
	ErrInvalidTransition = errors.New("invalid bulk state transition")
)

// DefaultRateLimit is the pause between AI-assisted items.
const DefaultRateLimit = 2000 * time.Millisecond

// State is the lifecycle position of the engine.
type State string

const (
	StateIdle          State = "idle"
	StateModeSelection State = "mode_selection"
	StateConfirming    State = "confirming"
	StateRunning       State = "running"
	StateCancelling    State = "cancelling"
	StateComplete      State = "complete"
)

// Processor runs one guarded session recompute.
type Processor interface {
	Process(ctx context.Context, req processor.Request) (processor.Result, error)
	HasAICredential() bool
}

// Lister enumerates every known session.
type Lister interface {
	ListSessions(ctx context.Context) ([]session.Row, error)
}

// Publisher announces completed runs on the bus.
type Publisher interface {
	Publish(subject string, data any) error
}

// Poster posts a human-readable run summary.
type Poster interface {
	PostMessage(ctx context.Context, text string) (string, error)
}

// Progress is 1-based: Current is the item being processed.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Summary is reported when a run exits, whether it finished or was cancelled.
type Summary struct {
	JobID        uuid.UUID      `json:"job_id"`
	Mode         processor.Mode `json:"mode"`
	Total        int            `json:"total"`
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	Cancelled    bool           `json:"cancelled"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   time.Time      `json:"finished_at"`
}

// Text renders the summary for chat.
func (s Summary) Text() string {
	var sb strings.Builder
	verb := "finished"
	if s.Cancelled {
		verb = "cancelled"
	}
	fmt.Fprintf(&sb, "*Bulk %s run %s*\n", s.Mode, verb)
	fmt.Fprintf(&sb, "Processed %d of %d sessions: %d succeeded, %d failed", s.SuccessCount+s.ErrorCount, s.Total, s.SuccessCount, s.ErrorCount)
	if !s.StartedAt.IsZero() && !s.FinishedAt.IsZero() {
		fmt.Fprintf(&sb, " in %s", s.FinishedAt.Sub(s.StartedAt).Round(time.Second))
	}
	return sb.String()
}

// Snapshot is a point-in-time view of the engine for status surfaces.
type Snapshot struct {
	State        State          `json:"state"`
	JobID        *uuid.UUID     `json:"job_id,omitempty"`
	Mode         processor.Mode `json:"mode,omitempty"`
	Selected     int            `json:"selected"`
	Progress     Progress       `json:"progress"`
	SuccessCount int            `json:"success_count"`
	ErrorCount   int            `json:"error_count"`
	LastSummary  *Summary       `json:"last_summary,omitempty"`
}

type Options struct {
	RateLimit time.Duration
	// Subject for completion announcements. Empty disables publishing.
	Subject   string
	Publisher Publisher
	Poster    Poster
}

// Engine owns the single bulk job. All state transitions go through its mutex;
// the run loop itself is executed by the caller of Run.
type Engine struct {
	proc      Processor
	lister    Lister
	logger    *slog.Logger
	rateLimit time.Duration
	subject   string
	pub       Publisher
	poster    Poster

	// sleep waits d or until the token is cancelled.
	sleep func(d time.Duration, tok *CancellationToken)

	mu        sync.Mutex
	state     State
	jobID     uuid.UUID
	mode      processor.Mode
	selection []string
	token     *CancellationToken
	progress  Progress
	success   int
	failed    int
	last      *Summary
	// running is closed when the latest Run returns.
	running chan struct{}
}

func New(p Processor, l Lister, opts Options, logger *slog.Logger) *Engine {
	rl := opts.RateLimit
	if rl <= 0 {
		rl = DefaultRateLimit
	}
	return &Engine{
		proc:      p,
		lister:    l,
		logger:    logger,
		rateLimit: rl,
		subject:   opts.Subject,
		pub:       opts.Publisher,
		poster:    opts.Poster,
		sleep:     sleepOrCancel,
		state:     StateIdle,
	}
}

func sleepOrCancel(d time.Duration, tok *CancellationToken) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-tok.Done():
	}
}

// Open starts choosing a mode for a new job.
func (e *Engine) Open() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateIdle:
		e.state = StateModeSelection
		return nil
	case StateRunning, StateCancelling:
		return ErrJobActive
	}
	return fmt.Errorf("%w: open from %s", ErrInvalidTransition, e.state)
}

// ChooseMode fixes the mode and moves on to confirmation.
func (e *Engine) ChooseMode(m processor.Mode) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateModeSelection {
		return fmt.Errorf("%w: choose mode from %s", ErrInvalidTransition, e.state)
	}
	e.mode = m
	e.state = StateConfirming
	return nil
}

// Confirm sets an explicit selection of session ids. Duplicates are dropped.
func (e *Engine) Confirm(ids []string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateConfirming {
		return fmt.Errorf("%w: confirm from %s", ErrInvalidTransition, e.state)
	}
	e.selection = dedupe(ids)
	return nil
}

// SelectAll selects every known session for CoreOnly, and every session whose
// assessment is not yet completed for Full. It returns the selection size.
func (e *Engine) SelectAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	if e.state != StateConfirming {
		st := e.state
		e.mu.Unlock()
		return 0, fmt.Errorf("%w: select all from %s", ErrInvalidTransition, st)
	}
	mode := e.mode
	e.mu.Unlock()

	rows, err := e.lister.ListSessions(ctx)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}
	ids := SelectForMode(rows, mode)

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateConfirming {
		return 0, fmt.Errorf("%w: selection abandoned", ErrInvalidTransition)
	}
	e.selection = ids
	return len(ids), nil
}

// SelectForMode applies the "process all" rule to rows.
func SelectForMode(rows []session.Row, m processor.Mode) []string {
	ids := make([]string, 0, len(rows))
	for _, r := range rows {
		if m == processor.ModeFull && r.AssessmentStatus == session.StatusCompleted {
			continue
		}
		ids = append(ids, r.SessionID)
	}
	return dedupe(ids)
}

// Prepare opens, picks the mode and selects in one step. An empty ids slice
// selects all. On failure the engine is returned to idle.
func (e *Engine) Prepare(ctx context.Context, m processor.Mode, ids []string) (int, error) {
	if err := e.Open(); err != nil {
		return 0, err
	}
	if err := e.ChooseMode(m); err != nil {
		e.abandon()
		return 0, err
	}
	if len(ids) > 0 {
		if err := e.Confirm(ids); err != nil {
			e.abandon()
			return 0, err
		}
		return len(dedupe(ids)), nil
	}
	n, err := e.SelectAll(ctx)
	if err != nil {
		e.abandon()
		return 0, err
	}
	return n, nil
}

func (e *Engine) abandon() {
	e.mu.Lock()
	if e.state == StateModeSelection || e.state == StateConfirming {
		e.resetLocked()
	}
	e.mu.Unlock()
}

// Run processes the confirmed selection in order and blocks until the loop
// exits. ctx is handed to each item; cancelling the job goes through Cancel.
func (e *Engine) Run(ctx context.Context) (Summary, error) {
	e.mu.Lock()
	if e.state != StateConfirming {
		st := e.state
		e.mu.Unlock()
		if st == StateRunning || st == StateCancelling {
			return Summary{}, ErrJobActive
		}
		return Summary{}, fmt.Errorf("%w: run from %s", ErrInvalidTransition, st)
	}
	e.jobID = uuid.New()
	e.token = NewCancellationToken()
	e.state = StateRunning
	e.success, e.failed = 0, 0
	items := append([]string(nil), e.selection...)
	e.progress = Progress{Total: len(items)}
	mode := e.mode
	tok := e.token
	sum := Summary{JobID: e.jobID, Mode: mode, Total: len(items), StartedAt: time.Now().UTC()}
	done := make(chan struct{})
	e.running = done
	e.mu.Unlock()
	defer close(done)

	// The credential decides pacing for the whole run.
	throttle := mode == processor.ModeFull && e.proc.HasAICredential()

	e.logger.Info("bulk run started", "job_id", sum.JobID, "mode", mode, "total", len(items), "throttled", throttle)

	n := len(items)
	for i, id := range items {
		if tok.Cancelled() {
			sum.Cancelled = true
			break
		}

		e.mu.Lock()
		e.progress = Progress{Current: i + 1, Total: n}
		e.mu.Unlock()

		_, err := e.proc.Process(ctx, processor.Request{SessionID: id, Mode: mode, Trigger: processor.TriggerBulk})

		e.mu.Lock()
		if err != nil {
			e.failed++
		} else {
			e.success++
		}
		e.mu.Unlock()

		if err != nil {
			e.logger.Warn("bulk item failed", "job_id", sum.JobID, "session_id", id, "error", err)
		}

		if throttle && i < n-1 {
			e.sleep(e.rateLimit, tok)
		}
	}
	if tok.Cancelled() {
		sum.Cancelled = true
	}

	e.mu.Lock()
	sum.SuccessCount = e.success
	sum.ErrorCount = e.failed
	sum.FinishedAt = time.Now().UTC()
	e.last = &sum
	e.selection = nil
	e.state = StateComplete
	e.mu.Unlock()

	e.logger.Info("bulk run finished",
		"job_id", sum.JobID,
		"mode", mode,
		"success", sum.SuccessCount,
		"errors", sum.ErrorCount,
		"cancelled", sum.Cancelled,
	)
	e.report(ctx, sum)
	return sum, nil
}

// Cancel asks a running job to stop after the in-flight item. Before the run
// starts it abandons the dialog instead.
func (e *Engine) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case StateRunning:
		e.token.Cancel()
		e.state = StateCancelling
		e.logger.Info("bulk run cancelling", "job_id", e.jobID)
		return nil
	case StateCancelling:
		return nil
	case StateModeSelection, StateConfirming:
		e.resetLocked()
		return nil
	}
	return fmt.Errorf("%w: cancel from %s", ErrInvalidTransition, e.state)
}

// Wait blocks until the latest Run, if any, has returned.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.running
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Acknowledge dismisses a completed job's summary.
func (e *Engine) Acknowledge() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateComplete {
		return fmt.Errorf("%w: acknowledge from %s", ErrInvalidTransition, e.state)
	}
	e.resetLocked()
	return nil
}

func (e *Engine) resetLocked() {
	e.state = StateIdle
	e.mode = ""
	e.selection = nil
	e.token = nil
	e.progress = Progress{}
	e.success, e.failed = 0, 0
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := Snapshot{
		State:        e.state,
		Mode:         e.mode,
		Selected:     len(e.selection),
		Progress:     e.progress,
		SuccessCount: e.success,
		ErrorCount:   e.failed,
		LastSummary:  e.last,
	}
	if e.state == StateRunning || e.state == StateCancelling || e.state == StateComplete {
		id := e.jobID
		s.JobID = &id
		s.Selected = e.progress.Total
	}
	return s
}

func (e *Engine) report(ctx context.Context, sum Summary) {
	if e.pub != nil && e.subject != "" {
		if err := e.pub.Publish(e.subject, sum); err != nil {
			e.logger.Warn("failed to publish bulk summary", "job_id", sum.JobID, "error", err)
		}
	}
	if e.poster != nil {
		if _, err := e.poster.PostMessage(context.WithoutCancel(ctx), sum.Text()); err != nil {
			e.logger.Warn("failed to post bulk summary", "job_id", sum.JobID, "error", err)
		}
	}
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
