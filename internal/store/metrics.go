package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/tempo/internal/session"
)

// CoreMetrics are the cheap, always-recomputable statistics of a session.
type CoreMetrics struct {
	SessionID         string     `json:"session_id"`
	Provider          string     `json:"provider"`
	MessageCount      int        `json:"message_count"`
	UserMessages      int        `json:"user_messages"`
	AssistantMessages int        `json:"assistant_messages"`
	ToolCalls         int        `json:"tool_calls"`
	ContentBytes      int64      `json:"content_bytes"`
	FirstMessageAt    *time.Time `json:"first_message_at,omitempty"`
	LastMessageAt     *time.Time `json:"last_message_at,omitempty"`
	ActiveMs          int64      `json:"active_ms"`
	ComputedAt        time.Time  `json:"computed_at"`
}

// Summary is the AI-generated assessment of a session.
type Summary struct {
	SessionID string    `json:"session_id"`
	Model     string    `json:"model"`
	Text      string    `json:"summary"`
	CreatedAt time.Time `json:"created_at"`
}

// Detail is the read model served to clients for one session.
type Detail struct {
	SessionID         string         `json:"session_id"`
	Provider          string         `json:"provider"`
	FilePath          string         `json:"file_path"`
	CoreMetricsStatus session.Status `json:"core_metrics_status"`
	AssessmentStatus  session.Status `json:"assessment_status"`
	EndedAt           *time.Time     `json:"ended_at,omitempty"`
	Metrics           *CoreMetrics   `json:"metrics,omitempty"`
	Summary           *Summary       `json:"summary,omitempty"`
}

// UpsertCoreMetrics overwrites the metrics for a session.
func (s *Store) UpsertCoreMetrics(ctx context.Context, m CoreMetrics) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_core_metrics (session_id, provider, message_count, user_messages, assistant_messages,
			tool_calls, content_bytes, first_message_at, last_message_at, active_ms, computed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (session_id)
		DO UPDATE SET
			provider = $2,
			message_count = $3,
			user_messages = $4,
			assistant_messages = $5,
			tool_calls = $6,
			content_bytes = $7,
			first_message_at = $8,
			last_message_at = $9,
			active_ms = $10,
			computed_at = now()`,
		m.SessionID, m.Provider, m.MessageCount, m.UserMessages, m.AssistantMessages,
		m.ToolCalls, m.ContentBytes, m.FirstMessageAt, m.LastMessageAt, m.ActiveMs,
	)
	if err != nil {
		return fmt.Errorf("upsert core metrics: %w", err)
	}
	return nil
}

// UpsertSummary overwrites the AI summary for a session.
func (s *Store) UpsertSummary(ctx context.Context, sessionID, model, text string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO session_summaries (session_id, model, summary, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id)
		DO UPDATE SET model = $2, summary = $3, created_at = now()`,
		sessionID, model, text,
	)
	if err != nil {
		return fmt.Errorf("upsert summary: %w", err)
	}
	return nil
}

// GetSessionDetail loads a session with its metrics and summary, if any.
func (s *Store) GetSessionDetail(ctx context.Context, sessionID string) (*Detail, error) {
	row, err := s.GetSessionRow(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	d := &Detail{
		SessionID:         row.SessionID,
		Provider:          row.Provider,
		FilePath:          row.FilePath,
		CoreMetricsStatus: row.CoreMetricsStatus,
		AssessmentStatus:  row.AssessmentStatus,
		EndedAt:           row.EndedAt,
	}

	var m CoreMetrics
	err = s.pool.QueryRow(ctx, `
		SELECT session_id, provider, message_count, user_messages, assistant_messages, tool_calls,
			content_bytes, first_message_at, last_message_at, active_ms, computed_at
		FROM session_core_metrics WHERE session_id = $1`, sessionID,
	).Scan(&m.SessionID, &m.Provider, &m.MessageCount, &m.UserMessages, &m.AssistantMessages, &m.ToolCalls,
		&m.ContentBytes, &m.FirstMessageAt, &m.LastMessageAt, &m.ActiveMs, &m.ComputedAt)
	switch {
	case err == nil:
		d.Metrics = &m
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get core metrics: %w", err)
	}

	var sum Summary
	err = s.pool.QueryRow(ctx, `
		SELECT session_id, model, summary, created_at
		FROM session_summaries WHERE session_id = $1`, sessionID,
	).Scan(&sum.SessionID, &sum.Model, &sum.Text, &sum.CreatedAt)
	switch {
	case err == nil:
		d.Summary = &sum
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get summary: %w", err)
	}

	return d, nil
}
