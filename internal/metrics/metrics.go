// Package metrics computes the cheap per-session statistics that are
// refreshed on every debounced update.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/store"
	"github.com/MikeSquared-Agency/tempo/internal/transcript"
)

// DefaultIdleGap is the longest pause between messages still counted as active time.
const DefaultIdleGap = 5 * time.Minute

// Writer persists computed metrics, overwriting previous values.
type Writer interface {
	UpsertCoreMetrics(ctx context.Context, m store.CoreMetrics) error
}

type Computer struct {
	w       Writer
	idleGap time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

func New(w Writer, logger *slog.Logger) *Computer {
	return &Computer{w: w, idleGap: DefaultIdleGap, logger: logger, now: time.Now}
}

// Compute derives metrics from raw transcript content without storing them.
func (c *Computer) Compute(sessionID, provider, content string) (store.CoreMetrics, error) {
	tr, err := transcript.ParseString(content)
	if err != nil {
		return store.CoreMetrics{}, fmt.Errorf("parse transcript: %w", err)
	}

	m := store.CoreMetrics{
		SessionID:    sessionID,
		Provider:     provider,
		MessageCount: len(tr.Messages),
		ToolCalls:    tr.ToolCalls,
		ContentBytes: int64(len(content)),
		ComputedAt:   c.now().UTC(),
	}
	for _, msg := range tr.Messages {
		switch msg.Role {
		case "user":
			m.UserMessages++
		case "assistant":
			m.AssistantMessages++
		}
	}

	first, last := tr.Span()
	if !first.IsZero() {
		m.FirstMessageAt = &first
		m.LastMessageAt = &last
	}
	m.ActiveMs = activeTime(tr.Messages, c.idleGap).Milliseconds()

	if tr.Malformed > 0 {
		c.logger.Debug("transcript has malformed lines", "session_id", sessionID, "malformed", tr.Malformed)
	}
	return m, nil
}

// ComputeCoreMetrics computes and stores metrics for one session.
func (c *Computer) ComputeCoreMetrics(ctx context.Context, sessionID, provider, content string) error {
	m, err := c.Compute(sessionID, provider, content)
	if err != nil {
		return err
	}
	if err := c.w.UpsertCoreMetrics(ctx, m); err != nil {
		return fmt.Errorf("store core metrics: %w", err)
	}

	c.logger.Debug("core metrics stored",
		"session_id", sessionID,
		"messages", m.MessageCount,
		"tool_calls", m.ToolCalls,
		"active_ms", m.ActiveMs,
	)
	return nil
}

// activeTime sums gaps between consecutive timestamped messages, ignoring
// gaps longer than idle.
func activeTime(msgs []transcript.Message, idle time.Duration) time.Duration {
	var total time.Duration
	var prev time.Time
	for _, m := range msgs {
		if m.Timestamp.IsZero() {
			continue
		}
		if !prev.IsZero() {
			if gap := m.Timestamp.Sub(prev); gap > 0 && gap <= idle {
				total += gap
			}
		}
		prev = m.Timestamp
	}
	return total
}
