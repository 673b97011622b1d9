// Package ingest records newly detected sessions exactly once per
// (session_id, file_name) pair.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/tempo/internal/session"
)

// Store is the slice of the record store the ingestor needs.
type Store interface {
	FindExisting(ctx context.Context, sessionID, fileName string) (bool, error)
	InsertSession(ctx context.Context, evt session.DetectedEvent) (uuid.UUID, error)
	MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) error
}

// Outcome reports what Ingest did with an event.
type Outcome string

const (
	OutcomeInserted  Outcome = "inserted"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
	OutcomeFailed    Outcome = "failed"
)

type Ingestor struct {
	store  Store
	logger *slog.Logger
}

func New(s Store, logger *slog.Logger) *Ingestor {
	return &Ingestor{store: s, logger: logger}
}

// Ingest records evt unless a row for its (session_id, file_name) already
// exists. Failures are logged and never returned; the watcher re-emits on
// the next scan.
func (i *Ingestor) Ingest(ctx context.Context, evt session.DetectedEvent) Outcome {
	if evt.SessionID == "" || evt.FileName == "" {
		i.logger.Warn("rejecting detected event without identity",
			"session_id", evt.SessionID,
			"file_name", evt.FileName,
		)
		return OutcomeRejected
	}

	exists, err := i.store.FindExisting(ctx, evt.SessionID, evt.FileName)
	if err != nil {
		i.logger.Error("existence check failed", "session_id", evt.SessionID, "error", err)
		return OutcomeFailed
	}
	if exists {
		i.logger.Debug("session already recorded", "session_id", evt.SessionID, "file_name", evt.FileName)
		return OutcomeDuplicate
	}

	id, err := i.store.InsertSession(ctx, evt)
	if errors.Is(err, session.ErrDuplicate) {
		return OutcomeDuplicate
	}
	if err != nil {
		i.logger.Error("failed to record session", "session_id", evt.SessionID, "error", err)
		return OutcomeFailed
	}

	i.logger.Info("session recorded",
		"id", id,
		"session_id", evt.SessionID,
		"provider", evt.Provider,
		"project", evt.ProjectName,
	)
	return OutcomeInserted
}

// HandleSessionDetected is the NATS handler for tempo.session.detected.
func (i *Ingestor) HandleSessionDetected(subject string, data []byte) {
	var evt session.DetectedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		i.logger.Error("failed to parse detected event", "subject", subject, "error", err)
		return
	}
	i.Ingest(context.Background(), evt)
}

// HandleSessionEnded is the NATS handler for tempo.session.ended.
func (i *Ingestor) HandleSessionEnded(subject string, data []byte) {
	var evt session.EndedEvent
	if err := json.Unmarshal(data, &evt); err != nil {
		i.logger.Error("failed to parse ended event", "subject", subject, "error", err)
		return
	}
	if evt.SessionID == "" {
		i.logger.Warn("rejecting ended event without session id")
		return
	}
	if evt.EndedAt.IsZero() {
		evt.EndedAt = time.Now().UTC()
	}

	err := i.store.MarkSessionEnded(context.Background(), evt.SessionID, evt.EndedAt)
	if errors.Is(err, session.ErrNotFound) {
		i.logger.Warn("ended event for unknown session", "session_id", evt.SessionID)
		return
	}
	if err != nil {
		i.logger.Error("failed to mark session ended", "session_id", evt.SessionID, "error", err)
		return
	}
	i.logger.Info("session ended", "session_id", evt.SessionID, "ended_at", evt.EndedAt)
}
