package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/MikeSquared-Agency/tempo/internal/session"
)

// FindExisting reports whether a session with this (session_id, file_name)
// pair has already been recorded.
func (s *Store) FindExisting(ctx context.Context, sessionID, fileName string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM agent_sessions WHERE session_id = $1 AND file_name = $2)`,
		sessionID, fileName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("find existing session: %w", err)
	}
	return exists, nil
}

// InsertSession records a newly detected session with pending status.
// Returns ErrDuplicate if the pair was inserted concurrently.
func (s *Store) InsertSession(ctx context.Context, evt session.DetectedEvent) (uuid.UUID, error) {
	id := uuid.New()
	var inserted uuid.UUID
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agent_sessions (id, session_id, provider, project_name, file_name, file_path, file_size,
			session_start_time, session_end_time, duration_ms, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'pending')
		ON CONFLICT (session_id, file_name) DO NOTHING
		RETURNING id`,
		id, evt.SessionID, evt.Provider, evt.ProjectName, evt.FileName, evt.FilePath, evt.FileSize,
		evt.SessionStartTime, evt.SessionEndTime, evt.DurationMs,
	).Scan(&inserted)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, ErrDuplicate
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("insert session: %w", err)
	}
	return inserted, nil
}

// GetSessionRow fetches the scheduling view of a session. When the same
// session id was recorded under several file names the oldest row wins.
func (s *Store) GetSessionRow(ctx context.Context, sessionID string) (*session.Row, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT session_id, provider, file_path, core_metrics_status, assessment_status, ended_at
		FROM agent_sessions
		WHERE session_id = $1
		ORDER BY created_at
		LIMIT 1`, sessionID)

	var r session.Row
	var core, assessment string
	err := row.Scan(&r.SessionID, &r.Provider, &r.FilePath, &core, &assessment, &r.EndedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session row: %w", err)
	}
	r.CoreMetricsStatus = session.Status(core)
	r.AssessmentStatus = session.Status(assessment)
	return &r, nil
}

// ListSessions returns every known session, oldest first.
func (s *Store) ListSessions(ctx context.Context) ([]session.Row, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT session_id, provider, file_path, core_metrics_status, assessment_status, ended_at
		FROM (
			SELECT DISTINCT ON (session_id) *
			FROM agent_sessions
			ORDER BY session_id, created_at
		) first_rows
		ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []session.Row
	for rows.Next() {
		var r session.Row
		var core, assessment string
		if err := rows.Scan(&r.SessionID, &r.Provider, &r.FilePath, &core, &assessment, &r.EndedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		r.CoreMetricsStatus = session.Status(core)
		r.AssessmentStatus = session.Status(assessment)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sessions: %w", err)
	}
	return out, nil
}

// SetCoreMetricsStatus updates the core metrics stage of every row for the session.
func (s *Store) SetCoreMetricsStatus(ctx context.Context, sessionID string, status session.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET core_metrics_status = $1, processing_status = $1, updated_at = now()
		WHERE session_id = $2`,
		string(status), sessionID,
	)
	if err != nil {
		return fmt.Errorf("set core metrics status: %w", err)
	}
	return nil
}

// SetAssessmentStatus updates the AI assessment stage of every row for the session.
func (s *Store) SetAssessmentStatus(ctx context.Context, sessionID string, status session.Status) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET assessment_status = $1, updated_at = now()
		WHERE session_id = $2`,
		string(status), sessionID,
	)
	if err != nil {
		return fmt.Errorf("set assessment status: %w", err)
	}
	return nil
}

// MarkSessionEnded records that the watcher saw the session finish.
func (s *Store) MarkSessionEnded(ctx context.Context, sessionID string, endedAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agent_sessions SET ended_at = $1, updated_at = now()
		WHERE session_id = $2`,
		endedAt, sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session ended: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
