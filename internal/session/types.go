package session

import (
	"errors"
	"time"
)

// Status is the processing state of one stage of a session record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Ref is the stable identity of one unit of work. Immutable once created.
type Ref struct {
	SessionID string `json:"session_id"`
	Provider  string `json:"provider"`
	FilePath  string `json:"file_path"`
}

// DetectedEvent is published by the watcher when it first sees a session file.
type DetectedEvent struct {
	Provider         string     `json:"provider"`
	ProjectName      string     `json:"project_name"`
	SessionID        string     `json:"session_id"`
	FileName         string     `json:"file_name"`
	FilePath         string     `json:"file_path"`
	FileSize         int64      `json:"file_size"`
	SessionStartTime *time.Time `json:"session_start_time,omitempty"`
	SessionEndTime   *time.Time `json:"session_end_time,omitempty"`
	DurationMs       *int64     `json:"duration_ms,omitempty"`
}

// Ref returns the identity carried by the event.
func (e DetectedEvent) Ref() Ref {
	return Ref{SessionID: e.SessionID, Provider: e.Provider, FilePath: e.FilePath}
}

// UpdatedEvent is published every time a session's transcript changes.
type UpdatedEvent struct {
	SessionID string `json:"session_id"`
}

// EndedEvent is published when the watcher sees an explicit end marker.
type EndedEvent struct {
	SessionID string    `json:"session_id"`
	EndedAt   time.Time `json:"ended_at"`
}

// Row is the subset of a stored session the orchestrator needs to schedule work.
type Row struct {
	SessionID         string
	Provider          string
	FilePath          string
	CoreMetricsStatus Status
	AssessmentStatus  Status
	EndedAt           *time.Time
}

// Ended reports whether the session has been marked as finished.
func (r *Row) Ended() bool {
	return r.EndedAt != nil && !r.EndedAt.IsZero()
}

// Info is a discovered-but-not-yet-synced historical session.
type Info struct {
	Provider         string     `json:"provider"`
	ProjectName      string     `json:"project_name"`
	SessionID        string     `json:"session_id"`
	FilePath         string     `json:"file_path"`
	FileName         string     `json:"file_name"`
	FileSize         int64      `json:"file_size"`
	SessionStartTime *time.Time `json:"session_start_time,omitempty"`
}

var (
	// ErrNotFound is returned by stores when no row matches a session id.
	ErrNotFound = errors.New("session not found")
	// ErrDuplicate is returned by stores that lose an insert race on (session_id, file_name).
	ErrDuplicate = errors.New("session already recorded")
)
