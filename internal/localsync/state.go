package localsync

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// State is the resumable record of one provider's uploads. It survives
// restarts so a rescan only finds files that were never synced.
type State struct {
	Provider     string    `json:"provider"`
	StartedAt    time.Time `json:"started_at"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	SyncedFiles  []string  `json:"synced_files"`
	Queued       int       `json:"queued"`
	Synced       int       `json:"synced"`
	Errors       []string  `json:"errors"`
	Complete     bool      `json:"complete"`

	path   string
	synced map[string]struct{}
}

// LoadState reads the provider's state file under dir, or starts a new one.
func LoadState(dir, provider string) (*State, error) {
	p := filepath.Join(dir, provider+".json")

	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{Provider: provider, path: p, synced: make(map[string]struct{})}, nil
		}
		return nil, fmt.Errorf("read state: %w", err)
	}

	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse state: %w", err)
	}
	s.path = p
	s.synced = make(map[string]struct{}, len(s.SyncedFiles))
	for _, f := range s.SyncedFiles {
		s.synced[f] = struct{}{}
	}
	return &s, nil
}

// Save persists the state to disk.
func (s *State) Save() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	return os.WriteFile(s.path, data, 0o644)
}

// IsSynced reports whether path was uploaded by an earlier run.
func (s *State) IsSynced(path string) bool {
	_, ok := s.synced[path]
	return ok
}

// MarkSynced records path as uploaded.
func (s *State) MarkSynced(path string) {
	if s.IsSynced(path) {
		return
	}
	s.synced[path] = struct{}{}
	s.SyncedFiles = append(s.SyncedFiles, path)
	s.Synced++
	s.LastSyncedAt = time.Now().UTC()
}

func (s *State) AddError(msg string) {
	s.Errors = append(s.Errors, msg)
}

// Begin starts a new upload run of n sessions. Previously synced files are kept.
func (s *State) Begin(n int) {
	s.StartedAt = time.Now().UTC()
	s.Queued = n
	s.Synced = 0
	s.Errors = nil
	s.Complete = false
}

// Clear forgets everything and removes the state file.
func (s *State) Clear() error {
	*s = State{Provider: s.Provider, path: s.path, synced: make(map[string]struct{})}
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}
