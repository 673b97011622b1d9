// Package localsync uploads a provider's historical session files from local
// disk into the session store. It is the agent side of the sync trackers and
// is usually exposed over the bus with remotesync.Serve.
package localsync

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/MikeSquared-Agency/tempo/internal/config"
	"github.com/MikeSquared-Agency/tempo/internal/ingest"
	"github.com/MikeSquared-Agency/tempo/internal/session"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

var (
	ErrUnknownProvider = errors.New("no history directory configured for provider")
	// ErrBusy is returned by Sync while an upload for the provider is running.
	ErrBusy = errors.New("sync already running")
)

// Uploader records one historical session.
type Uploader interface {
	Ingest(ctx context.Context, evt session.DetectedEvent) ingest.Outcome
}

type job struct {
	cancel  context.CancelFunc
	done    chan struct{}
	project string
}

type Agent struct {
	roots    map[string]string
	stateDir string
	up       Uploader
	logger   *slog.Logger

	mu     sync.Mutex
	states map[string]*State
	jobs   map[string]*job
}

var _ synctrack.Remote = (*Agent)(nil)

// New creates an agent over roots, which maps provider ids to history
// directories. Per-provider state files live in stateDir.
func New(roots map[string]string, stateDir string, up Uploader, logger *slog.Logger) *Agent {
	return &Agent{
		roots:    roots,
		stateDir: config.ExpandHome(stateDir),
		up:       up,
		logger:   logger,
		states:   make(map[string]*State),
		jobs:     make(map[string]*job),
	}
}

// ScanHistoricalSessions lists the provider's .jsonl files that no earlier
// run has synced, ordered by path.
func (a *Agent) ScanHistoricalSessions(_ context.Context, providerID string) ([]session.Info, error) {
	root, err := a.root(providerID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	st, err := a.stateLocked(providerID)
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}

	var found []session.Info
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			a.logger.Debug("skipping unreadable path", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".jsonl") {
			return nil
		}
		a.mu.Lock()
		done := st.IsSynced(path)
		a.mu.Unlock()
		if done {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		found = append(found, session.Info{
			Provider:    providerID,
			ProjectName: filepath.Base(filepath.Dir(path)),
			SessionID:   strings.TrimSuffix(d.Name(), ".jsonl"),
			FilePath:    path,
			FileName:    d.Name(),
			FileSize:    info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}

	sort.Slice(found, func(i, j int) bool { return found[i].FilePath < found[j].FilePath })
	a.logger.Info("history scanned", "provider", providerID, "root", root, "found", len(found))
	return found, nil
}

// SyncHistoricalSessions starts uploading sessions in the background and
// returns once the run is queued.
func (a *Agent) SyncHistoricalSessions(_ context.Context, providerID string, sessions []session.Info) error {
	if _, err := a.root(providerID); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.jobs[providerID]; ok {
		return ErrBusy
	}
	st, err := a.stateLocked(providerID)
	if err != nil {
		return err
	}
	st.Begin(len(sessions))
	if err := st.Save(); err != nil {
		a.logger.Warn("failed to save sync state", "provider", providerID, "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &job{cancel: cancel, done: make(chan struct{})}
	a.jobs[providerID] = j
	go a.upload(ctx, providerID, st, j, append([]session.Info(nil), sessions...))

	a.logger.Info("history sync started", "provider", providerID, "sessions", len(sessions))
	return nil
}

func (a *Agent) upload(ctx context.Context, providerID string, st *State, j *job, sessions []session.Info) {
	defer close(j.done)

	for _, s := range sessions {
		if ctx.Err() != nil {
			a.logger.Info("history sync cancelled", "provider", providerID)
			return
		}

		a.mu.Lock()
		j.project = s.ProjectName
		a.mu.Unlock()

		out := a.up.Ingest(ctx, session.DetectedEvent{
			Provider:         providerID,
			ProjectName:      s.ProjectName,
			SessionID:        s.SessionID,
			FileName:         s.FileName,
			FilePath:         s.FilePath,
			FileSize:         s.FileSize,
			SessionStartTime: s.SessionStartTime,
		})

		a.mu.Lock()
		switch out {
		case ingest.OutcomeInserted, ingest.OutcomeDuplicate:
			st.MarkSynced(s.FilePath)
		default:
			st.AddError(fmt.Sprintf("%s: %s", s.FileName, out))
		}
		if err := st.Save(); err != nil {
			a.logger.Warn("failed to save sync state", "provider", providerID, "error", err)
		}
		a.mu.Unlock()
	}

	a.mu.Lock()
	st.Complete = true
	if err := st.Save(); err != nil {
		a.logger.Warn("failed to save sync state", "provider", providerID, "error", err)
	}
	delete(a.jobs, providerID)
	a.mu.Unlock()

	a.logger.Info("history sync complete", "provider", providerID, "synced", st.Synced, "errors", len(st.Errors))
}

func (a *Agent) GetSyncProgress(_ context.Context, providerID string) (synctrack.Progress, error) {
	if _, err := a.root(providerID); err != nil {
		return synctrack.Progress{}, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st, err := a.stateLocked(providerID)
	if err != nil {
		return synctrack.Progress{}, err
	}

	p := synctrack.Progress{
		Phase:           synctrack.PhaseIdle,
		TotalSessions:   st.Queued,
		SyncedSessions:  st.Synced,
		CurrentProvider: providerID,
		Errors:          append([]string(nil), st.Errors...),
	}
	j, running := a.jobs[providerID]
	switch {
	case st.Complete:
		p.Phase = synctrack.PhaseComplete
		p.IsComplete = true
	case running:
		p.Phase = synctrack.PhaseUploading
		p.CurrentProject = j.project
	case st.Queued > 0:
		// Interrupted by a restart. A new Sync resumes it.
		p.Phase = synctrack.PhaseSyncing
	}
	return p, nil
}

// ResetSyncProgress stops any running upload and forgets which files were synced.
func (a *Agent) ResetSyncProgress(_ context.Context, providerID string) error {
	if _, err := a.root(providerID); err != nil {
		return err
	}

	a.mu.Lock()
	j := a.jobs[providerID]
	a.mu.Unlock()
	if j != nil {
		j.cancel()
		<-j.done
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.jobs, providerID)

	st, err := a.stateLocked(providerID)
	if err != nil {
		return err
	}
	if err := st.Clear(); err != nil {
		return err
	}
	a.logger.Info("history sync reset", "provider", providerID)
	return nil
}

// Close cancels running uploads and waits for them.
func (a *Agent) Close() {
	a.mu.Lock()
	jobs := make([]*job, 0, len(a.jobs))
	for _, j := range a.jobs {
		jobs = append(jobs, j)
	}
	a.mu.Unlock()

	for _, j := range jobs {
		j.cancel()
		<-j.done
	}
}

func (a *Agent) root(providerID string) (string, error) {
	dir, ok := a.roots[providerID]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, providerID)
	}
	dir = config.ExpandHome(dir)
	info, err := os.Stat(dir)
	if err != nil {
		return "", fmt.Errorf("history dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("history dir %s is not a directory", dir)
	}
	return dir, nil
}

func (a *Agent) stateLocked(providerID string) (*State, error) {
	if st, ok := a.states[providerID]; ok {
		return st, nil
	}
	st, err := LoadState(a.stateDir, providerID)
	if err != nil {
		return nil, err
	}
	a.states[providerID] = st
	return st, nil
}
