package synctrack

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/session"
)

// fakeRemote simulates a remote that uploads one session per progress poll.
type fakeRemote struct {
	mu       sync.Mutex
	sessions []session.Info
	queued   []session.Info
	synced   int
	scanErr  error
	syncErr  error
	snapshot *Progress
	resets   int
	// duringScan runs inside the scan call.
	duringScan func()
}

func (f *fakeRemote) ScanHistoricalSessions(_ context.Context, _ string) ([]session.Info, error) {
	if f.duringScan != nil {
		f.duringScan()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return append([]session.Info(nil), f.sessions...), nil
}

func (f *fakeRemote) SyncHistoricalSessions(_ context.Context, _ string, s []session.Info) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.syncErr != nil {
		return f.syncErr
	}
	f.queued = s
	return nil
}

func (f *fakeRemote) GetSyncProgress(_ context.Context, provider string) (Progress, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snapshot != nil {
		return *f.snapshot, nil
	}
	if len(f.queued) == 0 {
		return Progress{Phase: PhaseIdle, CurrentProvider: provider}, nil
	}
	if f.synced < len(f.queued) {
		f.synced++
	}
	p := Progress{
		Phase:           PhaseUploading,
		TotalSessions:   len(f.queued),
		SyncedSessions:  f.synced,
		CurrentProvider: provider,
		CurrentProject:  f.queued[f.synced-1].ProjectName,
	}
	if f.synced == len(f.queued) {
		p.Phase = PhaseComplete
		p.IsComplete = true
	}
	return p, nil
}

func (f *fakeRemote) ResetSyncProgress(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.queued = nil
	f.synced = 0
	return nil
}

func threeSessions() []session.Info {
	return []session.Info{
		{Provider: "claude", ProjectName: "alpha", SessionID: "1", FileName: "1.jsonl", FilePath: "/p/1.jsonl", FileSize: 10},
		{Provider: "claude", ProjectName: "alpha", SessionID: "2", FileName: "2.jsonl", FilePath: "/p/2.jsonl", FileSize: 20},
		{Provider: "claude", ProjectName: "beta", SessionID: "3", FileName: "3.jsonl", FilePath: "/p/3.jsonl", FileSize: 30},
	}
}

func TestTracker_EndToEnd(t *testing.T) {
	remote := &fakeRemote{sessions: threeSessions()}
	tr := NewTracker("claude", remote, slog.Default())
	ctx := context.Background()

	if err := tr.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if s := tr.Snapshot(); s.Phase != PhaseScanned || len(s.SessionsFound) != 3 {
		t.Fatalf("after scan: %+v", s)
	}
	if err := tr.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}

	done := make(chan struct{})
	p := NewPoller(tr, 5*time.Millisecond, slog.Default())
	var once sync.Once
	p.OnTick(func(error) {
		if tr.Snapshot().IsComplete {
			once.Do(func() { close(done) })
		}
	})
	p.Start(ctx)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sync never completed")
	}
	p.Stop()

	s := tr.Snapshot()
	if s.Phase != PhaseComplete || !s.IsComplete {
		t.Errorf("final phase = %s complete=%v", s.Phase, s.IsComplete)
	}
	if s.SyncedSessions != 3 {
		t.Errorf("synced = %d, want 3", s.SyncedSessions)
	}
	if len(s.Errors) != 0 {
		t.Errorf("errors = %v, want none", s.Errors)
	}
}

func TestTracker_PhaseNeverRegresses(t *testing.T) {
	remote := &fakeRemote{snapshot: &Progress{Phase: PhaseUploading, TotalSessions: 3, SyncedSessions: 1}}
	tr := NewTracker("claude", remote, slog.Default())
	ctx := context.Background()

	tr.Refresh(ctx)
	if got := tr.Snapshot().Phase; got != PhaseUploading {
		t.Fatalf("phase = %s, want uploading", got)
	}

	for _, stale := range []Phase{PhaseScanning, PhaseScanned, PhaseIdle, PhaseSyncing, "bogus"} {
		remote.mu.Lock()
		remote.snapshot = &Progress{Phase: stale}
		remote.mu.Unlock()
		tr.Refresh(ctx)
		if got := tr.Snapshot().Phase; got != PhaseUploading {
			t.Errorf("after stale %q snapshot phase = %s, want uploading", stale, got)
		}
	}

	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := tr.Snapshot().Phase; got != PhaseIdle {
		t.Errorf("after reset phase = %s, want idle", got)
	}
}

func TestTracker_SyncRequiresFoundSessions(t *testing.T) {
	remote := &fakeRemote{}
	tr := NewTracker("claude", remote, slog.Default())

	if err := tr.Sync(context.Background()); !errors.Is(err, ErrNothingToSync) {
		t.Fatalf("sync before scan = %v, want ErrNothingToSync", err)
	}

	tr.Scan(context.Background())
	if err := tr.Sync(context.Background()); !errors.Is(err, ErrNothingToSync) {
		t.Errorf("sync after empty scan = %v, want ErrNothingToSync", err)
	}
}

func TestTracker_ScanFailureKeepsPhase(t *testing.T) {
	remote := &fakeRemote{scanErr: errors.New("permission denied")}
	tr := NewTracker("claude", remote, slog.Default())

	if err := tr.Scan(context.Background()); err == nil {
		t.Fatal("expected scan error")
	}
	s := tr.Snapshot()
	if s.Phase != PhaseIdle {
		t.Errorf("phase = %s, want idle", s.Phase)
	}
	if len(s.Errors) != 1 {
		t.Fatalf("errors = %v, want one", s.Errors)
	}

	// Errors survive a refresh.
	tr.Refresh(context.Background())
	if got := tr.Snapshot().Errors; len(got) != 1 {
		t.Errorf("errors after refresh = %v", got)
	}
}

func TestTracker_ScanReportsScanningWhileRunning(t *testing.T) {
	remote := &fakeRemote{sessions: threeSessions()}
	tr := NewTracker("claude", remote, slog.Default())

	var during Phase
	remote.duringScan = func() { during = tr.Snapshot().Phase }

	if err := tr.Scan(context.Background()); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if during != PhaseScanning {
		t.Errorf("phase during scan = %s, want scanning", during)
	}
	if got := tr.Snapshot().Phase; got != PhaseScanned {
		t.Errorf("phase after scan = %s, want scanned", got)
	}

	// A failed rescan returns to the phase it started from.
	remote.duringScan = nil
	remote.scanErr = errors.New("disk gone")
	tr.Scan(context.Background())
	if got := tr.Snapshot().Phase; got != PhaseScanned {
		t.Errorf("phase after failed rescan = %s, want scanned", got)
	}
}

func TestTracker_CompletedRunRequiresReset(t *testing.T) {
	remote := &fakeRemote{sessions: threeSessions()}
	tr := NewTracker("claude", remote, slog.Default())
	ctx := context.Background()

	tr.Scan(ctx)
	tr.Sync(ctx)
	for i := 0; i < 3; i++ {
		tr.Refresh(ctx)
	}
	if !tr.Snapshot().IsComplete {
		t.Fatalf("expected completion: %+v", tr.Snapshot())
	}

	remote.mu.Lock()
	remote.sessions = threeSessions()[:2]
	remote.mu.Unlock()

	if err := tr.Scan(ctx); !errors.Is(err, ErrResetRequired) {
		t.Errorf("scan after complete = %v, want ErrResetRequired", err)
	}
	if err := tr.Sync(ctx); !errors.Is(err, ErrResetRequired) {
		t.Errorf("sync after complete = %v, want ErrResetRequired", err)
	}
	s := tr.Snapshot()
	if s.SyncedSessions != 3 || s.TotalSessions != 3 {
		t.Errorf("completed run should be untouched: synced=%d total=%d", s.SyncedSessions, s.TotalSessions)
	}

	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := tr.Scan(ctx); err != nil {
		t.Fatalf("scan after reset: %v", err)
	}
	if err := tr.Sync(ctx); err != nil {
		t.Fatalf("sync after reset: %v", err)
	}
	tr.Refresh(ctx)
	s = tr.Snapshot()
	if s.IsComplete || s.Phase != PhaseUploading {
		t.Errorf("new run: phase=%s complete=%v", s.Phase, s.IsComplete)
	}
	if s.SyncedSessions != 1 || s.TotalSessions != 2 {
		t.Errorf("new run: synced=%d total=%d, want 1/2", s.SyncedSessions, s.TotalSessions)
	}
}

func TestTracker_SyncFailureIsRetryable(t *testing.T) {
	remote := &fakeRemote{sessions: threeSessions(), syncErr: errors.New("upstream 503")}
	tr := NewTracker("claude", remote, slog.Default())
	ctx := context.Background()

	tr.Scan(ctx)
	if err := tr.Sync(ctx); err == nil {
		t.Fatal("expected sync error")
	}
	if got := tr.Snapshot().Phase; got != PhaseScanned {
		t.Errorf("phase after failed sync = %s, want scanned", got)
	}

	remote.mu.Lock()
	remote.syncErr = nil
	remote.mu.Unlock()
	if err := tr.Sync(ctx); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if got := tr.Snapshot().Phase; got != PhaseSyncing {
		t.Errorf("phase after retry = %s, want syncing", got)
	}

	if err := tr.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if s := tr.Snapshot(); len(s.Errors) != 0 || len(s.SessionsFound) != 0 {
		t.Errorf("reset should discard errors and findings: %+v", s)
	}
}

func TestSet_OneTrackerPerProvider(t *testing.T) {
	s := NewSet(&fakeRemote{}, slog.Default())

	a := s.Get("claude")
	if s.Get("claude") != a {
		t.Error("expected the same tracker for the same provider")
	}
	if s.Get("codex") == a {
		t.Error("expected a distinct tracker per provider")
	}
	if len(s.All()) != 2 {
		t.Errorf("all = %d, want 2", len(s.All()))
	}
}
