package remotesync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"github.com/MikeSquared-Agency/tempo/internal/session"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

// memBus is an in-process request/reply bus with the same JSON and error
// envelope behaviour as the NATS client.
type memBus struct {
	handlers map[string]func([]byte) (any, error)
}

func newMemBus() *memBus {
	return &memBus{handlers: make(map[string]func([]byte) (any, error))}
}

func (b *memBus) Respond(subject string, h func([]byte) (any, error)) error {
	b.handlers[subject] = h
	return nil
}

func (b *memBus) Request(_ context.Context, subject string, req, resp any) error {
	h, ok := b.handlers[subject]
	if !ok {
		return fmt.Errorf("request %s: no responders", subject)
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	result, err := h(payload)
	if err != nil {
		return fmt.Errorf("%s: %s", subject, err.Error())
	}
	if resp == nil {
		return nil
	}
	out, _ := json.Marshal(result)
	return json.Unmarshal(out, resp)
}

type stubRemote struct {
	provider string
	synced   []session.Info
	resetErr error
}

func (s *stubRemote) ScanHistoricalSessions(_ context.Context, providerID string) ([]session.Info, error) {
	s.provider = providerID
	return []session.Info{{Provider: providerID, SessionID: "a", FileName: "a.jsonl"}, {Provider: providerID, SessionID: "b", FileName: "b.jsonl"}}, nil
}

func (s *stubRemote) SyncHistoricalSessions(_ context.Context, providerID string, sessions []session.Info) error {
	s.provider = providerID
	s.synced = sessions
	return nil
}

func (s *stubRemote) GetSyncProgress(_ context.Context, providerID string) (synctrack.Progress, error) {
	return synctrack.Progress{Phase: synctrack.PhaseUploading, TotalSessions: 2, SyncedSessions: 1, CurrentProvider: providerID}, nil
}

func (s *stubRemote) ResetSyncProgress(context.Context, string) error {
	return s.resetErr
}

func TestClient_RoundTrip(t *testing.T) {
	bus := newMemBus()
	remote := &stubRemote{}
	if err := Serve(bus, remote); err != nil {
		t.Fatalf("serve: %v", err)
	}
	c := NewClient(bus, 0)
	ctx := context.Background()

	found, err := c.ScanHistoricalSessions(ctx, "claude")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(found) != 2 || remote.provider != "claude" {
		t.Fatalf("scan returned %v for provider %q", found, remote.provider)
	}

	if err := c.SyncHistoricalSessions(ctx, "claude", found); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(remote.synced) != 2 || remote.synced[1].SessionID != "b" {
		t.Errorf("remote received %v", remote.synced)
	}

	p, err := c.GetSyncProgress(ctx, "claude")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if p.Phase != synctrack.PhaseUploading || p.SyncedSessions != 1 {
		t.Errorf("progress = %+v", p)
	}
}

func TestClient_ErrorEnvelope(t *testing.T) {
	bus := newMemBus()
	Serve(bus, &stubRemote{resetErr: errors.New("upload in progress")})
	c := NewClient(bus, 0)

	err := c.ResetSyncProgress(context.Background(), "claude")
	if err == nil || !strings.Contains(err.Error(), "upload in progress") {
		t.Errorf("reset error = %v", err)
	}
}

func TestClient_DrivesTracker(t *testing.T) {
	bus := newMemBus()
	Serve(bus, &stubRemote{})
	tr := synctrack.NewTracker("claude", NewClient(bus, 0), slog.Default())
	ctx := context.Background()

	if err := tr.Scan(ctx); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if err := tr.Sync(ctx); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if err := tr.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if got := tr.Snapshot().Phase; got != synctrack.PhaseUploading {
		t.Errorf("phase = %s, want uploading", got)
	}
}

func TestClient_NoResponders(t *testing.T) {
	c := NewClient(newMemBus(), 0)
	if _, err := c.ScanHistoricalSessions(context.Background(), "claude"); err == nil {
		t.Error("expected error without responders")
	}
}
