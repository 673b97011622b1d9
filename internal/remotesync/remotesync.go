// Package remotesync carries sync tracker calls over NATS request/reply so
// the upload agent can run in another process.
package remotesync

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/tempo/internal/session"
	"github.com/MikeSquared-Agency/tempo/internal/synctrack"
)

const (
	SubjectScan     = "tempo.sync.scan"
	SubjectSync     = "tempo.sync.sync"
	SubjectProgress = "tempo.sync.progress"
	SubjectReset    = "tempo.sync.reset"
)

// DefaultTimeout bounds each request when the caller's context has no deadline.
const DefaultTimeout = 30 * time.Second

// Requester sends a JSON request and decodes the JSON reply.
type Requester interface {
	Request(ctx context.Context, subject string, req, resp any) error
}

// Responder registers a handler for JSON requests.
type Responder interface {
	Respond(subject string, handler func(data []byte) (any, error)) error
}

type ProviderRequest struct {
	ProviderID string `json:"provider_id"`
}

type SyncRequest struct {
	ProviderID string         `json:"provider_id"`
	Sessions   []session.Info `json:"sessions"`
}

type ScanReply struct {
	Sessions []session.Info `json:"sessions"`
}

type Ack struct {
	OK bool `json:"ok"`
}

// Client implements synctrack.Remote over a Requester.
type Client struct {
	bus     Requester
	timeout time.Duration
}

func NewClient(bus Requester, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{bus: bus, timeout: timeout}
}

var _ synctrack.Remote = (*Client)(nil)

func (c *Client) ScanHistoricalSessions(ctx context.Context, providerID string) ([]session.Info, error) {
	var reply ScanReply
	if err := c.call(ctx, SubjectScan, ProviderRequest{ProviderID: providerID}, &reply); err != nil {
		return nil, err
	}
	return reply.Sessions, nil
}

func (c *Client) SyncHistoricalSessions(ctx context.Context, providerID string, sessions []session.Info) error {
	return c.call(ctx, SubjectSync, SyncRequest{ProviderID: providerID, Sessions: sessions}, nil)
}

func (c *Client) GetSyncProgress(ctx context.Context, providerID string) (synctrack.Progress, error) {
	var p synctrack.Progress
	if err := c.call(ctx, SubjectProgress, ProviderRequest{ProviderID: providerID}, &p); err != nil {
		return synctrack.Progress{}, err
	}
	return p, nil
}

func (c *Client) ResetSyncProgress(ctx context.Context, providerID string) error {
	return c.call(ctx, SubjectReset, ProviderRequest{ProviderID: providerID}, nil)
}

func (c *Client) call(ctx context.Context, subject string, req, resp any) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	return c.bus.Request(ctx, subject, req, resp)
}

// Serve exposes remote on the bus. It is the agent-side counterpart of Client.
func Serve(bus Responder, remote synctrack.Remote) error {
	handlers := map[string]func(ctx context.Context, data []byte) (any, error){
		SubjectScan: func(ctx context.Context, data []byte) (any, error) {
			var req ProviderRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			found, err := remote.ScanHistoricalSessions(ctx, req.ProviderID)
			if err != nil {
				return nil, err
			}
			return ScanReply{Sessions: found}, nil
		},
		SubjectSync: func(ctx context.Context, data []byte) (any, error) {
			var req SyncRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			if err := remote.SyncHistoricalSessions(ctx, req.ProviderID, req.Sessions); err != nil {
				return nil, err
			}
			return Ack{OK: true}, nil
		},
		SubjectProgress: func(ctx context.Context, data []byte) (any, error) {
			var req ProviderRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			return remote.GetSyncProgress(ctx, req.ProviderID)
		},
		SubjectReset: func(ctx context.Context, data []byte) (any, error) {
			var req ProviderRequest
			if err := decode(data, &req); err != nil {
				return nil, err
			}
			if err := remote.ResetSyncProgress(ctx, req.ProviderID); err != nil {
				return nil, err
			}
			return Ack{OK: true}, nil
		},
	}

	for subject, h := range handlers {
		err := bus.Respond(subject, func(data []byte) (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), DefaultTimeout)
			defer cancel()
			return h(ctx, data)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode request: %w", err)
	}
	return nil
}
