package hermes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
)

// Subjects consumed and produced by tempo.
const (
	SubjectSessionDetected  = "tempo.session.detected"
	SubjectSessionUpdated   = "tempo.session.updated"
	SubjectSessionEnded     = "tempo.session.ended"
	SubjectCacheInvalidated = "tempo.cache.invalidated"
	SubjectBulkCompleted    = "tempo.bulk.completed"
	SubjectRegistered       = "tempo.agent.registered"
)

// ReplyError is the error envelope a responder returns instead of a result.
type ReplyError struct {
	Error string `json:"error"`
}

type Client struct {
	conn   *nats.Conn
	subs   []*nats.Subscription
	logger *slog.Logger
}

func NewClient(ctx context.Context, url, token string, logger *slog.Logger) (*Client, error) {
	opts := []nats.Option{
		nats.Name("tempo"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &Client{conn: nc, logger: logger}, nil
}

func (c *Client) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return c.conn.Publish(subject, payload)
}

func (c *Client) Subscribe(subject string, handler func(subject string, data []byte)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("subscribed", "subject", subject)
	return nil
}

// Request sends req as JSON and decodes the reply into resp. A reply of the
// form {"error": "..."} is returned as an error. resp may be nil when the
// caller only needs the acknowledgement.
func (c *Client) Request(ctx context.Context, subject string, req, resp any) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	msg, err := c.conn.RequestWithContext(ctx, subject, payload)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return fmt.Errorf("request %s: no responders", subject)
		}
		return fmt.Errorf("request %s: %w", subject, err)
	}

	var replyErr ReplyError
	if json.Unmarshal(msg.Data, &replyErr) == nil && replyErr.Error != "" {
		return fmt.Errorf("%s: %s", subject, replyErr.Error)
	}

	if resp == nil {
		return nil
	}
	if err := json.Unmarshal(msg.Data, resp); err != nil {
		return fmt.Errorf("decode reply from %s: %w", subject, err)
	}
	return nil
}

// Respond registers a request handler. The handler's result is sent back as
// JSON; a returned error is sent as a ReplyError.
func (c *Client) Respond(subject string, handler func(data []byte) (any, error)) error {
	sub, err := c.conn.Subscribe(subject, func(msg *nats.Msg) {
		result, err := handler(msg.Data)
		var reply any = result
		if err != nil {
			reply = ReplyError{Error: err.Error()}
		}
		payload, merr := json.Marshal(reply)
		if merr != nil {
			c.logger.Error("failed to marshal reply", "subject", msg.Subject, "error", merr)
			return
		}
		if rerr := msg.Respond(payload); rerr != nil {
			c.logger.Warn("failed to send reply", "subject", msg.Subject, "error", rerr)
		}
	})
	if err != nil {
		return fmt.Errorf("respond %s: %w", subject, err)
	}
	c.subs = append(c.subs, sub)
	c.logger.Info("responding", "subject", subject)
	return nil
}

func (c *Client) Close() {
	for _, sub := range c.subs {
		_ = sub.Unsubscribe()
	}
	c.conn.Close()
}
