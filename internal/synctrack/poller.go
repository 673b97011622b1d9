package synctrack

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// DefaultPollInterval is how often a running poller refreshes.
const DefaultPollInterval = time.Second

// Refresher is anything the poller can refresh.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Poller refreshes a tracker on a fixed interval between Start and Stop,
// whatever the tracked phase.
type Poller struct {
	target   Refresher
	interval time.Duration
	logger   *slog.Logger
	// onTick runs after every refresh attempt.
	onTick func(err error)

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewPoller(target Refresher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Poller{target: target, interval: interval, logger: logger}
}

// OnTick registers fn to run after every refresh. Call before Start.
func (p *Poller) OnTick(fn func(err error)) {
	p.onTick = fn
}

// Start begins polling. A second Start while running is a no-op.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.loop(ctx, p.done)
}

// Stop halts polling and waits for the loop to exit.
func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the poller is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := p.target.Refresh(ctx)
			if err != nil && ctx.Err() == nil {
				p.logger.Warn("sync progress refresh failed", "error", err)
			}
			if p.onTick != nil {
				p.onTick(err)
			}
		}
	}
}
