package console

import (
	"context"
	"sync"
	"time"

	"github.com/hochfrequenz/orch-console/internal/clock"
)

// DefaultPollInterval is how often the Poller asks for a reconcile
const DefaultPollInterval = 8 * time.Second

// Poller asks for a reconcile on a fixed interval regardless of the
// push channel's health, so a missed invalidation heals on its own.
type Poller struct {
	interval time.Duration
	clock    clock.Clock

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPoller creates a Poller. A non-positive interval uses
// DefaultPollInterval.
func NewPoller(interval time.Duration, clk clock.Clock) *Poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Poller{interval: interval, clock: clk}
}

// Interval returns the polling cadence
func (p *Poller) Interval() time.Duration { return p.interval }

// Start calls tick every interval until Stop. A running Poller is
// stopped first.
func (p *Poller) Start(ctx context.Context, tick func()) {
	p.Stop()

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	ticker := p.clock.NewTicker(p.interval)

	p.mu.Lock()
	p.cancel, p.done = cancel, done
	p.mu.Unlock()

	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// Stop ends polling and waits for the goroutine to exit
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
