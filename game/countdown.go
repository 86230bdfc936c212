package game

import (
	"context"
	"sync"
	"time"

	"github.com/bt-bridge/worldsend-live/shared"
	"go.uber.org/zap"
)

// Countdown ticks the store's turn timer while it runs. onExpire is called
// from the ticking goroutine after a tick reports expiry.
type Countdown struct {
	logger   shared.LoggerAdapter
	store    *Store
	interval time.Duration
	onExpire func()

	mu     sync.Mutex
	cancel context.CancelFunc
}

func NewCountdown(logger shared.LoggerAdapter, store *Store, interval time.Duration, onExpire func()) (*Countdown, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &Countdown{logger: logger, store: store, interval: interval, onExpire: onExpire}, nil
}

// Start is a no-op while already running.
func (c *Countdown) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	go c.run(loopCtx)
	c.logger.Debug("countdown started", zap.Duration("interval", c.interval))
}

// Stop does not wait for the ticking goroutine, so it is safe to call from
// onExpire or a store listener.
func (c *Countdown) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	c.logger.Debug("countdown stopped")
}

func (c *Countdown) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel != nil
}

// Sync starts or stops the countdown to match the state.
func (c *Countdown) Sync(ctx context.Context, s State) {
	if s.Ticking() {
		c.Start(ctx)
	} else {
		c.Stop()
	}
}

func (c *Countdown) run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if ctx.Err() != nil {
				return
			}
			var expired bool
			c.store.Update(func(s State) State {
				next, exp := s.Tick()
				expired = exp
				return next
			})
			if expired && c.onExpire != nil {
				c.onExpire()
			}
		}
	}
}
