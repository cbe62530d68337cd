package output

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrAllFailed is returned when every backend in a [Chain] fails.
var ErrAllFailed = errors.New("output: all backends failed")

// Chain plays through the first backend that works. When a backend's Run
// fails before ctx is cancelled (no device, device lost) the next backend
// takes over the same source, so a headless fallback keeps the mixer's
// clock running and the feed keeps accepting events.
//
// With [WithRetry], a fallback only plays for the retry interval before the
// primary is tried again, so a device that comes back is picked up without
// a restart.
type Chain struct {
	backends []Backend
	retry    time.Duration
	active   atomic.Int32
	failures atomic.Int64
}

// Compile-time interface assertion.
var _ Backend = (*Chain)(nil)

// ChainOption configures a [Chain].
type ChainOption func(*Chain)

// WithRetry makes the chain try the primary backend again every d while a
// fallback is playing. Zero keeps the fallback until the chain stops.
func WithRetry(d time.Duration) ChainOption {
	return func(c *Chain) { c.retry = max(d, 0) }
}

// NewChain returns a chain trying primary first and then each fallback in
// order.
func NewChain(primary Backend, fallbacks []Backend, opts ...ChainOption) *Chain {
	c := &Chain{backends: append([]Backend{primary}, fallbacks...)}
	for _, o := range opts {
		o(c)
	}
	c.active.Store(-1)
	return c
}

// Name implements [Backend]. It reports the backend currently playing, or
// the primary when none is.
func (c *Chain) Name() string {
	if b := c.Active(); b != nil {
		return b.Name()
	}
	return c.backends[0].Name()
}

// Active returns the backend currently playing, or nil.
func (c *Chain) Active() Backend {
	i := c.active.Load()
	if i < 0 {
		return nil
	}
	return c.backends[i]
}

// Failures returns how many times a backend of the chain has failed.
func (c *Chain) Failures() int64 { return c.failures.Load() }

// Running implements [Backend].
func (c *Chain) Running() bool {
	b := c.Active()
	return b != nil && b.Running()
}

// Run implements [Backend]. It returns nil once ctx is cancelled or a
// backend stops cleanly, and wraps [ErrAllFailed] when no backend is left.
func (c *Chain) Run(ctx context.Context) error {
	defer c.active.Store(-1)

	for {
		c.active.Store(0)
		err := c.backends[0].Run(ctx)
		if err == nil || ctx.Err() != nil {
			return nil
		}
		c.failures.Add(1)
		slog.Warn("output backend failed", "backend", c.backends[0].Name(), "err", err)

		retryPrimary, err := c.runFallbacks(ctx)
		if !retryPrimary || ctx.Err() != nil {
			return err
		}
		slog.Info("output retrying primary backend", "backend", c.backends[0].Name())
	}
}

// runFallbacks plays the fallbacks in order. retryPrimary reports that the retry
// interval elapsed and the primary should be tried again.
func (c *Chain) runFallbacks(ctx context.Context) (retryPrimary bool, err error) {
	var lastErr error
	for i := 1; i < len(c.backends); i++ {
		b := c.backends[i]
		c.active.Store(int32(i))
		slog.Info("output falling back", "backend", b.Name())

		runCtx, cancel := ctx, context.CancelFunc(func() {})
		if c.retry > 0 {
			runCtx, cancel = context.WithTimeout(ctx, c.retry)
		}
		runErr := b.Run(runCtx)
		expired := runCtx.Err() != nil
		cancel()

		switch {
		case ctx.Err() != nil:
			return false, nil
		case expired:
			return true, nil
		case runErr == nil:
			return false, nil
		}
		c.failures.Add(1)
		lastErr = runErr
		slog.Warn("output backend failed", "backend", b.Name(), "err", runErr)
	}
	if lastErr == nil {
		lastErr = errors.New("no fallback configured")
	}
	return false, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}
