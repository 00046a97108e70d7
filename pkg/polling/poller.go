// Package polling provides the shared cancellable poller behind the
// fulfillment tracker and the shop availability guard. A subscription runs
// one tick immediately, then on a fixed interval, until the tick reports it
// is finished or the subscriber stops it. Ticks receive a liveness probe so
// a response that lands after cancellation is discarded instead of applied.
package polling

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Tick performs one poll. It must consult live() before applying a fetched
// result to shared state, and return true when polling should stop.
type Tick func(ctx context.Context, live func() bool) (stop bool)

// Subscription is the cancellation handle returned by Start.
type Subscription struct {
	cancel   context.CancelFunc
	done     chan struct{}
	alive    atomic.Bool
	stopOnce sync.Once
}

// Alive reports whether results may still be applied.
func (s *Subscription) Alive() bool {
	return s.alive.Load()
}

// Done is closed once the poll loop has fully exited.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Stop cancels the subscription. Safe to call more than once; the liveness
// flag drops before the context is cancelled so an in-flight tick cannot
// apply its result afterwards.
func (s *Subscription) Stop() {
	s.stopOnce.Do(func() {
		s.alive.Store(false)
		s.cancel()
	})
}

// Start launches a poll loop with an immediate first tick.
func Start(ctx context.Context, interval time.Duration, tick Tick) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	sub.alive.Store(true)

	go func() {
		defer close(sub.done)
		defer sub.Stop()

		if tick(ctx, sub.Alive) {
			return
		}

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if tick(ctx, sub.Alive) {
					return
				}
			}
		}
	}()

	return sub
}
