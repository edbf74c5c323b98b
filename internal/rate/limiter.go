package rate

import (
	"context"
	"fmt"
	"time"
)

// Limiter gates outbound API calls so coalesced-call volume against the
// provider stays a tunable parameter instead of an emergent property.
type Limiter interface {
	Wait(ctx context.Context) error
}

// None is a pass-through limiter for tests and offline tools.
type None struct{}

func (None) Wait(context.Context) error { return nil }

// TokenBucket implements a fixed-rate token bucket limiter with a
// configurable burst allowance.
type TokenBucket struct {
	ticker   *time.Ticker
	tokens   chan struct{}
	quit     chan struct{}
	stopDone chan struct{}
}

// NewTokenBucket returns a limiter releasing rps tokens per second and
// allowing bursts of up to burst immediate calls.
func NewTokenBucket(rps, burst int) *TokenBucket {
	if rps <= 0 {
		rps = 1
	}
	if burst < 1 {
		burst = 1
	}
	tb := &TokenBucket{
		ticker:   time.NewTicker(time.Second / time.Duration(rps)),
		tokens:   make(chan struct{}, burst),
		quit:     make(chan struct{}),
		stopDone: make(chan struct{}),
	}
	for i := 0; i < burst; i++ {
		tb.tokens <- struct{}{}
	}
	go tb.run()
	return tb
}

func (t *TokenBucket) run() {
	defer close(t.stopDone)
	for {
		// Ticker.Stop does not close the tick channel, so Stop signals
		// through quit instead.
		select {
		case <-t.ticker.C:
			select {
			case t.tokens <- struct{}{}:
			default:
			}
		case <-t.quit:
			return
		}
	}
}

// Wait blocks until a token is available or the context is canceled.
func (t *TokenBucket) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate wait canceled: %w", ctx.Err())
	case <-t.tokens:
		return nil
	}
}

// Stop releases resources held by the limiter and blocks until the
// refill goroutine has exited.
func (t *TokenBucket) Stop() {
	t.ticker.Stop()
	close(t.quit)
	<-t.stopDone
}

var (
	_ Limiter = (*TokenBucket)(nil)
	_ Limiter = None{}
)
