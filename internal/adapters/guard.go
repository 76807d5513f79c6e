package adapters

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/ohmystock/ohmystock/internal/domain"
)

// GuardConfig tunes the reliability wrapper around one adapter.
type GuardConfig struct {
	Timeout    time.Duration
	Retries    int           // retry budget for retryable failures
	BaseDelay  time.Duration // first backoff step, doubles per attempt
	MaxDelay   time.Duration // backoff cap
	RatePerSec float64       // leaky-bucket refill rate
	Burst      int
}

// DefaultGuardConfig returns the production guard settings.
func DefaultGuardConfig(timeout time.Duration, retries int) GuardConfig {
	return GuardConfig{
		Timeout:    timeout,
		Retries:    retries,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   2 * time.Second,
		RatePerSec: 5,
		Burst:      5,
	}
}

// Guarded wraps an Adapter with a per-adapter rate limiter, circuit breaker,
// timeout, and capped exponential retry. Failures never escape as panics; the
// caller receives a SourceError.
type Guarded struct {
	inner   Adapter
	cfg     GuardConfig
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewGuarded builds the guard stack around an adapter.
func NewGuarded(inner Adapter, cfg GuardConfig, log zerolog.Logger) *Guarded {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    inner.Name(),
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &Guarded{
		inner:   inner,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: breaker,
		log:     log.With().Str("adapter", inner.Name()).Logger(),
	}
}

// Name returns the wrapped adapter's name.
func (g *Guarded) Name() string { return g.inner.Name() }

// Fetch runs the guarded fetch. The context deadline propagates from the
// triggering request; each attempt additionally gets the per-adapter timeout.
func (g *Guarded) Fetch(ctx context.Context, symbol string, market domain.Market, window TimeRange) ([]Candidate, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= g.cfg.Retries; attempt++ {
		if attempt > 0 {
			delay := g.backoff(attempt)
			select {
			case <-ctx.Done():
				return nil, NewSourceError(g.Name(), ctx.Err(), true)
			case <-time.After(delay):
			}
		}

		if err := g.limiter.Wait(ctx); err != nil {
			return nil, NewSourceError(g.Name(), err, true)
		}

		candidates, err := g.fetchOnce(ctx, symbol, market, window)
		if err == nil {
			return candidates, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			break
		}
		g.log.Warn().Err(err).Int("attempt", attempt+1).Msg("Adapter fetch failed, will retry")
	}
	return nil, NewSourceError(g.Name(), lastErr, IsRetryable(lastErr))
}

func (g *Guarded) fetchOnce(ctx context.Context, symbol string, market domain.Market, window TimeRange) ([]Candidate, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	result, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Fetch(attemptCtx, symbol, market, window)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return nil, NewSourceError(g.Name(), fmt.Errorf("%w: circuit open", domain.ErrTransient), true)
		}
		return nil, err
	}
	candidates, ok := result.([]Candidate)
	if !ok {
		return nil, fmt.Errorf("adapter %s returned unexpected result type", g.Name())
	}
	return candidates, nil
}

func (g *Guarded) backoff(attempt int) time.Duration {
	delay := g.cfg.BaseDelay << (attempt - 1)
	if delay > g.cfg.MaxDelay {
		return g.cfg.MaxDelay
	}
	return delay
}
