package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/fpang/photo-intelligence/internal/jobutil"
)

// GuardConfig tunes a provider guard.
type GuardConfig struct {
	// RequestsPerSecond is the sustained call rate. Zero disables pacing.
	RequestsPerSecond float64
	Burst             int

	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// DefaultGuardConfig paces to 5 rps and opens after 5 straight failures.
func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		RequestsPerSecond: 5,
		Burst:             5,
		FailureThreshold:  5,
		OpenTimeout:       30 * time.Second,
	}
}

// Guard paces and circuit-breaks calls to one provider.
type Guard struct {
	name    string
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[interface{}]
}

// NewGuard creates a guard for the named provider.
func NewGuard(name string, cfg GuardConfig) *Guard {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("provider", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Provider circuit breaker state changed")
		},
		// Caller cancellation says nothing about provider health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	}

	return &Guard{
		name:    name,
		limiter: rate.NewLimiter(limit, burst),
		breaker: gobreaker.NewCircuitBreaker[interface{}](settings),
	}
}

// State returns the breaker state, for logs and tests.
func (g *Guard) State() gobreaker.State {
	return g.breaker.State()
}

// call runs fn under the guard. An open breaker is reported as a rate
// limit so the job is deferred rather than failed.
func call[T any](ctx context.Context, g *Guard, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, fmt.Errorf("%s rate limiter: %w", g.name, err)
	}
	out, err := g.breaker.Execute(func() (interface{}, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, fmt.Errorf("%s circuit breaker %v: %w", g.name, err, jobutil.ErrRateLimited)
		}
		return zero, err
	}
	return out.(T), nil
}
