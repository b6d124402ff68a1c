package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/hyperjump/docchat/internal/config"
	"github.com/hyperjump/docchat/internal/models"
)

// Guard wraps a Completer with a per-call timeout, a rate limiter and a circuit
// breaker. It never retries: an open breaker fails fast with models.ErrTransport.
type Guard struct {
	inner   Completer
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[string]
	logger  *zap.Logger
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithLogger sets the logger for breaker state changes.
func WithLogger(l *zap.Logger) GuardOption {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGuard wraps inner using the timeout, rate and breaker settings in cfg.
func NewGuard(inner Completer, cfg config.LLMConfig, opts ...GuardOption) *Guard {
	g := &Guard{inner: inner, timeout: cfg.Timeout, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(g)
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	g.limiter = rate.NewLimiter(limit, burst)

	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	g.breaker = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "completion",
		MaxRequests: 1,
		Timeout:     cfg.Breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// Only transport failures say anything about service health.
			return err == nil || !errors.Is(err, models.ErrTransport) || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			g.logger.Warn("circuit breaker state change",
				zap.String("breaker", name), zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	return g
}

// Complete waits for the limiter, then calls inner through the breaker.
func (g *Guard) Complete(ctx context.Context, req Request) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("completion rate limit wait: %v: %w", err, models.ErrTransport)
	}
	out, err := g.breaker.Execute(func() (string, error) {
		return g.inner.Complete(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("completion circuit %s: %w", g.breaker.State(), models.ErrTransport)
	}
	if err != nil && ctx.Err() != nil && !errors.Is(err, models.ErrTransport) {
		return "", fmt.Errorf("completion: %v: %w", err, models.ErrTransport)
	}
	return out, err
}

// State returns the breaker state for status reporting.
func (g *Guard) State() string {
	return g.breaker.State().String()
}
