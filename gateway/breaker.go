package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// BreakerOptions configures the circuit breaker behavior.
type BreakerOptions struct {
	// Name labels the breaker in logs and state-change callbacks.
	Name string
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before transitioning to half-open.
	Timeout time.Duration
	// Interval is the cyclic period of the closed state for clearing failure
	// counts. If 0, failures never reset until the circuit opens.
	Interval time.Duration
	// Logger observes state changes. Defaults to NoOpLogger.
	Logger logging.Logger
}

// CircuitBreakerGateway wraps a Gateway with circuit breaker protection. When
// the wrapped gateway fails repeatedly, the circuit opens and subsequent
// calls fail fast without reaching the provider, preventing retry storms.
//
// Fast-failures while the circuit is open are surfaced as transient errors so
// the orchestrator backs off and retries rather than giving up outright.
type CircuitBreakerGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker[*CompletionResult]
}

// NewCircuitBreakerGateway wraps inner with a circuit breaker. Zero-valued
// options fall back to the package defaults.
func NewCircuitBreakerGateway(inner Gateway, optFns ...func(o *BreakerOptions)) *CircuitBreakerGateway {
	opts := BreakerOptions{
		Name:        "gateway",
		MaxFailures: defaultCBMaxFailures,
		Timeout:     defaultCBTimeout,
		Interval:    defaultCBInterval,
		Logger:      logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	maxFailures := opts.MaxFailures

	cb := gobreaker.NewCircuitBreaker[*CompletionResult](gobreaker.Settings{
		Name:        opts.Name,
		MaxRequests: 1, // allow 1 probe in half-open state
		Interval:    opts.Interval,
		Timeout:     opts.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Warn("circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &CircuitBreakerGateway{inner: inner, breaker: cb}
}

// GenerateCompletion implements Gateway. Calls are routed through the breaker.
func (g *CircuitBreakerGateway) GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	resp, err := g.breaker.Execute(func() (*CompletionResult, error) {
		return g.inner.GenerateCompletion(ctx, req)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, core.NewTransientError("rate_limit", err)
		}
		return nil, err
	}
	return resp, nil
}

var _ Gateway = (*CircuitBreakerGateway)(nil)
