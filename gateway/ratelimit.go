package gateway

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedGateway throttles calls to the wrapped gateway with a token
// bucket. Waiting respects context cancellation, so a cancelled execution
// does not queue behind the limiter.
type RateLimitedGateway struct {
	inner   Gateway
	limiter *rate.Limiter
}

// NewRateLimitedGateway allows up to rps requests per second with the given
// burst. A zero or negative rps disables throttling.
func NewRateLimitedGateway(inner Gateway, rps float64, burst int) *RateLimitedGateway {
	var limiter *rate.Limiter
	if rps > 0 {
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
	return &RateLimitedGateway{inner: inner, limiter: limiter}
}

// GenerateCompletion implements Gateway.
func (g *RateLimitedGateway) GenerateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter wait: %w", err)
		}
	}
	return g.inner.GenerateCompletion(ctx, req)
}

var _ Gateway = (*RateLimitedGateway)(nil)
