package gateway

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextmesh/core"
)

func TestMockGatewayCannedResponse(t *testing.T) {
	g := NewMockGateway("test-model")
	g.AddResponse("hello", "world")

	result, err := g.GenerateCompletion(context.Background(), CompletionRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "world", result.Content)
	assert.Equal(t, "test-model", result.Model)
	require.NotNil(t, result.Usage)
}

func TestMockGatewayEchoFallback(t *testing.T) {
	g := NewMockGateway("test-model")

	result, err := g.GenerateCompletion(context.Background(), CompletionRequest{Prompt: "unscripted"})

	require.NoError(t, err)
	assert.Equal(t, "mock completion for: unscripted", result.Content)
}

func TestMockGatewayScriptedFailures(t *testing.T) {
	g := NewMockGateway("test-model")
	g.FailWith(errors.New("boom"), nil)

	_, err := g.GenerateCompletion(context.Background(), CompletionRequest{Prompt: "p"})
	assert.EqualError(t, err, "boom")

	_, err = g.GenerateCompletion(context.Background(), CompletionRequest{Prompt: "p"})
	assert.NoError(t, err)

	assert.Equal(t, 2, g.Calls())
	assert.Len(t, g.Requests(), 2)
}

func TestMockGatewayCancelledContext(t *testing.T) {
	g := NewMockGateway("test-model")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.GenerateCompletion(ctx, CompletionRequest{Prompt: "p"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCircuitBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	inner := NewMockGateway("test-model")
	inner.FailWith(errors.New("down"), errors.New("down"), errors.New("down"))

	g := NewCircuitBreakerGateway(inner, func(o *BreakerOptions) {
		o.MaxFailures = 3
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := g.GenerateCompletion(ctx, CompletionRequest{Prompt: "p"})
		require.Error(t, err)
		assert.False(t, core.IsRetryable(err), "provider errors pass through unwrapped")
	}

	// Circuit is now open: the call fails fast as a transient error without
	// reaching the provider.
	_, err := g.GenerateCompletion(ctx, CompletionRequest{Prompt: "p"})
	require.Error(t, err)
	assert.True(t, core.IsRetryable(err))
	assert.Equal(t, 3, inner.Calls())
}

func TestCircuitBreakerPassesThroughSuccess(t *testing.T) {
	inner := NewMockGateway("test-model")
	inner.AddResponse("hello", "world")

	g := NewCircuitBreakerGateway(inner)

	result, err := g.GenerateCompletion(context.Background(), CompletionRequest{Prompt: "hello"})

	require.NoError(t, err)
	assert.Equal(t, "world", result.Content)
}
