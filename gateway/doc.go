// Package gateway defines the provider-agnostic model gateway port consumed
// by the orchestrator, plus lightweight decorators and a mock for tests.
//
// Core goals:
//   - Keep request/response shapes minimal and transport independent
//   - Classify provider failures into the engine's retryable taxonomy
//   - Facilitate deterministic mocking for tests (MockGateway)
//
// Providers (e.g. OpenAI, Anthropic) implement the Gateway interface from
// this package so the engine remains decoupled from vendor SDKs. The
// CircuitBreakerGateway and RateLimitedGateway decorators compose in front of
// any provider at wiring time.
package gateway
