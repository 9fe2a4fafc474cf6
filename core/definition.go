package core

import (
	"context"
	"encoding/json"
	"time"
)

// Request is the caller-supplied input for a single agent execution. Keys are
// interpolated into the agent's prompt template and forwarded to registered
// memory sources as retrieval hints.
type Request map[string]any

// AgentDefinition is an immutable descriptor of a model-backed task. It is
// supplied by the caller and never mutated by the engine; per-execution state
// lives in the orchestrator, not here.
//
// Type and PromptTemplate are required. Everything else is optional and falls
// back to orchestrator defaults.
type AgentDefinition struct {
	// Type categorizes the agent (e.g. "researcher", "summarizer"). Used for
	// context targeting and event reporting.
	Type string `json:"type"`

	// PromptTemplate is the text sent to the model after {{key}} placeholders
	// are replaced with request values and the assembled context is injected.
	PromptTemplate string `json:"prompt_template"`

	// SystemPrompt is forwarded verbatim to the model gateway.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// PreferredModel selects a provider model id; empty uses the gateway default.
	PreferredModel string `json:"preferred_model,omitempty"`

	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`

	// ContextFilters narrow what the context assembler retrieves for this agent.
	ContextFilters map[string]any `json:"context_filters,omitempty"`

	// ResponseSchema, when non-empty, is a JSON Schema the generated content
	// must satisfy. Violations surface as schema errors and are never retried.
	ResponseSchema json.RawMessage `json:"response_schema,omitempty"`

	// StoreResults persists successful completions into the result memory
	// source as a best-effort side effect.
	StoreResults bool `json:"store_results,omitempty"`

	// Timeout is advisory and forwarded to the model gateway per call.
	Timeout time.Duration `json:"timeout,omitempty"`

	// MaxRetries bounds transient-error retry attempts. Zero means "use
	// the orchestrator default"; negative disables retries.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Validate checks the structural requirements shared by every execution path.
// It returns a *ValidationError so callers can classify without inspection.
func (d AgentDefinition) Validate() error {
	if d.Type == "" {
		return NewValidationError("type", "agent definition requires a non-empty type")
	}
	if d.PromptTemplate == "" {
		return NewValidationError("promptTemplate", "agent definition requires a non-empty prompt template")
	}
	return nil
}

// ResponseProcessor is an optional post-processing strategy applied to the raw
// model output before it becomes the execution result. It is injected by the
// caller rather than carried inside AgentDefinition so definitions stay plain
// data values.
type ResponseProcessor interface {
	Process(ctx context.Context, def AgentDefinition, content string) (any, error)
}

// ResponseProcessorFunc adapts a plain function to the ResponseProcessor interface.
type ResponseProcessorFunc func(ctx context.Context, def AgentDefinition, content string) (any, error)

// Process implements ResponseProcessor.
func (f ResponseProcessorFunc) Process(ctx context.Context, def AgentDefinition, content string) (any, error) {
	return f(ctx, def, content)
}
