// Package openai provides a gateway adapter for the OpenAI Chat Completions
// API. It adapts contextmesh's normalized CompletionRequest/CompletionResult
// structures into the SDK's message format and back.
package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/gateway"
)

// Options configure the OpenAI gateway adapter. Fields mirror a subset of
// Chat Completion parameters intentionally kept minimal; extend via
// functional options without breaking callers.
type Options struct {
	Model               string
	MaxCompletionTokens int64
}

// Gateway wraps the OpenAI Chat Completions API behind the generic
// gateway.Gateway interface.
type Gateway struct {
	client *openai.Client
	opts   Options
}

// New creates a new OpenAI gateway using the official client.
func New(optFns ...func(o *Options)) *Gateway {
	client := openai.NewClient()
	return NewFromClient(&client, optFns...)
}

// NewFromClient creates a new OpenAI gateway from an existing client.
func NewFromClient(client *openai.Client, optFns ...func(o *Options)) *Gateway {
	opts := Options{
		Model:               openai.ChatModelGPT4oMini,
		MaxCompletionTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Gateway{client: client, opts: opts}
}

// GenerateCompletion implements gateway.Gateway.
func (g *Gateway) GenerateCompletion(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	model := g.opts.Model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := g.opts.MaxCompletionTokens
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openai.SystemMessage(req.SystemPrompt))
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            messages,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(req.Temperature)
	}

	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, classify(fmt.Errorf("openai api error: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}

	result := &gateway.CompletionResult{
		Content: resp.Choices[0].Message.Content,
		Model:   resp.Model,
	}
	result.Usage = &gateway.TokenUsage{
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		TotalTokens:      int(resp.Usage.TotalTokens),
	}

	return result, nil
}

// classify maps OpenAI SDK failures onto the engine's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return core.NewTransientError("timeout", err)
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 408:
			return core.NewTransientError("timeout", err)
		case apiErr.StatusCode == 429:
			return core.NewTransientError("rate_limit", err)
		case apiErr.StatusCode >= 500:
			return core.NewTransientError("server", err)
		}
	}

	return err
}

var _ gateway.Gateway = (*Gateway)(nil)
