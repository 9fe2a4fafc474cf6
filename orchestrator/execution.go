package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/gateway"
)

var errOrchestratorClosed = errors.New("orchestrator is closed")

// ExecutionState identifies where an execution currently sits in its
// lifecycle. States advance strictly forward except for the retry transition
// from executing back to preparing.
type ExecutionState string

// Execution lifecycle states.
const (
	StateInitialized ExecutionState = "initialized"
	StatePreparing   ExecutionState = "preparing"
	StateExecuting   ExecutionState = "executing"
	StateProcessing  ExecutionState = "processing"
	StateCompleted   ExecutionState = "completed"
	StateError       ExecutionState = "error"
	StateCancelled   ExecutionState = "cancelled"
)

// ExecOptions carries per-call overrides for a single execution.
type ExecOptions struct {
	// ExecutionID overrides the generated id. Useful for correlation with
	// external systems.
	ExecutionID string

	// Metadata is attached verbatim to the execution result.
	Metadata map[string]any
}

func newExecOptions(optFns ...func(o *ExecOptions)) ExecOptions {
	opts := ExecOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return opts
}

// ExecutionResult is the terminal outcome of a single agent execution. Err
// and ErrorKind are set only on failure; Result only on success.
type ExecutionResult struct {
	Success       bool
	Result        string
	Err           error
	ErrorKind     core.ErrorKind
	ExecutionID   string
	AgentType     string
	RetryCount    int
	ExecutionTime time.Duration
	Metadata      map[string]any
}

// executionContext tracks one in-flight execution. The cancelled flag is the
// only field mutated after registration and is guarded by its own mutex.
type executionContext struct {
	id         string
	definition core.AgentDefinition
	startedAt  time.Time

	mu        sync.Mutex
	state     ExecutionState
	cancelled bool
}

func (e *executionContext) setState(s ExecutionState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state = s
}

func (e *executionContext) markCancelled() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelled = true
	e.state = StateCancelled
}

func (e *executionContext) isCancelled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cancelled
}

// execute drives one registered execution to a terminal state. The caller
// must already hold a concurrency slot.
func (o *Orchestrator) execute(ctx context.Context, def core.AgentDefinition, req core.Request, execOpts ExecOptions) ExecutionResult {
	id := execOpts.ExecutionID
	if id == "" {
		id = uuid.NewString()
	}

	start := o.opts.Clock.Now()

	exec := &executionContext{
		id:         id,
		definition: def,
		startedAt:  start,
		state:      StateInitialized,
	}

	o.mu.Lock()
	o.active[id] = exec
	o.mu.Unlock()

	o.events.emit(core.Event{
		Type:        core.EventAgentStart,
		ExecutionID: id,
		AgentType:   def.Type,
		Timestamp:   start,
	})
	o.opts.Logger.Info("execution started", "execution_id", id, "agent_type", def.Type)

	result := o.run(ctx, exec, req)
	result.ExecutionID = id
	result.AgentType = def.Type
	result.ExecutionTime = o.opts.Clock.Now().Sub(start)
	result.Metadata = execOpts.Metadata

	// Exactly one of completion and cancellation claims the id, decided by
	// who removes it from the active set. A cancelled execution has already
	// emitted agent_cancelled; its late result is discarded silently with no
	// further events or statistics.
	o.mu.Lock()
	_, present := o.active[id]
	delete(o.active, id)
	o.mu.Unlock()

	if !present {
		result.Success = false
		if result.Err == nil {
			result.Err = &core.InternalError{Op: "execute agent", Err: errExecutionCancelled}
			result.ErrorKind = core.ErrorKindInternal
		}
		return result
	}

	o.stats.record(result.Success, result.ExecutionTime)

	if result.Success {
		exec.setState(StateCompleted)
		o.events.emit(core.Event{
			Type:        core.EventAgentComplete,
			ExecutionID: id,
			AgentType:   def.Type,
			Timestamp:   o.opts.Clock.Now(),
			Duration:    result.ExecutionTime,
		})
		o.opts.Logger.Info("execution completed",
			"execution_id", id,
			"agent_type", def.Type,
			"duration", result.ExecutionTime,
			"retries", result.RetryCount,
		)
	} else {
		exec.setState(StateError)
		o.events.emit(core.Event{
			Type:        core.EventAgentError,
			ExecutionID: id,
			AgentType:   def.Type,
			Timestamp:   o.opts.Clock.Now(),
			Duration:    result.ExecutionTime,
			Err:         result.Err,
		})
		o.opts.Logger.Error("execution failed",
			"error", result.Err.Error(),
			"execution_id", id,
			"agent_type", def.Type,
			"error_kind", string(result.ErrorKind),
			"retries", result.RetryCount,
		)
	}

	return result
}

var errExecutionCancelled = errors.New("execution cancelled")

// run performs the attempt loop: prepare context, call the gateway, process
// the response. Transient failures retry with exponential backoff up to the
// configured budget; other failures terminate immediately.
func (o *Orchestrator) run(ctx context.Context, exec *executionContext, req core.Request) ExecutionResult {
	def := exec.definition

	maxRetries := o.opts.MaxRetries
	switch {
	case def.MaxRetries > 0:
		maxRetries = def.MaxRetries
	case def.MaxRetries < 0:
		maxRetries = 0
	}

	for attempt := 0; ; attempt++ {
		if exec.isCancelled() {
			return ExecutionResult{Success: false, RetryCount: attempt}
		}

		result, err := o.attempt(ctx, exec, req, attempt)
		if err == nil {
			result.RetryCount = attempt
			return result
		}

		if !core.IsRetryable(err) || attempt >= maxRetries {
			return ExecutionResult{
				Success:    false,
				Err:        err,
				ErrorKind:  core.ClassifyError(err),
				RetryCount: attempt,
			}
		}

		delay := o.opts.BaseRetryDelay * (1 << attempt)
		o.opts.Logger.Warn("retrying after transient failure",
			"execution_id", exec.id,
			"attempt", attempt+1,
			"delay", delay,
			"error", err.Error(),
		)

		select {
		case <-ctx.Done():
			return ExecutionResult{
				Success:    false,
				Err:        &core.TransientError{Reason: "timeout", Err: ctx.Err()},
				ErrorKind:  core.ErrorKindTransient,
				RetryCount: attempt,
			}
		case <-o.opts.Clock.After(delay):
		}
	}
}

// attempt runs a single pass through preparing, executing and processing.
func (o *Orchestrator) attempt(ctx context.Context, exec *executionContext, req core.Request, attempt int) (ExecutionResult, error) {
	def := exec.definition

	exec.setState(StatePreparing)

	assembled := o.assembleFor(ctx, def, req)

	exec.setState(StateExecuting)

	prompt := renderPrompt(def.PromptTemplate, req, assembled)

	timeout := def.Timeout
	if timeout <= 0 {
		timeout = o.opts.DefaultTimeout
	}

	callStart := o.opts.Clock.Now()

	completion, err := o.opts.Gateway.GenerateCompletion(ctx, gateway.CompletionRequest{
		Prompt:       prompt,
		SystemPrompt: def.SystemPrompt,
		Model:        def.PreferredModel,
		MaxTokens:    def.MaxTokens,
		Temperature:  def.Temperature,
		Timeout:      timeout,
	})

	o.opts.Logger.Debug("model call finished",
		"model", def.PreferredModel,
		"attempt", attempt,
		"duration", o.opts.Clock.Now().Sub(callStart),
		"success", err == nil,
	)

	if err != nil {
		return ExecutionResult{}, err
	}

	exec.setState(StateProcessing)

	content := completion.Content

	if err := o.schemas.validateResponse(def.ResponseSchema, content); err != nil {
		return ExecutionResult{}, err
	}

	if o.opts.ResponseProcessor != nil {
		processed, err := o.opts.ResponseProcessor.Process(ctx, def, content)
		if err != nil {
			return ExecutionResult{}, &core.InternalError{Op: "process response", Err: err}
		}
		content = stringifyProcessed(processed)
	}

	if def.StoreResults {
		o.storeResult(ctx, exec, content)
	}

	return ExecutionResult{Success: true, Result: content}, nil
}

// assembleFor builds the pre-invocation context. Assembly is best-effort:
// any failure degrades to an empty context and is logged, never surfaced.
func (o *Orchestrator) assembleFor(ctx context.Context, def core.AgentDefinition, req core.Request) core.AssembledContext {
	if o.opts.Assembler == nil {
		return core.AssembledContext{}
	}

	creq := core.ContextRequest{
		Type:     def.Type,
		Filters:  def.ContextFilters,
		Keywords: requestKeywords(req),
	}

	assembled, err := o.opts.Assembler.AssembleContext(ctx, creq)
	if err != nil {
		o.opts.Logger.Warn("context assembly failed, continuing without context",
			"agent_type", def.Type,
			"error", err.Error(),
		)
		return core.AssembledContext{}
	}

	return assembled
}

// storeResult persists a completed result into the configured memory source.
// Failures are logged and swallowed; persistence never fails an execution.
func (o *Orchestrator) storeResult(ctx context.Context, exec *executionContext, content string) {
	if o.opts.ResultSource == nil {
		return
	}

	now := o.opts.Clock.Now()

	item := core.MemoryItem{
		Key: fmt.Sprintf("result:%s:%s", exec.definition.Type, exec.id),
		Data: map[string]any{
			"type":         "agent_result",
			"agent_type":   exec.definition.Type,
			"execution_id": exec.id,
			"result":       content,
		},
		Metadata: core.ItemMetadata{
			Type:      "agent_result",
			Category:  exec.definition.Type,
			Tags:      []string{"success", "agent_result"},
			Priority:  5,
			CreatedAt: now,
		},
	}

	if err := o.opts.ResultSource.Store(ctx, item); err != nil {
		o.opts.Logger.Warn("failed to store execution result",
			"execution_id", exec.id,
			"error", err.Error(),
		)
	}
}

// requestKeywords extracts scalar string values from the request for use as
// assembly keywords, in deterministic key order.
func requestKeywords(req core.Request) []string {
	keys := make([]string, 0, len(req))
	for k := range req {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var keywords []string
	for _, k := range keys {
		if s, ok := req[k].(string); ok && s != "" {
			keywords = append(keywords, strings.Fields(s)...)
		}
	}
	return keywords
}

// renderPrompt interpolates {{key}} placeholders from the request into the
// template and appends the assembled context, highest relevance first.
// Unknown placeholders are left intact.
func renderPrompt(template string, req core.Request, assembled core.AssembledContext) string {
	rendered := template

	for key, value := range req {
		placeholder := "{{" + key + "}}"
		if strings.Contains(rendered, placeholder) {
			rendered = strings.ReplaceAll(rendered, placeholder, fmt.Sprintf("%v", value))
		}
	}

	if len(assembled.Items) == 0 {
		return rendered
	}

	var sb strings.Builder
	sb.WriteString(rendered)
	sb.WriteString("\n\n## Context\n")

	for _, item := range assembled.Items {
		sb.WriteString(fmt.Sprintf("\n### %s (%s)\n", item.Item.Key, item.Source))
		sb.WriteString(serializeForPrompt(item.Item.Data))
		sb.WriteString("\n")
	}

	return sb.String()
}

// stringifyProcessed flattens a processor's output back into the string
// result carried by ExecutionResult. Structured values are JSON-encoded.
func stringifyProcessed(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	default:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return fmt.Sprintf("%v", v)
	}
}

func serializeForPrompt(data any) string {
	switch v := data.(type) {
	case string:
		return v
	default:
		return fmt.Sprintf("%v", v)
	}
}
