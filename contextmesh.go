// Package contextmesh provides a high-level façade over the workflow
// orchestrator and the context assembly pipeline, enabling rapid construction
// of multi-step agent systems. Most applications interact with this package
// by:
//  1. Creating a ContextMesh via New() with a model gateway
//  2. Registering one or more memory sources (working, procedural, semantic,
//     episodic)
//  3. Executing single agents (ExecuteAgent), queued agents (QueueExecution)
//     or sequential workflows (ExecuteWorkflow)
//
// The façade delegates execution to orchestrator.Orchestrator and retrieval
// to assembler.Assembler while keeping setup and usage ergonomics concise.
// All defaults are safe for local development and testing; production
// deployments typically supply a durable memory source and a structured
// logger.
package contextmesh

import (
	"context"

	"github.com/hupe1980/contextmesh/assembler"
	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/gateway"
	"github.com/hupe1980/contextmesh/logging"
	"github.com/hupe1980/contextmesh/orchestrator"
)

// Options configures the ContextMesh instance.
type Options struct {
	// MaxConcurrentAgents limits how many agent executions run
	// simultaneously. This prevents resource exhaustion and provides
	// backpressure; excess work waits or queues.
	MaxConcurrentAgents int

	// MaxRetries bounds transient-error retries per execution. Agent
	// definitions may override it.
	MaxRetries int

	// MaxContextBytes is the serialized-size budget for assembled context.
	MaxContextBytes int

	// Gateway performs model generations. Required.
	Gateway gateway.Gateway

	// ResultSource receives completed results for definitions that opt
	// into persistence. Optional.
	ResultSource core.MemorySource

	// ResponseProcessor optionally post-processes raw model output.
	ResponseProcessor core.ResponseProcessor

	// StateObserver receives coarse agent state transitions around
	// workflow steps. Optional.
	StateObserver func(agentType string, state orchestrator.AgentState)

	// Clock overrides time for deterministic tests.
	Clock core.Clock

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// ContextMesh is the high-level façade aggregating the orchestrator and the
// context assembler.
type ContextMesh struct {
	opts         Options
	assembler    *assembler.Assembler
	orchestrator *orchestrator.Orchestrator
}

// New creates a new ContextMesh instance with optional overrides. The
// gateway must be supplied; everything else has a working default.
func New(optFns ...func(o *Options)) *ContextMesh {
	opts := Options{
		MaxConcurrentAgents: orchestrator.DefaultMaxConcurrentAgents,
		MaxRetries:          orchestrator.DefaultMaxRetries,
		MaxContextBytes:     assembler.DefaultMaxSizeBytes,
		Clock:               core.RealClock{},
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	asm := assembler.New(func(o *assembler.Options) {
		o.MaxSizeBytes = opts.MaxContextBytes
		o.Clock = opts.Clock
		o.Logger = opts.Logger
	})

	orch := orchestrator.New(func(o *orchestrator.Options) {
		o.MaxConcurrentAgents = opts.MaxConcurrentAgents
		o.MaxRetries = opts.MaxRetries
		o.Gateway = opts.Gateway
		o.Assembler = asm
		o.ResultSource = opts.ResultSource
		o.ResponseProcessor = opts.ResponseProcessor
		o.StateObserver = opts.StateObserver
		o.Clock = opts.Clock
		o.Logger = opts.Logger
	})

	return &ContextMesh{opts: opts, assembler: asm, orchestrator: orch}
}

// RegisterSource adds a named memory source used during context assembly.
func (m *ContextMesh) RegisterSource(name string, sourceType core.SourceType, source core.MemorySource) {
	m.assembler.RegisterSource(name, sourceType, source)
}

// ExecuteAgent runs one agent execution, waiting for a concurrency slot when
// the engine is saturated. Failures are reported inside the result, never as
// a Go error.
func (m *ContextMesh) ExecuteAgent(ctx context.Context, def core.AgentDefinition, req core.Request, optFns ...func(o *orchestrator.ExecOptions)) orchestrator.ExecutionResult {
	return m.orchestrator.ExecuteAgent(ctx, def, req, optFns...)
}

// QueueExecution defers an execution until capacity frees up. The returned
// channel delivers the result exactly once.
func (m *ContextMesh) QueueExecution(def core.AgentDefinition, req core.Request, optFns ...func(o *orchestrator.ExecOptions)) <-chan orchestrator.ExecutionResult {
	return m.orchestrator.QueueExecution(def, req, optFns...)
}

// ExecuteWorkflow runs steps strictly sequentially, chaining each step's
// output into the next step's request.
func (m *ContextMesh) ExecuteWorkflow(ctx context.Context, steps []orchestrator.WorkflowStep, initial core.Request) orchestrator.WorkflowResult {
	return m.orchestrator.ExecuteWorkflow(ctx, steps, initial)
}

// CancelExecution cancels an active execution by id, returning whether the
// id was known and active.
func (m *ContextMesh) CancelExecution(id string) bool {
	return m.orchestrator.CancelExecution(id)
}

// AssembleContext runs the assembly pipeline directly, without executing an
// agent. Useful for inspection and tuning.
func (m *ContextMesh) AssembleContext(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error) {
	return m.assembler.AssembleContext(ctx, req)
}

// AddEventListener subscribes a handler to one lifecycle event type.
func (m *ContextMesh) AddEventListener(eventType core.EventType, listener core.Listener) {
	m.orchestrator.AddEventListener(eventType, listener)
}

// ActiveCount reports how many executions are currently active.
func (m *ContextMesh) ActiveCount() int { return m.orchestrator.ActiveCount() }

// Stats returns a snapshot of the rolling execution statistics.
func (m *ContextMesh) Stats() orchestrator.Stats { return m.orchestrator.Stats() }

// Close stops background processing. Pending queued executions receive a
// failure result; in-flight executions run to completion.
func (m *ContextMesh) Close() { m.orchestrator.Close() }
