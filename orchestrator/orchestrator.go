package orchestrator

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/gateway"
	"github.com/hupe1980/contextmesh/logging"
)

// Default tuning values applied when Options fields are left zero.
const (
	// DefaultMaxConcurrentAgents bounds simultaneously active executions.
	DefaultMaxConcurrentAgents = 5

	// DefaultMaxRetries bounds transient-error retry attempts per execution.
	DefaultMaxRetries = 3

	// DefaultBaseRetryDelay seeds the exponential backoff: attempt i waits
	// 2^i * base.
	DefaultBaseRetryDelay = 500 * time.Millisecond

	// DefaultTimeout is the advisory per-call timeout forwarded to the
	// model gateway when the definition does not carry one.
	DefaultTimeout = 60 * time.Second
)

// ContextAssembler is the assembly port consumed before each generation. The
// assembler package provides the production implementation; tests may inject
// a stub. Assembly is best-effort: a failure here never fails an execution.
type ContextAssembler interface {
	AssembleContext(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error)
}

// AgentState is the coarse side-channel state reported around workflow steps.
type AgentState string

// Side-channel agent states reported to the optional StateObserver.
const (
	AgentStateWorking AgentState = "working"
	AgentStateIdle    AgentState = "idle"
	AgentStateError   AgentState = "error"
)

// Options configures an Orchestrator instance using the functional options
// pattern. Gateway is required; everything else has a safe default.
type Options struct {
	// MaxConcurrentAgents limits executions simultaneously in a non-terminal
	// state. Work beyond the limit waits (ExecuteAgent) or queues
	// (QueueExecution).
	MaxConcurrentAgents int

	// MaxRetries is the default transient-retry budget; definitions may
	// override per agent.
	MaxRetries int

	// BaseRetryDelay seeds exponential backoff between attempts.
	BaseRetryDelay time.Duration

	// DefaultTimeout is forwarded to the gateway when a definition carries
	// no timeout of its own.
	DefaultTimeout time.Duration

	// Gateway performs the actual generation. Required.
	Gateway gateway.Gateway

	// Assembler builds the pre-invocation context. Nil disables assembly;
	// executions then run with an empty context.
	Assembler ContextAssembler

	// ResultSource receives completed results when a definition sets
	// StoreResults. Best-effort; nil disables persistence.
	ResultSource core.MemorySource

	// ResponseProcessor optionally post-processes raw model output. It is
	// injected here, not carried inside definitions.
	ResponseProcessor core.ResponseProcessor

	// StateObserver receives working/idle/error transitions around workflow
	// steps. Optional.
	StateObserver func(agentType string, state AgentState)

	// Clock is injected for deterministic backoff in tests.
	Clock core.Clock

	// Logger observes lifecycle, retries and faults. Defaults to NoOp.
	Logger logging.Logger
}

// Orchestrator owns per-execution state, a bounded-concurrency run queue and
// sequential workflow execution. Construct with New; all methods are safe for
// concurrent use.
type Orchestrator struct {
	opts    Options
	slots   *semaphore.Weighted
	stats   *statistics
	events  *dispatcher
	queue   *executionQueue
	schemas *schemaCache

	mu     sync.RWMutex
	active map[string]*executionContext

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates an Orchestrator and starts its queue scheduler. Call Close to
// stop the scheduler and fail pending queued work.
func New(optFns ...func(o *Options)) *Orchestrator {
	opts := Options{
		MaxConcurrentAgents: DefaultMaxConcurrentAgents,
		MaxRetries:          DefaultMaxRetries,
		BaseRetryDelay:      DefaultBaseRetryDelay,
		DefaultTimeout:      DefaultTimeout,
		Clock:               core.RealClock{},
		Logger:              logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxConcurrentAgents <= 0 {
		opts.MaxConcurrentAgents = DefaultMaxConcurrentAgents
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.BaseRetryDelay <= 0 {
		opts.BaseRetryDelay = DefaultBaseRetryDelay
	}
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = DefaultTimeout
	}
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	o := &Orchestrator{
		opts:    opts,
		slots:   semaphore.NewWeighted(int64(opts.MaxConcurrentAgents)),
		stats:   newStatistics(),
		events:  newDispatcher(opts.Logger),
		queue:   newExecutionQueue(),
		schemas: newSchemaCache(),
		active:  make(map[string]*executionContext),
		stopCh:  make(chan struct{}),
	}

	go o.schedule()

	return o
}

// AddEventListener subscribes a handler to one lifecycle event type. Handlers
// run synchronously; a panicking handler is isolated and reported without
// affecting the execution or other handlers.
func (o *Orchestrator) AddEventListener(eventType core.EventType, listener core.Listener) {
	o.events.addListener(eventType, listener)
}

// ExecuteAgent validates the definition and request, then drives one
// execution through the state machine, waiting for a concurrency slot if the
// engine is saturated. It never returns a Go error: every failure path is
// converted into a structured result.
func (o *Orchestrator) ExecuteAgent(ctx context.Context, def core.AgentDefinition, req core.Request, optFns ...func(o *ExecOptions)) ExecutionResult {
	execOpts := newExecOptions(optFns...)

	if err := o.validate(def, req); err != nil {
		// Validation failures produce no side effects: no registration, no
		// events, no statistics.
		return ExecutionResult{
			Success:   false,
			Err:       err,
			ErrorKind: core.ErrorKindValidation,
		}
	}

	if err := o.slots.Acquire(ctx, 1); err != nil {
		return ExecutionResult{
			Success:   false,
			Err:       &core.InternalError{Op: "acquire execution slot", Err: err},
			ErrorKind: core.ErrorKindInternal,
		}
	}
	defer o.slots.Release(1)

	return o.execute(ctx, def, req, execOpts)
}

// QueueExecution accepts work even when the engine is saturated. The triple
// joins a FIFO queue drained whenever capacity frees up; the returned channel
// delivers the eventual result exactly once. Queued work dequeues FIFO but
// may complete out of order.
func (o *Orchestrator) QueueExecution(def core.AgentDefinition, req core.Request, optFns ...func(o *ExecOptions)) <-chan ExecutionResult {
	resultCh := make(chan ExecutionResult, 1)

	if err := o.validate(def, req); err != nil {
		resultCh <- ExecutionResult{Success: false, Err: err, ErrorKind: core.ErrorKindValidation}
		close(resultCh)
		return resultCh
	}

	select {
	case <-o.stopCh:
		resultCh <- ExecutionResult{
			Success:   false,
			Err:       &core.InternalError{Op: "queue execution", Err: errOrchestratorClosed},
			ErrorKind: core.ErrorKindInternal,
		}
		close(resultCh)
		return resultCh
	default:
	}

	o.queue.enqueue(queuedExecution{
		definition: def,
		request:    req,
		opts:       optFns,
		resultCh:   resultCh,
		enqueuedAt: o.opts.Clock.Now(),
	})

	return resultCh
}

// CancelExecution marks an active execution cancelled, removes it from the
// active set and emits agent_cancelled. It is bookkeeping only: an in-flight
// gateway call is not interrupted, but its eventual result is discarded and
// no further events fire for this id. Returns false for unknown (or already
// cancelled) ids.
func (o *Orchestrator) CancelExecution(id string) bool {
	o.mu.Lock()
	exec, ok := o.active[id]
	if ok {
		// Marking under the same lock the terminal path deletes under makes
		// the takeover atomic: whichever side removes the id wins, and the
		// loser stays silent.
		delete(o.active, id)
		exec.markCancelled()
	}
	o.mu.Unlock()

	if !ok {
		return false
	}

	o.stats.recordCancelled()
	o.events.emit(core.Event{
		Type:        core.EventAgentCancelled,
		ExecutionID: id,
		AgentType:   exec.definition.Type,
		Timestamp:   o.opts.Clock.Now(),
	})
	o.opts.Logger.Info("execution cancelled", "execution_id", id)

	return true
}

// ActiveCount reports how many executions are currently in a non-terminal
// state.
func (o *Orchestrator) ActiveCount() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.active)
}

// QueueLength reports how many executions are waiting to be dequeued.
func (o *Orchestrator) QueueLength() int { return o.queue.len() }

// Stats returns a snapshot of the rolling execution statistics.
func (o *Orchestrator) Stats() Stats { return o.stats.snapshot() }

// Close stops the queue scheduler. Pending queued work receives a failure
// result; in-flight executions run to completion.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		for _, item := range o.queue.drain() {
			item.resultCh <- ExecutionResult{
				Success:   false,
				Err:       &core.InternalError{Op: "queue execution", Err: errOrchestratorClosed},
				ErrorKind: core.ErrorKindInternal,
			}
			close(item.resultCh)
		}
	})
}

// schedule drains the queue whenever capacity frees up, dequeuing strictly
// FIFO. The slot is acquired before spawning the execution goroutine so
// dequeue order matches slot-grant order; completions are independent.
func (o *Orchestrator) schedule() {
	// Slot waits abort when the orchestrator closes so a dequeued-but-waiting
	// item can still be failed.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-o.stopCh
		cancel()
	}()

	for {
		select {
		case <-o.stopCh:
			return
		case <-o.queue.signal:
		}

		for {
			item, ok := o.queue.dequeue()
			if !ok {
				break
			}

			if err := o.slots.Acquire(ctx, 1); err != nil {
				item.resultCh <- ExecutionResult{
					Success:   false,
					Err:       &core.InternalError{Op: "queue execution", Err: errOrchestratorClosed},
					ErrorKind: core.ErrorKindInternal,
				}
				close(item.resultCh)
				continue
			}

			o.opts.Logger.Debug("dequeued execution",
				"agent_type", item.definition.Type,
				"queue_wait", o.opts.Clock.Now().Sub(item.enqueuedAt).String(),
			)

			go func(item queuedExecution) {
				defer o.slots.Release(1)
				item.resultCh <- o.execute(context.Background(), item.definition, item.request, newExecOptions(item.opts...))
				close(item.resultCh)
			}(item)
		}
	}
}

// validate applies the shared structural checks for every execution path.
func (o *Orchestrator) validate(def core.AgentDefinition, req core.Request) error {
	if err := def.Validate(); err != nil {
		return err
	}
	if req == nil {
		return core.NewValidationError("request", "request must be a non-nil object")
	}
	return nil
}
