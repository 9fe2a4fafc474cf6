package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/gateway"
	"github.com/hupe1980/contextmesh/internal/testutil"
	"github.com/hupe1980/contextmesh/memory"
)

func testDefinition() core.AgentDefinition {
	return core.AgentDefinition{
		Type:           "researcher",
		PromptTemplate: "Research {{topic}}",
	}
}

func newTestOrchestrator(t *testing.T, g gateway.Gateway, optFns ...func(o *Options)) (*Orchestrator, *testutil.FakeClock) {
	t.Helper()

	clock := testutil.NewFakeClock(time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC))

	o := New(append([]func(o *Options){func(o *Options) {
		o.Gateway = g
		o.Clock = clock
	}}, optFns...)...)
	t.Cleanup(o.Close)

	return o, clock
}

// gatewayFunc adapts a function to the Gateway interface for tests needing
// custom call behavior.
type gatewayFunc func(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error)

func (f gatewayFunc) GenerateCompletion(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
	return f(ctx, req)
}

func TestExecuteAgentSuccess(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.AddResponse("Research golang", "findings")

	o, _ := newTestOrchestrator(t, g)

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})

	assert.True(t, result.Success)
	assert.Equal(t, "findings", result.Result)
	assert.Equal(t, "researcher", result.AgentType)
	assert.NotEmpty(t, result.ExecutionID)
	assert.Zero(t, result.RetryCount)
	assert.NoError(t, result.Err)
	assert.Zero(t, o.ActiveCount())

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.TotalExecutions)
	assert.Equal(t, int64(1), stats.Successes)
}

func TestExecuteAgentValidationFailure(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	var events int32
	o.AddEventListener(core.EventAgentStart, func(core.Event) { atomic.AddInt32(&events, 1) })
	o.AddEventListener(core.EventAgentError, func(core.Event) { atomic.AddInt32(&events, 1) })

	result := o.ExecuteAgent(context.Background(), core.AgentDefinition{Type: "broken"}, core.Request{})

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindValidation, result.ErrorKind)
	assert.True(t, core.IsValidation(result.Err))

	// Invalid input produces no side effects at all.
	assert.Zero(t, g.Calls())
	assert.Zero(t, atomic.LoadInt32(&events))
	assert.Zero(t, o.Stats().TotalExecutions)
}

func TestExecuteAgentNilRequest(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	result := o.ExecuteAgent(context.Background(), testDefinition(), nil)

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindValidation, result.ErrorKind)
}

func TestExecuteAgentRetriesTransientFailures(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.AddResponse("Research golang", "findings")
	g.FailWith(
		core.NewTransientError("timeout", errors.New("slow")),
		core.NewTransientError("server", errors.New("503")),
	)

	o, clock := newTestOrchestrator(t, g, func(o *Options) {
		o.BaseRetryDelay = 100 * time.Millisecond
	})

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 3, g.Calls())

	// Exponential backoff: 2^0 * base, 2^1 * base.
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, clock.Delays())
}

func TestExecuteAgentRetryExhaustion(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.FailWith(
		core.NewTransientError("server", errors.New("503")),
		core.NewTransientError("server", errors.New("503")),
		core.NewTransientError("server", errors.New("503")),
	)

	o, clock := newTestOrchestrator(t, g, func(o *Options) {
		o.MaxRetries = 2
		o.BaseRetryDelay = 50 * time.Millisecond
	})

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindTransient, result.ErrorKind)
	assert.Equal(t, 2, result.RetryCount)
	assert.Equal(t, 3, g.Calls()) // initial attempt + 2 retries
	assert.Equal(t, []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}, clock.Delays())

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Failures)
}

func TestExecuteAgentDefinitionRetryOverride(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.FailWith(core.NewTransientError("server", errors.New("503")))

	o, clock := newTestOrchestrator(t, g)

	def := testDefinition()
	def.MaxRetries = -1 // disable retries for this agent

	result := o.ExecuteAgent(context.Background(), def, core.Request{"topic": "golang"})

	assert.False(t, result.Success)
	assert.Equal(t, 1, g.Calls())
	assert.Empty(t, clock.Delays())
}

func TestExecuteAgentNonRetryableFailsImmediately(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.FailWith(errors.New("provider rejected the request"))

	o, clock := newTestOrchestrator(t, g)

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindInternal, result.ErrorKind)
	assert.Equal(t, 1, g.Calls())
	assert.Empty(t, clock.Delays())
}

func TestExecuteAgentSchemaValidation(t *testing.T) {
	schema := json.RawMessage(`{
		"type": "object",
		"properties": {"answer": {"type": "string"}},
		"required": ["answer"]
	}`)

	tests := []struct {
		name     string
		response string
		wantKind core.ErrorKind
	}{
		{"valid", `{"answer": "42"}`, ""},
		{"missing required", `{"other": 1}`, core.ErrorKindSchema},
		{"not json", "plain prose", core.ErrorKindSchema},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gateway.NewMockGateway("test-model")
			g.AddResponse("Research golang", tt.response)

			o, _ := newTestOrchestrator(t, g)

			def := testDefinition()
			def.ResponseSchema = schema

			result := o.ExecuteAgent(context.Background(), def, core.Request{"topic": "golang"})

			if tt.wantKind == "" {
				assert.True(t, result.Success)
				return
			}

			assert.False(t, result.Success)
			assert.Equal(t, tt.wantKind, result.ErrorKind)
			// Schema violations are never retried.
			assert.Equal(t, 1, g.Calls())
		})
	}
}

func TestExecuteAgentUncompilableSchema(t *testing.T) {
	g := gateway.NewMockGateway("test-model")

	o, _ := newTestOrchestrator(t, g)

	def := testDefinition()
	def.ResponseSchema = json.RawMessage(`{"type": 123}`)

	result := o.ExecuteAgent(context.Background(), def, core.Request{"topic": "golang"})

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindValidation, result.ErrorKind)
}

func TestExecuteAgentPromptRendering(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	def := core.AgentDefinition{
		Type:           "summarizer",
		PromptTemplate: "Summarize {{title}} about {{topic}} keeping {{missing}}",
		SystemPrompt:   "be brief",
		PreferredModel: "custom-model",
		MaxTokens:      256,
		Temperature:    0.2,
	}

	result := o.ExecuteAgent(context.Background(), def, core.Request{"title": "Q3 report", "topic": "latency"})
	require.True(t, result.Success)

	reqs := g.Requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, "Summarize Q3 report about latency keeping {{missing}}", reqs[0].Prompt)
	assert.Equal(t, "be brief", reqs[0].SystemPrompt)
	assert.Equal(t, "custom-model", reqs[0].Model)
	assert.Equal(t, 256, reqs[0].MaxTokens)
	assert.InDelta(t, 0.2, reqs[0].Temperature, 1e-9)
}

func TestExecuteAgentConcurrencyBound(t *testing.T) {
	const limit = 2

	var current, peak int32
	release := make(chan struct{})

	g := gatewayFunc(func(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
		n := atomic.AddInt32(&current, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		<-release
		atomic.AddInt32(&current, -1)
		return &gateway.CompletionResult{Content: "ok"}, nil
	})

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.MaxConcurrentAgents = limit
	})

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})
			assert.True(t, result.Success)
		}()
	}

	// Let the first executions reach the gateway, then release everything.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(limit))
	assert.Equal(t, int64(5), o.Stats().TotalExecutions)
}

func TestCancelExecution(t *testing.T) {
	started := make(chan string, 1)
	release := make(chan struct{})

	g := gatewayFunc(func(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
		<-release
		return &gateway.CompletionResult{Content: "late"}, nil
	})

	o, _ := newTestOrchestrator(t, g)

	o.AddEventListener(core.EventAgentStart, func(e core.Event) { started <- e.ExecutionID })

	var terminalEvents int32
	o.AddEventListener(core.EventAgentComplete, func(core.Event) { atomic.AddInt32(&terminalEvents, 1) })
	o.AddEventListener(core.EventAgentError, func(core.Event) { atomic.AddInt32(&terminalEvents, 1) })

	var cancelled int32
	o.AddEventListener(core.EventAgentCancelled, func(core.Event) { atomic.AddInt32(&cancelled, 1) })

	resultCh := make(chan ExecutionResult, 1)
	go func() {
		resultCh <- o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})
	}()

	id := <-started

	assert.True(t, o.CancelExecution(id))
	assert.False(t, o.CancelExecution(id), "second cancel of the same id")
	assert.False(t, o.CancelExecution("unknown-id"))
	assert.Zero(t, o.ActiveCount())

	close(release)
	result := <-resultCh

	// The late result is discarded: reported unsuccessful, no terminal events.
	assert.False(t, result.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&cancelled))
	assert.Zero(t, atomic.LoadInt32(&terminalEvents))

	stats := o.Stats()
	assert.Equal(t, int64(1), stats.Cancellations)
	assert.Zero(t, stats.TotalExecutions)
}

func TestCancelAndCompletionAreExclusive(t *testing.T) {
	const runs = 64

	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g, func(o *Options) { o.MaxConcurrentAgents = 8 })

	var mu sync.Mutex
	eventsByID := make(map[string][]core.EventType)
	record := func(e core.Event) {
		mu.Lock()
		eventsByID[e.ExecutionID] = append(eventsByID[e.ExecutionID], e.Type)
		mu.Unlock()
	}
	o.AddEventListener(core.EventAgentComplete, record)
	o.AddEventListener(core.EventAgentError, record)
	o.AddEventListener(core.EventAgentCancelled, record)

	// Cancel every execution as soon as it starts, racing the instant
	// completion from the mock gateway.
	ids := make(chan string, runs)
	o.AddEventListener(core.EventAgentStart, func(e core.Event) { ids <- e.ExecutionID })

	var cancelWG sync.WaitGroup
	cancelWG.Add(1)
	go func() {
		defer cancelWG.Done()
		for id := range ids {
			o.CancelExecution(id)
		}
	}()

	var execWG sync.WaitGroup
	for i := 0; i < runs; i++ {
		execWG.Add(1)
		go func() {
			defer execWG.Done()
			o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "race"})
		}()
	}
	execWG.Wait()
	close(ids)
	cancelWG.Wait()

	mu.Lock()
	defer mu.Unlock()

	for id, seq := range eventsByID {
		var cancelled, terminal bool
		for _, typ := range seq {
			switch typ {
			case core.EventAgentCancelled:
				cancelled = true
			case core.EventAgentComplete, core.EventAgentError:
				terminal = true
			}
		}
		require.Len(t, seq, 1, "execution %s", id)
		assert.False(t, cancelled && terminal, "execution %s emitted both cancelled and terminal events", id)
	}

	// Every run is accounted exactly once, as a completion or a cancellation.
	stats := o.Stats()
	assert.Equal(t, int64(runs), stats.TotalExecutions+stats.Cancellations)
}

func TestQueueExecutionDeliversResult(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.AddResponse("Research golang", "findings")

	o, _ := newTestOrchestrator(t, g)

	resultCh := o.QueueExecution(testDefinition(), core.Request{"topic": "golang"})

	select {
	case result := <-resultCh:
		assert.True(t, result.Success)
		assert.Equal(t, "findings", result.Result)
	case <-time.After(5 * time.Second):
		t.Fatal("queued execution did not finish")
	}
}

func TestQueueExecutionValidationFailsFast(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	result := <-o.QueueExecution(core.AgentDefinition{}, core.Request{})

	assert.False(t, result.Success)
	assert.Equal(t, core.ErrorKindValidation, result.ErrorKind)
	assert.Zero(t, g.Calls())
}

func TestQueueExecutionFIFOOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	release := make(chan struct{})

	g := gatewayFunc(func(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
		mu.Lock()
		order = append(order, req.Prompt)
		mu.Unlock()
		<-release
		return &gateway.CompletionResult{Content: "ok"}, nil
	})

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.MaxConcurrentAgents = 1
	})

	def := core.AgentDefinition{Type: "worker", PromptTemplate: "{{job}}"}

	var channels []<-chan ExecutionResult
	for _, job := range []string{"first", "second", "third"} {
		channels = append(channels, o.QueueExecution(def, core.Request{"job": job}))
	}

	close(release)
	for _, ch := range channels {
		select {
		case result := <-ch:
			assert.True(t, result.Success)
		case <-time.After(5 * time.Second):
			t.Fatal("queued execution did not finish")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestCloseFailsPendingQueue(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	g := gatewayFunc(func(ctx context.Context, req gateway.CompletionRequest) (*gateway.CompletionResult, error) {
		<-release
		return &gateway.CompletionResult{Content: "ok"}, nil
	})

	clock := testutil.NewFakeClock(time.Now())
	o := New(func(opt *Options) {
		opt.Gateway = g
		opt.Clock = clock
		opt.MaxConcurrentAgents = 1
	})

	// Saturate the single slot so further work stays queued.
	go o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})

	for o.ActiveCount() == 0 {
		time.Sleep(time.Millisecond)
	}

	resultCh := o.QueueExecution(testDefinition(), core.Request{"topic": "y"})

	o.Close()

	select {
	case result := <-resultCh:
		assert.False(t, result.Success)
		assert.Equal(t, core.ErrorKindInternal, result.ErrorKind)
	case <-time.After(5 * time.Second):
		t.Fatal("pending queued execution was not failed on close")
	}
}

func TestListenerPanicIsolated(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	var observed int32
	o.AddEventListener(core.EventAgentComplete, func(core.Event) { panic("listener bug") })
	o.AddEventListener(core.EventAgentComplete, func(core.Event) { atomic.AddInt32(&observed, 1) })

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})

	assert.True(t, result.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&observed))
}

func TestExecuteAgentEvents(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	o, _ := newTestOrchestrator(t, g)

	var mu sync.Mutex
	var sequence []core.EventType
	record := func(e core.Event) {
		mu.Lock()
		defer mu.Unlock()
		sequence = append(sequence, e.Type)
	}
	o.AddEventListener(core.EventAgentStart, record)
	o.AddEventListener(core.EventAgentComplete, record)

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})
	require.True(t, result.Success)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []core.EventType{core.EventAgentStart, core.EventAgentComplete}, sequence)
}

func TestExecuteAgentStoresResults(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.AddResponse("Research golang", "findings")

	source := memory.NewInMemorySource()

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.ResultSource = source
	})

	def := testDefinition()
	def.StoreResults = true

	result := o.ExecuteAgent(context.Background(), def, core.Request{"topic": "golang"})
	require.True(t, result.Success)

	stored, err := source.Query(context.Background(), core.QueryFilter{Type: "agent_result"})
	require.NoError(t, err)
	require.Len(t, stored, 1)

	data, ok := stored[0].Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "findings", data["result"])
	assert.Equal(t, result.ExecutionID, data["execution_id"])
}

func TestExecuteAgentResponseProcessor(t *testing.T) {
	g := gateway.NewMockGateway("test-model")
	g.AddResponse("Research golang", "raw")

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.ResponseProcessor = core.ResponseProcessorFunc(func(ctx context.Context, def core.AgentDefinition, content string) (any, error) {
			return content + " [processed]", nil
		})
	})

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})

	require.True(t, result.Success)
	assert.Equal(t, "raw [processed]", result.Result)
}

func TestExecuteAgentAssemblyFailureDegrades(t *testing.T) {
	g := gateway.NewMockGateway("test-model")

	failing := assemblerFunc(func(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error) {
		return core.AssembledContext{}, errors.New("sources down")
	})

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.Assembler = failing
	})

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "x"})

	// Assembly is best-effort: the execution proceeds with empty context.
	assert.True(t, result.Success)
	assert.Equal(t, 1, g.Calls())
}

// assemblerFunc adapts a function to the ContextAssembler interface.
type assemblerFunc func(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error)

func (f assemblerFunc) AssembleContext(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error) {
	return f(ctx, req)
}

func TestExecuteAgentInjectsAssembledContext(t *testing.T) {
	g := gateway.NewMockGateway("test-model")

	stub := assemblerFunc(func(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error) {
		return core.AssembledContext{
			Items: []core.ScoredItem{{
				Item:   core.MemoryItem{Key: "prior-run", Data: "previous findings"},
				Source: "episodic",
			}},
		}, nil
	})

	o, _ := newTestOrchestrator(t, g, func(o *Options) {
		o.Assembler = stub
	})

	result := o.ExecuteAgent(context.Background(), testDefinition(), core.Request{"topic": "golang"})
	require.True(t, result.Success)

	reqs := g.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Prompt, "Research golang")
	assert.Contains(t, reqs[0].Prompt, "## Context")
	assert.Contains(t, reqs[0].Prompt, "prior-run")
	assert.Contains(t, reqs[0].Prompt, "previous findings")
}
