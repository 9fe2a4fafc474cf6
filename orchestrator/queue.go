package orchestrator

import (
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// queuedExecution is one deferred run accepted by QueueExecution.
type queuedExecution struct {
	definition core.AgentDefinition
	request    core.Request
	opts       []func(o *ExecOptions)
	resultCh   chan ExecutionResult
	enqueuedAt time.Time
}

// executionQueue is an unbounded FIFO with a wake-on-enqueue signal so the
// scheduler never polls. Dequeue order is strict FIFO; completion order is
// not guaranteed because executions proceed independently once dequeued.
type executionQueue struct {
	mu     sync.Mutex
	items  []queuedExecution
	signal chan struct{}
}

func newExecutionQueue() *executionQueue {
	return &executionQueue{signal: make(chan struct{}, 1)}
}

// enqueue appends and wakes the scheduler. The signal channel is buffered
// with capacity one: coalesced wake-ups are fine because the scheduler
// drains the queue fully each time it wakes.
func (q *executionQueue) enqueue(item queuedExecution) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// dequeue removes and returns the oldest entry.
func (q *executionQueue) dequeue() (queuedExecution, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedExecution{}, false
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item, true
}

// len reports the number of pending entries.
func (q *executionQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// drain removes and returns everything pending, oldest first.
func (q *executionQueue) drain() []queuedExecution {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
