package core

import "time"

// EventType identifies an orchestrator lifecycle event.
type EventType string

// Lifecycle events emitted per execution. Cancelled executions emit no
// further events after EventAgentCancelled.
const (
	EventAgentStart     EventType = "agent_start"
	EventAgentComplete  EventType = "agent_complete"
	EventAgentError     EventType = "agent_error"
	EventAgentCancelled EventType = "agent_cancelled"
)

// Event is an immutable lifecycle notification. Err is only set for
// agent_error; Duration only for terminal events.
type Event struct {
	Type        EventType      `json:"type"`
	ExecutionID string         `json:"execution_id"`
	AgentType   string         `json:"agent_type"`
	Timestamp   time.Time      `json:"timestamp"`
	Duration    time.Duration  `json:"duration,omitempty"`
	Err         error          `json:"-"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Listener receives orchestrator events. Handlers run synchronously on the
// emitting goroutine; a panicking handler is isolated and reported, it never
// aborts the execution that emitted the event.
type Listener func(Event)
