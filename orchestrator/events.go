package orchestrator

import (
	"fmt"
	"sync"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// dispatcher is a typed listener registry. Handlers run synchronously on the
// emitting goroutine but are isolated per handler: one panicking listener is
// recovered, reported through the logger and never affects the others or the
// execution that emitted the event.
type dispatcher struct {
	mu        sync.RWMutex
	listeners map[core.EventType][]core.Listener
	logger    logging.Logger
}

func newDispatcher(logger logging.Logger) *dispatcher {
	return &dispatcher{
		listeners: make(map[core.EventType][]core.Listener),
		logger:    logger,
	}
}

// addListener registers a handler for one event type.
func (d *dispatcher) addListener(eventType core.EventType, listener core.Listener) {
	if listener == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.listeners[eventType] = append(d.listeners[eventType], listener)
}

// emit delivers the event to every registered handler for its type.
func (d *dispatcher) emit(event core.Event) {
	d.mu.RLock()
	handlers := make([]core.Listener, len(d.listeners[event.Type]))
	copy(handlers, d.listeners[event.Type])
	d.mu.RUnlock()

	for _, handler := range handlers {
		d.invoke(handler, event)
	}
}

func (d *dispatcher) invoke(handler core.Listener, event core.Event) {
	defer func() {
		if r := recover(); r != nil {
			fault := &core.InternalError{Op: "event listener", Err: fmt.Errorf("%v", r)}
			d.logger.Error("event listener fault", "event", string(event.Type), "execution_id", event.ExecutionID, "error", fault.Error())
		}
	}()
	handler(event)
}
