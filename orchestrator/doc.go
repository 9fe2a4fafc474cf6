// Package orchestrator implements the workflow orchestration engine for
// contextmesh.
//
// The Orchestrator owns per-execution state and drives every agent run
// through an explicit state machine (initialized, preparing, executing,
// processing, completed) with classified-error retry and exponential backoff.
// It bounds concurrent executions, drains a FIFO run queue as capacity frees
// up, chains workflow steps strictly sequentially with a continue-on-error
// policy, and reports lifecycle transitions through a typed event dispatcher
// whose handlers are isolated from each other.
//
// Error model: ExecuteAgent and ExecuteWorkflow never panic or return a Go
// error to the caller - every failure path is converted into a structured
// result tagged with the engine's error taxonomy. Context assembly is
// best-effort and a degraded (empty) context never fails a generation step.
//
// Concurrency model: all shared state (active set, queue, statistics,
// listener registry) is guarded by mutexes; executions proceed independently
// once started, so queued work dequeues FIFO but may complete out of order.
package orchestrator
