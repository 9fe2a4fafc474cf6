// Package core provides the foundational domain types, ports and error
// taxonomy used by contextmesh. It defines the core abstractions for:
//
//   - Agent definitions (immutable descriptors of a single model-backed task)
//   - Memory sources (pluggable knowledge stores queried during assembly)
//   - Context requests and assembled contexts (budgeted, relevance-ranked)
//   - Lifecycle events emitted by the orchestrator
//   - A classified error taxonomy driving retry decisions
//
// The package intentionally keeps implementation concerns (orchestration,
// scoring, concrete source backends) out of scope, exposing small interfaces
// so custom backends and model gateways can be plugged in without introducing
// dependency cycles.
package core
