// Package memory contains concrete MemorySource implementations. The source
// contract and item types reside in the core package. Import
// github.com/hupe1980/contextmesh/core and depend on core.MemorySource in
// your code; select an implementation (like the in-memory source below, or
// the sqlite subpackage) at wiring time.
//
// Rationale: keeps domain contracts centralized while allowing pluggable
// backends (vector databases, embeddings indexes, etc.) to be added without
// introducing dependency cycles.
package memory
