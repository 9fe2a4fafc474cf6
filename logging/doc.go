// Package logging provides a tiny abstraction over slog so downstream code can
// depend on a minimal interface (Logger) while allowing users to plug any
// structured logger. It also offers a richer ContextMeshLogger with contextual
// helpers (execution, workflow, component) and domain specific logging helpers
// for model calls, context assembly and retries.
package logging
