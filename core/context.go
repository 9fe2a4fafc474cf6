package core

import "time"

// ContextRequest describes what the caller wants assembled. It is a value
// object without identity; identical requests are interchangeable (and cached
// under a shared fingerprint).
type ContextRequest struct {
	// Type is the requesting agent type, used for relevance targeting.
	Type string `json:"type"`
	// Target optionally names the subject the context should center on.
	Target string `json:"target,omitempty"`
	// Keywords steer semantic retrieval and overlap scoring.
	Keywords []string `json:"keywords,omitempty"`
	// Filters are forwarded to sources after per-source shaping.
	Filters map[string]any `json:"filters,omitempty"`
	// MaxSizeBytes bounds the serialized size of included items. Zero uses
	// the assembler default.
	MaxSizeBytes int `json:"max_size_bytes,omitempty"`
}

// RelevanceScore is the per-item scoring breakdown, recomputed on every
// assembly and never persisted. Total is capped at 10.
type RelevanceScore struct {
	Base    float64 `json:"base"`
	Keyword float64 `json:"keyword"`
	Type    float64 `json:"type"`
	Recency float64 `json:"recency"`
	Quality float64 `json:"quality"`
	Total   float64 `json:"total"`
}

// ScoredItem pairs a (possibly compressed) memory item with its score and the
// source it came from.
type ScoredItem struct {
	Item       MemoryItem     `json:"item"`
	Score      RelevanceScore `json:"score"`
	Source     string         `json:"source"`
	SourceType SourceType     `json:"source_type"`
	// Compressed marks items whose payload was truncated to fit the budget.
	Compressed bool `json:"compressed,omitempty"`
	// SizeBytes is the serialized payload size counted against the budget.
	SizeBytes int `json:"size_bytes"`
}

// ContextSummary aggregates assembly statistics for observability and prompt
// preamble construction.
type ContextSummary struct {
	TotalItems    int            `json:"total_items"`
	TotalBytes    int            `json:"total_bytes"`
	PerSource     map[string]int `json:"per_source,omitempty"`
	TopScores     []float64      `json:"top_scores,omitempty"` // best five totals
	MeanRelevance float64        `json:"mean_relevance,omitempty"`
	// Error is set when assembly degraded to an empty context instead of
	// failing the caller.
	Error string `json:"error,omitempty"`
}

// AssembledContext is the transient product of one assembly pass: ranked,
// budget-trimmed items plus bookkeeping metadata. Instances are cached under
// a request fingerprint for a short TTL and must be treated as immutable.
type AssembledContext struct {
	Summary     ContextSummary `json:"summary"`
	Items       []ScoredItem   `json:"items"`
	AssembledAt time.Time      `json:"assembled_at"`
	Fingerprint string         `json:"fingerprint,omitempty"`
}
