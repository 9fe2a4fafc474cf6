package core

import (
	"context"
	"time"
)

// SourceType categorizes a registered memory source. The assembler shapes
// queries and assigns base scoring weights per type.
type SourceType string

const (
	// SourceTypeWorking holds current-session state. Highest base weight.
	SourceTypeWorking SourceType = "working"
	// SourceTypeProcedural holds workflow, prompt and practice templates.
	SourceTypeProcedural SourceType = "procedural"
	// SourceTypeSemantic holds long-lived facts retrieved per keyword.
	SourceTypeSemantic SourceType = "semantic"
	// SourceTypeEpisodic holds past interaction records queried over a
	// recent time window. Lowest base weight.
	SourceTypeEpisodic SourceType = "episodic"
)

// ItemMetadata describes a memory item for filtering and relevance scoring.
type ItemMetadata struct {
	Type       string    `json:"type,omitempty"`
	Category   string    `json:"category,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
	Priority   int       `json:"priority,omitempty"`   // 1-10
	Confidence float64   `json:"confidence,omitempty"` // 0-1
	CreatedAt  time.Time `json:"created_at,omitempty"`
	ModifiedAt time.Time `json:"modified_at,omitempty"`
	AccessedAt time.Time `json:"accessed_at,omitempty"`
}

// HasTag reports whether the metadata carries the given tag.
func (m ItemMetadata) HasTag(tag string) bool {
	for _, t := range m.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// MemoryItem is a single unit of knowledge owned by a memory source. The
// assembler only reads snapshots; Key is unique within its source.
type MemoryItem struct {
	Key      string       `json:"key"`
	Data     any          `json:"data"`
	Metadata ItemMetadata `json:"metadata"`
}

// DateRange bounds a time-based query filter. Zero values are open ends.
type DateRange struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
}

// Contains reports whether t falls inside the (possibly half-open) range.
func (r DateRange) Contains(t time.Time) bool {
	if !r.Start.IsZero() && t.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && t.After(r.End) {
		return false
	}
	return true
}

// PriorityRange bounds the metadata priority filter, inclusive on both ends.
type PriorityRange struct {
	Min int `json:"min,omitempty"`
	Max int `json:"max,omitempty"`
}

// SortOrder selects ascending or descending result ordering.
type SortOrder string

// Sort orders accepted by QueryFilter.SortOrder.
const (
	SortAsc  SortOrder = "asc"
	SortDesc SortOrder = "desc"
)

// QueryFilter is the uniform query contract every memory source honors.
// Tags match any (not all). Limit of 0 means unbounded.
type QueryFilter struct {
	Type          string         `json:"type,omitempty"`
	Category      string         `json:"category,omitempty"`
	Tags          []string       `json:"tags,omitempty"`
	Keyword       string         `json:"keyword,omitempty"`
	DateRange     *DateRange     `json:"date_range,omitempty"`
	PriorityRange *PriorityRange `json:"priority_range,omitempty"`
	Limit         int            `json:"limit,omitempty"`
	Offset        int            `json:"offset,omitempty"`
	SortBy        string         `json:"sort_by,omitempty"` // "created_at", "modified_at", "priority"
	SortOrder     SortOrder      `json:"sort_order,omitempty"`
}

// MemorySource is the port any knowledge store implements to contribute items
// to context assembly. Query is the assembler's read path; Store, Update and
// Delete serve result-persistence side effects only.
//
// Implementations must be safe for concurrent use: the assembler fans out to
// all registered sources in parallel.
type MemorySource interface {
	Query(ctx context.Context, filter QueryFilter) ([]MemoryItem, error)
	Store(ctx context.Context, item MemoryItem) error
	Update(ctx context.Context, key string, item MemoryItem) error
	Delete(ctx context.Context, key string) error
}
