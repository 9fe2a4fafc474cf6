package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/contextmesh/core"
)

// InMemorySource is a process-local core.MemorySource. It honors the full
// query contract (type, category, any-match tags, keyword substring, date
// range, priority range, sorting, limit/offset) with a linear scan.
//
// Concurrency: protected by RWMutex. Suitable for tests, demos and as the
// default working-memory source; swap for a durable backend in production.
type InMemorySource struct {
	mu    sync.RWMutex
	items map[string]core.MemoryItem
}

// NewInMemorySource creates an empty in-memory source.
func NewInMemorySource() *InMemorySource {
	return &InMemorySource{items: make(map[string]core.MemoryItem)}
}

// Query implements core.MemorySource. Results are stable: matching items are
// sorted by the requested field (created_at descending by default) so
// repeated queries over unchanged data return identical sequences.
func (s *InMemorySource) Query(ctx context.Context, filter core.QueryFilter) ([]core.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	matched := make([]core.MemoryItem, 0, len(s.items))
	for _, item := range s.items {
		if matches(item, filter) {
			matched = append(matched, item)
		}
	}
	s.mu.RUnlock()

	sortItems(matched, filter.SortBy, filter.SortOrder)

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return []core.MemoryItem{}, nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}

	return matched, nil
}

// Store implements core.MemorySource. An existing key is overwritten.
func (s *InMemorySource) Store(ctx context.Context, item core.MemoryItem) error {
	if item.Key == "" {
		return fmt.Errorf("memory item requires a key")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.Key] = item
	return nil
}

// Update implements core.MemorySource.
func (s *InMemorySource) Update(ctx context.Context, key string, item core.MemoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists {
		return fmt.Errorf("memory item %q not found", key)
	}
	item.Key = key
	s.items[key] = item
	return nil
}

// Delete implements core.MemorySource.
func (s *InMemorySource) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[key]; !exists {
		return fmt.Errorf("memory item %q not found", key)
	}
	delete(s.items, key)
	return nil
}

// Len returns the number of stored items.
func (s *InMemorySource) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func matches(item core.MemoryItem, filter core.QueryFilter) bool {
	md := item.Metadata

	if filter.Type != "" && md.Type != filter.Type {
		return false
	}
	if filter.Category != "" && md.Category != filter.Category {
		return false
	}
	if len(filter.Tags) > 0 {
		any := false
		for _, t := range filter.Tags {
			if md.HasTag(t) {
				any = true
				break
			}
		}
		if !any {
			return false
		}
	}
	if filter.Keyword != "" {
		serialized, err := json.Marshal(item)
		if err != nil || !strings.Contains(strings.ToLower(string(serialized)), strings.ToLower(filter.Keyword)) {
			return false
		}
	}
	if filter.DateRange != nil && !filter.DateRange.Contains(md.CreatedAt) {
		return false
	}
	if pr := filter.PriorityRange; pr != nil {
		if md.Priority < pr.Min {
			return false
		}
		if pr.Max > 0 && md.Priority > pr.Max {
			return false
		}
	}

	return true
}

func sortItems(items []core.MemoryItem, sortBy string, order core.SortOrder) {
	desc := order != core.SortAsc // descending unless explicitly ascending

	sort.SliceStable(items, func(i, j int) bool {
		a, b := items[i], items[j]
		var less bool
		switch sortBy {
		case "priority":
			if a.Metadata.Priority != b.Metadata.Priority {
				less = a.Metadata.Priority < b.Metadata.Priority
			} else {
				less = a.Key < b.Key
			}
		case "modified_at":
			if !a.Metadata.ModifiedAt.Equal(b.Metadata.ModifiedAt) {
				less = a.Metadata.ModifiedAt.Before(b.Metadata.ModifiedAt)
			} else {
				less = a.Key < b.Key
			}
		default: // created_at
			if !a.Metadata.CreatedAt.Equal(b.Metadata.CreatedAt) {
				less = a.Metadata.CreatedAt.Before(b.Metadata.CreatedAt)
			} else {
				less = a.Key < b.Key
			}
		}
		if desc {
			return !less
		}
		return less
	})
}

var _ core.MemorySource = (*InMemorySource)(nil)
