package assembler

import (
	"fmt"
	"unicode/utf8"

	"github.com/hupe1980/contextmesh/core"
)

const (
	// compressedStringLimit bounds string payloads after compression.
	compressedStringLimit = 200
)

// essentialFields is the structured-payload subset kept by compression.
var essentialFields = []string{"type", "name", "title", "summary", "description", "result", "status"}

// trimToBudget greedily includes ranked items while the running serialized
// size stays within maxSizeBytes. An item that would overflow is retried in a
// compressed representation; if even that overflows, inclusion stops - lower
// ranked items are dropped, never reordered.
func trimToBudget(ranked []core.ScoredItem, maxSizeBytes int) ([]core.ScoredItem, int) {
	included := make([]core.ScoredItem, 0, len(ranked))
	total := 0

	for _, candidate := range ranked {
		size := len(serializeItem(candidate.Item))
		if total+size <= maxSizeBytes {
			candidate.SizeBytes = size
			total += size
			included = append(included, candidate)
			continue
		}

		compressed := compressItem(candidate.Item)
		compressedSize := len(serializeItem(compressed))
		if total+compressedSize <= maxSizeBytes {
			candidate.Item = compressed
			candidate.Compressed = true
			candidate.SizeBytes = compressedSize
			total += compressedSize
			included = append(included, candidate)
			continue
		}

		break
	}

	return included, total
}

// compressItem produces a reduced representation of an item: string payloads
// are truncated, structured payloads keep only a small essential-field
// subset. Metadata is preserved untouched.
func compressItem(item core.MemoryItem) core.MemoryItem {
	compressed := item

	switch data := item.Data.(type) {
	case string:
		compressed.Data = truncate(data, compressedStringLimit)
	case map[string]any:
		kept := make(map[string]any)
		for _, field := range essentialFields {
			if v, ok := data[field]; ok {
				if s, isStr := v.(string); isStr {
					kept[field] = truncate(s, compressedStringLimit)
				} else {
					kept[field] = v
				}
			}
		}
		compressed.Data = kept
	default:
		compressed.Data = truncate(fmt.Sprintf("%v", data), compressedStringLimit)
	}

	return compressed
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	// back up to a rune boundary so the cut never produces invalid UTF-8
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
