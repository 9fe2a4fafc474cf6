package assembler

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// Per-source-type base weights. Working memory outranks procedural, semantic
// and episodic in that order, reflecting recency-of-relevance priority.
const (
	baseWeightWorking    = 3.0
	baseWeightProcedural = 2.5
	baseWeightSemantic   = 2.0
	baseWeightEpisodic   = 1.5

	// maxScore caps the multiplicative total.
	maxScore = 10.0
)

// Tags that mark an item as explicitly trustworthy for the quality bonus.
var qualityTags = []string{"success", "verified", "important"}

func baseWeight(st core.SourceType) float64 {
	switch st {
	case core.SourceTypeWorking:
		return baseWeightWorking
	case core.SourceTypeProcedural:
		return baseWeightProcedural
	case core.SourceTypeSemantic:
		return baseWeightSemantic
	case core.SourceTypeEpisodic:
		return baseWeightEpisodic
	default:
		return 1.0
	}
}

// scoreItem computes the relevance breakdown for one item. The factor order
// is a fixed heuristic kept stable for reproducible ranking:
//
//	total = min(10, base * (1+keyword) * (1+type) * (1+recency) * (1+quality))
func scoreItem(item core.MemoryItem, st core.SourceType, req core.ContextRequest, now time.Time) core.RelevanceScore {
	score := core.RelevanceScore{
		Base:    baseWeight(st),
		Keyword: keywordOverlapRatio(item, req.Keywords),
		Type:    typeTargetMatchRatio(item, req),
		Recency: recencyDecay(item.Metadata.CreatedAt, now),
		Quality: qualityBonus(item.Metadata),
	}

	total := score.Base * (1 + score.Keyword) * (1 + score.Type) * (1 + score.Recency) * (1 + score.Quality)
	if total > maxScore {
		total = maxScore
	}
	score.Total = total

	return score
}

// keywordOverlapRatio returns the fraction of requested keywords found in the
// item's serialized form, case-insensitively. More matching keywords never
// lower the result.
func keywordOverlapRatio(item core.MemoryItem, keywords []string) float64 {
	if len(keywords) == 0 {
		return 0
	}

	serialized := strings.ToLower(serializeItem(item))
	found := 0
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(serialized, strings.ToLower(kw)) {
			found++
		}
	}

	return float64(found) / float64(len(keywords))
}

// typeTargetMatchRatio rewards metadata matching the request's type and
// target: each requested dimension contributes equally.
func typeTargetMatchRatio(item core.MemoryItem, req core.ContextRequest) float64 {
	checks, matched := 0, 0

	if req.Type != "" {
		checks++
		if item.Metadata.Type == req.Type || item.Metadata.HasTag(req.Type) {
			matched++
		}
	}
	if req.Target != "" {
		checks++
		target := strings.ToLower(req.Target)
		if strings.ToLower(item.Metadata.Category) == target ||
			item.Metadata.HasTag(req.Target) ||
			strings.Contains(strings.ToLower(serializeItem(item)), target) {
			matched++
		}
	}

	if checks == 0 {
		return 0
	}
	return float64(matched) / float64(checks)
}

// recencyDecay favors recently created items: within the last hour scores
// highest, then day, then week, else minimal.
func recencyDecay(createdAt time.Time, now time.Time) float64 {
	if createdAt.IsZero() {
		return 0.1
	}
	age := now.Sub(createdAt)
	switch {
	case age <= time.Hour:
		return 1.0
	case age <= 24*time.Hour:
		return 0.6
	case age <= 7*24*time.Hour:
		return 0.3
	default:
		return 0.1
	}
}

// qualityBonus rewards explicit priority, trust tags and confidence.
func qualityBonus(md core.ItemMetadata) float64 {
	bonus := float64(md.Priority) / 10 * 0.5

	for _, t := range qualityTags {
		if md.HasTag(t) {
			bonus += 0.3
			break
		}
	}

	bonus += md.Confidence * 0.2

	return bonus
}

// serializeItem renders an item to its canonical JSON form used both for
// keyword matching and size accounting. Marshal failures degrade to the key.
func serializeItem(item core.MemoryItem) string {
	b, err := json.Marshal(item)
	if err != nil {
		return item.Key
	}
	return string(b)
}
