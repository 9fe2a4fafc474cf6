package assembler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hupe1980/contextmesh/core"
)

var scoreNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func TestScoreItemWorkingOutranksEpisodic(t *testing.T) {
	item := core.MemoryItem{
		Key:      "task",
		Data:     map[string]any{"summary": "deploy"},
		Metadata: core.ItemMetadata{CreatedAt: scoreNow.Add(-10 * time.Minute)},
	}
	req := core.ContextRequest{Type: "researcher"}

	working := scoreItem(item, core.SourceTypeWorking, req, scoreNow)
	episodic := scoreItem(item, core.SourceTypeEpisodic, req, scoreNow)

	assert.Greater(t, working.Total, episodic.Total)
	assert.Equal(t, 3.0, working.Base)
	assert.Equal(t, 1.5, episodic.Base)
}

func TestScoreItemCappedAtTen(t *testing.T) {
	item := core.MemoryItem{
		Key:  "hot",
		Data: map[string]any{"summary": "alpha beta gamma"},
		Metadata: core.ItemMetadata{
			Type:       "researcher",
			Tags:       []string{"success"},
			Priority:   10,
			Confidence: 1.0,
			CreatedAt:  scoreNow.Add(-time.Minute),
		},
	}
	req := core.ContextRequest{
		Type:     "researcher",
		Keywords: []string{"alpha", "beta", "gamma"},
	}

	score := scoreItem(item, core.SourceTypeWorking, req, scoreNow)

	assert.Equal(t, 10.0, score.Total)
}

func TestKeywordOverlapRatioMonotonic(t *testing.T) {
	item := core.MemoryItem{
		Key:  "doc",
		Data: map[string]any{"summary": "alpha beta"},
	}

	none := keywordOverlapRatio(item, []string{"zeta"})
	one := keywordOverlapRatio(item, []string{"alpha", "zeta"})
	both := keywordOverlapRatio(item, []string{"alpha", "beta"})

	assert.Equal(t, 0.0, none)
	assert.Equal(t, 0.5, one)
	assert.Equal(t, 1.0, both)
}

func TestKeywordOverlapRatioCaseInsensitive(t *testing.T) {
	item := core.MemoryItem{Key: "doc", Data: "The Alpha protocol"}

	assert.Equal(t, 1.0, keywordOverlapRatio(item, []string{"ALPHA"}))
}

func TestRecencyDecayTiers(t *testing.T) {
	tests := []struct {
		name string
		age  time.Duration
		want float64
	}{
		{"within hour", 30 * time.Minute, 1.0},
		{"within day", 5 * time.Hour, 0.6},
		{"within week", 3 * 24 * time.Hour, 0.3},
		{"older", 30 * 24 * time.Hour, 0.1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, recencyDecay(scoreNow.Add(-tt.age), scoreNow))
		})
	}
}

func TestRecencyDecayZeroTime(t *testing.T) {
	assert.Equal(t, 0.1, recencyDecay(time.Time{}, scoreNow))
}

func TestQualityBonus(t *testing.T) {
	md := core.ItemMetadata{
		Priority:   8,
		Tags:       []string{"verified"},
		Confidence: 0.5,
	}

	// 8/10*0.5 + 0.3 + 0.5*0.2
	assert.InDelta(t, 0.8, qualityBonus(md), 1e-9)
}

func TestQualityBonusTagCountedOnce(t *testing.T) {
	md := core.ItemMetadata{Tags: []string{"success", "verified", "important"}}

	assert.InDelta(t, 0.3, qualityBonus(md), 1e-9)
}

func TestScoreDeterministic(t *testing.T) {
	item := core.MemoryItem{
		Key:  "doc",
		Data: map[string]any{"summary": "alpha"},
		Metadata: core.ItemMetadata{
			Type:      "researcher",
			Priority:  5,
			CreatedAt: scoreNow.Add(-2 * time.Hour),
		},
	}
	req := core.ContextRequest{Type: "researcher", Keywords: []string{"alpha"}}

	first := scoreItem(item, core.SourceTypeSemantic, req, scoreNow)
	second := scoreItem(item, core.SourceTypeSemantic, req, scoreNow)

	assert.Equal(t, first, second)
}
