package assembler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/contextmesh/core"
	"github.com/hupe1980/contextmesh/logging"
)

// DefaultConfig values used when options are left zero.
const (
	// DefaultMaxSizeBytes bounds assembled context size when the request
	// does not specify a budget.
	DefaultMaxSizeBytes = 16 * 1024

	// DefaultCacheTTL is how long an assembled context stays reusable for
	// identical requests.
	DefaultCacheTTL = 5 * time.Minute

	// DefaultPerSourceLimit caps how many items one shaped query may return.
	DefaultPerSourceLimit = 50
)

// Options configures an Assembler instance using the functional options pattern.
type Options struct {
	// MaxSizeBytes is the default context budget for requests without one.
	MaxSizeBytes int

	// CacheTTL controls fingerprint-cache freshness. Zero uses the default;
	// negative disables caching.
	CacheTTL time.Duration

	// PerSourceLimit caps items returned per shaped source query.
	PerSourceLimit int

	// Clock is injected for deterministic recency scoring and cache expiry
	// in tests. Defaults to the real clock.
	Clock core.Clock

	// Logger observes assembly metrics and skipped sources. Defaults to NoOp.
	Logger logging.Logger
}

// registeredSource pairs a memory source with its registration metadata.
// Registration order is preserved: it is the documented tie-break for items
// with equal relevance scores.
type registeredSource struct {
	name       string
	sourceType core.SourceType
	source     core.MemorySource
}

// Assembler queries all registered memory sources concurrently for a given
// request, scores and ranks the results, trims them to a byte budget and
// returns an AssembledContext. Safe for concurrent use.
type Assembler struct {
	opts  Options
	cache *resultCache

	mu      sync.RWMutex
	sources []registeredSource
}

// New creates an Assembler with optional configuration overrides.
func New(optFns ...func(o *Options)) *Assembler {
	opts := Options{
		MaxSizeBytes:   DefaultMaxSizeBytes,
		CacheTTL:       DefaultCacheTTL,
		PerSourceLimit: DefaultPerSourceLimit,
		Clock:          core.RealClock{},
		Logger:         logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.MaxSizeBytes <= 0 {
		opts.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	if opts.PerSourceLimit <= 0 {
		opts.PerSourceLimit = DefaultPerSourceLimit
	}
	if opts.Clock == nil {
		opts.Clock = core.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}

	return &Assembler{
		opts:  opts,
		cache: newResultCache(opts.CacheTTL, opts.Clock),
	}
}

// RegisterSource adds a named memory source of the given type. Sources
// registered earlier win score ties during ranking. Registering a name twice
// replaces the earlier entry in place, keeping its tie-break position.
func (a *Assembler) RegisterSource(name string, sourceType core.SourceType, source core.MemorySource) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, rs := range a.sources {
		if rs.name == name {
			a.sources[i] = registeredSource{name: name, sourceType: sourceType, source: source}
			return
		}
	}
	a.sources = append(a.sources, registeredSource{name: name, sourceType: sourceType, source: source})
}

// Sources returns the registered source names in registration order.
func (a *Assembler) Sources() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	names := make([]string, len(a.sources))
	for i, rs := range a.sources {
		names[i] = rs.name
	}
	return names
}

// AssembleContext validates the request, serves a fresh-enough cached result
// if one exists, and otherwise runs the full pipeline: concurrent source
// fan-out, scoring, deterministic ranking and budget trimming.
//
// Only structurally invalid requests return an error. Internal faults degrade
// to a minimal empty context with Summary.Error set, so callers can treat
// assembly as best-effort.
func (a *Assembler) AssembleContext(ctx context.Context, req core.ContextRequest) (core.AssembledContext, error) {
	if err := validateRequest(req); err != nil {
		return core.AssembledContext{}, err
	}

	if req.MaxSizeBytes == 0 {
		req.MaxSizeBytes = a.opts.MaxSizeBytes
	}

	fingerprint := fingerprintRequest(req)
	if a.opts.CacheTTL > 0 && fingerprint != "" {
		if cached, ok := a.cache.get(fingerprint); ok {
			a.opts.Logger.Debug("context assembly cache hit", "fingerprint", fingerprint)
			return cached, nil
		}
	}

	start := a.opts.Clock.Now()
	assembled := a.assemble(ctx, req, fingerprint)

	if a.opts.CacheTTL > 0 && fingerprint != "" && assembled.Summary.Error == "" {
		a.cache.set(fingerprint, assembled)
	}

	a.opts.Logger.Info("context assembled",
		"items", assembled.Summary.TotalItems,
		"bytes", assembled.Summary.TotalBytes,
		"duration", a.opts.Clock.Now().Sub(start),
	)

	return assembled, nil
}

// assemble runs the uncached pipeline. It never panics outward: any fault is
// converted to an empty-but-valid context.
func (a *Assembler) assemble(ctx context.Context, req core.ContextRequest, fingerprint string) (result core.AssembledContext) {
	defer func() {
		if r := recover(); r != nil {
			a.opts.Logger.Error("context assembly fault", "panic", fmt.Sprintf("%v", r))
			result = degradedContext(fmt.Sprintf("assembly fault: %v", r), a.opts.Clock.Now())
		}
	}()

	a.mu.RLock()
	sources := make([]registeredSource, len(a.sources))
	copy(sources, a.sources)
	a.mu.RUnlock()

	scored := a.fanOut(ctx, sources, req)
	rankItems(scored)

	items, totalBytes := trimToBudget(scored, req.MaxSizeBytes)

	return core.AssembledContext{
		Summary:     summarize(items, totalBytes),
		Items:       items,
		AssembledAt: a.opts.Clock.Now(),
		Fingerprint: fingerprint,
	}
}

// fanOut queries every source concurrently with source-specific query
// shaping. Failing sources are logged and skipped; per-source result order is
// preserved by writing into indexed slots before the deterministic merge.
func (a *Assembler) fanOut(ctx context.Context, sources []registeredSource, req core.ContextRequest) []core.ScoredItem {
	now := a.opts.Clock.Now()
	perSource := make([][]core.ScoredItem, len(sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, rs := range sources {
		g.Go(func() error {
			filters := shapeFilters(rs.sourceType, req, a.opts.PerSourceLimit, now)

			seen := make(map[string]struct{})
			var items []core.ScoredItem
			for _, filter := range filters {
				found, err := rs.source.Query(gctx, filter)
				if err != nil {
					a.opts.Logger.Warn("memory source query failed", "source", rs.name, "error", err.Error())
					continue
				}
				for _, item := range found {
					if _, dup := seen[item.Key]; dup {
						continue
					}
					seen[item.Key] = struct{}{}
					items = append(items, core.ScoredItem{
						Item:       item,
						Score:      scoreItem(item, rs.sourceType, req, now),
						Source:     rs.name,
						SourceType: rs.sourceType,
					})
				}
			}
			perSource[i] = items
			return nil
		})
	}
	// Source errors are swallowed above, so Wait only reflects ctx faults.
	if err := g.Wait(); err != nil {
		a.opts.Logger.Warn("context fan-out interrupted", "error", err.Error())
	}

	var merged []core.ScoredItem
	for _, items := range perSource {
		merged = append(merged, items...)
	}
	return merged
}

// rankItems sorts by descending total score. Ties break by source
// registration order, then by item key, keeping merge output deterministic
// given deterministic scores.
func rankItems(items []core.ScoredItem) {
	// Stable sort preserves fan-out order, which is registration order, for
	// equal totals.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Score.Total > items[j].Score.Total
	})
}

// shapeFilters translates one context request into the query set for a
// source type:
//
//   - working sources always include current session state
//   - semantic sources expand per keyword
//   - episodic sources add a recent time window plus success-tagged items
//   - procedural sources ask for workflow/prompt/practice templates
func shapeFilters(st core.SourceType, req core.ContextRequest, limit int, now time.Time) []core.QueryFilter {
	base := core.QueryFilter{
		Limit:     limit,
		SortBy:    "created_at",
		SortOrder: core.SortDesc,
	}
	applyRequestFilters(&base, req.Filters)

	switch st {
	case core.SourceTypeWorking:
		f := base
		f.Category = "session"
		return []core.QueryFilter{f}

	case core.SourceTypeSemantic:
		if len(req.Keywords) == 0 {
			f := base
			f.Type = req.Type
			return []core.QueryFilter{f}
		}
		filters := make([]core.QueryFilter, 0, len(req.Keywords))
		for _, kw := range req.Keywords {
			f := base
			f.Keyword = kw
			filters = append(filters, f)
		}
		return filters

	case core.SourceTypeEpisodic:
		recent := base
		recent.DateRange = &core.DateRange{Start: now.Add(-7 * 24 * time.Hour)}
		succeeded := base
		succeeded.Tags = []string{"success"}
		return []core.QueryFilter{recent, succeeded}

	case core.SourceTypeProcedural:
		f := base
		f.Tags = []string{"workflow", "prompt", "practice"}
		return []core.QueryFilter{f}

	default:
		return []core.QueryFilter{base}
	}
}

// applyRequestFilters merges the caller's generic filters into a shaped query.
func applyRequestFilters(f *core.QueryFilter, filters map[string]any) {
	if filters == nil {
		return
	}
	if v, ok := filters["category"].(string); ok && v != "" {
		f.Category = v
	}
	if v, ok := filters["type"].(string); ok && v != "" {
		f.Type = v
	}
	if v, ok := filters["limit"].(int); ok && v > 0 {
		f.Limit = v
	}
	if v, ok := filters["min_priority"].(int); ok && v > 0 {
		f.PriorityRange = &core.PriorityRange{Min: v}
	}
}

func validateRequest(req core.ContextRequest) error {
	if req.Type == "" {
		return core.NewValidationError("type", "context request requires a non-empty type")
	}
	for _, kw := range req.Keywords {
		if kw == "" {
			return core.NewValidationError("keywords", "keywords must be non-empty strings")
		}
	}
	if req.MaxSizeBytes < 0 {
		return core.NewValidationError("maxSizeBytes", "context budget must be positive")
	}
	return nil
}

func summarize(items []core.ScoredItem, totalBytes int) core.ContextSummary {
	summary := core.ContextSummary{
		TotalItems: len(items),
		TotalBytes: totalBytes,
		PerSource:  make(map[string]int),
	}

	var sum float64
	for _, item := range items {
		summary.PerSource[item.Source]++
		sum += item.Score.Total
	}
	if len(items) > 0 {
		summary.MeanRelevance = sum / float64(len(items))
	}

	top := len(items)
	if top > 5 {
		top = 5
	}
	for i := 0; i < top; i++ {
		summary.TopScores = append(summary.TopScores, items[i].Score.Total)
	}

	return summary
}

func degradedContext(msg string, now time.Time) core.AssembledContext {
	return core.AssembledContext{
		Summary:     core.ContextSummary{Error: msg, PerSource: map[string]int{}},
		Items:       []core.ScoredItem{},
		AssembledAt: now,
	}
}
