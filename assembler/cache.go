package assembler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/contextmesh/core"
)

// resultCache memoizes assembled contexts under a request fingerprint for a
// short TTL. Entries are immutable once stored; a hit returns the stored
// value unchanged so repeated identical requests observe identical content.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	clock   core.Clock
}

type cacheEntry struct {
	value      core.AssembledContext
	expiration time.Time
}

func newResultCache(ttl time.Duration, clock core.Clock) *resultCache {
	return &resultCache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		clock:   clock,
	}
}

func (c *resultCache) get(fingerprint string) (core.AssembledContext, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, exists := c.entries[fingerprint]
	if !exists || c.clock.Now().After(entry.expiration) {
		return core.AssembledContext{}, false
	}
	return entry.value, true
}

func (c *resultCache) set(fingerprint string, value core.AssembledContext) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	// Opportunistic prune keeps the map from accumulating stale entries
	// without a background goroutine.
	for key, entry := range c.entries {
		if now.After(entry.expiration) {
			delete(c.entries, key)
		}
	}
	c.entries[fingerprint] = cacheEntry{value: value, expiration: now.Add(c.ttl)}
}

// fingerprintRequest derives a stable cache key from the request's identity
// fields. Keywords are sorted so ordering differences do not fragment the
// cache; filters round-trip through canonical JSON.
func fingerprintRequest(req core.ContextRequest) string {
	keywords := append([]string(nil), req.Keywords...)
	sort.Strings(keywords)

	canonical := struct {
		Type         string         `json:"type"`
		Target       string         `json:"target"`
		Keywords     []string       `json:"keywords"`
		Filters      map[string]any `json:"filters"`
		MaxSizeBytes int            `json:"max_size_bytes"`
	}{
		Type:         req.Type,
		Target:       req.Target,
		Keywords:     keywords,
		Filters:      req.Filters,
		MaxSizeBytes: req.MaxSizeBytes,
	}

	b, err := json.Marshal(canonical)
	if err != nil {
		// Unfingerprintable filters fall back to the uncached path.
		return ""
	}

	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
