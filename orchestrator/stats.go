package orchestrator

import (
	"sync"
	"time"
)

// Stats is a point-in-time snapshot of the orchestrator's rolling counters.
type Stats struct {
	TotalExecutions int64         `json:"total_executions"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	Cancellations   int64         `json:"cancellations"`
	AverageLatency  time.Duration `json:"average_latency"`
}

// statistics accumulates execution outcomes. The mean latency is maintained
// incrementally so snapshots are O(1) regardless of history length.
type statistics struct {
	mu      sync.Mutex
	total   int64
	success int64
	failure int64
	cancels int64
	avg     time.Duration
}

func newStatistics() *statistics { return &statistics{} }

// record folds one terminal outcome into the counters.
func (s *statistics) record(success bool, dur time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if success {
		s.success++
	} else {
		s.failure++
	}
	// Incremental mean: avg += (x - avg) / n
	s.avg += (dur - s.avg) / time.Duration(s.total)
}

// recordCancelled counts a discarded execution without touching the
// success/failure latency statistics.
func (s *statistics) recordCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

// snapshot returns a copy of the current counters.
func (s *statistics) snapshot() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		TotalExecutions: s.total,
		Successes:       s.success,
		Failures:        s.failure,
		Cancellations:   s.cancels,
		AverageLatency:  s.avg,
	}
}
