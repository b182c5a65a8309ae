package metrics

import (
	"math"
	"slices"
	"sync"
)

// LatencySummary is a percentile view over the retained samples, in ms.
type LatencySummary struct {
	Samples int     `json:"samples"`
	P50     float64 `json:"p50_ms"`
	P95     float64 `json:"p95_ms"`
	P99     float64 `json:"p99_ms"`
	Max     float64 `json:"max_ms"`
}

// LatencyTracker keeps the most recent upstream fetch latencies in a ring
// and summarizes them on demand. Safe for concurrent use.
type LatencyTracker struct {
	mu   sync.Mutex
	ring []float64
	next int
	n    int
}

// NewLatencyTracker creates a tracker that retains the last size samples.
func NewLatencyTracker(size int) *LatencyTracker {
	if size <= 0 {
		size = 1024
	}
	return &LatencyTracker{ring: make([]float64, size)}
}

// Record adds a sample in milliseconds, evicting the oldest when full.
func (lt *LatencyTracker) Record(ms float64) {
	lt.mu.Lock()
	lt.ring[lt.next] = ms
	lt.next = (lt.next + 1) % len(lt.ring)
	if lt.n < len(lt.ring) {
		lt.n++
	}
	lt.mu.Unlock()
}

// Summary returns percentiles over the retained samples. Zero value if empty.
func (lt *LatencyTracker) Summary() LatencySummary {
	lt.mu.Lock()
	if lt.n == 0 {
		lt.mu.Unlock()
		return LatencySummary{}
	}
	sorted := slices.Clone(lt.ring[:lt.n])
	lt.mu.Unlock()

	slices.Sort(sorted)
	return LatencySummary{
		Samples: len(sorted),
		P50:     percentile(sorted, 0.50),
		P95:     percentile(sorted, 0.95),
		P99:     percentile(sorted, 0.99),
		Max:     sorted[len(sorted)-1],
	}
}

// percentile interpolates linearly between the two closest ranks.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 1 {
		return sorted[0]
	}
	rank := p * float64(n-1)
	lo := int(math.Floor(rank))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo]*(1-frac) + sorted[lo+1]*frac
}
