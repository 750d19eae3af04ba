// Package latency accumulates raw send durations and summarizes them into
// percentile-trimmed buckets.
package latency

import (
	"math"
	"slices"
	"sync"
	"time"
)

// CutPoints are the fractions reported by Compute, most inclusive first.
var CutPoints = []float64{1.0, 0.9999, 0.999, 0.99, 0.95, 0.90}

// Bucket summarizes the fastest Range fraction of observed samples.
// Durations are reported in whole milliseconds: Total, Min and Max are
// rounded, Avg is the ceiling of the exact mean.
type Bucket struct {
	Range float64 `json:"range"`
	Count int     `json:"count"`
	Total int64   `json:"total"`
	Avg   int64   `json:"avg"`
	Min   int64   `json:"min"`
	Max   int64   `json:"max"`
	Empty bool    `json:"empty,omitempty"`
}

// Aggregator records latency samples in a thread-safe manner.
type Aggregator struct {
	mu      sync.Mutex
	samples []time.Duration
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add records a single sample. Negative durations are clamped to zero.
func (a *Aggregator) Add(sample time.Duration) {
	if sample < 0 {
		sample = 0
	}
	a.mu.Lock()
	a.samples = append(a.samples, sample)
	a.mu.Unlock()
}

// AddAll records a batch of samples.
func (a *Aggregator) AddAll(samples []time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		if s < 0 {
			s = 0
		}
		a.samples = append(a.samples, s)
	}
}

// Len returns the number of recorded samples.
func (a *Aggregator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.samples)
}

// Compute sorts a snapshot of the samples and returns one bucket per cut point.
// It is O(n log n) and meant for periodic polling, not per-send use.
func (a *Aggregator) Compute() []Bucket {
	a.mu.Lock()
	sorted := slices.Clone(a.samples)
	a.mu.Unlock()

	slices.Sort(sorted)

	buckets := make([]Bucket, len(CutPoints))
	for i, p := range CutPoints {
		buckets[i] = summarize(sorted, p)
	}
	return buckets
}

// summarize drops the slowest ceil((1-p)*n) samples and reports on the rest.
// sorted must be in ascending order.
func summarize(sorted []time.Duration, p float64) Bucket {
	b := Bucket{Range: p}
	kept := sorted[:len(sorted)-trimCount(len(sorted), p)]
	if len(kept) == 0 {
		b.Empty = true
		return b
	}

	b.Count = len(kept)
	b.Min = toMillis(kept[0])
	b.Max = toMillis(kept[len(kept)-1])
	var sum time.Duration
	for _, s := range kept {
		sum += s
	}
	b.Total = toMillis(sum)
	b.Avg = ceilDiv(int64(sum), int64(b.Count)*int64(time.Millisecond))
	return b
}

func trimCount(n int, p float64) int {
	if n == 0 {
		return 0
	}
	// Round (1-p)*n to 9 decimals first so that 0.1*10 does not become 1.0000000000000002
	// and get ceiled to 2.
	raw := math.Round((1.0-p)*float64(n)*1e9) / 1e9
	trim := int(math.Ceil(raw))
	if trim < 0 {
		return 0
	}
	if trim > n {
		return n
	}
	return trim
}

func ceilDiv(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	q := total / count
	if total%count != 0 {
		q++
	}
	return q
}

// toMillis rounds d to the nearest millisecond.
func toMillis(d time.Duration) int64 {
	return d.Round(time.Millisecond).Milliseconds()
}
