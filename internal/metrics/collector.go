package metrics

import (
	"sort"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Collector records per-sink send outcomes in a thread-safe manner.
type Collector struct {
	mu    sync.Mutex
	sinks map[string]*sinkRecorder
	start time.Time
	now   func() time.Time
}

type sinkRecorder struct {
	hist         *hdrhistogram.Histogram
	successes    int64
	failures     int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	errorsByName map[string]int64
}

// SinkStats is the aggregated view of one sink. Latencies cover every
// completed send, failures included.
type SinkStats struct {
	Sink        string        `json:"sink"`
	Total       int64         `json:"total"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	MinLatency  time.Duration `json:"-"`
	MaxLatency  time.Duration `json:"-"`
	MeanLatency time.Duration `json:"-"`
	P50Latency  time.Duration `json:"-"`
	P90Latency  time.Duration `json:"-"`
	P99Latency  time.Duration `json:"-"`
	SendsPerSec float64       `json:"sends_per_sec"`

	MinLatencyMs  float64          `json:"min_latency_ms"`
	MaxLatencyMs  float64          `json:"max_latency_ms"`
	MeanLatencyMs float64          `json:"mean_latency_ms"`
	P50LatencyMs  float64          `json:"p50_latency_ms"`
	P90LatencyMs  float64          `json:"p90_latency_ms"`
	P99LatencyMs  float64          `json:"p99_latency_ms"`
	Errors        map[string]int64 `json:"errors,omitempty"`
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{
		sinks: make(map[string]*sinkRecorder),
		start: time.Now(),
		now:   time.Now,
	}
}

func newSinkRecorder() *sinkRecorder {
	// 1µs up to 60s with 3 significant figures.
	return &sinkRecorder{
		hist:         hdrhistogram.New(1, 60_000_000, 3),
		errorsByName: make(map[string]int64),
	}
}

// ObserveSend records one completed send.
func (c *Collector) ObserveSend(sink string, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	r, ok := c.sinks[sink]
	if !ok {
		r = newSinkRecorder()
		c.sinks[sink] = r
	}

	us := latency.Microseconds()
	if us < r.hist.LowestTrackableValue() {
		us = r.hist.LowestTrackableValue()
	}
	if us > r.hist.HighestTrackableValue() {
		us = r.hist.HighestTrackableValue()
	}
	_ = r.hist.RecordValue(us)

	r.sumLatency += latency
	if r.successes+r.failures == 0 || latency < r.minLatency {
		r.minLatency = latency
	}
	if latency > r.maxLatency {
		r.maxLatency = latency
	}

	if err == nil {
		r.successes++
		return
	}
	r.failures++
	r.errorsByName[FriendlyErrorName(ErrorTypeName(err))]++
}

// Stats returns the aggregated stats of every sink that completed at least
// one send, sorted by sink name.
func (c *Collector) Stats() []SinkStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	elapsed := c.now().Sub(c.start)
	out := make([]SinkStats, 0, len(c.sinks))
	for name, r := range c.sinks {
		out = append(out, r.stats(name, elapsed))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sink < out[j].Sink })
	return out
}

func (r *sinkRecorder) stats(name string, elapsed time.Duration) SinkStats {
	total := r.successes + r.failures
	s := SinkStats{
		Sink:       name,
		Total:      total,
		Successes:  r.successes,
		Failures:   r.failures,
		MinLatency: r.minLatency,
		MaxLatency: r.maxLatency,
	}
	if total > 0 {
		s.MeanLatency = time.Duration(int64(r.sumLatency) / total)
	}
	if r.hist.TotalCount() > 0 {
		s.P50Latency = time.Duration(r.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P90Latency = time.Duration(r.hist.ValueAtQuantile(90)) * time.Microsecond
		s.P99Latency = time.Duration(r.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	if elapsed > 0 && total > 0 {
		s.SendsPerSec = float64(total) / elapsed.Seconds()
	}

	s.MinLatencyMs = toMs(s.MinLatency)
	s.MaxLatencyMs = toMs(s.MaxLatency)
	s.MeanLatencyMs = toMs(s.MeanLatency)
	s.P50LatencyMs = toMs(s.P50Latency)
	s.P90LatencyMs = toMs(s.P90Latency)
	s.P99LatencyMs = toMs(s.P99Latency)

	if len(r.errorsByName) > 0 {
		s.Errors = make(map[string]int64, len(r.errorsByName))
		for k, v := range r.errorsByName {
			s.Errors[k] = v
		}
	}
	return s
}

func toMs(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
