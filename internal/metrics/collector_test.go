package metrics_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/torosent/crankqueue/internal/dispatch"
	"github.com/torosent/crankqueue/internal/metrics"
)

func sinkStats(c *metrics.Collector, name string) (metrics.SinkStats, bool) {
	for _, s := range c.Stats() {
		if s.Sink == name {
			return s, true
		}
	}
	return metrics.SinkStats{}, false
}

func TestCollectorPerSinkStats(t *testing.T) {
	c := metrics.NewCollector()

	for _, ms := range []int{10, 20, 30, 40, 50} {
		c.ObserveSend("kafka", time.Duration(ms)*time.Millisecond, nil)
	}
	c.ObserveSend("sqlite", 5*time.Millisecond, errors.New("database is locked"))

	stats := c.Stats()
	if len(stats) != 2 {
		t.Fatalf("got %d sinks, want 2", len(stats))
	}
	if stats[0].Sink != "kafka" || stats[1].Sink != "sqlite" {
		t.Fatalf("sinks not sorted: %q, %q", stats[0].Sink, stats[1].Sink)
	}

	k := stats[0]
	if k.Total != 5 || k.Successes != 5 || k.Failures != 0 {
		t.Errorf("kafka counts = %d/%d/%d, want 5/5/0", k.Total, k.Successes, k.Failures)
	}
	if k.MinLatency != 10*time.Millisecond {
		t.Errorf("min = %s, want 10ms", k.MinLatency)
	}
	if k.MaxLatency != 50*time.Millisecond {
		t.Errorf("max = %s, want 50ms", k.MaxLatency)
	}
	if k.MeanLatency != 30*time.Millisecond {
		t.Errorf("mean = %s, want 30ms", k.MeanLatency)
	}
	if k.MeanLatencyMs != 30 {
		t.Errorf("mean ms = %g, want 30", k.MeanLatencyMs)
	}

	s, ok := sinkStats(c, "sqlite")
	if !ok {
		t.Fatal("sqlite stats not found")
	}
	if s.Failures != 1 {
		t.Errorf("sqlite failures = %d, want 1", s.Failures)
	}
	if s.Errors["Error"] != 1 {
		t.Errorf("sqlite errors = %v, want Error:1", s.Errors)
	}
}

func TestCollectorPercentiles(t *testing.T) {
	c := metrics.NewCollector()
	for i := 1; i <= 100; i++ {
		c.ObserveSend("http", time.Duration(i)*time.Millisecond, nil)
	}

	s, _ := sinkStats(c, "http")
	if s.P50Latency < 49*time.Millisecond || s.P50Latency > 51*time.Millisecond {
		t.Errorf("P50 = %s, want ~50ms", s.P50Latency)
	}
	if s.P90Latency < 89*time.Millisecond || s.P90Latency > 91*time.Millisecond {
		t.Errorf("P90 = %s, want ~90ms", s.P90Latency)
	}
	if s.P99Latency < 98*time.Millisecond || s.P99Latency > 100*time.Millisecond {
		t.Errorf("P99 = %s, want ~99ms", s.P99Latency)
	}
}

func TestCollectorGroupsErrorsByFriendlyName(t *testing.T) {
	c := metrics.NewCollector()
	c.ObserveSend("http", time.Millisecond, &dispatch.TimeoutError{Timeout: time.Second})
	c.ObserveSend("http", time.Millisecond, &dispatch.TimeoutError{Timeout: time.Second})
	c.ObserveSend("http", time.Millisecond, context.DeadlineExceeded)

	s, _ := sinkStats(c, "http")
	if s.Errors["Send timed out"] != 2 {
		t.Errorf("errors = %v, want 2 timeouts", s.Errors)
	}
	if s.Errors["Context deadline exceeded"] != 1 {
		t.Errorf("errors = %v, want 1 deadline", s.Errors)
	}
}

func TestCollectorUnknownSink(t *testing.T) {
	c := metrics.NewCollector()
	if _, ok := sinkStats(c, "nope"); ok {
		t.Error("stats reported for a sink that never sent")
	}
	if got := c.Stats(); len(got) != 0 {
		t.Errorf("Stats() = %d entries, want 0", len(got))
	}
}

func TestCollectorJSON(t *testing.T) {
	c := metrics.NewCollector()
	c.ObserveSend("discard", 2*time.Millisecond, nil)
	c.ObserveSend("discard", 4*time.Millisecond, errors.New("boom"))

	data, err := json.Marshal(c.Stats())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var parsed []map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(parsed) != 1 {
		t.Fatalf("got %d entries, want 1", len(parsed))
	}
	for _, key := range []string{"sink", "total", "failures", "p99_latency_ms", "errors"} {
		if _, ok := parsed[0][key]; !ok {
			t.Errorf("missing %q in JSON", key)
		}
	}
	if _, ok := parsed[0]["MinLatency"]; ok {
		t.Error("raw durations should not be serialized")
	}
}

func TestCollectorConcurrentObserve(t *testing.T) {
	c := metrics.NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sink := "a"
			if i%2 == 0 {
				sink = "b"
			}
			for j := 0; j < 100; j++ {
				c.ObserveSend(sink, time.Duration(j)*time.Microsecond, nil)
			}
		}(i)
	}
	wg.Wait()

	var total int64
	for _, s := range c.Stats() {
		total += s.Total
	}
	if total != 1000 {
		t.Errorf("total = %d, want 1000", total)
	}
}
