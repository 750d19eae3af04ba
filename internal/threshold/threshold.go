// Package threshold evaluates pass/fail checks against a dispatcher status
// report, e.g. "latency:p99 < 500" or "failures:rate < 0.01".
package threshold

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/torosent/crankqueue/internal/latency"
	"github.com/torosent/crankqueue/internal/server"
)

// Threshold is one parsed check.
type Threshold struct {
	Metric    string  // latency, failures, sends, errors, queue, inflight
	Aggregate string  // p90, avg, rate, count, ...
	Operator  string  // <, <=, >, >=, ==
	Value     float64 // latency values are milliseconds
	Raw       string
}

// Result is the outcome of one check.
type Result struct {
	Threshold Threshold
	Actual    float64
	Pass      bool
	Message   string
}

var (
	pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*(<=|>=|==|<|>)\s*([0-9][0-9_,]*(?:\.[0-9]+)?)$`)

	// Latency percentiles map onto the trimmed buckets: the slowest sample
	// kept in a bucket is that percentile.
	percentileRanges = map[string]float64{
		"p90":   0.90,
		"p95":   0.95,
		"p99":   0.99,
		"p999":  0.999,
		"p9999": 0.9999,
	}

	aggregates = map[string][]string{
		"latency":  {"p90", "p95", "p99", "p999", "p9999", "avg", "min", "max"},
		"failures": {"count", "rate"},
		"sends":    {"count", "rate"},
		"errors":   {"count"},
		"queue":    {"count"},
		"inflight": {"count"},
	}
)

// Parse reads a check in the form "metric:aggregate operator value".
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold")
	}
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return Threshold{}, fmt.Errorf("invalid threshold %q (expected metric:aggregate operator value, e.g. 'latency:p99 < 500')", s)
	}

	metric, aggregate, op := m[1], m[2], m[3]
	allowed, ok := aggregates[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric %q (supported: latency, failures, sends, errors, queue, inflight)", metric)
	}
	if !contains(allowed, aggregate) {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(allowed, ", "))
	}

	value, err := strconv.ParseFloat(strings.NewReplacer("_", "", ",", "").Replace(m[4]), 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %w", m[4], err)
	}

	return Threshold{Metric: metric, Aggregate: aggregate, Operator: op, Value: value, Raw: s}, nil
}

// ParseAll parses every check and reports all malformed ones together.
func ParseAll(raw []string) ([]Threshold, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make([]Threshold, 0, len(raw))
	var problems []string
	for i, s := range raw {
		t, err := Parse(s)
		if err != nil {
			problems = append(problems, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		out = append(out, t)
	}
	if len(problems) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(problems, "; "))
	}
	return out, nil
}

// Evaluate checks every threshold against st.
func Evaluate(thresholds []Threshold, st server.StatusResponse) []Result {
	if len(thresholds) == 0 {
		return nil
	}
	results := make([]Result, 0, len(thresholds))
	for _, t := range thresholds {
		results = append(results, evaluateOne(t, st))
	}
	return results
}

// Passed reports whether every result passed.
func Passed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, st server.StatusResponse) Result {
	actual, err := extract(t, st)
	if err != nil {
		return Result{Threshold: t, Message: fmt.Sprintf("✗ %s: %v", t.Raw, err)}
	}
	pass := compare(actual, t.Operator, t.Value)
	mark := "✓"
	if !pass {
		mark = "✗"
	}
	return Result{
		Threshold: t,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", mark, t.Raw, actual, t.Operator, t.Value),
	}
}

func extract(t Threshold, st server.StatusResponse) (float64, error) {
	switch t.Metric {
	case "latency":
		return extractLatency(t.Aggregate, st.Latency)
	case "failures":
		if t.Aggregate == "rate" {
			if st.Completed == 0 {
				return 0, nil
			}
			return float64(st.Failed) / float64(st.Completed), nil
		}
		return float64(st.Failed), nil
	case "sends":
		if t.Aggregate == "rate" {
			var rate float64
			for _, s := range st.Sinks {
				rate += s.SendsPerSec
			}
			return rate, nil
		}
		return float64(st.Completed), nil
	case "errors":
		return float64(st.Errors), nil
	case "queue":
		return float64(st.Queued + st.Pending), nil
	case "inflight":
		return float64(st.Inflight), nil
	}
	return 0, fmt.Errorf("unknown metric %q", t.Metric)
}

func extractLatency(aggregate string, buckets []latency.Bucket) (float64, error) {
	want := 1.0
	if r, ok := percentileRanges[aggregate]; ok {
		want = r
	}
	for _, b := range buckets {
		if math.Abs(b.Range-want) > 1e-9 {
			continue
		}
		if b.Empty || b.Count == 0 {
			return 0, fmt.Errorf("no latency samples")
		}
		switch aggregate {
		case "avg":
			return float64(b.Avg), nil
		case "min":
			return float64(b.Min), nil
		default:
			return float64(b.Max), nil
		}
	}
	return 0, fmt.Errorf("no latency bucket for %s", aggregate)
}

func compare(actual float64, op string, expected float64) bool {
	const epsilon = 1e-9
	switch op {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	}
	return false
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
