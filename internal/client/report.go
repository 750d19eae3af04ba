package client

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/torosent/crankqueue/internal/latency"
	"github.com/torosent/crankqueue/internal/metrics"
	"github.com/torosent/crankqueue/internal/server"
)

// PrintMessages writes any returned errors followed by the server message.
func PrintMessages(w io.Writer, resp server.MessagesResponse) {
	for _, e := range resp.Errors {
		if e.Sink != "" {
			fmt.Fprintf(w, "error [%s] %s: %s\n", e.Sink, e.Time.Format("15:04:05.000"), e.Error)
			continue
		}
		fmt.Fprintf(w, "error %s: %s\n", e.Time.Format("15:04:05.000"), e.Error)
	}
	fmt.Fprintln(w, resp.Msg)
}

// PrintStatus writes a human-readable status block.
func PrintStatus(w io.Writer, st server.StatusResponse) {
	fmt.Fprintln(w, "===== status =====")
	fmt.Fprintf(w, "queued: %d\n", st.Queued)
	fmt.Fprintf(w, "inflight: %d\n", st.Inflight)
	if st.Pending > 0 {
		fmt.Fprintf(w, "pending: %d\n", st.Pending)
	}
	fmt.Fprintf(w, "errors: %d\n", st.Errors)
	fmt.Fprintf(w, "concurrency: %d\n", st.Concurrency)
	for _, b := range st.Latency {
		fmt.Fprintln(w, FormatBucket(b))
	}

	if len(st.Sinks) > 0 {
		fmt.Fprintln(w, "sinks:")
		for _, s := range st.Sinks {
			fmt.Fprintf(
				w,
				"  - %s: total=%d, successes=%d, failures=%d, rate=%.2f/s, p99=%.1fms\n",
				s.Sink,
				s.Total,
				s.Successes,
				s.Failures,
				s.SendsPerSec,
				s.P99LatencyMs,
			)
		}
		rows := metrics.FlattenErrorBuckets(st.Sinks)
		if len(rows) > 0 {
			fmt.Fprintln(w, "failures:")
			for _, row := range rows {
				fmt.Fprintf(w, "  %s %s: %d\n", row.Sink, row.Error, row.Count)
			}
		}
	}
}

// FormatBucket renders one latency bucket, e.g.
// " 99.990%: 9999 written, 4 ms avg latency (1 - 38)". Buckets without data
// omit the latency part.
func FormatBucket(b latency.Bucket) string {
	pad := ""
	if b.Range < 1 {
		pad = " "
	}
	line := fmt.Sprintf("%s%.3f%%: %d written", pad, b.Range*100, b.Count)
	if !b.Empty && b.Avg > 0 {
		line += fmt.Sprintf(", %d ms avg latency (%d - %d)", b.Avg, b.Min, b.Max)
	}
	return line
}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
