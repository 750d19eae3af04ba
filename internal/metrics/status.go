package metrics

import "sort"

// ErrorBucket is the failure count of one sink for one error name.
type ErrorBucket struct {
	Sink  string `json:"sink"`
	Error string `json:"error"`
	Count int64  `json:"count"`
}

// FlattenErrorBuckets converts per-sink error breakdowns into rows sorted by
// descending count, then by sink and error name for stability.
func FlattenErrorBuckets(stats []SinkStats) []ErrorBucket {
	var rows []ErrorBucket
	for _, s := range stats {
		for name, count := range s.Errors {
			rows = append(rows, ErrorBucket{Sink: s.Sink, Error: name, Count: count})
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		if rows[i].Sink != rows[j].Sink {
			return rows[i].Sink < rows[j].Sink
		}
		return rows[i].Error < rows[j].Error
	})
	return rows
}
