package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/torosent/crankqueue/internal/threshold"
)

// ErrThresholdsFailed is returned when at least one check did not pass.
var ErrThresholdsFailed = errors.New("one or more thresholds failed")

// CheckThresholds fetches a final status report, prints each check and
// returns ErrThresholdsFailed if any of them failed.
func CheckThresholds(ctx context.Context, api API, thresholds []threshold.Threshold, w io.Writer) error {
	if len(thresholds) == 0 {
		return nil
	}
	st, err := api.Status(ctx)
	if err != nil {
		return fmt.Errorf("final status: %w", err)
	}
	results := threshold.Evaluate(thresholds, st)
	PrintThresholds(w, results)
	if !threshold.Passed(results) {
		return ErrThresholdsFailed
	}
	return nil
}

// PrintThresholds writes one line per check followed by a summary.
func PrintThresholds(w io.Writer, results []threshold.Result) {
	fmt.Fprintln(w, "===== thresholds =====")
	passed := 0
	for _, r := range results {
		if r.Pass {
			passed++
		}
		fmt.Fprintln(w, r.Message)
	}
	fmt.Fprintf(w, "%d/%d passed\n", passed, len(results))
}
