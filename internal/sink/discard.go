package sink

import (
	"context"
	"time"
)

// Discard accepts every payload after an optional simulated latency. It is
// meant for dry runs of the engine and the control API.
type Discard struct {
	latency time.Duration
}

// NewDiscard returns a Discard sink that waits latency per send.
func NewDiscard(latency time.Duration) *Discard {
	return &Discard{latency: latency}
}

func (d *Discard) Name() string { return "discard" }

// Send waits for the configured latency or until ctx is done.
func (d *Discard) Send(ctx context.Context, _ []byte) error {
	if d.latency <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d.latency)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (d *Discard) Close() error { return nil }
