package dispatch

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/crankqueue/internal/errlog"
	"github.com/torosent/crankqueue/internal/latency"
)

// Sink delivers a single payload to an external target.
// Implementations must be safe for concurrent use and should return an error
// for any failed delivery.
type Sink interface {
	Name() string
	Send(ctx context.Context, payload []byte) error
}

// Observer is notified of every completed send, successful or not.
type Observer interface {
	ObserveSend(sink string, latency time.Duration, err error)
}

// Options configure the Engine.
type Options struct {
	Concurrency    int                         // initial cap on inflight sends (0 pauses dispatch)
	RatePerSecond  int                         // send start pacing (0 means unlimited)
	SendTimeout    time.Duration               // per-send deadline (0 means none)
	Sinks          []Sink                      // delivery targets (at least one required)
	Latency        *latency.Aggregator         // successful send durations (created if nil)
	Errors         *errlog.Log                 // failed sends (created if nil)
	Observers      []Observer                  // optional completion hooks
	Logger         *zap.SugaredLogger          // defaults to a no-op logger
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
}

func (o *Options) normalize() {
	if o.Concurrency < 0 {
		o.Concurrency = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.SendTimeout < 0 {
		o.SendTimeout = 0
	}
	if o.Latency == nil {
		o.Latency = latency.NewAggregator()
	}
	if o.Errors == nil {
		o.Errors = errlog.New()
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop().Sugar()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
}
