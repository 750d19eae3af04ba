package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/torosent/crankqueue/internal/dispatch"
)

const (
	Namespace = "crankqueue"

	StatusSuccess = "success"
	StatusError   = "error"
)

// EngineState exposes the engine counters the gauges read at scrape time.
type EngineState interface {
	Snapshot() dispatch.Snapshot
}

// Prometheus exports send outcomes and engine state.
type Prometheus struct {
	sends        *prometheus.CounterVec
	sendDuration *prometheus.HistogramVec
}

// NewPrometheus registers the crankqueue metrics on reg. Gauges are computed
// from state on every scrape.
func NewPrometheus(reg prometheus.Registerer, state EngineState) (*Prometheus, error) {
	m := &Prometheus{
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "sends_total",
			Help:      "Total completed sends by sink and status",
		}, []string{"sink", "status"}),
		sendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "send_duration_seconds",
			Help:      "Send duration in seconds by sink",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"sink"}),
	}

	gauge := func(name, help string, read func(dispatch.Snapshot) float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      name,
			Help:      help,
		}, func() float64 { return read(state.Snapshot()) })
	}

	err := errors.Join(
		reg.Register(m.sends),
		reg.Register(m.sendDuration),
		reg.Register(gauge("queued", "Messages waiting in the queue",
			func(s dispatch.Snapshot) float64 { return float64(s.Queued) })),
		reg.Register(gauge("pending", "Fan-out sends waiting for capacity",
			func(s dispatch.Snapshot) float64 { return float64(s.Pending) })),
		reg.Register(gauge("inflight", "Sends currently in progress",
			func(s dispatch.Snapshot) float64 { return float64(s.Inflight) })),
		reg.Register(gauge("concurrency", "Current cap on inflight sends",
			func(s dispatch.Snapshot) float64 { return float64(s.Concurrency) })),
		reg.Register(prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "enqueued_total",
			Help:      "Total messages accepted into the queue",
		}, func() float64 { return float64(state.Snapshot().Enqueued) })),
	)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// ObserveSend records one completed send.
func (m *Prometheus) ObserveSend(sink string, latency time.Duration, err error) {
	if m == nil {
		return
	}
	status := StatusSuccess
	if err != nil {
		status = StatusError
	}
	m.sends.WithLabelValues(sink, status).Inc()
	m.sendDuration.WithLabelValues(sink).Observe(latency.Seconds())
}

// Handler serves the registry in the Prometheus exposition format.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
