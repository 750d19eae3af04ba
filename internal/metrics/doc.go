// Package metrics observes completed sends.
//
// Two observers live here. [Collector] keeps a per-sink HDR histogram with
// success and failure counts and a breakdown of failures by friendly error
// name; the control API reports it under "sinks". [Prometheus] exports the
// same events together with engine gauges for scraping on /metrics.
//
// Both satisfy the dispatch engine's observer hook:
//
//	collector := metrics.NewCollector()
//	prom, err := metrics.NewPrometheus(registry, engine)
//	opts.Observers = []dispatch.Observer{collector, prom}
//
// Observers are called from send goroutines and are safe for concurrent use.
package metrics
