package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torosent/crankqueue/internal/dispatch"
	"github.com/torosent/crankqueue/internal/metrics"
)

type fakeState struct{ snap dispatch.Snapshot }

func (f *fakeState) Snapshot() dispatch.Snapshot { return f.snap }

func TestPrometheusGaugesReadEngineState(t *testing.T) {
	reg := prometheus.NewRegistry()
	state := &fakeState{snap: dispatch.Snapshot{Queued: 7, Pending: 1, Inflight: 3, Concurrency: 4, Enqueued: 11}}
	_, err := metrics.NewPrometheus(reg, state)
	require.NoError(t, err)

	expected := `
# HELP crankqueue_inflight Sends currently in progress
# TYPE crankqueue_inflight gauge
crankqueue_inflight 3
# HELP crankqueue_queued Messages waiting in the queue
# TYPE crankqueue_queued gauge
crankqueue_queued 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"crankqueue_inflight", "crankqueue_queued"))

	state.snap.Queued = 0
	state.snap.Enqueued = 12
	expected = `
# HELP crankqueue_enqueued_total Total messages accepted into the queue
# TYPE crankqueue_enqueued_total counter
crankqueue_enqueued_total 12
# HELP crankqueue_queued Messages waiting in the queue
# TYPE crankqueue_queued gauge
crankqueue_queued 0
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"crankqueue_enqueued_total", "crankqueue_queued"))
}

func TestPrometheusObserveSend(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.NewPrometheus(reg, &fakeState{})
	require.NoError(t, err)

	m.ObserveSend("kafka", 5*time.Millisecond, nil)
	m.ObserveSend("kafka", 8*time.Millisecond, nil)
	m.ObserveSend("kafka", time.Second, errors.New("broker down"))
	m.ObserveSend("http", 2*time.Millisecond, nil)

	count, err := testutil.GatherAndCount(reg, "crankqueue_sends_total")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	expected := `
# HELP crankqueue_sends_total Total completed sends by sink and status
# TYPE crankqueue_sends_total counter
crankqueue_sends_total{sink="http",status="success"} 1
crankqueue_sends_total{sink="kafka",status="error"} 1
crankqueue_sends_total{sink="kafka",status="success"} 2
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "crankqueue_sends_total"))

	histCount, err := testutil.GatherAndCount(reg, "crankqueue_send_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, histCount)
}

func TestPrometheusDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewPrometheus(reg, &fakeState{})
	require.NoError(t, err)

	_, err = metrics.NewPrometheus(reg, &fakeState{})
	require.Error(t, err)
}

func TestNilPrometheusIsSafe(t *testing.T) {
	var m *metrics.Prometheus
	assert.NotPanics(t, func() { m.ObserveSend("kafka", time.Millisecond, nil) })
}

func TestHandlerServesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := metrics.NewPrometheus(reg, &fakeState{snap: dispatch.Snapshot{Concurrency: 9}})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	metrics.Handler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "crankqueue_concurrency 9")
}
