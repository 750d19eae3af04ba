package sink_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/dispatch"
	"github.com/torosent/crankqueue/internal/sink"
)

type fakeSink struct {
	name     string
	closed   *[]string
	closeErr error
}

func (f *fakeSink) Name() string                       { return f.name }
func (f *fakeSink) Send(context.Context, []byte) error { return nil }

func (f *fakeSink) Close() error {
	*f.closed = append(*f.closed, f.name)
	return f.closeErr
}

func okFactory(name string, closed *[]string) sink.Factory {
	return func(context.Context, *config.Config, *zap.SugaredLogger) (sink.Sink, error) {
		return &fakeSink{name: name, closed: closed}, nil
	}
}

func failingFactory(err error) sink.Factory {
	return func(context.Context, *config.Config, *zap.SugaredLogger) (sink.Sink, error) {
		return nil, err
	}
}

func TestBuildInConfigurationOrder(t *testing.T) {
	var closed []string
	factories := map[config.SinkKind]sink.Factory{
		config.SinkKafka:   okFactory("kafka", &closed),
		config.SinkDiscard: okFactory("discard", &closed),
		config.SinkSQLite:  okFactory("sqlite", &closed),
	}
	cfg := &config.Config{Sinks: []string{"Kafka", "sqlite", "kafka", " discard "}}

	set, err := sink.Build(context.Background(), cfg, factories, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	var names []string
	for _, s := range set.Sinks() {
		names = append(names, s.Name())
	}
	assert.Equal(t, []string{"kafka", "sqlite", "discard"}, names)

	require.NoError(t, set.Close())
	assert.Equal(t, []string{"discard", "sqlite", "kafka"}, closed)
}

func TestBuildFailureClosesBuiltSinks(t *testing.T) {
	var closed []string
	boom := errors.New("broker unreachable")
	factories := map[config.SinkKind]sink.Factory{
		config.SinkDiscard: okFactory("discard", &closed),
		config.SinkSQLite:  okFactory("sqlite", &closed),
		config.SinkKafka:   failingFactory(boom),
	}
	cfg := &config.Config{Sinks: []string{"discard", "sqlite", "kafka"}}

	set, err := sink.Build(context.Background(), cfg, factories, nil)
	require.Error(t, err)
	assert.Nil(t, set)

	var setupErr *sink.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "kafka", setupErr.Sink)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "setup kafka sink: broker unreachable", err.Error())
	assert.Equal(t, []string{"sqlite", "discard"}, closed)
}

func TestBuildUnsupportedKind(t *testing.T) {
	cfg := &config.Config{Sinks: []string{"carrier-pigeon"}}
	_, err := sink.Build(context.Background(), cfg, sink.DefaultFactories(), nil)

	var setupErr *sink.SetupError
	require.ErrorAs(t, err, &setupErr)
	assert.Equal(t, "carrier-pigeon", setupErr.Sink)
}

func TestBuildWithoutSinks(t *testing.T) {
	_, err := sink.Build(context.Background(), &config.Config{}, sink.DefaultFactories(), nil)
	require.ErrorIs(t, err, dispatch.ErrNoSinks)
}

func TestSetCloseJoinsErrors(t *testing.T) {
	var closed []string
	factories := map[config.SinkKind]sink.Factory{
		config.SinkDiscard: func(context.Context, *config.Config, *zap.SugaredLogger) (sink.Sink, error) {
			return &fakeSink{name: "discard", closed: &closed, closeErr: errors.New("stuck")}, nil
		},
		config.SinkSQLite: okFactory("sqlite", &closed),
	}
	set, err := sink.Build(context.Background(), &config.Config{Sinks: []string{"discard", "sqlite"}}, factories, nil)
	require.NoError(t, err)

	err = set.Close()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "close discard: stuck")
	assert.Equal(t, []string{"sqlite", "discard"}, closed)
}

func TestDefaultFactoriesCoverEveryKind(t *testing.T) {
	factories := sink.DefaultFactories()
	for _, kind := range []config.SinkKind{
		config.SinkKafka, config.SinkClickHouse, config.SinkSQLite,
		config.SinkHTTP, config.SinkWebSocket, config.SinkDiscard,
	} {
		assert.Contains(t, factories, kind)
	}
}

func TestDefaultFactoriesBuildLocalSinks(t *testing.T) {
	cfg := &config.Config{
		Sinks:  []string{"discard", "sqlite"},
		SQLite: config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "out.db"), Table: "messages"},
	}
	set, err := sink.Build(context.Background(), cfg, sink.DefaultFactories(), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer set.Close()

	for _, s := range set.Sinks() {
		require.NoError(t, s.Send(context.Background(), []byte(`{"v0":"x"}`)), s.Name())
	}
}

func TestDiscard(t *testing.T) {
	d := sink.NewDiscard(0)
	assert.Equal(t, "discard", d.Name())
	require.NoError(t, d.Send(context.Background(), nil))
	require.NoError(t, d.Close())

	slow := sink.NewDiscard(time.Hour)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, slow.Send(ctx, nil), context.DeadlineExceeded)

	start := time.Now()
	require.NoError(t, sink.NewDiscard(20*time.Millisecond).Send(context.Background(), nil))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}
