package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/sink/clickhouse"
	"github.com/torosent/crankqueue/internal/sink/httpsink"
	"github.com/torosent/crankqueue/internal/sink/kafka"
	"github.com/torosent/crankqueue/internal/sink/sqlite"
	"github.com/torosent/crankqueue/internal/sink/websocket"
)

// DefaultFactories returns a factory for every supported sink kind.
func DefaultFactories() map[config.SinkKind]Factory {
	return map[config.SinkKind]Factory{
		config.SinkKafka: func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error) {
			return kafka.New(ctx, cfg.Kafka, log)
		},
		config.SinkClickHouse: func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error) {
			return clickhouse.New(ctx, cfg.ClickHouse, log)
		},
		config.SinkSQLite: func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error) {
			return sqlite.New(ctx, cfg.SQLite, log)
		},
		config.SinkHTTP: func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error) {
			return httpsink.New(ctx, cfg.HTTP, cfg.Concurrency, log)
		},
		config.SinkWebSocket: func(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) (Sink, error) {
			return websocket.New(ctx, cfg.WebSocket, log)
		},
		config.SinkDiscard: func(_ context.Context, cfg *config.Config, _ *zap.SugaredLogger) (Sink, error) {
			return NewDiscard(cfg.Discard.Latency), nil
		},
	}
}
