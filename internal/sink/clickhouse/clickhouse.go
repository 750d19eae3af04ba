// Package clickhouse delivers payloads as rows of a ClickHouse table.
package clickhouse

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
)

const defaultPingTimeout = 10 * time.Second

// conn is the subset of driver.Conn used by Sink.
type conn interface {
	Exec(ctx context.Context, query string, args ...any) error
	Ping(ctx context.Context) error
	Close() error
}

// Sink inserts one row per payload.
type Sink struct {
	conn  conn
	table string
	log   *zap.SugaredLogger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// New opens a connection, verifies it with a ping and creates the table if
// it does not exist. The service must not start when any step fails.
func New(ctx context.Context, cfg config.ClickHouseConfig, log *zap.SugaredLogger) (*Sink, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Addresses,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		Compression:      &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout:      cfg.DialTimeout,
		MaxOpenConns:     cfg.MaxOpenConns,
		MaxIdleConns:     cfg.MaxOpenConns,
		ConnOpenStrategy: clickhouse.ConnOpenInOrder,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: "crankqueue", Version: "1.0"},
			},
		},
	}
	if cfg.Debug && log != nil {
		opts.Debugf = func(format string, v ...interface{}) {
			log.Debugf(format, v...)
		}
	}

	c, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	s, err := newSink(ctx, c, cfg.Table, log)
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	return s, nil
}

func newSink(ctx context.Context, c conn, table string, log *zap.SugaredLogger) (*Sink, error) {
	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		var exception *clickhouse.Exception
		if errors.As(err, &exception) {
			log.Errorw("failed to ping ClickHouse", "code", exception.Code, "error", exception.Message)
		} else {
			log.Errorw("failed to ping ClickHouse", "error", err)
		}
		return nil, fmt.Errorf("ping: %w", err)
	}

	if err := c.Exec(ctx, createTableQuery(table)); err != nil {
		return nil, fmt.Errorf("failed to create table %s: %w", table, err)
	}
	log.Infow("clickhouse table ready", "table", table)

	return &Sink{
		conn:    c,
		table:   table,
		log:     log,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}, nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id String,
	payload String,
	created_at DateTime64(3, 'UTC')
) ENGINE = MergeTree
ORDER BY (created_at, id)`, table)
}

func insertQuery(table string) string {
	return fmt.Sprintf("INSERT INTO %s (id, payload, created_at) VALUES (?, ?, ?)", table)
}

func (s *Sink) Name() string { return "clickhouse" }

// Send inserts payload under a fresh ULID.
func (s *Sink) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	now := s.now().UTC()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("row id: %w", err)
	}

	if err := s.conn.Exec(ctx, insertQuery(s.table), id.String(), string(payload), now); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) Close() error {
	return s.conn.Close()
}
