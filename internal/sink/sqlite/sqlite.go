// Package sqlite appends payloads to a local SQLite database.
package sqlite

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
)

// Sink writes one row per payload through a single connection.
type Sink struct {
	db    *sql.DB
	table string
	log   *zap.SugaredLogger

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

// New opens (or creates) the database at cfg.Path, applies pragmas and
// creates the target table.
func New(ctx context.Context, cfg config.SQLiteConfig, log *zap.SugaredLogger) (*Sink, error) {
	db, err := sql.Open("sqlite3", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite allows one writer at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableQuery(cfg.Table)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create table %s: %w", cfg.Table, err)
	}
	log.Infow("sqlite database ready", "path", cfg.Path, "table", cfg.Table)

	return &Sink{
		db:      db,
		table:   cfg.Table,
		log:     log,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}, nil
}

func applyPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func createTableQuery(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	payload BLOB NOT NULL,
	created_at INTEGER NOT NULL
)`, table)
}

func (s *Sink) Name() string { return "sqlite" }

// Send inserts payload keyed by a fresh ULID. created_at holds unix milliseconds.
func (s *Sink) Send(ctx context.Context, payload []byte) error {
	now := time.Now()
	s.mu.Lock()
	id, err := ulid.New(ulid.Timestamp(now), s.entropy)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("row id: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (id, payload, created_at) VALUES (?, ?, ?)", s.table)
	if _, err := s.db.ExecContext(ctx, query, id.String(), payload, now.UnixMilli()); err != nil {
		return fmt.Errorf("insert into %s: %w", s.table, err)
	}
	return nil
}

func (s *Sink) count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
