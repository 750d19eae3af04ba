package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/crankqueue/internal/config"
)

func openTestSink(t *testing.T) (*Sink, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "messages.db")
	s, err := New(context.Background(), config.SQLiteConfig{Path: path, Table: "messages"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, path
}

func TestNewCreatesDatabase(t *testing.T) {
	s, path := openTestSink(t)

	_, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", s.Name())

	var mode string
	require.NoError(t, s.db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)
}

func TestNewIsIdempotent(t *testing.T) {
	s, path := openTestSink(t)
	require.NoError(t, s.Send(context.Background(), []byte("first")))
	require.NoError(t, s.Close())

	again, err := New(context.Background(), config.SQLiteConfig{Path: path, Table: "messages"}, zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer again.Close()

	n, err := again.count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestNewFailsOnUnwritablePath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "dir", "messages.db")
	_, err := New(context.Background(), config.SQLiteConfig{Path: path, Table: "messages"}, zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
}

func TestSendStoresPayload(t *testing.T) {
	s, _ := openTestSink(t)
	ctx := context.Background()

	require.NoError(t, s.Send(ctx, []byte(`{"v0":"abc"}`)))

	var id string
	var payload []byte
	var created int64
	require.NoError(t, s.db.QueryRow("SELECT id, payload, created_at FROM messages").Scan(&id, &payload, &created))

	parsed, err := ulid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, `{"v0":"abc"}`, string(payload))
	assert.EqualValues(t, parsed.Time(), created)
}

func TestSendConcurrent(t *testing.T) {
	s, _ := openTestSink(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Send(ctx, []byte("payload")))
		}()
	}
	wg.Wait()

	n, err := s.count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 20, n)
}

func TestSendHonorsCanceledContext(t *testing.T) {
	s, _ := openTestSink(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, s.Send(ctx, []byte("late")))
}
