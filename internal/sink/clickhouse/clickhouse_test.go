package clickhouse

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type mockConn struct {
	mock.Mock
}

func (m *mockConn) Exec(ctx context.Context, query string, args ...any) error {
	callArgs := []interface{}{ctx, query}
	callArgs = append(callArgs, args...)
	return m.Called(callArgs...).Error(0)
}

func (m *mockConn) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *mockConn) Close() error {
	return m.Called().Error(0)
}

func isCreateTable(q string) bool { return strings.HasPrefix(q, "CREATE TABLE IF NOT EXISTS messages") }

func TestNewSinkCreatesTable(t *testing.T) {
	c := &mockConn{}
	c.On("Ping", mock.Anything).Return(nil)
	c.On("Exec", mock.Anything, mock.MatchedBy(isCreateTable)).Return(nil)

	s, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	assert.Equal(t, "clickhouse", s.Name())
	c.AssertExpectations(t)
}

func TestNewSinkPingFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"network", errors.New("connection refused")},
		{"exception", &clickhouse.Exception{Code: 516, Message: "Authentication failed"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockConn{}
			c.On("Ping", mock.Anything).Return(tt.err)

			_, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			c.AssertNotCalled(t, "Exec", mock.Anything, mock.Anything)
		})
	}
}

func TestNewSinkCreateTableFailure(t *testing.T) {
	c := &mockConn{}
	c.On("Ping", mock.Anything).Return(nil)
	c.On("Exec", mock.Anything, mock.MatchedBy(isCreateTable)).Return(errors.New("readonly"))

	_, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create table messages")
}

func TestSendInsertsRow(t *testing.T) {
	c := &mockConn{}
	c.On("Ping", mock.Anything).Return(nil)
	c.On("Exec", mock.Anything, mock.MatchedBy(isCreateTable)).Return(nil)

	s, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	c.On("Exec", mock.Anything, "INSERT INTO messages (id, payload, created_at) VALUES (?, ?, ?)",
		mock.MatchedBy(func(id string) bool {
			parsed, err := ulid.Parse(id)
			return err == nil && ulid.Time(parsed.Time()).Equal(fixed)
		}),
		`{"v0":"abc"}`,
		fixed,
	).Return(nil).Once()

	require.NoError(t, s.Send(context.Background(), []byte(`{"v0":"abc"}`)))
	c.AssertExpectations(t)
}

func TestSendWrapsInsertError(t *testing.T) {
	c := &mockConn{}
	c.On("Ping", mock.Anything).Return(nil)
	c.On("Exec", mock.Anything, mock.MatchedBy(isCreateTable)).Return(nil)
	s, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	insertErr := &clickhouse.Exception{Code: 241, Message: "Memory limit exceeded"}
	c.On("Exec", mock.Anything, mock.MatchedBy(func(q string) bool { return strings.HasPrefix(q, "INSERT") }),
		mock.Anything, mock.Anything, mock.Anything).Return(insertErr)

	err = s.Send(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, insertErr)
	assert.Contains(t, err.Error(), "insert into messages")
}

func TestClose(t *testing.T) {
	c := &mockConn{}
	c.On("Ping", mock.Anything).Return(nil)
	c.On("Exec", mock.Anything, mock.Anything).Return(nil)
	c.On("Close").Return(nil).Once()

	s, err := newSink(context.Background(), c, "messages", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	require.NoError(t, s.Close())
	c.AssertExpectations(t)
}
