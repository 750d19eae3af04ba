// Package websocket delivers payloads as text frames over pooled WebSocket
// connections.
package websocket

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/sink/pool"
)

const closeGrace = 5 * time.Second

var (
	errNotConnected = errors.New("not connected")
	errPeerClosed   = errors.New("connection closed by peer")
)

// Client is a single WebSocket connection.
type Client struct {
	url          string
	headers      http.Header
	dialer       *websocket.Dialer
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed atomic.Bool
}

func newClient(url string, headers http.Header, handshake, write time.Duration) *Client {
	if handshake <= 0 {
		handshake = 30 * time.Second
	}
	return &Client{
		url:     url,
		headers: headers,
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshake,
			Proxy:            http.ProxyFromEnvironment,
		},
		writeTimeout: write,
	}
}

// Connect dials the endpoint and starts discarding inbound frames so control
// messages are processed.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return errors.New("already connected")
	}

	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	c.conn = conn
	c.closed.Store(false)
	go c.discardInbound(conn)
	return nil
}

func (c *Client) discardInbound(conn *websocket.Conn) {
	for {
		if _, _, err := conn.NextReader(); err != nil {
			c.closed.Store(true)
			return
		}
	}
}

// Send writes data as one text frame. The write deadline is the earlier of
// the configured write timeout and the context deadline.
func (c *Client) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return errNotConnected
	}
	if c.closed.Load() {
		return errPeerClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	var deadline time.Time
	if c.writeTimeout > 0 {
		deadline = time.Now().Add(c.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := c.conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close sends a close frame and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	err := c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGrace),
	)
	closeErr := c.conn.Close()
	c.conn = nil
	if err != nil && !errors.Is(err, websocket.ErrCloseSent) {
		return err
	}
	return closeErr
}

// Sink sends each payload on a pooled connection.
type Sink struct {
	pool *pool.Pool[*Client]
	log  *zap.SugaredLogger
}

// New builds the connection pool and performs one test dial. The dialed
// connection is kept as the first idle connection.
func New(ctx context.Context, cfg config.WebSocketConfig, log *zap.SugaredLogger) (*Sink, error) {
	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, errors.New("websocket URL is required")
	}
	headers := http.Header{}
	for k, v := range cfg.Headers {
		headers.Set(k, v)
	}

	p := pool.New(cfg.PoolSize, func() *Client {
		return newClient(target, headers, cfg.HandshakeTimeout, cfg.WriteTimeout)
	})

	conn, _, err := p.Get(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.Put(conn); err != nil {
		return nil, err
	}
	log.Infow("websocket endpoint reachable", "url", target, "pool_size", cfg.PoolSize)

	return &Sink{pool: p, log: log}, nil
}

func (s *Sink) Name() string { return "websocket" }

// Send writes payload on an idle connection. A reused connection that fails
// is assumed stale and is redialed once.
func (s *Sink) Send(ctx context.Context, payload []byte) error {
	conn, reused, err := s.pool.Get(ctx)
	if err != nil {
		return err
	}

	err = conn.Send(ctx, payload)
	if err != nil && reused && ctx.Err() == nil {
		s.log.Debugw("retrying on fresh websocket connection", "error", err)
		conn, err = s.pool.Redial(ctx, conn)
		if err != nil {
			return err
		}
		err = conn.Send(ctx, payload)
	}
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := s.pool.Put(conn); err != nil {
		s.log.Debugw("closing surplus websocket connection", "error", err)
	}
	return nil
}

func (s *Sink) poolStats() pool.Stats {
	return s.pool.Stats()
}

func (s *Sink) Close() error {
	return s.pool.Close()
}
