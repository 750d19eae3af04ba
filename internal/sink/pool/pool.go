// Package pool keeps a bounded set of idle connections to one target for
// reuse across sends.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// Conn is a connection that can be pooled and reused.
type Conn interface {
	Connect(ctx context.Context) error
	Close() error
}

// ErrClosed is returned by Get after Close.
var ErrClosed = errors.New("pool closed")

// Stats counts pool activity.
type Stats struct {
	Idle    int
	Dialed  int64
	Reused  int64
	Redials int64
}

// Pool hands out connected Conns created by factory.
type Pool[T Conn] struct {
	factory func() T

	mu     sync.Mutex
	idle   chan T
	closed bool

	dialed  atomic.Int64
	reused  atomic.Int64
	redials atomic.Int64
}

// New returns a pool holding at most size idle connections.
func New[T Conn](size int, factory func() T) *Pool[T] {
	if size <= 0 {
		size = 10
	}
	return &Pool[T]{
		factory: factory,
		idle:    make(chan T, size),
	}
}

// Get returns an idle connection, or dials a new one when none is idle.
// reused reports whether the connection came from the pool and so may be
// stale.
func (p *Pool[T]) Get(ctx context.Context) (conn T, reused bool, err error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return conn, false, ErrClosed
	}
	select {
	case conn = <-p.idle:
		p.mu.Unlock()
		p.reused.Add(1)
		return conn, true, nil
	default:
	}
	p.mu.Unlock()

	conn, err = p.dial(ctx)
	return conn, false, err
}

func (p *Pool[T]) dial(ctx context.Context) (T, error) {
	conn := p.factory()
	if err := conn.Connect(ctx); err != nil {
		var zero T
		return zero, err
	}
	p.dialed.Add(1)
	return conn, nil
}

// Put returns conn for reuse. It is closed instead when the pool is full or
// closed.
func (p *Pool[T]) Put(conn T) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return conn.Close()
	}
	select {
	case p.idle <- conn:
		p.mu.Unlock()
		return nil
	default:
		p.mu.Unlock()
		return conn.Close()
	}
}

// Redial closes a stale connection and dials a replacement once.
func (p *Pool[T]) Redial(ctx context.Context, stale T) (T, error) {
	_ = stale.Close()
	p.redials.Add(1)
	return p.dial(ctx)
}

// Stats returns a snapshot of pool counters.
func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	idle := len(p.idle)
	p.mu.Unlock()
	return Stats{
		Idle:    idle,
		Dialed:  p.dialed.Load(),
		Reused:  p.reused.Load(),
		Redials: p.redials.Load(),
	}
}

// Close closes every idle connection. Connections checked out at the time
// are closed when they are returned.
func (p *Pool[T]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.idle)
	p.mu.Unlock()

	var errs []error
	for conn := range p.idle {
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool close: %w", errors.Join(errs...))
	}
	return nil
}
