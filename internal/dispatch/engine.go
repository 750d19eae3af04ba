package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/torosent/crankqueue/internal/errlog"
	"github.com/torosent/crankqueue/internal/latency"
)

var (
	// ErrNoSinks is returned by New when no sink is configured.
	ErrNoSinks = errors.New("dispatch: at least one sink is required")
	// ErrAlreadyRunning is returned by Run when the drain loop is already active.
	ErrAlreadyRunning = errors.New("dispatch: engine already running")
)

// SendError records a failed delivery of one payload to one sink.
type SendError struct {
	Sink string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Sink, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

// Snapshot is a consistent view of the engine's accounting.
type Snapshot struct {
	Queued         int            `json:"queued"`
	Pending        int            `json:"pending"`
	Inflight       int            `json:"inflight"`
	Concurrency    int            `json:"concurrency"`
	Enqueued       int64          `json:"enqueued"`
	Started        int64          `json:"started"`
	Completed      int64          `json:"completed"`
	Failed         int64          `json:"failed"`
	InflightBySink map[string]int `json:"inflight_by_sink"`
}

type job struct {
	payload []byte
	sink    Sink
}

// Engine drains a FIFO queue of payloads into its sinks while keeping the
// number of inflight sends at or below a runtime-adjustable limit.
//
// Each dequeued payload is sent to every sink; each of those sends occupies
// one unit of inflight capacity. Fan-out sends that cannot start yet are held
// as pending and take precedence over the queue head.
type Engine struct {
	opt     Options
	sinks   []Sink
	limiter *rate.Limiter
	log     *zap.SugaredLogger

	mu          sync.Mutex
	queue       [][]byte
	head        int
	pending     []job
	inflight    int
	perSink     map[string]int
	concurrency int
	enqueued    int64
	started     int64
	completed   int64
	failed      int64

	wake    chan struct{}
	running atomic.Bool
}

func New(opt Options) (*Engine, error) {
	opt.normalize()
	if len(opt.Sinks) == 0 {
		return nil, ErrNoSinks
	}

	sinks := make([]Sink, len(opt.Sinks))
	perSink := make(map[string]int, len(opt.Sinks))
	for i, s := range opt.Sinks {
		if s == nil {
			return nil, fmt.Errorf("dispatch: sink %d is nil", i)
		}
		if opt.SendTimeout > 0 {
			s = WithTimeout(s, opt.SendTimeout)
		}
		sinks[i] = s
		perSink[s.Name()] = 0
	}

	var limiter *rate.Limiter
	if opt.RatePerSecond > 0 {
		limiter = opt.LimiterFactory(opt.RatePerSecond)
	}

	return &Engine{
		opt:         opt,
		sinks:       sinks,
		limiter:     limiter,
		log:         opt.Logger,
		perSink:     perSink,
		concurrency: opt.Concurrency,
		wake:        make(chan struct{}, 1),
	}, nil
}

// Latency returns the aggregator fed by successful sends.
func (e *Engine) Latency() *latency.Aggregator { return e.opt.Latency }

// Errors returns the log fed by failed sends.
func (e *Engine) Errors() *errlog.Log { return e.opt.Errors }

// Sinks returns the names of the configured sinks in fan-out order.
func (e *Engine) Sinks() []string {
	names := make([]string, len(e.sinks))
	for i, s := range e.sinks {
		names[i] = s.Name()
	}
	return names
}

// Enqueue appends payloads to the tail of the queue in order. It never blocks
// on sends and may be called concurrently with the drain loop.
func (e *Engine) Enqueue(payloads ...[]byte) {
	if len(payloads) == 0 {
		return
	}
	e.mu.Lock()
	e.queue = append(e.queue, payloads...)
	e.enqueued += int64(len(payloads))
	e.mu.Unlock()
	e.notify()
}

// SetConcurrency replaces the inflight limit. Sends already started are not
// affected. It returns the previous limit.
func (e *Engine) SetConcurrency(n int) (int, error) {
	if n < 0 {
		return 0, fmt.Errorf("dispatch: concurrency must be >= 0, got %d", n)
	}
	e.mu.Lock()
	prev := e.concurrency
	e.concurrency = n
	e.mu.Unlock()

	if prev != n {
		e.log.Infow("concurrency changed", "from", prev, "to", n)
		e.notify()
	}
	return prev, nil
}

// Concurrency returns the current inflight limit.
func (e *Engine) Concurrency() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.concurrency
}

// Snapshot returns the current queue and inflight accounting.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	bySink := make(map[string]int, len(e.perSink))
	for k, v := range e.perSink {
		bySink[k] = v
	}
	return Snapshot{
		Queued:         len(e.queue) - e.head,
		Pending:        len(e.pending),
		Inflight:       e.inflight,
		Concurrency:    e.concurrency,
		Enqueued:       e.enqueued,
		Started:        e.started,
		Completed:      e.completed,
		Failed:         e.failed,
		InflightBySink: bySink,
	}
}

// Run drains the queue until ctx is cancelled. Between passes it sleeps until
// an enqueue, a concurrency change or a send completion wakes it. Inflight
// sends are abandoned when ctx ends; there is no graceful drain.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer e.running.Store(false)

	e.log.Infow("dispatch loop started", "concurrency", e.Concurrency(), "sinks", e.Sinks())
	for {
		e.Dispatch(ctx)
		select {
		case <-ctx.Done():
			e.log.Infow("dispatch loop stopped", "inflight", e.Snapshot().Inflight)
			return nil
		case <-e.wake:
		}
	}
}

// Dispatch performs one drain pass: it starts sends until the queue is empty
// or the inflight limit is reached, and returns the number of sends started.
// Sends run asynchronously; Dispatch does not wait for them.
func (e *Engine) Dispatch(ctx context.Context) int {
	started := 0
	for ctx.Err() == nil {
		if e.limiter != nil {
			if !e.ready() {
				break
			}
			if err := e.limiter.Wait(ctx); err != nil {
				break
			}
		}
		j, ok := e.next()
		if !ok {
			break
		}
		started++
		go e.send(ctx, j)
	}
	return started
}

// ready reports whether next would hand out a send.
func (e *Engine) ready() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inflight < e.concurrency && (len(e.pending) > 0 || e.head < len(e.queue))
}

// next reserves one inflight slot and returns the send to start in it. The
// capacity check and the reservation happen under one lock.
func (e *Engine) next() (job, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.inflight >= e.concurrency {
		return job{}, false
	}
	if len(e.pending) == 0 {
		payload, ok := e.pop()
		if !ok {
			return job{}, false
		}
		for _, s := range e.sinks {
			e.pending = append(e.pending, job{payload: payload, sink: s})
		}
	}

	j := e.pending[0]
	e.pending[0] = job{}
	e.pending = e.pending[1:]
	if len(e.pending) == 0 {
		e.pending = nil
	}

	e.inflight++
	e.perSink[j.sink.Name()]++
	e.started++
	return j, true
}

// pop removes the queue head. Callers must hold e.mu.
func (e *Engine) pop() ([]byte, bool) {
	if e.head >= len(e.queue) {
		return nil, false
	}
	payload := e.queue[e.head]
	e.queue[e.head] = nil
	e.head++

	switch {
	case e.head == len(e.queue):
		e.queue = e.queue[:0]
		e.head = 0
	case e.head > 1024 && e.head*2 > len(e.queue):
		n := copy(e.queue, e.queue[e.head:])
		e.queue = e.queue[:n]
		e.head = 0
	}
	return payload, true
}

func (e *Engine) send(ctx context.Context, j job) {
	name := j.sink.Name()
	start := time.Now()
	err := j.sink.Send(ctx, j.payload)
	elapsed := time.Since(start)
	e.complete(name, elapsed, err)
}

// complete records the outcome and then releases the slot. A failure never
// leaves this function; it is logged and stored in the error log.
func (e *Engine) complete(sink string, elapsed time.Duration, err error) {
	if err == nil {
		e.opt.Latency.Add(elapsed)
	} else {
		e.opt.Errors.Append(sink, &SendError{Sink: sink, Err: err})
		e.log.Warnw("send failed", "sink", sink, "elapsed", elapsed, "error", err)
	}
	for _, o := range e.opt.Observers {
		o.ObserveSend(sink, elapsed, err)
	}

	e.mu.Lock()
	e.inflight--
	e.perSink[sink]--
	e.completed++
	if err != nil {
		e.failed++
	}
	e.mu.Unlock()
	e.notify()
}

func (e *Engine) notify() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
