package client

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/torosent/crankqueue/internal/config"
	"github.com/torosent/crankqueue/internal/server"
)

// API is the subset of Client the loops use.
type API interface {
	Produce(ctx context.Context, count, concurrency int) (server.MessagesResponse, error)
	Status(ctx context.Context) (server.StatusResponse, error)
}

// StatusSink receives each successful status poll. The dashboard implements
// it; the default writes to Out.
type StatusSink interface {
	ShowStatus(server.StatusResponse)
}

// Runner drives the produce and status loops.
type Runner struct {
	API    API
	Config config.ClientConfig
	Out    io.Writer
	Log    *zap.SugaredLogger
	Status StatusSink // optional; replaces text/JSON status output
}

// Run starts the enabled loops and blocks until ctx ends. Request failures
// are logged and the loops keep going.
func (r *Runner) Run(ctx context.Context) error {
	if !r.Config.Produce && !r.Config.Status {
		return errors.New("nothing to do: both produce and status are disabled")
	}
	if r.Config.Produce && r.Config.Every <= 0 {
		return errors.New("produce interval must be > 0")
	}
	if r.Config.Status && r.Config.StatusEvery <= 0 {
		return errors.New("status interval must be > 0")
	}
	if r.Out == nil {
		r.Out = io.Discard
	}
	r.Out = &lockedWriter{w: r.Out}
	if r.Log == nil {
		r.Log = zap.NewNop().Sugar()
	}

	g, gctx := errgroup.WithContext(ctx)
	if r.Config.Produce {
		r.Log.Infow("producing messages",
			"count", r.Config.Count, "every", r.Config.Every, "concurrency", concurrencyLabel(r.Config.Max))
		g.Go(func() error {
			every(gctx, r.Config.Every, r.produceOnce)
			return nil
		})
	}
	if r.Config.Status {
		r.Log.Infow("polling status", "every", r.Config.StatusEvery)
		g.Go(func() error {
			every(gctx, r.Config.StatusEvery, r.statusOnce)
			return nil
		})
	}
	return g.Wait()
}

// lockedWriter serializes writes from the two loops.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Write(p)
}

func concurrencyLabel(max int) any {
	if max <= 0 {
		return "server default"
	}
	return max
}

// every calls fn after each interval until ctx ends.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}

func (r *Runner) produceOnce(ctx context.Context) {
	resp, err := r.API.Produce(ctx, r.Config.Count, r.Config.Max)
	if err != nil {
		if ctx.Err() == nil {
			r.Log.Errorw("produce failed", "error", err)
		}
		return
	}
	if r.Status != nil {
		for _, e := range resp.Errors {
			r.Log.Warnw("send failed", "sink", e.Sink, "error", e.Error)
		}
		return
	}
	if r.Config.JSON {
		if err := PrintJSON(r.Out, resp); err != nil {
			r.Log.Errorw("write output", "error", err)
		}
		return
	}
	var buf bytes.Buffer
	PrintMessages(&buf, resp)
	r.write(buf.Bytes())
}

func (r *Runner) statusOnce(ctx context.Context) {
	st, err := r.API.Status(ctx)
	if err != nil {
		if ctx.Err() == nil {
			r.Log.Errorw("status failed", "error", err)
		}
		return
	}
	switch {
	case r.Status != nil:
		r.Status.ShowStatus(st)
	case r.Config.JSON:
		if err := PrintJSON(r.Out, st); err != nil {
			r.Log.Errorw("write output", "error", err)
		}
	default:
		var buf bytes.Buffer
		PrintStatus(&buf, st)
		r.write(buf.Bytes())
	}
}

// write emits one rendered block so the two loops never interleave lines.
func (r *Runner) write(p []byte) {
	if _, err := r.Out.Write(p); err != nil {
		r.Log.Errorw("write output", "error", err)
	}
}
