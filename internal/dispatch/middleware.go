package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/crankqueue/internal/tracing"
)

// TimeoutError reports a send that did not finish within its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("send timed out after %s", e.Timeout)
}

// timeoutSink bounds every send of the inner sink.
type timeoutSink struct {
	inner   Sink
	timeout time.Duration
}

// WithTimeout wraps a Sink so that a send which has not returned within
// timeout fails with a *TimeoutError and frees its inflight slot, even if the
// inner sink ignores context cancellation.
func WithTimeout(s Sink, timeout time.Duration) Sink {
	if timeout <= 0 {
		return s
	}
	return &timeoutSink{inner: s, timeout: timeout}
}

func (t *timeoutSink) Name() string { return t.inner.Name() }

func (t *timeoutSink) Send(ctx context.Context, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.inner.Send(ctx, payload)
	}()

	select {
	case err := <-done:
		if err != nil && ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("%w: %v", &TimeoutError{Timeout: t.timeout}, err)
		}
		return err
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return &TimeoutError{Timeout: t.timeout}
		}
		return ctx.Err()
	}
}

// tracingSink starts a client span around every send.
type tracingSink struct {
	inner  Sink
	tracer trace.Tracer
}

// WithTracing wraps a Sink so each send is recorded as a span. A nil tracer
// returns the sink unchanged.
func WithTracing(s Sink, tracer trace.Tracer) Sink {
	if tracer == nil {
		return s
	}
	return &tracingSink{inner: s, tracer: tracer}
}

func (t *tracingSink) Name() string { return t.inner.Name() }

func (t *tracingSink) Send(ctx context.Context, payload []byte) error {
	ctx, span := tracing.StartSendSpan(ctx, t.tracer, t.inner.Name())
	err := t.inner.Send(ctx, payload)
	tracing.EndSpan(span, err, attribute.Int("crankqueue.payload_bytes", len(payload)))
	return err
}
