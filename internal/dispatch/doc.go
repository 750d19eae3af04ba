// Package dispatch provides the bounded-concurrency drain loop that moves
// queued payloads into one or more sinks.
//
// The [Engine] owns an in-memory FIFO queue and an inflight counter. Its drain
// loop repeatedly pops the queue head while inflight is below the configured
// concurrency and starts an asynchronous send for it; completions release the
// slot and feed the latency aggregator or the error log.
//
// # Basic Usage
//
//	engine, err := dispatch.New(dispatch.Options{
//		Concurrency: 10,
//		Sinks:       []dispatch.Sink{kafkaSink},
//	})
//	if err != nil {
//		return err
//	}
//	go engine.Run(ctx)
//	engine.Enqueue(payloads...)
//
// # Sink Interface
//
// The [Sink] interface defines a delivery target:
//
//	type Sink interface {
//		Name() string
//		Send(ctx context.Context, payload []byte) error
//	}
//
// A returned error is terminal for that send: it is recorded as a [SendError]
// and the payload is not requeued.
//
// # Fan-out
//
// With more than one sink, every payload is sent to every sink. Each of those
// sends takes one unit of inflight capacity and is accounted separately, both
// globally and per sink ([Snapshot.InflightBySink]).
//
// # Middleware
//
//   - [WithTimeout]: fail sends that exceed a deadline
//   - [WithTracing]: wrap sends in OpenTelemetry spans
package dispatch
