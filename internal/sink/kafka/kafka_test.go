package kafka

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/torosent/crankqueue/internal/config"
)

type fakeProducer struct {
	mu        sync.Mutex
	produced  []*kafka.Message
	events    chan kafka.Event
	produceFn func(msg *kafka.Message, ch chan kafka.Event) error
	flushed   int
	closed    int
}

func newFakeProducer() *fakeProducer {
	return &fakeProducer{events: make(chan kafka.Event, 8)}
}

func (f *fakeProducer) Produce(msg *kafka.Message, ch chan kafka.Event) error {
	f.mu.Lock()
	fn := f.produceFn
	f.produced = append(f.produced, msg)
	f.mu.Unlock()
	if fn != nil {
		return fn(msg, ch)
	}
	go func() {
		delivered := *msg
		delivered.TopicPartition.Partition = 0
		delivered.TopicPartition.Offset = kafka.Offset(1)
		ch <- &delivered
	}()
	return nil
}

func (f *fakeProducer) Events() chan kafka.Event { return f.events }

func (f *fakeProducer) Flush(int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushed++
	return 0
}

func (f *fakeProducer) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
}

func TestSendWaitsForDelivery(t *testing.T) {
	fp := newFakeProducer()
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Send(context.Background(), []byte(`{"v0":"x"}`)))
	require.NoError(t, s.Send(context.Background(), []byte(`{"v0":"y"}`)))

	fp.mu.Lock()
	defer fp.mu.Unlock()
	require.Len(t, fp.produced, 2)
	assert.Equal(t, "load", *fp.produced[0].TopicPartition.Topic)
	assert.Equal(t, kafka.PartitionAny, fp.produced[0].TopicPartition.Partition)
	assert.Equal(t, []byte(`{"v0":"x"}`), fp.produced[0].Value)

	first, err := ulid.Parse(string(fp.produced[0].Key))
	require.NoError(t, err)
	second, err := ulid.Parse(string(fp.produced[1].Key))
	require.NoError(t, err)
	assert.Equal(t, -1, first.Compare(second), "keys are monotonic")
}

func TestSendReportsDeliveryFailure(t *testing.T) {
	fp := newFakeProducer()
	fp.produceFn = func(msg *kafka.Message, ch chan kafka.Event) error {
		failed := *msg
		failed.TopicPartition.Error = kafka.NewError(kafka.ErrMsgTimedOut, "message timed out", false)
		ch <- &failed
		return nil
	}
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = s.Close() })

	err := s.Send(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "delivery failed")

	var kerr kafka.Error
	require.ErrorAs(t, err, &kerr)
	assert.Equal(t, kafka.ErrMsgTimedOut, kerr.Code())
}

func TestSendRetriesWhileQueueFull(t *testing.T) {
	fp := newFakeProducer()
	attempts := 0
	fp.produceFn = func(msg *kafka.Message, ch chan kafka.Event) error {
		attempts++
		if attempts < 3 {
			return kafka.NewError(kafka.ErrQueueFull, "queue full", false)
		}
		ch <- msg
		return nil
	}
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.Send(context.Background(), []byte("x")))
	assert.Equal(t, 3, attempts)
}

func TestSendQueueFullHonorsContext(t *testing.T) {
	fp := newFakeProducer()
	fp.produceFn = func(*kafka.Message, chan kafka.Event) error {
		return kafka.NewError(kafka.ErrQueueFull, "queue full", false)
	}
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = s.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := s.Send(ctx, []byte("x"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSendProduceErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"broker down", kafka.NewError(kafka.ErrBrokerNotAvailable, "no broker", false), "broker not available"},
		{"too large", kafka.NewError(kafka.ErrInvalidMsgSize, "too big", false), "invalid message size"},
		{"unknown topic", kafka.NewError(kafka.ErrUnknownTopicOrPart, "unknown", false), "unknown topic or partition"},
		{"plain error", errors.New("boom"), "failed to produce"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fp := newFakeProducer()
			fp.produceFn = func(*kafka.Message, chan kafka.Event) error { return tt.err }
			s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
			t.Cleanup(func() { _ = s.Close() })

			err := s.Send(context.Background(), []byte("x"))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestFatalEventFailsLaterSends(t *testing.T) {
	fp := newFakeProducer()
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())
	t.Cleanup(func() { _ = s.Close() })

	fp.events <- kafka.NewError(kafka.ErrAllBrokersDown, "all brokers down", false)

	require.Eventually(t, func() bool {
		return s.Send(context.Background(), []byte("x")) != nil
	}, time.Second, 5*time.Millisecond)

	err := s.Send(context.Background(), []byte("x"))
	assert.Contains(t, err.Error(), "kafka producer unusable")
}

func TestCloseFlushesOnce(t *testing.T) {
	fp := newFakeProducer()
	s := newSink(fp, "load", time.Second, zaptest.NewLogger(t).Sugar())

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Equal(t, 1, fp.flushed)
	assert.Equal(t, 1, fp.closed)
}

func TestConfigMap(t *testing.T) {
	m := ConfigMap(config.KafkaConfig{Brokers: "b1:9092,b2:9092", ClientID: "cq", Acks: "all"})

	servers, err := m.Get("bootstrap.servers", "")
	require.NoError(t, err)
	assert.Equal(t, "b1:9092,b2:9092", servers)

	acks, err := m.Get("acks", "")
	require.NoError(t, err)
	assert.Equal(t, "all", acks)

	m = ConfigMap(config.KafkaConfig{Brokers: "b1:9092"})
	acks, err = m.Get("acks", "unset")
	require.NoError(t, err)
	assert.Equal(t, "unset", acks)
}
