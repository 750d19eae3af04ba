// Package kafka delivers payloads to a Kafka topic with confluent-kafka-go.
package kafka

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/torosent/crankqueue/internal/config"
)

const queueFullRetryDelay = 100 * time.Millisecond

// producerClient is the subset of *kafka.Producer used by Sink.
type producerClient interface {
	Produce(msg *kafka.Message, deliveryChan chan kafka.Event) error
	Events() chan kafka.Event
	Flush(timeoutMs int) int
	Close()
}

// Sink produces each payload as one record and waits for its delivery report.
type Sink struct {
	producer     producerClient
	topic        string
	flushTimeout time.Duration
	log          *zap.SugaredLogger

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy

	fatal      atomic.Pointer[error]
	closedCh   chan struct{}
	eventsDone chan struct{}
	once       sync.Once
}

// ConfigMap translates cfg into librdkafka settings.
func ConfigMap(cfg config.KafkaConfig) *kafka.ConfigMap {
	m := &kafka.ConfigMap{
		"bootstrap.servers":      cfg.Brokers,
		"client.id":              cfg.ClientID,
		"go.logs.channel.enable": false,
	}
	if acks := strings.TrimSpace(cfg.Acks); acks != "" {
		_ = m.SetKey("acks", acks)
	}
	return m
}

// New ensures the topic exists (when configured to) and starts a producer.
func New(ctx context.Context, cfg config.KafkaConfig, log *zap.SugaredLogger) (*Sink, error) {
	conf := ConfigMap(cfg)

	if cfg.CreateTopic {
		admin, err := kafka.NewAdminClient(conf)
		if err != nil {
			return nil, fmt.Errorf("failed to create kafka admin client: %w", err)
		}
		err = EnsureTopic(ctx, admin, TopicConfig{
			Name:              cfg.Topic,
			NumPartitions:     cfg.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
		}, log)
		admin.Close()
		if err != nil {
			return nil, err
		}
	}

	p, err := kafka.NewProducer(conf)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newSink(p, cfg.Topic, cfg.FlushTimeout, log), nil
}

func newSink(p producerClient, topic string, flushTimeout time.Duration, log *zap.SugaredLogger) *Sink {
	s := &Sink{
		producer:     p,
		topic:        topic,
		flushTimeout: flushTimeout,
		log:          log,
		entropy:      ulid.Monotonic(rand.Reader, 0),
		closedCh:     make(chan struct{}),
		eventsDone:   make(chan struct{}),
	}
	go s.monitorEvents()
	return s
}

func (s *Sink) Name() string { return "kafka" }

// Send produces payload keyed by a fresh ULID and blocks until the broker
// acknowledges it or ctx is done. The record may still be delivered after a
// context error.
func (s *Sink) Send(ctx context.Context, payload []byte) error {
	if errp := s.fatal.Load(); errp != nil {
		return *errp
	}

	key, err := s.newKey()
	if err != nil {
		return err
	}
	msg := &kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &s.topic, Partition: kafka.PartitionAny},
		Key:            key,
		Value:          payload,
	}

	// Buffered so a report arriving after ctx is done never blocks librdkafka.
	deliveryCh := make(chan kafka.Event, 1)
	if err := s.produce(ctx, msg, deliveryCh); err != nil {
		return err
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case ev := <-deliveryCh:
		return deliveryError(ev)
	}
}

func (s *Sink) newKey() ([]byte, error) {
	s.entropyMu.Lock()
	id, err := ulid.New(ulid.Now(), s.entropy)
	s.entropyMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("record key: %w", err)
	}
	return []byte(id.String()), nil
}

// produce enqueues msg in the local producer queue, retrying while it is full.
func (s *Sink) produce(ctx context.Context, msg *kafka.Message, deliveryCh chan kafka.Event) error {
	for {
		err := s.producer.Produce(msg, deliveryCh)
		if err == nil {
			return nil
		}

		var kafkaErr kafka.Error
		if !errors.As(err, &kafkaErr) {
			return fmt.Errorf("failed to produce: %w", err)
		}

		switch kafkaErr.Code() {
		case kafka.ErrQueueFull:
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(queueFullRetryDelay):
			}
		case kafka.ErrBrokerNotAvailable:
			return fmt.Errorf("broker not available: %w", err)
		case kafka.ErrInvalidMsgSize:
			return fmt.Errorf("invalid message size: %w", err)
		case kafka.ErrUnknownTopicOrPart:
			return fmt.Errorf("unknown topic or partition: %w", err)
		default:
			return fmt.Errorf("failed to produce: %w", err)
		}
	}
}

func deliveryError(ev kafka.Event) error {
	m, ok := ev.(*kafka.Message)
	if !ok {
		return fmt.Errorf("unexpected delivery event: %T", ev)
	}
	if err := m.TopicPartition.Error; err != nil {
		return fmt.Errorf("delivery failed: %w", err)
	}
	return nil
}

// monitorEvents drains producer-level events. A fatal error or all brokers
// going down makes every later Send fail fast.
func (s *Sink) monitorEvents() {
	defer close(s.eventsDone)
	for {
		select {
		case <-s.closedCh:
			return
		case ev, ok := <-s.producer.Events():
			if !ok {
				return
			}
			switch e := ev.(type) {
			case kafka.Error:
				if e.IsFatal() || e.Code() == kafka.ErrAllBrokersDown {
					err := fmt.Errorf("kafka producer unusable: %w", e)
					s.fatal.CompareAndSwap(nil, &err)
					s.log.Errorw("fatal kafka error", "code", e.Code(), "error", e)
				} else {
					s.log.Warnw("kafka error", "code", e.Code(), "error", e)
				}
			case *kafka.Message:
				// Reports without a per-message channel; Send always passes one.
				if e.TopicPartition.Error != nil {
					s.log.Warnw("undelivered record", "error", e.TopicPartition.Error)
				}
			default:
				s.log.Debugw("kafka event", "event", e.String())
			}
		}
	}
}

// Close stops event monitoring, flushes outstanding records for up to the
// flush timeout and closes the producer. Only the first call has an effect.
func (s *Sink) Close() error {
	s.once.Do(func() {
		close(s.closedCh)
		<-s.eventsDone

		pending := s.producer.Flush(int(s.flushTimeout.Milliseconds()))
		if pending > 0 {
			s.log.Warnw("flush incomplete, records will be lost", "pending", pending)
		}
		s.producer.Close()
		s.log.Infow("kafka producer closed", "topic", s.topic)
	})
	return nil
}
