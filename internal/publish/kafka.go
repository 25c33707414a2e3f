package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"shameScope/internal/events"
	"shameScope/internal/metrics"
	"shameScope/internal/model"
)

const DefaultBuffer = 1024

// Envelope wraps a feed event on the wire.
type Envelope struct {
	Type events.Kind     `json:"type"`
	Seq  uint64          `json:"seq"`
	TS   int64           `json:"ts"`
	Data json.RawMessage `json:"data"`
}

// NewSyncProducer dials brokers with acks from all replicas and idempotent
// retries.
func NewSyncProducer(brokers []string) (sarama.SyncProducer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no brokers")
	}

	cfg := sarama.NewConfig()
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 10
	cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Producer.Idempotent = true
	cfg.Net.MaxOpenRequests = 1
	cfg.Version = sarama.V2_1_0_0

	return sarama.NewSyncProducer(brokers, cfg)
}

// Publisher forwards new and enriched transactions to a Kafka topic keyed by
// transaction hash.
type Publisher struct {
	topic    string
	producer sarama.SyncProducer
	logger   *zap.Logger
	queue    chan events.Event
}

func NewPublisher(producer sarama.SyncProducer, topic string, buffer int, logger *zap.Logger) (*Publisher, error) {
	if strings.TrimSpace(topic) == "" {
		return nil, errors.New("topic empty")
	}
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{
		topic:    topic,
		producer: producer,
		logger:   logger,
		queue:    make(chan events.Event, buffer),
	}, nil
}

// Attach subscribes to the hub. Events that do not fit the buffer are dropped
// so the publishing goroutine never waits on the broker.
func (p *Publisher) Attach(hub *events.Hub) uuid.UUID {
	return hub.Subscribe(func(event events.Event) {
		select {
		case p.queue <- event:
		default:
			metrics.PublisherMessagesTotal.WithLabelValues("dropped").Inc()
			p.logger.Warn("kafka publish queue full", zap.Uint64("seq", event.Seq))
		}
	}, events.KindNewTransaction, events.KindTransactionEnriched)
}

// Run sends queued events until ctx is done.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event := <-p.queue:
			if err := p.send(event); err != nil {
				metrics.PublisherMessagesTotal.WithLabelValues("error").Inc()
				p.logger.Warn("kafka publish failed", zap.String("type", string(event.Kind)), zap.Error(err))
				continue
			}
			metrics.PublisherMessagesTotal.WithLabelValues("ok").Inc()
		}
	}
}

func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

func (p *Publisher) send(event events.Event) error {
	tx, ok := event.Payload.(model.Transaction)
	if !ok {
		return fmt.Errorf("unexpected payload %T", event.Payload)
	}
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction: %w", err)
	}
	payload, err := json.Marshal(Envelope{
		Type: event.Kind,
		Seq:  event.Seq,
		TS:   event.At.UnixMilli(),
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(tx.TxHash),
		Value: sarama.ByteEncoder(payload),
	}
	if _, _, err := p.producer.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka send: %w", err)
	}
	return nil
}
