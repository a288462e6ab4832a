// Package hooks implements the optional hook_handlers event callback
// (spec.md 6): every pipeline decision (admitted, mempooled, dropped,
// fulfilled) is optionally published to Kafka for operator tooling to
// consume. Adapted from the teacher's event_publisher: a buffered
// channel feeds a single background goroutine that produces to Kafka
// and waits on the delivery channel, the same confirmation pattern
// event_publisher.publishEventToKafka uses.
package hooks

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"
)

// Event is one hook notification. Kind names the pipeline decision
// ("admitted", "mempooled", "dropped", "fulfilled").
type Event struct {
	Kind      string    `json:"kind"`
	OrderID   string    `json:"order_id"`
	ChainID   uint64    `json:"chain_id"`
	Reason    string    `json:"reason,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher is a best-effort Kafka sink for Event notifications.
// Publish never blocks the calling pipeline goroutine for longer than
// the channel send: when the buffer is full the new event is dropped
// (and logged) rather than stall fulfillment.
type Publisher struct {
	logger   *zap.Logger
	producer *kafka.Producer
	topic    string
	events   chan Event
	stopCh   chan struct{}
}

// New constructs a Publisher against kafkaBroker/topic, or returns nil
// with no error if broker is empty (hooks are optional, spec.md 6).
func New(kafkaBroker, topic string, logger *zap.Logger) (*Publisher, error) {
	if kafkaBroker == "" {
		return nil, nil
	}
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
	})
	if err != nil {
		return nil, fmt.Errorf("create hook kafka producer: %w", err)
	}
	p := &Publisher{
		logger:   logger,
		producer: producer,
		topic:    topic,
		events:   make(chan Event, 256),
		stopCh:   make(chan struct{}),
	}
	go p.run()
	return p, nil
}

// Publish enqueues ev for delivery. A nil Publisher is a safe no-op so
// callers need not check whether hooks are configured.
func (p *Publisher) Publish(ev Event) {
	if p == nil {
		return
	}
	select {
	case p.events <- ev:
	default:
		p.logger.Warn("hook event dropped: publisher backlog full", zap.String("kind", ev.Kind), zap.String("order_id", ev.OrderID))
	}
}

func (p *Publisher) run() {
	for {
		select {
		case ev := <-p.events:
			if err := p.send(ev); err != nil {
				p.logger.Error("hook event delivery failed", zap.String("kind", ev.Kind), zap.Error(err))
			}
		case <-p.stopCh:
			return
		}
	}
}

func (p *Publisher) send(ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	if err := p.producer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &p.topic, Partition: kafka.PartitionAny},
		Key:            []byte(ev.OrderID),
		Value:          payload,
	}, deliveryChan); err != nil {
		return err
	}

	switch e := (<-deliveryChan).(type) {
	case *kafka.Message:
		if e.TopicPartition.Error != nil {
			return e.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

// Close stops the background goroutine and the underlying producer. A
// nil Publisher is a safe no-op.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	close(p.stopCh)
	p.producer.Close()
}
