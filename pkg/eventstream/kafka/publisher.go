// Package kafka publishes relay events to a Kafka topic with segmentio/kafka-go.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/papercomputeco/ragrelay/pkg/eventstream"
)

// Config holds the Kafka connection settings.
type Config struct {
	// Brokers are host:port addresses of the bootstrap brokers.
	Brokers []string

	// Topic receives one message per relayed request.
	Topic string

	// BatchTimeout bounds how long a partial batch waits before it is sent.
	// Defaults to 500ms.
	BatchTimeout time.Duration
}

// ParseBrokers splits a comma separated broker list, dropping blanks.
func ParseBrokers(list string) []string {
	var brokers []string
	for b := range strings.SplitSeq(list, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher writes relay events as JSON messages keyed by conversation.
// Writes are asynchronous: PublishRelay never blocks a client response on
// broker latency, and delivery failures are logged from the writer's
// completion callback.
type Publisher struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewPublisher creates a Kafka-backed publisher.
func NewPublisher(cfg Config, logger *slog.Logger) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka publisher requires at least one broker")
	}
	if cfg.Topic == "" {
		return nil, errors.New("kafka publisher requires a topic")
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 500 * time.Millisecond
	}

	topic := cfg.Topic
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(cfg.Brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireOne,
		BatchTimeout:           cfg.BatchTimeout,
		Async:                  true,
		AllowAutoTopicCreation: true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				logger.Warn("relay events not delivered",
					"topic", topic,
					"messages", len(messages),
					"error", err,
				)
			}
		},
	}

	return newPublisher(w, topic, logger), nil
}

func newPublisher(w messageWriter, topic string, logger *slog.Logger) *Publisher {
	return &Publisher{
		writer: w,
		topic:  topic,
		logger: logger,
	}
}

// PublishRelay encodes the event and hands it to the writer.
func (p *Publisher) PublishRelay(ctx context.Context, event *eventstream.RelayEvent) error {
	if err := eventstream.Validate(event); err != nil {
		return err
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encoding relay event: %w", err)
	}

	msg := kafkago.Message{
		Key:   []byte(event.Key()),
		Value: payload,
		Time:  event.EmittedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "schema_version", Value: []byte(fmt.Sprint(event.SchemaVersion))},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing relay event to %s: %w", p.topic, err)
	}

	p.logger.Debug("relay event queued", "topic", p.topic, "event_id", event.EventID)
	return nil
}

// Close flushes pending messages and closes the writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
