// Package relay forwards projected records to Kafka. A relay is an ordinary
// projection whose target is a Publisher, so it inherits checkpointing,
// ordering and restart handling from the projection driver.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/ripkitten-co/purr/events"
	"github.com/ripkitten-co/purr/projections"
	"github.com/segmentio/kafka-go"
)

// Writer is the part of *kafka.Writer a Publisher uses.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

var _ Writer = (*kafka.Writer)(nil)

// NewWriter returns a writer that hashes message keys to partitions, so each
// stream's records land on one partition in order.
func NewWriter(brokers, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(SplitBrokers(brokers)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
}

// Publisher writes log records to one Kafka topic, keyed by stream ID.
type Publisher struct {
	w      Writer
	topic  string
	logger *slog.Logger
}

// NewPublisher returns a publisher writing to topic. Leave topic empty when
// the writer has its own Topic set.
func NewPublisher(w Writer, topic string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{w: w, topic: topic, logger: logger.With("component", "relay")}
}

// Publish writes rec as one message keyed by its stream. The write is
// synchronous; an error leaves the record unacknowledged so the driver
// retries it.
func (p *Publisher) Publish(ctx context.Context, rec events.Record) error {
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(rec.StreamID),
		Value: rec.Data,
		Headers: []kafka.Header{
			{Key: HeaderEventID, Value: []byte(rec.ID)},
			{Key: HeaderType, Value: []byte(rec.Type)},
			{Key: HeaderStream, Value: []byte(rec.StreamID)},
			{Key: HeaderPosition, Value: []byte(strconv.FormatInt(rec.GlobalPosition, 10))},
		},
	}
	msg.Headers = InjectTraceHeaders(ctx, msg.Headers)

	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("relay: publish %s at %d: %w", rec.Type, rec.GlobalPosition, err)
	}
	p.logger.Debug("record relayed", "type", rec.Type, "position", rec.GlobalPosition)
	return nil
}

// Forward registers a handler on d that relays events of type E through the
// publisher picked from the target.
func Forward[E, C any](d *projections.Definition[C], publisher func(C) *Publisher) *projections.Definition[C] {
	return projections.On(d, func(ctx context.Context, target C, env projections.Envelope[E]) error {
		return publisher(target).Publish(ctx, env.Record)
	})
}
