package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	otelkafka "github.com/Trendyol/otel-kafka-konsumer"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"sweetshop-rest-api/pkg/uid"
)

// Event types emitted after a unit of work commits.
const (
	TypeSweetPurchased = "sweet.purchased"
	TypeSweetRestocked = "sweet.restocked"
)

// Event is the envelope written to the event stream.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	SweetID    int64     `json:"sweetId"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload"`
}

// New builds an event with a fresh ID and timestamp.
func New(eventType string, sweetID int64, payload any) Event {
	return Event{
		ID:         uid.New(),
		Type:       eventType,
		SweetID:    sweetID,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	}
}

// Publisher delivers domain events. Delivery is best effort: a failed
// publish never undoes the committed change that produced the event.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

// producer is the subset of the traced Kafka writer we use.
type producer interface {
	WriteMessage(ctx context.Context, msg kafka.Message) error
	Close() error
}

// KafkaPublisher writes events to a Kafka topic keyed by sweet ID, so all
// events for one sweet land on the same partition in commit order.
type KafkaPublisher struct {
	producer producer
	log      *zap.Logger
}

// KafkaConfig holds writer settings.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	ServiceName string
}

// NewKafkaPublisher creates a publisher whose messages carry the current
// trace context in their headers.
func NewKafkaPublisher(cfg KafkaConfig, logger *zap.Logger) (*KafkaPublisher, error) {
	baseWriter := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
		BatchSize:    100,
	}

	writer, err := otelkafka.NewWriter(baseWriter,
		otelkafka.WithTracerProvider(otel.GetTracerProvider()),
		otelkafka.WithPropagator(propagation.TraceContext{}),
		otelkafka.WithAttributes(
			[]attribute.KeyValue{
				semconv.MessagingDestinationNameKey.String(cfg.Topic),
				attribute.String("messaging.kafka.client_id", cfg.ServiceName),
			},
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka writer: %w", err)
	}

	return newKafkaPublisher(writer, logger), nil
}

func newKafkaPublisher(p producer, logger *zap.Logger) *KafkaPublisher {
	return &KafkaPublisher{producer: p, log: logger.Named("events")}
}

// Publish serializes e and writes it to Kafka.
func (p *KafkaPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to serialize %s event: %w", e.Type, err)
	}

	msg := kafka.Message{
		Key:   []byte(strconv.FormatInt(e.SweetID, 10)),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(e.Type)},
		},
	}

	if err := p.producer.WriteMessage(ctx, msg); err != nil {
		p.log.Error("failed to publish event",
			zap.Error(err),
			zap.String("type", e.Type),
			zap.Int64("sweet_id", e.SweetID),
		)
		return err
	}

	p.log.Debug("published event", zap.String("type", e.Type), zap.String("id", e.ID))
	return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

var (
	_ Publisher = NopPublisher{}
	_ Publisher = (*KafkaPublisher)(nil)
)
