package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Event types published by the coupon service.
const (
	TypeCouponRedeemed      = "coupon.redeemed"
	TypeGenerationCompleted = "coupon.generation.completed"
	TypeGenerationFailed    = "coupon.generation.failed"
)

// Event is the envelope written to Kafka.
type Event struct {
	EventID   string          `json:"event_id"`
	EventType string          `json:"event_type"`
	Key       string          `json:"key"`
	Version   int             `json:"version"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent wraps data in an envelope with a fresh id.
func NewEvent(eventType, key, source string, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Key:       key,
		Version:   1,
		Timestamp: time.Now().UTC(),
		Source:    source,
		Data:      raw,
	}, nil
}

// CouponRedeemedData is the payload of coupon.redeemed.
type CouponRedeemedData struct {
	CouponCode string    `json:"coupon_code"`
	CampaignID string    `json:"campaign_id"`
	UserID     string    `json:"user_id"`
	RedeemedAt time.Time `json:"redeemed_at"`
}

// GenerationFinishedData is the payload of the generation events.
type GenerationFinishedData struct {
	RequestID       string `json:"request_id"`
	CampaignID      string `json:"campaign_id"`
	BatchID         string `json:"batch_id"`
	RequestedAmount int    `json:"requested_amount"`
	GeneratedAmount int    `json:"generated_amount"`
	Status          string `json:"status"`
	FailureReason   string `json:"failure_reason,omitempty"`
}

// MessageWriter is the subset of *kafka.Writer used by Producer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// ProducerConfig holds Kafka producer configuration.
type ProducerConfig struct {
	Brokers      []string
	BatchSize    int
	BatchTimeout time.Duration
	Async        bool
}

// Producer publishes coupon events to Kafka.
type Producer struct {
	writer MessageWriter
	source string
	logger *slog.Logger
}

// NewProducer creates a Kafka producer. Topics are set per message.
func NewProducer(cfg ProducerConfig, source string, logger *slog.Logger) *Producer {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		Async:        cfg.Async,
		RequiredAcks: kafka.RequireAll,
	}

	return NewProducerWithWriter(w, source, logger)
}

// NewProducerWithWriter creates a producer over an existing writer.
func NewProducerWithWriter(w MessageWriter, source string, logger *slog.Logger) *Producer {
	return &Producer{
		writer: w,
		source: source,
		logger: logger,
	}
}

// Publish sends one event to topic, keyed for partition affinity.
func (p *Producer) Publish(ctx context.Context, topic, key, eventType string, data any) error {
	evt, err := NewEvent(eventType, key, p.source, data)
	if err != nil {
		return fmt.Errorf("create %s event: %w", eventType, err)
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(eventType)},
			{Key: "source", Value: []byte(p.source)},
		},
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.ErrorContext(ctx, "failed to publish event",
			slog.String("topic", topic),
			slog.String("event_type", eventType),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("publish event to %s: %w", topic, err)
	}

	p.logger.DebugContext(ctx, "event published",
		slog.String("topic", topic),
		slog.String("event_type", eventType),
		slog.String("key", key),
	)

	return nil
}

// Close flushes pending messages.
func (p *Producer) Close() error {
	return p.writer.Close()
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

// Publish does nothing.
func (NopPublisher) Publish(ctx context.Context, topic, key, eventType string, data any) error {
	return nil
}
