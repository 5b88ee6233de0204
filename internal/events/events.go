package events

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"booking-engine/internal/model"
)

const TypeRequestCreated = "booking.request.created.v1"

type RequestCreated struct {
	RequestID      string       `json:"request_id"`
	BusinessID     string       `json:"business_id"`
	ServiceID      *string      `json:"service_id,omitempty"`
	Status         model.Status `json:"status"`
	CustomerName   string       `json:"customer_name"`
	CustomerEmail  string       `json:"customer_email"`
	PreferredStart *time.Time   `json:"preferred_start,omitempty"`
	PreferredEnd   *time.Time   `json:"preferred_end,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

func NewRequestCreated(r model.BookingRequest) RequestCreated {
	return RequestCreated{
		RequestID:      r.ID,
		BusinessID:     r.BusinessID,
		ServiceID:      r.ServiceID,
		Status:         r.Status,
		CustomerName:   r.CustomerName,
		CustomerEmail:  r.CustomerEmail,
		PreferredStart: r.PreferredStart,
		PreferredEnd:   r.PreferredEnd,
		CreatedAt:      r.CreatedAt,
	}
}

// Publisher hands intake events to downstream collaborators (notifications, CRM).
// Delivery is best effort.
type Publisher interface {
	PublishRequestCreated(ctx context.Context, evt RequestCreated) error
	Close() error
}

// messageWriter is the part of *kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaPublisher struct {
	w      messageWriter
	logger *zap.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *zap.Logger) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers not configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}
	return &KafkaPublisher{w: w, logger: logger}, nil
}

// PublishRequestCreated keys by business so a tenant's events stay ordered.
func (p *KafkaPublisher) PublishRequestCreated(ctx context.Context, evt RequestCreated) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.BusinessID),
		Value: body,
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(uuid.NewString())},
			{Key: "event_type", Value: []byte(TypeRequestCreated)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return err
	}
	p.logger.Debug("event published", zap.String("event_type", TypeRequestCreated), zap.String("request_id", evt.RequestID))
	return nil
}

func (p *KafkaPublisher) Close() error { return p.w.Close() }

type Nop struct{}

func (Nop) PublishRequestCreated(context.Context, RequestCreated) error { return nil }

func (Nop) Close() error { return nil }

// ReadyCheck dials the first broker.
func ReadyCheck(brokers []string) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(brokers) == 0 {
			return errors.New("kafka brokers not configured")
		}
		dialer := kafka.Dialer{Timeout: 2 * time.Second}
		conn, err := dialer.DialContext(ctx, "tcp", brokers[0])
		if err != nil {
			return err
		}
		return conn.Close()
	}
}
