package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"legalup_payments/internal/models"
)

// OrderEvent is published whenever a payment order is created or changes status
type OrderEvent struct {
	OrderID        string               `json:"order_id"`
	AppointmentID  string               `json:"appointment_id"`
	ClientUserID   string               `json:"client_user_id"`
	LawyerUserID   string               `json:"lawyer_user_id"`
	TotalAmount    int64                `json:"total_amount"`
	LawyerAmount   int64                `json:"lawyer_amount"`
	PlatformFee    int64                `json:"platform_fee"`
	Currency       string               `json:"currency"`
	PreviousStatus models.PaymentStatus `json:"previous_status,omitempty"`
	Status         models.PaymentStatus `json:"status"`
	OccurredAt     time.Time            `json:"occurred_at"`
}

func NewOrderEvent(order *models.PaymentOrder, previous models.PaymentStatus) OrderEvent {
	return OrderEvent{
		OrderID:        order.ID,
		AppointmentID:  order.AppointmentID,
		ClientUserID:   order.ClientUserID,
		LawyerUserID:   order.LawyerUserID,
		TotalAmount:    order.TotalAmount,
		LawyerAmount:   order.LawyerAmount,
		PlatformFee:    order.PlatformFee,
		Currency:       order.Currency,
		PreviousStatus: previous,
		Status:         order.Status,
		OccurredAt:     time.Now(),
	}
}

// EventPublisher announces order lifecycle events to other services
type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// NoopPublisher is used when no broker is configured
type NoopPublisher struct{}

func (NoopPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error { return nil }

// KafkaPublisher writes order events keyed by order id so that events of
// one order stay on one partition
type KafkaPublisher struct {
	writer *kafka.Writer
}

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (k *KafkaPublisher) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	v, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return k.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.OrderID),
		Value: v,
		Time:  event.OccurredAt,
	})
}

func (k *KafkaPublisher) Close() error {
	return k.writer.Close()
}
