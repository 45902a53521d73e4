// Package events publishes order lifecycle events to Kafka.
package events

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/segmentio/kafka-go"

	"github.com/hoanghuydev/crm-laravel-sub000/internal/domain/order"
)

var _ order.Publisher = (*KafkaPublisher)(nil)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes one JSON message per event, keyed by order number so
// events of an order stay on one partition.
type KafkaPublisher struct {
	w messageWriter
}

// NewKafkaPublisher returns a publisher writing to topic on the given brokers.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{w: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		MaxAttempts:  3,
		WriteTimeout: time.Second,
	}}
}

// Publish implements order.Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, e order.Event) error {
	msg := kafka.Message{
		Key:   []byte(e.OrderNumber),
		Value: Encode(e),
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "write %s", e.Type)
	}
	return nil
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}

// Encode renders e as JSON. Money is written as a number with two decimals.
func Encode(ev order.Event) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("type", func(e *jx.Encoder) { e.Str(string(ev.Type)) })
		e.Field("order_id", func(e *jx.Encoder) { e.Int64(ev.OrderID) })
		e.Field("order_number", func(e *jx.Encoder) { e.Str(ev.OrderNumber) })
		e.Field("customer_id", func(e *jx.Encoder) { e.Int64(ev.CustomerID) })
		e.Field("status", func(e *jx.Encoder) { e.Str(string(ev.Status)) })
		if ev.PreviousStatus != "" {
			e.Field("previous_status", func(e *jx.Encoder) { e.Str(string(ev.PreviousStatus)) })
		}
		e.Field("total", func(e *jx.Encoder) { e.Num(jx.Num(ev.Total.StringFixed(2))) })
		e.Field("occurred_at", func(e *jx.Encoder) { e.Str(ev.OccurredAt.UTC().Format(time.RFC3339Nano)) })
	})
	return e.Bytes()
}
