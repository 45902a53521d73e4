package order

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// EventType names an order lifecycle event.
type EventType string

const (
	EventCreated       EventType = "order.created"
	EventStatusChanged EventType = "order.status_changed"
	EventCancelled     EventType = "order.cancelled"
)

// Event is published after a committed order change.
type Event struct {
	Type           EventType
	OrderID        int64
	OrderNumber    string
	CustomerID     int64
	Status         Status
	PreviousStatus Status
	Total          decimal.Decimal
	OccurredAt     time.Time
}

// Publisher delivers order events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }

func newEvent(typ EventType, o *Order, prev Status, now time.Time) Event {
	return Event{
		Type:           typ,
		OrderID:        o.ID,
		OrderNumber:    o.Number,
		CustomerID:     o.CustomerID,
		Status:         o.Status,
		PreviousStatus: prev,
		Total:          o.Total,
		OccurredAt:     now,
	}
}
