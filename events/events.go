// Package events publishes order lifecycle notifications after the store commits.
package events

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"go_trial/littlelemon/models"
)

const (
	OrderCreated = "order.created"
	OrderUpdated = "order.updated"
	OrderDeleted = "order.deleted"
)

type Event struct {
	Type         string          `json:"type"`
	OrderID      string          `json:"order_id"`
	User         string          `json:"user"`
	DeliveryCrew *string         `json:"delivery_crew,omitempty"`
	Status       int             `json:"status"`
	Total        decimal.Decimal `json:"total"`
	Actor        string          `json:"actor"`
	Time         time.Time       `json:"time"`
}

// ForOrder builds an event of the given type describing o as changed by actor.
func ForOrder(eventType string, o *models.Order, actor string) Event {
	return Event{
		Type:         eventType,
		OrderID:      o.ID,
		User:         o.User,
		DeliveryCrew: o.DeliveryCrew,
		Status:       int(o.Status),
		Total:        o.Total,
		Actor:        actor,
		Time:         time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }
func (Nop) Close() error                         { return nil }
