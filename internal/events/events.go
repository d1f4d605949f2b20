// Package events streams workflow lifecycle events to downstream consumers.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// Publisher writes lifecycle events to an external stream.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
	Close() error
}

// Message is the wire shape of a published event.
type Message struct {
	ID          uuid.UUID         `json:"id"`
	Name        string            `json:"name"`
	Kind        string            `json:"kind"`
	AggregateID uuid.UUID         `json:"aggregate_id"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// NewMessage converts an outbox event. Email bodies and notification text
// are not streamed; only the event identity and attributes are.
func NewMessage(ev domain.Event) Message {
	attrs := ev.Attributes
	if ev.Notification != nil {
		attrs = mergeAttrs(attrs, map[string]string{
			"recipient_id":      ev.Notification.RecipientID.String(),
			"notification_type": ev.Notification.Type,
		})
	}
	return Message{
		ID:          uuid.New(),
		Name:        ev.Name,
		Kind:        string(ev.Kind),
		AggregateID: ev.AggregateID,
		Attributes:  attrs,
		OccurredAt:  ev.At.UTC(),
	}
}

func mergeAttrs(a, b map[string]string) map[string]string {
	out := make(map[string]string, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, domain.Event) error { return nil }
func (Nop) Close() error                                { return nil }
