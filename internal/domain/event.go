package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventKind classifies outbox entries.
type EventKind string

const (
	EventEmail        EventKind = "email"
	EventNotification EventKind = "notification"
	EventLifecycle    EventKind = "lifecycle"
)

// Priority of an in-app notification.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// EmailMessage is a best-effort email side effect.
type EmailMessage struct {
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html,omitempty"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// Notification is a best-effort in-app notification side effect.
type Notification struct {
	ID          uuid.UUID         `json:"id"`
	RecipientID uuid.UUID         `json:"recipient_id"`
	Type        string            `json:"type"`
	Priority    Priority          `json:"priority"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Event is one outbox entry returned from a workflow operation. Callers
// dispatch events only after the state change has been persisted.
type Event struct {
	Kind         EventKind
	Name         string // e.g. "order.created", "shipment.delivered"
	AggregateID  uuid.UUID
	Email        *EmailMessage
	Notification *Notification
	Attributes   map[string]string
	At           time.Time
}

// Events accumulates outbox entries during an operation.
type Events []Event

// Email appends an email event.
func (e *Events) Email(name string, aggregateID uuid.UUID, msg EmailMessage) {
	if len(msg.To) == 0 {
		return
	}
	*e = append(*e, Event{Kind: EventEmail, Name: name, AggregateID: aggregateID, Email: &msg, At: time.Now()})
}

// Notify appends a notification event.
func (e *Events) Notify(name string, aggregateID uuid.UUID, n Notification) {
	if n.RecipientID == uuid.Nil {
		return
	}
	if n.Priority == "" {
		n.Priority = PriorityNormal
	}
	*e = append(*e, Event{Kind: EventNotification, Name: name, AggregateID: aggregateID, Notification: &n, At: time.Now()})
}

// Lifecycle appends a state-change event for the event stream.
func (e *Events) Lifecycle(name string, aggregateID uuid.UUID, attrs map[string]string) {
	*e = append(*e, Event{Kind: EventLifecycle, Name: name, AggregateID: aggregateID, Attributes: attrs, At: time.Now()})
}

// Count returns how many events of a kind were recorded.
func (e Events) Count(kind EventKind) int {
	n := 0
	for _, ev := range e {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}

// Named returns events with the given name.
func (e Events) Named(name string) Events {
	var out Events
	for _, ev := range e {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

// NotificationRepository stores delivered in-app notifications.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *Notification) error
	ListNotifications(ctx context.Context, recipientID uuid.UUID, limit int) ([]Notification, error)
}
