package jobs

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Job type constants
const (
	JobTypeEmail        = "email:send"
	JobTypeNotification = "notification:create"
)

// Broker subjects
const (
	SubjectEmail        = "jobs.email"
	SubjectNotification = "jobs.notification"
)

// MaxAttempts bounds worker redeliveries of a single job.
const MaxAttempts = 3

// Job payloads (JSON-serializable)

// EmailPayload represents the payload for an email job
type EmailPayload struct {
	Name    string            `json:"name"` // outbox event name, e.g. "order.created.business"
	To      []string          `json:"to"`
	Subject string            `json:"subject"`
	HTML    string            `json:"html"`
	Text    string            `json:"text,omitempty"`
	Tags    map[string]string `json:"tags,omitempty"`
}

// NotificationPayload represents the payload for an in-app notification job
type NotificationPayload struct {
	ID          uuid.UUID         `json:"id"`
	RecipientID uuid.UUID         `json:"recipient_id"`
	Type        string            `json:"type"`
	Priority    string            `json:"priority"`
	Title       string            `json:"title"`
	Message     string            `json:"message"`
	Data        map[string]string `json:"data,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// Envelope is the wire format of a job on the broker.
type Envelope struct {
	ID         uuid.UUID       `json:"id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Attempt    int             `json:"attempt"`
}

// Subject returns the broker subject the envelope travels on.
func (e *Envelope) Subject() string {
	if e.Type == JobTypeNotification {
		return SubjectNotification
	}
	return SubjectEmail
}

// NewEnvelope wraps a payload for publishing.
func NewEnvelope(jobType string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{
		ID:         uuid.New(),
		Type:       jobType,
		Payload:    data,
		EnqueuedAt: time.Now().UTC(),
		Attempt:    1,
	}, nil
}

// Queue accepts best-effort work. Enqueue calls never fail the caller:
// delivery problems are logged and counted.
type Queue interface {
	EnqueueEmail(ctx context.Context, payload EmailPayload)
	EnqueueNotification(ctx context.Context, payload NotificationPayload)
}

// Runner executes jobs directly. The worker's executor implements it and
// the queue uses it as the synchronous fallback.
type Runner interface {
	RunEmail(ctx context.Context, payload EmailPayload) error
	RunNotification(ctx context.Context, payload NotificationPayload) error
}
