package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/jobs"
)

// Executor runs email and notification jobs. It is used both by the
// broker-backed Worker and as the inline fallback of the job queue.
type Executor struct {
	email         *email.Service
	notifications domain.NotificationRepository
	logger        *slog.Logger
}

// NewExecutor creates an executor. notifications may be nil, in which case
// notification jobs are only logged.
func NewExecutor(emailService *email.Service, notifications domain.NotificationRepository, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{email: emailService, notifications: notifications, logger: logger}
}

// RunEmail implements jobs.Runner.
func (e *Executor) RunEmail(ctx context.Context, p jobs.EmailPayload) error {
	if e.email == nil {
		return fmt.Errorf("email service not configured")
	}
	_, err := e.email.Deliver(ctx, p.Name, p.To, p.Subject, p.HTML, p.Text)
	return err
}

// RunNotification implements jobs.Runner.
func (e *Executor) RunNotification(ctx context.Context, p jobs.NotificationPayload) error {
	if p.RecipientID == uuid.Nil {
		return fmt.Errorf("notification has no recipient")
	}

	n := &domain.Notification{
		ID:          p.ID,
		RecipientID: p.RecipientID,
		Type:        p.Type,
		Priority:    domain.Priority(p.Priority),
		Title:       p.Title,
		Message:     p.Message,
		Data:        p.Data,
		CreatedAt:   p.CreatedAt,
	}
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.Priority == "" {
		n.Priority = domain.PriorityNormal
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}

	if e.notifications == nil {
		e.logger.Info("notification", "recipient_id", n.RecipientID, "type", n.Type, "title", n.Title)
		return nil
	}
	if err := e.notifications.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("failed to store notification: %w", err)
	}
	return nil
}
