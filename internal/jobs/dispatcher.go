package jobs

import (
	"context"
	"log/slog"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/events"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Dispatcher turns the outbox returned by a workflow operation into queue
// jobs and stream events. It is called after state has been persisted.
type Dispatcher struct {
	queue     Queue
	publisher events.Publisher
	logger    *slog.Logger
}

// NewDispatcher creates a dispatcher. publisher may be nil.
func NewDispatcher(queue Queue, publisher events.Publisher, logger *slog.Logger) *Dispatcher {
	if publisher == nil {
		publisher = events.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{queue: queue, publisher: publisher, logger: logger}
}

// Dispatch delivers every event. It never fails: side effects are best
// effort and must not undo a committed state change.
func (d *Dispatcher) Dispatch(ctx context.Context, evs domain.Events) {
	for _, ev := range evs {
		switch ev.Kind {
		case domain.EventEmail:
			if ev.Email != nil {
				d.queue.EnqueueEmail(ctx, EmailPayload{
					Name:    ev.Name,
					To:      ev.Email.To,
					Subject: ev.Email.Subject,
					HTML:    ev.Email.HTML,
					Text:    ev.Email.Text,
					Tags:    ev.Email.Tags,
				})
			}
		case domain.EventNotification:
			if n := ev.Notification; n != nil {
				d.queue.EnqueueNotification(ctx, NotificationPayload{
					ID:          n.ID,
					RecipientID: n.RecipientID,
					Type:        n.Type,
					Priority:    string(n.Priority),
					Title:       n.Title,
					Message:     n.Message,
					Data:        n.Data,
					CreatedAt:   n.CreatedAt,
				})
			}
		}

		if ev.Kind == domain.EventEmail {
			continue
		}
		if err := d.publisher.Publish(ctx, ev); err != nil {
			d.logger.Warn("failed to publish lifecycle event",
				"event", ev.Name,
				"aggregate_id", ev.AggregateID,
				"error", err,
			)
			if telemetry.Business != nil {
				telemetry.Business.EventsPublishFailed.WithLabelValues(ev.Name).Inc()
			}
			continue
		}
		if telemetry.Business != nil {
			telemetry.Business.EventsPublished.WithLabelValues(ev.Name).Inc()
		}
	}
}
