package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Broker publishes serialized envelopes.
type Broker interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Connected() bool
}

// BrokeredQueue publishes jobs to a broker and runs them inline when the
// broker is missing, disconnected or rejects the publish.
type BrokeredQueue struct {
	broker Broker
	runner Runner
	logger *slog.Logger
}

// NewBrokeredQueue creates a queue. broker may be nil, in which case every
// job runs synchronously.
func NewBrokeredQueue(broker Broker, runner Runner, logger *slog.Logger) *BrokeredQueue {
	if logger == nil {
		logger = slog.Default()
	}
	return &BrokeredQueue{broker: broker, runner: runner, logger: logger}
}

// EnqueueEmail implements Queue.
func (q *BrokeredQueue) EnqueueEmail(ctx context.Context, payload EmailPayload) {
	if q.publish(ctx, JobTypeEmail, SubjectEmail, payload) {
		return
	}
	q.fallback(ctx, JobTypeEmail, func(ctx context.Context) error {
		return q.runner.RunEmail(ctx, payload)
	})
}

// EnqueueNotification implements Queue.
func (q *BrokeredQueue) EnqueueNotification(ctx context.Context, payload NotificationPayload) {
	if q.publish(ctx, JobTypeNotification, SubjectNotification, payload) {
		return
	}
	q.fallback(ctx, JobTypeNotification, func(ctx context.Context) error {
		return q.runner.RunNotification(ctx, payload)
	})
}

func (q *BrokeredQueue) publish(ctx context.Context, jobType, subject string, payload any) bool {
	if q.broker == nil || !q.broker.Connected() {
		return false
	}

	env, err := NewEnvelope(jobType, payload)
	if err != nil {
		q.logger.Error("failed to encode job", "job_type", jobType, "error", err)
		return false
	}
	data, err := json.Marshal(env)
	if err != nil {
		q.logger.Error("failed to encode job envelope", "job_type", jobType, "error", err)
		return false
	}

	if err := q.broker.Publish(ctx, subject, data); err != nil {
		q.logger.Warn("broker publish failed, running job inline",
			"job_type", jobType,
			"subject", subject,
			"error", err,
		)
		return false
	}

	if telemetry.Business != nil {
		telemetry.Business.JobsEnqueued.WithLabelValues(jobType).Inc()
	}
	return true
}

// fallback runs the job on the caller's goroutine. A failure is logged and
// swallowed so it never reaches the workflow that produced the job.
func (q *BrokeredQueue) fallback(ctx context.Context, jobType string, run func(context.Context) error) {
	if telemetry.Business != nil {
		telemetry.Business.JobsFallback.WithLabelValues(jobType).Inc()
	}
	if q.runner == nil {
		q.logger.Error("job dropped: no broker and no runner", "job_type", jobType)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("inline job panicked", "job_type", jobType, "panic", r)
		}
	}()

	if err := run(ctx); err != nil {
		q.logger.Error("inline job failed", "job_type", jobType, "error", err)
		if telemetry.Business != nil {
			telemetry.Business.JobsFailed.WithLabelValues(jobType, "inline").Inc()
		}
	}
}
