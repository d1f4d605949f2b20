package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/jobs"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Config holds worker configuration
type Config struct {
	// WorkerID uniquely identifies this worker instance
	WorkerID string

	// Group is the broker queue group shared by all workers
	Group string

	// MaxConcurrency is the maximum number of jobs to process concurrently
	MaxConcurrency int

	// JobTimeout bounds a single job execution
	JobTimeout time.Duration

	// ShutdownTimeout bounds the wait for in-flight jobs on shutdown
	ShutdownTimeout time.Duration
}

// Broker is the subset of the NATS broker the worker needs.
type Broker interface {
	QueueSubscribe(subject, group string, handler func(ctx context.Context, data []byte)) (jobs.Subscription, error)
	Publish(ctx context.Context, subject string, data []byte) error
}

// Worker consumes job envelopes from the broker
type Worker struct {
	config Config
	broker Broker
	runner jobs.Runner
	logger *slog.Logger

	sem      chan struct{}
	inflight sync.WaitGroup
}

// NewWorker creates a new background job worker
func NewWorker(broker Broker, runner jobs.Runner, config Config, logger *slog.Logger) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%s", uuid.New().String()[:8])
	}
	if config.Group == "" {
		config.Group = "chandlery-workers"
	}
	if config.MaxConcurrency == 0 {
		config.MaxConcurrency = 5
	}
	if config.JobTimeout == 0 {
		config.JobTimeout = 30 * time.Second
	}
	if config.ShutdownTimeout == 0 {
		config.ShutdownTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Worker{
		config: config,
		broker: broker,
		runner: runner,
		logger: logger,
		sem:    make(chan struct{}, config.MaxConcurrency),
	}
}

// Start subscribes to the job subjects and processes jobs until the
// context is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("worker starting",
		"worker_id", w.config.WorkerID,
		"group", w.config.Group,
		"max_concurrency", w.config.MaxConcurrency,
	)

	var subs []jobs.Subscription
	for _, subject := range []string{jobs.SubjectEmail, jobs.SubjectNotification} {
		sub, err := w.broker.QueueSubscribe(subject, w.config.Group, func(msgCtx context.Context, data []byte) {
			w.dispatch(ctx, msgCtx, data)
		})
		if err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}

	<-ctx.Done()
	w.logger.Info("worker shutting down", "worker_id", w.config.WorkerID)

	for _, sub := range subs {
		if err := sub.Drain(); err != nil {
			w.logger.Warn("failed to drain subscription", "error", err)
		}
	}

	done := make(chan struct{})
	go func() {
		w.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(w.config.ShutdownTimeout):
		w.logger.Warn("shutdown timeout with jobs in flight")
	}
	return ctx.Err()
}

// dispatch acquires a concurrency slot and processes the message on its
// own goroutine. Blocking on the semaphore applies backpressure to the
// subscription.
func (w *Worker) dispatch(runCtx, msgCtx context.Context, data []byte) {
	select {
	case w.sem <- struct{}{}:
	case <-runCtx.Done():
		return
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer func() { <-w.sem }()
		w.Handle(msgCtx, data)
	}()
}

// Handle decodes and runs one envelope, republishing it for another
// attempt on failure.
func (w *Worker) Handle(ctx context.Context, data []byte) {
	var env jobs.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		w.logger.Error("dropping undecodable job", "error", err)
		return
	}

	start := time.Now()
	err := w.processJob(ctx, &env)
	if telemetry.Business != nil {
		telemetry.Business.JobDuration.WithLabelValues(env.Type).Observe(time.Since(start).Seconds())
	}

	if err == nil {
		w.logger.Debug("job completed", "job_id", env.ID, "job_type", env.Type, "attempt", env.Attempt)
		if telemetry.Business != nil {
			telemetry.Business.JobsProcessed.WithLabelValues(env.Type).Inc()
		}
		return
	}

	w.logger.Error("job failed",
		"job_id", env.ID,
		"job_type", env.Type,
		"attempt", env.Attempt,
		"error", err,
	)
	if telemetry.Business != nil {
		telemetry.Business.JobsFailed.WithLabelValues(env.Type, "worker").Inc()
	}

	if env.Attempt >= jobs.MaxAttempts {
		w.logger.Error("job abandoned after max attempts", "job_id", env.ID, "job_type", env.Type)
		return
	}
	w.retry(ctx, env)
}

func (w *Worker) retry(ctx context.Context, env jobs.Envelope) {
	env.Attempt++
	data, err := json.Marshal(env)
	if err != nil {
		w.logger.Error("failed to encode retry", "job_id", env.ID, "error", err)
		return
	}
	if err := w.broker.Publish(ctx, env.Subject(), data); err != nil {
		w.logger.Error("failed to republish job", "job_id", env.ID, "error", err)
	}
}

// processJob processes a single job
func (w *Worker) processJob(ctx context.Context, env *jobs.Envelope) error {
	jobCtx, cancel := context.WithTimeout(ctx, w.config.JobTimeout)
	defer cancel()

	switch env.Type {
	case jobs.JobTypeEmail:
		var payload jobs.EmailPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal email payload: %w", err)
		}
		return w.runner.RunEmail(jobCtx, payload)

	case jobs.JobTypeNotification:
		var payload jobs.NotificationPayload
		if err := json.Unmarshal(env.Payload, &payload); err != nil {
			return fmt.Errorf("failed to unmarshal notification payload: %w", err)
		}
		return w.runner.RunNotification(jobCtx, payload)

	default:
		return fmt.Errorf("unknown job type: %s", env.Type)
	}
}
