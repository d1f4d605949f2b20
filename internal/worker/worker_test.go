package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/jobs"
)

type published struct {
	subject string
	env     jobs.Envelope
}

type fakeBroker struct {
	mu        sync.Mutex
	handlers  map[string]func(ctx context.Context, data []byte)
	published []published
	drained   int
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{handlers: make(map[string]func(ctx context.Context, data []byte))}
}

type fakeSub struct{ b *fakeBroker }

func (s fakeSub) Drain() error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.drained++
	return nil
}

func (b *fakeBroker) QueueSubscribe(subject, _ string, handler func(ctx context.Context, data []byte)) (jobs.Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[subject] = handler
	return fakeSub{b: b}, nil
}

func (b *fakeBroker) Publish(_ context.Context, subject string, data []byte) error {
	var env jobs.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, published{subject: subject, env: env})
	return nil
}

func (b *fakeBroker) handler(subject string) func(ctx context.Context, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.handlers[subject]
}

type stubRunner struct {
	mu            sync.Mutex
	emailErr      error
	emails        []jobs.EmailPayload
	notifications []jobs.NotificationPayload
	block         chan struct{}
}

func (r *stubRunner) RunEmail(ctx context.Context, p jobs.EmailPayload) error {
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.emails = append(r.emails, p)
	return r.emailErr
}

func (r *stubRunner) RunNotification(_ context.Context, p jobs.NotificationPayload) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, p)
	return nil
}

func envelopeBytes(t *testing.T, jobType string, payload interface{}, attempt int) []byte {
	t.Helper()
	env, err := jobs.NewEnvelope(jobType, payload)
	require.NoError(t, err)
	env.Attempt = attempt
	data, err := json.Marshal(env)
	require.NoError(t, err)
	return data
}

func TestWorker_Handle_RunsEmail(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{}
	w := NewWorker(broker, runner, Config{}, nil)

	w.Handle(context.Background(), envelopeBytes(t, jobs.JobTypeEmail, jobs.EmailPayload{
		Name:    "order.confirmed",
		To:      []string{"buyer@example.com"},
		Subject: "Order confirmed",
	}, 1))

	require.Len(t, runner.emails, 1)
	assert.Equal(t, "order.confirmed", runner.emails[0].Name)
	assert.Empty(t, broker.published)
}

func TestWorker_Handle_RunsNotification(t *testing.T) {
	runner := &stubRunner{}
	w := NewWorker(newFakeBroker(), runner, Config{}, nil)

	recipient := uuid.New()
	w.Handle(context.Background(), envelopeBytes(t, jobs.JobTypeNotification, jobs.NotificationPayload{
		RecipientID: recipient,
		Type:        "booking.requested",
		Title:       "New booking",
	}, 1))

	require.Len(t, runner.notifications, 1)
	assert.Equal(t, recipient, runner.notifications[0].RecipientID)
}

func TestWorker_Handle_RetriesFailedJob(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{emailErr: errors.New("smtp down")}
	w := NewWorker(broker, runner, Config{}, nil)

	w.Handle(context.Background(), envelopeBytes(t, jobs.JobTypeEmail, jobs.EmailPayload{
		Name: "invoice.sent",
		To:   []string{"buyer@example.com"},
	}, 1))

	require.Len(t, broker.published, 1)
	assert.Equal(t, jobs.SubjectEmail, broker.published[0].subject)
	assert.Equal(t, 2, broker.published[0].env.Attempt)
	assert.Equal(t, jobs.JobTypeEmail, broker.published[0].env.Type)
}

func TestWorker_Handle_AbandonsAfterMaxAttempts(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{emailErr: errors.New("smtp down")}
	w := NewWorker(broker, runner, Config{}, nil)

	w.Handle(context.Background(), envelopeBytes(t, jobs.JobTypeEmail, jobs.EmailPayload{
		To: []string{"buyer@example.com"},
	}, jobs.MaxAttempts))

	assert.Len(t, runner.emails, 1)
	assert.Empty(t, broker.published)
}

func TestWorker_Handle_DropsUndecodable(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{}
	w := NewWorker(broker, runner, Config{}, nil)

	w.Handle(context.Background(), []byte("not json"))

	assert.Empty(t, runner.emails)
	assert.Empty(t, broker.published)
}

func TestWorker_Handle_UnknownTypeIsRetried(t *testing.T) {
	broker := newFakeBroker()
	w := NewWorker(broker, &stubRunner{}, Config{}, nil)

	data, err := json.Marshal(jobs.Envelope{ID: uuid.New(), Type: "report:build", Payload: json.RawMessage(`{}`), Attempt: 1})
	require.NoError(t, err)
	w.Handle(context.Background(), data)

	require.Len(t, broker.published, 1)
	assert.Equal(t, 2, broker.published[0].env.Attempt)
}

func TestWorker_Handle_JobTimeout(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{block: make(chan struct{})}
	w := NewWorker(broker, runner, Config{JobTimeout: 20 * time.Millisecond}, nil)

	w.Handle(context.Background(), envelopeBytes(t, jobs.JobTypeEmail, jobs.EmailPayload{
		To: []string{"buyer@example.com"},
	}, 1))

	assert.Empty(t, runner.emails)
	require.Len(t, broker.published, 1, "timed out job should be retried")
}

func TestWorker_Start_SubscribesAndDrains(t *testing.T) {
	broker := newFakeBroker()
	runner := &stubRunner{}
	w := NewWorker(broker, runner, Config{MaxConcurrency: 2, ShutdownTimeout: time.Second}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool {
		return broker.handler(jobs.SubjectEmail) != nil && broker.handler(jobs.SubjectNotification) != nil
	}, time.Second, 5*time.Millisecond)

	broker.handler(jobs.SubjectEmail)(context.Background(), envelopeBytes(t, jobs.JobTypeEmail, jobs.EmailPayload{
		To: []string{"a@example.com"},
	}, 1))

	require.Eventually(t, func() bool {
		runner.mu.Lock()
		defer runner.mu.Unlock()
		return len(runner.emails) == 1
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop")
	}

	broker.mu.Lock()
	defer broker.mu.Unlock()
	assert.Equal(t, 2, broker.drained)
}

type memNotifications struct {
	stored []domain.Notification
	err    error
}

func (m *memNotifications) CreateNotification(_ context.Context, n *domain.Notification) error {
	if m.err != nil {
		return m.err
	}
	m.stored = append(m.stored, *n)
	return nil
}

func (m *memNotifications) ListNotifications(_ context.Context, recipientID uuid.UUID, limit int) ([]domain.Notification, error) {
	var out []domain.Notification
	for _, n := range m.stored {
		if n.RecipientID == recipientID {
			out = append(out, n)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type captureSender struct {
	sent []*email.Email
}

func (c *captureSender) Send(_ context.Context, e *email.Email) (string, error) {
	c.sent = append(c.sent, e)
	return "msg-1", nil
}

func TestExecutor_RunEmail(t *testing.T) {
	sender := &captureSender{}
	exec := NewExecutor(email.NewService(sender, "orders@chandlery.test", "Chandlery", nil), nil, nil)

	err := exec.RunEmail(context.Background(), jobs.EmailPayload{
		Name:    "order.created",
		To:      []string{"buyer@example.com"},
		Subject: "We received your order",
		HTML:    "<p>Thanks</p>",
	})
	require.NoError(t, err)

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Chandlery <orders@chandlery.test>", sender.sent[0].From)
	assert.Equal(t, "Thanks", sender.sent[0].TextBody)
	assert.Equal(t, "order.created", sender.sent[0].Headers[email.HeaderTag])
}

func TestExecutor_RunEmail_NoService(t *testing.T) {
	exec := NewExecutor(nil, nil, nil)
	assert.Error(t, exec.RunEmail(context.Background(), jobs.EmailPayload{To: []string{"a@example.com"}}))
}

func TestExecutor_RunNotification_FillsDefaults(t *testing.T) {
	store := &memNotifications{}
	exec := NewExecutor(nil, store, nil)

	recipient := uuid.New()
	err := exec.RunNotification(context.Background(), jobs.NotificationPayload{
		RecipientID: recipient,
		Type:        "order.item_confirmed",
		Title:       "Item confirmed",
	})
	require.NoError(t, err)

	require.Len(t, store.stored, 1)
	n := store.stored[0]
	assert.NotEqual(t, uuid.Nil, n.ID)
	assert.Equal(t, domain.PriorityNormal, n.Priority)
	assert.False(t, n.CreatedAt.IsZero())
}

func TestExecutor_RunNotification_Errors(t *testing.T) {
	t.Run("missing recipient", func(t *testing.T) {
		exec := NewExecutor(nil, &memNotifications{}, nil)
		assert.Error(t, exec.RunNotification(context.Background(), jobs.NotificationPayload{Title: "x"}))
	})

	t.Run("store failure", func(t *testing.T) {
		exec := NewExecutor(nil, &memNotifications{err: errors.New("db down")}, nil)
		err := exec.RunNotification(context.Background(), jobs.NotificationPayload{RecipientID: uuid.New()})
		assert.ErrorContains(t, err, "db down")
	})

	t.Run("no repository logs only", func(t *testing.T) {
		exec := NewExecutor(nil, nil, nil)
		assert.NoError(t, exec.RunNotification(context.Background(), jobs.NotificationPayload{RecipientID: uuid.New()}))
	})
}
