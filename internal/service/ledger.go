package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// InvoiceLedger is the append-only record of money owed and collected.
// Rows are never deleted; every status change is also written to the
// invoice event log by the repository.
type InvoiceLedger struct {
	repo   domain.InvoiceRepository
	logger *slog.Logger
	now    func() time.Time
}

// NewInvoiceLedger creates a ledger over repo.
func NewInvoiceLedger(repo domain.InvoiceRepository, logger *slog.Logger) *InvoiceLedger {
	if logger == nil {
		logger = slog.Default()
	}
	return &InvoiceLedger{repo: repo, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Record appends a new pending invoice.
func (l *InvoiceLedger) Record(ctx context.Context, inv *domain.Invoice) error {
	const op = "ledger.record"

	now := l.now()
	if inv.ID == uuid.Nil {
		inv.ID = uuid.New()
	}
	if inv.Status == "" {
		inv.Status = domain.InvoicePending
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = now
	}
	inv.UpdatedAt = now

	if err := l.repo.CreateInvoice(ctx, inv); err != nil {
		return domain.Internal(err, op, "failed to record invoice")
	}

	l.logger.Info("invoice recorded",
		"invoice_id", inv.ID,
		"kind", inv.Kind,
		"amount_cents", inv.AmountCents,
		"gateway_invoice_id", inv.GatewayInvoiceID,
	)
	if telemetry.Business != nil {
		telemetry.Business.InvoicesCreated.WithLabelValues(string(inv.Kind)).Inc()
	}
	return nil
}

// MarkPaid moves a pending or failed invoice to paid. It reports false
// when the invoice was already paid, which makes duplicate gateway
// deliveries no-ops.
func (l *InvoiceLedger) MarkPaid(ctx context.Context, id uuid.UUID, paidAt time.Time, paymentIntentID string) (bool, error) {
	return l.transition(ctx, "ledger.mark_paid", id,
		[]domain.InvoiceStatus{domain.InvoicePending, domain.InvoiceFailed},
		domain.InvoicePaid, &paidAt, paymentIntentID, "payment received")
}

// MarkFailed records a failed collection attempt on a pending invoice.
func (l *InvoiceLedger) MarkFailed(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	return l.transition(ctx, "ledger.mark_failed", id,
		[]domain.InvoiceStatus{domain.InvoicePending},
		domain.InvoiceFailed, nil, "", note)
}

// MarkCancelled records a voided or uncollectible invoice.
func (l *InvoiceLedger) MarkCancelled(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	return l.transition(ctx, "ledger.mark_cancelled", id,
		[]domain.InvoiceStatus{domain.InvoicePending, domain.InvoiceFailed},
		domain.InvoiceCancelled, nil, "", note)
}

// MarkRefunded records money returned on a paid invoice.
func (l *InvoiceLedger) MarkRefunded(ctx context.Context, id uuid.UUID, note string) (bool, error) {
	return l.transition(ctx, "ledger.mark_refunded", id,
		[]domain.InvoiceStatus{domain.InvoicePaid},
		domain.InvoiceRefunded, nil, "", note)
}

func (l *InvoiceLedger) transition(ctx context.Context, op string, id uuid.UUID, from []domain.InvoiceStatus, to domain.InvoiceStatus, paidAt *time.Time, paymentIntentID, note string) (bool, error) {
	moved, err := l.repo.TransitionInvoice(ctx, id, from, to, paidAt, paymentIntentID, note)
	if err != nil {
		return false, domain.Internal(err, op, "failed to update invoice")
	}
	if moved {
		l.logger.Info("invoice status changed", "invoice_id", id, "status", to)
	}
	return moved, nil
}

// Get returns one invoice.
func (l *InvoiceLedger) Get(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	return l.repo.GetInvoice(ctx, id)
}

// ForOrder lists the invoices raised for an order.
func (l *InvoiceLedger) ForOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Invoice, error) {
	return l.repo.ListInvoicesForOrder(ctx, orderID)
}

// ForBooking lists the deposit and balance invoices of a booking.
func (l *InvoiceLedger) ForBooking(ctx context.Context, bookingID uuid.UUID) ([]*domain.Invoice, error) {
	return l.repo.ListInvoicesForBooking(ctx, bookingID)
}

// ByGatewayID resolves a gateway invoice id to the ledger row.
func (l *InvoiceLedger) ByGatewayID(ctx context.Context, gatewayID string) (*domain.Invoice, error) {
	return l.repo.GetInvoiceByGatewayID(ctx, gatewayID)
}

// History returns the status log of an invoice.
func (l *InvoiceLedger) History(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceEvent, error) {
	return l.repo.ListInvoiceEvents(ctx, invoiceID)
}

// latest returns the most recent invoice of a kind, or nil. Lists come
// back in insertion order, so the later row wins a timestamp tie.
func latest(invs []*domain.Invoice, kind domain.InvoiceKind) *domain.Invoice {
	var found *domain.Invoice
	for _, inv := range invs {
		if inv.Kind != kind {
			continue
		}
		if found == nil || !inv.CreatedAt.Before(found.CreatedAt) {
			found = inv
		}
	}
	return found
}
