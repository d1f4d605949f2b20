package memory

import (
	"context"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

func (s *Store) CreateInvoice(ctx context.Context, inv *domain.Invoice) error {
	const op = "memory.create_invoice"
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.invoices[inv.ID]; exists {
		return domain.Conflict(op, "invoice already exists")
	}
	if inv.GatewayInvoiceID != "" {
		for _, other := range s.invoices {
			if other.GatewayInvoiceID == inv.GatewayInvoiceID {
				return domain.Conflict(op, "gateway invoice already recorded")
			}
		}
	}
	s.invoices[inv.ID] = cloneInvoice(inv)
	s.invoiceSeq = append(s.invoiceSeq, inv.ID)
	s.invoiceEvents[inv.ID] = append(s.invoiceEvents[inv.ID], domain.InvoiceEvent{
		ID:        uuid.New(),
		InvoiceID: inv.ID,
		To:        inv.Status,
		Note:      "recorded",
		At:        inv.CreatedAt,
	})
	return nil
}

func (s *Store) GetInvoice(ctx context.Context, id uuid.UUID) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrInvoiceNotFound, "memory.get_invoice")
	}
	return cloneInvoice(inv), nil
}

func (s *Store) GetInvoiceByGatewayID(ctx context.Context, gatewayID string) (*domain.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gatewayID != "" {
		for _, inv := range s.invoices {
			if inv.GatewayInvoiceID == gatewayID {
				return cloneInvoice(inv), nil
			}
		}
	}
	return nil, domain.WithOp(domain.ErrInvoiceNotFound, "memory.get_invoice_by_gateway_id")
}

func (s *Store) ListInvoicesForOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Invoice, error) {
	return s.listInvoices(func(inv *domain.Invoice) bool { return inv.OrderID == orderID }), nil
}

func (s *Store) ListInvoicesForBooking(ctx context.Context, bookingID uuid.UUID) ([]*domain.Invoice, error) {
	return s.listInvoices(func(inv *domain.Invoice) bool { return inv.BookingID == bookingID }), nil
}

func (s *Store) listInvoices(match func(*domain.Invoice) bool) []*domain.Invoice {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Invoice
	for _, id := range s.invoiceSeq {
		if inv := s.invoices[id]; match(inv) {
			out = append(out, cloneInvoice(inv))
		}
	}
	return out
}

func (s *Store) TransitionInvoice(ctx context.Context, id uuid.UUID, from []domain.InvoiceStatus, to domain.InvoiceStatus, paidAt *time.Time, paymentIntentID, note string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invoices[id]
	if !ok {
		return false, domain.WithOp(domain.ErrInvoiceNotFound, "memory.transition_invoice")
	}
	if !slices.Contains(from, inv.Status) {
		return false, nil
	}

	now := time.Now().UTC()
	if paidAt != nil {
		now = *paidAt
		inv.PaidAt = cloneTime(paidAt)
	}
	if paymentIntentID != "" {
		inv.PaymentIntentID = paymentIntentID
	}
	s.invoiceEvents[id] = append(s.invoiceEvents[id], domain.InvoiceEvent{
		ID:        uuid.New(),
		InvoiceID: id,
		From:      inv.Status,
		To:        to,
		Note:      note,
		At:        now,
	})
	inv.Status = to
	inv.UpdatedAt = now
	return true, nil
}

func (s *Store) ListInvoiceEvents(ctx context.Context, invoiceID uuid.UUID) ([]domain.InvoiceEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.invoiceEvents[invoiceID]), nil
}
