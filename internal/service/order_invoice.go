package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// billable statuses put an item on the invoice.
var billable = map[domain.ItemStatus]bool{
	domain.ItemConfirmed:      true,
	domain.ItemProcessing:     true,
	domain.ItemShipped:        true,
	domain.ItemOutForDelivery: true,
	domain.ItemDelivered:      true,
}

// settleInvoice brings the gateway invoice in line with the order: it adds
// lines for newly confirmed items, finalizes once every shipping cost is
// known and voids the invoice when nothing is left to bill. The order is
// saved when anything changed. Failures are logged; every gateway call
// carries an idempotency key so the next trigger can safely retry.
func (s *orderService) settleInvoice(ctx context.Context, order *domain.Order, ev *domain.Events) {
	changed, err := s.syncInvoiceLines(ctx, order)
	if err == nil {
		var done bool
		done, err = s.finalizeIfReady(ctx, order, ev)
		changed = changed || done
	}
	if err == nil {
		var voided bool
		voided, err = s.voidIfEmpty(ctx, order, ev)
		changed = changed || voided
	}
	if err != nil {
		s.Logger.Error("order invoice update failed",
			"order_id", order.ID,
			"invoice_id", order.StripeInvoiceID,
			"error", err,
		)
	}
	if changed {
		if err := s.Orders.SaveOrder(ctx, order); err != nil {
			s.Logger.Error("failed to save order invoice state",
				"order_id", order.ID,
				"invoice_id", order.StripeInvoiceID,
				"error", err,
			)
		}
	}
}

// syncInvoiceLines creates the draft on first use and appends one line per
// billable item not yet invoiced.
func (s *orderService) syncInvoiceLines(ctx context.Context, order *domain.Order) (bool, error) {
	const op = "order.invoice_lines"

	if order.InvoiceFinalized {
		return false, nil
	}
	var pending []*domain.OrderItem
	for i := range order.Items {
		it := &order.Items[i]
		if billable[it.Status] && !it.Invoiced {
			pending = append(pending, it)
		}
	}
	if len(pending) == 0 {
		return false, nil
	}

	customerID, err := s.ensureCustomer(ctx, order.CustomerID)
	if err != nil {
		return false, err
	}

	changed := false
	if order.StripeInvoiceID == "" {
		inv, err := s.Billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
			CustomerID:   customerID,
			Currency:     "usd",
			Description:  "Order " + ref(order.ID),
			DaysUntilDue: s.Config.InvoiceDueDays,
			Metadata: map[string]string{
				"kind":     string(domain.InvoiceOrder),
				"order_id": order.ID.String(),
			},
			IdempotencyKey: "order-" + order.ID.String(),
		})
		if err != nil {
			return false, domain.External(err, op, "failed to create invoice")
		}
		order.StripeInvoiceID = inv.ID
		changed = true
		s.Logger.Info("order invoice drafted", "order_id", order.ID, "invoice_id", inv.ID)
	}

	for _, it := range pending {
		_, err := s.Billing.AddInvoiceItem(ctx, billing.InvoiceItemParams{
			CustomerID:     customerID,
			InvoiceID:      order.StripeInvoiceID,
			AmountCents:    it.LineTotalUSDCents,
			Currency:       "usd",
			Description:    fmt.Sprintf("%d x %s", it.Quantity, it.ProductName),
			Metadata:       map[string]string{"order_item_id": it.ID.String()},
			IdempotencyKey: fmt.Sprintf("order-%s-item-%s", order.ID, it.ID),
		})
		if err != nil {
			return changed, domain.External(err, op, "failed to add invoice line")
		}
		it.Invoiced = true
		changed = true
	}
	return changed, nil
}

// finalizeIfReady is the finalize gate: no item may still be pending and
// every supplying business with billable items needs a shipment whose cost
// is known. Credit lines reverse invoiced items that were cancelled since,
// then shipping and the platform fee are added and the invoice is sent.
func (s *orderService) finalizeIfReady(ctx context.Context, order *domain.Order, ev *domain.Events) (bool, error) {
	const op = "order.invoice_finalize"

	if order.InvoiceFinalized || order.StripeInvoiceID == "" || !order.AllDecided() {
		return false, nil
	}

	active := make(map[uuid.UUID]bool)
	var subtotal int64
	for _, it := range order.Items {
		if billable[it.Status] {
			active[it.BusinessID] = true
			subtotal += it.LineTotalUSDCents
		}
	}
	if len(active) == 0 {
		return false, nil
	}

	shipments, err := s.Shipments.ListShipmentsForOrder(ctx, order.ID)
	if err != nil {
		return false, domain.Internal(err, op, "failed to list shipments")
	}
	byBusiness := make(map[uuid.UUID]*domain.Shipment, len(shipments))
	for _, sh := range shipments {
		byBusiness[sh.BusinessID] = sh
	}
	for bid := range active {
		sh, ok := byBusiness[bid]
		if !ok || !sh.ReadyForInvoice() {
			return false, nil
		}
	}

	customerID, err := s.ensureCustomer(ctx, order.CustomerID)
	if err != nil {
		return false, err
	}
	addLine := func(amount int64, description, key string) error {
		if amount == 0 {
			return nil
		}
		_, err := s.Billing.AddInvoiceItem(ctx, billing.InvoiceItemParams{
			CustomerID:     customerID,
			InvoiceID:      order.StripeInvoiceID,
			AmountCents:    amount,
			Currency:       "usd",
			Description:    description,
			IdempotencyKey: fmt.Sprintf("order-%s-%s", order.ID, key),
		})
		if err != nil {
			return domain.External(err, op, "failed to add invoice line")
		}
		return nil
	}

	for _, it := range order.Items {
		if it.Invoiced && !billable[it.Status] {
			desc := fmt.Sprintf("%s: %d x %s", humanStatus(string(it.Status)), it.Quantity, it.ProductName)
			if err := addLine(-it.LineTotalUSDCents, desc, "credit-"+it.ID.String()); err != nil {
				return false, err
			}
		}
	}

	var shippingTotal int64
	for bid := range active {
		sh := byBusiness[bid]
		cost, label, err := s.shippingCost(ctx, sh)
		if err != nil {
			return false, err
		}
		shippingTotal += cost
		if sh.Invoiced {
			continue
		}
		if err := addLine(cost, label, "shipping-"+sh.ID.String()); err != nil {
			return false, err
		}
		sh.Invoiced = true
		if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
			return false, domain.Internal(err, op, "failed to mark shipment invoiced")
		}
	}

	fee := s.platformFee(subtotal)
	if err := addLine(fee, "Platform fee", "fee"); err != nil {
		return false, err
	}

	finalized, err := s.Billing.FinalizeInvoice(ctx, order.StripeInvoiceID)
	if err != nil {
		return false, domain.External(err, op, "failed to finalize invoice")
	}
	if _, err := s.Billing.SendInvoice(ctx, order.StripeInvoiceID); err != nil {
		s.Logger.Warn("failed to send finalized invoice",
			"order_id", order.ID,
			"invoice_id", order.StripeInvoiceID,
			"error", err,
		)
	}

	order.InvoiceFinalized = true
	order.StripeInvoiceURL = finalized.HostedURL
	order.SubtotalCents = subtotal
	order.PlatformFeeCents = fee
	order.ShippingCents = shippingTotal
	order.TotalAmountCents = subtotal + fee + shippingTotal
	order.UpdatedAt = s.Now()

	if err := s.recordOrderInvoice(ctx, order, finalized); err != nil {
		return true, err
	}

	s.Logger.Info("order invoice finalized",
		"order_id", order.ID,
		"invoice_id", order.StripeInvoiceID,
		"total_cents", order.TotalAmountCents,
		"shipping_cents", shippingTotal,
	)
	if telemetry.Business != nil {
		telemetry.Business.InvoicesFinalized.WithLabelValues(string(domain.InvoiceOrder)).Inc()
	}

	rows := []email.Row{
		{Label: "Items", Value: usd(subtotal)},
		{Label: "Shipping", Value: usd(shippingTotal)},
		{Label: "Platform fee", Value: usd(fee)},
	}
	_, addr := s.customerEmail(ctx, order.CustomerID)
	s.mail(ev, "order.invoice_sent", order.ID, addr, email.SummaryEmail{
		SubjectLine: "Invoice for order " + ref(order.ID),
		Heading:     "Your invoice is ready",
		Intro:       "Every supplier has confirmed and shipping has been arranged.",
		Rows:        rows,
		TotalLabel:  "Amount due",
		Total:       usd(order.TotalAmountCents),
		ActionLabel: "Pay invoice",
		ActionURL:   order.StripeInvoiceURL,
	})
	s.notify(ev, "order.invoice_sent", order.ID, order.CustomerID, NotifyOrderInvoice, domain.PriorityHigh,
		"Invoice ready", fmt.Sprintf("Order %s is ready for payment", ref(order.ID)),
		map[string]string{"order_id": order.ID.String(), "invoice_url": order.StripeInvoiceURL})
	ev.Lifecycle("order.invoice_finalized", order.ID, map[string]string{
		"invoice_id":  order.StripeInvoiceID,
		"total_cents": fmt.Sprint(order.TotalAmountCents),
	})
	return true, nil
}

// recordOrderInvoice appends the ledger row for a finalized order invoice.
// A row that already exists for the gateway id is left alone.
func (s *orderService) recordOrderInvoice(ctx context.Context, order *domain.Order, gw *billing.Invoice) error {
	if _, err := s.ledger.ByGatewayID(ctx, gw.ID); err == nil {
		return nil
	} else if !errors.Is(err, domain.ErrInvoiceNotFound) {
		return err
	}

	inv := &domain.Invoice{
		Kind:              domain.InvoiceOrder,
		OrderID:           order.ID,
		CustomerID:        order.CustomerID,
		AmountCents:       order.TotalAmountCents,
		Currency:          currency.Settlement,
		OriginalCurrency:  currency.Settlement,
		LockedRate:        decimal.NewFromInt(1),
		RateLockedAt:      order.CreatedAt,
		PlatformFee:       order.PlatformFeeCents,
		BusinessAmount:    order.SubtotalCents + order.ShippingCents,
		GatewayInvoiceID:  gw.ID,
		GatewayInvoiceURL: gw.HostedURL,
	}

	// A single-currency order keeps its native amount for dispute records.
	native := ""
	businesses := make(map[uuid.UUID]bool)
	for _, it := range order.Items {
		if !billable[it.Status] {
			continue
		}
		businesses[it.BusinessID] = true
		switch native {
		case "":
			native = it.Currency
			inv.LockedRate = it.ConversionRate
		case it.Currency:
		default:
			native = "mixed"
		}
	}
	if native != "mixed" && native != "" {
		inv.OriginalCurrency = native
		inv.OriginalAmountCents = currency.ConvertFromUSDWithRate(order.TotalAmountCents, native, inv.LockedRate)
	} else {
		inv.LockedRate = decimal.NewFromInt(1)
		inv.OriginalAmountCents = order.TotalAmountCents
	}
	if len(businesses) == 1 {
		for bid := range businesses {
			inv.BusinessID = bid
		}
	}
	return s.ledger.Record(ctx, inv)
}

// voidIfEmpty voids an unpaid invoice once every item is declined or
// cancelled.
func (s *orderService) voidIfEmpty(ctx context.Context, order *domain.Order, ev *domain.Events) (bool, error) {
	const op = "order.invoice_void"

	if order.StripeInvoiceID == "" {
		return false, nil
	}
	switch order.PaymentStatus {
	case domain.PaymentPending, domain.PaymentFailed:
	default:
		return false, nil
	}
	for _, it := range order.Items {
		if it.Status != domain.ItemCancelled && it.Status != domain.ItemDeclined {
			return false, nil
		}
	}

	if _, err := s.Billing.VoidInvoice(ctx, order.StripeInvoiceID); err != nil {
		return false, domain.External(err, op, "failed to void invoice")
	}
	if inv, err := s.ledger.ByGatewayID(ctx, order.StripeInvoiceID); err == nil {
		if _, err := s.ledger.MarkCancelled(ctx, inv.ID, "order cancelled"); err != nil {
			return false, err
		}
	}
	order.RecordPayment(domain.System(), domain.PaymentCancelled, "every item cancelled or declined", s.Now())

	s.Logger.Info("order invoice voided", "order_id", order.ID, "invoice_id", order.StripeInvoiceID)
	ev.Lifecycle("order.invoice_voided", order.ID, map[string]string{"invoice_id": order.StripeInvoiceID})
	return true, nil
}

// shippingCost returns the settlement cost of a shipment and its line label.
func (s *orderService) shippingCost(ctx context.Context, sh *domain.Shipment) (int64, string, error) {
	const op = "order.shipping_cost"

	if sh.BusinessHandled {
		return sh.ShippingCostCents, "Shipping (arranged by supplier)", nil
	}
	rate, ok := sh.SelectedRate()
	if !ok {
		return 0, "", domain.WithOp(domain.ErrNoRateSelected, op)
	}
	label := fmt.Sprintf("Shipping (%s %s)", rate.Carrier, rate.Service)
	if rate.Currency == "" || rate.Currency == currency.Settlement {
		return rate.AmountCents, label, nil
	}
	conv, err := s.Rates.ConvertToUSD(ctx, rate.AmountCents, rate.Currency)
	if err != nil {
		return 0, "", err
	}
	return conv.ToCents, label, nil
}

// ensureCustomer returns the gateway customer id, creating it the first
// time the user is invoiced.
func (c *Clients) ensureCustomer(ctx context.Context, userID uuid.UUID) (string, error) {
	const op = "billing.ensure_customer"

	u, err := c.Users.GetUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if u.StripeCustomerID != "" {
		return u.StripeCustomerID, nil
	}

	cust, err := c.Billing.CreateCustomer(ctx, billing.CreateCustomerParams{
		Email:          u.Email,
		Name:           u.FullName(),
		Metadata:       map[string]string{"user_id": u.ID.String()},
		IdempotencyKey: "customer-" + u.ID.String(),
	})
	if err != nil {
		return "", domain.External(err, op, "failed to create billing customer")
	}
	if err := c.Users.SetStripeCustomerID(ctx, u.ID, cust.ID); err != nil {
		c.Logger.Warn("failed to store billing customer id", "user_id", u.ID, "error", err)
	}
	return cust.ID, nil
}
