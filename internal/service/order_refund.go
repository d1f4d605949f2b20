package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

// refundShares computes the money movements for cancelling a business's
// items on a paid order. base is the line total plus its fee share.
//
//	customer, before shipment: 75% of base refunded, the rest transferred
//	customer, after shipment:  nothing refunded, the line total transferred
//	business:                  base refunded, nothing transferred
//
// A business cancel also refunds the shipping charged for that business
// once none of its items on the order are left; see refundCancelled.
func (s *orderService) refundShares(actor domain.Actor, lineUSD int64, afterShipment bool) (refund, transfer int64) {
	base := lineUSD + s.platformFee(lineUSD)
	switch {
	case actor.IsBusiness():
		return base, 0
	case afterShipment:
		return 0, lineUSD
	default:
		refund = percentOf(base, customerRefundShare)
		return refund, base - refund
	}
}

// refundCancelled runs the cancellation refund policy for items that were
// just cancelled on a paid order. The cancellation is already saved, so a
// gateway failure here is logged as critical and sent to operators rather
// than returned.
func (s *orderService) refundCancelled(ctx context.Context, order *domain.Order, actor domain.Actor, items []*domain.OrderItem, prior map[uuid.UUID]domain.ItemStatus, ev *domain.Events) {
	switch order.PaymentStatus {
	case domain.PaymentPaid, domain.PaymentPartiallyRefunded:
	default:
		return
	}

	labelled := make(map[uuid.UUID]bool)
	charged := make(map[uuid.UUID]int64)
	if shipments, err := s.Shipments.ListShipmentsForOrder(ctx, order.ID); err == nil {
		for _, sh := range shipments {
			labelled[sh.BusinessID] = sh.LabelBought()
			if !sh.Invoiced {
				continue
			}
			if cost, _, err := s.shippingCost(ctx, sh); err == nil {
				charged[sh.BusinessID] = cost
			} else {
				s.Logger.Warn("failed to price shipping for refund", "shipment_id", sh.ID, "error", err)
			}
		}
	} else {
		s.Logger.Warn("failed to list shipments for refund", "order_id", order.ID, "error", err)
	}

	now := s.Now()
	refunded := false
	for _, bid := range uniqueBusinesses(items) {
		rec := domain.RefundRecord{
			ID:            uuid.New(),
			BusinessID:    bid,
			Initiator:     actor.Kind,
			AfterShipment: labelled[bid],
			At:            now,
		}
		var lineUSD int64
		for _, it := range items {
			if it.BusinessID != bid {
				continue
			}
			rec.ItemIDs = append(rec.ItemIDs, it.ID)
			lineUSD += it.LineTotalUSDCents
			if prior[it.ID].HasShipped() {
				rec.AfterShipment = true
			}
		}
		rec.RefundCents, rec.TransferCents = s.refundShares(actor, lineUSD, rec.AfterShipment)
		if actor.IsBusiness() && !hasLiveItems(order, bid) {
			rec.ShippingCents = charged[bid]
			rec.RefundCents += rec.ShippingCents
		}

		biz := s.business(ctx, bid)
		s.moveMoney(ctx, order, biz, &rec, ev)
		order.Refunds = append(order.Refunds, rec)
		if rec.StripeRefundID != "" {
			refunded = true
		}

		if actor.IsBusiness() {
			s.opsAlert(ev, order.ID, ref(order.ID), "business cancelled a paid order", []email.Row{
				{Label: "Business", Value: bid.String()},
				{Label: "Items", Value: fmt.Sprint(len(rec.ItemIDs))},
				{Label: "Refunded", Value: usd(rec.RefundCents)},
			})
		}
	}

	if refunded {
		allDead := true
		for _, it := range order.Items {
			if it.Status != domain.ItemCancelled && it.Status != domain.ItemDeclined {
				allDead = false
				break
			}
		}
		status := domain.PaymentPartiallyRefunded
		if allDead {
			status = domain.PaymentRefunded
			if inv, err := s.ledger.ByGatewayID(ctx, order.StripeInvoiceID); err == nil {
				if _, err := s.ledger.MarkRefunded(ctx, inv.ID, "order cancelled"); err != nil {
					s.Logger.Error("failed to mark invoice refunded", "invoice_id", inv.ID, "error", err)
				}
			}
		}
		order.RecordPayment(actor, status, "cancellation refund", now)
	}

	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		s.Logger.Error("CRITICAL: refund issued but order not updated",
			"order_id", order.ID,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "order_refund", map[string]interface{}{"order_id": order.ID.String()})
	}
}

// moveMoney issues the refund and transfer of one record and stores the
// gateway ids on it.
func (s *orderService) moveMoney(ctx context.Context, order *domain.Order, biz *domain.Business, rec *domain.RefundRecord, ev *domain.Events) {
	phase := "before_shipment"
	if rec.AfterShipment {
		phase = "after_shipment"
	}
	initiator := string(rec.Initiator)
	key := fmt.Sprintf("order-%s-refund-%s", order.ID, rec.ItemIDs[0])

	fail := func(what string, err error) {
		s.Logger.Error("CRITICAL: cancellation saved but "+what+" failed",
			"order_id", order.ID,
			"business_id", rec.BusinessID,
			"refund_cents", rec.RefundCents,
			"transfer_cents", rec.TransferCents,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "order_refund", map[string]interface{}{
			"order_id":    order.ID.String(),
			"business_id": rec.BusinessID.String(),
			"step":        what,
		})
		s.opsAlert(ev, order.ID, ref(order.ID), what+" failed", []email.Row{
			{Label: "Business", Value: rec.BusinessID.String()},
			{Label: "Refund", Value: usd(rec.RefundCents)},
			{Label: "Transfer", Value: usd(rec.TransferCents)},
			{Label: "Error", Value: err.Error()},
		})
	}

	if rec.RefundCents > 0 {
		pi, err := s.paymentIntent(ctx, order)
		if err != nil {
			fail("refund", err)
		} else {
			refund, err := s.Billing.RefundPayment(ctx, billing.RefundParams{
				PaymentIntentID: pi,
				AmountCents:     rec.RefundCents,
				Reason:          "requested_by_customer",
				Metadata: map[string]string{
					"order_id":    order.ID.String(),
					"business_id": rec.BusinessID.String(),
				},
				IdempotencyKey: key,
			})
			if err != nil {
				fail("refund", err)
			} else {
				rec.StripeRefundID = refund.ID
				if telemetry.Business != nil {
					telemetry.Business.RefundsIssued.WithLabelValues(initiator, phase).Inc()
					telemetry.Business.RefundAmount.WithLabelValues(initiator).Add(float64(rec.RefundCents))
				}
				_, addr := s.customerEmail(ctx, order.CustomerID)
				s.mail(ev, "order.refunded", order.ID, addr, email.SummaryEmail{
					SubjectLine: "Refund for order " + ref(order.ID),
					Heading:     "Your refund is on its way",
					Intro:       "Cancelled items have been refunded to your original payment method.",
					TotalLabel:  "Refunded",
					Total:       usd(rec.RefundCents),
				})
				s.notify(ev, "order.refunded", order.ID, order.CustomerID, NotifyOrderRefund, domain.PriorityNormal,
					"Refund issued", fmt.Sprintf("%s refunded for order %s", usd(rec.RefundCents), ref(order.ID)),
					map[string]string{"order_id": order.ID.String()})
			}
		}
	}

	if rec.TransferCents > 0 {
		reason := "restocking_fee"
		if rec.AfterShipment {
			reason = "shipped_cancellation"
		}
		if biz == nil || biz.StripeAccountID == "" {
			fail("transfer", billing.ErrMissingDestination)
			return
		}
		tr, err := s.Billing.CreateTransfer(ctx, billing.TransferParams{
			AmountCents:          rec.TransferCents,
			Currency:             currency.Settlement,
			DestinationAccountID: biz.StripeAccountID,
			TransferGroup:        "order-" + order.ID.String(),
			Description:          "Cancellation payout for order " + ref(order.ID),
			Metadata:             map[string]string{"order_id": order.ID.String(), "reason": reason},
			IdempotencyKey:       key + "-transfer",
		})
		if err != nil {
			fail("transfer", err)
			return
		}
		rec.StripeTransferID = tr.ID
		if telemetry.Business != nil {
			telemetry.Business.TransfersCreated.WithLabelValues(reason).Inc()
			telemetry.Business.TransferAmount.WithLabelValues(reason).Add(float64(rec.TransferCents))
		}
		s.notify(ev, "order.payout", order.ID, biz.ID, NotifyPayoutEligible, domain.PriorityNormal,
			"Cancellation payout", fmt.Sprintf("%s transferred for cancelled items on order %s", usd(rec.TransferCents), ref(order.ID)),
			map[string]string{"order_id": order.ID.String(), "reason": reason})
	}

	s.Logger.Info("cancellation settled",
		"order_id", order.ID,
		"business_id", rec.BusinessID,
		"initiator", initiator,
		"phase", phase,
		"refund_cents", rec.RefundCents,
		"transfer_cents", rec.TransferCents,
	)
}

// paymentIntent returns the order's payment reference, asking the gateway
// when the webhook did not carry one.
func (s *orderService) paymentIntent(ctx context.Context, order *domain.Order) (string, error) {
	const op = "order.payment_intent"

	if order.PaymentIntentID != "" {
		return order.PaymentIntentID, nil
	}
	if order.StripeInvoiceID == "" {
		return "", domain.WithOp(domain.ErrPaymentIntentAbsent, op)
	}
	inv, err := s.Billing.GetInvoice(ctx, order.StripeInvoiceID)
	if err != nil {
		return "", domain.External(err, op, "failed to load invoice")
	}
	if inv.PaymentIntentID == "" {
		return "", domain.WithOp(domain.ErrPaymentIntentAbsent, op)
	}
	order.PaymentIntentID = inv.PaymentIntentID
	return inv.PaymentIntentID, nil
}

// hasLiveItems reports whether any of the business's items on the order
// are still neither cancelled nor declined.
func hasLiveItems(order *domain.Order, businessID uuid.UUID) bool {
	for _, it := range order.ItemsForBusiness(businessID) {
		if it.Status != domain.ItemCancelled && it.Status != domain.ItemDeclined {
			return true
		}
	}
	return false
}
