package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/inventory"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

type orderService struct {
	*Clients
	adjuster  *inventory.Adjuster
	ledger    *InvoiceLedger
	shipments *shipmentService
}

// CreateOrder prices the requested products, converts every line to the
// settlement currency and asks each supplying business to confirm its
// items through single-use links.
func (s *orderService) CreateOrder(ctx context.Context, customer domain.Actor, params domain.CreateOrderParams) (res *domain.OrderResult, err error) {
	const op = "order.create"
	ctx, span := startSpan(ctx, op, attribute.String("actor", customer.String()))
	defer func() { endSpan(span, err) }()

	if customer.Kind != domain.ActorCustomer {
		return nil, domain.Forbidden(op, "only customers can place orders")
	}
	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	user, err := s.Users.GetUser(ctx, customer.ID)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	order := &domain.Order{
		ID:              uuid.New(),
		CustomerID:      customer.ID,
		Status:          domain.ItemPending,
		PaymentStatus:   domain.PaymentPending,
		Currency:        currency.Settlement,
		DeliveryAddress: params.DeliveryAddress,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	businesses := make(map[uuid.UUID]*domain.Business)
	rawTokens := make(map[uuid.UUID]string)

	for i, line := range params.Products {
		product, err := s.Catalog.GetProduct(ctx, line.ProductID)
		if err != nil {
			if errors.Is(err, domain.ErrProductNotFound) {
				return nil, domain.NewValidationError(op, fmt.Sprintf("products[%d].product_id", i), "unknown product")
			}
			return nil, err
		}

		biz, ok := businesses[product.BusinessID]
		if !ok {
			biz, err = s.Catalog.GetBusiness(ctx, product.BusinessID)
			if err != nil {
				if errors.Is(err, domain.ErrBusinessNotFound) {
					return nil, domain.NewValidationError(op, fmt.Sprintf("products[%d].product_id", i), "product has no supplying business")
				}
				return nil, err
			}
			businesses[biz.ID] = biz
		}

		lineTotal := product.UnitPriceCents * int64(line.Quantity)
		conv, err := s.Rates.ConvertToUSD(ctx, lineTotal, product.Currency)
		if err != nil {
			return nil, err
		}

		token, err := s.NewToken()
		if err != nil {
			return nil, domain.Internal(err, op, "failed to generate confirmation token")
		}

		item := domain.OrderItem{
			ID:                uuid.New(),
			ProductID:         product.ID,
			ProductName:       product.Name,
			BusinessID:        biz.ID,
			BusinessKind:      biz.Kind,
			Quantity:          line.Quantity,
			UnitPriceCents:    product.UnitPriceCents,
			LineTotalCents:    lineTotal,
			Currency:          conv.FromCurrency,
			UnitPriceUSDCents: currency.ConvertWithRate(product.UnitPriceCents, product.Currency, conv.Rate),
			LineTotalUSDCents: conv.ToCents,
			ConversionRate:    conv.Rate,
			Status:            domain.ItemPending,
			ConfirmationToken: hashToken(token),
			TokenExpiresAt:    now.Add(s.Config.TokenTTL),
			UpdatedAt:         now,
		}
		rawTokens[item.ID] = token
		order.Items = append(order.Items, item)
		order.SubtotalCents += item.LineTotalUSDCents
	}

	order.PlatformFeeCents = s.platformFee(order.SubtotalCents)
	order.TotalAmountCents = order.SubtotalCents + order.PlatformFeeCents

	if err := s.Orders.CreateOrder(ctx, order); err != nil {
		return nil, domain.Internal(err, op, "failed to create order")
	}

	s.Logger.Info("order created",
		"order_id", order.ID,
		"customer_id", order.CustomerID,
		"items", len(order.Items),
		"businesses", len(businesses),
		"total_cents", order.TotalAmountCents,
	)
	if telemetry.Business != nil {
		telemetry.Business.OrdersCreated.WithLabelValues(order.Currency).Inc()
		telemetry.Business.OrderValue.WithLabelValues().Observe(float64(order.TotalAmountCents))
		telemetry.Business.OrderItemCount.WithLabelValues().Observe(float64(len(order.Items)))
	}

	var ev domain.Events
	for _, bid := range order.Businesses() {
		biz := businesses[bid]
		var lines []email.ConfirmLine
		var total int64
		for _, it := range order.ItemsForBusiness(bid) {
			raw := rawTokens[it.ID]
			lines = append(lines, email.ConfirmLine{
				Label:      fmt.Sprintf("%d x %s", it.Quantity, it.ProductName),
				Value:      email.FormatMoney(it.LineTotalCents, it.Currency),
				ConfirmURL: s.link(domain.TokenLink(domain.OrderTokenConfirmPath, raw)),
				DeclineURL: s.link(domain.TokenLink(domain.OrderTokenDeclinePath, raw)),
			})
			total += it.LineTotalUSDCents
		}
		s.mail(&ev, "order.confirmation_requested", order.ID, biz.Email, email.ConfirmationRequestEmail{
			Kind:         "order",
			Reference:    ref(order.ID),
			BusinessName: biz.Name,
			Lines:        lines,
			Total:        usd(total),
			ExpiresAt:    now.Add(s.Config.TokenTTL),
		})
		s.notify(&ev, "order.confirmation_requested", order.ID, bid, NotifyOrderCreated, domain.PriorityHigh,
			"New order awaiting confirmation",
			fmt.Sprintf("Order %s has %d item(s) for you to confirm", ref(order.ID), len(lines)),
			map[string]string{"order_id": order.ID.String()})
	}

	rows := make([]email.Row, 0, len(order.Items)+1)
	for _, it := range order.Items {
		rows = append(rows, email.Row{
			Label: fmt.Sprintf("%d x %s", it.Quantity, it.ProductName),
			Value: usd(it.LineTotalUSDCents),
		})
	}
	rows = append(rows, email.Row{Label: "Platform fee", Value: usd(order.PlatformFeeCents)})
	s.mail(&ev, "order.acknowledged", order.ID, user.Email, email.SummaryEmail{
		SubjectLine: "We received your order " + ref(order.ID),
		Heading:     "Thanks for your order, " + user.FullName(),
		Intro:       "Each supplier confirms its items separately. We will send your invoice once shipping costs are known.",
		Rows:        rows,
		Total:       usd(order.TotalAmountCents),
	})
	s.notify(&ev, "order.acknowledged", order.ID, order.CustomerID, NotifyOrderCreated, domain.PriorityNormal,
		"Order placed", fmt.Sprintf("Order %s is waiting for supplier confirmation", ref(order.ID)),
		map[string]string{"order_id": order.ID.String()})
	ev.Lifecycle("order.created", order.ID, map[string]string{
		"customer_id": order.CustomerID.String(),
		"items":       strconv.Itoa(len(order.Items)),
		"total_cents": strconv.FormatInt(order.TotalAmountCents, 10),
	})

	return &domain.OrderResult{Order: order, Events: ev}, nil
}

// GetOrder returns an order the actor is a party to.
func (s *orderService) GetOrder(ctx context.Context, actor domain.Actor, orderID uuid.UUID) (*domain.Order, error) {
	const op = "order.get"

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	for i := range order.Items {
		if order.CanAccessItem(actor, &order.Items[i]) {
			return order, nil
		}
	}
	return nil, domain.Forbidden(op, "order does not belong to the caller")
}

// ConfirmOrder consumes an item confirmation token.
func (s *orderService) ConfirmOrder(ctx context.Context, token string) (res *domain.OrderResult, err error) {
	const op = "order.confirm"
	ctx, span := startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	return s.claim(ctx, op, token, domain.ItemConfirmed, "")
}

// DeclineOrder consumes an item confirmation token as a decline.
func (s *orderService) DeclineOrder(ctx context.Context, token, reason string) (res *domain.OrderResult, err error) {
	const op = "order.decline"
	ctx, span := startSpan(ctx, op)
	defer func() { endSpan(span, err) }()

	return s.claim(ctx, op, token, domain.ItemDeclined, reason)
}

func (s *orderService) claim(ctx context.Context, op, token string, to domain.ItemStatus, reason string) (*domain.OrderResult, error) {
	if token == "" {
		return nil, domain.WithOp(domain.ErrTokenInvalid, op)
	}

	now := s.Now()
	orderID, itemID, err := s.Orders.ClaimItemToken(ctx, hashToken(token), to, now)
	if err != nil {
		return nil, err
	}

	// The claim already committed, so losing the save to a concurrent
	// writer must not lose the history or the inventory flag. Reload and
	// replay, but touch the ledger only once.
	var (
		order *domain.Order
		it    *domain.OrderItem
		actor domain.Actor
		held  *domain.OrderItem
	)
	for range maxCascadeAttempts {
		order, err = s.Orders.GetOrder(ctx, orderID)
		if err != nil {
			return nil, err
		}
		var ok bool
		it, ok = order.Item(itemID)
		if !ok {
			return nil, domain.WithOp(domain.ErrOrderItemNotFound, op)
		}
		actor = domain.BusinessActor(it.BusinessKind, it.BusinessID)

		if err := order.RecordClaimedItem(op, actor, itemID, to, reason, now); err != nil {
			return nil, err
		}
		if held == nil {
			if _, err := s.adjuster.Apply(ctx, it, to); err != nil {
				s.Logger.Error("inventory update failed after token claim",
					"order_id", order.ID,
					"item_id", itemID,
					"error", err,
				)
				return nil, err
			}
			snapshot := *it
			held = &snapshot
		} else {
			it.InventoryDeducted = held.InventoryDeducted
			it.DeductedQuantity = held.DeductedQuantity
		}

		err = s.Orders.SaveOrder(ctx, order)
		if !errors.Is(err, domain.ErrOrderVersion) {
			break
		}
		s.Logger.Warn("order changed during token claim, retrying",
			"order_id", order.ID,
			"item_id", itemID,
		)
	}
	if err != nil {
		s.Logger.Error("CRITICAL: token claim committed but order save failed",
			"order_id", orderID,
			"item_id", itemID,
			"inventory_deducted", held != nil && held.InventoryDeducted,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "order_claim", map[string]interface{}{
			"order_id": orderID.String(),
			"item_id":  itemID.String(),
		})
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.ItemTransitions.WithLabelValues(string(domain.ItemPending), string(to), string(actor.Kind)).Inc()
	}

	s.Logger.Info("order item claimed by token",
		"order_id", order.ID,
		"item_id", itemID,
		"business_id", it.BusinessID,
		"status", to,
		"order_status", order.Status,
	)

	var ev domain.Events
	s.itemUpdateMessages(ctx, order, actor, []*domain.OrderItem{it}, to, reason, &ev)

	if to == domain.ItemConfirmed {
		s.afterConfirm(ctx, order, []uuid.UUID{it.BusinessID}, nil, &ev)
	} else {
		s.settleInvoice(ctx, order, &ev)
	}
	return &domain.OrderResult{Order: order, Events: ev}, nil
}

// UpdateOrderStatus applies a role-scoped transition to some or all of the
// items the actor may touch. Every targeted item is checked before any is
// changed.
func (s *orderService) UpdateOrderStatus(ctx context.Context, actor domain.Actor, orderID uuid.UUID, params domain.UpdateOrderStatusParams) (res *domain.OrderResult, err error) {
	const op = "order.update_status"
	ctx, span := startSpan(ctx, op,
		attribute.String("actor", actor.String()),
		attribute.String("order_id", orderID.String()),
		attribute.String("status", string(params.Status)),
	)
	defer func() { endSpan(span, err) }()

	if err := validateParams(op, params); err != nil {
		return nil, err
	}

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}

	targets, err := s.targetItems(op, order, actor, params)
	if err != nil {
		return nil, err
	}
	for _, it := range targets {
		if err := order.CheckItemTransition(op, actor, it, params.Status); err != nil {
			return nil, err
		}
	}

	now := s.Now()
	prior := make(map[uuid.UUID]domain.ItemStatus, len(targets))
	var businesses []uuid.UUID
	seen := make(map[uuid.UUID]bool)
	for _, it := range targets {
		prior[it.ID] = it.Status
		if err := order.TransitionItem(op, actor, it.ID, params.Status, params.Reason, params.Notes, now); err != nil {
			return nil, err
		}
		if _, err := s.adjuster.Apply(ctx, it, params.Status); err != nil {
			return nil, err
		}
		if !seen[it.BusinessID] {
			seen[it.BusinessID] = true
			businesses = append(businesses, it.BusinessID)
		}
	}

	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		return nil, err
	}

	for _, it := range targets {
		if telemetry.Business != nil {
			telemetry.Business.ItemTransitions.WithLabelValues(string(prior[it.ID]), string(params.Status), string(actor.Kind)).Inc()
		}
	}
	s.Logger.Info("order items updated",
		"order_id", order.ID,
		"actor", actor.String(),
		"status", params.Status,
		"items", len(targets),
		"order_status", order.Status,
	)

	var ev domain.Events
	s.itemUpdateMessages(ctx, order, actor, targets, params.Status, params.Reason, &ev)

	switch params.Status {
	case domain.ItemConfirmed:
		s.afterConfirm(ctx, order, businesses, params.ManualShippingCents, &ev)
	case domain.ItemCancelled:
		s.refundCancelled(ctx, order, actor, targets, prior, &ev)
		s.settleInvoice(ctx, order, &ev)
	case domain.ItemDeclined:
		s.settleInvoice(ctx, order, &ev)
	}

	return &domain.OrderResult{Order: order, Events: ev}, nil
}

// AfterShipmentReady re-runs the invoice finalize gate.
func (s *orderService) AfterShipmentReady(ctx context.Context, orderID uuid.UUID) (res *domain.OrderResult, err error) {
	const op = "order.after_shipment_ready"
	ctx, span := startSpan(ctx, op, attribute.String("order_id", orderID.String()))
	defer func() { endSpan(span, err) }()

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var ev domain.Events
	s.settleInvoice(ctx, order, &ev)
	return &domain.OrderResult{Order: order, Events: ev}, nil
}

// targetItems resolves which items an update applies to. With no explicit
// ids it picks every non-terminal item the actor can access.
func (s *orderService) targetItems(op string, order *domain.Order, actor domain.Actor, params domain.UpdateOrderStatusParams) ([]*domain.OrderItem, error) {
	var targets []*domain.OrderItem

	if len(params.Items) > 0 {
		for _, id := range params.Items {
			it, ok := order.Item(id)
			if !ok {
				return nil, domain.WithOp(domain.ErrOrderItemNotFound, op)
			}
			targets = append(targets, it)
		}
		return targets, nil
	}

	var accessible []*domain.OrderItem
	for i := range order.Items {
		it := &order.Items[i]
		if !order.CanAccessItem(actor, it) {
			continue
		}
		if actor.IsBusiness() && it.BusinessID != actor.ID {
			continue
		}
		accessible = append(accessible, it)
		if !it.Status.IsTerminal() && it.Status != params.Status {
			targets = append(targets, it)
		}
	}
	if len(accessible) == 0 {
		return nil, domain.WithOp(domain.ErrNoItemsForActor, op)
	}
	if len(targets) == 0 {
		// Nothing movable: report the first item's illegal move.
		return accessible[:1], nil
	}
	return targets, nil
}

// afterConfirm prepares shipments for the confirming businesses and then
// updates the invoice. Both steps happen after the confirmation has been
// saved, so failures are logged for the next trigger to retry.
func (s *orderService) afterConfirm(ctx context.Context, order *domain.Order, businesses []uuid.UUID, manualShippingCents *int64, ev *domain.Events) {
	for _, bid := range businesses {
		res, err := s.shipments.CreateForBusiness(ctx, order.ID, bid, manualShippingCents)
		if res != nil {
			*ev = append(*ev, res.Events...)
		}
		if err != nil {
			s.Logger.Error("failed to prepare shipment",
				"order_id", order.ID,
				"business_id", bid,
				"error", err,
			)
		}
	}
	s.settleInvoice(ctx, order, ev)
}

// itemUpdateMessages tells the other party about a batch of item changes.
func (s *orderService) itemUpdateMessages(ctx context.Context, order *domain.Order, actor domain.Actor, items []*domain.OrderItem, to domain.ItemStatus, reason string, ev *domain.Events) {
	name := "order.item_" + string(to)
	rows := make([]email.Row, 0, len(items))
	for _, it := range items {
		rows = append(rows, email.Row{Label: fmt.Sprintf("%d x %s", it.Quantity, it.ProductName), Value: string(to)})
	}
	data := map[string]string{"order_id": order.ID.String(), "status": string(to)}

	if actor.Kind == domain.ActorCustomer {
		for _, bid := range uniqueBusinesses(items) {
			s.notify(ev, name, order.ID, bid, NotifyOrderItemUpdate, domain.PriorityNormal,
				"Order item "+string(to),
				fmt.Sprintf("The customer marked items on order %s as %s", ref(order.ID), to), data)
			if to == domain.ItemCancelled {
				if biz := s.business(ctx, bid); biz != nil {
					s.mail(ev, name, order.ID, biz.Email, email.SummaryEmail{
						SubjectLine: "Order " + ref(order.ID) + " items cancelled",
						Heading:     "The customer cancelled items",
						Rows:        rows,
						Footer:      reason,
					})
				}
			}
		}
	} else {
		_, addr := s.customerEmail(ctx, order.CustomerID)
		intro := fmt.Sprintf("Items on your order %s are now %s.", ref(order.ID), humanStatus(string(to)))
		if reason != "" {
			intro += " Reason: " + reason
		}
		s.mail(ev, name, order.ID, addr, email.SummaryEmail{
			SubjectLine: "Update on order " + ref(order.ID),
			Heading:     "Your order was updated",
			Intro:       intro,
			Rows:        rows,
		})
		s.notify(ev, name, order.ID, order.CustomerID, NotifyOrderItemUpdate, domain.PriorityNormal,
			"Order update", intro, data)
	}

	ev.Lifecycle("order.items_updated", order.ID, map[string]string{
		"actor":        string(actor.Kind),
		"status":       string(to),
		"order_status": string(order.Status),
		"items":        strconv.Itoa(len(items)),
	})
}

func uniqueBusinesses(items []*domain.OrderItem) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, it := range items {
		if !seen[it.BusinessID] {
			seen[it.BusinessID] = true
			ids = append(ids, it.BusinessID)
		}
	}
	return ids
}

func humanStatus(s string) string {
	b := []byte(s)
	for i := range b {
		if b[i] == '_' {
			b[i] = ' '
		}
	}
	return string(b)
}
