package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/inventory"
	"github.com/dukerupert/chandlery/internal/shipping"
	"github.com/dukerupert/chandlery/internal/telemetry"
)

type shipmentService struct {
	*Clients
	adjuster *inventory.Adjuster
	orders   *orderService
}

// shippable statuses are the confirmed items a shipment carries.
var shippable = map[domain.ItemStatus]bool{
	domain.ItemConfirmed:  true,
	domain.ItemProcessing: true,
}

// itemStatusFor maps a notable shipment status onto its order items.
var itemStatusFor = map[domain.ShipmentStatus]domain.ItemStatus{
	domain.ShipmentShipped:            domain.ItemShipped,
	domain.ShipmentDelivered:          domain.ItemDelivered,
	domain.ShipmentFailed:             domain.ItemFailed,
	domain.ShipmentReturnedToSupplier: domain.ItemReturnedToSupplier,
}

// CreateForBusiness creates the one shipment for (order, business), or
// returns the existing one. New confirmed items join a shipment that has no
// label yet and its rates are refreshed.
func (s *shipmentService) CreateForBusiness(ctx context.Context, orderID, businessID uuid.UUID, manualShippingCents *int64) (res *domain.ShipmentResult, err error) {
	const op = "shipment.create"
	ctx, span := startSpan(ctx, op,
		attribute.String("order_id", orderID.String()),
		attribute.String("business_id", businessID.String()),
	)
	defer func() { endSpan(span, err) }()

	order, err := s.Orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	var itemIDs []uuid.UUID
	for _, it := range order.ItemsForBusiness(businessID) {
		if shippable[it.Status] {
			itemIDs = append(itemIDs, it.ID)
		}
	}
	if len(itemIDs) == 0 {
		return nil, domain.WithOp(domain.ErrNoConfirmedItems, op)
	}

	biz, err := s.Catalog.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, err
	}

	existing, err := s.Shipments.GetShipmentForBusiness(ctx, orderID, businessID)
	switch {
	case err == nil:
		return s.extend(ctx, order, biz, existing, itemIDs)
	case !errors.Is(err, domain.ErrShipmentNotFound):
		return nil, err
	}

	parcel, err := s.parcel(ctx, order, itemIDs)
	if err != nil {
		return nil, err
	}

	now := s.Now()
	sh := &domain.Shipment{
		ID:         uuid.New(),
		OrderID:    orderID,
		BusinessID: businessID,
		ItemIDs:    itemIDs,
		Status:     domain.ShipmentCreated,
		Parcel:     parcel,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if biz.ManualShipping || manualShippingCents != nil {
		sh.BusinessHandled = true
		sh.ShippingCostCents = biz.ManualShippingCents
		if manualShippingCents != nil {
			sh.ShippingCostCents = *manualShippingCents
		}
	}

	created, inserted, err := s.Shipments.CreateShipment(ctx, sh)
	if err != nil {
		return nil, domain.Internal(err, op, "failed to create shipment")
	}
	if !inserted {
		return s.extend(ctx, order, biz, created, itemIDs)
	}

	mode := "carrier"
	if sh.BusinessHandled {
		mode = "manual"
	}
	if telemetry.Business != nil {
		telemetry.Business.ShipmentsCreated.WithLabelValues(mode).Inc()
	}
	s.Logger.Info("shipment created",
		"shipment_id", sh.ID,
		"order_id", orderID,
		"business_id", businessID,
		"mode", mode,
		"items", len(itemIDs),
	)

	res = &domain.ShipmentResult{Shipment: sh}
	res.Events.Lifecycle("shipment.created", sh.ID, map[string]string{
		"order_id":    orderID.String(),
		"business_id": businessID.String(),
		"mode":        mode,
	})
	if sh.BusinessHandled {
		return res, nil
	}

	if err := s.fetchRates(ctx, order, biz, sh); err != nil {
		return res, err
	}
	s.notify(&res.Events, "shipment.rates_ready", sh.ID, businessID, NotifyShipment, domain.PriorityNormal,
		"Choose a shipping rate",
		fmt.Sprintf("%d carrier rates are available for order %s", len(sh.Rates), ref(orderID)),
		map[string]string{"shipment_id": sh.ID.String(), "order_id": orderID.String()})
	return res, nil
}

// extend adds newly confirmed items to an existing shipment.
func (s *shipmentService) extend(ctx context.Context, order *domain.Order, biz *domain.Business, sh *domain.Shipment, itemIDs []uuid.UUID) (*domain.ShipmentResult, error) {
	var added bool
	for _, id := range itemIDs {
		if !slices.Contains(sh.ItemIDs, id) {
			sh.ItemIDs = append(sh.ItemIDs, id)
			added = true
		}
	}
	if !added {
		return &domain.ShipmentResult{Shipment: sh, Noop: true}, nil
	}

	switch sh.Status {
	case domain.ShipmentCreated, domain.ShipmentRatesFetched, domain.ShipmentRateSelected:
	default:
		s.Logger.Warn("items confirmed after label purchase",
			"shipment_id", sh.ID,
			"order_id", sh.OrderID,
			"status", sh.Status,
		)
		return &domain.ShipmentResult{Shipment: sh, Noop: true}, nil
	}

	parcel, err := s.parcel(ctx, order, sh.ItemIDs)
	if err != nil {
		return nil, err
	}
	sh.Parcel = parcel
	res := &domain.ShipmentResult{Shipment: sh}
	if sh.BusinessHandled {
		if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
			return nil, err
		}
		return res, nil
	}
	return res, s.fetchRates(ctx, order, biz, sh)
}

// parcel aggregates the confirmed items into one package: the largest
// dimension of each axis and the summed weight.
func (s *shipmentService) parcel(ctx context.Context, order *domain.Order, itemIDs []uuid.UUID) (domain.Parcel, error) {
	var p domain.Parcel
	for _, id := range itemIDs {
		it, ok := order.Item(id)
		if !ok {
			continue
		}
		product, err := s.Catalog.GetProduct(ctx, it.ProductID)
		if err != nil {
			return domain.Parcel{}, err
		}
		p.LengthCm = max(p.LengthCm, product.LengthCm)
		p.WidthCm = max(p.WidthCm, product.WidthCm)
		p.HeightCm = max(p.HeightCm, product.HeightCm)
		p.WeightGrams += product.WeightGrams * int32(it.Quantity)
	}
	return p, nil
}

// fetchRates asks the carrier for rates and saves the shipment either way.
func (s *shipmentService) fetchRates(ctx context.Context, order *domain.Order, biz *domain.Business, sh *domain.Shipment) error {
	const op = "shipment.fetch_rates"

	if err := domain.ShipmentTransitions.Check(op, "shipment", sh.Status, domain.ShipmentRatesFetched, domain.ActorSystem); err != nil {
		return err
	}

	origin := biz.ShipFrom
	if origin.Name == "" {
		origin.Name = biz.Name
	}
	carrier, err := s.Shipping.CreateShipment(ctx, shipping.ShipmentParams{
		OriginAddress:      toShippingAddress(origin),
		DestinationAddress: toShippingAddress(order.DeliveryAddress),
		Package: shipping.Package{
			WeightGrams: sh.Parcel.WeightGrams,
			LengthCm:    sh.Parcel.LengthCm,
			WidthCm:     sh.Parcel.WidthCm,
			HeightCm:    sh.Parcel.HeightCm,
		},
		Reference: sh.ID.String(),
	})
	if err != nil {
		if serr := s.Shipments.SaveShipment(ctx, sh); serr != nil {
			s.Logger.Error("failed to save shipment", "shipment_id", sh.ID, "error", serr)
		}
		var se *shipping.ShippingError
		if errors.As(err, &se) && se.IsInvalid() {
			return domain.WrapError(err, domain.EINVALID, op, se.ErrorMessage())
		}
		return domain.External(err, op, "failed to fetch carrier rates")
	}

	sh.CarrierShipmentID = carrier.ID
	sh.Rates = sh.Rates[:0]
	for _, r := range carrier.Rates {
		sh.Rates = append(sh.Rates, domain.ShippingRate{
			ID:           r.RateID,
			Carrier:      r.Carrier,
			Service:      r.ServiceName,
			AmountCents:  r.CostCents,
			Currency:     r.Currency,
			DeliveryDays: r.DeliveryDays,
		})
	}
	sh.Status = domain.ShipmentRatesFetched
	sh.UpdatedAt = s.Now()
	if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
		return err
	}

	s.Logger.Info("shipment rates fetched",
		"shipment_id", sh.ID,
		"carrier_shipment_id", carrier.ID,
		"rates", len(sh.Rates),
	)
	return nil
}

// RefreshRates re-quotes a shipment that has no label yet.
func (s *shipmentService) RefreshRates(ctx context.Context, actor domain.Actor, shipmentID uuid.UUID) (res *domain.ShipmentResult, err error) {
	const op = "shipment.refresh_rates"
	ctx, span := startSpan(ctx, op, attribute.String("shipment_id", shipmentID.String()))
	defer func() { endSpan(span, err) }()

	sh, err := s.load(ctx, op, actor, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.BusinessHandled {
		return nil, domain.WithOp(domain.ErrShipmentManual, op)
	}
	order, err := s.Orders.GetOrder(ctx, sh.OrderID)
	if err != nil {
		return nil, err
	}
	biz, err := s.Catalog.GetBusiness(ctx, sh.BusinessID)
	if err != nil {
		return nil, err
	}
	if err := s.fetchRates(ctx, order, biz, sh); err != nil {
		return nil, err
	}
	return &domain.ShipmentResult{Shipment: sh}, nil
}

// SelectRate marks one quoted rate as the one to buy.
func (s *shipmentService) SelectRate(ctx context.Context, actor domain.Actor, shipmentID uuid.UUID, rateID string) (res *domain.ShipmentResult, err error) {
	const op = "shipment.select_rate"
	ctx, span := startSpan(ctx, op, attribute.String("shipment_id", shipmentID.String()))
	defer func() { endSpan(span, err) }()

	sh, err := s.load(ctx, op, actor, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.BusinessHandled {
		return nil, domain.WithOp(domain.ErrShipmentManual, op)
	}
	if err := domain.ShipmentTransitions.Check(op, "shipment", sh.Status, domain.ShipmentRateSelected, domain.ActorSystem); err != nil {
		return nil, err
	}

	found := false
	for i := range sh.Rates {
		sh.Rates[i].Selected = sh.Rates[i].ID == rateID
		found = found || sh.Rates[i].Selected
	}
	if !found {
		return nil, domain.WithOp(domain.ErrRateNotFound, op)
	}
	sh.Status = domain.ShipmentRateSelected
	sh.UpdatedAt = s.Now()
	if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}

	s.Logger.Info("shipping rate selected", "shipment_id", sh.ID, "rate_id", rateID)
	res = &domain.ShipmentResult{Shipment: sh}
	res.Events.Lifecycle("shipment.rate_selected", sh.ID, map[string]string{"rate_id": rateID})
	return res, nil
}

// BuyLabel purchases the selected rate, moves the shipment's items to
// processing and re-runs the order's invoice finalize gate.
func (s *shipmentService) BuyLabel(ctx context.Context, actor domain.Actor, shipmentID uuid.UUID) (res *domain.ShipmentResult, err error) {
	const op = "shipment.buy_label"
	ctx, span := startSpan(ctx, op, attribute.String("shipment_id", shipmentID.String()))
	defer func() { endSpan(span, err) }()

	sh, err := s.load(ctx, op, actor, shipmentID)
	if err != nil {
		return nil, err
	}
	if sh.BusinessHandled {
		return nil, domain.WithOp(domain.ErrShipmentManual, op)
	}
	if sh.LabelURL != "" {
		return &domain.ShipmentResult{Shipment: sh, Noop: true}, nil
	}
	rate, ok := sh.SelectedRate()
	if !ok {
		return nil, domain.WithOp(domain.ErrNoRateSelected, op)
	}
	if err := domain.ShipmentTransitions.Check(op, "shipment", sh.Status, domain.ShipmentLabelPurchased, domain.ActorSystem); err != nil {
		return nil, err
	}

	label, err := s.Shipping.BuyLabel(ctx, sh.CarrierShipmentID, rate.ID)
	if err != nil {
		return nil, domain.External(err, op, "failed to purchase label")
	}

	now := s.Now()
	sh.Status = domain.ShipmentLabelPurchased
	sh.TrackingCode = label.TrackingNumber
	sh.LabelURL = label.LabelURL
	sh.Carrier = label.Carrier
	sh.UpdatedAt = now
	if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
		s.Logger.Error("CRITICAL: label purchased but shipment not saved",
			"shipment_id", sh.ID,
			"tracking_code", label.TrackingNumber,
			"error", err,
		)
		telemetry.CaptureCritical(ctx, err, "shipment_label", map[string]interface{}{
			"shipment_id":   sh.ID.String(),
			"tracking_code": label.TrackingNumber,
		})
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.LabelsPurchased.WithLabelValues(label.Carrier).Inc()
	}
	s.Logger.Info("shipping label purchased",
		"shipment_id", sh.ID,
		"carrier", label.Carrier,
		"tracking_code", label.TrackingNumber,
	)

	res = &domain.ShipmentResult{Shipment: sh}
	order, err := s.moveItems(ctx, op, sh, domain.ItemProcessing, "label purchased")
	if err != nil {
		return res, err
	}
	res.Events.Lifecycle("shipment.label_purchased", sh.ID, map[string]string{
		"order_id":      sh.OrderID.String(),
		"tracking_code": sh.TrackingCode,
		"carrier":       sh.Carrier,
	})
	s.notify(&res.Events, "shipment.label_purchased", sh.ID, sh.BusinessID, NotifyShipment, domain.PriorityNormal,
		"Label ready", fmt.Sprintf("Tracking %s for order %s", sh.TrackingCode, ref(sh.OrderID)),
		map[string]string{"shipment_id": sh.ID.String(), "label_url": sh.LabelURL})

	if s.orders != nil && order != nil {
		after, err := s.orders.AfterShipmentReady(ctx, order.ID)
		if err != nil {
			s.Logger.Error("failed to settle invoice after label", "order_id", order.ID, "error", err)
		} else {
			res.Events = append(res.Events, after.Events...)
		}
	}
	return res, nil
}

// HandleTracking applies a verified carrier callback. A status equal to
// the current one is a no-op so retried callbacks send nothing twice.
// Items move before the shipment status is saved, so a failed callback
// leaves the shipment behind and the carrier's retry finishes the job.
func (s *shipmentService) HandleTracking(ctx context.Context, update domain.TrackingUpdate) (res *domain.ShipmentResult, err error) {
	const op = "shipment.tracking"
	ctx, span := startSpan(ctx, op, attribute.String("tracking_code", update.TrackingCode))
	defer func() { endSpan(span, err) }()

	mapped, ok := shipping.MapTrackerStatus(update.CarrierStatus)
	if !ok {
		s.Logger.Debug("tracking status ignored", "tracking_code", update.TrackingCode, "status", update.CarrierStatus)
		return &domain.ShipmentResult{Noop: true}, nil
	}

	sh, err := s.Shipments.GetShipmentByTrackingCode(ctx, update.TrackingCode)
	if err != nil {
		return nil, err
	}
	if sh.Status == mapped {
		return &domain.ShipmentResult{Shipment: sh, Noop: true}, nil
	}
	if err := domain.ShipmentTransitions.Check(op, "shipment", sh.Status, mapped, domain.ActorSystem); err != nil {
		s.Logger.Warn("out of order tracking update ignored",
			"shipment_id", sh.ID,
			"from", sh.Status,
			"to", mapped,
		)
		return &domain.ShipmentResult{Shipment: sh, Noop: true}, nil
	}

	var order *domain.Order
	itemStatus, notable := itemStatusFor[mapped]
	if notable {
		order, err = s.moveItems(ctx, op, sh, itemStatus, "carrier: "+update.CarrierStatus)
		if err != nil {
			s.Logger.Error("tracking update left shipment unchanged",
				"shipment_id", sh.ID,
				"to", mapped,
				"error", err,
			)
			return nil, err
		}
	}

	from := sh.Status
	sh.Status = mapped
	sh.LastWebhookData = update.Raw
	sh.UpdatedAt = s.Now()
	if err := s.Shipments.SaveShipment(ctx, sh); err != nil {
		return nil, err
	}
	if telemetry.Business != nil {
		telemetry.Business.TrackingUpdates.WithLabelValues(string(mapped)).Inc()
	}
	s.Logger.Info("shipment tracking updated",
		"shipment_id", sh.ID,
		"tracking_code", sh.TrackingCode,
		"from", from,
		"to", mapped,
	)

	res = &domain.ShipmentResult{Shipment: sh}
	res.Events.Lifecycle("shipment."+string(mapped), sh.ID, map[string]string{
		"order_id":      sh.OrderID.String(),
		"tracking_code": sh.TrackingCode,
	})
	if notable {
		s.trackingMessages(ctx, order, sh, mapped, &res.Events)
	}
	return res, nil
}

// moveItems drives the shipment's items to status as the system actor.
// Items that cannot make the move are left alone; a delivered update walks
// items through shipped first.
func (s *shipmentService) moveItems(ctx context.Context, op string, sh *domain.Shipment, to domain.ItemStatus, reason string) (*domain.Order, error) {
	order, err := s.Orders.GetOrder(ctx, sh.OrderID)
	if err != nil {
		return nil, err
	}
	system := domain.System()
	now := s.Now()
	moved := 0

	for _, id := range sh.ItemIDs {
		it, ok := order.Item(id)
		if !ok {
			continue
		}
		path := []domain.ItemStatus{to}
		if !domain.ItemTransitions.Can(it.Status, to, domain.ActorSystem) &&
			domain.ItemTransitions.Can(it.Status, domain.ItemShipped, domain.ActorSystem) &&
			domain.ItemTransitions.Can(domain.ItemShipped, to, domain.ActorSystem) {
			path = []domain.ItemStatus{domain.ItemShipped, to}
		}
		for _, step := range path {
			if !domain.ItemTransitions.Can(it.Status, step, domain.ActorSystem) {
				break
			}
			from := it.Status
			if err := order.TransitionItem(op, system, id, step, reason, "", now); err != nil {
				return nil, err
			}
			if _, err := s.adjuster.Apply(ctx, it, step); err != nil {
				return nil, err
			}
			moved++
			if telemetry.Business != nil {
				telemetry.Business.ItemTransitions.WithLabelValues(string(from), string(step), string(domain.ActorSystem)).Inc()
			}
		}
	}

	if moved == 0 {
		return order, nil
	}
	if err := s.Orders.SaveOrder(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

var trackingCopy = map[domain.ShipmentStatus]struct{ subject, heading string }{
	domain.ShipmentShipped:            {"is on its way", "Your items have shipped"},
	domain.ShipmentDelivered:          {"was delivered", "Your items were delivered"},
	domain.ShipmentFailed:             {"has a delivery problem", "There is a problem with your delivery"},
	domain.ShipmentReturnedToSupplier: {"is being returned", "Your items are being returned to the supplier"},
}

// trackingMessages sends the one customer email and notification for a
// notable tracking change.
func (s *shipmentService) trackingMessages(ctx context.Context, order *domain.Order, sh *domain.Shipment, status domain.ShipmentStatus, ev *domain.Events) {
	if order == nil {
		return
	}
	msg := trackingCopy[status]
	name := "shipment." + string(status)

	var rows []email.Row
	for _, id := range sh.ItemIDs {
		if it, ok := order.Item(id); ok {
			rows = append(rows, email.Row{Label: fmt.Sprintf("%d x %s", it.Quantity, it.ProductName), Value: humanStatus(string(it.Status))})
		}
	}
	rows = append(rows, email.Row{Label: "Tracking", Value: sh.Carrier + " " + sh.TrackingCode})

	priority := domain.PriorityNormal
	if status == domain.ShipmentFailed || status == domain.ShipmentReturnedToSupplier {
		priority = domain.PriorityHigh
	}

	_, addr := s.customerEmail(ctx, order.CustomerID)
	s.mail(ev, name, order.ID, addr, email.SummaryEmail{
		SubjectLine: "Order " + ref(order.ID) + " " + msg.subject,
		Heading:     msg.heading,
		Rows:        rows,
	})
	s.notify(ev, name, order.ID, order.CustomerID, NotifyShipment, priority,
		msg.heading, fmt.Sprintf("Order %s %s", ref(order.ID), msg.subject),
		map[string]string{"order_id": order.ID.String(), "tracking_code": sh.TrackingCode})
}

// load fetches a shipment the actor may manage.
func (s *shipmentService) load(ctx context.Context, op string, actor domain.Actor, id uuid.UUID) (*domain.Shipment, error) {
	sh, err := s.Shipments.GetShipment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.Kind == domain.ActorAdmin, actor.Kind == domain.ActorSystem:
	case actor.IsBusiness() && actor.ID == sh.BusinessID:
	default:
		return nil, domain.Forbidden(op, "shipment does not belong to the caller")
	}
	return sh, nil
}

func toShippingAddress(a domain.Address) shipping.ShippingAddress {
	return shipping.ShippingAddress{
		Name:       a.Name,
		Company:    a.Company,
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
		Phone:      a.Phone,
		Email:      a.Email,
	}
}
