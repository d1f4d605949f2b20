package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/memory"
)

// flakyOrders fails the next failSaves order saves.
type flakyOrders struct {
	*memory.Store
	failSaves int
}

func (r *flakyOrders) SaveOrder(ctx context.Context, o *domain.Order) error {
	if r.failSaves > 0 {
		r.failSaves--
		return domain.Internal(errors.New("connection reset"), "test.save_order", "failed to save order")
	}
	return r.Store.SaveOrder(ctx, o)
}

// carrierOrder confirms a two-line order from a carrier-shipping business
// and returns it with the shipment created on confirmation.
func carrierOrder(t *testing.T, h *harness) (*domain.Order, *domain.Shipment, domain.Actor) {
	t.Helper()
	biz := h.addBusiness("sailmaker", false)
	sail := h.addProduct(biz, "Storm jib", 40000, 3)
	battens := h.addProduct(biz, "Battens", 2000, 30)
	res := placeOrder(t, h,
		domain.OrderLine{ProductID: sail.ID, Quantity: 1},
		domain.OrderLine{ProductID: battens.ID, Quantity: 4},
	)

	_, err := h.svc.Orders.ConfirmOrder(t.Context(), h.tokens[0])
	require.NoError(t, err)
	_, err = h.svc.Orders.ConfirmOrder(t.Context(), h.tokens[1])
	require.NoError(t, err)

	shipments, err := h.store.ListShipmentsForOrder(t.Context(), res.Order.ID)
	require.NoError(t, err)
	require.Len(t, shipments, 1, "one shipment per order and business")
	return h.order(t, res.Order.ID), shipments[0], domain.BusinessActor(domain.BusinessDistributor, biz.ID)
}

func TestShipment_CreatedOnConfirmation(t *testing.T) {
	h := newHarness(t)
	o, sh, _ := carrierOrder(t, h)

	assert.Equal(t, domain.ShipmentRatesFetched, sh.Status)
	assert.False(t, sh.BusinessHandled)
	assert.ElementsMatch(t, []uuid.UUID{o.Items[0].ID, o.Items[1].ID}, sh.ItemIDs)
	assert.Len(t, sh.Rates, 2)

	// Largest dimension per axis, weight summed over quantities.
	assert.Equal(t, int32(20), sh.Parcel.LengthCm)
	assert.Equal(t, int32(2500), sh.Parcel.WeightGrams)

	assert.False(t, o.InvoiceFinalized, "invoice waits for the label")
}

func TestShipment_CreateIsIdempotent(t *testing.T) {
	h := newHarness(t)
	o, sh, _ := carrierOrder(t, h)

	res, err := h.svc.Shipments.CreateForBusiness(t.Context(), o.ID, sh.BusinessID, nil)
	require.NoError(t, err)
	assert.Equal(t, sh.ID, res.Shipment.ID)

	shipments, err := h.store.ListShipmentsForOrder(t.Context(), o.ID)
	require.NoError(t, err)
	assert.Len(t, shipments, 1)
}

func TestShipment_LabelRequiresSelectedRate(t *testing.T) {
	h := newHarness(t)
	_, sh, business := carrierOrder(t, h)

	_, err := h.svc.Shipments.BuyLabel(t.Context(), business, sh.ID)
	assert.ErrorIs(t, err, domain.ErrNoRateSelected)

	_, err = h.svc.Shipments.SelectRate(t.Context(), business, sh.ID, "rate_missing")
	assert.ErrorIs(t, err, domain.ErrRateNotFound)

	_, err = h.svc.Shipments.SelectRate(t.Context(), h.customerActor(), sh.ID, "rate_ground")
	assert.Equal(t, domain.EFORBIDDEN, domain.ErrorCode(err))
}

func TestShipment_LabelAndTracking(t *testing.T) {
	h := newHarness(t)
	o, sh, business := carrierOrder(t, h)

	selected, err := h.svc.Shipments.SelectRate(t.Context(), business, sh.ID, "rate_ground")
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentRateSelected, selected.Shipment.Status)

	bought, err := h.svc.Shipments.BuyLabel(t.Context(), business, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelPurchased, bought.Shipment.Status)
	require.NotEmpty(t, bought.Shipment.TrackingCode)
	assert.NotEmpty(t, bought.Shipment.LabelURL)

	o = h.order(t, o.ID)
	for _, it := range o.Items {
		assert.Equal(t, domain.ItemProcessing, it.Status)
	}
	assert.True(t, o.InvoiceFinalized)
	assert.Equal(t, int64(850), o.ShippingCents)
	assert.Equal(t, int64(48000+4800+850), o.TotalAmountCents)

	again, err := h.svc.Shipments.BuyLabel(t.Context(), business, sh.ID)
	require.NoError(t, err)
	assert.True(t, again.Noop)
	assert.Equal(t, 1, h.shipping.Calls("BuyLabel"))

	code := bought.Shipment.TrackingCode
	track := func(status string) *domain.ShipmentResult {
		res, err := h.svc.Shipments.HandleTracking(t.Context(), domain.TrackingUpdate{
			TrackingCode:  code,
			CarrierStatus: status,
			Raw:           []byte(`{"status":"` + status + `"}`),
		})
		require.NoError(t, err)
		return res
	}

	res := track("in_transit")
	assert.False(t, res.Noop)
	assert.Equal(t, domain.ShipmentShipped, res.Shipment.Status)
	assert.Equal(t, 1, res.Events.Count(domain.EventEmail))
	for _, it := range h.order(t, o.ID).Items {
		assert.Equal(t, domain.ItemShipped, it.Status)
	}

	res = track("in_transit")
	assert.True(t, res.Noop, "a retried webhook must not notify twice")
	assert.Empty(t, res.Events)

	res = track("delivered")
	assert.Equal(t, domain.ShipmentDelivered, res.Shipment.Status)
	for _, it := range h.order(t, o.ID).Items {
		assert.Equal(t, domain.ItemDelivered, it.Status)
	}

	res = track("in_transit")
	assert.True(t, res.Noop, "late updates cannot move a delivered shipment back")

	res = track("some_new_status")
	assert.True(t, res.Noop)
}

func TestShipment_BusinessHandled(t *testing.T) {
	h := newHarness(t)
	biz := h.addBusiness("riggers", false)
	p := h.addProduct(biz, "Turnbuckle", 6000, 10)
	res := placeOrder(t, h, domain.OrderLine{ProductID: p.ID, Quantity: 1})
	manual := int64(1200)

	_, err := h.svc.Orders.UpdateOrderStatus(t.Context(), domain.BusinessActor(domain.BusinessDistributor, biz.ID), res.Order.ID,
		domain.UpdateOrderStatusParams{Status: domain.ItemConfirmed, ManualShippingCents: &manual})
	require.NoError(t, err)

	sh, err := h.store.GetShipmentForBusiness(t.Context(), res.Order.ID, biz.ID)
	require.NoError(t, err)
	assert.True(t, sh.BusinessHandled)
	assert.Equal(t, int64(1200), sh.ShippingCostCents)
	assert.Zero(t, h.shipping.Calls("CreateShipment"))

	o := h.order(t, res.Order.ID)
	assert.True(t, o.InvoiceFinalized)
	assert.Equal(t, int64(6000+600+1200), o.TotalAmountCents)
}

func TestShipment_TrackingRetryAfterFailedItemSave(t *testing.T) {
	h := newHarness(t)
	o, sh, business := carrierOrder(t, h)

	_, err := h.svc.Shipments.SelectRate(t.Context(), business, sh.ID, "rate_ground")
	require.NoError(t, err)
	bought, err := h.svc.Shipments.BuyLabel(t.Context(), business, sh.ID)
	require.NoError(t, err)

	orders := &flakyOrders{Store: h.store, failSaves: 1}
	h.rewire(t, func(c *Clients) { c.Orders = orders })

	update := domain.TrackingUpdate{
		TrackingCode:  bought.Shipment.TrackingCode,
		CarrierStatus: "in_transit",
		Raw:           []byte(`{"status":"in_transit"}`),
	}
	_, err = h.svc.Shipments.HandleTracking(t.Context(), update)
	require.Error(t, err)

	stored, err := h.store.GetShipment(t.Context(), sh.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ShipmentLabelPurchased, stored.Status, "shipment waits for its items")
	for _, it := range h.order(t, o.ID).Items {
		assert.Equal(t, domain.ItemProcessing, it.Status)
	}

	res, err := h.svc.Shipments.HandleTracking(t.Context(), update)
	require.NoError(t, err)
	assert.False(t, res.Noop, "the carrier's retry finishes the update")
	assert.Equal(t, domain.ShipmentShipped, res.Shipment.Status)
	assert.Equal(t, 1, res.Events.Count(domain.EventEmail))
	for _, it := range h.order(t, o.ID).Items {
		assert.Equal(t, domain.ItemShipped, it.Status)
	}
}
