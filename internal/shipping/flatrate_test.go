package shipping_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/shipping"
)

func marinaParams() shipping.ShipmentParams {
	return shipping.ShipmentParams{
		OriginAddress: shipping.ShippingAddress{
			Name:       "Harbor Supply",
			Line1:      "1 Wharf Rd",
			City:       "Seattle",
			State:      "WA",
			PostalCode: "98101",
			Country:    "US",
		},
		DestinationAddress: shipping.ShippingAddress{
			Name:       "Dock 4",
			Line1:      "400 Marina Way",
			City:       "Portland",
			State:      "OR",
			PostalCode: "97201",
			Country:    "US",
		},
		Package:   shipping.Package{WeightGrams: 454, LengthCm: 20, WidthCm: 15, HeightCm: 10},
		Reference: "order-1:biz-1",
	}
}

func TestFlatRateProvider_CreateShipment_SingleRate(t *testing.T) {
	rates := []shipping.FlatRate{
		{ServiceName: "Standard Shipping", ServiceCode: "STD", CostCents: 500, Days: 5},
	}
	provider := shipping.NewFlatRateProvider(rates)

	result, err := provider.CreateShipment(context.Background(), marinaParams())

	require.NoError(t, err)
	assert.NotEmpty(t, result.ID)
	assert.Equal(t, "order-1:biz-1", result.Reference)
	require.Len(t, result.Rates, 1)

	rate := result.Rates[0]
	assert.Equal(t, "STD", rate.RateID)
	assert.Equal(t, "FlatRate", rate.Carrier)
	assert.Equal(t, "Standard Shipping", rate.ServiceName)
	assert.Equal(t, int64(500), rate.CostCents)
	assert.Equal(t, "USD", rate.Currency)
	assert.Equal(t, 5, rate.DeliveryDays)
}

func TestFlatRateProvider_CreateShipment_MultipleRates(t *testing.T) {
	rates := []shipping.FlatRate{
		{ServiceName: "Standard Shipping", ServiceCode: "STD", CostCents: 500, Days: 5},
		{ServiceName: "Express Shipping", ServiceCode: "EXP", CostCents: 1500, Days: 2},
		{ServiceName: "Priority Overnight", ServiceCode: "PRI", CostCents: 2500, Days: 1},
	}
	provider := shipping.NewFlatRateProvider(rates)

	result, err := provider.CreateShipment(context.Background(), marinaParams())

	require.NoError(t, err)
	require.Len(t, result.Rates, 3)
	for i, rate := range result.Rates {
		assert.Equal(t, rates[i].ServiceCode, rate.RateID)
		assert.Equal(t, rates[i].ServiceName, rate.ServiceName)
		assert.Equal(t, rates[i].CostCents, rate.CostCents)
		assert.Equal(t, rates[i].Days, rate.DeliveryDays)
	}
}

func TestFlatRateProvider_CreateShipment_DefaultRates(t *testing.T) {
	provider := shipping.NewFlatRateProvider(nil)

	result, err := provider.CreateShipment(context.Background(), marinaParams())

	require.NoError(t, err)
	assert.Len(t, result.Rates, len(shipping.DefaultFlatRates))
}

func TestFlatRateProvider_CreateShipment_Validation(t *testing.T) {
	provider := shipping.NewFlatRateProvider(nil)

	tests := []struct {
		name    string
		mutate  func(p *shipping.ShipmentParams)
		wantErr error
	}{
		{
			name:    "missing origin",
			mutate:  func(p *shipping.ShipmentParams) { p.OriginAddress = shipping.ShippingAddress{} },
			wantErr: shipping.ErrOriginRequired,
		},
		{
			name:    "missing destination",
			mutate:  func(p *shipping.ShipmentParams) { p.DestinationAddress.Line1 = "" },
			wantErr: shipping.ErrDestinationRequired,
		},
		{
			name:    "zero weight",
			mutate:  func(p *shipping.ShipmentParams) { p.Package.WeightGrams = 0 },
			wantErr: shipping.ErrNoPackage,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := marinaParams()
			tt.mutate(&params)

			result, err := provider.CreateShipment(context.Background(), params)

			assert.True(t, errors.Is(err, tt.wantErr))
			assert.Nil(t, result)
		})
	}
}

func TestFlatRateProvider_CreateShipment_IgnoresPackageDetails(t *testing.T) {
	provider := shipping.NewFlatRateProvider([]shipping.FlatRate{
		{ServiceName: "Flat Rate", ServiceCode: "FLAT", CostCents: 1000, Days: 4},
	})

	for _, pkg := range []shipping.Package{
		{WeightGrams: 100, LengthCm: 10, WidthCm: 10, HeightCm: 10},
		{WeightGrams: 5000, LengthCm: 50, WidthCm: 50, HeightCm: 50},
	} {
		params := marinaParams()
		params.Package = pkg

		result, err := provider.CreateShipment(context.Background(), params)

		require.NoError(t, err)
		require.Len(t, result.Rates, 1)
		assert.Equal(t, int64(1000), result.Rates[0].CostCents, "Flat rate should ignore package details")
	}
}

func TestFlatRateProvider_BuyLabel(t *testing.T) {
	ctx := context.Background()
	provider := shipping.NewFlatRateProvider(nil)

	shipment, err := provider.CreateShipment(ctx, marinaParams())
	require.NoError(t, err)

	label, err := provider.BuyLabel(ctx, shipment.ID, "ground")
	require.NoError(t, err)
	assert.Equal(t, shipment.ID, label.CarrierShipmentID)
	assert.NotEmpty(t, label.TrackingNumber)
	assert.NotEmpty(t, label.LabelURL)
	assert.Equal(t, "FlatRate", label.Carrier)

	t.Run("buying again returns the same label", func(t *testing.T) {
		again, err := provider.BuyLabel(ctx, shipment.ID, "ground")
		require.NoError(t, err)
		assert.Equal(t, label.TrackingNumber, again.TrackingNumber)
	})

	t.Run("different rate after purchase", func(t *testing.T) {
		_, err := provider.BuyLabel(ctx, shipment.ID, "express")
		assert.True(t, errors.Is(err, shipping.ErrLabelAlreadyPurchased))
	})

	t.Run("unknown shipment", func(t *testing.T) {
		_, err := provider.BuyLabel(ctx, "shp_missing", "ground")
		assert.True(t, errors.Is(err, shipping.ErrShipmentNotFound))
	})

	t.Run("unknown rate", func(t *testing.T) {
		other, err := provider.CreateShipment(ctx, marinaParams())
		require.NoError(t, err)
		_, err = provider.BuyLabel(ctx, other.ID, "teleport")
		assert.True(t, errors.Is(err, shipping.ErrInvalidRate))
	})
}

func TestMockProvider_BuyLabelIsStable(t *testing.T) {
	ctx := context.Background()
	mock := shipping.NewMockProvider()

	shipment, err := mock.CreateShipment(ctx, marinaParams())
	require.NoError(t, err)
	require.NotEmpty(t, shipment.Rates)

	first, err := mock.BuyLabel(ctx, shipment.ID, shipment.Rates[0].RateID)
	require.NoError(t, err)
	second, err := mock.BuyLabel(ctx, shipment.ID, shipment.Rates[0].RateID)
	require.NoError(t, err)

	assert.Equal(t, first.TrackingNumber, second.TrackingNumber)
	assert.Equal(t, 1, mock.Calls("CreateShipment"))
	assert.Equal(t, 2, mock.Calls("BuyLabel"))
	assert.Equal(t, "order-1:biz-1", mock.Shipments[0].Reference)
}
