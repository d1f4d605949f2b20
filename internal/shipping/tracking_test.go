package shipping

import (
	"errors"
	"testing"

	"github.com/EasyPost/easypost-go/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukerupert/chandlery/internal/domain"
)

func TestMapTrackerStatus(t *testing.T) {
	tests := []struct {
		status string
		want   domain.ShipmentStatus
		ok     bool
	}{
		{"pre_transit", domain.ShipmentLabelPurchased, true},
		{"in_transit", domain.ShipmentShipped, true},
		{"out_for_delivery", domain.ShipmentShipped, true},
		{"available_for_pickup", domain.ShipmentShipped, true},
		{"delivered", domain.ShipmentDelivered, true},
		{"DELIVERED", domain.ShipmentDelivered, true},
		{"return_to_sender", domain.ShipmentReturnedToSupplier, true},
		{"failure", domain.ShipmentFailed, true},
		{"error", domain.ShipmentFailed, true},
		{"cancelled", domain.ShipmentFailed, true},
		{"unknown", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.status, func(t *testing.T) {
			got, ok := MapTrackerStatus(tt.status)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"id":"evt_1","description":"tracker.updated"}`)
	secret := "whsec_easypost"

	tests := []struct {
		name    string
		header  string
		secret  string
		wantErr bool
	}{
		{name: "valid", header: Sign(body, secret), secret: secret},
		{name: "verification disabled", header: "", secret: ""},
		{name: "missing header", header: "", secret: secret, wantErr: true},
		{name: "missing prefix", header: "deadbeef", secret: secret, wantErr: true},
		{name: "not hex", header: "hmac-sha256-hex=zz", secret: secret, wantErr: true},
		{name: "wrong secret", header: Sign(body, "other"), secret: secret, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifySignature(body, tt.header, tt.secret)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidSignature))
				return
			}
			assert.NoError(t, err)
		})
	}

	t.Run("tampered body", func(t *testing.T) {
		header := Sign(body, secret)
		err := VerifySignature([]byte(`{"id":"evt_2"}`), header, secret)
		assert.True(t, errors.Is(err, ErrInvalidSignature))
	})
}

func TestParseTrackerEvent(t *testing.T) {
	t.Run("tracker update", func(t *testing.T) {
		body := []byte(`{
			"id": "evt_123",
			"description": "tracker.updated",
			"result": {
				"id": "trk_1",
				"object": "Tracker",
				"tracking_code": "9400100000000000000000",
				"status": "in_transit",
				"status_detail": "arrived_at_facility",
				"carrier": "USPS"
			}
		}`)

		ev, err := ParseTrackerEvent(body)
		require.NoError(t, err)
		assert.Equal(t, "evt_123", ev.EventID)
		assert.Equal(t, "9400100000000000000000", ev.TrackingCode)
		assert.Equal(t, "in_transit", ev.CarrierStatus)
		assert.Equal(t, "arrived_at_facility", ev.StatusDetail)
		assert.Equal(t, "USPS", ev.Carrier)
	})

	t.Run("non tracker event", func(t *testing.T) {
		_, err := ParseTrackerEvent([]byte(`{"id":"evt_1","description":"batch.updated","result":{}}`))
		assert.True(t, errors.Is(err, ErrNotTracker))
	})

	t.Run("tracker without code", func(t *testing.T) {
		_, err := ParseTrackerEvent([]byte(`{"id":"evt_1","description":"tracker.created","result":{"status":"unknown"}}`))
		assert.True(t, errors.Is(err, ErrNotTracker))
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := ParseTrackerEvent([]byte(`{`))
		assert.Error(t, err)
	})
}

func TestDollarsToCents(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{in: "5.25", want: 525},
		{in: "5", want: 500},
		{in: "5.1", want: 510},
		{in: "5.05", want: 505},
		{in: " 12.345 ", want: 1235},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := dollarsToCents(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFromEasyPostRate(t *testing.T) {
	rate, err := fromEasyPostRate(&easypost.Rate{
		ID:           "rate_1",
		Carrier:      "UPS",
		Service:      "Ground",
		Rate:         "14.50",
		Currency:     "usd",
		DeliveryDays: 3,
	})
	require.NoError(t, err)
	assert.Equal(t, "rate_1", rate.RateID)
	assert.Equal(t, int64(1450), rate.CostCents)
	assert.Equal(t, "USD", rate.Currency)
	assert.Equal(t, 3, rate.DeliveryDays)

	_, err = fromEasyPostRate(&easypost.Rate{ID: "rate_2", Rate: "n/a"})
	assert.Error(t, err)
}

func TestToEasyPostParcel(t *testing.T) {
	parcel := toEasyPostParcel(Package{WeightGrams: 1000, LengthCm: 100, WidthCm: 50, HeightCm: 10})
	assert.InDelta(t, 39.3701, parcel.Length, 0.001)
	assert.InDelta(t, 19.685, parcel.Width, 0.001)
	assert.InDelta(t, 3.937, parcel.Height, 0.001)
	assert.InDelta(t, 35.274, parcel.Weight, 0.001)
}

func TestNewEasyPostProvider_RequiresKey(t *testing.T) {
	_, err := NewEasyPostProvider(EasyPostConfig{})
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}
