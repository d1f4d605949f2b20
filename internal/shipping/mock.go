package shipping

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockProvider is a test implementation of Provider.
type MockProvider struct {
	CreateShipmentFunc func(ctx context.Context, params ShipmentParams) (*CarrierShipment, error)
	BuyLabelFunc       func(ctx context.Context, carrierShipmentID, rateID string) (*Label, error)

	// Rates is returned by the default CreateShipment
	Rates []Rate

	// Shipments records the params of every CreateShipment call
	Shipments []ShipmentParams

	// CallLog tracks method calls for test assertions
	CallLog []string

	mu     sync.Mutex
	seq    int
	labels map[string]*Label
}

// NewMockProvider creates a new mock shipping provider for testing.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		Rates: []Rate{
			{RateID: "rate_ground", Carrier: "USPS", ServiceName: "GroundAdvantage", CostCents: 850, Currency: "USD", DeliveryDays: 4},
			{RateID: "rate_priority", Carrier: "USPS", ServiceName: "Priority", CostCents: 1450, Currency: "USD", DeliveryDays: 2},
		},
		labels: make(map[string]*Label),
	}
}

// Calls returns how many times method was called.
func (m *MockProvider) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.CallLog {
		if c == method {
			n++
		}
	}
	return n
}

// CreateShipment delegates to the configured function or returns Rates.
func (m *MockProvider) CreateShipment(ctx context.Context, params ShipmentParams) (*CarrierShipment, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "CreateShipment")
	m.Shipments = append(m.Shipments, params)
	m.seq++
	id := fmt.Sprintf("shp_mock_%d", m.seq)
	rates := append([]Rate(nil), m.Rates...)
	m.mu.Unlock()

	if m.CreateShipmentFunc != nil {
		return m.CreateShipmentFunc(ctx, params)
	}
	if err := validateShipmentParams(params); err != nil {
		return nil, err
	}
	return &CarrierShipment{ID: id, Reference: params.Reference, Rates: rates, CreatedAt: time.Now()}, nil
}

// BuyLabel delegates to the configured function or returns a label that
// is stable per carrier shipment.
func (m *MockProvider) BuyLabel(ctx context.Context, carrierShipmentID, rateID string) (*Label, error) {
	m.mu.Lock()
	m.CallLog = append(m.CallLog, "BuyLabel")
	m.mu.Unlock()

	if m.BuyLabelFunc != nil {
		return m.BuyLabelFunc(ctx, carrierShipmentID, rateID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.labels[carrierShipmentID]; ok {
		cp := *l
		return &cp, nil
	}

	carrier := ""
	for _, r := range m.Rates {
		if r.RateID == rateID {
			carrier = r.Carrier
		}
	}
	if carrier == "" {
		return nil, ErrInvalidRate
	}

	l := &Label{
		CarrierShipmentID: carrierShipmentID,
		TrackingNumber:    "TRK_" + carrierShipmentID,
		LabelURL:          "https://labels.test/" + carrierShipmentID + ".pdf",
		Carrier:           carrier,
		CreatedAt:         time.Now(),
	}
	m.labels[carrierShipmentID] = l
	cp := *l
	return &cp, nil
}

// Compile-time interface check
var _ Provider = (*MockProvider)(nil)
