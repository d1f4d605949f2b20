package shipping

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FlatRateProvider returns predefined flat-rate shipping options and
// issues local labels. Used when no carrier API key is configured.
type FlatRateProvider struct {
	rates []FlatRate

	mu        sync.Mutex
	shipments map[string]*flatShipment
}

// FlatRate defines a single flat-rate shipping option.
type FlatRate struct {
	ServiceName string
	ServiceCode string
	CostCents   int64
	Days        int
}

type flatShipment struct {
	reference string
	label     *Label
	rateID    string
}

// DefaultFlatRates is used when no rates are configured.
var DefaultFlatRates = []FlatRate{
	{ServiceName: "Ground", ServiceCode: "ground", CostCents: 1200, Days: 5},
	{ServiceName: "Express", ServiceCode: "express", CostCents: 2900, Days: 2},
}

// NewFlatRateProvider creates a new flat-rate shipping provider.
func NewFlatRateProvider(rates []FlatRate) *FlatRateProvider {
	if len(rates) == 0 {
		rates = DefaultFlatRates
	}
	return &FlatRateProvider{
		rates:     rates,
		shipments: make(map[string]*flatShipment),
	}
}

// CreateShipment converts flat rates to Rate objects.
func (p *FlatRateProvider) CreateShipment(ctx context.Context, params ShipmentParams) (*CarrierShipment, error) {
	if err := validateShipmentParams(params); err != nil {
		return nil, err
	}

	id := "shp_flat_" + uuid.New().String()
	rates := make([]Rate, len(p.rates))
	for i, fr := range p.rates {
		rates[i] = Rate{
			RateID:       fr.ServiceCode,
			Carrier:      "FlatRate",
			ServiceName:  fr.ServiceName,
			CostCents:    fr.CostCents,
			Currency:     "USD",
			DeliveryDays: fr.Days,
		}
	}

	p.mu.Lock()
	p.shipments[id] = &flatShipment{reference: params.Reference}
	p.mu.Unlock()

	return &CarrierShipment{
		ID:        id,
		Reference: params.Reference,
		Rates:     rates,
		CreatedAt: time.Now(),
	}, nil
}

// BuyLabel issues a local label with a generated tracking code.
func (p *FlatRateProvider) BuyLabel(ctx context.Context, carrierShipmentID, rateID string) (*Label, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s, ok := p.shipments[carrierShipmentID]
	if !ok {
		return nil, ErrShipmentNotFound
	}
	if s.label != nil {
		if s.rateID != rateID {
			return nil, ErrLabelAlreadyPurchased
		}
		cp := *s.label
		return &cp, nil
	}

	known := false
	for _, fr := range p.rates {
		if fr.ServiceCode == rateID {
			known = true
			break
		}
	}
	if !known {
		return nil, ErrInvalidRate
	}

	code := strings.ToUpper(strings.ReplaceAll(uuid.New().String(), "-", ""))[:20]
	s.rateID = rateID
	s.label = &Label{
		CarrierShipmentID: carrierShipmentID,
		TrackingNumber:    "FLAT" + code,
		LabelURL:          "https://labels.invalid/" + carrierShipmentID + ".pdf",
		Carrier:           "FlatRate",
		CreatedAt:         time.Now(),
	}
	cp := *s.label
	return &cp, nil
}

// Compile-time interface check
var _ Provider = (*FlatRateProvider)(nil)
