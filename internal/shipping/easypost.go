package shipping

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/EasyPost/easypost-go/v5"
	"github.com/shopspring/decimal"

	"github.com/dukerupert/chandlery/internal/telemetry"
)

// Conversion constants for metric to imperial units.
const (
	cmToInchRatio  = 0.393701 // 1 cm = 0.393701 inches
	gramsToOzRatio = 0.035274 // 1 gram = 0.035274 ounces
)

// EasyPostProvider implements the Provider interface using EasyPost API.
type EasyPostProvider struct {
	client *easypost.Client
	logger *slog.Logger
}

// EasyPostConfig contains configuration for the EasyPost provider.
type EasyPostConfig struct {
	APIKey string
	Logger *slog.Logger // Optional: defaults to slog.Default()
}

// NewEasyPostProvider creates a new EasyPost shipping provider.
func NewEasyPostProvider(cfg EasyPostConfig) (*EasyPostProvider, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &EasyPostProvider{
		client: easypost.New(cfg.APIKey),
		logger: logger,
	}, nil
}

func observe(operation string, start time.Time) {
	if telemetry.Business != nil {
		telemetry.Business.ExternalAPILatency.WithLabelValues("easypost", operation).Observe(time.Since(start).Seconds())
	}
}

// CreateShipment creates the carrier shipment and returns its rates.
// Only single-parcel shipments are supported.
func (p *EasyPostProvider) CreateShipment(ctx context.Context, params ShipmentParams) (*CarrierShipment, error) {
	if err := validateShipmentParams(params); err != nil {
		return nil, err
	}
	defer observe("shipment.create", time.Now())

	logger := p.logger.With(
		"reference", params.Reference,
		"destination_country", params.DestinationAddress.Country,
		"destination_state", params.DestinationAddress.State,
	)
	logger.Info("creating carrier shipment")

	shipment, err := p.client.CreateShipment(
		&easypost.Shipment{
			FromAddress: toEasyPostAddress(params.OriginAddress),
			ToAddress:   toEasyPostAddress(params.DestinationAddress),
			Parcel:      toEasyPostParcel(params.Package),
			Reference:   params.Reference,
		},
	)
	if err != nil {
		logger.Error("failed to create shipment", "error", err)
		return nil, fmt.Errorf("failed to create shipment: %w", err)
	}

	out := &CarrierShipment{
		ID:        shipment.ID,
		Reference: shipment.Reference,
		CreatedAt: time.Now(),
	}
	if shipment.CreatedAt != nil {
		out.CreatedAt = shipment.CreatedAt.AsTime()
	}

	for _, r := range shipment.Rates {
		rate, err := fromEasyPostRate(r)
		if err != nil {
			logger.Warn("failed to parse rate", "carrier", r.Carrier, "error", err)
			continue
		}
		out.Rates = append(out.Rates, rate)
	}

	if len(out.Rates) == 0 {
		logger.Warn("no rates available for shipment", "shipment_id", shipment.ID)
		return out, ErrNoRates
	}

	logger.Info("rates fetched successfully",
		"rate_count", len(out.Rates),
		"shipment_id", shipment.ID,
	)
	return out, nil
}

// BuyLabel purchases the label for rateID.
// If the shipment already has postage the existing label is returned.
func (p *EasyPostProvider) BuyLabel(ctx context.Context, carrierShipmentID, rateID string) (*Label, error) {
	if carrierShipmentID == "" || rateID == "" {
		return nil, ErrInvalidRate
	}
	defer observe("shipment.buy", time.Now())

	logger := p.logger.With(
		"shipment_id", carrierShipmentID,
		"rate_id", rateID,
	)
	logger.Info("purchasing shipping label")

	shipment, err := p.client.GetShipment(carrierShipmentID)
	if err != nil {
		logger.Error("failed to get shipment", "error", err)
		return nil, fmt.Errorf("failed to get shipment: %w", err)
	}

	if shipment.PostageLabel != nil && shipment.PostageLabel.LabelURL != "" {
		if shipment.SelectedRate != nil && shipment.SelectedRate.ID != rateID {
			return nil, ErrLabelAlreadyPurchased
		}
		logger.Info("returning existing label (idempotent)")
		return labelFromShipment(shipment), nil
	}

	var selected *easypost.Rate
	for _, r := range shipment.Rates {
		if r.ID == rateID {
			selected = r
			break
		}
	}
	if selected == nil {
		return nil, ErrInvalidRate
	}

	bought, err := p.client.BuyShipment(carrierShipmentID, selected, "")
	if err != nil {
		logger.Error("failed to purchase label", "error", err)
		return nil, fmt.Errorf("failed to purchase label: %w", err)
	}

	label := labelFromShipment(bought)
	if label.Carrier == "" {
		label.Carrier = selected.Carrier
	}

	logger.Info("label purchased successfully",
		"tracking_number", label.TrackingNumber,
		"carrier", label.Carrier,
	)
	return label, nil
}

func validateShipmentParams(params ShipmentParams) error {
	if params.OriginAddress.Line1 == "" {
		return ErrOriginRequired
	}
	if params.DestinationAddress.Line1 == "" {
		return ErrDestinationRequired
	}
	if params.Package.WeightGrams <= 0 {
		return ErrNoPackage
	}
	return nil
}

func labelFromShipment(s *easypost.Shipment) *Label {
	label := &Label{
		CarrierShipmentID: s.ID,
		TrackingNumber:    s.TrackingCode,
		CreatedAt:         time.Now(),
	}
	if s.PostageLabel != nil {
		label.LabelURL = s.PostageLabel.LabelURL
	}
	if s.SelectedRate != nil {
		label.Carrier = s.SelectedRate.Carrier
	}
	if s.CreatedAt != nil {
		label.CreatedAt = s.CreatedAt.AsTime()
	}
	return label
}

// toEasyPostAddress converts our ShippingAddress to EasyPost Address.
func toEasyPostAddress(addr ShippingAddress) *easypost.Address {
	return &easypost.Address{
		Name:    addr.Name,
		Company: addr.Company,
		Street1: addr.Line1,
		Street2: addr.Line2,
		City:    addr.City,
		State:   addr.State,
		Zip:     addr.PostalCode,
		Country: addr.Country,
		Phone:   addr.Phone,
		Email:   addr.Email,
	}
}

// toEasyPostParcel converts our Package to EasyPost Parcel.
func toEasyPostParcel(pkg Package) *easypost.Parcel {
	return &easypost.Parcel{
		// EasyPost uses inches for dimensions and ounces for weight
		Length: cmToInches(pkg.LengthCm),
		Width:  cmToInches(pkg.WidthCm),
		Height: cmToInches(pkg.HeightCm),
		Weight: gramsToOunces(pkg.WeightGrams),
	}
}

// fromEasyPostRate converts EasyPost Rate to our Rate type.
func fromEasyPostRate(r *easypost.Rate) (Rate, error) {
	costCents, err := dollarsToCents(r.Rate)
	if err != nil {
		return Rate{}, fmt.Errorf("failed to parse rate amount: %w", err)
	}

	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = "USD"
	}

	return Rate{
		RateID:       r.ID,
		Carrier:      r.Carrier,
		ServiceName:  r.Service,
		CostCents:    costCents,
		Currency:     currency,
		DeliveryDays: r.DeliveryDays,
	}, nil
}

// Unit conversion helpers

func cmToInches(cm int32) float64 {
	return float64(cm) * cmToInchRatio
}

func gramsToOunces(grams int32) float64 {
	return float64(grams) * gramsToOzRatio
}

// dollarsToCents converts a dollar amount string to cents.
// Handles formats like "5.25", "5", "5.1", "5.05".
func dollarsToCents(dollars string) (int64, error) {
	dollars = strings.TrimSpace(dollars)
	if dollars == "" {
		return 0, ErrInvalidAmount("", nil)
	}

	amount, err := decimal.NewFromString(dollars)
	if err != nil {
		return 0, ErrInvalidAmount(dollars, err)
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

// Compile-time interface check
var _ Provider = (*EasyPostProvider)(nil)
