package shipping

import (
	"context"
	"time"
)

// Provider defines the interface for carrier operations.
// Implementations can integrate with carriers like FedEx, UPS, USPS, etc.
type Provider interface {
	// CreateShipment registers a shipment with the carrier and returns
	// the quoted rates for it.
	CreateShipment(ctx context.Context, params ShipmentParams) (*CarrierShipment, error)

	// BuyLabel purchases the label for a previously quoted rate.
	// Buying an already-purchased shipment returns the existing label.
	BuyLabel(ctx context.Context, carrierShipmentID, rateID string) (*Label, error)
}

// ShipmentParams contains parameters for quoting a shipment.
type ShipmentParams struct {
	OriginAddress      ShippingAddress
	DestinationAddress ShippingAddress
	Package            Package

	// Reference is stored on the carrier shipment, e.g. "<order>:<business>"
	Reference string
}

// ShippingAddress represents a complete shipping address.
type ShippingAddress struct {
	Name       string
	Company    string
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
	Phone      string
	Email      string
}

// Package represents a physical package to be shipped.
type Package struct {
	WeightGrams int32
	LengthCm    int32
	WidthCm     int32
	HeightCm    int32
}

// CarrierShipment is the carrier-side shipment with its rates.
type CarrierShipment struct {
	ID        string
	Reference string
	Rates     []Rate
	CreatedAt time.Time
}

// Rate represents a shipping rate option.
type Rate struct {
	RateID       string
	Carrier      string
	ServiceName  string
	CostCents    int64
	Currency     string
	DeliveryDays int
}

// Label represents a purchased shipping label.
type Label struct {
	CarrierShipmentID string
	TrackingNumber    string
	LabelURL          string
	Carrier           string
	CreatedAt         time.Time
}

// TrackingEvent is a decoded carrier tracker callback.
type TrackingEvent struct {
	EventID       string
	TrackingCode  string
	Carrier       string
	CarrierStatus string
	StatusDetail  string
}
