package domain

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ShipmentStatus is the carrier shipment lifecycle.
type ShipmentStatus string

const (
	ShipmentCreated            ShipmentStatus = "created"
	ShipmentRatesFetched       ShipmentStatus = "rates_fetched"
	ShipmentRateSelected       ShipmentStatus = "rate_selected"
	ShipmentLabelPurchased     ShipmentStatus = "label_purchased"
	ShipmentShipped            ShipmentStatus = "shipped"
	ShipmentDelivered          ShipmentStatus = "delivered"
	ShipmentFailed             ShipmentStatus = "failed"
	ShipmentReturnedToSupplier ShipmentStatus = "returned_to_supplier"
)

// Shipment errors.
var (
	ErrShipmentNotFound   = &Error{Code: ENOTFOUND, Message: "Shipment not found"}
	ErrRateNotFound       = &Error{Code: EINVALID, Message: "Rate not found on shipment"}
	ErrNoRateSelected     = &Error{Code: EINVALID, Message: "A rate must be selected before buying a label"}
	ErrNoConfirmedItems   = &Error{Code: EINVALID, Message: "No confirmed items to ship for this business"}
	ErrShipmentManual     = &Error{Code: EINVALID, Message: "Shipment is handled by the business"}
	ErrLabelAlreadyBought = &Error{Code: EPROCESSED, Message: "Label already purchased"}
	ErrShipmentVersion    = &Error{Code: ECONFLICT, Message: "Shipment was modified concurrently, retry"}
)

// ShipmentTransitions is the shipment state machine. The orchestrator and
// the tracking webhook drive it, so every row is keyed under ActorSystem;
// businesses select rates and buy labels through the orchestrator.
var ShipmentTransitions = TransitionTable[ShipmentStatus]{
	ShipmentCreated: {
		ActorSystem: {ShipmentRatesFetched},
	},
	ShipmentRatesFetched: {
		ActorSystem: {ShipmentRatesFetched, ShipmentRateSelected},
	},
	ShipmentRateSelected: {
		ActorSystem: {ShipmentRatesFetched, ShipmentRateSelected, ShipmentLabelPurchased},
	},
	ShipmentLabelPurchased: {
		ActorSystem: {ShipmentShipped, ShipmentDelivered, ShipmentFailed, ShipmentReturnedToSupplier},
	},
	ShipmentShipped: {
		ActorSystem: {ShipmentDelivered, ShipmentFailed, ShipmentReturnedToSupplier},
	},
	ShipmentDelivered:          {},
	ShipmentFailed:             {ActorSystem: {ShipmentReturnedToSupplier}},
	ShipmentReturnedToSupplier: {},
}

// ShippingRate is one quoted carrier option.
type ShippingRate struct {
	ID           string `json:"id"`
	Carrier      string `json:"carrier"`
	Service      string `json:"service"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
	DeliveryDays int    `json:"delivery_days,omitempty"`
	Selected     bool   `json:"selected"`
}

// Parcel is the aggregated package for a business's items.
type Parcel struct {
	LengthCm    int32 `json:"length_cm"`
	WidthCm     int32 `json:"width_cm"`
	HeightCm    int32 `json:"height_cm"`
	WeightGrams int32 `json:"weight_grams"`
}

// Shipment is one per (order, supplying business).
type Shipment struct {
	ID         uuid.UUID
	OrderID    uuid.UUID
	BusinessID uuid.UUID
	ItemIDs    []uuid.UUID

	Status ShipmentStatus
	Parcel Parcel
	Rates  []ShippingRate

	// BusinessHandled shipments skip the carrier; the business charges
	// ShippingCostCents itself.
	BusinessHandled   bool
	ShippingCostCents int64

	CarrierShipmentID string
	TrackingCode      string
	LabelURL          string
	Carrier           string

	// Invoiced is true once the shipping cost is on the order invoice.
	Invoiced bool

	LastWebhookData json.RawMessage

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// SelectedRate returns the rate marked selected.
func (s *Shipment) SelectedRate() (*ShippingRate, bool) {
	for i := range s.Rates {
		if s.Rates[i].Selected {
			return &s.Rates[i], true
		}
	}
	return nil, false
}

// ReadyForInvoice reports whether the shipping cost is known.
func (s *Shipment) ReadyForInvoice() bool {
	if s.BusinessHandled {
		return true
	}
	switch s.Status {
	case ShipmentLabelPurchased, ShipmentShipped, ShipmentDelivered:
		return true
	}
	return false
}

// LabelBought reports whether the carrier label exists, the point after
// which a customer cancellation counts as post-shipment.
func (s *Shipment) LabelBought() bool {
	return !s.BusinessHandled && s.LabelURL != ""
}

// ShipmentRepository persists shipments. SaveShipment uses the Version
// field like OrderRepository.SaveOrder.
type ShipmentRepository interface {
	// CreateShipment inserts s unless a shipment for (order, business)
	// already exists, in which case it returns the existing one and false.
	CreateShipment(ctx context.Context, s *Shipment) (*Shipment, bool, error)
	GetShipment(ctx context.Context, id uuid.UUID) (*Shipment, error)
	GetShipmentForBusiness(ctx context.Context, orderID, businessID uuid.UUID) (*Shipment, error)
	GetShipmentByTrackingCode(ctx context.Context, code string) (*Shipment, error)
	ListShipmentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*Shipment, error)
	SaveShipment(ctx context.Context, s *Shipment) error
}
