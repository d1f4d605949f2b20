package domain

import (
	"context"

	"github.com/google/uuid"
)

// =============================================================================
// CATALOG DOMAIN TYPES
// =============================================================================

// BusinessKind distinguishes the two supplying-business roles. Their
// order-item transition tables differ.
type BusinessKind string

const (
	BusinessDistributor  BusinessKind = "distributor"
	BusinessManufacturer BusinessKind = "manufacturer"
)

// Catalog errors.
var (
	ErrProductNotFound  = &Error{Code: ENOTFOUND, Message: "Product not found"}
	ErrBusinessNotFound = &Error{Code: ENOTFOUND, Message: "Business not found"}
	ErrUserNotFound     = &Error{Code: ENOTFOUND, Message: "User not found"}
)

// Address is a postal address used for delivery and shipment origin.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Company    string `json:"company,omitempty"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required,len=2"`
	Phone      string `json:"phone,omitempty"`
	Email      string `json:"email,omitempty"`
}

// Business is a supplying distributor or manufacturer.
type Business struct {
	ID    uuid.UUID
	Kind  BusinessKind
	Name  string
	Email string

	// StripeAccountID is the connected account receiving transfers.
	StripeAccountID string

	// ShipFrom is the origin address for carrier shipments.
	ShipFrom Address

	// ManualShipping marks a business that arranges its own delivery and
	// charges a flat ManualShippingCents instead of carrier rates.
	ManualShipping      bool
	ManualShippingCents int64
}

// Product is a sellable item owned by exactly one business.
type Product struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	Name       string
	SKU        string

	// UnitPriceCents is in the product's native Currency.
	UnitPriceCents int64
	Currency       string

	StockQuantity int

	WeightGrams int32
	LengthCm    int32
	WidthCm     int32
	HeightCm    int32
}

// CatalogRepository resolves products and businesses.
type CatalogRepository interface {
	GetProduct(ctx context.Context, id uuid.UUID) (*Product, error)
	GetBusiness(ctx context.Context, id uuid.UUID) (*Business, error)
}
