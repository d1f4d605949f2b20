// Package service implements the order, booking, shipment and payment
// workflows on top of the repositories and provider integrations.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dukerupert/chandlery/internal/billing"
	"github.com/dukerupert/chandlery/internal/currency"
	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/email"
	"github.com/dukerupert/chandlery/internal/inventory"
	"github.com/dukerupert/chandlery/internal/shipping"
)

// Type aliases so callers can depend on the service package alone.
type (
	OrderService      = domain.OrderService
	BookingService    = domain.BookingService
	ShipmentService   = domain.ShipmentService
	PaymentReconciler = domain.PaymentReconciler
)

// RateConverter is the part of currency.Converter the workflows use.
type RateConverter interface {
	ConvertToUSD(ctx context.Context, cents int64, code string) (currency.Conversion, error)
	Rate(ctx context.Context, code string) (currency.Quote, error)
}

// WorkflowConfig holds the commercial constants of the marketplace.
type WorkflowConfig struct {
	PlatformFeeRate decimal.Decimal // 0.10 by default
	TokenTTL        time.Duration   // confirmation token lifetime
	BaseURL         string          // used to build confirm/decline links
	OpsEmail        string          // receives manual-review alerts
	InvoiceDueDays  int64
}

// DefaultWorkflowConfig returns the production defaults.
func DefaultWorkflowConfig() WorkflowConfig {
	return WorkflowConfig{
		PlatformFeeRate: decimal.NewFromFloat(0.10),
		TokenTTL:        7 * 24 * time.Hour,
		BaseURL:         "http://localhost:3000",
		OpsEmail:        "ops@chandlery.local",
		InvoiceDueDays:  7,
	}
}

// Clients is every collaborator the workflow engines need. It is built
// once at startup and passed to each service constructor.
type Clients struct {
	Catalog   domain.CatalogRepository
	Users     domain.UserRepository
	Orders    domain.OrderRepository
	Bookings  domain.BookingRepository
	Invoices  domain.InvoiceRepository
	Shipments domain.ShipmentRepository
	Inventory inventory.Ledger

	Billing  billing.Provider
	Shipping shipping.Provider
	Rates    RateConverter
	Emails   *email.Renderer

	Logger *slog.Logger
	Config WorkflowConfig

	// Now and NewToken are replaceable in tests.
	Now      func() time.Time
	NewToken func() (string, error)
}

// ErrMissingClient is returned by constructors when a required
// collaborator is nil.
var ErrMissingClient = errors.New("service: required client is nil")

func (c *Clients) prepare() error {
	if c.Catalog == nil || c.Users == nil || c.Orders == nil || c.Bookings == nil ||
		c.Invoices == nil || c.Shipments == nil || c.Inventory == nil ||
		c.Billing == nil || c.Shipping == nil || c.Rates == nil {
		return ErrMissingClient
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Emails == nil {
		r, err := email.NewRenderer()
		if err != nil {
			return err
		}
		c.Emails = r
	}
	def := DefaultWorkflowConfig()
	if c.Config.PlatformFeeRate.IsZero() {
		c.Config.PlatformFeeRate = def.PlatformFeeRate
	}
	if c.Config.TokenTTL == 0 {
		c.Config.TokenTTL = def.TokenTTL
	}
	if c.Config.BaseURL == "" {
		c.Config.BaseURL = def.BaseURL
	}
	if c.Config.OpsEmail == "" {
		c.Config.OpsEmail = def.OpsEmail
	}
	if c.Config.InvoiceDueDays == 0 {
		c.Config.InvoiceDueDays = def.InvoiceDueDays
	}
	if c.Now == nil {
		c.Now = func() time.Time { return time.Now().UTC() }
	}
	if c.NewToken == nil {
		c.NewToken = generateToken
	}
	return nil
}

var tracer = otel.Tracer("github.com/dukerupert/chandlery/internal/service")

// startSpan opens a span for a workflow operation.
func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// endSpan records err on the span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.ErrorCode(err))
	}
	span.End()
}
