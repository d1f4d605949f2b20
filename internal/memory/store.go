// Package memory provides in-process implementations of every repository
// the workflows use. The server runs on it with STORE=memory and
// the service tests build their fixtures on it.
//
// A single Store satisfies all repository interfaces. Every method takes
// the store lock and hands out deep copies, so callers see the same
// isolation a database round trip would give them.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// Store holds the whole marketplace in maps.
type Store struct {
	mu sync.Mutex

	users      map[uuid.UUID]*domain.User
	businesses map[uuid.UUID]*domain.Business
	products   map[uuid.UUID]*domain.Product

	orders   map[uuid.UUID]*domain.Order
	bookings map[uuid.UUID]*domain.Booking
	quotes   map[uuid.UUID]*domain.Quote

	invoices      map[uuid.UUID]*domain.Invoice
	invoiceSeq    []uuid.UUID // insertion order
	invoiceEvents map[uuid.UUID][]domain.InvoiceEvent

	shipments   map[uuid.UUID]*domain.Shipment
	shipmentSeq []uuid.UUID

	notifications map[uuid.UUID][]domain.Notification
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		users:         make(map[uuid.UUID]*domain.User),
		businesses:    make(map[uuid.UUID]*domain.Business),
		products:      make(map[uuid.UUID]*domain.Product),
		orders:        make(map[uuid.UUID]*domain.Order),
		bookings:      make(map[uuid.UUID]*domain.Booking),
		quotes:        make(map[uuid.UUID]*domain.Quote),
		invoices:      make(map[uuid.UUID]*domain.Invoice),
		invoiceEvents: make(map[uuid.UUID][]domain.InvoiceEvent),
		shipments:     make(map[uuid.UUID]*domain.Shipment),
		notifications: make(map[uuid.UUID][]domain.Notification),
	}
}

var (
	_ domain.CatalogRepository      = (*Store)(nil)
	_ domain.UserRepository         = (*Store)(nil)
	_ domain.OrderRepository        = (*Store)(nil)
	_ domain.BookingRepository      = (*Store)(nil)
	_ domain.InvoiceRepository      = (*Store)(nil)
	_ domain.ShipmentRepository     = (*Store)(nil)
	_ domain.NotificationRepository = (*Store)(nil)
)
