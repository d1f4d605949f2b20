package service

import (
	"github.com/dukerupert/chandlery/internal/inventory"
)

// Services bundles the workflow engines built over one Clients.
type Services struct {
	Orders    OrderService
	Bookings  BookingService
	Shipments ShipmentService
	Payments  PaymentReconciler
	Ledger    *InvoiceLedger
}

// New validates c, fills its defaults and wires the engines together. The
// order engine creates shipments on confirmation and the shipment
// orchestrator re-runs the order's invoice gate after a label purchase.
func New(c *Clients) (*Services, error) {
	if c == nil {
		return nil, ErrMissingClient
	}
	if err := c.prepare(); err != nil {
		return nil, err
	}

	ledger := NewInvoiceLedger(c.Invoices, c.Logger)
	ledger.now = c.Now
	adjuster := inventory.NewAdjuster(c.Inventory, c.Logger)

	orders := &orderService{Clients: c, adjuster: adjuster, ledger: ledger}
	shipments := &shipmentService{Clients: c, adjuster: adjuster, orders: orders}
	orders.shipments = shipments

	return &Services{
		Orders:    orders,
		Bookings:  &bookingService{Clients: c, ledger: ledger},
		Shipments: shipments,
		Payments:  &reconciler{Clients: c, ledger: ledger},
		Ledger:    ledger,
	}, nil
}
