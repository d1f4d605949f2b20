package bootstrap

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
	"github.com/dukerupert/chandlery/internal/memory"
)

// Fixed ids of the demo catalog so local requests can be scripted.
var (
	DemoCustomerID     = uuid.MustParse("00000000-0000-0000-0000-00000000c001")
	DemoDistributorID  = uuid.MustParse("00000000-0000-0000-0000-00000000d001")
	DemoManufacturerID = uuid.MustParse("00000000-0000-0000-0000-00000000e001")
	DemoRopeID         = uuid.MustParse("00000000-0000-0000-0000-00000000a001")
	DemoFenderID       = uuid.MustParse("00000000-0000-0000-0000-00000000a002")
)

// SeedDemo loads a customer, one business of each kind and two products
// into an empty in-memory store. Calling it twice overwrites the same
// records.
func SeedDemo(store *memory.Store, logger *slog.Logger) {
	store.PutUser(domain.User{
		ID:        DemoCustomerID,
		Email:     "captain@example.com",
		FirstName: "Ada",
		LastName:  "Marlow",
	})
	store.PutBusiness(domain.Business{
		ID:    DemoDistributorID,
		Kind:  domain.BusinessDistributor,
		Name:  "Harbour Supply Co",
		Email: "orders@harbour.example.com",
		ShipFrom: domain.Address{
			Name:       "Harbour Supply Co",
			Line1:      "1 Quay Street",
			City:       "Southampton",
			PostalCode: "SO14 2AQ",
			Country:    "GB",
		},
	})
	store.PutBusiness(domain.Business{
		ID:                  DemoManufacturerID,
		Kind:                domain.BusinessManufacturer,
		Name:                "Keel Works",
		Email:               "bookings@keelworks.example.com",
		ManualShipping:      true,
		ManualShippingCents: 2500,
	})
	store.PutProduct(domain.Product{
		ID:             DemoRopeID,
		BusinessID:     DemoDistributorID,
		Name:           "Mooring line 16mm x 20m",
		SKU:            "ROPE-16-20",
		UnitPriceCents: 8900,
		Currency:       "GBP",
		StockQuantity:  40,
		WeightGrams:    4200,
		LengthCm:       40,
		WidthCm:        40,
		HeightCm:       20,
	})
	store.PutProduct(domain.Product{
		ID:             DemoFenderID,
		BusinessID:     DemoDistributorID,
		Name:           "Cylindrical fender F4",
		SKU:            "FEND-F4",
		UnitPriceCents: 5400,
		Currency:       "EUR",
		StockQuantity:  12,
		WeightGrams:    1800,
		LengthCm:       60,
		WidthCm:        22,
		HeightCm:       22,
	})

	logger.Info("demo catalog loaded",
		"customer_id", DemoCustomerID,
		"distributor_id", DemoDistributorID,
		"manufacturer_id", DemoManufacturerID,
	)
}
