//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dukerupert/chandlery/internal"
	"github.com/dukerupert/chandlery/internal/domain"
)

func setupDB(t *testing.T) *DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("chandlery"),
		tcpostgres.WithUsername("chandlery"),
		tcpostgres.WithPassword("chandlery"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	defer sqlDB.Close()
	version, err := internal.RunMigrations(ctx, sqlDB, nil)
	require.NoError(t, err)
	require.EqualValues(t, 5, version, "every migration applied")

	again, err := internal.RunMigrations(ctx, sqlDB, nil)
	require.NoError(t, err)
	require.Equal(t, version, again, "rerun is a no-op")

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return New(pool)
}

type fixture struct {
	customer domain.User
	business domain.Business
	product  domain.Product
}

func seed(t *testing.T, db *DB, stock int) fixture {
	t.Helper()
	ctx := context.Background()
	f := fixture{
		customer: domain.User{ID: uuid.New(), Email: uuid.NewString() + "@example.com", FirstName: "Grace"},
		business: domain.Business{
			ID:    uuid.New(),
			Kind:  domain.BusinessDistributor,
			Name:  "Harbour Chandlers",
			Email: "orders@harbour.test",
			ShipFrom: domain.Address{
				Name: "Harbour Chandlers", Line1: "2 Quay St", City: "Mystic",
				PostalCode: "06355", Country: "US",
			},
		},
	}
	f.product = domain.Product{
		ID: uuid.New(), BusinessID: f.business.ID, Name: "Bilge pump", SKU: "BP-1",
		UnitPriceCents: 12000, Currency: "USD", StockQuantity: stock, WeightGrams: 900,
	}
	require.NoError(t, db.UpsertUser(ctx, f.customer))
	require.NoError(t, db.UpsertBusiness(ctx, f.business))
	require.NoError(t, db.UpsertProduct(ctx, f.product))
	return f
}

func (f fixture) order(token string, now time.Time) *domain.Order {
	return &domain.Order{
		ID:            uuid.New(),
		CustomerID:    f.customer.ID,
		Status:        domain.ItemPending,
		PaymentStatus: domain.PaymentPending,
		Currency:      "USD",
		Items: []domain.OrderItem{{
			ID:                uuid.New(),
			ProductID:         f.product.ID,
			ProductName:       f.product.Name,
			BusinessID:        f.business.ID,
			BusinessKind:      domain.BusinessDistributor,
			Quantity:          2,
			UnitPriceCents:    12000,
			LineTotalCents:    24000,
			Currency:          "USD",
			UnitPriceUSDCents: 12000,
			LineTotalUSDCents: 24000,
			ConversionRate:    decimal.NewFromInt(1),
			Status:            domain.ItemPending,
			ConfirmationToken: token,
			TokenExpiresAt:    now.Add(time.Hour),
			UpdatedAt:         now,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestPostgres(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	t.Run("decrement floors at zero under concurrency", func(t *testing.T) {
		f := seed(t, db, 5)
		var wg sync.WaitGroup
		var removed atomic.Int64
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := db.Decrement(ctx, f.product.ID, 1)
				assert.NoError(t, err)
				removed.Add(int64(n))
			}()
		}
		wg.Wait()
		assert.Equal(t, int64(5), removed.Load(), "only stock that existed is handed out")

		qty, err := db.Quantity(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Zero(t, qty)

		require.NoError(t, db.Increment(ctx, f.product.ID, 3))
		qty, err = db.Quantity(ctx, f.product.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, qty)
	})

	t.Run("token claim has exactly one winner", func(t *testing.T) {
		f := seed(t, db, 5)
		o := f.order("hash-"+uuid.NewString(), now)
		require.NoError(t, db.CreateOrder(ctx, o))

		var wg sync.WaitGroup
		results := make(chan error, 5)
		for range 5 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := db.ClaimItemToken(ctx, o.Items[0].ConfirmationToken, domain.ItemConfirmed, now)
				results <- err
			}()
		}
		wg.Wait()
		close(results)

		wins, used := 0, 0
		for err := range results {
			switch {
			case err == nil:
				wins++
			case domain.ErrorCode(err) == domain.EPROCESSED:
				used++
			}
		}
		assert.Equal(t, 1, wins)
		assert.Equal(t, 4, used)

		_, _, err := db.ClaimItemToken(ctx, "hash-unknown", domain.ItemConfirmed, now)
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})

	t.Run("expired token is gone", func(t *testing.T) {
		f := seed(t, db, 5)
		o := f.order("hash-"+uuid.NewString(), now)
		require.NoError(t, db.CreateOrder(ctx, o))

		_, _, err := db.ClaimItemToken(ctx, o.Items[0].ConfirmationToken, domain.ItemConfirmed, now.Add(2*time.Hour))
		assert.ErrorIs(t, err, domain.ErrTokenInvalid)
	})

	t.Run("save order checks version", func(t *testing.T) {
		f := seed(t, db, 5)
		o := f.order("hash-"+uuid.NewString(), now)
		require.NoError(t, db.CreateOrder(ctx, o))

		a, err := db.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		b, err := db.GetOrder(ctx, o.ID)
		require.NoError(t, err)

		a.RecordPayment(domain.System(), domain.PaymentPaid, "test", now)
		require.NoError(t, db.SaveOrder(ctx, a))

		b.ShippingCents = 500
		assert.ErrorIs(t, db.SaveOrder(ctx, b), domain.ErrOrderVersion)

		got, err := db.GetOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPaid, got.PaymentStatus)
		assert.Len(t, got.History, 1)
		require.Len(t, got.Items, 1)
		assert.True(t, got.Items[0].ConversionRate.Equal(decimal.NewFromInt(1)))
	})

	t.Run("invoice transition is conditional", func(t *testing.T) {
		f := seed(t, db, 5)
		o := f.order("hash-"+uuid.NewString(), now)
		require.NoError(t, db.CreateOrder(ctx, o))

		inv := &domain.Invoice{
			ID:                  uuid.New(),
			Kind:                domain.InvoiceOrder,
			OrderID:             o.ID,
			CustomerID:          f.customer.ID,
			OriginalAmountCents: 26400,
			OriginalCurrency:    "USD",
			AmountCents:         26400,
			Currency:            "USD",
			LockedRate:          decimal.NewFromInt(1),
			RateLockedAt:        now,
			PlatformFee:         2400,
			Status:              domain.InvoicePending,
			GatewayInvoiceID:    "in_" + uuid.NewString(),
			CreatedAt:           now,
			UpdatedAt:           now,
		}
		require.NoError(t, db.CreateInvoice(ctx, inv))

		from := []domain.InvoiceStatus{domain.InvoicePending, domain.InvoiceFailed}
		var wg sync.WaitGroup
		moves := make(chan bool, 4)
		for range 4 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				moved, err := db.TransitionInvoice(ctx, inv.ID, from, domain.InvoicePaid, &now, "pi_1", "paid")
				assert.NoError(t, err)
				moves <- moved
			}()
		}
		wg.Wait()
		close(moves)
		n := 0
		for m := range moves {
			if m {
				n++
			}
		}
		assert.Equal(t, 1, n)

		got, err := db.GetInvoiceByGatewayID(ctx, inv.GatewayInvoiceID)
		require.NoError(t, err)
		assert.Equal(t, domain.InvoicePaid, got.Status)
		assert.Equal(t, "pi_1", got.PaymentIntentID)

		events, err := db.ListInvoiceEvents(ctx, inv.ID)
		require.NoError(t, err)
		require.Len(t, events, 2)
		assert.Equal(t, domain.InvoicePending, events[1].From)

		list, err := db.ListInvoicesForOrder(ctx, o.ID)
		require.NoError(t, err)
		assert.Len(t, list, 1)

		_, err = db.TransitionInvoice(ctx, uuid.New(), from, domain.InvoicePaid, nil, "", "")
		assert.ErrorIs(t, err, domain.ErrInvoiceNotFound)
	})

	t.Run("one shipment per order and business", func(t *testing.T) {
		f := seed(t, db, 5)
		o := f.order("hash-"+uuid.NewString(), now)
		require.NoError(t, db.CreateOrder(ctx, o))

		sh := &domain.Shipment{
			ID: uuid.New(), OrderID: o.ID, BusinessID: f.business.ID,
			ItemIDs: []uuid.UUID{o.Items[0].ID}, Status: domain.ShipmentCreated,
			CreatedAt: now, UpdatedAt: now,
		}
		first, created, err := db.CreateShipment(ctx, sh)
		require.NoError(t, err)
		assert.True(t, created)

		dup := *sh
		dup.ID = uuid.New()
		again, created, err := db.CreateShipment(ctx, &dup)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, first.ID, again.ID)
		assert.Equal(t, []uuid.UUID{o.Items[0].ID}, again.ItemIDs)

		again.TrackingCode = "TRK1"
		again.LastWebhookData = []byte(`{"status":"in_transit"}`)
		require.NoError(t, db.SaveShipment(ctx, again))
		byCode, err := db.GetShipmentByTrackingCode(ctx, "TRK1")
		require.NoError(t, err)
		assert.Equal(t, 2, byCode.Version)
		assert.JSONEq(t, `{"status":"in_transit"}`, string(byCode.LastWebhookData))
	})
}
