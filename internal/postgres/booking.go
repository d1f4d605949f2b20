package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dukerupert/chandlery/internal/domain"
)

// =============================================================================
// BOOKINGS
// =============================================================================

const bookingColumns = `id, customer_id, business_id, business_kind, service_name, notes,
	scheduled_at, service_price_cents, currency, service_price_usd_cents, conversion_rate,
	status, requires_quote, quote_status, quote_id, completed_status, rejection_reason,
	payment_status, paid_at, quote_amount_cents, platform_fee_cents, confirmation_token,
	token_expires_at, status_history, version, created_at, updated_at`

func (db *DB) CreateBooking(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.create_booking"
	_, err := db.pool.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, 1, $25, $26)`,
		b.ID, b.CustomerID, b.BusinessID, b.BusinessKind, b.ServiceName, b.Notes,
		b.ScheduledAt, b.ServicePriceCents, b.Currency, b.ServicePriceUSDCents, b.ConversionRate,
		b.Status, b.RequiresQuote, b.QuoteStatus, nullUUID(b.QuoteID), b.CompletedStatus,
		b.RejectionReason, b.PaymentStatus, b.PaidAt, b.QuoteAmountCents, b.PlatformFeeCents,
		b.ConfirmationToken, b.TokenExpiresAt, history(b.StatusHistory), b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "booking already exists")
		}
		return domain.Internal(err, op, "failed to create booking")
	}
	b.Version = 1
	return nil
}

func (db *DB) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	b, err := scanBooking(db.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrBookingNotFound, "postgres.get_booking", "failed to get booking")
	}
	return b, nil
}

func (db *DB) GetBookingByToken(ctx context.Context, token string) (*domain.Booking, error) {
	b, err := scanBooking(db.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE confirmation_token = $1`, token))
	if err != nil {
		return nil, notFound(err, domain.ErrTokenInvalid, "postgres.get_booking_by_token", "failed to look up token")
	}
	return b, nil
}

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var b domain.Booking
	var quoteID uuid.NullUUID
	err := row.Scan(
		&b.ID, &b.CustomerID, &b.BusinessID, &b.BusinessKind, &b.ServiceName, &b.Notes,
		&b.ScheduledAt, &b.ServicePriceCents, &b.Currency, &b.ServicePriceUSDCents, &b.ConversionRate,
		&b.Status, &b.RequiresQuote, &b.QuoteStatus, &quoteID, &b.CompletedStatus, &b.RejectionReason,
		&b.PaymentStatus, &b.PaidAt, &b.QuoteAmountCents, &b.PlatformFeeCents, &b.ConfirmationToken,
		&b.TokenExpiresAt, &b.StatusHistory, &b.Version, &b.CreatedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.QuoteID = quoteID.UUID
	return &b, nil
}

// SaveBooking writes b when its Version still matches, then advances it.
func (db *DB) SaveBooking(ctx context.Context, b *domain.Booking) error {
	const op = "postgres.save_booking"
	tag, err := db.pool.Exec(ctx, `
		UPDATE bookings SET status = $3, quote_status = $4, quote_id = $5,
			completed_status = $6, rejection_reason = $7, payment_status = $8, paid_at = $9,
			quote_amount_cents = $10, platform_fee_cents = $11, service_price_usd_cents = $12,
			conversion_rate = $13, status_history = $14, version = version + 1, updated_at = $15
		WHERE id = $1 AND version = $2`,
		b.ID, b.Version, b.Status, b.QuoteStatus, nullUUID(b.QuoteID),
		b.CompletedStatus, b.RejectionReason, b.PaymentStatus, b.PaidAt,
		b.QuoteAmountCents, b.PlatformFeeCents, b.ServicePriceUSDCents,
		b.ConversionRate, history(b.StatusHistory), b.UpdatedAt,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to save booking")
	}
	if tag.RowsAffected() == 0 {
		return versionMiss(ctx, db.pool, "bookings", b.ID, domain.ErrBookingNotFound, domain.ErrBookingVersion, op)
	}
	b.Version++
	return nil
}

// ClaimBookingToken moves a pending booking with an unexpired token in a
// single conditional update.
func (db *DB) ClaimBookingToken(ctx context.Context, token string, status domain.BookingStatus, now time.Time) (uuid.UUID, error) {
	const op = "postgres.claim_booking_token"
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `
		UPDATE bookings SET status = $2, updated_at = $3, version = version + 1
		WHERE confirmation_token = $1 AND status = 'pending' AND token_expires_at > $3
		RETURNING id`, token, status, now).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, domain.Internal(err, op, "failed to claim token")
	}

	var current domain.BookingStatus
	var expiresAt time.Time
	err = db.pool.QueryRow(ctx, `
		SELECT status, token_expires_at FROM bookings
		WHERE confirmation_token = $1`, token).Scan(&current, &expiresAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	case err != nil:
		return uuid.Nil, domain.Internal(err, op, "failed to read token")
	case !now.Before(expiresAt):
		return uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	case current != domain.BookingPending:
		return uuid.Nil, domain.WithOp(domain.ErrTokenUsed, op)
	default:
		return uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
	}
}

// =============================================================================
// QUOTES
// =============================================================================

func (db *DB) CreateQuote(ctx context.Context, q *domain.Quote) error {
	const op = "postgres.create_quote"
	_, err := db.pool.Exec(ctx, `
		INSERT INTO quotes (id, booking_id, business_id, services, status, amount_cents,
			quote_amount_cents, platform_fee_cents, rates_locked_at, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`,
		q.ID, q.BookingID, q.BusinessID, quoteItems(q.Services), q.Status, q.AmountCents,
		q.QuoteAmountCents, q.PlatformFeeCents, q.RatesLockedAt, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.Conflict(op, "booking already has a quote")
		}
		return domain.Internal(err, op, "failed to create quote")
	}
	q.Version = 1
	return nil
}

func (db *DB) GetQuote(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	var q domain.Quote
	err := db.pool.QueryRow(ctx, `
		SELECT id, booking_id, business_id, services, status, amount_cents,
			quote_amount_cents, platform_fee_cents, rates_locked_at, version, created_at, updated_at
		FROM quotes WHERE id = $1`, id).Scan(
		&q.ID, &q.BookingID, &q.BusinessID, &q.Services, &q.Status, &q.AmountCents,
		&q.QuoteAmountCents, &q.PlatformFeeCents, &q.RatesLockedAt, &q.Version, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrQuoteNotFound, "postgres.get_quote", "failed to get quote")
	}
	return &q, nil
}

// SaveQuote writes q when its Version still matches, then advances it.
func (db *DB) SaveQuote(ctx context.Context, q *domain.Quote) error {
	const op = "postgres.save_quote"
	tag, err := db.pool.Exec(ctx, `
		UPDATE quotes SET services = $3, status = $4, amount_cents = $5,
			quote_amount_cents = $6, platform_fee_cents = $7, rates_locked_at = $8,
			version = version + 1, updated_at = $9
		WHERE id = $1 AND version = $2`,
		q.ID, q.Version, quoteItems(q.Services), q.Status, q.AmountCents,
		q.QuoteAmountCents, q.PlatformFeeCents, q.RatesLockedAt, q.UpdatedAt,
	)
	if err != nil {
		return domain.Internal(err, op, "failed to save quote")
	}
	if tag.RowsAffected() == 0 {
		return versionMiss(ctx, db.pool, "quotes", q.ID, domain.ErrQuoteNotFound, domain.ErrQuoteVersion, op)
	}
	q.Version++
	return nil
}

func quoteItems(items []domain.QuoteItem) []domain.QuoteItem {
	if items == nil {
		return []domain.QuoteItem{}
	}
	return items
}
