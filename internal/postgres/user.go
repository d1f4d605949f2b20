package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// GetUser returns a customer account.
func (db *DB) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	var u domain.User
	err := db.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, stripe_customer_id
		FROM users WHERE id = $1`, id).Scan(
		&u.ID, &u.Email, &u.FirstName, &u.LastName, &u.StripeCustomerID,
	)
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "postgres.get_user", "failed to get user")
	}
	return &u, nil
}

// SetStripeCustomerID records the gateway customer created for the user.
// An existing id is kept, so two concurrent checkouts settle on the first.
func (db *DB) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	tag, err := db.pool.Exec(ctx, `
		UPDATE users SET stripe_customer_id = $2
		WHERE id = $1 AND stripe_customer_id = ''`, id, customerID)
	if err != nil {
		return domain.Internal(err, "postgres.set_stripe_customer", "failed to save customer id")
	}
	if tag.RowsAffected() == 0 {
		if _, err := db.GetUser(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// UpsertUser inserts or replaces a user. Accounts are owned by the
// authentication gateway; seeding and tests use this.
func (db *DB) UpsertUser(ctx context.Context, u domain.User) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, stripe_customer_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			email = EXCLUDED.email, first_name = EXCLUDED.first_name,
			last_name = EXCLUDED.last_name`,
		u.ID, u.Email, u.FirstName, u.LastName, u.StripeCustomerID,
	)
	if err != nil {
		return domain.Internal(err, "postgres.upsert_user", "failed to save user")
	}
	return nil
}
