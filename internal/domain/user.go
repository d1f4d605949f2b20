package domain

import (
	"context"

	"github.com/google/uuid"
)

// User is a crew member purchasing goods or booking services.
type User struct {
	ID        uuid.UUID
	Email     string
	FirstName string
	LastName  string

	// StripeCustomerID is created lazily the first time an invoice is raised.
	StripeCustomerID string
}

// FullName returns a display name for emails.
func (u *User) FullName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	default:
		return u.Email
	}
}

// UserRepository reads customers and records their gateway customer ids.
type UserRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}
