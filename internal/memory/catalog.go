package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// PutUser inserts or replaces a user.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = &u
}

// PutBusiness inserts or replaces a business.
func (s *Store) PutBusiness(b domain.Business) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.businesses[b.ID] = &b
}

// PutProduct inserts or replaces a product.
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = &p
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrUserNotFound, "memory.get_user")
	}
	out := *u
	return &out, nil
}

func (s *Store) SetStripeCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return domain.WithOp(domain.ErrUserNotFound, "memory.set_stripe_customer")
	}
	u.StripeCustomerID = customerID
	return nil
}

func (s *Store) GetProduct(ctx context.Context, id uuid.UUID) (*domain.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrProductNotFound, "memory.get_product")
	}
	out := *p
	return &out, nil
}

func (s *Store) GetBusiness(ctx context.Context, id uuid.UUID) (*domain.Business, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.businesses[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrBusinessNotFound, "memory.get_business")
	}
	out := *b
	return &out, nil
}

// Decrement lowers stock by qty, flooring at zero, and returns the units removed.
func (s *Store) Decrement(ctx context.Context, productID uuid.UUID, qty int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, domain.WithOp(domain.ErrProductNotFound, "memory.decrement")
	}
	removed := min(max(p.StockQuantity, 0), qty)
	p.StockQuantity -= removed
	return removed, nil
}

// Increment raises stock by qty.
func (s *Store) Increment(ctx context.Context, productID uuid.UUID, qty int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return domain.WithOp(domain.ErrProductNotFound, "memory.increment")
	}
	p.StockQuantity += qty
	return nil
}

func (s *Store) Quantity(ctx context.Context, productID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[productID]
	if !ok {
		return 0, domain.WithOp(domain.ErrProductNotFound, "memory.quantity")
	}
	return p.StockQuantity, nil
}
