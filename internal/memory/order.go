package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.orders[o.ID]; exists {
		return domain.Conflict("memory.create_order", "order already exists")
	}
	o.Version = 1
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *Store) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrOrderNotFound, "memory.get_order")
	}
	return cloneOrder(o), nil
}

func (s *Store) GetOrderByItemToken(ctx context.Context, token string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if _, ok := o.ItemByToken(token); ok {
			return cloneOrder(o), nil
		}
	}
	return nil, domain.WithOp(domain.ErrTokenInvalid, "memory.get_order_by_token")
}

func (s *Store) SaveOrder(ctx context.Context, o *domain.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[o.ID]
	if !ok {
		return domain.WithOp(domain.ErrOrderNotFound, "memory.save_order")
	}
	if cur.Version != o.Version {
		return domain.WithOp(domain.ErrOrderVersion, "memory.save_order")
	}
	o.Version++
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

// ClaimItemToken mirrors the conditional UPDATE the database runs: only a
// pending item with an unexpired token moves.
func (s *Store) ClaimItemToken(ctx context.Context, token string, status domain.ItemStatus, now time.Time) (uuid.UUID, uuid.UUID, error) {
	const op = "memory.claim_item_token"
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		it, ok := o.ItemByToken(token)
		if !ok {
			continue
		}
		// Expiry wins over use, matching the postgres store.
		if !it.TokenExpiresAt.IsZero() && !now.Before(it.TokenExpiresAt) {
			return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
		}
		if it.Status != domain.ItemPending {
			return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenUsed, op)
		}
		it.Status = status
		it.UpdatedAt = now
		o.Version++
		return o.ID, it.ID, nil
	}
	return uuid.Nil, uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
}
