package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

func (s *Store) CreateBooking(ctx context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.bookings[b.ID]; exists {
		return domain.Conflict("memory.create_booking", "booking already exists")
	}
	b.Version = 1
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrBookingNotFound, "memory.get_booking")
	}
	return cloneBooking(b), nil
}

func (s *Store) GetBookingByToken(ctx context.Context, token string) (*domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ConfirmationToken == token {
			return cloneBooking(b), nil
		}
	}
	return nil, domain.WithOp(domain.ErrTokenInvalid, "memory.get_booking_by_token")
}

func (s *Store) SaveBooking(ctx context.Context, b *domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.bookings[b.ID]
	if !ok {
		return domain.WithOp(domain.ErrBookingNotFound, "memory.save_booking")
	}
	if cur.Version != b.Version {
		return domain.WithOp(domain.ErrBookingVersion, "memory.save_booking")
	}
	b.Version++
	s.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (s *Store) ClaimBookingToken(ctx context.Context, token string, status domain.BookingStatus, now time.Time) (uuid.UUID, error) {
	const op = "memory.claim_booking_token"
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.ConfirmationToken != token {
			continue
		}
		if !b.TokenExpiresAt.IsZero() && !now.Before(b.TokenExpiresAt) {
			return uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
		}
		if b.Status != domain.BookingPending {
			return uuid.Nil, domain.WithOp(domain.ErrTokenUsed, op)
		}
		b.Status = status
		b.UpdatedAt = now
		b.Version++
		return b.ID, nil
	}
	return uuid.Nil, domain.WithOp(domain.ErrTokenInvalid, op)
}

func (s *Store) CreateQuote(ctx context.Context, q *domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.quotes[q.ID]; exists {
		return domain.Conflict("memory.create_quote", "quote already exists")
	}
	q.Version = 1
	s.quotes[q.ID] = cloneQuote(q)
	return nil
}

func (s *Store) GetQuote(ctx context.Context, id uuid.UUID) (*domain.Quote, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quotes[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrQuoteNotFound, "memory.get_quote")
	}
	return cloneQuote(q), nil
}

func (s *Store) SaveQuote(ctx context.Context, q *domain.Quote) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.quotes[q.ID]
	if !ok {
		return domain.WithOp(domain.ErrQuoteNotFound, "memory.save_quote")
	}
	if cur.Version != q.Version {
		return domain.WithOp(domain.ErrQuoteVersion, "memory.save_quote")
	}
	q.Version++
	s.quotes[q.ID] = cloneQuote(q)
	return nil
}
