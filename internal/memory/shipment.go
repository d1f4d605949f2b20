package memory

import (
	"context"

	"github.com/google/uuid"

	"github.com/dukerupert/chandlery/internal/domain"
)

// CreateShipment keeps one shipment per (order, business), like the unique
// index in the database.
func (s *Store) CreateShipment(ctx context.Context, sh *domain.Shipment) (*domain.Shipment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.shipmentSeq {
		cur := s.shipments[id]
		if cur.OrderID == sh.OrderID && cur.BusinessID == sh.BusinessID {
			return cloneShipment(cur), false, nil
		}
	}
	sh.Version = 1
	s.shipments[sh.ID] = cloneShipment(sh)
	s.shipmentSeq = append(s.shipmentSeq, sh.ID)
	return sh, true, nil
}

func (s *Store) GetShipment(ctx context.Context, id uuid.UUID) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sh, ok := s.shipments[id]
	if !ok {
		return nil, domain.WithOp(domain.ErrShipmentNotFound, "memory.get_shipment")
	}
	return cloneShipment(sh), nil
}

func (s *Store) GetShipmentForBusiness(ctx context.Context, orderID, businessID uuid.UUID) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sh := range s.shipments {
		if sh.OrderID == orderID && sh.BusinessID == businessID {
			return cloneShipment(sh), nil
		}
	}
	return nil, domain.WithOp(domain.ErrShipmentNotFound, "memory.get_shipment_for_business")
}

func (s *Store) GetShipmentByTrackingCode(ctx context.Context, code string) (*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if code != "" {
		for _, sh := range s.shipments {
			if sh.TrackingCode == code {
				return cloneShipment(sh), nil
			}
		}
	}
	return nil, domain.WithOp(domain.ErrShipmentNotFound, "memory.get_shipment_by_tracking_code")
}

func (s *Store) ListShipmentsForOrder(ctx context.Context, orderID uuid.UUID) ([]*domain.Shipment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.Shipment
	for _, id := range s.shipmentSeq {
		if sh := s.shipments[id]; sh.OrderID == orderID {
			out = append(out, cloneShipment(sh))
		}
	}
	return out, nil
}

func (s *Store) SaveShipment(ctx context.Context, sh *domain.Shipment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.shipments[sh.ID]
	if !ok {
		return domain.WithOp(domain.ErrShipmentNotFound, "memory.save_shipment")
	}
	if cur.Version != sh.Version {
		return domain.WithOp(domain.ErrShipmentVersion, "memory.save_shipment")
	}
	sh.Version++
	s.shipments[sh.ID] = cloneShipment(sh)
	return nil
}

// Notifications

func (s *Store) CreateNotification(ctx context.Context, n *domain.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	s.notifications[n.RecipientID] = append(s.notifications[n.RecipientID], *n)
	return nil
}

// ListNotifications returns the newest notifications first.
func (s *Store) ListNotifications(ctx context.Context, recipientID uuid.UUID, limit int) ([]domain.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := s.notifications[recipientID]
	out := make([]domain.Notification, 0, len(all))
	for i := len(all) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, all[i])
	}
	return out, nil
}
