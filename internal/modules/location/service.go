// README: Location service keeps the courier's live position for tracking and dispatch.
package location

import (
	"context"
	"time"

	"dropchain/internal/types"
)

type Service struct {
	store *Store
	now   func() time.Time
}

func NewService(store *Store) *Service {
	return &Service{store: store, now: time.Now}
}

// SetCourierPosition records the latest fix of a courier on an order.
func (s *Service) SetCourierPosition(ctx context.Context, courier types.ID, orderID types.OrderID, p types.Point) error {
	return s.store.SetPosition(ctx, Position{
		CourierID: courier,
		OrderID:   orderID,
		Point:     p,
		UpdatedAt: s.now().UTC(),
	})
}

func (s *Service) CourierPosition(ctx context.Context, courier types.ID) (Position, error) {
	return s.store.Position(ctx, courier)
}

// NearbyCouriers lists available couriers around center, closest first.
func (s *Service) NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64) ([]NearbyCourier, error) {
	if radiusKm <= 0 {
		radiusKm = 3
	}
	out, err := s.store.Nearby(ctx, center, radiusKm)
	if err != nil {
		return nil, err
	}
	sortByDistance(out, func(c NearbyCourier) float64 { return c.DistanceKm })
	return out, nil
}
