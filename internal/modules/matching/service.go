// README: Matching service assigns the nearest eligible courier to a prepared order.
package matching

import (
	"context"
	"errors"
	"fmt"

	"dropchain/internal/log"
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

var ErrNoCourier = errors.New("no eligible courier nearby")

type CourierFinder interface {
	NearbyCouriers(ctx context.Context, center types.Point, radiusKm float64) ([]location.NearbyCourier, error)
}

type OrderAssigner interface {
	AssignCourier(ctx context.Context, cmd order.AssignCourierCommand) (*order.Order, error)
}

type AttemptLog interface {
	RecordAttempt(ctx context.Context, orderID types.OrderID, couriers ...types.ID) error
	Attempted(ctx context.Context, orderID types.OrderID) (map[types.ID]bool, error)
}

type Service struct {
	finder   CourierFinder
	order    OrderAssigner
	attempts AttemptLog
}

func NewService(finder CourierFinder, order OrderAssigner, attempts AttemptLog) *Service {
	return &Service{finder: finder, order: order, attempts: attempts}
}

// Dispatch walks the nearby available couriers closest first and assigns the
// first one the order service accepts. Couriers rejected as ineligible are
// remembered so a later dispatch for the same order skips them.
func (s *Service) Dispatch(ctx context.Context, cmd DispatchCommand) (DispatchResult, error) {
	radius := cmd.RadiusKm
	if radius <= 0 {
		radius = defaultRadiusKm
	}
	nearby, err := s.finder.NearbyCouriers(ctx, cmd.Pickup, radius)
	if err != nil {
		return DispatchResult{}, fmt.Errorf("find couriers: %w", err)
	}
	tried := map[types.ID]bool{}
	if s.attempts != nil {
		if tried, err = s.attempts.Attempted(ctx, cmd.OrderID); err != nil {
			log.L(ctx).WithError(err).Warn("dispatch attempt log unavailable")
			tried = map[types.ID]bool{}
		}
	}

	var res DispatchResult
	defer func() { s.remember(ctx, cmd.OrderID, res.Skipped) }()
	for n, c := range nearby {
		if n >= selectPoolSize {
			break
		}
		if tried[c.CourierID] {
			continue
		}
		o, err := s.order.AssignCourier(ctx, order.AssignCourierCommand{
			OrderID:   cmd.OrderID,
			Actor:     cmd.Actor,
			CourierID: c.CourierID,
			Options:   cmd.Options,
		})
		if errors.Is(err, order.ErrCourierIneligible) {
			res.Skipped = append(res.Skipped, c.CourierID)
			continue
		}
		if err != nil {
			return res, err
		}
		res.Order = o
		res.Courier = c
		log.L(ctx).WithField("courier", c.CourierID).Infof("order %d dispatched at %.2f km", cmd.OrderID, c.DistanceKm)
		return res, nil
	}
	return res, fmt.Errorf("%w: order %d within %.1f km", ErrNoCourier, cmd.OrderID, radius)
}

func (s *Service) remember(ctx context.Context, orderID types.OrderID, skipped []types.ID) {
	if s.attempts == nil || len(skipped) == 0 {
		return
	}
	if err := s.attempts.RecordAttempt(ctx, orderID, skipped...); err != nil {
		log.L(ctx).WithError(err).Warn("record dispatch attempts")
	}
}
