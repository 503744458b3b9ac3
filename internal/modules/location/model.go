// README: Live courier position as kept in Redis.
package location

import (
	"time"

	"dropchain/internal/types"
)

type Position struct {
	CourierID types.ID      `json:"courier_id"`
	OrderID   types.OrderID `json:"order_id"`
	Point     types.Point   `json:"point"`
	UpdatedAt time.Time     `json:"updated_at"`
}

type NearbyCourier struct {
	CourierID  types.ID `json:"courier_id"`
	DistanceKm float64  `json:"distance_km"`
}
