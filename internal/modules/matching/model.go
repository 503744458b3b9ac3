// README: Dispatch request and result for courier matching.
package matching

import (
	"dropchain/internal/modules/location"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

const (
	// defaultRadiusKm bounds the courier search around the pickup point.
	defaultRadiusKm = 3.0
	// selectPoolSize is how many nearby couriers are tried before giving up.
	selectPoolSize = 10
)

type DispatchCommand struct {
	OrderID  types.OrderID
	Actor    order.Actor
	Pickup   types.Point
	RadiusKm float64
	Options  order.CallOptions
}

type DispatchResult struct {
	Order   *order.Order
	Courier location.NearbyCourier
	// Skipped lists couriers that were nearby but could not take the order.
	Skipped []types.ID
}
