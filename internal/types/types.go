// README: Common value objects shared across modules (ids, roles, coordinates).
package types

import "time"

// ID references an actor (client, merchant, courier, platform operator).
type ID string

// OrderID is assigned by the ledger and is the join key with the projection.
type OrderID int64

// Role is the part an actor plays on an order. Client, merchant and courier
// are also the outcomes a dispute can be decided for.
type Role string

const (
	RoleClient      Role = "client"
	RoleMerchant    Role = "merchant"
	RoleCourier     Role = "courier"
	RolePlatform    Role = "platform"
	RoleArbitration Role = "arbitration"
)

// IsParty reports whether r is one of the three parties that can win a dispute.
func (r Role) IsParty() bool {
	return r == RoleClient || r == RoleMerchant || r == RoleCourier
}

type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Sample is one GPS fix reported by a courier.
type Sample struct {
	Point
	RecordedAt time.Time `json:"recorded_at"`
}

// CourierStatus is what assignment needs to know about a courier.
type CourierStatus struct {
	Available bool `json:"available"`
	Staked    bool `json:"staked"`
}
