// README: Projection contract plus the collaborators the state machine consumes.
package order

import (
	"context"

	"dropchain/internal/types"
)

// Mutation edits a copy of the current order inside the store's serialization
// point. Returning an error aborts the transition.
type Mutation func(o *Order) error

// Projection is the off-chain record of orders. Every write is a
// compare-and-set; there is no blind update.
type Projection interface {
	Get(ctx context.Context, id types.OrderID) (*Order, error)
	// CreateIfAbsent inserts o unless an order with the same id exists, in
	// which case the existing record is returned with created=false.
	CreateIfAbsent(ctx context.Context, o *Order) (rec *Order, created bool, err error)
	// TransitionIfCurrent applies mut only when the stored status equals
	// expected, atomically. applied=false returns the current record.
	TransitionIfCurrent(ctx context.Context, id types.OrderID, expected Status, mut Mutation) (rec *Order, applied bool, err error)
	// AppendGPS fails with ErrNotInDelivery unless the order is in delivery.
	AppendGPS(ctx context.Context, id types.OrderID, s types.Sample) error
	Trail(ctx context.Context, id types.OrderID) ([]types.Sample, error)
	AppendEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, id types.OrderID) ([]Event, error)
	ReconciliationDebts(ctx context.Context) ([]Event, error)
}

// RoleProvider answers role membership and courier eligibility from whichever
// registry backs it (off-chain tables or the ledger).
type RoleProvider interface {
	HasRole(ctx context.Context, actor types.ID, role types.Role) (bool, error)
	CourierStatus(ctx context.Context, courier types.ID) (types.CourierStatus, error)
}

// Notifier is informed of every committed transition. Failures never roll back.
type Notifier interface {
	Notify(ctx context.Context, orderID types.OrderID, status Status, payload map[string]string) error
}

// Tracker receives the courier's latest position for live tracking.
type Tracker interface {
	SetCourierPosition(ctx context.Context, courier types.ID, orderID types.OrderID, p types.Point) error
}
