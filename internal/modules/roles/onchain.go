// README: Role registry read from the ledger contract.
package roles

import (
	"context"
	"fmt"
	"time"

	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

// LedgerRegistry is the query side of the ledger client.
type LedgerRegistry interface {
	HasRole(ctx context.Context, actor types.ID, role types.Role) (bool, error)
	CourierStatus(ctx context.Context, courier types.ID) (types.CourierStatus, error)
}

type Onchain struct {
	ledger  LedgerRegistry
	timeout time.Duration
}

var _ order.RoleProvider = (*Onchain)(nil)

func NewOnchain(ledger LedgerRegistry, timeout time.Duration) *Onchain {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Onchain{ledger: ledger, timeout: timeout}
}

func (r *Onchain) HasRole(ctx context.Context, actor types.ID, role types.Role) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	ok, err := r.ledger.HasRole(ctx, actor, role)
	if err != nil {
		return false, fmt.Errorf("ledger role %s of %s: %w", role, actor, err)
	}
	return ok, nil
}

func (r *Onchain) CourierStatus(ctx context.Context, courier types.ID) (types.CourierStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	st, err := r.ledger.CourierStatus(ctx, courier)
	if err != nil {
		return st, fmt.Errorf("ledger courier status of %s: %w", courier, err)
	}
	return st, nil
}
