package arbitration

import (
	"context"

	"dropchain/internal/types"
)

// Store persists disputes and votes. Vote recording and state changes are
// serialized per dispute; different disputes never contend.
type Store interface {
	CreateIfAbsent(ctx context.Context, d *Dispute) (rec *Dispute, created bool, err error)
	Get(ctx context.Context, id types.OrderID) (*Dispute, error)
	// RecordVote inserts v and adds its power to the tally atomically. It
	// fails with ErrDisputeNotOpen or ErrAlreadyVoted.
	RecordVote(ctx context.Context, v Vote) (*Dispute, error)
	// TransitionIfState applies mut when the stored state equals expected.
	// applied=false returns the current record.
	TransitionIfState(ctx context.Context, id types.OrderID, expected State, mut func(d *Dispute)) (rec *Dispute, applied bool, err error)
	MarkFinalized(ctx context.Context, id types.OrderID) error
	Votes(ctx context.Context, id types.OrderID) ([]Vote, error)
	// Pending lists disputes the resolver should look at: open ones and
	// resolved ones whose order was not finalized.
	Pending(ctx context.Context) ([]*Dispute, error)
}
