// README: Dispute state, votes and the tally rules that decide when a dispute may resolve.
package arbitration

import (
	"time"

	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type State string

const (
	StateOpen      State = "open"
	StateResolving State = "resolving"
	StateResolved  State = "resolved"
)

// Outcome names the party a dispute is decided for.
type Outcome = types.Role

var outcomes = []Outcome{types.RoleClient, types.RoleMerchant, types.RoleCourier}

type Vote struct {
	DisputeID types.OrderID
	Voter     string
	Outcome   Outcome
	Power     int64
	CastAt    time.Time
}

// Tally is the summed voting power per outcome, maintained as votes arrive.
type Tally struct {
	Client   int64 `json:"client"`
	Merchant int64 `json:"merchant"`
	Courier  int64 `json:"courier"`
}

func (t *Tally) Add(o Outcome, power int64) {
	switch o {
	case types.RoleClient:
		t.Client += power
	case types.RoleMerchant:
		t.Merchant += power
	case types.RoleCourier:
		t.Courier += power
	}
}

func (t Tally) Of(o Outcome) int64 {
	switch o {
	case types.RoleClient:
		return t.Client
	case types.RoleMerchant:
		return t.Merchant
	case types.RoleCourier:
		return t.Courier
	}
	return 0
}

func (t Tally) Total() int64 {
	return t.Client + t.Merchant + t.Courier
}

// Leading returns the outcome with the largest tally, or nil when the maximum
// is shared or nothing has been cast.
func (t Tally) Leading() *Outcome {
	var (
		best  Outcome
		top   int64
		tied  bool
		found bool
	)
	for _, o := range outcomes {
		v := t.Of(o)
		switch {
		case v == 0:
		case !found || v > top:
			best, top, tied, found = o, v, false, true
		case v == top:
			tied = true
		}
	}
	if !found || tied {
		return nil
	}
	return &best
}

// Resolvable holds once quorum is met and the leader has an absolute majority.
func (t Tally) Resolvable(quorum int64) bool {
	lead := t.Leading()
	if lead == nil || t.Total() < quorum {
		return false
	}
	win := t.Of(*lead)
	return win > t.Total()-win
}

type Dispute struct {
	ID              types.OrderID
	State           State
	Tally           Tally
	Outcome         *Outcome
	RefundPercent   *int
	ResolutionTxRef *string
	// OrderFinalized is set once the order has left disputed.
	OrderFinalized bool
	OpenedAt       time.Time
	ResolvedAt     *time.Time
}

func (d *Dispute) Clone() *Dispute {
	c := *d
	if d.Outcome != nil {
		o := *d.Outcome
		c.Outcome = &o
	}
	if d.RefundPercent != nil {
		p := *d.RefundPercent
		c.RefundPercent = &p
	}
	if d.ResolutionTxRef != nil {
		r := *d.ResolutionTxRef
		c.ResolutionTxRef = &r
	}
	if d.ResolvedAt != nil {
		at := *d.ResolvedAt
		c.ResolvedAt = &at
	}
	return &c
}

// Settlement is the instruction sent to the ledger for a decided dispute.
type Settlement struct {
	Winner        Outcome
	RefundPercent int
	OrderOutcome  order.Status
}

// Settle maps a winning outcome to the refund the client receives and the
// order's final status. A client win voids the order.
func Settle(winner Outcome, clientRefundPercent int) Settlement {
	if winner == types.RoleClient {
		return Settlement{Winner: winner, RefundPercent: clientRefundPercent, OrderOutcome: order.StatusVoided}
	}
	return Settlement{Winner: winner, RefundPercent: 0, OrderOutcome: order.StatusDelivered}
}
