// README: Order aggregate, status definitions and the transition table.
package order

import (
	"math"
	"time"

	"dropchain/internal/types"
)

type Status string

const (
	StatusNone       Status = "none"
	StatusCreated    Status = "created"
	StatusPreparing  Status = "preparing"
	StatusInDelivery Status = "in_delivery"
	StatusDelivered  Status = "delivered"
	StatusDisputed   Status = "disputed"
	StatusVoided     Status = "voided"
)

type LineItem struct {
	Name      string `json:"name"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// Breakdown amounts are in the ledger's smallest unit.
type Breakdown struct {
	Goods       int64  `json:"goods_amount"`
	DeliveryFee int64  `json:"delivery_fee"`
	PlatformFee int64  `json:"platform_fee"`
	Total       int64  `json:"total_amount"`
	Currency    string `json:"currency"`
}

// Balanced reports whether all amounts are non-negative, the total is
// positive and equals goods + delivery fee + platform fee without overflow.
func (b Breakdown) Balanced() bool {
	if b.Goods < 0 || b.DeliveryFee < 0 || b.PlatformFee < 0 || b.Total <= 0 {
		return false
	}
	sum, ok := addAmount(b.Goods, b.DeliveryFee)
	if !ok {
		return false
	}
	sum, ok = addAmount(sum, b.PlatformFee)
	return ok && sum == b.Total
}

// addAmount and mulAmount take non-negative operands and report false when
// the result does not fit in an int64.
func addAmount(a, b int64) (int64, bool) {
	if a > math.MaxInt64-b {
		return 0, false
	}
	return a + b, true
}

func mulAmount(a, b int64) (int64, bool) {
	if a != 0 && b > math.MaxInt64/a {
		return 0, false
	}
	return a * b, true
}

type Order struct {
	ID                 types.OrderID
	LedgerTxRef        string
	ClientID           types.ID
	MerchantID         types.ID
	CourierID          *types.ID
	LineItems          []LineItem
	Breakdown          Breakdown
	Status             Status
	StatusVersion      int
	DisputeReason      *string
	DisputeEvidenceRef *string
	DisputedFrom       *Status
	CreatedAt          time.Time
	PreparingAt        *time.Time
	AssignedAt         *time.Time
	PickedUpAt         *time.Time
	DisputedAt         *time.Time
	CompletedAt        *time.Time
	ResolvedAt         *time.Time
}

// IsCourier reports whether id is the courier assigned to the order.
func (o *Order) IsCourier(id types.ID) bool {
	return o.CourierID != nil && *o.CourierID == id
}

func (o *Order) Clone() *Order {
	c := *o
	c.LineItems = append([]LineItem(nil), o.LineItems...)
	c.CourierID = clonePtr(o.CourierID)
	c.DisputeReason = clonePtr(o.DisputeReason)
	c.DisputeEvidenceRef = clonePtr(o.DisputeEvidenceRef)
	c.DisputedFrom = clonePtr(o.DisputedFrom)
	c.PreparingAt = clonePtr(o.PreparingAt)
	c.AssignedAt = clonePtr(o.AssignedAt)
	c.PickedUpAt = clonePtr(o.PickedUpAt)
	c.DisputedAt = clonePtr(o.DisputedAt)
	c.CompletedAt = clonePtr(o.CompletedAt)
	c.ResolvedAt = clonePtr(o.ResolvedAt)
	return &c
}

// keepImmutable restores the fields no transition may change.
func keepImmutable(dst, src *Order) {
	dst.ID = src.ID
	dst.LedgerTxRef = src.LedgerTxRef
	dst.ClientID = src.ClientID
	dst.MerchantID = src.MerchantID
	dst.LineItems = append([]LineItem(nil), src.LineItems...)
	dst.Breakdown = src.Breakdown
	dst.CreatedAt = src.CreatedAt
	dst.StatusVersion = src.StatusVersion
}

// Event is one committed transition in the audit trail. Synthetic events were
// committed on a locally synthesized receipt and are owed to the ledger.
type Event struct {
	ID          int64
	OrderID     types.OrderID
	FromStatus  Status
	ToStatus    Status
	ActorType   types.Role
	ActorID     *types.ID
	LedgerTxRef string
	Synthetic   bool
	CreatedAt   time.Time
}

// AllowedTransitions represents the order state flow (diagram) as code.
// in_delivery -> in_delivery is the pickup confirmation.
var AllowedTransitions = map[Status][]Status{
	StatusNone:       {StatusCreated},
	StatusCreated:    {StatusPreparing},
	StatusPreparing:  {StatusInDelivery, StatusDisputed},
	StatusInDelivery: {StatusInDelivery, StatusDelivered, StatusDisputed},
	StatusDisputed:   {StatusDelivered, StatusVoided},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
