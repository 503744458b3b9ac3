// README: Ledger client contract; every settlement-affecting action goes through here.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"dropchain/internal/types"
)

// JSON-RPC method names on the settlement contract gateway.
const (
	MethodCreate             = "dlv_createOrder"
	MethodConfirmPreparation = "dlv_confirmPreparation"
	MethodAssignCourier      = "dlv_assignCourier"
	MethodConfirmPickup      = "dlv_confirmPickup"
	MethodConfirmDelivery    = "dlv_confirmDelivery"
	MethodOpenDispute        = "dlv_openDispute"
	MethodResolveDispute     = "dlv_resolveDispute"
	MethodHasRole            = "dlv_hasRole"
	MethodCourierStatus      = "dlv_courierStatus"
	MethodVotingPower        = "dlv_votingPower"
)

var (
	ErrRejected    = errors.New("ledger rejected")
	ErrUnavailable = errors.New("ledger unavailable")
	ErrTimeout     = errors.New("ledger timeout")
)

// Error carries the failure kind plus whatever the ledger told us.
type Error struct {
	Kind    error
	Method  string
	Code    int64
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Method, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// IsTransient reports whether the outcome of the call is unknown rather than refused.
func IsTransient(err error) bool {
	return errors.Is(err, ErrUnavailable) || errors.Is(err, ErrTimeout)
}

type CreateRequest struct {
	// IdempotencyKey lets the ledger return the original receipt when a create is resubmitted.
	IdempotencyKey string   `json:"idempotencyKey"`
	Merchant       types.ID `json:"merchant"`
	GoodsAmount    int64    `json:"goodsAmount"`
	DeliveryFee    int64    `json:"deliveryFee"`
	DetailsRef     string   `json:"detailsRef"`
}

type CreateReceipt struct {
	OrderID types.OrderID `json:"orderId"`
	TxRef   string        `json:"txRef"`
}

type Receipt struct {
	TxRef string `json:"txRef"`
	// Synthetic receipts are produced locally in degraded mode and are owed to the ledger.
	Synthetic bool `json:"-"`
}

type Client interface {
	Create(ctx context.Context, req CreateRequest) (CreateReceipt, error)
	ConfirmPreparation(ctx context.Context, orderID types.OrderID) (Receipt, error)
	AssignCourier(ctx context.Context, orderID types.OrderID, courier types.ID) (Receipt, error)
	ConfirmPickup(ctx context.Context, orderID types.OrderID) (Receipt, error)
	ConfirmDelivery(ctx context.Context, orderID types.OrderID) (Receipt, error)
	OpenDispute(ctx context.Context, orderID types.OrderID, reason string) (Receipt, error)
	ResolveDispute(ctx context.Context, orderID types.OrderID, winner types.Role, refundPercent int) (Receipt, error)
}
