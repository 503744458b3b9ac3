package order

import (
	"errors"
	"fmt"

	"dropchain/internal/types"
)

var (
	ErrStateConflict     = errors.New("order state conflict")
	ErrUnauthorized      = errors.New("actor not authorized for this order action")
	ErrDuplicateOrderID  = errors.New("ledger order id already projected from a different transaction")
	ErrNotInDelivery     = errors.New("order not in delivery")
	ErrNotFound          = errors.New("order not found")
	ErrBadRequest        = errors.New("bad request")
	ErrCourierIneligible = errors.New("courier not available or not staked")
)

// Error carries the failure kind together with the last known status so the
// caller can decide whether to refetch, retry or escalate. Kind may also be a
// ledger error.
type Error struct {
	Kind    error
	OrderID types.OrderID
	Status  Status
	Detail  string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("order %d: %s", e.OrderID, e.Kind)
	if e.Status != "" {
		msg += fmt.Sprintf(" (status=%s)", e.Status)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, o *Order, detail string) *Error {
	e := &Error{Kind: kind, Detail: detail}
	if o != nil {
		e.OrderID = o.ID
		e.Status = o.Status
	}
	return e
}

// StatusOf extracts the last known status from an order error, if any.
func StatusOf(err error) (Status, bool) {
	var oe *Error
	if errors.As(err, &oe) && oe.Status != "" {
		return oe.Status, true
	}
	return "", false
}
