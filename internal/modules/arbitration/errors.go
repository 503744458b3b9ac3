package arbitration

import (
	"errors"
	"fmt"

	"dropchain/internal/types"
)

var (
	ErrAlreadyVoted         = errors.New("voter already voted on this dispute")
	ErrDisputeNotOpen       = errors.New("dispute not open")
	ErrResolutionInProgress = errors.New("dispute resolution in progress")
	ErrNotResolvable        = errors.New("dispute does not meet the resolution condition")
	ErrDisputeNotFound      = errors.New("dispute not found")
	ErrInvalidVote          = errors.New("invalid vote")
)

type Error struct {
	Kind      error
	DisputeID types.OrderID
	State     State
	Detail    string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("dispute %d: %s", e.DisputeID, e.Kind)
	if e.State != "" {
		msg += fmt.Sprintf(" (state=%s)", e.State)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

func newError(kind error, d *Dispute, detail string) *Error {
	e := &Error{Kind: kind, Detail: detail}
	if d != nil {
		e.DisputeID = d.ID
		e.State = d.State
	}
	return e
}
