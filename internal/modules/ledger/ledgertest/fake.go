// Package ledgertest provides an in-memory ledger for exercising the state
// machine and arbitration engine without a chain.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"dropchain/internal/modules/ledger"
	"dropchain/internal/types"
)

type Resolution struct {
	OrderID       types.OrderID
	Winner        types.Role
	RefundPercent int
}

type Ledger struct {
	mu       sync.Mutex
	nextID   int64
	txSeq    int64
	created  map[string]ledger.CreateReceipt
	calls    map[string]int
	failures map[string][]error

	// When set, ResolveDispute signals ResolveEntered and then blocks until
	// ResolveGate is closed (or the context ends).
	ResolveGate    chan struct{}
	ResolveEntered chan struct{}

	resolutions []Resolution
}

var _ ledger.Client = (*Ledger)(nil)

func New() *Ledger {
	return &Ledger{
		nextID:   100,
		created:  map[string]ledger.CreateReceipt{},
		calls:    map[string]int{},
		failures: map[string][]error{},
	}
}

// FailNext queues errors returned by the next calls to method, in order.
func (l *Ledger) FailNext(method string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[method] = append(l.failures[method], errs...)
}

// SetNextOrderID forces the id the next fresh create is assigned.
func (l *Ledger) SetNextOrderID(id types.OrderID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID = int64(id)
}

// Forget drops the idempotency record of key, as a ledger that lost its dedupe index would.
func (l *Ledger) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.created, key)
}

func (l *Ledger) Calls(method string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls[method]
}

func (l *Ledger) Resolutions() []Resolution {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Resolution(nil), l.resolutions...)
}

func (l *Ledger) Unavailable(method string) error {
	return &ledger.Error{Kind: ledger.ErrUnavailable, Method: method}
}

func (l *Ledger) Timeout(method string) error {
	return &ledger.Error{Kind: ledger.ErrTimeout, Method: method}
}

func (l *Ledger) Rejected(method, msg string) error {
	return &ledger.Error{Kind: ledger.ErrRejected, Method: method, Message: msg}
}

// begin records the call and pops a queued failure; must be called with lock held.
func (l *Ledger) begin(method string) error {
	l.calls[method]++
	if q := l.failures[method]; len(q) > 0 {
		l.failures[method] = q[1:]
		return q[0]
	}
	return nil
}

func (l *Ledger) tx() string {
	l.txSeq++
	return fmt.Sprintf("0x%064x", l.txSeq)
}

func (l *Ledger) Create(_ context.Context, req ledger.CreateRequest) (ledger.CreateReceipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ledger.MethodCreate); err != nil {
		return ledger.CreateReceipt{}, err
	}
	if rec, ok := l.created[req.IdempotencyKey]; ok && req.IdempotencyKey != "" {
		return rec, nil
	}
	rec := ledger.CreateReceipt{OrderID: types.OrderID(l.nextID), TxRef: l.tx()}
	l.nextID++
	l.created[req.IdempotencyKey] = rec
	return rec, nil
}

func (l *Ledger) simple(method string) (ledger.Receipt, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(method); err != nil {
		return ledger.Receipt{}, err
	}
	return ledger.Receipt{TxRef: l.tx()}, nil
}

func (l *Ledger) ConfirmPreparation(_ context.Context, _ types.OrderID) (ledger.Receipt, error) {
	return l.simple(ledger.MethodConfirmPreparation)
}

func (l *Ledger) AssignCourier(_ context.Context, _ types.OrderID, _ types.ID) (ledger.Receipt, error) {
	return l.simple(ledger.MethodAssignCourier)
}

func (l *Ledger) ConfirmPickup(_ context.Context, _ types.OrderID) (ledger.Receipt, error) {
	return l.simple(ledger.MethodConfirmPickup)
}

func (l *Ledger) ConfirmDelivery(_ context.Context, _ types.OrderID) (ledger.Receipt, error) {
	return l.simple(ledger.MethodConfirmDelivery)
}

func (l *Ledger) OpenDispute(_ context.Context, _ types.OrderID, _ string) (ledger.Receipt, error) {
	return l.simple(ledger.MethodOpenDispute)
}

func (l *Ledger) ResolveDispute(ctx context.Context, orderID types.OrderID, winner types.Role, refundPercent int) (ledger.Receipt, error) {
	if l.ResolveGate != nil {
		if l.ResolveEntered != nil {
			l.ResolveEntered <- struct{}{}
		}
		select {
		case <-l.ResolveGate:
		case <-ctx.Done():
			l.mu.Lock()
			l.calls[ledger.MethodResolveDispute]++
			l.mu.Unlock()
			return ledger.Receipt{}, &ledger.Error{Kind: ledger.ErrTimeout, Method: ledger.MethodResolveDispute, Err: ctx.Err()}
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.begin(ledger.MethodResolveDispute); err != nil {
		return ledger.Receipt{}, err
	}
	l.resolutions = append(l.resolutions, Resolution{OrderID: orderID, Winner: winner, RefundPercent: refundPercent})
	return ledger.Receipt{TxRef: l.tx()}, nil
}
