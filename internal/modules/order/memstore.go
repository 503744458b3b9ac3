// README: In-memory projection with per-order locking; used by tests and the memory store driver.
package order

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"dropchain/internal/types"
)

type memEntry struct {
	mu     sync.Mutex
	order  *Order
	trail  []types.Sample
	events []Event
}

// MemoryStore holds one lock per order; distinct orders never contend.
type MemoryStore struct {
	orders   sync.Map // types.OrderID -> *memEntry
	eventSeq atomic.Int64
}

var _ Projection = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) entry(id types.OrderID) (*memEntry, error) {
	v, ok := m.orders.Load(id)
	if !ok {
		return nil, &Error{Kind: ErrNotFound, OrderID: id}
	}
	return v.(*memEntry), nil
}

func (m *MemoryStore) Get(_ context.Context, id types.OrderID) (*Order, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), nil
}

func (m *MemoryStore) CreateIfAbsent(_ context.Context, o *Order) (*Order, bool, error) {
	fresh := &memEntry{order: o.Clone()}
	fresh.mu.Lock()
	defer fresh.mu.Unlock()

	v, loaded := m.orders.LoadOrStore(o.ID, fresh)
	if !loaded {
		return fresh.order.Clone(), true, nil
	}
	e := v.(*memEntry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.order.Clone(), false, nil
}

func (m *MemoryStore) TransitionIfCurrent(_ context.Context, id types.OrderID, expected Status, mut Mutation) (*Order, bool, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	cur := e.order
	if cur.Status != expected {
		return cur.Clone(), false, nil
	}
	work := cur.Clone()
	if err := mut(work); err != nil {
		return cur.Clone(), false, err
	}
	keepImmutable(work, cur)
	work.StatusVersion++
	e.order = work
	return work.Clone(), true, nil
}

func (m *MemoryStore) AppendGPS(_ context.Context, id types.OrderID, s types.Sample) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.order.Status != StatusInDelivery {
		return newError(ErrNotInDelivery, e.order, "")
	}
	e.trail = append(e.trail, s)
	return nil
}

func (m *MemoryStore) Trail(_ context.Context, id types.OrderID) ([]types.Sample, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]types.Sample(nil), e.trail...), nil
}

func (m *MemoryStore) AppendEvent(_ context.Context, ev *Event) error {
	e, err := m.entry(ev.OrderID)
	if err != nil {
		return err
	}
	ev.ID = m.eventSeq.Add(1)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, *ev)
	return nil
}

func (m *MemoryStore) Events(_ context.Context, id types.OrderID) ([]Event, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Event(nil), e.events...), nil
}

func (m *MemoryStore) ReconciliationDebts(_ context.Context) ([]Event, error) {
	var out []Event
	m.orders.Range(func(_, v any) bool {
		e := v.(*memEntry)
		e.mu.Lock()
		for _, ev := range e.events {
			if ev.Synthetic {
				out = append(out, ev)
			}
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
