package arbitration

import (
	"context"
	"sort"
	"sync"

	"dropchain/internal/types"
)

type memDispute struct {
	mu      sync.Mutex
	dispute *Dispute
	votes   []Vote
	voters  map[string]struct{}
}

type MemoryStore struct {
	disputes sync.Map // types.OrderID -> *memDispute
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) entry(id types.OrderID) (*memDispute, error) {
	v, ok := m.disputes.Load(id)
	if !ok {
		return nil, &Error{Kind: ErrDisputeNotFound, DisputeID: id}
	}
	return v.(*memDispute), nil
}

func (m *MemoryStore) CreateIfAbsent(_ context.Context, d *Dispute) (*Dispute, bool, error) {
	fresh := &memDispute{dispute: d.Clone(), voters: map[string]struct{}{}}
	v, loaded := m.disputes.LoadOrStore(d.ID, fresh)
	e := v.(*memDispute)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispute.Clone(), !loaded, nil
}

func (m *MemoryStore) Get(_ context.Context, id types.OrderID) (*Dispute, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.dispute.Clone(), nil
}

func (m *MemoryStore) RecordVote(_ context.Context, v Vote) (*Dispute, error) {
	e, err := m.entry(v.DisputeID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispute.State != StateOpen {
		return nil, newError(ErrDisputeNotOpen, e.dispute, "")
	}
	if _, ok := e.voters[v.Voter]; ok {
		return nil, newError(ErrAlreadyVoted, e.dispute, v.Voter)
	}
	e.voters[v.Voter] = struct{}{}
	e.votes = append(e.votes, v)
	e.dispute.Tally.Add(v.Outcome, v.Power)
	return e.dispute.Clone(), nil
}

func (m *MemoryStore) TransitionIfState(_ context.Context, id types.OrderID, expected State, mut func(d *Dispute)) (*Dispute, bool, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, false, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.dispute.State != expected {
		return e.dispute.Clone(), false, nil
	}
	work := e.dispute.Clone()
	mut(work)
	work.ID = e.dispute.ID
	work.Tally = e.dispute.Tally
	e.dispute = work
	return work.Clone(), true, nil
}

func (m *MemoryStore) MarkFinalized(_ context.Context, id types.OrderID) error {
	e, err := m.entry(id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.dispute.OrderFinalized = true
	return nil
}

func (m *MemoryStore) Votes(_ context.Context, id types.OrderID) ([]Vote, error) {
	e, err := m.entry(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Vote(nil), e.votes...), nil
}

func (m *MemoryStore) Pending(_ context.Context) ([]*Dispute, error) {
	var out []*Dispute
	m.disputes.Range(func(_, v any) bool {
		e := v.(*memDispute)
		e.mu.Lock()
		d := e.dispute
		if d.State == StateOpen || (d.State == StateResolved && !d.OrderFinalized) {
			out = append(out, d.Clone())
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
