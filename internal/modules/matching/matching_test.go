// README: Matching service tests with fake finder, assigner and attempt log.
package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"dropchain/internal/modules/location"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type fakeFinder struct {
	couriers []location.NearbyCourier
	err      error
}

func (f *fakeFinder) NearbyCouriers(context.Context, types.Point, float64) ([]location.NearbyCourier, error) {
	return f.couriers, f.err
}

type fakeAssigner struct {
	mu         sync.Mutex
	ineligible map[types.ID]bool
	fail       error
	calls      []types.ID
}

func (a *fakeAssigner) AssignCourier(_ context.Context, cmd order.AssignCourierCommand) (*order.Order, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, cmd.CourierID)
	if a.fail != nil {
		return nil, a.fail
	}
	if a.ineligible[cmd.CourierID] {
		return nil, &order.Error{Kind: order.ErrCourierIneligible, OrderID: cmd.OrderID, Status: order.StatusPreparing}
	}
	id := cmd.CourierID
	return &order.Order{ID: cmd.OrderID, Status: order.StatusInDelivery, CourierID: &id}, nil
}

type memAttempts struct {
	mu   sync.Mutex
	seen map[types.OrderID]map[types.ID]bool
}

func newMemAttempts() *memAttempts {
	return &memAttempts{seen: map[types.OrderID]map[types.ID]bool{}}
}

func (m *memAttempts) RecordAttempt(_ context.Context, id types.OrderID, couriers ...types.ID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.seen[id] == nil {
		m.seen[id] = map[types.ID]bool{}
	}
	for _, c := range couriers {
		m.seen[id][c] = true
	}
	return nil
}

func (m *memAttempts) Attempted(_ context.Context, id types.OrderID) (map[types.ID]bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[types.ID]bool{}
	for c := range m.seen[id] {
		out[c] = true
	}
	return out, nil
}

func nearby(ids ...string) []location.NearbyCourier {
	out := make([]location.NearbyCourier, len(ids))
	for i, id := range ids {
		out[i] = location.NearbyCourier{CourierID: types.ID(id), DistanceKm: float64(i) + 0.5}
	}
	return out
}

func dispatchCmd() DispatchCommand {
	return DispatchCommand{
		OrderID: 7,
		Actor:   order.Actor{ID: "ops", Role: types.RolePlatform},
		Pickup:  types.Point{Lat: 25.04, Lng: 121.53},
	}
}

func TestDispatchPicksNearest(t *testing.T) {
	assigner := &fakeAssigner{}
	svc := NewService(&fakeFinder{couriers: nearby("k_1", "k_2")}, assigner, newMemAttempts())

	res, err := svc.Dispatch(context.Background(), dispatchCmd())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Courier.CourierID != "k_1" || !res.Order.IsCourier("k_1") {
		t.Fatalf("expected nearest courier k_1, got %+v", res.Courier)
	}
	if len(assigner.calls) != 1 {
		t.Fatalf("expected one assign call, got %v", assigner.calls)
	}
}

func TestDispatchSkipsIneligibleAndRemembers(t *testing.T) {
	attempts := newMemAttempts()
	assigner := &fakeAssigner{ineligible: map[types.ID]bool{"k_1": true}}
	svc := NewService(&fakeFinder{couriers: nearby("k_1", "k_2", "k_3")}, assigner, attempts)

	res, err := svc.Dispatch(context.Background(), dispatchCmd())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.Courier.CourierID != "k_2" {
		t.Fatalf("expected k_2, got %s", res.Courier.CourierID)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "k_1" {
		t.Fatalf("expected k_1 skipped, got %v", res.Skipped)
	}
	seen, _ := attempts.Attempted(context.Background(), 7)
	if !seen["k_1"] {
		t.Fatal("expected k_1 recorded as attempted")
	}

	// A second dispatch for the same order does not offer it to k_1 again.
	assigner.calls = nil
	if _, err := svc.Dispatch(context.Background(), dispatchCmd()); err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	for _, c := range assigner.calls {
		if c == "k_1" {
			t.Fatal("k_1 offered again")
		}
	}
}

func TestDispatchNoCourier(t *testing.T) {
	assigner := &fakeAssigner{ineligible: map[types.ID]bool{"k_1": true}}
	svc := NewService(&fakeFinder{couriers: nearby("k_1")}, assigner, nil)

	_, err := svc.Dispatch(context.Background(), dispatchCmd())
	if !errors.Is(err, ErrNoCourier) {
		t.Fatalf("expected ErrNoCourier, got %v", err)
	}
}

func TestDispatchStopsOnOrderError(t *testing.T) {
	conflict := &order.Error{Kind: order.ErrStateConflict, OrderID: 7, Status: order.StatusInDelivery}
	assigner := &fakeAssigner{fail: conflict}
	svc := NewService(&fakeFinder{couriers: nearby("k_1", "k_2")}, assigner, nil)

	_, err := svc.Dispatch(context.Background(), dispatchCmd())
	if !errors.Is(err, order.ErrStateConflict) {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(assigner.calls) != 1 {
		t.Fatalf("expected dispatch to stop after the first error, got %v", assigner.calls)
	}
}

func TestDispatchBoundedPool(t *testing.T) {
	ids := make([]string, selectPoolSize+5)
	ineligible := map[types.ID]bool{}
	for i := range ids {
		ids[i] = fmt.Sprintf("k_%d", i)
		ineligible[types.ID(ids[i])] = true
	}
	assigner := &fakeAssigner{ineligible: ineligible}
	svc := NewService(&fakeFinder{couriers: nearby(ids...)}, assigner, nil)

	_, err := svc.Dispatch(context.Background(), dispatchCmd())
	if !errors.Is(err, ErrNoCourier) {
		t.Fatalf("expected ErrNoCourier, got %v", err)
	}
	if len(assigner.calls) != selectPoolSize {
		t.Fatalf("expected %d attempts, got %d", selectPoolSize, len(assigner.calls))
	}
}

func TestDispatchFinderError(t *testing.T) {
	svc := NewService(&fakeFinder{err: errors.New("redis down")}, &fakeAssigner{}, nil)
	if _, err := svc.Dispatch(context.Background(), dispatchCmd()); err == nil {
		t.Fatal("expected error")
	}
}
