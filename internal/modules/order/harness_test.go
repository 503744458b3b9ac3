// README: Shared fixtures for order tests: in-memory roles, recording notifier, service harness.
package order

import (
	"context"
	"sync"
	"testing"

	"dropchain/internal/modules/ledger/ledgertest"
	"dropchain/internal/types"
)

const (
	clientID   types.ID = "c_alice"
	merchantID types.ID = "m_noodles"
	courierID  types.ID = "k_bob"
	platformID types.ID = "ops"
)

type fakeRoles struct {
	mu       sync.Mutex
	roles    map[types.ID]map[types.Role]bool
	couriers map[types.ID]types.CourierStatus
}

func newFakeRoles() *fakeRoles {
	r := &fakeRoles{
		roles:    map[types.ID]map[types.Role]bool{},
		couriers: map[types.ID]types.CourierStatus{},
	}
	r.grant(clientID, types.RoleClient)
	r.grant(merchantID, types.RoleMerchant)
	r.grant(courierID, types.RoleCourier)
	r.grant(platformID, types.RolePlatform)
	r.couriers[courierID] = types.CourierStatus{Available: true, Staked: true}
	return r
}

func (r *fakeRoles) grant(id types.ID, role types.Role) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roles[id] == nil {
		r.roles[id] = map[types.Role]bool{}
	}
	r.roles[id][role] = true
}

func (r *fakeRoles) setCourier(id types.ID, st types.CourierStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.couriers[id] = st
}

func (r *fakeRoles) HasRole(_ context.Context, id types.ID, role types.Role) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roles[id][role], nil
}

func (r *fakeRoles) CourierStatus(_ context.Context, id types.ID) (types.CourierStatus, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.couriers[id], nil
}

type notification struct {
	OrderID types.OrderID
	Status  Status
	Payload map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (n *recordingNotifier) Notify(_ context.Context, id types.OrderID, status Status, payload map[string]string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification{OrderID: id, Status: status, Payload: payload})
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

type harness struct {
	svc      *Service
	store    Projection
	ledger   *ledgertest.Ledger
	roles    *fakeRoles
	notifier *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	return newHarnessWithStore(t, NewMemoryStore())
}

func newHarnessWithStore(t *testing.T, store Projection) *harness {
	t.Helper()
	h := &harness{
		store:    store,
		ledger:   ledgertest.New(),
		roles:    newFakeRoles(),
		notifier: &recordingNotifier{},
	}
	h.svc = NewService(Deps{
		Store:    h.store,
		Ledger:   h.ledger,
		Roles:    h.roles,
		Notifier: h.notifier,
	})
	return h
}

var (
	asClient   = Actor{ID: clientID, Role: types.RoleClient}
	asMerchant = Actor{ID: merchantID, Role: types.RoleMerchant}
	asCourier  = Actor{ID: courierID, Role: types.RoleCourier}
	asPlatform = Actor{ID: platformID, Role: types.RolePlatform}
	asArbiter  = Actor{Role: types.RoleArbitration}
)

func sampleCreate(key string) CreateCommand {
	return CreateCommand{
		Actor:          asClient,
		IdempotencyKey: key,
		MerchantID:     merchantID,
		LineItems: []LineItem{
			{Name: "beef noodles", Quantity: 2, UnitPrice: 180},
			{Name: "tea", Quantity: 1, UnitPrice: 40},
		},
		Breakdown: Breakdown{Goods: 400, DeliveryFee: 60, PlatformFee: 20, Total: 480, Currency: "TWD"},
	}
}

func (h *harness) create(t *testing.T, key string) *Order {
	t.Helper()
	o, err := h.svc.Create(context.Background(), sampleCreate(key))
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return o
}

// inDelivery drives a fresh order to in_delivery with the default courier.
func (h *harness) inDelivery(t *testing.T, key string) *Order {
	t.Helper()
	ctx := context.Background()
	o := h.create(t, key)
	if _, err := h.svc.ConfirmPreparation(ctx, ConfirmPreparationCommand{OrderID: o.ID, Actor: asMerchant}); err != nil {
		t.Fatalf("confirm preparation: %v", err)
	}
	o, err := h.svc.AssignCourier(ctx, AssignCourierCommand{OrderID: o.ID, Actor: asPlatform, CourierID: courierID})
	if err != nil {
		t.Fatalf("assign courier: %v", err)
	}
	return o
}
