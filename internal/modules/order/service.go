// README: Order service implements the ledger-reconciled state transitions.
package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"dropchain/internal/log"
	"dropchain/internal/metrics"
	"dropchain/internal/modules/ledger"
	"dropchain/internal/types"
)

const defaultLedgerTimeout = 10 * time.Second

type Deps struct {
	Store    Projection
	Ledger   ledger.Client
	Roles    RoleProvider
	Notifier Notifier // optional
	Tracker  Tracker  // optional
	Metrics  metrics.Metrics
	// LedgerTimeout is used when a command does not carry its own.
	LedgerTimeout time.Duration
}

type Service struct {
	store    Projection
	ledger   ledger.Client
	roles    RoleProvider
	notifier Notifier
	tracker  Tracker
	metrics  metrics.Metrics
	timeout  time.Duration
	now      func() time.Time
}

func NewService(d Deps) *Service {
	s := &Service{
		store:    d.Store,
		ledger:   d.Ledger,
		roles:    d.Roles,
		notifier: d.Notifier,
		tracker:  d.Tracker,
		metrics:  d.Metrics,
		timeout:  d.LedgerTimeout,
		now:      time.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.Noop{}
	}
	if s.timeout <= 0 {
		s.timeout = defaultLedgerTimeout
	}
	return s
}

type Actor struct {
	ID   types.ID
	Role types.Role
}

// CallOptions are supplied per call by the caller, never held as service state.
type CallOptions struct {
	Timeout time.Duration
	// Degraded allows confirm-preparation, confirm-pickup and confirm-delivery
	// to commit on a synthesized receipt when the ledger is unavailable or
	// times out. Each such commit is a reconciliation debt.
	Degraded bool
}

type CreateCommand struct {
	Actor Actor
	// IdempotencyKey must be reused verbatim when retrying a create whose
	// outcome is unknown.
	IdempotencyKey string
	MerchantID     types.ID
	LineItems      []LineItem
	Breakdown      Breakdown
	Options        CallOptions
}

type ConfirmPreparationCommand struct {
	OrderID types.OrderID
	Actor   Actor
	Options CallOptions
}

type AssignCourierCommand struct {
	OrderID   types.OrderID
	Actor     Actor
	CourierID types.ID
	Options   CallOptions
}

type ConfirmPickupCommand struct {
	OrderID types.OrderID
	Actor   Actor
	Options CallOptions
}

type ConfirmDeliveryCommand struct {
	OrderID types.OrderID
	Actor   Actor
	Options CallOptions
}

type OpenDisputeCommand struct {
	OrderID     types.OrderID
	Actor       Actor
	Reason      string
	EvidenceRef string
	Options     CallOptions
}

// FinalizeDisputeCommand moves a disputed order to its arbitrated outcome.
// The settlement itself was already written to the ledger by the arbitration engine.
type FinalizeDisputeCommand struct {
	OrderID     types.OrderID
	Actor       Actor
	Outcome     Status // StatusDelivered or StatusVoided
	LedgerTxRef string
}

type RecordLocationCommand struct {
	OrderID types.OrderID
	Actor   Actor
	Sample  types.Sample
}

func (s *Service) Create(ctx context.Context, cmd CreateCommand) (*Order, error) {
	if err := validateCreate(cmd); err != nil {
		return nil, err
	}
	if err := s.requireRole(ctx, nil, cmd.Actor, types.RoleClient); err != nil {
		return nil, err
	}
	key := cmd.IdempotencyKey
	if key == "" {
		key = uuid.NewString()
	}
	ctx = log.WithLogField(ctx, "idempotencyKey", key)

	lctx, cancel := context.WithTimeout(ctx, s.callTimeout(cmd.Options))
	rec, err := s.ledger.Create(lctx, ledger.CreateRequest{
		IdempotencyKey: key,
		Merchant:       cmd.MerchantID,
		GoodsAmount:    cmd.Breakdown.Goods,
		DeliveryFee:    cmd.Breakdown.DeliveryFee,
		DetailsRef:     detailsRef(cmd.LineItems),
	})
	cancel()
	if err != nil {
		// Never proceed without a ledger receipt: that would be an off-chain-only order.
		return nil, &Error{Kind: err, Status: StatusNone, Detail: "ledger create"}
	}
	ctx = log.WithLogField(ctx, "order", int64(rec.OrderID))

	o := &Order{
		ID:          rec.OrderID,
		LedgerTxRef: rec.TxRef,
		ClientID:    cmd.Actor.ID,
		MerchantID:  cmd.MerchantID,
		LineItems:   cmd.LineItems,
		Breakdown:   cmd.Breakdown,
		Status:      StatusCreated,
		CreatedAt:   s.now(),
	}
	got, created, err := s.store.CreateIfAbsent(ctx, o)
	if err != nil {
		log.L(ctx).WithError(err).WithField("txRef", rec.TxRef).
			Error("ledger order created but projection write failed; retry with the same idempotency key")
		return nil, err
	}
	if !created {
		if got.LedgerTxRef == rec.TxRef {
			log.L(ctx).Infof("create replay matched existing projection tx=%s", rec.TxRef)
			return got, nil
		}
		log.L(ctx).Errorf("ledger order id collision: projected tx=%s ledger tx=%s", got.LedgerTxRef, rec.TxRef)
		return nil, newError(ErrDuplicateOrderID, got, fmt.Sprintf("projected tx %s, ledger returned %s", got.LedgerTxRef, rec.TxRef))
	}

	s.committed(ctx, got, StatusNone, cmd.Actor, ledger.Receipt{TxRef: rec.TxRef})
	return got, nil
}

func (s *Service) ConfirmPreparation(ctx context.Context, cmd ConfirmPreparationCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, cmd.Options, step{
		method:     ledger.MethodConfirmPreparation,
		from:       []Status{StatusCreated},
		degradable: true,
		authorize: func(o *Order, a Actor) bool {
			return a.Role == types.RoleMerchant && o.MerchantID == a.ID
		},
		call: func(ctx context.Context, o *Order) (ledger.Receipt, error) {
			return s.ledger.ConfirmPreparation(ctx, o.ID)
		},
		mutate: func(o *Order, now time.Time) error {
			o.Status = StatusPreparing
			o.PreparingAt = &now
			return nil
		},
	})
}

func (s *Service) AssignCourier(ctx context.Context, cmd AssignCourierCommand) (*Order, error) {
	if cmd.CourierID == "" {
		return nil, &Error{Kind: ErrBadRequest, OrderID: cmd.OrderID, Detail: "missing courier"}
	}
	courier := cmd.CourierID
	return s.transition(ctx, cmd.OrderID, cmd.Actor, cmd.Options, step{
		method: ledger.MethodAssignCourier,
		from:   []Status{StatusPreparing},
		authorize: func(o *Order, a Actor) bool {
			return a.Role == types.RolePlatform
		},
		precheck: func(ctx context.Context, o *Order) error {
			ok, err := s.roles.HasRole(ctx, courier, types.RoleCourier)
			if err != nil {
				return err
			}
			st, err := s.roles.CourierStatus(ctx, courier)
			if err != nil {
				return err
			}
			if !ok || !st.Available || !st.Staked {
				return newError(ErrCourierIneligible, o,
					fmt.Sprintf("courier %s registered=%t available=%t staked=%t", courier, ok, st.Available, st.Staked))
			}
			return nil
		},
		call: func(ctx context.Context, o *Order) (ledger.Receipt, error) {
			return s.ledger.AssignCourier(ctx, o.ID, courier)
		},
		mutate: func(o *Order, now time.Time) error {
			o.Status = StatusInDelivery
			o.CourierID = &courier
			o.AssignedAt = &now
			return nil
		},
	})
}

func (s *Service) ConfirmPickup(ctx context.Context, cmd ConfirmPickupCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, cmd.Options, step{
		method:     ledger.MethodConfirmPickup,
		from:       []Status{StatusInDelivery},
		degradable: true,
		authorize: func(o *Order, a Actor) bool {
			return a.Role == types.RoleCourier && o.IsCourier(a.ID)
		},
		precheck: func(_ context.Context, o *Order) error { return pickupPending(o) },
		call: func(ctx context.Context, o *Order) (ledger.Receipt, error) {
			return s.ledger.ConfirmPickup(ctx, o.ID)
		},
		mutate: func(o *Order, now time.Time) error {
			if err := pickupPending(o); err != nil {
				return err
			}
			o.PickedUpAt = &now
			return nil
		},
	})
}

func pickupPending(o *Order) error {
	if o.PickedUpAt != nil {
		return newError(ErrStateConflict, o, "pickup already confirmed")
	}
	return nil
}

func (s *Service) ConfirmDelivery(ctx context.Context, cmd ConfirmDeliveryCommand) (*Order, error) {
	return s.transition(ctx, cmd.OrderID, cmd.Actor, cmd.Options, step{
		method:     ledger.MethodConfirmDelivery,
		from:       []Status{StatusInDelivery},
		degradable: true,
		authorize: func(o *Order, a Actor) bool {
			return a.Role == types.RoleClient && o.ClientID == a.ID
		},
		call: func(ctx context.Context, o *Order) (ledger.Receipt, error) {
			return s.ledger.ConfirmDelivery(ctx, o.ID)
		},
		mutate: func(o *Order, now time.Time) error {
			o.Status = StatusDelivered
			if o.CompletedAt == nil {
				o.CompletedAt = &now
			}
			return nil
		},
	})
}

func (s *Service) OpenDispute(ctx context.Context, cmd OpenDisputeCommand) (*Order, error) {
	if cmd.Reason == "" {
		return nil, &Error{Kind: ErrBadRequest, OrderID: cmd.OrderID, Detail: "missing dispute reason"}
	}
	return s.transition(ctx, cmd.OrderID, cmd.Actor, cmd.Options, step{
		method: ledger.MethodOpenDispute,
		from:   []Status{StatusPreparing, StatusInDelivery},
		authorize: func(o *Order, a Actor) bool {
			switch a.Role {
			case types.RoleClient:
				return o.ClientID == a.ID
			case types.RoleMerchant:
				return o.MerchantID == a.ID
			case types.RoleCourier:
				return o.IsCourier(a.ID)
			}
			return false
		},
		call: func(ctx context.Context, o *Order) (ledger.Receipt, error) {
			return s.ledger.OpenDispute(ctx, o.ID, cmd.Reason)
		},
		mutate: func(o *Order, now time.Time) error {
			from := o.Status
			o.DisputedFrom = &from
			o.Status = StatusDisputed
			o.DisputedAt = &now
			reason := cmd.Reason
			o.DisputeReason = &reason
			if cmd.EvidenceRef != "" {
				ev := cmd.EvidenceRef
				o.DisputeEvidenceRef = &ev
			}
			return nil
		},
	})
}

// FinalizeDispute is idempotent: finalizing an order already at the requested
// outcome returns it unchanged.
func (s *Service) FinalizeDispute(ctx context.Context, cmd FinalizeDisputeCommand) (*Order, error) {
	if cmd.Outcome != StatusDelivered && cmd.Outcome != StatusVoided {
		return nil, &Error{Kind: ErrBadRequest, OrderID: cmd.OrderID, Detail: fmt.Sprintf("invalid dispute outcome %q", cmd.Outcome)}
	}
	if cmd.Actor.Role != types.RoleArbitration {
		return nil, &Error{Kind: ErrUnauthorized, OrderID: cmd.OrderID, Detail: "only arbitration finalizes disputes"}
	}
	ctx = log.WithLogField(ctx, "order", int64(cmd.OrderID))

	cur, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return nil, err
	}
	if cur.Status == cmd.Outcome && cur.DisputedAt != nil && cur.ResolvedAt != nil {
		return cur, nil
	}
	updated, applied, err := s.store.TransitionIfCurrent(ctx, cmd.OrderID, StatusDisputed, func(o *Order) error {
		now := s.now()
		o.Status = cmd.Outcome
		o.ResolvedAt = &now
		if cmd.Outcome == StatusDelivered && o.CompletedAt == nil {
			o.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !applied {
		return nil, newError(ErrStateConflict, updated, "finalize dispute")
	}
	s.committed(ctx, updated, StatusDisputed, cmd.Actor, ledger.Receipt{TxRef: cmd.LedgerTxRef})
	return updated, nil
}

func (s *Service) RecordLocation(ctx context.Context, cmd RecordLocationCommand) error {
	o, err := s.store.Get(ctx, cmd.OrderID)
	if err != nil {
		return err
	}
	if o.Status != StatusInDelivery {
		return newError(ErrNotInDelivery, o, "gps append")
	}
	if cmd.Actor.Role != types.RoleCourier || !o.IsCourier(cmd.Actor.ID) {
		return newError(ErrUnauthorized, o, "only the assigned courier reports location")
	}
	sample := cmd.Sample
	if sample.RecordedAt.IsZero() {
		sample.RecordedAt = s.now()
	}
	if err := s.store.AppendGPS(ctx, cmd.OrderID, sample); err != nil {
		return err
	}
	if s.tracker != nil {
		if err := s.tracker.SetCourierPosition(ctx, cmd.Actor.ID, cmd.OrderID, sample.Point); err != nil {
			log.L(ctx).WithError(err).Warn("live position update failed")
		}
	}
	return nil
}

func (s *Service) Get(ctx context.Context, id types.OrderID) (*Order, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) Trail(ctx context.Context, id types.OrderID) ([]types.Sample, error) {
	if _, err := s.store.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.store.Trail(ctx, id)
}

func (s *Service) Events(ctx context.Context, id types.OrderID) ([]Event, error) {
	return s.store.Events(ctx, id)
}

// ReconciliationDebts lists transitions committed on synthesized receipts.
func (s *Service) ReconciliationDebts(ctx context.Context) ([]Event, error) {
	return s.store.ReconciliationDebts(ctx)
}

type step struct {
	method     string
	from       []Status
	degradable bool
	authorize  func(o *Order, a Actor) bool
	precheck   func(ctx context.Context, o *Order) error
	call       func(ctx context.Context, o *Order) (ledger.Receipt, error)
	mutate     func(o *Order, now time.Time) error
}

// transition runs one ledger-backed step: precondition against the projection,
// the ledger call with no lock held, then a compare-and-set commit.
func (s *Service) transition(ctx context.Context, id types.OrderID, actor Actor, opts CallOptions, st step) (*Order, error) {
	ctx = log.WithLogField(ctx, "order", int64(id))
	cur, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !statusIn(cur.Status, st.from) {
		return nil, newError(ErrStateConflict, cur, st.method)
	}
	if !st.authorize(cur, actor) {
		return nil, newError(ErrUnauthorized, cur, fmt.Sprintf("%s %s may not call %s", actor.Role, actor.ID, st.method))
	}
	if err := s.requireRole(ctx, cur, actor, actor.Role); err != nil {
		return nil, err
	}
	if st.precheck != nil {
		if err := st.precheck(ctx, cur); err != nil {
			return nil, err
		}
	}

	rcpt, err := s.callLedger(ctx, st, cur, opts)
	if err != nil {
		return nil, newError(err, cur, st.method)
	}

	from := cur.Status
	updated, applied, err := s.store.TransitionIfCurrent(ctx, id, from, func(o *Order) error {
		if !st.authorize(o, actor) {
			return newError(ErrUnauthorized, o, st.method)
		}
		return st.mutate(o, s.now())
	})
	if err != nil {
		log.L(ctx).WithError(err).Errorf("ledger accepted %s tx=%s but projection commit failed", st.method, rcpt.TxRef)
		return nil, err
	}
	if !applied {
		log.L(ctx).Errorf("ledger accepted %s tx=%s but projection moved %s -> %s", st.method, rcpt.TxRef, from, updated.Status)
		return nil, newError(ErrStateConflict, updated, st.method)
	}
	s.committed(ctx, updated, from, actor, rcpt)
	return updated, nil
}

func (s *Service) callLedger(ctx context.Context, st step, o *Order, opts CallOptions) (ledger.Receipt, error) {
	lctx, cancel := context.WithTimeout(ctx, s.callTimeout(opts))
	defer cancel()
	rcpt, err := st.call(lctx, o)
	if err == nil {
		return rcpt, nil
	}
	if !opts.Degraded || !st.degradable || !ledger.IsTransient(err) {
		return ledger.Receipt{}, err
	}
	rcpt = ledger.Receipt{TxRef: "local-" + uuid.NewString(), Synthetic: true}
	s.metrics.DegradedReceipt(st.method)
	log.L(ctx).WithError(err).WithField("txRef", rcpt.TxRef).
		Warnf("degraded mode: committing %s on a synthetic receipt, reconciliation debt recorded", st.method)
	return rcpt, nil
}

// committed records the audit event and fans out the notification. Neither
// can undo the transition, so failures are only logged.
func (s *Service) committed(ctx context.Context, o *Order, from Status, actor Actor, r ledger.Receipt) {
	var actorID *types.ID
	if actor.ID != "" {
		id := actor.ID
		actorID = &id
	}
	ev := &Event{
		OrderID:     o.ID,
		FromStatus:  from,
		ToStatus:    o.Status,
		ActorType:   actor.Role,
		ActorID:     actorID,
		LedgerTxRef: r.TxRef,
		Synthetic:   r.Synthetic,
		CreatedAt:   s.now(),
	}
	if err := s.store.AppendEvent(ctx, ev); err != nil {
		log.L(ctx).WithError(err).Error("audit event write failed")
	}
	s.metrics.Transition(string(from), string(o.Status))
	log.L(ctx).Infof("order %s -> %s tx=%s synthetic=%t", from, o.Status, r.TxRef, r.Synthetic)

	if s.notifier == nil {
		return
	}
	payload := map[string]string{
		"from":      string(from),
		"to":        string(o.Status),
		"txRef":     r.TxRef,
		"synthetic": fmt.Sprintf("%t", r.Synthetic),
	}
	if err := s.notifier.Notify(ctx, o.ID, o.Status, payload); err != nil {
		log.L(ctx).WithError(err).Warn("notification failed")
	}
}

func (s *Service) requireRole(ctx context.Context, o *Order, a Actor, want types.Role) error {
	if a.ID == "" || a.Role != want {
		return unauthorized(o, a, want)
	}
	ok, err := s.roles.HasRole(ctx, a.ID, want)
	if err != nil {
		return err
	}
	if !ok {
		return unauthorized(o, a, want)
	}
	return nil
}

func unauthorized(o *Order, a Actor, want types.Role) error {
	return newError(ErrUnauthorized, o, fmt.Sprintf("%q does not hold role %s", a.ID, want))
}

func (s *Service) callTimeout(opts CallOptions) time.Duration {
	if opts.Timeout > 0 {
		return opts.Timeout
	}
	return s.timeout
}

func statusIn(s Status, set []Status) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}

func validateCreate(cmd CreateCommand) error {
	bad := func(detail string) error {
		return &Error{Kind: ErrBadRequest, Status: StatusNone, Detail: detail}
	}
	if cmd.MerchantID == "" {
		return bad("missing merchant")
	}
	if len(cmd.LineItems) == 0 {
		return bad("order has no line items")
	}
	var goods int64
	for _, li := range cmd.LineItems {
		if li.Quantity <= 0 || li.UnitPrice < 0 {
			return bad(fmt.Sprintf("invalid line item %q", li.Name))
		}
		line, ok := mulAmount(li.Quantity, li.UnitPrice)
		if ok {
			goods, ok = addAmount(goods, line)
		}
		if !ok {
			return bad(fmt.Sprintf("line item %q overflows the order amount", li.Name))
		}
	}
	b := cmd.Breakdown
	if b.Goods < 0 {
		return bad("negative goods amount")
	}
	if b.Total <= 0 {
		return bad("total must be positive")
	}
	if b.Goods != goods {
		return bad(fmt.Sprintf("goods amount %d does not match line items %d", b.Goods, goods))
	}
	if b.DeliveryFee < 0 || b.PlatformFee < 0 {
		return bad("negative fee")
	}
	if !b.Balanced() {
		return bad("total does not equal goods + delivery fee + platform fee")
	}
	if b.Currency == "" {
		return bad("missing currency")
	}
	return nil
}

// detailsRef commits the ledger order to its line items.
func detailsRef(items []LineItem) string {
	raw, _ := json.Marshal(items)
	sum := sha256.Sum256(raw)
	return "0x" + hex.EncodeToString(sum[:])
}
