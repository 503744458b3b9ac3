// README: Arbitration engine: vote collection, quorum-gated resolution and order finalization.
package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"

	"dropchain/internal/log"
	"dropchain/internal/metrics"
	"dropchain/internal/modules/ledger"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

// PowerSource reports a voter's weight at the moment a vote is cast.
type PowerSource interface {
	VotingPower(ctx context.Context, voter string) (int64, error)
}

// Orders is the slice of the order state machine the engine drives.
type Orders interface {
	Get(ctx context.Context, id types.OrderID) (*order.Order, error)
	OpenDispute(ctx context.Context, cmd order.OpenDisputeCommand) (*order.Order, error)
	FinalizeDispute(ctx context.Context, cmd order.FinalizeDisputeCommand) (*order.Order, error)
}

type Config struct {
	QuorumThreshold     int64
	ClientRefundPercent int
	// AutoResolve attempts resolution right after a vote makes the dispute resolvable.
	AutoResolve   bool
	ResolverTick  time.Duration
	LedgerTimeout time.Duration
}

type Deps struct {
	Store   Store
	Ledger  ledger.Client
	Power   PowerSource
	Orders  Orders
	Metrics metrics.Metrics
	Config  Config
}

type Engine struct {
	store   Store
	ledger  ledger.Client
	power   PowerSource
	orders  Orders
	metrics metrics.Metrics
	cfg     Config
	now     func() time.Time
}

var arbiter = order.Actor{Role: types.RoleArbitration}

func NewEngine(d Deps) *Engine {
	e := &Engine{
		store:   d.Store,
		ledger:  d.Ledger,
		power:   d.Power,
		orders:  d.Orders,
		metrics: d.Metrics,
		cfg:     d.Config,
		now:     time.Now,
	}
	if e.metrics == nil {
		e.metrics = metrics.Noop{}
	}
	if e.cfg.ClientRefundPercent < 0 || e.cfg.ClientRefundPercent > 100 {
		e.cfg.ClientRefundPercent = 100
	}
	if e.cfg.ResolverTick <= 0 {
		e.cfg.ResolverTick = 30 * time.Second
	}
	if e.cfg.LedgerTimeout <= 0 {
		e.cfg.LedgerTimeout = 10 * time.Second
	}
	return e
}

type CastVoteCommand struct {
	DisputeID types.OrderID
	Voter     string
	Outcome   Outcome
}

// OpenDispute moves the order to disputed and opens its dispute.
func (e *Engine) OpenDispute(ctx context.Context, cmd order.OpenDisputeCommand) (*Dispute, error) {
	o, err := e.orders.OpenDispute(ctx, cmd)
	if err != nil {
		return nil, err
	}
	d, _, err := e.store.CreateIfAbsent(ctx, &Dispute{ID: o.ID, State: StateOpen, OpenedAt: e.now()})
	if err != nil {
		// The first vote recreates it from the disputed order.
		log.L(ctx).WithError(err).WithField("dispute", int64(o.ID)).Error("order disputed but dispute record not written")
		return nil, err
	}
	return d, nil
}

func (e *Engine) Get(ctx context.Context, id types.OrderID) (*Dispute, error) {
	return e.store.Get(ctx, id)
}

func (e *Engine) Votes(ctx context.Context, id types.OrderID) ([]Vote, error) {
	return e.store.Votes(ctx, id)
}

func (e *Engine) CastVote(ctx context.Context, cmd CastVoteCommand) (*Dispute, error) {
	if !cmd.Outcome.IsParty() {
		return nil, &Error{Kind: ErrInvalidVote, DisputeID: cmd.DisputeID, Detail: fmt.Sprintf("outcome %q", cmd.Outcome)}
	}
	addr, err := ethtypes.NewAddress(cmd.Voter)
	if err != nil {
		return nil, &Error{Kind: ErrInvalidVote, DisputeID: cmd.DisputeID, Detail: err.Error()}
	}
	voter := addr.String()
	ctx = log.WithLogField(ctx, "dispute", int64(cmd.DisputeID))

	d, err := e.ensureDispute(ctx, cmd.DisputeID)
	if err != nil {
		return nil, err
	}
	if d.State != StateOpen {
		return nil, newError(ErrDisputeNotOpen, d, "")
	}
	power, err := e.power.VotingPower(ctx, voter)
	if err != nil {
		return nil, fmt.Errorf("voting power of %s: %w", voter, err)
	}
	if power <= 0 {
		return nil, newError(ErrInvalidVote, d, fmt.Sprintf("%s has no voting power", voter))
	}

	d, err = e.store.RecordVote(ctx, Vote{
		DisputeID: cmd.DisputeID,
		Voter:     voter,
		Outcome:   cmd.Outcome,
		Power:     power,
		CastAt:    e.now(),
	})
	if err != nil {
		return nil, err
	}
	e.metrics.Vote(string(cmd.Outcome))
	log.L(ctx).Infof("vote %s power=%d for %s, tally=%+v", voter, power, cmd.Outcome, d.Tally)

	if e.cfg.AutoResolve && d.Tally.Resolvable(e.cfg.QuorumThreshold) {
		res, err := e.ResolveDispute(ctx, cmd.DisputeID)
		switch {
		case err == nil:
			d = res
		case errors.Is(err, ErrResolutionInProgress), errors.Is(err, ErrNotResolvable):
		default:
			log.L(ctx).WithError(err).Warn("auto-resolve failed, dispute stays open")
		}
	}
	return d, nil
}

// ResolveDispute settles a resolvable dispute on the ledger and finalizes
// the order. Only one caller may hold a dispute in resolving; the others get
// ErrResolutionInProgress. A ledger failure puts the dispute back to open.
func (e *Engine) ResolveDispute(ctx context.Context, id types.OrderID) (*Dispute, error) {
	ctx = log.WithLogField(ctx, "dispute", int64(id))
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.State {
	case StateResolving:
		return nil, newError(ErrResolutionInProgress, d, "")
	case StateResolved:
		if !d.OrderFinalized {
			return e.finalize(ctx, d), nil
		}
		return nil, newError(ErrDisputeNotOpen, d, "already resolved")
	}
	if !d.Tally.Resolvable(e.cfg.QuorumThreshold) {
		return nil, newError(ErrNotResolvable, d, fmt.Sprintf("tally=%+v quorum=%d", d.Tally, e.cfg.QuorumThreshold))
	}

	d, applied, err := e.store.TransitionIfState(ctx, id, StateOpen, func(w *Dispute) { w.State = StateResolving })
	if err != nil {
		return nil, err
	}
	if !applied {
		if d.State == StateResolving {
			return nil, newError(ErrResolutionInProgress, d, "")
		}
		return nil, newError(ErrDisputeNotOpen, d, "")
	}
	// Votes may have landed between the check and the claim.
	if !d.Tally.Resolvable(e.cfg.QuorumThreshold) {
		if _, err := e.reopen(ctx, id); err != nil {
			return nil, err
		}
		return nil, newError(ErrNotResolvable, d, "tally changed")
	}

	settle := Settle(*d.Tally.Leading(), e.cfg.ClientRefundPercent)
	lctx, cancel := context.WithTimeout(ctx, e.cfg.LedgerTimeout)
	rcpt, err := e.ledger.ResolveDispute(lctx, id, settle.Winner, settle.RefundPercent)
	cancel()
	if err != nil {
		e.metrics.Resolution("reverted")
		log.L(ctx).WithError(err).Warnf("ledger resolve failed, reopening dispute (winner=%s refund=%d)", settle.Winner, settle.RefundPercent)
		if _, rerr := e.reopen(ctx, id); rerr != nil {
			return nil, errors.Join(err, rerr)
		}
		d.State = StateOpen
		return nil, newError(err, d, "ledger resolve")
	}

	d, err = e.recordResolved(ctx, id, settle, rcpt.TxRef)
	if err != nil {
		return nil, err
	}
	e.metrics.Resolution("resolved")
	log.L(ctx).Infof("dispute resolved for %s refund=%d tx=%s", settle.Winner, settle.RefundPercent, rcpt.TxRef)
	return e.finalize(ctx, d), nil
}

// RunResolver periodically retries resolvable disputes and unfinished finalizations.
func (e *Engine) RunResolver(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.ResolverTick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.ResolvePending(ctx)
		}
	}
}

// ResolvePending makes one resolver pass and returns how many disputes it closed.
func (e *Engine) ResolvePending(ctx context.Context) int {
	pending, err := e.store.Pending(ctx)
	if err != nil {
		log.L(ctx).WithError(err).Warn("list pending disputes")
		return 0
	}
	closed := 0
	for _, d := range pending {
		switch {
		case d.State == StateResolved:
			if e.finalize(ctx, d).OrderFinalized {
				closed++
			}
		case d.Tally.Resolvable(e.cfg.QuorumThreshold):
			res, err := e.ResolveDispute(ctx, d.ID)
			if err != nil {
				if !errors.Is(err, ErrResolutionInProgress) {
					log.L(ctx).WithError(err).WithField("dispute", int64(d.ID)).Warn("resolver pass failed")
				}
				continue
			}
			if res.OrderFinalized {
				closed++
			}
		}
	}
	return closed
}

// finalize moves the order out of disputed. Failures leave OrderFinalized
// false for the resolver to retry.
func (e *Engine) finalize(ctx context.Context, d *Dispute) *Dispute {
	if d.Outcome == nil {
		return d
	}
	var txRef string
	if d.ResolutionTxRef != nil {
		txRef = *d.ResolutionTxRef
	}
	settle := Settle(*d.Outcome, e.cfg.ClientRefundPercent)
	_, err := e.orders.FinalizeDispute(ctx, order.FinalizeDisputeCommand{
		OrderID:     d.ID,
		Actor:       arbiter,
		Outcome:     settle.OrderOutcome,
		LedgerTxRef: txRef,
	})
	if err != nil {
		e.metrics.Resolution("finalize_failed")
		log.L(ctx).WithError(err).Error("dispute resolved but order not finalized")
		return d
	}
	if err := e.store.MarkFinalized(ctx, d.ID); err != nil {
		log.L(ctx).WithError(err).Warn("order finalized but dispute flag not written")
		return d
	}
	out := d.Clone()
	out.OrderFinalized = true
	return out
}

func (e *Engine) reopen(ctx context.Context, id types.OrderID) (*Dispute, error) {
	// The revert must land even if the caller has gone away.
	d, _, err := e.store.TransitionIfState(context.WithoutCancel(ctx), id, StateResolving, func(w *Dispute) { w.State = StateOpen })
	if err != nil {
		log.L(ctx).WithError(err).Error("dispute stuck in resolving")
	}
	return d, err
}

// ensureDispute returns the dispute, opening it on first use when the order
// is already disputed.
func (e *Engine) ensureDispute(ctx context.Context, id types.OrderID) (*Dispute, error) {
	d, err := e.store.Get(ctx, id)
	if err == nil || !errors.Is(err, ErrDisputeNotFound) {
		return d, err
	}
	o, oerr := e.orders.Get(ctx, id)
	if oerr != nil {
		if errors.Is(oerr, order.ErrNotFound) {
			return nil, err
		}
		return nil, oerr
	}
	if o.Status != order.StatusDisputed {
		return nil, &Error{Kind: ErrDisputeNotFound, DisputeID: id, Detail: fmt.Sprintf("order is %s", o.Status)}
	}
	d, _, err = e.store.CreateIfAbsent(ctx, &Dispute{ID: id, State: StateOpen, OpenedAt: e.now()})
	return d, err
}

// recordResolved moves the dispute from resolving to resolved once the ledger
// has settled it. A failed write is retried once on a context detached from
// the caller so a settled dispute is not left in resolving.
func (e *Engine) recordResolved(ctx context.Context, id types.OrderID, settle Settlement, txRef string) (*Dispute, error) {
	mut := func(w *Dispute) {
		now := e.now()
		winner := settle.Winner
		refund := settle.RefundPercent
		tx := txRef
		w.State = StateResolved
		w.Outcome = &winner
		w.RefundPercent = &refund
		w.ResolutionTxRef = &tx
		w.ResolvedAt = &now
	}
	d, applied, err := e.store.TransitionIfState(ctx, id, StateResolving, mut)
	if err != nil {
		log.L(ctx).WithError(err).Warnf("recording resolved dispute tx=%s failed, retrying", txRef)
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.LedgerTimeout)
		d, applied, err = e.store.TransitionIfState(rctx, id, StateResolving, mut)
		cancel()
	}
	if err != nil {
		log.L(ctx).WithError(err).Errorf("ledger settled dispute tx=%s but resolved state not recorded", txRef)
		return nil, err
	}
	if !applied {
		// The first write may have landed before its error was reported.
		if d.State == StateResolved && d.ResolutionTxRef != nil && *d.ResolutionTxRef == txRef {
			return d, nil
		}
		log.L(ctx).Errorf("ledger settled dispute tx=%s but state moved to %s", txRef, d.State)
		return nil, newError(ErrResolutionInProgress, d, "state moved during resolution")
	}
	return d, nil
}
