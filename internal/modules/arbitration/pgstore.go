// README: Dispute store backed by PostgreSQL; votes and state changes take the dispute row lock.
package arbitration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropchain/internal/types"
)

type PGStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PGStore)(nil)

func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const disputeColumns = `
    order_id, state, client_power, merchant_power, courier_power,
    outcome, refund_percent, resolution_tx_ref, order_finalized, opened_at, resolved_at`

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PGStore) CreateIfAbsent(ctx context.Context, d *Dispute) (*Dispute, bool, error) {
	tag, err := s.db.Exec(ctx, `
        INSERT INTO disputes (order_id, state, opened_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (order_id) DO NOTHING`,
		int64(d.ID), string(d.State), d.OpenedAt,
	)
	if err != nil {
		return nil, false, err
	}
	rec, err := s.Get(ctx, d.ID)
	if err != nil {
		return nil, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (s *PGStore) Get(ctx context.Context, id types.OrderID) (*Dispute, error) {
	return scanDispute(ctx, s.db, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1`, id)
}

func (s *PGStore) RecordVote(ctx context.Context, v Vote) (*Dispute, error) {
	column, err := powerColumn(v.Outcome)
	if err != nil {
		return nil, err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	d, err := scanDispute(ctx, tx, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 FOR UPDATE`, v.DisputeID)
	if err != nil {
		return nil, err
	}
	if d.State != StateOpen {
		return nil, newError(ErrDisputeNotOpen, d, "")
	}
	tag, err := tx.Exec(ctx, `
        INSERT INTO dispute_votes (dispute_id, voter_address, outcome, voting_power, cast_at)
        VALUES ($1, $2, $3, $4, $5)
        ON CONFLICT (dispute_id, voter_address) DO NOTHING`,
		int64(v.DisputeID), v.Voter, string(v.Outcome), v.Power, v.CastAt,
	)
	if err != nil {
		return nil, err
	}
	if tag.RowsAffected() == 0 {
		return nil, newError(ErrAlreadyVoted, d, v.Voter)
	}
	if _, err := tx.Exec(ctx, `UPDATE disputes SET `+column+` = `+column+` + $1 WHERE order_id = $2`, v.Power, int64(v.DisputeID)); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	d.Tally.Add(v.Outcome, v.Power)
	return d, nil
}

func (s *PGStore) TransitionIfState(ctx context.Context, id types.OrderID, expected State, mut func(d *Dispute)) (*Dispute, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanDispute(ctx, tx, `SELECT `+disputeColumns+` FROM disputes WHERE order_id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, false, err
	}
	if cur.State != expected {
		return cur, false, nil
	}
	work := cur.Clone()
	mut(work)
	work.ID, work.Tally = cur.ID, cur.Tally

	var outcome *string
	if work.Outcome != nil {
		o := string(*work.Outcome)
		outcome = &o
	}
	_, err = tx.Exec(ctx, `
        UPDATE disputes
        SET state = $1, outcome = $2, refund_percent = $3, resolution_tx_ref = $4,
            order_finalized = $5, resolved_at = $6
        WHERE order_id = $7`,
		string(work.State), outcome, work.RefundPercent, work.ResolutionTxRef,
		work.OrderFinalized, work.ResolvedAt, int64(id),
	)
	if err != nil {
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	return work, true, nil
}

func (s *PGStore) MarkFinalized(ctx context.Context, id types.OrderID) error {
	tag, err := s.db.Exec(ctx, `UPDATE disputes SET order_finalized = TRUE WHERE order_id = $1`, int64(id))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return &Error{Kind: ErrDisputeNotFound, DisputeID: id}
	}
	return nil
}

func (s *PGStore) Votes(ctx context.Context, id types.OrderID) ([]Vote, error) {
	rows, err := s.db.Query(ctx, `
        SELECT voter_address, outcome, voting_power, cast_at
        FROM dispute_votes
        WHERE dispute_id = $1
        ORDER BY cast_at, voter_address`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Vote
	for rows.Next() {
		v := Vote{DisputeID: id}
		var outcome string
		if err := rows.Scan(&v.Voter, &outcome, &v.Power, &v.CastAt); err != nil {
			return nil, err
		}
		v.Outcome = Outcome(outcome)
		out = append(out, v)
	}
	return out, rows.Err()
}

func (s *PGStore) Pending(ctx context.Context) ([]*Dispute, error) {
	rows, err := s.db.Query(ctx, `
        SELECT order_id FROM disputes
        WHERE state = $1 OR (state = $2 AND NOT order_finalized)
        ORDER BY order_id`, string(StateOpen), string(StateResolved))
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := make([]*Dispute, 0, len(ids))
	for _, id := range ids {
		d, err := s.Get(ctx, types.OrderID(id))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, nil
}

func scanDispute(ctx context.Context, q rowQuerier, sql string, id types.OrderID) (*Dispute, error) {
	var (
		d          Dispute
		disputeID  int64
		state      string
		outcome    *string
		resolvedAt *time.Time
	)
	err := q.QueryRow(ctx, sql, int64(id)).Scan(
		&disputeID, &state, &d.Tally.Client, &d.Tally.Merchant, &d.Tally.Courier,
		&outcome, &d.RefundPercent, &d.ResolutionTxRef, &d.OrderFinalized, &d.OpenedAt, &resolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &Error{Kind: ErrDisputeNotFound, DisputeID: id}
	}
	if err != nil {
		return nil, err
	}
	d.ID = types.OrderID(disputeID)
	d.State = State(state)
	d.ResolvedAt = resolvedAt
	if outcome != nil {
		o := Outcome(*outcome)
		d.Outcome = &o
	}
	return &d, nil
}

func powerColumn(o Outcome) (string, error) {
	switch o {
	case types.RoleClient:
		return "client_power", nil
	case types.RoleMerchant:
		return "merchant_power", nil
	case types.RoleCourier:
		return "courier_power", nil
	}
	return "", fmt.Errorf("%w: outcome %q", ErrInvalidVote, o)
}
