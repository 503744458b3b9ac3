// README: Order projection backed by PostgreSQL; transitions run under a row lock.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"dropchain/internal/types"
)

type Store struct {
	db *pgxpool.Pool
}

var _ Projection = (*Store)(nil)

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const orderColumns = `
    id, ledger_tx_ref, client_id, merchant_id, courier_id, line_items,
    goods_amount, delivery_fee, platform_fee, total_amount, currency,
    status, status_version, dispute_reason, dispute_evidence_ref, disputed_from,
    created_at, preparing_at, assigned_at, picked_up_at, disputed_at, completed_at, resolved_at`

func (s *Store) Get(ctx context.Context, id types.OrderID) (*Order, error) {
	return scanOrder(ctx, s.db, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *Store) CreateIfAbsent(ctx context.Context, o *Order) (*Order, bool, error) {
	items, err := json.Marshal(o.LineItems)
	if err != nil {
		return nil, false, err
	}
	tag, err := s.db.Exec(ctx, `
        INSERT INTO orders (
            id, ledger_tx_ref, client_id, merchant_id, courier_id, line_items,
            goods_amount, delivery_fee, platform_fee, total_amount, currency,
            status, status_version, created_at
        ) VALUES (
            $1, $2, $3, $4, $5, $6,
            $7, $8, $9, $10, $11,
            $12, 0, $13
        )
        ON CONFLICT (id) DO NOTHING`,
		int64(o.ID),
		o.LedgerTxRef,
		string(o.ClientID),
		string(o.MerchantID),
		toStringPtr(o.CourierID),
		string(items),
		o.Breakdown.Goods, o.Breakdown.DeliveryFee, o.Breakdown.PlatformFee, o.Breakdown.Total,
		o.Breakdown.Currency,
		string(o.Status),
		o.CreatedAt,
	)
	if err != nil {
		return nil, false, err
	}
	rec, err := s.Get(ctx, o.ID)
	if err != nil {
		return nil, false, err
	}
	return rec, tag.RowsAffected() == 1, nil
}

func (s *Store) TransitionIfCurrent(ctx context.Context, id types.OrderID, expected Status, mut Mutation) (*Order, bool, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	cur, err := scanOrder(ctx, tx, `SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		return nil, false, err
	}
	if cur.Status != expected {
		return cur, false, nil
	}
	work := cur.Clone()
	if err := mut(work); err != nil {
		return cur, false, err
	}
	keepImmutable(work, cur)

	tag, err := tx.Exec(ctx, `
        UPDATE orders
        SET status = $1,
            status_version = status_version + 1,
            courier_id = $2,
            dispute_reason = $3,
            dispute_evidence_ref = $4,
            disputed_from = $5,
            preparing_at = $6,
            assigned_at = $7,
            picked_up_at = $8,
            disputed_at = $9,
            completed_at = $10,
            resolved_at = $11
        WHERE id = $12 AND status = $13 AND status_version = $14`,
		string(work.Status),
		toStringPtr(work.CourierID),
		work.DisputeReason,
		work.DisputeEvidenceRef,
		statusPtr(work.DisputedFrom),
		work.PreparingAt, work.AssignedAt, work.PickedUpAt, work.DisputedAt, work.CompletedAt, work.ResolvedAt,
		int64(id),
		string(cur.Status),
		cur.StatusVersion,
	)
	if err != nil {
		return nil, false, err
	}
	if tag.RowsAffected() != 1 {
		return cur, false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, err
	}
	work.StatusVersion = cur.StatusVersion + 1
	return work, true, nil
}

func (s *Store) AppendGPS(ctx context.Context, id types.OrderID, sample types.Sample) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var status Status
	// FOR SHARE conflicts with the transition row lock, so a sample can never
	// land after the order has left delivery.
	err = tx.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1 FOR SHARE`, int64(id)).Scan(&status)
	if errors.Is(err, pgx.ErrNoRows) {
		return &Error{Kind: ErrNotFound, OrderID: id}
	}
	if err != nil {
		return err
	}
	if status != StatusInDelivery {
		return &Error{Kind: ErrNotInDelivery, OrderID: id, Status: status}
	}
	if _, err := tx.Exec(ctx, `
        INSERT INTO order_gps_samples (order_id, lat, lng, recorded_at)
        VALUES ($1, $2, $3, $4)`,
		int64(id), sample.Lat, sample.Lng, sample.RecordedAt,
	); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) Trail(ctx context.Context, id types.OrderID) ([]types.Sample, error) {
	rows, err := s.db.Query(ctx, `
        SELECT lat, lng, recorded_at FROM order_gps_samples
        WHERE order_id = $1 ORDER BY id`, int64(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.Sample
	for rows.Next() {
		var smp types.Sample
		if err := rows.Scan(&smp.Lat, &smp.Lng, &smp.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, smp)
	}
	return out, rows.Err()
}

func (s *Store) AppendEvent(ctx context.Context, e *Event) error {
	return s.db.QueryRow(ctx, `
        INSERT INTO order_state_events (
            order_id, from_status, to_status, actor_type, actor_id, ledger_tx_ref, synthetic, created_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id`,
		int64(e.OrderID),
		string(e.FromStatus),
		string(e.ToStatus),
		string(e.ActorType),
		toStringPtr(e.ActorID),
		e.LedgerTxRef,
		e.Synthetic,
		e.CreatedAt,
	).Scan(&e.ID)
}

func (s *Store) Events(ctx context.Context, id types.OrderID) ([]Event, error) {
	return s.queryEvents(ctx, `WHERE order_id = $1`, int64(id))
}

func (s *Store) ReconciliationDebts(ctx context.Context) ([]Event, error) {
	return s.queryEvents(ctx, `WHERE synthetic`)
}

func (s *Store) queryEvents(ctx context.Context, where string, args ...any) ([]Event, error) {
	rows, err := s.db.Query(ctx, `
        SELECT id, order_id, from_status, to_status, actor_type, actor_id, ledger_tx_ref, synthetic, created_at
        FROM order_state_events `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var orderID int64
		var actorID *string
		if err := rows.Scan(&e.ID, &orderID, &e.FromStatus, &e.ToStatus, &e.ActorType, &actorID,
			&e.LedgerTxRef, &e.Synthetic, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.OrderID = types.OrderID(orderID)
		if actorID != nil {
			a := types.ID(*actorID)
			e.ActorID = &a
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanOrder(ctx context.Context, q rowQuerier, sql string, id types.OrderID) (*Order, error) {
	var o Order
	var orderID int64
	var courierID, disputedFrom *string
	var items []byte

	err := q.QueryRow(ctx, sql, int64(id)).Scan(
		&orderID, &o.LedgerTxRef, &o.ClientID, &o.MerchantID, &courierID, &items,
		&o.Breakdown.Goods, &o.Breakdown.DeliveryFee, &o.Breakdown.PlatformFee, &o.Breakdown.Total, &o.Breakdown.Currency,
		&o.Status, &o.StatusVersion, &o.DisputeReason, &o.DisputeEvidenceRef, &disputedFrom,
		&o.CreatedAt, &o.PreparingAt, &o.AssignedAt, &o.PickedUpAt, &o.DisputedAt, &o.CompletedAt, &o.ResolvedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, &Error{Kind: ErrNotFound, OrderID: id}
	}
	if err != nil {
		return nil, err
	}
	o.ID = types.OrderID(orderID)
	if err := json.Unmarshal(items, &o.LineItems); err != nil {
		return nil, fmt.Errorf("order %d: decode line items: %w", orderID, err)
	}
	if courierID != nil {
		c := types.ID(*courierID)
		o.CourierID = &c
	}
	if disputedFrom != nil {
		st := Status(*disputedFrom)
		o.DisputedFrom = &st
	}
	return &o, nil
}

func toStringPtr(v *types.ID) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}

func statusPtr(v *Status) *string {
	if v == nil {
		return nil
	}
	s := string(*v)
	return &s
}
