// README: Role registry kept off-chain: Postgres for roles and stakes, Redis for live availability.
package roles

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"dropchain/internal/infra"
	"dropchain/internal/modules/order"
	"dropchain/internal/types"
)

type Offchain struct {
	db    *pgxpool.Pool
	redis *redis.Client
}

var _ order.RoleProvider = (*Offchain)(nil)

func NewOffchain(db *pgxpool.Pool, redis *redis.Client) *Offchain {
	return &Offchain{db: db, redis: redis}
}

func (r *Offchain) HasRole(ctx context.Context, actor types.ID, role types.Role) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM actor_roles WHERE actor_id = $1 AND role = $2)`,
		string(actor), string(role),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("lookup role %s of %s: %w", role, actor, err)
	}
	return ok, nil
}

func (r *Offchain) CourierStatus(ctx context.Context, courier types.ID) (types.CourierStatus, error) {
	var st types.CourierStatus
	err := r.db.QueryRow(ctx, `SELECT staked FROM courier_stakes WHERE courier_id = $1`, string(courier)).Scan(&st.Staked)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return st, fmt.Errorf("lookup stake of %s: %w", courier, err)
	}
	st.Available, err = r.redis.SIsMember(ctx, infra.AvailableCouriersKey, string(courier)).Result()
	if err != nil {
		return st, fmt.Errorf("lookup availability of %s: %w", courier, err)
	}
	return st, nil
}

// Grant registers actor in role.
func (r *Offchain) Grant(ctx context.Context, actor types.ID, role types.Role) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO actor_roles (actor_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		string(actor), string(role),
	)
	return err
}

func (r *Offchain) SetStaked(ctx context.Context, courier types.ID, staked bool) error {
	_, err := r.db.Exec(ctx, `
        INSERT INTO courier_stakes (courier_id, staked) VALUES ($1, $2)
        ON CONFLICT (courier_id) DO UPDATE SET staked = EXCLUDED.staked`,
		string(courier), staked,
	)
	return err
}

// SetAvailable adds or removes the courier from the availability set.
func (r *Offchain) SetAvailable(ctx context.Context, courier types.ID, available bool) error {
	if available {
		return r.redis.SAdd(ctx, infra.AvailableCouriersKey, string(courier)).Err()
	}
	return r.redis.SRem(ctx, infra.AvailableCouriersKey, string(courier)).Err()
}
