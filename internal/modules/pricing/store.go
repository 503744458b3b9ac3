// README: Pricing store backed by PostgreSQL.
package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNoRate = errors.New("no delivery rate for zone")

type Store struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

func (s *Store) GetRate(ctx context.Context, zone string) (Rate, error) {
	r := Rate{Zone: zone}
	err := s.db.QueryRow(ctx, `
        SELECT currency, base_fee, base_km, per_unit_fee, unit_km,
               peak_surcharge, night_surcharge, platform_fee_bps
        FROM delivery_rates
        WHERE zone = $1`, zone).Scan(
		&r.Currency, &r.BaseFee, &r.BaseKm, &r.PerUnitFee, &r.UnitKm,
		&r.PeakSurcharge, &r.NightSurcharge, &r.PlatformFeeBps,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Rate{}, fmt.Errorf("%w: %s", ErrNoRate, zone)
	}
	if err != nil {
		return Rate{}, err
	}
	return r, nil
}
