// README: Location store backed by Redis GEO plus a per-courier hash for the order context.
package location

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"dropchain/internal/infra"
	"dropchain/internal/types"
)

const (
	geoKey        = "geo:couriers"
	positionKey   = "courier:pos:"
	positionTTL   = 10 * time.Minute
	maxNearbyScan = 50
)

var ErrNoPosition = errors.New("no live position for courier")

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

func (s *Store) SetPosition(ctx context.Context, p Position) error {
	key := positionKey + string(p.CourierID)
	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.GeoAdd(ctx, geoKey, &redis.GeoLocation{
			Name:      string(p.CourierID),
			Longitude: p.Point.Lng,
			Latitude:  p.Point.Lat,
		})
		pipe.HSet(ctx, key,
			"order_id", int64(p.OrderID),
			"lat", p.Point.Lat,
			"lng", p.Point.Lng,
			"updated_at", p.UpdatedAt.UnixMilli(),
		)
		pipe.Expire(ctx, key, positionTTL)
		return nil
	})
	return err
}

func (s *Store) Position(ctx context.Context, courier types.ID) (Position, error) {
	vals, err := s.redis.HGetAll(ctx, positionKey+string(courier)).Result()
	if err != nil {
		return Position{}, err
	}
	if len(vals) == 0 {
		return Position{}, fmt.Errorf("%w: %s", ErrNoPosition, courier)
	}
	orderID, _ := strconv.ParseInt(vals["order_id"], 10, 64)
	lat, _ := strconv.ParseFloat(vals["lat"], 64)
	lng, _ := strconv.ParseFloat(vals["lng"], 64)
	ms, _ := strconv.ParseInt(vals["updated_at"], 10, 64)
	return Position{
		CourierID: courier,
		OrderID:   types.OrderID(orderID),
		Point:     types.Point{Lat: lat, Lng: lng},
		UpdatedAt: time.UnixMilli(ms).UTC(),
	}, nil
}

// Nearby returns couriers within radiusKm that are in the availability set.
func (s *Store) Nearby(ctx context.Context, center types.Point, radiusKm float64) ([]NearbyCourier, error) {
	locs, err := s.redis.GeoSearchLocation(ctx, geoKey, &redis.GeoSearchLocationQuery{
		GeoSearchQuery: redis.GeoSearchQuery{
			Longitude:  center.Lng,
			Latitude:   center.Lat,
			Radius:     radiusKm,
			RadiusUnit: "km",
			Sort:       "ASC",
			Count:      maxNearbyScan,
		},
		WithCoord: true,
	}).Result()
	if err != nil {
		return nil, err
	}
	if len(locs) == 0 {
		return nil, nil
	}
	names := make([]any, len(locs))
	for i, l := range locs {
		names[i] = l.Name
	}
	avail, err := s.redis.SMIsMember(ctx, infra.AvailableCouriersKey, names...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]NearbyCourier, 0, len(locs))
	for i, l := range locs {
		if !avail[i] {
			continue
		}
		out = append(out, NearbyCourier{
			CourierID:  types.ID(l.Name),
			DistanceKm: haversineKm(center.Lat, center.Lng, l.Latitude, l.Longitude),
		})
	}
	return out, nil
}
