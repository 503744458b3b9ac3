package location

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"dropchain/internal/infra"
	"dropchain/internal/types"
)

func setupRedis(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("DROPCHAIN_TEST_REDIS")
	if addr == "" {
		t.Skip("DROPCHAIN_TEST_REDIS not set; skipping integration test")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestSetCourierPosition(t *testing.T) {
	rdb := setupRedis(t)
	svc := NewService(NewStore(rdb))
	ctx := context.Background()

	courier := types.ID(fmt.Sprintf("courier_test_%d", time.Now().UnixNano()))
	p := types.Point{Lat: 40.7128, Lng: -74.0060}
	if err := svc.SetCourierPosition(ctx, courier, 77, p); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() {
		rdb.ZRem(ctx, geoKey, string(courier))
		rdb.Del(ctx, positionKey+string(courier))
	})

	pos, err := rdb.GeoPos(ctx, geoKey, string(courier)).Result()
	if err != nil {
		t.Fatalf("failed to query redis geo: %v", err)
	}
	if len(pos) != 1 || pos[0] == nil {
		t.Fatalf("expected geo entry for %s", courier)
	}
	if diff := pos[0].Latitude - p.Lat; diff > 0.0001 || diff < -0.0001 {
		t.Errorf("latitude mismatch: got %f", pos[0].Latitude)
	}

	got, err := svc.CourierPosition(ctx, courier)
	if err != nil {
		t.Fatalf("courier position: %v", err)
	}
	if got.OrderID != 77 || got.Point != p {
		t.Errorf("unexpected position: %+v", got)
	}

	if _, err := svc.CourierPosition(ctx, "courier_missing"); !errors.Is(err, ErrNoPosition) {
		t.Errorf("expected ErrNoPosition, got %v", err)
	}
}

func TestNearbyCouriersOnlyAvailable(t *testing.T) {
	rdb := setupRedis(t)
	svc := NewService(NewStore(rdb))
	ctx := context.Background()

	suffix := time.Now().UnixNano()
	near := types.ID(fmt.Sprintf("near_%d", suffix))
	busy := types.ID(fmt.Sprintf("busy_%d", suffix))
	far := types.ID(fmt.Sprintf("far_%d", suffix))
	center := types.Point{Lat: 25.0330, Lng: 121.5654}

	for id, p := range map[types.ID]types.Point{
		near: {Lat: 25.0340, Lng: 121.5645},
		busy: {Lat: 25.0335, Lng: 121.5650},
		far:  {Lat: 24.1477, Lng: 120.6736},
	} {
		if err := svc.SetCourierPosition(ctx, id, 1, p); err != nil {
			t.Fatalf("set position: %v", err)
		}
	}
	rdb.SAdd(ctx, infra.AvailableCouriersKey, string(near), string(far))
	t.Cleanup(func() {
		rdb.ZRem(ctx, geoKey, string(near), string(busy), string(far))
		rdb.SRem(ctx, infra.AvailableCouriersKey, string(near), string(far))
	})

	got, err := svc.NearbyCouriers(ctx, center, 2)
	if err != nil {
		t.Fatalf("nearby: %v", err)
	}
	found := false
	for _, c := range got {
		if c.CourierID == busy || c.CourierID == far {
			t.Errorf("unexpected courier %s in result", c.CourierID)
		}
		if c.CourierID == near {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s in nearby result %v", near, got)
	}
}
