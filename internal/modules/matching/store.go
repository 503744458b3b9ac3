// README: Dispatch attempt log backed by Redis sets.
package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"dropchain/internal/types"
)

const (
	attemptKeyPrefix = "matching:order:%d:attempted"
	// Orders are assigned or abandoned well within a day.
	keyTTL = 24 * time.Hour
)

type Store struct {
	redis *redis.Client
}

func NewStore(redis *redis.Client) *Store {
	return &Store{redis: redis}
}

// RecordAttempt remembers couriers that were offered the order and could not take it.
func (s *Store) RecordAttempt(ctx context.Context, orderID types.OrderID, couriers ...types.ID) error {
	if len(couriers) == 0 {
		return nil
	}
	members := make([]interface{}, len(couriers))
	for i, c := range couriers {
		members[i] = string(c)
	}
	pipe := s.redis.Pipeline()
	pipe.SAdd(ctx, attemptKey(orderID), members...)
	pipe.Expire(ctx, attemptKey(orderID), keyTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *Store) Attempted(ctx context.Context, orderID types.OrderID) (map[types.ID]bool, error) {
	ids, err := s.redis.SMembers(ctx, attemptKey(orderID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[types.ID]bool, len(ids))
	for _, id := range ids {
		out[types.ID(id)] = true
	}
	return out, nil
}

func attemptKey(orderID types.OrderID) string {
	return fmt.Sprintf(attemptKeyPrefix, orderID)
}
