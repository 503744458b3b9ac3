// README: Redis client initialization for notifications, courier availability and live positions.
package infra

import "github.com/redis/go-redis/v9"

// AvailableCouriersKey is the set of couriers currently accepting work.
const AvailableCouriersKey = "couriers:available"

func NewRedis(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{Addr: addr})
}
