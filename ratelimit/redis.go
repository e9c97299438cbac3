package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// checkScript opens a window with SET PX, increments while below max and
// leaves the counter untouched once the budget is spent. INCR keeps the
// key's TTL, so the window boundary is fixed at the first attempt.
const checkScript = `
local current = redis.call("GET", KEYS[1])
if not current then
  redis.call("SET", KEYS[1], 1, "PX", ARGV[2])
  return 1
end
if tonumber(current) >= tonumber(ARGV[1]) then
  return 0
end
redis.call("INCR", KEYS[1])
return 1
`

var checkLua = redis.NewScript(checkScript)

// Redis is a Limiter backed by Redis counters whose TTL is the window.
type Redis struct {
	redis  redis.UniversalClient
	prefix string
}

// NewRedis creates a limiter storing counters under prefix.
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "rl"
	}
	return &Redis{redis: client, prefix: prefix}
}

func (r *Redis) key(id string) string {
	return r.prefix + ":" + id
}

// Check implements Limiter.
//
//	Performance: 1 EVALSHA.
func (r *Redis) Check(ctx context.Context, id string, max int, window time.Duration) (bool, error) {
	if err := validate(max, window); err != nil {
		return false, err
	}
	allowed, err := checkLua.Run(ctx, r.redis, []string{r.key(id)}, max, window.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return allowed == 1, nil
}

// Reset implements Limiter.
func (r *Redis) Reset(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, r.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remaining implements Limiter.
func (r *Redis) Remaining(ctx context.Context, id string, max int) (int, error) {
	count, err := r.redis.Get(ctx, r.key(id)).Int()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return max, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return remaining(max, count), nil
}
