package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("lease",
	fx.Provide(NewRedisLease),
)

// Lease is a coarse single-holder lock. The payout allocator takes one per
// period label so two allocation passes can never interleave.
type Lease interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error)
}

type Release func(ctx context.Context) error

var ErrHeld = fmt.Errorf("lease already held")

type RedisLease struct {
	rdb *redis.Client
}

type Params struct {
	fx.In

	Redis *redis.Client
}

func NewRedisLease(p Params) Lease {
	return &RedisLease{rdb: p.Redis}
}

func (l *RedisLease) Acquire(ctx context.Context, key string, ttl time.Duration) (Release, error) {
	fullKey := buildKey(key)
	ok, err := l.rdb.SetNX(ctx, fullKey, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrHeld
	}

	return func(ctx context.Context) error {
		return l.rdb.Del(ctx, fullKey).Err()
	}, nil
}

// buildKey returns "lease:{key}", following the shared key convention.
func buildKey(key string) string {
	return fmt.Sprintf("lease:%s", key)
}
