package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	lockDomain "loan-lifecycle-engine/internal/domain/lock"
	"loan-lifecycle-engine/pkg/id"
)

const (
	redisLockPrefix = "lock:loan:"
	retryInterval   = 25 * time.Millisecond
)

// only the holder's token may delete the key
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker is a SET NX PX lock shared by every instance pointing at the same Redis.
// ttl bounds how long a crashed holder can block others and must exceed the slowest transition.
type RedisLocker struct {
	rdb *redis.Client
	ttl time.Duration
	log *zap.Logger
}

func NewRedisLocker(rdb *redis.Client, ttl time.Duration, log *zap.Logger) *RedisLocker {
	return &RedisLocker{rdb: rdb, ttl: ttl, log: log}
}

func (r *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := redisLockPrefix + key
	token := id.NewID32()

	t := time.NewTicker(retryInterval)
	defer t.Stop()
	for {
		ok, err := r.rdb.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s: %w", lockDomain.ErrNotAcquired, key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %w", lockDomain.ErrNotAcquired, key, ctx.Err())
		case <-t.C:
		}
	}

	return func() {
		// release must not depend on the caller's ctx, which may already be done
		rctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := releaseScript.Run(rctx, r.rdb, []string{k}, token).Err(); err != nil {
			r.log.Warn("lock: release failed", zap.String("key", k), zap.Error(err))
		}
	}, nil
}
