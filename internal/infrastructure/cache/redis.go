package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

func OpenRedis(addr string, db int) (*redis.Client, error) {
	r := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return r, nil
}

// Pinger lets a redis client stand in for the health check's PingContext.
type Pinger struct{ rdb *redis.Client }

func NewPinger(rdb *redis.Client) Pinger { return Pinger{rdb: rdb} }

func (p Pinger) PingContext(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }
