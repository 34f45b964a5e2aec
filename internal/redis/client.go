package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientOptions is the subset of connection settings the server exposes.
type ClientOptions struct {
	Addr     string
	Username string
	Password string
	DB       int
	PoolSize int
}

// Connect dials redis and fails fast if the first ping does not answer.
// The slot lock only needs a handful of short round trips, so the pool and
// timeouts are kept small.
func Connect(ctx context.Context, o ClientOptions) (*redis.Client, error) {
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:         o.Addr,
		Username:     o.Username,
		Password:     o.Password,
		DB:           o.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     o.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis %s unreachable: %w", o.Addr, err)
	}
	return rdb, nil
}
