package data

import (
	"context"
	"fmt"
	"time"

	"github.com/syncbridge/syncbridge/config"

	"github.com/redis/go-redis/v9"
)

func newRedisClient(ctx context.Context, conf *config.Redis) (*redis.Client, error) {
	rc := redis.NewClient(&redis.Options{
		Addr:         conf.Addr,
		Username:     conf.Username,
		Password:     conf.Password,
		DB:           conf.Db,
		ReadTimeout:  conf.ReadTimeout,
		WriteTimeout: conf.WriteTimeout,
		DialTimeout:  conf.DialTimeout,
		PoolSize:     10,
	})

	dialTimeout := conf.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	if err := rc.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}
	return rc, nil
}
