package xredis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"orderchat.com/pkg/metrics"
)

type Config struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func NewRedis(ctx context.Context, c *Config) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         c.Addr,
		Password:     c.Password,
		DB:           c.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     100,
		MinIdleConns: 10,
	})

	// 启动时 Ping 一下，确保连接通畅
	pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return rdb, nil
}

// ObservePool exports redis pool stats to prometheus until ctx is done.
func ObservePool(ctx context.Context, rdb *redis.Client, every time.Duration) {
	if every <= 0 {
		every = 15 * time.Second
	}
	go func() {
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				st := rdb.PoolStats()
				metrics.RedisPoolOpen.Set(float64(st.TotalConns))
				metrics.RedisPoolIdle.Set(float64(st.IdleConns))
				metrics.RedisPoolStale.Set(float64(st.StaleConns))
			}
		}
	}()
}
