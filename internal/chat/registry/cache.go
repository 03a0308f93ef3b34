package registry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/encoding/json"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/metrics"
)

// Cache is the shared L2 in front of the store. Misses return ok=false, nil error.
type Cache interface {
	Get(ctx context.Context, orderID int64) (domain.ChannelState, bool, error)
	Set(ctx context.Context, st domain.ChannelState) error
	Del(ctx context.Context, orderID int64) error
}

type NopCache struct{}

func (NopCache) Get(context.Context, int64) (domain.ChannelState, bool, error) {
	return domain.ChannelState{}, false, nil
}

func (NopCache) Set(context.Context, domain.ChannelState) error { return nil }

func (NopCache) Del(context.Context, int64) error { return nil }

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisCache{client: c, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, orderID int64) (domain.ChannelState, bool, error) {
	key := cacheKey(orderID)
	b, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheOpsTotal.WithLabelValues("get", "miss").Inc()
		return domain.ChannelState{}, false, nil
	}
	if err != nil {
		metrics.CacheOpsTotal.WithLabelValues("get", "error").Inc()
		return domain.ChannelState{}, false, err
	}
	st, err := decodeState(b)
	if err != nil {
		// 缓存脏了就删掉，避免持续命中错误
		_ = r.client.Del(ctx, key).Err()
		metrics.CacheOpsTotal.WithLabelValues("get", "error").Inc()
		return domain.ChannelState{}, false, err
	}
	metrics.CacheOpsTotal.WithLabelValues("get", "hit").Inc()
	return st, true, nil
}

func (r *RedisCache) Set(ctx context.Context, st domain.ChannelState) error {
	b, err := json.Marshal(st)
	if err != nil {
		return err
	}
	// 加入随机时间 防止同时过期
	err = r.client.Set(ctx, cacheKey(st.Channel.OrderID), b, withJitter(r.ttl, r.ttl/10)).Err()
	metrics.CacheOpsTotal.WithLabelValues("set", resultLabel(err)).Inc()
	return err
}

func (r *RedisCache) Del(ctx context.Context, orderID int64) error {
	err := r.client.Del(ctx, cacheKey(orderID)).Err()
	metrics.CacheOpsTotal.WithLabelValues("del", resultLabel(err)).Inc()
	return err
}

func cacheKey(orderID int64) string {
	return fmt.Sprintf("chat:room:%d", orderID)
}

func decodeState(b []byte) (domain.ChannelState, error) {
	var st domain.ChannelState
	if err := json.Unmarshal(b, &st); err != nil {
		return domain.ChannelState{}, err
	}
	if st.Channel.ID == 0 || st.Channel.OrderID == 0 {
		return domain.ChannelState{}, errors.New("cached channel state incomplete")
	}
	return st, nil
}

func withJitter(ttl, jitter time.Duration) time.Duration {
	if ttl <= 0 || jitter <= 0 {
		return ttl
	}
	return ttl + time.Duration(rand.Int63n(int64(jitter)))
}

func resultLabel(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
