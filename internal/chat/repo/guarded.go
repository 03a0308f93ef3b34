// Package repo holds the store decorators shared by every domain.Store backend.
package repo

import (
	"context"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/xerr"
)

const BreakerName = "chat-store"

// Guarded runs every store call through a circuit breaker. Domain rejections
// (not found, closed, ...) count as successes; only infrastructure failures trip it.
type Guarded struct {
	inner domain.Store
	cb    *gobreaker.CircuitBreaker[any]
}

var _ domain.Store = (*Guarded)(nil)

func NewGuarded(inner domain.Store, m *ratelimit.Manager) *Guarded {
	return &Guarded{inner: inner, cb: m.Get(BreakerName)}
}

func do[T any](ctx context.Context, g *Guarded, op string, fn func() (T, error)) (T, error) {
	var zero T
	v, err := g.cb.Execute(func() (any, error) { return fn() })
	if err != nil {
		if ratelimit.IsOpen(err) {
			metrics.CBRejectTotal.WithLabelValues(BreakerName).Inc()
			logger.Warn(ctx, "store call rejected by breaker", zap.String("op", op), zap.Error(err))
		}
		return zero, xerr.Classify(err, xerr.Unavailable)
	}
	return v.(T), nil
}

func (g *Guarded) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	return do(ctx, g, "get_order", func() (domain.Order, error) { return g.inner.GetOrder(ctx, orderID) })
}

func (g *Guarded) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	_, err := do(ctx, g, "update_order_status", func() (struct{}, error) {
		return struct{}{}, g.inner.UpdateOrderStatus(ctx, orderID, status)
	})
	return err
}

func (g *Guarded) GetChannelByOrder(ctx context.Context, orderID int64) (domain.Channel, error) {
	return do(ctx, g, "get_channel", func() (domain.Channel, error) { return g.inner.GetChannelByOrder(ctx, orderID) })
}

func (g *Guarded) CreateMessage(ctx context.Context, channelID, senderID int64, content string) (domain.Message, error) {
	return do(ctx, g, "create_message", func() (domain.Message, error) {
		return g.inner.CreateMessage(ctx, channelID, senderID, content)
	})
}

func (g *Guarded) ListMessages(ctx context.Context, channelID int64) ([]domain.MessageView, error) {
	return do(ctx, g, "list_messages", func() ([]domain.MessageView, error) { return g.inner.ListMessages(ctx, channelID) })
}

func (g *Guarded) CloseChannel(ctx context.Context, orderID int64, summary string, status domain.OrderStatus) (domain.Channel, error) {
	return do(ctx, g, "close_channel", func() (domain.Channel, error) {
		return g.inner.CloseChannel(ctx, orderID, summary, status)
	})
}

type created struct {
	order   domain.Order
	channel domain.Channel
}

func (g *Guarded) CreateOrder(ctx context.Context, ownerID int64, description string) (domain.Order, domain.Channel, error) {
	c, err := do(ctx, g, "create_order", func() (created, error) {
		o, ch, err := g.inner.CreateOrder(ctx, ownerID, description)
		return created{o, ch}, err
	})
	return c.order, c.channel, err
}
