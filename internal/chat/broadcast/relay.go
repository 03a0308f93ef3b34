package broadcast

import (
	"context"

	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/safe"
)

const RelayTopic = "chat:relay"

const (
	EnvelopeMessage = "message"
	EnvelopeClosed  = "closed"
)

// Envelope is what travels between nodes. Payload is the already encoded frame.
type Envelope struct {
	Origin    string          `json:"origin"`
	Type      string          `json:"type"`
	OrderID   int64           `json:"orderId"`
	MessageID int64           `json:"messageId,omitempty"`
	Summary   string          `json:"summary,omitempty"`
	Payload   json.RawMessage `json:"payload"`
}

func (b *Broadcaster) forward(ctx context.Context, env Envelope) {
	if b.relay == nil {
		return
	}
	env.Origin = b.nodeID
	raw, err := json.Marshal(env)
	if err != nil {
		metrics.RelayErrorsTotal.WithLabelValues("encode").Inc()
		return
	}
	if err := b.relay.Publish(ctx, RelayTopic, raw); err != nil {
		metrics.RelayErrorsTotal.WithLabelValues("publish").Inc()
		logger.Warn(ctx, "relay publish failed", zap.Int64("order_id", env.OrderID), zap.Error(err))
	}
}

// RunRelay delivers envelopes published by other nodes to local subscribers.
// onClosed runs for remote closes before the chatClosed frame goes out.
// It returns once the subscription is set up; delivery stops when ctx is done.
func (b *Broadcaster) RunRelay(ctx context.Context, onClosed func(ctx context.Context, orderID int64, summary string)) error {
	if b.relay == nil {
		return nil
	}
	ch, err := b.relay.Subscribe(ctx, []string{RelayTopic})
	if err != nil {
		return err
	}
	safe.GoCtx(ctx, func(ctx context.Context) {
		for msg := range ch {
			b.handleRemote(ctx, msg.Payload, onClosed)
		}
	})
	return nil
}

func (b *Broadcaster) handleRemote(ctx context.Context, raw []byte, onClosed func(context.Context, int64, string)) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.RelayErrorsTotal.WithLabelValues("decode").Inc()
		return
	}
	if env.Origin == b.nodeID || env.OrderID <= 0 {
		return
	}
	switch env.Type {
	case EnvelopeMessage:
		// 走频道锁：本节点正在落库推送的消息先发完，旧 id 直接丢弃
		ok := b.rooms.InOrder(env.OrderID, env.MessageID, func() {
			b.fanout(ctx, env.OrderID, env.Payload)
		})
		if !ok {
			metrics.RelayErrorsTotal.WithLabelValues("stale").Inc()
			logger.Debug(ctx, "stale relayed message dropped",
				zap.Int64("order_id", env.OrderID),
				zap.Int64("message_id", env.MessageID),
			)
		}
	case EnvelopeClosed:
		if onClosed != nil {
			onClosed(ctx, env.OrderID, env.Summary)
		}
		b.fanout(ctx, env.OrderID, env.Payload)
	default:
		metrics.RelayErrorsTotal.WithLabelValues("unknown_type").Inc()
	}
}
