// Package broadcast pushes chat events to every live subscriber of a channel
// and relays them to the other service nodes.
package broadcast

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/internal/chat/wsmetrics"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/xerr"
)

type Subscriber = registry.Subscriber

// Rooms is the subscription table; *registry.Registry implements it.
type Rooms interface {
	Subscribe(sub Subscriber, orderID int64)
	Unsubscribe(subID string, orderID int64)
	Subscribers(orderID int64) []Subscriber
	// NoteDelivered and InOrder keep local and relayed messages in id order.
	NoteDelivered(orderID, msgID int64)
	InOrder(orderID, msgID int64, fn func()) bool
}

var ErrInvalidOrderID = xerr.New(xerr.RequestParamsError, "Order ID must be a valid number.")

const KickSlowConsumer = "slow consumer"

type Broadcaster struct {
	rooms  Rooms
	relay  Broker
	nodeID string
}

type Option func(*Broadcaster)

// WithRelay mirrors every local publish onto broker for the other nodes.
func WithRelay(broker Broker) Option {
	return func(b *Broadcaster) { b.relay = broker }
}

func WithNodeID(id string) Option {
	return func(b *Broadcaster) { b.nodeID = id }
}

func New(rooms Rooms, opts ...Option) *Broadcaster {
	b := &Broadcaster{rooms: rooms, nodeID: uuid.NewString()}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Broadcaster) NodeID() string { return b.nodeID }

// Join acknowledges sub with joinedRoom and then subscribes it, so the ack is
// always the first frame the room produces for that subscriber.
func (b *Broadcaster) Join(sub Subscriber, orderID int64) error {
	if orderID <= 0 {
		return ErrInvalidOrderID
	}
	ack, err := Encode(EventJoinedRoom, RoomData{OrderID: orderID})
	if err != nil {
		return xerr.Wrap(err, xerr.ServerCommonError, "")
	}
	sub.Deliver(ack)
	b.rooms.Subscribe(sub, orderID)
	wsmetrics.SubOpsTotal.WithLabelValues("join").Inc()
	return nil
}

// Leave never fails; leaving a room that was never joined is a no-op.
func (b *Broadcaster) Leave(subID string, orderID int64) {
	b.rooms.Unsubscribe(subID, orderID)
	wsmetrics.SubOpsTotal.WithLabelValues("leave").Inc()
}

// Publish fans a persisted message out to the room. It must run inside the
// channel critical section that persisted m; it never blocks on a subscriber.
func (b *Broadcaster) Publish(ctx context.Context, orderID int64, m domain.Message) {
	payload, err := EncodeMessage(m)
	if err != nil {
		logger.Error(ctx, "encode newMessage failed", zap.Int64("order_id", orderID), zap.Error(err))
		return
	}
	b.rooms.NoteDelivered(orderID, m.ID)
	b.fanout(ctx, orderID, payload)
	b.forward(ctx, Envelope{Type: EnvelopeMessage, OrderID: orderID, MessageID: m.ID, Payload: payload})
}

// PublishClosed tells the room the chat was closed.
func (b *Broadcaster) PublishClosed(ctx context.Context, ch domain.Channel) {
	payload, err := EncodeClosed(ch)
	if err != nil {
		logger.Error(ctx, "encode chatClosed failed", zap.Int64("order_id", ch.OrderID), zap.Error(err))
		return
	}
	b.fanout(ctx, ch.OrderID, payload)
	b.forward(ctx, Envelope{Type: EnvelopeClosed, OrderID: ch.OrderID, Summary: ch.Summary, Payload: payload})
}

func (b *Broadcaster) fanout(ctx context.Context, orderID int64, payload []byte) int {
	subs := b.rooms.Subscribers(orderID)
	delivered := 0
	for _, s := range subs {
		if s.Deliver(payload) {
			delivered++
			continue
		}
		// 慢连接直接踢掉，不拖累其他人
		b.rooms.Unsubscribe(s.ID(), orderID)
		s.Kick(KickSlowConsumer)
		metrics.SubscribersKickedTotal.Inc()
		logger.Warn(ctx, "subscriber kicked",
			zap.String("sub_id", s.ID()),
			zap.Int64("order_id", orderID),
		)
	}
	metrics.FanoutSize.Observe(float64(delivered))
	return delivered
}
