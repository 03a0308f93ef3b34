// Package service is the single entry point the HTTP and websocket transports call.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"orderchat.com/internal/chat/access"
	"orderchat.com/internal/chat/broadcast"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/pipeline"
	"orderchat.com/internal/chat/registry"
	"orderchat.com/pkg/logger"
)

type Options struct {
	Cache            registry.Cache
	Relay            broadcast.Broker
	NodeID           string
	MaxContentLength int
	// IdleChannelTTL evicts channels nobody touched or watches for this long; 0 keeps them.
	IdleChannelTTL   time.Duration
}

type Chat struct {
	store   domain.Store
	reg     *registry.Registry
	bc      *broadcast.Broadcaster
	pipe    *pipeline.Pipeline
	idleTTL time.Duration
}

func New(store domain.Store, opt Options) *Chat {
	reg := registry.New(store, opt.Cache)

	var bopts []broadcast.Option
	if opt.Relay != nil {
		bopts = append(bopts, broadcast.WithRelay(opt.Relay))
	}
	if opt.NodeID != "" {
		bopts = append(bopts, broadcast.WithNodeID(opt.NodeID))
	}
	bc := broadcast.New(reg, bopts...)

	pipe := pipeline.New(reg, store,
		pipeline.WithMaxContentLength(opt.MaxContentLength),
		// 在频道锁里广播，保证推送顺序和落库顺序一致
		pipeline.WithAfterPersist(bc.Publish),
	)
	return &Chat{store: store, reg: reg, bc: bc, pipe: pipe, idleTTL: opt.IdleChannelTTL}
}

// Start hooks this node into the relay and starts the idle channel sweep.
// Remote closes flip the local registry.
func (c *Chat) Start(ctx context.Context) error {
	if err := c.bc.RunRelay(ctx, c.reg.MarkClosed); err != nil {
		return err
	}
	c.reg.StartJanitor(ctx, c.idleTTL/2, c.idleTTL)
	return nil
}

func (c *Chat) NodeID() string { return c.bc.NodeID() }

func (c *Chat) SendMessage(ctx context.Context, orderID int64, sender domain.Principal, content string) (domain.Message, error) {
	m, err := c.pipe.Send(ctx, orderID, sender, content)
	if err != nil {
		return domain.Message{}, err
	}
	logger.Debug(ctx, "message sent",
		zap.Int64("order_id", orderID),
		zap.Int64("message_id", m.ID),
		zap.Int64("sender_id", sender.ID),
	)
	return m, nil
}

func (c *Chat) GetMessages(ctx context.Context, orderID int64, requester domain.Principal) ([]domain.MessageView, error) {
	return c.pipe.Fetch(ctx, orderID, requester)
}

func (c *Chat) CloseChat(ctx context.Context, orderID int64, admin domain.Principal, summary string) (domain.Channel, error) {
	ch, err := c.pipe.Close(ctx, orderID, admin, summary)
	if err != nil {
		return domain.Channel{}, err
	}
	logger.Info(ctx, "chat closed", zap.Int64("order_id", orderID), zap.Int64("admin_id", admin.ID))
	c.bc.PublishClosed(ctx, ch)
	return ch, nil
}

func (c *Chat) History(ctx context.Context, orderID int64, admin domain.Principal) (domain.History, error) {
	return c.pipe.History(ctx, orderID, admin)
}

// JoinRoom subscribes sub to the order's room once p is known to be a participant.
func (c *Chat) JoinRoom(ctx context.Context, sub broadcast.Subscriber, p domain.Principal, orderID int64) error {
	if orderID <= 0 {
		return broadcast.ErrInvalidOrderID
	}
	st, err := c.reg.Get(ctx, orderID)
	if err != nil {
		return err
	}
	if err := access.AuthorizeParticipant(p, st.Order); err != nil {
		return err
	}
	return c.bc.Join(sub, orderID)
}

func (c *Chat) LeaveRoom(subID string, orderID int64) {
	c.bc.Leave(subID, orderID)
}

// CreateOrder creates an order with its open channel. Used for seeding.
func (c *Chat) CreateOrder(ctx context.Context, ownerID int64, description string) (domain.Order, domain.Channel, error) {
	return c.store.CreateOrder(ctx, ownerID, description)
}
