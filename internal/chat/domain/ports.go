package domain

import "context"

// Authenticator turns a bearer credential into a verified principal.
type Authenticator interface {
	Authenticate(ctx context.Context, credential string) (Principal, error)
}

type OrderStore interface {
	GetOrder(ctx context.Context, orderID int64) (Order, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status OrderStatus) error
}

type ChannelStore interface {
	GetChannelByOrder(ctx context.Context, orderID int64) (Channel, error)
}

type MessageStore interface {
	// CreateMessage must refuse a closed channel with ErrChannelClosed.
	CreateMessage(ctx context.Context, channelID, senderID int64, content string) (Message, error)
	// ListMessages returns oldest first.
	ListMessages(ctx context.Context, channelID int64) ([]MessageView, error)
}

// Store is the full persistence boundary used by the chat core.
type Store interface {
	OrderStore
	ChannelStore
	MessageStore

	// CloseChannel flips the channel closed and moves the order to status in one commit.
	// A channel that is already closed yields ErrChannelAlreadyClosed and changes nothing.
	CloseChannel(ctx context.Context, orderID int64, summary string, status OrderStatus) (Channel, error)

	// CreateOrder creates an order together with its open channel.
	CreateOrder(ctx context.Context, ownerID int64, description string) (Order, Channel, error)
}
