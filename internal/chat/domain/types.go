package domain

import "time"

type Role string

const (
	RoleAdmin   Role = "ADMIN"
	RoleRegular Role = "REGULAR"
)

// Principal is the verified caller. It is fixed for the lifetime of a request or connection.
type Principal struct {
	ID   int64 `json:"id"`
	Role Role  `json:"role"`
}

func (p Principal) IsAdmin() bool { return p.Role == RoleAdmin }

type OrderStatus string

const (
	OrderPending    OrderStatus = "Pending"
	OrderProcessing OrderStatus = "Processing"
	OrderCompleted  OrderStatus = "Completed"
)

// Valid reports whether s is an accepted target for a status update.
func (s OrderStatus) Valid() bool {
	return s == OrderProcessing || s == OrderCompleted
}

type Order struct {
	ID          int64       `json:"id"`
	OwnerID     int64       `json:"ownerId"`
	Status      OrderStatus `json:"status"`
	Description string      `json:"description,omitempty"`
}

// Channel is the chat room bound 1:1 to an order. Closed only ever goes false -> true.
type Channel struct {
	ID      int64  `json:"id"`
	OrderID int64  `json:"orderId"`
	Closed  bool   `json:"closed"`
	Summary string `json:"summary,omitempty"`
}

type Message struct {
	ID        int64     `json:"id"`
	ChannelID int64     `json:"channelId"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

// Sender carries only the public fields of a user.
type Sender struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

type MessageView struct {
	Message
	Sender Sender `json:"sender"`
}

// ChannelState is what the registry caches per order.
type ChannelState struct {
	Channel Channel `json:"channel"`
	Order   Order   `json:"order"`
}

type History struct {
	OrderID  int64         `json:"orderId"`
	Closed   bool          `json:"closed"`
	Summary  string        `json:"summary,omitempty"`
	Messages []MessageView `json:"messages"`
}
