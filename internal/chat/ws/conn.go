package ws

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"orderchat.com/internal/chat/broadcast"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/wsmetrics"
)

// Conn is one websocket client. It is a broadcast.Subscriber.
type Conn struct {
	id        string
	ws        *websocket.Conn
	principal domain.Principal

	send   chan []byte
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	reason atomic.Value // string

	mu    sync.Mutex
	rooms map[int64]struct{} // 断开时据此退订
}

var _ broadcast.Subscriber = (*Conn)(nil)

func newConn(ws *websocket.Conn, p domain.Principal, sendBuf int) *Conn {
	return &Conn{
		id:        uuid.NewString(),
		ws:        ws,
		principal: p,
		send:      make(chan []byte, sendBuf),
		done:      make(chan struct{}),
		rooms:     make(map[int64]struct{}, 4),
	}
}

func (c *Conn) ID() string { return c.id }

func (c *Conn) Principal() domain.Principal { return c.principal }

// Deliver queues payload without blocking. A full queue reports false.
func (c *Conn) Deliver(payload []byte) bool {
	if c.closed.Load() {
		return false
	}
	select {
	case c.send <- payload:
		return true
	default:
		wsmetrics.DroppedTotal.WithLabelValues("queue_full").Inc()
		return false
	}
}

// Kick asks the write loop to close the connection with reason.
func (c *Conn) Kick(reason string) {
	c.once.Do(func() {
		c.reason.Store(reason)
		c.closed.Store(true)
		close(c.done)
	})
}

func (c *Conn) kickReason() string {
	if s, ok := c.reason.Load().(string); ok {
		return s
	}
	return ""
}

func (c *Conn) joined(orderID int64) {
	c.mu.Lock()
	c.rooms[orderID] = struct{}{}
	c.mu.Unlock()
}

func (c *Conn) left(orderID int64) {
	c.mu.Lock()
	delete(c.rooms, orderID)
	c.mu.Unlock()
}

func (c *Conn) joinedRooms() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]int64, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	return out
}
