// Package memory is an in-process domain.Store for tests and local runs.
package memory

import (
	"context"
	"sync"
	"time"

	"orderchat.com/internal/chat/domain"
)

type Store struct {
	mu sync.Mutex

	nextOrderID   int64
	nextChannelID int64
	nextMessageID int64

	orders    map[int64]domain.Order
	channels  map[int64]domain.Channel // orderID -> channel
	chanOrder map[int64]int64          // channelID -> orderID
	messages  map[int64][]domain.Message
	emails    map[int64]string

	now func() time.Time
}

var _ domain.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		orders:    make(map[int64]domain.Order),
		channels:  make(map[int64]domain.Channel),
		chanOrder: make(map[int64]int64),
		messages:  make(map[int64][]domain.Message),
		emails:    make(map[int64]string),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PutUser registers the public profile used for message senders.
func (s *Store) PutUser(id int64, email string) {
	s.mu.Lock()
	s.emails[id] = email
	s.mu.Unlock()
}

func (s *Store) CreateOrder(_ context.Context, ownerID int64, description string) (domain.Order, domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextOrderID++
	s.nextChannelID++
	o := domain.Order{ID: s.nextOrderID, OwnerID: ownerID, Status: domain.OrderPending, Description: description}
	c := domain.Channel{ID: s.nextChannelID, OrderID: o.ID}
	s.orders[o.ID] = o
	s.channels[o.ID] = c
	s.chanOrder[c.ID] = o.ID
	return o, c, nil
}

func (s *Store) GetOrder(_ context.Context, orderID int64) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return o, nil
}

func (s *Store) UpdateOrderStatus(_ context.Context, orderID int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	o.Status = status
	s.orders[orderID] = o
	return nil
}

func (s *Store) GetChannelByOrder(_ context.Context, orderID int64) (domain.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.channels[orderID]
	if !ok {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	return c, nil
}

func (s *Store) CreateMessage(_ context.Context, channelID, senderID int64, content string) (domain.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	orderID, ok := s.chanOrder[channelID]
	if !ok {
		return domain.Message{}, domain.ErrChannelNotFound
	}
	if s.channels[orderID].Closed {
		return domain.Message{}, domain.ErrChannelClosed
	}
	s.nextMessageID++
	m := domain.Message{
		ID:        s.nextMessageID,
		ChannelID: channelID,
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now(),
	}
	s.messages[channelID] = append(s.messages[channelID], m)
	return m, nil
}

func (s *Store) ListMessages(_ context.Context, channelID int64) ([]domain.MessageView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.chanOrder[channelID]; !ok {
		return nil, domain.ErrChannelNotFound
	}
	src := s.messages[channelID]
	out := make([]domain.MessageView, 0, len(src))
	for _, m := range src {
		out = append(out, domain.MessageView{
			Message: m,
			Sender:  domain.Sender{ID: m.SenderID, Email: s.emails[m.SenderID]},
		})
	}
	return out, nil
}

func (s *Store) CloseChannel(_ context.Context, orderID int64, summary string, status domain.OrderStatus) (domain.Channel, error) {
	if !status.Valid() {
		return domain.Channel{}, domain.ErrInvalidStatus
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.channels[orderID]
	if !ok {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	if c.Closed {
		return domain.Channel{}, domain.ErrChannelAlreadyClosed
	}
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Channel{}, domain.ErrOrderNotFound
	}
	// 同一把锁内两处一起改
	c.Closed = true
	c.Summary = summary
	o.Status = status
	s.channels[orderID] = c
	s.orders[orderID] = o
	return c, nil
}
