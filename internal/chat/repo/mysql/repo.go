package mysql

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/repo/model"
)

type txKey struct{}

type Repo struct {
	db  *gorm.DB
	now func() time.Time
}

var _ domain.Store = (*Repo)(nil)

func New(db *gorm.DB) *Repo {
	return &Repo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *Repo) Transaction(ctx context.Context, fn func(txCtx context.Context) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		txCtx := context.WithValue(ctx, txKey{}, tx)
		return fn(txCtx)
	})
}

func (r *Repo) getDb(ctx context.Context) *gorm.DB {
	if tx, ok := ctx.Value(txKey{}).(*gorm.DB); ok && tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Migrate creates or updates the chat tables.
func (r *Repo) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&model.User{}, &model.Order{}, &model.ChatRoom{}, &model.Message{})
}

func (r *Repo) CreateOrder(ctx context.Context, ownerID int64, description string) (domain.Order, domain.Channel, error) {
	var o model.Order
	var room model.ChatRoom
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		o = model.Order{UserID: ownerID, Description: description, Status: string(domain.OrderPending)}
		if err := r.getDb(txCtx).Create(&o).Error; err != nil {
			return err
		}
		// 订单和聊天室同一个事务创建
		room = model.ChatRoom{OrderID: o.ID}
		return r.getDb(txCtx).Create(&room).Error
	})
	if err != nil {
		return domain.Order{}, domain.Channel{}, err
	}
	return toOrder(o), toChannel(room), nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID int64) (domain.Order, error) {
	var o model.Order
	err := r.getDb(ctx).Where("id = ?", orderID).Take(&o).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	if err != nil {
		return domain.Order{}, err
	}
	return toOrder(o), nil
}

func (r *Repo) UpdateOrderStatus(ctx context.Context, orderID int64, status domain.OrderStatus) error {
	if !status.Valid() {
		return domain.ErrInvalidStatus
	}
	res := r.getDb(ctx).Model(&model.Order{}).Where("id = ?", orderID).Update("status", string(status))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := r.GetOrder(ctx, orderID); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repo) GetChannelByOrder(ctx context.Context, orderID int64) (domain.Channel, error) {
	var room model.ChatRoom
	err := r.getDb(ctx).Where("order_id = ?", orderID).Take(&room).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Channel{}, domain.ErrChannelNotFound
	}
	if err != nil {
		return domain.Channel{}, err
	}
	return toChannel(room), nil
}

// CreateMessage locks the room row so a close on another node cannot slip in
// between the closed check and the insert.
func (r *Repo) CreateMessage(ctx context.Context, channelID, senderID int64, content string) (domain.Message, error) {
	var row model.Message
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		var room model.ChatRoom
		err := r.getDb(txCtx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", channelID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		if room.Closed {
			return domain.ErrChannelClosed
		}
		row = model.Message{
			Content:    content,
			SenderID:   senderID,
			ChatRoomID: channelID,
			CreatedAt:  r.now(),
		}
		return r.getDb(txCtx).Omit("Sender").Create(&row).Error
	})
	if err != nil {
		return domain.Message{}, err
	}
	return toMessage(row), nil
}

func (r *Repo) ListMessages(ctx context.Context, channelID int64) ([]domain.MessageView, error) {
	var rows []model.Message
	err := r.getDb(ctx).
		Where("chat_room_id = ?", channelID).
		Preload("Sender", func(db *gorm.DB) *gorm.DB {
			// 只取公开字段，password 不出库
			return db.Select("id", "email")
		}).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.MessageView, 0, len(rows))
	for _, m := range rows {
		out = append(out, domain.MessageView{
			Message: toMessage(m),
			Sender:  domain.Sender{ID: m.SenderID, Email: m.Sender.Email},
		})
	}
	return out, nil
}

func (r *Repo) CloseChannel(ctx context.Context, orderID int64, summary string, status domain.OrderStatus) (domain.Channel, error) {
	if !status.Valid() {
		return domain.Channel{}, domain.ErrInvalidStatus
	}
	var room model.ChatRoom
	err := r.Transaction(ctx, func(txCtx context.Context) error {
		err := r.getDb(txCtx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("order_id = ?", orderID).
			Take(&room).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ErrChannelNotFound
		}
		if err != nil {
			return err
		}
		if room.Closed {
			return domain.ErrChannelAlreadyClosed
		}

		// 只允许 false -> true
		res := r.getDb(txCtx).Model(&model.ChatRoom{}).
			Where("id = ? AND closed = ?", room.ID, false).
			Updates(map[string]any{"closed": true, "summary": summary})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrChannelAlreadyClosed
		}

		if err := r.getDb(txCtx).Model(&model.Order{}).
			Where("id = ?", orderID).
			Update("status", string(status)).Error; err != nil {
			return err
		}
		room.Closed = true
		room.Summary = &summary
		return nil
	})
	if err != nil {
		return domain.Channel{}, err
	}
	return toChannel(room), nil
}

func toOrder(o model.Order) domain.Order {
	return domain.Order{
		ID:          o.ID,
		OwnerID:     o.UserID,
		Status:      domain.OrderStatus(o.Status),
		Description: o.Description,
	}
}

func toChannel(c model.ChatRoom) domain.Channel {
	ch := domain.Channel{ID: c.ID, OrderID: c.OrderID, Closed: c.Closed}
	if c.Summary != nil {
		ch.Summary = *c.Summary
	}
	return ch
}

func toMessage(m model.Message) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ChannelID: m.ChatRoomID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
