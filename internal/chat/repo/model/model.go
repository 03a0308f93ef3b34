package model

import "time"

type User struct {
	ID        int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Email     string    `gorm:"column:email;type:varchar(191);uniqueIndex;not null"`
	Password  string    `gorm:"column:password;type:varchar(255);not null"`
	Role      string    `gorm:"column:role;type:varchar(16);not null;default:REGULAR"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (User) TableName() string { return "users" }

type Order struct {
	ID          int64     `gorm:"column:id;primaryKey;autoIncrement"`
	UserID      int64     `gorm:"column:user_id;index;not null"`
	Description string    `gorm:"column:description;type:varchar(512)"`
	Status      string    `gorm:"column:status;type:varchar(32);not null;default:Pending"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Order) TableName() string { return "orders" }

type ChatRoom struct {
	ID      int64   `gorm:"column:id;primaryKey;autoIncrement"`
	OrderID int64   `gorm:"column:order_id;uniqueIndex;not null"`
	Closed  bool    `gorm:"column:closed;not null;default:false"`
	Summary *string `gorm:"column:summary;type:text"`
}

func (ChatRoom) TableName() string { return "chat_rooms" }

type Message struct {
	ID         int64     `gorm:"column:id;primaryKey;autoIncrement"`
	Content    string    `gorm:"column:content;type:text;not null"`
	SenderID   int64     `gorm:"column:sender_id;index;not null"`
	ChatRoomID int64     `gorm:"column:chat_room_id;index:idx_room_created,priority:1;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;index:idx_room_created,priority:2"`

	Sender User `gorm:"foreignKey:SenderID"`
}

func (Message) TableName() string { return "messages" }
