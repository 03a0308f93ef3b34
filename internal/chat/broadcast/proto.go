package broadcast

import (
	"time"

	"github.com/segmentio/encoding/json"

	"orderchat.com/internal/chat/domain"
)

// Outbound event names.
const (
	EventJoinedRoom = "joinedRoom"
	EventLeftRoom   = "leftRoom"
	EventNewMessage = "newMessage"
	EventChatClosed = "chatClosed"
	EventError      = "error"
)

// Frame is the envelope of every realtime frame in both directions.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type NewMessageData struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	SenderID  int64     `json:"senderId"`
	ChannelID int64     `json:"channelId"`
	CreatedAt time.Time `json:"createdAt"`
}

type RoomData struct {
	OrderID int64 `json:"orderId"`
}

type ClosedData struct {
	OrderID int64  `json:"orderId"`
	Summary string `json:"summary,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Frame{Event: event, Data: data})
}

func EncodeMessage(m domain.Message) ([]byte, error) {
	return Encode(EventNewMessage, NewMessageData{
		ID:        m.ID,
		Content:   m.Content,
		SenderID:  m.SenderID,
		ChannelID: m.ChannelID,
		CreatedAt: m.CreatedAt,
	})
}

func EncodeClosed(ch domain.Channel) ([]byte, error) {
	return Encode(EventChatClosed, ClosedData{OrderID: ch.OrderID, Summary: ch.Summary})
}

func EncodeError(msg string) []byte {
	b, _ := Encode(EventError, ErrorData{Message: msg})
	return b
}
