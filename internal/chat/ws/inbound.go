package ws

import (
	"math"

	"github.com/segmentio/encoding/json"

	"orderchat.com/internal/chat/broadcast"
	"orderchat.com/pkg/xerr"
)

// Inbound event names.
const (
	EventJoinRoom    = "joinRoom"
	EventLeaveRoom   = "leaveRoom"
	EventSendMessage = "sendMessage"
)

const internalErrMsg = "Internal server error occurred."

var (
	ErrMalformedFrame  = xerr.New(xerr.RequestParamsError, "Malformed frame.")
	ErrUnknownEvent    = xerr.New(xerr.RequestParamsError, "Unknown event.")
	ErrMissingPayload  = xerr.New(xerr.RequestParamsError, "Payload must include orderId, userId, and content.")
	ErrInvalidPayload  = xerr.New(xerr.RequestParamsError, "Invalid payload types.")
	ErrTooManyMessages = xerr.New(xerr.TooManyRequests, "Too many messages, slow down.")
)

type inFrame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type sendPayload struct {
	OrderID int64
	UserID  int64
	Content string
}

// parseOrderID accepts a bare number or {"orderId": n}.
func parseOrderID(raw json.RawMessage) (int64, error) {
	var v any
	if len(raw) == 0 || json.Unmarshal(raw, &v) != nil {
		return 0, broadcast.ErrInvalidOrderID
	}
	if m, ok := v.(map[string]any); ok {
		v = m["orderId"]
	}
	id, ok := asID(v)
	if !ok {
		return 0, broadcast.ErrInvalidOrderID
	}
	return id, nil
}

// parseSend checks presence first, then types, like the HTTP body binding does.
func parseSend(raw json.RawMessage) (sendPayload, error) {
	var m map[string]any
	if len(raw) == 0 || json.Unmarshal(raw, &m) != nil {
		return sendPayload{}, ErrMissingPayload
	}
	if missing(m["orderId"]) || missing(m["userId"]) || missing(m["content"]) {
		return sendPayload{}, ErrMissingPayload
	}
	orderID, ok1 := asID(m["orderId"])
	userID, ok2 := asID(m["userId"])
	content, ok3 := m["content"].(string)
	if !ok1 || !ok2 || !ok3 {
		return sendPayload{}, ErrInvalidPayload
	}
	return sendPayload{OrderID: orderID, UserID: userID, Content: content}, nil
}

func missing(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == ""
	case float64:
		return x == 0
	case bool:
		return !x
	}
	return false
}

func asID(v any) (int64, bool) {
	f, ok := v.(float64)
	if !ok || f <= 0 || f != math.Trunc(f) || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// clientMessage picks what the client may see for err.
func clientMessage(err error) string {
	ce, ok := xerr.As(err)
	if !ok {
		return internalErrMsg
	}
	switch ce.Code {
	case xerr.RequestParamsError, xerr.Unauthorized, xerr.Forbidden, xerr.RecordNotFound, xerr.TooManyRequests:
		return ce.Msg
	default:
		return internalErrMsg
	}
}
