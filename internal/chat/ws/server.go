// Package ws is the realtime transport: one gorilla websocket per client,
// JSON {event, data} frames in both directions.
package ws

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"
	"go.uber.org/zap"

	"orderchat.com/internal/chat/broadcast"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/wsmetrics"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/safe"
)

// Chat is the part of the facade the websocket needs.
type Chat interface {
	JoinRoom(ctx context.Context, sub broadcast.Subscriber, p domain.Principal, orderID int64) error
	LeaveRoom(subID string, orderID int64)
	SendMessage(ctx context.Context, orderID int64, sender domain.Principal, content string) (domain.Message, error)
}

type Server struct {
	chat     Chat
	ctx      context.Context
	Upgrader websocket.Upgrader
	Limiter  *ratelimit.Store // sendMessage 限流，nil 不限

	SendBuf    int // per-conn send chan size
	PongWait   time.Duration
	PingPeriod time.Duration
	PingJitter time.Duration
	WriteWait  time.Duration
	ReadLimit  int64
}

func NewServer(ctx context.Context, chat Chat) *Server {
	return &Server{
		chat: chat,
		ctx:  ctx,
		Upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // 前端跨域，token 已校验
		},
		SendBuf:    256,
		PongWait:   60 * time.Second,
		PingPeriod: 30 * time.Second,
		PingJitter: 3 * time.Second,
		WriteWait:  5 * time.Second,
		ReadLimit:  16 << 10,
	}
}

// ServeWS upgrades the request for an already authenticated principal.
func (s *Server) ServeWS(w http.ResponseWriter, r *http.Request, p domain.Principal) {
	wsConn, err := s.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn(r.Context(), "ws upgrade failed", zap.Error(err))
		return
	}
	c := newConn(wsConn, p, s.SendBuf)
	wsmetrics.OnOpen()
	logger.Debug(s.ctx, "ws connected", zap.String("conn_id", c.id), zap.Int64("user_id", p.ID))

	safe.Go(func() { s.writePump(c) })
	safe.Go(func() { s.readPump(c) })
}

func (s *Server) readPump(c *Conn) {
	code, reason := websocket.CloseNormalClosure, "eof"
	defer func() {
		for _, orderID := range c.joinedRooms() {
			s.chat.LeaveRoom(c.id, orderID)
		}
		c.Kick("read closed")
		_ = c.ws.Close()
		wsmetrics.OnClose(code, reason)
		logger.Debug(s.ctx, "ws disconnected", zap.String("conn_id", c.id), zap.String("reason", reason))
	}()

	c.ws.SetReadLimit(s.ReadLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	c.ws.SetPongHandler(func(string) error {
		wsmetrics.PongRecvTotal.Inc()
		return c.ws.SetReadDeadline(time.Now().Add(s.PongWait))
	})

	for {
		select {
		case <-s.ctx.Done():
			reason = "shutdown"
			return
		default:
		}
		_, b, err := c.ws.ReadMessage()
		if err != nil {
			var ce *websocket.CloseError
			var ne net.Error
			switch {
			case errors.As(err, &ce):
				code, reason = ce.Code, "client_close"
			case errors.As(err, &ne) && ne.Timeout():
				wsmetrics.PongTimeoutTotal.Inc()
				code, reason = websocket.CloseGoingAway, "pong_timeout"
			case c.closed.Load():
				code, reason = websocket.ClosePolicyViolation, "kicked"
			default:
				code, reason = websocket.CloseAbnormalClosure, "read_error"
			}
			return
		}
		s.dispatch(c, b)
	}
}

func (s *Server) dispatch(c *Conn, b []byte) {
	var f inFrame
	if err := json.Unmarshal(b, &f); err != nil || f.Event == "" {
		wsmetrics.Inbound("malformed", ErrMalformedFrame)
		s.reply(c, broadcast.EncodeError(clientMessage(ErrMalformedFrame)))
		return
	}

	// 断线或停机都不打断已经开始的发送，超时交给存储层自己的配置
	ctx := context.WithoutCancel(s.ctx)

	var err error
	switch f.Event {
	case EventJoinRoom:
		err = s.onJoin(ctx, c, f.Data)
	case EventLeaveRoom:
		err = s.onLeave(c, f.Data)
	case EventSendMessage:
		err = s.onSend(ctx, c, f.Data)
	default:
		err = ErrUnknownEvent
	}
	wsmetrics.Inbound(eventLabel(f.Event), err)
	if err != nil {
		fields := []zap.Field{zap.String("conn_id", c.id), zap.String("event", f.Event), zap.Error(err)}
		if clientMessage(err) == internalErrMsg {
			logger.Error(ctx, "ws event failed", fields...)
		} else {
			logger.Debug(ctx, "ws event rejected", fields...)
		}
		s.reply(c, broadcast.EncodeError(clientMessage(err)))
	}
}

func (s *Server) onJoin(ctx context.Context, c *Conn, raw []byte) error {
	orderID, err := parseOrderID(raw)
	if err != nil {
		return err
	}
	if err := s.chat.JoinRoom(ctx, c, c.principal, orderID); err != nil {
		return err
	}
	c.joined(orderID)
	return nil
}

func (s *Server) onLeave(c *Conn, raw []byte) error {
	orderID, err := parseOrderID(raw)
	if err != nil {
		return err
	}
	s.chat.LeaveRoom(c.id, orderID)
	c.left(orderID)
	ack, err := broadcast.Encode(broadcast.EventLeftRoom, broadcast.RoomData{OrderID: orderID})
	if err != nil {
		return err
	}
	s.reply(c, ack)
	return nil
}

func (s *Server) onSend(ctx context.Context, c *Conn, raw []byte) error {
	in, err := parseSend(raw)
	if err != nil {
		return err
	}
	if in.UserID != c.principal.ID {
		return domain.ErrNotParticipant
	}
	if s.Limiter != nil && !s.Limiter.Allow("ws:"+strconv.FormatInt(c.principal.ID, 10)) {
		metrics.RateLimitBlockTotal.WithLabelValues("ws", EventSendMessage).Inc()
		return ErrTooManyMessages
	}
	// 成功后的 newMessage 由广播推给整个房间（包括自己）
	_, err = s.chat.SendMessage(ctx, in.OrderID, c.principal, in.Content)
	return err
}

// reply sends a frame to c only. A client that cannot take it is kicked.
func (s *Server) reply(c *Conn, payload []byte) {
	if !c.Deliver(payload) {
		c.Kick(broadcast.KickSlowConsumer)
	}
}

func (s *Server) writePump(c *Conn) {
	// 打散 ping，避免所有连接同一时刻发
	if s.PingJitter > 0 {
		t := time.NewTimer(time.Duration(rand.Int63n(int64(s.PingJitter))))
		select {
		case <-t.C:
		case <-c.done:
			t.Stop()
		case <-s.ctx.Done():
			t.Stop()
		}
	}

	ticker := time.NewTicker(s.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case payload := <-c.send:
			if err := s.write(c, payload); err != nil {
				c.Kick("write error")
				return
			}
		case <-ticker.C:
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.WriteWait))
			if err != nil {
				wsmetrics.PingErrorsTotal.Inc()
				c.Kick("ping error")
				return
			}
			wsmetrics.PingSentTotal.Inc()
		case <-c.done:
			s.flush(c)
			msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, c.kickReason())
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.WriteWait))
			return
		case <-s.ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown")
			_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.WriteWait))
			return
		}
	}
}

// flush writes what is already queued, e.g. the error frame sent right before a kick.
func (s *Server) flush(c *Conn) {
	for {
		select {
		case payload := <-c.send:
			if s.write(c, payload) != nil {
				return
			}
		default:
			return
		}
	}
}

func (s *Server) write(c *Conn, payload []byte) error {
	start := time.Now()
	_ = c.ws.SetWriteDeadline(start.Add(s.WriteWait))
	err := c.ws.WriteMessage(websocket.TextMessage, payload)
	wsmetrics.ObserveWrite(len(payload), time.Since(start), err)
	return err
}

func eventLabel(ev string) string {
	switch ev {
	case EventJoinRoom, EventLeaveRoom, EventSendMessage:
		return ev
	default:
		return "unknown"
	}
}
