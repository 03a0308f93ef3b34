package http

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"orderchat.com/internal/chat/auth"
	"orderchat.com/internal/chat/broadcast"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/ws"
	"orderchat.com/pkg/common"
	"orderchat.com/pkg/xerr"
)

// Chat is the facade surface the REST handlers call.
type Chat interface {
	SendMessage(ctx context.Context, orderID int64, sender domain.Principal, content string) (domain.Message, error)
	GetMessages(ctx context.Context, orderID int64, requester domain.Principal) ([]domain.MessageView, error)
	CloseChat(ctx context.Context, orderID int64, admin domain.Principal, summary string) (domain.Channel, error)
	History(ctx context.Context, orderID int64, admin domain.Principal) (domain.History, error)
}

type Handler struct {
	chat Chat
	ws   *ws.Server
}

func NewHandler(chat Chat, wsSrv *ws.Server) *Handler {
	return &Handler{chat: chat, ws: wsSrv}
}

type sendMessageReq struct {
	Content string `json:"content" binding:"required"`
}

type closeChatReq struct {
	Summary string `json:"summary" binding:"required"`
}

// Register mounts the chat routes; authRequired guards all of them.
func (h *Handler) Register(r gin.IRouter, authRequired gin.HandlerFunc) {
	chat := r.Group("/api/chat", authRequired)
	chat.POST("/:orderId/message", h.SendMessage)
	chat.GET("/:orderId/messages", h.GetMessages)
	chat.PATCH("/:orderId/close", h.CloseChat)
	chat.GET("/:orderId/history", h.History)

	if h.ws != nil {
		r.GET("/ws", authRequired, h.ServeWS)
	}
}

func (h *Handler) SendMessage(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req sendMessageReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromErr(c, xerr.Wrap(err, xerr.RequestParamsError, "content must be a non-empty string"))
		return
	}
	m, err := h.chat.SendMessage(detached(c), orderID, auth.Principal(c), req.Content)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, m)
}

func (h *Handler) GetMessages(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	list, err := h.chat.GetMessages(c.Request.Context(), orderID, auth.Principal(c))
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, list)
}

func (h *Handler) CloseChat(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	var req closeChatReq
	if err := c.ShouldBindJSON(&req); err != nil {
		common.FailFromErr(c, xerr.Wrap(err, xerr.RequestParamsError, "summary must be a non-empty string"))
		return
	}
	ch, err := h.chat.CloseChat(detached(c), orderID, auth.Principal(c), req.Summary)
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, ch)
}

func (h *Handler) History(c *gin.Context) {
	orderID, ok := orderIDParam(c)
	if !ok {
		return
	}
	hist, err := h.chat.History(c.Request.Context(), orderID, auth.Principal(c))
	if err != nil {
		common.FailFromErr(c, err)
		return
	}
	common.Success(c, hist)
}

func (h *Handler) ServeWS(c *gin.Context) {
	h.ws.ServeWS(c.Writer, c.Request, auth.Principal(c))
}

// detached keeps request values (trace, request id) but not the cancellation:
// a client that hangs up does not abort a write already in flight.
func detached(c *gin.Context) context.Context {
	return context.WithoutCancel(c.Request.Context())
}

func orderIDParam(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("orderId"), 10, 64)
	if err != nil || id <= 0 {
		common.FailFromErr(c, broadcast.ErrInvalidOrderID)
		return 0, false
	}
	return id, true
}
