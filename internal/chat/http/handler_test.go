package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/encoding/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderchat.com/internal/chat/auth"
	"orderchat.com/internal/chat/domain"
	"orderchat.com/internal/chat/repo/memory"
	"orderchat.com/internal/chat/service"
)

type env struct {
	r     *gin.Engine
	jwt   *auth.JWT
	owner string
	other string
	admin string
}

func setup(t *testing.T) *env {
	t.Helper()
	return setupWith(t, func(st *memory.Store) domain.Store { return st })
}

func setupWith(t *testing.T, wrap func(*memory.Store) domain.Store) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	st := memory.New()
	st.PutUser(1, "owner@example.com")
	chat := service.New(wrap(st), service.Options{})
	_, _, err := chat.CreateOrder(context.Background(), 1, "first order")
	require.NoError(t, err)

	j := auth.NewJWT("test-secret", time.Hour)
	r := gin.New()
	NewHandler(chat, nil).Register(r, auth.Required(j))

	issue := func(p domain.Principal) string {
		tok, err := j.Issue(p)
		require.NoError(t, err)
		return tok
	}
	return &env{
		r:     r,
		jwt:   j,
		owner: issue(domain.Principal{ID: 1, Role: domain.RoleRegular}),
		other: issue(domain.Principal{ID: 2, Role: domain.RoleRegular}),
		admin: issue(domain.Principal{ID: 9, Role: domain.RoleAdmin}),
	}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *env) do(t *testing.T, method, path, token, body string) (int, envelope) {
	t.Helper()
	return e.doCtx(t, context.Background(), method, path, token, body)
}

func (e *env) doCtx(t *testing.T, ctx context.Context, method, path, token, body string) (int, envelope) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body)).WithContext(ctx)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.r.ServeHTTP(w, req)
	var out envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return w.Code, out
}

func TestSendAndList(t *testing.T) {
	e := setup(t)

	code, res := e.do(t, http.MethodPost, "/api/chat/1/message", e.owner, `{"content":"where is my parcel?"}`)
	require.Equal(t, http.StatusOK, code, res.Message)
	var m domain.Message
	require.NoError(t, json.Unmarshal(res.Data, &m))
	assert.Equal(t, "where is my parcel?", m.Content)
	assert.Equal(t, int64(1), m.SenderID)

	code, res = e.do(t, http.MethodGet, "/api/chat/1/messages", e.owner, "")
	require.Equal(t, http.StatusOK, code)
	var list []domain.MessageView
	require.NoError(t, json.Unmarshal(res.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "owner@example.com", list[0].Sender.Email)
}

func TestStatusMapping(t *testing.T) {
	e := setup(t)
	cases := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		status int
	}{
		{"no token", http.MethodGet, "/api/chat/1/messages", "", "", http.StatusUnauthorized},
		{"garbage token", http.MethodGet, "/api/chat/1/messages", "nope", "", http.StatusUnauthorized},
		{"bad order id", http.MethodGet, "/api/chat/abc/messages", e.owner, "", http.StatusBadRequest},
		{"missing content", http.MethodPost, "/api/chat/1/message", e.owner, `{}`, http.StatusBadRequest},
		{"blank content", http.MethodPost, "/api/chat/1/message", e.owner, `{"content":"  "}`, http.StatusBadRequest},
		{"unknown order", http.MethodPost, "/api/chat/77/message", e.owner, `{"content":"hi"}`, http.StatusNotFound},
		{"not participant", http.MethodPost, "/api/chat/1/message", e.other, `{"content":"hi"}`, http.StatusForbidden},
		{"admin is not participant", http.MethodGet, "/api/chat/1/messages", e.admin, "", http.StatusForbidden},
		{"close by regular", http.MethodPatch, "/api/chat/1/close", e.owner, `{"summary":"x"}`, http.StatusForbidden},
		{"close without summary", http.MethodPatch, "/api/chat/1/close", e.admin, `{}`, http.StatusBadRequest},
		{"history by regular", http.MethodGet, "/api/chat/1/history", e.owner, "", http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			code, res := e.do(t, tc.method, tc.path, tc.token, tc.body)
			assert.Equal(t, tc.status, code)
			assert.Equal(t, tc.status, res.Code)
			assert.NotEmpty(t, res.Message)
		})
	}
}

func TestCloseFlow(t *testing.T) {
	e := setup(t)

	code, _ := e.do(t, http.MethodPost, "/api/chat/1/message", e.owner, `{"content":"hello"}`)
	require.Equal(t, http.StatusOK, code)

	code, res := e.do(t, http.MethodPatch, "/api/chat/1/close", e.admin, `{"summary":"refund issued"}`)
	require.Equal(t, http.StatusOK, code)
	var ch domain.Channel
	require.NoError(t, json.Unmarshal(res.Data, &ch))
	assert.True(t, ch.Closed)
	assert.Equal(t, "refund issued", ch.Summary)

	code, res = e.do(t, http.MethodPost, "/api/chat/1/message", e.owner, `{"content":"one more"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Chat room is closed", res.Message)

	code, res = e.do(t, http.MethodPatch, "/api/chat/1/close", e.admin, `{"summary":"again"}`)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "Chat room is already closed", res.Message)

	code, res = e.do(t, http.MethodGet, "/api/chat/1/history", e.admin, "")
	require.Equal(t, http.StatusOK, code)
	var h domain.History
	require.NoError(t, json.Unmarshal(res.Data, &h))
	assert.True(t, h.Closed)
	assert.Equal(t, "refund issued", h.Summary)
	assert.Len(t, h.Messages, 1)
}

// ctxStore fails writes whose ctx is already done, like a real driver would.
type ctxStore struct {
	*memory.Store
}

func (s ctxStore) CreateMessage(ctx context.Context, channelID, senderID int64, content string) (domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return domain.Message{}, err
	}
	return s.Store.CreateMessage(ctx, channelID, senderID, content)
}

func (s ctxStore) CloseChannel(ctx context.Context, orderID int64, summary string, status domain.OrderStatus) (domain.Channel, error) {
	if err := ctx.Err(); err != nil {
		return domain.Channel{}, err
	}
	return s.Store.CloseChannel(ctx, orderID, summary, status)
}

func TestWritesSurviveClientHangup(t *testing.T) {
	e := setupWith(t, func(st *memory.Store) domain.Store { return ctxStore{Store: st} })
	gone, cancel := context.WithCancel(context.Background())
	cancel()

	code, res := e.doCtx(t, gone, http.MethodPost, "/api/chat/1/message", e.owner, `{"content":"still stored"}`)
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = e.doCtx(t, gone, http.MethodPatch, "/api/chat/1/close", e.admin, `{"summary":"done"}`)
	require.Equal(t, http.StatusOK, code, res.Message)

	code, res = e.do(t, http.MethodGet, "/api/chat/1/history", e.admin, "")
	require.Equal(t, http.StatusOK, code)
	var h domain.History
	require.NoError(t, json.Unmarshal(res.Data, &h))
	assert.True(t, h.Closed)
	require.Len(t, h.Messages, 1)
	assert.Equal(t, "still stored", h.Messages[0].Content)
}

func TestNewEngine_HealthAndMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	chat := service.New(memory.New(), service.Options{})
	r := NewEngine(ctx, RouterConfig{ServiceName: "chat-test"}, NewHandler(chat, nil), auth.Required(auth.NewJWT("s", time.Hour)))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-Id"))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/chat/1/messages", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
