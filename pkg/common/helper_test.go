package common

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"orderchat.com/pkg/xerr"
)

func TestHTTPStatusOf(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		msg    string
	}{
		{"invalid", xerr.New(xerr.RequestParamsError, "content must not be empty"), http.StatusBadRequest, "content must not be empty"},
		{"not found", xerr.New(xerr.RecordNotFound, "chat room not found"), http.StatusNotFound, "chat room not found"},
		{"forbidden", xerr.New(xerr.Forbidden, "chat room is closed"), http.StatusForbidden, "chat room is closed"},
		{"unavailable hides cause", xerr.Wrap(errors.New("dial tcp: refused"), xerr.Unavailable, "create message failed"), http.StatusServiceUnavailable, "service unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, msg := HTTPStatusOf(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.msg, msg)
		})
	}
}

func TestFailFromErr_WritesEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/api/chat/1/messages", nil)

	FailFromErr(c, xerr.New(xerr.Forbidden, "access denied"))

	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.JSONEq(t, `{"code":403,"message":"access denied","data":null}`, w.Body.String())
}
