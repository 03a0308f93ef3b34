package common

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"orderchat.com/pkg/logger"
)

const (
	HeaderRequestID = "X-Request-Id"
	CtxKeyRequestID = logger.RequestIdKey

	maxRequestIDLen = 64
)

func New() string { return uuid.NewString() }

// AcceptRequestID keeps a caller supplied id when it is safe to log and echo,
// otherwise mints a new one.
func AcceptRequestID(in string) string {
	if in == "" || len(in) > maxRequestIDLen {
		return New()
	}
	for i := 0; i < len(in); i++ {
		ch := in[i]
		switch {
		case ch >= 'a' && ch <= 'z', ch >= 'A' && ch <= 'Z', ch >= '0' && ch <= '9':
		case ch == '-' || ch == '_' || ch == '.' || ch == ':':
		default:
			return New()
		}
	}
	return in
}

// 获取id
func RequestIDFromGin(c *gin.Context) string {
	if v, ok := c.Get(CtxKeyRequestID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
