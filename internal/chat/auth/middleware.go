package auth

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"orderchat.com/internal/chat/domain"
	"orderchat.com/pkg/common"
	"orderchat.com/pkg/logger"
)

const principalKey = "chat_principal"

type ctxKey struct{}

func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(domain.Principal)
	return p, ok
}

// Principal returns the caller attached by Required.
func Principal(c *gin.Context) domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(domain.Principal); ok {
			return p
		}
	}
	return domain.Principal{}
}

// Required rejects the request with 401 unless it carries a valid token.
// Websocket handshakes may pass the token as ?token= since browsers cannot set headers there.
func Required(a domain.Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			token = c.Query("token")
		}
		p, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			logger.Debug(c, "auth rejected", zap.String("path", c.Request.URL.Path), zap.Error(err))
			common.FailFromErr(c, err)
			c.Abort()
			return
		}
		c.Set(principalKey, p)
		c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), p))
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
