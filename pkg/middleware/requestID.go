package middleware

import (
	"context"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"orderchat.com/pkg/common"
)

// ReqId 给每个请求一个可以回显、写日志的 id，并挂到 otel span 上方便按 id 查链路。
func ReqId() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := common.AcceptRequestID(c.GetHeader(common.HeaderRequestID))
		c.Set(common.CtxKeyRequestID, rid)
		c.Header(common.HeaderRequestID, rid)

		ctx := c.Request.Context()
		trace.SpanFromContext(ctx).SetAttributes(attribute.String("chat.request_id", rid))
		c.Request = c.Request.WithContext(context.WithValue(ctx, common.CtxKeyRequestID, rid))
		c.Next()
	}
}
