package middleware

import (
	"net/http"

	sentinels "github.com/alibaba/sentinel-golang/api"
	"github.com/alibaba/sentinel-golang/core/base"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"orderchat.com/pkg/common"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/xerr"
)

// Sentinel guards each route with a sentinel entry named "<METHOD>:<route>".
// Only 5xx responses are traced as errors; business rejections never trip a breaker rule.
func Sentinel() gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		resource := c.Request.Method + ":" + route

		entry, blockErr := sentinels.Entry(resource, sentinels.WithTrafficType(base.Inbound))
		if blockErr != nil {
			logger.Warn(c, "request blocked by sentinel",
				zap.String("resource", resource),
				zap.String("blockType", blockErr.BlockType().String()),
				zap.String("blockMsg", blockErr.Error()),
			)
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, "service is busy, please try again later")
			c.Abort()
			return
		}
		defer entry.Exit()

		c.Next()

		if c.Writer.Status() >= http.StatusInternalServerError {
			sentinels.TraceError(entry, xerr.NewErrCode(xerr.ServerCommonError))
		}
	}
}
