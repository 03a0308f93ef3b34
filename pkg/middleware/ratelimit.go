package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"orderchat.com/pkg/common"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/metrics"
	"orderchat.com/pkg/ratelimit"
	"orderchat.com/pkg/xerr"
)

func RateLimit(store *ratelimit.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		key := c.ClientIP() + ":" + route

		if !store.Allow(key) {
			// 限流属于“可控拒绝”，不要打堆栈（压测会炸日志）
			logger.Warn(c, "http rate limited",
				zap.String("ip", c.ClientIP()),
				zap.String("route", route),
			)
			metrics.RateLimitBlockTotal.WithLabelValues("http", route).Inc()
			common.Fail(c, http.StatusTooManyRequests, xerr.TooManyRequests, xerr.MapErrMsg(xerr.TooManyRequests))
			c.Abort()
			return
		}
		c.Next()
	}
}
