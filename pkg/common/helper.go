package common

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"orderchat.com/pkg/logger"
	"orderchat.com/pkg/xerr"
)

// 定义http返回格式
type Response struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data"`
}

func Success(ctx *gin.Context, data interface{}) {
	ctx.JSON(http.StatusOK, Response{
		Code:    http.StatusOK,
		Message: http.StatusText(http.StatusOK),
		Data:    data,
	})
}

func Fail(c *gin.Context, httpStatus int, code int, message string) {
	c.JSON(httpStatus, Response{
		Code:    code,
		Message: message,
		Data:    nil,
	})
}

// FailFromErr 对外只回 code + message（data=null），内部原因只进日志
func FailFromErr(c *gin.Context, err error) {
	code := xerr.CodeOf(err)
	httpStatus, msg := HTTPStatusOf(err)

	fields := []zap.Field{
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("biz_code", code),
		zap.String("message", msg),
		zap.Error(err),
	}
	if httpStatus >= http.StatusInternalServerError {
		logger.Error(c, "http error", fields...)
	} else {
		logger.Warn(c, "http error", fields...)
	}
	Fail(c, httpStatus, code, msg)
}

// HTTPStatusOf maps an error to a status code and a client-safe message.
func HTTPStatusOf(err error) (int, string) {
	ce, ok := xerr.As(err)
	if !ok {
		return http.StatusInternalServerError, xerr.MapErrMsg(xerr.ServerCommonError)
	}
	switch ce.Code {
	case xerr.RequestParamsError:
		return http.StatusBadRequest, ce.Msg
	case xerr.Unauthorized:
		return http.StatusUnauthorized, ce.Msg
	case xerr.Forbidden:
		return http.StatusForbidden, ce.Msg
	case xerr.RecordNotFound:
		return http.StatusNotFound, ce.Msg
	case xerr.TooManyRequests:
		return http.StatusTooManyRequests, ce.Msg
	case xerr.Unavailable:
		// 不透出存储层细节
		return http.StatusServiceUnavailable, xerr.MapErrMsg(xerr.Unavailable)
	default:
		return http.StatusInternalServerError, xerr.MapErrMsg(xerr.ServerCommonError)
	}
}
