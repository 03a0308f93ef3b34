package xerr

import (
	"errors"
	"fmt"
)

// 常用错误码定义
const (
	OK                 = 200
	RequestParamsError = 400 // Invalid
	Unauthorized       = 401
	Forbidden          = 403
	RecordNotFound     = 404
	TooManyRequests    = 429
	ServerCommonError  = 500
	Unavailable        = 503
)

// CodeError carries a client-safe message; Cause is for logs only.
type CodeError struct {
	Code  int    `json:"code"`
	Msg   string `json:"msg"`
	Cause error  `json:"-"`
}

func (e *CodeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("ErrCode:%d, Msg:%s, Cause:%v", e.Code, e.Msg, e.Cause)
	}
	return fmt.Sprintf("ErrCode:%d, Msg:%s", e.Code, e.Msg)
}

func (e *CodeError) Unwrap() error { return e.Cause }

func New(code int, msg string) error {
	return &CodeError{Code: code, Msg: msg}
}

func NewErrCode(code int) error {
	return &CodeError{Code: code, Msg: MapErrMsg(code)}
}

// Wrap 保留底层错误，对外只暴露 msg
func Wrap(cause error, code int, msg string) error {
	if cause == nil {
		return nil
	}
	if msg == "" {
		msg = MapErrMsg(code)
	}
	return &CodeError{Code: code, Msg: msg, Cause: cause}
}

// Classify leaves coded errors alone and wraps anything else with fallback.
func Classify(err error, fallback int) error {
	if err == nil {
		return nil
	}
	if _, ok := As(err); ok {
		return err
	}
	return Wrap(err, fallback, "")
}

func As(err error) (*CodeError, bool) {
	var ce *CodeError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// CodeOf returns ServerCommonError for errors outside the taxonomy.
func CodeOf(err error) int {
	if err == nil {
		return OK
	}
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ServerCommonError
}

func IsCode(err error, code int) bool {
	return err != nil && CodeOf(err) == code
}

func MapErrMsg(code int) string {
	switch code {
	case OK:
		return "success"
	case RequestParamsError:
		return "invalid request"
	case Unauthorized:
		return "unauthorized"
	case Forbidden:
		return "access denied"
	case RecordNotFound:
		return "record not found"
	case TooManyRequests:
		return "too many requests"
	case ServerCommonError:
		return "internal error"
	case Unavailable:
		return "service unavailable"
	default:
		return "unknown error"
	}
}
