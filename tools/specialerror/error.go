package specialerror

import (
	"errors"
	"net/http"

	"PCounter/tools/errs"
)

var handlers []func(err error) *errs.CodeError

// AddErrHandler 注册额外的错误到 CodeError 的转换，先注册的优先
func AddErrHandler(h func(err error) *errs.CodeError) error {
	if h == nil {
		return errs.New("nil handler").Wrap()
	}
	handlers = append(handlers, h)
	return nil
}

// ErrCode 取错误链上的 CodeError；没有时交给 handler，最后归为 ServerInternalError
func ErrCode(err error) *errs.CodeError {
	if err == nil {
		return nil
	}
	var codeErr *errs.CodeError
	if errors.As(err, &codeErr) {
		return codeErr
	}
	for _, h := range handlers {
		if c := h(err); c != nil {
			return c
		}
	}
	c := errs.ErrInternalServer
	return &c
}

// HTTPStatus 运维接口按错误码映射状态码
func HTTPStatus(err error) int {
	c := ErrCode(err)
	switch {
	case c == nil:
		return http.StatusOK
	case errs.ErrArgs.Is(c):
		return http.StatusBadRequest
	case errs.ErrRecordNotFound.Is(c):
		return http.StatusNotFound
	case errs.ErrTokenInvalid.Is(c):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
