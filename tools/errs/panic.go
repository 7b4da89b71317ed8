package errs

import (
	"fmt"

	"PCounter/tools/errs/stack"
)

// ErrPanic recover() 的值转成 ServerInternalError，带上 panic 现场的堆栈
func ErrPanic(r any) error {
	if r == nil {
		return nil
	}
	return stack.New(&CodeError{Code: ServerInternalError, Msg: "panic error", Detail: fmt.Sprint(r)}, 5)
}
