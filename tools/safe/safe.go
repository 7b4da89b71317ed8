package safe

import (
	"fmt"
	"reflect"

	"PCounter/logger"
	"PCounter/tools/errs"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Useful for enforcing required fields during struct initialization.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// SafeGo starts a new goroutine that recovers from panic,
// so that panics don't crash the entire program.
func SafeGo(f func()) {
	go func() {
		defer Recover("SafeGo")
		f()
	}()
}

// Recover logs a recovered panic as a coded error; call it deferred.
func Recover(where string) {
	if r := recover(); r != nil {
		logger.Log.Error("panic recovered", zap.String("where", where), zap.Error(errs.ErrPanic(r)))
	}
}
