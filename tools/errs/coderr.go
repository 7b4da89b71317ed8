package errs

import (
	"errors"
	"strconv"
	"strings"

	"PCounter/tools/errs/stack"
)

const stackSkip = 4

// DefaultCodeRelation 父子错误码关系，父码的 Is 也匹配子码
var DefaultCodeRelation = newCodeRelation()

func NewCodeError(code int, msg string) CodeError {
	return CodeError{Code: code, Msg: msg}
}

// CodeError 带错误码的错误，运维接口按 Code 映射 HTTP 状态
type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

func (e *CodeError) WithDetail(detail string) CodeError {
	out := *e
	if out.Detail == "" {
		out.Detail = detail
	} else {
		out.Detail += ", " + detail
	}
	return out
}

func (e *CodeError) Wrap() error {
	c := *e
	return stack.New(&c, stackSkip)
}

func (e *CodeError) WrapMsg(msg string, kv ...any) error {
	c := *e
	if msg != "" || len(kv) > 0 {
		c = e.WithDetail(toString(msg, kv))
	}
	return stack.New(&c, stackSkip)
}

// Is matches by code, following DefaultCodeRelation for parent codes.
func (e *CodeError) Is(err error) bool {
	var codeErr *CodeError
	if !errors.As(err, &codeErr) {
		return err == nil && e == nil
	}
	if e == nil {
		return false
	}
	return DefaultCodeRelation.Is(e.Code, codeErr.Code)
}

func (e *CodeError) Error() string {
	v := []string{strconv.Itoa(e.Code), e.Msg}
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Code 取错误链上的错误码，没有时为 0
func Code(err error) int {
	var codeErr *CodeError
	if errors.As(err, &codeErr) {
		return codeErr.Code
	}
	return 0
}

func Wrap(err error) error {
	if err == nil {
		return nil
	}
	return stack.New(err, stackSkip)
}

// WrapMsg 附加上下文，kv 以 k=v 形式拼接；err 为 nil 时返回 nil
func WrapMsg(err error, msg string, kv ...any) error {
	if err == nil {
		return nil
	}
	return stack.New(NewErrorWrapper(err, toString(msg, kv)), stackSkip)
}

type CodeRelation interface {
	Add(codes ...int) error
	Is(parent, child int) bool
}

func newCodeRelation() CodeRelation {
	return &codeRelation{m: make(map[int]map[int]struct{})}
}

type codeRelation struct {
	m map[int]map[int]struct{}
}

// Add codes[0] 是 codes[1:] 的父码，依次传递
func (r *codeRelation) Add(codes ...int) error {
	if len(codes) < 2 {
		return New("codes length must be greater than 2", "codes", codes).Wrap()
	}
	for i := 1; i < len(codes); i++ {
		parent := codes[i-1]
		s, ok := r.m[parent]
		if !ok {
			s = make(map[int]struct{})
			r.m[parent] = s
		}
		for _, code := range codes[i:] {
			s[code] = struct{}{}
		}
	}
	return nil
}

func (r *codeRelation) Is(parent, child int) bool {
	if parent == child {
		return true
	}
	_, ok := r.m[parent][child]
	return ok
}
