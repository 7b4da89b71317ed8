package stack

import (
	"fmt"
	"io"
	"runtime"
	"strconv"
	"strings"
)

const maxDepth = 32

type stackError struct {
	err   error
	stack []uintptr
}

// New attaches the caller stack to err, skipping the given number of frames.
func New(err error, skip int) error {
	if err == nil {
		return nil
	}
	pcs := make([]uintptr, maxDepth)
	n := runtime.Callers(skip, pcs)
	return &stackError{err: err, stack: pcs[:n]}
}

func (e *stackError) Error() string {
	return e.err.Error()
}

func (e *stackError) Unwrap() error {
	return e.err
}

// StackTrace renders the captured frames, one per line.
func (e *stackError) StackTrace() string {
	var sb strings.Builder
	frames := runtime.CallersFrames(e.stack)
	for {
		f, more := frames.Next()
		if f.Function != "" {
			sb.WriteString(f.Function)
			sb.WriteString("\n\t")
			sb.WriteString(f.File)
			sb.WriteString(":")
			sb.WriteString(strconv.Itoa(f.Line))
			sb.WriteString("\n")
		}
		if !more {
			break
		}
	}
	return sb.String()
}

// Format supports %+v to print the stack after the message.
func (e *stackError) Format(s fmt.State, verb rune) {
	switch verb {
	case 'v':
		if s.Flag('+') {
			_, _ = io.WriteString(s, e.Error())
			_, _ = io.WriteString(s, "\n")
			_, _ = io.WriteString(s, e.StackTrace())
			return
		}
		fallthrough
	case 's':
		_, _ = io.WriteString(s, e.Error())
	case 'q':
		_, _ = fmt.Fprintf(s, "%q", e.Error())
	}
}
