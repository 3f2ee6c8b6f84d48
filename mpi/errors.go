package mpi

import (
	"errors"
	"fmt"

	"github.com/danmuck/groupcomm/mpi/runtime"
)

// Error classes. Match with errors.Is(err, mpi.ErrCommunication).
var (
	ErrInitialization  = errors.New("mpi: initialization error")
	ErrCommunication   = errors.New("mpi: communication error")
	ErrUnsupportedType = errors.New("mpi: unsupported type")
)

// Status sentinels for matching one runtime code, e.g. errors.Is(err, mpi.ErrRank).
var (
	ErrBuffer   error = &runtime.StatusError{Code: runtime.CodeBuffer}
	ErrCount    error = &runtime.StatusError{Code: runtime.CodeCount}
	ErrType     error = &runtime.StatusError{Code: runtime.CodeType}
	ErrTag      error = &runtime.StatusError{Code: runtime.CodeTag}
	ErrComm     error = &runtime.StatusError{Code: runtime.CodeComm}
	ErrRank     error = &runtime.StatusError{Code: runtime.CodeRank}
	ErrOp       error = &runtime.StatusError{Code: runtime.CodeOp}
	ErrTruncate error = &runtime.StatusError{Code: runtime.CodeTruncate}
)

type errorClass uint8

const (
	classCommunication errorClass = iota
	classInitialization
	classUnsupportedType
)

// Error is a failed call with its runtime status code.
type Error struct {
	Code    runtime.Code
	Op      string
	Message string

	class errorClass
	cause error
}

func (e *Error) Error() string {
	return fmt.Sprintf("mpi: %s: %s (code %d)", e.Op, e.Message, int(e.Code))
}

// Value returns the numeric status code.
func (e *Error) Value() int {
	return int(e.Code)
}

// Is matches the class sentinels and status sentinels of the same code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrInitialization:
		return e.class == classInitialization
	case ErrCommunication:
		return e.class == classCommunication
	case ErrUnsupportedType:
		return e.class == classUnsupportedType
	}
	var se *runtime.StatusError
	if errors.As(target, &se) {
		return se.Code == e.Code
	}
	return false
}

func (e *Error) Unwrap() error {
	return e.cause
}

func initError(code runtime.Code, op, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
		class:   classInitialization,
	}
}

// wrap converts a runtime failure into *Error. Lifecycle codes are
// initialization errors; every other status is a communication error.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var me *Error
	if errors.As(err, &me) {
		return me
	}
	out := &Error{Code: runtime.CodeOther, Op: op, Message: err.Error(), cause: err}
	var se *runtime.StatusError
	if errors.As(err, &se) {
		out.Code = se.Code
		out.Message = se.Message
		if out.Message == "" {
			out.Message = se.Code.String()
		}
	}
	switch out.Code {
	case runtime.CodeNotInitialized, runtime.CodeAlreadyInitialized, runtime.CodeFinalized:
		out.class = classInitialization
	}
	return out
}
