package runtime

import (
	"errors"
	"fmt"
)

// Code is a runtime status code. Numbering follows the MPI error classes.
type Code int

const (
	CodeSuccess  Code = 0
	CodeBuffer   Code = 1
	CodeCount    Code = 2
	CodeType     Code = 3
	CodeTag      Code = 4
	CodeComm     Code = 5
	CodeRank     Code = 6
	CodeOp       Code = 10
	CodeArg      Code = 13
	CodeUnknown  Code = 14
	CodeTruncate Code = 15
	CodeOther    Code = 16
	CodeIntern   Code = 17

	// Runtime lifecycle codes, outside the MPI class range.
	CodeNotInitialized     Code = 100
	CodeAlreadyInitialized Code = 101
	CodeFinalized          Code = 102
)

var codeNames = map[Code]string{
	CodeSuccess:            "success",
	CodeBuffer:             "invalid buffer",
	CodeCount:              "invalid count",
	CodeType:               "invalid datatype",
	CodeTag:                "invalid tag",
	CodeComm:               "invalid communicator",
	CodeRank:               "invalid rank",
	CodeOp:                 "invalid operation",
	CodeArg:                "invalid argument",
	CodeUnknown:            "unknown error",
	CodeTruncate:           "message truncated",
	CodeOther:              "other error",
	CodeIntern:             "internal error",
	CodeNotInitialized:     "runtime not initialized",
	CodeAlreadyInitialized: "runtime already initialized",
	CodeFinalized:          "runtime finalized",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("code(%d)", int(c))
}

// StatusError is a non-success runtime status with its description.
type StatusError struct {
	Code    Code
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("runtime: %s (code %d)", e.Code, int(e.Code))
	}
	return fmt.Sprintf("runtime: %s: %s (code %d)", e.Code, e.Message, int(e.Code))
}

// Is matches another *StatusError carrying the same code.
func (e *StatusError) Is(target error) bool {
	t, ok := target.(*StatusError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Errorf builds a *StatusError.
func Errorf(code Code, format string, args ...any) *StatusError {
	return &StatusError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the status code carried by err. Nil maps to CodeSuccess and
// errors that are not status errors map to CodeOther.
func CodeOf(err error) Code {
	if err == nil {
		return CodeSuccess
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return CodeOther
}
