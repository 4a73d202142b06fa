package compiler

import (
	"errors"
	"fmt"
)

// Assembler and preprocessor error kinds. Every error returned by this
// package is an *Error whose Kind is one of these, so callers can test
// with errors.Is.
var (
	ErrReadFailed           = errors.New("reading failed")
	ErrWriteFailed          = errors.New("writing failed")
	ErrInstVectorAccess     = errors.New("instruction index out of range")
	ErrOperandTypesCollide  = errors.New("operand is marked both unsigned and float")
	ErrLabelsListOverflow   = errors.New("too many labels")
	ErrJumpsListOverflow    = errors.New("too many jumps")
	ErrGlobalMemoryOverflow = errors.New("global memory overflow")
	ErrIllegalJumpLabelName = errors.New("illegal jump label name")
	ErrUnresolvedLabel      = errors.New("unresolved label")
	ErrUnknownOpcode        = errors.New("unknown opcode")
	ErrParseInteger         = errors.New("parsing integer error")
	ErrParseUInteger        = errors.New("parsing unsigned integer error")
	ErrParseFloat           = errors.New("parsing float error")
	ErrParseChar            = errors.New("parsing character error")
	ErrParseString          = errors.New("parsing string error")
	ErrIllFormedInclude     = errors.New("invalid include format")
	ErrIllFormedDefine      = errors.New("invalid define format")
)

// Error is an assembler error tied to a source line.
type Error struct {
	Line   int   // 1-based source line; 0 when not tied to a line
	Kind   error // one of the Err* sentinels
	Detail string
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Kind
}

// errorf builds an *Error.
func errorf(line int, kind error, format string, args ...any) *Error {
	return &Error{Line: line, Kind: kind, Detail: fmt.Sprintf(format, args...)}
}
