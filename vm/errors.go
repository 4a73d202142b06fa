package vm

import (
	"errors"
	"fmt"

	"github.com/chazu/glosso/pkg/bytecode"
)

// VM error kinds. Every error returned by Load, Step and Run is an *Error
// whose Kind is one of these; use errors.Is to test for them.
var (
	ErrReadFile             = errors.New("reading file failed")
	ErrParseOpcode          = errors.New("illegal opcode in module")
	ErrParseOperand         = errors.New("malformed operand in module")
	ErrStackOverflow        = errors.New("stack overflow")
	ErrStackUnderflow       = errors.New("stack underflow")
	ErrInvalidOpcodeExecute = errors.New("opcode cannot be executed")
	ErrInvalidOperand       = errors.New("invalid operand")
	ErrInvalidAccessInst    = errors.New("instruction pointer out of range")
	ErrInvalidJump          = errors.New("jump target out of range")
	ErrIllegalReturnAddress = errors.New("illegal return address")
	ErrReadStringFailed     = errors.New("reading a line failed")
	ErrAllocFailed          = errors.New("allocation failed")
	ErrReallocWithNonPtr    = errors.New("realloc with a non-pointer value")
	ErrFreeWithNonPtr       = errors.New("free with a non-pointer value")
	ErrReadWithNonPtr       = errors.New("read with a non-pointer value")
	ErrWriteWithNonPtr      = errors.New("write with a non-pointer value")
	ErrWriteValue           = errors.New("value does not match write type")
	ErrInvalidHeapAccess    = errors.New("heap access out of bounds")
	ErrBadMagic             = errors.New("invalid magic number")
	ErrBadVersion           = errors.New("unsupported module version")
	ErrTruncatedModule      = errors.New("truncated or corrupt module")
)

// Error is a VM failure. IP is -1 for load errors.
type Error struct {
	Kind   error
	IP     int
	Op     bytecode.Opcode
	Detail string
	Err    error // underlying cause, if any
}

func (e *Error) Error() string {
	if e.IP < 0 && e.Err != nil {
		return "load module: " + e.Err.Error()
	}
	msg := e.Kind.Error()
	switch {
	case e.Err != nil && errors.Is(e.Err, e.Kind):
		msg = e.Err.Error()
	case e.Err != nil:
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.IP < 0 {
		return msg
	}
	return fmt.Sprintf("ip %04d (%s): %s", e.IP, e.Op, msg)
}

// Unwrap exposes both the kind and the cause to errors.Is.
func (e *Error) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// loadError maps a module decoding failure to a VM error kind.
func loadError(err error) *Error {
	kind := ErrTruncatedModule
	switch {
	case errors.Is(err, bytecode.ErrBadMagic):
		kind = ErrBadMagic
	case errors.Is(err, bytecode.ErrBadVersion):
		kind = ErrBadVersion
	case errors.Is(err, bytecode.ErrIllegalOpcode):
		kind = ErrParseOpcode
	case errors.Is(err, bytecode.ErrBadOperand):
		kind = ErrParseOperand
	}
	return &Error{Kind: kind, IP: -1, Err: err}
}
