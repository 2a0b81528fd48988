package vm

import (
	"errors"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rivet.vm")

// ---------------------------------------------------------------------------
// Runtime Error Types
// ---------------------------------------------------------------------------

var (
	ErrUnassigned         = errors.New("access of unassigned name")
	ErrDivisionByZero     = errors.New("Division by zero")
	ErrNotReference       = errors.New("dereferencing a non-reference")
	ErrImmutableReference = errors.New("cannot assign through an immutable reference")
	ErrArity              = errors.New("arity mismatch")
	ErrNotCallable        = errors.New("calling a non-function")
	ErrHeapExhausted      = errors.New("heap memory exhausted")
	ErrNodeTooLarge       = errors.New("limitation: nodes cannot be larger than 10 words")
	ErrUnknownInstruction = errors.New("unknown instruction")
	ErrUnknownOperator    = errors.New("unknown operator")
	ErrOperandType        = errors.New("operand type mismatch")
	ErrStepLimit          = errors.New("step limit exceeded")
	ErrStackUnderflow     = errors.New("operand stack underflow")
)

// ---------------------------------------------------------------------------
// Image Error Types
// ---------------------------------------------------------------------------

var (
	ErrInvalidMagic    = errors.New("invalid magic number: expected RVBC")
	ErrVersionMismatch = errors.New("program version mismatch")
	ErrMalformed       = errors.New("malformed instruction")
)
