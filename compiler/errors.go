package compiler

import (
	"errors"
	"strings"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("rivet.compiler")

var (
	ErrCheckFailed    = errors.New("type check failed")
	ErrMoved          = errors.New("moved and cannot be used")
	ErrBorrowConflict = errors.New("borrow conflict")
	ErrUnsupported    = errors.New("unsupported construct")
)

// CheckError carries every message the checker collected.
type CheckError struct {
	Errors []string
}

func (e *CheckError) Error() string {
	return "type check failed: " + strings.Join(e.Errors, "; ")
}

func (e *CheckError) Unwrap() error { return ErrCheckFailed }
