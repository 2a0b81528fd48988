package vm

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Operator microcode
// ---------------------------------------------------------------------------

// Integral operands use 32-bit wrapping arithmetic; as soon as one operand
// is a float the operation is carried out in floating point.

func (m *Machine) binop(sym string, x, y Address) (Address, error) {
	h := m.heap
	switch sym {
	case "==":
		return h.Bool(m.equal(x, y)), nil
	case "!=":
		return h.Bool(!m.equal(x, y)), nil
	case "&&", "||":
		a, b, err := m.bools(sym, x, y)
		if err != nil {
			return NoAddress, err
		}
		if sym == "&&" {
			return h.Bool(a && b), nil
		}
		return h.Bool(a || b), nil
	case "&", "|", "^":
		if h.Kind(x) != KindNumber {
			a, b, err := m.bools(sym, x, y)
			if err != nil {
				return NoAddress, err
			}
			switch sym {
			case "&":
				return h.Bool(a && b), nil
			case "|":
				return h.Bool(a || b), nil
			}
			return h.Bool(a != b), nil
		}
	}

	if h.Kind(x) == KindChar && h.Kind(y) == KindChar {
		return m.compareChars(sym, h.Char(x), h.Char(y))
	}
	if h.Kind(x) != KindNumber || h.Kind(y) != KindNumber {
		return NoAddress, fmt.Errorf("%w: %s %s %s", ErrOperandType, h.Kind(x), sym, h.Kind(y))
	}
	a, ai := h.Number(x)
	b, bi := h.Number(y)

	switch sym {
	case "<":
		return h.Bool(a < b), nil
	case "<=":
		return h.Bool(a <= b), nil
	case ">":
		return h.Bool(a > b), nil
	case ">=":
		return h.Bool(a >= b), nil
	}

	if ai && bi {
		r, err := intOp(sym, int32(a), int32(b))
		if err != nil {
			return NoAddress, err
		}
		return h.AllocInt(int64(r))
	}
	r, err := floatOp(sym, a, b)
	if err != nil {
		return NoAddress, err
	}
	return h.AllocNumber(r, false)
}

func intOp(sym string, a, b int32) (int32, error) {
	switch sym {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a % b, nil
	case "&":
		return a & b, nil
	case "|":
		return a | b, nil
	case "^":
		return a ^ b, nil
	case "<<":
		return a << uint32(b&31), nil
	case ">>":
		return a >> uint32(b&31), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, sym)
}

func floatOp(sym string, a, b float64) (float64, error) {
	switch sym {
	case "+":
		return a + b, nil
	case "-":
		return a - b, nil
	case "*":
		return a * b, nil
	case "/":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return a / b, nil
	case "%":
		if b == 0 {
			return 0, ErrDivisionByZero
		}
		return math.Mod(a, b), nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOperator, sym)
}

func (m *Machine) compareChars(sym string, a, b rune) (Address, error) {
	h := m.heap
	switch sym {
	case "<":
		return h.Bool(a < b), nil
	case "<=":
		return h.Bool(a <= b), nil
	case ">":
		return h.Bool(a > b), nil
	case ">=":
		return h.Bool(a >= b), nil
	}
	return NoAddress, fmt.Errorf("%w: Char %s Char", ErrOperandType, sym)
}

func (m *Machine) bools(sym string, x, y Address) (bool, bool, error) {
	h := m.heap
	if !isBool(h, x) || !isBool(h, y) {
		return false, false, fmt.Errorf("%w: %s %s %s", ErrOperandType, h.Kind(x), sym, h.Kind(y))
	}
	return x == h.True, y == h.True, nil
}

func isBool(h *Heap, a Address) bool {
	k := h.Kind(a)
	return k == KindTrue || k == KindFalse
}

// equal compares numbers and chars by value and everything else by
// address. Strings are interned, so address equality is content equality.
func (m *Machine) equal(x, y Address) bool {
	h := m.heap
	if x == y {
		return true
	}
	kx, ky := h.Kind(x), h.Kind(y)
	switch {
	case kx == KindNumber && ky == KindNumber:
		a, _ := h.Number(x)
		b, _ := h.Number(y)
		return a == b
	case kx == KindChar && ky == KindChar:
		return h.Char(x) == h.Char(y)
	}
	return false
}

func (m *Machine) unop(sym string, x Address) (Address, error) {
	h := m.heap
	switch sym {
	case "-":
		if h.Kind(x) != KindNumber {
			return NoAddress, fmt.Errorf("%w: -%s", ErrOperandType, h.Kind(x))
		}
		v, integral := h.Number(x)
		if integral {
			return h.AllocInt(int64(-int32(v)))
		}
		return h.AllocNumber(-v, false)
	case "!":
		if isBool(h, x) {
			return h.Bool(x != h.True), nil
		}
		if h.Kind(x) == KindNumber {
			if v, integral := h.Number(x); integral {
				return h.AllocInt(int64(^int32(v)))
			}
		}
		return NoAddress, fmt.Errorf("%w: !%s", ErrOperandType, h.Kind(x))
	}
	return NoAddress, fmt.Errorf("%w: %q", ErrUnknownOperator, sym)
}
