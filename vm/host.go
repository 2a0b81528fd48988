package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Host values are the Go representation of heap values at the machine's
// boundary: bool, int64 (integral numbers), float64, string, nil (Null),
// Undefined, Pair, Reference, and the placeholder strings "<closure>" and
// "<builtin>".

// UndefinedValue is the host form of Undefined, which is also the unit value.
type UndefinedValue struct{}

// Undefined is the host value of the Undefined singleton.
var Undefined = UndefinedValue{}

// Pair is the host form of a Pair node.
type Pair struct {
	Head any
	Tail any
}

// Reference is the host form of a Reference node: the current value of the
// slot it points at, and whether it is a mutable borrow.
type Reference struct {
	Value   any
	Mutable bool
}

// ToHost converts addr to a host value. Every node kind has a host form.
func (h *Heap) ToHost(addr Address) any {
	return h.toHost(addr, 0)
}

// Reference chains and pair lists are cut off at this depth.
const maxHostDepth = 64

func (h *Heap) toHost(addr Address, depth int) any {
	if addr == NoAddress {
		return nil
	}
	if depth > maxHostDepth {
		return "<...>"
	}
	switch h.Kind(addr) {
	case KindFalse:
		return false
	case KindTrue:
		return true
	case KindNull:
		return nil
	case KindUndefined:
		return Undefined
	case KindUnassigned:
		return "<unassigned>"
	case KindNumber:
		v, integral := h.Number(addr)
		if integral {
			return int64(v)
		}
		return v
	case KindString:
		return h.String(addr)
	case KindChar:
		return string(h.Char(addr))
	case KindPair:
		return Pair{
			Head: h.toHost(h.Child(addr, 0), depth+1),
			Tail: h.toHost(h.Child(addr, 1), depth+1),
		}
	case KindClosure:
		return "<closure>"
	case KindBuiltin:
		return "<builtin>"
	case KindReference:
		pos, mutable, env := h.Reference(addr)
		return Reference{Value: h.toHost(h.Lookup(env, pos), depth+1), Mutable: mutable}
	case KindFrame:
		return "<frame>"
	case KindEnvironment:
		return "<environment>"
	case KindBlockframe:
		return "<blockframe>"
	case KindCallframe:
		return "<callframe>"
	}
	return fmt.Sprintf("<%s>", h.Kind(addr))
}

// FromHost allocates the heap form of a host value.
func (h *Heap) FromHost(v any) (Address, error) {
	switch x := v.(type) {
	case nil:
		return h.Null, nil
	case UndefinedValue:
		return h.Undefined, nil
	case bool:
		return h.Bool(x), nil
	case int:
		return h.AllocInt(int64(x))
	case int64:
		return h.AllocInt(x)
	case float32:
		return h.AllocNumber(float64(x), false)
	case float64:
		return h.AllocNumber(x, false)
	case string:
		return h.AllocString(x)
	case rune:
		return h.AllocChar(x)
	case Pair:
		head, err := h.FromHost(x.Head)
		if err != nil {
			return NoAddress, err
		}
		h.pin(head)
		tail, err := h.FromHost(x.Tail)
		h.unpin(1)
		if err != nil {
			return NoAddress, err
		}
		return h.AllocPair(head, tail)
	}
	return NoAddress, fmt.Errorf("no heap representation for %T", v)
}

// FromLiteral allocates the heap form of an LDC operand.
func (h *Heap) FromLiteral(l Literal) (Address, error) {
	switch l.Kind {
	case LitUnit:
		return h.Undefined, nil
	case LitBool:
		return h.Bool(l.Bool), nil
	case LitInt:
		return h.AllocInt(l.Int)
	case LitFloat:
		return h.AllocNumber(l.Float, false)
	case LitChar:
		return h.AllocChar(rune(l.Int))
	case LitString:
		return h.AllocString(l.Str)
	}
	return NoAddress, fmt.Errorf("%w: literal kind %d", ErrUnknownInstruction, l.Kind)
}

// FormatHost renders a host value for display.
func FormatHost(v any) string {
	switch x := v.(type) {
	case nil:
		return "null"
	case UndefinedValue:
		return "()"
	case bool:
		return strconv.FormatBool(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		if x == math.Trunc(x) && !math.IsInf(x, 0) {
			return strconv.FormatFloat(x, 'f', 1, 64)
		}
		return strconv.FormatFloat(x, 'g', -1, 64)
	case string:
		return x
	case Pair:
		var sb strings.Builder
		sb.WriteByte('(')
		sb.WriteString(FormatHost(x.Head))
		sb.WriteString(" . ")
		sb.WriteString(FormatHost(x.Tail))
		sb.WriteByte(')')
		return sb.String()
	case Reference:
		if x.Mutable {
			return "&mut " + FormatHost(x.Value)
		}
		return "&" + FormatHost(x.Value)
	}
	return fmt.Sprint(v)
}
