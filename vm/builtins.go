package vm

import (
	"fmt"
	"math"
)

// Builtin is a primitive function reachable through the prelude frame, the
// outermost frame of every program's environment.
type Builtin struct {
	Name  string
	Arity int
	Fn    func(h *Heap, args []Address) (Address, error)
}

var builtins = []Builtin{
	{Name: "abs", Arity: 1, Fn: builtinAbs},
	{Name: "min", Arity: 2, Fn: builtinMin},
	{Name: "max", Arity: 2, Fn: builtinMax},
	{Name: "sqrt", Arity: 1, Fn: builtinSqrt},
}

// PreludeFrame is the static frame index of the builtins.
const PreludeFrame = 0

// BuiltinNames returns the builtin names in prelude slot order.
func BuiltinNames() []string {
	names := make([]string, len(builtins))
	for i, b := range builtins {
		names[i] = b.Name
	}
	return names
}

func numberArg(h *Heap, name string, a Address) (float64, bool, error) {
	if h.Kind(a) != KindNumber {
		return 0, false, fmt.Errorf("%w: %s expects a number, got %s", ErrOperandType, name, h.Kind(a))
	}
	v, integral := h.Number(a)
	return v, integral, nil
}

func builtinAbs(h *Heap, args []Address) (Address, error) {
	v, integral, err := numberArg(h, "abs", args[0])
	if err != nil {
		return NoAddress, err
	}
	if integral {
		n := int32(v)
		if n < 0 {
			n = -n
		}
		return h.AllocInt(int64(n))
	}
	return h.AllocNumber(math.Abs(v), false)
}

func builtinMin(h *Heap, args []Address) (Address, error) {
	return pick(h, "min", args, func(a, b float64) bool { return a <= b })
}

func builtinMax(h *Heap, args []Address) (Address, error) {
	return pick(h, "max", args, func(a, b float64) bool { return a >= b })
}

// pick returns whichever argument satisfies keepFirst; no allocation needed.
func pick(h *Heap, name string, args []Address, keepFirst func(a, b float64) bool) (Address, error) {
	a, _, err := numberArg(h, name, args[0])
	if err != nil {
		return NoAddress, err
	}
	b, _, err := numberArg(h, name, args[1])
	if err != nil {
		return NoAddress, err
	}
	if keepFirst(a, b) {
		return args[0], nil
	}
	return args[1], nil
}

func builtinSqrt(h *Heap, args []Address) (Address, error) {
	v, _, err := numberArg(h, "sqrt", args[0])
	if err != nil {
		return NoAddress, err
	}
	return h.AllocNumber(math.Sqrt(v), false)
}
