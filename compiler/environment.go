package compiler

import "github.com/chazu/rivet/vm"

// BorrowState records the strongest borrow currently held on a binding.
type BorrowState int

const (
	BorrowNone BorrowState = iota
	BorrowImmutable
	BorrowMutable
)

func (b BorrowState) String() string {
	switch b {
	case BorrowImmutable:
		return "immutable"
	case BorrowMutable:
		return "mutable"
	}
	return "none"
}

// VariableInfo is the compile-time view of one binding: whether it still
// owns its value and which borrows of it are outstanding.
type VariableInfo struct {
	Name     string
	OwnsVal  bool
	Borrow   BorrowState
	ImmCount int

	// Lends is the binding this one holds a reference to, when its value
	// came from a borrow.
	Lends *VariableInfo

	// Hidden bindings have a slot but are not yet in scope: a block's let
	// bindings become visible only once their statement is reached.
	Hidden bool
}

// Environment is the compile-time mirror of the runtime environment: an
// ordered list of frames, outermost first. A binding's static address is
// its (frame, slot) position in this list.
type Environment []Frame

// Frame holds the bindings of one scope in slot order.
type Frame []*VariableInfo

// Extend returns env with a new innermost frame for names. Each binding
// starts out owning its value with no borrows.
func (env Environment) Extend(names []string) Environment {
	frame := make(Frame, len(names))
	for i, name := range names {
		frame[i] = &VariableInfo{Name: name, OwnsVal: true}
	}
	out := make(Environment, len(env), len(env)+1)
	copy(out, env)
	return append(out, frame)
}

// Position returns the static address of the innermost visible binding of
// name. Within a frame the last visible slot wins, so a shadowing let in
// the same block resolves to the newer slot once it has been declared.
func (env Environment) Position(name string) (vm.Position, bool) {
	for f := len(env) - 1; f >= 0; f-- {
		for s := len(env[f]) - 1; s >= 0; s-- {
			if v := env[f][s]; v.Name == name && !v.Hidden {
				return vm.Position{Frame: f, Slot: s}, true
			}
		}
	}
	return vm.Position{}, false
}

// Lookup returns the binding at pos.
func (env Environment) Lookup(pos vm.Position) *VariableInfo {
	return env[pos.Frame][pos.Slot]
}

// Innermost returns the innermost frame.
func (env Environment) Innermost() Frame {
	return env[len(env)-1]
}

// Snapshot is a saved copy of binding states, keyed by binding identity.
type Snapshot map[*VariableInfo]VariableInfo

// Backup saves the state of every binding visible in env.
func (env Environment) Backup() Snapshot {
	s := make(Snapshot)
	for _, frame := range env {
		for _, v := range frame {
			s[v] = *v
		}
	}
	return s
}

// RestoreBorrows resets each saved binding's borrow state. Ownership is
// left alone: moves out of an enclosing binding stay in effect.
func (s Snapshot) RestoreBorrows() {
	for v, saved := range s {
		v.Borrow = saved.Borrow
		v.ImmCount = saved.ImmCount
	}
}

// RestoreOwnership resets each saved binding's ownership.
func (s Snapshot) RestoreOwnership() {
	for v, saved := range s {
		v.OwnsVal = saved.OwnsVal
	}
}

// ownership captures the current ownership of the bindings in s.
func (s Snapshot) ownership() map[*VariableInfo]bool {
	out := make(map[*VariableInfo]bool, len(s))
	for v := range s {
		out[v] = v.OwnsVal
	}
	return out
}
