package compiler

import (
	"testing"

	"github.com/chazu/rivet/vm"
)

func TestEnvironmentPosition(t *testing.T) {
	env := Environment{}.Extend([]string{"abs"}).Extend([]string{"a", "b"}).Extend([]string{"b"})

	pos, ok := env.Position("b")
	if !ok || pos != (vm.Position{Frame: 2, Slot: 0}) {
		t.Errorf("b = %v %v, want (2,0)", pos, ok)
	}
	pos, ok = env.Position("a")
	if !ok || pos != (vm.Position{Frame: 1, Slot: 0}) {
		t.Errorf("a = %v %v, want (1,0)", pos, ok)
	}
	if _, ok := env.Position("c"); ok {
		t.Error("c should be unbound")
	}
}

func TestEnvironmentHidden(t *testing.T) {
	env := Environment{}.Extend([]string{"x"}).Extend([]string{"x"})
	env.Innermost()[0].Hidden = true

	pos, _ := env.Position("x")
	if pos.Frame != 0 {
		t.Errorf("hidden binding resolved: %v", pos)
	}
	env.Innermost()[0].Hidden = false
	pos, _ = env.Position("x")
	if pos.Frame != 1 {
		t.Errorf("visible binding not resolved: %v", pos)
	}
}

func TestEnvironmentExtendDoesNotAlias(t *testing.T) {
	base := Environment{}.Extend([]string{"a"})
	left := base.Extend([]string{"l"})
	right := base.Extend([]string{"r"})
	if left.Innermost()[0].Name != "l" || right.Innermost()[0].Name != "r" {
		t.Errorf("sibling extensions share a frame")
	}
	if len(base) != 1 {
		t.Errorf("base grew to %d frames", len(base))
	}
}

func TestSnapshotRestore(t *testing.T) {
	env := Environment{}.Extend([]string{"x"})
	x := env.Innermost()[0]
	saved := env.Backup()

	x.Borrow = BorrowMutable
	x.OwnsVal = false
	saved.RestoreBorrows()
	if x.Borrow != BorrowNone {
		t.Errorf("borrow = %s, want none", x.Borrow)
	}
	if x.OwnsVal {
		t.Error("RestoreBorrows must leave ownership alone")
	}

	saved.RestoreOwnership()
	if !x.OwnsVal {
		t.Error("RestoreOwnership did not restore ownership")
	}
}
