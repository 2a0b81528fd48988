package vm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func ldc(l Literal) Instruction          { return Instruction{Op: OpLDC, Val: l} }
func ld(frame, slot int) Instruction     { return Instruction{Op: OpLD, Pos: Position{Frame: frame, Slot: slot}} }
func assign(frame, slot int) Instruction { return Instruction{Op: OpASSIGN, Pos: Position{Frame: frame, Slot: slot}} }
func binop(sym string) Instruction       { return Instruction{Op: OpBINOP, Sym: sym} }
func op(o Opcode) Instruction            { return Instruction{Op: o} }

func run(t *testing.T, code []Instruction, opts ...Option) (any, error) {
	t.Helper()
	m, err := New(code, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m.Run()
}

func mustRun(t *testing.T, code []Instruction, opts ...Option) any {
	t.Helper()
	v, err := run(t, code, opts...)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	return v
}

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		x, y Literal
		sym  string
		want any
	}{
		{"int add", IntLit(3), IntLit(4), "+", int64(7)},
		{"int sub", IntLit(3), IntLit(4), "-", int64(-1)},
		{"int mul", IntLit(6), IntLit(7), "*", int64(42)},
		{"int div truncates", IntLit(7), IntLit(2), "/", int64(3)},
		{"int rem", IntLit(7), IntLit(3), "%", int64(1)},
		{"int wraps", IntLit(2147483647), IntLit(1), "+", int64(-2147483648)},
		{"float wins", IntLit(1), FloatLit(0.5), "+", 1.5},
		{"float div", FloatLit(7), FloatLit(2), "/", 3.5},
		{"less", IntLit(1), IntLit(2), "<", true},
		{"greater equal", IntLit(1), IntLit(2), ">=", false},
		{"number equality", IntLit(2), FloatLit(2), "==", true},
		{"string equality", StringLit("a"), StringLit("a"), "==", true},
		{"string inequality", StringLit("a"), StringLit("b"), "!=", true},
		{"and", BoolLit(true), BoolLit(false), "&&", false},
		{"or", BoolLit(true), BoolLit(false), "||", true},
		{"bool xor", BoolLit(true), BoolLit(true), "^", false},
		{"char order", CharLit('a'), CharLit('b'), "<", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mustRun(t, []Instruction{ldc(tt.x), ldc(tt.y), binop(tt.sym), op(OpDONE)})
			if got != tt.want {
				t.Errorf("%v %s %v = %#v, want %#v", tt.x, tt.sym, tt.y, got, tt.want)
			}
		})
	}
}

func TestUnary(t *testing.T) {
	got := mustRun(t, []Instruction{ldc(IntLit(5)), {Op: OpUNOP, Sym: "-"}, op(OpDONE)})
	if got != int64(-5) {
		t.Errorf("-5 = %v", got)
	}
	got = mustRun(t, []Instruction{ldc(BoolLit(false)), {Op: OpUNOP, Sym: "!"}, op(OpDONE)})
	if got != true {
		t.Errorf("!false = %v", got)
	}
}

func TestDivisionByZero(t *testing.T) {
	for _, sym := range []string{"/", "%"} {
		_, err := run(t, []Instruction{ldc(IntLit(1)), ldc(IntLit(0)), binop(sym), op(OpDONE)})
		if !errors.Is(err, ErrDivisionByZero) {
			t.Fatalf("%s by zero: error = %v, want ErrDivisionByZero", sym, err)
		}
		if !strings.Contains(err.Error(), "Division by zero") {
			t.Errorf("message %q should mention Division by zero", err.Error())
		}
	}
}

func TestScopes(t *testing.T) {
	// { let x = 1; { let x = 2; } x }
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},
		ldc(IntLit(1)), assign(1, 0), op(OpPOP),
		{Op: OpENTERSCOPE, Num: 1},
		ldc(IntLit(2)), assign(2, 0), op(OpPOP),
		op(OpEXITSCOPE),
		ld(1, 0),
		op(OpEXITSCOPE),
		op(OpDONE),
	}
	if got := mustRun(t, code); got != int64(1) {
		t.Errorf("got %v, want 1", got)
	}
}

func TestUnassignedLoad(t *testing.T) {
	code := []Instruction{{Op: OpENTERSCOPE, Num: 1}, ld(1, 0), op(OpDONE)}
	_, err := run(t, code)
	if !errors.Is(err, ErrUnassigned) {
		t.Fatalf("error = %v, want ErrUnassigned", err)
	}
}

func TestDropClearsSlot(t *testing.T) {
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},
		ldc(IntLit(1)), assign(1, 0), op(OpPOP),
		{Op: OpDROP, Pos: Position{Frame: 1, Slot: 0}},
		ld(1, 0),
		op(OpDONE),
	}
	if _, err := run(t, code); !errors.Is(err, ErrUnassigned) {
		t.Fatalf("load after DROP: error = %v, want ErrUnassigned", err)
	}
}

func TestReferences(t *testing.T) {
	// let mut x = 5; let y = &mut x; *y = 10; x
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 2},
		ldc(IntLit(5)), assign(1, 0), op(OpPOP),
		{Op: OpREF, Pos: Position{Frame: 1, Slot: 0}, Mutable: true}, assign(1, 1), op(OpPOP),
		ld(1, 1), ldc(IntLit(10)), op(OpUPDATEREF), op(OpPOP),
		ld(1, 0),
		op(OpEXITSCOPE),
		op(OpDONE),
	}
	if got := mustRun(t, code); got != int64(10) {
		t.Errorf("got %v, want 10", got)
	}
}

func TestDerefNonReference(t *testing.T) {
	_, err := run(t, []Instruction{ldc(IntLit(5)), op(OpDEREF), op(OpDONE)})
	if !errors.Is(err, ErrNotReference) {
		t.Fatalf("error = %v, want ErrNotReference", err)
	}
}

func TestUpdateThroughImmutableReference(t *testing.T) {
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},
		ldc(IntLit(5)), assign(1, 0), op(OpPOP),
		{Op: OpREF, Pos: Position{Frame: 1, Slot: 0}},
		ldc(IntLit(6)), op(OpUPDATEREF),
		op(OpDONE),
	}
	if _, err := run(t, code); !errors.Is(err, ErrImmutableReference) {
		t.Fatalf("error = %v, want ErrImmutableReference", err)
	}
}

// addProgram defines fn add(a, b) { a + b } in the crate frame and calls
// it with the given argument count.
func addProgram(args ...int64) []Instruction {
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},       // 0
		{Op: OpLDF, Arity: 2, Addr: 3},   // 1
		{Op: OpGOTO, Addr: 7},            // 2
		ld(2, 0), ld(2, 1), binop("+"),   // 3-5
		op(OpRESET),                      // 6
		assign(1, 0), op(OpPOP), ld(1, 0), // 7-9
	}
	for _, a := range args {
		code = append(code, ldc(IntLit(a)))
	}
	return append(code,
		Instruction{Op: OpCALL, Arity: len(args)},
		op(OpEXITSCOPE),
		op(OpDONE),
	)
}

func TestCallAndReturn(t *testing.T) {
	if got := mustRun(t, addProgram(3, 4)); got != int64(7) {
		t.Errorf("add(3, 4) = %v, want 7", got)
	}
}

func TestArityMismatch(t *testing.T) {
	_, err := run(t, addProgram(3))
	if !errors.Is(err, ErrArity) {
		t.Fatalf("error = %v, want ErrArity", err)
	}
}

func TestCallNonFunction(t *testing.T) {
	_, err := run(t, []Instruction{ldc(IntLit(1)), {Op: OpCALL}, op(OpDONE)})
	if !errors.Is(err, ErrNotCallable) {
		t.Fatalf("error = %v, want ErrNotCallable", err)
	}
}

func TestResetUnwindsBlockframes(t *testing.T) {
	// fn f() { 1 + { return 2; } } ; f()
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},      // 0
		{Op: OpLDF, Arity: 0, Addr: 3},  // 1
		{Op: OpGOTO, Addr: 10},          // 2
		ldc(IntLit(1)),                  // 3
		{Op: OpENTERSCOPE, Num: 0},      // 4
		ldc(IntLit(2)),                  // 5
		op(OpRESET),                     // 6
		op(OpEXITSCOPE),                 // 7
		binop("+"),                      // 8
		op(OpRESET),                     // 9
		assign(1, 0), op(OpPOP),         // 10-11
		ldc(IntLit(100)),                // 12
		ld(1, 0), {Op: OpCALL},          // 13-14
		binop("+"),                      // 15
		op(OpEXITSCOPE),                 // 16
		op(OpDONE),                      // 17
	}
	// The return discards the pending 1, so the caller sees 100 + 2.
	if got := mustRun(t, code); got != int64(102) {
		t.Errorf("got %v, want 102", got)
	}
}

func TestBuiltins(t *testing.T) {
	tests := []struct {
		slot int
		args []Literal
		want any
	}{
		{0, []Literal{IntLit(-3)}, int64(3)},
		{1, []Literal{IntLit(2), IntLit(9)}, int64(2)},
		{2, []Literal{IntLit(2), IntLit(9)}, int64(9)},
		{3, []Literal{FloatLit(16)}, 4.0},
	}
	for _, tt := range tests {
		code := []Instruction{ld(PreludeFrame, tt.slot)}
		for _, a := range tt.args {
			code = append(code, ldc(a))
		}
		code = append(code, Instruction{Op: OpCALL, Arity: len(tt.args)}, op(OpDONE))
		if got := mustRun(t, code); got != tt.want {
			t.Errorf("%s%v = %#v, want %#v", BuiltinNames()[tt.slot], tt.args, got, tt.want)
		}
	}
}

func TestUnknownInstruction(t *testing.T) {
	_, err := run(t, []Instruction{{Op: Opcode(0xEE)}, op(OpDONE)})
	if !errors.Is(err, ErrUnknownInstruction) {
		t.Fatalf("error = %v, want ErrUnknownInstruction", err)
	}
}

func TestStepLimit(t *testing.T) {
	_, err := run(t, []Instruction{{Op: OpGOTO, Addr: 0}}, WithStepLimit(1000))
	if !errors.Is(err, ErrStepLimit) {
		t.Fatalf("error = %v, want ErrStepLimit", err)
	}
}

func TestContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := run(t, []Instruction{{Op: OpGOTO, Addr: 0}}, WithContext(ctx))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestLoopStaysWithinHeap(t *testing.T) {
	// let mut i = 0; while i < 5000 { i = i + 1; } i
	code := []Instruction{
		{Op: OpENTERSCOPE, Num: 1},                           // 0
		ldc(IntLit(0)), assign(1, 0), op(OpPOP),              // 1-3
		ld(1, 0), ldc(IntLit(5000)), binop("<"),              // 4-6
		{Op: OpJOF, Addr: 14},                                // 7
		ld(1, 0), ldc(IntLit(1)), binop("+"),                 // 8-10
		assign(1, 0), op(OpPOP),                              // 11-12
		{Op: OpGOTO, Addr: 4},                                // 13
		ld(1, 0),                                             // 14
		op(OpEXITSCOPE),                                      // 15
		op(OpDONE),                                           // 16
	}
	m, err := New(code, WithHeapWords(1000))
	if err != nil {
		t.Fatal(err)
	}
	got, err := m.Run()
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got != int64(5000) {
		t.Errorf("got %v, want 5000", got)
	}
	stats := m.Heap().Stats()
	if stats.Collections == 0 {
		t.Error("expected the loop to trigger collections")
	}
	if stats.Allocations <= m.Heap().Capacity() {
		t.Errorf("allocations %d should exceed capacity %d", stats.Allocations, m.Heap().Capacity())
	}
}
