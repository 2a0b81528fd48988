package compiler

import "testing"

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want Type
	}{
		{"i32", I32},
		{"f32", F32},
		{"bool", Bool},
		{"char", Char},
		{"()", Unit},
		{"&str", Str},
		{"String", Str},
		{"&i32", ReferenceType{Target: I32}},
		{"&mut i32", ReferenceType{Target: I32, Mutable: true}},
		{"& &mut bool", ReferenceType{Target: ReferenceType{Target: Bool, Mutable: true}}},
		{"fn(i32, f32) -> bool", FunctionType{Params: []Type{I32, F32}, Return: Bool}},
		{"fn()", FunctionType{Return: Unit}},
	}
	for _, tt := range tests {
		got, err := ParseType(tt.in)
		if err != nil {
			t.Errorf("ParseType(%q): %v", tt.in, err)
			continue
		}
		if !TypesEqual(got, tt.want) {
			t.Errorf("ParseType(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestParseTypeErrors(t *testing.T) {
	for _, in := range []string{"", "u64", "(i32, i32)", "fn(i32", "i32 i32"} {
		if _, err := ParseType(in); err == nil {
			t.Errorf("ParseType(%q) should fail", in)
		}
	}
}

func TestTypesEqual(t *testing.T) {
	if TypesEqual(ReferenceType{Target: I32}, ReferenceType{Target: I32, Mutable: true}) {
		t.Error("& and &mut must differ")
	}
	if TypesEqual(I32, F32) {
		t.Error("i32 and f32 must differ")
	}
	if !TypesEqual(FunctionType{Params: []Type{I32}, Return: Unit}, FunctionType{Params: []Type{I32}, Return: Unit}) {
		t.Error("identical signatures must be equal")
	}
	if TypesEqual(FunctionType{Params: []Type{I32}, Return: Unit}, FunctionType{Return: Unit}) {
		t.Error("arity must matter")
	}
}

func TestWider(t *testing.T) {
	if !TypesEqual(Wider(I32, F32), F32) || !TypesEqual(Wider(F32, I32), F32) {
		t.Error("f32 should win")
	}
	if !TypesEqual(Wider(I32, I32), I32) {
		t.Error("i32 with i32 is i32")
	}
}

func TestTypeEnvScoping(t *testing.T) {
	env := NewTypeEnv()
	env.Define("x", I32, false)
	env.EnterScope()
	env.Define("x", Bool, true)
	if got, _ := env.Lookup("x"); !TypesEqual(got, Bool) || !env.IsMutable("x") {
		t.Errorf("inner x = %v, mutable %v", got, env.IsMutable("x"))
	}
	env.ExitScope()
	if got, _ := env.Lookup("x"); !TypesEqual(got, I32) || env.IsMutable("x") {
		t.Errorf("outer x = %v, mutable %v", got, env.IsMutable("x"))
	}
	env.ExitScope()
	if env.Depth() != 1 {
		t.Errorf("global scope popped: depth %d", env.Depth())
	}
	if _, ok := env.Lookup("y"); ok {
		t.Error("y should be unbound")
	}
}
