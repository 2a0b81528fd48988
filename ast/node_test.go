package ast

import (
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		wantTag   Tag
		wantError bool
	}{
		{
			name:    "literal",
			json:    `{"tag": "LiteralExpression", "val": 5, "type": "i32"}`,
			wantTag: TagLiteral,
		},
		{
			name:    "crate with function",
			json:    `{"tag": "Crate", "children": [{"tag": "Function_", "children": [{"tag": "Identifier", "val": "main"}, {"tag": "BlockExpression"}]}]}`,
			wantTag: TagCrate,
		},
		{
			name:      "invalid json",
			json:      `{"tag": "Crate", children: []}`,
			wantError: true,
		},
		{
			name:      "empty json",
			json:      ``,
			wantError: true,
		},
		{
			name:      "missing tag",
			json:      `{"children": []}`,
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := Parse(strings.NewReader(tt.json))
			if (err != nil) != tt.wantError {
				t.Errorf("Parse() error = %v, wantError %v", err, tt.wantError)
				return
			}
			if err == nil && n.Tag != tt.wantTag {
				t.Errorf("Parse() tag = %q, want %q", n.Tag, tt.wantTag)
			}
		})
	}
}

func TestParseLiteralText(t *testing.T) {
	n, err := ParseBytes([]byte(`{"tag": "LiteralExpression", "val": 2.5, "type": "f32"}`))
	if err != nil {
		t.Fatalf("ParseBytes: %v", err)
	}
	if n.Text() != "2.5" {
		t.Errorf("Text() = %q, want %q", n.Text(), "2.5")
	}
}

func TestNodeHelpers(t *testing.T) {
	fn := Fn("add", []Param{{Name: "a", Type: "i32"}, {Name: "b", Type: "i32", Mutable: true}}, "i32",
		Block(Binary("+", Path("a"), Path("b"))))

	if fn.Name() != "add" {
		t.Errorf("Name() = %q, want add", fn.Name())
	}
	params := fn.Child(TagFunctionParameters)
	if params == nil {
		t.Fatal("expected FunctionParameters child")
	}
	ps := params.ChildrenOf(TagFunctionParam)
	if len(ps) != 2 {
		t.Fatalf("got %d params, want 2", len(ps))
	}
	if ps[0].IsMutable() {
		t.Error("param a should not be mutable")
	}
	if !ps[1].IsMutable() {
		t.Error("param b should be mutable")
	}
	if ret := fn.Child(TagType); ret == nil || ret.Text() != "i32" {
		t.Errorf("return type = %v, want i32", ret)
	}
	if fn.Last().Tag != TagBlock {
		t.Errorf("Last() tag = %q, want block", fn.Last().Tag)
	}
}

func TestOperatorFromTerminal(t *testing.T) {
	n := &Node{Tag: TagComparison, Children: []*Node{
		Path("n"), {Tag: TagTerminal, Val: "=="}, Int(0),
	}}
	if n.Operator() != "==" {
		t.Errorf("Operator() = %q, want ==", n.Operator())
	}
	if got := len(n.Operands()); got != 2 {
		t.Errorf("Operands() len = %d, want 2", got)
	}
}

func TestString(t *testing.T) {
	got := Let("x", Int(5)).String()
	want := `(LetStatement (Identifier "x") (LiteralExpression "5" :i32))`
	if got != want {
		t.Errorf("String() = %s, want %s", got, want)
	}
}
