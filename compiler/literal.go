package compiler

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/vm"
)

// literalSource returns the node carrying a literal's payload: the
// LiteralExpression itself, or its Terminal child when the front end
// nests it.
func literalSource(n *ast.Node) *ast.Node {
	if n.Val == nil && n.Type == "" {
		if t := n.Child(ast.TagTerminal); t != nil {
			return t
		}
	}
	return n
}

// literalKind returns the literal-kind tag, inferring it from the payload
// when the front end left it out.
func literalKind(n *ast.Node) string {
	src := literalSource(n)
	if src.Type != "" {
		return src.Type
	}
	switch v := src.Val.(type) {
	case bool:
		return BoolName
	case json.Number:
		if strings.ContainsAny(v.String(), ".eE") {
			return F32Name
		}
		return I32Name
	case float64:
		if v != float64(int64(v)) {
			return F32Name
		}
		return I32Name
	case int, int64, uint64:
		return I32Name
	case string:
		return StrName
	}
	return ""
}

// literalType maps a literal-kind tag to its type.
func literalType(kind string) (Type, bool) {
	switch kind {
	case I32Name:
		return I32, true
	case F32Name:
		return F32, true
	case BoolName:
		return Bool, true
	case CharName:
		return Char, true
	case StrName, "String", "&str":
		return Str, true
	}
	return nil, false
}

// parseLiteral converts a LiteralExpression into an LDC operand.
func parseLiteral(n *ast.Node) (vm.Literal, error) {
	src := literalSource(n)
	kind := literalKind(n)
	text := src.Text()

	switch kind {
	case I32Name:
		clean := strings.ReplaceAll(strings.TrimSuffix(text, "i32"), "_", "")
		v, err := strconv.ParseInt(clean, 0, 64)
		if err != nil {
			f, ferr := strconv.ParseFloat(clean, 64)
			if ferr != nil || f != float64(int64(f)) {
				return vm.Literal{}, fmt.Errorf("invalid i32 literal %q", text)
			}
			v = int64(f)
		}
		if v > 2147483647 || v < -2147483648 {
			return vm.Literal{}, fmt.Errorf("integer literal %s out of range for i32", text)
		}
		return vm.IntLit(v), nil

	case F32Name:
		clean := strings.ReplaceAll(strings.TrimSuffix(text, "f32"), "_", "")
		v, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return vm.Literal{}, fmt.Errorf("invalid f32 literal %q", text)
		}
		return vm.FloatLit(v), nil

	case BoolName:
		if b, ok := src.Val.(bool); ok {
			return vm.BoolLit(b), nil
		}
		b, err := strconv.ParseBool(text)
		if err != nil {
			return vm.Literal{}, fmt.Errorf("invalid bool literal %q", text)
		}
		return vm.BoolLit(b), nil

	case CharName:
		s := text
		if strings.HasPrefix(s, "'") {
			u, err := strconv.Unquote(s)
			if err != nil {
				return vm.Literal{}, fmt.Errorf("invalid char literal %s", text)
			}
			s = u
		}
		r, size := utf8.DecodeRuneInString(s)
		if size == 0 || size != len(s) {
			return vm.Literal{}, fmt.Errorf("invalid char literal %q", text)
		}
		return vm.CharLit(r), nil

	case StrName, "String", "&str":
		s := text
		if strings.HasPrefix(s, `"`) {
			u, err := strconv.Unquote(s)
			if err != nil {
				return vm.Literal{}, fmt.Errorf("invalid string literal %s", text)
			}
			s = u
		}
		return vm.StringLit(s), nil
	}
	return vm.Literal{}, fmt.Errorf("unknown literal type %q", kind)
}
