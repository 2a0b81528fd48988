package compiler

import (
	"fmt"
	"strings"
)

// Type is the checker's type representation: a primitive, a function
// signature or a reference.
type Type interface {
	String() string
	typ() // marker method
}

// Primitive names.
const (
	UnitName = "unit"
	I32Name  = "i32"
	F32Name  = "f32"
	BoolName = "bool"
	CharName = "char"
	StrName  = "str"
)

// PrimitiveType is one of unit, i32, f32, bool, char or str.
type PrimitiveType struct {
	Name string
}

// FunctionType is a function signature.
type FunctionType struct {
	Params []Type
	Return Type
}

// ReferenceType is &T or &mut T.
type ReferenceType struct {
	Target  Type
	Mutable bool
}

func (PrimitiveType) typ() {}
func (FunctionType) typ()  {}
func (ReferenceType) typ() {}

func (p PrimitiveType) String() string {
	if p.Name == UnitName {
		return "()"
	}
	return p.Name
}

func (f FunctionType) String() string {
	params := make([]string, len(f.Params))
	for i, p := range f.Params {
		params[i] = p.String()
	}
	return fmt.Sprintf("fn(%s) -> %s", strings.Join(params, ", "), f.Return)
}

func (r ReferenceType) String() string {
	if r.Mutable {
		return "&mut " + r.Target.String()
	}
	return "&" + r.Target.String()
}

// Shared primitive instances.
var (
	Unit = PrimitiveType{UnitName}
	I32  = PrimitiveType{I32Name}
	F32  = PrimitiveType{F32Name}
	Bool = PrimitiveType{BoolName}
	Char = PrimitiveType{CharName}
	Str  = PrimitiveType{StrName}
)

// TypesEqual reports structural equality. References must agree on both
// target and mutability.
func TypesEqual(a, b Type) bool {
	switch x := a.(type) {
	case PrimitiveType:
		y, ok := b.(PrimitiveType)
		return ok && x.Name == y.Name
	case FunctionType:
		y, ok := b.(FunctionType)
		if !ok || len(x.Params) != len(y.Params) || !TypesEqual(x.Return, y.Return) {
			return false
		}
		for i := range x.Params {
			if !TypesEqual(x.Params[i], y.Params[i]) {
				return false
			}
		}
		return true
	case ReferenceType:
		y, ok := b.(ReferenceType)
		return ok && x.Mutable == y.Mutable && TypesEqual(x.Target, y.Target)
	}
	return false
}

// IsNumeric reports whether t is i32 or f32.
func IsNumeric(t Type) bool {
	p, ok := t.(PrimitiveType)
	return ok && (p.Name == I32Name || p.Name == F32Name)
}

// IsBool reports whether t is bool.
func IsBool(t Type) bool {
	return TypesEqual(t, Bool)
}

// Wider returns the wider of two numeric types; f32 wins.
func Wider(a, b Type) Type {
	if TypesEqual(a, F32) || TypesEqual(b, F32) {
		return F32
	}
	return I32
}

// ParseType parses a type annotation such as "i32", "&mut f32", "()" or
// "fn(i32, i32) -> bool". "&str" is the string primitive.
func ParseType(text string) (Type, error) {
	p := &typeParser{src: text}
	t, err := p.parse()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, fmt.Errorf("unexpected %q in type %q", p.src[p.pos:], text)
	}
	return t, nil
}

type typeParser struct {
	src string
	pos int
}

func (p *typeParser) skipSpace() {
	for p.pos < len(p.src) && p.src[p.pos] == ' ' {
		p.pos++
	}
}

func (p *typeParser) accept(s string) bool {
	p.skipSpace()
	if strings.HasPrefix(p.src[p.pos:], s) {
		p.pos += len(s)
		return true
	}
	return false
}

func (p *typeParser) ident() string {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			p.pos++
			continue
		}
		break
	}
	return p.src[start:p.pos]
}

func (p *typeParser) parse() (Type, error) {
	switch {
	case p.accept("&"):
		mutable := false
		save := p.pos
		if p.ident() == "mut" {
			mutable = true
		} else {
			p.pos = save
		}
		target, err := p.parse()
		if err != nil {
			return nil, err
		}
		if TypesEqual(target, Str) && !mutable {
			return Str, nil
		}
		return ReferenceType{Target: target, Mutable: mutable}, nil
	case p.accept("("):
		if !p.accept(")") {
			return nil, fmt.Errorf("tuple types are not supported: %q", p.src)
		}
		return Unit, nil
	}

	name := p.ident()
	switch name {
	case "i32", "f32", "bool", "char", "str":
		return PrimitiveType{name}, nil
	case "String":
		return Str, nil
	case "fn":
		return p.parseFunction()
	case "":
		return nil, fmt.Errorf("missing type in %q", p.src)
	}
	return nil, fmt.Errorf("unknown type %q", name)
}

func (p *typeParser) parseFunction() (Type, error) {
	if !p.accept("(") {
		return nil, fmt.Errorf("expected ( after fn in %q", p.src)
	}
	var params []Type
	for !p.accept(")") {
		if len(params) > 0 && !p.accept(",") {
			return nil, fmt.Errorf("expected , in %q", p.src)
		}
		t, err := p.parse()
		if err != nil {
			return nil, err
		}
		params = append(params, t)
	}
	var ret Type = Unit
	if p.accept("->") {
		t, err := p.parse()
		if err != nil {
			return nil, err
		}
		ret = t
	}
	return FunctionType{Params: params, Return: ret}, nil
}
