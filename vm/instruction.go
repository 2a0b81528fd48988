package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Position is a static address: the frame index counted from the outermost
// frame of an environment, and the slot index within that frame.
type Position struct {
	Frame int `cbor:"1,keyasint"`
	Slot  int `cbor:"2,keyasint"`
}

func (p Position) String() string {
	return fmt.Sprintf("(%d,%d)", p.Frame, p.Slot)
}

// LiteralKind discriminates Literal.
type LiteralKind uint8

const (
	LitUnit LiteralKind = iota
	LitBool
	LitInt
	LitFloat
	LitChar
	LitString
)

// Literal is the constant operand of LDC.
type Literal struct {
	Kind  LiteralKind `cbor:"1,keyasint"`
	Int   int64       `cbor:"2,keyasint,omitempty"`
	Float float64     `cbor:"3,keyasint,omitempty"`
	Bool  bool        `cbor:"4,keyasint,omitempty"`
	Str   string      `cbor:"5,keyasint,omitempty"`
}

// Unit returns the unit literal.
func Unit() Literal { return Literal{Kind: LitUnit} }

// IntLit returns an integer literal.
func IntLit(v int64) Literal { return Literal{Kind: LitInt, Int: v} }

// FloatLit returns a float literal.
func FloatLit(v float64) Literal { return Literal{Kind: LitFloat, Float: v} }

// BoolLit returns a boolean literal.
func BoolLit(v bool) Literal { return Literal{Kind: LitBool, Bool: v} }

// StringLit returns a string literal.
func StringLit(v string) Literal { return Literal{Kind: LitString, Str: v} }

// CharLit returns a char literal.
func CharLit(r rune) Literal { return Literal{Kind: LitChar, Int: int64(r)} }

func (l Literal) String() string {
	switch l.Kind {
	case LitUnit:
		return "()"
	case LitBool:
		return strconv.FormatBool(l.Bool)
	case LitInt:
		return strconv.FormatInt(l.Int, 10)
	case LitFloat:
		return strconv.FormatFloat(l.Float, 'g', -1, 64)
	case LitChar:
		return strconv.QuoteRune(rune(l.Int))
	case LitString:
		return strconv.Quote(l.Str)
	}
	return "?"
}

// Instruction is a single VM instruction. Which operand fields are
// meaningful depends on Op.
type Instruction struct {
	Op      Opcode   `cbor:"1,keyasint"`
	Val     Literal  `cbor:"2,keyasint,omitempty"`
	Pos     Position `cbor:"3,keyasint,omitempty"`
	Addr    int      `cbor:"4,keyasint,omitempty"`
	Arity   int      `cbor:"5,keyasint,omitempty"`
	Num     int      `cbor:"6,keyasint,omitempty"`
	Sym     string   `cbor:"7,keyasint,omitempty"`
	Mutable bool     `cbor:"8,keyasint,omitempty"`
}

// String renders the instruction with its operands.
func (in Instruction) String() string {
	var sb strings.Builder
	sb.WriteString(in.Op.String())
	switch in.Op {
	case OpLDC:
		sb.WriteByte(' ')
		sb.WriteString(in.Val.String())
	case OpLD, OpASSIGN, OpDROP:
		sb.WriteByte(' ')
		sb.WriteString(in.Pos.String())
	case OpREF:
		sb.WriteByte(' ')
		sb.WriteString(in.Pos.String())
		if in.Mutable {
			sb.WriteString(" mut")
		}
	case OpJOF, OpGOTO:
		fmt.Fprintf(&sb, " %d", in.Addr)
	case OpUNOP, OpBINOP:
		sb.WriteByte(' ')
		sb.WriteString(in.Sym)
	case OpCALL:
		fmt.Fprintf(&sb, " %d", in.Arity)
	case OpLDF:
		fmt.Fprintf(&sb, " %d %d", in.Arity, in.Addr)
	case OpENTERSCOPE:
		fmt.Fprintf(&sb, " %d", in.Num)
	}
	return sb.String()
}
