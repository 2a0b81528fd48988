package ast

// Builders for constructing trees in Go. They produce the same normalized
// shape the front end emits.

// Param describes one function parameter for Fn.
type Param struct {
	Name    string
	Type    string
	Mutable bool
}

// Crate builds a crate from its items.
func Crate(items ...*Node) *Node {
	return &Node{Tag: TagCrate, Children: items}
}

// Fn builds a function item. ret may be empty for a unit function.
func Fn(name string, params []Param, ret string, body *Node) *Node {
	n := &Node{Tag: TagFunction, Children: []*Node{Ident(name)}}
	if len(params) > 0 {
		ps := &Node{Tag: TagFunctionParameters}
		for _, p := range params {
			pn := &Node{Tag: TagFunctionParam, Children: []*Node{Ident(p.Name)}}
			if p.Mutable {
				pn.Children = append(pn.Children, Mut())
			}
			pn.Children = append(pn.Children, TypeNode(p.Type))
			ps.Children = append(ps.Children, pn)
		}
		n.Children = append(n.Children, ps)
	}
	if ret != "" {
		n.Children = append(n.Children, TypeNode(ret))
	}
	n.Children = append(n.Children, body)
	return n
}

// Block builds a block expression. A trailing expression child is the
// block's tail value.
func Block(children ...*Node) *Node {
	return &Node{Tag: TagBlock, Children: children}
}

// Let builds `let name = init;`.
func Let(name string, init *Node) *Node {
	return let(name, false, "", init)
}

// LetMut builds `let mut name = init;`.
func LetMut(name string, init *Node) *Node {
	return let(name, true, "", init)
}

// LetTyped builds `let [mut] name: typ [= init];`. init may be nil.
func LetTyped(name string, mutable bool, typ string, init *Node) *Node {
	return let(name, mutable, typ, init)
}

func let(name string, mutable bool, typ string, init *Node) *Node {
	n := &Node{Tag: TagLet, Children: []*Node{Ident(name)}}
	if mutable {
		n.Children = append(n.Children, Mut())
	}
	if typ != "" {
		n.Children = append(n.Children, TypeNode(typ))
	}
	if init != nil {
		n.Children = append(n.Children, init)
	}
	return n
}

// Stmt wraps an expression as `expr;`.
func Stmt(expr *Node) *Node {
	return &Node{Tag: TagExpressionStmt, Children: []*Node{expr}}
}

// Int builds an i32 literal.
func Int(v int64) *Node {
	return &Node{Tag: TagLiteral, Val: v, Type: "i32"}
}

// Float builds an f32 literal.
func Float(v float64) *Node {
	return &Node{Tag: TagLiteral, Val: v, Type: "f32"}
}

// Bool builds a bool literal.
func Bool(v bool) *Node {
	return &Node{Tag: TagLiteral, Val: v, Type: "bool"}
}

// Str builds a string literal.
func Str(v string) *Node {
	return &Node{Tag: TagLiteral, Val: v, Type: "str"}
}

// Char builds a char literal.
func Char(r rune) *Node {
	return &Node{Tag: TagLiteral, Val: string(r), Type: "char"}
}

// Path builds a variable reference.
func Path(name string) *Node {
	return &Node{Tag: TagPath, Val: name}
}

// Ident builds an identifier terminal.
func Ident(name string) *Node {
	return &Node{Tag: TagIdentifier, Val: name}
}

// Mut builds the `mut` terminal.
func Mut() *Node {
	return &Node{Tag: TagTerminal, Val: "mut"}
}

// TypeNode builds a type annotation.
func TypeNode(text string) *Node {
	return &Node{Tag: TagType, Val: text}
}

// Binary builds an arithmetic or logical operator expression.
func Binary(op string, lhs, rhs *Node) *Node {
	return &Node{Tag: TagArithmetic, Val: op, Children: []*Node{lhs, rhs}}
}

// Compare builds a comparison expression.
func Compare(op string, lhs, rhs *Node) *Node {
	return &Node{Tag: TagComparison, Val: op, Children: []*Node{lhs, rhs}}
}

// Lazy builds `&&` or `||`.
func Lazy(op string, lhs, rhs *Node) *Node {
	return &Node{Tag: TagLazyBoolean, Val: op, Children: []*Node{lhs, rhs}}
}

// Neg builds `-operand`.
func Neg(operand *Node) *Node {
	return &Node{Tag: TagNegation, Val: "-", Children: []*Node{operand}}
}

// Not builds `!operand`.
func Not(operand *Node) *Node {
	return &Node{Tag: TagNegation, Val: "!", Children: []*Node{operand}}
}

// Group builds `(expr)`.
func Group(expr *Node) *Node {
	return &Node{Tag: TagGrouped, Children: []*Node{expr}}
}

// If builds an if expression. els may be nil, a block or another if.
func If(cond, then, els *Node) *Node {
	n := &Node{Tag: TagIf, Children: []*Node{cond, then}}
	if els != nil {
		n.Children = append(n.Children, els)
	}
	return n
}

// While builds a predicate loop.
func While(cond, body *Node) *Node {
	return &Node{Tag: TagWhile, Children: []*Node{cond, body}}
}

// Call builds a call of callee with args.
func Call(callee *Node, args ...*Node) *Node {
	return &Node{Tag: TagCall, Children: append([]*Node{callee}, args...)}
}

// CallName builds a call of a named function.
func CallName(name string, args ...*Node) *Node {
	return Call(Path(name), args...)
}

// Return builds `return expr`. expr may be nil.
func Return(expr *Node) *Node {
	n := &Node{Tag: TagReturn}
	if expr != nil {
		n.Children = []*Node{expr}
	}
	return n
}

// Assign builds `target = value`.
func Assign(target, value *Node) *Node {
	return &Node{Tag: TagAssign, Children: []*Node{target, value}}
}

// CompoundAssign builds `target op= value`, e.g. op "+=".
func CompoundAssign(op string, target, value *Node) *Node {
	return &Node{Tag: TagCompoundAssign, Val: op, Children: []*Node{target, value}}
}

// Ref builds `&operand`.
func Ref(operand *Node) *Node {
	return &Node{Tag: TagBorrow, Children: []*Node{operand}}
}

// RefMut builds `&mut operand`.
func RefMut(operand *Node) *Node {
	return &Node{Tag: TagBorrow, Children: []*Node{Mut(), operand}}
}

// Deref builds `*operand`.
func Deref(operand *Node) *Node {
	return &Node{Tag: TagDeref, Children: []*Node{operand}}
}
