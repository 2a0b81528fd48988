// Package ast defines the tagged tree consumed by the checker and compiler.
//
// Trees are produced by an external front end and decoded from JSON (or
// CBOR). Every node has the shape {tag, children?, val?, type?}; literal
// terminals carry their payload in val and their literal kind in type.
package ast

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Tag discriminates tree nodes.
type Tag string

const (
	TagCrate              Tag = "Crate"
	TagFunction           Tag = "Function_"
	TagFunctionParameters Tag = "FunctionParameters"
	TagFunctionParam      Tag = "FunctionParam"
	TagType               Tag = "Type_"
	TagBlock              Tag = "BlockExpression"
	TagLet                Tag = "LetStatement"
	TagExpressionStmt     Tag = "ExpressionStatement"
	TagLiteral            Tag = "LiteralExpression"
	TagPath               Tag = "PathExpression_"
	TagArithmetic         Tag = "ArithmeticOrLogicalExpression"
	TagComparison         Tag = "ComparisonExpression"
	TagLazyBoolean        Tag = "LazyBooleanExpression"
	TagCompoundAssign     Tag = "CompoundAssignmentExpression"
	TagNegation           Tag = "NegationExpression"
	TagGrouped            Tag = "GroupedExpression"
	TagIf                 Tag = "IfExpression"
	TagWhile              Tag = "PredicateLoopExpression"
	TagCall               Tag = "CallExpression"
	TagReturn             Tag = "ReturnExpression"
	TagAssign             Tag = "AssignmentExpression"
	TagBorrow             Tag = "BorrowExpression"
	TagDeref              Tag = "DereferenceExpression"
	TagIdentifier         Tag = "Identifier"
	TagTerminal           Tag = "Terminal"
)

// Node is a single tree node. Nodes are treated as immutable once built.
type Node struct {
	Tag      Tag     `json:"tag" cbor:"tag"`
	Children []*Node `json:"children,omitempty" cbor:"children,omitempty"`
	Val      any     `json:"val,omitempty" cbor:"val,omitempty"`
	Type     string  `json:"type,omitempty" cbor:"type,omitempty"`
}

// Parse decodes a JSON tree from r.
func Parse(r io.Reader) (*Node, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var n Node
	if err := dec.Decode(&n); err != nil {
		return nil, fmt.Errorf("parse tree: %w", err)
	}
	if n.Tag == "" {
		return nil, fmt.Errorf("parse tree: root node has no tag")
	}
	return &n, nil
}

// ParseBytes decodes a JSON tree from data.
func ParseBytes(data []byte) (*Node, error) {
	return Parse(strings.NewReader(string(data)))
}

// Child returns the first direct child with the given tag, or nil.
func (n *Node) Child(tag Tag) *Node {
	if n == nil {
		return nil
	}
	for _, c := range n.Children {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// ChildrenOf returns every direct child with the given tag.
func (n *Node) ChildrenOf(tag Tag) []*Node {
	var out []*Node
	for _, c := range n.Children {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// Last returns the last child, or nil for a terminal.
func (n *Node) Last() *Node {
	if len(n.Children) == 0 {
		return nil
	}
	return n.Children[len(n.Children)-1]
}

// Text returns val rendered as a string.
func (n *Node) Text() string {
	switch v := n.Val.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint64:
		return strconv.FormatUint(v, 10)
	case int:
		return strconv.Itoa(v)
	default:
		return fmt.Sprint(v)
	}
}

// Name returns the identifier a node introduces or refers to. Path
// expressions and identifiers carry it in val; declarations carry it in an
// Identifier child.
func (n *Node) Name() string {
	if n == nil {
		return ""
	}
	if n.Val != nil {
		return n.Text()
	}
	if id := n.Child(TagIdentifier); id != nil {
		return id.Text()
	}
	return ""
}

// IsMutable reports whether a declaration or borrow carries a `mut` terminal.
func (n *Node) IsMutable() bool {
	for _, c := range n.Children {
		if c.Tag == TagTerminal && c.Text() == "mut" {
			return true
		}
	}
	return false
}

// Operator returns the operator symbol of an operator node. The symbol is
// normally in val; a middle Terminal child is accepted as well.
func (n *Node) Operator() string {
	if n.Val != nil {
		return n.Text()
	}
	for _, c := range n.Children {
		if c.Tag == TagTerminal {
			return c.Text()
		}
	}
	return ""
}

// Operands returns the non-terminal children of a node, in order.
func (n *Node) Operands() []*Node {
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		if c.Tag != TagTerminal {
			out = append(out, c)
		}
	}
	return out
}

// String renders the tree as an s-expression, mainly for diagnostics.
func (n *Node) String() string {
	var sb strings.Builder
	n.write(&sb)
	return sb.String()
}

func (n *Node) write(sb *strings.Builder) {
	if n == nil {
		sb.WriteString("nil")
		return
	}
	sb.WriteByte('(')
	sb.WriteString(string(n.Tag))
	if n.Val != nil {
		fmt.Fprintf(sb, " %q", n.Text())
	}
	if n.Type != "" {
		sb.WriteString(" :")
		sb.WriteString(n.Type)
	}
	for _, c := range n.Children {
		sb.WriteByte(' ')
		c.write(sb)
	}
	sb.WriteByte(')')
}
