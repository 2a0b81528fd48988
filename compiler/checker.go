package compiler

import (
	"fmt"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/vm"
)

// ---------------------------------------------------------------------------
// Checker: type, mutability and borrow-mutability checks before codegen
// ---------------------------------------------------------------------------

// Checker assigns a type to every node of a tree and collects violations.
// Checking is best-effort: it keeps going after an error so that one pass
// reports as much as possible.
type Checker struct {
	env       *TypeEnv
	errors    []string
	functions []fnContext
	loops     int
}

// fnContext is the function whose body is being checked.
type fnContext struct {
	name string
	ret  Type
}

// preludeTypes are the signatures of the builtins in the VM's prelude frame.
var preludeTypes = map[string]Type{
	"abs":  FunctionType{Params: []Type{I32}, Return: I32},
	"min":  FunctionType{Params: []Type{I32, I32}, Return: I32},
	"max":  FunctionType{Params: []Type{I32, I32}, Return: I32},
	"sqrt": FunctionType{Params: []Type{F32}, Return: F32},
}

// NewChecker creates a checker.
func NewChecker() *Checker {
	c := &Checker{}
	c.reset()
	return c
}

func (c *Checker) reset() {
	c.env = NewTypeEnv()
	c.errors = nil
	c.functions = nil
	c.loops = 0
	for _, name := range vm.BuiltinNames() {
		c.env.DefineGlobal(name, preludeTypes[name])
	}
}

// Check type-checks a whole tree and reports whether it is free of errors.
// Each call starts from a clean state, and the tree is never modified.
func (c *Checker) Check(tree *ast.Node) bool {
	c.reset()
	c.CheckNode(tree)
	return len(c.errors) == 0
}

// Errors returns the messages collected by the last Check.
func (c *Checker) Errors() []string {
	return c.errors
}

// CheckTree is a convenience that runs a fresh checker over tree and returns
// its errors.
func CheckTree(tree *ast.Node) []string {
	c := NewChecker()
	c.Check(tree)
	return c.Errors()
}

func (c *Checker) errorf(format string, args ...interface{}) {
	c.errors = append(c.errors, fmt.Sprintf(format, args...))
}

// CheckNode returns the type of n. Unknown tags are treated as wrappers:
// their children are checked and the last child's type is returned.
func (c *Checker) CheckNode(n *ast.Node) Type {
	if n == nil {
		return Unit
	}
	switch n.Tag {
	case ast.TagCrate:
		return c.checkCrate(n)
	case ast.TagFunction:
		sig := c.signature(n)
		c.env.Define(n.Name(), sig, false)
		c.checkFunction(n, sig)
		return Unit
	case ast.TagBlock:
		return c.checkBlock(n)
	case ast.TagLet:
		return c.checkLet(n)
	case ast.TagExpressionStmt:
		return c.checkExpressionStatement(n)
	case ast.TagLiteral:
		return c.checkLiteral(n)
	case ast.TagPath, ast.TagIdentifier:
		return c.checkPath(n)
	case ast.TagReturn:
		return c.checkReturn(n)
	case ast.TagArithmetic:
		ops := n.Operands()
		if len(ops) != 2 {
			return c.malformed(n)
		}
		return c.checkBinaryOperation(c.CheckNode(ops[0]), c.CheckNode(ops[1]), n.Operator())
	case ast.TagComparison:
		return c.checkComparison(n)
	case ast.TagLazyBoolean:
		ops := n.Operands()
		if len(ops) != 2 {
			return c.malformed(n)
		}
		return c.checkBinaryOperation(c.CheckNode(ops[0]), c.CheckNode(ops[1]), n.Operator())
	case ast.TagNegation:
		return c.checkNegation(n)
	case ast.TagGrouped:
		return c.CheckNode(n.Last())
	case ast.TagIf:
		return c.checkIf(n)
	case ast.TagWhile:
		return c.checkWhile(n)
	case ast.TagCall:
		return c.checkCall(n)
	case ast.TagAssign:
		return c.checkAssignment(n)
	case ast.TagCompoundAssign:
		return c.checkCompoundAssignment(n)
	case ast.TagBorrow:
		return c.checkBorrow(n)
	case ast.TagDeref:
		return c.checkDeref(n)
	case ast.TagType, ast.TagTerminal, ast.TagFunctionParameters, ast.TagFunctionParam:
		return Unit
	}

	var last Type = Unit
	for _, child := range n.Children {
		last = c.CheckNode(child)
	}
	return last
}

func (c *Checker) malformed(n *ast.Node) Type {
	c.errorf("Malformed %s node", n.Tag)
	return Unit
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// checkCrate registers every function signature before checking any body,
// so functions may call each other regardless of order. main is checked
// last.
func (c *Checker) checkCrate(n *ast.Node) Type {
	fns := n.ChildrenOf(ast.TagFunction)
	sigs := make(map[string]FunctionType, len(fns))
	var main *ast.Node

	for _, fn := range fns {
		name := fn.Name()
		if _, dup := sigs[name]; dup {
			c.errorf("Function %s is defined more than once", name)
			continue
		}
		sig := c.signature(fn)
		sigs[name] = sig
		c.env.DefineGlobal(name, sig)
		if name == "main" {
			main = fn
		}
	}

	for _, fn := range fns {
		if fn == main {
			continue
		}
		sig, ok := sigs[fn.Name()]
		if !ok {
			c.errorf("Function %s not properly registered", fn.Name())
			continue
		}
		c.checkFunction(fn, sig)
	}

	for _, child := range n.Children {
		if child.Tag != ast.TagFunction {
			c.CheckNode(child)
		}
	}

	if main == nil {
		c.errorf("No main function found")
		return Unit
	}
	c.checkFunction(main, sigs["main"])
	return Unit
}

// signature builds a function's type from its parameter and return
// annotations.
func (c *Checker) signature(fn *ast.Node) FunctionType {
	sig := FunctionType{Return: Unit}
	if params := fn.Child(ast.TagFunctionParameters); params != nil {
		for _, p := range params.ChildrenOf(ast.TagFunctionParam) {
			sig.Params = append(sig.Params, c.annotation(p.Child(ast.TagType), p.Name()))
		}
	}
	if ret := fn.Child(ast.TagType); ret != nil {
		sig.Return = c.annotation(ret, fn.Name())
	}
	return sig
}

func (c *Checker) annotation(n *ast.Node, owner string) Type {
	if n == nil {
		c.errorf("Missing type annotation for %s", owner)
		return Unit
	}
	t, err := ParseType(n.Text())
	if err != nil {
		c.errorf("Invalid type for %s: %v", owner, err)
		return Unit
	}
	return t
}

func (c *Checker) checkFunction(fn *ast.Node, sig FunctionType) {
	name := fn.Name()
	body := fn.Child(ast.TagBlock)
	if body == nil {
		c.errorf("Function %s has no body", name)
		return
	}

	c.env.EnterScope()
	if params := fn.Child(ast.TagFunctionParameters); params != nil {
		for i, p := range params.ChildrenOf(ast.TagFunctionParam) {
			if i < len(sig.Params) {
				c.env.Define(p.Name(), sig.Params[i], p.IsMutable())
			}
		}
	}
	c.functions = append(c.functions, fnContext{name: name, ret: sig.Return})
	bodyType := c.checkBlock(body)
	c.functions = c.functions[:len(c.functions)-1]
	c.env.ExitScope()

	if name != "main" && !TypesEqual(bodyType, sig.Return) {
		c.errorf("Function %s returns %s, but its declared return type is %s", name, bodyType, sig.Return)
	}
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// checkBlock types a block as its last child. Nested function items are
// registered before the block's statements are checked.
func (c *Checker) checkBlock(n *ast.Node) Type {
	c.env.EnterScope()
	defer c.env.ExitScope()

	sigs := make(map[*ast.Node]FunctionType)
	for _, fn := range n.ChildrenOf(ast.TagFunction) {
		sig := c.signature(fn)
		sigs[fn] = sig
		c.env.Define(fn.Name(), sig, false)
	}

	var last Type = Unit
	for _, child := range n.Children {
		if child.Tag == ast.TagFunction {
			c.checkFunction(child, sigs[child])
			last = Unit
			continue
		}
		last = c.CheckNode(child)
	}
	return last
}

func (c *Checker) checkLet(n *ast.Node) Type {
	name := n.Name()
	mutable := n.IsMutable()

	var declared Type
	if ann := n.Child(ast.TagType); ann != nil {
		declared = c.annotation(ann, name)
	}

	init := letInitializer(n)
	switch {
	case init != nil:
		inferred := c.CheckNode(init)
		if declared != nil && !TypesEqual(declared, inferred) {
			c.errorf("Cannot assign value of type %s to variable %s of type %s", inferred, name, declared)
		}
		if declared == nil {
			declared = inferred
		}
	case declared == nil:
		c.errorf("Type annotations needed for %s", name)
		declared = Unit
	}

	if init == nil {
		c.env.DefineDeferred(name, declared, mutable, c.loops)
	} else {
		c.env.Define(name, declared, mutable)
	}
	return Unit
}

// letInitializer returns the initializer expression of a let statement.
func letInitializer(n *ast.Node) *ast.Node {
	for _, child := range n.Children {
		switch child.Tag {
		case ast.TagIdentifier, ast.TagTerminal, ast.TagType:
			continue
		}
		return child
	}
	return nil
}

// checkExpressionStatement types `expr;` as unit, except a return, which
// keeps its value's type so a body ending in `return x;` has x's type.
func (c *Checker) checkExpressionStatement(n *ast.Node) Type {
	expr := n.Last()
	t := c.CheckNode(expr)
	if expr != nil && expr.Tag == ast.TagReturn {
		return t
	}
	return Unit
}

func (c *Checker) checkReturn(n *ast.Node) Type {
	var t Type = Unit
	if expr := n.Last(); expr != nil {
		t = c.CheckNode(expr)
	}
	if len(c.functions) == 0 {
		c.errorf("return outside of a function")
		return t
	}
	fn := c.functions[len(c.functions)-1]
	if fn.name != "main" && !TypesEqual(t, fn.ret) {
		c.errorf("Function %s returns %s, but its declared return type is %s", fn.name, t, fn.ret)
	}
	return t
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

func (c *Checker) checkLiteral(n *ast.Node) Type {
	kind := literalKind(n)
	t, ok := literalType(kind)
	if !ok {
		c.errorf("Unknown literal type: %q", kind)
		return Unit
	}
	if _, err := parseLiteral(n); err != nil {
		c.errorf("%v", err)
	}
	return t
}

func (c *Checker) checkPath(n *ast.Node) Type {
	name := n.Name()
	t, ok := c.env.Lookup(name)
	if !ok {
		c.errorf("Unassigned name: %s", name)
		return Unit
	}
	return t
}

func (c *Checker) checkBinaryOperation(left, right Type, op string) Type {
	switch op {
	case "+", "-", "*", "/", "%":
		if !IsNumeric(left) {
			c.errorf("Left operand of %s must be numeric, got %s", op, left)
		}
		if !IsNumeric(right) {
			c.errorf("Right operand of %s must be numeric, got %s", op, right)
		}
		return Wider(left, right)

	case "&&", "||":
		if !IsBool(left) {
			c.errorf("Left operand of %s must be boolean, got %s", op, left)
		}
		if !IsBool(right) {
			c.errorf("Right operand of %s must be boolean, got %s", op, right)
		}
		return Bool

	case "&", "|", "^":
		if IsBool(left) && IsBool(right) {
			return Bool
		}
		if TypesEqual(left, I32) && TypesEqual(right, I32) {
			return I32
		}
		c.errorf("Operands of %s must both be boolean or both be i32, got %s and %s", op, left, right)
		return left

	case "<<", ">>":
		if !TypesEqual(left, I32) || !TypesEqual(right, I32) {
			c.errorf("Operands of %s must be i32, got %s and %s", op, left, right)
		}
		return I32
	}
	c.errorf("Unknown binary operator: %s", op)
	return Unit
}

func (c *Checker) checkComparison(n *ast.Node) Type {
	ops := n.Operands()
	if len(ops) != 2 {
		return c.malformed(n)
	}
	left := c.CheckNode(ops[0])
	right := c.CheckNode(ops[1])
	op := n.Operator()

	switch op {
	case "==", "!=":
		if !(IsNumeric(left) && IsNumeric(right)) && !TypesEqual(left, right) {
			c.errorf("Cannot compare values of different types (%s with %s)", left, right)
		}
	case "<", "<=", ">", ">=":
		switch {
		case IsNumeric(left) && IsNumeric(right):
		case TypesEqual(left, Char) && TypesEqual(right, Char):
		case !TypesEqual(left, right):
			c.errorf("Cannot compare values of different types (%s with %s)", left, right)
		default:
			c.errorf("Cannot order values of type %s", left)
		}
	default:
		c.errorf("Unknown comparison operator: %s", op)
	}
	return Bool
}

func (c *Checker) checkNegation(n *ast.Node) Type {
	t := c.CheckNode(n.Last())
	switch n.Operator() {
	case "!":
		if !IsBool(t) && !TypesEqual(t, I32) {
			c.errorf("Cannot apply ! to non-boolean type: %s", t)
		}
	case "-":
		if !IsNumeric(t) {
			c.errorf("Cannot apply - to non-numeric type: %s", t)
		}
	default:
		c.errorf("Unknown unary operator: %s", n.Operator())
	}
	return t
}

func (c *Checker) checkIf(n *ast.Node) Type {
	ops := n.Operands()
	if len(ops) < 2 {
		return c.malformed(n)
	}
	if cond := c.CheckNode(ops[0]); !IsBool(cond) {
		c.errorf("If condition must be boolean, got %s", cond)
	}

	// Either branch may initialize a deferred binding; afterwards it counts
	// as assigned if at least one branch assigned it.
	pending := c.env.pending()
	thenType := c.CheckNode(ops[1])
	var assigned []*binding
	for _, b := range pending {
		if !b.deferred {
			assigned = append(assigned, b)
			b.deferred = true
		}
	}
	if len(ops) > 2 {
		elseType := c.CheckNode(ops[2])
		if !TypesEqual(thenType, elseType) {
			c.errorf("Mismatched types in if/else expression: %s vs %s", thenType, elseType)
		}
	}
	for _, b := range assigned {
		b.deferred = false
	}
	return thenType
}

func (c *Checker) checkWhile(n *ast.Node) Type {
	ops := n.Operands()
	if len(ops) != 2 {
		return c.malformed(n)
	}
	if cond := c.CheckNode(ops[0]); !IsBool(cond) {
		c.errorf("Loop condition must be boolean, got %s", cond)
	}
	c.loops++
	c.CheckNode(ops[1])
	c.loops--
	return Unit
}

func (c *Checker) checkCall(n *ast.Node) Type {
	ops := n.Operands()
	if len(ops) == 0 {
		return c.malformed(n)
	}
	calleeType := c.CheckNode(ops[0])
	args := make([]Type, len(ops)-1)
	for i, a := range ops[1:] {
		args[i] = c.CheckNode(a)
	}

	fn, ok := calleeType.(FunctionType)
	if !ok {
		c.errorf("Cannot call non-function type: %s", calleeType)
		return Unit
	}
	if len(args) != len(fn.Params) {
		c.errorf("Function expected %d arguments but got %d", len(fn.Params), len(args))
		return fn.Return
	}
	for i := range args {
		if !TypesEqual(fn.Params[i], args[i]) {
			c.errorf("Function argument %d expected %s but got %s", i+1, fn.Params[i], args[i])
		}
	}
	return fn.Return
}

func (c *Checker) checkAssignment(n *ast.Node) Type {
	ops := n.Operands()
	if len(ops) != 2 {
		return c.malformed(n)
	}
	c.checkAssignTarget(unwrapGroup(ops[0]), c.CheckNode(ops[1]), true)
	return Unit
}

func (c *Checker) checkCompoundAssignment(n *ast.Node) Type {
	ops := n.Operands()
	op := n.Operator()
	if len(ops) != 2 || len(op) < 2 || op[len(op)-1] != '=' {
		return c.malformed(n)
	}
	target := unwrapGroup(ops[0])
	result := c.checkBinaryOperation(c.CheckNode(target), c.CheckNode(ops[1]), op[:len(op)-1])
	c.checkAssignTarget(target, result, false)
	return Unit
}

// checkAssignTarget validates a store of valueType into target. A plain
// assignment may give an immutable binding declared without initializer
// its first value.
func (c *Checker) checkAssignTarget(target *ast.Node, valueType Type, initializes bool) {
	switch target.Tag {
	case ast.TagPath, ast.TagIdentifier:
		name := target.Name()
		varType, ok := c.env.Lookup(name)
		if !ok {
			c.errorf("Cannot assign to undeclared variable '%s'", name)
			return
		}
		first := initializes && c.env.Initialize(name, c.loops)
		if !first && !c.env.IsMutable(name) {
			c.errorf("Cannot assign to immutable variable '%s'.", name)
		}
		if !TypesEqual(varType, valueType) {
			c.errorf("Cannot assign value of type '%s' to variable '%s' of type '%s'", valueType, name, varType)
		}

	case ast.TagDeref:
		refType := c.CheckNode(target.Last())
		ref, ok := refType.(ReferenceType)
		if !ok {
			c.errorf("Cannot dereference non-reference type: '%s'", refType)
			return
		}
		if !ref.Mutable {
			c.errorf("Cannot assign through an immutable reference.")
		}
		if !TypesEqual(ref.Target, valueType) {
			c.errorf("Cannot assign value of type '%s' to a reference of type '%s'", valueType, refType)
		}

	default:
		c.errorf("Left side of assignment must be a variable or a dereferenced reference")
	}
}

func (c *Checker) checkBorrow(n *ast.Node) Type {
	operand := n.Last()
	if operand == nil {
		return c.malformed(n)
	}
	mutable := n.IsMutable()
	t := c.CheckNode(operand)
	if target := unwrapGroup(operand); mutable && (target.Tag == ast.TagPath || target.Tag == ast.TagIdentifier) {
		if _, ok := c.env.Lookup(target.Name()); ok && !c.env.IsMutable(target.Name()) {
			c.errorf("Cannot create mutable reference to immutable variable '%s'", target.Name())
		}
	}
	return ReferenceType{Target: t, Mutable: mutable}
}

func (c *Checker) checkDeref(n *ast.Node) Type {
	t := c.CheckNode(n.Last())
	ref, ok := t.(ReferenceType)
	if !ok {
		c.errorf("Cannot dereference non-reference type: '%s'", t)
		return Unit
	}
	return ref.Target
}

// unwrapGroup strips redundant parentheses.
func unwrapGroup(n *ast.Node) *ast.Node {
	for n != nil && n.Tag == ast.TagGrouped && len(n.Children) > 0 {
		n = n.Last()
	}
	return n
}
