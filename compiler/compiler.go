package compiler

import (
	"fmt"

	"github.com/chazu/rivet/ast"
	"github.com/chazu/rivet/vm"
)

// ---------------------------------------------------------------------------
// Compiler: tree -> instruction array
// ---------------------------------------------------------------------------

// Compiler turns a checked tree into a flat instruction array. Every name is
// resolved to a static (frame, slot) position at compile time, and the
// compiler tracks ownership and borrows per binding so that moved values are
// rejected and owned values are dropped when their block ends.
//
// A Compiler holds per-program state and is not safe for concurrent use.
type Compiler struct {
	checker *Checker
	instrs  []vm.Instruction
	wc      int

	// diverged is set once a return has been compiled on the current
	// straight-line path.
	diverged bool

	// lent is the binding borrowed by the reference the last expression
	// left on the stack, or nil if that value is not a known reference.
	lent *VariableInfo
}

// context says whether an expression's value is being moved out.
type context int

const (
	ctxValue context = iota // read only: operands, callees, conditions
	ctxMove                 // the value changes owner
)

// NewCompiler creates a compiler.
func NewCompiler() *Compiler {
	return &Compiler{checker: NewChecker()}
}

// CompileProgram type-checks tree and compiles it. A tree that fails the
// checker is returned as a *CheckError holding every message; ownership and
// borrow violations stop compilation at the first one.
func (c *Compiler) CompileProgram(tree *ast.Node) ([]vm.Instruction, error) {
	if tree == nil {
		return nil, fmt.Errorf("%w: empty tree", ErrUnsupported)
	}
	if !c.checker.Check(tree) {
		return nil, &CheckError{Errors: append([]string(nil), c.checker.Errors()...)}
	}
	if tree.Tag != ast.TagCrate {
		return nil, fmt.Errorf("%w: program root must be a %s, got %s", ErrUnsupported, ast.TagCrate, tree.Tag)
	}

	c.instrs = nil
	c.wc = 0
	c.diverged = false
	c.lent = nil

	prelude := Environment{}.Extend(vm.BuiltinNames())
	if err := c.compileCrate(tree, prelude); err != nil {
		return nil, err
	}
	c.emit(vm.Instruction{Op: vm.OpDONE})

	log.Infof("compiled %d instructions", len(c.instrs))
	return c.instrs, nil
}

// Compile is a convenience that compiles tree with a fresh compiler.
func Compile(tree *ast.Node) ([]vm.Instruction, error) {
	return NewCompiler().CompileProgram(tree)
}

// ---------------------------------------------------------------------------
// Emission and backpatching
// ---------------------------------------------------------------------------

func (c *Compiler) emit(in vm.Instruction) int {
	c.instrs = append(c.instrs, in)
	c.wc++
	return c.wc - 1
}

// emitJump emits a jump whose target is not yet known and returns its
// index for patchJump.
func (c *Compiler) emitJump(op vm.Opcode) int {
	return c.emit(vm.Instruction{Op: op, Addr: -1})
}

// patchJump points the jump at index at the next instruction to be emitted.
func (c *Compiler) patchJump(at int) {
	c.instrs[at].Addr = c.wc
}

// extend opens a frame for names. A runtime frame or environment is a
// single heap node, so both are bounded by vm.MaxFrameSlots and vm.MaxFrames.
func extend(env Environment, names []string, owner string) (Environment, error) {
	if len(names) > vm.MaxFrameSlots {
		return nil, fmt.Errorf("%w: %s declares %d bindings, at most %d fit in a frame", ErrUnsupported, owner, len(names), vm.MaxFrameSlots)
	}
	if len(env)+1 > vm.MaxFrames {
		return nil, fmt.Errorf("%w: %s nests scopes deeper than %d frames", ErrUnsupported, owner, vm.MaxFrames)
	}
	return env.Extend(names), nil
}

func (c *Compiler) emitUnit() {
	c.emit(vm.Instruction{Op: vm.OpLDC, Val: vm.Unit()})
}

// ---------------------------------------------------------------------------
// Items
// ---------------------------------------------------------------------------

// compileCrate binds every function in one frame, then calls main.
func (c *Compiler) compileCrate(n *ast.Node, env Environment) error {
	fns := n.ChildrenOf(ast.TagFunction)
	names := make([]string, len(fns))
	for i, fn := range fns {
		names[i] = fn.Name()
	}

	env, err := extend(env, names, "crate")
	if err != nil {
		return err
	}
	c.emit(vm.Instruction{Op: vm.OpENTERSCOPE, Num: len(names)})
	for _, fn := range fns {
		if err := c.compileFunction(fn, env); err != nil {
			return err
		}
	}

	pos, ok := env.Position("main")
	if !ok {
		return fmt.Errorf("No main function found")
	}
	c.emit(vm.Instruction{Op: vm.OpLD, Pos: pos})
	c.emit(vm.Instruction{Op: vm.OpCALL, Arity: 0})
	c.emit(vm.Instruction{Op: vm.OpEXITSCOPE})
	return nil
}

// compileFunction emits a closure for fn, a jump over its body, the body
// itself and finally the assignment of the closure to fn's slot in env.
func (c *Compiler) compileFunction(fn *ast.Node, env Environment) error {
	name := fn.Name()
	body := fn.Child(ast.TagBlock)
	if body == nil {
		return fmt.Errorf("%w: function %s has no body", ErrUnsupported, name)
	}

	var params []string
	if ps := fn.Child(ast.TagFunctionParameters); ps != nil {
		for _, p := range ps.ChildrenOf(ast.TagFunctionParam) {
			params = append(params, p.Name())
		}
	}

	c.emit(vm.Instruction{Op: vm.OpLDF, Arity: len(params), Addr: c.wc + 2})
	skip := c.emitJump(vm.OpGOTO)
	log.Debugf("function %s at %d", name, c.wc)

	outer := c.diverged
	c.diverged = false

	// A body runs whenever it is called, so it leaves the bindings around
	// it as it found them.
	fenv, err := extend(env, params, "function "+name)
	if err != nil {
		return err
	}
	saved := env.Backup()
	if err := c.compileBlock(body, fenv); err != nil {
		return err
	}
	c.emitDrops(fenv)
	c.emit(vm.Instruction{Op: vm.OpRESET})
	saved.RestoreOwnership()
	saved.RestoreBorrows()
	c.diverged = outer
	c.lent = nil
	c.patchJump(skip)

	pos, ok := env.Position(name)
	if !ok {
		return fmt.Errorf("function %s has no slot", name)
	}
	c.emit(vm.Instruction{Op: vm.OpASSIGN, Pos: pos})
	c.emit(vm.Instruction{Op: vm.OpPOP})
	return nil
}

// emitDrops releases every binding of env's innermost frame that still
// owns its value and is not borrowed.
func (c *Compiler) emitDrops(env Environment) {
	frame := len(env) - 1
	for slot, v := range env.Innermost() {
		if v.OwnsVal && v.Borrow == BorrowNone && !v.Hidden {
			c.emit(vm.Instruction{Op: vm.OpDROP, Pos: vm.Position{Frame: frame, Slot: slot}})
		}
	}
}

// ---------------------------------------------------------------------------
// Blocks and statements
// ---------------------------------------------------------------------------

// compileBlock opens a scope holding the block's let bindings and nested
// functions, compiles its statements and leaves the tail value (or unit)
// on the stack. Borrows taken inside the block end with it.
func (c *Compiler) compileBlock(n *ast.Node, env Environment) error {
	var names []string
	var lets []bool
	for _, child := range n.Children {
		switch child.Tag {
		case ast.TagLet:
			names = append(names, child.Name())
			lets = append(lets, true)
		case ast.TagFunction:
			names = append(names, child.Name())
			lets = append(lets, false)
		}
	}

	benv, err := extend(env, names, "block")
	if err != nil {
		return err
	}
	saved := env.Backup()
	c.emit(vm.Instruction{Op: vm.OpENTERSCOPE, Num: len(names)})
	for i, v := range benv.Innermost() {
		v.Hidden = lets[i]
	}

	for _, child := range n.Children {
		if child.Tag == ast.TagFunction {
			if err := c.compileFunction(child, benv); err != nil {
				return err
			}
		}
	}

	tail := blockTail(n)
	for _, child := range n.Children {
		if child == tail || child.Tag == ast.TagFunction {
			continue
		}
		if err := c.compileStatement(child, benv); err != nil {
			return err
		}
	}

	var lent *VariableInfo
	if tail != nil {
		if err := c.compileExpr(tail, benv, ctxMove); err != nil {
			return err
		}
		lent = c.lent
	} else {
		c.emitUnit()
	}

	c.emitDrops(benv)
	c.emit(vm.Instruction{Op: vm.OpEXITSCOPE})

	// Borrows end with the block, except one that leaves it as its value.
	var kept VariableInfo
	if lent != nil {
		kept = *lent
	}
	saved.RestoreBorrows()
	if lent != nil {
		lent.Borrow, lent.ImmCount = kept.Borrow, kept.ImmCount
	}
	c.lent = lent
	return nil
}

// blockTail returns the block's trailing expression, if it has one.
func blockTail(n *ast.Node) *ast.Node {
	last := n.Last()
	if last == nil {
		return nil
	}
	switch last.Tag {
	case ast.TagLet, ast.TagExpressionStmt, ast.TagFunction:
		return nil
	}
	return last
}

// compileStatement compiles n for effect: it leaves the stack as it found
// it. A reference discarded by the statement no longer holds its borrow.
func (c *Compiler) compileStatement(n *ast.Node, env Environment) error {
	if n.Tag == ast.TagLet {
		return c.compileLet(n, env)
	}
	expr := n
	if n.Tag == ast.TagExpressionStmt {
		if expr = n.Last(); expr == nil {
			return nil
		}
	}
	before := env.Backup()
	if err := c.compileExpr(expr, env, ctxMove); err != nil {
		return err
	}
	c.emit(vm.Instruction{Op: vm.OpPOP})
	if saved, ok := before[c.lent]; ok {
		c.lent.Borrow, c.lent.ImmCount = saved.Borrow, saved.ImmCount
	}
	c.lent = nil
	return nil
}

// compileLet assigns the initializer to the let's slot. The binding becomes
// visible only after its initializer is compiled, so `let x = x + 1` reads
// the enclosing x.
func (c *Compiler) compileLet(n *ast.Node, env Environment) error {
	name := n.Name()
	frame := len(env) - 1
	slot := -1
	for s, v := range env.Innermost() {
		if v.Hidden && v.Name == name {
			slot = s
			break
		}
	}
	if slot < 0 {
		return fmt.Errorf("let %s has no slot", name)
	}
	v := env[frame][slot]

	init := letInitializer(n)
	if init != nil {
		if err := c.compileExpr(init, env, ctxMove); err != nil {
			return err
		}
		v.Lends = c.lent
		pos := vm.Position{Frame: frame, Slot: slot}
		c.emit(vm.Instruction{Op: vm.OpASSIGN, Pos: pos})
		c.emit(vm.Instruction{Op: vm.OpPOP})
	}
	v.OwnsVal = init != nil
	v.Hidden = false
	return nil
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// compileExpr emits code leaving exactly one value on the stack.
func (c *Compiler) compileExpr(n *ast.Node, env Environment, ctx context) error {
	if err := c.compileNode(n, env, ctx); err != nil {
		return err
	}
	switch n.Tag {
	case ast.TagPath, ast.TagIdentifier, ast.TagBlock, ast.TagGrouped, ast.TagBorrow:
	default:
		if len(n.Children) != 1 || isKnownExpr(n.Tag) {
			c.lent = nil
		}
	}
	return nil
}

// isKnownExpr reports whether tag is compiled by compileNode itself rather
// than as a wrapper around its only child.
func isKnownExpr(tag ast.Tag) bool {
	switch tag {
	case ast.TagLiteral, ast.TagArithmetic, ast.TagComparison, ast.TagLazyBoolean,
		ast.TagNegation, ast.TagIf, ast.TagWhile, ast.TagCall, ast.TagReturn,
		ast.TagAssign, ast.TagCompoundAssign, ast.TagDeref, ast.TagLet, ast.TagExpressionStmt:
		return true
	}
	return false
}

func (c *Compiler) compileNode(n *ast.Node, env Environment, ctx context) error {
	switch n.Tag {
	case ast.TagLiteral:
		lit, err := parseLiteral(n)
		if err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpLDC, Val: lit})
		return nil

	case ast.TagPath, ast.TagIdentifier:
		return c.compilePath(n.Name(), env, ctx)

	case ast.TagBlock:
		return c.compileBlock(n, env)

	case ast.TagGrouped:
		if len(n.Children) == 0 {
			c.emitUnit()
			c.lent = nil
			return nil
		}
		return c.compileExpr(n.Last(), env, ctx)

	case ast.TagArithmetic, ast.TagComparison, ast.TagLazyBoolean:
		ops := n.Operands()
		if len(ops) != 2 {
			return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
		}
		if err := c.compileExpr(ops[0], env, ctxValue); err != nil {
			return err
		}
		if err := c.compileExpr(ops[1], env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpBINOP, Sym: n.Operator()})
		return nil

	case ast.TagNegation:
		ops := n.Operands()
		if len(ops) != 1 {
			return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
		}
		if err := c.compileExpr(ops[0], env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpUNOP, Sym: n.Operator()})
		return nil

	case ast.TagIf:
		return c.compileIf(n, env)

	case ast.TagWhile:
		return c.compileWhile(n, env)

	case ast.TagCall:
		return c.compileCall(n, env)

	case ast.TagReturn:
		if expr := n.Last(); expr != nil {
			if err := c.compileExpr(expr, env, ctxMove); err != nil {
				return err
			}
		} else {
			c.emitUnit()
		}
		c.emit(vm.Instruction{Op: vm.OpRESET})
		c.diverged = true
		return nil

	case ast.TagAssign:
		return c.compileAssignment(n, env)

	case ast.TagCompoundAssign:
		return c.compileCompoundAssignment(n, env)

	case ast.TagBorrow:
		return c.compileBorrow(n, env)

	case ast.TagDeref:
		operand := n.Last()
		if operand == nil {
			return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
		}
		if err := c.compileExpr(operand, env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpDEREF})
		return nil

	case ast.TagLet, ast.TagExpressionStmt:
		if err := c.compileStatement(n, env); err != nil {
			return err
		}
		c.emitUnit()
		return nil
	}

	if len(n.Children) == 1 {
		return c.compileExpr(n.Children[0], env, ctx)
	}
	return fmt.Errorf("%w: %s", ErrUnsupported, n.Tag)
}

// compilePath loads a binding. In a move context the binding gives up its
// value; a binding that no longer owns its value cannot be used at all.
func (c *Compiler) compilePath(name string, env Environment, ctx context) error {
	pos, ok := env.Position(name)
	if !ok {
		return fmt.Errorf("unknown variable %s", name)
	}
	v := env.Lookup(pos)
	if !v.OwnsVal {
		return fmt.Errorf("variable %s was %w", name, ErrMoved)
	}
	if ctx == ctxMove {
		v.OwnsVal = false
	}
	c.emit(vm.Instruction{Op: vm.OpLD, Pos: pos})
	c.lent = v.Lends
	return nil
}

// compileIf compiles both branches from the same ownership state; after
// the if, a binding owns its value only if every branch that can complete
// left it owning.
func (c *Compiler) compileIf(n *ast.Node, env Environment) error {
	ops := n.Operands()
	if len(ops) < 2 {
		return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
	}
	if err := c.compileExpr(ops[0], env, ctxValue); err != nil {
		return err
	}
	jof := c.emitJump(vm.OpJOF)

	before := env.Backup()
	outer := c.diverged

	c.diverged = false
	if err := c.compileExpr(ops[1], env, ctxMove); err != nil {
		return err
	}
	thenOwns, thenDiverged := before.ownership(), c.diverged
	thenState := env.Backup()
	skip := c.emitJump(vm.OpGOTO)
	c.patchJump(jof)

	before.RestoreOwnership()
	before.RestoreBorrows()
	c.diverged = false
	if len(ops) > 2 {
		if err := c.compileExpr(ops[2], env, ctxMove); err != nil {
			return err
		}
	} else {
		c.emitUnit()
	}
	elseDiverged := c.diverged
	c.patchJump(skip)

	for v, t := range thenState {
		if t.Borrow > v.Borrow {
			v.Borrow = t.Borrow
		}
		if t.ImmCount > v.ImmCount {
			v.ImmCount = t.ImmCount
		}
	}
	for v, owns := range thenOwns {
		switch {
		case thenDiverged && !elseDiverged:
		case elseDiverged && !thenDiverged:
			v.OwnsVal = owns
		default:
			v.OwnsVal = v.OwnsVal && owns
		}
	}
	c.diverged = outer || (thenDiverged && elseDiverged)
	return nil
}

// compileWhile loops while the predicate holds and evaluates to unit. A
// binding from outside the loop that the body moves and does not
// reassign would be used again by the next iteration, so it is rejected.
func (c *Compiler) compileWhile(n *ast.Node, env Environment) error {
	ops := n.Operands()
	if len(ops) != 2 {
		return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
	}
	entry := env.Backup()
	outer := c.diverged
	c.diverged = false

	start := c.wc
	if err := c.compileExpr(ops[0], env, ctxValue); err != nil {
		return err
	}
	exit := c.emitJump(vm.OpJOF)
	if err := c.compileExpr(ops[1], env, ctxValue); err != nil {
		return err
	}
	c.emit(vm.Instruction{Op: vm.OpPOP})
	c.emit(vm.Instruction{Op: vm.OpGOTO, Addr: start})
	entry.RestoreBorrows()
	c.patchJump(exit)
	c.emitUnit()

	if !c.diverged {
		for v, saved := range entry {
			if saved.OwnsVal && !v.OwnsVal {
				return fmt.Errorf("%w: variable %s is moved in a previous iteration of loop", ErrMoved, v.Name)
			}
		}
	}
	c.diverged = outer
	return nil
}

func (c *Compiler) compileCall(n *ast.Node, env Environment) error {
	ops := n.Operands()
	if len(ops) == 0 {
		return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
	}
	if err := c.compileExpr(ops[0], env, ctxValue); err != nil {
		return err
	}
	for _, arg := range ops[1:] {
		if err := c.compileExpr(arg, env, ctxMove); err != nil {
			return err
		}
	}
	c.emit(vm.Instruction{Op: vm.OpCALL, Arity: len(ops) - 1})
	return nil
}

// compileAssignment stores into a variable or through a reference and
// evaluates to unit. Assigning a variable gives it back ownership.
func (c *Compiler) compileAssignment(n *ast.Node, env Environment) error {
	ops := n.Operands()
	if len(ops) != 2 {
		return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
	}
	target := unwrapGroup(ops[0])

	switch target.Tag {
	case ast.TagPath, ast.TagIdentifier:
		pos, ok := env.Position(target.Name())
		if !ok {
			return fmt.Errorf("unknown variable %s", target.Name())
		}
		if err := c.compileExpr(ops[1], env, ctxMove); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpASSIGN, Pos: pos})
		c.emit(vm.Instruction{Op: vm.OpPOP})
		v := env.Lookup(pos)
		v.OwnsVal = true
		v.Lends = c.lent

	case ast.TagDeref:
		if err := c.compileExpr(target.Last(), env, ctxValue); err != nil {
			return err
		}
		if err := c.compileExpr(ops[1], env, ctxMove); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpUPDATEREF})
		c.emit(vm.Instruction{Op: vm.OpPOP})

	default:
		return fmt.Errorf("%w: cannot assign to %s", ErrUnsupported, target.Tag)
	}
	c.emitUnit()
	return nil
}

// compileCompoundAssignment compiles `t op= v` as `t = t op v`.
func (c *Compiler) compileCompoundAssignment(n *ast.Node, env Environment) error {
	ops := n.Operands()
	op := n.Operator()
	if len(ops) != 2 || len(op) < 2 {
		return fmt.Errorf("%w: malformed %s", ErrUnsupported, n.Tag)
	}
	sym := op[:len(op)-1]
	target := unwrapGroup(ops[0])

	switch target.Tag {
	case ast.TagPath, ast.TagIdentifier:
		pos, ok := env.Position(target.Name())
		if !ok {
			return fmt.Errorf("unknown variable %s", target.Name())
		}
		if err := c.compilePath(target.Name(), env, ctxValue); err != nil {
			return err
		}
		if err := c.compileExpr(ops[1], env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpBINOP, Sym: sym})
		c.emit(vm.Instruction{Op: vm.OpASSIGN, Pos: pos})
		c.emit(vm.Instruction{Op: vm.OpPOP})

	case ast.TagDeref:
		ref := target.Last()
		if err := c.compileExpr(ref, env, ctxValue); err != nil {
			return err
		}
		if err := c.compileExpr(ref, env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpDEREF})
		if err := c.compileExpr(ops[1], env, ctxValue); err != nil {
			return err
		}
		c.emit(vm.Instruction{Op: vm.OpBINOP, Sym: sym})
		c.emit(vm.Instruction{Op: vm.OpUPDATEREF})
		c.emit(vm.Instruction{Op: vm.OpPOP})

	default:
		return fmt.Errorf("%w: cannot assign to %s", ErrUnsupported, target.Tag)
	}
	c.emitUnit()
	return nil
}

// compileBorrow creates a reference to a variable. A mutable borrow needs
// the variable to be otherwise unborrowed; a shared borrow only needs it
// not to be mutably borrowed.
func (c *Compiler) compileBorrow(n *ast.Node, env Environment) error {
	operand := unwrapGroup(n.Last())
	if operand == nil || (operand.Tag != ast.TagPath && operand.Tag != ast.TagIdentifier) {
		return fmt.Errorf("%w: only variables can be borrowed", ErrUnsupported)
	}
	name := operand.Name()
	pos, ok := env.Position(name)
	if !ok {
		return fmt.Errorf("unknown variable %s", name)
	}
	v := env.Lookup(pos)
	if !v.OwnsVal {
		return fmt.Errorf("variable %s was %w", name, ErrMoved)
	}

	mutable := n.IsMutable()
	if mutable {
		if v.Borrow != BorrowNone {
			return fmt.Errorf("%w: cannot borrow %s as mutable because it is already borrowed as %s", ErrBorrowConflict, name, v.Borrow)
		}
		v.Borrow = BorrowMutable
	} else {
		if v.Borrow == BorrowMutable {
			return fmt.Errorf("%w: cannot borrow %s as immutable because it is already borrowed as mutable", ErrBorrowConflict, name)
		}
		v.Borrow = BorrowImmutable
		v.ImmCount++
	}

	c.emit(vm.Instruction{Op: vm.OpREF, Pos: pos, Mutable: mutable})
	c.lent = v
	return nil
}
