package vm

import (
	"context"
	"fmt"
)

// Machine executes an instruction array against a mark-sweep heap. Its
// registers are PC, the operand stack OS, the current environment E and
// the runtime stack RTS of Blockframes and Callframes. Every value the
// machine holds is a heap address, so the collector can trace it.
//
// A Machine runs one program once; after Run returns an error it should be
// discarded.
type Machine struct {
	code []Instruction
	heap *Heap

	pc  int
	os  []Address
	env Address
	rts []Address

	heapWords int
	stepLimit int
	steps     int
	trace     bool
	ctx       context.Context
}

// Option configures a Machine.
type Option func(*Machine)

// WithHeapWords sets the heap size in words.
func WithHeapWords(words int) Option {
	return func(m *Machine) { m.heapWords = words }
}

// WithStepLimit bounds the number of instructions Run may execute. Zero
// means unbounded.
func WithStepLimit(steps int) Option {
	return func(m *Machine) { m.stepLimit = steps }
}

// WithTrace logs every dispatched instruction at debug level.
func WithTrace(trace bool) Option {
	return func(m *Machine) { m.trace = trace }
}

// WithContext makes Run stop with ctx's error once ctx is done. The
// context is polled every cancelCheckInterval instructions.
func WithContext(ctx context.Context) Option {
	return func(m *Machine) { m.ctx = ctx }
}

const cancelCheckInterval = 1024

// New creates a machine for code. The initial environment holds the
// prelude frame of builtins.
func New(code []Instruction, opts ...Option) (*Machine, error) {
	m := &Machine{
		code:      code,
		heapWords: DefaultHeapWords,
	}
	for _, opt := range opts {
		opt(m)
	}

	h, err := NewHeap(m.heapWords)
	if err != nil {
		return nil, err
	}
	m.heap = h
	h.SetRoots(m.markRoots)

	if err := m.loadPrelude(); err != nil {
		return nil, fmt.Errorf("load prelude: %w", err)
	}
	return m, nil
}

func (m *Machine) loadPrelude() error {
	h := m.heap
	empty, err := h.AllocEnvironment(0)
	if err != nil {
		return err
	}
	m.env = empty
	frame, err := h.AllocFrame(len(builtins))
	if err != nil {
		return err
	}
	h.pin(frame)
	defer h.unpin(1)
	for i := range builtins {
		b, err := h.AllocBuiltin(i)
		if err != nil {
			return err
		}
		h.SetChild(frame, i, b)
	}
	env, err := h.ExtendEnvironment(frame, m.env)
	if err != nil {
		return err
	}
	m.env = env
	return nil
}

func (m *Machine) markRoots(mark func(Address)) {
	for _, a := range m.os {
		mark(a)
	}
	mark(m.env)
	for _, a := range m.rts {
		mark(a)
	}
}

// Heap returns the machine's heap.
func (m *Machine) Heap() *Heap { return m.heap }

// Steps returns how many instructions have been executed.
func (m *Machine) Steps() int { return m.steps }

// Run executes the program until DONE and returns the value on top of the
// operand stack as a host value.
func (m *Machine) Run() (any, error) {
	for {
		if m.pc < 0 || m.pc >= len(m.code) {
			return nil, fmt.Errorf("program counter %d out of range", m.pc)
		}
		in := m.code[m.pc]
		m.pc++
		m.steps++

		if m.trace {
			log.Debugf("[%04d] %-20s os=%d rts=%d", m.pc-1, in, len(m.os), len(m.rts))
		}
		if m.stepLimit > 0 && m.steps > m.stepLimit {
			return nil, fmt.Errorf("%w: %d", ErrStepLimit, m.stepLimit)
		}
		if m.ctx != nil && m.steps%cancelCheckInterval == 0 {
			if err := m.ctx.Err(); err != nil {
				return nil, fmt.Errorf("pc %d: %w", m.pc-1, err)
			}
		}

		if in.Op == OpDONE {
			if len(m.os) == 0 {
				return Undefined, nil
			}
			return m.heap.ToHost(m.os[len(m.os)-1]), nil
		}
		if err := m.step(in); err != nil {
			return nil, fmt.Errorf("pc %d (%s): %w", m.pc-1, in, err)
		}
	}
}

func (m *Machine) step(in Instruction) error {
	h := m.heap

	switch in.Op {
	// ============ Constants and variables ============
	case OpLDC:
		v, err := h.FromLiteral(in.Val)
		if err != nil {
			return err
		}
		m.push(v)

	case OpLD:
		v, err := m.load(m.env, in.Pos)
		if err != nil {
			return err
		}
		m.push(v)

	case OpASSIGN:
		if err := m.checkSlot(m.env, in.Pos); err != nil {
			return err
		}
		v, err := m.peek()
		if err != nil {
			return err
		}
		h.Store(m.env, in.Pos, v)

	case OpDROP:
		if err := m.checkSlot(m.env, in.Pos); err != nil {
			return err
		}
		h.Store(m.env, in.Pos, h.Unassigned)

	// ============ References ============
	case OpREF:
		if err := m.checkSlot(m.env, in.Pos); err != nil {
			return err
		}
		r, err := h.AllocReference(in.Pos, in.Mutable, m.env)
		if err != nil {
			return err
		}
		m.push(r)

	case OpDEREF:
		r, err := m.pop()
		if err != nil {
			return err
		}
		if h.Kind(r) != KindReference {
			return fmt.Errorf("%w: %s", ErrNotReference, h.Kind(r))
		}
		pos, _, env := h.Reference(r)
		v, err := m.load(env, pos)
		if err != nil {
			return err
		}
		m.push(v)

	case OpUPDATEREF:
		v, err := m.pop()
		if err != nil {
			return err
		}
		r, err := m.pop()
		if err != nil {
			return err
		}
		if h.Kind(r) != KindReference {
			return fmt.Errorf("%w: %s", ErrNotReference, h.Kind(r))
		}
		pos, mutable, env := h.Reference(r)
		if !mutable {
			return ErrImmutableReference
		}
		if err := m.checkSlot(env, pos); err != nil {
			return err
		}
		h.Store(env, pos, v)
		m.push(v)

	// ============ Control flow ============
	case OpJOF:
		c, err := m.pop()
		if err != nil {
			return err
		}
		switch c {
		case h.False:
			m.pc = in.Addr
		case h.True:
		default:
			return fmt.Errorf("%w: condition is %s", ErrOperandType, h.Kind(c))
		}

	case OpGOTO:
		m.pc = in.Addr

	// ============ Operators ============
	case OpUNOP:
		x, err := m.pop()
		if err != nil {
			return err
		}
		r, err := m.unop(in.Sym, x)
		if err != nil {
			return err
		}
		m.push(r)

	case OpBINOP:
		y, err := m.pop()
		if err != nil {
			return err
		}
		x, err := m.pop()
		if err != nil {
			return err
		}
		r, err := m.binop(in.Sym, x, y)
		if err != nil {
			return err
		}
		m.push(r)

	// ============ Functions ============
	case OpLDF:
		c, err := h.AllocClosure(in.Arity, in.Addr, m.env)
		if err != nil {
			return err
		}
		m.push(c)

	case OpCALL:
		return m.call(in.Arity)

	case OpRESET:
		return m.reset()

	// ============ Scopes and stack ============
	case OpENTERSCOPE:
		bf, err := h.AllocBlockframe(m.env)
		if err != nil {
			return err
		}
		m.rts = append(m.rts, bf)
		frame, err := h.AllocFrame(in.Num)
		if err != nil {
			return err
		}
		env, err := h.ExtendEnvironment(frame, m.env)
		if err != nil {
			return err
		}
		m.env = env

	case OpEXITSCOPE:
		if len(m.rts) == 0 || h.Kind(m.rts[len(m.rts)-1]) != KindBlockframe {
			return fmt.Errorf("EXIT_SCOPE without a block frame")
		}
		bf := m.rts[len(m.rts)-1]
		m.rts = m.rts[:len(m.rts)-1]
		m.env = h.FrameEnv(bf)

	case OpPOP:
		if _, err := m.pop(); err != nil {
			return err
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnknownInstruction, in.Op)
	}
	return nil
}

// call invokes the callee found beneath arity arguments on OS. Closures get
// a Callframe and a new argument frame; builtins run immediately.
func (m *Machine) call(arity int) error {
	h := m.heap
	if len(m.os) < arity+1 {
		return ErrStackUnderflow
	}
	base := len(m.os) - arity - 1
	fn := m.os[base]

	switch h.Kind(fn) {
	case KindBuiltin:
		b := builtins[h.BuiltinID(fn)]
		if b.Arity != arity {
			return fmt.Errorf("%w: %s expects %d arguments, got %d", ErrArity, b.Name, b.Arity, arity)
		}
		args := append([]Address(nil), m.os[base+1:]...)
		r, err := b.Fn(h, args)
		if err != nil {
			return err
		}
		m.os = m.os[:base]
		m.push(r)
		return nil

	case KindClosure:
		want, pc, cenv := h.Closure(fn)
		if want != arity {
			return fmt.Errorf("%w: function expects %d arguments, got %d", ErrArity, want, arity)
		}
		frame, err := h.AllocFrame(arity)
		if err != nil {
			return err
		}
		copy(h.nodes[frame].children[:arity], m.os[base+1:])
		h.pin(frame)
		defer h.unpin(1)

		cf, err := h.AllocCallframe(m.env, m.pc, base)
		if err != nil {
			return err
		}
		m.rts = append(m.rts, cf)
		env, err := h.ExtendEnvironment(frame, cenv)
		if err != nil {
			return err
		}
		m.os = m.os[:base]
		m.env = env
		m.pc = pc
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotCallable, h.Kind(fn))
}

// reset returns from the innermost call. A Blockframe on top of RTS means
// the return happened inside nested blocks: it is popped and RESET runs
// again until the Callframe is reached.
func (m *Machine) reset() error {
	h := m.heap
	if len(m.rts) == 0 {
		return fmt.Errorf("RESET outside of a function call")
	}
	top := m.rts[len(m.rts)-1]
	m.rts = m.rts[:len(m.rts)-1]

	switch h.Kind(top) {
	case KindBlockframe:
		m.pc--
		return nil
	case KindCallframe:
		ret := h.Undefined
		if len(m.os) > 0 {
			ret = m.os[len(m.os)-1]
		}
		m.os = append(m.os[:h.CallframeSP(top)], ret)
		m.pc = h.CallframePC(top)
		m.env = h.FrameEnv(top)
		return nil
	}
	return fmt.Errorf("RESET on %s", h.Kind(top))
}

// ---------------------------------------------------------------------------
// Stack and slot helpers
// ---------------------------------------------------------------------------

func (m *Machine) push(a Address) {
	m.os = append(m.os, a)
}

func (m *Machine) pop() (Address, error) {
	if len(m.os) == 0 {
		return NoAddress, ErrStackUnderflow
	}
	a := m.os[len(m.os)-1]
	m.os = m.os[:len(m.os)-1]
	return a, nil
}

func (m *Machine) peek() (Address, error) {
	if len(m.os) == 0 {
		return NoAddress, ErrStackUnderflow
	}
	return m.os[len(m.os)-1], nil
}

func (m *Machine) checkSlot(env Address, pos Position) error {
	h := m.heap
	if pos.Frame < 0 || pos.Frame >= h.NumChildren(env) {
		return fmt.Errorf("%w: unbound frame at %s", ErrUnassigned, pos)
	}
	frame := h.Child(env, pos.Frame)
	if pos.Slot < 0 || pos.Slot >= h.NumChildren(frame) {
		return fmt.Errorf("%w: unbound slot at %s", ErrUnassigned, pos)
	}
	return nil
}

func (m *Machine) load(env Address, pos Position) (Address, error) {
	if err := m.checkSlot(env, pos); err != nil {
		return NoAddress, err
	}
	v := m.heap.Lookup(env, pos)
	if v == m.heap.Unassigned {
		return NoAddress, fmt.Errorf("%w at %s", ErrUnassigned, pos)
	}
	return v, nil
}
