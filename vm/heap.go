package vm

import (
	"fmt"

	"github.com/zeebo/xxh3"
)

// ---------------------------------------------------------------------------
// Heap: fixed-size tagged nodes in an index-addressed arena
// ---------------------------------------------------------------------------

// Address is a handle to a heap node. NoAddress marks an empty child slot
// and the end of the free list.
type Address int32

// NoAddress is the null handle.
const NoAddress Address = -1

// NodeWords is the size of every heap node in words: one header word plus
// up to NodeWords-1 words of children or payload.
const NodeWords = 10

const maxChildren = NodeWords - 1

// MaxFrameSlots is the most bindings one Frame node can hold, and MaxFrames
// the most frames one Environment node can hold.
const (
	MaxFrameSlots = maxChildren
	MaxFrames     = maxChildren
)

// DefaultHeapWords is the heap size used when none is configured.
const DefaultHeapWords = 10000

// Kind is the tag of a heap node.
type Kind uint8

const (
	KindFree Kind = iota // on the free list
	KindFalse
	KindTrue
	KindNull
	KindUnassigned
	KindUndefined
	KindNumber
	KindString
	KindChar
	KindPair
	KindFrame
	KindEnvironment
	KindClosure
	KindBlockframe
	KindCallframe
	KindReference
	KindBuiltin
)

var kindNames = [...]string{
	KindFree:        "Free",
	KindFalse:       "False",
	KindTrue:        "True",
	KindNull:        "Null",
	KindUnassigned:  "Unassigned",
	KindUndefined:   "Undefined",
	KindNumber:      "Number",
	KindString:      "String",
	KindChar:        "Char",
	KindPair:        "Pair",
	KindFrame:       "Frame",
	KindEnvironment: "Environment",
	KindClosure:     "Closure",
	KindBlockframe:  "Blockframe",
	KindCallframe:   "Callframe",
	KindReference:   "Reference",
	KindBuiltin:     "Builtin",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// node is one arena cell. Children hold addresses traced by the collector;
// the remaining fields are untraced payload whose meaning depends on kind.
type node struct {
	kind     Kind
	marked   bool
	size     int // words, header included
	next     Address
	nchild   int
	children [maxChildren]Address

	num      float64
	integral bool
	str      string
	a, b     int // Closure: arity, pc. Callframe: sp, pc. Reference: frame, slot. Builtin: id.
	mutable  bool
}

// GCStats summarises collector activity over the heap's lifetime.
type GCStats struct {
	Collections int
	Freed       int
	Live        int
	Allocations int
}

// Heap is a mark-sweep collected arena of NodeWords-sized nodes.
type Heap struct {
	nodes  []node
	free   Address
	bottom Address

	False      Address
	True       Address
	Null       Address
	Unassigned Address
	Undefined  Address

	pins    []Address
	strings map[uint64][]Address
	roots   func(mark func(Address))

	stats GCStats
}

// NewHeap creates a heap of the given size in words. The literal
// singletons are allocated immediately.
func NewHeap(words int) (*Heap, error) {
	if words <= 0 {
		words = DefaultHeapWords
	}
	n := words / NodeWords
	if n <= int(KindUndefined) {
		return nil, fmt.Errorf("heap of %d words is too small", words)
	}
	h := &Heap{
		nodes:   make([]node, n),
		strings: make(map[uint64][]Address),
	}
	for i := range h.nodes {
		h.nodes[i].next = Address(i + 1)
	}
	h.nodes[n-1].next = NoAddress
	h.free = 0

	for _, k := range []Kind{KindFalse, KindTrue, KindNull, KindUnassigned, KindUndefined} {
		addr, err := h.allocate(k, 1)
		if err != nil {
			return nil, err
		}
		switch k {
		case KindFalse:
			h.False = addr
		case KindTrue:
			h.True = addr
		case KindNull:
			h.Null = addr
		case KindUnassigned:
			h.Unassigned = addr
		case KindUndefined:
			h.Undefined = addr
		}
	}
	h.bottom = h.free
	return h, nil
}

// SetRoots installs the callback the collector uses to enumerate the
// machine's registers.
func (h *Heap) SetRoots(fn func(mark func(Address))) {
	h.roots = fn
}

// Capacity returns the number of nodes in the arena.
func (h *Heap) Capacity() int { return len(h.nodes) }

// Stats returns collector statistics.
func (h *Heap) Stats() GCStats { return h.stats }

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (h *Heap) allocate(kind Kind, size int) (Address, error) {
	if size > NodeWords {
		return NoAddress, ErrNodeTooLarge
	}
	if h.free == NoAddress {
		h.Collect()
		if h.free == NoAddress {
			return NoAddress, ErrHeapExhausted
		}
	}
	addr := h.free
	nd := &h.nodes[addr]
	h.free = nd.next
	*nd = node{kind: kind, size: size, next: NoAddress, nchild: size - 1}
	for i := range nd.children {
		nd.children[i] = NoAddress
	}
	h.stats.Allocations++
	return addr, nil
}

// pin keeps addr alive until the matching unpin, for allocations that
// need more than one allocate call before becoming reachable from a root.
func (h *Heap) pin(addrs ...Address) {
	h.pins = append(h.pins, addrs...)
}

func (h *Heap) unpin(n int) {
	h.pins = h.pins[:len(h.pins)-n]
}

// Bool returns the singleton for b.
func (h *Heap) Bool(b bool) Address {
	if b {
		return h.True
	}
	return h.False
}

// AllocNumber allocates a Number. integral marks values that arithmetic
// should treat as 32-bit integers.
func (h *Heap) AllocNumber(v float64, integral bool) (Address, error) {
	addr, err := h.allocate(KindNumber, 1)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].num = v
	h.nodes[addr].integral = integral
	return addr, nil
}

// AllocInt allocates an integral Number.
func (h *Heap) AllocInt(v int64) (Address, error) {
	return h.AllocNumber(float64(v), true)
}

// AllocChar allocates a Char.
func (h *Heap) AllocChar(r rune) (Address, error) {
	addr, err := h.allocate(KindChar, 1)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].a = int(r)
	return addr, nil
}

// AllocString returns the canonical String node for s, allocating it on
// first use. Equal strings always share one address.
func (h *Heap) AllocString(s string) (Address, error) {
	key := xxh3.HashString(s)
	for _, addr := range h.strings[key] {
		if h.nodes[addr].str == s {
			return addr, nil
		}
	}
	addr, err := h.allocate(KindString, 1)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].str = s
	h.strings[key] = append(h.strings[key], addr)
	return addr, nil
}

// AllocPair allocates a Pair of head and tail.
func (h *Heap) AllocPair(head, tail Address) (Address, error) {
	h.pin(head, tail)
	defer h.unpin(2)
	addr, err := h.allocate(KindPair, 3)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].children[0] = head
	h.nodes[addr].children[1] = tail
	return addr, nil
}

// AllocFrame allocates a Frame of n slots, each Unassigned.
func (h *Heap) AllocFrame(n int) (Address, error) {
	addr, err := h.allocate(KindFrame, n+1)
	if err != nil {
		return NoAddress, err
	}
	for i := 0; i < n; i++ {
		h.nodes[addr].children[i] = h.Unassigned
	}
	return addr, nil
}

// AllocEnvironment allocates an Environment with room for n frames.
func (h *Heap) AllocEnvironment(n int) (Address, error) {
	return h.allocate(KindEnvironment, n+1)
}

// ExtendEnvironment returns a new Environment holding env's frames
// followed by frame.
func (h *Heap) ExtendEnvironment(frame, env Address) (Address, error) {
	h.pin(frame, env)
	defer h.unpin(2)
	n := h.nodes[env].nchild
	addr, err := h.AllocEnvironment(n + 1)
	if err != nil {
		return NoAddress, err
	}
	copy(h.nodes[addr].children[:n], h.nodes[env].children[:n])
	h.nodes[addr].children[n] = frame
	return addr, nil
}

// AllocClosure allocates a Closure capturing env.
func (h *Heap) AllocClosure(arity, pc int, env Address) (Address, error) {
	h.pin(env)
	defer h.unpin(1)
	addr, err := h.allocate(KindClosure, 2)
	if err != nil {
		return NoAddress, err
	}
	nd := &h.nodes[addr]
	nd.a, nd.b = arity, pc
	nd.children[0] = env
	return addr, nil
}

// AllocBlockframe allocates a Blockframe remembering env.
func (h *Heap) AllocBlockframe(env Address) (Address, error) {
	h.pin(env)
	defer h.unpin(1)
	addr, err := h.allocate(KindBlockframe, 2)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].children[0] = env
	return addr, nil
}

// AllocCallframe allocates a Callframe remembering the caller's env, return
// pc and operand stack height.
func (h *Heap) AllocCallframe(env Address, pc, sp int) (Address, error) {
	h.pin(env)
	defer h.unpin(1)
	addr, err := h.allocate(KindCallframe, 2)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].a = sp
	h.nodes[addr].b = pc
	h.nodes[addr].children[0] = env
	return addr, nil
}

// AllocReference allocates a Reference to slot pos of env.
func (h *Heap) AllocReference(pos Position, mutable bool, env Address) (Address, error) {
	h.pin(env)
	defer h.unpin(1)
	addr, err := h.allocate(KindReference, 2)
	if err != nil {
		return NoAddress, err
	}
	nd := &h.nodes[addr]
	nd.a, nd.b = pos.Frame, pos.Slot
	nd.mutable = mutable
	nd.children[0] = env
	return addr, nil
}

// AllocBuiltin allocates a Builtin with the given id.
func (h *Heap) AllocBuiltin(id int) (Address, error) {
	addr, err := h.allocate(KindBuiltin, 1)
	if err != nil {
		return NoAddress, err
	}
	h.nodes[addr].a = id
	return addr, nil
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the tag of addr.
func (h *Heap) Kind(addr Address) Kind { return h.nodes[addr].kind }

// Size returns the node's size in words.
func (h *Heap) Size(addr Address) int { return h.nodes[addr].size }

// NumChildren returns how many traced children the node has.
func (h *Heap) NumChildren(addr Address) int { return h.nodes[addr].nchild }

// Child returns child i of addr.
func (h *Heap) Child(addr Address, i int) Address { return h.nodes[addr].children[i] }

// SetChild sets child i of addr.
func (h *Heap) SetChild(addr Address, i int, v Address) { h.nodes[addr].children[i] = v }

// Number returns a Number's value and whether it is integral.
func (h *Heap) Number(addr Address) (float64, bool) {
	return h.nodes[addr].num, h.nodes[addr].integral
}

// String returns a String's contents.
func (h *Heap) String(addr Address) string { return h.nodes[addr].str }

// Char returns a Char's rune.
func (h *Heap) Char(addr Address) rune { return rune(h.nodes[addr].a) }

// Closure returns a Closure's arity, entry pc and captured environment.
func (h *Heap) Closure(addr Address) (arity, pc int, env Address) {
	nd := &h.nodes[addr]
	return nd.a, nd.b, nd.children[0]
}

// FrameEnv returns the environment saved in a Blockframe or Callframe.
func (h *Heap) FrameEnv(addr Address) Address { return h.nodes[addr].children[0] }

// CallframePC returns the return address saved in a Callframe.
func (h *Heap) CallframePC(addr Address) int { return h.nodes[addr].b }

// CallframeSP returns the caller's operand stack height saved in a Callframe.
func (h *Heap) CallframeSP(addr Address) int { return h.nodes[addr].a }

// Reference returns a Reference's target slot, mutability and environment.
func (h *Heap) Reference(addr Address) (pos Position, mutable bool, env Address) {
	nd := &h.nodes[addr]
	return Position{Frame: nd.a, Slot: nd.b}, nd.mutable, nd.children[0]
}

// BuiltinID returns a Builtin's id.
func (h *Heap) BuiltinID(addr Address) int { return h.nodes[addr].a }

// Lookup returns the value at pos in env.
func (h *Heap) Lookup(env Address, pos Position) Address {
	frame := h.nodes[env].children[pos.Frame]
	return h.nodes[frame].children[pos.Slot]
}

// Store writes v to pos in env.
func (h *Heap) Store(env Address, pos Position, v Address) {
	frame := h.nodes[env].children[pos.Frame]
	h.nodes[frame].children[pos.Slot] = v
}

// ---------------------------------------------------------------------------
// Mark-sweep collection
// ---------------------------------------------------------------------------

// Collect runs a full mark-sweep cycle and returns the number of nodes freed.
func (h *Heap) Collect() int {
	h.mark()
	freed := h.sweep()
	h.stats.Collections++
	h.stats.Freed += freed
	log.Debugf("gc #%d: freed %d, live %d of %d", h.stats.Collections, freed, h.stats.Live, len(h.nodes))
	return freed
}

func (h *Heap) mark() {
	var work []Address
	push := func(a Address) {
		if a == NoAddress || h.nodes[a].marked {
			return
		}
		h.nodes[a].marked = true
		work = append(work, a)
	}

	for _, a := range []Address{h.False, h.True, h.Null, h.Unassigned, h.Undefined} {
		push(a)
	}
	for _, a := range h.pins {
		push(a)
	}
	if h.roots != nil {
		h.roots(push)
	}

	for len(work) > 0 {
		a := work[len(work)-1]
		work = work[:len(work)-1]
		nd := &h.nodes[a]
		for i := 0; i < nd.nchild; i++ {
			push(nd.children[i])
		}
	}
}

func (h *Heap) sweep() int {
	freed, live := 0, 0
	h.free = NoAddress
	for i := len(h.nodes) - 1; i >= int(h.bottom); i-- {
		nd := &h.nodes[i]
		if nd.marked {
			nd.marked = false
			live++
			continue
		}
		if nd.kind != KindFree {
			if nd.kind == KindString {
				h.forgetString(Address(i), nd.str)
			}
			freed++
		}
		*nd = node{kind: KindFree, next: h.free}
		h.free = Address(i)
	}
	for i := 0; i < int(h.bottom); i++ {
		h.nodes[i].marked = false
	}
	h.stats.Live = live
	return freed
}

func (h *Heap) forgetString(addr Address, s string) {
	key := xxh3.HashString(s)
	bucket := h.strings[key]
	for i, a := range bucket {
		if a == addr {
			bucket = append(bucket[:i], bucket[i+1:]...)
			break
		}
	}
	if len(bucket) == 0 {
		delete(h.strings, key)
	} else {
		h.strings[key] = bucket
	}
}
