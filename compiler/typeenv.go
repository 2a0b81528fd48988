package compiler

// binding is a name's type and whether it was declared mutable. A deferred
// binding was declared without an initializer and may still receive its
// first assignment, but only at the loop depth it was declared at.
type binding struct {
	typ      Type
	mutable  bool
	deferred bool
	loops    int
}

// TypeEnv is a stack of name -> (type, mutability) scopes. Lookups search
// innermost to outermost.
type TypeEnv struct {
	scopes []map[string]*binding
}

// NewTypeEnv creates an environment holding a single global scope.
func NewTypeEnv() *TypeEnv {
	return &TypeEnv{scopes: []map[string]*binding{{}}}
}

// EnterScope pushes a new innermost scope.
func (e *TypeEnv) EnterScope() {
	e.scopes = append(e.scopes, map[string]*binding{})
}

// ExitScope pops the innermost scope. The global scope is never popped.
func (e *TypeEnv) ExitScope() {
	if len(e.scopes) > 1 {
		e.scopes = e.scopes[:len(e.scopes)-1]
	}
}

// Depth returns the number of scopes, global included.
func (e *TypeEnv) Depth() int { return len(e.scopes) }

// Define binds name in the innermost scope, shadowing outer bindings.
func (e *TypeEnv) Define(name string, t Type, mutable bool) {
	e.scopes[len(e.scopes)-1][name] = &binding{typ: t, mutable: mutable}
}

// DefineDeferred binds name without a value. The binding accepts one
// initializing assignment at the given loop depth even if it is immutable.
func (e *TypeEnv) DefineDeferred(name string, t Type, mutable bool, loops int) {
	e.scopes[len(e.scopes)-1][name] = &binding{typ: t, mutable: mutable, deferred: true, loops: loops}
}

// Initialize consumes name's pending first assignment. It reports false
// when name has already been assigned or was declared in an enclosing
// loop iteration.
func (e *TypeEnv) Initialize(name string, loops int) bool {
	b, ok := e.find(name)
	if !ok || !b.deferred || b.loops != loops {
		return false
	}
	b.deferred = false
	return true
}

// pending returns the bindings still awaiting their first assignment.
func (e *TypeEnv) pending() []*binding {
	var out []*binding
	for _, scope := range e.scopes {
		for _, b := range scope {
			if b.deferred {
				out = append(out, b)
			}
		}
	}
	return out
}

// DefineGlobal binds name in the outermost scope.
func (e *TypeEnv) DefineGlobal(name string, t Type) {
	e.scopes[0][name] = &binding{typ: t}
}

// Lookup returns the type bound to name.
func (e *TypeEnv) Lookup(name string) (Type, bool) {
	b, ok := e.find(name)
	if !ok {
		return nil, false
	}
	return b.typ, true
}

// IsMutable reports whether name is bound and declared mutable.
func (e *TypeEnv) IsMutable(name string) bool {
	b, ok := e.find(name)
	return ok && b.mutable
}

func (e *TypeEnv) find(name string) (*binding, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if b, ok := e.scopes[i][name]; ok {
			return b, true
		}
	}
	return nil, false
}
