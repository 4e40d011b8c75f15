package hsm

import "strings"

// Builder declares states, substate relations, callbacks, and guarded
// transitions, and compiles them into an immutable Factory. A single builder
// is parameterized over the (State, Event, Recipient) triple; all callback
// shape variance goes through the Callback and Guard constructors.
//
// Finalize copies everything into the factory's flat arrays, so a builder can
// be finalized more than once and identical declarations always produce
// factories with identical compiled shapes.
type Builder[S, E comparable, R any] struct {
	id            string
	states        map[S]*stateDef[S, E, R]
	order         []S
	initial       S
	hasInitial    bool
	initialEntry  Policy
	entryPolicy   Policy
	exitPolicy    Policy
	logger        Logger
	capturePanics bool
}

// NewBuilder creates an empty machine builder.
func NewBuilder[S, E comparable, R any]() *Builder[S, E, R] {
	return &Builder[S, E, R]{
		states: make(map[S]*stateDef[S, E, R]),
	}
}

// ID sets the machine identifier carried in log fields and error metadata.
func (b *Builder[S, E, R]) ID(id string) *Builder[S, E, R] {
	b.id = strings.TrimSpace(id)
	return b
}

// Initial selects the state new instances start in.
func (b *Builder[S, E, R]) Initial(s S) *Builder[S, E, R] {
	b.initial = s
	b.hasInitial = true
	return b
}

// InitialEntryPolicy controls whether, and in which order, entry callbacks of
// the initial state's ancestor chain run when an instance is created. The
// default runs none.
func (b *Builder[S, E, R]) InitialEntryPolicy(p Policy) *Builder[S, E, R] {
	b.initialEntry = p
	return b
}

// DefaultEntryPolicy sets the machine-wide entry sequencing policy used by
// transitions without an explicit override.
func (b *Builder[S, E, R]) DefaultEntryPolicy(p Policy) *Builder[S, E, R] {
	b.entryPolicy = p
	return b
}

// DefaultExitPolicy sets the machine-wide exit sequencing policy used by
// transitions without an explicit override.
func (b *Builder[S, E, R]) DefaultExitPolicy(p Policy) *Builder[S, E, R] {
	b.exitPolicy = p
	return b
}

// WithLogger sets the logger inherited by the factory and its instances.
func (b *Builder[S, E, R]) WithLogger(logger Logger) *Builder[S, E, R] {
	b.logger = logger
	return b
}

// WithPanicCapture converts panics raised by user callbacks into PanicError
// values instead of letting them unwind through Fire/Update.
func (b *Builder[S, E, R]) WithPanicCapture(enable bool) *Builder[S, E, R] {
	b.capturePanics = enable
	return b
}

// State registers s if needed and returns its configuration scope. Index
// assignment at compile time follows first-registration order.
func (b *Builder[S, E, R]) State(s S) *StateBuilder[S, E, R] {
	def, ok := b.states[s]
	if !ok {
		def = &stateDef[S, E, R]{key: s}
		b.states[s] = def
		b.order = append(b.order, s)
	}
	return &StateBuilder[S, E, R]{b: b, def: def}
}

// Finalize validates the declared graph and compiles it into a Factory.
func (b *Builder[S, E, R]) Finalize() (*Factory[S, E, R], error) {
	return compile(b)
}

// StateBuilder configures one state.
type StateBuilder[S, E comparable, R any] struct {
	b   *Builder[S, E, R]
	def *stateDef[S, E, R]
}

// SubstateOf declares this state as nested inside parent. The parent must be
// registered by Finalize time.
func (sb *StateBuilder[S, E, R]) SubstateOf(parent S) *StateBuilder[S, E, R] {
	sb.def.parent = parent
	sb.def.hasParent = true
	return sb
}

// OnEntry appends an entry callback.
func (sb *StateBuilder[S, E, R]) OnEntry(cb Callback[R]) *StateBuilder[S, E, R] {
	sb.def.entries = append(sb.def.entries, cb)
	return sb
}

// OnExit appends an exit callback.
func (sb *StateBuilder[S, E, R]) OnExit(cb Callback[R]) *StateBuilder[S, E, R] {
	sb.def.exits = append(sb.def.exits, cb)
	return sb
}

// OnUpdate appends an update callback. Update chains of ancestors run before
// the state's own.
func (sb *StateBuilder[S, E, R]) OnUpdate(cb Callback[R]) *StateBuilder[S, E, R] {
	sb.def.updates = append(sb.def.updates, cb)
	return sb
}

// On opens the transition chain for event. Calling On twice with the same
// event continues the same chain.
func (sb *StateBuilder[S, E, R]) On(event E) *TransitionBuilder[S, E, R] {
	tr := sb.def.transitionFor(event)
	if tr == nil {
		tr = &transitionDef[S, E, R]{event: event}
		sb.def.transitions = append(sb.def.transitions, tr)
	}
	return &TransitionBuilder[S, E, R]{sb: sb, tr: tr}
}

// State switches configuration to another state.
func (sb *StateBuilder[S, E, R]) State(s S) *StateBuilder[S, E, R] {
	return sb.b.State(s)
}

// TransitionBuilder appends nodes to one (state, event) chain. Every guard
// path must reach a terminator (GoTo, GoToSelf, or Stay) or Finalize fails.
type TransitionBuilder[S, E comparable, R any] struct {
	sb *StateBuilder[S, E, R]
	tr *transitionDef[S, E, R]
}

// Do appends a transition action that always falls through.
func (tb *TransitionBuilder[S, E, R]) Do(cb Callback[R]) *TransitionBuilder[S, E, R] {
	tb.tr.nodes = append(tb.tr.nodes, chainNode[S, R]{kind: nodeAction, action: cb})
	return tb
}

// If appends a guarded branch; body declares the chain taken when the guard
// holds. When the guard does not hold evaluation falls through to the next
// node.
func (tb *TransitionBuilder[S, E, R]) If(g Guard[R], body func(*Branch[S, E, R])) *TransitionBuilder[S, E, R] {
	node := chainNode[S, R]{kind: nodeBranch, guard: g}
	if body != nil {
		br := &Branch[S, E, R]{nodes: &node.children}
		body(br)
	}
	tb.tr.nodes = append(tb.tr.nodes, node)
	return tb
}

// WithEntryPolicy overrides the entry sequencing policy for this transition.
func (tb *TransitionBuilder[S, E, R]) WithEntryPolicy(p Policy) *TransitionBuilder[S, E, R] {
	tb.tr.entryPolicy = p
	return tb
}

// WithExitPolicy overrides the exit sequencing policy for this transition.
func (tb *TransitionBuilder[S, E, R]) WithExitPolicy(p Policy) *TransitionBuilder[S, E, R] {
	tb.tr.exitPolicy = p
	return tb
}

// GoTo terminates the chain with a transition to dest.
func (tb *TransitionBuilder[S, E, R]) GoTo(dest S) *StateBuilder[S, E, R] {
	tb.tr.nodes = append(tb.tr.nodes, chainNode[S, R]{kind: nodeGoTo, dest: dest})
	return tb.sb
}

// GoToSelf terminates the chain with an explicit self-transition: the state's
// own exit and entry callbacks run, subject to policy.
func (tb *TransitionBuilder[S, E, R]) GoToSelf() *StateBuilder[S, E, R] {
	tb.tr.nodes = append(tb.tr.nodes, chainNode[S, R]{kind: nodeGoToSelf})
	return tb.sb
}

// Stay terminates the chain without a state change and without any exit or
// entry callbacks; preceding Do actions still run.
func (tb *TransitionBuilder[S, E, R]) Stay() *StateBuilder[S, E, R] {
	tb.tr.nodes = append(tb.tr.nodes, chainNode[S, R]{kind: nodeStay})
	return tb.sb
}

// Branch declares the nested chain taken when a guard holds.
type Branch[S, E comparable, R any] struct {
	nodes *[]chainNode[S, R]
}

// Do appends an action to the branch chain.
func (br *Branch[S, E, R]) Do(cb Callback[R]) *Branch[S, E, R] {
	*br.nodes = append(*br.nodes, chainNode[S, R]{kind: nodeAction, action: cb})
	return br
}

// If appends a nested guarded branch.
func (br *Branch[S, E, R]) If(g Guard[R], body func(*Branch[S, E, R])) *Branch[S, E, R] {
	node := chainNode[S, R]{kind: nodeBranch, guard: g}
	if body != nil {
		child := &Branch[S, E, R]{nodes: &node.children}
		body(child)
	}
	*br.nodes = append(*br.nodes, node)
	return br
}

// GoTo terminates the branch with a transition to dest.
func (br *Branch[S, E, R]) GoTo(dest S) {
	*br.nodes = append(*br.nodes, chainNode[S, R]{kind: nodeGoTo, dest: dest})
}

// GoToSelf terminates the branch with an explicit self-transition.
func (br *Branch[S, E, R]) GoToSelf() {
	*br.nodes = append(*br.nodes, chainNode[S, R]{kind: nodeGoToSelf})
}

// Stay terminates the branch without a state change.
func (br *Branch[S, E, R]) Stay() {
	*br.nodes = append(*br.nodes, chainNode[S, R]{kind: nodeStay})
}
