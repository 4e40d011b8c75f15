package hsm

import "fmt"

// noParent is the sentinel parent index for root states.
const noParent = -1

type stepKind uint8

const (
	stepAction stepKind = iota
	stepBranch
	stepGoTo
	stepStay
)

// step is one node of the flattened transition program. Action steps fall
// through to the next index; branch steps jump to branch when their guard
// holds; goto steps carry the destination index plus contiguous windows of
// pre-resolved exit and entry callbacks; stay steps end evaluation with no
// state change.
type step[R any] struct {
	kind       stepKind
	action     Callback[R]
	guard      Guard[R]
	branch     int
	dest       int
	exitStart  int
	exitLen    int
	entryStart int
	entryLen   int
}

// compiledState is the frozen form of one declared state: parent index and an
// (offset, length) update window into the shared state-callback array. Entry
// and exit callbacks never need a per-state window at runtime; they are copied
// into the step-callback windows each terminator carries. events keeps the
// declared event order for deterministic introspection.
type compiledState[S, E comparable] struct {
	key         S
	parent      int
	updateStart int
	updateLen   int
	events      []E
}

// stateEvent is the composite transition lookup key.
type stateEvent[E comparable] struct {
	state int
	event E
}

type compilerCtx[S, E comparable, R any] struct {
	b       *Builder[S, E, R]
	defs    []*stateDef[S, E, R]
	index   map[S]int
	parents []int

	states         []compiledState[S, E]
	stateCallbacks []Callback[R]
	steps          []step[R]
	stepCallbacks  []Callback[R]
	starts         map[stateEvent[E]]int
}

// compile flattens the builder's graph into a Factory. Pass 1 assigns dense
// indexes in declaration order and validates every cross-reference; pass 2
// populates the flat arrays. Terminators reference state indexes, so all
// index assignment completes before any chain is serialized.
func compile[S, E comparable, R any](b *Builder[S, E, R]) (*Factory[S, E, R], error) {
	if len(b.order) == 0 {
		return nil, cloneError(ErrConfiguration, "no states registered", nil, machineMeta(b.id))
	}
	if !b.hasInitial {
		return nil, cloneError(ErrConfiguration, "initial state required", nil, machineMeta(b.id))
	}

	c := &compilerCtx[S, E, R]{
		b:      b,
		defs:   make([]*stateDef[S, E, R], 0, len(b.order)),
		index:  make(map[S]int, len(b.order)),
		starts: make(map[stateEvent[E]]int),
	}

	if err := c.assignIndexes(); err != nil {
		return nil, err
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	if err := c.populate(); err != nil {
		return nil, err
	}

	initial := c.index[b.initial]
	initStart, initLen := c.writeInitialEntry(initial)

	f := &Factory[S, E, R]{
		id:              b.id,
		states:          c.states,
		stateCallbacks:  c.stateCallbacks,
		steps:           c.steps,
		stepCallbacks:   c.stepCallbacks,
		starts:          c.starts,
		index:           c.index,
		initial:         initial,
		initialEntry:    initStart,
		initialEntryLen: initLen,
		logger:          normalizeLogger(b.logger),
		capturePanics:   b.capturePanics,
	}
	return f, nil
}

func (c *compilerCtx[S, E, R]) assignIndexes() error {
	b := c.b
	for i, key := range b.order {
		c.index[key] = i
		c.defs = append(c.defs, b.states[key])
	}
	if _, ok := c.index[b.initial]; !ok {
		return cloneError(ErrConfiguration,
			fmt.Sprintf("initial state %v is not registered", b.initial), nil, machineMeta(b.id))
	}

	c.parents = make([]int, len(c.defs))
	for i, def := range c.defs {
		c.parents[i] = noParent
		if !def.hasParent {
			continue
		}
		pi, ok := c.index[def.parent]
		if !ok {
			return cloneError(ErrConfiguration,
				fmt.Sprintf("state %v is substate of unregistered state %v", def.key, def.parent),
				nil, machineMeta(b.id))
		}
		c.parents[i] = pi
	}
	return nil
}

func (c *compilerCtx[S, E, R]) validate() error {
	for i, def := range c.defs {
		// cycle detection: following parent links from any state must never
		// come back to it; bounded by the state count
		hops := 0
		for p := c.parents[i]; p != noParent; p = c.parents[p] {
			if p == i || hops > len(c.defs) {
				return cloneError(ErrConfiguration,
					fmt.Sprintf("circular substate reference involving state %v", def.key),
					nil, machineMeta(c.b.id))
			}
			hops++
		}

		seen := make(map[E]struct{}, len(def.transitions))
		for _, tr := range def.transitions {
			if _, dup := seen[tr.event]; dup {
				return cloneError(ErrConfiguration,
					fmt.Sprintf("duplicate transition for state %v event %v", def.key, tr.event),
					nil, machineMeta(c.b.id))
			}
			seen[tr.event] = struct{}{}

			if !chainHasTerminator(tr.nodes) {
				return cloneError(ErrConfiguration,
					fmt.Sprintf("transition for state %v event %v must have terminator", def.key, tr.event),
					nil, machineMeta(c.b.id))
			}
			if err := c.validateTargets(def, tr.event, tr.nodes); err != nil {
				return err
			}
		}
	}
	return nil
}

// chainHasTerminator checks that a terminator is reachable along every guard
// path: the chain itself must contain one, and every branch opened before it
// must recursively terminate as well.
func chainHasTerminator[S comparable, R any](nodes []chainNode[S, R]) bool {
	for _, n := range nodes {
		switch n.kind {
		case nodeGoTo, nodeGoToSelf, nodeStay:
			return true
		case nodeBranch:
			if !chainHasTerminator(n.children) {
				return false
			}
		}
	}
	return false
}

func (c *compilerCtx[S, E, R]) validateTargets(def *stateDef[S, E, R], event E, nodes []chainNode[S, R]) error {
	for _, n := range nodes {
		switch n.kind {
		case nodeGoTo:
			if _, ok := c.index[n.dest]; !ok {
				return cloneError(ErrConfiguration,
					fmt.Sprintf("transition for state %v event %v targets unregistered state %v", def.key, event, n.dest),
					nil, machineMeta(c.b.id))
			}
		case nodeBranch:
			if err := c.validateTargets(def, event, n.children); err != nil {
				return err
			}
		}
	}
	return nil
}

func (c *compilerCtx[S, E, R]) populate() error {
	totalCallbacks := 0
	totalSteps := 0
	for _, def := range c.defs {
		totalCallbacks += len(def.updates)
		for _, tr := range def.transitions {
			totalSteps += countNodes(tr.nodes)
		}
	}
	c.states = make([]compiledState[S, E], 0, len(c.defs))
	c.stateCallbacks = make([]Callback[R], 0, totalCallbacks)
	c.steps = make([]step[R], 0, totalSteps)

	for i, def := range c.defs {
		cs := compiledState[S, E]{key: def.key, parent: c.parents[i]}

		cs.updateStart = len(c.stateCallbacks)
		c.stateCallbacks = append(c.stateCallbacks, def.updates...)
		cs.updateLen = len(def.updates)

		for _, tr := range def.transitions {
			cs.events = append(cs.events, tr.event)
			start := c.writeChain(i, tr, tr.nodes)
			c.starts[stateEvent[E]{state: i, event: tr.event}] = start
		}

		c.states = append(c.states, cs)
	}
	return nil
}

func countNodes[S comparable, R any](nodes []chainNode[S, R]) int {
	n := 0
	for _, node := range nodes {
		n++
		if node.kind == nodeBranch {
			n += countNodes(node.children)
		}
	}
	return n
}

// writeChain serializes one chain into the shared step array and returns the
// index of its first step. Branch bodies are appended after the current chain
// and their parent steps patched with the resolved jump target, so fallthrough
// inside a chain is always index+1.
func (c *compilerCtx[S, E, R]) writeChain(src int, tr *transitionDef[S, E, R], nodes []chainNode[S, R]) int {
	start := len(c.steps)

	type pendingBranch struct {
		stepIdx  int
		children []chainNode[S, R]
	}
	var pending []pendingBranch

	for _, n := range nodes {
		switch n.kind {
		case nodeAction:
			c.steps = append(c.steps, step[R]{kind: stepAction, action: n.action})
		case nodeBranch:
			pending = append(pending, pendingBranch{stepIdx: len(c.steps), children: n.children})
			c.steps = append(c.steps, step[R]{kind: stepBranch, guard: n.guard})
		case nodeGoTo, nodeGoToSelf:
			dst := src
			if n.kind == nodeGoTo {
				dst = c.index[n.dest]
			}
			c.steps = append(c.steps, c.makeGoTo(src, dst, tr))
		case nodeStay:
			c.steps = append(c.steps, step[R]{kind: stepStay})
		}
	}

	for _, p := range pending {
		target := c.writeChain(src, tr, p.children)
		c.steps[p.stepIdx].branch = target
	}
	return start
}

// makeGoTo resolves the exit and entry callback sequences for a terminator
// and copies them into the shared step-callback array so the runtime sees two
// contiguous windows.
func (c *compilerCtx[S, E, R]) makeGoTo(src, dst int, tr *transitionDef[S, E, R]) step[R] {
	exitPolicy := firstPolicy(tr.exitPolicy, c.b.exitPolicy)
	entryPolicy := firstPolicy(tr.entryPolicy, c.b.entryPolicy)

	st := step[R]{kind: stepGoTo, dest: dst}

	st.exitStart = len(c.stepCallbacks)
	for _, si := range exitSequence(c.parents, src, dst, exitPolicy) {
		c.stepCallbacks = append(c.stepCallbacks, c.defs[si].exits...)
	}
	st.exitLen = len(c.stepCallbacks) - st.exitStart

	st.entryStart = len(c.stepCallbacks)
	for _, si := range entrySequence(c.parents, src, dst, entryPolicy) {
		c.stepCallbacks = append(c.stepCallbacks, c.defs[si].entries...)
	}
	st.entryLen = len(c.stepCallbacks) - st.entryStart

	return st
}

func (c *compilerCtx[S, E, R]) writeInitialEntry(initial int) (int, int) {
	start := len(c.stepCallbacks)
	for _, si := range initialEntrySequence(c.parents, initial, c.b.initialEntry) {
		c.stepCallbacks = append(c.stepCallbacks, c.defs[si].entries...)
	}
	return start, len(c.stepCallbacks) - start
}

func firstPolicy(override, fallback Policy) Policy {
	if override != PolicyDefault {
		return override
	}
	return fallback
}

func machineMeta(id string) map[string]any {
	if id == "" {
		return nil
	}
	return map[string]any{"machine_id": id}
}
