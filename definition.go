package hsm

// The declaration-side graph model. Builder calls accumulate these records;
// Finalize hands them to the compiler, which freezes them into the flat
// factory arrays. Nothing here is retained by a compiled factory.

type nodeKind uint8

const (
	nodeAction nodeKind = iota
	nodeBranch
	nodeGoTo
	nodeGoToSelf
	nodeStay
)

// chainNode is one declared node in a transition chain: a plain action, a
// guarded branch with a nested chain, or a terminator.
type chainNode[S comparable, R any] struct {
	kind     nodeKind
	action   Callback[R]
	guard    Guard[R]
	children []chainNode[S, R]
	dest     S
}

// transitionDef is the declared chain for one (state, event) pair, with
// optional per-transition policy overrides.
type transitionDef[S, E comparable, R any] struct {
	event       E
	nodes       []chainNode[S, R]
	entryPolicy Policy
	exitPolicy  Policy
}

// stateDef is one declared state: optional parent link, callback lists, and
// outgoing transitions in declaration order.
type stateDef[S, E comparable, R any] struct {
	key         S
	parent      S
	hasParent   bool
	updates     []Callback[R]
	entries     []Callback[R]
	exits       []Callback[R]
	transitions []*transitionDef[S, E, R]
}

func (sd *stateDef[S, E, R]) transitionFor(event E) *transitionDef[S, E, R] {
	for _, tr := range sd.transitions {
		if tr.event == event {
			return tr
		}
	}
	return nil
}
