package hsm

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Factory is the immutable compiled form of a machine declaration: flat state
// and callback arrays, the flattened transition-step program, and the
// (state, event) lookup map. One factory is shared by any number of instances
// and is safe for concurrent readers; the lazily computed hierarchy cache is
// published atomically and races only cost a duplicate computation.
type Factory[S, E comparable, R any] struct {
	id              string
	states          []compiledState[S, E]
	stateCallbacks  []Callback[R]
	steps           []step[R]
	stepCallbacks   []Callback[R]
	starts          map[stateEvent[E]]int
	index           map[S]int
	initial         int
	initialEntry    int
	initialEntryLen int
	logger          Logger
	capturePanics   bool

	hierarchies atomic.Pointer[[][]S]
}

// ID returns the machine identifier.
func (f *Factory[S, E, R]) ID() string {
	return f.id
}

// InitialState returns the state new instances start in.
func (f *Factory[S, E, R]) InitialState() S {
	return f.states[f.initial].key
}

// States returns every registered state in declaration order.
func (f *Factory[S, E, R]) States() []S {
	out := make([]S, len(f.states))
	for i := range f.states {
		out[i] = f.states[i].key
	}
	return out
}

// Create instantiates a running machine bound to recipient. Extra args flow
// into the initial entry callbacks when the initial entry policy runs them.
// On an entry callback error the instance is still returned; it sits in the
// initial state with however much of the entry chain completed.
func (f *Factory[S, E, R]) Create(recipient R, args ...any) (*Instance[S, E, R], error) {
	id := uuid.NewString()
	inst := &Instance[S, E, R]{
		factory:       f,
		recipient:     recipient,
		id:            id,
		current:       f.initial,
		events:        newSlab[pendingEvent[E]](8),
		args:          newSlab[any](8),
		head:          slabNil,
		tail:          slabNil,
		logger:        instanceLogger(f.logger, f.id, id),
		capturePanics: f.capturePanics,
	}

	if f.initialEntryLen > 0 {
		head := inst.storeArgs(args)
		list := argList{store: inst.args, head: head}
		defer func() {
			if head != slabNil {
				inst.args.RemoveFrom(head)
			}
		}()
		for _, cb := range f.stepCallbacks[f.initialEntry : f.initialEntry+f.initialEntryLen] {
			if err := inst.invoke(cb, list); err != nil {
				return inst, err
			}
		}
	}
	return inst, nil
}

// ParentOf returns the declared parent of s. The second result is false for
// root states.
func (f *Factory[S, E, R]) ParentOf(s S) (S, bool, error) {
	var zero S
	i, ok := f.index[s]
	if !ok {
		return zero, false, f.unknownState(s)
	}
	p := f.states[i].parent
	if p == noParent {
		return zero, false, nil
	}
	return f.states[p].key, true, nil
}

// HierarchyOf returns s's ancestor chain including s itself, leaf first.
func (f *Factory[S, E, R]) HierarchyOf(s S) ([]S, error) {
	i, ok := f.index[s]
	if !ok {
		return nil, f.unknownState(s)
	}
	chain := f.hierarchyOf(i)
	out := make([]S, len(chain))
	copy(out, chain)
	return out, nil
}

// AcceptedEventsOf returns the events s has transitions for, in declaration
// order.
func (f *Factory[S, E, R]) AcceptedEventsOf(s S) ([]E, error) {
	i, ok := f.index[s]
	if !ok {
		return nil, f.unknownState(s)
	}
	out := make([]E, len(f.states[i].events))
	copy(out, f.states[i].events)
	return out, nil
}

// TransitionInfo describes the possible outcomes of one (state, event) chain
// for introspection and graph export.
type TransitionInfo[S, E comparable] struct {
	From    S
	Event   E
	Targets []S
	CanStay bool
}

// Transitions enumerates every declared (state, event) chain with all
// reachable terminator outcomes, in declaration order.
func (f *Factory[S, E, R]) Transitions() []TransitionInfo[S, E] {
	var out []TransitionInfo[S, E]
	for i := range f.states {
		for _, ev := range f.states[i].events {
			info := TransitionInfo[S, E]{From: f.states[i].key, Event: ev}
			seenDest := map[int]struct{}{}
			visited := map[int]struct{}{}
			f.collectOutcomes(f.starts[stateEvent[E]{state: i, event: ev}], visited, seenDest, &info)
			out = append(out, info)
		}
	}
	return out
}

func (f *Factory[S, E, R]) collectOutcomes(idx int, visited, seenDest map[int]struct{}, info *TransitionInfo[S, E]) {
	for {
		if _, ok := visited[idx]; ok {
			return
		}
		visited[idx] = struct{}{}
		st := &f.steps[idx]
		switch st.kind {
		case stepAction:
			idx++
		case stepBranch:
			f.collectOutcomes(st.branch, visited, seenDest, info)
			idx++
		case stepGoTo:
			if _, dup := seenDest[st.dest]; !dup {
				seenDest[st.dest] = struct{}{}
				info.Targets = append(info.Targets, f.states[st.dest].key)
			}
			return
		case stepStay:
			info.CanStay = true
			return
		}
	}
}

func (f *Factory[S, E, R]) hierarchyOf(i int) []S {
	cache := f.hierarchies.Load()
	if cache == nil {
		all := make([][]S, len(f.states))
		for idx := range f.states {
			var chain []S
			for s := idx; s != noParent; s = f.states[s].parent {
				chain = append(chain, f.states[s].key)
			}
			all[idx] = chain
		}
		f.hierarchies.CompareAndSwap(nil, &all)
		cache = f.hierarchies.Load()
	}
	return (*cache)[i]
}

func (f *Factory[S, E, R]) unknownState(s S) error {
	return cloneError(ErrInvalidUsage,
		fmt.Sprintf("state %v is not registered", s), nil, machineMeta(f.id))
}
