package hsm

import "fmt"

// pendingEvent is one queued fire: the event plus the head slot of its
// argument chain, or slabNil when the call carried no extra arguments.
type pendingEvent[E comparable] struct {
	event E
	args  int
}

// Instance is one running state machine created from a Factory. An instance
// is confined to a single goroutine: the engine serializes reentrant firing
// through its queue, not concurrent callers.
type Instance[S, E comparable, R any] struct {
	factory   *Factory[S, E, R]
	recipient R
	id        string
	logger    Logger

	current int

	events *slab[pendingEvent[E]]
	args   *slab[any]
	head   int
	tail   int

	running       bool
	capturePanics bool
}

// ID returns the instance identifier.
func (inst *Instance[S, E, R]) ID() string {
	return inst.id
}

// Recipient returns the value bound at Create time.
func (inst *Instance[S, E, R]) Recipient() R {
	return inst.recipient
}

// CurrentState returns the leaf state the instance is in.
func (inst *Instance[S, E, R]) CurrentState() S {
	return inst.factory.states[inst.current].key
}

// CurrentStateHierarchy returns the current state's ancestor chain including
// itself, leaf first.
func (inst *Instance[S, E, R]) CurrentStateHierarchy() []S {
	chain := inst.factory.hierarchyOf(inst.current)
	out := make([]S, len(chain))
	copy(out, chain)
	return out
}

// CurrentAcceptedEvents returns the events the current state has transitions
// for, in declaration order.
func (inst *Instance[S, E, R]) CurrentAcceptedEvents() []E {
	events := inst.factory.states[inst.current].events
	out := make([]E, len(events))
	copy(out, events)
	return out
}

// IsInState reports whether candidate is the current state or one of its
// ancestors.
func (inst *Instance[S, E, R]) IsInState(candidate S) bool {
	f := inst.factory
	for s := inst.current; s != noParent; s = f.states[s].parent {
		if f.states[s].key == candidate {
			return true
		}
	}
	return false
}

// GetParentStateOf returns the declared parent of s; the second result is
// false for root states.
func (inst *Instance[S, E, R]) GetParentStateOf(s S) (S, bool, error) {
	return inst.factory.ParentOf(s)
}

// GetParentHierarchyOf returns s's ancestor chain including s, leaf first.
func (inst *Instance[S, E, R]) GetParentHierarchyOf(s S) ([]S, error) {
	return inst.factory.HierarchyOf(s)
}

// GetAcceptedEventsBy returns the events s has transitions for.
func (inst *Instance[S, E, R]) GetAcceptedEventsBy(s S) ([]E, error) {
	return inst.factory.AcceptedEventsOf(s)
}

// Fire enqueues event and, when no fire loop is active on this instance,
// drives the queue until it drains. Events are fully serialized in enqueue
// order, including events enqueued by callbacks mid-run; a reentrant Fire
// from inside a callback only enqueues and returns immediately.
func (inst *Instance[S, E, R]) Fire(event E, args ...any) error {
	inst.enqueue(event, inst.storeArgs(args))
	if inst.running {
		return nil
	}
	return inst.drive()
}

// FireImmediately bypasses the queue discipline: when called inside an active
// fire loop, event and everything it enqueues run to completion before the
// interrupted loop resumes its remaining queued events. Outside a loop it
// behaves like Fire.
func (inst *Instance[S, E, R]) FireImmediately(event E, args ...any) error {
	if !inst.running {
		return inst.Fire(event, args...)
	}

	savedHead, savedTail := inst.head, inst.tail
	inst.head, inst.tail = slabNil, slabNil
	defer func() {
		// on error or panic the sub-run's unrun slots are released; the
		// interrupted loop's pending items are restored untouched
		inst.releaseQueue()
		inst.head, inst.tail = savedHead, savedTail
	}()

	inst.enqueue(event, inst.storeArgs(args))
	for inst.head != slabNil {
		ev, argsHead := inst.dequeue()
		if err := inst.run(ev, argsHead); err != nil {
			return err
		}
	}
	return nil
}

// Update runs the update-callback chain of the current state, ancestors
// before descendants. It never consults the transition machinery.
func (inst *Instance[S, E, R]) Update(args ...any) error {
	head := inst.storeArgs(args)
	defer func() {
		if head != slabNil {
			inst.args.RemoveFrom(head)
		}
	}()
	return inst.updateState(inst.current, argList{store: inst.args, head: head})
}

func (inst *Instance[S, E, R]) updateState(i int, args argList) error {
	st := &inst.factory.states[i]
	if st.parent != noParent {
		if err := inst.updateState(st.parent, args); err != nil {
			return err
		}
	}
	for _, cb := range inst.factory.stateCallbacks[st.updateStart : st.updateStart+st.updateLen] {
		if err := inst.invoke(cb, args); err != nil {
			return err
		}
	}
	return nil
}

func (inst *Instance[S, E, R]) drive() error {
	inst.running = true
	defer func() {
		inst.running = false
		// leftovers only exist when a callback errored or panicked
		inst.releaseQueue()
	}()
	for inst.head != slabNil {
		ev, argsHead := inst.dequeue()
		if err := inst.run(ev, argsHead); err != nil {
			return err
		}
	}
	return nil
}

// run executes one event against the current state: walk the flattened step
// program from the chain's start offset until a terminator.
func (inst *Instance[S, E, R]) run(event E, argsHead int) error {
	defer func() {
		if argsHead != slabNil {
			inst.args.RemoveFrom(argsHead)
		}
	}()

	f := inst.factory
	start, ok := f.starts[stateEvent[E]{state: inst.current, event: event}]
	if !ok {
		inst.logger.Warn("event not accepted machine=%s instance=%s state=%v event=%v",
			f.id, inst.id, inst.CurrentState(), event)
		return cloneError(ErrEventNotAccepted,
			fmt.Sprintf("state %v does not accept event %v", inst.CurrentState(), event),
			nil, inst.meta(map[string]any{"event": fmt.Sprint(event)}))
	}

	args := argList{store: inst.args, head: argsHead}
	i := start
	for {
		st := &f.steps[i]
		switch st.kind {
		case stepAction:
			if err := inst.invoke(st.action, args); err != nil {
				return err
			}
			i++
		case stepBranch:
			taken, err := inst.evaluate(st.guard, args)
			if err != nil {
				return err
			}
			if taken {
				i = st.branch
			} else {
				i++
			}
		case stepGoTo:
			from := inst.CurrentState()
			for _, cb := range f.stepCallbacks[st.exitStart : st.exitStart+st.exitLen] {
				if err := inst.invoke(cb, args); err != nil {
					return err
				}
			}
			// the state index commits between exit and entry; an entry
			// callback failure leaves the instance in the new state
			inst.current = st.dest
			for _, cb := range f.stepCallbacks[st.entryStart : st.entryStart+st.entryLen] {
				if err := inst.invoke(cb, args); err != nil {
					return err
				}
			}
			inst.logger.Debug("transition committed machine=%s instance=%s event=%v from=%v to=%v",
				f.id, inst.id, event, from, inst.CurrentState())
			return nil
		case stepStay:
			return nil
		}
	}
}

func (inst *Instance[S, E, R]) invoke(cb Callback[R], args argList) (err error) {
	if inst.capturePanics {
		defer func() {
			if r := recover(); r != nil {
				err = cloneError(ErrCallbackPanic,
					fmt.Sprintf("callback panic: %v", r), newPanicError(r), inst.meta(nil))
			}
		}()
	}
	return cb.invoke(inst.recipient, args)
}

func (inst *Instance[S, E, R]) evaluate(g Guard[R], args argList) (taken bool, err error) {
	if inst.capturePanics {
		defer func() {
			if r := recover(); r != nil {
				taken = false
				err = cloneError(ErrCallbackPanic,
					fmt.Sprintf("guard panic: %v", r), newPanicError(r), inst.meta(nil))
			}
		}()
	}
	return g.evaluate(inst.recipient, args), nil
}

func (inst *Instance[S, E, R]) storeArgs(args []any) int {
	head := slabNil
	prev := slabNil
	for _, a := range args {
		prev = inst.args.StoreLast(a, prev)
		if head == slabNil {
			head = prev
		}
	}
	return head
}

func (inst *Instance[S, E, R]) enqueue(event E, argsHead int) {
	idx := inst.events.StoreLast(pendingEvent[E]{event: event, args: argsHead}, inst.tail)
	if inst.head == slabNil {
		inst.head = idx
	}
	inst.tail = idx
}

func (inst *Instance[S, E, R]) dequeue() (E, int) {
	idx := inst.head
	pe := inst.events.Value(idx)
	inst.head = inst.events.Next(idx)
	if inst.head == slabNil {
		inst.tail = slabNil
	}
	inst.events.Remove(idx)
	return pe.event, pe.args
}

func (inst *Instance[S, E, R]) releaseQueue() {
	for inst.head != slabNil {
		_, argsHead := inst.dequeue()
		if argsHead != slabNil {
			inst.args.RemoveFrom(argsHead)
		}
	}
}

func (inst *Instance[S, E, R]) meta(extra map[string]any) map[string]any {
	m := map[string]any{
		"machine_id":  inst.factory.id,
		"instance_id": inst.id,
		"state":       fmt.Sprint(inst.CurrentState()),
	}
	for k, v := range extra {
		m[k] = v
	}
	return m
}
