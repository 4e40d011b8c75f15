package hsm

// callbackKind tags the calling convention of a registered callback so the
// runtime knows which stored function shape to invoke.
type callbackKind uint8

const (
	callbackNone callbackKind = iota
	callbackRecipient
	callbackParam
	callbackRecipientParam
)

// Callback is an entry, exit, update, or transition action. Exactly one of
// the stored function shapes is set, selected by the constructor used at
// registration time. Shapes that expect an extra argument are matched against
// the arguments supplied to the Fire/Update call by concrete type; when no
// supplied argument matches, the callback is skipped rather than failing.
type Callback[R any] struct {
	kind callbackKind
	fn0  func() error
	fnR  func(R) error
	fnP  func(any) (bool, error)
	fnRP func(R, any) (bool, error)
}

// Action wraps a no-argument action.
func Action[R any](fn func() error) Callback[R] {
	return Callback[R]{kind: callbackNone, fn0: fn}
}

// ActionWith wraps an action receiving the instance recipient.
func ActionWith[R any](fn func(R) error) Callback[R] {
	return Callback[R]{kind: callbackRecipient, fnR: fn}
}

// ActionArg wraps an action receiving one extra argument of type P, matched
// by type against the arguments passed to the triggering call.
func ActionArg[R, P any](fn func(P) error) Callback[R] {
	return Callback[R]{kind: callbackParam, fnP: func(v any) (bool, error) {
		p, ok := v.(P)
		if !ok {
			return false, nil
		}
		return true, fn(p)
	}}
}

// ActionWithArg wraps an action receiving the recipient and one extra
// argument of type P.
func ActionWithArg[R, P any](fn func(R, P) error) Callback[R] {
	return Callback[R]{kind: callbackRecipientParam, fnRP: func(r R, v any) (bool, error) {
		p, ok := v.(P)
		if !ok {
			return false, nil
		}
		return true, fn(r, p)
	}}
}

func (c Callback[R]) isZero() bool {
	return c.fn0 == nil && c.fnR == nil && c.fnP == nil && c.fnRP == nil
}

// invoke runs the callback against the recipient and the call's argument
// chain. Param shapes try arguments in order; the first type match wins.
func (c Callback[R]) invoke(r R, args argList) error {
	switch c.kind {
	case callbackNone:
		if c.fn0 == nil {
			return nil
		}
		return c.fn0()
	case callbackRecipient:
		if c.fnR == nil {
			return nil
		}
		return c.fnR(r)
	case callbackParam:
		if c.fnP == nil {
			return nil
		}
		var err error
		args.each(func(v any) bool {
			var matched bool
			matched, err = c.fnP(v)
			return matched
		})
		return err
	case callbackRecipientParam:
		if c.fnRP == nil {
			return nil
		}
		var err error
		args.each(func(v any) bool {
			var matched bool
			matched, err = c.fnRP(r, v)
			return matched
		})
		return err
	}
	return nil
}

// Guard is a transition branch predicate. It mirrors the Callback shapes with
// boolean results. A param-shaped guard whose argument type is absent from
// the call evaluates to false, so the branch falls through.
type Guard[R any] struct {
	kind callbackKind
	fn0  func() bool
	fnR  func(R) bool
	fnP  func(any) (bool, bool)
	fnRP func(R, any) (bool, bool)
}

// Check wraps a no-argument predicate.
func Check[R any](fn func() bool) Guard[R] {
	return Guard[R]{kind: callbackNone, fn0: fn}
}

// CheckWith wraps a predicate receiving the instance recipient.
func CheckWith[R any](fn func(R) bool) Guard[R] {
	return Guard[R]{kind: callbackRecipient, fnR: fn}
}

// CheckArg wraps a predicate receiving one extra argument of type P.
func CheckArg[R, P any](fn func(P) bool) Guard[R] {
	return Guard[R]{kind: callbackParam, fnP: func(v any) (bool, bool) {
		p, ok := v.(P)
		if !ok {
			return false, false
		}
		return true, fn(p)
	}}
}

// CheckWithArg wraps a predicate receiving the recipient and one extra
// argument of type P.
func CheckWithArg[R, P any](fn func(R, P) bool) Guard[R] {
	return Guard[R]{kind: callbackRecipientParam, fnRP: func(r R, v any) (bool, bool) {
		p, ok := v.(P)
		if !ok {
			return false, false
		}
		return true, fn(r, p)
	}}
}

func (g Guard[R]) isZero() bool {
	return g.fn0 == nil && g.fnR == nil && g.fnP == nil && g.fnRP == nil
}

func (g Guard[R]) evaluate(r R, args argList) bool {
	switch g.kind {
	case callbackNone:
		return g.fn0 != nil && g.fn0()
	case callbackRecipient:
		return g.fnR != nil && g.fnR(r)
	case callbackParam:
		if g.fnP == nil {
			return false
		}
		result := false
		args.each(func(v any) bool {
			matched, out := g.fnP(v)
			if matched {
				result = out
			}
			return matched
		})
		return result
	case callbackRecipientParam:
		if g.fnRP == nil {
			return false
		}
		result := false
		args.each(func(v any) bool {
			matched, out := g.fnRP(r, v)
			if matched {
				result = out
			}
			return matched
		})
		return result
	}
	return false
}

// argList walks one argument chain threaded through the instance arg slab.
type argList struct {
	store *slab[any]
	head  int
}

// each visits arguments in call order until fn reports a match.
func (a argList) each(fn func(any) bool) {
	if a.store == nil {
		return
	}
	for i := a.head; i != slabNil; i = a.store.Next(i) {
		if fn(a.store.Value(i)) {
			return
		}
	}
}
