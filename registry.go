package hsm

import (
	"fmt"
	"strings"
)

// GuardRegistry stores named guards so declarative machine documents can
// reference them.
type GuardRegistry[R any] struct {
	guards map[string]Guard[R]
}

// NewGuardRegistry creates an empty registry.
func NewGuardRegistry[R any]() *GuardRegistry[R] {
	return &GuardRegistry[R]{guards: make(map[string]Guard[R])}
}

// Register stores a guard by name.
func (g *GuardRegistry[R]) Register(name string, guard Guard[R]) error {
	name = strings.TrimSpace(name)
	if name == "" || guard.isZero() {
		return nil
	}
	if _, exists := g.guards[name]; exists {
		return fmt.Errorf("guard %s already registered", name)
	}
	g.guards[name] = guard
	return nil
}

// Lookup retrieves a guard by name.
func (g *GuardRegistry[R]) Lookup(name string) (Guard[R], bool) {
	if g == nil {
		return Guard[R]{}, false
	}
	guard, ok := g.guards[name]
	return guard, ok
}

// ActionRegistry stores named callbacks referenced by machine documents.
type ActionRegistry[R any] struct {
	actions map[string]Callback[R]
}

// NewActionRegistry creates an empty registry.
func NewActionRegistry[R any]() *ActionRegistry[R] {
	return &ActionRegistry[R]{actions: make(map[string]Callback[R])}
}

// Register stores a callback by name.
func (a *ActionRegistry[R]) Register(name string, cb Callback[R]) error {
	name = strings.TrimSpace(name)
	if name == "" || cb.isZero() {
		return nil
	}
	if _, exists := a.actions[name]; exists {
		return fmt.Errorf("action %s already registered", name)
	}
	a.actions[name] = cb
	return nil
}

// Lookup retrieves a callback by name.
func (a *ActionRegistry[R]) Lookup(name string) (Callback[R], bool) {
	if a == nil {
		return Callback[R]{}, false
	}
	cb, ok := a.actions[name]
	return cb, ok
}
