package hsm

import (
	"fmt"
	"strings"
)

// Policy selects which entry or exit callbacks run along the state hierarchy
// when a transition crosses it. Culled variants omit the lowest common
// ancestor of source and destination and everything above it, so transitions
// inside a subtree do not disturb still-active ancestor setup. Inclusive
// variants include the common ancestor itself exactly once.
type Policy uint8

const (
	// PolicyDefault resolves per side: ParentFirstCulled for entry
	// sequences, ChildFirstCulled for exit sequences.
	PolicyDefault Policy = iota
	PolicyIgnore
	PolicyParentFirst
	PolicyChildFirst
	PolicyParentFirstCulled
	PolicyChildFirstCulled
	PolicyParentFirstCulledInclusive
	PolicyChildFirstCulledInclusive
)

func (p Policy) String() string {
	switch p {
	case PolicyDefault:
		return "default"
	case PolicyIgnore:
		return "ignore"
	case PolicyParentFirst:
		return "parent_first"
	case PolicyChildFirst:
		return "child_first"
	case PolicyParentFirstCulled:
		return "parent_first_culled"
	case PolicyChildFirstCulled:
		return "child_first_culled"
	case PolicyParentFirstCulledInclusive:
		return "parent_first_culled_inclusive"
	case PolicyChildFirstCulledInclusive:
		return "child_first_culled_inclusive"
	}
	return fmt.Sprintf("policy(%d)", uint8(p))
}

// ParsePolicy maps a document-level policy name onto a Policy value.
func ParsePolicy(name string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "default":
		return PolicyDefault, nil
	case "ignore":
		return PolicyIgnore, nil
	case "parent_first":
		return PolicyParentFirst, nil
	case "child_first":
		return PolicyChildFirst, nil
	case "parent_first_culled":
		return PolicyParentFirstCulled, nil
	case "child_first_culled":
		return PolicyChildFirstCulled, nil
	case "parent_first_culled_inclusive":
		return PolicyParentFirstCulledInclusive, nil
	case "child_first_culled_inclusive":
		return PolicyChildFirstCulledInclusive, nil
	}
	return PolicyDefault, cloneError(ErrConfiguration, fmt.Sprintf("unknown policy %q", name), nil, nil)
}

func (p Policy) forEntry() Policy {
	if p == PolicyDefault {
		return PolicyParentFirstCulled
	}
	return p
}

func (p Policy) forExit() Policy {
	if p == PolicyDefault {
		return PolicyChildFirstCulled
	}
	return p
}

func (p Policy) parentFirst() bool {
	switch p {
	case PolicyParentFirst, PolicyParentFirstCulled, PolicyParentFirstCulledInclusive:
		return true
	}
	return false
}

func (p Policy) culled() bool {
	switch p {
	case PolicyParentFirstCulled, PolicyChildFirstCulled,
		PolicyParentFirstCulledInclusive, PolicyChildFirstCulledInclusive:
		return true
	}
	return false
}

func (p Policy) inclusive() bool {
	return p == PolicyParentFirstCulledInclusive || p == PolicyChildFirstCulledInclusive
}

// chainLeafFirst returns state's ancestor chain including state itself,
// ordered leaf to root.
func chainLeafFirst(parents []int, state int) []int {
	var chain []int
	for s := state; s != noParent; s = parents[s] {
		chain = append(chain, s)
	}
	return chain
}

// lowestCommonAncestor walks src's chain leaf-upward and compares each
// candidate against dst's chain by repeated parent traversal. For a
// self-transition the common ancestor is the state's parent, so the state's
// own exit and entry still run. Quadratic in depth, which is fine for the
// shallow hierarchies this targets.
func lowestCommonAncestor(parents []int, src, dst int) int {
	if src == dst {
		return parents[src]
	}
	for cand := src; cand != noParent; cand = parents[cand] {
		for probe := dst; probe != noParent; probe = parents[probe] {
			if probe == cand {
				return cand
			}
		}
	}
	return noParent
}

// sequenceFor produces the ordered state indexes whose callbacks run on one
// side of a transition: the source state's chain for exits, the destination
// state's chain for entries.
func sequenceFor(parents []int, relevant, src, dst int, p Policy) []int {
	if p == PolicyIgnore {
		return nil
	}
	chain := chainLeafFirst(parents, relevant)
	if p.culled() {
		lca := lowestCommonAncestor(parents, src, dst)
		chain = truncateAtAncestor(chain, lca, p.inclusive())
	}
	if p.parentFirst() {
		reverseInts(chain)
	}
	return chain
}

func exitSequence(parents []int, src, dst int, p Policy) []int {
	return sequenceFor(parents, src, src, dst, p.forExit())
}

func entrySequence(parents []int, src, dst int, p Policy) []int {
	return sequenceFor(parents, dst, src, dst, p.forEntry())
}

// initialEntrySequence resolves the entry chain run when an instance is
// created. There is no source state, so culling degenerates to the plain
// ordering strategies.
func initialEntrySequence(parents []int, initial int, p Policy) []int {
	switch p {
	case PolicyDefault, PolicyIgnore:
		return nil
	}
	chain := chainLeafFirst(parents, initial)
	if p.parentFirst() {
		reverseInts(chain)
	}
	return chain
}

// truncateAtAncestor cuts a leaf-first chain at the given ancestor: the
// ancestor and everything above it are dropped, unless inclusive, in which
// case the ancestor itself stays.
func truncateAtAncestor(chain []int, ancestor int, inclusive bool) []int {
	if ancestor == noParent {
		return chain
	}
	for i, s := range chain {
		if s != ancestor {
			continue
		}
		if inclusive {
			return chain[:i+1]
		}
		return chain[:i]
	}
	return chain
}

func reverseInts(s []int) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
