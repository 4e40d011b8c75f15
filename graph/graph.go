// Package graph renders compiled machines as Mermaid state diagrams or
// Graphviz DOT documents. It consumes only the factory's introspection
// surface, so any recipient type works.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	hsm "github.com/goliatone/go-hsm"
)

// Machine is the read-only view a factory exposes for rendering.
type Machine[S, E comparable] interface {
	ID() string
	InitialState() S
	States() []S
	ParentOf(s S) (S, bool, error)
	Transitions() []hsm.TransitionInfo[S, E]
}

// Direction specifies the flow direction of a Mermaid diagram.
type Direction int

const (
	TopToBottom Direction = iota
	BottomToTop
	LeftToRight
	RightToLeft
)

func (d Direction) code() string {
	switch d {
	case BottomToTop:
		return "BT"
	case LeftToRight:
		return "LR"
	case RightToLeft:
		return "RL"
	default:
		return "TB"
	}
}

type node struct {
	name     string
	alias    string
	children []*node
}

type edge struct {
	from, to, label string
}

type model struct {
	roots []*node
	edges []edge
	init  string
}

// Mermaid renders m as a Mermaid stateDiagram-v2 document.
func Mermaid[S, E comparable](m Machine[S, E], dir Direction) string {
	g := buildModel(m)

	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	sb.WriteString(fmt.Sprintf("\tdirection %s\n", dir.code()))

	var walkAliases func(nodes []*node)
	walkAliases = func(nodes []*node) {
		for _, n := range nodes {
			if n.alias != n.name {
				sb.WriteString(fmt.Sprintf("\t%s : %s\n", n.alias, n.name))
			}
			walkAliases(n.children)
		}
	}
	walkAliases(g.roots)

	var walkClusters func(nodes []*node, indent string)
	walkClusters = func(nodes []*node, indent string) {
		for _, n := range nodes {
			if len(n.children) == 0 {
				continue
			}
			sb.WriteString(fmt.Sprintf("%sstate %s {\n", indent, n.alias))
			for _, child := range n.children {
				if len(child.children) == 0 {
					sb.WriteString(fmt.Sprintf("%s\t%s\n", indent, child.alias))
				}
			}
			walkClusters(n.children, indent+"\t")
			sb.WriteString(indent + "}\n")
		}
	}
	walkClusters(g.roots, "\t")

	sb.WriteString(fmt.Sprintf("\t[*] --> %s\n", g.init))
	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("\t%s --> %s : %s\n", e.from, e.to, e.label))
	}
	return sb.String()
}

// DOT renders m as a Graphviz digraph. Superstates become clusters.
func DOT[S, E comparable](m Machine[S, E]) string {
	g := buildModel(m)

	var sb strings.Builder
	name := m.ID()
	if name == "" {
		name = "machine"
	}
	sb.WriteString(fmt.Sprintf("digraph %q {\n", name))
	sb.WriteString("\tcompound=true;\n")
	sb.WriteString("\tnode [shape=box, style=rounded];\n")
	sb.WriteString("\t__start [shape=point];\n")

	var walk func(nodes []*node, indent string)
	walk = func(nodes []*node, indent string) {
		for _, n := range nodes {
			if len(n.children) == 0 {
				sb.WriteString(fmt.Sprintf("%s%s [label=%q];\n", indent, n.alias, n.name))
				continue
			}
			sb.WriteString(fmt.Sprintf("%ssubgraph cluster_%s {\n", indent, n.alias))
			sb.WriteString(fmt.Sprintf("%s\tlabel=%q;\n", indent, n.name))
			sb.WriteString(fmt.Sprintf("%s\t%s [label=%q];\n", indent, n.alias, n.name))
			walk(n.children, indent+"\t")
			sb.WriteString(indent + "}\n")
		}
	}
	walk(g.roots, "\t")

	sb.WriteString(fmt.Sprintf("\t__start -> %s;\n", g.init))
	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("\t%s -> %s [label=%q];\n", e.from, e.to, e.label))
	}
	sb.WriteString("}\n")
	return sb.String()
}

func buildModel[S, E comparable](m Machine[S, E]) *model {
	states := m.States()
	nodes := make(map[S]*node, len(states))
	taken := make(map[string]bool, len(states))

	for _, s := range states {
		name := fmt.Sprintf("%v", s)
		alias := sanitize(name)
		if taken[alias] {
			for i := 1; ; i++ {
				candidate := fmt.Sprintf("%s_%d", alias, i)
				if !taken[candidate] {
					alias = candidate
					break
				}
			}
		}
		taken[alias] = true
		nodes[s] = &node{name: name, alias: alias}
	}

	g := &model{}
	for _, s := range states {
		parent, ok, err := m.ParentOf(s)
		if err == nil && ok {
			if p := nodes[parent]; p != nil {
				p.children = append(p.children, nodes[s])
				continue
			}
		}
		g.roots = append(g.roots, nodes[s])
	}

	g.init = nodes[m.InitialState()].alias

	for _, tr := range m.Transitions() {
		from := nodes[tr.From]
		label := fmt.Sprintf("%v", tr.Event)
		for _, target := range tr.Targets {
			g.edges = append(g.edges, edge{from: from.alias, to: nodes[target].alias, label: label})
		}
		if tr.CanStay && len(tr.Targets) == 0 {
			g.edges = append(g.edges, edge{from: from.alias, to: from.alias, label: label + " (internal)"})
		}
	}
	sort.SliceStable(g.edges, func(i, j int) bool {
		if g.edges[i].from != g.edges[j].from {
			return g.edges[i].from < g.edges[j].from
		}
		return g.edges[i].to < g.edges[j].to
	})
	return g
}

// sanitize removes characters that would break node identifiers.
func sanitize(name string) string {
	var out strings.Builder
	for _, c := range name {
		switch {
		case unicode.IsLetter(c), unicode.IsDigit(c), c == '_':
			out.WriteRune(c)
		case unicode.IsSpace(c), c == ':', c == '-':
			// dropped
		default:
			out.WriteRune('_')
		}
	}
	if out.Len() == 0 {
		return "_"
	}
	return out.String()
}
