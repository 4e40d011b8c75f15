package graph

import (
	"strings"
	"testing"

	hsm "github.com/goliatone/go-hsm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type device struct{}

func buildFactory(t *testing.T) *hsm.Factory[string, string, *device] {
	t.Helper()

	b := hsm.NewBuilder[string, string, *device]().
		ID("doorway").
		Initial("idle")

	b.State("idle").
		On("open").GoTo("opening")

	b.State("active")

	b.State("opening").
		SubstateOf("active").
		On("done").GoTo("open")

	b.State("open").
		SubstateOf("active").
		On("close").GoTo("idle").
		On("ping").Stay()

	f, err := b.Finalize()
	require.NoError(t, err)
	return f
}

func TestMermaidRendersClustersAndEdges(t *testing.T) {
	f := buildFactory(t)

	out := Mermaid[string, string](f, LeftToRight)

	assert.True(t, strings.HasPrefix(out, "stateDiagram-v2\n"))
	assert.Contains(t, out, "direction LR")
	assert.Contains(t, out, "state active {")
	assert.Contains(t, out, "opening")
	assert.Contains(t, out, "[*] --> idle")
	assert.Contains(t, out, "idle --> opening : open")
	assert.Contains(t, out, "opening --> open : done")
	assert.Contains(t, out, "open --> idle : close")
	assert.Contains(t, out, "open --> open : ping (internal)")
}

func TestDOTRendersClustersAndEdges(t *testing.T) {
	f := buildFactory(t)

	out := DOT[string, string](f)

	assert.True(t, strings.HasPrefix(out, "digraph \"doorway\" {"))
	assert.Contains(t, out, "subgraph cluster_active {")
	assert.Contains(t, out, "__start -> idle;")
	assert.Contains(t, out, "idle -> opening [label=\"open\"];")
	assert.Contains(t, out, "open -> idle [label=\"close\"];")
}

func TestSanitizedAliases(t *testing.T) {
	b := hsm.NewBuilder[string, string, *device]().
		Initial("waiting room")

	b.State("waiting room").
		On("go").GoTo("in-flight")
	b.State("in-flight").
		On("land").GoTo("waiting room")

	f, err := b.Finalize()
	require.NoError(t, err)

	out := Mermaid[string, string](f, TopToBottom)
	assert.Contains(t, out, "waitingroom : waiting room")
	assert.Contains(t, out, "inflight : in-flight")
	assert.Contains(t, out, "waitingroom --> inflight : go")
}
