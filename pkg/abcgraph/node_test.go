package abcgraph

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func n(name string) *Node {
	return &Node{name: name}
}

func names(nodes []*Node) []string {
	out := make([]string, len(nodes))
	for i, node := range nodes {
		out[i] = node.name
	}
	return out
}

func TestNode_AddParentOrder(t *testing.T) {
	child := n("c")
	a, b, mid := n("a"), n("b"), n("mid")

	child.AddParent(a)
	child.AddParent(b)
	child.AddParentAt(mid, 1)

	assert.Equal(t, []string{"a", "mid", "b"}, names(child.Parents()))
	assert.Equal(t, []string{"c"}, names(a.Children()))
	assert.Equal(t, []string{"c"}, names(mid.Children()))
}

func TestNode_AddParentAtPastEndAppends(t *testing.T) {
	child := n("c")
	child.AddParentAt(n("a"), 5)
	child.AddParentAt(n("b"), -1)
	assert.Equal(t, []string{"a", "b"}, names(child.Parents()))
}

func TestNode_RemoveParent(t *testing.T) {
	child := n("c")
	a, b := n("a"), n("b")
	child.AddParents([]*Node{a, b})

	index, err := child.RemoveParent(b)
	require.NoError(t, err)
	assert.Equal(t, 1, index)
	assert.Equal(t, []string{"a"}, names(child.Parents()))
	assert.Empty(t, b.Children())

	_, err = child.RemoveParent(b)
	assert.ErrorIs(t, err, ErrParentNotFound)
}

func TestNode_RemoveParentKeepsDuplicateEdge(t *testing.T) {
	child := n("c")
	a := n("a")
	child.AddParent(a)
	child.AddParent(a)

	index, err := child.RemoveParent(a)
	require.NoError(t, err)
	assert.Equal(t, 0, index)
	// One positional edge remains, so the back-reference survives.
	assert.Equal(t, []string{"a"}, names(child.Parents()))
	assert.Equal(t, []string{"c"}, names(a.Children()))
}

func TestNode_Remove(t *testing.T) {
	mid := n("mid")
	parent, child := n("p"), n("c")
	mid.AddParent(parent)
	child.AddParent(mid)

	mid.Remove(false, true)
	assert.Empty(t, mid.Parents())
	assert.Empty(t, parent.Children())
	assert.Equal(t, []string{"mid"}, names(child.Parents()))

	mid.Remove(true, false)
	assert.Empty(t, mid.Children())
	assert.Empty(t, child.Parents())
}

func TestNode_ReplaceByPreservesPosition(t *testing.T) {
	old := n("old")
	repl := n("new")
	parent := n("p")
	old.AddParent(parent)

	child := n("c")
	child.AddParents([]*Node{n("first"), old, n("last")})

	old.ReplaceBy(repl, true, true)

	assert.Equal(t, []string{"first", "new", "last"}, names(child.Parents()))
	assert.Equal(t, []string{"p"}, names(repl.Parents()))
	assert.Empty(t, old.Parents())
	assert.Empty(t, old.Children())
}

func TestNode_ReplaceByChildrenOnly(t *testing.T) {
	old := n("old")
	repl := n("new")
	parent := n("p")
	old.AddParent(parent)
	child := n("c")
	child.AddParent(old)

	old.ReplaceBy(repl, false, true)

	assert.Equal(t, []string{"new"}, names(child.Parents()))
	// The old node keeps its own parents.
	assert.Equal(t, []string{"p"}, names(old.Parents()))
	assert.Empty(t, repl.Parents())
}

func TestNode_Component(t *testing.T) {
	// p -> a -> c and p -> b, with d detached.
	p, a, b, c, d := n("p"), n("a"), n("b"), n("c"), n("d")
	a.AddParent(p)
	b.AddParent(p)
	c.AddParent(a)
	_ = d

	got := names(b.Component())
	sort.Strings(got)
	assert.Equal(t, []string{"a", "b", "c", "p"}, got)
	assert.Equal(t, []string{"d"}, names(d.Component()))
}

func TestNode_RootAndLeaf(t *testing.T) {
	p, c := n("p"), n("c")
	c.AddParent(p)

	assert.True(t, p.IsRoot())
	assert.False(t, p.IsLeaf())
	assert.False(t, c.IsRoot())
	assert.True(t, c.IsLeaf())
}
