package abcgraph

import "fmt"

// Node is a named vertex of the model graph. Parents are ordered (the
// position is the argument position into the node's operation); children
// are back-references only. Edge symmetry is maintained by every
// structural operation: p is a parent of c exactly when c is a child
// of p.
type Node struct {
	name     string
	parents  []*Node
	children []*Node

	// op points back to the owning operation when this node produces
	// data. Structural code treats it as opaque.
	op *Operation
}

// Name returns the node's globally meaningful name.
func (n *Node) Name() string { return n.name }

// Parents returns the ordered parent list as a copy.
func (n *Node) Parents() []*Node {
	out := make([]*Node, len(n.parents))
	copy(out, n.parents)
	return out
}

// Children returns the child set as a copy.
func (n *Node) Children() []*Node {
	out := make([]*Node, len(n.children))
	copy(out, n.children)
	return out
}

// IsRoot reports whether the node has no parents.
func (n *Node) IsRoot() bool { return len(n.parents) == 0 }

// IsLeaf reports whether the node has no children.
func (n *Node) IsLeaf() bool { return len(n.children) == 0 }

// GraphNode returns the node itself. It exists so operation types that
// embed Node can be passed where a *Node is required.
func (n *Node) GraphNode() *Node { return n }

// Op returns the operation producing this node's output, if any.
func (n *Node) Op() *Operation { return n.op }

// AddParent appends p to the parent list and registers n as p's child.
func (n *Node) AddParent(p *Node) {
	n.AddParentAt(p, len(n.parents))
}

// AddParentAt inserts p at the given position in the parent list and
// registers n as p's child. Positions past the end append.
func (n *Node) AddParentAt(p *Node, index int) {
	if index < 0 || index > len(n.parents) {
		index = len(n.parents)
	}
	n.parents = append(n.parents, nil)
	copy(n.parents[index+1:], n.parents[index:])
	n.parents[index] = p
	p.addChild(n)
}

// AddParents appends each parent in order.
func (n *Node) AddParents(parents []*Node) {
	for _, p := range parents {
		n.AddParent(p)
	}
}

// AddChild registers c as a child and n as one of c's parents.
func (n *Node) AddChild(c *Node) {
	c.AddParent(n)
}

func (n *Node) addChild(c *Node) {
	for _, existing := range n.children {
		if existing == c {
			return
		}
	}
	n.children = append(n.children, c)
}

func (n *Node) dropChild(c *Node) {
	for i, existing := range n.children {
		if existing == c {
			n.children = append(n.children[:i], n.children[i+1:]...)
			return
		}
	}
}

// RemoveParent detaches p from the parent list and returns the position
// it held. Returns ErrParentNotFound if p is not a parent.
func (n *Node) RemoveParent(p *Node) (int, error) {
	for i, existing := range n.parents {
		if existing == p {
			return i, n.RemoveParentAt(i)
		}
	}
	return 0, fmt.Errorf("remove parent %q of %q: %w", p.name, n.name, ErrParentNotFound)
}

// RemoveParentAt detaches the parent at the given position. The child
// back-reference is dropped only if this was the last edge to that
// parent.
func (n *Node) RemoveParentAt(index int) error {
	if index < 0 || index >= len(n.parents) {
		return fmt.Errorf("remove parent %d of %q with %d parents: %w",
			index, n.name, len(n.parents), ErrParentNotFound)
	}
	p := n.parents[index]
	n.parents = append(n.parents[:index], n.parents[index+1:]...)
	for _, remaining := range n.parents {
		if remaining == p {
			return nil
		}
	}
	p.dropChild(n)
	return nil
}

// Remove detaches the node from the graph. Parent edges survive when
// keepParents is set; likewise for children.
func (n *Node) Remove(keepParents, keepChildren bool) {
	if !keepParents {
		for len(n.parents) > 0 {
			_ = n.RemoveParentAt(0)
		}
	}
	if !keepChildren {
		for _, c := range n.Children() {
			for {
				if _, err := c.RemoveParent(n); err != nil {
					break
				}
			}
		}
	}
}

// ReplaceBy hands this node's edges over to other. Transferred child
// edges keep their original position in each child's parent list, so
// argument order downstream is preserved. Used to swap a new prior into
// a model mid-algorithm without rewiring its consumers.
func (n *Node) ReplaceBy(other *Node, transferParents, transferChildren bool) {
	if transferParents {
		parents := n.Parents()
		for len(n.parents) > 0 {
			_ = n.RemoveParentAt(0)
		}
		other.AddParents(parents)
	}
	if transferChildren {
		for _, c := range n.Children() {
			for {
				index, err := c.RemoveParent(n)
				if err != nil {
					break
				}
				c.AddParentAt(other, index)
			}
		}
	}
}

// Component returns every node reachable from n over the undirected
// neighbor relation (parents and children), deduplicated by name.
func (n *Node) Component() []*Node {
	seen := map[string]bool{}
	var out []*Node
	var visit func(*Node)
	visit = func(cur *Node) {
		if seen[cur.name] {
			return
		}
		seen[cur.name] = true
		out = append(out, cur)
		for _, p := range cur.parents {
			visit(p)
		}
		for _, c := range cur.children {
			visit(c)
		}
	}
	visit(n)
	return out
}
