package skeleton

import (
	"fmt"
	"slices"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// Node is one B-tree node. Children are cells, so any subtree may be a ghost.
//
// A node is clean when it is known to be archived unchanged under loc. Nodes created or copied by an update are dirty until the next deflate pushes them.
type Node[K, V any] struct {
	schema *Schema[K, V]

	entries  *TreeMap[K, V]
	children []Cell[*Node[K, V]]
	// subtree size of each child, kept for ghosts too
	sizes []int
	size  int

	loc archive.Locator
	id  archive.ObjectID
}

func newNode[K, V any](s *Schema[K, V]) *Node[K, V] {
	return &Node[K, V]{
		schema:  s,
		entries: NewTreeMap(s.Compare, s.Packed),
		id:      archive.NewObjectID(),
	}
}

func (n *Node[K, V]) IsLeaf() bool {
	return len(n.children) == 0
}

// Keys returns the keys held in this node itself.
func (n *Node[K, V]) Keys() []K {
	return n.entries.Keys()
}

func (n *Node[K, V]) Len() int {
	return n.entries.Len()
}

// Size is the number of keys in the subtree rooted here.
func (n *Node[K, V]) Size() int {
	return n.size
}

func (n *Node[K, V]) Locator() archive.Locator {
	return n.loc
}

func (n *Node[K, V]) clean() bool {
	return n.loc.Defined()
}

func (n *Node[K, V]) full() bool {
	return n.entries.Len() >= 2*n.schema.NodeMin-1
}

// child returns child i if it is loaded.
func (n *Node[K, V]) child(i int) (*Node[K, V], bool) {
	return n.children[i].Value()
}

// clone makes a dirty copy sharing the children.
func (n *Node[K, V]) clone() *Node[K, V] {
	return &Node[K, V]{
		schema:   n.schema,
		entries:  n.entries.clone(),
		children: slices.Clone(n.children),
		sizes:    slices.Clone(n.sizes),
		size:     n.size,
		id:       archive.NewObjectID(),
	}
}

func (n *Node[K, V]) childSize(i int) int {
	if c, ok := n.child(i); ok {
		return c.size
	}
	return n.sizes[i]
}

// recount recomputes the size of n from its entries and children.
func (n *Node[K, V]) recount() {
	total := n.entries.Len()
	for i := range n.children {
		s := n.childSize(i)
		n.sizes[i] = s
		total += s
	}
	n.size = total
}

func (n *Node[K, V]) insertChild(i int, c Cell[*Node[K, V]], size int) {
	n.children = slices.Insert(n.children, i, c)
	n.sizes = slices.Insert(n.sizes, i, size)
}

func (n *Node[K, V]) removeChild(i int) Cell[*Node[K, V]] {
	c := n.children[i]
	n.children = slices.Delete(n.children, i, i+1)
	n.sizes = slices.Delete(n.sizes, i, i+1)
	return c
}

// installChild replaces the ghost child archived at loc with c, which must already carry loc. Returns false if no such ghost is left.
func (n *Node[K, V]) installChild(loc archive.Locator, c *Node[K, V]) bool {
	for i := range n.children {
		cell := &n.children[i]
		if cell.IsGhost() && cell.Locator().Equals(loc) {
			cell.Set(c)
			return true
		}
	}
	return false
}

func (n *Node[K, V]) String() string {
	state := "dirty"
	if n.clean() {
		state = n.loc.String()
	}
	return fmt.Sprintf("node(%d keys, %d children, size %d, %s)", n.entries.Len(), len(n.children), n.size, state)
}
