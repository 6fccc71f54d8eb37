package skeleton

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"github.com/xlab/treeprint"
)

type DebugOptions[K any] struct {
	FullLocators bool
	// how keys are shown; fmt's %v if nil
	FormatKey func(K) string
	// only the first MaxKeys keys of each node are listed; 0 for all
	MaxKeys int
}

// DebugTree renders the resident part of t. Ghosts are shown by locator and never fetched.
func DebugTree[K, V any](t *BTreeMap[K, V], opts DebugOptions[K]) treeprint.Tree {
	if loc, ok := t.Root(); ok {
		return treeprint.NewWithRoot(displayLocator(loc, false, opts) + fmt.Sprintf(" size=%d", t.Size()))
	}
	root, _ := t.root.Value()
	tree := treeprint.NewWithRoot(displayNode(root, opts))
	walkNode(root, tree, opts)
	return tree
}

func walkNode[K, V any](n *Node[K, V], tree treeprint.Tree, opts DebugOptions[K]) {
	keys := n.entries.Len()
	shown := keys
	if opts.MaxKeys > 0 && shown > opts.MaxKeys {
		shown = opts.MaxKeys
	}
	for i := 0; i <= keys; i++ {
		if !n.IsLeaf() {
			cell := &n.children[i]
			if c, ok := cell.Value(); ok {
				walkNode(c, tree.AddBranch(displayNode(c, opts)), opts)
			} else {
				tree.AddNode(displayLocator(cell.Locator(), false, opts) + fmt.Sprintf(" size=%d", n.sizes[i]))
			}
		}
		if i < shown {
			e := n.entries.at(i)
			label := formatKey(e.key, opts)
			if e.cell.IsGhost() {
				label += " " + displayLocator(e.cell.Locator(), false, opts)
			}
			tree.AddNode(label)
		} else if i == shown && shown < keys {
			tree.AddNode(fmt.Sprintf("… %d more keys", keys-shown))
		}
	}
}

func formatKey[K any](k K, opts DebugOptions[K]) string {
	if opts.FormatKey != nil {
		return opts.FormatKey(k)
	}
	return fmt.Sprintf("%v", k)
}

func displayNode[K, V any](n *Node[K, V], opts DebugOptions[K]) string {
	state := "dirty"
	if n.clean() {
		state = displayLocator(n.loc, true, opts)
	}
	return fmt.Sprintf("%s keys=%d size=%d", state, n.entries.Len(), n.size)
}

func displayLocator[K any](loc archive.Locator, loaded bool, opts DebugOptions[K]) string {
	s := loc.String()
	if !opts.FullLocators && len(s) > 7 {
		s = "…" + s[len(s)-7:]
	}
	connector := "─◌"
	if loaded {
		connector = "─◉"
	}
	return "[" + s + "]" + connector
}

// Height returns the number of levels down to the leftmost resident leaf, or 0 if the root is a ghost.
func (t *BTreeMap[K, V]) Height() int {
	n, ok := t.root.Value()
	if !ok {
		return 0
	}
	h := 1
	for !n.IsLeaf() {
		c, ok := n.child(0)
		if !ok {
			return h
		}
		n = c
		h++
	}
	return h
}

// Verify checks the structure of the resident part of t: key order, node fill and recorded sizes. Ghost subtrees are taken on trust.
func (t *BTreeMap[K, V]) Verify() error {
	n, ok := t.root.Value()
	if !ok {
		return nil
	}
	_, err := t.verifyNode(n, true, nil, nil, 0, -1)
	return err
}

func (t *BTreeMap[K, V]) verifyNode(n *Node[K, V], isRoot bool, lo, hi *K, depth int, leafDepth int) (int, error) {
	m := t.schema.NodeMin
	keys := n.entries.Len()
	if keys > 2*m-1 {
		return leafDepth, fmt.Errorf("node at depth %d has %d keys, more than %d", depth, keys, 2*m-1)
	}
	if !isRoot && keys < m-1 {
		return leafDepth, fmt.Errorf("node at depth %d has %d keys, fewer than %d", depth, keys, m-1)
	}
	for i := 0; i < keys; i++ {
		k := n.entries.keyAt(i)
		if i > 0 && t.schema.Compare(n.entries.keyAt(i-1), k) >= 0 {
			return leafDepth, fmt.Errorf("keys out of order at depth %d", depth)
		}
		if lo != nil && t.schema.Compare(*lo, k) >= 0 {
			return leafDepth, fmt.Errorf("key %v not above its lower bound", k)
		}
		if hi != nil && t.schema.Compare(k, *hi) >= 0 {
			return leafDepth, fmt.Errorf("key %v not below its upper bound", k)
		}
	}
	if n.IsLeaf() {
		if leafDepth >= 0 && leafDepth != depth {
			return leafDepth, fmt.Errorf("leaves at depths %d and %d", leafDepth, depth)
		}
		if n.size != keys {
			return depth, fmt.Errorf("leaf records size %d but holds %d keys", n.size, keys)
		}
		return depth, nil
	}
	if len(n.children) != keys+1 || len(n.sizes) != keys+1 {
		return leafDepth, fmt.Errorf("node with %d keys has %d children", keys, len(n.children))
	}
	total := keys
	for i := range n.children {
		total += n.childSize(i)
		c, ok := n.child(i)
		if !ok {
			continue
		}
		var clo, chi *K
		if i > 0 {
			k := n.entries.keyAt(i - 1)
			clo = &k
		} else {
			clo = lo
		}
		if i < keys {
			k := n.entries.keyAt(i)
			chi = &k
		} else {
			chi = hi
		}
		var err error
		if leafDepth, err = t.verifyNode(c, false, clo, chi, depth+1, leafDepth); err != nil {
			return leafDepth, err
		}
	}
	if total != n.size {
		return leafDepth, fmt.Errorf("node records size %d but holds %d keys", n.size, total)
	}
	return leafDepth, nil
}
