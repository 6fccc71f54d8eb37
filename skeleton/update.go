package skeleton

import (
	"context"
	"slices"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// Update applies a batch of removals and insertions. Removals are applied first, so a key named in both ends up with its new value.
//
// Only the subtrees the keys fall into are fetched (in parallel, ahead of the changes), and only nodes on their paths are copied and later pushed by Deflate. Nodes are copied before being changed, so if anything fails the tree is left exactly as it was.
func (t *BTreeMap[K, V]) Update(ctx context.Context, puts []KV[K, V], removes []K) error {
	if len(puts) == 0 && len(removes) == 0 {
		return nil
	}
	root, err := t.loadRoot(ctx)
	if err != nil {
		return err
	}
	if err := t.preload(ctx, root, puts, removes); err != nil {
		return err
	}

	u := &updater[K, V]{t: t, ctx: ctx, fresh: make(map[*Node[K, V]]struct{})}
	r := u.own(root)
	for _, k := range removes {
		if r, err = u.remove(r, k); err != nil {
			return err
		}
	}
	for _, kv := range puts {
		if r, err = u.insert(r, kv.Key, kv.Value); err != nil {
			return err
		}
	}
	u.fixSizes(r)
	t.root.Set(r)
	return nil
}

type touch[K any] struct {
	key    K
	remove bool
}

type preloadSlot[K, V any] struct {
	parent  *Node[K, V]
	loc     archive.Locator
	touches []touch[K]
	node    *Node[K, V]
}

// preload fetches the ghost nodes an update is going to need, pipelined through an ObjectProcessor: each node is visited as soon as it arrives, which queues its own children.
func (t *BTreeMap[K, V]) preload(ctx context.Context, root *Node[K, V], puts []KV[K, V], removes []K) error {
	touches := make([]touch[K], 0, len(puts)+len(removes))
	for _, k := range removes {
		touches = append(touches, touch[K]{key: k, remove: true})
	}
	for _, kv := range puts {
		touches = append(touches, touch[K]{key: kv.Key})
	}
	slices.SortStableFunc(touches, func(a, b touch[K]) int {
		return t.schema.Compare(a.key, b.key)
	})

	proc := archive.NewObjectProcessor[*preloadSlot[K, V], struct{}](ctx, "btree-preload", t.MaxConcurrency,
		func(ctx context.Context, s *preloadSlot[K, V]) error {
			n, err := t.pullNode(ctx, s.loc)
			s.node = n
			return err
		})

	outstanding := 0
	var visit func(n *Node[K, V], ts []touch[K]) error
	visit = func(n *Node[K, V], ts []touch[K]) error {
		if n.IsLeaf() || len(ts) == 0 {
			return nil
		}
		groups := make(map[int][]touch[K])
		need := make(map[int]bool)
		for _, tc := range ts {
			i, found := n.entries.search(tc.key)
			if found {
				if tc.remove {
					// predecessor or successor comes from one of these
					need[i] = true
					need[i+1] = true
				}
				continue
			}
			groups[i] = append(groups[i], tc)
			need[i] = true
			if tc.remove {
				// a deficient child borrows from or merges with a sibling
				if i > 0 {
					need[i-1] = true
				}
				if i < n.entries.Len() {
					need[i+1] = true
				}
			}
		}
		for i := range n.children {
			if !need[i] {
				continue
			}
			if c, ok := n.child(i); ok {
				if err := visit(c, groups[i]); err != nil {
					return err
				}
				continue
			}
			s := &preloadSlot[K, V]{parent: n, loc: n.children[i].Locator(), touches: groups[i]}
			if err := proc.Submit(s, struct{}{}); err != nil {
				return err
			}
			outstanding++
		}
		return nil
	}

	firstErr := visit(root, touches)
	if firstErr != nil || outstanding == 0 {
		proc.Close()
	}
	for res := range proc.Results() {
		outstanding--
		switch {
		case res.Err != nil:
			if firstErr == nil {
				firstErr = res.Err
				proc.Close()
			}
		case firstErr == nil:
			s := res.Item
			s.parent.installChild(s.loc, s.node)
			if err := visit(s.node, s.touches); err != nil {
				firstErr = err
				proc.Close()
			}
		}
		if outstanding == 0 && firstErr == nil {
			proc.Close()
		}
	}
	return firstErr
}

type updater[K, V any] struct {
	t     *BTreeMap[K, V]
	ctx   context.Context
	fresh map[*Node[K, V]]struct{}
}

// own returns n itself if this update created it, and a copy otherwise.
func (u *updater[K, V]) own(n *Node[K, V]) *Node[K, V] {
	if _, ok := u.fresh[n]; ok {
		return n
	}
	c := n.clone()
	u.fresh[c] = struct{}{}
	return c
}

func (u *updater[K, V]) newNode() *Node[K, V] {
	n := newNode(u.t.schema)
	u.fresh[n] = struct{}{}
	return n
}

// peekChild loads child i of x without copying it.
func (u *updater[K, V]) peekChild(x *Node[K, V], i int) (*Node[K, V], error) {
	return u.t.loadChild(u.ctx, x, i)
}

// ownChild loads child i of an owned x and links an owned copy of it in its place.
func (u *updater[K, V]) ownChild(x *Node[K, V], i int) (*Node[K, V], error) {
	c, err := u.peekChild(x, i)
	if err != nil {
		return nil, err
	}
	oc := u.own(c)
	if oc != c {
		x.children[i].Set(oc)
	}
	return oc, nil
}

func (u *updater[K, V]) fixSizes(n *Node[K, V]) {
	if _, ok := u.fresh[n]; !ok {
		return
	}
	for i := range n.children {
		if c, ok := n.child(i); ok {
			u.fixSizes(c)
		}
	}
	n.recount()
}

func (u *updater[K, V]) insert(r *Node[K, V], k K, v V) (*Node[K, V], error) {
	if r.full() {
		s := u.newNode()
		s.insertChild(0, Loaded(r), r.size)
		if err := u.splitChild(s, 0); err != nil {
			return nil, err
		}
		r = s
	}
	return r, u.insertNonFull(r, k, v)
}

func (u *updater[K, V]) insertNonFull(x *Node[K, V], k K, v V) error {
	for {
		i, found := x.entries.search(k)
		if found {
			x.entries.setCellAt(i, Loaded(v))
			return nil
		}
		if x.IsLeaf() {
			x.entries.insertAt(i, entry[K, V]{key: k, cell: Loaded(v)})
			return nil
		}
		c, err := u.ownChild(x, i)
		if err != nil {
			return err
		}
		if c.full() {
			if err := u.splitChild(x, i); err != nil {
				return err
			}
			switch d := u.t.schema.Compare(k, x.entries.keyAt(i)); {
			case d == 0:
				x.entries.setCellAt(i, Loaded(v))
				return nil
			case d > 0:
				i++
			}
			if c, err = u.ownChild(x, i); err != nil {
				return err
			}
		}
		x = c
	}
}

// splitChild splits the full child i of x around its median, which moves up into x.
func (u *updater[K, V]) splitChild(x *Node[K, V], i int) error {
	m := u.t.schema.NodeMin
	y, err := u.ownChild(x, i)
	if err != nil {
		return err
	}
	z := u.newNode()
	z.entries = y.entries.splitAt(m)
	median := y.entries.removeAt(m - 1)
	if !y.IsLeaf() {
		z.children = slices.Clone(y.children[m:])
		z.sizes = slices.Clone(y.sizes[m:])
		y.children = slices.Clip(y.children[:m])
		y.sizes = slices.Clip(y.sizes[:m])
	}
	x.entries.insertAt(i, median)
	x.insertChild(i+1, Loaded(z), 0)
	return nil
}

func (u *updater[K, V]) remove(r *Node[K, V], k K) (*Node[K, V], error) {
	if err := u.delete(r, k); err != nil {
		return nil, err
	}
	if r.entries.Len() == 0 && !r.IsLeaf() {
		return u.peekChild(r, 0)
	}
	return r, nil
}

// delete removes k from the subtree of an owned x, which is the root or holds at least NodeMin keys. Every node it descends into is first brought up to NodeMin keys, so the removal never has to walk back up.
func (u *updater[K, V]) delete(x *Node[K, V], k K) error {
	m := u.t.schema.NodeMin
	for {
		i, found := x.entries.search(k)
		if x.IsLeaf() {
			if found {
				x.entries.removeAt(i)
			}
			return nil
		}

		if found {
			y, err := u.peekChild(x, i)
			if err != nil {
				return err
			}
			if y.entries.Len() >= m {
				pred, err := u.lastEntry(y)
				if err != nil {
					return err
				}
				if y, err = u.ownChild(x, i); err != nil {
					return err
				}
				x.entries.setEntryAt(i, pred)
				x, k = y, pred.key
				continue
			}
			z, err := u.peekChild(x, i+1)
			if err != nil {
				return err
			}
			if z.entries.Len() >= m {
				succ, err := u.firstEntry(z)
				if err != nil {
					return err
				}
				if z, err = u.ownChild(x, i+1); err != nil {
					return err
				}
				x.entries.setEntryAt(i, succ)
				x, k = z, succ.key
				continue
			}
			if y, err = u.ownChild(x, i); err != nil {
				return err
			}
			if err := u.merge(x, i); err != nil {
				return err
			}
			x = y
			continue
		}

		c, err := u.peekChild(x, i)
		if err != nil {
			return err
		}
		if c.entries.Len() < m {
			c, err = u.fill(x, i)
		} else {
			c, err = u.ownChild(x, i)
		}
		if err != nil {
			return err
		}
		x = c
	}
}

func (u *updater[K, V]) lastEntry(n *Node[K, V]) (entry[K, V], error) {
	var err error
	for !n.IsLeaf() {
		if n, err = u.peekChild(n, len(n.children)-1); err != nil {
			return entry[K, V]{}, err
		}
	}
	return *n.entries.at(n.entries.Len() - 1), nil
}

func (u *updater[K, V]) firstEntry(n *Node[K, V]) (entry[K, V], error) {
	var err error
	for !n.IsLeaf() {
		if n, err = u.peekChild(n, 0); err != nil {
			return entry[K, V]{}, err
		}
	}
	return *n.entries.at(0), nil
}

// fill brings the deficient child i of x up to NodeMin keys, by borrowing from a sibling or else merging with one. Returns the owned node now covering child i's key range.
func (u *updater[K, V]) fill(x *Node[K, V], i int) (*Node[K, V], error) {
	m := u.t.schema.NodeMin
	if i > 0 {
		left, err := u.peekChild(x, i-1)
		if err != nil {
			return nil, err
		}
		if left.entries.Len() >= m {
			if left, err = u.ownChild(x, i-1); err != nil {
				return nil, err
			}
			c, err := u.ownChild(x, i)
			if err != nil {
				return nil, err
			}
			rotateRight(x, i-1, left, c)
			return c, nil
		}
	}
	if i < x.entries.Len() {
		right, err := u.peekChild(x, i+1)
		if err != nil {
			return nil, err
		}
		if right.entries.Len() >= m {
			if right, err = u.ownChild(x, i+1); err != nil {
				return nil, err
			}
			c, err := u.ownChild(x, i)
			if err != nil {
				return nil, err
			}
			rotateLeft(x, i, c, right)
			return c, nil
		}
		c, err := u.ownChild(x, i)
		if err != nil {
			return nil, err
		}
		return c, u.merge(x, i)
	}
	left, err := u.ownChild(x, i-1)
	if err != nil {
		return nil, err
	}
	return left, u.merge(x, i-1)
}

// rotateRight moves the separator j of x down into c, and the last key of left up in its place.
func rotateRight[K, V any](x *Node[K, V], j int, left, c *Node[K, V]) {
	c.entries.insertAt(0, *x.entries.at(j))
	x.entries.setEntryAt(j, left.entries.removeAt(left.entries.Len()-1))
	if !left.IsLeaf() {
		last := len(left.children) - 1
		size := left.childSize(last)
		c.insertChild(0, left.removeChild(last), size)
	}
}

// rotateLeft moves the separator j of x down into c, and the first key of right up in its place.
func rotateLeft[K, V any](x *Node[K, V], j int, c, right *Node[K, V]) {
	c.entries.insertAt(c.entries.Len(), *x.entries.at(j))
	x.entries.setEntryAt(j, right.entries.removeAt(0))
	if !right.IsLeaf() {
		size := right.childSize(0)
		c.insertChild(len(c.children), right.removeChild(0), size)
	}
}

// merge folds separator i of x and child i+1 into the owned child i.
func (u *updater[K, V]) merge(x *Node[K, V], i int) error {
	y, ok := x.child(i)
	if !ok {
		panic("merging into a ghost")
	}
	z, err := u.peekChild(x, i+1)
	if err != nil {
		return err
	}
	y.entries.insertAt(y.entries.Len(), x.entries.removeAt(i))
	y.entries.appendEntries(z.entries.entries...)
	for j := range z.children {
		y.insertChild(len(y.children), z.children[j], z.childSize(j))
	}
	x.removeChild(i + 1)
	return nil
}
