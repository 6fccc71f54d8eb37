package skeleton

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

var ErrNoSuchKey = errors.New("no such key")

// BTreeMap is a B-tree of partially loaded nodes. Any subtree, and with a packed schema any value, may be a ghost; reads that reach a ghost return a *NotLoadedError naming what to fetch.
//
// A BTreeMap is not safe for concurrent use. Concurrent reads of loaded parts are fine as long as nothing writes.
type BTreeMap[K, V any] struct {
	schema *Schema[K, V]
	nodes  archive.BatchSerializer[*Node[K, V]]

	root Cell[*Node[K, V]]
	// known even while the root is a ghost
	size int

	// cap on concurrent node pulls while preparing an update
	MaxConcurrency int
}

// KV is one key/value pair of an update.
type KV[K, V any] struct {
	Key   K
	Value V
}

// NewBTreeMap creates an empty tree.
func NewBTreeMap[K, V any](s *Schema[K, V], nodes archive.BatchSerializer[*Node[K, V]]) (*BTreeMap[K, V], error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &BTreeMap[K, V]{
		schema:         s,
		nodes:          nodes,
		root:           Loaded(newNode(s)),
		MaxConcurrency: archive.DefaultPoolSize,
	}, nil
}

// OpenBTreeMap returns a bare tree whose root node is archived at root.
func OpenBTreeMap[K, V any](s *Schema[K, V], nodes archive.BatchSerializer[*Node[K, V]], root archive.Locator, size int) (*BTreeMap[K, V], error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	c, err := NewGhost[*Node[K, V]](root)
	if err != nil {
		return nil, err
	}
	return &BTreeMap[K, V]{
		schema:         s,
		nodes:          nodes,
		root:           c,
		size:           size,
		MaxConcurrency: archive.DefaultPoolSize,
	}, nil
}

// Clone returns a tree sharing all nodes with t. Updates to either copy nodes before changing them, so neither sees the other's changes.
func (t *BTreeMap[K, V]) Clone() *BTreeMap[K, V] {
	c := *t
	return &c
}

func (t *BTreeMap[K, V]) Schema() *Schema[K, V] {
	return t.schema
}

func (t *BTreeMap[K, V]) Size() int {
	if n, ok := t.root.Value(); ok {
		return n.size
	}
	return t.size
}

// Root returns the locator of the root node while the tree is bare.
func (t *BTreeMap[K, V]) Root() (archive.Locator, bool) {
	if t.root.IsGhost() {
		return t.root.Locator(), true
	}
	return archive.Locator{}, false
}

// IsBare reports whether nothing of the tree is resident.
func (t *BTreeMap[K, V]) IsBare() bool {
	return t.root.IsGhost()
}

// IsLive reports whether every node, and every value, is resident.
func (t *BTreeMap[K, V]) IsLive() bool {
	n, ok := t.root.Value()
	if !ok {
		return false
	}
	return isLive(n)
}

func isLive[K, V any](n *Node[K, V]) bool {
	if !n.entries.IsLive() {
		return false
	}
	for i := range n.children {
		c, ok := n.child(i)
		if !ok || !isLive(c) {
			return false
		}
	}
	return true
}

func (t *BTreeMap[K, V]) rootNotLoaded(key any) *NotLoadedError {
	loc := t.root.Locator()
	return &NotLoadedError{
		Owner:   t,
		Key:     key,
		Locator: loc,
		fetch: func(ctx context.Context) (func() error, error) {
			n, err := t.pullNode(ctx, loc)
			if err != nil {
				return nil, err
			}
			return func() error {
				if t.root.IsGhost() && t.root.Locator().Equals(loc) {
					t.root.Set(n)
				}
				return nil
			}, nil
		},
	}
}

func (t *BTreeMap[K, V]) childNotLoaded(parent *Node[K, V], i int, key any) *NotLoadedError {
	loc := parent.children[i].Locator()
	return &NotLoadedError{
		Owner:   parent,
		Key:     key,
		Locator: loc,
		fetch: func(ctx context.Context) (func() error, error) {
			n, err := t.pullNode(ctx, loc)
			if err != nil {
				return nil, err
			}
			return func() error {
				parent.installChild(loc, n)
				return nil
			}, nil
		},
	}
}

func (t *BTreeMap[K, V]) pullNode(ctx context.Context, loc archive.Locator) (*Node[K, V], error) {
	if t.nodes == nil {
		return nil, archive.ErrNoSerializer
	}
	task := archive.NewPullTask[*Node[K, V]](loc)
	if err := t.nodes.Pull(ctx, task); err != nil {
		return nil, err
	}
	return task.Data, nil
}

// loadRoot makes sure the root is resident.
func (t *BTreeMap[K, V]) loadRoot(ctx context.Context) (*Node[K, V], error) {
	if n, ok := t.root.Value(); ok {
		return n, nil
	}
	loc := t.root.Locator()
	n, err := t.pullNode(ctx, loc)
	if err != nil {
		return nil, err
	}
	t.root.Set(n)
	return n, nil
}

// loadChild makes sure child i of n is resident.
func (t *BTreeMap[K, V]) loadChild(ctx context.Context, n *Node[K, V], i int) (*Node[K, V], error) {
	if c, ok := n.child(i); ok {
		return c, nil
	}
	loc := n.children[i].Locator()
	c, err := t.pullNode(ctx, loc)
	if err != nil {
		return nil, err
	}
	n.installChild(loc, c)
	return c, nil
}

// Get looks k up without fetching anything.
func (t *BTreeMap[K, V]) Get(k K) (V, bool, error) {
	var zero V
	n, ok := t.root.Value()
	if !ok {
		return zero, false, t.rootNotLoaded(k)
	}
	for {
		i, found := n.entries.search(k)
		if found {
			return n.entries.Get(k)
		}
		if n.IsLeaf() {
			return zero, false, nil
		}
		c, ok := n.child(i)
		if !ok {
			return zero, false, t.childNotLoaded(n, i, k)
		}
		n = c
	}
}

// GetContext is Get, fetching whatever is missing on the way.
func (t *BTreeMap[K, V]) GetContext(ctx context.Context, k K) (V, bool, error) {
	type found struct {
		v  V
		ok bool
	}
	res, err := Retry(ctx, 0, func() (found, error) {
		v, ok, err := t.Get(k)
		return found{v, ok}, err
	})
	return res.v, res.ok, err
}

// Contains reports whether k is in the tree. Values are not needed, so only ghost nodes cause a *NotLoadedError.
func (t *BTreeMap[K, V]) Contains(k K) (bool, error) {
	n, ok := t.root.Value()
	if !ok {
		return false, t.rootNotLoaded(k)
	}
	for {
		i, found := n.entries.search(k)
		if found {
			return true, nil
		}
		if n.IsLeaf() {
			return false, nil
		}
		c, ok := n.child(i)
		if !ok {
			return false, t.childNotLoaded(n, i, k)
		}
		n = c
	}
}

// Range calls fn for every entry in key order until fn returns false. The first ghost met ends the walk with a *NotLoadedError.
func (t *BTreeMap[K, V]) Range(fn func(k K, v V) bool) error {
	n, ok := t.root.Value()
	if !ok {
		return t.rootNotLoaded(nil)
	}
	_, err := t.rangeNode(n, fn)
	return err
}

func (t *BTreeMap[K, V]) rangeNode(n *Node[K, V], fn func(k K, v V) bool) (bool, error) {
	for i := 0; i <= n.entries.Len(); i++ {
		if !n.IsLeaf() {
			c, ok := n.child(i)
			if !ok {
				return false, t.childNotLoaded(n, i, nil)
			}
			more, err := t.rangeNode(c, fn)
			if err != nil || !more {
				return more, err
			}
		}
		if i == n.entries.Len() {
			break
		}
		e := n.entries.at(i)
		v, ok := e.cell.Value()
		if !ok {
			return false, n.entries.notLoaded(e.key, e.cell.Locator())
		}
		if !fn(e.key, v) {
			return false, nil
		}
	}
	return true, nil
}

// Keys returns every key in order. Only ghost nodes cause a *NotLoadedError, values are not needed.
func (t *BTreeMap[K, V]) Keys() ([]K, error) {
	n, ok := t.root.Value()
	if !ok {
		return nil, t.rootNotLoaded(nil)
	}
	out := make([]K, 0, n.size)
	var walk func(n *Node[K, V]) error
	walk = func(n *Node[K, V]) error {
		for i := 0; i <= n.entries.Len(); i++ {
			if !n.IsLeaf() {
				c, ok := n.child(i)
				if !ok {
					return t.childNotLoaded(n, i, nil)
				}
				if err := walk(c); err != nil {
					return err
				}
			}
			if i < n.entries.Len() {
				out = append(out, n.entries.keyAt(i))
			}
		}
		return nil
	}
	if err := walk(n); err != nil {
		return nil, err
	}
	return out, nil
}

// Inflate loads the whole tree, one level per batch, and every value.
func (t *BTreeMap[K, V]) Inflate(ctx context.Context) error {
	return t.inflateLevels(ctx, -1, true)
}

// InflateLevels loads the top levels of the tree, values aside.
func (t *BTreeMap[K, V]) InflateLevels(ctx context.Context, levels int) error {
	if levels <= 0 {
		return nil
	}
	return t.inflateLevels(ctx, levels, false)
}

func (t *BTreeMap[K, V]) inflateLevels(ctx context.Context, levels int, values bool) error {
	root, err := t.loadRoot(ctx)
	if err != nil {
		return err
	}
	level := []*Node[K, V]{root}
	for depth := 1; len(level) > 0 && depth != levels; depth++ {
		type slot struct {
			parent *Node[K, V]
			task   *archive.PullTask[*Node[K, V]]
		}
		var slots []slot
		var tasks []*archive.PullTask[*Node[K, V]]
		for _, n := range level {
			if values {
				if err := n.entries.Inflate(ctx); err != nil {
					return err
				}
			}
			for i := range n.children {
				if n.children[i].IsGhost() {
					task := archive.NewPullTask[*Node[K, V]](n.children[i].Locator())
					slots = append(slots, slot{parent: n, task: task})
					tasks = append(tasks, task)
				}
			}
		}
		if len(tasks) > 0 {
			if t.nodes == nil {
				return archive.ErrNoSerializer
			}
			if err := t.nodes.PullAll(ctx, tasks); err != nil {
				return err
			}
			for _, s := range slots {
				s.parent.installChild(s.task.Meta.Locator, s.task.Data)
			}
		}

		var next []*Node[K, V]
		for _, n := range level {
			for i := range n.children {
				c, ok := n.child(i)
				if !ok {
					return fmt.Errorf("child %d of %s still a ghost after inflate", i, n)
				}
				next = append(next, c)
			}
		}
		level = next
	}
	return nil
}

// InflateKey loads the path down to k, and its value.
func (t *BTreeMap[K, V]) InflateKey(ctx context.Context, k K) error {
	n, err := t.loadRoot(ctx)
	if err != nil {
		return err
	}
	for {
		i, found := n.entries.search(k)
		if found {
			return n.entries.InflateKey(ctx, k)
		}
		if n.IsLeaf() {
			return fmt.Errorf("inflate %v: %w", k, ErrNoSuchKey)
		}
		if n, err = t.loadChild(ctx, n, i); err != nil {
			return err
		}
	}
}

// Deflate archives every dirty node, bottom up, and leaves the tree bare. Clean subtrees are dropped without being pushed again.
func (t *BTreeMap[K, V]) Deflate(ctx context.Context) error {
	root, ok := t.root.Value()
	if !ok {
		return nil
	}
	size := root.size
	if !root.clean() {
		if err := t.deflateChildren(ctx, root); err != nil {
			return err
		}
		if err := t.pushNodes(ctx, []*Node[K, V]{root}); err != nil {
			return err
		}
	}
	if err := t.root.SetGhost(root.loc); err != nil {
		return err
	}
	t.size = size
	return nil
}

// deflateChildren turns every child of n into a ghost, pushing the dirty ones as one batch.
func (t *BTreeMap[K, V]) deflateChildren(ctx context.Context, n *Node[K, V]) error {
	var dirty []*Node[K, V]
	for i := range n.children {
		c, ok := n.child(i)
		if !ok {
			continue
		}
		n.sizes[i] = c.size
		if c.clean() {
			continue
		}
		if err := t.deflateChildren(ctx, c); err != nil {
			return err
		}
		dirty = append(dirty, c)
	}
	if err := t.pushNodes(ctx, dirty); err != nil {
		return err
	}
	for i := range n.children {
		c, ok := n.child(i)
		if !ok {
			continue
		}
		if err := n.children[i].SetGhost(c.loc); err != nil {
			return err
		}
	}
	return nil
}

// pushNodes archives nodes whose children are all ghosts already.
func (t *BTreeMap[K, V]) pushNodes(ctx context.Context, nodes []*Node[K, V]) error {
	if len(nodes) == 0 {
		return nil
	}
	if t.nodes == nil {
		return archive.ErrNoSerializer
	}
	tasks := make([]*archive.PushTask[*Node[K, V]], len(nodes))
	for i, n := range nodes {
		if t.schema.Packed != nil {
			if err := n.entries.Deflate(ctx); err != nil {
				return err
			}
		}
		tasks[i] = archive.NewPushTask(n.id, n)
	}
	if err := t.nodes.PushAll(ctx, tasks); err != nil {
		return err
	}
	for i, n := range nodes {
		if !tasks[i].Meta.Locator.Defined() {
			return archive.NewDataFormatError(n.id, nil, "node pushed without a locator")
		}
		n.loc = tasks[i].Meta.Locator
	}
	return nil
}
