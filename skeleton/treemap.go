package skeleton

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

type entry[K, V any] struct {
	key  K
	cell Cell[V]
}

// TreeMap is a sorted map whose values may be ghosts. It counts its ghosts, so IsLive and IsBare are constant time.
//
// A TreeMap is not safe for concurrent use.
type TreeMap[K, V any] struct {
	cmp     func(a, b K) int
	entries []entry[K, V]
	ghosts  int

	vsrl archive.MapSerializer[K, V]
}

// NewTreeMap creates an empty map ordered by cmp. vsrl may be nil, in which case the map can never hold ghosts.
func NewTreeMap[K, V any](cmp func(a, b K) int, vsrl archive.MapSerializer[K, V]) *TreeMap[K, V] {
	return &TreeMap[K, V]{cmp: cmp, vsrl: vsrl}
}

func (m *TreeMap[K, V]) Len() int {
	return len(m.entries)
}

func (m *TreeMap[K, V]) Ghosts() int {
	return m.ghosts
}

// IsLive reports whether no value is a ghost.
func (m *TreeMap[K, V]) IsLive() bool {
	return m.ghosts == 0
}

// IsBare reports whether every value is a ghost. An empty map is both live and bare.
func (m *TreeMap[K, V]) IsBare() bool {
	return m.ghosts == len(m.entries)
}

func (m *TreeMap[K, V]) search(k K) (int, bool) {
	i := sort.Search(len(m.entries), func(i int) bool {
		return m.cmp(m.entries[i].key, k) >= 0
	})
	return i, i < len(m.entries) && m.cmp(m.entries[i].key, k) == 0
}

func (m *TreeMap[K, V]) Contains(k K) bool {
	_, ok := m.search(k)
	return ok
}

// Get returns the value for k. A ghost value yields a *NotLoadedError.
func (m *TreeMap[K, V]) Get(k K) (V, bool, error) {
	var zero V
	i, ok := m.search(k)
	if !ok {
		return zero, false, nil
	}
	c := &m.entries[i].cell
	if v, loaded := c.Value(); loaded {
		return v, true, nil
	}
	return zero, true, m.notLoaded(k, c.Locator())
}

func (m *TreeMap[K, V]) notLoaded(k K, loc archive.Locator) *NotLoadedError {
	return &NotLoadedError{
		Owner:   m,
		Key:     k,
		Locator: loc,
		fetch: func(ctx context.Context) (func() error, error) {
			if m.vsrl == nil {
				return nil, archive.ErrNoSerializer
			}
			res, err := m.vsrl.PullMap(ctx, []archive.KeyedPull[K, V]{{Key: k, Task: archive.NewPullTask[V](loc)}})
			if err != nil {
				return nil, err
			}
			return func() error {
				m.absorb(res)
				return nil
			}, nil
		},
	}
}

// Put stores a loaded value, replacing whatever was there.
func (m *TreeMap[K, V]) Put(k K, v V) {
	m.putCell(k, Loaded(v))
}

// PutGhost stores a ghost value.
func (m *TreeMap[K, V]) PutGhost(k K, loc archive.Locator) error {
	c, err := NewGhost[V](loc)
	if err != nil {
		return err
	}
	m.putCell(k, c)
	return nil
}

func (m *TreeMap[K, V]) putCell(k K, c Cell[V]) {
	i, ok := m.search(k)
	if ok {
		m.setCellAt(i, c)
		return
	}
	m.insertAt(i, entry[K, V]{key: k, cell: c})
}

func (m *TreeMap[K, V]) Remove(k K) bool {
	i, ok := m.search(k)
	if !ok {
		return false
	}
	m.removeAt(i)
	return true
}

// positional helpers, used by the B-tree

func (m *TreeMap[K, V]) at(i int) *entry[K, V] {
	return &m.entries[i]
}

func (m *TreeMap[K, V]) keyAt(i int) K {
	return m.entries[i].key
}

func (m *TreeMap[K, V]) setCellAt(i int, c Cell[V]) {
	if m.entries[i].cell.IsGhost() {
		m.ghosts--
	}
	if c.IsGhost() {
		m.ghosts++
	}
	m.entries[i].cell = c
}

func (m *TreeMap[K, V]) setEntryAt(i int, e entry[K, V]) {
	m.setCellAt(i, e.cell)
	m.entries[i].key = e.key
}

func (m *TreeMap[K, V]) insertAt(i int, e entry[K, V]) {
	m.entries = slices.Insert(m.entries, i, e)
	if e.cell.IsGhost() {
		m.ghosts++
	}
}

func (m *TreeMap[K, V]) removeAt(i int) entry[K, V] {
	e := m.entries[i]
	m.entries = slices.Delete(m.entries, i, i+1)
	if e.cell.IsGhost() {
		m.ghosts--
	}
	return e
}

func (m *TreeMap[K, V]) appendEntries(es ...entry[K, V]) {
	for _, e := range es {
		m.insertAt(len(m.entries), e)
	}
}

// splitAt removes the entries from i onwards and returns them as a new map.
func (m *TreeMap[K, V]) splitAt(i int) *TreeMap[K, V] {
	rest := m.empty()
	rest.appendEntries(m.entries[i:]...)
	m.entries = slices.Clip(m.entries[:i])
	m.ghosts -= rest.ghosts
	return rest
}

func (m *TreeMap[K, V]) empty() *TreeMap[K, V] {
	return &TreeMap[K, V]{cmp: m.cmp, vsrl: m.vsrl}
}

func (m *TreeMap[K, V]) clone() *TreeMap[K, V] {
	return &TreeMap[K, V]{
		cmp:     m.cmp,
		entries: slices.Clone(m.entries),
		ghosts:  m.ghosts,
		vsrl:    m.vsrl,
	}
}

// Keys returns every key in order. It never fails: keys are always resident.
func (m *TreeMap[K, V]) Keys() []K {
	out := make([]K, len(m.entries))
	for i, e := range m.entries {
		out[i] = e.key
	}
	return out
}

// absorb commits pulled values. Keys the serializer resolved on the side are only taken when the ghost they would replace names the very locator they came from.
func (m *TreeMap[K, V]) absorb(res []archive.KeyedPull[K, V]) int {
	n := 0
	for _, kp := range res {
		i, ok := m.search(kp.Key)
		if !ok {
			continue
		}
		c := &m.entries[i].cell
		if c.IsLoaded() || !c.Locator().Equals(kp.Task.Meta.Locator) {
			continue
		}
		m.setCellAt(i, Loaded(kp.Task.Data))
		n++
	}
	return n
}

// Inflate pulls every ghost value in one batch.
func (m *TreeMap[K, V]) Inflate(ctx context.Context) error {
	if m.ghosts == 0 {
		return nil
	}
	if m.vsrl == nil {
		return archive.ErrNoSerializer
	}
	tasks := make([]archive.KeyedPull[K, V], 0, m.ghosts)
	for _, e := range m.entries {
		if e.cell.IsGhost() {
			tasks = append(tasks, archive.KeyedPull[K, V]{Key: e.key, Task: archive.NewPullTask[V](e.cell.Locator())})
		}
	}
	res, err := m.vsrl.PullMap(ctx, tasks)
	if err != nil {
		return err
	}
	m.absorb(res)
	if m.ghosts != 0 {
		return fmt.Errorf("inflate left %d ghosts behind", m.ghosts)
	}
	return nil
}

// InflateKey pulls the value of k, if it is a ghost, along with any neighbours archived with it.
func (m *TreeMap[K, V]) InflateKey(ctx context.Context, k K) error {
	i, ok := m.search(k)
	if !ok {
		return fmt.Errorf("inflate %v: no such key", k)
	}
	c := m.entries[i].cell
	if c.IsLoaded() {
		return nil
	}
	return m.notLoaded(k, c.Locator()).Resolve(ctx)
}

// Deflate pushes every loaded value in one batch and replaces them with ghosts.
func (m *TreeMap[K, V]) Deflate(ctx context.Context) error {
	if m.ghosts == len(m.entries) {
		return nil
	}
	if m.vsrl == nil {
		return archive.ErrNoSerializer
	}
	idx := make([]int, 0, len(m.entries)-m.ghosts)
	tasks := make([]archive.KeyedPush[K, V], 0, len(m.entries)-m.ghosts)
	for i, e := range m.entries {
		if v, ok := e.cell.Value(); ok {
			idx = append(idx, i)
			tasks = append(tasks, archive.KeyedPush[K, V]{Key: e.key, Task: archive.NewPushTask(0, v)})
		}
	}
	if err := m.vsrl.PushMap(ctx, tasks); err != nil {
		return err
	}
	return m.ghostPushed(idx, tasks)
}

// DeflateKey pushes the value of k alone.
func (m *TreeMap[K, V]) DeflateKey(ctx context.Context, k K) error {
	i, ok := m.search(k)
	if !ok {
		return fmt.Errorf("deflate %v: no such key", k)
	}
	v, loaded := m.entries[i].cell.Value()
	if !loaded {
		return nil
	}
	if m.vsrl == nil {
		return archive.ErrNoSerializer
	}
	tasks := []archive.KeyedPush[K, V]{{Key: k, Task: archive.NewPushTask(0, v)}}
	if err := m.vsrl.PushMap(ctx, tasks); err != nil {
		return err
	}
	return m.ghostPushed([]int{i}, tasks)
}

func (m *TreeMap[K, V]) ghostPushed(idx []int, tasks []archive.KeyedPush[K, V]) error {
	// check everything first so a bad result leaves the map untouched
	for _, t := range tasks {
		if !t.Task.Meta.Locator.Defined() {
			return archive.NewDataFormatError(t.Key, nil, "value pushed without a locator")
		}
	}
	for j, i := range idx {
		c, _ := NewGhost[V](tasks[j].Task.Meta.Locator)
		m.setCellAt(i, c)
	}
	return nil
}

// Cursor walks a TreeMap in key order.
type Cursor[K, V any] struct {
	m *TreeMap[K, V]
	i int
}

// Cursor returns a cursor positioned before the first entry.
func (m *TreeMap[K, V]) Cursor() *Cursor[K, V] {
	return &Cursor[K, V]{m: m, i: -1}
}

func (c *Cursor[K, V]) Next() bool {
	if c.i < len(c.m.entries) {
		c.i++
	}
	return c.i < len(c.m.entries)
}

func (c *Cursor[K, V]) Key() K {
	return c.m.entries[c.i].key
}

// Value returns the current value, or a *NotLoadedError for a ghost. After inflating the cursor can simply ask again.
func (c *Cursor[K, V]) Value() (V, error) {
	e := &c.m.entries[c.i]
	if v, ok := e.cell.Value(); ok {
		return v, nil
	}
	var zero V
	return zero, c.m.notLoaded(e.key, e.cell.Locator())
}

// Inflate loads the current value if it is a ghost.
func (c *Cursor[K, V]) Inflate(ctx context.Context) error {
	return c.m.InflateKey(ctx, c.Key())
}

// Remove deletes the current entry; Next then moves to the entry after it.
func (c *Cursor[K, V]) Remove() {
	c.m.removeAt(c.i)
	c.i--
}
