package skeleton

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/arcstore"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var intKeys = archive.TranslatorFuncs[int, any]{
	AppFunc: func(k int) (any, error) { return int64(k), nil },
	RevFunc: func(v any) (int, error) {
		i, ok := v.(int64)
		if !ok {
			return 0, fmt.Errorf("expected int64 key, got %T", v)
		}
		return int(i), nil
	},
}

var stringValues = archive.TranslatorFuncs[string, any]{
	AppFunc: func(s string) (any, error) { return s, nil },
	RevFunc: func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string value, got %T", v)
		}
		return s, nil
	},
}

var errBoom = errors.New("boom")

// flakyBackend fails on demand.
type flakyBackend struct {
	archive.Backend
	failGets atomic.Bool
	failPuts atomic.Bool
}

func (f *flakyBackend) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	if f.failGets.Load() {
		return nil, errBoom
	}
	return f.Backend.Get(ctx, loc)
}

func (f *flakyBackend) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	if f.failPuts.Load() {
		return archive.Locator{}, errBoom
	}
	return f.Backend.Put(ctx, data, hint)
}

type testTree struct {
	*BTreeMap[int, string]
	be    *arcstore.Counting
	flaky *flakyBackend
}

func newTestTree(t *testing.T, nodeMin int) *testTree {
	flaky := &flakyBackend{Backend: arcstore.NewMemory()}
	be := arcstore.NewCounting(flaky)
	s := &Schema[int, string]{NodeMin: nodeMin, Compare: cmp.Compare[int], Keys: intKeys, Values: stringValues}
	nodes := NewNodeSerializer("test-nodes", s, be, archive.NewPool("test", 8))
	tree, err := NewBTreeMap(s, nodes)
	require.NoError(t, err)
	return &testTree{BTreeMap: tree, be: be, flaky: flaky}
}

func fillTree(t *testing.T, tree *BTreeMap[int, string], keys ...int) map[int]string {
	ref := make(map[int]string, len(keys))
	puts := make([]KV[int, string], len(keys))
	for i, k := range keys {
		puts[i] = KV[int, string]{Key: k, Value: fmt.Sprintf("v%d", k)}
		ref[k] = puts[i].Value
	}
	require.NoError(t, tree.Update(context.Background(), puts, nil))
	return ref
}

func span(from, to int) []int {
	out := make([]int, 0, to-from)
	for i := from; i < to; i++ {
		out = append(out, i)
	}
	return out
}

func checkContents(t *testing.T, tree *BTreeMap[int, string], ref map[int]string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, tree.Inflate(ctx))
	require.NoError(t, tree.Verify())
	assert.Equal(t, len(ref), tree.Size())

	want := make([]int, 0, len(ref))
	for k := range ref {
		want = append(want, k)
	}
	slices.Sort(want)
	got, err := tree.Keys()
	require.NoError(t, err)
	if len(want) == 0 {
		assert.Empty(t, got)
	} else {
		assert.Equal(t, want, got)
	}
	require.NoError(t, tree.Range(func(k int, v string) bool {
		assert.Equal(t, ref[k], v, "value of %d", k)
		return true
	}))
}

func TestDefaultNodeMinBounds(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	// NodeMin is a minimum degree: a node holds at most 2*NodeMin-1 keys, and at least NodeMin-1 unless it is the root
	tree := newTestTree(t, DefaultNodeMin)
	ref := fillTree(t, tree.BTreeMap, span(0, 2*DefaultNodeMin-1)...)
	root, ok := tree.root.Value()
	require.True(ok)
	assert.True(root.IsLeaf())
	assert.Equal(2047, root.Len())

	ref[2047] = "v2047"
	require.NoError(tree.Update(context.Background(), []KV[int, string]{{Key: 2047, Value: "v2047"}}, nil))
	root, ok = tree.root.Value()
	require.True(ok)
	assert.Equal(1, root.Len())
	require.Len(root.children, 2)
	left, ok := root.child(0)
	require.True(ok)
	right, ok := root.child(1)
	require.True(ok)
	assert.Equal(1023, left.Len())
	assert.Equal(1024, right.Len())
	checkContents(t, tree.BTreeMap, ref)
}

func TestBTreeRandomUpdates(t *testing.T) {
	for _, m := range []int{2, 3, 5} {
		t.Run(fmt.Sprintf("m=%d", m), func(t *testing.T) {
			ctx := context.Background()
			rng := rand.New(rand.NewSource(int64(m)))
			tree := newTestTree(t, m)
			ref := make(map[int]string)

			for round := 0; round < 25; round++ {
				var puts []KV[int, string]
				var removes []int
				for i := 0; i < 30; i++ {
					k := rng.Intn(400)
					puts = append(puts, KV[int, string]{Key: k, Value: fmt.Sprintf("v%d-%d", k, round)})
				}
				for i := 0; i < 20; i++ {
					removes = append(removes, rng.Intn(400))
				}
				require.NoError(t, tree.Update(ctx, puts, removes))
				for _, k := range removes {
					delete(ref, k)
				}
				for _, kv := range puts {
					ref[kv.Key] = kv.Value
				}
				require.NoError(t, tree.Verify())
				assert.Equal(t, len(ref), tree.Size())

				if round%5 == 4 {
					require.NoError(t, tree.Deflate(ctx))
					assert.True(t, tree.IsBare())
					assert.Equal(t, len(ref), tree.Size())
				}
			}
			checkContents(t, tree.BTreeMap, ref)
		})
	}
}

func TestBTreeRemoveEverything(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	keys := span(0, 100)
	fillTree(t, tree.BTreeMap, keys...)
	require.NoError(t, tree.Deflate(ctx))

	rng := rand.New(rand.NewSource(7))
	rng.Shuffle(len(keys), func(i, j int) { keys[i], keys[j] = keys[j], keys[i] })
	for chunk := range slices.Chunk(keys, 9) {
		require.NoError(t, tree.Update(ctx, nil, chunk))
		require.NoError(t, tree.Verify())
	}
	assert.Equal(t, 0, tree.Size())
	checkContents(t, tree.BTreeMap, map[int]string{})
}

func TestBTreeBareLive(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 3)
	ref := fillTree(t, tree.BTreeMap, span(0, 200)...)
	assert.True(t, tree.IsLive())
	assert.False(t, tree.IsBare())

	require.NoError(t, tree.Deflate(ctx))
	assert.True(t, tree.IsBare())
	assert.False(t, tree.IsLive())
	root, ok := tree.Root()
	require.True(t, ok)

	// deflating a bare tree does nothing
	tree.be.Reset()
	require.NoError(t, tree.Deflate(ctx))
	assert.Equal(t, int64(0), tree.be.Puts())

	reopened, err := OpenBTreeMap(tree.Schema(), tree.nodes, root, 200)
	require.NoError(t, err)
	assert.True(t, reopened.IsBare())
	require.NoError(t, reopened.Inflate(ctx))
	assert.True(t, reopened.IsLive())
	checkContents(t, reopened, ref)

	// an unchanged inflated tree deflates to the same root without pushing anything
	tree.be.Reset()
	require.NoError(t, reopened.Deflate(ctx))
	again, ok := reopened.Root()
	require.True(t, ok)
	assert.True(t, root.Equals(again))
	assert.Equal(t, int64(0), tree.be.Puts())
}

func TestBTreeUpdateLocality(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	fillTree(t, tree.BTreeMap, span(0, 400)...)
	require.NoError(t, tree.Deflate(ctx))
	total := tree.be.Puts()
	require.Greater(t, total, int64(100))

	tree.be.Reset()
	require.NoError(t, tree.Update(ctx, []KV[int, string]{{Key: 1000, Value: "new"}}, []int{17}))
	require.NoError(t, tree.Deflate(ctx))

	// a handful of paths, nowhere near the whole tree
	assert.LessOrEqual(t, tree.be.Gets(), int64(30))
	assert.LessOrEqual(t, tree.be.Puts(), int64(30))

	v, ok, err := tree.GetContext(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "new", v)
	_, ok, err = tree.GetContext(ctx, 17)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBTreeNotLoaded(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	fillTree(t, tree.BTreeMap, span(0, 100)...)
	require.NoError(t, tree.Deflate(ctx))
	root, _ := tree.Root()

	_, _, err := tree.Get(42)
	nle, ok := AsNotLoaded(err)
	require.True(t, ok)
	assert.True(t, root.Equals(nle.Locator))
	assert.Equal(t, 42, nle.Key)

	// each hop resolves one more node on the way down
	hops := 0
	for {
		_, _, err := tree.Get(42)
		nle, ok := AsNotLoaded(err)
		if !ok {
			require.NoError(t, err)
			break
		}
		require.NoError(t, nle.Resolve(ctx))
		hops++
	}
	assert.Greater(t, hops, 1)

	v, ok, err := tree.Get(42)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v42", v)

	// a key on another path is still behind a ghost
	_, err = tree.Contains(99)
	_, ok = AsNotLoaded(err)
	assert.True(t, ok)

	found, err := Retry(ctx, 0, func() (bool, error) { return tree.Contains(99) })
	require.NoError(t, err)
	assert.True(t, found)

	// 100 keys at m=2 need at least four levels, so one hop is not enough
	bare, err := OpenBTreeMap(tree.Schema(), tree.nodes, root, 100)
	require.NoError(t, err)
	_, err = Retry(ctx, 1, func() (bool, error) { return bare.Contains(99) })
	assert.Error(t, err)
	_, ok = AsNotLoaded(err)
	assert.True(t, ok)
}

func TestBTreeFailedUpdateLeavesTree(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	ref := fillTree(t, tree.BTreeMap, span(0, 150)...)
	require.NoError(t, tree.Deflate(ctx))
	require.NoError(t, tree.InflateKey(ctx, 3))

	tree.flaky.failGets.Store(true)
	err := tree.Update(ctx, []KV[int, string]{{Key: 140, Value: "x"}, {Key: 1, Value: "y"}}, []int{70})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errBoom))
	tree.flaky.failGets.Store(false)

	require.NoError(t, tree.Verify())
	checkContents(t, tree.BTreeMap, ref)
}

func TestBTreeFailedDeflate(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	ref := fillTree(t, tree.BTreeMap, span(0, 50)...)

	tree.flaky.failPuts.Store(true)
	require.Error(t, tree.Deflate(ctx))
	assert.False(t, tree.IsBare())
	v, ok, err := tree.Get(10)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v10", v)

	tree.flaky.failPuts.Store(false)
	require.NoError(t, tree.Deflate(ctx))
	assert.True(t, tree.IsBare())
	checkContents(t, tree.BTreeMap, ref)
}

func TestBTreeCloneIsolation(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	ref := fillTree(t, tree.BTreeMap, span(0, 60)...)
	require.NoError(t, tree.Deflate(ctx))

	snapshot := tree.Clone()
	require.NoError(t, tree.Update(ctx, []KV[int, string]{{Key: 5, Value: "changed"}, {Key: 100, Value: "added"}}, []int{6, 7}))

	checkContents(t, snapshot, ref)
	v, _, err := tree.GetContext(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, "changed", v)
	assert.Equal(t, 59, tree.Size())
}

func TestBTreeSet(t *testing.T) {
	ctx := context.Background()
	s := NewSetSchema(2, cmp.Compare[string], StringKeys)
	nodes := NewNodeSerializer("test-set", s, arcstore.NewMemory(), nil)
	set, err := NewBTreeSet(s, nodes)
	require.NoError(t, err)

	require.NoError(t, set.UpdateSet(ctx, []string{"pear", "apple", "fig", "kiwi", "plum"}, nil))
	require.NoError(t, set.UpdateSet(ctx, []string{"lime"}, []string{"fig", "nope"}))
	require.NoError(t, set.Deflate(ctx))

	root, _ := set.Root()
	reopened, err := OpenBTreeSet(s, nodes, root, set.Size())
	require.NoError(t, err)
	found, err := Retry(ctx, 0, func() (bool, error) { return reopened.Contains("kiwi") })
	require.NoError(t, err)
	assert.True(t, found)

	require.NoError(t, reopened.Inflate(ctx))
	keys, err := reopened.Keys()
	require.NoError(t, err)
	assert.Equal(t, []string{"apple", "kiwi", "lime", "pear", "plum"}, keys)
}

func TestNodeTranslatorRefusesLiveChildren(t *testing.T) {
	tree := newTestTree(t, 2)
	fillTree(t, tree.BTreeMap, span(0, 20)...)
	root, ok := tree.root.Value()
	require.True(t, ok)
	require.False(t, root.IsLeaf())

	_, err := NodeTranslator[int, string]{Schema: tree.Schema()}.App(root)
	assert.True(t, errors.Is(err, archive.ErrNotBare))

	_, err = TreeTranslator[int, string]{Schema: tree.Schema(), Nodes: tree.nodes}.App(tree.BTreeMap)
	assert.True(t, errors.Is(err, archive.ErrNotBare))
}

func TestNodeTranslatorRejectsBadDocuments(t *testing.T) {
	tree := newTestTree(t, 2)
	nt := NodeTranslator[int, string]{Schema: tree.Schema()}

	cases := map[string]map[string]any{
		"no size":      {"entries": []any{}, "subnodes": []any{}},
		"out of order": {"size": int64(2), "entries": []any{[]any{int64(2), "a"}, []any{int64(1), "b"}}, "subnodes": []any{}},
		"wrong size":   {"size": int64(5), "entries": []any{[]any{int64(1), "a"}}, "subnodes": []any{}},
		"not a pair":   {"size": int64(1), "entries": []any{int64(1)}, "subnodes": []any{}},
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := nt.Rev(doc)
			assert.True(t, errors.Is(err, archive.ErrDataFormat), "got %v", err)
		})
	}
}

func TestTreeTranslator(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	tt := TreeTranslator[int, string]{Schema: tree.Schema(), Nodes: tree.nodes}

	// small trees are written inline
	small := newTestTree(t, 2)
	smallRef := fillTree(t, small.BTreeMap, 1, 2)
	doc, err := tt.App(small.BTreeMap)
	require.NoError(t, err)
	_, inline := doc["root"].(map[string]any)
	assert.True(t, inline)
	back, err := tt.Rev(doc)
	require.NoError(t, err)
	checkContents(t, back, smallRef)

	ref := fillTree(t, tree.BTreeMap, span(0, 40)...)
	require.NoError(t, tree.Deflate(ctx))
	doc, err = tt.App(tree.BTreeMap)
	require.NoError(t, err)
	assert.Equal(t, int64(40), doc["size"])
	back, err = tt.Rev(doc)
	require.NoError(t, err)
	assert.True(t, back.IsBare())
	checkContents(t, back, ref)

	doc["node_min"] = int64(3)
	_, err = tt.Rev(doc)
	assert.True(t, errors.Is(err, archive.ErrDataFormat))
}

func TestDebugTree(t *testing.T) {
	ctx := context.Background()
	tree := newTestTree(t, 2)
	fillTree(t, tree.BTreeMap, span(0, 30)...)
	require.NoError(t, tree.Deflate(ctx))

	out := DebugTree(tree.BTreeMap, DebugOptions[int]{}).String()
	assert.Contains(t, out, "─◌")
	assert.Contains(t, out, "size=30")

	require.NoError(t, tree.InflateKey(ctx, 0))
	out = DebugTree(tree.BTreeMap, DebugOptions[int]{MaxKeys: 1}).String()
	assert.Contains(t, out, "─◉")
	assert.Contains(t, out, "─◌")
	assert.Greater(t, tree.Height(), 1)
}
