package protoindex

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/arcstore"
	"github.com/hyphanet/plugin-Library-sub002/doccodec"
	"github.com/hyphanet/plugin-Library-sub002/posting"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingBackend keeps every block and hint it is handed, and can hold reads back.
type recordingBackend struct {
	archive.Backend

	lk     sync.Mutex
	blocks [][]byte
	hints  []string

	gate chan struct{}
}

func newRecordingBackend() *recordingBackend {
	return &recordingBackend{Backend: arcstore.NewMemory()}
}

func (r *recordingBackend) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	r.lk.Lock()
	gate := r.gate
	r.lk.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.Backend.Get(ctx, loc)
}

func (r *recordingBackend) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	r.lk.Lock()
	r.blocks = append(r.blocks, bytes.Clone(data))
	if hint != "" {
		r.hints = append(r.hints, hint)
	}
	r.lk.Unlock()
	return r.Backend.Put(ctx, data, hint)
}

func (r *recordingBackend) hold() chan struct{} {
	r.lk.Lock()
	defer r.lk.Unlock()
	r.gate = make(chan struct{})
	return r.gate
}

type publishRecorder struct {
	lk    sync.Mutex
	roots map[string]archive.Locator
}

func (p *publishRecorder) Publish(ctx context.Context, insertKey string, root archive.Locator) error {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.roots == nil {
		p.roots = make(map[string]archive.Locator)
	}
	p.roots[insertKey] = root
	return nil
}

func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.NodeMin = 4
	cfg.BinCapacity = 4
	cfg.Workers = 8
	return cfg
}

func join[T any](t *testing.T, ex *Execution[T]) T {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	v, err := ex.Join(ctx)
	require.NoError(t, err)
	return v
}

func pages(f *gofakeit.Faker, term string, n int) []posting.Entry {
	out := make([]posting.Entry, n)
	for i := range out {
		out[i] = &posting.PageEntry{
			Subj:      term,
			Rel:       0.5,
			Page:      fmt.Sprintf("CHK@page-%04d", i),
			Title:     f.Sentence(3),
			Positions: map[int32]string{int32(i): "", int32(i + 7): f.Word()},
		}
	}
	return out
}

func TestLoremScenario(t *testing.T) {
	ctx := context.Background()
	f := gofakeit.New(42)
	be := newRecordingBackend()

	srl := NewSerializer(be, testConfig())
	idx, err := srl.New("lorem-index")
	require.NoError(t, err)
	idx.OwnerName = "tester"

	want := pages(f, "lorem", 300)
	entries := slices.Concat(want, []posting.Entry{&posting.TermEntry{Subj: "ipsum", Rel: 1, Term: "lorem"}})
	root := join(t, idx.PutTermEntries(ctx, entries))
	require.True(t, root.Defined())
	assert.Equal(t, root, idx.Root())
	// pushing leaves nothing resident
	assert.True(t, idx.ttab.IsBare())
	assert.True(t, idx.utab.IsBare())

	reopened, err := NewSerializer(be, testConfig()).Open(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, "lorem-index", reopened.Name)
	assert.Equal(t, "tester", reopened.OwnerName)
	assert.False(t, reopened.Modified.IsZero())
	assert.Equal(t, 2, reopened.TermCount())
	assert.True(t, reopened.ttab.IsBare())

	// the postings of a term arrive bare and load on their own
	set, ok, err := reopened.ttab.GetContext(ctx, "lorem")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, set.IsBare())
	assert.False(t, set.IsLive())
	assert.Equal(t, 300, set.Size())
	require.NoError(t, set.Inflate(ctx))
	assert.True(t, set.IsLive())
	assert.Equal(t, 300, set.Size())
	stored, err := set.Keys()
	require.NoError(t, err)
	assert.Len(t, stored, 300)

	view := join(t, reopened.GetTermEntries(ctx, "lorem"))
	require.Equal(t, 300, view.Len())
	got := view.Entries()
	posting.SortEntries(want)
	for i := range want {
		assert.True(t, posting.Equal(want[i], got[i]), "entry %d", i)
	}

	view = join(t, reopened.GetTermEntries(ctx, "dolor"))
	assert.Equal(t, 0, view.Len())

	terms, err := reopened.Terms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ipsum", "lorem"}, terms)
}

func TestRemTermEntries(t *testing.T) {
	ctx := context.Background()
	f := gofakeit.New(7)
	srl := NewSerializer(arcstore.NewMemory(), testConfig())
	idx, err := srl.New("rem")
	require.NoError(t, err)

	lorem := pages(f, "lorem", 40)
	ipsum := pages(f, "ipsum", 5)
	join(t, idx.PutTermEntries(ctx, slices.Concat(lorem, ipsum)))

	root := join(t, idx.RemTermEntries(ctx, slices.Concat(lorem[:10], ipsum)))
	assert.Equal(t, 1, idx.TermCount())

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)
	view := join(t, reopened.GetTermEntries(ctx, "lorem"))
	assert.Equal(t, 30, view.Len())
	view = join(t, reopened.GetTermEntries(ctx, "ipsum"))
	assert.Equal(t, 0, view.Len())

	// putting an entry again replaces it
	changed := posting.WithRelevance(lorem[20], 0.75)
	join(t, reopened.PutTermEntries(ctx, []posting.Entry{changed}))
	view = join(t, reopened.GetTermEntries(ctx, "lorem"))
	assert.Equal(t, 30, view.Len())
	var found bool
	for e := range view.All() {
		if posting.EqualsTarget(e, changed) {
			found = true
			assert.Equal(t, float32(0.75), e.Relevance())
		}
	}
	assert.True(t, found)
}

func TestRelevanceMultiplier(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(1.0, relevanceMultiplier(0, 10))
	assert.Equal(1.0, relevanceMultiplier(10, 0))
	assert.Equal(1.0, relevanceMultiplier(10, 10))
	// stale counts can have more entries than pages
	assert.Equal(1.0, relevanceMultiplier(5, 10))
	assert.InDelta(math.Log(100), relevanceMultiplier(1000, 10), 1e-9)

	entries := []posting.Entry{
		&posting.PageEntry{Subj: "t", Rel: 0.5, Page: "a"},
		&posting.TermEntry{Subj: "t", Rel: 0.5, Term: "u"},
	}
	view := newPostingsView("t", entries, 1000*2)
	out := view.Entries()
	assert.InDelta(0.5*math.Log(1000), float64(out[0].Relevance()), 1e-4)
	assert.Equal(float32(0.5), out[1].Relevance())
	// the stored entry is left alone
	assert.Equal(float32(0.5), entries[0].Relevance())
}

func TestInsertKeyNeverStored(t *testing.T) {
	ctx := context.Background()
	const secret = "SSK@very-secret-insert-key"
	be := newRecordingBackend()
	pub := &publishRecorder{}
	srl := NewSerializer(be, testConfig())
	srl.Publisher = pub

	idx, err := srl.New("secret")
	require.NoError(t, err)
	idx.SetInsertKey(secret)
	root := join(t, idx.PutTermEntries(ctx, pages(gofakeit.New(1), "lorem", 10)))

	require.NotEmpty(t, be.blocks)
	for _, b := range be.blocks {
		assert.False(t, bytes.Contains(b, []byte(secret)))
	}
	assert.Equal(t, []string{secret}, be.hints)
	assert.Equal(t, root, pub.roots[secret])

	// without a key nothing is published
	plain, err := srl.New("plain")
	require.NoError(t, err)
	join(t, plain.Push(ctx))
	assert.Len(t, pub.roots, 1)
}

func TestIndexDocumentRejectsInsertKey(t *testing.T) {
	ctx := context.Background()
	be := arcstore.NewMemory()
	srl := NewSerializer(be, testConfig())
	idx, err := srl.New("x")
	require.NoError(t, err)
	idx.SetInsertKey("SSK@leak")

	doc, err := indexTranslator{srl}.App(idx)
	require.NoError(t, err)
	assert.Equal(t, "SSK@leak", doc["insID"])
	b, err := doccodec.Marshal(doc)
	require.NoError(t, err)
	loc, err := be.Put(ctx, b, "")
	require.NoError(t, err)

	_, err = srl.Open(ctx, loc)
	assert.ErrorIs(t, err, archive.ErrDataFormat)
}

func TestURIEntries(t *testing.T) {
	ctx := context.Background()
	f := gofakeit.New(3)
	srl := NewSerializer(arcstore.NewMemory(), testConfig())
	idx, err := srl.New("uris")
	require.NoError(t, err)

	var entries []*URIEntry
	for i := 0; i < 60; i++ {
		entries = append(entries, &URIEntry{
			URI:       fmt.Sprintf("CHK@%s/%d", f.LetterN(10), i),
			Title:     f.Sentence(4),
			Quality:   f.Float32Range(0, 1),
			WordCount: int64(f.IntRange(1, 5000)),
		})
	}
	join(t, idx.PutURIEntries(ctx, entries))
	assert.Equal(t, int64(60), idx.TotalPages)

	again := *entries[5]
	again.Title = "renamed"
	root := join(t, idx.PutURIEntries(ctx, []*URIEntry{&again, &again}))
	assert.Equal(t, int64(60), idx.TotalPages)

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)
	assert.Equal(t, int64(60), reopened.TotalPages)
	got, ok, err := reopened.GetURIEntry(ctx, entries[5].URI)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "renamed", got.Title)
	got, ok, err = reopened.GetURIEntry(ctx, entries[40].URI)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries[40], got)
	_, ok, err = reopened.GetURIEntry(ctx, "CHK@missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestURIKey(t *testing.T) {
	assert.Len(t, URIKey("CHK@x"), 4)
	assert.Equal(t, URIKey("CHK@x"), URIKey("CHK@x"))
	assert.Regexp(t, "^[0-9a-f]{4}$", URIKey(""))
}

func TestConcurrentLookupsShareExecution(t *testing.T) {
	ctx := context.Background()
	be := newRecordingBackend()
	srl := NewSerializer(be, testConfig())
	idx, err := srl.New("shared")
	require.NoError(t, err)
	root := join(t, idx.PutTermEntries(ctx, pages(gofakeit.New(9), "lorem", 50)))

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)
	gate := be.hold()

	a := reopened.GetTermEntries(ctx, "lorem")
	b := reopened.GetTermEntries(ctx, "lorem")
	assert.Same(t, a, b)
	status, ok := reopened.Status("lorem")
	require.True(t, ok)
	assert.Equal(t, archive.StatusRunning, status.Status)

	// a caller giving up does not stop the lookup
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	_, err = a.Join(short)
	cancel()
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	va := join(t, a)
	vb := join(t, b)
	assert.Same(t, va, vb)
	assert.Equal(t, 50, va.Len())
	st := a.Status()
	assert.Equal(t, archive.StatusDone, st.Status)
	assert.NotEmpty(t, st.Hops)
	assert.Eventually(t, func() bool {
		_, ok := reopened.Status("lorem")
		return !ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestWriteOutlivesCaller(t *testing.T) {
	ctx := context.Background()
	be := newRecordingBackend()
	srl := NewSerializer(be, testConfig())
	idx, err := srl.New("sturdy")
	require.NoError(t, err)
	root := join(t, idx.PutTermEntries(ctx, pages(gofakeit.New(11), "lorem", 30)))

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)
	gate := be.hold()
	ex := reopened.PutTermEntries(ctx, pages(gofakeit.New(12), "ipsum", 3))
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = ex.Join(short)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(gate)
	join(t, ex)
	assert.Equal(t, 2, reopened.TermCount())
}

func TestInvalidUTF8TermsRefused(t *testing.T) {
	ctx := context.Background()
	srl := NewSerializer(arcstore.NewMemory(), testConfig())
	idx, err := srl.New("utf8")
	require.NoError(t, err)
	root := join(t, idx.PutTermEntries(ctx, pages(gofakeit.New(5), "lorem", 10)))
	modified := idx.Modified

	// both would read back as "a\uFFFD" if they were ever written
	bad := []posting.Entry{
		&posting.PageEntry{Subj: "a\xfe", Page: "CHK@one"},
		&posting.PageEntry{Subj: "a\xff", Page: "CHK@two"},
	}
	jctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err = idx.PutTermEntries(ctx, bad).Join(jctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")

	_, err = idx.RemTermEntries(ctx, bad[:1]).Join(jctx)
	assert.Error(t, err)

	assert.Equal(t, root, idx.Root())
	assert.Equal(t, modified, idx.Modified)
	assert.Equal(t, 1, idx.TermCount())
	view := join(t, idx.GetTermEntries(ctx, "lorem"))
	assert.Equal(t, 10, view.Len())

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)
	terms, err := reopened.Terms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"lorem"}, terms)
	view = join(t, reopened.GetTermEntries(ctx, "lorem"))
	assert.Equal(t, 10, view.Len())
}

// Meant to be run with -race: lookups fetch nodes without the index lock while writers pull the same nodes under it.
func TestLookupsDuringWrites(t *testing.T) {
	ctx := context.Background()
	f := gofakeit.New(21)
	srl := NewSerializer(arcstore.NewMemory(), testConfig())
	idx, err := srl.New("busy")
	require.NoError(t, err)

	const nterms = 40
	terms := make([]string, nterms)
	var entries []posting.Entry
	for i := range terms {
		terms[i] = fmt.Sprintf("term-%02d", i)
		entries = append(entries, pages(f, terms[i], 5)...)
	}
	root := join(t, idx.PutTermEntries(ctx, entries))

	reopened, err := srl.Open(ctx, root)
	require.NoError(t, err)

	const writers, writes = 4, 3
	want := make(map[string]int, nterms)
	for _, term := range terms {
		want[term] = 5
	}
	for w := 0; w < writers; w++ {
		for i := 0; i < writes; i++ {
			want[terms[(w*10+i)%nterms]]++
		}
	}

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				term := terms[(g*7+i*3)%nterms]
				jctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				view, err := reopened.GetTermEntries(ctx, term).Join(jctx)
				cancel()
				if !assert.NoError(t, err, term) {
					return
				}
				assert.GreaterOrEqual(t, view.Len(), 5, term)
			}
		}(g)
	}
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < writes; i++ {
				term := terms[(w*10+i)%nterms]
				e := &posting.PageEntry{Subj: term, Rel: 0.25, Page: fmt.Sprintf("CHK@writer-%d-%d", w, i)}
				jctx, cancel := context.WithTimeout(ctx, 30*time.Second)
				_, err := reopened.PutTermEntries(ctx, []posting.Entry{e}).Join(jctx)
				cancel()
				if !assert.NoError(t, err, term) {
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, term := range terms {
		view := join(t, reopened.GetTermEntries(ctx, term))
		assert.Equal(t, want[term], view.Len(), term)
	}

	final, err := srl.Open(ctx, reopened.Root())
	require.NoError(t, err)
	for _, term := range terms {
		view := join(t, final.GetTermEntries(ctx, term))
		assert.Equal(t, want[term], view.Len(), term)
	}
}
