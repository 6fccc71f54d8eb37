package protoindex

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/posting"
	"github.com/hyphanet/plugin-Library-sub002/skeleton"
)

// ProtoIndex is a search index made of two partially loaded trees: ttab maps each term to the set of its postings, and utab maps URI buckets (see URIKey) to what is known about each page.
//
// Any number of lookups may run at once. Writes are applied one at a time, and each ends by pushing the index.
type ProtoIndex struct {
	Name       string
	OwnerName  string
	OwnerEmail string
	TotalPages int64
	Modified   time.Time
	Extra      map[string]any

	// private key the index is inserted under; never stored
	insertKey string

	id   archive.ObjectID
	root archive.Locator
	srl  *Serializer
	log  *slog.Logger

	// held by writers for the whole write, and by readers while they touch the trees
	mu   sync.Mutex
	ttab *termTable
	utab *uriTable

	lookupsLk sync.Mutex
	lookups   map[string]*Execution[*PostingsView]
}

func (s *Serializer) newIndex(name string, ttab *termTable, utab *uriTable) *ProtoIndex {
	return &ProtoIndex{
		Name:    name,
		id:      archive.NewObjectID(),
		srl:     s,
		log:     s.log.With("index", name),
		ttab:    ttab,
		utab:    utab,
		lookups: make(map[string]*Execution[*PostingsView]),
	}
}

func (idx *ProtoIndex) SetInsertKey(key string) {
	idx.mu.Lock()
	idx.insertKey = key
	idx.mu.Unlock()
}

// Root returns the locator the index was last opened from or pushed to.
func (idx *ProtoIndex) Root() archive.Locator {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.root
}

// TermCount is the number of distinct terms in the index.
func (idx *ProtoIndex) TermCount() int {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.ttab.Size()
}

// GetTermEntries looks up the postings of term. Concurrent lookups of the same term share one Execution.
func (idx *ProtoIndex) GetTermEntries(ctx context.Context, term string) *Execution[*PostingsView] {
	idx.lookupsLk.Lock()
	if ex, ok := idx.lookups[term]; ok {
		idx.lookupsLk.Unlock()
		termLookups.WithLabelValues("true").Inc()
		return ex
	}
	ex := newExecution[*PostingsView]("lookup " + strconv.Quote(term))
	idx.lookups[term] = ex
	idx.lookupsLk.Unlock()
	termLookups.WithLabelValues("false").Inc()

	// the lookup is shared, so no single caller may cancel it
	ctx = context.WithoutCancel(ctx)
	go func() {
		view, err := idx.lookup(ctx, term, ex)
		if err != nil {
			idx.log.Warn("term lookup failed", "term", term, "err", err)
		}
		ex.complete(view, err)
		idx.lookupsLk.Lock()
		delete(idx.lookups, term)
		idx.lookupsLk.Unlock()
	}()
	return ex
}

// Status reports on the lookup of term, if one is in flight.
func (idx *ProtoIndex) Status(term string) (ExecutionStatus, bool) {
	idx.lookupsLk.Lock()
	ex, ok := idx.lookups[term]
	idx.lookupsLk.Unlock()
	if !ok {
		return ExecutionStatus{}, false
	}
	return ex.Status(), true
}

func (idx *ProtoIndex) lookup(ctx context.Context, term string, ex *Execution[*PostingsView]) (*PostingsView, error) {
	hops := 0
	defer func() { lookupHops.Observe(float64(hops)) }()

	var set *PostingSet
	for {
		idx.mu.Lock()
		v, ok, err := idx.ttab.Get(term)
		total := idx.TotalPages
		idx.mu.Unlock()

		nle, ghost := skeleton.AsNotLoaded(err)
		if !ghost {
			if err != nil {
				return nil, err
			}
			if !ok {
				return newPostingsView(term, nil, total), nil
			}
			set = v
			break
		}
		if hops >= idx.srl.cfg.MaxHops {
			return nil, fmt.Errorf("lookup of %q gave up after %d hops: %w", term, hops, err)
		}
		hops++
		if err := idx.resolve(ctx, ex.hop("fetch %s", nle.Locator), nle); err != nil {
			return nil, err
		}
	}

	p := ex.hop("postings of %q", term)
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := set.Inflate(ctx); err != nil {
		p.Abort(err)
		return nil, fmt.Errorf("loading postings of %q: %w", term, err)
	}
	entries, err := set.Keys()
	if err != nil {
		p.Abort(err)
		return nil, err
	}
	p.Finish(len(entries))
	return newPostingsView(term, entries, idx.TotalPages), nil
}

// resolve fetches what nle names without holding the lock, then installs it under the lock.
func (idx *ProtoIndex) resolve(ctx context.Context, p *archive.Progress, nle *skeleton.NotLoadedError) error {
	install, err := nle.Fetch(ctx)
	if err != nil {
		p.Abort(err)
		return err
	}
	idx.mu.Lock()
	err = install()
	idx.mu.Unlock()
	if err != nil {
		p.Abort(err)
		return err
	}
	p.Finish(nle.Locator)
	return nil
}

// PutTermEntries adds entries to the postings of their subjects, replacing any entry with the same target, then pushes the index.
func (idx *ProtoIndex) PutTermEntries(ctx context.Context, entries []posting.Entry) *Execution[archive.Locator] {
	return idx.write(ctx, fmt.Sprintf("put %d term entries", len(entries)), func(ctx context.Context) error {
		return idx.updateTerms(ctx, entries, nil)
	})
}

// RemTermEntries removes entries from the postings of their subjects, then pushes the index. Terms left without postings are dropped.
func (idx *ProtoIndex) RemTermEntries(ctx context.Context, entries []posting.Entry) *Execution[archive.Locator] {
	return idx.write(ctx, fmt.Sprintf("remove %d term entries", len(entries)), func(ctx context.Context) error {
		return idx.updateTerms(ctx, nil, entries)
	})
}

// PutURIEntries records pages, replacing what was known about them, then pushes the index.
func (idx *ProtoIndex) PutURIEntries(ctx context.Context, entries []*URIEntry) *Execution[archive.Locator] {
	return idx.write(ctx, fmt.Sprintf("put %d uri entries", len(entries)), func(ctx context.Context) error {
		return idx.updateURIs(ctx, entries)
	})
}

// Push archives the index as it stands.
func (idx *ProtoIndex) Push(ctx context.Context) *Execution[archive.Locator] {
	return idx.write(ctx, "push", nil)
}

func (idx *ProtoIndex) write(ctx context.Context, subject string, apply func(ctx context.Context) error) *Execution[archive.Locator] {
	ex := newExecution[archive.Locator](subject)
	ctx = context.WithoutCancel(ctx)
	go func() {
		idx.mu.Lock()
		defer idx.mu.Unlock()

		if apply != nil {
			p := ex.hop("apply")
			if err := apply(ctx); err != nil {
				p.Abort(err)
				idx.log.Error("index update failed", "op", subject, "err", err)
				ex.complete(archive.Locator{}, err)
				return
			}
			idx.Modified = time.Now().UTC()
			p.Finish(nil)
		}

		p := ex.hop("push")
		loc, err := idx.srl.push(ctx, idx)
		if err != nil {
			p.Abort(err)
			idx.log.Error("index push failed", "op", subject, "err", err)
			ex.complete(archive.Locator{}, err)
			return
		}
		p.Finish(loc)
		ex.complete(loc, nil)
	}()
	return ex
}

type termChange struct {
	adds    []posting.Entry
	removes []posting.Entry
}

// lastOfEach sorts entries and keeps the last given of every run of equal ones.
func lastOfEach(entries []posting.Entry) []posting.Entry {
	entries = slices.Clone(entries)
	slices.SortStableFunc(entries, posting.Compare)
	out := entries[:0]
	for i, e := range entries {
		if i+1 < len(entries) && posting.Compare(e, entries[i+1]) == 0 {
			continue
		}
		out = append(out, e)
	}
	return out
}

// updateTerms expects idx.mu to be held. Every posting set is changed on a copy and the copies go into ttab in one update, so a failure leaves the index as it was.
func (idx *ProtoIndex) updateTerms(ctx context.Context, puts, removes []posting.Entry) error {
	// anything that could not be archived is refused before the index is touched
	for _, e := range slices.Concat(puts, removes) {
		if _, err := posting.Encode(e); err != nil {
			return fmt.Errorf("entry for %q: %w", e.Subject(), err)
		}
	}

	changes := make(map[string]*termChange)
	change := func(term string) *termChange {
		c, ok := changes[term]
		if !ok {
			c = &termChange{}
			changes[term] = c
		}
		return c
	}
	for _, e := range puts {
		c := change(e.Subject())
		c.adds = append(c.adds, e)
	}
	for _, e := range removes {
		c := change(e.Subject())
		c.removes = append(c.removes, e)
	}

	var kvs []skeleton.KV[string, *PostingSet]
	var gone []string
	for _, term := range slices.Sorted(maps.Keys(changes)) {
		c := changes[term]
		cur, found, err := idx.ttab.GetContext(ctx, term)
		if err != nil {
			return fmt.Errorf("loading postings of %q: %w", term, err)
		}
		var set *PostingSet
		switch {
		case found:
			set = cur.Clone()
		case len(c.adds) == 0:
			continue
		default:
			if set, err = idx.srl.newPostingSet(); err != nil {
				return err
			}
		}

		adds := lastOfEach(c.adds)
		// a put replaces the stored entry for the same target, and removals come first
		if err := set.UpdateSet(ctx, adds, append(slices.Clone(c.removes), adds...)); err != nil {
			return fmt.Errorf("updating postings of %q: %w", term, err)
		}
		if set.Size() == 0 {
			if found {
				gone = append(gone, term)
			}
			continue
		}
		kvs = append(kvs, skeleton.KV[string, *PostingSet]{Key: term, Value: set})
	}
	if err := idx.ttab.Update(ctx, kvs, gone); err != nil {
		return fmt.Errorf("updating term table: %w", err)
	}
	entriesWritten.WithLabelValues("ttab", "put").Add(float64(len(puts)))
	entriesWritten.WithLabelValues("ttab", "remove").Add(float64(len(removes)))
	idx.log.Debug("updated terms", "terms", len(changes), "dropped", len(gone))
	return nil
}

// updateURIs expects idx.mu to be held.
func (idx *ProtoIndex) updateURIs(ctx context.Context, entries []*URIEntry) error {
	buckets := make(map[string][]*URIEntry)
	for _, e := range entries {
		if e.URI == "" {
			return fmt.Errorf("uri entry without uri")
		}
		k := URIKey(e.URI)
		buckets[k] = append(buckets[k], e)
	}

	var kvs []skeleton.KV[string, *URITable]
	var added int64
	for _, key := range slices.Sorted(maps.Keys(buckets)) {
		cur, found, err := idx.utab.GetContext(ctx, key)
		if err != nil {
			return fmt.Errorf("loading uri bucket %s: %w", key, err)
		}
		var tbl *URITable
		if found {
			tbl = cur.Clone()
		} else if tbl, err = idx.srl.newURITable(); err != nil {
			return err
		}

		seen := make(map[string]bool)
		var puts []skeleton.KV[string, *URIEntry]
		for _, e := range buckets[key] {
			if !seen[e.URI] {
				seen[e.URI] = true
				known, err := skeleton.Retry(ctx, idx.srl.cfg.MaxHops, func() (bool, error) {
					return tbl.Contains(e.URI)
				})
				if err != nil {
					return err
				}
				if !known {
					added++
				}
			}
			puts = append(puts, skeleton.KV[string, *URIEntry]{Key: e.URI, Value: e})
		}
		if err := tbl.Update(ctx, puts, nil); err != nil {
			return fmt.Errorf("updating uri bucket %s: %w", key, err)
		}
		kvs = append(kvs, skeleton.KV[string, *URITable]{Key: key, Value: tbl})
	}
	if err := idx.utab.Update(ctx, kvs, nil); err != nil {
		return fmt.Errorf("updating uri table: %w", err)
	}
	idx.TotalPages += added
	entriesWritten.WithLabelValues("utab", "put").Add(float64(len(entries)))
	return nil
}

// GetURIEntry returns what is known about the page at uri.
func (idx *ProtoIndex) GetURIEntry(ctx context.Context, uri string) (*URIEntry, bool, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	tbl, ok, err := idx.utab.GetContext(ctx, URIKey(uri))
	if err != nil || !ok {
		return nil, false, err
	}
	return tbl.GetContext(ctx, uri)
}

// Terms lists every term in order. Only the nodes of ttab are loaded for it, not the postings.
func (idx *ProtoIndex) Terms(ctx context.Context) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return skeleton.Retry(ctx, 0, idx.ttab.Keys)
}

// DebugTree renders the resident part of ttab after loading its top levels.
func (idx *ProtoIndex) DebugTree(ctx context.Context, levels int, opts skeleton.DebugOptions[string]) (string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if err := idx.ttab.InflateLevels(ctx, levels); err != nil {
		return "", err
	}
	return skeleton.DebugTree(idx.ttab, opts).String(), nil
}

func (s *Serializer) newPostingSet() (*PostingSet, error) {
	set, err := skeleton.NewBTreeSet(s.postingSchema, s.postingNodes)
	if err != nil {
		return nil, err
	}
	tuneTree(set.BTreeMap, s.cfg.MaxConcurrency)
	return set, nil
}

func (s *Serializer) newURITable() (*URITable, error) {
	t, err := skeleton.NewBTreeMap(s.uriSchema, s.uriNodes)
	if err != nil {
		return nil, err
	}
	return tuneTree(t, s.cfg.MaxConcurrency), nil
}
