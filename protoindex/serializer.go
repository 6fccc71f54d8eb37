package protoindex

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/posting"
	"github.com/hyphanet/plugin-Library-sub002/skeleton"
)

// IndexVersion is written into every index document.
const IndexVersion = 1

type (
	PostingSet = skeleton.BTreeSet[posting.Entry]
	URITable   = skeleton.BTreeMap[string, *URIEntry]

	termTable = skeleton.BTreeMap[string, *PostingSet]
	uriTable  = skeleton.BTreeMap[string, *URITable]
)

// Publisher is told about every index pushed with an insert key.
type Publisher interface {
	Publish(ctx context.Context, insertKey string, root archive.Locator) error
}

// Serializer opens, creates and pushes indexes stored in one backend. All indexes of a serializer share its worker pool and schemas.
type Serializer struct {
	cfg *Config
	log *slog.Logger

	// optional
	Publisher Publisher

	pool *archive.Pool

	postingSchema *skeleton.Schema[posting.Entry, struct{}]
	uriSchema     *skeleton.Schema[string, *URIEntry]
	ttabSchema    *skeleton.Schema[string, *PostingSet]
	utabSchema    *skeleton.Schema[string, *URITable]

	postingNodes *archive.ParallelSerializer[*skeleton.Node[posting.Entry, struct{}]]
	uriNodes     *archive.ParallelSerializer[*skeleton.Node[string, *URIEntry]]
	ttabNodes    *archive.ParallelSerializer[*skeleton.Node[string, *PostingSet]]
	utabNodes    *archive.ParallelSerializer[*skeleton.Node[string, *URITable]]

	indexes *archive.ParallelSerializer[*ProtoIndex]
}

func NewSerializer(be archive.Backend, cfg *Config) *Serializer {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default().With("system", "protoindex")
	}
	s := &Serializer{
		cfg:  cfg,
		log:  log,
		pool: archive.NewPool("protoindex", cfg.Workers),
	}

	s.postingSchema = skeleton.NewSetSchema(cfg.NodeMin, posting.Compare, entryKeys)
	s.postingNodes = skeleton.NewNodeSerializer("posting-nodes", s.postingSchema, be, s.pool)
	s.uriSchema = &skeleton.Schema[string, *URIEntry]{
		NodeMin: cfg.NodeMin,
		Compare: strings.Compare,
		Keys:    skeleton.StringKeys,
		Values:  uriEntryValues,
	}
	s.uriNodes = skeleton.NewNodeSerializer("uri-nodes", s.uriSchema, be, s.pool)

	postingTrees := skeleton.TreeTranslator[posting.Entry, struct{}]{Schema: s.postingSchema, Nodes: s.postingNodes}
	s.ttabSchema = &skeleton.Schema[string, *PostingSet]{
		NodeMin: cfg.NodeMin,
		Compare: strings.Compare,
		Keys:    skeleton.StringKeys,
		Packed: &skeleton.Packer[*PostingSet]{
			BinCapacity: cfg.BinCapacity,
			Bins:        skeleton.NewBinSerializer("ttab-bins", be, s.pool),
			Deflate:     func(ctx context.Context, ps *PostingSet) error { return ps.Deflate(ctx) },
			Header: archive.TranslatorFuncs[*PostingSet, map[string]any]{
				AppFunc: func(ps *PostingSet) (map[string]any, error) { return postingTrees.App(ps.BTreeMap) },
				RevFunc: func(doc map[string]any) (*PostingSet, error) {
					t, err := postingTrees.Rev(doc)
					if err != nil {
						return nil, err
					}
					return &PostingSet{BTreeMap: tuneTree(t, s.cfg.MaxConcurrency)}, nil
				},
			},
			Concurrency: cfg.MaxConcurrency,
		},
	}
	s.ttabNodes = skeleton.NewNodeSerializer("ttab-nodes", s.ttabSchema, be, s.pool)

	uriTrees := skeleton.TreeTranslator[string, *URIEntry]{Schema: s.uriSchema, Nodes: s.uriNodes}
	s.utabSchema = &skeleton.Schema[string, *URITable]{
		NodeMin: cfg.NodeMin,
		Compare: strings.Compare,
		Keys:    skeleton.StringKeys,
		Packed: &skeleton.Packer[*URITable]{
			BinCapacity: cfg.BinCapacity,
			Bins:        skeleton.NewBinSerializer("utab-bins", be, s.pool),
			Deflate:     func(ctx context.Context, t *URITable) error { return t.Deflate(ctx) },
			Header: archive.TranslatorFuncs[*URITable, map[string]any]{
				AppFunc: uriTrees.App,
				RevFunc: func(doc map[string]any) (*URITable, error) {
					t, err := uriTrees.Rev(doc)
					if err != nil {
						return nil, err
					}
					return tuneTree(t, s.cfg.MaxConcurrency), nil
				},
			},
			Concurrency: cfg.MaxConcurrency,
		},
	}
	s.utabNodes = skeleton.NewNodeSerializer("utab-nodes", s.utabSchema, be, s.pool)

	s.indexes = archive.NewParallelSerializer[*ProtoIndex]("indexes", &archive.DocArchiver[*ProtoIndex]{
		Backend:      be,
		Translator:   indexTranslator{s},
		BeforeEncode: stripInsertKey,
		AfterPush:    s.publish,
	}, s.pool, nil)
	return s
}

func tuneTree[K, V any](t *skeleton.BTreeMap[K, V], maxConcurrency int) *skeleton.BTreeMap[K, V] {
	if maxConcurrency > 0 {
		t.MaxConcurrency = maxConcurrency
	}
	return t
}

// New creates an empty index.
func (s *Serializer) New(name string) (*ProtoIndex, error) {
	ttab, err := skeleton.NewBTreeMap(s.ttabSchema, s.ttabNodes)
	if err != nil {
		return nil, err
	}
	utab, err := skeleton.NewBTreeMap(s.utabSchema, s.utabNodes)
	if err != nil {
		return nil, err
	}
	return s.newIndex(name, tuneTree(ttab, s.cfg.MaxConcurrency), tuneTree(utab, s.cfg.MaxConcurrency)), nil
}

// Open returns the index stored at loc. Nothing beyond the index document itself is fetched until it is needed.
func (s *Serializer) Open(ctx context.Context, loc archive.Locator) (*ProtoIndex, error) {
	task := archive.NewPullTask[*ProtoIndex](loc)
	if err := s.indexes.Pull(ctx, task); err != nil {
		return nil, fmt.Errorf("opening index %s: %w", loc, err)
	}
	task.Data.root = loc
	return task.Data, nil
}

// Push archives every change made to idx and returns the locator of its new index document. If idx has an insert key, the Publisher hears about it.
func (s *Serializer) Push(ctx context.Context, idx *ProtoIndex) (archive.Locator, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return s.push(ctx, idx)
}

// push expects idx.mu to be held.
func (s *Serializer) push(ctx context.Context, idx *ProtoIndex) (archive.Locator, error) {
	start := time.Now()
	if err := idx.ttab.Deflate(ctx); err != nil {
		return archive.Locator{}, fmt.Errorf("pushing term table: %w", err)
	}
	if err := idx.utab.Deflate(ctx); err != nil {
		return archive.Locator{}, fmt.Errorf("pushing uri table: %w", err)
	}
	task := archive.NewPushTask(idx.id, idx)
	if err := s.indexes.Push(ctx, task); err != nil {
		return archive.Locator{}, fmt.Errorf("pushing index document: %w", err)
	}
	idx.root = task.Meta.Locator
	indexPushes.Inc()
	s.log.Info("pushed index", "name", idx.Name, "root", idx.root, "terms", idx.ttab.Size(), "pages", idx.TotalPages, "duration", time.Since(start))
	return idx.root, nil
}

// stripInsertKey moves the insert key out of the outgoing document before it is encoded.
func stripInsertKey(doc map[string]any, meta *archive.Meta) error {
	raw, ok := doc["insID"]
	if !ok {
		return nil
	}
	delete(doc, "insID")
	key, ok := raw.(string)
	if !ok {
		return fmt.Errorf("insert key is %T", raw)
	}
	meta.Hint = key
	return nil
}

func (s *Serializer) publish(ctx context.Context, meta archive.Meta) error {
	if meta.Hint == "" || s.Publisher == nil {
		return nil
	}
	if err := s.Publisher.Publish(ctx, meta.Hint, meta.Locator); err != nil {
		return fmt.Errorf("publishing %s: %w", meta.Locator, err)
	}
	return nil
}

// indexTranslator maps a bare index to its document:
//
//	{"version", "name", "ownerName", "ownerEmail", "totalPages", "modified", "extra", "ttab", "utab"}
//
// plus "insID" on the way out, which never gets past stripInsertKey.
type indexTranslator struct {
	s *Serializer
}

func (it indexTranslator) App(idx *ProtoIndex) (map[string]any, error) {
	ttab, err := skeleton.TreeTranslator[string, *PostingSet]{Schema: it.s.ttabSchema, Nodes: it.s.ttabNodes}.App(idx.ttab)
	if err != nil {
		return nil, fmt.Errorf("term table: %w", err)
	}
	utab, err := skeleton.TreeTranslator[string, *URITable]{Schema: it.s.utabSchema, Nodes: it.s.utabNodes}.App(idx.utab)
	if err != nil {
		return nil, fmt.Errorf("uri table: %w", err)
	}
	doc := map[string]any{
		"version":    int64(IndexVersion),
		"name":       idx.Name,
		"ownerName":  idx.OwnerName,
		"ownerEmail": idx.OwnerEmail,
		"totalPages": idx.TotalPages,
		"ttab":       ttab,
		"utab":       utab,
	}
	if !idx.Modified.IsZero() {
		doc["modified"] = idx.Modified
	}
	if len(idx.Extra) > 0 {
		doc["extra"] = idx.Extra
	}
	if idx.insertKey != "" {
		doc["insID"] = idx.insertKey
	}
	return doc, nil
}

func (it indexTranslator) Rev(doc map[string]any) (*ProtoIndex, error) {
	if v, ok := doc["version"].(int64); !ok || v != IndexVersion {
		return nil, archive.NewDataFormatError(nil, nil, "unsupported index version %v", doc["version"])
	}
	if _, ok := doc["insID"]; ok {
		return nil, archive.NewDataFormatError(nil, nil, "index document carries an insert key")
	}
	ttabDoc, ok := doc["ttab"].(map[string]any)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "index without term table")
	}
	utabDoc, ok := doc["utab"].(map[string]any)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "index without uri table")
	}
	ttab, err := skeleton.TreeTranslator[string, *PostingSet]{Schema: it.s.ttabSchema, Nodes: it.s.ttabNodes}.Rev(ttabDoc)
	if err != nil {
		return nil, fmt.Errorf("term table: %w", err)
	}
	utab, err := skeleton.TreeTranslator[string, *URITable]{Schema: it.s.utabSchema, Nodes: it.s.utabNodes}.Rev(utabDoc)
	if err != nil {
		return nil, fmt.Errorf("uri table: %w", err)
	}

	name, _ := doc["name"].(string)
	idx := it.s.newIndex(name, tuneTree(ttab, it.s.cfg.MaxConcurrency), tuneTree(utab, it.s.cfg.MaxConcurrency))
	idx.OwnerName, _ = doc["ownerName"].(string)
	idx.OwnerEmail, _ = doc["ownerEmail"].(string)
	if idx.TotalPages, ok = doc["totalPages"].(int64); !ok {
		return nil, archive.NewDataFormatError(nil, nil, "index without page count")
	}
	if raw, ok := doc["modified"].(string); ok {
		if idx.Modified, err = time.Parse(time.RFC3339Nano, raw); err != nil {
			return nil, archive.NewDataFormatError(nil, err, "bad modification time")
		}
	}
	if extra, ok := doc["extra"].(map[string]any); ok {
		idx.Extra = extra
	}
	return idx, nil
}
