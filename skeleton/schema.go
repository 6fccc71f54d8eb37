package skeleton

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/doccodec"
)

// DefaultNodeMin is the default minimum degree: non-root nodes hold between 1023 and 2047 keys.
const DefaultNodeMin = 1024

// Schema describes how the nodes of a family of B-trees are laid out and archived.
//
// Values are stored one of three ways. With Packed set they are archived separately and nodes only hold their locators. Otherwise with Values set they are embedded in the node documents. With neither the tree is a set and values are not stored at all.
type Schema[K, V any] struct {
	NodeMin int
	Compare func(a, b K) int
	Keys    archive.Translator[K, any]
	Values  archive.Translator[V, any]
	Packed  archive.MapSerializer[K, V]
}

func (s *Schema[K, V]) validate() error {
	if s.NodeMin < 2 {
		return fmt.Errorf("node minimum must be at least 2, got %d", s.NodeMin)
	}
	if s.Compare == nil || s.Keys == nil {
		return fmt.Errorf("schema needs a comparison and a key translator")
	}
	return nil
}

// NewNodeSerializer builds the parallel, de-duplicating archiver for the nodes of trees with schema s.
func NewNodeSerializer[K, V any](name string, s *Schema[K, V], be archive.Backend, pool *archive.Pool) *archive.ParallelSerializer[*Node[K, V]] {
	da := &archive.DocArchiver[*Node[K, V]]{
		Backend:    be,
		Translator: NodeTranslator[K, V]{Schema: s},
		// stamped before the pull finishes, so nodes shared between joiners are never written
		AfterPull: func(meta archive.Meta, n *Node[K, V]) {
			n.loc = meta.Locator
		},
	}
	return archive.NewParallelSerializer[*Node[K, V]](name, da, pool, nil)
}

// NodeTranslator converts one bare node to and from its document:
//
//	{"size": n, "entries": [key, ...] | [[key, value], ...], "subnodes": [BinInfo(child, childSize), ...]}
type NodeTranslator[K, V any] struct {
	Schema *Schema[K, V]
}

var _ archive.Translator[*Node[string, string], map[string]any] = NodeTranslator[string, string]{}

func (nt NodeTranslator[K, V]) App(n *Node[K, V]) (map[string]any, error) {
	s := nt.Schema
	entries := make([]any, 0, n.entries.Len())
	for i := 0; i < n.entries.Len(); i++ {
		e := n.entries.at(i)
		k, err := s.Keys.App(e.key)
		if err != nil {
			return nil, fmt.Errorf("translating key %v: %w", e.key, err)
		}
		switch {
		case s.Packed != nil:
			if e.cell.IsLoaded() {
				return nil, fmt.Errorf("value of %v still loaded: %w", e.key, archive.ErrNotBare)
			}
			entries = append(entries, []any{k, doccodec.CIDLink(e.cell.Locator())})
		case s.Values != nil:
			v, _ := e.cell.Value()
			vd, err := s.Values.App(v)
			if err != nil {
				return nil, fmt.Errorf("translating value of %v: %w", e.key, err)
			}
			entries = append(entries, []any{k, vd})
		default:
			entries = append(entries, k)
		}
	}

	subnodes := make([]any, len(n.children))
	for i := range n.children {
		c := &n.children[i]
		if c.IsLoaded() {
			return nil, fmt.Errorf("child %d still loaded: %w", i, archive.ErrNotBare)
		}
		subnodes[i] = doccodec.NewBinInfo(c.Locator(), int64(n.sizes[i]))
	}

	return map[string]any{
		"size":     int64(n.size),
		"entries":  entries,
		"subnodes": subnodes,
	}, nil
}

func (nt NodeTranslator[K, V]) Rev(doc map[string]any) (*Node[K, V], error) {
	s := nt.Schema
	size, ok := doc["size"].(int64)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "node document without size")
	}
	rawEntries, ok := doc["entries"].([]any)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "node document without entries")
	}
	rawSubnodes, ok := doc["subnodes"].([]any)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "node document without subnodes")
	}

	n := newNode(s)
	for i, raw := range rawEntries {
		var rk, rv any
		if s.Packed != nil || s.Values != nil {
			pair, ok := raw.([]any)
			if !ok || len(pair) != 2 {
				return nil, archive.NewDataFormatError(i, nil, "node entry is not a key/value pair")
			}
			rk, rv = pair[0], pair[1]
		} else {
			rk = raw
		}
		k, err := s.Keys.Rev(rk)
		if err != nil {
			return nil, archive.NewDataFormatError(i, err, "bad node key")
		}
		if last := n.entries.Len(); last > 0 && s.Compare(n.entries.keyAt(last-1), k) >= 0 {
			return nil, archive.NewDataFormatError(k, nil, "node keys out of order")
		}

		var cell Cell[V]
		switch {
		case s.Packed != nil:
			link, ok := rv.(doccodec.CIDLink)
			if !ok {
				return nil, archive.NewDataFormatError(k, nil, "packed value is not a link")
			}
			if cell, err = NewGhost[V](link.Cid()); err != nil {
				return nil, archive.NewDataFormatError(k, err, "bad value link")
			}
		case s.Values != nil:
			v, err := s.Values.Rev(rv)
			if err != nil {
				return nil, archive.NewDataFormatError(k, err, "bad node value")
			}
			cell = Loaded(v)
		default:
			var zero V
			cell = Loaded(zero)
		}
		n.entries.insertAt(n.entries.Len(), entry[K, V]{key: k, cell: cell})
	}

	if len(rawSubnodes) != 0 && len(rawSubnodes) != n.entries.Len()+1 {
		return nil, archive.NewDataFormatError(nil, nil, "node has %d keys but %d subnodes", n.entries.Len(), len(rawSubnodes))
	}
	total := int64(n.entries.Len())
	for i, raw := range rawSubnodes {
		bi, ok := raw.(doccodec.BinInfo)
		if !ok {
			return nil, archive.NewDataFormatError(i, nil, "subnode is not a bin reference")
		}
		c, err := NewGhost[*Node[K, V]](bi.Locator)
		if err != nil {
			return nil, archive.NewDataFormatError(i, err, "bad subnode")
		}
		if bi.Weight < 0 {
			return nil, archive.NewDataFormatError(i, nil, "negative subnode size %d", bi.Weight)
		}
		n.insertChild(i, c, int(bi.Weight))
		total += bi.Weight
	}
	if total != size {
		return nil, archive.NewDataFormatError(nil, nil, "node size %d does not match its contents (%d)", size, total)
	}
	n.size = int(size)
	return n, nil
}

// StringKeys translates string keys as themselves.
var StringKeys archive.Translator[string, any] = archive.TranslatorFuncs[string, any]{
	AppFunc: func(s string) (any, error) { return s, nil },
	RevFunc: func(v any) (string, error) {
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("expected string key, got %T", v)
		}
		return s, nil
	},
}
