package skeleton

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/doccodec"
)

// TreeTranslator converts a whole tree to and from a small header document:
//
//	{"node_min": m, "size": n, "root": CIDLink | <node document>}
//
// A bare tree is referenced by its root locator. A tree whose root is resident and bare itself (every child and packed value a ghost) is written inline, so small trees do not cost a block of their own.
type TreeTranslator[K, V any] struct {
	Schema *Schema[K, V]
	Nodes  archive.BatchSerializer[*Node[K, V]]
}

func (tt TreeTranslator[K, V]) App(t *BTreeMap[K, V]) (map[string]any, error) {
	doc := map[string]any{
		"node_min": int64(tt.Schema.NodeMin),
		"size":     int64(t.Size()),
	}
	if loc, ok := t.Root(); ok {
		doc["root"] = doccodec.CIDLink(loc)
		return doc, nil
	}
	root, _ := t.root.Value()
	nd, err := NodeTranslator[K, V]{Schema: tt.Schema}.App(root)
	if err != nil {
		return nil, fmt.Errorf("inline root: %w", err)
	}
	doc["root"] = nd
	return doc, nil
}

func (tt TreeTranslator[K, V]) Rev(doc map[string]any) (*BTreeMap[K, V], error) {
	m, ok := doc["node_min"].(int64)
	if !ok {
		return nil, archive.NewDataFormatError(nil, nil, "tree document without node_min")
	}
	if int(m) != tt.Schema.NodeMin {
		return nil, archive.NewDataFormatError(nil, nil, "tree has node_min %d, expected %d", m, tt.Schema.NodeMin)
	}
	size, ok := doc["size"].(int64)
	if !ok || size < 0 {
		return nil, archive.NewDataFormatError(nil, nil, "tree document without size")
	}
	switch root := doc["root"].(type) {
	case doccodec.CIDLink:
		return OpenBTreeMap(tt.Schema, tt.Nodes, root.Cid(), int(size))
	case map[string]any:
		n, err := NodeTranslator[K, V]{Schema: tt.Schema}.Rev(root)
		if err != nil {
			return nil, err
		}
		if n.size != int(size) {
			return nil, archive.NewDataFormatError(nil, nil, "tree size %d does not match its root (%d)", size, n.size)
		}
		t, err := NewBTreeMap(tt.Schema, tt.Nodes)
		if err != nil {
			return nil, err
		}
		// an inline root was never archived on its own, so it stays dirty
		t.root.Set(n)
		return t, nil
	default:
		return nil, archive.NewDataFormatError(nil, nil, "tree root is %T", root)
	}
}
