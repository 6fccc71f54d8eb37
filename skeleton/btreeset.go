package skeleton

import (
	"context"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// BTreeSet is a BTreeMap without values.
type BTreeSet[K any] struct {
	*BTreeMap[K, struct{}]
}

// NewSetSchema returns a schema for sets of K.
func NewSetSchema[K any](nodeMin int, cmp func(a, b K) int, keys archive.Translator[K, any]) *Schema[K, struct{}] {
	return &Schema[K, struct{}]{NodeMin: nodeMin, Compare: cmp, Keys: keys}
}

func NewBTreeSet[K any](s *Schema[K, struct{}], nodes archive.BatchSerializer[*Node[K, struct{}]]) (*BTreeSet[K], error) {
	t, err := NewBTreeMap(s, nodes)
	if err != nil {
		return nil, err
	}
	return &BTreeSet[K]{t}, nil
}

func OpenBTreeSet[K any](s *Schema[K, struct{}], nodes archive.BatchSerializer[*Node[K, struct{}]], root archive.Locator, size int) (*BTreeSet[K], error) {
	t, err := OpenBTreeMap(s, nodes, root, size)
	if err != nil {
		return nil, err
	}
	return &BTreeSet[K]{t}, nil
}

func (s *BTreeSet[K]) Clone() *BTreeSet[K] {
	return &BTreeSet[K]{s.BTreeMap.Clone()}
}

// UpdateSet adds and removes keys in one batch; removals go first.
func (s *BTreeSet[K]) UpdateSet(ctx context.Context, adds, removes []K) error {
	puts := make([]KV[K, struct{}], len(adds))
	for i, k := range adds {
		puts[i] = KV[K, struct{}]{Key: k}
	}
	return s.Update(ctx, puts, removes)
}
