package arcstore

import (
	"context"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	arc "github.com/hashicorp/golang-lru/arc/v2"
	lru "github.com/hashicorp/golang-lru/v2"
)

type blockCache interface {
	Get(key string) ([]byte, bool)
	Add(key string, value []byte)
}

// Cached keeps recently read and written blocks in process memory in front of another backend. Blocks are immutable, so entries never need invalidating.
type Cached struct {
	inner archive.Backend
	cache blockCache
	name  string
}

var _ archive.Backend = (*Cached)(nil)

// NewCached wraps inner with a two-queue LRU of the given number of blocks.
func NewCached(inner archive.Backend, size int) (*Cached, error) {
	c, err := lru.New2Q[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c, name: "2q"}, nil
}

// NewARCCached is NewCached with an adaptive replacement cache, which holds up better against one-off scans such as a full tree inflate.
func NewARCCached(inner archive.Backend, size int) (*Cached, error) {
	c, err := arc.NewARC[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &Cached{inner: inner, cache: c, name: "arc"}, nil
}

func (c *Cached) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	if b, ok := c.cache.Get(loc.KeyString()); ok {
		cacheLookups.WithLabelValues(c.name, "hit").Inc()
		return b, nil
	}
	cacheLookups.WithLabelValues(c.name, "miss").Inc()

	b, err := c.inner.Get(ctx, loc)
	if err != nil {
		return nil, err
	}
	c.cache.Add(loc.KeyString(), b)
	return b, nil
}

func (c *Cached) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	loc, err := c.inner.Put(ctx, data, hint)
	if err != nil {
		return loc, err
	}
	c.cache.Add(loc.KeyString(), data)
	return loc, nil
}
