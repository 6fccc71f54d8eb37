package arcstore

import (
	"context"
	"sync/atomic"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// Counting wraps a backend and counts the calls going through it.
type Counting struct {
	Inner archive.Backend

	gets atomic.Int64
	puts atomic.Int64
}

var _ archive.Backend = (*Counting)(nil)

func NewCounting(inner archive.Backend) *Counting {
	return &Counting{Inner: inner}
}

func (c *Counting) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	c.gets.Add(1)
	return c.Inner.Get(ctx, loc)
}

func (c *Counting) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	c.puts.Add(1)
	return c.Inner.Put(ctx, data, hint)
}

func (c *Counting) Gets() int64 {
	return c.gets.Load()
}

func (c *Counting) Puts() int64 {
	return c.puts.Load()
}

// Reset zeroes both counters.
func (c *Counting) Reset() {
	c.gets.Store(0)
	c.puts.Store(0)
}
