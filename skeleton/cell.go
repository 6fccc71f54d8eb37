package skeleton

import (
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// Cell holds either a loaded value or the locator of its archived form (a "ghost"), never both and never neither.
type Cell[V any] struct {
	val    V
	loc    archive.Locator
	loaded bool
}

func Loaded[V any](v V) Cell[V] {
	return Cell[V]{val: v, loaded: true}
}

func NewGhost[V any](loc archive.Locator) (Cell[V], error) {
	if !loc.Defined() {
		return Cell[V]{}, fmt.Errorf("ghost cell: %w", archive.ErrNullLocator)
	}
	return Cell[V]{loc: loc}, nil
}

func (c *Cell[V]) IsLoaded() bool {
	return c.loaded
}

func (c *Cell[V]) IsGhost() bool {
	return !c.loaded
}

// Value returns the loaded value; ok is false for a ghost.
func (c *Cell[V]) Value() (v V, ok bool) {
	return c.val, c.loaded
}

// Locator returns the locator of a ghost, or the null locator for a loaded cell.
func (c *Cell[V]) Locator() archive.Locator {
	if c.loaded {
		return archive.Locator{}
	}
	return c.loc
}

// Set loads v into the cell, dropping any locator.
func (c *Cell[V]) Set(v V) {
	var zero archive.Locator
	c.val = v
	c.loc = zero
	c.loaded = true
}

// SetGhost replaces the value with its locator.
func (c *Cell[V]) SetGhost(loc archive.Locator) error {
	if !loc.Defined() {
		return fmt.Errorf("ghost cell: %w", archive.ErrNullLocator)
	}
	var zero V
	c.val = zero
	c.loc = loc
	c.loaded = false
	return nil
}

func (c Cell[V]) String() string {
	if c.loaded {
		return fmt.Sprintf("loaded(%v)", c.val)
	}
	return fmt.Sprintf("ghost(%s)", c.loc)
}
