package skeleton

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"golang.org/x/sync/errgroup"
)

// DefaultBinCapacity is the default number of values packed into one bin.
const DefaultBinCapacity = 64

// Packer archives the values of a map by packing their headers into shared bin documents:
//
//	{"bin": {key: header, ...}}
//
// Each value is first made archivable by Deflate, then described by Header. Pulling any key of a bin reports every other key in it as well.
type Packer[V any] struct {
	BinCapacity int
	Bins        archive.BatchSerializer[map[string]any]
	// Deflate readies a value for Header, eg by pushing its nodes
	Deflate func(ctx context.Context, v V) error
	Header  archive.Translator[V, map[string]any]
	// cap on values deflated at once
	Concurrency int
}

var _ archive.MapSerializer[string, int] = (*Packer[int])(nil)

// NewBinSerializer builds the archiver for bin documents, which are stored as they are.
func NewBinSerializer(name string, be archive.Backend, pool *archive.Pool) *archive.ParallelSerializer[map[string]any] {
	identity := archive.TranslatorFuncs[map[string]any, map[string]any]{
		AppFunc: func(doc map[string]any) (map[string]any, error) { return doc, nil },
		RevFunc: func(doc map[string]any) (map[string]any, error) { return doc, nil },
	}
	return archive.NewParallelSerializer[map[string]any](name, &archive.DocArchiver[map[string]any]{Backend: be, Translator: identity}, pool, nil)
}

func (p *Packer[V]) capacity() int {
	if p.BinCapacity <= 0 {
		return DefaultBinCapacity
	}
	return p.BinCapacity
}

func (p *Packer[V]) PushMap(ctx context.Context, tasks []archive.KeyedPush[string, V]) error {
	if len(tasks) == 0 {
		return nil
	}
	if p.Deflate != nil {
		eg, ectx := errgroup.WithContext(ctx)
		if p.Concurrency > 0 {
			eg.SetLimit(p.Concurrency)
		}
		for _, t := range tasks {
			v := t.Task.Data
			eg.Go(func() error {
				return p.Deflate(ectx, v)
			})
		}
		if err := eg.Wait(); err != nil {
			return err
		}
	}

	sorted := slices.Clone(tasks)
	slices.SortFunc(sorted, func(a, b archive.KeyedPush[string, V]) int {
		return strings.Compare(a.Key, b.Key)
	})

	var bins []*archive.PushTask[map[string]any]
	var members [][]archive.KeyedPush[string, V]
	for chunk := range slices.Chunk(sorted, p.capacity()) {
		contents := make(map[string]any, len(chunk))
		for _, t := range chunk {
			if _, dup := contents[t.Key]; dup {
				return fmt.Errorf("key %q pushed twice in one batch", t.Key)
			}
			h, err := p.Header.App(t.Task.Data)
			if err != nil {
				return fmt.Errorf("packing %q: %w", t.Key, err)
			}
			contents[t.Key] = h
		}
		bins = append(bins, archive.NewPushTask(0, map[string]any{"bin": contents}))
		members = append(members, chunk)
	}
	if err := p.Bins.PushAll(ctx, bins); err != nil {
		return err
	}
	for i, bin := range bins {
		for _, t := range members[i] {
			t.Task.Meta.Locator = bin.Meta.Locator
		}
	}
	return nil
}

func (p *Packer[V]) PullMap(ctx context.Context, tasks []archive.KeyedPull[string, V]) ([]archive.KeyedPull[string, V], error) {
	byLoc := make(map[archive.Locator]*archive.PullTask[map[string]any])
	var bins []*archive.PullTask[map[string]any]
	requested := make(map[archive.Locator]map[string]bool)
	for _, t := range tasks {
		loc := t.Task.Meta.Locator
		if _, ok := byLoc[loc]; !ok {
			bt := archive.NewPullTask[map[string]any](loc)
			byLoc[loc] = bt
			bins = append(bins, bt)
			requested[loc] = make(map[string]bool)
		}
		requested[loc][t.Key] = true
	}
	if err := p.Bins.PullAll(ctx, bins); err != nil {
		return nil, err
	}

	out := slices.Clone(tasks)
	contents := make(map[archive.Locator]map[string]any, len(bins))
	for _, bt := range bins {
		c, ok := bt.Data["bin"].(map[string]any)
		if !ok {
			return nil, archive.NewDataFormatError(bt.Meta.Locator, nil, "not a bin document")
		}
		contents[bt.Meta.Locator] = c
	}
	for _, t := range out {
		loc := t.Task.Meta.Locator
		h, ok := contents[loc][t.Key].(map[string]any)
		if !ok {
			return nil, archive.NewDataFormatError(loc, nil, "bin has no entry for %q", t.Key)
		}
		v, err := p.Header.Rev(h)
		if err != nil {
			return nil, archive.NewDataFormatError(loc, err, "bad header for %q", t.Key)
		}
		t.Task.Data = v
	}
	for _, bt := range bins {
		loc := bt.Meta.Locator
		for k, raw := range contents[loc] {
			if requested[loc][k] {
				continue
			}
			h, ok := raw.(map[string]any)
			if !ok {
				return nil, archive.NewDataFormatError(loc, nil, "bad header for %q", k)
			}
			v, err := p.Header.Rev(h)
			if err != nil {
				return nil, archive.NewDataFormatError(loc, err, "bad header for %q", k)
			}
			extra := archive.NewPullTask[V](loc)
			extra.Data = v
			out = append(out, archive.KeyedPull[string, V]{Key: k, Task: extra})
		}
	}
	return out, nil
}
