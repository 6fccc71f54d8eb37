package arcstore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	blocks "github.com/ipfs/go-block-format"
	"github.com/ipfs/go-datastore"
	dssync "github.com/ipfs/go-datastore/sync"
	flatfs "github.com/ipfs/go-ds-flatfs"
	blockstore "github.com/ipfs/go-ipfs-blockstore"
	ipld "github.com/ipfs/go-ipld-format"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Blockstore archives documents as content-addressed blocks in an IPFS blockstore.
type Blockstore struct {
	bs   blockstore.Blockstore
	kind string

	log *slog.Logger
}

var _ archive.Backend = (*Blockstore)(nil)

func NewBlockstore(bs blockstore.Blockstore, kind string) *Blockstore {
	return &Blockstore{
		bs:   bs,
		kind: kind,
		log:  slog.Default().With("system", "arcstore", "backend", kind),
	}
}

// NewMemory returns a blockstore backend held entirely in process memory.
func NewMemory() *Blockstore {
	return NewBlockstore(blockstore.NewBlockstore(dssync.MutexWrap(datastore.NewMapDatastore())), "memory")
}

// OpenFlatfs opens (or creates) a directory of sharded block files.
func OpenFlatfs(dir string) (*Blockstore, error) {
	fds, err := flatfs.CreateOrOpen(dir, flatfs.IPFS_DEF_SHARD, false)
	if err != nil {
		return nil, fmt.Errorf("opening flatfs store at %s: %w", dir, err)
	}
	return NewBlockstore(blockstore.NewBlockstoreNoPrefix(fds), "flatfs"), nil
}

func (b *Blockstore) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "BlockGet")
	defer span.End()
	span.SetAttributes(attribute.String("locator", loc.String()))

	blk, err := b.bs.Get(ctx, loc)
	if err != nil {
		if ipld.IsNotFound(err) {
			backendGets.WithLabelValues(b.kind, "miss").Inc()
			return nil, fmt.Errorf("%s: %w", loc, archive.ErrNotFound)
		}
		backendGets.WithLabelValues(b.kind, "error").Inc()
		return nil, err
	}
	backendGets.WithLabelValues(b.kind, "hit").Inc()
	return blk.RawData(), nil
}

// Put stores data under its own hash. The hint is ignored: blocks are immutable and every location is derived from content.
func (b *Blockstore) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "BlockPut")
	defer span.End()

	loc, err := archive.ComputeLocator(data)
	if err != nil {
		return loc, err
	}
	blk, err := blocks.NewBlockWithCid(data, loc)
	if err != nil {
		return loc, err
	}
	if err := b.bs.Put(ctx, blk); err != nil {
		return loc, fmt.Errorf("writing block %s: %w", loc, err)
	}
	span.SetAttributes(attribute.String("locator", loc.String()), attribute.Int("bytes", len(data)))
	backendPuts.WithLabelValues(b.kind).Inc()
	backendPutBytes.WithLabelValues(b.kind).Add(float64(len(data)))
	return loc, nil
}

func (b *Blockstore) Has(ctx context.Context, loc archive.Locator) (bool, error) {
	return b.bs.Has(ctx, loc)
}

// Locators streams every stored locator.
func (b *Blockstore) Locators(ctx context.Context) (<-chan archive.Locator, error) {
	return b.bs.AllKeysChan(ctx)
}
