package arcstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hyphanet/plugin-Library-sub002/archive"

	"github.com/cockroachdb/pebble"
	"github.com/ipfs/go-cid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Pebble archives blocks in a pebble key-value store.
//
// Schema:
// B{cid bytes} : {block bytes}
type Pebble struct {
	db *pebble.DB

	log *slog.Logger
}

var _ archive.Backend = (*Pebble)(nil)

func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("%s: could not open db, %w", path, err)
	}
	return &Pebble{
		db:  db,
		log: slog.Default().With("system", "arcstore", "backend", "pebble"),
	}, nil
}

func (p *Pebble) Close() error {
	err := p.db.Flush()
	if err != nil {
		p.log.Error("pebble flush", "err", err)
	}
	err = p.db.Close()
	if err != nil {
		p.log.Error("pebble close", "err", err)
	}
	return err
}

func makeBlockKey(loc cid.Cid) []byte {
	kb := loc.Bytes()
	out := make([]byte, 1+len(kb))
	out[0] = 'B'
	copy(out[1:], kb)
	return out
}

func (p *Pebble) Get(ctx context.Context, loc archive.Locator) ([]byte, error) {
	_, span := otel.Tracer("arcstore").Start(ctx, "PebbleGet")
	defer span.End()
	span.SetAttributes(attribute.String("locator", loc.String()))

	val, closer, err := p.db.Get(makeBlockKey(loc))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			backendGets.WithLabelValues("pebble", "miss").Inc()
			return nil, fmt.Errorf("%s: %w", loc, archive.ErrNotFound)
		}
		backendGets.WithLabelValues("pebble", "error").Inc()
		return nil, fmt.Errorf("pebble get %s: %w", loc, err)
	}
	// val is only valid until closer.Close
	out := make([]byte, len(val))
	copy(out, val)
	if err := closer.Close(); err != nil {
		p.log.Warn("pebble closer", "err", err)
	}
	backendGets.WithLabelValues("pebble", "hit").Inc()
	return out, nil
}

func (p *Pebble) Put(ctx context.Context, data []byte, hint string) (archive.Locator, error) {
	_, span := otel.Tracer("arcstore").Start(ctx, "PebblePut")
	defer span.End()

	loc, err := archive.ComputeLocator(data)
	if err != nil {
		return loc, err
	}
	if err := p.db.Set(makeBlockKey(loc), data, pebble.NoSync); err != nil {
		return loc, fmt.Errorf("pebble set %s: %w", loc, err)
	}
	span.SetAttributes(attribute.String("locator", loc.String()), attribute.Int("bytes", len(data)))
	backendPuts.WithLabelValues("pebble").Inc()
	backendPutBytes.WithLabelValues("pebble").Add(float64(len(data)))
	return loc, nil
}

// Count returns the number of stored blocks.
func (p *Pebble) Count(ctx context.Context) (int, error) {
	iter, err := p.db.NewIterWithContext(ctx, &pebble.IterOptions{
		LowerBound: []byte{'B'},
		UpperBound: []byte{'C'},
	})
	if err != nil {
		return 0, fmt.Errorf("block iter start, %w", err)
	}
	defer iter.Close()
	count := 0
	for iter.First(); iter.Valid(); iter.Next() {
		count++
	}
	return count, iter.Error()
}
