package arcstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/hyphanet/plugin-Library-sub002/archive"
	"github.com/hyphanet/plugin-Library-sub002/doccodec"

	"github.com/ipfs/go-cid"
	car "github.com/ipld/go-car"
	carutil "github.com/ipld/go-car/util"
	carv2 "github.com/ipld/go-car/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ExportCAR writes every block reachable from root to w as a CAR v1 file. Returns the number of blocks written.
func ExportCAR(ctx context.Context, be archive.Backend, root archive.Locator, w io.Writer) (int, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "ExportCAR")
	defer span.End()

	if err := car.WriteHeader(&car.CarHeader{
		Roots:   []cid.Cid{root},
		Version: 1,
	}, w); err != nil {
		return 0, fmt.Errorf("writing CAR header: %w", err)
	}

	seen := map[cid.Cid]struct{}{root: {}}
	queue := []cid.Cid{root}
	count := 0
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		loc := queue[0]
		queue = queue[1:]

		b, err := be.Get(ctx, loc)
		if err != nil {
			return count, fmt.Errorf("exporting %s: %w", loc, err)
		}
		if err := carutil.LdWrite(w, loc.Bytes(), b); err != nil {
			return count, err
		}
		count++

		doc, err := doccodec.Unmarshal(b)
		if err != nil {
			return count, archive.NewDataFormatError(loc, err, "exporting document")
		}
		for _, l := range doccodec.Links(doc) {
			if _, ok := seen[l]; ok {
				continue
			}
			seen[l] = struct{}{}
			queue = append(queue, l)
		}
	}
	span.SetAttributes(attribute.Int("blocks", count))
	return count, nil
}

// ImportCAR stores every block of a CAR file in be, checking that each lands under its declared locator. Returns the roots named in the header.
func ImportCAR(ctx context.Context, be archive.Backend, r io.Reader) ([]archive.Locator, int, error) {
	ctx, span := otel.Tracer("arcstore").Start(ctx, "ImportCAR")
	defer span.End()

	br, err := carv2.NewBlockReader(r)
	if err != nil {
		return nil, 0, err
	}

	count := 0
	for {
		blk, err := br.Next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, count, err
		}
		loc, err := be.Put(ctx, blk.RawData(), "")
		if err != nil {
			return nil, count, err
		}
		if !loc.Equals(blk.Cid()) {
			return nil, count, archive.NewDataFormatError(blk.Cid(), nil, "block stored as %s", loc)
		}
		count++
	}
	if len(br.Roots) < 1 {
		return nil, count, fmt.Errorf("CAR file missing root CID")
	}
	span.SetAttributes(attribute.Int("blocks", count))
	return br.Roots, count, nil
}
