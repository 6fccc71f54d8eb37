package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/ipfs/go-cid"
	ipld "github.com/ipfs/go-ipld-format"
	"github.com/multiformats/go-multihash"
)

// Locator identifies an archived block by the hash of its bytes. The zero value (cid.Undef) is the "null" locator.
type Locator = cid.Cid

var locatorPrefix = cid.NewPrefixV1(cid.DagCBOR, multihash.SHA2_256)

// ComputeLocator returns the locator the given encoded document is stored under.
func ComputeLocator(b []byte) (Locator, error) {
	c, err := locatorPrefix.Sum(b)
	if err != nil {
		return cid.Undef, fmt.Errorf("computing locator: %w", err)
	}
	return c, nil
}

func ParseLocator(s string) (Locator, error) {
	c, err := cid.Decode(s)
	if err != nil {
		return cid.Undef, fmt.Errorf("invalid locator %q: %w", s, err)
	}
	return c, nil
}

// Backend is the storage substrate behind every archiver: bytes in, locator out, and back.
//
// Filesystem, KV and network implementations are interchangeable. Get on a locator which is not stored must return an error for which IsNotFound is true.
type Backend interface {
	Get(ctx context.Context, loc Locator) ([]byte, error)
	// hint is an optional insert hint (eg, a private insert key) which must never end up inside the stored bytes
	Put(ctx context.Context, data []byte, hint string) (Locator, error)
}

var ErrNotFound = errors.New("block not found in archive")

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || ipld.IsNotFound(err)
}
