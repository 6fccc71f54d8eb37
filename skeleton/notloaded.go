package skeleton

import (
	"context"
	"errors"
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// NotLoadedError is returned when an operation reaches a ghost. It is the expected signal to inflate the named locator and retry, not a failure.
type NotLoadedError struct {
	// the structure holding the ghost
	Owner any
	Key   any
	// locator of the missing data
	Locator archive.Locator

	fetch func(ctx context.Context) (install func() error, err error)
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("not loaded: %v (at %s)", e.Key, e.Locator)
}

// Fetch pulls the missing data without touching the owning structure. The returned install function puts it in place; it must be called under whatever discipline serializes writers of the owner. Installing is a no-op if the ghost has been replaced in the meantime.
func (e *NotLoadedError) Fetch(ctx context.Context) (install func() error, err error) {
	if e.fetch == nil {
		return nil, fmt.Errorf("not loaded error for %v: %w", e.Key, archive.ErrNoSerializer)
	}
	return e.fetch(ctx)
}

// Resolve fetches and installs in one go.
func (e *NotLoadedError) Resolve(ctx context.Context) error {
	install, err := e.Fetch(ctx)
	if err != nil {
		return err
	}
	return install()
}

func AsNotLoaded(err error) (*NotLoadedError, bool) {
	var nle *NotLoadedError
	if errors.As(err, &nle) {
		return nle, true
	}
	return nil, false
}

// DefaultMaxHops bounds Retry. A tree of height h needs at most h hops to reach any key, plus one for the value.
const DefaultMaxHops = 64

// Retry runs fn, resolving every NotLoadedError it returns and trying again.
func Retry[R any](ctx context.Context, maxHops int, fn func() (R, error)) (R, error) {
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	for hop := 0; ; hop++ {
		out, err := fn()
		nle, ok := AsNotLoaded(err)
		if !ok {
			return out, err
		}
		if hop >= maxHops {
			return out, fmt.Errorf("gave up after %d hops: %w", hop, err)
		}
		if err := nle.Resolve(ctx); err != nil {
			return out, err
		}
	}
}
