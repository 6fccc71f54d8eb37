package archive

import (
	"context"
	"fmt"

	"github.com/hyphanet/plugin-Library-sub002/doccodec"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// DocArchiver stores values as single documents in a Backend: a Translator maps each value to a document, which the document codec turns into bytes.
type DocArchiver[T any] struct {
	Backend    Backend
	Translator Translator[T, map[string]any]

	// BeforeEncode, if set, may strip fields out of an outgoing document into the push metadata
	BeforeEncode func(doc map[string]any, meta *Meta) error
	// AfterPush, if set, runs after every successful push
	AfterPush func(ctx context.Context, meta Meta) error
	// AfterPull, if set, sees every decoded value before it is handed to the task. Under a ParallelSerializer it runs once, in the job every joiner waits on.
	AfterPull func(meta Meta, v T)
}

var _ LiveArchiver[int] = (*DocArchiver[int])(nil)

func (a *DocArchiver[T]) Pull(ctx context.Context, task *PullTask[T]) error {
	ctx, span := otel.Tracer("archive").Start(ctx, "DocPull")
	defer span.End()

	loc := task.Meta.Locator
	if !loc.Defined() {
		return ErrNullLocator
	}
	span.SetAttributes(attribute.String("locator", loc.String()))

	b, err := a.Backend.Get(ctx, loc)
	if err != nil {
		return Abort(task.Subject(), fmt.Errorf("fetching document: %w", err))
	}
	doc, err := doccodec.Unmarshal(b)
	if err != nil {
		return NewDataFormatError(loc, err, "decoding document")
	}
	v, err := a.Translator.Rev(doc)
	if err != nil {
		return NewDataFormatError(loc, err, "translating document")
	}
	if a.AfterPull != nil {
		a.AfterPull(task.Meta, v)
	}
	task.Data = v
	return nil
}

func (a *DocArchiver[T]) Push(ctx context.Context, task *PushTask[T]) error {
	ctx, span := otel.Tracer("archive").Start(ctx, "DocPush")
	defer span.End()

	doc, err := a.Translator.App(task.Data)
	if err != nil {
		return err
	}
	if a.BeforeEncode != nil {
		if err := a.BeforeEncode(doc, &task.Meta); err != nil {
			return err
		}
	}
	b, err := doccodec.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	loc, err := a.Backend.Put(ctx, b, task.Meta.Hint)
	if err != nil {
		return Abort(task.Subject(), fmt.Errorf("storing document: %w", err))
	}
	task.Meta.Locator = loc
	span.SetAttributes(attribute.String("locator", loc.String()), attribute.Int("bytes", len(b)))

	if a.AfterPush != nil {
		if err := a.AfterPush(ctx, task.Meta); err != nil {
			return err
		}
	}
	return nil
}

func (a *DocArchiver[T]) PullLive(ctx context.Context, task *PullTask[T], p *Progress) {
	if err := a.Pull(ctx, task); err != nil {
		p.Abort(err)
		return
	}
	p.Finish(task.Data)
}

func (a *DocArchiver[T]) PushLive(ctx context.Context, task *PushTask[T], p *Progress) {
	if err := a.Push(ctx, task); err != nil {
		p.Abort(err)
		return
	}
	p.Finish(task.Meta)
}
