package archive

import (
	"context"
)

// Archiver persists single tasks, synchronously from the point of view of the caller.
type Archiver[T any] interface {
	Pull(ctx context.Context, task *PullTask[T]) error
	Push(ctx context.Context, task *PushTask[T]) error
}

// LiveArchiver runs a task and reports the outcome through p instead of returning it. Implementations must complete p (Finish or Abort) on every path, success or failure, otherwise every joiner blocks forever.
type LiveArchiver[T any] interface {
	Archiver[T]
	PullLive(ctx context.Context, task *PullTask[T], p *Progress)
	PushLive(ctx context.Context, task *PushTask[T], p *Progress)
}

// BatchSerializer archives many independent tasks in one call.
type BatchSerializer[T any] interface {
	Archiver[T]
	PullAll(ctx context.Context, tasks []*PullTask[T]) error
	PushAll(ctx context.Context, tasks []*PushTask[T]) error
}

// Translator is a pure, bidirectional mapping between a value and an intermediate form. For documents the intermediate form is a map of maps, lists and scalars.
type Translator[T, I any] interface {
	App(T) (I, error)
	Rev(I) (T, error)
}

type KeyedPull[K, T any] struct {
	Key  K
	Task *PullTask[T]
}

type KeyedPush[K, T any] struct {
	Key  K
	Task *PushTask[T]
}

// MapSerializer archives the values of a keyed collection together, which lets it pack several values into one stored document.
type MapSerializer[K, T any] interface {
	// PullMap fills in every task. It may return additional tasks it resolved as a side effect (values sharing a document with a requested one), appended after the requested ones.
	PullMap(ctx context.Context, tasks []KeyedPull[K, T]) ([]KeyedPull[K, T], error)
	PushMap(ctx context.Context, tasks []KeyedPush[K, T]) error
}

// TranslatorFuncs adapts a pair of functions to the Translator interface.
type TranslatorFuncs[T, I any] struct {
	AppFunc func(T) (I, error)
	RevFunc func(I) (T, error)
}

func (tf TranslatorFuncs[T, I]) App(v T) (I, error) {
	return tf.AppFunc(v)
}

func (tf TranslatorFuncs[T, I]) Rev(v I) (T, error) {
	return tf.RevFunc(v)
}
