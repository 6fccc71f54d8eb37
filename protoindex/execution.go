package protoindex

import (
	"context"
	"fmt"
	"sync"

	"github.com/hyphanet/plugin-Library-sub002/archive"
)

// Execution is a handle on an operation running in the background. Every hop it takes (a ghost fetched, a tree pushed) is tracked by a Progress of its own, so callers can report on it while waiting.
type Execution[T any] struct {
	subject string
	done    *archive.Progress

	lk   sync.Mutex
	hops []*archive.Progress
}

// ExecutionStatus is a point-in-time report on an Execution.
type ExecutionStatus struct {
	archive.ProgressSnapshot
	Hops []archive.ProgressSnapshot `json:"hops"`
}

func newExecution[T any](subject string) *Execution[T] {
	ex := &Execution[T]{
		subject: subject,
		done:    archive.NewProgress(subject),
	}
	ex.done.Start()
	return ex
}

func (ex *Execution[T]) Subject() string {
	return ex.subject
}

// hop registers and starts the tracking of one step.
func (ex *Execution[T]) hop(format string, args ...any) *archive.Progress {
	p := archive.NewProgress(fmt.Sprintf(format, args...))
	p.Start()
	ex.lk.Lock()
	ex.hops = append(ex.hops, p)
	ex.lk.Unlock()
	ex.done.AddPartKnown(1)
	p.OnDone(func() { ex.done.AddPartDone(1) })
	return p
}

func (ex *Execution[T]) complete(v T, err error) {
	if err != nil {
		ex.done.Abort(err)
		return
	}
	ex.done.Finish(v)
}

func (ex *Execution[T]) Done() <-chan struct{} {
	return ex.done.Done()
}

// Join waits for the result. Giving up on ctx leaves the operation running.
func (ex *Execution[T]) Join(ctx context.Context) (T, error) {
	var zero T
	if err := ex.done.JoinContext(ctx); err != nil {
		return zero, err
	}
	v, _ := ex.done.Value().(T)
	return v, nil
}

func (ex *Execution[T]) Status() ExecutionStatus {
	ex.lk.Lock()
	hops := make([]archive.ProgressSnapshot, len(ex.hops))
	for i, p := range ex.hops {
		hops[i] = p.Snapshot()
	}
	ex.lk.Unlock()
	return ExecutionStatus{ProgressSnapshot: ex.done.Snapshot(), Hops: hops}
}
