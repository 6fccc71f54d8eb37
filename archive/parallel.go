package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// ParallelSerializer runs tasks of a LiveArchiver on a shared Pool, and uses a ProgressTracker so that concurrent submissions of the same logical task run at most once. Every submitter of a de-duplicated task observes the same outcome.
type ParallelSerializer[T any] struct {
	name    string
	live    LiveArchiver[T]
	pool    *Pool
	tracker *ProgressTracker

	log *slog.Logger
}

var _ BatchSerializer[int] = (*ParallelSerializer[int])(nil)

func NewParallelSerializer[T any](name string, live LiveArchiver[T], pool *Pool, tracker *ProgressTracker) *ParallelSerializer[T] {
	if pool == nil {
		pool = NewPool(name, DefaultPoolSize)
	}
	if tracker == nil {
		tracker = NewProgressTracker()
	}
	return &ParallelSerializer[T]{
		name:    name,
		live:    live,
		pool:    pool,
		tracker: tracker,
		log:     slog.Default().With("system", "archive", "serializer", name),
	}
}

func (s *ParallelSerializer[T]) Tracker() *ProgressTracker {
	return s.tracker
}

func (s *ParallelSerializer[T]) Pull(ctx context.Context, task *PullTask[T]) error {
	return s.PullAll(ctx, []*PullTask[T]{task})
}

func (s *ParallelSerializer[T]) Push(ctx context.Context, task *PushTask[T]) error {
	return s.PushAll(ctx, []*PushTask[T]{task})
}

type pending[X any] struct {
	task X
	p    *Progress
	lead bool
}

// PullAll registers every task first, then submits only those which are not already in flight, then joins all of them.
func (s *ParallelSerializer[T]) PullAll(ctx context.Context, tasks []*PullTask[T]) error {
	ctx, span := otel.Tracer("archive").Start(ctx, "PullAll")
	defer span.End()
	span.SetAttributes(attribute.String("serializer", s.name), attribute.Int("tasks", len(tasks)))

	for _, t := range tasks {
		if !t.Meta.Locator.Defined() {
			return fmt.Errorf("pull from %s: %w", s.name, ErrNullLocator)
		}
	}

	waits := make([]pending[*PullTask[T]], 0, len(tasks))
	for _, t := range tasks {
		p, err := s.tracker.AddPullProgress(t)
		if err != nil {
			var tip *TaskInProgressError
			if !errors.As(err, &tip) {
				return err
			}
			tasksJoined.WithLabelValues(s.name, "pull").Inc()
			waits = append(waits, pending[*PullTask[T]]{task: t, p: tip.Progress})
			continue
		}
		waits = append(waits, pending[*PullTask[T]]{task: t, p: p, lead: true})
	}

	for _, w := range waits {
		if !w.lead {
			continue
		}
		w := w
		tasksStarted.WithLabelValues(s.name, "pull").Inc()
		s.pool.Go(func() {
			s.run(w.p, func() { s.live.PullLive(ctx, w.task, w.p) })
		})
	}

	var errs []error
	for _, w := range waits {
		if err := w.p.Join(); err != nil {
			errs = append(errs, err)
			continue
		}
		if w.lead {
			continue
		}
		v, ok := w.p.Value().(T)
		if !ok {
			errs = append(errs, fmt.Errorf("joined pull of %s completed with %T", w.task.Meta.Locator, w.p.Value()))
			continue
		}
		w.task.Data = v
	}
	if len(errs) > 0 {
		tasksAborted.WithLabelValues(s.name, "pull").Add(float64(len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// PushAll is the push counterpart of PullAll. Identity of a push is the ObjectID of its data.
func (s *ParallelSerializer[T]) PushAll(ctx context.Context, tasks []*PushTask[T]) error {
	ctx, span := otel.Tracer("archive").Start(ctx, "PushAll")
	defer span.End()
	span.SetAttributes(attribute.String("serializer", s.name), attribute.Int("tasks", len(tasks)))

	waits := make([]pending[*PushTask[T]], 0, len(tasks))
	for _, t := range tasks {
		p, err := s.tracker.AddPushProgress(t)
		if err != nil {
			var tip *TaskInProgressError
			if !errors.As(err, &tip) {
				return err
			}
			tasksJoined.WithLabelValues(s.name, "push").Inc()
			waits = append(waits, pending[*PushTask[T]]{task: t, p: tip.Progress})
			continue
		}
		waits = append(waits, pending[*PushTask[T]]{task: t, p: p, lead: true})
	}

	for _, w := range waits {
		if !w.lead {
			continue
		}
		w := w
		tasksStarted.WithLabelValues(s.name, "push").Inc()
		s.pool.Go(func() {
			s.run(w.p, func() { s.live.PushLive(ctx, w.task, w.p) })
		})
	}

	var errs []error
	for _, w := range waits {
		if err := w.p.Join(); err != nil {
			errs = append(errs, err)
			continue
		}
		if w.lead {
			continue
		}
		meta, ok := w.p.Value().(Meta)
		if !ok {
			errs = append(errs, fmt.Errorf("joined push %d completed with %T", w.task.ID, w.p.Value()))
			continue
		}
		w.task.Meta.Locator = meta.Locator
	}
	if len(errs) > 0 {
		tasksAborted.WithLabelValues(s.name, "push").Add(float64(len(errs)))
		return errors.Join(errs...)
	}
	return nil
}

// run executes one live job and makes sure its progress is completed whatever the job does.
func (s *ParallelSerializer[T]) run(p *Progress, job func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("archive job panicked", "subject", p.Subject(), "panic", r)
			p.Abort(fmt.Errorf("archive job panicked: %v", r))
			return
		}
		if p.Abort(fmt.Errorf("archive job returned without completing")) {
			s.log.Error("live archiver left progress incomplete", "subject", p.Subject())
		}
	}()
	p.Start()
	job()
}
