package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Result is emitted by an ObjectProcessor once per processed item.
type Result[T any, E any] struct {
	Item    T
	Deposit E
	Err     error
}

// ObjectProcessor runs one unit of work for each submitted item, at most maxConcurrency at a time. An item may only be queued or in flight once; its deposit is handed back untouched with the result.
type ObjectProcessor[T comparable, E any] struct {
	name           string
	maxConcurrency int

	do func(context.Context, T) error

	lk       sync.Mutex
	queue    []T
	deposits map[T]E
	running  int
	closed   bool

	wake chan struct{}
	out  chan Result[T, E]

	queued    prometheus.Gauge
	processed prometheus.Counter

	log *slog.Logger
}

// NewObjectProcessor starts the dispatch loop, which runs until the processor has been closed and drained. Items dispatched after ctx is done fail with its error without running.
func NewObjectProcessor[T comparable, E any](ctx context.Context, name string, maxConcurrency int, do func(context.Context, T) error) *ObjectProcessor[T, E] {
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	p := &ObjectProcessor[T, E]{
		name:           name,
		maxConcurrency: maxConcurrency,
		do:             do,
		deposits:       make(map[T]E),
		wake:           make(chan struct{}, 1),
		out:            make(chan Result[T, E], maxConcurrency),
		queued:         processorQueued.WithLabelValues(name),
		processed:      processorItems.WithLabelValues(name),
		log:            slog.Default().With("system", "archive", "processor", name),
	}
	go p.loop(ctx)
	return p
}

// Submit queues item for processing.
func (p *ObjectProcessor[T, E]) Submit(item T, deposit E) error {
	p.lk.Lock()
	if p.closed {
		p.lk.Unlock()
		return ErrProcessorClosed
	}
	if _, ok := p.deposits[item]; ok {
		p.lk.Unlock()
		return fmt.Errorf("submit %v: %w", item, ErrDuplicateItem)
	}
	p.deposits[item] = deposit
	p.queue = append(p.queue, item)
	p.lk.Unlock()

	p.queued.Inc()
	p.poke()
	return nil
}

// Results delivers one Result per processed item. The channel is closed after Close once every queued and in-flight item has been delivered.
func (p *ObjectProcessor[T, E]) Results() <-chan Result[T, E] {
	return p.out
}

// Pending reports the number of items queued or in flight.
func (p *ObjectProcessor[T, E]) Pending() int {
	p.lk.Lock()
	defer p.lk.Unlock()
	return len(p.deposits)
}

// Close stops accepting submissions. Queued and in-flight items still complete.
func (p *ObjectProcessor[T, E]) Close() {
	p.lk.Lock()
	p.closed = true
	p.lk.Unlock()
	p.poke()
}

func (p *ObjectProcessor[T, E]) poke() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *ObjectProcessor[T, E]) loop(ctx context.Context) {
	for {
		p.lk.Lock()
		for p.running < p.maxConcurrency && len(p.queue) > 0 {
			item := p.queue[0]
			p.queue = p.queue[1:]
			p.running++
			go p.run(ctx, item)
		}
		finished := p.closed && p.running == 0 && len(p.queue) == 0
		p.lk.Unlock()

		if finished {
			close(p.out)
			p.log.Debug("object processor drained")
			return
		}

		<-p.wake
	}
}

func (p *ObjectProcessor[T, E]) run(ctx context.Context, item T) {
	p.queued.Dec()
	err := ctx.Err()
	if err == nil {
		err = p.safeDo(ctx, item)
	}
	p.processed.Inc()

	p.lk.Lock()
	deposit := p.deposits[item]
	delete(p.deposits, item)
	p.lk.Unlock()

	p.out <- Result[T, E]{Item: item, Deposit: deposit, Err: err}

	p.lk.Lock()
	p.running--
	p.lk.Unlock()
	p.poke()
}

func (p *ObjectProcessor[T, E]) safeDo(ctx context.Context, item T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("processor work panicked", "item", item, "panic", r)
			err = fmt.Errorf("processing %v panicked: %v", item, r)
		}
	}()
	return p.do(ctx, item)
}
