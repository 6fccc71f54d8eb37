package archive

import (
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/semaphore"
)

const DefaultPoolSize = 64

// Pool runs archive jobs on a bounded number of goroutines. When every slot is busy the job runs on the submitting goroutine instead of queueing, which throttles submitters.
//
// A Pool is meant to be created once by the embedding application and shared.
type Pool struct {
	name string
	size int
	sem  *semaphore.Weighted

	active     prometheus.Gauge
	callerRuns prometheus.Counter
}

func NewPool(name string, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{
		name:       name,
		size:       size,
		sem:        semaphore.NewWeighted(int64(size)),
		active:     poolActive.WithLabelValues(name),
		callerRuns: poolCallerRuns.WithLabelValues(name),
	}
}

func (p *Pool) Size() int {
	return p.size
}

// Go runs fn, on a pool goroutine if one is free and otherwise before returning.
func (p *Pool) Go(fn func()) {
	if p.sem.TryAcquire(1) {
		p.active.Inc()
		go func() {
			defer func() {
				p.active.Dec()
				p.sem.Release(1)
			}()
			fn()
		}()
		return
	}
	p.callerRuns.Inc()
	fn()
}
