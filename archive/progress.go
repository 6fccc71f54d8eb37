package archive

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type ProgressStatus string

const (
	StatusPending ProgressStatus = "pending"
	StatusRunning ProgressStatus = "running"
	StatusDone    ProgressStatus = "done"
	StatusAborted ProgressStatus = "aborted"
)

// ProgressSnapshot is an immutable copy of a Progress, for status reporting.
type ProgressSnapshot struct {
	Subject    string         `json:"subject"`
	Status     ProgressStatus `json:"status"`
	PartsDone  int            `json:"parts_done"`
	PartsKnown int            `json:"parts_known"`
	Elapsed    time.Duration  `json:"elapsed"`
	Error      string         `json:"error,omitempty"`
}

// Progress is the shared state of one in-flight task. It completes exactly once, either with a value or with an abort error, and then releases every current and future joiner.
type Progress struct {
	subject string
	started time.Time

	lk         sync.Mutex
	status     ProgressStatus
	partsDone  int
	partsKnown int
	err        error
	value      any
	onDone     []func()

	done chan struct{}
}

func NewProgress(subject string) *Progress {
	return &Progress{
		subject: subject,
		started: time.Now(),
		status:  StatusPending,
		done:    make(chan struct{}),
	}
}

func (p *Progress) Subject() string {
	return p.subject
}

// Start marks the task as picked up by a worker.
func (p *Progress) Start() {
	p.lk.Lock()
	defer p.lk.Unlock()
	if p.status == StatusPending {
		p.status = StatusRunning
	}
}

func (p *Progress) AddPartKnown(n int) {
	p.lk.Lock()
	p.partsKnown += n
	p.lk.Unlock()
}

func (p *Progress) AddPartDone(n int) {
	p.lk.Lock()
	p.partsDone += n
	p.lk.Unlock()
}

// Finish completes the progress successfully. The value is handed to duplicate joiners. Returns false if the progress had already completed.
func (p *Progress) Finish(value any) bool {
	return p.complete(StatusDone, value, nil)
}

// Abort completes the progress with a failure; every joiner receives err (as a TaskAbortError). Returns false if the progress had already completed.
func (p *Progress) Abort(err error) bool {
	if err == nil {
		err = fmt.Errorf("aborted without cause")
	}
	return p.complete(StatusAborted, nil, Abort(p.subject, err))
}

func (p *Progress) complete(status ProgressStatus, value any, err error) bool {
	p.lk.Lock()
	if p.status == StatusDone || p.status == StatusAborted {
		p.lk.Unlock()
		return false
	}
	p.status = status
	p.value = value
	p.err = err
	if status == StatusDone && p.partsKnown > p.partsDone {
		p.partsDone = p.partsKnown
	}
	hooks := p.onDone
	p.onDone = nil
	close(p.done)
	p.lk.Unlock()

	for _, fn := range hooks {
		fn()
	}
	return true
}

// OnDone registers fn to run once the progress completes. If it already has, fn runs immediately.
func (p *Progress) OnDone(fn func()) {
	p.lk.Lock()
	if p.status == StatusDone || p.status == StatusAborted {
		p.lk.Unlock()
		fn()
		return
	}
	p.onDone = append(p.onDone, fn)
	p.lk.Unlock()
}

func (p *Progress) Done() <-chan struct{} {
	return p.done
}

func (p *Progress) IsDone() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Join blocks until the progress completes and returns its abort error, if any.
func (p *Progress) Join() error {
	<-p.done
	return p.err
}

// JoinContext is Join with a deadline on the waiting. Giving up does not cancel the task, which may still complete (irreversibly) in the background.
func (p *Progress) JoinContext(ctx context.Context) error {
	select {
	case <-p.done:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Value returns what the task completed with; nil until done.
func (p *Progress) Value() any {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.value
}

func (p *Progress) Err() error {
	p.lk.Lock()
	defer p.lk.Unlock()
	return p.err
}

func (p *Progress) Snapshot() ProgressSnapshot {
	p.lk.Lock()
	defer p.lk.Unlock()
	s := ProgressSnapshot{
		Subject:    p.subject,
		Status:     p.status,
		PartsDone:  p.partsDone,
		PartsKnown: p.partsKnown,
		Elapsed:    time.Since(p.started),
	}
	if p.err != nil {
		s.Error = p.err.Error()
	}
	return s
}
