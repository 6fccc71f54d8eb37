package archive

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// ProgressTracker holds at most one live Progress per task identity. Entries are removed as soon as their Progress completes.
type ProgressTracker struct {
	pulls  *xsync.MapOf[TaskKey, *Progress]
	pushes *xsync.MapOf[TaskKey, *Progress]
}

func NewProgressTracker() *ProgressTracker {
	return &ProgressTracker{
		pulls:  xsync.NewMapOf[TaskKey, *Progress](),
		pushes: xsync.NewMapOf[TaskKey, *Progress](),
	}
}

// AddPullProgress registers a new Progress for task, or fails with a TaskInProgressError carrying the live one.
func (t *ProgressTracker) AddPullProgress(task Task) (*Progress, error) {
	return add(t.pulls, task)
}

func (t *ProgressTracker) AddPushProgress(task Task) (*Progress, error) {
	return add(t.pushes, task)
}

func (t *ProgressTracker) PullProgress(key TaskKey) (*Progress, bool) {
	return t.pulls.Load(key)
}

func (t *ProgressTracker) PushProgress(key TaskKey) (*Progress, bool) {
	return t.pushes.Load(key)
}

// InFlight returns the number of live pull and push progresses.
func (t *ProgressTracker) InFlight() (pulls, pushes int) {
	return t.pulls.Size(), t.pushes.Size()
}

func add(m *xsync.MapOf[TaskKey, *Progress], task Task) (*Progress, error) {
	key := task.Key()
	p := NewProgress(task.Subject())
	actual, loaded := m.LoadOrStore(key, p)
	if loaded {
		return nil, &TaskInProgressError{Key: key, Subject: task.Subject(), Progress: actual}
	}
	p.OnDone(func() {
		// only drop the entry if it is still ours
		m.Compute(key, func(old *Progress, ok bool) (*Progress, bool) {
			return old, !ok || old == p
		})
	})
	return p, nil
}
