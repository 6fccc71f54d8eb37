package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memBackend struct {
	lk     sync.Mutex
	blocks map[Locator][]byte
	hints  []string
	gets   atomic.Int64
	puts   atomic.Int64
}

func newMemBackend() *memBackend {
	return &memBackend{blocks: make(map[Locator][]byte)}
}

func (m *memBackend) Get(ctx context.Context, loc Locator) ([]byte, error) {
	m.gets.Add(1)
	m.lk.Lock()
	defer m.lk.Unlock()
	b, ok := m.blocks[loc]
	if !ok {
		return nil, fmt.Errorf("get %s: %w", loc, ErrNotFound)
	}
	return b, nil
}

func (m *memBackend) Put(ctx context.Context, data []byte, hint string) (Locator, error) {
	m.puts.Add(1)
	loc, err := ComputeLocator(data)
	if err != nil {
		return loc, err
	}
	m.lk.Lock()
	defer m.lk.Unlock()
	m.blocks[loc] = append([]byte(nil), data...)
	if hint != "" {
		m.hints = append(m.hints, hint)
	}
	return loc, nil
}

// gatedArchiver blocks every call until release is closed, and counts calls
type gatedArchiver struct {
	release chan struct{}
	calls   atomic.Int64
	fail    error
	panics  bool
	forget  bool
}

func (g *gatedArchiver) Pull(ctx context.Context, task *PullTask[string]) error {
	g.calls.Add(1)
	<-g.release
	if g.panics {
		panic("boom")
	}
	if g.fail != nil {
		return g.fail
	}
	task.Data = "data:" + task.Meta.Locator.String()
	return nil
}

func (g *gatedArchiver) Push(ctx context.Context, task *PushTask[string]) error {
	g.calls.Add(1)
	<-g.release
	if g.fail != nil {
		return g.fail
	}
	loc, err := ComputeLocator([]byte(task.Data))
	if err != nil {
		return err
	}
	task.Meta.Locator = loc
	return nil
}

func (g *gatedArchiver) PullLive(ctx context.Context, task *PullTask[string], p *Progress) {
	err := g.Pull(ctx, task)
	if g.forget {
		return
	}
	if err != nil {
		p.Abort(err)
		return
	}
	p.Finish(task.Data)
}

func (g *gatedArchiver) PushLive(ctx context.Context, task *PushTask[string], p *Progress) {
	if err := g.Push(ctx, task); err != nil {
		p.Abort(err)
		return
	}
	p.Finish(task.Meta)
}

func mustLocator(t *testing.T, s string) Locator {
	loc, err := ComputeLocator([]byte(s))
	require.NoError(t, err)
	return loc
}

func TestLocatorParse(t *testing.T) {
	assert := assert.New(t)

	loc := mustLocator(t, "hello")
	parsed, err := ParseLocator(loc.String())
	assert.NoError(err)
	assert.Equal(loc, parsed)

	_, err = ParseLocator("not a locator")
	assert.Error(err)
}

func TestErrorTaxonomy(t *testing.T) {
	assert := assert.New(t)

	dfe := NewDataFormatError("k", errors.New("bad"), "unknown entry type %d", 9)
	assert.ErrorIs(dfe, ErrDataFormat)
	assert.Contains(dfe.Error(), "unknown entry type 9")

	wrapped := Abort("pull:x", fmt.Errorf("reading: %w", dfe))
	assert.ErrorIs(wrapped, ErrDataFormat)
	assert.False(IsRetryable(wrapped))

	timeout := Abort("pull:y", context.DeadlineExceeded)
	assert.True(IsRetryable(timeout))

	// wrapping twice keeps the first subject
	again := Abort("other", timeout)
	var tae *TaskAbortError
	assert.True(errors.As(again, &tae))
	assert.Equal("pull:y", tae.Subject)

	assert.Nil(Abort("z", nil))
	assert.False(IsRetryable(errors.New("plain")))
}

func TestProgressJoinDeliversAbortToEveryone(t *testing.T) {
	assert := assert.New(t)

	p := NewProgress("pull:abc")
	cause := errors.New("backend unreachable")

	var wg sync.WaitGroup
	errs := make([]error, 5)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = p.Join()
		}(i)
	}

	assert.True(p.Abort(cause))
	assert.False(p.Finish("late"))
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(err, cause)
	}
	// joiners arriving later see the same outcome
	assert.ErrorIs(p.Join(), cause)
	assert.Equal(StatusAborted, p.Snapshot().Status)
}

func TestProgressHooksAndParts(t *testing.T) {
	assert := assert.New(t)

	p := NewProgress("push:1")
	var fired atomic.Int64
	p.OnDone(func() { fired.Add(1) })
	p.AddPartKnown(3)
	p.AddPartDone(1)
	p.Start()

	s := p.Snapshot()
	assert.Equal(StatusRunning, s.Status)
	assert.Equal(1, s.PartsDone)
	assert.Equal(3, s.PartsKnown)

	assert.True(p.Finish(42))
	assert.Equal(int64(1), fired.Load())
	assert.Equal(42, p.Value())
	assert.Equal(3, p.Snapshot().PartsDone)

	// registered after completion: runs at once
	p.OnDone(func() { fired.Add(1) })
	assert.Equal(int64(2), fired.Load())
}

func TestProgressJoinContext(t *testing.T) {
	assert := assert.New(t)

	p := NewProgress("slow")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(p.JoinContext(ctx), context.DeadlineExceeded)
	assert.False(p.IsDone())

	p.Finish(nil)
	assert.NoError(p.JoinContext(context.Background()))
}

func TestTrackerDedup(t *testing.T) {
	assert := assert.New(t)

	tr := NewProgressTracker()
	task := NewPullTask[string](mustLocator(t, "a"))
	same := NewPullTask[string](mustLocator(t, "a"))

	p, err := tr.AddPullProgress(task)
	assert.NoError(err)

	_, err = tr.AddPullProgress(same)
	var tip *TaskInProgressError
	assert.True(errors.As(err, &tip))
	assert.Same(p, tip.Progress)

	// reports name the locator as text, never the raw key bytes
	loc := mustLocator(t, "a")
	assert.Equal("pull:"+loc.String(), p.Subject())
	assert.True(utf8.ValidString(p.Subject()))
	assert.Contains(err.Error(), loc.String())
	assert.True(utf8.ValidString(err.Error()))

	// pushes live in their own namespace
	push := NewPushTask(0, "x")
	_, err = tr.AddPushProgress(push)
	assert.NoError(err)

	pulls, pushes := tr.InFlight()
	assert.Equal(1, pulls)
	assert.Equal(1, pushes)

	p.Finish("done")
	_, ok := tr.PullProgress(task.Key())
	assert.False(ok)

	// a completed task may run again
	p2, err := tr.AddPullProgress(same)
	assert.NoError(err)
	assert.NotSame(p, p2)
}

func TestPushIdentity(t *testing.T) {
	assert := assert.New(t)

	a := NewPushTask(0, "same")
	b := NewPushTask(0, "same")
	assert.NotEqual(a.Key(), b.Key())

	id := NewObjectID()
	c := NewPushTask(id, "x")
	d := NewPushTask(id, "y")
	assert.Equal(c.Key(), d.Key())
}

func TestPoolCallerRuns(t *testing.T) {
	assert := assert.New(t)

	pool := NewPool("test-caller-runs", 1)
	block := make(chan struct{})
	started := make(chan struct{})
	pool.Go(func() {
		close(started)
		<-block
	})
	<-started

	// the only slot is busy: this one runs before Go returns
	ran := false
	pool.Go(func() { ran = true })
	assert.True(ran)
	close(block)
}

func TestParallelAtMostOnce(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)
	ctx := context.Background()

	g := &gatedArchiver{release: make(chan struct{})}
	ps := NewParallelSerializer[string]("test-once", g, NewPool("test-once", 8), nil)

	loc := mustLocator(t, "shared")
	a := NewPullTask[string](loc)
	b := NewPullTask[string](loc)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, task := range []*PullTask[string]{a, b} {
		wg.Add(1)
		go func(i int, task *PullTask[string]) {
			defer wg.Done()
			errs[i] = ps.Pull(ctx, task)
		}(i, task)
	}

	require.Eventually(func() bool {
		pulls, _ := ps.Tracker().InFlight()
		return g.calls.Load() == 1 && pulls == 1
	}, time.Second, time.Millisecond)
	// give the second caller time to register as a joiner
	time.Sleep(20 * time.Millisecond)
	close(g.release)
	wg.Wait()

	assert.NoError(errs[0])
	assert.NoError(errs[1])
	assert.Equal(int64(1), g.calls.Load())
	assert.Equal("data:"+loc.String(), a.Data)
	assert.Equal(a.Data, b.Data)
}

func TestParallelBatchDuplicates(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	g := &gatedArchiver{release: make(chan struct{})}
	close(g.release)
	ps := NewParallelSerializer[string]("test-batch", g, NewPool("test-batch", 4), nil)

	id := NewObjectID()
	tasks := []*PushTask[string]{
		NewPushTask(id, "one"),
		NewPushTask(id, "one"),
		NewPushTask(0, "two"),
	}
	assert.NoError(ps.PushAll(ctx, tasks))
	assert.Equal(int64(2), g.calls.Load())
	assert.True(tasks[0].Meta.Locator.Defined())
	assert.Equal(tasks[0].Meta.Locator, tasks[1].Meta.Locator)
	assert.NotEqual(tasks[0].Meta.Locator, tasks[2].Meta.Locator)
}

func TestParallelAbortReachesJoiners(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	cause := errors.New("transport down")
	g := &gatedArchiver{release: make(chan struct{}), fail: cause}
	close(g.release)
	ps := NewParallelSerializer[string]("test-abort", g, nil, nil)

	loc := mustLocator(t, "x")
	err := ps.PullAll(ctx, []*PullTask[string]{NewPullTask[string](loc), NewPullTask[string](loc)})
	assert.ErrorIs(err, cause)
	var tae *TaskAbortError
	assert.True(errors.As(err, &tae))
}

func TestParallelNeverLeavesJoinersHanging(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()

	panicky := &gatedArchiver{release: make(chan struct{}), panics: true}
	close(panicky.release)
	ps := NewParallelSerializer[string]("test-panic", panicky, nil, nil)
	assert.Error(ps.Pull(ctx, NewPullTask[string](mustLocator(t, "p"))))

	forgetful := &gatedArchiver{release: make(chan struct{}), forget: true}
	close(forgetful.release)
	ps = NewParallelSerializer[string]("test-forget", forgetful, nil, nil)
	assert.Error(ps.Pull(ctx, NewPullTask[string](mustLocator(t, "f"))))

	assert.ErrorIs(ps.Pull(ctx, NewPullTask[string](Locator{})), ErrNullLocator)
}

func TestObjectProcessor(t *testing.T) {
	assert := assert.New(t)
	require := require.New(t)

	var active, peak atomic.Int64
	release := make(chan struct{})
	proc := NewObjectProcessor[string, int](context.Background(), "test-proc", 2, func(ctx context.Context, item string) error {
		n := active.Add(1)
		defer active.Add(-1)
		for {
			old := peak.Load()
			if n <= old || peak.CompareAndSwap(old, n) {
				break
			}
		}
		<-release
		if item == "bad" {
			return errors.New("bad item")
		}
		return nil
	})

	require.NoError(proc.Submit("a", 1))
	require.NoError(proc.Submit("b", 2))
	require.NoError(proc.Submit("bad", 3))
	assert.ErrorIs(proc.Submit("a", 9), ErrDuplicateItem)
	assert.Equal(3, proc.Pending())

	proc.Close()
	assert.ErrorIs(proc.Submit("c", 4), ErrProcessorClosed)
	close(release)

	got := make(map[string]Result[string, int])
	for res := range proc.Results() {
		got[res.Item] = res
	}
	assert.Len(got, 3)
	assert.Equal(1, got["a"].Deposit)
	assert.NoError(got["a"].Err)
	assert.Equal(3, got["bad"].Deposit)
	assert.Error(got["bad"].Err)
	assert.LessOrEqual(peak.Load(), int64(2))
	assert.Equal(0, proc.Pending())
}
