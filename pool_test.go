package fjpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tahsin716/fjpool/internal/logging/logtest"
)

// newTestPool creates a pool that logs through t and is shut down and
// awaited when the test ends.
func newTestPool(t *testing.T, opts ...Option) *Pool {
	t.Helper()
	opts = append([]Option{WithLogger(logtest.New(t))}, opts...)
	p, err := NewPool(opts...)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}
	t.Cleanup(func() {
		p.ShutdownNow()
		if !p.AwaitTermination(5 * time.Second) {
			t.Errorf("pool %s did not terminate", p)
		}
	})
	return p
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// sumTask sums data by splitting it in halves until a piece is at most
// threshold long.
func sumTask(data []int64, threshold int) *Future[int64] {
	return NewFuture(func(w *Worker) (int64, error) {
		if len(data) <= threshold {
			var s int64
			for _, v := range data {
				s += v
			}
			return s, nil
		}
		mid := len(data) / 2
		left := sumTask(data[:mid], threshold).Fork(w)
		right, err := sumTask(data[mid:], threshold).Invoke(w)
		if err != nil {
			return 0, err
		}
		l, err := left.Join(w)
		if err != nil {
			return 0, err
		}
		return l + right, nil
	})
}

func fib(w *Worker, n int) int {
	if n < 2 {
		return n
	}
	f1 := NewFuture(func(w *Worker) (int, error) {
		return fib(w, n-1), nil
	}).Fork(w)
	f2 := fib(w, n-2)
	v1, _ := f1.Join(w)
	return v1 + f2
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// ============================================================================
// Pool Creation Tests
// ============================================================================

func TestNewPool_DefaultConfig(t *testing.T) {
	p := newTestPool(t)

	if p.Parallelism() <= 0 {
		t.Errorf("Expected positive parallelism, got %d", p.Parallelism())
	}
	if p.PoolSize() != 0 {
		t.Errorf("No workers should start before work arrives, got %d", p.PoolSize())
	}
	if p.State() != StateRunning {
		t.Errorf("Expected %v, got %v", StateRunning, p.State())
	}
	if p.ID() == "" || p.Name() != "fjpool" {
		t.Errorf("Unexpected identity %q/%q", p.Name(), p.ID())
	}
}

func TestNewPool_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{
			name: "zero parallelism",
			opts: []Option{WithParallelism(0)},
		},
		{
			name: "parallelism above cap",
			opts: []Option{WithParallelism(maxCap + 1)},
		},
		{
			name: "max workers below parallelism",
			opts: []Option{WithParallelism(4), WithMaxWorkers(2)},
		},
		{
			name: "non-power-of-2 queue",
			opts: []Option{WithQueueCapacity(100, 1024)},
		},
		{
			name: "nil factory",
			opts: []Option{WithWorkerFactory(nil)},
		},
		{
			name: "zero idle timeout",
			opts: []Option{WithIdleTimeout(0)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPool(tt.opts...)
			if err == nil {
				t.Error("Expected error, got nil")
			}
		})
	}
}

// ============================================================================
// Submit Tests
// ============================================================================

func TestPool_Submit_Success(t *testing.T) {
	p := newTestPool(t, WithParallelism(2))

	var executed atomic.Int32
	task := NewAction(func(*Worker) error {
		executed.Add(1)
		return nil
	})
	if err := p.Submit(task); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case <-task.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("task did not complete")
	}
	if executed.Load() != 1 {
		t.Errorf("Expected 1 execution, got %d", executed.Load())
	}
}

func TestPool_Submit_NilTask(t *testing.T) {
	p := newTestPool(t)

	if err := p.Submit(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Expected ErrNilTask, got %v", err)
	}
	if err := p.Execute(nil); !errors.Is(err, ErrNilTask) {
		t.Errorf("Expected ErrNilTask, got %v", err)
	}
}

func TestPool_Submit_AfterShutdown(t *testing.T) {
	p := newTestPool(t)
	p.Shutdown()

	err := p.Execute(func() {})
	if !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Expected ErrPoolShutdown, got %v", err)
	}
	if _, err := Go(p, func(*Worker) (int, error) { return 1, nil }); !errors.Is(err, ErrPoolShutdown) {
		t.Errorf("Expected ErrPoolShutdown from Go, got %v", err)
	}
}

func TestPool_Submit_Concurrent(t *testing.T) {
	p := newTestPool(t, WithParallelism(4))

	const numTasks = 1000
	var completed atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < numTasks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Execute(func() { completed.Add(1) }); err != nil {
				t.Errorf("Execute() error = %v", err)
			}
		}()
	}
	wg.Wait()

	if !p.AwaitQuiescence(5 * time.Second) {
		t.Fatal("pool did not quiesce")
	}
	if completed.Load() != numTasks {
		t.Errorf("Expected %d completions, got %d", numTasks, completed.Load())
	}
	if got := p.Stats().Submitted; got != numTasks {
		t.Errorf("Expected %d submitted, got %d", numTasks, got)
	}
}

// ============================================================================
// Fork/Join Tests
// ============================================================================

func TestPool_ForkJoinSum(t *testing.T) {
	p := newTestPool(t, WithParallelism(4))

	const n = 1 << 20
	data := make([]int64, n)
	for i := range data {
		data[i] = int64(i + 1)
	}

	task := sumTask(data, 1024)
	if err := p.Invoke(testContext(t), task); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}

	want := int64(n) * (n + 1) / 2
	if got := task.Result(); got != want {
		t.Errorf("Expected sum %d, got %d", want, got)
	}
	if p.StealCount() == 0 {
		t.Log("no steals observed; tasks ran on a single worker")
	}
}

func TestPool_ForkJoinFib(t *testing.T) {
	p := newTestPool(t, WithParallelism(4))

	f, err := Go(p, func(w *Worker) (int, error) {
		return fib(w, 20), nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	v, err := f.Get(testContext(t))
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if v != 6765 {
		t.Errorf("Expected fib(20) = 6765, got %d", v)
	}
}

// One task forks a handful of leaves on a small pool and joins them all.
// Afterwards no worker stays active and no more than one spare was
// started for the joins.
func TestPool_ForkJoinFanOut(t *testing.T) {
	const parallelism = 2
	p := newTestPool(t, WithParallelism(parallelism))

	f, err := Go(p, func(w *Worker) (int, error) {
		leaves := make([]*Future[int], 8)
		for i := range leaves {
			leaves[i] = NewFuture(func(*Worker) (int, error) { return 1, nil }).Fork(w)
		}
		sum := 0
		for i := len(leaves) - 1; i >= 0; i-- {
			v, err := leaves[i].Join(w)
			if err != nil {
				return 0, err
			}
			sum += v
		}
		return sum, nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	v, err := f.Get(testContext(t))
	if err != nil || v != 8 {
		t.Fatalf("Get() = %d, %v", v, err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return p.ActiveCount() == 0 }) {
		t.Errorf("Expected no active workers at rest, got %d", p.ActiveCount())
	}
	if created := p.Stats().WorkersCreated; created > parallelism+1 {
		t.Errorf("Expected at most %d workers created, got %d", parallelism+1, created)
	}
}

func TestPool_AsyncMode(t *testing.T) {
	p := newTestPool(t, WithParallelism(2), WithAsyncMode(true))
	if !p.AsyncMode() {
		t.Fatal("Expected async mode")
	}

	var ran atomic.Int32
	root, err := Go(p, func(w *Worker) (struct{}, error) {
		for i := 0; i < 100; i++ {
			NewAction(func(*Worker) error {
				ran.Add(1)
				return nil
			}).Fork(w)
		}
		return struct{}{}, nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if _, err := root.Get(testContext(t)); err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	if !p.AwaitQuiescence(5 * time.Second) {
		t.Fatal("pool did not quiesce")
	}
	if ran.Load() != 100 {
		t.Errorf("Expected 100 event tasks, got %d", ran.Load())
	}
}

// ============================================================================
// Blocking and Compensation Tests
// ============================================================================

// A single-worker pool still makes progress when the only running task
// blocks on something another queued task provides.
func TestPool_ManagedBlockCompensates(t *testing.T) {
	p := newTestPool(t, WithParallelism(1))

	ch := make(chan struct{})
	started := make(chan struct{})
	a, err := Go(p, func(w *Worker) (string, error) {
		close(started)
		if err := BlockOn(w, ch); err != nil {
			return "", err
		}
		return "a", nil
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	<-started

	if err := p.Execute(func() { close(ch) }); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	v, err := a.Get(testContext(t))
	if err != nil || v != "a" {
		t.Fatalf("Get() = %q, %v", v, err)
	}
	if p.Stats().Compensations == 0 {
		t.Error("Expected a compensating worker")
	}
}

func TestPool_CompensationLimit(t *testing.T) {
	p := newTestPool(t, WithParallelism(1), WithMaxWorkers(1))

	never := make(chan struct{})
	f, err := Go(p, func(w *Worker) (struct{}, error) {
		return struct{}{}, BlockOn(w, never)
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	if _, err := f.Get(testContext(t)); !errors.Is(err, ErrCompensationLimit) {
		t.Errorf("Expected ErrCompensationLimit, got %v", err)
	}
}

// Many joins blocked at once never take the pool past MaxWorkers, and
// they all finish once the joined task completes.
func TestPool_CompensationBound(t *testing.T) {
	const (
		parallelism = 2
		maxWorkers  = 4
		blockers    = 64
	)
	p := newTestPool(t,
		WithParallelism(parallelism),
		WithMaxWorkers(maxWorkers),
		WithSaturate(func(*Pool) bool { return true }),
	)

	gate := NewFuture(func(*Worker) (int, error) { return 0, nil })
	tasks := make([]*Future[int], blockers)
	for i := range tasks {
		f, err := Go(p, func(w *Worker) (int, error) { return gate.Join(w) })
		if err != nil {
			t.Fatalf("Go(%d) error = %v", i, err)
		}
		tasks[i] = f
	}

	maxSize := 0
	sample := func() {
		if n := p.PoolSize(); n > maxSize {
			maxSize = n
		}
	}
	for deadline := time.Now().Add(200 * time.Millisecond); time.Now().Before(deadline); {
		sample()
		time.Sleep(time.Millisecond)
	}

	gate.Complete(1)
	ctx := testContext(t)
	for i, f := range tasks {
		if v, err := f.Get(ctx); err != nil || v != 1 {
			t.Errorf("task %d: Get() = %d, %v", i, v, err)
		}
		sample()
	}

	if maxSize == 0 || maxSize > maxWorkers {
		t.Errorf("Expected pool size in [1, %d], peaked at %d", maxWorkers, maxSize)
	}
	if created := p.Stats().WorkersCreated; created > maxWorkers {
		t.Errorf("Expected at most %d workers created, got %d", maxWorkers, created)
	}
}

func TestPool_SaturateBlocksUncompensated(t *testing.T) {
	var consulted atomic.Bool
	p := newTestPool(t,
		WithParallelism(1),
		WithMaxWorkers(1),
		WithSaturate(func(*Pool) bool {
			consulted.Store(true)
			return true
		}),
	)

	never := make(chan struct{})
	f, err := Go(p, func(w *Worker) (struct{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		return struct{}{}, BlockOnContext(ctx, w, never)
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	if _, err := f.Get(testContext(t)); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
	if !consulted.Load() {
		t.Error("Saturate was not consulted")
	}
	if p.PoolSize() > 1 {
		t.Errorf("Expected no spare workers, got pool size %d", p.PoolSize())
	}
}

// ============================================================================
// Shutdown Tests
// ============================================================================

func TestPool_Shutdown_Graceful(t *testing.T) {
	p := newTestPool(t, WithParallelism(2))

	var completed atomic.Int32
	for i := 0; i < 100; i++ {
		p.Execute(func() {
			time.Sleep(100 * time.Microsecond)
			completed.Add(1)
		})
	}

	p.Shutdown()
	if !p.IsShutdown() {
		t.Error("Pool should be shutdown")
	}
	if !p.AwaitTermination(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	if completed.Load() != 100 {
		t.Errorf("Expected 100 completions, got %d", completed.Load())
	}
	if p.PoolSize() != 0 {
		t.Errorf("Expected no workers after termination, got %d", p.PoolSize())
	}
}

// Tasks queued behind a blocked worker are cancelled, not run, by
// ShutdownNow.
func TestPool_ShutdownNow_CancelsQueued(t *testing.T) {
	p := newTestPool(t, WithParallelism(1))

	release := make(chan struct{})
	started := make(chan struct{})
	blocker := NewAction(func(*Worker) error {
		close(started)
		<-release
		return nil
	})
	if err := p.Submit(blocker); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	<-started

	var ran atomic.Int32
	queued := make([]*Future[struct{}], 5)
	for i := range queued {
		queued[i] = NewAction(func(*Worker) error {
			ran.Add(1)
			return nil
		})
		if err := p.Submit(queued[i]); err != nil {
			t.Fatalf("Submit(%d) error = %v", i, err)
		}
	}

	if got := p.ShutdownNow(); len(got) != 0 {
		t.Errorf("Expected empty slice, got %d tasks", len(got))
	}
	if !p.IsTerminating() && !p.IsTerminated() {
		t.Errorf("Expected stopping state, got %v", p.State())
	}

	for i, task := range queued {
		if !task.IsCancelled() {
			t.Errorf("Task %d not cancelled", i)
		}
		if _, err := task.Join(nil); !errors.Is(err, ErrCancelled) {
			t.Errorf("Task %d: expected ErrCancelled, got %v", i, err)
		}
	}

	close(release)
	if !p.AwaitTermination(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	if ran.Load() != 0 {
		t.Errorf("Cancelled tasks ran %d times", ran.Load())
	}
	if !blocker.IsDone() {
		t.Error("Running task should be done after termination")
	}
}

// A join blocked when the pool stops is woken instead of hanging.
func TestPool_ShutdownNow_WakesJoin(t *testing.T) {
	p := newTestPool(t, WithParallelism(2))

	release := make(chan struct{})
	inner := make(chan *Future[struct{}], 1)
	outer, err := Go(p, func(w *Worker) (struct{}, error) {
		f := NewAction(func(*Worker) error {
			<-release
			return nil
		})
		inner <- f
		// Never forked: only cancellation completes it.
		_, err := f.Join(w)
		return struct{}{}, err
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	f := <-inner
	defer close(release)

	p.ShutdownNow()
	f.Cancel()

	if _, err := outer.Get(testContext(t)); !errors.Is(err, ErrCancelled) {
		t.Errorf("Expected ErrCancelled, got %v", err)
	}
}

// idleStackLen walks the idle-worker stack from the control word.
func idleStackLen(t *testing.T, p *Pool) int {
	t.Helper()
	ws := p.queues.Load()
	m := ws.mask()
	n := 0
	for sp := ctlWord(p.ctl.Load()).sp(); sp != 0; n++ {
		if n > ws.len() {
			t.Fatal("idle stack has a cycle")
		}
		q := ws.get(int(sp) & m)
		if q == nil {
			t.Fatalf("idle stack references empty slot %d", int(sp)&m)
		}
		sp = q.stackPred.Load()
	}
	return n
}

// At rest every live worker is either active or parked on the idle stack,
// and after termination there are neither.
func TestPool_WorkerConservation(t *testing.T) {
	p := newTestPool(t, WithParallelism(4), WithIdleTimeout(time.Minute))

	if err := p.Invoke(testContext(t), sumTask(make([]int64, 1<<16), 256)); err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !waitFor(t, 5*time.Second, func() bool { return p.ActiveCount() == 0 }) {
		t.Fatalf("pool did not come to rest, active %d", p.ActiveCount())
	}

	size := p.PoolSize()
	if size == 0 {
		t.Fatal("Expected live workers after a run")
	}
	if parked := idleStackLen(t, p); p.ActiveCount()+parked != size {
		t.Errorf("active %d + parked %d != pool size %d", p.ActiveCount(), parked, size)
	}
	stats := p.Stats()
	if len(stats.Workers) != size {
		t.Errorf("Expected %d worker entries, got %d", size, len(stats.Workers))
	}
	for _, w := range stats.Workers {
		if w.State != WorkerInactive {
			t.Errorf("worker %s is %s at rest", w.Name, w.State)
		}
	}

	p.Shutdown()
	if !p.AwaitTermination(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}
	if p.ActiveCount() != 0 || p.PoolSize() != 0 {
		t.Errorf("After termination: active %d, pool size %d", p.ActiveCount(), p.PoolSize())
	}
}

func TestPool_StateIsMonotonic(t *testing.T) {
	p := newTestPool(t, WithParallelism(2))

	if err := p.Execute(func() {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	p.AwaitQuiescence(5 * time.Second)

	last := p.State()
	p.Shutdown()
	for i := 0; i < 3; i++ {
		p.Shutdown()
		p.ShutdownNow()
	}
	if !waitFor(t, 5*time.Second, func() bool {
		s := p.State()
		if s < last {
			t.Fatalf("State went backwards: %v -> %v", last, s)
		}
		last = s
		return s == StateTerminated
	}) {
		t.Fatalf("Expected %v, got %v", StateTerminated, p.State())
	}

	select {
	case <-p.Terminated():
	default:
		t.Error("Terminated channel not closed")
	}
	if !p.IsShutdown() || !p.IsTerminated() || p.IsTerminating() {
		t.Errorf("Unexpected flags in %v", p.State())
	}
}

func TestPool_AwaitQuiescence(t *testing.T) {
	p := newTestPool(t, WithParallelism(4))

	var completed atomic.Int32
	for i := 0; i < 200; i++ {
		p.Execute(func() {
			time.Sleep(50 * time.Microsecond)
			completed.Add(1)
		})
	}

	if !p.AwaitQuiescence(5 * time.Second) {
		t.Fatal("pool did not quiesce")
	}
	if completed.Load() != 200 {
		t.Errorf("Expected 200 completions, got %d", completed.Load())
	}
	if !p.IsQuiescent() || p.HasQueuedSubmissions() {
		t.Error("Expected a quiescent pool with no queued submissions")
	}
}

// ============================================================================
// Worker Lifecycle Tests
// ============================================================================

func TestPool_IdleWorkersExit(t *testing.T) {
	p := newTestPool(t, WithParallelism(4), WithIdleTimeout(30*time.Millisecond))

	for i := 0; i < 50; i++ {
		p.Execute(func() { time.Sleep(time.Millisecond) })
	}
	if !p.AwaitQuiescence(5 * time.Second) {
		t.Fatal("pool did not quiesce")
	}
	if p.Stats().WorkersCreated == 0 {
		t.Fatal("Expected workers to start")
	}

	if !waitFor(t, 10*time.Second, func() bool { return p.PoolSize() == 0 }) {
		t.Errorf("Expected idle workers to exit, pool size %d", p.PoolSize())
	}

	// The pool starts workers again when new work arrives.
	f, err := Go(p, func(*Worker) (int, error) { return 7, nil })
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if v, err := f.Get(testContext(t)); err != nil || v != 7 {
		t.Errorf("Get() = %d, %v", v, err)
	}
}

func TestPool_FactoryErrorRollsBack(t *testing.T) {
	boom := errors.New("no threads today")
	var calls atomic.Int32
	factory := WorkerFactoryFunc(func(p *Pool) (*Worker, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return NewWorker(p), nil
	})
	p := newTestPool(t, WithParallelism(2), WithWorkerFactory(factory))

	first := NewAction(func(*Worker) error { return nil })
	err := p.Submit(first)
	if !errors.Is(err, ErrWorkerCreation) || !errors.Is(err, boom) {
		t.Fatalf("Expected wrapped creation error, got %v", err)
	}
	if p.PoolSize() != 0 || p.ActiveCount() != 0 {
		t.Errorf("Counts not rolled back: size %d, active %d", p.PoolSize(), p.ActiveCount())
	}
	if p.QueuedSubmissionCount() != 1 {
		t.Errorf("Task should stay queued, got %d", p.QueuedSubmissionCount())
	}

	// The next submission starts a worker that also takes the first task.
	second := NewAction(func(*Worker) error { return nil })
	if err := p.Submit(second); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ctx := testContext(t)
	if _, err := first.Get(ctx); err != nil {
		t.Errorf("first: %v", err)
	}
	if _, err := second.Get(ctx); err != nil {
		t.Errorf("second: %v", err)
	}
}

// A future whose submission could not start a worker is still returned
// and runs once a worker exists.
func TestGo_FactoryErrorKeepsFuture(t *testing.T) {
	boom := errors.New("no threads today")
	var calls atomic.Int32
	factory := WorkerFactoryFunc(func(p *Pool) (*Worker, error) {
		if calls.Add(1) == 1 {
			return nil, boom
		}
		return NewWorker(p), nil
	})
	p := newTestPool(t, WithParallelism(2), WithWorkerFactory(factory))

	f, err := Go(p, func(*Worker) (int, error) { return 7, nil })
	if !errors.Is(err, ErrWorkerCreation) {
		t.Fatalf("Expected ErrWorkerCreation, got %v", err)
	}
	if f == nil {
		t.Fatal("Expected the queued future to be returned")
	}
	if got := p.Stats().Submitted; got != 1 {
		t.Errorf("Expected the queued task to count as submitted, got %d", got)
	}

	if err := p.Execute(func() {}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if v, err := f.Get(testContext(t)); err != nil || v != 7 {
		t.Errorf("Get() = %d, %v", v, err)
	}
}

func TestPool_WorkerHooks(t *testing.T) {
	var started, stopped atomic.Int32
	var mu sync.Mutex
	names := map[string]bool{}
	p, err := NewPool(
		WithParallelism(3),
		WithName("hooks"),
		WithOnWorkerStart(func(w *Worker) {
			started.Add(1)
			mu.Lock()
			names[w.Name()] = true
			mu.Unlock()
		}),
		WithOnWorkerStop(func(w *Worker, err error) {
			if err != nil {
				t.Errorf("worker %s stopped with %v", w.Name(), err)
			}
			stopped.Add(1)
		}),
	)
	if err != nil {
		t.Fatalf("NewPool() error = %v", err)
	}

	for i := 0; i < 30; i++ {
		p.Execute(func() { time.Sleep(time.Millisecond) })
	}
	p.Shutdown()
	if !p.AwaitTermination(5 * time.Second) {
		t.Fatal("pool did not terminate")
	}

	if started.Load() == 0 || started.Load() != stopped.Load() {
		t.Errorf("Expected matching hooks, started %d stopped %d", started.Load(), stopped.Load())
	}
	mu.Lock()
	defer mu.Unlock()
	for name := range names {
		if len(name) < len("hooks-worker-0") || name[:len("hooks-worker-")] != "hooks-worker-" {
			t.Errorf("Unexpected worker name %q", name)
		}
	}
}

func TestPool_PanicHandler(t *testing.T) {
	handled := make(chan interface{}, 1)
	var first atomic.Bool
	p := newTestPool(t,
		WithParallelism(1),
		WithPanicHandler(func(r interface{}) {
			select {
			case handled <- r:
			default:
			}
		}),
		WithOnWorkerStart(func(*Worker) {
			if first.CompareAndSwap(false, true) {
				panic("start hook")
			}
		}),
	)

	a := NewAction(func(*Worker) error { return nil })
	if err := p.Submit(a); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	select {
	case r := <-handled:
		if r != "start hook" {
			t.Errorf("Expected 'start hook', got %v", r)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("panic handler was not called")
	}

	// A new worker picks up both the stranded and the new task.
	b := NewAction(func(*Worker) error { return nil })
	if err := p.Submit(b); err != nil {
		t.Fatalf("Submit() error = %v", err)
	}
	ctx := testContext(t)
	if _, err := a.Get(ctx); err != nil {
		t.Errorf("a: %v", err)
	}
	if _, err := b.Get(ctx); err != nil {
		t.Errorf("b: %v", err)
	}
}

func TestPool_TaskPanicIsCaptured(t *testing.T) {
	p := newTestPool(t, WithParallelism(2))

	f, err := Go(p, func(*Worker) (int, error) {
		panic("task panic")
	})
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}

	_, err = f.Get(testContext(t))
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PanicError, got %v", err)
	}
	if pe.Value != "task panic" || len(pe.Stack) == 0 {
		t.Errorf("Unexpected panic error %+v", pe)
	}

	// Pool should still be functional
	g, err := Go(p, func(*Worker) (int, error) { return 1, nil })
	if err != nil {
		t.Fatalf("Go() error = %v", err)
	}
	if v, err := g.Get(testContext(t)); err != nil || v != 1 {
		t.Errorf("Get() = %d, %v", v, err)
	}
}

func TestPool_InvokeContextCancelled(t *testing.T) {
	p := newTestPool(t, WithParallelism(1))

	release := make(chan struct{})
	defer close(release)
	task := NewAction(func(*Worker) error {
		<-release
		return nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Invoke(ctx, task); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected context.DeadlineExceeded, got %v", err)
	}
}
