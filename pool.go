package fjpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/tahsin716/fjpool/internal/logging"
)

// PoolState is a pool lifecycle phase. Phases only advance.
type PoolState uint32

const (
	StateRunning PoolState = iota
	StateShutdown
	StateStopping
	StateTerminated
)

func (s PoolState) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateShutdown:
		return "shutdown"
	case StateStopping:
		return "stopping"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// seedIncrement spaces worker registry slots.
const seedIncrement = int32(-0x61c88647)

// Pool is an elastic work-stealing pool. Workers start on demand up to the
// configured parallelism, more are started to compensate for workers
// blocked in joins, and idle workers exit after IdleTimeout.
type Pool struct {
	ctl      atomic.Int64
	runState runState
	queues   atomic.Pointer[registry]

	indexSeed int32 // guarded by the run-state lock

	stealCount    atomic.Int64
	submitted     atomic.Int64
	created       atomic.Int64
	compensations atomic.Int64

	config      Config
	parallelism int32
	mode        int32
	name        string
	id          string
	factory     WorkerFactory
	log         logr.Logger

	stopOnce   sync.Once
	stopCh     chan struct{} // closed on STOP; wakes blocked joins
	termOnce   sync.Once
	terminated chan struct{}
}

// NewPool creates a pool with the given options. No workers start until
// work is submitted.
//
// Example:
//
//	pool, err := fjpool.NewPool(
//	    fjpool.WithParallelism(8),
//	    fjpool.WithIdleTimeout(5 * time.Second),
//	)
func NewPool(opts ...Option) (*Pool, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	p := &Pool{
		config:      cfg,
		parallelism: int32(cfg.Parallelism),
		mode:        lifoQueue,
		name:        cfg.Name,
		id:          uuid.NewString(),
		factory:     cfg.Factory,
		stopCh:      make(chan struct{}),
		terminated:  make(chan struct{}),
	}
	if cfg.AsyncMode {
		p.mode = fifoQueue
	}
	p.log = cfg.Logger.WithName(cfg.Name).WithValues("pool", p.id)
	p.ctl.Store(int64(newCtl(p.parallelism)))
	p.queues.Store(newRegistry(registrySize(cfg.Parallelism)))
	p.runState.init(rsStarted)

	p.log.V(logging.VERBOSE).Info("Pool created",
		"parallelism", cfg.Parallelism, "maxWorkers", cfg.MaxWorkers, "asyncMode", cfg.AsyncMode)
	return p, nil
}

// Submit schedules t for asynchronous execution.
//
// Returns ErrNilTask if t is nil and ErrPoolShutdown once Shutdown has
// been called. An error from the worker factory is returned wrapped in
// ErrWorkerCreation; the task then stays queued for existing workers.
func (p *Pool) Submit(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	err := p.externalPush(t.core())
	if err != nil && !errors.Is(err, ErrWorkerCreation) {
		return err
	}
	p.submitted.Add(1)
	return err
}

// Execute schedules fn for asynchronous execution, ignoring its outcome.
func (p *Pool) Execute(fn func()) error {
	if fn == nil {
		return ErrNilTask
	}
	return p.Submit(NewAction(func(*Worker) error {
		fn()
		return nil
	}))
}

// Invoke submits t and waits for it to complete or for ctx to end,
// returning t's failure. It is meant for goroutines outside the pool;
// tasks should use Fork and Join instead. A Submit error is returned
// without waiting; after ErrWorkerCreation t is still queued and may
// run later, so its Done channel remains usable.
func (p *Pool) Invoke(ctx context.Context, t Task) error {
	if err := p.Submit(t); err != nil {
		return err
	}
	c := t.core()
	return c.outcome(c.externalAwaitDone(ctx))
}

// Go submits fn as a Future. The future is nil only when the submission
// was rejected. With ErrWorkerCreation the future is returned along with
// the error, since the task stays queued for existing or later workers.
func Go[T any](p *Pool, fn func(w *Worker) (T, error)) (*Future[T], error) {
	if fn == nil {
		return nil, ErrNilTask
	}
	f := NewFuture(fn)
	if err := p.Submit(f); err != nil {
		if errors.Is(err, ErrWorkerCreation) {
			return f, err
		}
		return nil, err
	}
	return f, nil
}

// Shutdown stops accepting submissions. Queued and running tasks still
// complete; the pool terminates once it is idle.
func (p *Pool) Shutdown() {
	p.tryTerminate(false, true)
}

// ShutdownNow stops accepting submissions and cancels every task that has
// not started. Running tasks are not interrupted but blocked joins are
// woken. The returned slice is always empty: cancelled tasks report
// ErrCancelled to anyone joining them.
func (p *Pool) ShutdownNow() []Task {
	p.tryTerminate(true, true)
	return []Task{}
}

// AwaitTermination blocks until the pool has terminated or timeout
// elapses, and reports whether it terminated.
func (p *Pool) AwaitTermination(timeout time.Duration) bool {
	select {
	case <-p.terminated:
		return true
	default:
	}
	if timeout <= 0 {
		return false
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-p.terminated:
		return true
	case <-timer.C:
		return false
	}
}

// Terminated returns a channel closed once the pool has terminated.
func (p *Pool) Terminated() <-chan struct{} { return p.terminated }

// AwaitQuiescence waits until no worker is active and every queue is
// empty, or until timeout elapses. Called from a worker, use
// Worker.HelpQuiesce instead.
func (p *Pool) AwaitQuiescence(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	backoff := 50 * time.Microsecond
	for !p.IsQuiescent() {
		if p.IsTerminated() {
			return p.IsQuiescent()
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return false
		}
		time.Sleep(min(backoff, remaining))
		if backoff < 5*time.Millisecond {
			backoff <<= 1
		}
	}
	return true
}

// ID returns the pool's unique identifier.
func (p *Pool) ID() string { return p.id }

// Name returns the configured pool name.
func (p *Pool) Name() string { return p.name }

// Parallelism returns the target number of active workers.
func (p *Pool) Parallelism() int { return int(p.parallelism) }

// AsyncMode reports whether local tasks are processed FIFO.
func (p *Pool) AsyncMode() bool { return p.mode == fifoQueue }

// PoolSize returns the number of started, not yet exited workers.
func (p *Pool) PoolSize() int {
	return int(ctlWord(p.ctl.Load()).tc() + p.parallelism)
}

// ActiveCount estimates the number of workers stealing or running tasks.
func (p *Pool) ActiveCount() int {
	r := int(ctlWord(p.ctl.Load()).ac() + p.parallelism)
	if r < 0 {
		return 0
	}
	return r
}

// RunningCount estimates the number of workers that are neither idle nor
// blocked waiting for joined tasks.
func (p *Pool) RunningCount() int {
	rc := 0
	ws := p.queues.Load()
	for i := 1; i < ws.len(); i += 2 {
		if q := ws.get(i); q != nil && q.isApparentlyUnblocked() {
			rc++
		}
	}
	return rc
}

// QueuedTaskCount estimates the number of tasks held in worker queues.
func (p *Pool) QueuedTaskCount() int64 {
	var n int64
	ws := p.queues.Load()
	for i := 1; i < ws.len(); i += 2 {
		if q := ws.get(i); q != nil {
			n += int64(q.queueSize())
		}
	}
	return n
}

// QueuedSubmissionCount estimates the number of submitted tasks not yet
// taken by a worker.
func (p *Pool) QueuedSubmissionCount() int {
	n := 0
	ws := p.queues.Load()
	for i := 0; i < ws.len(); i += 2 {
		if q := ws.get(i); q != nil {
			n += q.queueSize()
		}
	}
	return n
}

// HasQueuedSubmissions reports whether any submitted task is waiting.
func (p *Pool) HasQueuedSubmissions() bool {
	ws := p.queues.Load()
	for i := 0; i < ws.len(); i += 2 {
		if q := ws.get(i); q != nil && !q.isEmpty() {
			return true
		}
	}
	return false
}

// StealCount estimates the number of tasks workers have taken from other
// queues, including submissions.
func (p *Pool) StealCount() int64 {
	n := p.stealCount.Load()
	ws := p.queues.Load()
	for i := 1; i < ws.len(); i += 2 {
		if q := ws.get(i); q != nil {
			n += int64(q.nsteals.Load())
		}
	}
	return n
}

// IsQuiescent reports whether all workers are idle and all queues empty.
func (p *Pool) IsQuiescent() bool {
	if ctlWord(p.ctl.Load()).ac()+p.parallelism > 0 {
		return false
	}
	ws := p.queues.Load()
	for i := 0; i < ws.len(); i++ {
		if q := ws.get(i); q != nil && !q.isEmpty() {
			return false
		}
	}
	return true
}

// State returns the pool's lifecycle phase.
func (p *Pool) State() PoolState {
	rs := p.runState.load()
	switch {
	case rs&rsTerminated != 0:
		return StateTerminated
	case rs&rsStop != 0:
		return StateStopping
	case rs < 0:
		return StateShutdown
	default:
		return StateRunning
	}
}

// IsShutdown reports whether Shutdown or ShutdownNow has been called.
func (p *Pool) IsShutdown() bool { return p.runState.load() < 0 }

// IsTerminating reports whether the pool is stopping but not terminated.
func (p *Pool) IsTerminating() bool {
	rs := p.runState.load()
	return rs&rsStop != 0 && rs&rsTerminated == 0
}

// IsTerminated reports whether every worker has exited after shutdown.
func (p *Pool) IsTerminated() bool { return p.runState.load()&rsTerminated != 0 }

// handlePanic reports a worker goroutine failure.
func (p *Pool) handlePanic(r interface{}) {
	if h := p.config.PanicHandler; h != nil {
		h(r)
		return
	}
	p.log.Error(newPanicError(r), "Worker panicked")
}

// pollSubmission takes a task from any submission queue.
func (p *Pool) pollSubmission() *taskCore {
	ws := p.queues.Load()
	m := ws.mask()
	r := int(randomSeed())
	for i := 0; i <= m; i++ {
		if q := ws.get((r + i) & m &^ 1); q != nil {
			if t := q.poll(); t != nil {
				return t
			}
		}
	}
	return nil
}

func (p *Pool) String() string {
	return p.name + "[" + p.State().String() + "]"
}
