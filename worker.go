package fjpool

import (
	"context"
	"fmt"
	"runtime"
	"runtime/pprof"
	"strconv"
	"sync/atomic"

	"github.com/tahsin716/fjpool/internal/logging"
)

// WorkerState describes what a worker is doing, as far as can be told
// without stopping it.
type WorkerState int32

const (
	WorkerScanning WorkerState = iota
	WorkerRunning
	WorkerBlocked
	WorkerInactive
)

func (s WorkerState) String() string {
	switch s {
	case WorkerScanning:
		return "scanning"
	case WorkerRunning:
		return "running"
	case WorkerBlocked:
		return "blocked"
	case WorkerInactive:
		return "inactive"
	default:
		return "unknown"
	}
}

// Worker is a pool worker goroutine and its queue. Task bodies receive the
// Worker they run on and pass it to Fork, Join and ManagedBlock.
type Worker struct {
	pool  *Pool
	queue *workQueue
	name  string
	cpus  []int
}

// WorkerFactory creates workers for a pool. An implementation must
// construct workers with NewWorker, which registers them with the pool.
// Returning a nil worker and nil error declines to create one.
type WorkerFactory interface {
	NewWorker(p *Pool) (*Worker, error)
}

// WorkerFactoryFunc adapts a function to WorkerFactory.
type WorkerFactoryFunc func(p *Pool) (*Worker, error)

// NewWorker calls f(p).
func (f WorkerFactoryFunc) NewWorker(p *Pool) (*Worker, error) { return f(p) }

// DefaultWorkerFactory creates plain workers.
var DefaultWorkerFactory WorkerFactory = WorkerFactoryFunc(func(p *Pool) (*Worker, error) {
	return NewWorker(p), nil
})

// NewWorker creates a worker registered with p. The worker is started by
// the pool once the factory returns it.
func NewWorker(p *Pool) *Worker {
	w := &Worker{pool: p}
	w.queue = p.registerWorker(w)
	w.name = p.name + "-worker-" + strconv.Itoa(w.queue.index()>>1)
	return w
}

// AffinityFactory returns a factory that pins each new worker's OS thread
// to one of cpus, assigned round robin. Pinning is only supported on
// Linux; elsewhere workers run unpinned.
func AffinityFactory(cpus ...int) WorkerFactory {
	var next atomic.Uint32
	return WorkerFactoryFunc(func(p *Pool) (*Worker, error) {
		if len(cpus) == 0 {
			return NewWorker(p), nil
		}
		cpu := cpus[int(next.Add(1)-1)%len(cpus)]
		if err := validCPU(cpu); err != nil {
			return nil, err
		}
		w := NewWorker(p)
		w.cpus = []int{cpu}
		return w, nil
	})
}

// Pool returns the pool w belongs to.
func (w *Worker) Pool() *Pool { return w.pool }

// Name returns the worker's name, unique within its pool while it lives.
func (w *Worker) Name() string { return w.name }

// Index returns the worker's position among the pool's worker slots.
func (w *Worker) Index() int { return w.queue.index() >> 1 }

// Fork pushes t onto w's queue for asynchronous execution. It panics
// with ErrQueueCapacity if the queue cannot grow; when called from a task
// body the panic completes that task exceptionally.
func (w *Worker) Fork(t Task) {
	if w == nil {
		panic(&PoolError{msg: "fork requires a worker"})
	}
	if err := w.TryFork(t); err != nil {
		panic(err)
	}
}

// TryFork is Fork returning ErrQueueCapacity instead of panicking. The
// task is not queued when an error is returned.
func (w *Worker) TryFork(t Task) error {
	if w == nil {
		return &PoolError{msg: "fork requires a worker"}
	}
	if t == nil {
		return ErrNilTask
	}
	return w.queue.push(t.core())
}

// QueuedTaskCount returns the number of tasks in w's own queue.
func (w *Worker) QueuedTaskCount() int { return w.queue.queueSize() }

// SurplusQueuedTaskCount estimates how many more tasks w holds than there
// are idle workers that could steal them. Small values suggest forking
// more work; large values suggest computing directly.
func (w *Worker) SurplusQueuedTaskCount() int {
	q := w.queue
	p := w.pool
	pc := p.parallelism
	n := q.top.Load() - q.base.Load()
	a := ctlWord(p.ctl.Load()).ac() + pc
	pc >>= 1
	switch {
	case a > pc:
		return int(n)
	case a > pc>>1:
		return int(n - 1)
	case a > pc>>2:
		return int(n - 2)
	case a > pc>>3:
		return int(n - 4)
	default:
		return int(n - 8)
	}
}

// PeekLocalTask returns the task w would run next from its own queue
// without removing it.
func (w *Worker) PeekLocalTask() Task {
	if t := w.queue.peek(); t != nil {
		return t.self
	}
	return nil
}

// PollLocalTask removes and returns the next task from w's own queue.
func (w *Worker) PollLocalTask() Task {
	if t := w.queue.nextLocalTask(); t != nil {
		return t.self
	}
	return nil
}

// PollSubmission removes and returns a task from a submission queue.
func (w *Worker) PollSubmission() Task {
	if t := w.pool.pollSubmission(); t != nil {
		return t.self
	}
	return nil
}

// HelpQuiesce runs tasks until the pool is quiescent.
func (w *Worker) HelpQuiesce() {
	w.pool.helpQuiescePool(w.queue)
}

// State reports what w is currently doing.
func (w *Worker) State() WorkerState {
	q := w.queue
	switch {
	case q.scanState.Load() < 0:
		return WorkerInactive
	case q.blocked.Load():
		return WorkerBlocked
	case q.scanState.Load()&scanning == 0:
		return WorkerRunning
	default:
		return WorkerScanning
	}
}

func (w *Worker) start() {
	go w.run()
}

// run is the worker goroutine. Failures in the loop or hooks are reported
// to the pool, which may start a replacement.
func (w *Worker) run() {
	p := w.pool
	var err error
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
			p.handlePanic(r)
		}
		if hook := p.config.OnWorkerStop; hook != nil {
			if herr := w.callStopHook(hook, err); herr != nil && err == nil {
				err = herr
			}
		}
		p.deregisterWorker(w, err)
	}()

	if len(w.cpus) > 0 {
		// The thread stays locked so the pinned thread exits with the
		// goroutine instead of returning to the scheduler.
		runtime.LockOSThread()
		if perr := pinCurrentThread(w.cpus); perr != nil {
			p.log.Error(perr, "Failed to pin worker", "worker", w.name, "cpus", w.cpus)
		}
	}

	labels := pprof.Labels("fjpool", p.name, "worker", w.name)
	pprof.Do(context.Background(), labels, func(context.Context) {
		p.log.V(logging.DEBUG).Info("Worker started", "worker", w.name)
		if hook := p.config.OnWorkerStart; hook != nil {
			hook(w)
		}
		p.runWorker(w.queue)
	})
}

func (w *Worker) callStopHook(hook func(*Worker, error), err error) (herr error) {
	defer func() {
		if r := recover(); r != nil {
			herr = newPanicError(r)
			w.pool.handlePanic(r)
		}
	}()
	hook(w, err)
	return nil
}

func (w *Worker) String() string {
	return fmt.Sprintf("%s[%s]", w.name, w.State())
}
