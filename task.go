package fjpool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Task status. A status is negative exactly when the task is done; the
// completion kind is read from the bits under doneMask. signal is set by a
// goroutine that is blocked waiting for the task.
const (
	doneMask    int32 = -1 << 28
	normal      int32 = -1 << 28
	cancelled   int32 = -1 << 30
	exceptional int32 = -1 << 31
	signal      int32 = 1 << 16
)

// Task is a unit of work schedulable by a Pool. Implementations are
// *Future[T] and *Completer; the interface cannot be implemented outside
// this package.
type Task interface {
	// Status returns the raw status word; negative once done.
	Status() int32
	// Exec runs the task body on w if the task is not yet done and
	// returns the resulting status.
	Exec(w *Worker) int32
	// Cancel completes the task as cancelled if it is not done yet.
	Cancel() bool
	// IsDone reports whether the task has completed in any way.
	IsDone() bool
	// Done returns a channel closed once the task has completed.
	Done() <-chan struct{}
	// Err returns the failure of a task that completed abnormally.
	Err() error

	core() *taskCore
	exec(w *Worker) (bool, error)
}

type taskFailure struct {
	err error
}

// taskCore holds the status and completion machinery shared by every
// task kind.
type taskCore struct {
	status  atomic.Int32
	failure atomic.Pointer[taskFailure]

	mu   sync.Mutex
	done chan struct{}

	self Task
}

var closedChan = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

func (t *taskCore) core() *taskCore { return t }

// Status returns the raw status word.
func (t *taskCore) Status() int32 { return t.status.Load() }

// IsDone reports whether the task has completed.
func (t *taskCore) IsDone() bool { return t.status.Load() < 0 }

// IsCancelled reports whether the task was cancelled.
func (t *taskCore) IsCancelled() bool { return t.status.Load()&doneMask == cancelled }

// IsCompletedAbnormally reports whether the task was cancelled or failed.
func (t *taskCore) IsCompletedAbnormally() bool { return t.status.Load() < normal }

// IsCompletedNormally reports whether the task completed without failure.
func (t *taskCore) IsCompletedNormally() bool { return t.status.Load()&doneMask == normal }

// Err returns nil unless the task completed abnormally.
func (t *taskCore) Err() error {
	switch t.status.Load() & doneMask {
	case cancelled:
		return ErrCancelled
	case exceptional:
		if f := t.failure.Load(); f != nil {
			return f.err
		}
		return ErrCancelled
	}
	return nil
}

// Cancel completes the task as cancelled unless it is already done.
// Running bodies are not interrupted.
func (t *taskCore) Cancel() bool {
	return t.setCompletion(cancelled)&doneMask == cancelled
}

// Exec runs the task body if the task is not done yet. A panic in the
// body completes the task exceptionally with a *PanicError.
func (t *taskCore) Exec(w *Worker) int32 {
	s := t.status.Load()
	if s < 0 {
		return s
	}
	completed, err := runBody(t.self, w)
	if err != nil {
		return t.setExceptionalCompletion(err)
	}
	if completed {
		return t.setCompletion(normal)
	}
	return t.status.Load()
}

func runBody(task Task, w *Worker) (completed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = newPanicError(r)
		}
	}()
	return task.exec(w)
}

// setCompletion marks the task done with the given kind, waking waiters
// if any advertised themselves. The first completion wins.
func (t *taskCore) setCompletion(completion int32) int32 {
	for {
		s := t.status.Load()
		if s < 0 {
			return s
		}
		if t.status.CompareAndSwap(s, s|completion) {
			if s&signal != 0 {
				t.mu.Lock()
				if t.done != nil {
					close(t.done)
				}
				t.mu.Unlock()
			}
			return completion
		}
	}
}

// recordFailure stores err and completes the task exceptionally without
// notifying any parent.
func (t *taskCore) recordFailure(err error) int32 {
	if t.status.Load() >= 0 {
		t.failure.CompareAndSwap(nil, &taskFailure{err: err})
		return t.setCompletion(exceptional)
	}
	return t.status.Load()
}

// setExceptionalCompletion records err and, for completers, carries the
// failure up the parent chain.
func (t *taskCore) setExceptionalCompletion(err error) int32 {
	s := t.recordFailure(err)
	if s&doneMask == exceptional {
		if c, ok := t.self.(*Completer); ok {
			c.propagateFailure(err)
		}
	}
	return s
}

// waitChan returns a channel closed on completion, or nil if the task is
// already done. It arms the signal bit so the completer closes it.
func (t *taskCore) waitChan() chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	for {
		s := t.status.Load()
		if s < 0 {
			return nil
		}
		if t.done == nil {
			t.done = make(chan struct{})
		}
		if s&signal != 0 || t.status.CompareAndSwap(s, s|signal) {
			return t.done
		}
	}
}

// Done returns a channel that is closed once the task completes.
func (t *taskCore) Done() <-chan struct{} {
	if ch := t.waitChan(); ch != nil {
		return ch
	}
	return closedChan
}

// internalWait blocks until the task completes, the timeout elapses
// (when positive) or interrupt is closed.
func (t *taskCore) internalWait(timeout time.Duration, interrupt <-chan struct{}) {
	ch := t.waitChan()
	if ch == nil {
		return
	}
	if timeout <= 0 {
		select {
		case <-ch:
		case <-interrupt:
		}
		return
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ch:
	case <-interrupt:
	case <-timer.C:
	}
}

// externalAwaitDone blocks a goroutine that is not a pool worker until
// the task completes or ctx ends.
func (t *taskCore) externalAwaitDone(ctx context.Context) (int32, error) {
	for {
		s := t.status.Load()
		if s < 0 {
			return s, nil
		}
		ch := t.waitChan()
		if ch == nil {
			continue
		}
		select {
		case <-ch:
		case <-ctx.Done():
			return t.status.Load(), ctx.Err()
		}
	}
}

// doJoin waits for completion, helping from w's queue when w is a worker.
func (t *taskCore) doJoin(w *Worker) (int32, error) {
	if s := t.status.Load(); s < 0 {
		return s, nil
	}
	if w == nil {
		return t.externalAwaitDone(context.Background())
	}
	if w.queue.tryUnpush(t) {
		if s := t.Exec(w); s < 0 {
			return s, nil
		}
	}
	return w.pool.awaitJoin(w.queue, t, time.Time{})
}

// doInvoke runs the task on the calling goroutine and then waits as
// doJoin would.
func (t *taskCore) doInvoke(w *Worker) (int32, error) {
	if s := t.Exec(w); s < 0 {
		return s, nil
	}
	if w == nil {
		return t.externalAwaitDone(context.Background())
	}
	return w.pool.awaitJoin(w.queue, t, time.Time{})
}

// outcome maps a join result to the error reported to callers.
func (t *taskCore) outcome(s int32, err error) error {
	if err != nil {
		return err
	}
	if s >= 0 {
		return ErrTimeout
	}
	return t.Err()
}

// InvokeAll forks all but the first task, runs the first on w and joins
// the rest. It returns the first failure observed, if any. Like Fork it
// must be called from a task running on w.
func InvokeAll(w *Worker, tasks ...Task) error {
	if len(tasks) == 0 {
		return nil
	}
	for i := len(tasks) - 1; i > 0; i-- {
		w.Fork(tasks[i])
	}
	head := tasks[0].core()
	first := head.outcome(head.doInvoke(w))
	for _, task := range tasks[1:] {
		t := task.core()
		if err := t.outcome(t.doJoin(w)); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// emptyTask is a placeholder swapped into a queue slot when a task is
// removed from the middle of a queue. It is already complete.
type emptyTask struct {
	taskCore
}

func newEmptyTask() *taskCore {
	e := &emptyTask{}
	e.self = e
	e.status.Store(normal)
	return &e.taskCore
}

func (e *emptyTask) exec(*Worker) (bool, error) { return true, nil }
