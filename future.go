package fjpool

import (
	"context"
	"sync/atomic"
	"time"
)

// Future is a task that computes a value of type T.
//
// A Future runs at most once. Fork it from inside another task to run it
// asynchronously on the same pool, then Join it to obtain the result;
// Join helps execute queued work instead of idling while it waits.
type Future[T any] struct {
	taskCore
	fn func(w *Worker) (T, error)
	// result is set once, by whichever of exec and Complete gets there
	// first, before the status turns normal.
	result atomic.Pointer[T]
}

// NewFuture returns an unscheduled task that computes fn.
func NewFuture[T any](fn func(w *Worker) (T, error)) *Future[T] {
	f := &Future[T]{fn: fn}
	f.self = f
	return f
}

// NewAction returns an unscheduled task that runs fn for its side effects.
func NewAction(fn func(w *Worker) error) *Future[struct{}] {
	return NewFuture(func(w *Worker) (struct{}, error) {
		return struct{}{}, fn(w)
	})
}

func (f *Future[T]) exec(w *Worker) (bool, error) {
	v, err := f.fn(w)
	if err != nil {
		return false, err
	}
	f.result.CompareAndSwap(nil, &v)
	return true, nil
}

// Fork pushes f onto w's queue. It must be called from a task running
// on w.
func (f *Future[T]) Fork(w *Worker) *Future[T] {
	w.Fork(f)
	return f
}

// Join waits for f and returns its result. When w is non-nil the caller
// is a worker and helps run other tasks while waiting; when nil the
// calling goroutine simply blocks.
func (f *Future[T]) Join(w *Worker) (T, error) {
	return f.report(f.doJoin(w))
}

// JoinTimeout is like Join but gives up after d with ErrTimeout.
func (f *Future[T]) JoinTimeout(w *Worker, d time.Duration) (T, error) {
	if w == nil {
		ctx, cancel := context.WithTimeout(context.Background(), d)
		defer cancel()
		v, err := f.Get(ctx)
		if err == context.DeadlineExceeded {
			err = ErrTimeout
		}
		return v, err
	}
	if s := f.status.Load(); s < 0 {
		return f.report(s, nil)
	}
	return f.report(w.pool.awaitJoin(w.queue, &f.taskCore, time.Now().Add(d)))
}

// Invoke runs f on the calling goroutine and returns its result,
// waiting as Join does if f was completed elsewhere meanwhile.
func (f *Future[T]) Invoke(w *Worker) (T, error) {
	return f.report(f.doInvoke(w))
}

// Get blocks a non-worker goroutine until f completes or ctx ends.
func (f *Future[T]) Get(ctx context.Context) (T, error) {
	return f.report(f.externalAwaitDone(ctx))
}

// Result returns the computed value without waiting. It is the zero value
// unless f completed normally.
func (f *Future[T]) Result() T {
	if f.IsCompletedNormally() {
		if v := f.result.Load(); v != nil {
			return *v
		}
	}
	var zero T
	return zero
}

// Complete finishes f normally with v unless it is already done. Of
// concurrent completions only one value is ever kept.
func (f *Future[T]) Complete(v T) bool {
	if f.status.Load() < 0 || !f.result.CompareAndSwap(nil, &v) {
		return false
	}
	return f.setCompletion(normal)&doneMask == normal
}

// CompleteExceptionally finishes f with err unless it is already done.
func (f *Future[T]) CompleteExceptionally(err error) bool {
	return f.setExceptionalCompletion(err)&doneMask == exceptional
}

func (f *Future[T]) report(s int32, err error) (T, error) {
	var zero T
	if err = f.outcome(s, err); err != nil {
		return zero, err
	}
	return f.Result(), nil
}
