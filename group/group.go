// Package group runs related functions as tasks of an fjpool.Pool and
// collects their errors.
package group

import (
	"context"
	"errors"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/tahsin716/fjpool"
)

// Group manages a collection of pool tasks with structured concurrency.
// Functions may be added from outside the pool with Go, or from inside a
// task with Fork; Wait and Join return once every added function is done.
type Group struct {
	pool   *fjpool.Pool
	ctx    context.Context
	cancel context.CancelFunc
	config Config

	mu    sync.Mutex
	tasks []*fjpool.Future[struct{}]

	// Error handling
	errorsMux sync.Mutex
	errors    error
	failOnce  sync.Once
	firstErr  atomic.Pointer[error] // used in FailFast

	started   atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
}

// Stats counts the functions of a group.
type Stats struct {
	Started   int64
	Completed int64
	Failed    int64
}

// New creates a Group whose functions run on p.
func New(p *fjpool.Pool, opts ...Option) *Group {
	return NewWithContext(context.Background(), p, opts...)
}

// NewWithContext creates a Group with a parent context. The context
// passed to functions is cancelled when the parent is, on the first error
// in FailFast mode, and when the group is stopped.
func NewWithContext(ctx context.Context, p *fjpool.Pool, opts ...Option) *Group {
	config := BuildConfig(opts)

	if ctx == nil {
		ctx = context.Background()
	}

	groupCtx, cancel := context.WithCancel(ctx)

	return &Group{
		pool:   p,
		ctx:    groupCtx,
		cancel: cancel,
		config: config,
	}
}

// Go submits fn to the pool. It returns the pool's error if the
// submission is rejected. fjpool.ErrWorkerCreation is returned too, but
// fn is then still queued and Wait covers it.
func (g *Group) Go(fn func(context.Context) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	f := g.task(func(ctx context.Context, _ *fjpool.Worker) error { return fn(ctx) })
	err := g.pool.Submit(f)
	if err == nil || errors.Is(err, fjpool.ErrWorkerCreation) {
		g.track(f)
	}
	return err
}

// GoSafe submits a fire-and-forget function.
func (g *Group) GoSafe(fn func(context.Context)) error {
	if fn == nil {
		return ErrNilFunc
	}
	return g.Go(func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

// Fork adds fn from inside a task running on w. The function is pushed
// onto w's own queue, where it may be run by w or stolen. If w's queue is
// full the function is not added and fjpool.ErrQueueCapacity is returned.
func (g *Group) Fork(w *fjpool.Worker, fn func(context.Context, *fjpool.Worker) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	f := g.task(fn)
	if err := w.TryFork(f); err != nil {
		return err
	}
	g.track(f)
	return nil
}

// Wait blocks until every function has finished and returns the errors
// according to the error mode. It must not be called from a task; use
// Join there.
func (g *Group) Wait() error {
	return g.await(nil)
}

// Join is Wait for a task running on w. It helps run the group's
// functions while waiting.
func (g *Group) Join(w *fjpool.Worker) error {
	return g.await(w)
}

func (g *Group) await(w *fjpool.Worker) error {
	for joined := 0; ; {
		g.mu.Lock()
		pending := g.tasks[joined:]
		g.mu.Unlock()
		if len(pending) == 0 {
			break
		}
		for _, f := range pending {
			// Body errors are recorded by the wrapper; only cancellation
			// reaches here.
			if _, err := f.Join(w); err != nil {
				g.handleError(err)
			}
		}
		joined += len(pending)
	}
	g.Stop()

	switch g.config.errorMode {
	case IgnoreErrors:
		return nil

	case FailFast:
		if v := g.firstErr.Load(); v != nil {
			return *v
		}
		return nil

	case CollectAll:
		g.errorsMux.Lock()
		defer g.errorsMux.Unlock()
		return g.errors

	default:
		return nil
	}
}

// Stop cancels the group context, signalling all functions to stop.
func (g *Group) Stop() {
	g.cancel()
}

// Stats returns the group's counters.
func (g *Group) Stats() Stats {
	return Stats{
		Started:   g.started.Load(),
		Completed: g.completed.Load(),
		Failed:    g.failed.Load(),
	}
}

// task wraps fn as a pool task.
func (g *Group) task(fn func(context.Context, *fjpool.Worker) error) *fjpool.Future[struct{}] {
	f := fjpool.NewAction(func(w *fjpool.Worker) error {
		defer g.completed.Add(1)

		// Handle panics
		defer func() {
			if r := recover(); r != nil {
				g.failed.Add(1)
				g.handleError(&PanicError{
					Value: r,
					Stack: string(debug.Stack()),
				})
			}
		}()

		if err := fn(g.ctx, w); err != nil {
			g.failed.Add(1)
			g.handleError(err)
		}
		return nil
	})
	return f
}

// track records an accepted task for Wait and Join.
func (g *Group) track(f *fjpool.Future[struct{}]) {
	g.started.Add(1)
	g.mu.Lock()
	g.tasks = append(g.tasks, f)
	g.mu.Unlock()
}

// handleError processes an error according to the error mode
func (g *Group) handleError(err error) {
	switch g.config.errorMode {
	case IgnoreErrors:
		return

	case FailFast:
		if g.firstErr.Load() == nil {
			if g.firstErr.CompareAndSwap(nil, &err) {
				g.failOnce.Do(func() {
					g.cancel()
				})
			}
		}

	case CollectAll:
		g.errorsMux.Lock()
		g.errors = multierr.Append(g.errors, err)
		g.errorsMux.Unlock()
	}
}
