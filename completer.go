package fjpool

import (
	"context"
	"sync/atomic"
)

// Completer is a task whose completion is triggered by its children
// rather than by its body returning. Each completer counts pending
// children; TryComplete decrements the count and, once it reaches zero,
// completes the completer and moves on to its parent.
//
// Joining a completer helps by executing queued tasks that belong to the
// same completion tree.
type Completer struct {
	taskCore
	parent  *Completer
	pending atomic.Int32

	compute    func(c *Completer, w *Worker)
	onComplete func(caller *Completer)
	onFailure  func(err error, caller *Completer) bool
}

// NewCompleter returns an unscheduled completer whose body is compute.
// parent may be nil for a root.
func NewCompleter(parent *Completer, compute func(c *Completer, w *Worker)) *Completer {
	c := &Completer{parent: parent, compute: compute}
	c.self = c
	return c
}

func (c *Completer) exec(w *Worker) (bool, error) {
	c.compute(c, w)
	return false, nil
}

// OnCompletion sets a hook run when c's pending count reaches zero, just
// before c is marked done. caller is the completer whose TryComplete
// triggered it.
func (c *Completer) OnCompletion(fn func(caller *Completer)) *Completer {
	c.onComplete = fn
	return c
}

// OnFailure sets a hook consulted when a descendant fails; returning false
// stops the failure from reaching c's parent. The default propagates.
func (c *Completer) OnFailure(fn func(err error, caller *Completer) bool) *Completer {
	c.onFailure = fn
	return c
}

// Parent returns the completer c reports to, or nil for a root.
func (c *Completer) Parent() *Completer { return c.parent }

// Root returns the top of c's completion tree.
func (c *Completer) Root() *Completer {
	a := c
	for a.parent != nil {
		a = a.parent
	}
	return a
}

// Pending returns the number of outstanding children.
func (c *Completer) Pending() int32 { return c.pending.Load() }

// SetPending sets the pending count.
func (c *Completer) SetPending(n int32) { c.pending.Store(n) }

// AddPending adds delta to the pending count.
func (c *Completer) AddPending(delta int32) { c.pending.Add(delta) }

// CompareAndSetPending sets the pending count to update if it equals expect.
func (c *Completer) CompareAndSetPending(expect, update int32) bool {
	return c.pending.CompareAndSwap(expect, update)
}

// DecrementPendingUnlessZero decrements a positive pending count and
// returns the value observed before.
func (c *Completer) DecrementPendingUnlessZero() int32 {
	for {
		n := c.pending.Load()
		if n == 0 || c.pending.CompareAndSwap(n, n-1) {
			return n
		}
	}
}

// TryComplete decrements the pending count if positive; otherwise it runs
// the completion hook, marks c done and repeats with its parent.
func (c *Completer) TryComplete() {
	a, s := c, c
	for {
		n := a.pending.Load()
		if n == 0 {
			if a.onComplete != nil {
				a.onComplete(s)
			}
			s, a = a, a.parent
			if a == nil {
				s.setCompletion(normal)
				return
			}
		} else if a.pending.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// PropagateCompletion is TryComplete without running completion hooks.
func (c *Completer) PropagateCompletion() {
	a, s := c, c
	for {
		n := a.pending.Load()
		if n == 0 {
			s, a = a, a.parent
			if a == nil {
				s.setCompletion(normal)
				return
			}
		} else if a.pending.CompareAndSwap(n, n-1) {
			return
		}
	}
}

// Complete runs c's completion hook, marks c done regardless of its
// pending count, and then tries to complete its parent.
func (c *Completer) Complete() {
	if c.onComplete != nil {
		c.onComplete(c)
	}
	c.setCompletion(normal)
	if p := c.parent; p != nil {
		p.TryComplete()
	}
}

// CompleteExceptionally fails c with err and carries the failure towards
// the root.
func (c *Completer) CompleteExceptionally(err error) bool {
	return c.setExceptionalCompletion(err)&doneMask == exceptional
}

// FirstComplete returns c if its pending count is zero, otherwise
// decrements the count and returns nil.
func (c *Completer) FirstComplete() *Completer {
	if c.DecrementPendingUnlessZero() == 0 {
		return c
	}
	return nil
}

// NextComplete completes c and returns its parent if the parent's pending
// count is zero, else decrements that count and returns nil. It supports
// loops that walk completion trees without recursion.
func (c *Completer) NextComplete() *Completer {
	p := c.parent
	if p == nil {
		c.setCompletion(normal)
		return nil
	}
	return p.FirstComplete()
}

// propagateFailure marks each ancestor exceptional until a hook declines
// or an ancestor is already done.
func (c *Completer) propagateFailure(err error) {
	a, s := c, c
	for a.onFailure == nil || a.onFailure(err, s) {
		s, a = a, a.parent
		if a == nil || a.status.Load() < 0 || a.recordFailure(err)&doneMask != exceptional {
			return
		}
	}
}

// Fork pushes c onto w's queue.
func (c *Completer) Fork(w *Worker) *Completer {
	w.Fork(c)
	return c
}

// Join waits for c, helping to run tasks of the same tree when w is a
// worker, and returns its failure if any.
func (c *Completer) Join(w *Worker) error {
	return c.outcome(c.doJoin(w))
}

// Invoke runs c's body on the calling goroutine and then waits for c.
func (c *Completer) Invoke(w *Worker) error {
	return c.outcome(c.doInvoke(w))
}

// Get blocks a non-worker goroutine until c completes or ctx ends.
func (c *Completer) Get(ctx context.Context) error {
	return c.outcome(c.externalAwaitDone(ctx))
}

// HelpComplete runs up to maxTasks queued tasks of c's tree, or until c
// completes when maxTasks is zero.
func (c *Completer) HelpComplete(w *Worker, maxTasks int) {
	if w != nil && c.status.Load() >= 0 {
		w.pool.helpComplete(w.queue, c, maxTasks)
	}
}
