package fjpool

import (
	"context"
	"runtime"
)

// ManagedBlocker describes a blocking operation run inside a task so the
// pool can start a spare worker while it blocks.
type ManagedBlocker interface {
	// Block blocks, possibly until IsReleasable would return true, and
	// reports whether no further blocking is needed.
	Block() (bool, error)
	// IsReleasable reports whether blocking is unnecessary.
	IsReleasable() bool
}

// ManagedBlock runs b until it is releasable. When w is a worker the pool
// first compensates for the blocked worker, so parallelism is kept even
// if every running task blocks. With a nil w it just blocks.
func ManagedBlock(w *Worker, b ManagedBlocker) error {
	if w == nil {
		return runBlocker(b)
	}
	p, q := w.pool, w.queue
	for !b.IsReleasable() {
		mode, err := p.tryCompensate(q)
		if err != nil {
			return err
		}
		if mode == compensateRetry {
			if p.runState.load()&rsStop != 0 {
				return runBlocker(b)
			}
			runtime.Gosched()
			continue
		}
		q.blocked.Store(true)
		err = runBlocker(b)
		q.blocked.Store(false)
		if mode == compensateBlock {
			p.ctl.Add(int64(acUnit))
		}
		return err
	}
	return nil
}

func runBlocker(b ManagedBlocker) error {
	for !b.IsReleasable() {
		done, err := b.Block()
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
	return nil
}

// chanBlocker blocks until a channel is closed or receives, or ctx ends.
type chanBlocker struct {
	ctx  context.Context
	ch   <-chan struct{}
	done bool
}

func (b *chanBlocker) Block() (bool, error) {
	select {
	case <-b.ch:
		b.done = true
		return true, nil
	case <-b.ctx.Done():
		return true, b.ctx.Err()
	}
}

func (b *chanBlocker) IsReleasable() bool {
	if b.done {
		return true
	}
	select {
	case <-b.ch:
		b.done = true
		return true
	default:
		return false
	}
}

// BlockOn waits for ch as a managed block.
func BlockOn(w *Worker, ch <-chan struct{}) error {
	return ManagedBlock(w, &chanBlocker{ctx: context.Background(), ch: ch})
}

// BlockOnContext waits for ch as a managed block, giving up when ctx ends.
func BlockOnContext(ctx context.Context, w *Worker, ch <-chan struct{}) error {
	return ManagedBlock(w, &chanBlocker{ctx: ctx, ch: ch})
}

// BlockerFunc adapts a blocking call, such as I/O, to ManagedBlocker.
type BlockerFunc func() error

// Block runs f once.
func (f BlockerFunc) Block() (bool, error) { return true, f() }

// IsReleasable always reports false so f runs exactly once.
func (f BlockerFunc) IsReleasable() bool { return false }
