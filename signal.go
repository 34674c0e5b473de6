package fjpool

import (
	"github.com/tahsin716/fjpool/internal/logging"
)

// signalWork wakes an idle worker, or starts a new one, if too few are
// active. q is the queue that received work; signalling stops early once
// it is seen to be empty again.
func (p *Pool) signalWork(q *workQueue) error {
	for {
		c := ctlWord(p.ctl.Load())
		if c >= 0 {
			return nil
		}
		sp := c.sp()
		if sp == 0 {
			if c&addWorker != 0 {
				return p.tryAddWorker(c)
			}
			return nil
		}
		ws := p.queues.Load()
		i := int(sp & smask)
		if i >= ws.len() {
			return nil
		}
		v := ws.get(i)
		if v == nil {
			return nil
		}
		vs := (sp + ssSeq) &^ inactive
		d := sp - v.scanState.Load()
		nc := c.pop(v.stackPred.Load(), acUnit)
		if d == 0 && p.ctl.CompareAndSwap(int64(c), int64(nc)) {
			v.scanState.Store(vs)
			v.unpark()
			return nil
		}
		if q != nil && q.base.Load() == q.top.Load() {
			return nil
		}
	}
}

// signal is signalWork for callers that cannot report a failure.
func (p *Pool) signal(q *workQueue) {
	if err := p.signalWork(q); err != nil {
		p.log.Error(err, "Failed to start worker")
	}
}

// tryRelease activates v if it is the idle-stack head of c, adding inc to
// the active count.
func (p *Pool) tryRelease(c ctlWord, v *workQueue, inc ctlWord) bool {
	sp := c.sp()
	if v == nil {
		return false
	}
	vs := (sp + ssSeq) &^ inactive
	d := sp - v.scanState.Load()
	nc := c.pop(v.stackPred.Load(), inc)
	if d == 0 && p.ctl.CompareAndSwap(int64(c), int64(nc)) {
		v.scanState.Store(vs)
		v.unpark()
		return true
	}
	return false
}

// tryAddWorker reserves AC and TC for one more worker and creates it,
// retrying while workers are still lacking and none are idle.
func (p *Pool) tryAddWorker(c ctlWord) error {
	for {
		nc := c.withDelta(1, 1)
		if ctlWord(p.ctl.Load()) == c {
			rs := p.runState.lock()
			stop := rs & rsStop
			add := false
			if stop == 0 {
				add = p.ctl.CompareAndSwap(int64(c), int64(nc))
			}
			p.runState.unlock(rs, rs&^rsLock)
			if stop != 0 {
				return nil
			}
			if add {
				_, err := p.createWorker(false)
				return err
			}
		}
		c = ctlWord(p.ctl.Load())
		if c&addWorker == 0 || c.sp() != 0 {
			return nil
		}
	}
}

// createWorker asks the factory for a worker and starts it. The counts
// were reserved by the caller; on failure exactly those are returned:
// AC and TC for a plain addition, TC only for compensation.
func (p *Pool) createWorker(compensation bool) (bool, error) {
	w, err := p.factory.NewWorker(p)
	if err == nil && w != nil {
		p.created.Add(1)
		w.start()
		return true, nil
	}
	p.abandonWorker(w, compensation)
	if err != nil {
		err = errWorkerCreation(err)
		p.log.Error(err, "Failed to create worker")
		return false, err
	}
	return false, nil
}

// abandonWorker undoes a failed creation.
func (p *Pool) abandonWorker(w *Worker, compensation bool) {
	if w != nil && w.queue != nil {
		p.unregister(w.queue)
	}
	ac := int32(-1)
	if compensation {
		ac = 0
	}
	for {
		c := ctlWord(p.ctl.Load())
		if p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(ac, -1))) {
			break
		}
	}
	p.tryTerminate(false, false)
}

// registerWorker publishes a new worker queue at an odd registry slot,
// growing the registry if none is free.
func (p *Pool) registerWorker(w *Worker) *workQueue {
	q := newWorkQueue(p, w)
	rs := p.runState.lock()
	ws := p.queues.Load()
	n := ws.len()
	m := n - 1
	p.indexSeed += seedIncrement
	s := p.indexSeed
	i := int((s<<1)|1) & m
	if ws.get(i) != nil {
		step := 2
		if n > 4 {
			step = ((n >> 1) & evenMask) + 2
		}
		tried := 0
		for {
			i = (i + step) & m
			if ws.get(i) == nil {
				break
			}
			tried++
			if tried >= n {
				ws = ws.grow()
				p.queues.Store(ws)
				n = ws.len()
				m = n - 1
				tried = 0
			}
		}
	}
	q.hint.Store(s)
	q.config = int32(i) | p.mode
	q.scanState.Store(int32(i))
	ws.set(i, q)
	p.runState.unlock(rs, rs&^rsLock)
	return q
}

// unregister clears q's registry slot if it still holds q.
func (p *Pool) unregister(q *workQueue) {
	idx := q.index()
	rs := p.runState.lock()
	if ws := p.queues.Load(); idx < ws.len() && ws.get(idx) == q {
		ws.set(idx, nil)
	}
	p.runState.unlock(rs, rs&^rsLock)
}

// deregisterWorker is the last step of a worker exit: it removes the
// worker, cancels whatever remains in its queue and, unless the pool is
// stopping, wakes or replaces a worker so progress continues.
func (p *Pool) deregisterWorker(w *Worker, cause error) {
	var q *workQueue
	if w != nil && w.queue != nil {
		q = w.queue
		p.unregister(q)
	}
	for {
		c := ctlWord(p.ctl.Load())
		if p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(-1, -1))) {
			break
		}
	}
	if q != nil {
		q.qlock.Store(-1)
		q.transferStealCount(p)
		q.cancelAll()
	}
	for {
		if p.tryTerminate(false, false) || q == nil || q.array.Load() == nil ||
			p.runState.load()&rsStop != 0 {
			break
		}
		ws := p.queues.Load()
		m := ws.mask()
		c := ctlWord(p.ctl.Load())
		if sp := c.sp(); sp != 0 {
			if p.tryRelease(c, ws.get(int(sp)&m), acUnit) {
				break
			}
		} else if cause != nil && c&addWorker != 0 {
			if err := p.tryAddWorker(c); err != nil {
				p.log.Error(err, "Failed to replace worker")
			}
			break
		} else {
			break
		}
	}
	switch {
	case w == nil:
	case cause != nil:
		p.log.Error(cause, "Worker failed", "worker", w.name)
	default:
		p.log.V(logging.DEBUG).Info("Worker stopped", "worker", w.name)
	}
}
