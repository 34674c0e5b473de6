package fjpool

import (
	"time"

	"github.com/tahsin716/fjpool/internal/logging"
)

// timeoutSlop absorbs timer imprecision when deciding whether an idle
// worker's wait ran to its full timeout.
const timeoutSlop = 20 * time.Millisecond

// runWorker is the top-level worker loop: scan for a task and run it, or
// wait for work, until awaitWork says to exit.
func (p *Pool) runWorker(q *workQueue) {
	if _, err := q.growArray(); err != nil {
		p.log.Error(err, "Failed to allocate worker queue")
		return
	}
	r := uint32(q.hint.Load())
	if r == 0 {
		r = 1
	}
	for {
		if t := p.scan(q, r); t != nil {
			q.runTask(t)
		} else if !p.awaitWork(q) {
			return
		}
		r ^= r << 13
		r ^= r >> 17
		r ^= r << 5
	}
}

// scan visits queues from a random origin and steals the first task found.
// A sweep with no task and the same base checksum as the sweep before it
// deactivates the worker, pushing it onto the idle stack; the worker then
// sweeps once more before giving up. An inactive worker that sees work
// reactivates the idle-stack head, possibly itself.
func (p *Pool) scan(w *workQueue, r uint32) *taskCore {
	ws := p.queues.Load()
	m := ws.mask()
	if m <= 0 || w == nil {
		return nil
	}
	ss := w.scanState.Load()
	origin := int(r) & m
	k := origin
	var oldSum, checkSum int32
	for {
		if q := ws.get(k); q != nil {
			b := q.base.Load()
			n := b - q.top.Load()
			if a := q.array.Load(); n < 0 && a != nil {
				slot := a.slot(b)
				if t := slot.Load(); t != nil && q.base.Load() == b {
					if ss >= 0 {
						if slot.CompareAndSwap(t, nil) {
							q.base.Store(b + 1)
							if n < -1 {
								p.signal(q)
							}
							return t
						}
					} else if oldSum == 0 && w.scanState.Load() < 0 {
						c := ctlWord(p.ctl.Load())
						p.tryRelease(c, ws.get(int(c.sp())&m), acUnit)
					}
				}
				if ss < 0 {
					ss = w.scanState.Load()
				}
				r ^= r << 1
				r ^= r >> 3
				r ^= r << 10
				origin = int(r) & m
				k = origin
				oldSum, checkSum = 0, 0
				continue
			}
			checkSum += b
		}
		k = (k + 1) & m
		if k != origin {
			continue
		}
		stable := ss >= 0
		if !stable {
			cur := w.scanState.Load()
			stable = ss == cur
			ss = cur
		}
		if stable {
			same := oldSum == checkSum
			oldSum = checkSum
			if same {
				if ss < 0 || w.qlock.Load() < 0 {
					break
				}
				ns := ss | inactive
				c := ctlWord(p.ctl.Load())
				nc := c.push(ns)
				w.stackPred.Store(c.sp())
				w.scanState.Store(ns)
				if p.ctl.CompareAndSwap(int64(c), int64(nc)) {
					ss = ns
				} else {
					w.scanState.Store(ss)
				}
			}
		}
		checkSum = 0
	}
	return nil
}

// awaitWork parks an inactive worker until it is signalled. It returns
// false if the worker should exit: the pool is stopping, the worker's
// queue was disabled, or the worker is a surplus idle worker whose wait
// timed out.
func (p *Pool) awaitWork(w *workQueue) bool {
	if w == nil || w.qlock.Load() < 0 {
		return false
	}
	pred := w.stackPred.Load()
	for {
		ss := w.scanState.Load()
		if ss >= 0 {
			return true
		}
		if w.qlock.Load() < 0 {
			return false
		}
		c := ctlWord(p.ctl.Load())
		ac := c.ac() + p.parallelism
		if (ac <= 0 && p.tryTerminate(false, false)) || p.runState.load()&rsStop != 0 {
			return false
		}
		var (
			prevctl  ctlWord
			parkTime time.Duration
			deadline time.Time
		)
		if ac <= 0 && ss == c.sp() {
			// Last waiter: park with a timeout so the pool can shrink.
			prevctl = c.pop(pred, acUnit)
			t := c.tc()
			if t > 2 && p.ctl.CompareAndSwap(int64(c), int64(prevctl)) {
				p.log.V(logging.VERBOSE).Info("Trimming surplus idle worker", "total", t+p.parallelism)
				return false
			}
			parkTime = p.config.IdleTimeout
			if t < 0 {
				parkTime *= time.Duration(1 - t)
			}
			deadline = time.Now().Add(parkTime - timeoutSlop)
		}
		w.parked.Store(true)
		if w.scanState.Load() < 0 && ctlWord(p.ctl.Load()) == c {
			w.park(parkTime)
		}
		w.parked.Store(false)
		if w.scanState.Load() >= 0 {
			return true
		}
		if parkTime != 0 && ctlWord(p.ctl.Load()) == c && !time.Now().Before(deadline) &&
			p.ctl.CompareAndSwap(int64(c), int64(prevctl)) {
			p.log.V(logging.VERBOSE).Info("Idle worker timed out", "total", c.tc()+p.parallelism-1)
			return false
		}
	}
}
