package fjpool

import (
	"runtime"
	"time"

	"github.com/tahsin716/fjpool/internal/logging"
)

// Outcomes of tryCompensate.
const (
	compensateRetry     = iota // nothing reserved; re-check and try again
	compensateBlock            // AC given up or a spare started; restore AC on wake
	compensateSaturated        // cap reached and Saturate allowed blocking as is
)

// stopPollInterval bounds each wait of a joiner once the pool is
// stopping and compensation is no longer possible.
const stopPollInterval = 10 * time.Millisecond

// awaitJoin waits for task on behalf of worker queue w, first helping by
// running tasks that the task depends on, then blocking with
// compensation. A zero deadline waits indefinitely; otherwise the status
// is returned non-negative when the deadline passes.
func (p *Pool) awaitJoin(w *workQueue, task *taskCore, deadline time.Time) (int32, error) {
	if task == nil || w == nil {
		return 0, nil
	}
	prevJoin := w.currentJoin.Load()
	w.currentJoin.Store(task)
	defer w.currentJoin.Store(prevJoin)

	cc, _ := task.self.(*Completer)
	for {
		if s := task.status.Load(); s < 0 {
			return s, nil
		}
		if cc != nil {
			p.helpComplete(w, cc, 0)
		} else if w.base.Load() == w.top.Load() || w.tryRemoveAndExec(task) {
			p.helpStealer(w, task)
		}
		s := task.status.Load()
		if s < 0 {
			return s, nil
		}
		var wait time.Duration
		if !deadline.IsZero() {
			if wait = time.Until(deadline); wait <= 0 {
				return s, nil
			}
		}
		mode, err := p.tryCompensate(w)
		if err != nil {
			return s, err
		}
		switch mode {
		case compensateBlock, compensateSaturated:
			w.blocked.Store(true)
			task.internalWait(wait, p.stopCh)
			w.blocked.Store(false)
			if mode == compensateBlock {
				p.ctl.Add(int64(acUnit))
			}
		default:
			if p.runState.load()&rsStop != 0 {
				if wait <= 0 || wait > stopPollInterval {
					wait = stopPollInterval
				}
				task.internalWait(wait, nil)
			} else {
				runtime.Gosched()
			}
		}
	}
}

// helpStealer tries to run tasks of the worker that stole task, following
// the chain of joins down through workers that stole from the stealers.
// It gives up when task completes, the chain goes stale or no progress is
// observed over a full pass.
func (p *Pool) helpStealer(w *workQueue, task *taskCore) {
	ws := p.queues.Load()
	m := ws.mask()
	if m < 0 || w == nil || task == nil {
		return
	}
	var oldSum int32
	for {
		var checkSum int32
		j := w
		subtask := task
	descent:
		for subtask.status.Load() >= 0 {
			var v *workQueue
			h := int(j.hint.Load() | 1)
			for k := 0; ; k += 2 {
				if k > m {
					break descent
				}
				i := (h + k) & m
				if v = ws.get(i); v != nil {
					if v.currentSteal.Load() == subtask {
						j.hint.Store(int32(i))
						break
					}
					checkSum += v.base.Load()
				}
			}
			for {
				b := v.base.Load()
				checkSum += b
				next := v.currentJoin.Load()
				if subtask.status.Load() < 0 || j.currentJoin.Load() != subtask ||
					v.currentSteal.Load() != subtask {
					break descent
				}
				a := v.array.Load()
				if b-v.top.Load() >= 0 || a == nil {
					if subtask = next; subtask == nil {
						break descent
					}
					j = v
					break
				}
				slot := a.slot(b)
				t := slot.Load()
				if v.base.Load() != b {
					continue
				}
				if t == nil {
					break descent
				}
				if slot.CompareAndSwap(t, nil) {
					v.base.Store(b + 1)
					ps := w.currentSteal.Load()
					top := w.top.Load()
					for {
						w.currentSteal.Store(t)
						t.Exec(w.owner)
						if task.status.Load() < 0 || w.top.Load() == top {
							break
						}
						if t = w.pop(); t == nil {
							break
						}
					}
					w.currentSteal.Store(ps)
					if w.base.Load() != w.top.Load() {
						return
					}
				}
			}
		}
		if task.status.Load() < 0 {
			return
		}
		same := oldSum == checkSum
		oldSum = checkSum
		if same {
			return
		}
	}
}

// helpComplete runs tasks of task's completion tree, first from the top
// of w's own queue and then from the base of other queues, until task is
// done, maxTasks tasks ran (if non-zero), or a pass finds nothing.
func (p *Pool) helpComplete(w *workQueue, task *Completer, maxTasks int) int32 {
	ws := p.queues.Load()
	m := ws.mask()
	if m < 0 || task == nil || w == nil {
		return 0
	}
	r := uint32(w.hint.Load() ^ w.top.Load())
	origin := int(r) & m
	k := origin
	h := int32(1)
	var s, oldSum, checkSum int32
	for {
		if s = task.status.Load(); s < 0 {
			break
		}
		var pc *Completer
		if h == 1 {
			pc = w.popCC(task)
		}
		if pc != nil {
			pc.Exec(w.owner)
			if maxTasks != 0 {
				if maxTasks--; maxTasks == 0 {
					break
				}
			}
			origin = k
			oldSum, checkSum = 0, 0
			continue
		}
		if q := ws.get(k); q == nil {
			h = 0
		} else if h = q.pollAndExecCC(task, w.owner); h < 0 {
			checkSum += h
		}
		if h > 0 {
			if h == 1 && maxTasks != 0 {
				if maxTasks--; maxTasks == 0 {
					break
				}
			}
			r ^= r << 13
			r ^= r >> 17
			r ^= r << 5
			origin = int(r) & m
			k = origin
			oldSum, checkSum = 0, 0
		} else if k = (k + 1) & m; k == origin {
			same := oldSum == checkSum
			oldSum = checkSum
			if same {
				break
			}
			checkSum = 0
		}
	}
	return s
}

// tryCompensate decides how a worker about to block keeps parallelism
// up: wake an idle worker, give up its own active slot if enough others
// are running, or start a spare. Every count change is reserved by a CAS
// on ctl before any worker is created.
func (p *Pool) tryCompensate(w *workQueue) (int, error) {
	ws := p.queues.Load()
	m := ws.mask()
	pc := p.parallelism
	if w == nil || w.qlock.Load() < 0 || m <= 0 || pc == 0 {
		return compensateRetry, nil
	}
	c := ctlWord(p.ctl.Load())
	if sp := c.sp(); sp != 0 {
		if p.tryRelease(c, ws.get(int(sp)&m), 0) {
			return compensateBlock, nil
		}
		return compensateRetry, nil
	}
	ac := c.ac() + pc
	tc := c.tc() + pc
	nbusy := int32(0)
	for i := 0; i <= m; i++ {
		if v := ws.get(((i << 1) | 1) & m); v != nil {
			if v.scanState.Load()&scanning != 0 {
				break
			}
			nbusy++
		}
	}
	if nbusy != tc<<1 || ctlWord(p.ctl.Load()) != c {
		return compensateRetry, nil
	}
	if tc >= pc && ac > 1 && w.isEmpty() {
		if p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(-1, 0))) {
			return compensateBlock, nil
		}
		return compensateRetry, nil
	}
	if tc >= maxCap || tc >= int32(p.config.MaxWorkers) {
		if sat := p.config.Saturate; sat != nil && sat(p) {
			return compensateSaturated, nil
		}
		return compensateRetry, ErrCompensationLimit
	}
	rs := p.runState.lock()
	add := false
	if rs&rsStop == 0 {
		add = p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(0, 1)))
	}
	p.runState.unlock(rs, rs&^rsLock)
	if !add {
		return compensateRetry, nil
	}
	ok, err := p.createWorker(true)
	if !ok {
		return compensateRetry, err
	}
	p.compensations.Add(1)
	p.log.V(logging.VERBOSE).Info("Started compensating worker", "total", tc+1)
	return compensateBlock, nil
}

// helpQuiescePool runs tasks, local first, then stolen, until the pool
// appears quiescent.
func (p *Pool) helpQuiescePool(w *workQueue) {
	ps := w.currentSteal.Load()
	defer w.currentSteal.Store(ps)
	active := true
	for {
		w.execLocalTasks()
		if q := p.findNonEmptyStealQueue(); q != nil {
			if !active {
				active = true
				p.ctl.Add(int64(acUnit))
			}
			if b := q.base.Load(); b-q.top.Load() < 0 {
				if t := q.pollAt(b); t != nil {
					w.currentSteal.Store(t)
					t.Exec(w.owner)
					w.currentSteal.Store(ps)
					if w.nsteals.Add(1) < 0 {
						w.transferStealCount(p)
					}
				}
			}
			continue
		}
		c := ctlWord(p.ctl.Load())
		if active {
			if (c.withDelta(-1, 0)).ac()+p.parallelism <= 0 {
				break
			}
			if p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(-1, 0))) {
				active = false
			}
		} else if c.ac()+p.parallelism <= 0 &&
			p.ctl.CompareAndSwap(int64(c), int64(c.withDelta(1, 0))) {
			break
		}
		runtime.Gosched()
	}
}

// findNonEmptyStealQueue returns a queue that appears to hold tasks.
func (p *Pool) findNonEmptyStealQueue() *workQueue {
	r := int(randomSeed())
	var oldSum int32
	for {
		var checkSum int32
		ws := p.queues.Load()
		m := ws.mask()
		if m < 0 {
			return nil
		}
		for j := (m + 1) << 2; j >= 0; j-- {
			if q := ws.get((r - j) & m); q != nil {
				b := q.base.Load()
				if b-q.top.Load() < 0 {
					return q
				}
				checkSum += b
			}
		}
		same := oldSum == checkSum
		oldSum = checkSum
		if same {
			return nil
		}
	}
}
