package fjpool

import (
	"github.com/tahsin716/fjpool/internal/logging"
)

// tryTerminate advances the pool towards termination and reports whether
// it is terminating or terminated.
//
// enable sets SHUTDOWN if not already set. Unless now is true, STOP is
// entered only once the pool is quiescent: no active worker, and two
// consecutive sweeps see the same empty queues. After STOP, up to several
// passes disable every queue, cancel queued tasks, wake blocked joins and
// unpark idle workers. TERMINATED is set once no worker remains.
func (p *Pool) tryTerminate(now, enable bool) bool {
	rs := p.runState.load()
	if rs >= 0 {
		if !enable {
			return false
		}
		rs = p.runState.lock()
		p.runState.unlock(rs, (rs&^rsLock)|rsShutdown)
		if rs&rsShutdown == 0 {
			p.log.V(logging.DEFAULT).Info("Pool shutting down", "now", now)
		}
	}

	if p.runState.load()&rsStop == 0 {
		if !now && !p.awaitQuiescentForStop() {
			return false
		}
		if p.runState.load()&rsStop == 0 {
			rs = p.runState.lock()
			p.runState.unlock(rs, (rs&^rsLock)|rsStop)
			p.stopOnce.Do(func() {
				close(p.stopCh)
				p.log.V(logging.DEFAULT).Info("Pool stopping")
			})
		}
	}

	pass := 0
	var oldSum int64
	for {
		checkSum := p.ctl.Load()
		ws := p.queues.Load()
		m := ws.mask()
		if ctlWord(checkSum).tc()+p.parallelism <= 0 || m <= 0 {
			if p.runState.load()&rsTerminated == 0 {
				rs = p.runState.lock()
				p.runState.unlock(rs, (rs&^rsLock)|rsTerminated)
			}
			p.termOnce.Do(func() {
				close(p.terminated)
				p.log.V(logging.DEFAULT).Info("Pool terminated",
					"workersCreated", p.created.Load(), "steals", p.StealCount())
			})
			break
		}
		for i := 0; i <= m; i++ {
			if w := ws.get(i); w != nil {
				checkSum += int64(w.base.Load())
				w.qlock.Store(-1)
				if pass > 0 {
					w.cancelAll()
					if pass > 1 && w.owner != nil && w.scanState.Load() < 0 {
						w.unpark()
					}
				}
			}
		}
		if checkSum != oldSum {
			oldSum = checkSum
			pass = 0
		} else if pass > 3 && pass > m {
			break
		} else if pass++; pass > 1 {
			for j := 0; j <= m; j++ {
				c := ctlWord(p.ctl.Load())
				sp := c.sp()
				if sp == 0 {
					break
				}
				p.tryRelease(c, ws.get(int(sp)&m), acUnit)
			}
		}
	}
	return true
}

// awaitQuiescentForStop reports whether the pool is quiescent enough to
// stop. Submission queues are disabled along the way. If work remains an
// idle worker is released to recheck later.
func (p *Pool) awaitQuiescentForStop() bool {
	var oldSum int64
	for {
		checkSum := p.ctl.Load()
		if ctlWord(checkSum).ac()+p.parallelism > 0 {
			return false
		}
		ws := p.queues.Load()
		m := ws.mask()
		if m <= 0 {
			return true
		}
		for i := 0; i <= m; i++ {
			w := ws.get(i)
			if w == nil {
				continue
			}
			b := w.base.Load()
			if b != w.top.Load() || w.scanState.Load() >= 0 || w.currentSteal.Load() != nil {
				c := ctlWord(p.ctl.Load())
				p.tryRelease(c, ws.get(m&int(c.sp())), acUnit)
				return false
			}
			checkSum += int64(b)
			if i&1 == 0 {
				w.qlock.Store(-1)
			}
		}
		same := oldSum == checkSum
		oldSum = checkSum
		if same {
			return true
		}
	}
}
