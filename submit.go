package fjpool

import (
	"math/rand/v2"
	"sync"
)

// submitSeed picks a submitter's submission queue at random. Seeds
// are recycled through a sync.Pool, which keeps one per P in practice, so
// goroutines on the same P tend to reuse a queue and contend less.
type submitSeed struct {
	r uint32
}

var seeds = sync.Pool{
	New: func() any { return &submitSeed{r: randomSeed()} },
}

func randomSeed() uint32 { return rand.Uint32() | 1 }

func (pr *submitSeed) advance() {
	r := pr.r
	r ^= r << 13
	r ^= r >> 17
	r ^= r << 5
	pr.r = r
}

// externalPush adds t to a submission queue. The common case takes the
// queue's lock with one CAS; everything else goes through externalSubmit.
func (p *Pool) externalPush(t *taskCore) error {
	pr := seeds.Get().(*submitSeed)
	defer seeds.Put(pr)

	rs := p.runState.load()
	ws := p.queues.Load()
	q := ws.get(ws.mask() & int(pr.r) & sqMask)
	if q != nil && rs > 0 && q.qlock.CompareAndSwap(0, 1) {
		if a := q.array.Load(); a != nil {
			s := q.top.Load()
			n := s - q.base.Load()
			if a.mask() > n {
				a.slot(s).Store(t)
				q.top.Store(s + 1)
				q.qlock.Store(0)
				if n <= 1 {
					return p.signalWork(q)
				}
				return nil
			}
		}
		q.qlock.CompareAndSwap(1, 0)
	}
	return p.externalSubmit(t, pr)
}

// externalSubmit is the full submission path: it creates missing
// submission queues, grows full ones and moves to another queue on
// contention.
func (p *Pool) externalSubmit(t *taskCore, pr *submitSeed) error {
	for {
		move := false
		rs := p.runState.load()
		if rs < 0 {
			p.tryTerminate(false, false)
			return ErrPoolShutdown
		}
		ws := p.queues.Load()
		k := ws.mask() & int(pr.r) & sqMask
		if q := ws.get(k); q != nil {
			if q.qlock.Load() == 0 && q.qlock.CompareAndSwap(0, 1) {
				a := q.array.Load()
				s := q.top.Load()
				var err error
				if a == nil || a.mask() <= s-q.base.Load() {
					a, err = q.growArray()
				}
				if err == nil {
					a.slot(s).Store(t)
					q.top.Store(s + 1)
				}
				q.qlock.CompareAndSwap(1, 0)
				if err != nil {
					return err
				}
				return p.signalWork(q)
			}
			move = true
		} else if rs&rsLock == 0 {
			q := newWorkQueue(p, nil)
			q.hint.Store(int32(pr.r))
			q.config = int32(k) | sharedQueue
			q.scanState.Store(inactive)
			rs = p.runState.lock()
			if rs > 0 {
				if ws = p.queues.Load(); k < ws.len() && ws.get(k) == nil {
					ws.set(k, q)
				}
			}
			p.runState.unlock(rs, rs&^rsLock)
		} else {
			move = true
		}
		if move {
			pr.advance()
		}
	}
}
