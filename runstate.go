package fjpool

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
)

// Run-state bits. Phase bits only ever get set; STOP implies SHUTDOWN and
// TERMINATED implies STOP. SHUTDOWN is the sign bit so "rs < 0" reads as
// "shutting down".
const (
	rsLock       int32 = 1
	rsSignal     int32 = 1 << 1
	rsStarted    int32 = 1 << 2
	rsStop       int32 = 1 << 29
	rsTerminated int32 = 1 << 30
	rsShutdown   int32 = -1 << 31
)

// lockSpins bounds the randomized spin before a lock waiter blocks.
const lockSpins = 1 << 6

// runState is a lockable bitset. The lock bit guards registry edits and
// phase transitions; it is never held across a steal or a task execution.
type runState struct {
	word atomic.Int32
	mu   sync.Mutex
	cond sync.Cond
}

func (s *runState) init(rs int32) {
	s.cond.L = &s.mu
	s.word.Store(rs)
}

func (s *runState) load() int32 { return s.word.Load() }

// lock acquires the lock bit and returns the word with the bit set.
func (s *runState) lock() int32 {
	rs := s.word.Load()
	if rs&rsLock == 0 && s.word.CompareAndSwap(rs, rs|rsLock) {
		return rs | rsLock
	}
	return s.awaitLock()
}

// awaitLock spins a randomized, bounded number of times and then blocks
// after advertising itself through the signal bit.
func (s *runState) awaitLock() int32 {
	spins := lockSpins
	var r uint32
	for {
		rs := s.word.Load()
		switch {
		case rs&rsLock == 0:
			if s.word.CompareAndSwap(rs, rs|rsLock) {
				return rs | rsLock
			}
		case r == 0:
			r = rand.Uint32() | 1
		case spins > 0:
			r ^= r << 6
			r ^= r >> 21
			r ^= r << 7
			if int32(r) >= 0 {
				spins--
			}
		case s.word.CompareAndSwap(rs, rs|rsSignal):
			s.mu.Lock()
			if s.word.Load()&rsSignal != 0 {
				s.cond.Wait()
			} else {
				s.cond.Broadcast()
			}
			s.mu.Unlock()
		}
	}
}

// unlock releases the lock, publishing next. If a waiter set the signal
// bit meanwhile the CAS fails and waiters are woken.
func (s *runState) unlock(old, next int32) {
	if !s.word.CompareAndSwap(old, next) {
		s.word.Store(next)
		s.mu.Lock()
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}
