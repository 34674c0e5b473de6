package fjpool

import "sync/atomic"

// registry is the pool's power-of-two table of queues. Even slots hold
// shared submission queues, odd slots hold worker queues. Slots are read
// without locking; publishing, clearing and growing happen under the
// run-state lock. A grown registry replaces the old one wholesale.
type registry struct {
	slots []atomic.Pointer[workQueue]
}

func newRegistry(n int) *registry {
	return &registry{slots: make([]atomic.Pointer[workQueue], n)}
}

// registrySize returns twice the smallest power of two >= parallelism,
// with a floor of four slots.
func registrySize(parallelism int) int {
	n := 1
	if parallelism > 1 {
		n = parallelism - 1
	}
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	return (n + 1) << 1
}

func (r *registry) len() int { return len(r.slots) }

func (r *registry) mask() int { return len(r.slots) - 1 }

func (r *registry) get(i int) *workQueue { return r.slots[i].Load() }

func (r *registry) set(i int, q *workQueue) { r.slots[i].Store(q) }

// grow returns a copy of r with twice as many slots.
func (r *registry) grow() *registry {
	g := newRegistry(len(r.slots) << 1)
	for i := range r.slots {
		g.slots[i].Store(r.slots[i].Load())
	}
	return g
}
