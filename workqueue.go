package fjpool

import (
	"sync/atomic"
	"time"
)

const (
	initialQueueCapacity = 1 << 13
	maximumQueueCapacity = 1 << 26
)

// Queue mode bits kept in workQueue.config above the registry index.
const (
	lifoQueue   int32 = 0
	fifoQueue   int32 = 1 << 16
	sharedQueue int32 = -1 << 31
)

// cacheLinePad prevents false sharing between hot fields.
type cacheLinePad struct {
	_ [64]byte
}

// taskArray is the circular buffer behind a workQueue. A grown queue gets
// a new taskArray; existing arrays never change size.
type taskArray struct {
	slots []atomic.Pointer[taskCore]
}

func newTaskArray(n int) *taskArray {
	return &taskArray{slots: make([]atomic.Pointer[taskCore], n)}
}

func (a *taskArray) mask() int32 { return int32(len(a.slots) - 1) }

func (a *taskArray) slot(i int32) *atomic.Pointer[taskCore] {
	return &a.slots[i&a.mask()]
}

// workQueue is a work-stealing deque. The owner pushes and pops at top;
// thieves take from base with a CAS on the slot. base and top are free
// running and wrap. Shared submission queues have no owner and serialize
// pushes with qlock.
type workQueue struct {
	_ cacheLinePad

	scanState atomic.Int32 // index|SCANNING when active; negative when idle
	stackPred atomic.Int32 // previous idle-stack head
	nsteals   atomic.Int32
	hint      atomic.Int32 // randomization seed or steal-victim index
	qlock     atomic.Int32 // 1: locked, -1: terminating, 0: free
	config    int32        // registry index and mode; fixed once published

	_ cacheLinePad

	base atomic.Int32

	_ cacheLinePad

	top   atomic.Int32
	array atomic.Pointer[taskArray]

	pool        *Pool
	owner       *Worker
	initialCap  int
	maxCapacity int

	parker  chan struct{} // single permit; nil for shared queues
	parked  atomic.Bool
	blocked atomic.Bool // owner is blocked in a join or managed block

	currentJoin  atomic.Pointer[taskCore]
	currentSteal atomic.Pointer[taskCore]
}

func newWorkQueue(p *Pool, owner *Worker) *workQueue {
	q := &workQueue{
		pool:        p,
		owner:       owner,
		initialCap:  initialQueueCapacity,
		maxCapacity: maximumQueueCapacity,
	}
	if p != nil {
		q.initialCap = p.config.InitialQueueCapacity
		q.maxCapacity = p.config.MaxQueueCapacity
	}
	if owner != nil {
		q.parker = make(chan struct{}, 1)
	}
	mid := int32(q.initialCap >> 1)
	q.base.Store(mid)
	q.top.Store(mid)
	return q
}

// index returns the queue's registry slot.
func (q *workQueue) index() int { return int(q.config & smask) }

// queueSize returns an estimate of the number of queued tasks.
func (q *workQueue) queueSize() int {
	n := q.base.Load() - q.top.Load()
	if n >= 0 {
		return 0
	}
	return int(-n)
}

// isEmpty is more accurate than queueSize()==0: a queue with one apparent
// task whose slot is already taken counts as empty.
func (q *workQueue) isEmpty() bool {
	s := q.top.Load()
	n := q.base.Load() - s
	if n >= 0 {
		return true
	}
	if n != -1 {
		return false
	}
	a := q.array.Load()
	return a == nil || a.slot(s-1).Load() == nil
}

// push adds t at the top. Owner only. A failure to start a worker for the
// new task is logged; exceeding capacity is returned.
func (q *workQueue) push(t *taskCore) error {
	b, s := q.base.Load(), q.top.Load()
	a := q.array.Load()
	if a == nil || s-b >= a.mask() {
		var err error
		if a, err = q.growArray(); err != nil {
			return err
		}
	}
	a.slot(s).Store(t)
	q.top.Store(s + 1)
	if s-b <= 1 && q.pool != nil {
		q.pool.signal(q)
	}
	return nil
}

// growArray allocates or doubles the array and moves queued tasks into it.
// Each moved slot is taken with a CAS so a concurrent thief and the copy
// never both claim the same task.
func (q *workQueue) growArray() (*taskArray, error) {
	old := q.array.Load()
	size := q.initialCap
	if old != nil {
		size = len(old.slots) << 1
	}
	if size > q.maxCapacity {
		return nil, ErrQueueCapacity
	}
	a := newTaskArray(size)
	q.array.Store(a)
	if old != nil {
		b, t := q.base.Load(), q.top.Load()
		for ; t-b > 0; b++ {
			src := old.slot(b)
			if x := src.Load(); x != nil && src.CompareAndSwap(x, nil) {
				a.slot(b).Store(x)
			}
		}
	}
	return a, nil
}

// pop takes the most recently pushed task. Owner only.
func (q *workQueue) pop() *taskCore {
	a := q.array.Load()
	if a == nil {
		return nil
	}
	for {
		s := q.top.Load() - 1
		if s-q.base.Load() < 0 {
			return nil
		}
		slot := a.slot(s)
		t := slot.Load()
		if t == nil {
			return nil
		}
		if slot.CompareAndSwap(t, nil) {
			q.top.Store(s)
			return t
		}
	}
}

// pollAt takes the task at b if b is still the base.
func (q *workQueue) pollAt(b int32) *taskCore {
	if a := q.array.Load(); a != nil {
		slot := a.slot(b)
		if t := slot.Load(); t != nil && q.base.Load() == b && slot.CompareAndSwap(t, nil) {
			q.base.Store(b + 1)
			return t
		}
	}
	return nil
}

// poll takes the oldest task.
func (q *workQueue) poll() *taskCore {
	for {
		b := q.base.Load()
		if b-q.top.Load() >= 0 {
			return nil
		}
		a := q.array.Load()
		if a == nil {
			return nil
		}
		slot := a.slot(b)
		t := slot.Load()
		if q.base.Load() != b {
			continue
		}
		if t != nil {
			if slot.CompareAndSwap(t, nil) {
				q.base.Store(b + 1)
				return t
			}
		} else if b+1 == q.top.Load() {
			return nil
		}
	}
}

// nextLocalTask takes the next task in the owner's processing order.
func (q *workQueue) nextLocalTask() *taskCore {
	if q.config&fifoQueue == 0 {
		return q.pop()
	}
	return q.poll()
}

// peek returns the next local task without removing it.
func (q *workQueue) peek() *taskCore {
	a := q.array.Load()
	if a == nil {
		return nil
	}
	i := q.base.Load()
	if q.config&fifoQueue == 0 {
		i = q.top.Load() - 1
	}
	return a.slot(i).Load()
}

// tryUnpush removes t if it is the top task. Owner only.
func (q *workQueue) tryUnpush(t *taskCore) bool {
	a := q.array.Load()
	s := q.top.Load()
	if a != nil && s != q.base.Load() && a.slot(s-1).CompareAndSwap(t, nil) {
		q.top.Store(s - 1)
		return true
	}
	return false
}

// execLocalTasks drains the local queue in mode order, running each task.
func (q *workQueue) execLocalTasks() {
	b, s := q.base.Load(), q.top.Load()-1
	a := q.array.Load()
	if b-s > 0 || a == nil {
		return
	}
	if q.config&fifoQueue != 0 {
		q.pollAndExecAll()
		return
	}
	for {
		t := a.slot(s).Swap(nil)
		if t == nil {
			return
		}
		q.top.Store(s)
		t.Exec(q.owner)
		s = q.top.Load() - 1
		if q.base.Load()-s > 0 {
			return
		}
		a = q.array.Load()
	}
}

func (q *workQueue) pollAndExecAll() {
	for t := q.poll(); t != nil; t = q.poll() {
		t.Exec(q.owner)
	}
}

// runTask runs a stolen task and then the local tasks it produced.
func (q *workQueue) runTask(t *taskCore) {
	if t == nil {
		return
	}
	q.scanState.And(^scanning)
	q.currentSteal.Store(t)
	t.Exec(q.owner)
	q.currentSteal.Store(nil)
	q.execLocalTasks()
	if q.nsteals.Add(1) < 0 {
		q.transferStealCount(q.pool)
	}
	q.scanState.Or(scanning)
}

// transferStealCount folds the local steal count into the pool total.
func (q *workQueue) transferStealCount(p *Pool) {
	if p == nil {
		return
	}
	s := q.nsteals.Swap(0)
	if s < 0 {
		s = maxInt32
	}
	p.stealCount.Add(int64(s))
}

const maxInt32 = 1<<31 - 1

// tryRemoveAndExec removes task from anywhere in the local queue and runs
// it. A removed interior task is replaced with a completed placeholder.
// It returns true if the queue is empty and the task is not known to be
// done.
func (q *workQueue) tryRemoveAndExec(task *taskCore) bool {
	a := q.array.Load()
	if a == nil || task == nil {
		return true
	}
	for {
		s, b := q.top.Load(), q.base.Load()
		n := s - b
		if n <= 0 {
			return true
		}
		for {
			s--
			slot := a.slot(s)
			t := slot.Load()
			if t == nil {
				return s+1 == q.top.Load()
			}
			if t == task {
				removed := false
				if s+1 == q.top.Load() {
					if slot.CompareAndSwap(task, nil) {
						q.top.Store(s)
						removed = true
					}
				} else if q.base.Load() == b {
					removed = slot.CompareAndSwap(task, newEmptyTask())
				}
				if removed {
					task.Exec(q.owner)
				}
				break
			}
			if t.status.Load() < 0 && s+1 == q.top.Load() {
				if slot.CompareAndSwap(t, nil) {
					q.top.Store(s)
				}
				break
			}
			n--
			if n == 0 {
				return false
			}
		}
		if task.status.Load() < 0 {
			return false
		}
	}
}

// popCC pops the top task if it is a completer within task's tree.
// Owner only.
func (q *workQueue) popCC(task *Completer) *Completer {
	s := q.top.Load()
	a := q.array.Load()
	if q.base.Load()-s >= 0 || a == nil {
		return nil
	}
	slot := a.slot(s - 1)
	o := slot.Load()
	if o == nil {
		return nil
	}
	t, ok := o.self.(*Completer)
	if !ok {
		return nil
	}
	for r := t; r != nil; r = r.parent {
		if r == task {
			if slot.CompareAndSwap(o, nil) {
				q.top.Store(s - 1)
				return t
			}
			return nil
		}
	}
	return nil
}

// pollAndExecCC steals and runs the base task if it belongs to task's
// tree. It returns 1 if a task ran, 0 if the queue looked empty, -1 if the
// base task is outside the tree (the caller may give up), 2 on contention,
// or task's status if task is already done.
func (q *workQueue) pollAndExecCC(task *Completer, w *Worker) int32 {
	b := q.base.Load()
	if b-q.top.Load() >= 0 {
		return 0
	}
	a := q.array.Load()
	if a == nil {
		return 0
	}
	slot := a.slot(b)
	o := slot.Load()
	if o == nil {
		return 2
	}
	t, ok := o.self.(*Completer)
	if !ok {
		return -1
	}
	for r := t; ; r = r.parent {
		if s := task.status.Load(); s < 0 {
			return s
		}
		if r == task {
			if q.base.Load() == b && slot.CompareAndSwap(o, nil) {
				q.base.Store(b + 1)
				t.Exec(w)
				return 1
			}
			return 2
		}
		if r.parent == nil {
			return -1
		}
	}
}

// cancelAll cancels the joined and stolen tasks and every queued task.
func (q *workQueue) cancelAll() {
	if t := q.currentJoin.Swap(nil); t != nil {
		t.Cancel()
	}
	if t := q.currentSteal.Swap(nil); t != nil {
		t.Cancel()
	}
	for t := q.poll(); t != nil; t = q.poll() {
		t.Cancel()
	}
}

// isApparentlyUnblocked reports whether the owner is running and not
// blocked in a join or managed block.
func (q *workQueue) isApparentlyUnblocked() bool {
	return q.owner != nil && q.scanState.Load() >= 0 && !q.blocked.Load() && !q.parked.Load()
}

// unpark hands the owner its wake-up permit.
func (q *workQueue) unpark() {
	if q.parker == nil {
		return
	}
	select {
	case q.parker <- struct{}{}:
	default:
	}
}

// park waits for the permit, or for d when positive.
func (q *workQueue) park(d time.Duration) {
	if d <= 0 {
		<-q.parker
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-q.parker:
	case <-timer.C:
	}
}
