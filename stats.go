package fjpool

// Stats is a snapshot of pool counters and worker states. Fields are read
// without locking and may be slightly inconsistent with each other while
// the pool is busy.
//
// Example:
//
//	stats := pool.Stats()
//	fmt.Printf("%d/%d workers active, %d steals\n",
//	    stats.ActiveCount, stats.PoolSize, stats.StealCount)
type Stats struct {
	// Name and ID identify the pool.
	Name string
	ID   string

	// State is the pool's lifecycle phase.
	State PoolState

	// Parallelism is the target number of active workers.
	Parallelism int

	// PoolSize is the number of live workers, including spares started to
	// compensate for blocked joins.
	PoolSize int

	// ActiveCount is the number of workers stealing or running tasks.
	ActiveCount int

	// RunningCount is the number of workers not idle and not blocked in a
	// join or managed block.
	RunningCount int

	// QueuedTasks is the number of tasks forked into worker queues and not
	// yet taken.
	QueuedTasks int64

	// QueuedSubmissions is the number of submitted tasks not yet taken.
	QueuedSubmissions int

	// Submitted is the number of tasks accepted by Submit and its variants.
	Submitted int64

	// StealCount is the number of tasks taken from queues other than the
	// taker's own, submissions included.
	StealCount int64

	// WorkersCreated counts every worker the factory produced.
	WorkersCreated int64

	// Compensations counts spare workers started for blocked joins.
	Compensations int64

	// Workers holds one entry per live worker, in registry order.
	Workers []WorkerStats
}

// WorkerStats describes one worker.
type WorkerStats struct {
	// Name is the worker's name.
	Name string

	// Index is the worker's slot among worker queues.
	Index int

	// QueueSize is the number of tasks in the worker's own queue.
	QueueSize int

	// Steals is the number of steals not yet folded into the pool total.
	Steals int64

	// State is what the worker is doing: scanning, running, blocked or
	// inactive.
	State WorkerState
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	s := Stats{
		Name:              p.name,
		ID:                p.id,
		State:             p.State(),
		Parallelism:       int(p.parallelism),
		PoolSize:          p.PoolSize(),
		ActiveCount:       p.ActiveCount(),
		RunningCount:      p.RunningCount(),
		QueuedTasks:       p.QueuedTaskCount(),
		QueuedSubmissions: p.QueuedSubmissionCount(),
		Submitted:         p.submitted.Load(),
		StealCount:        p.StealCount(),
		WorkersCreated:    p.created.Load(),
		Compensations:     p.compensations.Load(),
	}
	ws := p.queues.Load()
	for i := 1; i < ws.len(); i += 2 {
		q := ws.get(i)
		if q == nil || q.owner == nil {
			continue
		}
		s.Workers = append(s.Workers, WorkerStats{
			Name:      q.owner.name,
			Index:     i >> 1,
			QueueSize: q.queueSize(),
			Steals:    int64(q.nsteals.Load()),
			State:     q.owner.State(),
		})
	}
	return s
}
