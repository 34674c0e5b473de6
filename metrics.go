package fjpool

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "fjpool"

// Collector exports a pool's counters as Prometheus metrics. Values are
// read from the pool at scrape time.
//
// Example:
//
//	prometheus.MustRegister(fjpool.NewCollector(pool))
type Collector struct {
	pool *Pool

	poolSize          *prometheus.Desc
	activeWorkers     *prometheus.Desc
	runningWorkers    *prometheus.Desc
	queuedTasks       *prometheus.Desc
	queuedSubmissions *prometheus.Desc
	submitted         *prometheus.Desc
	steals            *prometheus.Desc
	workersCreated    *prometheus.Desc
	compensations     *prometheus.Desc
	state             *prometheus.Desc
}

// NewCollector returns a collector for p labelled with its name and id.
func NewCollector(p *Pool) *Collector {
	labels := prometheus.Labels{"pool": p.name, "pool_id": p.id}
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(metricsNamespace, "", name), help, nil, labels)
	}
	return &Collector{
		pool:              p,
		poolSize:          desc("pool_size", "Number of live workers."),
		activeWorkers:     desc("active_workers", "Number of workers stealing or running tasks."),
		runningWorkers:    desc("running_workers", "Number of workers not idle and not blocked."),
		queuedTasks:       desc("queued_tasks", "Number of tasks in worker queues."),
		queuedSubmissions: desc("queued_submissions", "Number of submitted tasks not yet taken."),
		submitted:         desc("submitted_tasks_total", "Number of tasks accepted by Submit."),
		steals:            desc("steals_total", "Number of tasks taken from another queue."),
		workersCreated:    desc("workers_created_total", "Number of workers started."),
		compensations:     desc("compensations_total", "Number of spare workers started for blocked joins."),
		state:             desc("state", "Lifecycle phase: 0 running, 1 shutdown, 2 stopping, 3 terminated."),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.poolSize
	ch <- c.activeWorkers
	ch <- c.runningWorkers
	ch <- c.queuedTasks
	ch <- c.queuedSubmissions
	ch <- c.submitted
	ch <- c.steals
	ch <- c.workersCreated
	ch <- c.compensations
	ch <- c.state
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.pool.Stats()
	gauge := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v)
	}
	counter := func(d *prometheus.Desc, v float64) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v)
	}
	gauge(c.poolSize, float64(s.PoolSize))
	gauge(c.activeWorkers, float64(s.ActiveCount))
	gauge(c.runningWorkers, float64(s.RunningCount))
	gauge(c.queuedTasks, float64(s.QueuedTasks))
	gauge(c.queuedSubmissions, float64(s.QueuedSubmissions))
	counter(c.submitted, float64(s.Submitted))
	counter(c.steals, float64(s.StealCount))
	counter(c.workersCreated, float64(s.WorkersCreated))
	counter(c.compensations, float64(s.Compensations))
	gauge(c.state, float64(s.State))
}
