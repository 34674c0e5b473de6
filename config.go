package fjpool

import (
	"runtime"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"go.uber.org/multierr"
)

// Config contains all configuration options for the pool.
type Config struct {
	// Parallelism is the target number of active workers.
	// Defaults to runtime.GOMAXPROCS(0).
	Parallelism int

	// AsyncMode makes workers process their own forked tasks in FIFO
	// order instead of LIFO. Suited to event-style tasks that are never
	// joined.
	AsyncMode bool

	// Factory creates workers. Defaults to DefaultWorkerFactory.
	Factory WorkerFactory

	// PanicHandler is called when a worker goroutine fails outside a task
	// body, for example in a lifecycle hook. Panics inside task bodies are
	// recorded on the task instead. If nil, failures are logged.
	PanicHandler func(interface{})

	// MaxWorkers caps the total number of workers, including those started
	// to compensate for blocked joins. Zero means Parallelism+256, bounded
	// by 32767.
	MaxWorkers int

	// Saturate is consulted when a join would need a worker beyond
	// MaxWorkers. Returning true lets the join block without compensation
	// instead of failing with ErrCompensationLimit.
	Saturate func(p *Pool) bool

	// IdleTimeout is how long the last idle worker waits for work before
	// exiting. Defaults to 2s.
	IdleTimeout time.Duration

	// InitialQueueCapacity and MaxQueueCapacity bound the size of every
	// queue's array. Both must be powers of two.
	InitialQueueCapacity int
	MaxQueueCapacity     int

	// Name prefixes worker names and labels metrics and logs.
	Name string

	// Logger receives pool lifecycle messages. Defaults to logr.Discard().
	Logger logr.Logger

	// OnWorkerStart is called on the worker goroutine before it looks for
	// tasks.
	OnWorkerStart func(w *Worker)

	// OnWorkerStop is called on the worker goroutine as it exits; err is
	// non-nil if the worker failed.
	OnWorkerStop func(w *Worker, err error)
}

const (
	defaultIdleTimeout  = 2 * time.Second
	defaultSpareWorkers = 256
)

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Parallelism:          runtime.GOMAXPROCS(0),
		Factory:              DefaultWorkerFactory,
		IdleTimeout:          defaultIdleTimeout,
		InitialQueueCapacity: initialQueueCapacity,
		MaxQueueCapacity:     maximumQueueCapacity,
		Name:                 "fjpool",
		Logger:               logr.Discard(),
	}
}

// Validate checks the configuration, filling in derived defaults, and
// returns every problem found.
func (c *Config) Validate() error {
	var err error
	if c.Parallelism <= 0 || c.Parallelism > maxCap {
		err = multierr.Append(err, errInvalidConfig("Parallelism must be in [1, "+strconv.Itoa(maxCap)+"]"))
	}
	if c.MaxWorkers == 0 && c.Parallelism > 0 {
		c.MaxWorkers = min(c.Parallelism+defaultSpareWorkers, maxCap)
	}
	if c.MaxWorkers < c.Parallelism || c.MaxWorkers > maxCap {
		err = multierr.Append(err, errInvalidConfig("MaxWorkers must be in [Parallelism, "+strconv.Itoa(maxCap)+"]"))
	}
	if c.Factory == nil {
		err = multierr.Append(err, errInvalidConfig("Factory must not be nil"))
	}
	if c.IdleTimeout <= 0 {
		err = multierr.Append(err, errInvalidConfig("IdleTimeout must be > 0"))
	}
	if !isPowerOfTwo(c.InitialQueueCapacity) || c.InitialQueueCapacity < 2 {
		err = multierr.Append(err, errInvalidConfig("InitialQueueCapacity must be a power of 2 >= 2"))
	}
	if !isPowerOfTwo(c.MaxQueueCapacity) || c.MaxQueueCapacity > maximumQueueCapacity {
		err = multierr.Append(err, errInvalidConfig("MaxQueueCapacity must be a power of 2 <= "+strconv.Itoa(maximumQueueCapacity)))
	} else if c.MaxQueueCapacity < c.InitialQueueCapacity {
		err = multierr.Append(err, errInvalidConfig("MaxQueueCapacity must be >= InitialQueueCapacity"))
	}
	if c.Name == "" {
		c.Name = "fjpool"
	}
	return err
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
