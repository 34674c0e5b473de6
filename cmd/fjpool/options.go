package main

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/tahsin716/fjpool"
	"github.com/tahsin716/fjpool/internal/logging"
)

// options holds the command-line configuration.
type options struct {
	configFile      string
	parallelism     int
	asyncMode       bool
	maxWorkers      int
	idleTimeout     time.Duration
	cpus            []int
	name            string
	verbosity       int
	development     bool
	metricsAddr     string
	rounds          int
	submitters      int
	size            int
	threshold       int
	shutdownTimeout time.Duration
}

func newOptions() *options {
	return &options{
		verbosity:       logging.DEFAULT,
		rounds:          32,
		submitters:      2,
		size:            1 << 20,
		threshold:       2048,
		shutdownTimeout: 10 * time.Second,
	}
}

func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&o.configFile, "config", "c", o.configFile, "Path to a YAML pool configuration file.")
	fs.IntVarP(&o.parallelism, "parallelism", "p", o.parallelism, "Target number of active workers. Defaults to GOMAXPROCS.")
	fs.BoolVar(&o.asyncMode, "async", o.asyncMode, "Run forked tasks in FIFO order.")
	fs.IntVar(&o.maxWorkers, "max-workers", o.maxWorkers, "Upper bound on workers including compensation spares.")
	fs.DurationVar(&o.idleTimeout, "idle-timeout", o.idleTimeout, "How long a surplus idle worker waits before exiting.")
	fs.IntSliceVar(&o.cpus, "cpus", o.cpus, "Pin worker threads to these CPUs (Linux only).")
	fs.StringVar(&o.name, "name", o.name, "Pool name used in logs, worker names and metric labels.")
	fs.IntVarP(&o.verbosity, "verbosity", "v", o.verbosity, "Log verbosity.")
	fs.BoolVar(&o.development, "dev", o.development, "Use the human readable log encoder.")
	fs.StringVar(&o.metricsAddr, "metrics-addr", o.metricsAddr, "Serve Prometheus metrics on this address while running.")
	fs.IntVar(&o.rounds, "rounds", o.rounds, "Number of sort jobs to run.")
	fs.IntVar(&o.submitters, "submitters", o.submitters, "Number of goroutines submitting jobs.")
	fs.IntVar(&o.size, "size", o.size, "Elements per sort job.")
	fs.IntVar(&o.threshold, "threshold", o.threshold, "Slice length below which a job sorts sequentially.")
	fs.DurationVar(&o.shutdownTimeout, "shutdown-timeout", o.shutdownTimeout, "How long to wait for the pool to terminate.")
}

func (o *options) validate() error {
	if o.rounds < 0 {
		return fmt.Errorf("--rounds must be non-negative, got %d", o.rounds)
	}
	if o.submitters < 1 {
		return fmt.Errorf("--submitters must be at least 1, got %d", o.submitters)
	}
	if o.size < 0 {
		return fmt.Errorf("--size must be non-negative, got %d", o.size)
	}
	if o.threshold < 1 {
		return fmt.Errorf("--threshold must be at least 1, got %d", o.threshold)
	}
	return nil
}

// poolOptions returns the pool options from the config file, if any,
// followed by those for flags set explicitly on fs, so flags win.
func (o *options) poolOptions(fs *pflag.FlagSet) ([]fjpool.Option, error) {
	if err := o.validate(); err != nil {
		return nil, err
	}

	var opts []fjpool.Option
	if o.configFile != "" {
		fc, err := fjpool.LoadConfig(o.configFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, fc.Options()...)
	}

	if fs.Changed("parallelism") {
		opts = append(opts, fjpool.WithParallelism(o.parallelism))
	}
	if fs.Changed("async") {
		opts = append(opts, fjpool.WithAsyncMode(o.asyncMode))
	}
	if fs.Changed("max-workers") {
		opts = append(opts, fjpool.WithMaxWorkers(o.maxWorkers))
	}
	if fs.Changed("idle-timeout") {
		opts = append(opts, fjpool.WithIdleTimeout(o.idleTimeout))
	}
	if fs.Changed("cpus") {
		opts = append(opts, fjpool.WithWorkerFactory(fjpool.AffinityFactory(o.cpus...)))
	}
	if fs.Changed("name") {
		opts = append(opts, fjpool.WithName(o.name))
	}
	return opts, nil
}
