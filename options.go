package fjpool

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

// Option configures a Pool.
type Option func(*Config)

// WithParallelism sets the target number of active workers.
func WithParallelism(n int) Option {
	return func(c *Config) {
		c.Parallelism = n
	}
}

// WithAsyncMode selects FIFO processing of locally forked tasks.
func WithAsyncMode(async bool) Option {
	return func(c *Config) {
		c.AsyncMode = async
	}
}

// WithWorkerFactory sets the factory used to create workers.
func WithWorkerFactory(f WorkerFactory) Option {
	return func(c *Config) {
		c.Factory = f
	}
}

// WithPanicHandler sets the handler for worker goroutine failures.
func WithPanicHandler(h func(interface{})) Option {
	return func(c *Config) {
		c.PanicHandler = h
	}
}

// WithMaxWorkers caps the total number of workers.
func WithMaxWorkers(n int) Option {
	return func(c *Config) {
		c.MaxWorkers = n
	}
}

// WithSaturate sets the predicate consulted when the worker cap is hit.
func WithSaturate(fn func(p *Pool) bool) Option {
	return func(c *Config) {
		c.Saturate = fn
	}
}

// WithIdleTimeout sets how long the last idle worker lingers.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.IdleTimeout = d
	}
}

// WithQueueCapacity sets the initial and maximum queue array sizes.
func WithQueueCapacity(initial, limit int) Option {
	return func(c *Config) {
		c.InitialQueueCapacity = initial
		c.MaxQueueCapacity = limit
	}
}

// WithName sets the pool name.
func WithName(name string) Option {
	return func(c *Config) {
		c.Name = name
	}
}

// WithLogger sets the pool logger.
func WithLogger(l logr.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithOnWorkerStart sets the worker start hook.
func WithOnWorkerStart(fn func(w *Worker)) Option {
	return func(c *Config) {
		c.OnWorkerStart = fn
	}
}

// WithOnWorkerStop sets the worker stop hook.
func WithOnWorkerStop(fn func(w *Worker, err error)) Option {
	return func(c *Config) {
		c.OnWorkerStop = fn
	}
}

// FileConfig is the on-disk form of a pool configuration. Zero fields
// keep their defaults.
type FileConfig struct {
	Name                 string        `yaml:"name"`
	Parallelism          int           `yaml:"parallelism"`
	AsyncMode            bool          `yaml:"asyncMode"`
	MaxWorkers           int           `yaml:"maxWorkers"`
	IdleTimeout          time.Duration `yaml:"idleTimeout"`
	InitialQueueCapacity int           `yaml:"initialQueueCapacity"`
	MaxQueueCapacity     int           `yaml:"maxQueueCapacity"`
	CPUs                 []int         `yaml:"cpus"`
}

// ParseConfig decodes a YAML pool configuration. Unknown keys are errors.
func ParseConfig(data []byte) (*FileConfig, error) {
	fc := &FileConfig{}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil {
		return nil, errInvalidConfig(fmt.Sprintf("parse: %v", err))
	}
	return fc, nil
}

// LoadConfig reads and decodes a YAML pool configuration file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pool config: %w", err)
	}
	return ParseConfig(data)
}

// Options converts fc to pool options.
func (fc *FileConfig) Options() []Option {
	var opts []Option
	if fc.Name != "" {
		opts = append(opts, WithName(fc.Name))
	}
	if fc.Parallelism != 0 {
		opts = append(opts, WithParallelism(fc.Parallelism))
	}
	if fc.AsyncMode {
		opts = append(opts, WithAsyncMode(true))
	}
	if fc.MaxWorkers != 0 {
		opts = append(opts, WithMaxWorkers(fc.MaxWorkers))
	}
	if fc.IdleTimeout != 0 {
		opts = append(opts, WithIdleTimeout(fc.IdleTimeout))
	}
	if fc.InitialQueueCapacity != 0 || fc.MaxQueueCapacity != 0 {
		initial, limit := fc.InitialQueueCapacity, fc.MaxQueueCapacity
		if initial == 0 {
			initial = initialQueueCapacity
		}
		if limit == 0 {
			limit = maximumQueueCapacity
		}
		opts = append(opts, WithQueueCapacity(initial, limit))
	}
	if len(fc.CPUs) > 0 {
		opts = append(opts, WithWorkerFactory(AffinityFactory(fc.CPUs...)))
	}
	return opts
}
