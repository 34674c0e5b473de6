// Command fjpool drives a fork/join workload through a pool and prints the
// pool's counters when it finishes. It optionally serves Prometheus metrics
// while the workload runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/tahsin716/fjpool"
	"github.com/tahsin716/fjpool/internal/logging"
)

func main() {
	opts := newOptions()
	fs := pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	opts.addFlags(fs)
	_ = fs.Parse(os.Args[1:])

	logger, err := logging.NewLogger(opts.verbosity, opts.development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger, opts, fs); err != nil {
		logger.Error(err, "Run failed")
		os.Exit(1)
	}
}

func run(ctx context.Context, logger logr.Logger, opts *options, fs *pflag.FlagSet) error {
	poolOpts, err := opts.poolOptions(fs)
	if err != nil {
		return err
	}
	poolOpts = append(poolOpts, fjpool.WithLogger(logger))

	p, err := fjpool.NewPool(poolOpts...)
	if err != nil {
		return err
	}
	logger.Info("Pool created", "pool", p.String())

	reg := prometheus.NewRegistry()
	if err := reg.Register(fjpool.NewCollector(p)); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	done := make(chan struct{})

	if opts.metricsAddr != "" {
		srv := &http.Server{
			Addr:              opts.metricsAddr,
			Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		g.Go(func() error {
			logger.Info("Serving metrics", "addr", opts.metricsAddr)
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			select {
			case <-gctx.Done():
			case <-done:
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	start := time.Now()
	g.Go(func() error {
		defer close(done)
		return runWorkload(gctx, logger, p, opts)
	})
	err = g.Wait()
	elapsed := time.Since(start)

	p.Shutdown()
	if !p.AwaitTermination(opts.shutdownTimeout) {
		logger.Info("Pool did not terminate in time, cancelling remaining tasks")
		p.ShutdownNow()
		p.AwaitTermination(opts.shutdownTimeout)
	}

	fmt.Println(renderStats(p.Stats(), elapsed))
	return err
}

// runWorkload submits opts.rounds sort jobs from opts.submitters goroutines
// and checks every result.
func runWorkload(ctx context.Context, logger logr.Logger, p *fjpool.Pool, opts *options) error {
	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	g.Go(func() error {
		defer close(jobs)
		for i := 0; i < opts.rounds; i++ {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for s := 0; s < opts.submitters; s++ {
		g.Go(func() error {
			for round := range jobs {
				data := randomSlice(opts.size, uint64(round))
				job := fjpool.NewAction(func(w *fjpool.Worker) error {
					return mergeSort(w, data, make([]int64, len(data)), opts.threshold)
				})
				if err := p.Invoke(gctx, job); err != nil {
					return fmt.Errorf("round %d: %w", round, err)
				}
				if !isSorted(data) {
					return fmt.Errorf("round %d: result not sorted", round)
				}
				logger.V(logging.DEBUG).Info("Round finished", "round", round, "size", len(data))
			}
			return nil
		})
	}
	return g.Wait()
}

// mergeSort sorts data using buf as scratch space, forking the left half
// while the slice is larger than threshold.
func mergeSort(w *fjpool.Worker, data, buf []int64, threshold int) error {
	if len(data) <= threshold {
		insertionSort(data)
		return nil
	}
	mid := len(data) / 2
	left := fjpool.NewAction(func(w *fjpool.Worker) error {
		return mergeSort(w, data[:mid], buf[:mid], threshold)
	}).Fork(w)
	rightErr := mergeSort(w, data[mid:], buf[mid:], threshold)
	if _, err := left.Join(w); err != nil {
		return err
	}
	if rightErr != nil {
		return rightErr
	}
	merge(data, buf, mid)
	return nil
}

func merge(data, buf []int64, mid int) {
	copy(buf, data)
	i, j, k := 0, mid, 0
	for i < mid && j < len(buf) {
		if buf[i] <= buf[j] {
			data[k] = buf[i]
			i++
		} else {
			data[k] = buf[j]
			j++
		}
		k++
	}
	k += copy(data[k:], buf[i:mid])
	copy(data[k:], buf[j:])
}

func insertionSort(data []int64) {
	for i := 1; i < len(data); i++ {
		for j := i; j > 0 && data[j] < data[j-1]; j-- {
			data[j], data[j-1] = data[j-1], data[j]
		}
	}
}

func isSorted(data []int64) bool {
	for i := 1; i < len(data); i++ {
		if data[i] < data[i-1] {
			return false
		}
	}
	return true
}

func randomSlice(n int, seed uint64) []int64 {
	r := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	data := make([]int64, n)
	for i := range data {
		data[i] = r.Int64()
	}
	return data
}
