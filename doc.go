// Package fjpool provides an elastic work-stealing pool for fork/join
// parallelism in Go.
//
// A Pool keeps a target number of workers active. Each worker owns a
// double-ended queue: tasks it forks are pushed and popped at one end
// while idle workers steal from the other. Tasks submitted from outside
// the pool go to shared submission queues that every worker scans.
//
// # Key Features
//
//   - Lock-free work-stealing queues, with LIFO or FIFO local processing
//   - Workers started on demand and retired after an idle timeout
//   - Joins that help run the work they wait for instead of idling
//   - Spare workers started for joins and managed blocks that must block
//   - Completers for trees of tasks completed by their children
//   - Graceful and immediate shutdown with cooperative cancellation
//   - Prometheus metrics and structured logging through logr
//
// # Quick Start
//
//	pool, err := fjpool.NewPool(fjpool.WithParallelism(8))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer pool.Shutdown()
//
//	f, err := fjpool.Go(pool, func(w *fjpool.Worker) (int, error) {
//	    return fib(w, 30), nil
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	n, err := f.Get(ctx)
//
// # Fork and Join
//
// Task bodies receive the Worker they run on. Forking pushes a subtask onto
// that worker's queue; joining either runs the subtask directly, if no
// other worker has stolen it, or helps the thief:
//
//	func fib(w *fjpool.Worker, n int) int {
//	    if n < 2 {
//	        return n
//	    }
//	    f1 := fjpool.NewFuture(func(w *fjpool.Worker) (int, error) {
//	        return fib(w, n-1), nil
//	    }).Fork(w)
//	    f2 := fib(w, n-2)
//	    v1, _ := f1.Join(w)
//	    return v1 + f2
//	}
//
// # Blocking
//
// Tasks that must block on something other than another task should do so
// through ManagedBlock or BlockOn, which let the pool start a spare worker
// meanwhile. The number of workers is capped by MaxWorkers; a join that
// would need more fails with ErrCompensationLimit unless the Saturate
// option allows it to block anyway.
//
// # Shutdown
//
// Shutdown rejects new submissions and lets queued work finish.
// ShutdownNow also cancels tasks that have not started and wakes blocked
// joins. AwaitTermination waits for every worker to exit.
package fjpool
