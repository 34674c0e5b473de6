package fjpool

import (
	"fmt"
	"runtime/debug"
)

// Common errors returned by the pool and its tasks.
var (
	// ErrPoolShutdown is returned when submitting to a pool that has begun
	// shutting down. Workers and tasks already forked keep running.
	//
	// Example:
	//  pool.Shutdown()
	//  err := pool.Submit(task)
	//  if errors.Is(err, fjpool.ErrPoolShutdown) {
	//      log.Println("Cannot submit: pool is shutdown")
	//  }
	ErrPoolShutdown = &PoolError{msg: "pool is shutdown"}

	// ErrQueueCapacity is returned, or raised as a panic from Fork, when a
	// queue would need to grow beyond its maximum capacity.
	ErrQueueCapacity = &PoolError{msg: "queue capacity exceeded"}

	// ErrCompensationLimit is returned from a blocking join when every
	// worker is blocked and no further worker may be started.
	ErrCompensationLimit = &PoolError{msg: "compensation limit reached"}

	// ErrWorkerCreation wraps an error returned by a WorkerFactory.
	ErrWorkerCreation = &PoolError{msg: "worker creation failed"}

	// ErrCancelled is reported by a task that was cancelled before it
	// completed.
	ErrCancelled = &PoolError{msg: "task cancelled"}

	// ErrTimeout is returned when a timed join elapses before the task
	// completes.
	ErrTimeout = &PoolError{msg: "operation timed out"}

	// ErrNilTask is returned when submitting a nil task or function.
	ErrNilTask = &PoolError{msg: "task is nil"}
)

// PoolError represents an error that occurred within the pool.
// It wraps underlying errors and provides context about pool operations.
type PoolError struct {
	msg string // Human-readable error message
	err error  // Underlying error (if any)
}

// Error returns a formatted error message.
// If an underlying error exists, it is included in the output.
func (e *PoolError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("fjpool: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("fjpool: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *PoolError) Unwrap() error {
	return e.err
}

// Is reports whether target is the sentinel this error was derived from,
// so that wrapped sentinels still match with errors.Is.
func (e *PoolError) Is(target error) bool {
	t, ok := target.(*PoolError)
	return ok && t.err == nil && t.msg == e.msg
}

// errInvalidConfig creates an error for invalid pool configuration.
func errInvalidConfig(msg string) error {
	return &PoolError{msg: "invalid config: " + msg}
}

// errWorkerCreation wraps a factory failure.
func errWorkerCreation(err error) error {
	return &PoolError{msg: ErrWorkerCreation.msg, err: err}
}

// PanicError is the failure recorded for a task whose body panicked.
type PanicError struct {
	Value interface{}
	Stack []byte
}

func newPanicError(v interface{}) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fjpool: task panicked: %v", e.Value)
}

// Unwrap returns the panic value when it is itself an error.
func (e *PanicError) Unwrap() error {
	if err, ok := e.Value.(error); ok {
		return err
	}
	return nil
}
