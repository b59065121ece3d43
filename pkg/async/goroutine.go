package async

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/platinummonkey/gatehouse/pkg/observability"
)

// PanicError is reported by a task that panicked
type PanicError struct {
	Task  string
	Value interface{}
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Task, e.Value)
}

// Task is a handle on a goroutine started by Go
type Task struct {
	name string
	done chan struct{}
	err  error
}

// Name returns the task name
func (t *Task) Name() string {
	return t.name
}

// Done is closed when the task has returned
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Err returns the task's result. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	return t.err
}

// Go runs fn in a goroutine. Errors other than context cancellation are
// logged; panics are recovered and reported as *PanicError.
func Go(ctx context.Context, logger *observability.Logger, name string, fn func(context.Context) error) *Task {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	t := &Task{name: name, done: make(chan struct{})}

	go func() {
		defer close(t.done)
		t.err = run(ctx, logger, name, fn)
		if t.err != nil && !errors.Is(t.err, context.Canceled) {
			logger.WithError(t.err).WithField("task", name).Error("Background task failed")
		}
	}()

	return t
}

// Every runs fn each interval until ctx is cancelled. A panicking tick is
// logged and does not stop the loop.
func Every(ctx context.Context, logger *observability.Logger, name string, interval time.Duration, fn func(context.Context)) *Task {
	return Go(ctx, logger, name, func(ctx context.Context) error {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				err := run(ctx, logger, name, func(ctx context.Context) error {
					fn(ctx)
					return nil
				})
				if err != nil {
					logger.WithError(err).WithField("task", name).Error("Periodic task failed")
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
}

func run(ctx context.Context, logger *observability.Logger, name string, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			stack := debug.Stack()
			logger.WithFields(map[string]interface{}{
				"task":  name,
				"panic": fmt.Sprint(r),
				"stack": string(stack),
			}).Error("Recovered from panic in background task")
			err = &PanicError{Task: name, Value: r, Stack: stack}
		}
	}()
	return fn(ctx)
}
