// Package async runs the gateway's background goroutines with panic
// recovery and structured logging.
//
// # Tasks
//
// Go starts a long-lived task (the HTTP listener, the catalog file watcher)
// and returns a handle that reports when it ended and why:
//
//	task := async.Go(ctx, logger, "catalog-watcher", watcher.Run)
//	<-task.Done()
//	err := task.Err()
//
// A panic inside the task is recovered, logged with its stack and reported
// as a *PanicError.
//
// # Periodic work
//
// Every runs fn on a ticker until ctx is cancelled. A panicking tick is
// logged and the loop keeps going:
//
//	async.Every(ctx, logger, "local-limiter-cleanup", window, func(context.Context) {
//		limiter.Cleanup()
//	})
package async
