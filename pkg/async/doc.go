// Package async provides safe background execution for tasks that must
// outlive the request that triggered them.
//
// SafeGo runs a function in a goroutine with panic recovery and a timeout:
//
//	async.SafeGo(context.Background(), 30*time.Second, "webhook retry", func(ctx context.Context) error {
//		return process(ctx)
//	})
//
// Tracker does the same and lets shutdown wait for in-flight work:
//
//	var tasks async.Tracker
//	tasks.Go(ctx, timeout, "webhook retry", fn)
//	tasks.Wait(shutdownCtx)
//
// Errors and panics are logged through the logger installed with SetLogger.
package async
