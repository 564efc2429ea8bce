// Package audit records a risk-scored trail of security-relevant actions.
//
// Callers hand events to a Recorder and move on. The Dispatcher queues them
// and writes them to a Sink on its own goroutine; a full queue or a failing
// sink never reaches the caller.
//
//	store := audit.NewDBStore(db)
//	rec := audit.NewDispatcher(store, audit.DispatcherConfig{BufferSize: 1024}, logger, metrics)
//	defer rec.Close(ctx)
//
//	rec.Record(ctx, audit.NewEvent(audit.ActionLoginFailed, audit.RiskMedium).
//		WithMeta(meta).
//		Failed(err))
//
// Events are never updated. Retention deletes low and medium risk rows older
// than the horizon and keeps high and critical rows forever.
package audit
