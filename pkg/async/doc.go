// Package async provides safe concurrent execution primitives for background tasks.
//
// # Overview
//
// This package handles goroutine lifecycle management with panic recovery, timeout
// enforcement, context cancellation, and error collection. Panics and task
// errors are reported through observability.Logger.
//
// # Key Functions
//
// SafeGo: Execute function in goroutine with safety features
//
//	async.SafeGo(ctx, logger, 10*time.Minute, "scheduled reindex", func(ctx context.Context) error {
//		_, err := reindexer.Run(ctx, opts)
//		return err
//	})
//
// WorkerPool: Managed pool of concurrent workers
//
//	pool := async.NewWorkerPool(ctx, logger, 4, "index rebuild", 30*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//		return indexer.IndexSearchable(ctx, entity)
//	})
//
// Batch: Concurrent batch processing
//
//	errs := async.Batch(ctx, logger, items, 4, "reindex projects", 0, func(ctx context.Context, item Item) error {
//		return processItem(ctx, item)
//	})
//
// # Related Packages
//
//   - pkg/search: Reindexer fans records out through Batch
//   - cmd/ppdo-search: scheduled reindex runs under SafeGo
package async
