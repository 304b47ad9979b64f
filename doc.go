// Package pivotgo provides a resumable continuous-aggregation indexing engine for Go.
//
// Pivotgo repeatedly pulls bucketed aggregation results out of a source store,
// pivots them into documents, and writes those documents into a target store —
// checkpointing its position so that restarts, stops, and failures resume
// exactly where the last durable checkpoint left off.
//
// # Quick Start
//
//	ctx := context.Background()
//
//	def := &pivot.Definition{
//	    GroupBy: []pivot.GroupBy{{Name: "customer", Type: pivot.GroupTerms, Field: "customer_id"}},
//	    Aggs:    []pivot.Agg{{Name: "total", Type: pivot.AggSum, Field: "amount"}},
//	}
//	tr, _ := pivot.NewTransformer(def)
//
//	store, _ := checkpoint.NewFileStore("./state")
//
//	idx, _ := pivotgo.New(ctx, source, sink, tr, store,
//	    pivotgo.WithName("orders-by-customer"),
//	    pivotgo.WithInitialPageSize(500),
//	)
//	defer idx.Close()
//
//	idx.Start(ctx)
//	idx.TriggerCycle(ctx, time.Now()) // returns immediately; cycle runs async
//
// # Lifecycle
//
// An Indexer is a small state machine: Stopped -> Started -> Indexing and back.
// TriggerCycle launches at most one cycle; concurrent triggers are no-ops
// while a cycle is in flight. Stop halts cooperatively at the next phase
// boundary after persisting a checkpoint; Abort halts immediately and
// discards uncommitted work so the next run redoes it from the last durable
// checkpoint.
//
// # Backends
//
// The engine only sees three seams: Source (paged aggregation reads), Sink
// (bulk writes with per-item outcomes), and checkpoint.Store (durable resume
// state). Implementations ship in subpackages:
//
//   - elastic: Elasticsearch composite aggregations + _bulk
//   - memsearch: embedded in-memory backend for tests and small datasets
//   - checkpoint: file, blob (S3/MinIO via blobstore), redis, dynamo stores
//
// # Adaptive Paging
//
// Backends report memory pressure by wrapping ErrResourcePressure; the engine
// reacts by halving its page size (floor MinPageSize) and retrying the same
// position. Transient failures are retried with bounded backoff. Everything
// else fails the run loudly through the Listener hooks — never silently.
//
// # Scheduling
//
// Continuous operation is external: drive TriggerCycle from the scheduler
// package (interval ticker or cron spec), or call it yourself.
package pivotgo
