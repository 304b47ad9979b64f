package pivotgo

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go"
	"github.com/hupe1980/pivotgo/checkpoint"
	"github.com/hupe1980/pivotgo/model"
	"github.com/hupe1980/pivotgo/resource"
)

// Indexer is a resumable aggregation pipeline: it repeatedly pulls one page
// of bucketed results from a Source, transforms it into a write batch, and
// applies the batch to a Sink, checkpointing its position so a restart
// resumes exactly where the previous run stopped.
//
// At most one cycle is ever in flight per Indexer. The guarantee is enforced
// by a compare-and-set on the state value, not by a lock around the pipeline,
// so Stop and Abort issued concurrently with a running cycle are accepted
// promptly instead of queueing behind it.
type Indexer struct {
	source      Source
	sink        Sink
	transformer Transformer
	coord       *checkpoint.Coordinator

	state atomicState
	pos   atomic.Pointer[model.Position]
	pager *pageSizer
	stats *Stats

	logger     *Logger
	metrics    MetricsCollector
	auditor    Auditor
	listener   Listener
	executor   Executor
	controller *resource.Controller

	maxRetries uint
	retryDelay time.Duration
	nowFn      func() time.Time
	runIDFn    func() string

	abortReason atomic.Pointer[string]
	ownPool     *WorkerPool
	closed      atomic.Bool
}

// New creates an Indexer over the given backends and primes it from the last
// durable checkpoint in store, restoring position, counters, and the adapted
// page size. The indexer starts in StateStopped.
func New(ctx context.Context, source Source, sink Sink, tr Transformer, store checkpoint.Store, optFns ...Option) (*Indexer, error) {
	if source == nil {
		return nil, fmt.Errorf("source must not be nil")
	}
	if sink == nil {
		return nil, fmt.Errorf("sink must not be nil")
	}
	if tr == nil {
		return nil, fmt.Errorf("transformer must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("checkpoint store must not be nil")
	}

	o := applyOptions(optFns)

	logger := o.logger
	if o.name != "" {
		logger = logger.WithIndexer(o.name)
	}

	i := &Indexer{
		source:      source,
		sink:        sink,
		transformer: tr,
		coord:       checkpoint.NewCoordinator(store),
		pager:       newPageSizer(o.initialPageSize),
		stats:       &Stats{},
		logger:      logger,
		metrics:     o.metrics,
		auditor:     o.auditor,
		listener:    o.listener,
		executor:    o.executor,
		controller:  o.controller,
		maxRetries:  o.maxRetries,
		retryDelay:  o.retryDelay,
		nowFn:       o.nowFn,
		runIDFn:     o.runIDFn,
	}

	cp, err := i.coord.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	if cp != nil {
		i.pos.Store(cp.Position)
		i.stats.restore(cp.Stats)
		if cp.PageSize > 0 {
			i.pager.Restore(cp.PageSize)
		}
		logger.InfoContext(ctx, "resuming from checkpoint",
			"seq", cp.Seq,
			"position", cp.Position.String(),
			"page_size", i.pager.Current(),
		)
	}

	if i.executor == nil {
		i.ownPool = NewWorkerPool(1)
		i.executor = i.ownPool
	}

	i.metrics.RecordPageSize(i.pager.Current())

	return i, nil
}

// State returns the current lifecycle state.
func (i *Indexer) State() State { return i.state.Load() }

// PageSize returns the page size the next search will use.
func (i *Indexer) PageSize() int { return i.pager.Current() }

// Position returns the last committed resume position.
func (i *Indexer) Position() *model.Position { return i.pos.Load().Clone() }

// LastCheckpoint returns the last durable checkpoint, or nil if none exists.
func (i *Indexer) LastCheckpoint() *checkpoint.Checkpoint { return i.coord.Last() }

// Stats returns a snapshot of the indexer counters, with percent complete
// derived from the current position's progress.
func (i *Indexer) Stats() model.StatsSnapshot {
	snap := i.stats.Snapshot()
	if pos := i.pos.Load(); pos != nil {
		snap.PercentComplete = pos.Progress.Percent()
	}
	return snap
}

// Start moves the indexer from StateStopped to StateStarted. No I/O is
// performed; the indexer merely begins accepting triggers.
func (i *Indexer) Start(ctx context.Context) error {
	if !i.state.CompareAndSwap(StateStopped, StateStarted) {
		return &ErrInvalidTransition{Op: "start", State: i.state.Load()}
	}
	i.logger.LogStateChange(ctx, StateStopped, StateStarted)
	return nil
}

// TriggerCycle attempts to launch one processing cycle and reports whether a
// cycle was actually started. It returns immediately; the cycle itself runs
// on the executor.
//
// A cycle is not started when the indexer is not in StateStarted, when the
// source reports no changes since the last checkpoint, when no run slot is
// available on the resource controller, or when another trigger won the race.
func (i *Indexer) TriggerCycle(ctx context.Context, now time.Time) bool {
	launched := false
	defer func() { i.metrics.RecordTrigger(launched) }()

	if i.state.Load() != StateStarted {
		return false
	}

	if cd, ok := i.source.(ChangeDetector); ok {
		var seq uint64
		if last := i.coord.Last(); last != nil {
			seq = last.Seq
		}
		changed, err := cd.HasChanged(ctx, seq)
		if err != nil {
			i.logger.WarnContext(ctx, "change detection failed, assuming changes",
				"error", err,
			)
		} else if !changed {
			i.logger.DebugContext(ctx, "source unchanged, skipping cycle")
			return false
		}
	}

	release := func() {}
	if i.controller != nil {
		if !i.controller.TryAcquireRun() {
			i.logger.DebugContext(ctx, "no run slot available, skipping cycle")
			return false
		}
		release = i.controller.ReleaseRun
	}

	if !i.state.CompareAndSwap(StateStarted, StateIndexing) {
		release()
		return false
	}
	i.logger.LogStateChange(ctx, StateStarted, StateIndexing)
	i.stats.incTriggers()

	// The cycle outlives the trigger call; detach it from the caller's
	// cancellation while keeping its values.
	runCtx := context.WithoutCancel(ctx)
	if err := i.executor.Submit(ctx, func() { i.run(runCtx, now, release) }); err != nil {
		release()
		i.logger.ErrorContext(ctx, "cycle not accepted by executor", "error", err)
		if !i.state.CompareAndSwap(StateIndexing, StateStarted) {
			// A stop or abort raced the failed submit; no cycle is in
			// flight, so settle the state here.
			prev := i.state.Swap(StateStopped)
			switch prev {
			case StateAborting:
				i.coord.Discard()
				i.listener.OnAbort(runCtx, i.takeAbortReason())
			case StateStopping:
				i.listener.OnStop(runCtx)
			}
		}
		return false
	}

	launched = true
	return true
}

// Stop halts the indexer cleanly. From StateStarted it stops immediately;
// from StateIndexing the in-flight cycle finishes its current phase, persists
// a checkpoint, and then stops. Stop never discards completed work.
//
// Stop does not wait for an in-flight cycle; observe State for completion.
func (i *Indexer) Stop(ctx context.Context) error {
	for {
		switch s := i.state.Load(); s {
		case StateStarted:
			if i.state.CompareAndSwap(StateStarted, StateStopped) {
				i.logger.LogStateChange(ctx, StateStarted, StateStopped)
				_, err := i.saveCheckpoint(ctx)
				i.listener.OnStop(ctx)
				return err
			}
		case StateIndexing:
			if i.state.CompareAndSwap(StateIndexing, StateStopping) {
				i.logger.LogStateChange(ctx, StateIndexing, StateStopping)
				return nil
			}
		case StateStopping, StateStopped, StateAborting:
			return nil
		}
	}
}

// Abort forces the indexer down from any state, discarding all uncommitted
// in-cycle work. No checkpoint is written for the aborted cycle, so a later
// restart resumes from the checkpoint that existed before the cycle began.
func (i *Indexer) Abort(reason string) {
	i.abortReason.Store(&reason)

	prev := i.state.Swap(StateAborting)
	switch prev {
	case StateAborting:
		// Already aborting; first abort wins.
	case StateIndexing, StateStopping:
		// The in-flight cycle observes StateAborting at its next phase
		// boundary, discards, and completes the transition.
	default:
		i.coord.Discard()
		i.state.Store(StateStopped)
		i.listener.OnAbort(context.Background(), i.takeAbortReason())
	}
}

// Close releases resources owned by the indexer. If the indexer created its
// own worker pool, Close waits for an in-flight cycle to drain. Executors
// supplied via WithExecutor are left untouched.
func (i *Indexer) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	if i.ownPool != nil {
		i.ownPool.Close()
	}
	return nil
}

func (i *Indexer) takeAbortReason() string {
	if r := i.abortReason.Swap(nil); r != nil {
		return *r
	}
	return "aborted"
}

// saveCheckpoint stages and persists a checkpoint from the current committed
// position, counters, and page size.
func (i *Indexer) saveCheckpoint(ctx context.Context) (*checkpoint.Checkpoint, error) {
	staged := i.coord.Stage(i.pos.Load(), i.stats.Snapshot(), i.pager.Current(), i.nowFn())

	start := time.Now()
	committed, err := i.coord.Commit(ctx)
	i.metrics.RecordCheckpoint(time.Since(start), err)
	i.logger.LogCheckpoint(ctx, staged.Seq, err)
	if err != nil {
		return nil, &ErrCheckpointSave{Seq: staged.Seq, cause: err}
	}
	return committed, nil
}

// run executes one full cycle on the executor goroutine.
func (i *Indexer) run(ctx context.Context, triggeredAt time.Time, release func()) {
	log := i.logger.WithRun(i.runIDFn())

	start := time.Now()
	var runErr error
	defer func() {
		release()
		i.metrics.RecordRun(time.Since(start), runErr)
	}()

	log.InfoContext(ctx, "run started",
		"triggered_at", triggeredAt,
		"position", i.pos.Load().String(),
		"page_size", i.pager.Current(),
	)

	runErr = i.cycle(ctx, log)
}

// cycle drives Search -> Transform -> Write in a loop until the source is
// exhausted, a stop or abort is observed at a phase boundary, or an
// unrecoverable failure ends the run.
func (i *Indexer) cycle(ctx context.Context, log *Logger) error {
	pos := i.pos.Load()

	for {
		if halted, err := i.handleBoundary(ctx, log); halted {
			return err
		}

		// Search phase.
		pageSize := i.pager.Current()
		searchStart := time.Now()
		resp, err := i.doSearch(ctx, pos, pageSize)
		searchTook := time.Since(searchStart)
		i.stats.recordSearch(searchTook, err)

		buckets := 0
		if resp != nil && resp.Aggregations != nil {
			buckets = len(resp.Aggregations.Buckets)
		}
		i.metrics.RecordSearch(buckets, searchTook, err)
		log.LogSearch(ctx, pageSize, buckets, searchTook, err)

		if err != nil {
			switch ClassifyFailure(err) {
			case FailureResourcePressure:
				if !i.shrinkPage(ctx, log) {
					ferr := fmt.Errorf("%w: %w", ErrPageSizeFloor, err)
					i.fail(ctx, log, ferr)
					return ferr
				}
				continue // same position, smaller page
			case FailureDataShape:
				i.auditor.Warning(ctx, "search returned an unexpected data shape; treating as end of data")
				return i.finishRun(ctx, log)
			default:
				i.fail(ctx, log, err)
				return err
			}
		}

		if resp == nil || resp.Aggregations == nil {
			i.auditor.Warning(ctx, "search response without aggregations; treating as end of data")
			return i.finishRun(ctx, log)
		}
		if buckets == 0 {
			return i.finishRun(ctx, log)
		}

		// Transform phase. Pure computation; failures are fatal.
		tr, err := i.transformer.Transform(ctx, resp, pos)
		if err != nil {
			i.fail(ctx, log, err)
			return err
		}
		if tr.Next == nil {
			err := fmt.Errorf("transformer returned no next position for a non-final page")
			i.fail(ctx, log, err)
			return err
		}

		delta := statsDelta{pages: 1, docsRead: sumDocCounts(resp)}

		// Write phase.
		if len(tr.Ops) > 0 {
			if halted, err := i.handleBoundary(ctx, log); halted {
				return err
			}

			writeStart := time.Now()
			wres, werr := i.doWrite(ctx, tr.Ops)
			writeTook := time.Since(writeStart)
			i.stats.recordWrite(writeTook, werr)

			failed := 0
			if wres != nil {
				for _, item := range wres.Items {
					if item.Failed() {
						failed++
					}
				}
			}
			i.metrics.RecordWrite(len(tr.Ops), failed, writeTook, werr)
			log.LogWrite(ctx, len(tr.Ops), failed, writeTook, werr)

			if werr != nil {
				if ClassifyFailure(werr) == FailureResourcePressure {
					if !i.shrinkPage(ctx, log) {
						ferr := fmt.Errorf("%w: %w", ErrPageSizeFloor, werr)
						i.fail(ctx, log, ferr)
						return ferr
					}
					continue // redo the page from the same position
				}
				i.fail(ctx, log, werr)
				return werr
			}

			delta.applyWriteResult(wres)
		}

		// The page is fully accounted: fold counters, advance the position,
		// and refresh the in-progress checkpoint. Only now may the next
		// search start.
		next := tr.Next.Clone()
		next.Progress = advanceProgress(pos, resp)
		i.stats.commit(delta)
		i.pos.Store(next)
		i.coord.Stage(next, i.stats.Snapshot(), i.pager.Current(), i.nowFn())
		pos = next
	}
}

// handleBoundary checks for a requested stop or abort at a phase boundary.
// It returns true when the run must end.
func (i *Indexer) handleBoundary(ctx context.Context, log *Logger) (bool, error) {
	switch i.state.Load() {
	case StateStopping:
		return true, i.finishStop(ctx, log)
	case StateAborting:
		i.finishAbort(ctx, log)
		return true, nil
	default:
		return false, nil
	}
}

// finishRun completes a cycle that exhausted its source: persist the final
// checkpoint, return to StateStarted, and notify the listener.
func (i *Indexer) finishRun(ctx context.Context, log *Logger) error {
	if _, err := i.saveCheckpoint(ctx); err != nil {
		i.fail(ctx, log, err)
		return err
	}

	pages := i.stats.Snapshot().Pages
	if i.state.CompareAndSwap(StateIndexing, StateStarted) {
		log.LogRunEnd(ctx, pages, nil)
		i.listener.OnFinish(ctx)
		return nil
	}

	// A stop or abort raced the finish. The cycle still completed and its
	// checkpoint is durable; settle into StateStopped.
	prev := i.state.Swap(StateStopped)
	log.LogRunEnd(ctx, pages, nil)
	i.listener.OnFinish(ctx)
	switch prev {
	case StateAborting:
		i.coord.Discard()
		i.listener.OnAbort(ctx, i.takeAbortReason())
	case StateStopping:
		i.listener.OnStop(ctx)
	}
	return nil
}

// finishStop halts a cycle cooperatively: persist a checkpoint at the last
// committed position, then stop.
func (i *Indexer) finishStop(ctx context.Context, log *Logger) error {
	if _, err := i.saveCheckpoint(ctx); err != nil {
		i.fail(ctx, log, err)
		return err
	}

	if i.state.CompareAndSwap(StateStopping, StateStopped) {
		log.InfoContext(ctx, "run stopped")
		i.listener.OnStop(ctx)
		return nil
	}

	// An abort raced the stop; the abort outcome wins.
	prev := i.state.Swap(StateStopped)
	if prev == StateAborting {
		i.coord.Discard()
		i.listener.OnAbort(ctx, i.takeAbortReason())
	} else {
		i.listener.OnStop(ctx)
	}
	return nil
}

// finishAbort ends an aborted cycle: discard uncommitted work, never persist.
func (i *Indexer) finishAbort(ctx context.Context, log *Logger) {
	i.coord.Discard()
	reason := i.takeAbortReason()
	i.state.Store(StateStopped)
	log.InfoContext(ctx, "run aborted", "reason", reason)
	i.listener.OnAbort(ctx, reason)
}

// fail ends the run on an unrecoverable error. The error reaches the failure
// hook verbatim and no checkpoint is written for the failed cycle.
func (i *Indexer) fail(ctx context.Context, log *Logger, err error) {
	i.coord.Discard()
	i.state.Store(StateStopped)
	log.LogRunEnd(ctx, i.stats.Snapshot().Pages, err)
	i.listener.OnFailure(ctx, err)
}

// doSearch issues one search, retrying transient failures with backoff.
// Resource-pressure and fatal errors return immediately; a transient error
// surviving all attempts is returned as-is and escalates in the caller.
func (i *Indexer) doSearch(ctx context.Context, pos *model.Position, pageSize int) (*model.SearchResponse, error) {
	var resp *model.SearchResponse
	err := retry.Do(
		func() error {
			var err error
			resp, err = i.source.Search(ctx, pos, pageSize)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(i.maxRetries),
		retry.Delay(i.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			i.logger.WarnContext(ctx, "retrying search",
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// doWrite submits one write batch, retrying transient failures with backoff.
func (i *Indexer) doWrite(ctx context.Context, ops []model.Operation) (*model.WriteResult, error) {
	var res *model.WriteResult
	err := retry.Do(
		func() error {
			var err error
			res, err = i.sink.Write(ctx, ops)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(i.maxRetries),
		retry.Delay(i.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(IsTransient),
		retry.OnRetry(func(n uint, err error) {
			i.logger.WarnContext(ctx, "retrying write",
				"attempt", n+1,
				"error", err,
			)
		}),
	)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// shrinkPage halves the page size in response to resource pressure.
// Returns false when the size is already at the floor.
func (i *Indexer) shrinkPage(ctx context.Context, log *Logger) bool {
	from := i.pager.Current()
	to, ok := i.pager.Shrink()
	if !ok {
		return false
	}
	i.metrics.RecordPageSize(to)
	log.LogPageShrink(ctx, from, to)
	i.auditor.Warning(ctx, fmt.Sprintf("reduced page size from %d to %d under resource pressure", from, to))
	return true
}

func sumDocCounts(resp *model.SearchResponse) int64 {
	var n int64
	for _, b := range resp.Aggregations.Buckets {
		n += b.DocCount
	}
	return n
}

// advanceProgress folds one consumed page into the run's progress pointer.
// The total sticks to the first value seen so the denominator is stable.
func advanceProgress(pos *model.Position, resp *model.SearchResponse) *model.Progress {
	next := &model.Progress{TotalHits: resp.TotalHits}
	if pos != nil && pos.Progress != nil {
		next.DocsProcessed = pos.Progress.DocsProcessed
		if pos.Progress.TotalHits > 0 {
			next.TotalHits = pos.Progress.TotalHits
		}
	}
	next.DocsProcessed += sumDocCounts(resp)
	return next
}
