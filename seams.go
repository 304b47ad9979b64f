package pivotgo

import (
	"context"

	"github.com/hupe1980/pivotgo/model"
)

// Source is the read side of the pipeline: a query/aggregation backend that
// returns one page of bucketed results per call.
//
// Implementations mark recoverable failures by wrapping ErrResourcePressure
// or ErrTransient; any other error fails the run.
type Source interface {
	// Search returns the page of aggregated data following pos.
	// A nil pos means start of data. pageSize bounds the number of buckets.
	Search(ctx context.Context, pos *model.Position, pageSize int) (*model.SearchResponse, error)
}

// ChangeDetector is an optional capability of a Source. When implemented,
// TriggerCycle consults it and skips the cycle if the source has not changed
// since the given checkpoint sequence.
type ChangeDetector interface {
	// HasChanged reports whether source data changed since checkpoint seq.
	HasChanged(ctx context.Context, seq uint64) (bool, error)
}

// Sink is the write side of the pipeline: a bulk backend that applies a batch
// of operations and reports per-item outcomes.
//
// Item-level failures belong in the WriteResult; only transport-level
// failures are returned as an error.
type Sink interface {
	Write(ctx context.Context, ops []model.Operation) (*model.WriteResult, error)
}

// Transformer maps one page of aggregated results into a write batch plus the
// position the next search resumes from.
//
// Implementations must be pure with respect to engine state: the same
// response and position must always produce the same result.
type Transformer interface {
	Transform(ctx context.Context, resp *model.SearchResponse, pos *model.Position) (*model.TransformResult, error)
}

// Listener receives lifecycle notifications from the engine. All methods are
// invoked from the cycle goroutine; implementations must not block for long
// and must not call back into the indexer's lifecycle methods.
type Listener interface {
	// OnFinish is invoked exactly once per completed run, after the final
	// checkpoint persisted successfully.
	OnFinish(ctx context.Context)
	// OnFailure is invoked with the unrecoverable error that stopped the run.
	// The error is passed verbatim, never wrapped by the engine.
	OnFailure(ctx context.Context, err error)
	// OnAbort is invoked when a run is aborted. No checkpoint was written for
	// the aborted cycle.
	OnAbort(ctx context.Context, reason string)
	// OnStop is invoked after a clean cooperative stop persisted its checkpoint.
	OnStop(ctx context.Context)
}

// NoopListener is a Listener that ignores all notifications.
// Embed it to implement only the hooks of interest.
type NoopListener struct{}

func (NoopListener) OnFinish(context.Context)         {}
func (NoopListener) OnFailure(context.Context, error) {}
func (NoopListener) OnAbort(context.Context, string)  {}
func (NoopListener) OnStop(context.Context)           {}

// Auditor records noteworthy pipeline events for operators, e.g. a shrunk
// page size or a malformed source response. Distinct from logging: audit
// entries are addressed to the owner of the indexed data, not to the process
// operator.
type Auditor interface {
	Info(ctx context.Context, msg string)
	Warning(ctx context.Context, msg string)
}

// NoopAuditor discards all audit events.
type NoopAuditor struct{}

func (NoopAuditor) Info(context.Context, string)    {}
func (NoopAuditor) Warning(context.Context, string) {}

// SlogAuditor routes audit events to the engine logger.
type SlogAuditor struct {
	logger *Logger
}

// NewSlogAuditor creates an Auditor backed by the given logger.
// A nil logger falls back to NoopLogger.
func NewSlogAuditor(logger *Logger) *SlogAuditor {
	if logger == nil {
		logger = NoopLogger()
	}
	return &SlogAuditor{logger: logger}
}

func (a *SlogAuditor) Info(ctx context.Context, msg string) {
	a.logger.InfoContext(ctx, msg, "audit", true)
}

func (a *SlogAuditor) Warning(ctx context.Context, msg string) {
	a.logger.WarnContext(ctx, msg, "audit", true)
}
