package memsearch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/model"
)

// TargetOptions configures a Target.
type TargetOptions struct {
	// MaxBatchOps bounds the operations accepted per write batch. A larger
	// batch is refused with a resource-pressure error, which the engine
	// answers by shrinking the page size. 0 means unbounded.
	MaxBatchOps int
}

// Target is an embedded write backend holding the pivoted documents. It
// implements the engine's Sink seam with per-item outcomes.
//
// All methods are safe for concurrent use.
type Target struct {
	opts TargetOptions

	mu   sync.RWMutex
	docs map[string]map[string]any
}

var _ pivotgo.Sink = (*Target)(nil)

// NewTarget creates an empty target.
func NewTarget(optFns ...func(*TargetOptions)) *Target {
	opts := TargetOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Target{
		opts: opts,
		docs: make(map[string]map[string]any),
	}
}

// Write applies one batch. Item problems are reported per item; only a batch
// the target cannot accept at all returns an error.
func (t *Target) Write(ctx context.Context, ops []model.Operation) (*model.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if t.opts.MaxBatchOps > 0 && len(ops) > t.opts.MaxBatchOps {
		return nil, fmt.Errorf("batch of %d operations exceeds capacity %d: %w",
			len(ops), t.opts.MaxBatchOps, pivotgo.ErrResourcePressure)
	}

	start := time.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	items := make([]model.ItemResult, 0, len(ops))
	for _, op := range ops {
		items = append(items, t.apply(op))
	}

	return &model.WriteResult{
		Took:  time.Since(start),
		Items: items,
	}, nil
}

func (t *Target) apply(op model.Operation) model.ItemResult {
	if op.ID == "" {
		return model.ItemResult{Outcome: model.OutcomeFailed, Error: "missing document id"}
	}

	switch op.Action {
	case model.ActionIndex:
		outcome := model.OutcomeCreated
		if _, ok := t.docs[op.ID]; ok {
			outcome = model.OutcomeUpdated
		}
		t.docs[op.ID] = op.Doc
		return model.ItemResult{ID: op.ID, Outcome: outcome}

	case model.ActionDelete:
		if _, ok := t.docs[op.ID]; !ok {
			return model.ItemResult{ID: op.ID, Outcome: model.OutcomeNoop}
		}
		delete(t.docs, op.ID)
		return model.ItemResult{ID: op.ID, Outcome: model.OutcomeDeleted}

	default:
		return model.ItemResult{
			ID:      op.ID,
			Outcome: model.OutcomeFailed,
			Error:   fmt.Sprintf("unsupported action %q", op.Action),
		}
	}
}

// Document returns the stored document for id.
func (t *Target) Document(id string) (map[string]any, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	doc, ok := t.docs[id]
	return doc, ok
}

// Len returns the number of stored documents.
func (t *Target) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.docs)
}
