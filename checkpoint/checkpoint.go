// Package checkpoint persists indexer resume state and coordinates when it
// may advance.
//
// A Checkpoint is durable only after a Store.Save call returned successfully.
// The Coordinator keeps exactly two checkpoints alive: the last durable one
// (the resume point after a crash or restart) and the in-progress one being
// built by the current run. Aborted runs discard the in-progress checkpoint,
// so resumption always restarts from proven-durable state.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/pivotgo/model"
)

// ErrNoCheckpoint is returned by Store.Load when no checkpoint exists yet.
//
// Implementations should return an error that satisfies
// `errors.Is(err, ErrNoCheckpoint)`.
var ErrNoCheckpoint = errors.New("no checkpoint")

// Checkpoint captures everything an indexer needs to resume: the position
// the next search continues from, the counters accumulated so far, and the
// adapted page size.
type Checkpoint struct {
	// Seq increases by one per committed checkpoint. Seq 0 is never persisted.
	Seq       uint64              `json:"seq"`
	CreatedAt time.Time           `json:"created_at"`
	Position  *model.Position     `json:"position,omitempty"`
	Stats     model.StatsSnapshot `json:"stats"`
	PageSize  int                 `json:"page_size"`
}

// Clone returns a deep copy of the checkpoint.
func (c *Checkpoint) Clone() *Checkpoint {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Position = c.Position.Clone()
	return &cp
}

// Store durably persists checkpoints.
//
// Save must be atomic: a reader must observe either the previous checkpoint
// or the new one, never a torn mix. Load returns ErrNoCheckpoint when the
// store holds nothing.
type Store interface {
	Load(ctx context.Context) (*Checkpoint, error)
	Save(ctx context.Context, cp *Checkpoint) error
}

// Coordinator tracks the last durable checkpoint and the in-progress one.
// Stage/Commit/Discard are called from the single cycle goroutine; Last and
// InProgress may be read from any goroutine.
type Coordinator struct {
	store Store

	mu         sync.Mutex
	last       atomic.Pointer[Checkpoint]
	inProgress atomic.Pointer[Checkpoint]
}

// NewCoordinator creates a coordinator over the given store.
func NewCoordinator(store Store) *Coordinator {
	return &Coordinator{store: store}
}

// Load reads the last durable checkpoint from the store and primes the
// coordinator with it. A store without a checkpoint yields (nil, nil).
func (c *Coordinator) Load(ctx context.Context) (*Checkpoint, error) {
	cp, err := c.store.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCheckpoint) {
			return nil, nil
		}
		return nil, err
	}
	c.last.Store(cp)
	return cp.Clone(), nil
}

// Last returns the last durable checkpoint, or nil before the first commit.
func (c *Coordinator) Last() *Checkpoint {
	return c.last.Load().Clone()
}

// InProgress returns the checkpoint the current run is building, or nil.
func (c *Coordinator) InProgress() *Checkpoint {
	return c.inProgress.Load().Clone()
}

// Stage builds or replaces the in-progress checkpoint from the run's current
// position, counters, and page size. Nothing is persisted until Commit.
func (c *Coordinator) Stage(pos *model.Position, stats model.StatsSnapshot, pageSize int, at time.Time) *Checkpoint {
	var seq uint64 = 1
	if last := c.last.Load(); last != nil {
		seq = last.Seq + 1
	}
	cp := &Checkpoint{
		Seq:       seq,
		CreatedAt: at,
		Position:  pos.Clone(),
		Stats:     stats,
		PageSize:  pageSize,
	}
	c.inProgress.Store(cp)
	return cp.Clone()
}

// Commit persists the in-progress checkpoint. Only after Save succeeds does
// the in-progress checkpoint become the last durable one; on failure the
// previous durable checkpoint stays authoritative and the in-progress one is
// kept for a later retry.
func (c *Coordinator) Commit(ctx context.Context) (*Checkpoint, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cp := c.inProgress.Load()
	if cp == nil {
		return nil, errors.New("no staged checkpoint to commit")
	}

	if err := c.store.Save(ctx, cp); err != nil {
		return nil, err
	}

	c.last.Store(cp)
	c.inProgress.Store(nil)
	return cp.Clone(), nil
}

// Discard drops the in-progress checkpoint without persisting. Called on
// abort so the aborted run leaves no trace newer than the last durable state.
func (c *Coordinator) Discard() {
	c.inProgress.Store(nil)
}

// ProgressSince derives the counter deltas accumulated since an earlier
// checkpoint. Purely observational; never affects resumption.
func (c *Coordinator) ProgressSince(since *Checkpoint, now model.StatsSnapshot) model.StatsSnapshot {
	if since == nil {
		return now
	}
	return now.Delta(since.Stats)
}
