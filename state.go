package pivotgo

import "sync/atomic"

// State is the lifecycle state of an Indexer.
// Exactly one state is the truth per indexer; every transition is a
// compare-and-set on an atomic value so concurrent callers can never observe
// a torn or stale transition.
type State int32

const (
	// StateStopped means the indexer is idle and will not run cycles.
	// This is the initial state and the terminal state of every run.
	StateStopped State = iota
	// StateStarted means the indexer accepts triggers but no cycle is in flight.
	StateStarted
	// StateIndexing means exactly one processing cycle is in flight.
	StateIndexing
	// StateStopping means a stop was requested; the in-flight cycle halts at
	// its next phase boundary after persisting a checkpoint.
	StateStopping
	// StateAborting means an abort was requested; the in-flight cycle discards
	// uncommitted work at its next phase boundary without persisting.
	StateAborting
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarted:
		return "started"
	case StateIndexing:
		return "indexing"
	case StateStopping:
		return "stopping"
	case StateAborting:
		return "aborting"
	default:
		return "unknown"
	}
}

// atomicState holds the indexer state behind a single atomic value.
type atomicState struct {
	v atomic.Int32
}

func (a *atomicState) Load() State { return State(a.v.Load()) }

func (a *atomicState) Store(s State) { a.v.Store(int32(s)) }

func (a *atomicState) Swap(s State) State { return State(a.v.Swap(int32(s))) }

// CompareAndSwap attempts the transition from -> to and reports success.
func (a *atomicState) CompareAndSwap(from, to State) bool {
	return a.v.CompareAndSwap(int32(from), int32(to))
}
