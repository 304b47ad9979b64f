package pivotgo

import (
	"errors"
	"fmt"
)

var (
	// ErrResourcePressure marks a backend failure caused by the current page
	// size exceeding the backend's budget. Backends signal it by wrapping this
	// sentinel so that `errors.Is(err, ErrResourcePressure)` holds; the engine
	// reacts by shrinking the page size and retrying from the same position.
	ErrResourcePressure = errors.New("resource pressure")

	// ErrTransient marks a failure worth retrying without changing anything,
	// e.g. a network timeout. Backends signal it by wrapping this sentinel.
	// Retries are bounded; exhaustion escalates to fatal.
	ErrTransient = errors.New("transient failure")

	// ErrDataShape marks a response whose aggregation payload was absent or
	// malformed where data was expected. The engine normalizes it to "no data"
	// instead of failing the run.
	ErrDataShape = errors.New("unexpected data shape")

	// ErrPageSizeFloor is returned when a resource-pressure failure arrives
	// while the page size is already at MinPageSize. The run cannot shrink
	// further and fails.
	ErrPageSizeFloor = errors.New("page size already at minimum")

	// ErrExecutorClosed is returned when work is submitted to a closed executor.
	ErrExecutorClosed = errors.New("executor closed")
)

// ErrInvalidTransition indicates a lifecycle call that is illegal in the
// indexer's current state, e.g. Start while already started.
//
// The state carried is the one observed when the call was rejected.
type ErrInvalidTransition struct {
	Op    string
	State State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("cannot %s in state %s", e.Op, e.State)
}

// ErrCheckpointSave indicates that persisting a checkpoint failed. The run
// must not advance past data that cannot be proven durable, so the engine
// treats it as fatal for the cycle.
//
// The store error can be accessed via errors.Unwrap.
type ErrCheckpointSave struct {
	Seq   uint64
	cause error
}

func (e *ErrCheckpointSave) Error() string {
	return fmt.Sprintf("checkpoint %d not persisted: %v", e.Seq, e.cause)
}

func (e *ErrCheckpointSave) Unwrap() error { return e.cause }

// FailureKind partitions every phase failure into exactly one recovery policy.
type FailureKind int

const (
	// FailureFatal stops the run; the error surfaces verbatim to the failure hook.
	FailureFatal FailureKind = iota
	// FailureResourcePressure shrinks the page size and retries the phase.
	FailureResourcePressure
	// FailureTransient retries the phase a bounded number of times.
	FailureTransient
	// FailureDataShape is normalized to "no data to process".
	FailureDataShape
)

// String returns the failure kind name.
func (k FailureKind) String() string {
	switch k {
	case FailureResourcePressure:
		return "resource_pressure"
	case FailureTransient:
		return "transient"
	case FailureDataShape:
		return "data_shape"
	default:
		return "fatal"
	}
}

// ClassifyFailure maps an error onto the recovery taxonomy. Anything not
// explicitly marked recoverable is fatal.
func ClassifyFailure(err error) FailureKind {
	switch {
	case errors.Is(err, ErrResourcePressure):
		return FailureResourcePressure
	case errors.Is(err, ErrTransient):
		return FailureTransient
	case errors.Is(err, ErrDataShape):
		return FailureDataShape
	default:
		return FailureFatal
	}
}

// IsResourcePressure reports whether err is marked as a resource-pressure failure.
func IsResourcePressure(err error) bool {
	return errors.Is(err, ErrResourcePressure)
}

// IsTransient reports whether err is marked as a transient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
