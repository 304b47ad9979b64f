package pivotgo

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyFailure(t *testing.T) {
	testCases := []struct {
		name string
		err  error
		want FailureKind
	}{
		{
			name: "wrapped resource pressure",
			err:  fmt.Errorf("bulk queue full: %w", ErrResourcePressure),
			want: FailureResourcePressure,
		},
		{
			name: "wrapped transient",
			err:  fmt.Errorf("dial tcp: i/o timeout: %w", ErrTransient),
			want: FailureTransient,
		},
		{
			name: "wrapped data shape",
			err:  fmt.Errorf("missing aggregations: %w", ErrDataShape),
			want: FailureDataShape,
		},
		{
			name: "unmarked error is fatal",
			err:  errors.New("index corrupted"),
			want: FailureFatal,
		},
		{
			name: "deeply wrapped sentinel",
			err:  fmt.Errorf("search: %w", fmt.Errorf("shard 3: %w", ErrResourcePressure)),
			want: FailureResourcePressure,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, ClassifyFailure(tc.err))
		})
	}
}

func TestFailureKind_String(t *testing.T) {
	assert.Equal(t, "fatal", FailureFatal.String())
	assert.Equal(t, "resource_pressure", FailureResourcePressure.String())
	assert.Equal(t, "transient", FailureTransient.String())
	assert.Equal(t, "data_shape", FailureDataShape.String())
}

func TestFailurePredicates(t *testing.T) {
	pressure := fmt.Errorf("too many buckets: %w", ErrResourcePressure)
	assert.True(t, IsResourcePressure(pressure))
	assert.False(t, IsTransient(pressure))

	timeout := fmt.Errorf("request timeout: %w", ErrTransient)
	assert.True(t, IsTransient(timeout))
	assert.False(t, IsResourcePressure(timeout))

	assert.False(t, IsResourcePressure(errors.New("boom")))
	assert.False(t, IsTransient(nil))
}

func TestErrInvalidTransition(t *testing.T) {
	err := &ErrInvalidTransition{Op: "start", State: StateIndexing}
	require.EqualError(t, err, "cannot start in state indexing")
}

func TestErrCheckpointSave(t *testing.T) {
	cause := errors.New("disk full")
	err := &ErrCheckpointSave{Seq: 12, cause: cause}

	require.ErrorContains(t, err, "checkpoint 12")
	require.ErrorIs(t, err, cause)
}

func TestState_String(t *testing.T) {
	testCases := []struct {
		state State
		want  string
	}{
		{StateStopped, "stopped"},
		{StateStarted, "started"},
		{StateIndexing, "indexing"},
		{StateStopping, "stopping"},
		{StateAborting, "aborting"},
		{State(99), "unknown"},
	}

	for _, tc := range testCases {
		require.Equal(t, tc.want, tc.state.String())
	}
}
