package pivotgo

import "sync/atomic"

const (
	// DefaultPageSize is the initial page size when none is configured and no
	// checkpoint carries one.
	DefaultPageSize = 500

	// MinPageSize is the floor below which the adapter refuses to shrink.
	// A resource-pressure failure at the floor is fatal for the run.
	MinPageSize = 10
)

// pageSizer tracks the adaptive page size. It only ever shrinks in response
// to resource pressure; a healthy cycle does not grow it back. The adapted
// value survives across cycles and, via checkpoints, across restarts.
type pageSizer struct {
	size    atomic.Int64
	initial int
}

func newPageSizer(initial int) *pageSizer {
	if initial <= 0 {
		initial = DefaultPageSize
	}
	if initial < MinPageSize {
		initial = MinPageSize
	}
	p := &pageSizer{initial: initial}
	p.size.Store(int64(initial))
	return p
}

// Current returns the page size to use for the next search.
func (p *pageSizer) Current() int {
	return int(p.size.Load())
}

// Shrink halves the page size, flooring at MinPageSize. It returns the new
// size and false when the size was already at the floor and could not shrink.
func (p *pageSizer) Shrink() (int, bool) {
	for {
		cur := p.size.Load()
		if cur <= MinPageSize {
			return int(cur), false
		}
		next := cur / 2
		if next < MinPageSize {
			next = MinPageSize
		}
		if p.size.CompareAndSwap(cur, next) {
			return int(next), true
		}
	}
}

// Restore sets the page size from a checkpoint. Values below the floor or
// above the configured initial are clamped.
func (p *pageSizer) Restore(size int) {
	if size < MinPageSize {
		size = MinPageSize
	}
	if size > p.initial {
		size = p.initial
	}
	p.size.Store(int64(size))
}
