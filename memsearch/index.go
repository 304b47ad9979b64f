package memsearch

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/internal/sysmem"
	"github.com/hupe1980/pivotgo/model"
	"github.com/hupe1980/pivotgo/pivot"
	"github.com/hupe1980/pivotgo/resource"
)

// Per-bucket cost estimates for the search window, in bytes.
const (
	bucketOverhead = 64
	groupEntryCost = 48
	aggCellCost    = 32
)

// TermFilter restricts a search to documents whose string field matches one
// of the given values.
type TermFilter struct {
	Field  string
	Values []string
}

// Options configures an Index.
type Options struct {
	// Filters are intersected: a document must match every filter to be
	// aggregated. Values within one filter are alternatives.
	Filters []TermFilter

	// MemoryBudget bounds the bytes a single search may spend on its bucket
	// window. A page that does not fit is refused with a resource-pressure
	// error; the engine reacts by shrinking the page size, which shrinks the
	// window proportionally. Defaults to a fraction of physical RAM, or
	// 64 MiB when detection is unavailable.
	MemoryBudget int64

	// Controller, when set, additionally reserves the window bytes from the
	// shared resource controller for the duration of the search.
	Controller *resource.Controller
}

// Index is an embedded search backend: documents live in process memory and
// Search computes composite terms aggregations over them. It implements the
// engine's Source seam, including change detection.
//
// All methods are safe for concurrent use.
type Index struct {
	def  *pivot.Definition
	opts Options

	mu       sync.RWMutex
	rows     []row             // dense storage, index is the posting id
	byID     map[string]uint32 // external id -> posting id of the live row
	live     *roaring.Bitmap
	postings map[string]map[string]*roaring.Bitmap

	version atomic.Uint64
	drained atomic.Uint64
}

type row struct {
	id  string
	doc map[string]any
}

var (
	_ pivotgo.Source         = (*Index)(nil)
	_ pivotgo.ChangeDetector = (*Index)(nil)
)

// NewIndex creates an empty index computing the given pivot. Only terms
// group-bys are supported; histogram groupings need a real search backend.
func NewIndex(def *pivot.Definition, optFns ...func(*Options)) (*Index, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	for _, g := range def.GroupBy {
		if g.Type != pivot.GroupTerms {
			return nil, fmt.Errorf("memsearch supports terms group_by only, %q is %q", g.Name, g.Type)
		}
	}

	opts := Options{
		MemoryBudget: defaultMemoryBudget(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	return &Index{
		def:      def,
		opts:     opts,
		byID:     make(map[string]uint32),
		live:     roaring.New(),
		postings: make(map[string]map[string]*roaring.Bitmap),
	}, nil
}

func defaultMemoryBudget() int64 {
	if total, err := sysmem.TotalMemory(); err == nil && total > 0 {
		if budget := int64(total / 256); budget > 0 {
			return budget
		}
	}
	return 64 << 20
}

// Put adds or replaces the document with the given id.
func (x *Index) Put(id string, doc map[string]any) {
	x.mu.Lock()
	defer x.mu.Unlock()

	if old, ok := x.byID[id]; ok {
		x.live.Remove(old)
	}

	dense := uint32(len(x.rows))
	x.rows = append(x.rows, row{id: id, doc: doc})
	x.byID[id] = dense
	x.live.Add(dense)

	// Postings cover string values only; that is what term filters match.
	for field, v := range doc {
		s, ok := v.(string)
		if !ok {
			continue
		}
		terms := x.postings[field]
		if terms == nil {
			terms = make(map[string]*roaring.Bitmap)
			x.postings[field] = terms
		}
		bm := terms[s]
		if bm == nil {
			bm = roaring.New()
			terms[s] = bm
		}
		bm.Add(dense)
	}

	x.version.Add(1)
}

// Remove deletes the document with the given id. Removing an unknown id is
// a no-op.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	defer x.mu.Unlock()

	dense, ok := x.byID[id]
	if !ok {
		return
	}
	x.live.Remove(dense)
	delete(x.byID, id)
	x.version.Add(1)
}

// Len returns the number of live documents.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.byID)
}

// Version returns the mutation counter. It increases with every Put and
// Remove.
func (x *Index) Version() uint64 {
	return x.version.Load()
}

// HasChanged reports whether documents were added or removed since the last
// search that reached the end of the data.
func (x *Index) HasChanged(_ context.Context, seq uint64) (bool, error) {
	if seq == 0 {
		return true, nil
	}
	return x.version.Load() != x.drained.Load(), nil
}

// Search returns the page of buckets following pos in composite key order.
//
// The bucket window kept during the scan is bounded by pageSize; its
// estimated cost is checked against the memory budget up front, so an
// unaffordable page fails fast with a resource-pressure error instead of
// growing the heap.
func (x *Index) Search(ctx context.Context, pos *model.Position, pageSize int) (*model.SearchResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if pageSize < 1 {
		pageSize = 1
	}

	cost := x.windowCost(pageSize)
	if x.opts.MemoryBudget > 0 && cost > x.opts.MemoryBudget {
		return nil, fmt.Errorf("bucket window of %d needs %d bytes, budget is %d: %w",
			pageSize, cost, x.opts.MemoryBudget, pivotgo.ErrResourcePressure)
	}
	if c := x.opts.Controller; c != nil {
		if !c.TryAcquireMemory(cost) {
			return nil, fmt.Errorf("no memory grant for a %d byte bucket window: %w",
				cost, pivotgo.ErrResourcePressure)
		}
		defer c.ReleaseMemory(cost)
	}

	start := time.Now()

	x.mu.RLock()
	defer x.mu.RUnlock()

	version := x.version.Load()
	cand := x.candidates()
	totalHits := int64(cand.GetCardinality())

	afterVals := x.afterValues(pos)

	// Bounded window scan: only the pageSize smallest keys beyond the resume
	// point are kept; groups past the window are discarded and recomputed by
	// a later page.
	groups := make(map[string]*groupState, pageSize)
	window := make([]*groupState, 0, pageSize)

	it := cand.Iterator()
	for it.HasNext() {
		r := x.rows[it.Next()]

		key, ok := x.groupKey(r.doc)
		if !ok {
			continue
		}
		if afterVals != nil && compareKeys(key, afterVals) <= 0 {
			continue
		}

		ck := canonicalKey(key)
		st := groups[ck]
		if st == nil {
			at := sort.Search(len(window), func(i int) bool {
				return compareKeys(window[i].key, key) > 0
			})
			if len(window) == pageSize {
				if at == len(window) {
					continue // beyond the window
				}
				evicted := window[len(window)-1]
				delete(groups, canonicalKey(evicted.key))
				window = window[:len(window)-1]
			}
			st = &groupState{key: key, aggs: make([]aggCell, len(x.def.Aggs))}
			groups[ck] = st
			window = append(window, nil)
			copy(window[at+1:], window[at:])
			window[at] = st
		}

		st.docCount++
		for i, a := range x.def.Aggs {
			if v, ok := numeric(r.doc[a.Field]); ok {
				st.aggs[i].fold(v)
			}
		}
	}

	resp := &model.SearchResponse{
		TotalHits:    totalHits,
		Took:         time.Since(start),
		Aggregations: &model.Aggregations{},
	}
	for _, st := range window {
		resp.Aggregations.Buckets = append(resp.Aggregations.Buckets, x.bucket(st))
	}
	if n := len(window); n > 0 {
		resp.Aggregations.AfterKey = x.keyMap(window[n-1].key)
	} else {
		// The data behind this pivot is fully consumed at this version.
		x.drained.Store(version)
	}
	return resp, nil
}

// windowCost estimates the bytes one search spends on its bucket window.
func (x *Index) windowCost(pageSize int) int64 {
	per := int64(bucketOverhead)
	per += int64(len(x.def.GroupBy)) * groupEntryCost
	per += int64(len(x.def.Aggs)) * aggCellCost
	return int64(pageSize) * per
}

// candidates returns the bitmap of documents matching all filters.
// Must be called with the read lock held.
func (x *Index) candidates() *roaring.Bitmap {
	if len(x.opts.Filters) == 0 {
		return x.live
	}

	cand := x.live.Clone()
	for _, f := range x.opts.Filters {
		matched := roaring.New()
		for _, v := range f.Values {
			if bm := x.postings[f.Field][v]; bm != nil {
				matched.Or(bm)
			}
		}
		cand.And(matched)
	}
	return cand
}

// groupKey extracts the document's group values in definition order.
// Documents missing a group field are not bucketed.
func (x *Index) groupKey(doc map[string]any) ([]any, bool) {
	key := make([]any, len(x.def.GroupBy))
	for i, g := range x.def.GroupBy {
		v, ok := doc[g.Field]
		if !ok {
			return nil, false
		}
		key[i] = v
	}
	return key, true
}

func (x *Index) afterValues(pos *model.Position) []any {
	if pos == nil || len(pos.After) == 0 {
		return nil
	}
	vals := make([]any, len(x.def.GroupBy))
	for i, g := range x.def.GroupBy {
		vals[i] = pos.After[g.Name]
	}
	return vals
}

func (x *Index) keyMap(key []any) map[string]any {
	m := make(map[string]any, len(key))
	for i, g := range x.def.GroupBy {
		m[g.Name] = key[i]
	}
	return m
}

func (x *Index) bucket(st *groupState) model.Bucket {
	b := model.Bucket{
		Key:      x.keyMap(st.key),
		DocCount: st.docCount,
		Values:   make(map[string]float64, len(x.def.Aggs)),
	}
	for i, a := range x.def.Aggs {
		if v, ok := st.aggs[i].value(a.Type); ok {
			b.Values[a.Name] = v
		}
	}
	return b
}

type groupState struct {
	key      []any
	docCount int64
	aggs     []aggCell
}

type aggCell struct {
	sum   float64
	min   float64
	max   float64
	count int64
}

func (c *aggCell) fold(v float64) {
	if c.count == 0 {
		c.min, c.max = v, v
	} else {
		if v < c.min {
			c.min = v
		}
		if v > c.max {
			c.max = v
		}
	}
	c.sum += v
	c.count++
}

// value finalizes the cell for one aggregation type. The second return is
// false when no value applies, e.g. the average of nothing.
func (c *aggCell) value(t pivot.AggType) (float64, bool) {
	switch t {
	case pivot.AggSum:
		return c.sum, true
	case pivot.AggValueCount:
		return float64(c.count), true
	case pivot.AggAvg:
		if c.count == 0 {
			return 0, false
		}
		return c.sum / float64(c.count), true
	case pivot.AggMin:
		if c.count == 0 {
			return 0, false
		}
		return c.min, true
	case pivot.AggMax:
		if c.count == 0 {
			return 0, false
		}
		return c.max, true
	default:
		return 0, false
	}
}

// numeric coerces a document value to float64. JSON decoding and Go literals
// produce different concrete types for the same logical number.
func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// compareKeys orders composite keys component-wise: numerically when both
// sides are numbers, by string form otherwise.
func compareKeys(a, b []any) int {
	for i := range a {
		if c := compareValues(a[i], b[i]); c != 0 {
			return c
		}
	}
	return 0
}

func compareValues(a, b any) int {
	af, aok := numeric(a)
	bf, bok := numeric(b)
	if aok && bok {
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(fmt.Sprintf("%v", a), fmt.Sprintf("%v", b))
}

func canonicalKey(key []any) string {
	var b strings.Builder
	for _, v := range key {
		fmt.Fprintf(&b, "%v\x00", v)
	}
	return b.String()
}
