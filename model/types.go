package model

import (
	"fmt"
	"time"
)

// Position is the opaque resume cursor of an indexer. After holds the
// composite key the next search continues from; a nil or empty After means
// "start of data".
//
// Progress is optional bookkeeping for percent-complete estimation. It never
// affects where a search resumes.
type Position struct {
	After    map[string]any `json:"after,omitempty"`
	Progress *Progress      `json:"progress,omitempty"`
}

// IsStart reports whether the position points at the start of data.
func (p *Position) IsStart() bool {
	return p == nil || len(p.After) == 0
}

// Clone returns a deep copy of the position.
// Cloning nil returns nil.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}

	cp := &Position{}
	if p.After != nil {
		cp.After = make(map[string]any, len(p.After))
		for k, v := range p.After {
			cp.After[k] = v
		}
	}
	if p.Progress != nil {
		pr := *p.Progress
		cp.Progress = &pr
	}
	return cp
}

// String returns a string representation of the position.
func (p *Position) String() string {
	if p.IsStart() {
		return "Pos(start)"
	}
	return fmt.Sprintf("Pos(%v)", p.After)
}

// Progress tracks how much of the source an in-flight run has consumed.
type Progress struct {
	// DocsProcessed is the number of source documents folded into buckets
	// consumed so far in the run (sum of bucket doc counts).
	DocsProcessed int64 `json:"docs_processed"`
	// TotalHits is the source total reported by the first page of the run.
	// Zero means unknown.
	TotalHits int64 `json:"total_hits"`
}

// Percent returns the estimated completion percentage in [0, 100].
// Returns 0 when the total is unknown.
func (p *Progress) Percent() float64 {
	if p == nil || p.TotalHits <= 0 {
		return 0
	}
	pct := float64(p.DocsProcessed) / float64(p.TotalHits) * 100
	if pct > 100 {
		pct = 100
	}
	return pct
}

// Bucket is a single aggregation result group.
type Bucket struct {
	// Key maps group-by names to their values for this bucket.
	Key map[string]any `json:"key"`
	// DocCount is the number of source documents folded into the bucket.
	DocCount int64 `json:"doc_count"`
	// Values maps aggregation names to their computed values.
	Values map[string]float64 `json:"values,omitempty"`
}

// Aggregations is the aggregated payload of a search response.
type Aggregations struct {
	// Buckets are the result groups of this page, in key order.
	Buckets []Bucket `json:"buckets"`
	// AfterKey resumes the next page. Nil when the response exhausted the data.
	AfterKey map[string]any `json:"after_key,omitempty"`
}

// SearchResponse is one page of aggregated source data.
//
// A nil Aggregations payload is legal wire-wise and is treated by the engine
// as "no data" rather than an error.
type SearchResponse struct {
	// TotalHits is the total number of source documents behind the query.
	TotalHits int64 `json:"total_hits"`
	// Took is the backend-reported execution time.
	Took time.Duration `json:"took"`
	// Aggregations holds the bucketed results. May be nil.
	Aggregations *Aggregations `json:"aggregations,omitempty"`
}

// Action identifies the kind of a write operation.
type Action string

const (
	// ActionIndex creates or replaces a document.
	ActionIndex Action = "index"
	// ActionDelete removes a document.
	ActionDelete Action = "delete"
)

// Operation is a single write against the target store.
type Operation struct {
	Action Action         `json:"action"`
	ID     string         `json:"id"`
	Doc    map[string]any `json:"doc,omitempty"`
}

// Outcome classifies the per-item result of a write operation.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeDeleted Outcome = "deleted"
	OutcomeNoop    Outcome = "noop"
	OutcomeFailed  Outcome = "failed"
)

// ItemResult is the outcome of one operation within a write batch.
type ItemResult struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	// Error describes the item failure. Empty unless Outcome is OutcomeFailed.
	Error string `json:"error,omitempty"`
}

// Failed reports whether the item did not apply.
func (r ItemResult) Failed() bool { return r.Outcome == OutcomeFailed }

// WriteResult is the reconciled outcome of a write batch.
// Item-level failures live here; a transport-level failure is returned as an
// error by the backend instead.
type WriteResult struct {
	Took  time.Duration `json:"took"`
	Items []ItemResult  `json:"items"`
}

// TransformResult is the output of the transformation stage for one page.
type TransformResult struct {
	// Ops is the ordered write batch derived from the page.
	Ops []Operation `json:"ops"`
	// Next is the position the following search resumes from.
	Next *Position `json:"next,omitempty"`
	// Last is true iff the driving search response contained zero buckets.
	Last bool `json:"last"`
}

// StatsSnapshot is a point-in-time copy of indexer counters.
// All counters are non-decreasing within a run.
type StatsSnapshot struct {
	Triggers    int64 `json:"triggers"`
	Pages       int64 `json:"pages"`
	DocsRead    int64 `json:"docs_read"`
	DocsIndexed int64 `json:"docs_indexed"`
	DocsUpdated int64 `json:"docs_updated"`
	DocsDeleted int64 `json:"docs_deleted"`
	DocsFailed  int64 `json:"docs_failed"`

	SearchTotalNanos int64 `json:"search_total_nanos"`
	WriteTotalNanos  int64 `json:"write_total_nanos"`
	SearchFailures   int64 `json:"search_failures"`
	WriteFailures    int64 `json:"write_failures"`

	// PercentComplete is derived from position progress at snapshot time.
	PercentComplete float64 `json:"percent_complete,omitempty"`
}

// Delta returns the counter differences of s relative to an earlier snapshot.
// Derived values (PercentComplete) are carried from s unchanged.
func (s StatsSnapshot) Delta(since StatsSnapshot) StatsSnapshot {
	return StatsSnapshot{
		Triggers:         s.Triggers - since.Triggers,
		Pages:            s.Pages - since.Pages,
		DocsRead:         s.DocsRead - since.DocsRead,
		DocsIndexed:      s.DocsIndexed - since.DocsIndexed,
		DocsUpdated:      s.DocsUpdated - since.DocsUpdated,
		DocsDeleted:      s.DocsDeleted - since.DocsDeleted,
		DocsFailed:       s.DocsFailed - since.DocsFailed,
		SearchTotalNanos: s.SearchTotalNanos - since.SearchTotalNanos,
		WriteTotalNanos:  s.WriteTotalNanos - since.WriteTotalNanos,
		SearchFailures:   s.SearchFailures - since.SearchFailures,
		WriteFailures:    s.WriteFailures - since.WriteFailures,
		PercentComplete:  s.PercentComplete,
	}
}
