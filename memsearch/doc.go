// Package memsearch is an embedded search backend for the indexing engine:
// source documents live in process memory, Search computes composite terms
// aggregations over them, and Target stores the pivoted output.
//
// It exists for tests, examples, and small embedded deployments; production
// installations point the engine at a real search cluster instead.
//
// # Semantics
//
// Search follows composite aggregation rules: buckets are returned in group
// key order, pageSize at a time, resuming from the position's after key. The
// scan keeps at most pageSize bucket states in memory; the estimated window
// cost is checked against a memory budget before scanning, and a page that
// does not fit is refused with a resource-pressure error the engine answers
// by halving the page size.
//
// Term filters are intersected across fields and unioned within one field,
// backed by roaring bitmap posting lists. Filters match string values only.
//
// The index tracks a mutation version and reports, via the engine's change
// detection, whether anything was written since the last fully drained run.
package memsearch
