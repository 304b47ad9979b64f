package pivot

import (
	"fmt"
)

// GroupType identifies how a group-by source buckets documents.
type GroupType string

const (
	// GroupTerms buckets by the distinct values of a field.
	GroupTerms GroupType = "terms"
	// GroupHistogram buckets a numeric field into fixed-width ranges.
	GroupHistogram GroupType = "histogram"
	// GroupDateHistogram buckets a date field into fixed time intervals.
	GroupDateHistogram GroupType = "date_histogram"
)

// AggType identifies a metric computed per bucket.
type AggType string

const (
	AggSum        AggType = "sum"
	AggAvg        AggType = "avg"
	AggMin        AggType = "min"
	AggMax        AggType = "max"
	AggValueCount AggType = "value_count"
)

// GroupBy is one source of the composite group key. Name becomes both the
// key entry in result buckets and the field name in pivoted documents.
type GroupBy struct {
	Name  string
	Type  GroupType
	Field string

	// Interval is the bucket interval, e.g. "1h" or "1d".
	// Required for GroupDateHistogram, ignored otherwise.
	Interval string

	// Width is the numeric bucket width.
	// Required for GroupHistogram, ignored otherwise.
	Width float64
}

// Agg is one metric aggregation. Name becomes the field name carrying the
// value in pivoted documents.
type Agg struct {
	Name  string
	Type  AggType
	Field string
}

// Definition describes a pivot: how source documents are grouped and which
// metrics are computed per group. It is the declarative input shared by the
// search backends (which compile it into their query language) and the
// Transformer (which turns result buckets into documents).
type Definition struct {
	GroupBy []GroupBy
	Aggs    []Agg
}

// Validate checks the definition for structural problems. It is called by
// NewTransformer and by the backends before compiling a query.
func (d *Definition) Validate() error {
	if d == nil {
		return fmt.Errorf("pivot definition must not be nil")
	}
	if len(d.GroupBy) == 0 {
		return fmt.Errorf("pivot requires at least one group_by")
	}
	if len(d.Aggs) == 0 {
		return fmt.Errorf("pivot requires at least one aggregation")
	}

	// Group and aggregation names share the document namespace.
	names := make(map[string]struct{}, len(d.GroupBy)+len(d.Aggs))

	for _, g := range d.GroupBy {
		if g.Name == "" {
			return fmt.Errorf("group_by requires a name")
		}
		if g.Field == "" {
			return fmt.Errorf("group_by %q requires a field", g.Name)
		}
		if _, ok := names[g.Name]; ok {
			return fmt.Errorf("duplicate name %q", g.Name)
		}
		names[g.Name] = struct{}{}

		switch g.Type {
		case GroupTerms:
		case GroupHistogram:
			if g.Width <= 0 {
				return fmt.Errorf("group_by %q: histogram requires a positive width", g.Name)
			}
		case GroupDateHistogram:
			if g.Interval == "" {
				return fmt.Errorf("group_by %q: date_histogram requires an interval", g.Name)
			}
		default:
			return fmt.Errorf("group_by %q: unknown type %q", g.Name, g.Type)
		}
	}

	for _, a := range d.Aggs {
		if a.Name == "" {
			return fmt.Errorf("aggregation requires a name")
		}
		if a.Field == "" {
			return fmt.Errorf("aggregation %q requires a field", a.Name)
		}
		if _, ok := names[a.Name]; ok {
			return fmt.Errorf("duplicate name %q", a.Name)
		}
		names[a.Name] = struct{}{}

		switch a.Type {
		case AggSum, AggAvg, AggMin, AggMax, AggValueCount:
		default:
			return fmt.Errorf("aggregation %q: unknown type %q", a.Name, a.Type)
		}
	}

	return nil
}

// CompositeSources returns the group-by sources in definition order, shaped
// as composite aggregation sources:
//
//	{"<name>": {"terms": {"field": "<field>"}}}
//
// Backends that speak the Elasticsearch query DSL can embed them directly.
func (d *Definition) CompositeSources() []map[string]any {
	sources := make([]map[string]any, 0, len(d.GroupBy))
	for _, g := range d.GroupBy {
		var body map[string]any
		switch g.Type {
		case GroupHistogram:
			body = map[string]any{"field": g.Field, "interval": g.Width}
		case GroupDateHistogram:
			body = map[string]any{"field": g.Field, "fixed_interval": g.Interval}
		default:
			body = map[string]any{"field": g.Field}
		}
		sources = append(sources, map[string]any{
			g.Name: map[string]any{string(g.Type): body},
		})
	}
	return sources
}

// MetricAggs returns the per-bucket metric aggregations keyed by name:
//
//	{"<name>": {"sum": {"field": "<field>"}}}
func (d *Definition) MetricAggs() map[string]any {
	aggs := make(map[string]any, len(d.Aggs))
	for _, a := range d.Aggs {
		aggs[a.Name] = map[string]any{
			string(a.Type): map[string]any{"field": a.Field},
		}
	}
	return aggs
}
