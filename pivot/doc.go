// Package pivot declares what a continuous aggregation computes: the group
// key of the pivoted documents and the metrics aggregated per group.
//
// A Definition is shared by two consumers. Search backends compile it into
// their query language (composite aggregation sources plus metric
// sub-aggregations), and the Transformer turns the resulting buckets into
// write batches for the engine.
//
// # Usage
//
//	def := &pivot.Definition{
//	    GroupBy: []pivot.GroupBy{
//	        {Name: "dept", Type: pivot.GroupTerms, Field: "department"},
//	    },
//	    Aggs: []pivot.Agg{
//	        {Name: "total_salary", Type: pivot.AggSum, Field: "salary"},
//	        {Name: "headcount", Type: pivot.AggValueCount, Field: "employee_id"},
//	    },
//	}
//
//	tr, err := pivot.NewTransformer(def)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	idx, err := pivotgo.New(ctx, source, sink, tr, store)
//
// Each result bucket becomes one document: group entries and metric values
// side by side, under their definition names. The document ID is a stable
// fingerprint of the group key, so repeated runs update documents in place.
package pivot
