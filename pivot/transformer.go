package pivot

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/hupe1980/pivotgo/model"
)

// Transformer is the production transformation stage: one document per
// result bucket, carrying the group key entries and the aggregated values
// under their definition names. Document IDs derive deterministically from
// the group key, so re-processing a bucket replaces its previous document
// instead of duplicating it.
type Transformer struct {
	def *Definition
}

// NewTransformer validates def and returns a Transformer over it.
func NewTransformer(def *Definition) (*Transformer, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &Transformer{def: def}, nil
}

// Transform maps one page of buckets into a write batch plus the position
// the next search resumes from.
func (t *Transformer) Transform(_ context.Context, resp *model.SearchResponse, pos *model.Position) (*model.TransformResult, error) {
	if resp == nil || resp.Aggregations == nil {
		return nil, fmt.Errorf("response carries no aggregations")
	}

	aggs := resp.Aggregations
	if len(aggs.Buckets) == 0 {
		return &model.TransformResult{Next: pos.Clone(), Last: true}, nil
	}

	ops := make([]model.Operation, 0, len(aggs.Buckets))
	for _, b := range aggs.Buckets {
		doc := make(map[string]any, len(b.Key)+len(b.Values))
		for name, v := range b.Key {
			doc[name] = v
		}
		for name, v := range b.Values {
			doc[name] = v
		}
		ops = append(ops, model.Operation{
			Action: model.ActionIndex,
			ID:     DocumentID(b.Key),
			Doc:    doc,
		})
	}

	after := aggs.AfterKey
	if after == nil {
		// Composite semantics: a page without an explicit after key
		// continues from its last bucket.
		after = aggs.Buckets[len(aggs.Buckets)-1].Key
	}

	return &model.TransformResult{
		Ops:  ops,
		Next: &model.Position{After: cloneKey(after)},
	}, nil
}

// DocumentID derives the stable document ID for a group key. Entries are
// folded in sorted name order, so the same group maps to the same ID
// regardless of map iteration or bucket order.
func DocumentID(key map[string]any) string {
	names := make([]string, 0, len(key))
	for name := range key {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%v\x00", name, key[name])
	}
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func cloneKey(key map[string]any) map[string]any {
	cp := make(map[string]any, len(key))
	for k, v := range key {
		cp[k] = v
	}
	return cp
}
