package elastic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sony/gobreaker"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/codec"
	"github.com/hupe1980/pivotgo/model"
	"github.com/hupe1980/pivotgo/pivot"
)

// SourceOptions configures a Source.
type SourceOptions struct {
	// Query restricts the aggregated documents, e.g. a range filter on an
	// ingest timestamp. Nil aggregates the whole index.
	Query map[string]any

	// Breaker, when set, guards every search call. An open breaker surfaces
	// as a transient failure.
	Breaker *gobreaker.CircuitBreaker

	// Codec encodes request bodies and decodes responses.
	// Defaults to codec.Default.
	Codec codec.Codec
}

// Source reads one page of composite aggregation buckets per search from an
// Elasticsearch index.
type Source struct {
	client *elasticsearch.Client
	index  string
	def    *pivot.Definition
	opts   SourceOptions
}

var _ pivotgo.Source = (*Source)(nil)

// NewSource creates a Source aggregating the given index by def.
func NewSource(client *elasticsearch.Client, index string, def *pivot.Definition, optFns ...func(*SourceOptions)) (*Source, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	if index == "" {
		return nil, fmt.Errorf("index must not be empty")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}

	opts := SourceOptions{
		Codec: codec.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Source{
		client: client,
		index:  index,
		def:    def,
		opts:   opts,
	}, nil
}

// Search issues one composite aggregation request resuming from pos.
func (s *Source) Search(ctx context.Context, pos *model.Position, pageSize int) (*model.SearchResponse, error) {
	if pageSize < 1 {
		pageSize = 1
	}

	body, err := s.opts.Codec.Marshal(s.searchBody(pos, pageSize))
	if err != nil {
		return nil, fmt.Errorf("encoding search request: %w", err)
	}

	v, err := execute(s.opts.Breaker, func() (any, error) {
		return s.doSearch(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.SearchResponse), nil
}

func (s *Source) doSearch(ctx context.Context, body []byte) (*model.SearchResponse, error) {
	req := esapi.SearchRequest{
		Index: []string{s.index},
		Body:  bytes.NewReader(body),
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, classifyTransport("search", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransport("search", err)
	}

	if res.IsError() {
		var ae apiError
		_ = s.opts.Codec.Unmarshal(raw, &ae)
		return nil, classifyResponse("search", res.StatusCode, ae)
	}

	return s.decode(raw)
}

// searchBody builds the request: size 0, the composite block sized to the
// page, metric sub-aggregations, and the resume cursor when present.
func (s *Source) searchBody(pos *model.Position, pageSize int) map[string]any {
	composite := map[string]any{
		"size":    pageSize,
		"sources": s.def.CompositeSources(),
	}
	if !pos.IsStart() {
		composite["after"] = pos.After
	}

	agg := map[string]any{"composite": composite}
	if metrics := s.def.MetricAggs(); len(metrics) > 0 {
		agg["aggregations"] = metrics
	}

	body := map[string]any{
		"size":             0,
		"track_total_hits": true,
		"aggregations":     map[string]any{compositeAggName: agg},
	}
	if s.opts.Query != nil {
		body["query"] = s.opts.Query
	}
	return body
}

type searchEnvelope struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
	} `json:"hits"`
	Aggregations map[string]compositeResult `json:"aggregations"`
}

type compositeResult struct {
	AfterKey map[string]any   `json:"after_key"`
	Buckets  []map[string]any `json:"buckets"`
}

func (s *Source) decode(raw []byte) (*model.SearchResponse, error) {
	var env searchEnvelope
	if err := s.opts.Codec.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding search response: %w", pivotgo.ErrDataShape, err)
	}

	resp := &model.SearchResponse{
		TotalHits: env.Hits.Total.Value,
		Took:      time.Duration(env.Took) * time.Millisecond,
	}

	// No aggregations at all is handled upstream as end of data.
	if env.Aggregations == nil {
		return resp, nil
	}

	comp, ok := env.Aggregations[compositeAggName]
	if !ok {
		return nil, fmt.Errorf("%w: response misses composite aggregation %q", pivotgo.ErrDataShape, compositeAggName)
	}

	resp.Aggregations = &model.Aggregations{
		AfterKey: comp.AfterKey,
	}
	for _, raw := range comp.Buckets {
		resp.Aggregations.Buckets = append(resp.Aggregations.Buckets, s.bucket(raw))
	}
	return resp, nil
}

// bucket re-keys one composite bucket: the group key and doc count are
// structural, every metric aggregation sits beside them as {"value": n}.
// A null metric (min of nothing) is omitted.
func (s *Source) bucket(raw map[string]any) model.Bucket {
	b := model.Bucket{
		Values: make(map[string]float64, len(s.def.Aggs)),
	}
	if key, ok := raw["key"].(map[string]any); ok {
		b.Key = key
	}
	if dc, ok := raw["doc_count"].(float64); ok {
		b.DocCount = int64(dc)
	}
	for _, a := range s.def.Aggs {
		mv, ok := raw[a.Name].(map[string]any)
		if !ok {
			continue
		}
		if v, ok := mv["value"].(float64); ok {
			b.Values[a.Name] = v
		}
	}
	return b
}
