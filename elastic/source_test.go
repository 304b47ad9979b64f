package elastic

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/codec"
	"github.com/hupe1980/pivotgo/model"
	"github.com/hupe1980/pivotgo/pivot"
)

func testDefinition() *pivot.Definition {
	return &pivot.Definition{
		GroupBy: []pivot.GroupBy{
			{Name: "dept", Type: pivot.GroupTerms, Field: "department"},
		},
		Aggs: []pivot.Agg{
			{Name: "total_salary", Type: pivot.AggSum, Field: "salary"},
		},
	}
}

// newTestClient wires an Elasticsearch client to an httptest server. Client
// side retries are disabled so every Search maps to exactly one request.
func newTestClient(t *testing.T, handler http.HandlerFunc) *elasticsearch.Client {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses:    []string{srv.URL},
		DisableRetry: true,
	})
	require.NoError(t, err)
	return client
}

// requestRecorder captures request bodies for assertions on the test
// goroutine.
type requestRecorder struct {
	mu     sync.Mutex
	bodies []map[string]any
	urls   []string
}

func (rec *requestRecorder) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)
	var body map[string]any
	_ = codec.Default.Unmarshal(raw, &body)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.bodies = append(rec.bodies, body)
	rec.urls = append(rec.urls, r.URL.String())
}

func (rec *requestRecorder) body(i int) map[string]any {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.bodies[i]
}

func (rec *requestRecorder) url(i int) string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.urls[i]
}

func dig(t *testing.T, m map[string]any, path ...string) any {
	t.Helper()
	var v any = m
	for _, p := range path {
		mm, ok := v.(map[string]any)
		require.True(t, ok, "no map at %q", p)
		v = mm[p]
	}
	return v
}

func TestNewSource_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := NewSource(nil, "employees", testDefinition())
	require.ErrorContains(t, err, "client")

	_, err = NewSource(client, "", testDefinition())
	require.ErrorContains(t, err, "index")

	_, err = NewSource(client, "employees", &pivot.Definition{})
	require.Error(t, err)
}

func TestSource_Search(t *testing.T) {
	rec := &requestRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		io.WriteString(w, `{
			"took": 7,
			"hits": {"total": {"value": 42, "relation": "eq"}},
			"aggregations": {
				"pivot": {
					"after_key": {"dept": "sales"},
					"buckets": [
						{"key": {"dept": "engineering"}, "doc_count": 3, "total_salary": {"value": 300000.0}},
						{"key": {"dept": "sales"}, "doc_count": 2, "total_salary": {"value": null}}
					]
				}
			}
		}`)
	})

	src, err := NewSource(client, "employees", testDefinition(), func(o *SourceOptions) {
		o.Query = map[string]any{"term": map[string]any{"active": true}}
	})
	require.NoError(t, err)

	resp, err := src.Search(context.Background(), nil, 137)
	require.NoError(t, err)

	assert.Equal(t, int64(42), resp.TotalHits)
	assert.Equal(t, 7*time.Millisecond, resp.Took)
	require.NotNil(t, resp.Aggregations)
	require.Len(t, resp.Aggregations.Buckets, 2)

	eng := resp.Aggregations.Buckets[0]
	assert.Equal(t, map[string]any{"dept": "engineering"}, eng.Key)
	assert.Equal(t, int64(3), eng.DocCount)
	assert.Equal(t, float64(300000), eng.Values["total_salary"])

	// The null metric is omitted, not zeroed.
	sales := resp.Aggregations.Buckets[1]
	assert.Equal(t, int64(2), sales.DocCount)
	assert.NotContains(t, sales.Values, "total_salary")

	assert.Equal(t, map[string]any{"dept": "sales"}, resp.Aggregations.AfterKey)

	// Request shape: a size 0 search with the composite block sized to the
	// page and the metric sub-aggregation attached.
	assert.Contains(t, rec.url(0), "/employees/_search")
	body := rec.body(0)
	assert.Equal(t, float64(0), body["size"])
	assert.Equal(t, true, body["track_total_hits"])
	assert.Equal(t, float64(137), dig(t, body, "aggregations", "pivot", "composite", "size"))

	sources, ok := dig(t, body, "aggregations", "pivot", "composite", "sources").([]any)
	require.True(t, ok)
	require.Len(t, sources, 1)
	assert.Equal(t, map[string]any{"dept": map[string]any{"terms": map[string]any{"field": "department"}}}, sources[0])

	assert.Equal(t, "salary", dig(t, body, "aggregations", "pivot", "aggregations", "total_salary", "sum", "field"))
	assert.Equal(t, true, dig(t, body, "query", "term", "active"))
	assert.Nil(t, dig(t, body, "aggregations", "pivot", "composite", "after"))

	// A resumed search carries the cursor as the composite after key.
	pos := &model.Position{After: map[string]any{"dept": "engineering"}}
	_, err = src.Search(context.Background(), pos, 137)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"dept": "engineering"},
		dig(t, rec.body(1), "aggregations", "pivot", "composite", "after"))
}

func TestSource_ClassifiesFailures(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		pressure bool
		transi   bool
	}{
		{
			name:     "rejected execution",
			status:   http.StatusTooManyRequests,
			body:     `{"error": {"type": "es_rejected_execution_exception", "reason": "queue full"}, "status": 429}`,
			pressure: true,
		},
		{
			name:     "circuit breaking on 503",
			status:   http.StatusServiceUnavailable,
			body:     `{"error": {"type": "circuit_breaking_exception", "reason": "data too large"}, "status": 503}`,
			pressure: true,
		},
		{
			name:   "unavailable",
			status: http.StatusServiceUnavailable,
			body:   `{"error": {"type": "no_shard_available_action_exception", "reason": "no shards"}, "status": 503}`,
			transi: true,
		},
		{
			name:   "bad gateway",
			status: http.StatusBadGateway,
			body:   `{"error": {"type": "", "reason": ""}, "status": 502}`,
			transi: true,
		},
		{
			name:   "malformed query is permanent",
			status: http.StatusBadRequest,
			body:   `{"error": {"type": "parsing_exception", "reason": "unknown field"}, "status": 400}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})
			src, err := NewSource(client, "employees", testDefinition())
			require.NoError(t, err)

			_, err = src.Search(context.Background(), nil, 10)
			require.Error(t, err)
			assert.Equal(t, tt.pressure, pivotgo.IsResourcePressure(err))
			assert.Equal(t, tt.transi, pivotgo.IsTransient(err))
		})
	}
}

func TestSource_MissingCompositeAggregation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"took": 1, "aggregations": {"other": {"buckets": []}}}`)
	})
	src, err := NewSource(client, "employees", testDefinition())
	require.NoError(t, err)

	_, err = src.Search(context.Background(), nil, 10)
	require.ErrorIs(t, err, pivotgo.ErrDataShape)
}

func TestSource_NoAggregations(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"took": 1, "hits": {"total": {"value": 0}}}`)
	})
	src, err := NewSource(client, "employees", testDefinition())
	require.NoError(t, err)

	resp, err := src.Search(context.Background(), nil, 10)
	require.NoError(t, err)
	assert.Nil(t, resp.Aggregations)
	assert.Zero(t, resp.TotalHits)
}

func TestSource_BreakerOpens(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error": {"type": "", "reason": "down"}, "status": 503}`)
	})

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name: "test",
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 2
		},
	})
	src, err := NewSource(client, "employees", testDefinition(), func(o *SourceOptions) {
		o.Breaker = cb
	})
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err = src.Search(ctx, nil, 10)
		require.True(t, pivotgo.IsTransient(err))
	}

	// The breaker is open now: the next search fails without reaching the
	// cluster.
	_, err = src.Search(ctx, nil, 10)
	require.ErrorIs(t, err, gobreaker.ErrOpenState)
	require.True(t, pivotgo.IsTransient(err))
	assert.Equal(t, int64(2), requests.Load())
}
