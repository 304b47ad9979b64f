package elastic

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/codec"
	"github.com/hupe1980/pivotgo/model"
)

// ndjsonRecorder captures bulk request payloads line by line.
type ndjsonRecorder struct {
	mu    sync.Mutex
	lines [][]map[string]any
	urls  []string
}

func (rec *ndjsonRecorder) record(r *http.Request) {
	raw, _ := io.ReadAll(r.Body)

	var lines []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		var line map[string]any
		_ = codec.Default.Unmarshal(sc.Bytes(), &line)
		lines = append(lines, line)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.lines = append(rec.lines, lines)
	rec.urls = append(rec.urls, r.URL.String())
}

func TestNewSink_Validation(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	_, err := NewSink(nil, "pivoted")
	require.ErrorContains(t, err, "client")

	_, err = NewSink(client, "")
	require.ErrorContains(t, err, "index")
}

func TestSink_Write(t *testing.T) {
	rec := &ndjsonRecorder{}
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		rec.record(r)
		io.WriteString(w, `{
			"took": 9,
			"errors": false,
			"items": [
				{"index": {"_id": "a", "status": 201, "result": "created"}},
				{"index": {"_id": "b", "status": 200, "result": "updated"}},
				{"delete": {"_id": "c", "status": 200, "result": "deleted"}},
				{"delete": {"_id": "d", "status": 404, "result": "not_found"}}
			]
		}`)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	res, err := sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{"total": 1.0}},
		{Action: model.ActionIndex, ID: "b", Doc: map[string]any{"total": 2.0}},
		{Action: model.ActionDelete, ID: "c"},
		{Action: model.ActionDelete, ID: "d"},
	})
	require.NoError(t, err)

	assert.Equal(t, 9*time.Millisecond, res.Took)
	require.Len(t, res.Items, 4)
	assert.Equal(t, model.OutcomeCreated, res.Items[0].Outcome)
	assert.Equal(t, model.OutcomeUpdated, res.Items[1].Outcome)
	assert.Equal(t, model.OutcomeDeleted, res.Items[2].Outcome)
	assert.Equal(t, model.OutcomeNoop, res.Items[3].Outcome)
	assert.Equal(t, "a", res.Items[0].ID)

	// Payload shape: action metadata lines, documents only after index
	// actions.
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.lines, 1)
	lines := rec.lines[0]
	require.Len(t, lines, 6)
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "a"}}, lines[0])
	assert.Equal(t, map[string]any{"total": 1.0}, lines[1])
	assert.Equal(t, map[string]any{"index": map[string]any{"_id": "b"}}, lines[2])
	assert.Equal(t, map[string]any{"total": 2.0}, lines[3])
	assert.Equal(t, map[string]any{"delete": map[string]any{"_id": "c"}}, lines[4])
	assert.Equal(t, map[string]any{"delete": map[string]any{"_id": "d"}}, lines[5])
	assert.Contains(t, rec.urls[0], "/pivoted/_bulk")
}

func TestSink_ItemFailures(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"took": 3,
			"errors": true,
			"items": [
				{"index": {"_id": "a", "status": 201, "result": "created"}},
				{"index": {"_id": "b", "status": 400, "error": {"type": "mapper_parsing_exception", "reason": "failed to parse field"}}}
			]
		}`)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	res, err := sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{}},
		{Action: model.ActionIndex, ID: "b", Doc: map[string]any{}},
	})
	require.NoError(t, err)

	require.Len(t, res.Items, 2)
	assert.Equal(t, model.OutcomeCreated, res.Items[0].Outcome)
	assert.True(t, res.Items[1].Failed())
	assert.Contains(t, res.Items[1].Error, "mapper_parsing_exception")
}

func TestSink_WholesaleRejectionIsPressure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"took": 1,
			"errors": true,
			"items": [
				{"index": {"_id": "a", "status": 429, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}},
				{"index": {"_id": "b", "status": 429, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}}
			]
		}`)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{}},
		{Action: model.ActionIndex, ID: "b", Doc: map[string]any{}},
	})
	require.True(t, pivotgo.IsResourcePressure(err))
}

func TestSink_PartialRejectionKeepsItems(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{
			"took": 1,
			"errors": true,
			"items": [
				{"index": {"_id": "a", "status": 201, "result": "created"}},
				{"index": {"_id": "b", "status": 429, "error": {"type": "es_rejected_execution_exception", "reason": "queue full"}}}
			]
		}`)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	res, err := sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{}},
		{Action: model.ActionIndex, ID: "b", Doc: map[string]any{}},
	})
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeCreated, res.Items[0].Outcome)
	assert.True(t, res.Items[1].Failed())
}

func TestSink_RequestLevelPressure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error": {"type": "es_rejected_execution_exception", "reason": "queue full"}, "status": 429}`)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{}},
	})
	require.True(t, pivotgo.IsResourcePressure(err))
}

func TestSink_EmptyBatch(t *testing.T) {
	var requests atomic.Int64
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
	})

	sink, err := NewSink(client, "pivoted")
	require.NoError(t, err)

	res, err := sink.Write(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.Zero(t, requests.Load())
}

func TestSink_RefreshAndPipeline(t *testing.T) {
	var query atomic.Pointer[string]
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.RawQuery
		query.Store(&q)
		io.WriteString(w, `{"took": 1, "errors": false, "items": [{"index": {"_id": "a", "status": 201, "result": "created"}}]}`)
	})

	sink, err := NewSink(client, "pivoted", func(o *SinkOptions) {
		o.Refresh = "wait_for"
		o.Pipeline = "enrich"
	})
	require.NoError(t, err)

	_, err = sink.Write(context.Background(), []model.Operation{
		{Action: model.ActionIndex, ID: "a", Doc: map[string]any{}},
	})
	require.NoError(t, err)

	q := *query.Load()
	assert.Contains(t, q, "refresh=wait_for")
	assert.Contains(t, q, "pipeline=enrich")
}
