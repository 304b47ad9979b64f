package elastic

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
	"github.com/sony/gobreaker"

	"github.com/hupe1980/pivotgo"
	"github.com/hupe1980/pivotgo/codec"
	"github.com/hupe1980/pivotgo/model"
)

// SinkOptions configures a Sink.
type SinkOptions struct {
	// Refresh is passed through to the bulk request ("true", "false",
	// "wait_for"). Empty leaves the cluster default.
	Refresh string

	// Pipeline names an ingest pipeline applied to indexed documents.
	Pipeline string

	// Breaker, when set, guards every bulk call. An open breaker surfaces
	// as a transient failure.
	Breaker *gobreaker.CircuitBreaker

	// Codec encodes request bodies and decodes responses.
	// Defaults to codec.Default.
	Codec codec.Codec
}

// Sink writes batches to an Elasticsearch index through the bulk API and
// reconciles the per-item outcomes.
type Sink struct {
	client *elasticsearch.Client
	index  string
	opts   SinkOptions
}

var _ pivotgo.Sink = (*Sink)(nil)

// NewSink creates a Sink writing to the given index.
func NewSink(client *elasticsearch.Client, index string, optFns ...func(*SinkOptions)) (*Sink, error) {
	if client == nil {
		return nil, fmt.Errorf("client must not be nil")
	}
	if index == "" {
		return nil, fmt.Errorf("index must not be empty")
	}

	opts := SinkOptions{
		Codec: codec.Default,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Codec == nil {
		opts.Codec = codec.Default
	}

	return &Sink{
		client: client,
		index:  index,
		opts:   opts,
	}, nil
}

// Write applies one batch. Bulk rejections of the whole batch are reported as
// resource pressure so the engine redoes the page at a smaller size; all
// writes are idempotent upserts, so redoing a page is safe.
func (s *Sink) Write(ctx context.Context, ops []model.Operation) (*model.WriteResult, error) {
	if len(ops) == 0 {
		return &model.WriteResult{}, nil
	}

	body, err := s.bulkBody(ops)
	if err != nil {
		return nil, fmt.Errorf("encoding bulk request: %w", err)
	}

	v, err := execute(s.opts.Breaker, func() (any, error) {
		return s.doBulk(ctx, body)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.WriteResult), nil
}

func (s *Sink) doBulk(ctx context.Context, body []byte) (*model.WriteResult, error) {
	req := esapi.BulkRequest{
		Index:    s.index,
		Body:     bytes.NewReader(body),
		Refresh:  s.opts.Refresh,
		Pipeline: s.opts.Pipeline,
	}
	res, err := req.Do(ctx, s.client)
	if err != nil {
		return nil, classifyTransport("bulk", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, classifyTransport("bulk", err)
	}

	if res.IsError() {
		var ae apiError
		_ = s.opts.Codec.Unmarshal(raw, &ae)
		return nil, classifyResponse("bulk", res.StatusCode, ae)
	}

	return s.decode(raw)
}

type bulkTarget struct {
	ID string `json:"_id"`
}

type bulkMeta struct {
	Index  *bulkTarget `json:"index,omitempty"`
	Delete *bulkTarget `json:"delete,omitempty"`
}

// bulkBody renders the batch as bulk NDJSON: one metadata line per operation,
// followed by the document for index actions.
func (s *Sink) bulkBody(ops []model.Operation) ([]byte, error) {
	var buf bytes.Buffer
	for _, op := range ops {
		var meta bulkMeta
		switch op.Action {
		case model.ActionIndex:
			meta.Index = &bulkTarget{ID: op.ID}
		case model.ActionDelete:
			meta.Delete = &bulkTarget{ID: op.ID}
		default:
			return nil, fmt.Errorf("unsupported action %q", op.Action)
		}

		line, err := s.opts.Codec.Marshal(meta)
		if err != nil {
			return nil, err
		}
		buf.Write(line)
		buf.WriteByte('\n')

		if op.Action == model.ActionIndex {
			doc, err := s.opts.Codec.Marshal(op.Doc)
			if err != nil {
				return nil, err
			}
			buf.Write(doc)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

type bulkEnvelope struct {
	Took   int64                 `json:"took"`
	Errors bool                  `json:"errors"`
	Items  []map[string]bulkItem `json:"items"`
}

type bulkItem struct {
	ID     string `json:"_id"`
	Status int    `json:"status"`
	Result string `json:"result"`
	Error  *struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
}

func (s *Sink) decode(raw []byte) (*model.WriteResult, error) {
	var env bulkEnvelope
	if err := s.opts.Codec.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: decoding bulk response: %w", pivotgo.ErrDataShape, err)
	}

	result := &model.WriteResult{
		Took:  time.Duration(env.Took) * time.Millisecond,
		Items: make([]model.ItemResult, 0, len(env.Items)),
	}

	failed, rejected := 0, 0
	for _, wrapped := range env.Items {
		for _, item := range wrapped {
			result.Items = append(result.Items, itemResult(item))
			if item.Error != nil {
				failed++
				if item.Status == http.StatusTooManyRequests {
					rejected++
				}
			}
		}
	}

	// A batch the cluster rejected wholesale is back pressure, not data
	// failure: redo it at a smaller page size.
	if rejected > 0 && rejected == failed && failed == len(result.Items) {
		return nil, fmt.Errorf("%w: bulk rejected all %d operations", pivotgo.ErrResourcePressure, rejected)
	}

	return result, nil
}

func itemResult(item bulkItem) model.ItemResult {
	if item.Error != nil {
		return model.ItemResult{
			ID:      item.ID,
			Outcome: model.OutcomeFailed,
			Error:   fmt.Sprintf("%s: %s", item.Error.Type, item.Error.Reason),
		}
	}

	r := model.ItemResult{ID: item.ID}
	switch item.Result {
	case "created":
		r.Outcome = model.OutcomeCreated
	case "updated":
		r.Outcome = model.OutcomeUpdated
	case "deleted":
		r.Outcome = model.OutcomeDeleted
	case "not_found", "noop":
		r.Outcome = model.OutcomeNoop
	default:
		r.Outcome = model.OutcomeFailed
		r.Error = fmt.Sprintf("unexpected bulk result %q (status %d)", item.Result, item.Status)
	}
	return r
}
