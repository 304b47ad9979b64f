package elastic

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sony/gobreaker"

	"github.com/hupe1980/pivotgo"
)

// compositeAggName is the aggregation key the source nests the composite
// request under. It never leaves this package; responses are re-keyed into
// neutral buckets before they reach the engine.
const compositeAggName = "pivot"

// pressureTypes are Elasticsearch exception types that signal memory or
// write-queue exhaustion. Smaller pages genuinely relieve them, so they map
// to the resource-pressure class regardless of the HTTP status they ride on.
var pressureTypes = map[string]bool{
	"circuit_breaking_exception":      true,
	"es_rejected_execution_exception": true,
	"too_many_buckets_exception":      true,
}

// apiError is the error envelope of an Elasticsearch error response.
type apiError struct {
	Err struct {
		Type   string `json:"type"`
		Reason string `json:"reason"`
	} `json:"error"`
	Status int `json:"status"`
}

// classifyResponse maps an Elasticsearch error response onto the engine's
// failure taxonomy. Anything not recognized as pressure or transient is
// permanent and fails the run.
func classifyResponse(op string, status int, body apiError) error {
	base := fmt.Errorf("%s returned %d %s: %s", op, status, body.Err.Type, body.Err.Reason)

	switch {
	case status == http.StatusTooManyRequests || pressureTypes[body.Err.Type]:
		return fmt.Errorf("%w: %w", pivotgo.ErrResourcePressure, base)
	case status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout:
		return fmt.Errorf("%w: %w", pivotgo.ErrTransient, base)
	default:
		return base
	}
}

// classifyTransport maps a transport-level failure (connection refused, reset,
// timeout) onto the transient class so the engine retries with backoff.
func classifyTransport(op string, err error) error {
	return fmt.Errorf("%w: %s request: %w", pivotgo.ErrTransient, op, err)
}

// execute runs fn through the optional circuit breaker. An open breaker is
// reported as transient so the engine backs off and tries again after the
// breaker's timeout instead of failing the run.
func execute(cb *gobreaker.CircuitBreaker, fn func() (any, error)) (any, error) {
	if cb == nil {
		return fn()
	}
	v, err := cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %w", pivotgo.ErrTransient, err)
		}
		return nil, err
	}
	return v, nil
}

// NewBreaker returns a circuit breaker tuned for indexing traffic: it trips
// when at least five requests in a thirty second window failed half the time,
// and probes again after fifteen seconds.
func NewBreaker(name string) *gobreaker.CircuitBreaker {
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			if c.Requests < 5 {
				return false
			}
			return float64(c.TotalFailures)/float64(c.Requests) >= 0.5
		},
	})
}
