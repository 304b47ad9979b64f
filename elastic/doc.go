// Package elastic connects the indexing engine to an Elasticsearch cluster:
// Source pages composite aggregation buckets out of a source index, Sink
// writes pivoted documents back through the bulk API.
//
// # Failure mapping
//
// Cluster responses are folded into the engine's failure taxonomy. HTTP 429,
// circuit breaker trips, and bulk batches rejected wholesale are resource
// pressure, answered by the engine with a smaller page. 502/503/504 and
// transport failures are transient and retried with backoff. Everything else
// fails the run. Item-level bulk failures (say, a mapping conflict on one
// document) are reported in the WriteResult and never abort the batch.
//
// Both sides optionally run behind a sony/gobreaker circuit breaker; an open
// breaker surfaces as a transient failure so the engine keeps backing off
// until the breaker probes again.
package elastic
