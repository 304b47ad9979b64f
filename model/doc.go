// Package model defines core types used throughout Pivotgo.
//
// # Cursor Types
//
//   - Position: opaque resume cursor (composite after-key plus optional progress)
//   - Progress: source-consumption bookkeeping for percent-complete estimation
//
// # Data Types
//
//   - SearchResponse / Aggregations / Bucket: one page of aggregated source data
//   - Operation / WriteResult / ItemResult: a write batch and its per-item outcomes
//   - TransformResult: write batch plus next position produced from one page
//   - StatsSnapshot: point-in-time copy of indexer counters
//
// Types here are plain data carriers shared by the engine, the checkpoint
// stores, and the backend adapters. They hold no behavior beyond cloning and
// derivation helpers, so adapter packages never need to import the engine.
package model
