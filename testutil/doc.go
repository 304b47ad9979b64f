// Package testutil provides testing utilities for Pivotgo.
//
// This package is intended for use in tests and benchmarks only.
// It provides helpers for generating skewed synthetic datasets and
// computing exact aggregation results to verify against.
//
// # Synthetic Documents
//
//	rng := testutil.NewRNG(seed)
//	docs := rng.Docs(500, testutil.DocSpec{
//		GroupField: "department",
//		Groups:     testutil.GroupNames("dept", 40),
//		ValueField: "salary",
//		MinValue:   40_000,
//		MaxValue:   160_000,
//	})
//
// # Exact Aggregation (Ground Truth)
//
//	expected := testutil.ExpectedBuckets(docs, "department", "salary")
package testutil
