// Package testutil provides testing utilities for vecswitch.
//
// This package is intended for use in tests only.
// It provides helpers for generating random vectors, computing exact
// nearest neighbors, verifying search recall and a conformance suite that
// every index adapter runs.
//
// # Random Vector Generation
//
//	rng := testutil.NewRNG(seed)
//	data := rng.UniformVectors(100, 128) // uniform [0, 1)
//	vectors := rng.UnitVectors(100, 128)
//
// # Exact Search (Ground Truth)
//
//	results := testutil.ExactTopK(query, vectors, ids, k, metric.Euclidean)
//
// # Adapter Conformance
//
//	testutil.RunConformance(t, metric.Euclidean, newIndex,
//		testutil.WithTolerance(0.01))
package testutil
