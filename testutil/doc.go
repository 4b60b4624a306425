// Package testutil provides testing utilities for vecclf.
//
// This package is intended for use in tests and benchmarks only.
//
//	rng := testutil.NewRNG(seed)
//	vecs := rng.ClusteredVectors(100, 8, 3, 0.05)
//	labels := rng.BinaryLabels(100)
//	idx := testutil.NearestRow(vecs, centroid)
package testutil
