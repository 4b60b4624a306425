// Package kmeans implements Lloyd's k-means clustering over flattened float32 vectors.
//
// Centroids are seeded with k-means++ from a fixed-seed generator, so the same input and
// configuration always yields the same centroids and assignments.
package kmeans
