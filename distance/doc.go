// Package distance provides vector distance calculations.
//
// # Supported Metrics
//
//   - MetricL2: Squared Euclidean distance (default)
//   - MetricCosine: 1 - cosine similarity
//   - MetricDot: negated inner product
//
// # Usage
//
//	d := distance.SquaredL2(a, b)
//	m, _ := distance.ParseMetric("cosine")
//	f, _ := distance.Provider(m)
package distance
