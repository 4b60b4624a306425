package kmeans

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/vecclf/distance"
)

// DefaultMaxIter is the iteration cap used when Config.MaxIter is zero.
const DefaultMaxIter = 300

// ErrInvalidInput is returned for an empty input, a non-positive dimension or k.
var ErrInvalidInput = errors.New("kmeans: invalid input")

// Config controls a training run.
type Config struct {
	K       int
	MaxIter int
	Seed    uint64
	Metric  distance.Metric
}

// Result holds the trained centroids (k * dim, flattened) and the final assignment of every
// input vector.
type Result struct {
	Centroids   []float32
	Assignments []int
	Iterations  int
	Converged   bool
}

// Train clusters the flattened vectors (n * dim) into cfg.K groups.
//
// Clusters that lose all members keep their previous centroid. The returned assignments are
// computed against the returned centroids.
func Train(ctx context.Context, vectors []float32, dim int, cfg Config) (*Result, error) {
	if dim <= 0 || len(vectors) == 0 || len(vectors)%dim != 0 || cfg.K <= 0 {
		return nil, ErrInvalidInput
	}

	n := len(vectors) / dim
	k := cfg.K
	if n < k {
		return nil, ErrInvalidInput
	}

	maxIter := cfg.MaxIter
	if maxIter <= 0 {
		maxIter = DefaultMaxIter
	}

	distFunc, err := distance.Provider(cfg.Metric)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	centroids := seedPlusPlus(vectors, dim, k, distFunc, rng)

	assignments := make([]int, n)
	for i := range assignments {
		assignments[i] = -1
	}
	counts := make([]int, k)
	sums := make([]float32, k*dim)

	res := &Result{Centroids: centroids, Assignments: assignments}

	for iter := 0; iter < maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		changed := assign(vectors, dim, centroids, assignments, distFunc)
		res.Iterations = iter + 1
		if !changed {
			res.Converged = true
			break
		}

		// Update step
		clear(sums)
		clear(counts)

		for i := 0; i < n; i++ {
			cluster := assignments[i]
			vec := vectors[i*dim : (i+1)*dim]
			for d := 0; d < dim; d++ {
				sums[cluster*dim+d] += vec[d]
			}
			counts[cluster]++
		}

		for j := 0; j < k; j++ {
			if counts[j] == 0 {
				continue
			}
			scale := 1.0 / float32(counts[j])
			for d := 0; d < dim; d++ {
				centroids[j*dim+d] = sums[j*dim+d] * scale
			}
		}
	}

	if !res.Converged {
		assign(vectors, dim, centroids, assignments, distFunc)
	}

	return res, nil
}

// seedPlusPlus picks k initial centroids: the first uniformly, each following one with
// probability proportional to its distance from the nearest already chosen centroid.
func seedPlusPlus(vectors []float32, dim, k int, distFunc distance.Func, rng *rand.Rand) []float32 {
	n := len(vectors) / dim
	centroids := make([]float32, k*dim)

	first := rng.IntN(n)
	copy(centroids[:dim], vectors[first*dim:(first+1)*dim])

	minDist := make([]float64, n)
	for i := 0; i < n; i++ {
		minDist[i] = float64(distFunc(vectors[i*dim:(i+1)*dim], centroids[:dim]))
	}

	for c := 1; c < k; c++ {
		var total float64
		for _, d := range minDist {
			total += d
		}

		next := 0
		if total > 0 {
			target := rng.Float64() * total
			var acc float64
			next = n - 1
			for i, d := range minDist {
				acc += d
				if acc > target {
					next = i
					break
				}
			}
		} else {
			next = rng.IntN(n)
		}

		center := centroids[c*dim : (c+1)*dim]
		copy(center, vectors[next*dim:(next+1)*dim])

		for i := 0; i < n; i++ {
			d := float64(distFunc(vectors[i*dim:(i+1)*dim], center))
			if d < minDist[i] {
				minDist[i] = d
			}
		}
	}

	return centroids
}

func assign(vectors []float32, dim int, centroids []float32, assignments []int, distFunc distance.Func) bool {
	n := len(vectors) / dim
	k := len(centroids) / dim
	changed := false

	for i := 0; i < n; i++ {
		vec := vectors[i*dim : (i+1)*dim]
		bestCluster := 0
		minDist := float32(math.MaxFloat32)

		for j := 0; j < k; j++ {
			d := distFunc(vec, centroids[j*dim:(j+1)*dim])
			if d < minDist {
				minDist = d
				bestCluster = j
			}
		}

		if assignments[i] != bestCluster {
			assignments[i] = bestCluster
			changed = true
		}
	}

	return changed
}

// AssignPartition finds the closest centroid for a vector.
func AssignPartition(vec []float32, centroids []float32, dim int, metric distance.Metric) (int, error) {
	k := len(centroids) / dim
	distFunc, err := distance.Provider(metric)
	if err != nil {
		return -1, err
	}

	bestCluster := -1
	minDist := float32(math.MaxFloat32)

	for j := 0; j < k; j++ {
		center := centroids[j*dim : (j+1)*dim]
		d := distFunc(vec, center)
		if d < minDist {
			minDist = d
			bestCluster = j
		}
	}

	return bestCluster, nil
}
