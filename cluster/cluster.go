// Package cluster groups embedding rows with k-means and picks the row nearest each
// centroid as the cluster's representative.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecclf/distance"
	"github.com/hupe1980/vecclf/internal/conv"
	"github.com/hupe1980/vecclf/internal/kmeans"
	"github.com/hupe1980/vecclf/tensor"
)

// ErrInvalidClusterCount is returned when k is outside [1, N].
var ErrInvalidClusterCount = errors.New("invalid cluster count")

// InvalidClusterCountError carries the requested k and the number of rows.
type InvalidClusterCountError struct {
	K int
	N int
}

func (e *InvalidClusterCountError) Error() string {
	return fmt.Sprintf("%s: k=%d must be in [1, %d]", ErrInvalidClusterCount, e.K, e.N)
}

func (e *InvalidClusterCountError) Unwrap() error {
	return ErrInvalidClusterCount
}

const (
	// DefaultK is the cluster count used by the pipeline when none is configured.
	DefaultK = 2
	// DefaultSeed seeds the k-means++ initialisation.
	DefaultSeed = 0
)

type options struct {
	seed    uint64
	maxIter int
	metric  distance.Metric
	logger  *slog.Logger
}

// Option configures an Analyzer.
type Option func(*options)

// WithSeed sets the k-means++ seed.
func WithSeed(seed uint64) Option {
	return func(o *options) { o.seed = seed }
}

// WithMaxIter caps Lloyd iterations.
func WithMaxIter(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxIter = n
		}
	}
}

// WithMetric sets the distance k-means assigns rows by. With MetricCosine the rows
// are L2-normalized before clustering. Representatives are always picked by
// Euclidean distance in the clustered space.
func WithMetric(m distance.Metric) Option {
	return func(o *options) { o.metric = m }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Analyzer clusters embedding matrices.
type Analyzer struct {
	opts options
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(optFns ...Option) *Analyzer {
	opts := options{
		seed:    DefaultSeed,
		maxIter: kmeans.DefaultMaxIter,
		metric:  distance.MetricL2,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Analyzer{opts: opts}
}

// Analyze partitions the rows of m into k clusters.
func (a *Analyzer) Analyze(ctx context.Context, m *tensor.Matrix, k int) (*Assignment, error) {
	if k < 1 || k > m.Rows {
		return nil, &InvalidClusterCountError{K: k, N: m.Rows}
	}

	points := m
	if a.opts.metric == distance.MetricCosine {
		points = normalizeRows(m)
	}

	res, err := kmeans.Train(ctx, points.Data, points.Cols, kmeans.Config{
		K:       k,
		MaxIter: a.opts.maxIter,
		Seed:    a.opts.seed,
		Metric:  a.opts.metric,
	})
	if err != nil {
		return nil, fmt.Errorf("kmeans: %w", err)
	}

	centroids, err := tensor.FromData(k, m.Cols, res.Centroids)
	if err != nil {
		return nil, err
	}

	asg := &Assignment{
		Labels:          res.Assignments,
		Centroids:       centroids,
		Representatives: representatives(points, centroids),
		Metric:          a.opts.metric,
		Iterations:      res.Iterations,
		Converged:       res.Converged,
		members:         make([]*roaring.Bitmap, k),
	}
	for c := range asg.members {
		asg.members[c] = roaring.New()
	}
	for row, c := range asg.Labels {
		id, err := conv.IntToUint32(row)
		if err != nil {
			return nil, err
		}
		asg.members[c].Add(id)
	}

	a.opts.logger.Info("clustering done", "k", k, "rows", m.Rows, "metric", a.opts.metric, "iterations", res.Iterations, "converged", res.Converged)
	return asg, nil
}

// normalizeRows returns a copy of m with unit-length rows. Zero rows stay zero.
func normalizeRows(m *tensor.Matrix) *tensor.Matrix {
	out := m.Clone()
	for i := 0; i < m.Rows; i++ {
		if unit, ok := distance.NormalizeL2Copy(m.Row(i)); ok {
			copy(out.Row(i), unit)
		}
	}
	return out
}

// representatives returns, per centroid, the index of the nearest row.
// Ties go to the lowest row index.
func representatives(m, centroids *tensor.Matrix) []int {
	reps := make([]int, centroids.Rows)
	for c := range reps {
		center := centroids.Row(c)
		best := 0
		bestDist := float32(math.MaxFloat32)
		for i := 0; i < m.Rows; i++ {
			if d := distance.SquaredL2(m.Row(i), center); d < bestDist {
				bestDist = d
				best = i
			}
		}
		reps[c] = best
	}
	return reps
}
