package cluster

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/distance"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clustered(t *testing.T, n, dim, k int) (*tensor.Matrix, [][]float32) {
	t.Helper()
	rows := testutil.NewRNG(99).ClusteredVectors(n, dim, k, 0.01)
	m, err := tensor.FromRows(rows)
	require.NoError(t, err)
	return m, rows
}

func TestAnalyze_Coverage(t *testing.T) {
	ctx := context.Background()
	m, _ := clustered(t, 120, 8, 3)

	asg, err := NewAnalyzer().Analyze(ctx, m, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, asg.K())
	require.Len(t, asg.Labels, 120)
	for i, c := range asg.Labels {
		assert.GreaterOrEqual(t, c, 0, "row %d", i)
		assert.Less(t, c, 3, "row %d", i)
	}

	sizes := asg.Sizes()
	total := 0
	for _, s := range sizes {
		total += s
	}
	assert.Equal(t, 120, total)

	// Each generated cluster lands in a single k-means cluster.
	for i := 3; i < 120; i++ {
		assert.Equal(t, asg.Labels[i%3], asg.Labels[i], "row %d", i)
	}
}

func TestAnalyze_RepresentativesBruteForce(t *testing.T) {
	ctx := context.Background()
	m, rows := clustered(t, 60, 5, 4)

	asg, err := NewAnalyzer(WithSeed(3)).Analyze(ctx, m, 4)
	require.NoError(t, err)
	require.Len(t, asg.Representatives, 4)

	for c, rep := range asg.Representatives {
		assert.Equal(t, testutil.NearestRow(rows, asg.Centroids.Row(c)), rep, "cluster %d", c)
	}
}

func TestAnalyze_TieBreakLowestIndex(t *testing.T) {
	// Rows 1 and 2 are identical, so they tie for every centroid.
	m, err := tensor.FromRows([][]float32{{10, 10}, {0, 0}, {0, 0}})
	require.NoError(t, err)

	asg, err := NewAnalyzer().Analyze(context.Background(), m, 2)
	require.NoError(t, err)

	zero := asg.Labels[1]
	assert.Equal(t, zero, asg.Labels[2])
	assert.Equal(t, 1, asg.Representatives[zero])
}

func TestAnalyze_Deterministic(t *testing.T) {
	ctx := context.Background()
	m, _ := clustered(t, 80, 6, 3)

	a, err := NewAnalyzer(WithSeed(11)).Analyze(ctx, m, 3)
	require.NoError(t, err)
	b, err := NewAnalyzer(WithSeed(11)).Analyze(ctx, m, 3)
	require.NoError(t, err)

	assert.Equal(t, a.Labels, b.Labels)
	assert.Equal(t, a.Centroids, b.Centroids)
	assert.Equal(t, a.Representatives, b.Representatives)
}

func TestAnalyze_CosineMetric(t *testing.T) {
	// Two directions at growing magnitudes: cosine groups by direction only.
	rows := make([][]float32, 20)
	for i := range rows {
		s := float32(1 + i/2)
		if i%2 == 0 {
			rows[i] = []float32{s, 0}
		} else {
			rows[i] = []float32{0, s}
		}
	}
	m, err := tensor.FromRows(rows)
	require.NoError(t, err)

	asg, err := NewAnalyzer(WithMetric(distance.MetricCosine)).Analyze(context.Background(), m, 2)
	require.NoError(t, err)
	assert.Equal(t, distance.MetricCosine, asg.Metric)

	assert.NotEqual(t, asg.Labels[0], asg.Labels[1])
	for i := 2; i < 20; i++ {
		assert.Equal(t, asg.Labels[i%2], asg.Labels[i], "row %d", i)
	}
	assert.ElementsMatch(t, []int{0, 1}, asg.Representatives)
	assert.Equal(t, []int{10, 10}, asg.Sizes())

	c, err := asg.Predict([]float32{100, 0})
	require.NoError(t, err)
	assert.Equal(t, asg.Labels[0], c)

	// Input rows are left untouched.
	assert.Equal(t, []float32{10, 0}, m.Row(18))
}

func TestAnalyze_InvalidK(t *testing.T) {
	m := tensor.New(5, 2)

	for _, k := range []int{0, -1, 6} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			_, err := NewAnalyzer().Analyze(context.Background(), m, k)
			require.ErrorIs(t, err, ErrInvalidClusterCount)

			var ice *InvalidClusterCountError
			require.ErrorAs(t, err, &ice)
			assert.Equal(t, k, ice.K)
			assert.Equal(t, 5, ice.N)
		})
	}
}

func TestAnalyze_KEqualsN(t *testing.T) {
	m, err := tensor.FromRows([][]float32{{0, 0}, {5, 5}, {9, 1}})
	require.NoError(t, err)

	asg, err := NewAnalyzer().Analyze(context.Background(), m, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 1, 1}, asg.Sizes())
	assert.ElementsMatch(t, []int{0, 1, 2}, asg.Representatives)
}

func TestAnalyze_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m, _ := clustered(t, 30, 4, 2)
	_, err := NewAnalyzer().Analyze(ctx, m, 2)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAssignment_MembersAndPredict(t *testing.T) {
	m, err := tensor.FromRows([][]float32{{0, 0}, {0, 1}, {10, 10}, {10, 11}})
	require.NoError(t, err)

	asg, err := NewAnalyzer().Analyze(context.Background(), m, 2)
	require.NoError(t, err)

	low := asg.Labels[0]
	members := asg.Members(low)
	assert.Equal(t, []uint32{0, 1}, members.ToArray())

	// Members returns a copy.
	members.Add(3)
	assert.Equal(t, uint64(2), asg.Members(low).GetCardinality())
	assert.True(t, asg.Members(99).IsEmpty())

	c, err := asg.Predict([]float32{0.2, 0.3})
	require.NoError(t, err)
	assert.Equal(t, low, c)

	_, err = asg.Predict([]float32{1})
	assert.ErrorIs(t, err, tensor.ErrShapeMismatch)
}

func TestAssignment_WriteSummary(t *testing.T) {
	m, err := tensor.FromRows([][]float32{{0, 0}, {0, 1}, {10, 10}})
	require.NoError(t, err)
	c := corpus.Corpus{
		{Text: "cheap and cheerful", Label: 1},
		{Text: "works", Label: 1},
		{Text: strings.Repeat("long review ", 20), Label: 0},
	}

	asg, err := NewAnalyzer().Analyze(context.Background(), m, 2)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, asg.WriteSummary(&buf, c))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "Center-Example")
	assert.Contains(t, buf.String(), "...")
	for _, l := range lines[1:] {
		assert.LessOrEqual(t, len(l), 120)
	}
}
