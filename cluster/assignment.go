package cluster

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"unicode/utf8"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/distance"
	"github.com/hupe1980/vecclf/internal/kmeans"
	"github.com/hupe1980/vecclf/tensor"
)

// Assignment is the result of a clustering run.
type Assignment struct {
	// Labels holds the cluster id of every row, in [0, K).
	Labels []int
	// Centroids is K x D.
	Centroids *tensor.Matrix
	// Representatives holds, per cluster, the row nearest its centroid.
	Representatives []int
	// Metric is the distance rows were assigned by.
	Metric          distance.Metric
	Iterations      int
	Converged       bool

	members []*roaring.Bitmap
}

// K returns the number of clusters.
func (a *Assignment) K() int {
	return a.Centroids.Rows
}

// Sizes returns the number of rows in each cluster.
func (a *Assignment) Sizes() []int {
	sizes := make([]int, len(a.members))
	for c, bm := range a.members {
		sizes[c] = int(bm.GetCardinality())
	}
	return sizes
}

// Members returns a copy of the row set of cluster c.
func (a *Assignment) Members(c int) *roaring.Bitmap {
	if c < 0 || c >= len(a.members) {
		return roaring.New()
	}
	return a.members[c].Clone()
}

// Predict returns the cluster whose centroid is nearest vec under the clustering metric.
func (a *Assignment) Predict(vec []float32) (int, error) {
	if len(vec) != a.Centroids.Cols {
		return -1, &tensor.ShapeError{
			Op:   "predict",
			Want: tensor.Shape{Rows: 1, Cols: a.Centroids.Cols},
			Got:  tensor.Shape{Rows: 1, Cols: len(vec)},
		}
	}
	return kmeans.AssignPartition(vec, a.Centroids.Data, a.Centroids.Cols, a.Metric)
}

const maxExampleRunes = 80

// WriteSummary prints one line per cluster with its size, representative row and the
// representative's text.
func (a *Assignment) WriteSummary(w io.Writer, c corpus.Corpus) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "Cluster\tSize\tCenter-idx\tCenter-Example")

	sizes := a.Sizes()
	for k, rep := range a.Representatives {
		text := ""
		if rep < len(c) {
			text = truncate(c[rep].Text)
		}
		fmt.Fprintf(tw, "%d\t%d\t%d\t%s\n", k, sizes[k], rep, text)
	}
	return tw.Flush()
}

func truncate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= maxExampleRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxExampleRunes-3]) + "..."
}
