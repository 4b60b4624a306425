package visualize

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/vecclf/tensor"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Projector maps an N x D matrix to N x 2.
type Projector interface {
	Project(ctx context.Context, m *tensor.Matrix) (*tensor.Matrix, error)
}

// Describer is implemented by projectors that can name the method they apply to an
// input of the given number of rows.
type Describer interface {
	Method(rows int) string
}

// PCA projects onto the first two principal components.
type PCA struct{}

// Method implements Describer.
func (PCA) Method(int) string { return "pca" }

// Project implements Projector.
func (PCA) Project(ctx context.Context, m *tensor.Matrix) (*tensor.Matrix, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	y, err := pca2(m.Dense())
	if err != nil {
		return nil, err
	}
	return tensor.FromDense(y), nil
}

// pca2 centers x and projects it onto its top two principal directions. Inputs with a
// single feature get a zero second coordinate.
func pca2(x *mat.Dense) (*mat.Dense, error) {
	return pcaK(x, 2)
}

// pcaK centers x and projects it onto its top k principal directions. Missing
// directions are zero columns.
func pcaK(x *mat.Dense, k int) (*mat.Dense, error) {
	n, d := x.Dims()
	if n < 2 {
		return nil, errors.New("pca: need at least 2 rows")
	}

	centered := mat.DenseCopyOf(x)
	for j := 0; j < d; j++ {
		col := mat.Col(nil, j, centered)
		mean := stat.Mean(col, nil)
		for i := range col {
			centered.Set(i, j, col[i]-mean)
		}
	}

	var pc stat.PC
	if ok := pc.PrincipalComponents(centered, nil); !ok {
		return nil, errors.New("pca: decomposition failed")
	}

	var vecs mat.Dense
	pc.VectorsTo(&vecs)
	_, avail := vecs.Dims()
	use := min(avail, k)

	var proj mat.Dense
	proj.Mul(centered, vecs.Slice(0, d, 0, use))

	out := mat.NewDense(n, k, nil)
	out.Slice(0, n, 0, use).(*mat.Dense).Copy(&proj)
	return out, nil
}

// TSNE is a t-distributed stochastic neighbor embedding, initialised from PCA.
//
// Inputs with at most ExactMaxPoints rows use dense affinities and exact gradients.
// Larger inputs use affinities over the 3*Perplexity nearest neighbors and
// Barnes-Hut gradients with opening angle Theta.
type TSNE struct {
	Perplexity     float64
	Iterations     int
	LearningRate   float64
	Seed           uint64
	ExactMaxPoints int
	Theta          float64
}

// DefaultTSNE returns the settings used by the renderer.
func DefaultTSNE() *TSNE {
	return &TSNE{
		Perplexity:     30,
		Iterations:     500,
		LearningRate:   200,
		Seed:           0,
		ExactMaxPoints: 2000,
		Theta:          0.5,
	}
}

// Method implements Describer.
func (t *TSNE) Method(rows int) string {
	if t.exact(rows) {
		return "tsne-exact"
	}
	return "tsne-barnes-hut"
}

func (t *TSNE) exact(rows int) bool {
	return rows <= t.ExactMaxPoints
}

func (t *TSNE) perplexity(n int) float64 {
	perp := t.Perplexity
	if perp <= 0 {
		perp = 30
	}
	return math.Max(1, math.Min(perp, float64(n-1)/3))
}

const (
	exaggeration     = 12.0
	exaggerationIter = 100
	initStd          = 1e-4
	minGain          = 0.01
	perplexityTol    = 1e-5
	perplexitySteps  = 50
)

// Project implements Projector.
func (t *TSNE) Project(ctx context.Context, m *tensor.Matrix) (*tensor.Matrix, error) {
	n := m.Rows
	if n < 2 {
		return nil, errors.New("tsne: need at least 2 rows")
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("tsne: %w", err)
	}

	x := m.Dense()
	init, err := pca2(x)
	if err != nil {
		return nil, err
	}
	y := scaleInit(init, t.Seed)

	var gradient gradientFunc
	if t.exact(n) {
		gradient = exactGradient(t.affinities(x))
	} else {
		p, err := t.sparseAffinities(ctx, x)
		if err != nil {
			return nil, err
		}
		gradient = barnesHutGradient(p, t.theta())
	}

	if err := t.optimize(ctx, y, gradient); err != nil {
		return nil, err
	}

	out := tensor.New(n, 2)
	for i := 0; i < n; i++ {
		out.Data[2*i] = float32(y[2*i])
		out.Data[2*i+1] = float32(y[2*i+1])
	}
	return out, nil
}

// scaleInit rescales the PCA layout so the first coordinate has standard deviation
// initStd. A degenerate layout is replaced by small Gaussian noise.
func scaleInit(init *mat.Dense, seed uint64) []float64 {
	n, _ := init.Dims()
	y := make([]float64, 2*n)

	std := stat.StdDev(mat.Col(nil, 0, init), nil)
	if std == 0 || math.IsNaN(std) {
		rng := rand.New(rand.NewPCG(seed, seed))
		for i := range y {
			y[i] = rng.NormFloat64() * initStd
		}
		return y
	}

	s := initStd / std
	for i := 0; i < n; i++ {
		y[2*i] = init.At(i, 0) * s
		y[2*i+1] = init.At(i, 1) * s
	}
	return y
}

// affinities returns the symmetric joint probabilities P (n x n, row-major).
func (t *TSNE) affinities(x *mat.Dense) []float64 {
	n, _ := x.Dims()

	target := math.Log(t.perplexity(n))

	dist := make([]float64, n*n)
	for i := 0; i < n; i++ {
		ri := x.RawRowView(i)
		for j := i + 1; j < n; j++ {
			rj := x.RawRowView(j)
			var d float64
			for k := range ri {
				diff := ri[k] - rj[k]
				d += diff * diff
			}
			dist[i*n+j] = d
			dist[j*n+i] = d
		}
	}

	cond := make([]float64, n*n)
	for i := 0; i < n; i++ {
		row := cond[i*n : (i+1)*n]
		di := dist[i*n : (i+1)*n]

		searchBeta(di, i, target, row)
	}

	p := make([]float64, n*n)
	norm := 2 * float64(n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			p[i*n+j] = math.Max((cond[i*n+j]+cond[j*n+i])/norm, 1e-12)
		}
	}
	return p
}

// searchBeta bisects the Gaussian precision of point i until the entropy of row
// matches target, leaving the final P(j|i) in row.
func searchBeta(dist []float64, i int, target float64, row []float64) {
	beta, lo, hi := 1.0, 0.0, math.Inf(1)
	for step := 0; step < perplexitySteps; step++ {
		h := conditional(dist, i, beta, row)
		diff := h - target
		if math.Abs(diff) < perplexityTol {
			return
		}
		if diff > 0 {
			lo = beta
			if math.IsInf(hi, 1) {
				beta *= 2
			} else {
				beta = (beta + hi) / 2
			}
		} else {
			hi = beta
			beta = (beta + lo) / 2
		}
	}
}

// conditional fills row with P(j|i) for precision beta and returns the entropy.
func conditional(dist []float64, i int, beta float64, row []float64) float64 {
	var sum float64
	for j, d := range dist {
		if j == i {
			row[j] = 0
			continue
		}
		row[j] = math.Exp(-d * beta)
		sum += row[j]
	}
	if sum == 0 {
		sum = 1e-12
	}

	var h float64
	for j, d := range dist {
		if j == i {
			continue
		}
		row[j] /= sum
		h += beta * d * row[j]
	}
	return h + math.Log(sum)
}

// gradientFunc writes the KL gradient at y into grad. exag scales the attractive term.
type gradientFunc func(ctx context.Context, y, grad []float64, exag float64) error

func exactGradient(p []float64) gradientFunc {
	var num []float64
	return func(_ context.Context, y, grad []float64, exag float64) error {
		n := len(y) / 2
		if num == nil {
			num = make([]float64, n*n)
		}

		var sumQ float64
		for i := 0; i < n; i++ {
			for j := i + 1; j < n; j++ {
				dx := y[2*i] - y[2*j]
				dy := y[2*i+1] - y[2*j+1]
				q := 1 / (1 + dx*dx + dy*dy)
				num[i*n+j] = q
				num[j*n+i] = q
				sumQ += 2 * q
			}
		}

		clear(grad)
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if i == j {
					continue
				}
				q := num[i*n+j]
				mult := (exag*p[i*n+j] - q/sumQ) * q
				grad[2*i] += 4 * mult * (y[2*i] - y[2*j])
				grad[2*i+1] += 4 * mult * (y[2*i+1] - y[2*j+1])
			}
		}
		return nil
	}
}

func (t *TSNE) optimize(ctx context.Context, y []float64, gradient gradientFunc) error {
	n := len(y) / 2
	iters := t.Iterations
	if iters <= 0 {
		iters = 500
	}
	lr := t.LearningRate
	if lr <= 0 {
		lr = 200
	}

	grad := make([]float64, 2*n)
	update := make([]float64, 2*n)
	gains := make([]float64, 2*n)
	for i := range gains {
		gains[i] = 1
	}

	for it := 0; it < iters; it++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("tsne: %w", err)
		}

		exag, momentum := 1.0, 0.8
		if it < exaggerationIter {
			exag, momentum = exaggeration, 0.5
		}

		if err := gradient(ctx, y, grad, exag); err != nil {
			return fmt.Errorf("tsne: %w", err)
		}

		for k := range y {
			if (grad[k] > 0) != (update[k] > 0) {
				gains[k] += 0.2
			} else {
				gains[k] *= 0.8
			}
			gains[k] = math.Max(gains[k], minGain)
			update[k] = momentum*update[k] - lr*gains[k]*grad[k]
			y[k] += update[k]
		}

		// Recenter.
		var mx, my float64
		for i := 0; i < n; i++ {
			mx += y[2*i]
			my += y[2*i+1]
		}
		mx /= float64(n)
		my /= float64(n)
		for i := 0; i < n; i++ {
			y[2*i] -= mx
			y[2*i+1] -= my
		}
	}
	return nil
}
