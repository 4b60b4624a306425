package visualize

import (
	"context"
	"fmt"
	"maps"
	"math"
	"runtime"
	"slices"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const (
	// knnDims is the PCA width used for the neighbor search of wide inputs.
	knnDims      = 50
	knnChunk     = 64
	gradChunk    = 256
	maxQuadDepth = 48
	defaultTheta = 0.5
)

func (t *TSNE) theta() float64 {
	if t.Theta <= 0 {
		return defaultTheta
	}
	return t.Theta
}

// sparseP is the symmetric joint probability matrix in CSR layout.
type sparseP struct {
	rowPtr []int
	cols   []int
	vals   []float64
}

// sparseAffinities computes P over the k = 3*perplexity nearest neighbors of every row.
func (t *TSNE) sparseAffinities(ctx context.Context, x *mat.Dense) (*sparseP, error) {
	n, d := x.Dims()
	if d > knnDims {
		reduced, err := pcaK(x, knnDims)
		if err != nil {
			return nil, err
		}
		x = reduced
	}

	perp := t.perplexity(n)
	k := min(n-1, int(3*perp))
	target := math.Log(perp)

	nbrs := make([]int, n*k)
	cond := make([]float64, n*k)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for lo := 0; lo < n; lo += knnChunk {
		hi := min(lo+knnChunk, n)
		g.Go(func() error {
			h := make([]neighbor, 0, k)
			dist := make([]float64, k)
			for i := lo; i < hi; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				h = nearest(x, i, k, h[:0])
				for j, nb := range h {
					nbrs[i*k+j] = nb.idx
					dist[j] = nb.dist
				}
				searchBeta(dist, -1, target, cond[i*k:(i+1)*k])
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("tsne: %w", err)
	}

	return symmetrize(n, k, nbrs, cond), nil
}

type neighbor struct {
	idx  int
	dist float64
}

// nearest returns the k rows closest to row i as a max-heap on squared distance.
func nearest(x *mat.Dense, i, k int, h []neighbor) []neighbor {
	n, _ := x.Dims()
	ri := x.RawRowView(i)
	for j := 0; j < n; j++ {
		if j == i {
			continue
		}
		rj := x.RawRowView(j)
		var d float64
		for c := range ri {
			diff := ri[c] - rj[c]
			d += diff * diff
		}
		switch {
		case len(h) < k:
			h = append(h, neighbor{idx: j, dist: d})
			siftUp(h, len(h)-1)
		case d < h[0].dist:
			h[0] = neighbor{idx: j, dist: d}
			siftDown(h, 0)
		}
	}
	return h
}

func siftUp(h []neighbor, i int) {
	for i > 0 {
		parent := (i - 1) / 2
		if h[parent].dist >= h[i].dist {
			return
		}
		h[parent], h[i] = h[i], h[parent]
		i = parent
	}
}

func siftDown(h []neighbor, i int) {
	for {
		largest := i
		if l := 2*i + 1; l < len(h) && h[l].dist > h[largest].dist {
			largest = l
		}
		if r := 2*i + 2; r < len(h) && h[r].dist > h[largest].dist {
			largest = r
		}
		if largest == i {
			return
		}
		h[largest], h[i] = h[i], h[largest]
		i = largest
	}
}

// symmetrize turns the conditional neighbor probabilities into the joint
// P_ij = (P(j|i) + P(i|j)) / 2n with columns sorted per row.
func symmetrize(n, k int, nbrs []int, cond []float64) *sparseP {
	rows := make([]map[int]float64, n)
	for i := range rows {
		rows[i] = make(map[int]float64, 2*k)
	}
	for i := 0; i < n; i++ {
		for e := i * k; e < (i+1)*k; e++ {
			j, v := nbrs[e], cond[e]
			rows[i][j] += v
			rows[j][i] += v
		}
	}

	norm := 2 * float64(n)
	p := &sparseP{rowPtr: make([]int, n+1)}
	for i, row := range rows {
		for _, j := range slices.Sorted(maps.Keys(row)) {
			p.cols = append(p.cols, j)
			p.vals = append(p.vals, row[j]/norm)
		}
		p.rowPtr[i+1] = len(p.cols)
	}
	return p
}

// barnesHutGradient approximates the repulsive forces with a quadtree over the
// current layout and sums the attractive forces over the sparse P.
func barnesHutGradient(p *sparseP, theta float64) gradientFunc {
	var (
		tree quadTree
		rep  []float64
		sq   []float64
	)
	theta2 := theta * theta

	return func(ctx context.Context, y, grad []float64, exag float64) error {
		n := len(y) / 2
		if rep == nil {
			rep = make([]float64, 2*n)
			sq = make([]float64, n)
		}
		tree.build(y)

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(runtime.GOMAXPROCS(0))
		for lo := 0; lo < n; lo += gradChunk {
			hi := min(lo+gradChunk, n)
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				for i := lo; i < hi; i++ {
					xi, yi := y[2*i], y[2*i+1]

					var ax, ay float64
					for e := p.rowPtr[i]; e < p.rowPtr[i+1]; e++ {
						j := p.cols[e]
						dx, dy := xi-y[2*j], yi-y[2*j+1]
						m := exag * p.vals[e] / (1 + dx*dx + dy*dy)
						ax += m * dx
						ay += m * dy
					}
					grad[2*i], grad[2*i+1] = ax, ay

					var rx, ry, z float64
					tree.repulse(0, xi, yi, theta2, &rx, &ry, &z)
					rep[2*i], rep[2*i+1] = rx, ry
					sq[i] = z
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		var sumQ float64
		for _, z := range sq {
			sumQ += z
		}
		if sumQ == 0 {
			sumQ = 1e-12
		}
		for k := range grad {
			grad[k] = 4 * (grad[k] - rep[k]/sumQ)
		}
		return nil
	}
}

// quadNode is a square cell. A leaf holds one point, or several identical points.
type quadNode struct {
	cx, cy, hw float64 // cell center and half width
	mx, my     float64 // center of mass
	count      int
	point      int
	children   [4]int32 // zero for leaves; the root is never a child
}

func (q *quadNode) child(x, y float64) int32 {
	var i int
	if x >= q.cx {
		i |= 1
	}
	if y >= q.cy {
		i |= 2
	}
	return q.children[i]
}

type quadTree struct {
	nodes []quadNode
}

func (t *quadTree) build(y []float64) {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for i := 0; i < len(y); i += 2 {
		minX, maxX = math.Min(minX, y[i]), math.Max(maxX, y[i])
		minY, maxY = math.Min(minY, y[i+1]), math.Max(maxY, y[i+1])
	}

	t.nodes = append(t.nodes[:0], quadNode{
		cx:    (minX + maxX) / 2,
		cy:    (minY + maxY) / 2,
		hw:    math.Max(maxX-minX, maxY-minY)/2 + 1e-5,
		point: -1,
	})
	for i := 0; i < len(y)/2; i++ {
		t.insert(i, y)
	}
}

func (t *quadTree) insert(i int, y []float64) {
	px, py := y[2*i], y[2*i+1]
	var ni int32
	for depth := 0; ; depth++ {
		node := &t.nodes[ni]
		c := float64(node.count)
		node.mx = (node.mx*c + px) / (c + 1)
		node.my = (node.my*c + py) / (c + 1)
		node.count++

		if node.children[0] != 0 {
			ni = node.child(px, py)
			continue
		}
		if node.count == 1 {
			node.point = i
			return
		}

		old := node.point
		ox, oy := y[2*old], y[2*old+1]
		if depth >= maxQuadDepth || (ox == px && oy == py) {
			return
		}

		// Split: every earlier point of this leaf sits at (ox, oy).
		prev := node.count - 1
		t.subdivide(ni)
		node = &t.nodes[ni]
		node.point = -1
		moved := &t.nodes[node.child(ox, oy)]
		moved.mx, moved.my = ox, oy
		moved.count = prev
		moved.point = old

		ni = node.child(px, py)
	}
}

func (t *quadTree) subdivide(ni int32) {
	parent := t.nodes[ni]
	h := parent.hw / 2
	for q := 0; q < 4; q++ {
		cx, cy := parent.cx-h, parent.cy-h
		if q&1 != 0 {
			cx = parent.cx + h
		}
		if q&2 != 0 {
			cy = parent.cy + h
		}
		t.nodes = append(t.nodes, quadNode{cx: cx, cy: cy, hw: h, point: -1})
		t.nodes[ni].children[q] = int32(len(t.nodes) - 1)
	}
}

// repulse accumulates the unnormalized repulsive force on (xi, yi) into fx, fy and
// the sum of Student-t kernels into z.
func (t *quadTree) repulse(ni int32, xi, yi, theta2 float64, fx, fy, z *float64) {
	node := &t.nodes[ni]
	if node.count == 0 {
		return
	}

	dx, dy := xi-node.mx, yi-node.my
	d2 := dx*dx + dy*dy
	leaf := node.children[0] == 0
	if leaf && d2 == 0 {
		*z += float64(node.count - 1)
		return
	}
	if leaf || 4*node.hw*node.hw < theta2*d2 {
		q := 1 / (1 + d2)
		m := float64(node.count) * q
		*z += m
		m *= q
		*fx += m * dx
		*fy += m * dy
		return
	}

	for _, c := range node.children {
		t.repulse(c, xi, yi, theta2, fx, fy, z)
	}
}
