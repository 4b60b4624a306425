// Package visualize projects embeddings to 2-D and renders a scatter plot colored by
// cluster, with each cluster representative labeled "CLS-<id>".
package visualize

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/hupe1980/vecclf/cluster"
	"github.com/hupe1980/vecclf/tensor"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// ErrRender is returned when the visualization cannot be produced.
var ErrRender = errors.New("render error")

type options struct {
	projector   Projector
	title       string
	size        vg.Length
	pointRadius vg.Length
	fontSize    vg.Length
	logger      *slog.Logger
}

// Option configures a Renderer.
type Option func(*options)

// WithProjector replaces the default t-SNE projector.
func WithProjector(p Projector) Option {
	return func(o *options) { o.projector = p }
}

// WithTitle sets the plot title.
func WithTitle(title string) Option {
	return func(o *options) { o.title = title }
}

// WithSize sets the edge length of the square image.
func WithSize(size vg.Length) Option {
	return func(o *options) { o.size = size }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Renderer draws cluster scatter plots.
type Renderer struct {
	opts options
}

// NewRenderer creates a renderer.
func NewRenderer(optFns ...Option) *Renderer {
	opts := options{
		projector:   DefaultTSNE(),
		title:       "Embedding clusters",
		size:        12 * vg.Inch,
		pointRadius: vg.Points(1.5),
		fontSize:    vg.Points(18),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Renderer{opts: opts}
}

// Render projects m, draws it colored by asg and writes the image to outputPath.
// The image format follows the file extension (.png, .jpg, .svg, .pdf, ...).
func (r *Renderer) Render(ctx context.Context, m *tensor.Matrix, asg *cluster.Assignment, outputPath string) error {
	if m.Rows < 2 {
		return fmt.Errorf("%w: need at least 2 rows, got %d", ErrRender, m.Rows)
	}
	if len(asg.Labels) != m.Rows {
		return fmt.Errorf("%w: %d assignments for %d rows", ErrRender, len(asg.Labels), m.Rows)
	}

	method := r.Method(m.Rows)
	r.opts.logger.Debug("projecting embeddings", "rows", m.Rows, "method", method)

	xy, err := r.opts.projector.Project(ctx, m)
	if err != nil {
		return fmt.Errorf("%w: projection: %w", ErrRender, err)
	}
	if err := tensor.Expect("projection", xy, tensor.Shape{Rows: m.Rows, Cols: 2}); err != nil {
		return fmt.Errorf("%w: %w", ErrRender, err)
	}

	p, err := r.plot(xy, asg)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRender, err)
	}

	if dir := filepath.Dir(outputPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("%w: %w", ErrRender, err)
		}
	}
	if err := p.Save(r.opts.size, r.opts.size, outputPath); err != nil {
		return fmt.Errorf("%w: save %s: %w", ErrRender, outputPath, err)
	}

	r.opts.logger.Info("cluster plot written", "path", outputPath, "rows", m.Rows, "clusters", asg.K(), "method", method)
	return nil
}

// Method names the projection applied to an input of rows rows.
func (r *Renderer) Method(rows int) string {
	if d, ok := r.opts.projector.(Describer); ok {
		return d.Method(rows)
	}
	return fmt.Sprintf("%T", r.opts.projector)
}

func (r *Renderer) plot(xy *tensor.Matrix, asg *cluster.Assignment) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = r.opts.title
	p.X.Label.Text = "dim 1"
	p.Y.Label.Text = "dim 2"

	points := make([]plotter.XYs, asg.K())
	for i, c := range asg.Labels {
		points[c] = append(points[c], plotter.XY{X: float64(xy.At(i, 0)), Y: float64(xy.At(i, 1))})
	}

	for c, pts := range points {
		if len(pts) == 0 {
			continue
		}
		s, err := plotter.NewScatter(pts)
		if err != nil {
			return nil, err
		}
		s.GlyphStyle.Color = plotutil.Color(c)
		s.GlyphStyle.Radius = r.opts.pointRadius
		s.GlyphStyle.Shape = draw.CircleGlyph{}
		p.Add(s)
		p.Legend.Add(fmt.Sprintf("cluster %d", c), s)
	}

	centers := plotter.XYLabels{
		XYs:    make(plotter.XYs, len(asg.Representatives)),
		Labels: make([]string, len(asg.Representatives)),
	}
	for c, rep := range asg.Representatives {
		centers.XYs[c] = plotter.XY{X: float64(xy.At(rep, 0)), Y: float64(xy.At(rep, 1))}
		centers.Labels[c] = RepresentativeLabel(c)
	}

	labels, err := plotter.NewLabels(centers)
	if err != nil {
		return nil, err
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].Font.Size = r.opts.fontSize
	}
	p.Add(labels)

	return p, nil
}

// RepresentativeLabel returns the text drawn next to the representative of cluster c.
func RepresentativeLabel(c int) string {
	return fmt.Sprintf("CLS-%d", c)
}
