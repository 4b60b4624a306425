// Package embedding turns a corpus split into a dense embedding matrix.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/tensor"
)

// ErrEncoding is returned when the encoder fails or returns vectors that do not line up
// with the input texts.
var ErrEncoding = errors.New("encoding error")

// DefaultBatchSize is the number of texts passed to the encoder per call.
const DefaultBatchSize = 64

// Encoder maps texts to fixed-size vectors, one per text, in input order.
type Encoder interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

// EncoderFunc adapts a function to the Encoder interface.
type EncoderFunc func(ctx context.Context, texts []string) ([][]float32, error)

// Encode calls f.
func (f EncoderFunc) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return f(ctx, texts)
}

// ProgressFunc is called after every encoded chunk with the number of texts done so far.
type ProgressFunc func(done, total int)

// Result is the output of Pipeline.Load. Row i of Embeddings encodes Corpus[i].
type Result struct {
	Corpus     corpus.Corpus
	Embeddings *tensor.Matrix
}

// Dim returns the embedding dimension.
func (r *Result) Dim() int {
	return r.Embeddings.Cols
}

type options struct {
	batchSize int
	progress  ProgressFunc
	logger    *slog.Logger
}

// Option configures a Pipeline.
type Option func(*options)

// WithBatchSize sets how many texts are sent to the encoder per call.
func WithBatchSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Pipeline loads corpus splits and encodes them. The embedding dimension is fixed by the
// first successful Load; later loads must produce the same dimension.
type Pipeline struct {
	loader  *corpus.Loader
	encoder Encoder
	opts    options

	mu  sync.Mutex
	dim int
}

// NewPipeline creates a pipeline reading through loader and encoding with encoder.
func NewPipeline(loader *corpus.Loader, encoder Encoder, optFns ...Option) *Pipeline {
	opts := options{
		batchSize: DefaultBatchSize,
		logger:    slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Pipeline{loader: loader, encoder: encoder, opts: opts}
}

// Dim returns the recorded embedding dimension, or 0 before the first Load.
func (p *Pipeline) Dim() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dim
}

// Load fetches, truncates and shuffles split, then encodes every text.
func (p *Pipeline) Load(ctx context.Context, split string) (*Result, error) {
	c, err := p.loader.Load(ctx, split)
	if err != nil {
		return nil, err
	}

	m, err := p.encode(ctx, c.Texts())
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dim == 0 {
		p.dim = m.Cols
	} else if p.dim != m.Cols {
		return nil, fmt.Errorf("%w: dimension %d differs from recorded %d", ErrEncoding, m.Cols, p.dim)
	}

	p.opts.logger.Info("split encoded", "split", split, "rows", m.Rows, "dim", m.Cols)
	return &Result{Corpus: c, Embeddings: m}, nil
}

func (p *Pipeline) encode(ctx context.Context, texts []string) (*tensor.Matrix, error) {
	var m *tensor.Matrix
	total := len(texts)

	for start := 0; start < total; start += p.opts.batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := min(start+p.opts.batchSize, total)
		vecs, err := p.encoder.Encode(ctx, texts[start:end])
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrEncoding, err)
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("%w: encoder returned %d vectors for %d texts", ErrEncoding, len(vecs), end-start)
		}

		if m == nil {
			if len(vecs[0]) == 0 {
				return nil, fmt.Errorf("%w: encoder returned empty vectors", ErrEncoding)
			}
			m = tensor.New(total, len(vecs[0]))
		}

		for i, v := range vecs {
			if len(v) != m.Cols {
				return nil, fmt.Errorf("%w: vector %d has dimension %d, want %d", ErrEncoding, start+i, len(v), m.Cols)
			}
			copy(m.Row(start+i), v)
		}

		p.opts.logger.Debug("encoded chunk", "done", end, "total", total)
		if p.opts.progress != nil {
			p.opts.progress(end, total)
		}
	}

	return m, nil
}
