// Package llm encodes texts with remote embedding models served through langchaingo
// (Ollama, OpenAI-compatible APIs).
package llm

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultOllamaURL    = "http://localhost:11434"
	DefaultOllamaModel  = "nomic-embed-text:latest"
	DefaultOpenAIModel  = "text-embedding-3-small"
	DefaultRequestSize  = 16
	DefaultConcurrency  = 4
	DefaultRequestsPerS = 10
)

// Client is the embedding call shared by the langchaingo model clients.
type Client interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

type options struct {
	requestSize int
	concurrency int
	limiter     *rate.Limiter
	logger      *slog.Logger
}

// Option configures an Encoder.
type Option func(*options)

// WithRequestSize sets how many texts go into a single embedding request.
func WithRequestSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.requestSize = n
		}
	}
}

// WithConcurrency bounds the number of requests in flight.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRateLimit caps requests per second. A non-positive rps disables limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *options) {
		if rps <= 0 {
			o.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		o.limiter = rate.NewLimiter(rate.Limit(rps), max(burst, 1))
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// Encoder splits texts into requests and sends them concurrently. Results keep input
// order.
type Encoder struct {
	client Client
	opts   options
}

// New wraps an embedding client.
func New(client Client, optFns ...Option) *Encoder {
	opts := options{
		requestSize: DefaultRequestSize,
		concurrency: DefaultConcurrency,
		limiter:     rate.NewLimiter(rate.Limit(DefaultRequestsPerS), DefaultConcurrency),
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Encoder{client: client, opts: opts}
}

// OllamaConfig selects an Ollama server and model.
type OllamaConfig struct {
	BaseURL string
	Model   string
}

// NewOllama creates an encoder backed by an Ollama server.
func NewOllama(cfg OllamaConfig, optFns ...Option) (*Encoder, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}

	client, err := ollama.New(ollama.WithModel(cfg.Model), ollama.WithServerURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama client: %w", err)
	}
	return New(client, optFns...), nil
}

// OpenAIConfig selects an OpenAI-compatible endpoint and model.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// NewOpenAI creates an encoder backed by the OpenAI embeddings API.
func NewOpenAI(cfg OpenAIConfig, optFns ...Option) (*Encoder, error) {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}

	clientOpts := []openai.Option{openai.WithEmbeddingModel(cfg.Model)}
	if cfg.APIKey != "" {
		clientOpts = append(clientOpts, openai.WithToken(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
	}

	client, err := openai.New(clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai client: %w", err)
	}
	return New(client, optFns...), nil
}

// Encode returns one vector per text.
func (e *Encoder) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.concurrency)

	for start := 0; start < len(texts); start += e.opts.requestSize {
		end := min(start+e.opts.requestSize, len(texts))

		g.Go(func() error {
			if err := e.opts.limiter.Wait(ctx); err != nil {
				return err
			}

			vecs, err := e.client.CreateEmbedding(ctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed texts %d-%d: %w", start, end-1, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed texts %d-%d: got %d vectors", start, end-1, len(vecs))
			}

			copy(out[start:end], vecs)
			e.opts.logger.Debug("embedding request done", "start", start, "count", end-start)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
