package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/hupe1980/vecclf"
	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/blobstore/minio"
	"github.com/hupe1980/vecclf/blobstore/s3"
	"github.com/hupe1980/vecclf/config"
	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/corpus/sqlite"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/embedding/hashing"
	"github.com/hupe1980/vecclf/embedding/llm"
	"github.com/hupe1980/vecclf/prom"
	"github.com/hupe1980/vecclf/visualize"
	"github.com/prometheus/client_golang/prometheus"
)

// splitDatasetPath turns an artifact prefix such as "out/imdb" into the store root
// "out" and the blob prefix "imdb".
func splitDatasetPath(dataset string) (root, prefix string, err error) {
	dataset = strings.TrimSpace(dataset)
	if dataset == "" {
		return "", "", errors.New("dataset prefix is required")
	}
	prefix = filepath.Base(dataset)
	if prefix == "." || prefix == string(filepath.Separator) {
		return "", "", fmt.Errorf("invalid dataset prefix %q", dataset)
	}
	return filepath.Dir(dataset), prefix, nil
}

func buildLogger(level, format string) *vecclf.Logger {
	lvl := vecclf.ParseLevel(level)
	if format == "json" {
		return vecclf.NewJSONLogger(lvl)
	}
	return vecclf.NewTextLogger(lvl)
}

func buildBlobStore(ctx context.Context, cfg *config.Config) (blobstore.BlobStore, error) {
	switch cfg.Store.Backend {
	case "local":
		return blobstore.NewLocalStore(cfg.Store.Root), nil
	case "memory":
		return blobstore.NewMemoryStore(), nil
	case "s3":
		var opts []s3.Option
		if cfg.Store.Region != "" {
			opts = append(opts, s3.WithRegion(cfg.Store.Region))
		}
		if cfg.Store.Endpoint != "" {
			opts = append(opts, s3.WithEndpoint(cfg.Store.Endpoint))
		}
		if cfg.Store.Root != "" {
			opts = append(opts, s3.WithPrefix(cfg.Store.Root))
		}
		return s3.New(ctx, cfg.Store.Bucket, opts...)
	case "minio":
		return minio.New(ctx, minio.Config{
			Endpoint:  cfg.Store.Endpoint,
			AccessKey: cfg.Store.AccessKey,
			SecretKey: cfg.Store.SecretKey,
			Bucket:    cfg.Store.Bucket,
			Prefix:    cfg.Store.Root,
			Region:    cfg.Store.Region,
			Secure:    cfg.Store.Secure,
		})
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

// buildSource returns the corpus source and a closer releasing it.
func buildSource(cfg *config.Config) (corpus.Source, io.Closer, error) {
	switch cfg.Corpus.Source {
	case "file":
		return corpus.NewFileSource(cfg.Corpus.Root), nopCloser{}, nil
	case "sqlite":
		src, err := sqlite.Open(cfg.Corpus.DSN)
		if err != nil {
			return nil, nil, err
		}
		return src, src, nil
	default:
		return nil, nil, fmt.Errorf("unknown corpus source %q", cfg.Corpus.Source)
	}
}

func buildEncoder(cfg *config.Config, logger *slog.Logger) (embedding.Encoder, error) {
	llmOpts := []llm.Option{
		llm.WithConcurrency(cfg.Embedding.Concurrency),
		llm.WithLogger(logger),
	}
	if cfg.Embedding.RateLimit > 0 {
		llmOpts = append(llmOpts, llm.WithRateLimit(cfg.Embedding.RateLimit, cfg.Embedding.Concurrency))
	}

	switch cfg.Embedding.Provider {
	case "hashing":
		return hashing.New(cfg.Embedding.Dim), nil
	case "ollama":
		return llm.NewOllama(llm.OllamaConfig{
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		}, llmOpts...)
	case "openai":
		return llm.NewOpenAI(llm.OpenAIConfig{
			APIKey:  cfg.Embedding.APIKey,
			BaseURL: cfg.Embedding.BaseURL,
			Model:   cfg.Embedding.Model,
		}, llmOpts...)
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Embedding.Provider)
	}
}

func buildProjector(name string, seed uint64) visualize.Projector {
	if name == "pca" {
		return visualize.PCA{}
	}
	tsne := visualize.DefaultTSNE()
	tsne.Seed = seed
	return tsne
}

// serveMetrics exposes reg on addr until the returned function is called.
func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) func() {
	srv := &http.Server{
		Addr:              addr,
		Handler:           prom.Handler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}

// metricsOption wires a Prometheus collector when addr is set.
func metricsOption(addr string, logger *vecclf.Logger) (vecclf.Option, func()) {
	if addr == "" {
		return vecclf.WithMetricsCollector(vecclf.NoopMetricsCollector{}), func() {}
	}
	reg := prometheus.NewRegistry()
	return vecclf.WithMetricsCollector(prom.NewCollector(reg)), serveMetrics(addr, reg, logger.Logger)
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
