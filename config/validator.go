package config

import (
	"fmt"
	"net/url"
	"slices"
)

// ValidationError names an invalid field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate returns every problem found in the configuration.
func (c *Config) Validate() []ValidationError {
	var errs []ValidationError
	add := func(field, format string, args ...any) {
		errs = append(errs, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Corpus.Dataset == "" {
		add("corpus.dataset", "dataset is required")
	}
	switch c.Corpus.Source {
	case "file", "sqlite":
	default:
		add("corpus.source", "unknown source %q (want file or sqlite)", c.Corpus.Source)
	}
	if c.Corpus.Source == "sqlite" && c.Corpus.DSN == "" {
		add("corpus.dsn", "dsn is required for the sqlite source")
	}
	if c.Corpus.Limit < 0 {
		add("corpus.limit", "limit must not be negative")
	}

	switch c.Embedding.Provider {
	case "hashing":
	case "ollama":
		if _, err := url.Parse(c.Embedding.BaseURL); err != nil || c.Embedding.BaseURL == "" {
			add("embedding.base_url", "invalid Ollama base URL")
		}
	case "openai":
		if c.Embedding.APIKey == "" {
			add("embedding.api_key", "api key is required for openai")
		}
	default:
		add("embedding.provider", "unknown provider %q (want hashing, ollama or openai)", c.Embedding.Provider)
	}
	if c.Embedding.Dim < 1 {
		add("embedding.dim", "dim must be positive")
	}
	if c.Embedding.BatchSize < 1 {
		add("embedding.batch_size", "batch_size must be positive")
	}
	if c.Embedding.Concurrency < 1 {
		add("embedding.concurrency", "concurrency must be positive")
	}
	if c.Embedding.RateLimit < 0 {
		add("embedding.rate_limit", "rate_limit must not be negative")
	}

	switch c.Store.Backend {
	case "local", "memory":
	case "s3", "minio":
		if c.Store.Bucket == "" {
			add("store.bucket", "bucket is required for the %s backend", c.Store.Backend)
		}
		if c.Store.Backend == "minio" && c.Store.Endpoint == "" {
			add("store.endpoint", "endpoint is required for the minio backend")
		}
	default:
		add("store.backend", "unknown backend %q", c.Store.Backend)
	}
	if c.Store.Prefix == "" {
		add("store.prefix", "prefix is required")
	}

	if c.Cluster.K < 1 {
		add("cluster.k", "k must be positive")
	}
	if c.Cluster.MaxIter < 1 {
		add("cluster.max_iter", "max_iter must be positive")
	}
	if !slices.Contains([]string{"l2", "cosine", "dot"}, c.Cluster.Metric) {
		add("cluster.metric", "unknown metric %q (want l2, cosine or dot)", c.Cluster.Metric)
	}

	if !slices.Contains([]string{"tsne", "pca"}, c.Visualize.Projector) {
		add("visualize.projector", "unknown projector %q (want tsne or pca)", c.Visualize.Projector)
	}

	if c.Train.Epochs < 1 {
		add("train.epochs", "epochs must be positive")
	}
	if c.Train.LearningRate <= 0 {
		add("train.learning_rate", "learning_rate must be positive")
	}
	if c.Train.BatchSize < 1 {
		add("train.batch_size", "batch_size must be positive")
	}
	if c.Train.ValSplit < 0 || c.Train.ValSplit >= 1 {
		add("train.val_split", "val_split must be in [0, 1)")
	}
	for _, h := range c.Train.Hidden {
		if h < 1 {
			add("train.hidden", "hidden widths must be positive, got %d", h)
			break
		}
	}
	if c.Train.SaveModelPath == "" {
		add("train.save_model_path", "save_model_path is required")
	}
	if !slices.Contains([]string{"none", "lz4", "zstd"}, c.Train.Compression) {
		add("train.compression", "unknown compression %q", c.Train.Compression)
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, c.Logging.Level) {
		add("logging.level", "unknown level %q", c.Logging.Level)
	}
	if !slices.Contains([]string{"text", "json"}, c.Logging.Format) {
		add("logging.format", "unknown format %q", c.Logging.Format)
	}

	return errs
}
