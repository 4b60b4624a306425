// Package config loads the YAML configuration of a full pipeline run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config describes one pipeline run.
type Config struct {
	Corpus struct {
		Source  string `yaml:"source"`
		Root    string `yaml:"root"`
		DSN     string `yaml:"dsn"`
		Dataset string `yaml:"dataset"`
		Split   string `yaml:"split"`
		Limit   int    `yaml:"limit"`
		Seed    uint64 `yaml:"seed"`
	} `yaml:"corpus"`

	Embedding struct {
		Provider    string  `yaml:"provider"`
		Dim         int     `yaml:"dim"`
		Model       string  `yaml:"model"`
		BaseURL     string  `yaml:"base_url"`
		APIKey      string  `yaml:"api_key"`
		BatchSize   int     `yaml:"batch_size"`
		Concurrency int     `yaml:"concurrency"`
		RateLimit   float64 `yaml:"rate_limit"`
	} `yaml:"embedding"`

	Store struct {
		Backend   string `yaml:"backend"`
		Root      string `yaml:"root"`
		Prefix    string `yaml:"prefix"`
		Bucket    string `yaml:"bucket"`
		Endpoint  string `yaml:"endpoint"`
		Region    string `yaml:"region"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		Secure    bool   `yaml:"secure"`
	} `yaml:"store"`

	Cluster struct {
		K       int    `yaml:"k"`
		Seed    uint64 `yaml:"seed"`
		MaxIter int    `yaml:"max_iter"`
		Metric  string `yaml:"metric"`
	} `yaml:"cluster"`

	Visualize struct {
		Enabled   *bool  `yaml:"enabled"`
		Output    string `yaml:"output"`
		Projector string `yaml:"projector"`
	} `yaml:"visualize"`

	Train struct {
		Epochs        int     `yaml:"epochs"`
		LearningRate  float64 `yaml:"learning_rate"`
		BatchSize     int     `yaml:"batch_size"`
		ValSplit      float64 `yaml:"val_split"`
		Hidden        []int   `yaml:"hidden"`
		Seed          uint64  `yaml:"seed"`
		LogInterval   int     `yaml:"log_interval"`
		SaveModelPath string  `yaml:"save_model_path"`
		Compression   string  `yaml:"compression"`
	} `yaml:"train"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Metrics struct {
		Addr string `yaml:"addr"`
	} `yaml:"metrics"`
}

// VisualizeEnabled reports whether the cluster plot is produced. It defaults to true.
func (c *Config) VisualizeEnabled() bool {
	return c.Visualize.Enabled == nil || *c.Visualize.Enabled
}

// Load reads the configuration at path. An empty path searches the default
// locations and falls back to the built-in defaults when none exists.
func Load(path string) (*Config, error) {
	if path == "" {
		locations := []string{
			"vecclf.yaml",
			"vecclf.yml",
			filepath.Join(os.Getenv("HOME"), ".config/vecclf/config.yaml"),
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	config := newConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	mergeWithEnv(config)
	applyDefaults(config)

	return config, nil
}

// Default returns the built-in configuration merged with the environment.
func Default() *Config {
	config := newConfig()
	mergeWithEnv(config)
	applyDefaults(config)
	return config
}

// newConfig presets the keys for which zero is a meaningful value, so a file can
// still set them to zero.
func newConfig() *Config {
	config := &Config{}
	config.Corpus.Seed = 42
	config.Train.ValSplit = 0.1
	config.Train.Seed = 42
	return config
}

func applyDefaults(config *Config) {
	if config.Corpus.Source == "" {
		config.Corpus.Source = "file"
	}
	if config.Corpus.Root == "" {
		config.Corpus.Root = "data"
	}
	if config.Corpus.Split == "" {
		config.Corpus.Split = "train"
	}

	if config.Embedding.Provider == "" {
		config.Embedding.Provider = "hashing"
	}
	if config.Embedding.Dim == 0 {
		config.Embedding.Dim = 384
	}
	if config.Embedding.BatchSize == 0 {
		config.Embedding.BatchSize = 64
	}
	if config.Embedding.Concurrency == 0 {
		config.Embedding.Concurrency = 4
	}
	if config.Embedding.Model == "" {
		switch config.Embedding.Provider {
		case "ollama":
			config.Embedding.Model = "nomic-embed-text"
		case "openai":
			config.Embedding.Model = "text-embedding-3-small"
		}
	}
	if config.Embedding.BaseURL == "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = "http://localhost:11434"
	}

	if config.Store.Backend == "" {
		config.Store.Backend = "local"
	}
	if config.Store.Root == "" {
		config.Store.Root = "artifacts"
	}
	if config.Store.Prefix == "" {
		config.Store.Prefix = config.Corpus.Dataset
	}

	if config.Cluster.K == 0 {
		config.Cluster.K = 2
	}
	if config.Cluster.MaxIter == 0 {
		config.Cluster.MaxIter = 300
	}
	if config.Cluster.Metric == "" {
		config.Cluster.Metric = "l2"
	}

	if config.Visualize.Output == "" {
		config.Visualize.Output = "clusters.png"
		if config.Store.Backend == "local" {
			config.Visualize.Output = filepath.Join(config.Store.Root, "clusters.png")
		}
	}
	if config.Visualize.Projector == "" {
		config.Visualize.Projector = "tsne"
	}

	if config.Train.Epochs == 0 {
		config.Train.Epochs = 10
	}
	if config.Train.LearningRate == 0 {
		config.Train.LearningRate = 0.001
	}
	if config.Train.BatchSize == 0 {
		config.Train.BatchSize = 32
	}
	if len(config.Train.Hidden) == 0 {
		config.Train.Hidden = []int{10, 10}
	}
	if config.Train.LogInterval == 0 {
		config.Train.LogInterval = 100
	}
	if config.Train.Compression == "" {
		config.Train.Compression = "zstd"
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}
	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}
}

func mergeWithEnv(config *Config) {
	if v := os.Getenv("VECCLF_DATASET"); v != "" {
		config.Corpus.Dataset = v
	}
	if v := os.Getenv("VECCLF_CORPUS_ROOT"); v != "" {
		config.Corpus.Root = v
	}
	if v := os.Getenv("VECCLF_STORE_ROOT"); v != "" {
		config.Store.Root = v
	}
	if v := os.Getenv("VECCLF_S3_BUCKET"); v != "" {
		config.Store.Bucket = v
	}
	if v := os.Getenv("VECCLF_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("VECCLF_METRICS_ADDR"); v != "" {
		config.Metrics.Addr = v
	}
	if v := os.Getenv("VECCLF_EPOCHS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			config.Train.Epochs = n
		}
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" && config.Embedding.Provider == "ollama" {
		config.Embedding.BaseURL = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" && config.Embedding.APIKey == "" {
		config.Embedding.APIKey = v
	}
	if v := os.Getenv("MINIO_ACCESS_KEY"); v != "" && config.Store.AccessKey == "" {
		config.Store.AccessKey = v
	}
	if v := os.Getenv("MINIO_SECRET_KEY"); v != "" && config.Store.SecretKey == "" {
		config.Store.SecretKey = v
	}
}
