package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hupe1980/vecclf"
	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/hupe1980/vecclf/config"
	"github.com/hupe1980/vecclf/embedding/hashing"
	"github.com/hupe1980/vecclf/store"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/testutil"
	"github.com/hupe1980/vecclf/visualize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitDatasetPath(t *testing.T) {
	root, prefix, err := splitDatasetPath("artifacts/imdb")
	require.NoError(t, err)
	assert.Equal(t, "artifacts", root)
	assert.Equal(t, "imdb", prefix)

	root, prefix, err = splitDatasetPath("imdb")
	require.NoError(t, err)
	assert.Equal(t, ".", root)
	assert.Equal(t, "imdb", prefix)

	_, _, err = splitDatasetPath("  ")
	assert.Error(t, err)
	_, _, err = splitDatasetPath("/")
	assert.Error(t, err)
}

func TestTrainFlagsValidation(t *testing.T) {
	valid := func() *trainFlags {
		return &trainFlags{epochs: 10, learningRate: 0.001, valSplit: 0.1, dim: 384, batchSize: 32, hidden: []int{10, 10}}
	}

	cfg, err := valid().trainConfig()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.Epochs)
	assert.Equal(t, []int{10, 10}, cfg.Hidden)
	assert.Equal(t, vecclf.DefaultTrainConfig().LogInterval, cfg.LogInterval)

	tests := []struct {
		name   string
		mutate func(f *trainFlags)
	}{
		{"zero epochs", func(f *trainFlags) { f.epochs = 0 }},
		{"zero learning rate", func(f *trainFlags) { f.learningRate = 0 }},
		{"val split one", func(f *trainFlags) { f.valSplit = 1 }},
		{"negative val split", func(f *trainFlags) { f.valSplit = -0.1 }},
		{"zero dim", func(f *trainFlags) { f.dim = 0 }},
		{"zero batch size", func(f *trainFlags) { f.batchSize = 0 }},
		{"zero hidden size", func(f *trainFlags) { f.hidden = []int{10, 0} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid()
			tt.mutate(f)
			_, err := f.trainConfig()
			assert.Error(t, err)
		})
	}
}

func TestBuildComponents(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Store.Root = t.TempDir()

	blobs, err := buildBlobStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.LocalStore{}, blobs)

	cfg.Store.Backend = "memory"
	blobs, err = buildBlobStore(ctx, cfg)
	require.NoError(t, err)
	assert.IsType(t, &blobstore.MemoryStore{}, blobs)

	cfg.Store.Backend = "tape"
	_, err = buildBlobStore(ctx, cfg)
	assert.Error(t, err)

	cfg.Embedding.Dim = 16
	enc, err := buildEncoder(cfg, vecclf.NoopLogger().Logger)
	require.NoError(t, err)
	assert.Equal(t, 16, enc.(*hashing.Encoder).Dim())

	cfg.Embedding.Provider = "word2vec"
	_, err = buildEncoder(cfg, vecclf.NoopLogger().Logger)
	assert.Error(t, err)

	src, closer, err := buildSource(cfg)
	require.NoError(t, err)
	assert.NotNil(t, src)
	assert.NoError(t, closer.Close())

	cfg.Corpus.Source = "ftp"
	_, _, err = buildSource(cfg)
	assert.Error(t, err)

	assert.IsType(t, visualize.PCA{}, buildProjector("pca", 1))
	tsne, ok := buildProjector("tsne", 7).(*visualize.TSNE)
	require.True(t, ok)
	assert.Equal(t, uint64(7), tsne.Seed)
}

func TestRunConfigMapping(t *testing.T) {
	cfg := config.Default()
	cfg.Corpus.Dataset = "imdb"
	cfg.Store.Prefix = "imdb"
	cfg.Train.SaveModelPath = "model.ckpt"
	cfg.Train.Hidden = []int{8}

	rc := runConfig(cfg)
	assert.Equal(t, "train", rc.Split)
	assert.Equal(t, "imdb", rc.Prefix)
	assert.Equal(t, cfg.Cluster.K, rc.K)
	assert.Equal(t, cfg.Visualize.Output, rc.PlotPath)
	assert.Equal(t, "model.ckpt", rc.Train.SavePath)
	assert.Equal(t, []int{8}, rc.Train.Hidden)

	disabled := false
	cfg.Visualize.Enabled = &disabled
	assert.Empty(t, runConfig(cfg).PlotPath)
}

func TestTrainCommand(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	rng := testutil.NewRNG(1)
	const n, dim = 40, 8
	m, err := tensor.FromRows(rng.ClusteredVectors(n, dim, 2, 0.1))
	require.NoError(t, err)
	require.NoError(t, store.New(blobstore.NewLocalStore(dir)).Save(ctx, "toy", m, rng.BinaryLabels(n)))

	ckpt := filepath.Join(dir, "models", "toy.ckpt")
	cmd := trainCmd()
	cmd.SetArgs([]string{
		"--dataset", filepath.Join(dir, "toy"),
		"--save_model_path", ckpt,
		"--dim", fmt.Sprint(dim),
		"--epochs", "2",
		"--batch_size", "8",
		"--hidden", "4,4",
		"--compression", "lz4",
		"--log-level", "error",
		"--quiet",
	})
	require.NoError(t, cmd.ExecuteContext(ctx))

	st, err := checkpoint.LoadFile(ckpt)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Epochs)
	assert.Len(t, st.Tensors, 6)
}

func TestTrainCommandErrors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("missing required flags", func(t *testing.T) {
		cmd := trainCmd()
		cmd.SetArgs([]string{"--epochs", "1"})
		err := cmd.ExecuteContext(ctx)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "dataset")
	})

	t.Run("missing artifacts", func(t *testing.T) {
		cmd := trainCmd()
		cmd.SetArgs([]string{
			"--dataset", filepath.Join(dir, "absent"),
			"--save_model_path", filepath.Join(dir, "m.ckpt"),
			"--quiet",
		})
		err := cmd.ExecuteContext(ctx)
		require.Error(t, err)
		assert.Equal(t, vecclf.StageLoad, vecclf.StageOf(err))
	})

	t.Run("unknown compression", func(t *testing.T) {
		cmd := trainCmd()
		cmd.SetArgs([]string{
			"--dataset", filepath.Join(dir, "toy"),
			"--save_model_path", filepath.Join(dir, "m.ckpt"),
			"--compression", "brotli",
		})
		assert.Error(t, cmd.ExecuteContext(ctx))
	})
}

func TestRunCommand(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data", "reviews")
	require.NoError(t, os.MkdirAll(dataDir, 0o755))

	var lines []string
	for i := range 30 {
		lines = append(lines,
			fmt.Sprintf(`{"text": "a wonderful touching film number %d", "label": 1}`, i),
			fmt.Sprintf(`{"text": "a dull boring mess number %d", "label": 0}`, i),
		)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dataDir, "train.jsonl"), []byte(strings.Join(lines, "\n")), 0o644))

	artifacts := filepath.Join(dir, "artifacts")
	ckpt := filepath.Join(dir, "model.ckpt")
	plot := filepath.Join(dir, "clusters.png")
	cfgPath := filepath.Join(dir, "vecclf.yaml")
	cfgYAML := fmt.Sprintf(`
corpus:
  source: file
  root: %q
  dataset: reviews
embedding:
  provider: hashing
  dim: 32
store:
  backend: local
  root: %q
cluster:
  k: 2
  seed: 3
  metric: cosine
visualize:
  output: %q
  projector: pca
train:
  epochs: 2
  batch_size: 16
  hidden: [4]
  save_model_path: %q
logging:
  level: error
`, filepath.Join(dir, "data"), artifacts, plot, ckpt)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgYAML), 0o644))

	var out bytes.Buffer
	cmd := runCmd()
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"--config", cfgPath, "--quiet"})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	assert.Contains(t, out.String(), "Center-Example")
	assert.Contains(t, out.String(), "a wonderful touching film")

	assert.FileExists(t, ckpt)
	assert.FileExists(t, plot)
	assert.FileExists(t, filepath.Join(artifacts, "reviews"+store.EmbedsSuffix))
	assert.FileExists(t, filepath.Join(artifacts, "reviews"+vecclf.ReportSuffix))
}

func TestRunCommandInvalidConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "vecclf.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("embedding:\n  provider: word2vec\n"), 0o644))

	cmd := runCmd()
	cmd.SetArgs([]string{"--config", cfgPath})
	err := cmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid configuration")
}
