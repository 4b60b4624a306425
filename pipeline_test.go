package vecclf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/dataset"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/embedding/hashing"
	"github.com/hupe1980/vecclf/store"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/visualize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviews(n int) []corpus.Example {
	positive := []string{"great movie loved it", "wonderful acting and a great plot", "loved every minute"}
	negative := []string{"terrible boring film", "awful script and bad acting", "boring and way too long"}

	out := make([]corpus.Example, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = corpus.Example{Text: fmt.Sprintf("%s %d", positive[i%3], i), Label: 1}
		} else {
			out[i] = corpus.Example{Text: fmt.Sprintf("%s %d", negative[i%3], i), Label: 0}
		}
	}
	return out
}

func newEmbedder(n int) *embedding.Pipeline {
	src := corpus.NewMemorySource()
	src.Add("imdb", "train", reviews(n)...)
	return embedding.NewPipeline(corpus.NewLoader(src, "imdb"), hashing.New(64))
}

type recordingObserver struct {
	steps int
}

func (r *recordingObserver) OnStep(int, int, float64, time.Duration) { r.steps++ }
func (r *recordingObserver) OnEpoch(int, float64, time.Duration)     {}
func (r *recordingObserver) OnEvaluate(float64, time.Duration)       {}

func TestPipeline_Run(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	blobs := blobstore.NewMemoryStore()
	mc := &BasicMetricsCollector{}
	obs := &recordingObserver{}
	var summary bytes.Buffer

	p := New(blobs,
		WithEmbedder(newEmbedder(60)),
		WithMetricsCollector(mc),
		WithRenderer(visualize.NewRenderer(visualize.WithProjector(visualize.PCA{}))),
		WithTrainObserver(obs),
		WithSummaryWriter(&summary),
	)
	require.NotEmpty(t, p.RunID())

	cfg := DefaultTrainConfig()
	cfg.Epochs = 3
	cfg.BatchSize = 16
	cfg.SavePath = filepath.Join(dir, "model.ckpt")

	report, err := p.Run(ctx, RunConfig{
		Split:    "train",
		Prefix:   "imdb",
		K:        2,
		PlotPath: filepath.Join(dir, "clusters.png"),
		Train:    cfg,
	})
	require.NoError(t, err)

	assert.Equal(t, p.RunID(), report.RunID)
	assert.Equal(t, 60, report.Rows)
	assert.Equal(t, 64, report.Dim)
	assert.Len(t, report.ClusterSizes, 2)
	assert.Equal(t, "pca", report.Projection)
	assert.Equal(t, 60, report.ClusterSizes[0]+report.ClusterSizes[1])

	lines := strings.Split(strings.TrimSpace(summary.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "Cluster"))
	for c, line := range lines[1:] {
		fields := strings.Fields(line)
		require.GreaterOrEqual(t, len(fields), 4, line)
		assert.Equal(t, fmt.Sprint(c), fields[0])
		assert.Equal(t, fmt.Sprint(report.ClusterSizes[c]), fields[1])
		assert.Equal(t, fmt.Sprint(report.Representatives[c]), fields[2])
	}
	assert.Len(t, report.EpochLoss, 3)
	assert.Len(t, report.ValLoss, 3)
	// 54 training rows in batches of 16.
	assert.Equal(t, 3*4, report.Steps)
	assert.Equal(t, report.Steps, obs.steps)

	for _, name := range []string{"imdb_embeds", "imdb_labels", "imdb_report.json"} {
		_, err := blobstore.ReadAll(ctx, blobs, name)
		assert.NoError(t, err, name)
	}
	for _, path := range []string{cfg.SavePath, report.PlotPath} {
		_, err := os.Stat(path)
		assert.NoError(t, err, path)
	}

	stored, err := p.ReadReport(ctx, "imdb")
	require.NoError(t, err)
	assert.Equal(t, report.Steps, stored.Steps)
	assert.Equal(t, report.ClusterSizes, stored.ClusterSizes)

	stats := mc.GetStats()
	assert.Equal(t, int64(1), stats.EncodeCount)
	assert.Equal(t, int64(60), stats.EncodeRows)
	assert.Equal(t, int64(1), stats.ClusterCount)
	assert.Equal(t, int64(12), stats.StepCount)
	assert.Equal(t, int64(3), stats.EpochCount)
	assert.Equal(t, int64(3), stats.EvaluateCount)
}

func TestPipeline_PersistedRoundTrip(t *testing.T) {
	ctx := context.Background()
	p := New(blobstore.NewLocalStore(t.TempDir()), WithEmbedder(newEmbedder(20)))

	res, err := p.Embed(ctx, "train")
	require.NoError(t, err)
	require.NoError(t, p.Persist(ctx, "imdb", res))

	m, labels, err := p.LoadPersisted(ctx, "imdb", res.Dim())
	require.NoError(t, err)
	assert.Equal(t, res.Embeddings.Data, m.Data)
	assert.Equal(t, res.Corpus.Labels(), labels)

	_, _, err = p.LoadPersisted(ctx, "imdb", res.Dim()+1)
	assert.ErrorIs(t, err, ErrFormat)
	assert.Equal(t, StageLoad, StageOf(err))
}

func TestPipeline_StageErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("load without embedder", func(t *testing.T) {
		_, err := New(blobstore.NewMemoryStore()).Embed(ctx, "train")
		assert.ErrorIs(t, err, ErrNotConfigured)
		assert.Equal(t, StageLoad, StageOf(err))
	})

	t.Run("missing split", func(t *testing.T) {
		_, err := New(blobstore.NewMemoryStore(), WithEmbedder(newEmbedder(4))).Embed(ctx, "test")
		assert.ErrorIs(t, err, ErrDataSource)
		var se *StageError
		require.ErrorAs(t, err, &se)
		assert.Equal(t, StageLoad, se.Stage)
		assert.Contains(t, se.Error(), "load:")
	})

	t.Run("missing artifacts", func(t *testing.T) {
		_, _, err := New(blobstore.NewMemoryStore()).LoadPersisted(ctx, "nope", 8)
		assert.ErrorIs(t, err, ErrIO)
		assert.ErrorIs(t, err, blobstore.ErrNotFound)
	})

	t.Run("cluster count", func(t *testing.T) {
		_, err := New(blobstore.NewMemoryStore()).Cluster(ctx, tensor.New(3, 2), 5)
		assert.ErrorIs(t, err, ErrInvalidClusterCount)
		assert.Equal(t, StageCluster, StageOf(err))
	})

	t.Run("visualize single row", func(t *testing.T) {
		p := New(blobstore.NewMemoryStore())
		m := tensor.New(1, 2)
		asg, err := p.Cluster(ctx, m, 1)
		require.NoError(t, err)
		err = p.Visualize(ctx, m, asg, filepath.Join(t.TempDir(), "x.png"))
		assert.ErrorIs(t, err, ErrRender)
		assert.Equal(t, StageVisualize, StageOf(err))
	})

	t.Run("label mismatch", func(t *testing.T) {
		_, err := New(blobstore.NewMemoryStore()).Train(ctx, tensor.New(4, 3), []int{0, 1}, DefaultTrainConfig())
		assert.ErrorIs(t, err, ErrIndex)
		assert.Equal(t, StageTrain, StageOf(err))
	})

	t.Run("evaluate empty", func(t *testing.T) {
		p := New(blobstore.NewMemoryStore())
		cfg := DefaultTrainConfig()
		cfg.Epochs = 1
		cfg.ValSplit = 0
		res, err := p.Train(ctx, tensor.New(4, 3), []int{0, 1, 0, 1}, cfg)
		require.NoError(t, err)
		assert.Equal(t, -1.0, res.ValLoss)

		_, err = p.Evaluate(ctx, res.Trainer, emptySource{})
		assert.ErrorIs(t, err, ErrEmptyLoader)
		assert.Equal(t, StageEvaluate, StageOf(err))
	})

	t.Run("checkpoint", func(t *testing.T) {
		dir := t.TempDir()
		blocker := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(blocker, nil, 0o644))

		cfg := DefaultTrainConfig()
		cfg.Epochs = 1
		cfg.SavePath = filepath.Join(blocker, "model.ckpt")
		_, err := New(blobstore.NewMemoryStore()).Train(ctx, tensor.New(4, 3), []int{0, 1, 0, 1}, cfg)
		assert.Equal(t, StageCheckpoint, StageOf(err))
	})
}

func TestStageError_NotDoubleWrapped(t *testing.T) {
	inner := &StageError{Stage: StageTrain, Err: errors.New("boom")}
	assert.Same(t, inner, stageError(StageCheckpoint, inner))
	assert.Nil(t, stageError(StageTrain, nil))
	assert.Equal(t, Stage(""), StageOf(errors.New("plain")))
}

func TestPipeline_StoreExposed(t *testing.T) {
	p := New(blobstore.NewMemoryStore())
	assert.IsType(t, &store.Store{}, p.Store())
}

type emptySource struct{}

func (emptySource) Batches() []dataset.Batch { return nil }
