package trainer

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hupe1980/vecclf/dataset"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingObserver struct {
	steps, epochs, evals int
}

func (o *countingObserver) OnStep(int, int, float64, time.Duration) { o.steps++ }
func (o *countingObserver) OnEpoch(int, float64, time.Duration)     { o.epochs++ }
func (o *countingObserver) OnEvaluate(float64, time.Duration)       { o.evals++ }

func newTrainer(t *testing.T, in int, optFns ...Option) *Trainer {
	t.Helper()
	model, err := nn.NewMLP(in, []int{10, 10}, 1, 0)
	require.NoError(t, err)
	return New(model, nn.BCELoss{}, nn.NewAdam(nn.DefaultLearningRate), optFns...)
}

func snapshot(m nn.Model) [][]float32 {
	var out [][]float32
	for _, p := range m.Params() {
		out = append(out, p.Value.Clone().Data)
	}
	return out
}

func loader(t *testing.T, n, dim, batchSize int) *dataset.Loader {
	t.Helper()
	rng := testutil.NewRNG(3)
	x, err := tensor.FromRows(rng.ClusteredVectors(n, dim, 2, 0.1))
	require.NoError(t, err)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = i % 2
	}
	ds, err := dataset.FromLabels(x, labels)
	require.NoError(t, err)
	l, err := dataset.NewLoader(ds, batchSize, true, 1)
	require.NoError(t, err)
	return l
}

func TestTrain_EndToEnd(t *testing.T) {
	x, err := tensor.FromRows([][]float32{{0.1, 0.2, 0.3}, {0.9, 0.8, 0.7}, {0.2, 0.1, 0.3}, {0.8, 0.9, 0.7}})
	require.NoError(t, err)
	ds, err := dataset.FromLabels(x, []int{0, 1, 0, 1})
	require.NoError(t, err)
	l, err := dataset.NewLoader(ds, 2, true, 0)
	require.NoError(t, err)

	var logs bytes.Buffer
	obs := &countingObserver{}
	tr := newTrainer(t, 3,
		WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		WithObserver(obs),
	)
	before := snapshot(tr.Model())

	hist, err := tr.Train(context.Background(), l, nil, Config{Epochs: 1, LogInterval: 100})
	require.NoError(t, err)

	assert.Equal(t, 2, len(l.Batches()))
	assert.Equal(t, 2, hist.Steps)
	assert.Equal(t, 2, obs.steps)
	require.Len(t, hist.EpochLoss, 1)
	assert.Greater(t, hist.EpochLoss[0], 0.0)
	assert.Empty(t, hist.ValLoss)
	assert.Equal(t, 1, strings.Count(logs.String(), "epoch complete"))
	assert.NotEqual(t, before, snapshot(tr.Model()))
	assert.Equal(t, 1, tr.Epochs())
}

func TestTrain_LogInterval(t *testing.T) {
	var logs bytes.Buffer
	tr := newTrainer(t, 4, WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	_, err := tr.Train(context.Background(), loader(t, 40, 4, 4), nil, Config{Epochs: 2, LogInterval: 3})
	require.NoError(t, err)

	// 10 batches per epoch log at batches 3, 6 and 9.
	assert.Equal(t, 6, strings.Count(logs.String(), "training progress"))
	assert.Equal(t, 2, strings.Count(logs.String(), "epoch complete"))
}

func TestTrain_LossDecreases(t *testing.T) {
	tr := newTrainer(t, 8)
	train := loader(t, 64, 8, 8)

	hist, err := tr.Train(context.Background(), train, train, Config{Epochs: 30})
	require.NoError(t, err)
	require.Len(t, hist.EpochLoss, 30)
	require.Len(t, hist.ValLoss, 30)
	assert.Equal(t, 30*8, hist.Steps)
	assert.Less(t, hist.EpochLoss[29], hist.EpochLoss[0])
}

func TestTrain_Validation(t *testing.T) {
	obs := &countingObserver{}
	tr := newTrainer(t, 4, WithObserver(obs))

	hist, err := tr.Train(context.Background(), loader(t, 20, 4, 5), loader(t, 8, 4, 4), Config{Epochs: 3})
	require.NoError(t, err)
	assert.Len(t, hist.ValLoss, 3)
	assert.Equal(t, 3, obs.evals)
	assert.Equal(t, 3, obs.epochs)
}

func TestTrain_TargetShapeMismatch(t *testing.T) {
	tr := newTrainer(t, 3)
	bad := dataset.BatchList{{Inputs: tensor.New(2, 3), Targets: tensor.New(1, 2)}}

	_, err := tr.Train(context.Background(), bad, nil, Config{Epochs: 1})
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
}

func TestTrain_EmptyLoader(t *testing.T) {
	_, err := newTrainer(t, 3).Train(context.Background(), dataset.BatchList{}, nil, Config{Epochs: 1})
	assert.ErrorIs(t, err, ErrEmptyLoader)
}

func TestTrain_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTrainer(t, 4).Train(ctx, loader(t, 8, 4, 4), nil, Config{Epochs: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestEvaluate_Idempotent(t *testing.T) {
	tr := newTrainer(t, 4)
	val := dataset.BatchList(loader(t, 12, 4, 4).Batches())

	before := snapshot(tr.Model())
	first, err := tr.Evaluate(context.Background(), val)
	require.NoError(t, err)
	second, err := tr.Evaluate(context.Background(), val)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, before, snapshot(tr.Model()))
	assert.Equal(t, ModeEvaluation, tr.Mode())
	assert.ErrorIs(t, tr.Model().Backward(tensor.New(4, 1)), nn.ErrNoGrad)
}

func TestEvaluate_Empty(t *testing.T) {
	_, err := newTrainer(t, 4).Evaluate(context.Background(), dataset.BatchList{})
	assert.ErrorIs(t, err, ErrEmptyLoader)
}

func TestCheckpoint_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "model.ckpt")

	src := newTrainer(t, 4)
	_, err := src.Train(ctx, loader(t, 16, 4, 4), nil, Config{Epochs: 2})
	require.NoError(t, err)
	require.NoError(t, src.SaveCheckpoint(path))

	dst := newTrainer(t, 4)
	require.NoError(t, dst.LoadCheckpoint(path))
	assert.Equal(t, snapshot(src.Model()), snapshot(dst.Model()))
	assert.Equal(t, 2, dst.Epochs())

	x := tensor.New(3, 4)
	a, err := src.Predict(x)
	require.NoError(t, err)
	b, err := dst.Predict(x)
	require.NoError(t, err)
	assert.Equal(t, a.Data, b.Data)
}

func TestCheckpoint_ShapeMismatch(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, newTrainer(t, 3).WriteCheckpoint(&buf))

	dst := newTrainer(t, 5)
	before := snapshot(dst.Model())
	err := dst.ReadCheckpoint(&buf)
	assert.ErrorIs(t, err, nn.ErrShapeMismatch)
	assert.Equal(t, before, snapshot(dst.Model()))

	path := filepath.Join(t.TempDir(), "small.ckpt")
	require.NoError(t, newTrainer(t, 3).SaveCheckpoint(path))
	assert.ErrorIs(t, dst.LoadCheckpoint(path), nn.ErrShapeMismatch)
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "training", ModeTraining.String())
	assert.Equal(t, "evaluation", ModeEvaluation.String())
}
