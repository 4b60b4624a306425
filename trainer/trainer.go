// Package trainer runs epoch-based training and evaluation of an nn.Model and
// checkpoints its parameters.
package trainer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/hupe1980/vecclf/dataset"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/tensor"
)

// ErrEmptyLoader is returned when a batch source yields no batches.
var ErrEmptyLoader = errors.New("empty loader")

// DefaultLogInterval is the number of batches between progress log lines.
const DefaultLogInterval = 100

// Mode is the trainer state.
type Mode int

const (
	// ModeTraining records activations and allows parameter updates.
	ModeTraining Mode = iota
	// ModeEvaluation disables gradient tracking.
	ModeEvaluation
)

func (m Mode) String() string {
	switch m {
	case ModeTraining:
		return "training"
	case ModeEvaluation:
		return "evaluation"
	default:
		return fmt.Sprintf("Unknown(%d)", int(m))
	}
}

// BatchSource yields one pass of batches. *dataset.Loader and dataset.BatchList
// implement it.
type BatchSource interface {
	Batches() []dataset.Batch
}

// Config controls a Train call.
type Config struct {
	Epochs int
	// LogInterval is the number of batches between progress lines. Zero uses
	// DefaultLogInterval.
	LogInterval int
}

// History records the losses observed by Train.
type History struct {
	// EpochLoss holds the mean training batch loss per epoch.
	EpochLoss []float64
	// ValLoss holds the validation loss per epoch when a validation source was given.
	ValLoss []float64
	// Steps is the number of optimizer steps applied.
	Steps int
}

// Observer receives training events.
type Observer interface {
	OnStep(epoch, step int, loss float64, elapsed time.Duration)
	OnEpoch(epoch int, loss float64, elapsed time.Duration)
	OnEvaluate(loss float64, elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) OnStep(int, int, float64, time.Duration) {}
func (noopObserver) OnEpoch(int, float64, time.Duration)     {}
func (noopObserver) OnEvaluate(float64, time.Duration)       {}

type options struct {
	logger         *slog.Logger
	observer       Observer
	checkpointOpts []checkpoint.Option
}

// Option configures a Trainer.
type Option func(*options)

// WithLogger sets the logger used for progress lines.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver registers an observer for step, epoch and evaluation events.
func WithObserver(obs Observer) Option {
	return func(o *options) { o.observer = obs }
}

// WithCheckpointOptions sets the options used when writing and reading checkpoints.
func WithCheckpointOptions(opts ...checkpoint.Option) Option {
	return func(o *options) { o.checkpointOpts = opts }
}

// Trainer owns a model, its loss function and its optimizer.
type Trainer struct {
	model nn.Model
	loss  nn.LossFn
	opt   nn.Optimizer
	opts  options

	mode   Mode
	epochs int
}

// New creates a trainer in training mode.
func New(model nn.Model, loss nn.LossFn, opt nn.Optimizer, optFns ...Option) *Trainer {
	opts := options{
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	t := &Trainer{model: model, loss: loss, opt: opt, opts: opts}
	t.SetMode(ModeTraining)
	return t
}

// Model returns the trained model.
func (t *Trainer) Model() nn.Model {
	return t.model
}

// Mode returns the current mode.
func (t *Trainer) Mode() Mode {
	return t.mode
}

// SetMode switches between training and evaluation.
func (t *Trainer) SetMode(m Mode) {
	t.mode = m
	t.model.SetTraining(m == ModeTraining)
}

// Epochs returns the number of completed training epochs, including those restored
// from a checkpoint.
func (t *Trainer) Epochs() int {
	return t.epochs
}

// Train runs cfg.Epochs passes over train. When val is non-nil it is evaluated after
// every epoch. All epochs run; any batch error aborts the call.
func (t *Trainer) Train(ctx context.Context, train, val BatchSource, cfg Config) (*History, error) {
	if cfg.Epochs < 0 {
		return nil, fmt.Errorf("invalid epoch count %d", cfg.Epochs)
	}
	interval := cfg.LogInterval
	if interval <= 0 {
		interval = DefaultLogInterval
	}

	hist := &History{}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		start := time.Now()
		t.SetMode(ModeTraining)

		batches := train.Batches()
		if len(batches) == 0 {
			return hist, ErrEmptyLoader
		}

		var total, running float64
		for i, b := range batches {
			if err := ctx.Err(); err != nil {
				return hist, err
			}

			stepStart := time.Now()
			loss, err := t.step(b)
			if err != nil {
				return hist, fmt.Errorf("epoch %d batch %d: %w", epoch, i+1, err)
			}
			hist.Steps++
			total += loss
			running += loss
			t.opts.observer.OnStep(epoch, hist.Steps, loss, time.Since(stepStart))

			if (i+1)%interval == 0 {
				t.opts.logger.Info("training progress",
					"epoch", epoch, "batch", i+1, "loss", running/float64(interval))
				running = 0
			}
		}

		avg := total / float64(len(batches))
		hist.EpochLoss = append(hist.EpochLoss, avg)
		t.epochs++
		t.opts.observer.OnEpoch(epoch, avg, time.Since(start))
		t.opts.logger.Info("epoch complete",
			"epoch", epoch, "loss", avg, "batches", len(batches), "duration", time.Since(start))

		if val != nil {
			vloss, err := t.Evaluate(ctx, val)
			if err != nil {
				return hist, fmt.Errorf("epoch %d validation: %w", epoch, err)
			}
			hist.ValLoss = append(hist.ValLoss, vloss)
			t.opts.logger.Info("validation", "epoch", epoch, "loss", vloss)
		}
	}
	return hist, nil
}

func (t *Trainer) step(b dataset.Batch) (float64, error) {
	params := t.model.Params()
	t.opt.ZeroGrad(params)

	out, err := t.model.Forward(b.Inputs)
	if err != nil {
		return 0, err
	}
	loss, err := t.loss.Forward(out, b.Targets)
	if err != nil {
		return 0, err
	}
	grad, err := t.loss.Backward(out, b.Targets)
	if err != nil {
		return 0, err
	}
	if err := t.model.Backward(grad); err != nil {
		return 0, err
	}
	if err := t.opt.Step(params); err != nil {
		return 0, err
	}
	return loss, nil
}

// Evaluate returns the mean batch loss over batches in evaluation mode. Parameters
// are not modified.
func (t *Trainer) Evaluate(ctx context.Context, batches BatchSource) (float64, error) {
	start := time.Now()
	t.SetMode(ModeEvaluation)

	list := batches.Batches()
	if len(list) == 0 {
		return 0, ErrEmptyLoader
	}

	var total float64
	for i, b := range list {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		out, err := t.model.Forward(b.Inputs)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i+1, err)
		}
		loss, err := t.loss.Forward(out, b.Targets)
		if err != nil {
			return 0, fmt.Errorf("batch %d: %w", i+1, err)
		}
		total += loss
	}

	avg := total / float64(len(list))
	t.opts.observer.OnEvaluate(avg, time.Since(start))
	t.opts.logger.Debug("evaluation complete", "loss", avg, "batches", len(list))
	return avg, nil
}

// Predict returns model outputs for x in evaluation mode.
func (t *Trainer) Predict(x *tensor.Matrix) (*tensor.Matrix, error) {
	t.SetMode(ModeEvaluation)
	return t.model.Forward(x)
}

// WriteCheckpoint encodes the model parameters to w.
func (t *Trainer) WriteCheckpoint(w io.Writer) error {
	return checkpoint.Write(w, checkpoint.Capture(t.model.Params(), t.epochs), t.opts.checkpointOpts...)
}

// ReadCheckpoint restores model parameters from r. A checkpoint of a differently
// shaped model fails with nn.ErrShapeMismatch and leaves the model unchanged.
func (t *Trainer) ReadCheckpoint(r io.Reader) error {
	st, err := checkpoint.Read(r)
	if err != nil {
		return err
	}
	return t.restore(st)
}

// SaveCheckpoint writes the model parameters to path.
func (t *Trainer) SaveCheckpoint(path string) error {
	st := checkpoint.Capture(t.model.Params(), t.epochs)
	if err := checkpoint.SaveFile(path, st, t.opts.checkpointOpts...); err != nil {
		return fmt.Errorf("save checkpoint %s: %w", path, err)
	}
	t.opts.logger.Info("checkpoint saved", "path", path, "params", nn.NumParams(t.model.Params()))
	return nil
}

// LoadCheckpoint restores model parameters from path.
func (t *Trainer) LoadCheckpoint(path string) error {
	st, err := checkpoint.LoadFile(path, t.opts.checkpointOpts...)
	if err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	if err := t.restore(st); err != nil {
		return fmt.Errorf("load checkpoint %s: %w", path, err)
	}
	t.opts.logger.Info("checkpoint loaded", "path", path, "epochs", st.Epochs)
	return nil
}

func (t *Trainer) restore(st *checkpoint.State) error {
	if err := st.Apply(t.model.Params()); err != nil {
		return err
	}
	t.epochs = st.Epochs
	return nil
}
