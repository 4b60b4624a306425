package main

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecclf"
	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/spf13/cobra"
)

type trainFlags struct {
	dataset       string
	saveModelPath string
	epochs        int
	learningRate  float64
	valSplit      float64
	dim           int
	batchSize     int
	hidden        []int
	seed          uint64
	logInterval   int
	compression   string
	logLevel      string
	metricsAddr   string
	quiet         bool
}

func (f *trainFlags) trainConfig() (vecclf.TrainConfig, error) {
	switch {
	case f.epochs < 1:
		return vecclf.TrainConfig{}, errors.New("--epochs must be at least 1")
	case f.learningRate <= 0:
		return vecclf.TrainConfig{}, errors.New("--learning_rate must be positive")
	case f.valSplit < 0 || f.valSplit >= 1:
		return vecclf.TrainConfig{}, errors.New("--val_split must be in [0, 1)")
	case f.dim < 1:
		return vecclf.TrainConfig{}, errors.New("--dim must be positive")
	case f.batchSize < 1:
		return vecclf.TrainConfig{}, errors.New("--batch_size must be positive")
	}
	for _, h := range f.hidden {
		if h < 1 {
			return vecclf.TrainConfig{}, fmt.Errorf("--hidden sizes must be positive, got %d", h)
		}
	}

	cfg := vecclf.DefaultTrainConfig()
	cfg.Epochs = f.epochs
	cfg.LearningRate = f.learningRate
	cfg.ValSplit = f.valSplit
	cfg.BatchSize = f.batchSize
	cfg.Hidden = f.hidden
	cfg.Seed = f.seed
	cfg.SavePath = f.saveModelPath
	if f.logInterval > 0 {
		cfg.LogInterval = f.logInterval
	}
	return cfg, nil
}

func trainCmd() *cobra.Command {
	defaults := vecclf.DefaultTrainConfig()
	f := &trainFlags{}

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a binary classifier on persisted embeddings",
		Long: "Loads <dataset>_embeds and <dataset>_labels, trains a feed-forward network " +
			"with binary cross-entropy and writes a checkpoint to --save_model_path.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrain(cmd, f)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&f.dataset, "dataset", "", "artifact prefix of the persisted embeddings, e.g. artifacts/imdb")
	flags.StringVar(&f.saveModelPath, "save_model_path", "", "checkpoint output path")
	flags.IntVar(&f.epochs, "epochs", defaults.Epochs, "number of training epochs")
	flags.Float64Var(&f.learningRate, "learning_rate", defaults.LearningRate, "Adam learning rate")
	flags.Float64Var(&f.valSplit, "val_split", defaults.ValSplit, "fraction of rows held out for validation")
	flags.IntVar(&f.dim, "dim", 384, "embedding dimension of the persisted matrix")
	flags.IntVar(&f.batchSize, "batch_size", defaults.BatchSize, "mini-batch size")
	flags.IntSliceVar(&f.hidden, "hidden", defaults.Hidden, "hidden layer sizes")
	flags.Uint64Var(&f.seed, "seed", defaults.Seed, "seed for weight init, split and shuffling")
	flags.IntVar(&f.logInterval, "log_interval", defaults.LogInterval, "steps between progress log lines")
	flags.StringVar(&f.compression, "compression", "zstd", "checkpoint compression: none, lz4 or zstd")
	flags.StringVar(&f.logLevel, "log-level", "info", "log level: debug, info, warn or error")
	flags.StringVar(&f.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	flags.BoolVar(&f.quiet, "quiet", false, "disable the progress display")

	_ = cmd.MarkFlagRequired("dataset")
	_ = cmd.MarkFlagRequired("save_model_path")

	return cmd
}

func runTrain(cmd *cobra.Command, f *trainFlags) error {
	ctx := cmd.Context()

	root, prefix, err := splitDatasetPath(f.dataset)
	if err != nil {
		return err
	}
	cfg, err := f.trainConfig()
	if err != nil {
		return err
	}
	comp, err := checkpoint.ParseCompression(f.compression)
	if err != nil {
		return err
	}

	logger := buildLogger(f.logLevel, "text").WithDataset(prefix)
	metricsOpt, stopMetrics := metricsOption(f.metricsAddr, logger)
	defer stopMetrics()

	opts := []vecclf.Option{
		vecclf.WithLogger(logger),
		metricsOpt,
		vecclf.WithCheckpointOptions(checkpoint.WithCompression(comp)),
	}
	var progress *trainProgress
	if !f.quiet {
		progress = newTrainProgress()
		opts = append(opts, vecclf.WithTrainObserver(progress))
	}

	p := vecclf.New(blobstore.NewLocalStore(root), opts...)

	m, labels, err := p.LoadPersisted(ctx, prefix, f.dim)
	if err != nil {
		return err
	}

	res, err := p.Train(ctx, m, labels, cfg)
	if progress != nil {
		progress.finish()
	}
	if err != nil {
		return err
	}

	printSuccess("Trained %d parameters on %d rows for %d epochs (%d steps)",
		res.Params, res.TrainRows, len(res.History.EpochLoss), res.History.Steps)
	if n := len(res.History.EpochLoss); n > 0 {
		printSuccess("Final training loss: %.4f", res.History.EpochLoss[n-1])
	}
	if res.ValLoss >= 0 {
		printSuccess("Validation loss on %d rows: %.4f", res.ValRows, res.ValLoss)
	}
	printSuccess("Checkpoint written to %s", res.Checkpoint)
	return nil
}
