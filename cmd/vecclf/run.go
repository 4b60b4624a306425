package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/hupe1980/vecclf"
	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/hupe1980/vecclf/cluster"
	"github.com/hupe1980/vecclf/config"
	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/distance"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/visualize"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	var (
		configPath  string
		metricsAddr string
		quiet       bool
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline from a config file",
		Long: "Loads the corpus, embeds and persists it, clusters and plots the embeddings, " +
			"then trains and checkpoints the classifier.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if metricsAddr != "" {
				cfg.Metrics.Addr = metricsAddr
			}
			if errs := cfg.Validate(); len(errs) > 0 {
				for _, e := range errs {
					fmt.Fprintln(os.Stderr, color.YellowString("  %s", e))
				}
				return fmt.Errorf("invalid configuration: %d problem(s)", len(errs))
			}
			return runPipeline(cmd, cfg, quiet)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to the YAML config (default: vecclf.yaml)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	cmd.Flags().BoolVar(&quiet, "quiet", false, "disable the progress display")

	return cmd
}

// runConfig maps the file configuration onto the pipeline run settings.
func runConfig(cfg *config.Config) vecclf.RunConfig {
	train := vecclf.DefaultTrainConfig()
	train.Epochs = cfg.Train.Epochs
	train.LearningRate = cfg.Train.LearningRate
	train.BatchSize = cfg.Train.BatchSize
	train.ValSplit = cfg.Train.ValSplit
	train.Hidden = cfg.Train.Hidden
	train.Seed = cfg.Train.Seed
	train.LogInterval = cfg.Train.LogInterval
	train.SavePath = cfg.Train.SaveModelPath

	rc := vecclf.RunConfig{
		Split:  cfg.Corpus.Split,
		Prefix: cfg.Store.Prefix,
		K:      cfg.Cluster.K,
		Train:  train,
	}
	if cfg.VisualizeEnabled() {
		rc.PlotPath = cfg.Visualize.Output
	}
	return rc
}

func runPipeline(cmd *cobra.Command, cfg *config.Config, quiet bool) (err error) {
	ctx := cmd.Context()

	comp, err := checkpoint.ParseCompression(cfg.Train.Compression)
	if err != nil {
		return err
	}

	logger := buildLogger(cfg.Logging.Level, cfg.Logging.Format).WithDataset(cfg.Corpus.Dataset)

	blobs, err := buildBlobStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("store: %w", err)
	}
	src, closer, err := buildSource(cfg)
	if err != nil {
		return fmt.Errorf("corpus: %w", err)
	}
	defer func() {
		if cerr := closer.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
	}()
	enc, err := buildEncoder(cfg, logger.Logger)
	if err != nil {
		return fmt.Errorf("embedding: %w", err)
	}

	loader := corpus.NewLoader(src, cfg.Corpus.Dataset,
		corpus.WithLimit(cfg.Corpus.Limit),
		corpus.WithSeed(cfg.Corpus.Seed),
		corpus.WithLogger(logger.Logger),
	)
	embedOpts := []embedding.Option{
		embedding.WithBatchSize(cfg.Embedding.BatchSize),
		embedding.WithLogger(logger.Logger),
	}

	metric, err := distance.ParseMetric(cfg.Cluster.Metric)
	if err != nil {
		return fmt.Errorf("cluster: %w", err)
	}

	metricsOpt, stopMetrics := metricsOption(cfg.Metrics.Addr, logger)
	defer stopMetrics()

	opts := []vecclf.Option{
		vecclf.WithLogger(logger),
		metricsOpt,
		vecclf.WithAnalyzer(cluster.NewAnalyzer(
			cluster.WithSeed(cfg.Cluster.Seed),
			cluster.WithMaxIter(cfg.Cluster.MaxIter),
			cluster.WithMetric(metric),
			cluster.WithLogger(logger.Logger),
		)),
		vecclf.WithSummaryWriter(cmd.OutOrStdout()),
		vecclf.WithRenderer(visualize.NewRenderer(
			visualize.WithProjector(buildProjector(cfg.Visualize.Projector, cfg.Cluster.Seed)),
			visualize.WithTitle(fmt.Sprintf("%s embeddings (k=%d)", cfg.Corpus.Dataset, cfg.Cluster.K)),
			visualize.WithLogger(logger.Logger),
		)),
		vecclf.WithCheckpointOptions(checkpoint.WithCompression(comp)),
	}

	var progress *trainProgress
	if !quiet {
		embedOpts = append(embedOpts, (&embedProgress{}).option())
		progress = newTrainProgress()
		opts = append(opts, vecclf.WithTrainObserver(progress))
	}
	opts = append(opts, vecclf.WithEmbedder(embedding.NewPipeline(loader, enc, embedOpts...)))

	p := vecclf.New(blobs, opts...)

	report, err := p.Run(ctx, runConfig(cfg))
	if progress != nil {
		progress.finish()
	}
	if err != nil {
		return err
	}

	printReport(report)
	return nil
}

func printReport(r *vecclf.Report) {
	printSuccess("Run %s: embedded %d rows (dim %d) as %q", r.RunID, r.Rows, r.Dim, r.Prefix)
	if r.PlotPath != "" {
		printSuccess("Cluster plot (%s) written to %s", r.Projection, r.PlotPath)
	}
	if n := len(r.EpochLoss); n > 0 {
		printSuccess("Trained %d epochs (%d steps), final loss %.4f", n, r.Steps, r.EpochLoss[n-1])
	}
	if n := len(r.ValLoss); n > 0 {
		printSuccess("Final validation loss %.4f", r.ValLoss[n-1])
	}
	if r.Checkpoint != "" {
		printSuccess("Checkpoint written to %s", r.Checkpoint)
	}
}
