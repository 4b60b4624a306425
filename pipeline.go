package vecclf

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecclf/blobstore"
	"github.com/hupe1980/vecclf/cluster"
	"github.com/hupe1980/vecclf/codec"
	"github.com/hupe1980/vecclf/dataset"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/store"
	"github.com/hupe1980/vecclf/tensor"
	"github.com/hupe1980/vecclf/trainer"
	"github.com/hupe1980/vecclf/visualize"
)

// ReportSuffix is appended to the artifact prefix to name the run report blob.
const ReportSuffix = "_report.json"

// TrainConfig controls the train stage.
type TrainConfig struct {
	Epochs       int
	LearningRate float64
	BatchSize    int
	// ValSplit is the fraction of rows held out for validation. Zero disables
	// validation.
	ValSplit    float64
	Hidden      []int
	Seed        uint64
	LogInterval int
	// SavePath is the checkpoint path. Empty skips checkpointing.
	SavePath string
}

// DefaultTrainConfig returns the default model and optimizer settings.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		Epochs:       10,
		LearningRate: nn.DefaultLearningRate,
		BatchSize:    dataset.DefaultBatchSize,
		ValSplit:     0.1,
		Hidden:       []int{10, 10},
		Seed:         42,
		LogInterval:  trainer.DefaultLogInterval,
	}
}

// TrainResult summarizes the train stage.
type TrainResult struct {
	History *trainer.History
	// ValLoss is the final validation loss, or -1 without a validation split.
	ValLoss    float64
	TrainRows  int
	ValRows    int
	Params     int
	Checkpoint string
	Trainer    *trainer.Trainer
}

// RunConfig describes a full pipeline run.
type RunConfig struct {
	Split  string
	Prefix string
	K      int
	// PlotPath is the cluster plot path. Empty skips the visualize stage.
	PlotPath string
	Train    TrainConfig
}

// Report is the machine-readable summary of a run.
type Report struct {
	RunID           string             `json:"run_id"`
	StartedAt       time.Time          `json:"started_at"`
	Split           string             `json:"split"`
	Prefix          string             `json:"prefix"`
	Rows            int                `json:"rows"`
	Dim             int                `json:"dim"`
	ClusterSizes    []int              `json:"cluster_sizes"`
	Representatives []int              `json:"representatives"`
	EpochLoss       []float64          `json:"epoch_loss"`
	ValLoss         []float64          `json:"val_loss,omitempty"`
	Steps           int                `json:"steps"`
	PlotPath        string             `json:"plot_path,omitempty"`
	Projection      string             `json:"projection,omitempty"`
	Checkpoint      string             `json:"checkpoint,omitempty"`
	Durations       map[string]float64 `json:"durations_seconds"`
}

// Pipeline wires the stages: load, persist, cluster, visualize, train and
// checkpoint. Every stage failure is returned as a *StageError.
type Pipeline struct {
	blobs  blobstore.BlobStore
	store  *store.Store
	opts   options
	runID  string
	logger *Logger
}

// New creates a pipeline persisting its artifacts to blobs.
func New(blobs blobstore.BlobStore, optFns ...Option) *Pipeline {
	opts := options{
		codec:            codec.Default,
		metricsCollector: NoopMetricsCollector{},
		logger:           NoopLogger(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.analyzer == nil {
		opts.analyzer = cluster.NewAnalyzer(cluster.WithLogger(opts.logger.Logger))
	}
	if opts.renderer == nil {
		opts.renderer = visualize.NewRenderer(visualize.WithLogger(opts.logger.Logger))
	}

	runID := uuid.NewString()
	return &Pipeline{
		blobs:  blobs,
		store:  store.New(blobs, store.WithLogger(opts.logger.Logger)),
		opts:   opts,
		runID:  runID,
		logger: opts.logger.WithRunID(runID),
	}
}

// RunID returns the unique id of this pipeline instance.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Store returns the embedding store.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

func (p *Pipeline) finish(ctx context.Context, stage Stage, start time.Time, err error, attrs ...any) error {
	p.logger.LogStage(ctx, stage, time.Since(start), err, attrs...)
	return stageError(stage, err)
}

// Embed loads split through the embedding pipeline.
func (p *Pipeline) Embed(ctx context.Context, split string) (*embedding.Result, error) {
	start := time.Now()
	if p.opts.embedder == nil {
		return nil, p.finish(ctx, StageLoad, start, fmt.Errorf("%w: embedder", ErrNotConfigured))
	}

	res, err := p.opts.embedder.Load(ctx, split)
	rows := 0
	if res != nil {
		rows = res.Embeddings.Rows
	}
	p.opts.metricsCollector.RecordEncode(rows, time.Since(start), err)
	if err != nil {
		return nil, p.finish(ctx, StageLoad, start, err, "split", split)
	}
	p.logger.LogStage(ctx, StageLoad, time.Since(start), nil, "split", split, "rows", rows, "dim", res.Dim())
	return res, nil
}

// Persist writes the embeddings and labels of res under prefix.
func (p *Pipeline) Persist(ctx context.Context, prefix string, res *embedding.Result) error {
	start := time.Now()
	err := p.store.Save(ctx, prefix, res.Embeddings, res.Corpus.Labels())
	return p.finish(ctx, StagePersist, start, err, "prefix", prefix)
}

// LoadPersisted reads the artifacts written by Persist. dim is the embedding width.
func (p *Pipeline) LoadPersisted(ctx context.Context, prefix string, dim int) (*tensor.Matrix, []int, error) {
	start := time.Now()
	m, err := p.store.LoadEmbeddings(ctx, prefix, tensor.Shape{Cols: dim})
	if err != nil {
		return nil, nil, p.finish(ctx, StageLoad, start, err, "prefix", prefix)
	}
	labels, err := p.store.LoadLabels(ctx, prefix, m.Rows)
	if err != nil {
		return nil, nil, p.finish(ctx, StageLoad, start, err, "prefix", prefix)
	}
	p.logger.LogStage(ctx, StageLoad, time.Since(start), nil, "prefix", prefix, "rows", m.Rows, "dim", dim)
	return m, labels, nil
}

// Cluster groups the rows of m into k clusters.
func (p *Pipeline) Cluster(ctx context.Context, m *tensor.Matrix, k int) (*cluster.Assignment, error) {
	start := time.Now()
	asg, err := p.opts.analyzer.Analyze(ctx, m, k)
	iterations := 0
	if asg != nil {
		iterations = asg.Iterations
	}
	p.opts.metricsCollector.RecordCluster(k, iterations, time.Since(start), err)
	if err != nil {
		return nil, p.finish(ctx, StageCluster, start, err, "k", k)
	}
	p.logger.LogStage(ctx, StageCluster, time.Since(start), nil, "k", k, "iterations", iterations, "sizes", asg.Sizes())
	return asg, nil
}

// Visualize renders the cluster plot of m to path.
func (p *Pipeline) Visualize(ctx context.Context, m *tensor.Matrix, asg *cluster.Assignment, path string) error {
	start := time.Now()
	err := p.opts.renderer.Render(ctx, m, asg, path)
	return p.finish(ctx, StageVisualize, start, err, "path", path)
}

// Train fits a binary classifier on (m, labels), evaluates it on the held-out
// split and writes a checkpoint when cfg.SavePath is set.
func (p *Pipeline) Train(ctx context.Context, m *tensor.Matrix, labels []int, cfg TrainConfig) (*TrainResult, error) {
	start := time.Now()

	ds, err := dataset.FromLabels(m, labels)
	if err != nil {
		return nil, p.finish(ctx, StageTrain, start, err)
	}
	trainSet, valSet, err := dataset.Split(ds, cfg.ValSplit, cfg.Seed)
	if err != nil {
		return nil, p.finish(ctx, StageTrain, start, err)
	}
	trainLoader, err := dataset.NewLoader(trainSet, cfg.BatchSize, true, cfg.Seed)
	if err != nil {
		return nil, p.finish(ctx, StageTrain, start, err)
	}

	model, err := nn.NewMLP(m.Cols, cfg.Hidden, 1, cfg.Seed)
	if err != nil {
		return nil, p.finish(ctx, StageTrain, start, err)
	}
	tr := trainer.New(model, nn.BCELoss{}, nn.NewAdam(cfg.LearningRate),
		trainer.WithLogger(p.logger.Logger),
		trainer.WithObserver(p.observer()),
		trainer.WithCheckpointOptions(p.opts.checkpointOpts...),
	)

	res := &TrainResult{
		ValLoss:   -1,
		TrainRows: trainSet.Len(),
		Params:    nn.NumParams(model.Params()),
		Trainer:   tr,
	}

	var val trainer.BatchSource
	if valSet != nil {
		valLoader, err := dataset.NewLoader(valSet, cfg.BatchSize, false, cfg.Seed)
		if err != nil {
			return nil, p.finish(ctx, StageTrain, start, err)
		}
		val = valLoader
		res.ValRows = valSet.Len()
	}

	res.History, err = tr.Train(ctx, trainLoader, val, trainer.Config{Epochs: cfg.Epochs, LogInterval: cfg.LogInterval})
	if err != nil {
		return nil, p.finish(ctx, StageTrain, start, err)
	}
	if n := len(res.History.ValLoss); n > 0 {
		res.ValLoss = res.History.ValLoss[n-1]
	}
	p.logger.LogStage(ctx, StageTrain, time.Since(start), nil,
		"epochs", cfg.Epochs, "steps", res.History.Steps, "params", res.Params, "val_loss", res.ValLoss)

	if cfg.SavePath != "" {
		ckStart := time.Now()
		if err := tr.SaveCheckpoint(cfg.SavePath); err != nil {
			return nil, p.finish(ctx, StageCheckpoint, ckStart, err)
		}
		res.Checkpoint = cfg.SavePath
		p.logger.LogStage(ctx, StageCheckpoint, time.Since(ckStart), nil, "path", cfg.SavePath)
	}
	return res, nil
}

// Evaluate returns the mean loss of the model held by tr over batches.
func (p *Pipeline) Evaluate(ctx context.Context, tr *trainer.Trainer, batches trainer.BatchSource) (float64, error) {
	start := time.Now()
	loss, err := tr.Evaluate(ctx, batches)
	if err != nil {
		p.opts.metricsCollector.RecordEvaluate(0, time.Since(start), err)
		return 0, p.finish(ctx, StageEvaluate, start, err)
	}
	p.logger.LogStage(ctx, StageEvaluate, time.Since(start), nil, "loss", loss)
	return loss, nil
}

func (p *Pipeline) observer() trainer.Observer {
	obs := observers{metricsObserver{mc: p.opts.metricsCollector}}
	return append(obs, p.opts.observers...)
}

// Run executes load, persist, cluster, visualize, train and checkpoint in order and
// stores a JSON report next to the artifacts.
func (p *Pipeline) Run(ctx context.Context, cfg RunConfig) (*Report, error) {
	report := &Report{
		RunID:     p.runID,
		StartedAt: time.Now().UTC(),
		Split:     cfg.Split,
		Prefix:    cfg.Prefix,
		Durations: make(map[string]float64),
	}
	timed := func(stage Stage, start time.Time) {
		report.Durations[string(stage)] = time.Since(start).Seconds()
	}

	start := time.Now()
	res, err := p.Embed(ctx, cfg.Split)
	if err != nil {
		return nil, err
	}
	timed(StageLoad, start)
	report.Rows = res.Embeddings.Rows
	report.Dim = res.Dim()

	start = time.Now()
	if err := p.Persist(ctx, cfg.Prefix, res); err != nil {
		return nil, err
	}
	timed(StagePersist, start)

	start = time.Now()
	asg, err := p.Cluster(ctx, res.Embeddings, cfg.K)
	if err != nil {
		return nil, err
	}
	timed(StageCluster, start)
	report.ClusterSizes = asg.Sizes()
	report.Representatives = asg.Representatives
	if p.opts.summary != nil {
		if err := asg.WriteSummary(p.opts.summary, res.Corpus); err != nil {
			return nil, stageError(StageCluster, err)
		}
	}

	if cfg.PlotPath != "" {
		start = time.Now()
		if err := p.Visualize(ctx, res.Embeddings, asg, cfg.PlotPath); err != nil {
			return nil, err
		}
		timed(StageVisualize, start)
		report.PlotPath = cfg.PlotPath
		report.Projection = p.opts.renderer.Method(res.Embeddings.Rows)
	}

	start = time.Now()
	tres, err := p.Train(ctx, res.Embeddings, res.Corpus.Labels(), cfg.Train)
	if err != nil {
		return nil, err
	}
	timed(StageTrain, start)
	report.EpochLoss = tres.History.EpochLoss
	report.ValLoss = tres.History.ValLoss
	report.Steps = tres.History.Steps
	report.Checkpoint = tres.Checkpoint

	if err := p.writeReport(ctx, cfg.Prefix+ReportSuffix, report); err != nil {
		return nil, stageError(StagePersist, err)
	}
	return report, nil
}

type indenter interface {
	MarshalIndent(v any) ([]byte, error)
}

func (p *Pipeline) writeReport(ctx context.Context, name string, r *Report) error {
	var (
		data []byte
		err  error
	)
	if ic, ok := p.opts.codec.(indenter); ok {
		data, err = ic.MarshalIndent(r)
	} else {
		data, err = p.opts.codec.Marshal(r)
	}
	if err != nil {
		return err
	}
	if err := p.blobs.Put(ctx, name, data); err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrIO, name, err)
	}
	p.logger.InfoContext(ctx, "report written", "blob", name)
	return nil
}

// ReadReport reads the report of a previous run stored under prefix.
func (p *Pipeline) ReadReport(ctx context.Context, prefix string) (*Report, error) {
	name := prefix + ReportSuffix
	data, err := blobstore.ReadAll(ctx, p.blobs, name)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrIO, name, err)
	}
	var r Report
	if err := p.opts.codec.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrFormat, name, err)
	}
	return &r, nil
}

type observers []trainer.Observer

func (o observers) OnStep(epoch, step int, loss float64, d time.Duration) {
	for _, obs := range o {
		obs.OnStep(epoch, step, loss, d)
	}
}

func (o observers) OnEpoch(epoch int, loss float64, d time.Duration) {
	for _, obs := range o {
		obs.OnEpoch(epoch, loss, d)
	}
}

func (o observers) OnEvaluate(loss float64, d time.Duration) {
	for _, obs := range o {
		obs.OnEvaluate(loss, d)
	}
}
