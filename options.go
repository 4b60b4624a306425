package vecclf

import (
	"io"

	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/hupe1980/vecclf/cluster"
	"github.com/hupe1980/vecclf/codec"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/trainer"
	"github.com/hupe1980/vecclf/visualize"
)

type options struct {
	codec            codec.Codec
	metricsCollector MetricsCollector
	logger           *Logger
	embedder         *embedding.Pipeline
	analyzer         *cluster.Analyzer
	renderer         *visualize.Renderer
	observers        []trainer.Observer
	checkpointOpts   []checkpoint.Option
	summary          io.Writer
}

// Option configures a Pipeline.
type Option func(*options)

// WithCodec configures the codec used to encode the run report.
//
// If nil is passed, codec.Default is used.
func WithCodec(c codec.Codec) Option {
	return func(o *options) {
		if c == nil {
			c = codec.Default
		}
		o.codec = c
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metricsCollector = mc
	}
}

// WithLogger sets the logger.
func WithLogger(l *Logger) Option {
	return func(o *options) {
		if l == nil {
			l = NoopLogger()
		}
		o.logger = l
	}
}

// WithEmbedder sets the embedding pipeline used by the load stage.
func WithEmbedder(p *embedding.Pipeline) Option {
	return func(o *options) {
		o.embedder = p
	}
}

// WithAnalyzer replaces the default cluster analyzer.
func WithAnalyzer(a *cluster.Analyzer) Option {
	return func(o *options) {
		o.analyzer = a
	}
}

// WithRenderer replaces the default cluster plot renderer.
func WithRenderer(r *visualize.Renderer) Option {
	return func(o *options) {
		o.renderer = r
	}
}

// WithTrainObserver registers an additional observer for training events.
func WithTrainObserver(obs trainer.Observer) Option {
	return func(o *options) {
		o.observers = append(o.observers, obs)
	}
}

// WithCheckpointOptions sets the options used when writing checkpoints.
func WithCheckpointOptions(opts ...checkpoint.Option) Option {
	return func(o *options) {
		o.checkpointOpts = opts
	}
}

// WithSummaryWriter makes Run print a per-cluster table (size, representative row and
// its text) to w once clustering is done.
func WithSummaryWriter(w io.Writer) Option {
	return func(o *options) {
		o.summary = w
	}
}
