// Package prom exports pipeline metrics to Prometheus.
package prom

import (
	"net/http"
	"time"

	"github.com/hupe1980/vecclf"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ vecclf.MetricsCollector = (*Collector)(nil)

// Collector implements vecclf.MetricsCollector on Prometheus metrics.
type Collector struct {
	opLatency   *prometheus.HistogramVec
	ops         *prometheus.CounterVec
	encodedRows prometheus.Counter
	steps       prometheus.Counter
	stepLoss    prometheus.Gauge
	epochs      prometheus.Counter
	epochLoss   prometheus.Gauge
	evalLoss    prometheus.Gauge
	clusterIter prometheus.Gauge
}

// NewCollector creates the metrics and registers them with reg. A nil reg uses
// prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		opLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "vecclf_operation_latency_seconds",
			Help:    "Latency of pipeline operations",
			Buckets: prometheus.DefBuckets,
		}, []string{"op", "status"}),
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vecclf_operations_total",
			Help: "Total pipeline operations",
		}, []string{"op", "status"}),
		encodedRows: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vecclf_encoded_rows_total",
			Help: "Total corpus rows embedded",
		}),
		steps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vecclf_train_steps_total",
			Help: "Total optimizer steps",
		}),
		stepLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vecclf_train_step_loss",
			Help: "Loss of the most recent training batch",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vecclf_train_epochs_total",
			Help: "Total training epochs completed",
		}),
		epochLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vecclf_train_epoch_loss",
			Help: "Mean training loss of the most recent epoch",
		}),
		evalLoss: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vecclf_eval_loss",
			Help: "Mean loss of the most recent evaluation",
		}),
		clusterIter: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vecclf_cluster_iterations",
			Help: "Lloyd iterations of the most recent clustering run",
		}),
	}

	reg.MustRegister(
		c.opLatency,
		c.ops,
		c.encodedRows,
		c.steps,
		c.stepLoss,
		c.epochs,
		c.epochLoss,
		c.evalLoss,
		c.clusterIter,
	)
	return c
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (c *Collector) observe(op string, d time.Duration, err error) {
	s := status(err)
	c.opLatency.WithLabelValues(op, s).Observe(d.Seconds())
	c.ops.WithLabelValues(op, s).Inc()
}

// RecordEncode implements vecclf.MetricsCollector.
func (c *Collector) RecordEncode(rows int, d time.Duration, err error) {
	c.observe("encode", d, err)
	if err == nil {
		c.encodedRows.Add(float64(rows))
	}
}

// RecordCluster implements vecclf.MetricsCollector.
func (c *Collector) RecordCluster(k, iterations int, d time.Duration, err error) {
	c.observe("cluster", d, err)
	if err == nil {
		c.clusterIter.Set(float64(iterations))
	}
}

// RecordStep implements vecclf.MetricsCollector.
func (c *Collector) RecordStep(loss float64, d time.Duration) {
	c.opLatency.WithLabelValues("step", "success").Observe(d.Seconds())
	c.steps.Inc()
	c.stepLoss.Set(loss)
}

// RecordEpoch implements vecclf.MetricsCollector.
func (c *Collector) RecordEpoch(epoch int, loss float64, d time.Duration) {
	c.observe("epoch", d, nil)
	c.epochs.Inc()
	c.epochLoss.Set(loss)
}

// RecordEvaluate implements vecclf.MetricsCollector.
func (c *Collector) RecordEvaluate(loss float64, d time.Duration, err error) {
	c.observe("evaluate", d, err)
	if err == nil {
		c.evalLoss.Set(loss)
	}
}

// Handler serves the metrics gathered by g. A nil g uses
// prometheus.DefaultGatherer.
func Handler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		g = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
