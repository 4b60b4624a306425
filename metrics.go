package vecclf

import (
	"math"
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting pipeline metrics.
// Implement this interface to integrate with monitoring systems like Prometheus
// (see package prom).
type MetricsCollector interface {
	// RecordEncode is called after the corpus has been embedded.
	RecordEncode(rows int, duration time.Duration, err error)

	// RecordCluster is called after each clustering run.
	RecordCluster(k, iterations int, duration time.Duration, err error)

	// RecordStep is called after each optimizer step.
	RecordStep(loss float64, duration time.Duration)

	// RecordEpoch is called after each training epoch with its mean loss.
	RecordEpoch(epoch int, loss float64, duration time.Duration)

	// RecordEvaluate is called after each evaluation pass.
	RecordEvaluate(loss float64, duration time.Duration, err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
// Use this when metrics collection is not needed.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordEncode(int, time.Duration, error)       {}
func (NoopMetricsCollector) RecordCluster(int, int, time.Duration, error) {}
func (NoopMetricsCollector) RecordStep(float64, time.Duration)            {}
func (NoopMetricsCollector) RecordEpoch(int, float64, time.Duration)      {}
func (NoopMetricsCollector) RecordEvaluate(float64, time.Duration, error) {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	EncodeCount      atomic.Int64
	EncodeRows       atomic.Int64
	EncodeErrors     atomic.Int64
	ClusterCount     atomic.Int64
	ClusterErrors    atomic.Int64
	StepCount        atomic.Int64
	StepTotalNanos   atomic.Int64
	EpochCount       atomic.Int64
	EvaluateCount    atomic.Int64
	EvaluateErrors   atomic.Int64
	lastEpochLossBit atomic.Uint64
	lastEvalLossBit  atomic.Uint64
}

// RecordEncode implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEncode(rows int, duration time.Duration, err error) {
	b.EncodeCount.Add(1)
	if err != nil {
		b.EncodeErrors.Add(1)
		return
	}
	b.EncodeRows.Add(int64(rows))
}

// RecordCluster implements MetricsCollector.
func (b *BasicMetricsCollector) RecordCluster(k, iterations int, duration time.Duration, err error) {
	b.ClusterCount.Add(1)
	if err != nil {
		b.ClusterErrors.Add(1)
	}
}

// RecordStep implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStep(loss float64, duration time.Duration) {
	b.StepCount.Add(1)
	b.StepTotalNanos.Add(duration.Nanoseconds())
}

// RecordEpoch implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEpoch(epoch int, loss float64, duration time.Duration) {
	b.EpochCount.Add(1)
	b.lastEpochLossBit.Store(math.Float64bits(loss))
}

// RecordEvaluate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordEvaluate(loss float64, duration time.Duration, err error) {
	b.EvaluateCount.Add(1)
	if err != nil {
		b.EvaluateErrors.Add(1)
		return
	}
	b.lastEvalLossBit.Store(math.Float64bits(loss))
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		EncodeCount:    b.EncodeCount.Load(),
		EncodeRows:     b.EncodeRows.Load(),
		EncodeErrors:   b.EncodeErrors.Load(),
		ClusterCount:   b.ClusterCount.Load(),
		ClusterErrors:  b.ClusterErrors.Load(),
		StepCount:      b.StepCount.Load(),
		StepAvgNanos:   b.getAvgStepNanos(),
		EpochCount:     b.EpochCount.Load(),
		LastEpochLoss:  math.Float64frombits(b.lastEpochLossBit.Load()),
		EvaluateCount:  b.EvaluateCount.Load(),
		EvaluateErrors: b.EvaluateErrors.Load(),
		LastEvalLoss:   math.Float64frombits(b.lastEvalLossBit.Load()),
	}
}

func (b *BasicMetricsCollector) getAvgStepNanos() int64 {
	count := b.StepCount.Load()
	if count == 0 {
		return 0
	}
	return b.StepTotalNanos.Load() / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	EncodeCount    int64
	EncodeRows     int64
	EncodeErrors   int64
	ClusterCount   int64
	ClusterErrors  int64
	StepCount      int64
	StepAvgNanos   int64
	EpochCount     int64
	LastEpochLoss  float64
	EvaluateCount  int64
	EvaluateErrors int64
	LastEvalLoss   float64
}

// metricsObserver forwards trainer events to a MetricsCollector.
type metricsObserver struct {
	mc MetricsCollector
}

func (o metricsObserver) OnStep(_, _ int, loss float64, d time.Duration) {
	o.mc.RecordStep(loss, d)
}

func (o metricsObserver) OnEpoch(epoch int, loss float64, d time.Duration) {
	o.mc.RecordEpoch(epoch, loss, d)
}

func (o metricsObserver) OnEvaluate(loss float64, d time.Duration) {
	o.mc.RecordEvaluate(loss, d, nil)
}
