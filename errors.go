package vecclf

import (
	"errors"
	"fmt"

	"github.com/hupe1980/vecclf/checkpoint"
	"github.com/hupe1980/vecclf/cluster"
	"github.com/hupe1980/vecclf/corpus"
	"github.com/hupe1980/vecclf/dataset"
	"github.com/hupe1980/vecclf/embedding"
	"github.com/hupe1980/vecclf/nn"
	"github.com/hupe1980/vecclf/store"
	"github.com/hupe1980/vecclf/trainer"
	"github.com/hupe1980/vecclf/visualize"
)

// Sentinel errors of the pipeline components, re-exported for errors.Is checks.
var (
	ErrDataSource          = corpus.ErrDataSource
	ErrEncoding            = embedding.ErrEncoding
	ErrIO                  = store.ErrIO
	ErrFormat              = store.ErrFormat
	ErrInvalidClusterCount = cluster.ErrInvalidClusterCount
	ErrRender              = visualize.ErrRender
	ErrIndex               = dataset.ErrIndex
	ErrEmptyLoader         = trainer.ErrEmptyLoader
	ErrShapeMismatch       = nn.ErrShapeMismatch
	ErrNoGrad              = nn.ErrNoGrad
	ErrCorruptCheckpoint   = checkpoint.ErrCorrupt

	// ErrNotConfigured is returned when a stage runs without the component it needs.
	ErrNotConfigured = errors.New("component not configured")
)

// Stage names a step of the pipeline.
type Stage string

// Pipeline stages.
const (
	StageLoad       Stage = "load"
	StagePersist    Stage = "persist"
	StageCluster    Stage = "cluster"
	StageVisualize  Stage = "visualize"
	StageTrain      Stage = "train"
	StageEvaluate   Stage = "evaluate"
	StageCheckpoint Stage = "checkpoint"
)

// StageError reports the stage in which a pipeline operation failed.
//
// The underlying error can be accessed via errors.Unwrap.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func stageError(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		return err
	}
	return &StageError{Stage: stage, Err: err}
}

// StageOf returns the stage recorded in err, or "" if err carries none.
func StageOf(err error) Stage {
	var se *StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return ""
}
