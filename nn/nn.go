// Package nn implements the small feed-forward networks the trainer fits: dense layers,
// activations, binary cross-entropy and first-order optimizers, all on float32 row-major
// matrices.
//
// A model runs in one of two modes. In training mode Forward records the activations
// Backward needs; in evaluation mode nothing is recorded and Backward fails with
// ErrNoGrad.
package nn

import (
	"errors"

	"github.com/hupe1980/vecclf/tensor"
)

var (
	// ErrShapeMismatch is returned when a tensor has the wrong shape for an operation.
	ErrShapeMismatch = tensor.ErrShapeMismatch

	// ErrNoGrad is returned by Backward when no activations were recorded, either
	// because the model is in evaluation mode or because Forward has not run.
	ErrNoGrad = errors.New("gradient tracking disabled")
)

// ShapeError describes a shape mismatch.
type ShapeError = tensor.ShapeError

// Param is a trainable tensor with its accumulated gradient.
type Param struct {
	Name  string
	Value *tensor.Matrix
	Grad  *tensor.Matrix
}

func newParam(name string, rows, cols int) *Param {
	return &Param{
		Name:  name,
		Value: tensor.New(rows, cols),
		Grad:  tensor.New(rows, cols),
	}
}

// Model is a differentiable function with trainable parameters.
type Model interface {
	// Forward computes the output for a batch of rows.
	Forward(x *tensor.Matrix) (*tensor.Matrix, error)
	// Backward propagates the loss gradient with respect to the last Forward output
	// and accumulates parameter gradients.
	Backward(gradOut *tensor.Matrix) error
	// Params returns the trainable parameters in a stable order.
	Params() []*Param
	// SetTraining switches between training and evaluation mode.
	SetTraining(training bool)
	// Training reports whether the model is in training mode.
	Training() bool
}

// LossFn scores predictions against targets.
type LossFn interface {
	// Forward returns the scalar loss.
	Forward(pred, target *tensor.Matrix) (float64, error)
	// Backward returns dLoss/dPred.
	Backward(pred, target *tensor.Matrix) (*tensor.Matrix, error)
}

// Optimizer updates parameters from their gradients.
type Optimizer interface {
	// ZeroGrad clears the gradients of params.
	ZeroGrad(params []*Param)
	// Step applies one update to params.
	Step(params []*Param) error
}

// ZeroGrad clears the gradients of params.
func ZeroGrad(params []*Param) {
	for _, p := range params {
		clear(p.Grad.Data)
	}
}

// NumParams returns the total number of scalar parameters.
func NumParams(params []*Param) int {
	n := 0
	for _, p := range params {
		n += len(p.Value.Data)
	}
	return n
}
