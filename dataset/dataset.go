// Package dataset pairs input rows with binary targets and serves them in mini-batches.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/hupe1980/vecclf/tensor"
)

// ErrIndex is returned for out-of-range items and for inputs and targets whose row
// counts differ.
var ErrIndex = errors.New("index out of range")

// Dataset is an indexable collection of (input, target) pairs. Targets are shaped
// [N,1], one scalar per example.
type Dataset struct {
	inputs  *tensor.Matrix
	targets *tensor.Matrix
}

// New pairs inputs with targets.
func New(inputs, targets *tensor.Matrix) (*Dataset, error) {
	if err := tensor.Expect("dataset targets", targets, tensor.Shape{Cols: 1}); err != nil {
		return nil, err
	}
	if inputs.Rows != targets.Rows {
		return nil, fmt.Errorf("%w: %d inputs, %d targets", ErrIndex, inputs.Rows, targets.Rows)
	}
	return &Dataset{inputs: inputs, targets: targets}, nil
}

// FromLabels reshapes integer labels into float32 [N,1] targets and pairs them
// with inputs.
func FromLabels(inputs *tensor.Matrix, labels []int) (*Dataset, error) {
	targets := tensor.New(len(labels), 1)
	for i, l := range labels {
		targets.Data[i] = float32(l)
	}
	return New(inputs, targets)
}

// Len returns the number of examples.
func (d *Dataset) Len() int {
	return d.inputs.Rows
}

// Dim returns the input width.
func (d *Dataset) Dim() int {
	return d.inputs.Cols
}

// Item returns the i-th input row and its target.
func (d *Dataset) Item(i int) ([]float32, float32, error) {
	if i < 0 || i >= d.Len() {
		return nil, 0, fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, i, d.Len())
	}
	return d.inputs.Row(i), d.targets.Data[i], nil
}

// Subset returns a dataset holding the rows at idx, in that order.
func (d *Dataset) Subset(idx []int) (*Dataset, error) {
	for _, i := range idx {
		if i < 0 || i >= d.Len() {
			return nil, fmt.Errorf("%w: %d not in [0,%d)", ErrIndex, i, d.Len())
		}
	}
	return &Dataset{inputs: d.inputs.Gather(idx), targets: d.targets.Gather(idx)}, nil
}

// Split shuffles the row order with seed and cuts off the trailing valFraction as the
// validation set. A zero fraction yields a nil validation set.
func Split(d *Dataset, valFraction float64, seed uint64) (train, val *Dataset, err error) {
	if valFraction < 0 || valFraction >= 1 {
		return nil, nil, fmt.Errorf("invalid validation fraction %v", valFraction)
	}

	perm := permutation(d.Len(), rand.New(rand.NewPCG(seed, seed)))
	nVal := int(float64(d.Len()) * valFraction)
	if valFraction > 0 && nVal == 0 && d.Len() > 1 {
		nVal = 1
	}
	nTrain := d.Len() - nVal

	train, err = d.Subset(perm[:nTrain])
	if err != nil {
		return nil, nil, err
	}
	if nVal == 0 {
		return train, nil, nil
	}
	val, err = d.Subset(perm[nTrain:])
	if err != nil {
		return nil, nil, err
	}
	return train, val, nil
}

func permutation(n int, rng *rand.Rand) []int {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	return perm
}
