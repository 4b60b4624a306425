package nn

import (
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/hupe1980/vecclf/internal/math32"
	"github.com/hupe1980/vecclf/tensor"
)

// Layer is one stage of a Sequential model.
type Layer interface {
	// Forward computes the layer output. When record is set the layer keeps what
	// Backward needs.
	Forward(x *tensor.Matrix, record bool) (*tensor.Matrix, error)
	// Backward returns the gradient with respect to the layer input.
	Backward(gradOut *tensor.Matrix) (*tensor.Matrix, error)
	// Params returns the trainable parameters of the layer.
	Params() []*Param
	// Reset drops recorded activations.
	Reset()
}

// Linear computes x·Wᵀ + b. Weight is stored out x in.
type Linear struct {
	In, Out int
	Weight  *Param
	Bias    *Param

	input *tensor.Matrix
}

// NewLinear creates a dense layer initialised uniformly in ±1/sqrt(in).
func NewLinear(in, out int, rng *rand.Rand) *Linear {
	l := &Linear{
		In:     in,
		Out:    out,
		Weight: newParam("weight", out, in),
		Bias:   newParam("bias", 1, out),
	}
	bound := 1 / math.Sqrt(float64(in))
	for i := range l.Weight.Value.Data {
		l.Weight.Value.Data[i] = float32((2*rng.Float64() - 1) * bound)
	}
	for i := range l.Bias.Value.Data {
		l.Bias.Value.Data[i] = float32((2*rng.Float64() - 1) * bound)
	}
	return l
}

// Forward implements Layer.
func (l *Linear) Forward(x *tensor.Matrix, record bool) (*tensor.Matrix, error) {
	if err := tensor.Expect("linear forward", x, tensor.Shape{Cols: l.In}); err != nil {
		return nil, err
	}

	out := tensor.New(x.Rows, l.Out)
	bias := l.Bias.Value.Data
	for i := 0; i < x.Rows; i++ {
		xi := x.Row(i)
		oi := out.Row(i)
		for j := 0; j < l.Out; j++ {
			oi[j] = math32.Dot(xi, l.Weight.Value.Row(j)) + bias[j]
		}
	}

	if record {
		l.input = x
	} else {
		l.input = nil
	}
	return out, nil
}

// Backward implements Layer.
func (l *Linear) Backward(gradOut *tensor.Matrix) (*tensor.Matrix, error) {
	if l.input == nil {
		return nil, ErrNoGrad
	}
	if err := tensor.Expect("linear backward", gradOut, tensor.Shape{Rows: l.input.Rows, Cols: l.Out}); err != nil {
		return nil, err
	}

	gradIn := tensor.New(l.input.Rows, l.In)
	for i := 0; i < l.input.Rows; i++ {
		xi := l.input.Row(i)
		gi := gradOut.Row(i)
		dxi := gradIn.Row(i)
		for j, g := range gi {
			if g == 0 {
				continue
			}
			math32.Axpy(g, xi, l.Weight.Grad.Row(j))
			math32.Axpy(g, l.Weight.Value.Row(j), dxi)
		}
		math32.Add(l.Bias.Grad.Data, gi)
	}
	return gradIn, nil
}

// Params implements Layer.
func (l *Linear) Params() []*Param {
	return []*Param{l.Weight, l.Bias}
}

// Reset implements Layer.
func (l *Linear) Reset() {
	l.input = nil
}

// ReLU is max(0, x).
type ReLU struct {
	output *tensor.Matrix
}

// Forward implements Layer.
func (r *ReLU) Forward(x *tensor.Matrix, record bool) (*tensor.Matrix, error) {
	out := x.Clone()
	for i, v := range out.Data {
		if v < 0 {
			out.Data[i] = 0
		}
	}
	if record {
		r.output = out
	} else {
		r.output = nil
	}
	return out, nil
}

// Backward implements Layer.
func (r *ReLU) Backward(gradOut *tensor.Matrix) (*tensor.Matrix, error) {
	if r.output == nil {
		return nil, ErrNoGrad
	}
	if err := tensor.Expect("relu backward", gradOut, r.output.Shape()); err != nil {
		return nil, err
	}
	gradIn := gradOut.Clone()
	for i, v := range r.output.Data {
		if v <= 0 {
			gradIn.Data[i] = 0
		}
	}
	return gradIn, nil
}

// Params implements Layer.
func (r *ReLU) Params() []*Param { return nil }

// Reset implements Layer.
func (r *ReLU) Reset() { r.output = nil }

// Sigmoid is 1/(1+exp(-x)).
type Sigmoid struct {
	output *tensor.Matrix
}

// Forward implements Layer.
func (s *Sigmoid) Forward(x *tensor.Matrix, record bool) (*tensor.Matrix, error) {
	out := tensor.New(x.Rows, x.Cols)
	for i, v := range x.Data {
		out.Data[i] = math32.Sigmoid(v)
	}
	if record {
		s.output = out
	} else {
		s.output = nil
	}
	return out, nil
}

// Backward implements Layer.
func (s *Sigmoid) Backward(gradOut *tensor.Matrix) (*tensor.Matrix, error) {
	if s.output == nil {
		return nil, ErrNoGrad
	}
	if err := tensor.Expect("sigmoid backward", gradOut, s.output.Shape()); err != nil {
		return nil, err
	}
	gradIn := tensor.New(gradOut.Rows, gradOut.Cols)
	for i, y := range s.output.Data {
		gradIn.Data[i] = gradOut.Data[i] * y * (1 - y)
	}
	return gradIn, nil
}

// Params implements Layer.
func (s *Sigmoid) Params() []*Param { return nil }

// Reset implements Layer.
func (s *Sigmoid) Reset() { s.output = nil }

// Sequential chains layers. It starts in training mode.
type Sequential struct {
	layers   []Layer
	training bool
	recorded bool
}

// NewSequential creates a model from layers. Parameters are named
// "<layer index>.<param name>".
func NewSequential(layers ...Layer) *Sequential {
	for i, l := range layers {
		for _, p := range l.Params() {
			p.Name = fmt.Sprintf("%d.%s", i, p.Name)
		}
	}
	return &Sequential{layers: layers, training: true}
}

// NewMLP builds Linear/ReLU blocks for each hidden width followed by a Linear output
// layer and a sigmoid, so outputs are probabilities.
func NewMLP(in int, hidden []int, out int, seed uint64) (*Sequential, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("nn: invalid layer sizes in=%d out=%d", in, out)
	}
	rng := rand.New(rand.NewPCG(seed, seed))

	var layers []Layer
	prev := in
	for _, h := range hidden {
		if h <= 0 {
			return nil, fmt.Errorf("nn: invalid hidden width %d", h)
		}
		layers = append(layers, NewLinear(prev, h, rng), &ReLU{})
		prev = h
	}
	layers = append(layers, NewLinear(prev, out, rng), &Sigmoid{})

	return NewSequential(layers...), nil
}

// Layers returns the layers of the model.
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// InputDim returns the input width of the first dense layer, or 0 if there is none.
func (s *Sequential) InputDim() int {
	for _, l := range s.layers {
		if lin, ok := l.(*Linear); ok {
			return lin.In
		}
	}
	return 0
}

// Forward implements Model.
func (s *Sequential) Forward(x *tensor.Matrix) (*tensor.Matrix, error) {
	s.recorded = false
	out := x
	for i, l := range s.layers {
		var err error
		out, err = l.Forward(out, s.training)
		if err != nil {
			return nil, fmt.Errorf("layer %d: %w", i, err)
		}
	}
	s.recorded = s.training
	return out, nil
}

// Backward implements Model.
func (s *Sequential) Backward(gradOut *tensor.Matrix) error {
	if !s.training || !s.recorded {
		return ErrNoGrad
	}
	grad := gradOut
	for i := len(s.layers) - 1; i >= 0; i-- {
		var err error
		grad, err = s.layers[i].Backward(grad)
		if err != nil {
			return fmt.Errorf("layer %d: %w", i, err)
		}
	}
	return nil
}

// Params implements Model.
func (s *Sequential) Params() []*Param {
	var params []*Param
	for _, l := range s.layers {
		params = append(params, l.Params()...)
	}
	return params
}

// SetTraining implements Model. Leaving training mode drops recorded activations.
func (s *Sequential) SetTraining(training bool) {
	s.training = training
	if !training {
		s.recorded = false
		for _, l := range s.layers {
			l.Reset()
		}
	}
}

// Training implements Model.
func (s *Sequential) Training() bool {
	return s.training
}
