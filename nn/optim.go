package nn

import (
	"errors"
	"fmt"
	"math"
)

// Adam defaults.
const (
	DefaultLearningRate = 0.001
	DefaultBeta1        = 0.9
	DefaultBeta2        = 0.999
	DefaultEpsilon      = 1e-8
)

// Adam implements the Adam optimizer with bias correction.
type Adam struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64

	step  int
	state map[*Param]*adamState
}

type adamState struct {
	m, v []float64
}

// NewAdam returns an Adam optimizer with the given learning rate and default moments.
func NewAdam(lr float64) *Adam {
	return &Adam{
		LearningRate: lr,
		Beta1:        DefaultBeta1,
		Beta2:        DefaultBeta2,
		Epsilon:      DefaultEpsilon,
		state:        make(map[*Param]*adamState),
	}
}

// ZeroGrad implements Optimizer.
func (a *Adam) ZeroGrad(params []*Param) {
	ZeroGrad(params)
}

// Step implements Optimizer.
func (a *Adam) Step(params []*Param) error {
	if a.LearningRate <= 0 {
		return fmt.Errorf("adam: invalid learning rate %v", a.LearningRate)
	}
	if a.state == nil {
		a.state = make(map[*Param]*adamState)
	}

	a.step++
	bc1 := 1 - math.Pow(a.Beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.Beta2, float64(a.step))

	for _, p := range params {
		st, ok := a.state[p]
		if !ok {
			st = &adamState{
				m: make([]float64, len(p.Value.Data)),
				v: make([]float64, len(p.Value.Data)),
			}
			a.state[p] = st
		}
		for i, g32 := range p.Grad.Data {
			g := float64(g32)
			st.m[i] = a.Beta1*st.m[i] + (1-a.Beta1)*g
			st.v[i] = a.Beta2*st.v[i] + (1-a.Beta2)*g*g
			mHat := st.m[i] / bc1
			vHat := st.v[i] / bc2
			p.Value.Data[i] -= float32(a.LearningRate * mHat / (math.Sqrt(vHat) + a.Epsilon))
		}
	}
	return nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.step
}

// SGD is stochastic gradient descent with optional momentum.
type SGD struct {
	LearningRate float64
	Momentum     float64

	velocity map[*Param][]float32
}

// NewSGD returns an SGD optimizer.
func NewSGD(lr, momentum float64) *SGD {
	return &SGD{LearningRate: lr, Momentum: momentum}
}

// ZeroGrad implements Optimizer.
func (s *SGD) ZeroGrad(params []*Param) {
	ZeroGrad(params)
}

// Step implements Optimizer.
func (s *SGD) Step(params []*Param) error {
	if s.LearningRate <= 0 {
		return errors.New("sgd: learning rate must be positive")
	}
	lr := float32(s.LearningRate)
	mu := float32(s.Momentum)

	for _, p := range params {
		if mu == 0 {
			for i, g := range p.Grad.Data {
				p.Value.Data[i] -= lr * g
			}
			continue
		}
		if s.velocity == nil {
			s.velocity = make(map[*Param][]float32)
		}
		v, ok := s.velocity[p]
		if !ok {
			v = make([]float32, len(p.Value.Data))
			s.velocity[p] = v
		}
		for i, g := range p.Grad.Data {
			v[i] = mu*v[i] + g
			p.Value.Data[i] -= lr * v[i]
		}
	}
	return nil
}
