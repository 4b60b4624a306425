package nn

import (
	"math"

	"github.com/hupe1980/vecclf/tensor"
)

const (
	// minLog bounds log terms so a saturated prediction yields a finite loss.
	minLog = -100
	bceEps = 1e-12
)

// BCELoss is the mean binary cross-entropy between probabilities and 0/1 targets.
// Predictions and targets must both be shaped [b,1].
type BCELoss struct{}

func (BCELoss) check(op string, pred, target *tensor.Matrix) error {
	if err := tensor.Expect(op, pred, tensor.Shape{Cols: 1}); err != nil {
		return err
	}
	return tensor.Expect(op, target, pred.Shape())
}

// Forward implements LossFn.
func (l BCELoss) Forward(pred, target *tensor.Matrix) (float64, error) {
	if err := l.check("bce loss", pred, target); err != nil {
		return 0, err
	}
	if pred.Rows == 0 {
		return 0, nil
	}

	var sum float64
	for i, p := range pred.Data {
		t := float64(target.Data[i])
		lp := math.Max(math.Log(float64(p)), minLog)
		lq := math.Max(math.Log(1-float64(p)), minLog)
		sum -= t*lp + (1-t)*lq
	}
	return sum / float64(pred.Rows), nil
}

// Backward implements LossFn.
func (l BCELoss) Backward(pred, target *tensor.Matrix) (*tensor.Matrix, error) {
	if err := l.check("bce loss backward", pred, target); err != nil {
		return nil, err
	}

	grad := tensor.New(pred.Rows, 1)
	n := float64(pred.Rows)
	for i, p := range pred.Data {
		pf := float64(p)
		t := float64(target.Data[i])
		grad.Data[i] = float32((pf - t) / math.Max(pf*(1-pf), bceEps) / n)
	}
	return grad, nil
}
