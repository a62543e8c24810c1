// Package feature defines differentiable functions of short sequences of kinematic configurations.
//
// A feature is evaluated on a tuple of configurations. The order of the evaluation is len(tuple)-1:
// order zero is a function of one configuration, order one its velocity by finite differences,
// order two its acceleration. Jacobian columns are the concatenated joint states of the tuple, in
// tuple order.
package feature

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/referenceframe"
	"go.viam.com/trajopt/utils"
)

// ErrEmptyTuple is returned when a feature is evaluated without configurations.
var ErrEmptyTuple = errors.New("feature evaluated on an empty tuple")

// Feature is a vector valued differentiable function of a configuration tuple.
type Feature interface {
	// Name identifies the feature in reports.
	Name() string
	// Order is the natural order of the feature, used when an objective does not set one.
	Order() int
	// Dim returns len(y) for the tuple without evaluating the Jacobian.
	Dim(tuple []*referenceframe.FrameSystem) (int, error)
	// Eval returns y and its Jacobian. A zero length y comes with a nil Jacobian, as does a tuple
	// without any degrees of freedom.
	Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error)
}

// TargetSignFlipper is implemented by features whose target should be negated whenever it points
// away from the current value, such as axis alignment where both directions are acceptable.
type TargetSignFlipper interface {
	FlipTargetSignOnNegScalarProduct() bool
}

// TupleDoF returns the number of Jacobian columns for a tuple.
func TupleDoF(tuple []*referenceframe.FrameSystem) int {
	total := 0
	for _, fs := range tuple {
		total += fs.DoF()
	}
	return total
}

// DifferenceCoefficients returns the backward difference weights for the given order, so that
// sum_i c[i] y[i] / tau^order approximates the order-th derivative at the last sample.
func DifferenceCoefficients(order int, tau float64) []float64 {
	if tau <= 0 {
		tau = 1
	}
	scale := math.Pow(tau, float64(order))
	coeffs := make([]float64, order+1)
	for i := 0; i <= order; i++ {
		sign := 1.
		if (order-i)%2 == 1 {
			sign = -1
		}
		coeffs[i] = sign * utils.Binomial(order, i) / scale
	}
	return coeffs
}

// pointwise evaluates a function of one configuration. J has one column per joint of fs.
type pointwise func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error)

// finiteDifference combines per configuration values into the order len(tuple)-1 difference. If
// the configurations disagree on the value dimension, the feature is empty on this tuple.
func finiteDifference(tuple []*referenceframe.FrameSystem, f pointwise) ([]float64, *mat.Dense, error) {
	if len(tuple) == 0 {
		return nil, nil, ErrEmptyTuple
	}
	order := len(tuple) - 1
	coeffs := DifferenceCoefficients(order, tuple[order].Tau())

	ys := make([][]float64, len(tuple))
	js := make([]*mat.Dense, len(tuple))
	for i, fs := range tuple {
		y, j, err := f(fs)
		if err != nil {
			return nil, nil, err
		}
		if i > 0 && len(y) != len(ys[0]) {
			return nil, nil, nil
		}
		ys[i], js[i] = y, j
	}
	dim := len(ys[0])
	if dim == 0 {
		return nil, nil, nil
	}

	y := make([]float64, dim)
	for i, yi := range ys {
		for k, v := range yi {
			y[k] += coeffs[i] * v
		}
	}

	cols := TupleDoF(tuple)
	if cols == 0 {
		return y, nil, nil
	}
	jac := mat.NewDense(dim, cols, nil)
	offset := 0
	for i, fs := range tuple {
		n := fs.DoF()
		if n > 0 && js[i] != nil {
			block := jac.Slice(0, dim, offset, offset+n).(*mat.Dense)
			block.Scale(coeffs[i], js[i])
		}
		offset += n
	}
	return y, jac, nil
}

// dimOf evaluates only the dimension of a pointwise feature on a tuple.
func dimOf(tuple []*referenceframe.FrameSystem, dim func(fs *referenceframe.FrameSystem) (int, error)) (int, error) {
	if len(tuple) == 0 {
		return 0, ErrEmptyTuple
	}
	first := -1
	for _, fs := range tuple {
		d, err := dim(fs)
		if err != nil {
			return 0, err
		}
		if first >= 0 && d != first {
			return 0, nil
		}
		first = d
	}
	return first, nil
}
