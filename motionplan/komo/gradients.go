package komo

import (
	"math"

	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/motionplan/solver"
)

const defaultGradientTolerance = 1e-4

// GradientFailure is a Jacobian row whose analytic and numeric values disagree.
type GradientFailure struct {
	Row       int
	Step      int
	Objective string
	Column    int
	Analytic  float64
	Numeric   float64
}

// GradientCheck is the outcome of CheckGradients.
type GradientCheck struct {
	MaxDiff  float64
	Failures []GradientFailure
}

// Success reports whether every row passed.
func (gc *GradientCheck) Success() bool {
	return len(gc.Failures) == 0
}

// CheckGradients compares the Jacobian of the assembled problem at the current decision vector with
// central finite differences. A row fails when its largest difference exceeds tolerance both
// absolutely and relative to the analytic entry. Failures are logged.
func (k *KOMO) CheckGradients(tolerance float64) (*GradientCheck, error) {
	if k.plan.Timing.T() == 0 {
		return nil, ErrZeroHorizon
	}
	if tolerance <= 0 {
		tolerance = defaultGradientTolerance
	}
	if k.x == nil {
		if err := k.Reset(0); err != nil {
			return nil, err
		}
	}
	assembler := k.newAssembler()
	layout, err := assembler.Layout()
	if err != nil {
		return nil, err
	}
	var problem solver.ConstrainedProblem = assembler
	x0 := k.x
	if k.spline != nil {
		problem = &splineProblem{inner: assembler, spline: k.spline}
		x0 = k.z
	}

	phi, jac, err := problem.Evaluate(x0)
	if err != nil {
		return nil, err
	}
	check := &GradientCheck{}
	if len(phi) == 0 || len(x0) == 0 {
		return check, nil
	}

	var evalErr error
	numeric := mat.NewDense(len(phi), len(x0), nil)
	fd.Jacobian(numeric, func(y, x []float64) {
		v, _, err := problem.Evaluate(x)
		if err != nil {
			evalErr = err
			return
		}
		copy(y, v)
	}, x0, &fd.JacobianSettings{Formula: fd.Central})
	if evalErr != nil {
		return nil, evalErr
	}
	// put the timeline back where it was
	if _, _, err := assembler.Evaluate(k.x); err != nil {
		return nil, err
	}

	for i := range phi {
		col, md := 0, 0.
		for j := range x0 {
			if d := math.Abs(jac.At(i, j) - numeric.At(i, j)); d > md {
				col, md = j, d
			}
		}
		check.MaxDiff = math.Max(check.MaxDiff, md)
		analytic := jac.At(i, col)
		if md > tolerance && md > math.Abs(analytic)*tolerance {
			failure := GradientFailure{
				Row:       i,
				Step:      layout.Times[i],
				Objective: layout.Names[i],
				Column:    col,
				Analytic:  analytic,
				Numeric:   numeric.At(i, col),
			}
			check.Failures = append(check.Failures, failure)
			k.logger.Warnw("gradient check failure",
				"row", i, "step", failure.Step, "objective", failure.Objective,
				"max_diff", md, "analytic", failure.Analytic, "numeric", failure.Numeric)
		}
	}
	if check.Success() {
		k.logger.Infow("gradient check succeeded", "max_diff", check.MaxDiff)
	}
	return check, nil
}
