package solver

import (
	"context"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"

	"go.viam.com/trajopt/logging"
)

// AugmentedLagrangian solves constrained problems by a sequence of unconstrained LBFGS solves of
// the augmented Lagrangian
//
//	L(x) = sum_sos phi^2 + sum_eq (l phi + mu phi^2) + sum_ineq,active (l phi + mu phi^2)
//
// followed by the multiplier updates l += 2 mu phi (clamped at zero for inequalities). An
// inequality is active when it is violated or its multiplier is positive.
type AugmentedLagrangian struct {
	opts   Options
	logger logging.Logger
}

// NewAugmentedLagrangian creates the solver. Zero options take defaults.
func NewAugmentedLagrangian(opts Options, logger logging.Logger) *AugmentedLagrangian {
	return &AugmentedLagrangian{opts: opts.withDefaults(), logger: logger}
}

type lagrangian struct {
	eval *evaluator
	dual []float64
	mu   float64
	err  error
}

func (l *lagrangian) coefficients(phi []float64) []float64 {
	coeff := make([]float64, len(phi))
	for i, v := range phi {
		switch l.eval.types[i] {
		case TermSOS:
			coeff[i] = 2 * v
		case TermEq:
			coeff[i] = l.dual[i] + 2*l.mu*v
		case TermIneq:
			if v > 0 || l.dual[i] > 0 {
				coeff[i] = l.dual[i] + 2*l.mu*v
			}
		}
	}
	return coeff
}

func (l *lagrangian) value(x []float64) float64 {
	phi, _, err := l.eval.eval(x)
	if err != nil {
		l.err = err
		return math.NaN()
	}
	total := 0.
	for i, v := range phi {
		switch l.eval.types[i] {
		case TermSOS:
			total += v * v
		case TermEq:
			total += l.dual[i]*v + l.mu*v*v
		case TermIneq:
			if v > 0 || l.dual[i] > 0 {
				total += l.dual[i]*v + l.mu*v*v
			}
		}
	}
	return total
}

func (l *lagrangian) gradient(grad, x []float64) {
	for i := range grad {
		grad[i] = 0
	}
	phi, jac, err := l.eval.eval(x)
	if err != nil {
		l.err = err
		return
	}
	for i, c := range l.coefficients(phi) {
		addRow(grad, jac, i, c)
	}
}

func (l *lagrangian) updateDual(phi []float64) {
	for i, v := range phi {
		switch l.eval.types[i] {
		case TermEq:
			l.dual[i] += 2 * l.mu * v
		case TermIneq:
			l.dual[i] = math.Max(0, l.dual[i]+2*l.mu*v)
		case TermSOS:
		}
	}
}

// Solve runs outer iterations until the step and the constraint violation are both below
// tolerance, the iteration limit is hit, or ctx is done.
func (al *AugmentedLagrangian) Solve(ctx context.Context, problem ConstrainedProblem, x0, dual []float64) (*Result, error) {
	eval, err := newEvaluator(problem)
	if err != nil {
		return nil, err
	}
	if len(x0) != eval.numVars {
		return nil, errors.Wrapf(ErrShapeMismatch, "initial point has %d variables, want %d", len(x0), eval.numVars)
	}
	l := &lagrangian{eval: eval, dual: make([]float64, len(eval.types)), mu: al.opts.MuInit}
	if len(dual) == len(eval.types) {
		copy(l.dual, dual)
	}

	x := make([]float64, len(x0))
	copy(x, x0)
	result := &Result{}

	prob := optimize.Problem{Func: l.value, Grad: l.gradient}
	settings := &optimize.Settings{
		MajorIterations:   al.opts.InnerIterations,
		GradientThreshold: al.opts.StopTolerance * 1e-2,
		Converger:         &optimize.FunctionConverge{Absolute: 1e-12, Relative: 1e-10, Iterations: 20},
	}

	for iter := 0; iter < al.opts.MaxIterations; iter++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if eval.evals > al.opts.MaxEvaluations {
			break
		}
		result.Iterations++

		inner, err := optimize.Minimize(prob, x, settings, &optimize.LBFGS{})
		if l.err != nil {
			return nil, l.err
		}
		// Line search failures near a minimum are expected; keep the best location found.
		if inner == nil {
			return nil, errors.Wrap(err, "inner solve failed")
		}
		step := floats.Distance(inner.X, x, math.Inf(1))
		copy(x, inner.X)

		phi, _, err := eval.eval(x)
		if err != nil {
			return nil, err
		}
		_, eq, ineq := Totals(eval.types, phi)
		if al.logger != nil {
			al.logger.Debugw("augmented lagrangian iteration",
				"iteration", iter, "mu", l.mu, "step", step, "eq", eq, "ineq", ineq, "evals", eval.evals)
		}
		if step < al.opts.StopTolerance && eq+ineq < al.opts.ConstraintTol {
			result.Converged = true
			break
		}
		l.updateDual(phi)
		l.mu *= al.opts.MuIncrease
	}

	phi, _, err := eval.eval(x)
	if err != nil {
		return nil, err
	}
	result.X = x
	result.Dual = l.dual
	result.Cost, result.Eq, result.Ineq = Totals(eval.types, phi)
	result.Evaluations = eval.evals
	return result, nil
}
