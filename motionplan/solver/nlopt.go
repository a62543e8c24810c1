//go:build !windows && !no_cgo

package solver

import (
	"context"

	"github.com/go-nlopt/nlopt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"go.viam.com/trajopt/logging"
)

// SLSQP hands problems to nlopt's sequential least squares programming solver. Sum of squares rows
// form the objective, the others become vector constraints. nlopt does not report multipliers.
type SLSQP struct {
	opts   Options
	logger logging.Logger
}

// NewSLSQP creates the solver.
func NewSLSQP(opts Options, logger logging.Logger) (*SLSQP, error) {
	return &SLSQP{opts: opts.withDefaults(), logger: logger}, nil
}

// Solve runs a single nlopt optimization. ctx is checked before starting and between evaluations.
func (s *SLSQP) Solve(ctx context.Context, problem ConstrainedProblem, x0, _ []float64) (*Result, error) {
	eval, err := newEvaluator(problem)
	if err != nil {
		return nil, err
	}
	if len(x0) != eval.numVars {
		return nil, errors.Wrapf(ErrShapeMismatch, "initial point has %d variables, want %d", len(x0), eval.numVars)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var eqRows, ineqRows []int
	for i, tt := range eval.types {
		switch tt {
		case TermEq:
			eqRows = append(eqRows, i)
		case TermIneq:
			ineqRows = append(ineqRows, i)
		case TermSOS:
		}
	}

	opt, err := nlopt.NewNLopt(nlopt.LD_SLSQP, uint(eval.numVars))
	if err != nil {
		return nil, errors.Wrap(err, "nlopt creation error")
	}
	defer opt.Destroy()

	var evalErr error
	stop := func(err error) {
		evalErr = err
		s.logger.Errorw("error evaluating problem in nlopt", "error", err)
		if stopErr := opt.ForceStop(); stopErr != nil {
			s.logger.Errorw("forcestop error", "error", stopErr)
		}
	}

	// Gradient is, under the hood, a C array that nlopt expects to be mutated in place.
	objective := func(x, gradient []float64) float64 {
		if ctx.Err() != nil {
			stop(ctx.Err())
			return 0
		}
		phi, jac, err := eval.eval(x)
		if err != nil {
			stop(err)
			return 0
		}
		for i := range gradient {
			gradient[i] = 0
		}
		total := 0.
		for i, v := range phi {
			if eval.types[i] != TermSOS {
				continue
			}
			total += v * v
			if len(gradient) > 0 {
				addRow(gradient, jac, i, 2*v)
			}
		}
		return total
	}

	constraint := func(rows []int) nlopt.Mfunc {
		return func(result, x, gradient []float64) {
			phi, jac, err := eval.eval(x)
			if err != nil {
				stop(err)
				return
			}
			for k := range gradient {
				gradient[k] = 0
			}
			for k, row := range rows {
				result[k] = phi[row]
				if len(gradient) > 0 {
					rowInto(gradient[k*eval.numVars:(k+1)*eval.numVars], jac, row)
				}
			}
		}
	}

	tol := func(n int) []float64 {
		t := make([]float64, n)
		for i := range t {
			t[i] = s.opts.ConstraintTol
		}
		return t
	}

	err = multierr.Combine(
		opt.SetFtolRel(s.opts.StopTolerance),
		opt.SetXtolRel(s.opts.StopTolerance),
		opt.SetMaxEval(s.opts.MaxEvaluations),
		opt.SetMinObjective(objective),
	)
	if len(eqRows) > 0 {
		err = multierr.Combine(err, opt.AddEqualityMConstraint(constraint(eqRows), tol(len(eqRows))))
	}
	if len(ineqRows) > 0 {
		err = multierr.Combine(err, opt.AddInequalityMConstraint(constraint(ineqRows), tol(len(ineqRows))))
	}
	if err != nil {
		return nil, errors.Wrap(err, "nlopt setup error")
	}

	x := make([]float64, len(x0))
	copy(x, x0)
	solution, _, optErr := opt.Optimize(x)
	if evalErr != nil {
		return nil, evalErr
	}
	if solution == nil {
		solution = x
	}

	phi, _, err := eval.eval(solution)
	if err != nil {
		return nil, err
	}
	result := &Result{X: solution, Iterations: 1, Evaluations: eval.evals}
	result.Cost, result.Eq, result.Ineq = Totals(eval.types, phi)
	// Roundoff limited and similar results still carry a usable point.
	result.Converged = optErr == nil && result.Eq+result.Ineq < s.opts.ConstraintTol
	if optErr != nil {
		s.logger.Debugw("nlopt finished with error", "error", optErr)
	}
	return result, nil
}
