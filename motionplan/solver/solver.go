// Package solver contains the constrained optimizers that trajectory problems are handed to.
package solver

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/logging"
)

// TermType classifies one row of a problem's feature vector.
type TermType int

const (
	// TermSOS rows are summed as squares into the cost.
	TermSOS TermType = iota
	// TermEq rows must vanish.
	TermEq
	// TermIneq rows must be non-positive.
	TermIneq
)

var termTypeNames = []string{"sos", "eq", "ineq"}

func (tt TermType) String() string {
	if int(tt) >= 0 && int(tt) < len(termTypeNames) {
		return termTypeNames[tt]
	}
	return fmt.Sprintf("TermType(%d)", int(tt))
}

// ParseTermType converts a term type name.
func ParseTermType(name string) (TermType, error) {
	for i, n := range termTypeNames {
		if strings.EqualFold(n, name) {
			return TermType(i), nil
		}
	}
	return TermSOS, errors.Errorf("unknown term type %q", name)
}

// MarshalText encodes the term type by name.
func (tt TermType) MarshalText() ([]byte, error) {
	return []byte(tt.String()), nil
}

// UnmarshalText decodes a term type name.
func (tt *TermType) UnmarshalText(text []byte) error {
	parsed, err := ParseTermType(string(text))
	if err != nil {
		return err
	}
	*tt = parsed
	return nil
}

// Structure is the static shape of a problem: the number of variables and the type of every row.
type Structure struct {
	NumVars int
	Types   []TermType
}

// ConstrainedProblem is a nonlinear program phi(x) with a Jacobian and per row term types.
type ConstrainedProblem interface {
	// Structure returns the problem shape. It must not change between evaluations.
	Structure() (Structure, error)
	// Evaluate returns phi(x) and its Jacobian, one row per term.
	Evaluate(x []float64) ([]float64, mat.Matrix, error)
}

// RowSparse is implemented by Jacobians whose rows have a single contiguous nonzero block.
type RowSparse interface {
	RowBlock(i int) (start int, values []float64)
}

// Result is the outcome of a solve. A solve that does not converge still returns a result.
type Result struct {
	X           []float64
	Dual        []float64
	Cost        float64
	Eq          float64
	Ineq        float64
	Iterations  int
	Evaluations int
	Converged   bool
}

// Solver solves a constrained problem starting from x0. A non-nil dual warm starts the multipliers.
type Solver interface {
	Solve(ctx context.Context, problem ConstrainedProblem, x0, dual []float64) (*Result, error)
}

// Names of the available solvers.
const (
	AugmentedLagrangianName = "augmentedLagrangian"
	SLSQPName               = "slsqp"
)

// Options configures the solvers. Zero values are replaced by defaults.
type Options struct {
	MaxIterations   int     `json:"max_iterations" mapstructure:"max_iterations"`
	InnerIterations int     `json:"inner_iterations" mapstructure:"inner_iterations"`
	StopTolerance   float64 `json:"stop_tolerance" mapstructure:"stop_tolerance"`
	ConstraintTol   float64 `json:"constraint_tolerance" mapstructure:"constraint_tolerance"`
	MuInit          float64 `json:"mu_init" mapstructure:"mu_init"`
	MuIncrease      float64 `json:"mu_increase" mapstructure:"mu_increase"`
	MaxEvaluations  int     `json:"max_evaluations" mapstructure:"max_evaluations"`
}

const (
	defaultMaxIterations   = 50
	defaultInnerIterations = 200
	defaultStopTolerance   = 1e-4
	defaultConstraintTol   = 1e-3
	defaultMuInit          = 1.
	defaultMuIncrease      = 2.
	defaultMaxEvaluations  = 10000
)

// NewDefaultOptions returns the default solver options.
func NewDefaultOptions() Options {
	return Options{}.withDefaults()
}

func (opts Options) withDefaults() Options {
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = defaultMaxIterations
	}
	if opts.InnerIterations <= 0 {
		opts.InnerIterations = defaultInnerIterations
	}
	if opts.StopTolerance <= 0 {
		opts.StopTolerance = defaultStopTolerance
	}
	if opts.ConstraintTol <= 0 {
		opts.ConstraintTol = defaultConstraintTol
	}
	if opts.MuInit <= 0 {
		opts.MuInit = defaultMuInit
	}
	if opts.MuIncrease <= 1 {
		opts.MuIncrease = defaultMuIncrease
	}
	if opts.MaxEvaluations <= 0 {
		opts.MaxEvaluations = defaultMaxEvaluations
	}
	return opts
}

// New returns the named solver.
func New(name string, opts Options, logger logging.Logger) (Solver, error) {
	switch name {
	case "", AugmentedLagrangianName:
		return NewAugmentedLagrangian(opts, logger), nil
	case SLSQPName:
		slsqp, err := NewSLSQP(opts, logger)
		if err != nil {
			return nil, err
		}
		return slsqp, nil
	}
	return nil, errors.Errorf("unknown solver %q", name)
}
