package solver

import (
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// ErrShapeMismatch is returned when an evaluation disagrees with the problem structure.
var ErrShapeMismatch = errors.New("evaluation does not match problem structure")

// evaluator caches the last evaluation of a problem, since optimizers ask for the value and the
// gradient at the same point separately.
type evaluator struct {
	problem ConstrainedProblem
	types   []TermType
	numVars int

	lastX []float64
	phi   []float64
	jac   mat.Matrix
	evals int
}

func newEvaluator(problem ConstrainedProblem) (*evaluator, error) {
	structure, err := problem.Structure()
	if err != nil {
		return nil, err
	}
	return &evaluator{problem: problem, types: structure.Types, numVars: structure.NumVars}, nil
}

func (e *evaluator) eval(x []float64) ([]float64, mat.Matrix, error) {
	if e.lastX != nil && floats.Equal(x, e.lastX) {
		return e.phi, e.jac, nil
	}
	if len(x) != e.numVars {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "got %d variables, want %d", len(x), e.numVars)
	}
	phi, jac, err := e.problem.Evaluate(x)
	if err != nil {
		return nil, nil, err
	}
	e.evals++
	if len(phi) != len(e.types) {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "got %d terms, want %d", len(phi), len(e.types))
	}
	if r, c := jac.Dims(); r != len(phi) || c != e.numVars {
		return nil, nil, errors.Wrapf(ErrShapeMismatch, "jacobian is %dx%d, want %dx%d", r, c, len(phi), e.numVars)
	}
	e.lastX = append(e.lastX[:0], x...)
	e.phi = phi
	e.jac = jac
	return phi, jac, nil
}

// addRow does dst += coeff * J[i, :].
func addRow(dst []float64, jac mat.Matrix, i int, coeff float64) {
	if coeff == 0 {
		return
	}
	switch j := jac.(type) {
	case RowSparse:
		start, vals := j.RowBlock(i)
		floats.AddScaled(dst[start:start+len(vals)], coeff, vals)
	case mat.RawRowViewer:
		floats.AddScaled(dst, coeff, j.RawRowView(i))
	default:
		_, c := jac.Dims()
		for k := 0; k < c; k++ {
			dst[k] += coeff * jac.At(i, k)
		}
	}
}

// rowInto copies J[i, :] into dst, which must be zeroed and of length numVars.
func rowInto(dst []float64, jac mat.Matrix, i int) {
	addRow(dst, jac, i, 1)
}

// Totals sums the sos cost, the equality violation and the inequality violation of phi.
func Totals(types []TermType, phi []float64) (cost, eq, ineq float64) {
	for i, v := range phi {
		switch types[i] {
		case TermSOS:
			cost += v * v
		case TermEq:
			eq += math.Abs(v)
		case TermIneq:
			if v > 0 {
				ineq += v
			}
		}
	}
	return cost, eq, ineq
}
