package komo

import (
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/motionplan/solver"
)

const splineDegree = 2

// uniformBasis evaluates the clamped uniform B-spline basis of the given degree with controls
// control points at rows equally spaced times in [0, 1]. Row r holds the weight of every control
// point at time r/(rows-1).
func uniformBasis(rows, controls, degree int) (*mat.Dense, error) {
	if rows < 1 {
		return nil, errors.Errorf("spline needs at least one sample, got %d", rows)
	}
	if controls < degree+1 {
		return nil, errors.Errorf("a degree %d spline needs at least %d control points, got %d", degree, degree+1, controls)
	}
	knots := make([]float64, controls+degree+1)
	interior := controls - degree
	for i := range knots {
		switch {
		case i <= degree:
			knots[i] = 0
		case i >= controls:
			knots[i] = 1
		default:
			knots[i] = float64(i-degree) / float64(interior)
		}
	}

	basis := mat.NewDense(rows, controls, nil)
	n := make([]float64, len(knots)-1)
	for r := 0; r < rows; r++ {
		u := 0.
		if rows > 1 {
			u = float64(r) / float64(rows-1)
		}
		if u >= 1 {
			basis.Set(r, controls-1, 1)
			continue
		}
		for j := range n {
			n[j] = 0
			if knots[j] <= u && u < knots[j+1] {
				n[j] = 1
			}
		}
		// Cox-de Boor, in place: n[j+1] is still of the previous degree when n[j] is updated.
		for p := 1; p <= degree; p++ {
			for j := 0; j+p+1 < len(knots); j++ {
				v := 0.
				if d := knots[j+p] - knots[j]; d > 0 {
					v += (u - knots[j]) / d * n[j]
				}
				if d := knots[j+p+1] - knots[j+1]; d > 0 {
					v += (knots[j+p+1] - u) / d * n[j+1]
				}
				n[j] = v
			}
		}
		basis.SetRow(r, n[:controls])
	}
	return basis, nil
}

// spline maps control points z to the decision vector x = B z, where B is the basis expanded over
// every joint of a step.
type spline struct {
	basis *mat.Dense
}

// newSpline builds the reparameterization for T steps of dimension dof with splineT+1 control
// points.
func newSpline(T, dof, splineT int) (*spline, error) {
	basis, err := uniformBasis(T, splineT+1, splineDegree)
	if err != nil {
		return nil, err
	}
	ones := make([]float64, dof)
	for i := range ones {
		ones[i] = 1
	}
	var full mat.Dense
	full.Kronecker(basis, mat.NewDiagDense(dof, ones))
	return &spline{basis: &full}, nil
}

func (s *spline) numControls() int {
	_, c := s.basis.Dims()
	return c
}

// expand returns B z.
func (s *spline) expand(z []float64) []float64 {
	r, _ := s.basis.Dims()
	x := make([]float64, r)
	mat.NewVecDense(r, x).MulVec(s.basis, mat.NewVecDense(len(z), z))
	return x
}

// fit returns the least squares control points of x.
func (s *spline) fit(x []float64) ([]float64, error) {
	var z mat.VecDense
	if err := z.SolveVec(s.basis, mat.NewVecDense(len(x), x)); err != nil {
		var cond mat.Condition
		if !errors.As(err, &cond) {
			return nil, errors.Wrap(err, "cannot fit spline to decision vector")
		}
	}
	return z.RawVector().Data, nil
}

// splineProblem is a problem over spline control points: phi(z) = inner(B z), J_z = J B.
type splineProblem struct {
	inner  solver.ConstrainedProblem
	spline *spline
}

func (sp *splineProblem) Structure() (solver.Structure, error) {
	st, err := sp.inner.Structure()
	if err != nil {
		return st, err
	}
	if r, _ := sp.spline.basis.Dims(); r != st.NumVars {
		return st, errors.Wrapf(ErrDecisionVectorLength, "spline expands to %d variables, problem has %d", r, st.NumVars)
	}
	st.NumVars = sp.spline.numControls()
	return st, nil
}

func (sp *splineProblem) Evaluate(z []float64) ([]float64, mat.Matrix, error) {
	phi, jac, err := sp.inner.Evaluate(sp.spline.expand(z))
	if err != nil {
		return nil, nil, err
	}
	return phi, reparameterize(jac, sp.spline.basis), nil
}

// reparameterize returns J B, using the row blocks of banded Jacobians.
func reparameterize(jac mat.Matrix, basis *mat.Dense) mat.Matrix {
	rows, _ := jac.Dims()
	_, cols := basis.Dims()
	if rows == 0 || cols == 0 {
		return NewBandedJacobian(rows, cols)
	}
	out := mat.NewDense(rows, cols, nil)
	sparse, ok := jac.(solver.RowSparse)
	if !ok {
		out.Mul(jac, basis)
		return out
	}
	for i := 0; i < rows; i++ {
		start, vals := sparse.RowBlock(i)
		dst := out.RawRowView(i)
		for k, v := range vals {
			if v != 0 {
				floats.AddScaled(dst, v, basis.RawRowView(start+k))
			}
		}
	}
	return out
}
