package solver

import (
	"context"
	"testing"

	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/logging"
)

// quadProblem: minimize (x0-2)^2 + (x1-2)^2 subject to x0 + x1 = 1 and x0 <= 0.2.
type quadProblem struct {
	withIneq bool
}

func (qp *quadProblem) Structure() (Structure, error) {
	types := []TermType{TermSOS, TermSOS, TermEq}
	if qp.withIneq {
		types = append(types, TermIneq)
	}
	return Structure{NumVars: 2, Types: types}, nil
}

func (qp *quadProblem) Evaluate(x []float64) ([]float64, mat.Matrix, error) {
	phi := []float64{x[0] - 2, x[1] - 2, x[0] + x[1] - 1}
	jac := []float64{
		1, 0,
		0, 1,
		1, 1,
	}
	if qp.withIneq {
		phi = append(phi, x[0]-0.2)
		jac = append(jac, 1, 0)
	}
	return phi, mat.NewDense(len(phi), 2, jac), nil
}

func TestAugmentedLagrangianEquality(t *testing.T) {
	logger := logging.NewTestLogger(t)
	al := NewAugmentedLagrangian(Options{MaxIterations: 100}, logger)
	res, err := al.Solve(context.Background(), &quadProblem{}, []float64{0, 0}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Converged, test.ShouldBeTrue)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0.5, 1e-2)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 0.5, 1e-2)
	test.That(t, res.Eq, test.ShouldBeLessThan, 1e-2)
	// the multiplier of x0+x1=1 is 3 at the optimum
	test.That(t, res.Dual[2], test.ShouldAlmostEqual, 3., 0.1)
	test.That(t, res.Evaluations, test.ShouldBeGreaterThan, 0)
}

func TestAugmentedLagrangianInequality(t *testing.T) {
	logger := logging.NewTestLogger(t)
	al := NewAugmentedLagrangian(Options{MaxIterations: 100}, logger)
	res, err := al.Solve(context.Background(), &quadProblem{withIneq: true}, []float64{0, 0}, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.X[0], test.ShouldAlmostEqual, 0.2, 1e-2)
	test.That(t, res.X[1], test.ShouldAlmostEqual, 0.8, 1e-2)
	test.That(t, res.Dual[3], test.ShouldBeGreaterThan, 0)
}

func TestSolverErrors(t *testing.T) {
	logger := logging.NewTestLogger(t)
	al := NewAugmentedLagrangian(Options{}, logger)
	_, err := al.Solve(context.Background(), &quadProblem{}, []float64{0}, nil)
	test.That(t, err, test.ShouldNotBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = al.Solve(ctx, &quadProblem{}, []float64{0, 0}, nil)
	test.That(t, err, test.ShouldBeError, context.Canceled)

	_, err = New("simplex", Options{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	s, err := New("", Options{}, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s, test.ShouldHaveSameTypeAs, &AugmentedLagrangian{})
}

func TestTotals(t *testing.T) {
	cost, eq, ineq := Totals([]TermType{TermSOS, TermEq, TermIneq, TermIneq}, []float64{2, -0.5, 0.25, -1})
	test.That(t, cost, test.ShouldEqual, 4.)
	test.That(t, eq, test.ShouldEqual, 0.5)
	test.That(t, ineq, test.ShouldEqual, 0.25)

	tt, err := ParseTermType("EQ")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, tt, test.ShouldEqual, TermEq)
	_, err = ParseTermType("f")
	test.That(t, err, test.ShouldNotBeNil)
}
