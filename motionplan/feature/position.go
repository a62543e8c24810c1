package feature

import (
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/referenceframe"
	spatial "go.viam.com/trajopt/spatialmath"
)

// numericJacobian differentiates value with respect to the joint state of fs by central
// differences on a private copy of fs.
func numericJacobian(
	fs *referenceframe.FrameSystem,
	value func(*referenceframe.FrameSystem) ([]float64, error),
) ([]float64, *mat.Dense, error) {
	y, err := value(fs)
	if err != nil {
		return nil, nil, err
	}
	n := fs.DoF()
	if n == 0 || len(y) == 0 {
		return y, nil, nil
	}

	work := fs.Clone()
	var evalErr error
	jac := mat.NewDense(len(y), n, nil)
	fd.Jacobian(jac, func(dst, q []float64) {
		if err := work.SetJointState(q); err != nil {
			evalErr = err
			return
		}
		v, err := value(work)
		if err != nil {
			evalErr = err
			return
		}
		copy(dst, v)
	}, fs.JointState(), &fd.JacobianSettings{Formula: fd.Central, OriginValue: y})
	if evalErr != nil {
		return nil, nil, evalErr
	}
	return y, jac, nil
}

func worldPoint(fs *referenceframe.FrameSystem, name string) (r3.Vector, error) {
	pose, err := fs.WorldPose(name)
	if err != nil {
		return r3.Vector{}, err
	}
	return pose.Point(), nil
}

func vec(v r3.Vector) []float64 {
	return []float64{v.X, v.Y, v.Z}
}

func fixedDim(d int) func(*referenceframe.FrameSystem) (int, error) {
	return func(*referenceframe.FrameSystem) (int, error) { return d, nil }
}

// Position is the world position of a frame.
type Position struct {
	Frame string
}

// Name returns "position".
func (p *Position) Name() string {
	return "position"
}

// Order is zero.
func (p *Position) Order() int {
	return 0
}

// Dim is three.
func (p *Position) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	return dimOf(tuple, fixedDim(3))
}

// Eval returns the position or its finite difference.
func (p *Position) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		return numericJacobian(fs, func(c *referenceframe.FrameSystem) ([]float64, error) {
			pt, err := worldPoint(c, p.Frame)
			return vec(pt), err
		})
	})
}

// PositionDiff is the world position of Frame minus the world position of Reference.
type PositionDiff struct {
	Frame     string
	Reference string
}

// Name returns "positionDiff".
func (p *PositionDiff) Name() string {
	return "positionDiff"
}

// Order is zero.
func (p *PositionDiff) Order() int {
	return 0
}

// Dim is three.
func (p *PositionDiff) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	return dimOf(tuple, fixedDim(3))
}

// Eval returns the difference or its finite difference.
func (p *PositionDiff) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		return numericJacobian(fs, func(c *referenceframe.FrameSystem) ([]float64, error) {
			a, err := worldPoint(c, p.Frame)
			if err != nil {
				return nil, err
			}
			b, err := worldPoint(c, p.Reference)
			if err != nil {
				return nil, err
			}
			return vec(a.Sub(b)), nil
		})
	})
}

// AxisVector is a local axis of a frame expressed in the world. With Flip set, a target pointing
// away from the current axis is negated, so either direction satisfies an alignment.
type AxisVector struct {
	Frame string
	Axis  r3.Vector
	Flip  bool
}

// Name returns "vector".
func (a *AxisVector) Name() string {
	return "vector"
}

// Order is zero.
func (a *AxisVector) Order() int {
	return 0
}

// FlipTargetSignOnNegScalarProduct reports whether the target sign may be flipped.
func (a *AxisVector) FlipTargetSignOnNegScalarProduct() bool {
	return a.Flip
}

// Dim is three.
func (a *AxisVector) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	return dimOf(tuple, fixedDim(3))
}

// Eval returns the rotated axis or its finite difference.
func (a *AxisVector) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	axis := a.Axis
	if axis.Norm() == 0 {
		axis = r3.Vector{Z: 1}
	}
	axis = axis.Normalize()
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		return numericJacobian(fs, func(c *referenceframe.FrameSystem) ([]float64, error) {
			pose, err := c.WorldPose(a.Frame)
			if err != nil {
				return nil, err
			}
			return vec(spatial.RotateVector(pose, axis)), nil
		})
	})
}

// FlagConstraints turns frame flags into motion constraints: on order one tuples every frame
// flagged zeroVel in the last configuration must not move, on order two tuples every frame flagged
// zeroAcc must not accelerate. Other orders are empty.
type FlagConstraints struct{}

// Name returns "flagConstraints".
func (fc *FlagConstraints) Name() string {
	return "flagConstraints"
}

// Order is one.
func (fc *FlagConstraints) Order() int {
	return 1
}

func (fc *FlagConstraints) frames(tuple []*referenceframe.FrameSystem) []string {
	last := tuple[len(tuple)-1]
	switch len(tuple) - 1 {
	case 1:
		return last.FramesWithFlag(referenceframe.FlagZeroVel)
	case 2:
		return last.FramesWithFlag(referenceframe.FlagZeroAcc)
	default:
		return nil
	}
}

// Dim is three per flagged frame.
func (fc *FlagConstraints) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	if len(tuple) == 0 {
		return 0, ErrEmptyTuple
	}
	return 3 * len(fc.frames(tuple)), nil
}

// Eval returns the stacked velocities or accelerations of the flagged frames.
func (fc *FlagConstraints) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	if len(tuple) == 0 {
		return nil, nil, ErrEmptyTuple
	}
	names := fc.frames(tuple)
	if len(names) == 0 {
		return nil, nil, nil
	}
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		return numericJacobian(fs, func(c *referenceframe.FrameSystem) ([]float64, error) {
			y := make([]float64, 0, 3*len(names))
			for _, name := range names {
				pt, err := worldPoint(c, name)
				if err != nil {
					return nil, err
				}
				y = append(y, vec(pt)...)
			}
			return y, nil
		})
	})
}

// Constant returns fixed values regardless of the configuration. It has no Jacobian entries and
// is useful for tests and for padding a problem.
type Constant struct {
	Values []float64
}

// Name returns "constant".
func (c *Constant) Name() string {
	return "constant"
}

// Order is zero.
func (c *Constant) Order() int {
	return 0
}

// Dim is the number of values.
func (c *Constant) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	return dimOf(tuple, fixedDim(len(c.Values)))
}

// Eval returns the values with a zero Jacobian. Values over a tuple are not differenced.
func (c *Constant) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	if len(tuple) == 0 {
		return nil, nil, ErrEmptyTuple
	}
	if len(c.Values) == 0 {
		return nil, nil, nil
	}
	y := make([]float64, len(c.Values))
	copy(y, c.Values)
	cols := TupleDoF(tuple)
	if cols == 0 {
		return y, nil, nil
	}
	return y, mat.NewDense(len(y), cols, nil), nil
}
