// Package spatialmath defines rigid transforms in 3D.
package spatialmath

import (
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/num/dualquat"
	"gonum.org/v1/gonum/num/quat"
)

// Pose is a rigid transform: a point and an orientation.
type Pose interface {
	Point() r3.Vector
	Orientation() quat.Number
}

// dualQuaternion stores a pose as a unit dual quaternion, so that composition is one multiplication.
type dualQuaternion struct {
	dualquat.Number
}

// NewZeroPose returns the identity pose.
func NewZeroPose() Pose {
	return &dualQuaternion{dualquat.Number{Real: quat.Number{Real: 1}}}
}

// NewPose builds a pose from a point and a (possibly unnormalized) quaternion.
func NewPose(pt r3.Vector, q quat.Number) Pose {
	if n := quat.Abs(q); n > 0 && n != 1 {
		q = quat.Scale(1/n, q)
	} else if n == 0 {
		q = quat.Number{Real: 1}
	}
	return &dualQuaternion{dualquat.Number{
		Real: q,
		Dual: quat.Scale(0.5, quat.Mul(quat.Number{Imag: pt.X, Jmag: pt.Y, Kmag: pt.Z}, q)),
	}}
}

// NewPoseFromPoint returns a pure translation.
func NewPoseFromPoint(pt r3.Vector) Pose {
	return NewPose(pt, quat.Number{Real: 1})
}

// NewPoseFromAxisAngle returns a pure rotation by theta about axis.
func NewPoseFromAxisAngle(axis r3.Vector, theta float64) Pose {
	aa := &R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z}
	return NewPose(r3.Vector{}, aa.ToQuat())
}

// NewPoseFromRotationVector returns a pose from a point and a rotation vector.
func NewPoseFromRotationVector(pt, rv r3.Vector) Pose {
	return NewPose(pt, R3ToR4(rv).ToQuat())
}

func newDualQuaternionFromPose(p Pose) *dualQuaternion {
	if dq, ok := p.(*dualQuaternion); ok {
		return dq
	}
	return NewPose(p.Point(), p.Orientation()).(*dualQuaternion)
}

// Point returns the translation part of the pose.
func (q *dualQuaternion) Point() r3.Vector {
	t := quat.Scale(2, quat.Mul(q.Dual, quat.Conj(q.Real)))
	return r3.Vector{X: t.Imag, Y: t.Jmag, Z: t.Kmag}
}

// Orientation returns the unit rotation quaternion.
func (q *dualQuaternion) Orientation() quat.Number {
	return q.Real
}

func (q *dualQuaternion) String() string {
	pt := q.Point()
	rv := QuatToR3AA(q.Real)
	return fmt.Sprintf("{X:%.4f Y:%.4f Z:%.4f RX:%.4f RY:%.4f RZ:%.4f}", pt.X, pt.Y, pt.Z, rv.X, rv.Y, rv.Z)
}

// Compose returns a*b, the pose b expressed in the parent of a.
func Compose(a, b Pose) Pose {
	result := dualquat.Mul(newDualQuaternionFromPose(a).Number, newDualQuaternionFromPose(b).Number)
	// Guard against drift away from a unit quaternion over long chains.
	if n := quat.Abs(result.Real); n != 1 && n > 0 {
		result.Real = quat.Scale(1/n, result.Real)
		result.Dual = quat.Scale(1/n, result.Dual)
	}
	return &dualQuaternion{result}
}

// PoseInverse returns the inverse transform.
func PoseInverse(p Pose) Pose {
	return &dualQuaternion{dualquat.ConjQuat(newDualQuaternionFromPose(p).Number)}
}

// PoseBetween returns the pose c such that Compose(a, c) == b.
func PoseBetween(a, b Pose) Pose {
	return Compose(PoseInverse(a), b)
}

// RotateVector rotates v by the orientation of p.
func RotateVector(p Pose, v r3.Vector) r3.Vector {
	q := p.Orientation()
	rotated := mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Rotate(mgl64.Vec3{v.X, v.Y, v.Z})
	return r3.Vector{X: rotated[0], Y: rotated[1], Z: rotated[2]}
}

// TransformPoint maps pt from the local frame of p into its parent.
func TransformPoint(p Pose, pt r3.Vector) r3.Vector {
	return RotateVector(p, pt).Add(p.Point())
}

// RotationMatrix returns the 3x3 rotation matrix of the pose orientation.
func RotationMatrix(p Pose) mgl64.Mat3 {
	q := p.Orientation()
	return mgl64.Quat{W: q.Real, V: mgl64.Vec3{q.Imag, q.Jmag, q.Kmag}}.Mat4().Mat3()
}

// PoseDelta returns the translation and the rotation vector taking a to b, both in the parent
// frame.
func PoseDelta(a, b Pose) (r3.Vector, r3.Vector) {
	rot := quat.Mul(b.Orientation(), quat.Conj(a.Orientation()))
	return b.Point().Sub(a.Point()), QuatToR3AA(rot)
}

// PoseAlmostEqual reports whether two poses agree within a small tolerance.
func PoseAlmostEqual(a, b Pose) bool {
	return PoseAlmostEqualEps(a, b, 1e-8)
}

// PoseAlmostEqualEps reports whether two poses agree within epsilon. Orientations q and -q are
// treated as equal.
func PoseAlmostEqualEps(a, b Pose, epsilon float64) bool {
	if a.Point().Sub(b.Point()).Norm() > epsilon {
		return false
	}
	qa, qb := a.Orientation(), b.Orientation()
	dot := qa.Real*qb.Real + qa.Imag*qb.Imag + qa.Jmag*qb.Jmag + qa.Kmag*qb.Kmag
	return math.Abs(1-math.Abs(dot)) <= epsilon
}
