package spatialmath

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"
)

func TestPoseCompose(t *testing.T) {
	p1 := NewPoseFromPoint(r3.Vector{X: 1, Y: 2, Z: 3})
	test.That(t, p1.Point(), test.ShouldResemble, r3.Vector{X: 1, Y: 2, Z: 3})

	rot := NewPoseFromAxisAngle(r3.Vector{Z: 1}, math.Pi/2)
	composed := Compose(rot, NewPoseFromPoint(r3.Vector{X: 1}))
	pt := composed.Point()
	test.That(t, pt.X, test.ShouldAlmostEqual, 0.)
	test.That(t, pt.Y, test.ShouldAlmostEqual, 1.)
	test.That(t, pt.Z, test.ShouldAlmostEqual, 0.)

	rotated := RotateVector(rot, r3.Vector{X: 1})
	test.That(t, rotated.Y, test.ShouldAlmostEqual, 1.)
	m := RotationMatrix(rot)
	test.That(t, m.At(1, 0), test.ShouldAlmostEqual, 1.)

	inv := PoseInverse(composed)
	test.That(t, PoseAlmostEqual(Compose(composed, inv), NewZeroPose()), test.ShouldBeTrue)

	between := PoseBetween(p1, composed)
	test.That(t, PoseAlmostEqual(Compose(p1, between), composed), test.ShouldBeTrue)
}

func TestAxisAngleRoundTrip(t *testing.T) {
	rv := r3.Vector{X: 0.1, Y: -0.4, Z: 0.3}
	p := NewPoseFromRotationVector(r3.Vector{X: 2}, rv)
	back := QuatToR3AA(p.Orientation())
	test.That(t, back.X, test.ShouldAlmostEqual, rv.X)
	test.That(t, back.Y, test.ShouldAlmostEqual, rv.Y)
	test.That(t, back.Z, test.ShouldAlmostEqual, rv.Z)

	dp, drv := PoseDelta(NewZeroPose(), p)
	test.That(t, dp.X, test.ShouldAlmostEqual, 2.)
	test.That(t, drv.Sub(rv).Norm(), test.ShouldBeLessThan, 1e-9)

	test.That(t, QuatToR3AA(NewZeroPose().Orientation()), test.ShouldResemble, r3.Vector{})
	test.That(t, R3ToR4(r3.Vector{}).RZ, test.ShouldEqual, 1.)
}
