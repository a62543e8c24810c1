package referenceframe

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	spatial "go.viam.com/trajopt/spatialmath"
)

// makeArm builds a planar two link arm with a cube lying on the table.
func makeArm(t *testing.T) *FrameSystem {
	t.Helper()
	fs := NewEmptyFrameSystem("test")

	shoulder, err := NewJointFrame("shoulder", JointHingeZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(shoulder, World, nil), test.ShouldBeNil)

	elbow, err := NewJointFrame("elbow", JointHingeZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(elbow, "shoulder", spatial.NewPoseFromPoint(r3.Vector{X: 1})), test.ShouldBeNil)

	hand, err := NewStaticFrame("hand", spatial.NewZeroPose())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(hand, "elbow", spatial.NewPoseFromPoint(r3.Vector{X: 1})), test.ShouldBeNil)

	test.That(t, fs.AddFrame(NewZeroStaticFrame("cube"), World, spatial.NewPoseFromPoint(r3.Vector{X: 2})), test.ShouldBeNil)
	return fs
}

func TestFrameSystemJointState(t *testing.T) {
	fs := makeArm(t)
	test.That(t, fs.DoF(), test.ShouldEqual, 2)
	test.That(t, fs.FrameNames(), test.ShouldResemble, []string{"shoulder", "elbow", "hand", "cube"})

	err := fs.SetJointState([]float64{1, 2, 3})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "does not match")

	test.That(t, fs.SetJointState([]float64{math.Pi / 2, -math.Pi / 2}), test.ShouldBeNil)
	test.That(t, fs.JointState(), test.ShouldResemble, []float64{math.Pi / 2, -math.Pi / 2})

	q, err := fs.JointStateOf([]string{"elbow"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, q, test.ShouldResemble, []float64{-math.Pi / 2})

	hand, err := fs.WorldPose("hand")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, hand.Point().X, test.ShouldAlmostEqual, 1.)
	test.That(t, hand.Point().Y, test.ShouldAlmostEqual, 1.)

	idx, err := fs.JointIndex("elbow")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, idx, test.ShouldEqual, 1)

	states, err := fs.FrameState()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, len(states), test.ShouldEqual, 4)
	test.That(t, states["cube"].Point().X, test.ShouldAlmostEqual, 2.)

	chain, err := fs.TracebackFrame("hand")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, chain, test.ShouldResemble, []string{"hand", "elbow", "shoulder", World})

	test.That(t, fs.CheckConsistency(), test.ShouldBeNil)
}

func TestFrameSystemAddErrors(t *testing.T) {
	fs := makeArm(t)
	err := fs.AddFrame(NewZeroStaticFrame("cube"), World, nil)
	test.That(t, err, test.ShouldNotBeNil)

	err = fs.AddFrame(NewZeroStaticFrame("orphan"), "nowhere", nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "nowhere")

	_, err = fs.WorldPose("nowhere")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestFrameSystemClone(t *testing.T) {
	fs := makeArm(t)
	fs.SetTau(0.1)
	test.That(t, Flag{Kind: FlagZeroVel, Frame: "cube"}.Apply(fs), test.ShouldBeNil)

	c := fs.Clone()
	test.That(t, c.SetJointState([]float64{1, 1}), test.ShouldBeNil)
	test.That(t, fs.JointState(), test.ShouldResemble, []float64{0, 0})
	test.That(t, c.Tau(), test.ShouldEqual, 0.1)
	test.That(t, c.Flags("cube").Has(FlagZeroVel), test.ShouldBeTrue)

	test.That(t, Flag{Kind: FlagClear, Frame: "cube"}.Apply(c), test.ShouldBeNil)
	test.That(t, c.Flags("cube").Has(FlagZeroVel), test.ShouldBeFalse)
	test.That(t, fs.FramesWithFlag(FlagZeroVel), test.ShouldResemble, []string{"cube"})
	test.That(t, c.CheckConsistency(), test.ShouldBeNil)
}

func TestSwitchKeepsWorldPose(t *testing.T) {
	fs := makeArm(t)
	test.That(t, fs.SetJointState([]float64{0.3, -0.2}), test.ShouldBeNil)
	before, err := fs.WorldPose("cube")
	test.That(t, err, test.ShouldBeNil)

	sw := Switch{JointType: JointFree, From: "hand", To: "cube"}
	test.That(t, sw.Apply(fs), test.ShouldBeNil)
	test.That(t, fs.CheckConsistency(), test.ShouldBeNil)
	test.That(t, fs.DoF(), test.ShouldEqual, 8)
	parent, err := fs.Parent("cube")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parent, test.ShouldEqual, "hand")

	after, err := fs.WorldPose("cube")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.PoseAlmostEqualEps(before, after, 1e-9), test.ShouldBeTrue)

	// the cube now follows the arm
	test.That(t, fs.SetJointStateOf([]string{"shoulder"}, []float64{0.5}), test.ShouldBeNil)
	moved, err := fs.WorldPose("cube")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, spatial.PoseAlmostEqualEps(before, moved, 1e-6), test.ShouldBeFalse)

	old := makeArm(t)
	test.That(t, fs.SameJoint(old, "cube"), test.ShouldBeFalse)
	test.That(t, fs.SameJoint(old, "elbow"), test.ShouldBeTrue)
}

func TestSwitchCycleIsInconsistent(t *testing.T) {
	fs := makeArm(t)
	sw := Switch{JointType: JointRigid, From: "hand", To: "shoulder", Relative: spatial.NewZeroPose()}
	test.That(t, sw.Apply(fs), test.ShouldBeNil)
	err := fs.CheckConsistency()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, errors.Is(err, ErrInconsistentTopology), test.ShouldBeTrue)

	err = Switch{JointType: JointRigid, From: "cube", To: "ghost"}.Apply(fs)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestJointTypes(t *testing.T) {
	for _, jt := range []JointType{
		JointRigid, JointHingeX, JointHingeY, JointHingeZ, JointTransX, JointTransY, JointTransZ,
		JointTransXYPhi, JointTrans3, JointFree,
	} {
		frame, err := NewJointFrame("j", jt)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(frame.DoF()), test.ShouldEqual, jt.DoF())
		test.That(t, frame.JointType(), test.ShouldEqual, jt)

		parsed, err := ParseJointType(jt.String())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, jt)

		pose, err := frame.Transform(make([]Input, jt.DoF()))
		test.That(t, err, test.ShouldBeNil)
		test.That(t, spatial.PoseAlmostEqual(pose, spatial.NewZeroPose()), test.ShouldBeTrue)
	}
	_, err := ParseJointType("ball")
	test.That(t, err, test.ShouldNotBeNil)

	limited, err := NewJointFrameWithLimits("slider", JointTransX, []Limit{{Min: 0, Max: 1}})
	test.That(t, err, test.ShouldBeNil)
	pose, err := limited.Transform([]Input{{2}})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, OOBErrString)
	test.That(t, pose.Point().X, test.ShouldAlmostEqual, 2.)

	planar, err := NewJointFrame("base", JointTransXYPhi)
	test.That(t, err, test.ShouldBeNil)
	pose, err = planar.Transform(FloatsToInputs([]float64{1, 2, math.Pi}))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pose.Point().Y, test.ShouldAlmostEqual, 2.)
	test.That(t, spatial.RotateVector(pose, r3.Vector{X: 1}).X, test.ShouldAlmostEqual, -1.)
}

func TestFlagKinds(t *testing.T) {
	for _, kind := range []FlagKind{FlagClear, FlagZeroVel, FlagZeroAcc, FlagFree, FlagImpulseExchange} {
		text, err := kind.MarshalText()
		test.That(t, err, test.ShouldBeNil)
		var parsed FlagKind
		test.That(t, parsed.UnmarshalText(text), test.ShouldBeNil)
		test.That(t, parsed, test.ShouldEqual, kind)
	}

	_, err := ParseFlagKind("sticky")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldEqual, `unknown flag kind "sticky"`)
	// the error carries the stack of the failed parse
	test.That(t, fmt.Sprintf("%+v", err), test.ShouldContainSubstring, "referenceframe.ParseFlagKind")
	test.That(t, FlagKind(9).String(), test.ShouldEqual, "FlagKind(9)")
}
