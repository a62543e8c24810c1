package komo

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/geo/r3"
	"go.viam.com/test"

	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
)

func TestObjectivePresets(t *testing.T) {
	k := newTestKOMO(t, Timing{Phases: 1, StepsPerPhase: 10, DurationPerPhase: 1, KOrder: 2}, nil)

	homing, err := k.SetHoming(0, -1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, homing.Name, test.ShouldEqual, "homing")
	test.That(t, homing.Target.Values, test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, homing.ActiveSteps(), test.ShouldHaveLength, 10)

	_, err = k.SetHoldStill(0, -1, "ghost", 1)
	test.That(t, err, test.ShouldNotBeNil)
	still, err := k.SetHoldStill(0, -1, "elbow", 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, still.Order, test.ShouldEqual, 1)

	slow, err := k.SetSlow(0, -1, 1, true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, slow.Type, test.ShouldEqual, solver.TermEq)
	around, err := k.SetSlowAround(0.5, 0.1, 1, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, around.Type, test.ShouldEqual, solver.TermSOS)
	test.That(t, around.ActiveSteps(), test.ShouldResemble, []int{3, 4, 5})

	fixed, err := k.SetFixEffectiveJoints(0, -1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fixed, test.ShouldHaveLength, 2)
	test.That(t, fixed[0].Order, test.ShouldEqual, 1)
	test.That(t, fixed[1].Order, test.ShouldEqual, 2)

	pos, err := k.SetPosition(1, 1, "tip", "", solver.TermEq, []float64{1, 1, 0}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pos.Feature.Name(), test.ShouldEqual, "position")
	rel, err := k.SetPosition(1, 1, "tip", "box", solver.TermSOS, []float64{0, 0, 0}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rel.Feature.Name(), test.ShouldEqual, "positionDiff")

	_, err = k.SetAlign(1, 1, "tip", r3.Vector{X: 1}, r3.Vector{}, solver.TermEq, 1)
	test.That(t, err, test.ShouldNotBeNil)
	align, err := k.SetAlign(1, 1, "tip", r3.Vector{X: 1}, r3.Vector{Z: 2}, solver.TermEq, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, align.Target.Values, test.ShouldResemble, []float64{0, 0, 1})

	test.That(t, k.Plan().Objectives, test.ShouldHaveLength, 9)
}

func TestSwitchPresets(t *testing.T) {
	k := newTestKOMO(t, tenSteps, nil)
	test.That(t, k.AddSwitchStable(0.5, -1, "tip", "box"), test.ShouldBeNil)
	plan := k.Plan()
	test.That(t, plan.Switches, test.ShouldHaveLength, 1)
	test.That(t, plan.Switches[0].Step, test.ShouldEqual, 4)
	test.That(t, plan.Switches[0].Switch.JointType, test.ShouldEqual, referenceframe.JointFree)
	test.That(t, plan.Objectives, test.ShouldHaveLength, 1)
	test.That(t, plan.Objectives[0].Name, test.ShouldEqual, "stable box")
	test.That(t, plan.Objectives[0].ActiveSteps(), test.ShouldResemble, []int{5, 6, 7, 8})

	test.That(t, k.AddSwitchAttach(0.8, "elbow", "box"), test.ShouldBeNil)
	test.That(t, plan.Switches[1].Step, test.ShouldEqual, 7)
	test.That(t, plan.Switches[1].Switch.JointType, test.ShouldEqual, referenceframe.JointRigid)

	test.That(t, k.Materialize(), test.ShouldBeNil)
	test.That(t, k.Timeline().VariableDims(), test.ShouldResemble, []int{3, 3, 3, 3, 9, 9, 9, 3, 3, 3})
}

func TestSwitchStableUntilEnd(t *testing.T) {
	k := newTestKOMO(t, tenSteps, nil)
	test.That(t, k.AddSwitchStable(0.3, 0.8, "tip", "box"), test.ShouldBeNil)
	objectives := k.Plan().Objectives
	test.That(t, objectives, test.ShouldHaveLength, 2)
	test.That(t, objectives[0].Name, test.ShouldEqual, "stable box")

	release := objectives[1]
	test.That(t, release.Name, test.ShouldEqual, "release box")
	test.That(t, release.Feature, test.ShouldResemble, &feature.PositionDiff{Frame: "tip", Reference: "box"})
	test.That(t, release.Type, test.ShouldEqual, solver.TermEq)
	test.That(t, release.Order, test.ShouldEqual, 1)
	test.That(t, release.ActiveSteps(), test.ShouldResemble, []int{7})

	// an end too close to the switch only stops the relative motion
	k = newTestKOMO(t, tenSteps, nil)
	test.That(t, k.AddSwitchStable(0.3, 0.4, "tip", "box"), test.ShouldBeNil)
	test.That(t, k.Plan().Objectives, test.ShouldHaveLength, 1)
	test.That(t, k.Plan().Objectives[0].Name, test.ShouldEqual, "release box")
	test.That(t, k.Plan().Objectives[0].ActiveSteps(), test.ShouldResemble, []int{3})
}

func TestTimingPresets(t *testing.T) {
	k := newTestKOMO(t, tenSteps, nil)
	test.That(t, k.SetIKOpt(), test.ShouldBeNil)
	test.That(t, k.Timing().T(), test.ShouldEqual, 1)
	test.That(t, k.Options().Assembly, test.ShouldEqual, AssemblyTuples)
	test.That(t, k.Plan().Objectives, test.ShouldHaveLength, 1)
	// declarations freeze the timing
	test.That(t, k.SetPoseOpt(), test.ShouldNotBeNil)

	k = newTestKOMO(t, tenSteps, nil)
	test.That(t, k.SetPoseOpt(), test.ShouldBeNil)
	test.That(t, k.Timing().T(), test.ShouldEqual, 2)
	test.That(t, k.Timing().Tau(), test.ShouldAlmostEqual, 2.5)

	test.That(t, k.SetSequenceOpt(3), test.ShouldBeNil)
	test.That(t, k.Timing().T(), test.ShouldEqual, 6)
	test.That(t, k.Options().Assembly, test.ShouldEqual, AssemblyGrid)

	test.That(t, k.SetPathOpt(2, 5, 1), test.ShouldBeNil)
	test.That(t, k.Timing().T(), test.ShouldEqual, 10)
	test.That(t, k.Timing().KOrder, test.ShouldEqual, 2)

	spline := NewBasicOptions()
	spline.SplineControlPoints = 3
	k = newTestKOMO(t, tenSteps, spline)
	test.That(t, k.SetIKOpt(), test.ShouldBeError, ErrSplineUnsupported)
}

func TestPlotTrajectory(t *testing.T) {
	k := newTestKOMO(t, tenSteps, nil)
	_, err := k.SetSquaredQVelocities(0, -1, 1)
	test.That(t, err, test.ShouldBeNil)
	_, err = k.SetHoming(1, 1, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.Optimize(context.Background(), true), test.ShouldBeNil)

	path := filepath.Join(t.TempDir(), "trajectory.png")
	test.That(t, k.PlotTrajectory(path), test.ShouldBeNil)
	info, err := os.Stat(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, info.Size(), test.ShouldBeGreaterThan, 0)
}
