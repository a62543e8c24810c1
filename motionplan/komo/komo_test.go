package komo

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"go.viam.com/test"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
	spatial "go.viam.com/trajopt/spatialmath"
)

// makeArm builds a planar arm on a rail: slider, shoulder and elbow, with a tip one unit past the
// elbow and a box standing on the floor.
func makeArm(t *testing.T) *referenceframe.FrameSystem {
	t.Helper()
	fs := referenceframe.NewEmptyFrameSystem("arm")
	slider, err := referenceframe.NewJointFrame("slider", referenceframe.JointTransX)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(slider, referenceframe.World, nil), test.ShouldBeNil)
	shoulder, err := referenceframe.NewJointFrame("shoulder", referenceframe.JointHingeZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(shoulder, "slider", nil), test.ShouldBeNil)
	elbow, err := referenceframe.NewJointFrame("elbow", referenceframe.JointHingeZ)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, fs.AddFrame(elbow, "shoulder", spatial.NewPoseFromPoint(r3.Vector{X: 1})), test.ShouldBeNil)
	test.That(t, fs.AddFrame(referenceframe.NewZeroStaticFrame("tip"), "elbow",
		spatial.NewPoseFromPoint(r3.Vector{X: 1})), test.ShouldBeNil)
	test.That(t, fs.AddFrame(referenceframe.NewZeroStaticFrame("box"), referenceframe.World,
		spatial.NewPoseFromPoint(r3.Vector{Y: 2})), test.ShouldBeNil)
	return fs
}

func newTestKOMO(t *testing.T, timing Timing, opts *Options) *KOMO {
	t.Helper()
	k, err := New(makeArm(t), timing, opts, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	k.SetClock(clock.NewMock())
	return k
}

var tenSteps = Timing{Phases: 1, StepsPerPhase: 10, DurationPerPhase: 1, KOrder: 1}

func TestTiming(t *testing.T) {
	tm := Timing{Phases: 2.5, StepsPerPhase: 4, DurationPerPhase: 2, KOrder: 2}
	test.That(t, tm.T(), test.ShouldEqual, 10)
	test.That(t, tm.Len(), test.ShouldEqual, 12)
	test.That(t, tm.Tau(), test.ShouldEqual, 0.5)
	test.That(t, tm.Validate(), test.ShouldBeNil)

	test.That(t, tenSteps.StepOf(0), test.ShouldEqual, -1)
	test.That(t, tenSteps.StepOf(0.3), test.ShouldEqual, 2)
	test.That(t, tenSteps.StepOf(0.9), test.ShouldEqual, 8)
	test.That(t, tenSteps.StepOf(1), test.ShouldEqual, 9)
	test.That(t, tenSteps.StepOf(0.25), test.ShouldEqual, 2)
	test.That(t, tenSteps.TimeOf(9), test.ShouldEqual, 1.)

	test.That(t, Timing{Phases: 1.05, StepsPerPhase: 10}.T(), test.ShouldEqual, 11)
	test.That(t, Timing{Phases: -1}.Validate(), test.ShouldNotBeNil)
	test.That(t, Timing{Phases: 1, KOrder: -1}.Validate(), test.ShouldNotBeNil)
}

func TestStepRefs(t *testing.T) {
	test.That(t, RefOf(-2, 2), test.ShouldResemble, PrefixStep{Step: 0})
	test.That(t, RefOf(-1, 2), test.ShouldResemble, PrefixStep{Step: 1})
	test.That(t, RefOf(3, 2), test.ShouldResemble, PlanningStep{T: 3})
	test.That(t, RefOf(3, 2).Index(2), test.ShouldEqual, 5)
	test.That(t, RefOf(-1, 2).String(), test.ShouldEqual, "prefix[1]")
	test.That(t, window(4, 2), test.ShouldResemble, []int{2, 3, 4})
	test.That(t, window(0, 1), test.ShouldResemble, []int{-1, 0})
}

func TestTarget(t *testing.T) {
	v, err := Target{}.At(0, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldBeNil)
	test.That(t, Target{}.IsZero(), test.ShouldBeTrue)

	v, err = ScalarTarget(2).At(5, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, []float64{2, 2, 2})

	vt := VectorTarget(1, 2)
	v, err = vt.At(0, 2)
	test.That(t, err, test.ShouldBeNil)
	v[0] = 7
	test.That(t, vt.Values[0], test.ShouldEqual, 1.)
	_, err = vt.At(0, 3)
	test.That(t, errors.Is(err, ErrInconsistentFeature), test.ShouldBeTrue)

	rows := PerStepTarget(mat.NewDense(2, 2, []float64{1, 2, 3, 4}))
	v, err = rows.At(1, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldResemble, []float64{3, 4})
	_, err = rows.At(2, 2)
	test.That(t, errors.Is(err, ErrInconsistentFeature), test.ShouldBeTrue)
	_, err = rows.At(0, 3)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestObjectiveRegistration(t *testing.T) {
	plan := NewPlan(tenSteps)

	o, err := plan.AddObjective(0.3, 0.9, &feature.JointState{}, solver.TermEq, WithOrder(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{2, 3, 4, 5, 6, 7, 8})
	test.That(t, o.Name, test.ShouldEqual, "qItself")
	test.That(t, o.Scale, test.ShouldEqual, 1.)
	test.That(t, plan.Revision(), test.ShouldEqual, 1)

	// the order exceeds the k-order
	_, err = plan.AddObjective(-1, -1, &feature.JointState{}, solver.TermSOS, WithOrder(3))
	test.That(t, errors.Is(err, ErrInsufficientKOrder), test.ShouldBeTrue)
	_, err = plan.AddObjective(0, -1, &feature.Transition{}, solver.TermSOS)
	test.That(t, errors.Is(err, ErrInsufficientKOrder), test.ShouldBeTrue)
	test.That(t, plan.Objectives, test.ShouldHaveLength, 1)
	_, err = plan.AddObjective(0, 1, nil, solver.TermSOS)
	test.That(t, err, test.ShouldNotBeNil)

	// unactivated until steps are set
	o, err = plan.AddObjective(-1, -1, &feature.JointState{}, solver.TermSOS, WithName("later"))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldBeEmpty)
	o.SetActiveSteps(-4, 1, 2)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{0, 1})
	o.ZeroAt(0)
	test.That(t, o.Prec[1], test.ShouldEqual, 2.)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{1})

	// a single time one order short of the window start is pulled back
	o, err = plan.AddObjective(0.5, 0.4, &feature.JointState{}, solver.TermSOS, WithOrder(1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{3})

	o, err = plan.AddObjective(0.3, 0.5, &feature.JointState{}, solver.TermSOS, WithDeltas(1, -1))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{3})

	o, err = plan.AddObjectiveAtTimes(nil, &feature.JointState{}, solver.TermSOS)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldHaveLength, 10)
	o, err = plan.AddObjectiveAtTimes([]float64{1}, &feature.JointState{}, solver.TermSOS)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.ActiveSteps(), test.ShouldResemble, []int{9})
	_, err = plan.AddObjectiveAtTimes([]float64{0, 0.5, 1}, &feature.JointState{}, solver.TermSOS)
	test.That(t, err, test.ShouldNotBeNil)

	o, err = plan.AddObjectiveAtSteps([]int{-1, 4}, &feature.JointState{}, solver.TermSOS)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, o.Order, test.ShouldEqual, 1)
	test.That(t, o.Explicit(), test.ShouldBeTrue)
	test.That(t, o.Tuples, test.ShouldResemble, [][]int{{-1, 4}})
	test.That(t, o.AddTuple(1, 2), test.ShouldNotBeNil)

	rev := plan.Revision()
	clone := plan.Clone()
	plan.Clear()
	test.That(t, plan.Objectives, test.ShouldBeEmpty)
	test.That(t, plan.Revision(), test.ShouldEqual, rev+1)
	test.That(t, clone.Objectives, test.ShouldHaveLength, 7)
}

func TestKOMOLifecycle(t *testing.T) {
	k := newTestKOMO(t, tenSteps, nil)
	test.That(t, k.Options().Assembly, test.ShouldEqual, AssemblyGrid)

	_, err := k.Path()
	test.That(t, errors.Is(err, ErrNotMaterialized), test.ShouldBeTrue)

	_, err = k.AddSwitch(0.5, true, referenceframe.Switch{JointType: referenceframe.JointRigid, From: "tip", To: "box"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.SetTiming(Timing{Phases: 2, StepsPerPhase: 10, DurationPerPhase: 1, KOrder: 1}), test.ShouldNotBeNil)

	test.That(t, k.Materialize(), test.ShouldBeNil)
	err = k.Materialize()
	test.That(t, errors.Is(err, ErrAlreadyMaterialized), test.ShouldBeTrue)
	_, err = k.AddSwitch(0.8, true, referenceframe.Switch{JointType: referenceframe.JointFree, To: "box"})
	test.That(t, errors.Is(err, ErrAlreadyMaterialized), test.ShouldBeTrue)
	_, err = k.AddFlag(0.8, referenceframe.Flag{Kind: referenceframe.FlagZeroVel, Frame: "box"}, 0)
	test.That(t, errors.Is(err, ErrAlreadyMaterialized), test.ShouldBeTrue)

	path, err := k.Path()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path, test.ShouldHaveLength, 10)

	times, err := k.PathTimes()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, times[9], test.ShouldAlmostEqual, 1.)

	cfg, err := k.Configuration(0.6)
	test.That(t, err, test.ShouldBeNil)
	parent, err := cfg.Parent("box")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parent, test.ShouldEqual, "tip")
	_, err = k.Configuration(3)
	test.That(t, err, test.ShouldNotBeNil)

	// the base is untouched
	parent, err = k.Base().Parent("box")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, parent, test.ShouldEqual, referenceframe.World)

	k.ClearObjectives()
	test.That(t, k.Timeline(), test.ShouldBeNil)
	test.That(t, k.Plan().Switches, test.ShouldBeEmpty)
}

func TestZeroHorizon(t *testing.T) {
	k := newTestKOMO(t, Timing{Phases: 0, StepsPerPhase: 10, DurationPerPhase: 1, KOrder: 1}, nil)
	test.That(t, k.Materialize(), test.ShouldBeError, ErrZeroHorizon)
	test.That(t, k.Run(context.Background()), test.ShouldBeError, ErrZeroHorizon)
	_, err := k.CheckGradients(0)
	test.That(t, err, test.ShouldBeError, ErrZeroHorizon)
}

func TestOptions(t *testing.T) {
	opts, err := NewOptionsFromExtra(nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts, test.ShouldResemble, NewBasicOptions())

	opts, err = NewOptionsFromExtra(map[string]interface{}{
		"assembly":       "tuples",
		"seed":           7,
		"init_noise":     "0.5",
		"solver_options": map[string]interface{}{"max_iterations": "20"},
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, opts.Assembly, test.ShouldEqual, AssemblyTuples)
	test.That(t, opts.Seed, test.ShouldEqual, uint64(7))
	test.That(t, opts.InitNoise, test.ShouldEqual, 0.5)
	test.That(t, opts.SolverOptions.MaxIterations, test.ShouldEqual, 20)
	test.That(t, opts.SolverOptions.MuIncrease, test.ShouldEqual, 2.)

	_, err = NewOptionsFromExtra(map[string]interface{}{"colour": "red"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOptionsFromExtra(map[string]interface{}{"solver": "newton"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewOptionsFromExtra(map[string]interface{}{"assembly": "tuples", "spline_control_points": 3})
	test.That(t, err, test.ShouldBeError, ErrSplineUnsupported)

	k := newTestKOMO(t, tenSteps, nil)
	test.That(t, k.SetIKOpt(), test.ShouldBeNil)
	test.That(t, k.Options().Assembly, test.ShouldEqual, AssemblyTuples)
	test.That(t, k.Timing().T(), test.ShouldEqual, 1)
	test.That(t, k.SetSpline(2), test.ShouldBeError, ErrSplineUnsupported)
	test.That(t, k.SetPathOpt(2, 10, 1), test.ShouldNotBeNil)
}

func TestRunReachesTarget(t *testing.T) {
	k := newTestKOMO(t, Timing{Phases: 1, StepsPerPhase: 5, DurationPerPhase: 1, KOrder: 1}, nil)
	goal := []float64{0.5, 0.2, -0.1}

	_, err := k.SetSquaredQVelocities(0, -1, 1)
	test.That(t, err, test.ShouldBeNil)
	_, err = k.AddObjective(1, 1, &feature.JointState{}, solver.TermEq, WithName("goal"), WithTarget(VectorTarget(goal...)))
	test.That(t, err, test.ShouldBeNil)

	report, err := k.Report()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Evaluated, test.ShouldBeFalse)

	test.That(t, k.Run(context.Background()), test.ShouldBeNil)
	test.That(t, k.Result(), test.ShouldNotBeNil)
	test.That(t, k.RunTime(), test.ShouldEqual, time.Duration(0))

	path, err := k.Path()
	test.That(t, err, test.ShouldBeNil)
	for d, g := range goal {
		test.That(t, path[4][d], test.ShouldAlmostEqual, g, 1e-2)
		// least velocity path from the resting prefix is a straight line
		test.That(t, path[1][d], test.ShouldAlmostEqual, 0.4*g, 2e-2)
	}
	test.That(t, k.X(), test.ShouldHaveLength, 15)
	test.That(t, k.Dual(), test.ShouldHaveLength, 18)

	report, err = k.Report()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, report.Evaluated, test.ShouldBeTrue)
	test.That(t, report.Objectives, test.ShouldHaveLength, 2)
	test.That(t, report.Objectives[0].Rows, test.ShouldEqual, 15)
	test.That(t, report.Objectives[1].Rows, test.ShouldEqual, 3)
	test.That(t, report.Objectives[1].Name, test.ShouldEqual, "goal")
	test.That(t, report.Constraints, test.ShouldBeLessThan, 1e-2)
	test.That(t, report.SqrCosts, test.ShouldBeGreaterThan, 0)
	test.That(t, report.StepErrors, test.ShouldHaveLength, 5)
	test.That(t, report.StepDuals, test.ShouldHaveLength, 5)

	costs, err := k.Costs()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, costs, test.ShouldEqual, report.SqrCosts)

	var buf bytes.Buffer
	test.That(t, report.Write(&buf), test.ShouldBeNil)
	test.That(t, buf.String(), test.ShouldContainSubstring, "goal")
	test.That(t, buf.String(), test.ShouldContainSubstring, "TOTAL")
	test.That(t, buf.String(), test.ShouldContainSubstring, "SQRCOSTS")

	specs, err := k.ProblemSpec(true)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, specs, test.ShouldHaveLength, 2)
	test.That(t, specs[1].Steps, test.ShouldResemble, []int{4})
	test.That(t, specs[1].Target, test.ShouldResemble, goal)
	test.That(t, specs[1].Value, test.ShouldNotBeNil)

	check, err := k.CheckGradients(1e-4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, check.Success(), test.ShouldBeTrue)

	// a warm start keeps the multipliers
	test.That(t, k.Run(context.Background()), test.ShouldBeNil)
	test.That(t, k.Dual(), test.ShouldHaveLength, 18)
}

func TestRunWithUnreferencedFreeSwitch(t *testing.T) {
	k := newTestKOMO(t, Timing{Phases: 1, StepsPerPhase: 6, DurationPerPhase: 1, KOrder: 2}, nil)
	_, err := k.AddSwitch(0.5, true, referenceframe.Switch{JointType: referenceframe.JointFree, To: "box"})
	test.That(t, err, test.ShouldBeNil)
	_, err = k.SetSquaredQAccelerations(0, -1, 1)
	test.That(t, err, test.ShouldBeNil)

	test.That(t, k.Optimize(context.Background(), true), test.ShouldBeNil)
	dims := k.Timeline().VariableDims()
	test.That(t, dims, test.ShouldResemble, []int{3, 3, 9, 9, 9, 9})
	test.That(t, k.X(), test.ShouldHaveLength, 6+36)
}

func TestSetWaypoints(t *testing.T) {
	k := newTestKOMO(t, Timing{Phases: 2, StepsPerPhase: 5, DurationPerPhase: 1, KOrder: 1}, nil)
	test.That(t, k.SetWaypoints([][]float64{{1, 0, 0}, {2, 1, 0}}), test.ShouldBeNil)

	path, err := k.Path()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path[0], test.ShouldResemble, []float64{0, 0, 0})
	test.That(t, path[2][0], test.ShouldAlmostEqual, 0.5)
	test.That(t, path[4], test.ShouldResemble, []float64{1, 0, 0})
	test.That(t, path[9], test.ShouldResemble, []float64{2, 1, 0})
	test.That(t, path[7][1], test.ShouldBeBetween, 0., 1.)
	test.That(t, k.X()[27:], test.ShouldResemble, []float64{2, 1, 0})

	test.That(t, k.SetWaypoints([][]float64{{1, 0}}), test.ShouldNotBeNil)
}

func TestResetNoise(t *testing.T) {
	opts := NewBasicOptions()
	opts.Seed = 3
	a := newTestKOMO(t, tenSteps, opts)
	b := newTestKOMO(t, tenSteps, opts)
	test.That(t, a.Reset(0.1), test.ShouldBeNil)
	test.That(t, b.Reset(0.1), test.ShouldBeNil)
	test.That(t, a.X(), test.ShouldResemble, b.X())
	test.That(t, a.X(), test.ShouldNotResemble, make([]float64, 30))

	path, err := a.Path()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, path[0], test.ShouldResemble, a.X()[:3])
}

func TestWriteProblem(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	k, err := New(makeArm(t), tenSteps, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = k.SetPosition(1, 1, "tip", "", solver.TermEq, []float64{1, 1, 0}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.AddSwitchAttach(0.5, "tip", "box"), test.ShouldBeNil)
	_, err = k.AddFlag(3, referenceframe.Flag{Kind: referenceframe.FlagZeroVel, Frame: "box"}, 0)
	test.That(t, err, test.ShouldBeNil)

	var buf bytes.Buffer
	test.That(t, k.WriteProblem(&buf), test.ShouldBeNil)
	out := buf.String()
	test.That(t, out, test.ShouldContainSubstring, "KOMO problem")
	test.That(t, out, test.ShouldContainSubstring, "position")
	test.That(t, out, test.ShouldContainSubstring, "[1 1 0]")
	test.That(t, out, test.ShouldContainSubstring, "beyond horizon")
	test.That(t, logs.FilterMessage("flag beyond time horizon").Len(), test.ShouldEqual, 1)

	err = k.Materialize()
	test.That(t, errors.Is(err, ErrBeyondHorizon), test.ShouldBeTrue)
	test.That(t, logs.FilterMessage("flag beyond time horizon").Len(), test.ShouldEqual, 2)
}

// skewed is q0^2+q0 with a Jacobian that ignores the square.
type skewed struct{}

func (skewed) Name() string { return "skewed" }

func (skewed) Order() int { return 0 }

func (skewed) Dim(tuple []*referenceframe.FrameSystem) (int, error) { return 1, nil }

func (skewed) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	fs := tuple[len(tuple)-1]
	q := fs.JointState()
	jac := mat.NewDense(1, feature.TupleDoF(tuple), nil)
	jac.Set(0, feature.TupleDoF(tuple)-fs.DoF(), 1)
	return []float64{q[0]*q[0] + q[0]}, jac, nil
}

func TestCheckGradients(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	k, err := New(makeArm(t), tenSteps, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, err = k.AddObjective(1, 1, skewed{}, solver.TermSOS)
	test.That(t, err, test.ShouldBeNil)
	_, err = k.SetPosition(0.5, 0.5, "tip", "", solver.TermSOS, []float64{1, 1, 0}, 1)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, k.Reset(0), test.ShouldBeNil)

	x := k.X()
	x[27] = 1
	test.That(t, k.Timeline().SetDecisionVector(x), test.ShouldBeNil)
	k.x = x

	check, err := k.CheckGradients(1e-4)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, check.Success(), test.ShouldBeFalse)
	test.That(t, check.Failures, test.ShouldHaveLength, 1)
	test.That(t, check.Failures[0].Objective, test.ShouldEqual, "skewed")
	test.That(t, check.Failures[0].Step, test.ShouldEqual, 9)
	test.That(t, check.Failures[0].Column, test.ShouldEqual, 27)
	test.That(t, check.Failures[0].Numeric, test.ShouldAlmostEqual, 3., 1e-4)
	test.That(t, logs.FilterMessage("gradient check failure").Len(), test.ShouldEqual, 1)

	// the timeline is left at x
	test.That(t, k.Timeline().DecisionVector(), test.ShouldResemble, x)
}
