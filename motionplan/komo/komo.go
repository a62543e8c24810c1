// Package komo formulates and solves k-order trajectory optimization problems.
//
// A problem is declared as a Plan: a Timing, objectives over symbolic time windows, and switches
// and flags that edit the kinematic tree or annotate frames at given times. Materialize expands the
// plan into a Timeline of k-order prefix configurations followed by T planning configurations. An
// Assembler evaluates the objectives on configuration tuples of the timeline and hands the result
// to a constrained optimizer as a problem over the concatenated planning joint states.
//
// KOMO ties these together and is not safe for concurrent use.
package komo

import (
	"bytes"
	"context"
	"math/rand/v2"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat/distuv"

	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
	"go.viam.com/trajopt/utils"
)

// KOMO is a trajectory optimization problem over a base configuration.
type KOMO struct {
	logger logging.Logger
	clock  clock.Clock
	opts   *Options
	noise  rand.Source

	base      *referenceframe.FrameSystem
	plan      *Plan
	timeline  *Timeline
	refresher Refresher

	x      []float64
	z      []float64
	dual   []float64
	spline *spline

	layout        *Layout
	featureValues []float64
	result        *solver.Result
	runTime       time.Duration
}

// New returns a problem over base with the given timing. Nil options use NewBasicOptions.
func New(base *referenceframe.FrameSystem, timing Timing, opts *Options, logger logging.Logger) (*KOMO, error) {
	if base == nil {
		return nil, errors.New("komo needs a base configuration")
	}
	if err := timing.Validate(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = NewBasicOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	base = base.Clone()
	base.CalcJointIndex()
	if err := base.CheckConsistency(); err != nil {
		return nil, err
	}
	return &KOMO{
		logger: logger,
		clock:  clock.New(),
		opts:   opts,
		noise:  rand.NewPCG(opts.Seed, opts.Seed),
		base:   base,
		plan:   NewPlan(timing),
	}, nil
}

// SetClock replaces the clock used to time runs.
func (k *KOMO) SetClock(c clock.Clock) {
	k.clock = c
}

// Options returns the options. Changes take effect on the next run.
func (k *KOMO) Options() *Options {
	return k.opts
}

// Plan returns the declared problem.
func (k *KOMO) Plan() *Plan {
	return k.plan
}

// Timing returns the timing.
func (k *KOMO) Timing() Timing {
	return k.plan.Timing
}

// Base returns the base configuration.
func (k *KOMO) Base() *referenceframe.FrameSystem {
	return k.base
}

// SetTiming changes the discretization. It is only allowed before anything was declared.
func (k *KOMO) SetTiming(timing Timing) error {
	if err := timing.Validate(); err != nil {
		return err
	}
	if len(k.plan.Objectives) > 0 || len(k.plan.Switches) > 0 || len(k.plan.Flags) > 0 {
		return errors.New("timing cannot change once objectives, switches or flags are declared")
	}
	k.plan.Timing = timing
	k.dropTimeline()
	return nil
}

// SetRefresher installs a hook that runs on every planning configuration after the decision vector
// was written, for instance to update collision caches.
func (k *KOMO) SetRefresher(r Refresher) {
	k.refresher = r
	if k.timeline != nil {
		k.timeline.SetRefresher(r)
	}
}

// AddObjective registers an objective active between the symbolic times start and end, see
// Plan.AddObjective.
func (k *KOMO) AddObjective(
	start, end float64,
	f feature.Feature,
	typ solver.TermType,
	opts ...ObjectiveOption,
) (*Objective, error) {
	o, err := k.plan.AddObjective(start, end, f, typ, opts...)
	if err != nil {
		return nil, err
	}
	k.dropEvaluation()
	return o, nil
}

// AddObjectiveAtTimes registers an objective from a list of times. With grid assembly these are
// symbolic times, see Plan.AddObjectiveAtTimes. With tuple assembly they are the relative steps of
// one explicit tuple, see Plan.AddObjectiveAtSteps.
func (k *KOMO) AddObjectiveAtTimes(
	times []float64,
	f feature.Feature,
	typ solver.TermType,
	opts ...ObjectiveOption,
) (*Objective, error) {
	var o *Objective
	var err error
	if k.opts.Assembly == AssemblyTuples {
		steps := make([]int, len(times))
		for i, tm := range times {
			steps[i] = int(tm)
		}
		o, err = k.plan.AddObjectiveAtSteps(steps, f, typ, opts...)
	} else {
		o, err = k.plan.AddObjectiveAtTimes(times, f, typ, opts...)
	}
	if err != nil {
		return nil, err
	}
	k.dropEvaluation()
	return o, nil
}

// AddSwitch schedules a switch, see Plan.AddSwitch. Switches must be declared before the timeline
// is materialized.
func (k *KOMO) AddSwitch(time float64, before bool, sw referenceframe.Switch) (ScheduledSwitch, error) {
	if k.timeline != nil {
		return ScheduledSwitch{}, errors.Wrap(ErrAlreadyMaterialized, "cannot add switch")
	}
	return k.plan.AddSwitch(time, before, sw), nil
}

// AddFlag schedules a flag, see Plan.AddFlag. Flags must be declared before the timeline is
// materialized.
func (k *KOMO) AddFlag(time float64, fl referenceframe.Flag, stepDelta int) (ScheduledFlag, error) {
	if k.timeline != nil {
		return ScheduledFlag{}, errors.Wrap(ErrAlreadyMaterialized, "cannot add flag")
	}
	return k.plan.AddFlag(time, fl, stepDelta), nil
}

// ClearObjectives discards all objectives, switches and flags together with the timeline.
func (k *KOMO) ClearObjectives() {
	k.plan.Clear()
	k.dropTimeline()
}

func (k *KOMO) dropEvaluation() {
	k.layout = nil
	k.featureValues = nil
	k.result = nil
}

func (k *KOMO) dropTimeline() {
	k.timeline = nil
	k.x, k.z, k.dual = nil, nil, nil
	k.spline = nil
	k.dropEvaluation()
}

// Materialize builds the timeline. It fails if the timeline already exists.
func (k *KOMO) Materialize() error {
	if k.timeline != nil {
		return ErrAlreadyMaterialized
	}
	tl, err := Materialize(k.base, k.plan, k.logger)
	if err != nil {
		return err
	}
	tl.SetRefresher(k.refresher)
	k.timeline = tl
	return nil
}

// Timeline returns the materialized timeline, or nil.
func (k *KOMO) Timeline() *Timeline {
	return k.timeline
}

// Reset sets the decision vector from the timeline, materializing it first if needed, and adds
// Gaussian noise of the given standard deviation. Duals and previous results are discarded.
func (k *KOMO) Reset(noise float64) error {
	if k.timeline == nil {
		if err := k.Materialize(); err != nil {
			return err
		}
	}
	k.x = k.timeline.DecisionVector()
	k.dual = nil
	k.dropEvaluation()
	if noise > 0 {
		normal := distuv.Normal{Mu: 0, Sigma: noise, Src: k.noise}
		for i := range k.x {
			k.x[i] += normal.Rand()
		}
		if err := k.timeline.SetDecisionVector(k.x); err != nil {
			return err
		}
	}
	return k.fitSpline()
}

// SetSpline optimizes splineT+1 control points of a degree two spline instead of every step. Zero
// turns the spline off. It needs grid assembly and the same joint dimension at every step.
func (k *KOMO) SetSpline(splineT int) error {
	if splineT < 0 {
		return errors.Errorf("spline control points must be non-negative, got %d", splineT)
	}
	if splineT > 0 && k.opts.Assembly == AssemblyTuples {
		return ErrSplineUnsupported
	}
	k.opts.SplineControlPoints = splineT
	if k.x == nil {
		return nil
	}
	return k.fitSpline()
}

func (k *KOMO) fitSpline() error {
	k.spline, k.z = nil, nil
	if k.opts.SplineControlPoints == 0 {
		return nil
	}
	if k.opts.Assembly == AssemblyTuples {
		return ErrSplineUnsupported
	}
	dof, ok := k.timeline.UniformDims()
	if !ok {
		return errors.New("spline needs the same joint dimension at every step")
	}
	s, err := newSpline(k.timeline.T(), dof, k.opts.SplineControlPoints)
	if err != nil {
		return err
	}
	z, err := s.fit(k.x)
	if err != nil {
		return err
	}
	k.spline, k.z = s, z
	return nil
}

func (k *KOMO) newAssembler() Assembler {
	if k.opts.Assembly == AssemblyTuples {
		ta := NewTupleAssembler(k.timeline, k.plan, k.logger)
		ta.SetAnomalyThreshold(k.opts.AnomalyThreshold)
		return ta
	}
	g := NewGridAssembler(k.timeline, k.plan, k.logger)
	g.SetAnomalyThreshold(k.opts.AnomalyThreshold)
	return g
}

// Run optimizes from the current decision vector with a fresh solver. Not converging is not an
// error; the outcome is available from Result and Report.
func (k *KOMO) Run(ctx context.Context) error {
	if k.plan.Timing.T() == 0 {
		return ErrZeroHorizon
	}
	if k.x == nil {
		if err := k.Reset(0); err != nil {
			return err
		}
	}
	start := k.clock.Now()

	slv, err := solver.New(k.opts.Solver, k.opts.SolverOptions, k.logger.Sublogger("solver"))
	if err != nil {
		return err
	}
	assembler := k.newAssembler()
	layout, err := assembler.Layout()
	if err != nil {
		return err
	}
	var problem solver.ConstrainedProblem = assembler
	x0 := k.x
	if k.spline != nil {
		if k.opts.Assembly == AssemblyTuples {
			return ErrSplineUnsupported
		}
		problem = &splineProblem{inner: assembler, spline: k.spline}
		x0 = k.z
	}
	dual := k.dual
	if len(dual) != len(layout.Types) {
		dual = nil
	}

	result, err := slv.Solve(ctx, problem, x0, dual)
	if err != nil {
		return errors.Wrap(err, "optimization failed")
	}
	if k.spline != nil {
		k.z = append([]float64(nil), result.X...)
		k.x = k.spline.expand(k.z)
	} else {
		k.x = append([]float64(nil), result.X...)
	}
	// leave the timeline and the feature values at the solution
	if _, _, err := assembler.Evaluate(k.x); err != nil {
		return err
	}
	k.layout = layout
	k.featureValues = assembler.Values()
	k.dual = result.Dual
	k.result = result
	k.runTime = k.clock.Since(start)

	k.logger.Infow("optimization finished",
		"time", k.runTime,
		"iterations", result.Iterations,
		"evaluations", result.Evaluations,
		"cost", result.Cost,
		"eq", result.Eq,
		"ineq", result.Ineq,
		"converged", result.Converged,
	)
	if k.opts.Verbose > 1 {
		k.logReport()
	}
	return nil
}

// Optimize optionally resets with the configured noise, then runs. With Verbose set the problem and
// the report are logged at debug level.
func (k *KOMO) Optimize(ctx context.Context, initialize bool) error {
	if initialize {
		if err := k.Reset(k.opts.InitNoise); err != nil {
			return err
		}
	}
	if k.opts.Verbose > 0 {
		var buf bytes.Buffer
		if err := k.WriteProblem(&buf); err != nil {
			return err
		}
		k.logger.Debug(buf.String())
	}
	if err := k.Run(ctx); err != nil {
		return err
	}
	if k.opts.Verbose > 0 {
		k.logReport()
	}
	return nil
}

func (k *KOMO) logReport() {
	report, err := k.Report()
	if err != nil {
		k.logger.Warnw("cannot build report", "error", err)
		return
	}
	var buf bytes.Buffer
	if err := report.Write(&buf); err != nil {
		k.logger.Warnw("cannot write report", "error", err)
		return
	}
	k.logger.Debug(buf.String())
}

// SetWaypoints initializes the trajectory from one joint state per phase. Waypoint i is placed at
// the last step of phase i and copied forward to later steps for every joint that no switch
// touches in between. Steps between waypoints are eased with a cosine profile; steps after a
// waypoint beyond the horizon hold the previous one. The decision vector is reset afterwards.
func (k *KOMO) SetWaypoints(waypoints [][]float64) error {
	if k.timeline == nil {
		if err := k.Materialize(); err != nil {
			return err
		}
	}
	tl := k.timeline
	kOrder, T := tl.KOrder(), tl.T()

	steps := make([]int, len(waypoints))
	for i := range steps {
		steps[i] = k.plan.Timing.StepOf(float64(i + 1))
	}

	for i, step := range steps {
		if step < 0 || step >= T {
			continue
		}
		cfg := tl.Config(kOrder + step)
		if err := cfg.SetJointState(waypoints[i]); err != nil {
			return errors.Wrapf(err, "waypoint %d", i)
		}
		for t := step + 1; t < T; t++ {
			names := tl.NonSwitched(kOrder+step, kOrder+t)
			q, err := cfg.JointStateOf(names)
			if err != nil {
				return err
			}
			if err := tl.Config(kOrder+t).SetJointStateOf(names, q); err != nil {
				return err
			}
		}
	}

	names := tl.NonSwitched(0, tl.Len()-1)
	q := make([][]float64, T)
	for t := range q {
		var err error
		if q[t], err = tl.Config(kOrder + t).JointStateOf(names); err != nil {
			return err
		}
	}
	set := func(t int, qt []float64) error {
		q[t] = qt
		return tl.Config(kOrder+t).SetJointStateOf(names, qt)
	}
	for i, step := range steps {
		from := 0
		if i > 0 {
			from = steps[i-1]
		}
		if from < 0 || from >= T {
			break
		}
		q0 := q[from]
		if step < T {
			q1 := q[step]
			for j := from + 1; j <= step; j++ {
				ease := utils.Cosine(float64(j-from) / float64(step-from))
				qj := make([]float64, len(q0))
				for d := range qj {
					qj[d] = q0[d] + ease*(q1[d]-q0[d])
				}
				if err := set(j, qj); err != nil {
					return err
				}
			}
			continue
		}
		for j := from + 1; j < T; j++ {
			if err := set(j, append([]float64(nil), q0...)); err != nil {
				return err
			}
		}
	}
	return k.Reset(0)
}

// Result returns the outcome of the last run, or nil.
func (k *KOMO) Result() *solver.Result {
	return k.result
}

// RunTime is the duration of the last run.
func (k *KOMO) RunTime() time.Duration {
	return k.runTime
}

// X returns a copy of the decision vector.
func (k *KOMO) X() []float64 {
	return append([]float64(nil), k.x...)
}

// Dual returns the multipliers of the last run, one per feature row.
func (k *KOMO) Dual() []float64 {
	return k.dual
}
