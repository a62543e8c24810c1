package komo

import (
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
)

// SetSquaredQAccelerations penalizes joint accelerations between start and end. It needs k-order 2.
func (k *KOMO) SetSquaredQAccelerations(start, end, prec float64) (*Objective, error) {
	return k.AddObjective(start, end, &feature.Transition{}, solver.TermSOS, WithScale(prec), WithOrder(2))
}

// SetSquaredQVelocities penalizes joint velocities between start and end.
func (k *KOMO) SetSquaredQVelocities(start, end, prec float64) (*Objective, error) {
	return k.AddObjective(start, end, &feature.Transition{}, solver.TermSOS, WithScale(prec), WithOrder(1))
}

// SetHoming pulls every joint towards its value in the base configuration.
func (k *KOMO) SetHoming(start, end, prec float64) (*Objective, error) {
	return k.AddObjective(start, end, &feature.JointState{}, solver.TermSOS,
		WithName("homing"), WithScale(prec), WithTarget(VectorTarget(k.base.JointState()...)))
}

// SetHoldStill penalizes the joint velocity of one frame.
func (k *KOMO) SetHoldStill(start, end float64, frame string, prec float64) (*Objective, error) {
	if k.base.Frame(frame) == nil {
		return nil, referenceframe.NewFrameMissingError(frame)
	}
	return k.AddObjective(start, end, &feature.JointState{Frames: []string{frame}}, solver.TermSOS,
		WithName("holdStill "+frame), WithScale(prec), WithOrder(1))
}

// SetSlow penalizes, or with hard set forbids, joint velocities. Nothing is added with two or
// fewer steps per phase, where velocities are not meaningful.
func (k *KOMO) SetSlow(start, end, prec float64, hard bool) (*Objective, error) {
	if k.plan.Timing.StepsPerPhase <= 2 {
		return nil, nil
	}
	typ := solver.TermSOS
	if hard {
		typ = solver.TermEq
	}
	return k.AddObjective(start, end, &feature.JointState{}, typ, WithName("slow"), WithScale(prec), WithOrder(1))
}

// SetSlowAround is SetSlow in a window of delta around time.
func (k *KOMO) SetSlowAround(time, delta, prec float64, hard bool) (*Objective, error) {
	return k.SetSlow(time-delta, time+delta, prec, hard)
}

// SetFixEffectiveJoints turns zeroVel and zeroAcc flags into equality constraints, up to the
// k-order.
func (k *KOMO) SetFixEffectiveJoints(start, end, prec float64) ([]*Objective, error) {
	var objectives []*Objective
	for order := 1; order <= min(2, k.plan.Timing.KOrder); order++ {
		o, err := k.AddObjective(start, end, &feature.FlagConstraints{}, solver.TermEq, WithScale(prec), WithOrder(order))
		if err != nil {
			return nil, err
		}
		objectives = append(objectives, o)
	}
	return objectives, nil
}

// SetPosition constrains the world position of frame, or its position relative to reference when
// reference is set.
func (k *KOMO) SetPosition(
	start, end float64,
	frame, reference string,
	typ solver.TermType,
	target []float64,
	prec float64,
) (*Objective, error) {
	var f feature.Feature = &feature.Position{Frame: frame}
	if reference != "" {
		f = &feature.PositionDiff{Frame: frame, Reference: reference}
	}
	return k.AddObjective(start, end, f, typ, WithScale(prec), WithTarget(VectorTarget(target...)))
}

// SetAlign aligns the local axis of frame with a world direction. Either orientation of the axis
// is accepted.
func (k *KOMO) SetAlign(
	start, end float64,
	frame string,
	axis, direction r3.Vector,
	typ solver.TermType,
	prec float64,
) (*Objective, error) {
	if direction.Norm() == 0 {
		return nil, errors.New("alignment direction must not be zero")
	}
	d := direction.Normalize()
	return k.AddObjective(start, end, &feature.AxisVector{Frame: frame, Axis: axis, Flip: true}, typ,
		WithName("align "+frame), WithScale(prec), WithTarget(VectorTarget(d.X, d.Y, d.Z)))
}

// AddSwitchStable attaches to onto from with a free joint at time. Until end the new joint must
// not move; a negative end keeps it still to the end of the horizon. A positive end also stops the
// relative motion of the two frames at end.
func (k *KOMO) AddSwitchStable(time, end float64, from, to string) error {
	if _, err := k.AddSwitch(time, true, referenceframe.Switch{JointType: referenceframe.JointFree, From: from, To: to}); err != nil {
		return err
	}
	spp := k.plan.Timing.StepsPerPhase
	if end < 0 || spp*end > spp*time+1 {
		if _, err := k.AddObjective(time, end, &feature.JointState{Frames: []string{to}}, solver.TermEq,
			WithName("stable "+to), WithScale(3e1), WithOrder(1), WithDeltas(1, -1)); err != nil {
			return err
		}
	}
	if end > 0 {
		if _, err := k.AddObjective(end, end, &feature.PositionDiff{Frame: from, Reference: to}, solver.TermEq,
			WithName("release "+to), WithScale(3e1), WithOrder(1)); err != nil {
			return err
		}
	}
	return nil
}

// AddSwitchAttach rigidly attaches to onto from at time, keeping its current relative pose.
func (k *KOMO) AddSwitchAttach(time float64, from, to string) error {
	_, err := k.AddSwitch(time, true, referenceframe.Switch{JointType: referenceframe.JointRigid, From: from, To: to})
	return err
}

// SetIKOpt configures a single step inverse kinematics problem with tuple assembly.
func (k *KOMO) SetIKOpt() error {
	if err := k.setTimingPreset(Timing{Phases: 1, StepsPerPhase: 1, DurationPerPhase: 1, KOrder: 1}, AssemblyTuples); err != nil {
		return err
	}
	_, err := k.SetSquaredQVelocities(0, -1, 1e-1)
	return err
}

// SetPoseOpt configures a two step pose problem with tuple assembly.
func (k *KOMO) SetPoseOpt() error {
	return k.setTimingPreset(Timing{Phases: 1, StepsPerPhase: 2, DurationPerPhase: 5, KOrder: 1}, AssemblyTuples)
}

// SetSequenceOpt configures a first order sequence of phases with two steps each.
func (k *KOMO) SetSequenceOpt(phases float64) error {
	return k.setTimingPreset(Timing{Phases: phases, StepsPerPhase: 2, DurationPerPhase: 5, KOrder: 1}, AssemblyGrid)
}

// SetPathOpt configures a second order path.
func (k *KOMO) SetPathOpt(phases, stepsPerPhase, durationPerPhase float64) error {
	return k.setTimingPreset(Timing{Phases: phases, StepsPerPhase: stepsPerPhase, DurationPerPhase: durationPerPhase, KOrder: 2},
		AssemblyGrid)
}

func (k *KOMO) setTimingPreset(timing Timing, mode AssemblyMode) error {
	if mode == AssemblyTuples && k.opts.SplineControlPoints > 0 {
		return ErrSplineUnsupported
	}
	if err := k.SetTiming(timing); err != nil {
		return err
	}
	k.opts.Assembly = mode
	return nil
}
