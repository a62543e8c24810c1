package komo

import (
	"github.com/pkg/errors"

	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
)

// ScheduledSwitch is a switch together with the planning step it applies at. The symbolic time it
// was declared with is kept for reports.
type ScheduledSwitch struct {
	Step   int
	Time   float64
	Switch referenceframe.Switch
}

// ScheduledFlag is a flag together with the planning step it applies at.
type ScheduledFlag struct {
	Step int
	Time float64
	Flag referenceframe.Flag
}

// Plan holds everything declared about a problem: the timing, the objectives in insertion order,
// and the scheduled switches and flags. A plan only records intent; Materialize turns it into a
// timeline.
type Plan struct {
	Timing     Timing
	Objectives []*Objective
	Switches   []ScheduledSwitch
	Flags      []ScheduledFlag

	revision int
}

// NewPlan returns an empty plan.
func NewPlan(timing Timing) *Plan {
	return &Plan{Timing: timing}
}

// Revision increases with every change to the objectives. Problems built from the plan compare it
// to detect stale structure.
func (p *Plan) Revision() int {
	return p.revision
}

func (p *Plan) newObjective(f feature.Feature, typ solver.TermType, args objectiveArgs) (*Objective, error) {
	if f == nil {
		return nil, errors.New("objective needs a feature")
	}
	order := args.order
	if order < 0 {
		order = f.Order()
	}
	if order > p.Timing.KOrder {
		return nil, errors.Wrapf(ErrInsufficientKOrder, "%s needs order %d, k-order is %d", f.Name(), order, p.Timing.KOrder)
	}
	name := args.name
	if name == "" {
		name = f.Name()
	}
	o := &Objective{
		Name:    name,
		Feature: f,
		Type:    typ,
		Order:   order,
		Target:  args.target,
		Scale:   args.scale,
		Prec:    make([]float64, p.Timing.T()),
		plan:    p,
	}
	p.Objectives = append(p.Objectives, o)
	p.revision++
	return o, nil
}

// activate converts a symbolic time window into active steps of o.
func (p *Plan) activate(o *Objective, start, end float64, deltaFrom, deltaTo int) {
	T := p.Timing.T()
	if T == 0 {
		return
	}
	from := 0
	if start >= 0 {
		from = p.Timing.StepOf(start)
	}
	to := T - 1
	if end >= 0 {
		to = p.Timing.StepOf(end)
	}
	if to < 0 {
		to = 0
	}
	if from > to && from-to <= o.Order {
		from = to
	}
	o.setActiveSteps(from+deltaFrom, to+deltaTo, o.Scale)
}

// AddObjective registers an objective active between the symbolic times start and end. A negative
// start means the beginning of the horizon, a negative end its end. With both negative the
// objective is registered but not active anywhere, and the caller sets its steps.
func (p *Plan) AddObjective(
	start, end float64,
	f feature.Feature,
	typ solver.TermType,
	opts ...ObjectiveOption,
) (*Objective, error) {
	args := newObjectiveArgs(opts)
	o, err := p.newObjective(f, typ, args)
	if err != nil {
		return nil, err
	}
	if start >= 0 || end >= 0 {
		p.activate(o, start, end, args.deltaFrom, args.deltaTo)
	}
	return o, nil
}

// AddObjectiveAtTimes registers a grid objective from a list of times: none for the whole horizon,
// one for a single step, two for a window.
func (p *Plan) AddObjectiveAtTimes(
	times []float64,
	f feature.Feature,
	typ solver.TermType,
	opts ...ObjectiveOption,
) (*Objective, error) {
	if len(times) > 2 {
		return nil, errors.Errorf("an objective takes at most two times, got %d", len(times))
	}
	args := newObjectiveArgs(opts)
	o, err := p.newObjective(f, typ, args)
	if err != nil {
		return nil, err
	}
	switch len(times) {
	case 0:
		o.setActiveSteps(0, p.Timing.T()-1, o.Scale)
	case 1:
		p.activate(o, times[0], times[0], 0, 0)
	default:
		p.activate(o, times[0], times[1], 0, 0)
	}
	return o, nil
}

// AddObjectiveAtSteps registers an objective on one explicit tuple of steps relative to the first
// planning step. The order is len(steps)-1. Without steps the objective covers the whole horizon.
func (p *Plan) AddObjectiveAtSteps(
	steps []int,
	f feature.Feature,
	typ solver.TermType,
	opts ...ObjectiveOption,
) (*Objective, error) {
	args := newObjectiveArgs(opts)
	if len(steps) > 0 {
		args.order = len(steps) - 1
	}
	o, err := p.newObjective(f, typ, args)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		o.setActiveSteps(0, p.Timing.T()-1, o.Scale)
		return o, nil
	}
	if err := o.addTuple(o.Scale, steps...); err != nil {
		return nil, err
	}
	return o, nil
}

// AddSwitch schedules sw at time. A switch before the time applies at the step of the time itself,
// otherwise at the step after. Negative times count as zero.
func (p *Plan) AddSwitch(time float64, before bool, sw referenceframe.Switch) ScheduledSwitch {
	if time < 0 {
		time = 0
	}
	step := p.Timing.StepOf(time)
	if !before {
		step++
	}
	scheduled := ScheduledSwitch{Step: step, Time: time, Switch: sw}
	p.Switches = append(p.Switches, scheduled)
	return scheduled
}

// AddFlag schedules fl at the step of time shifted by stepDelta. Negative times count as zero.
func (p *Plan) AddFlag(time float64, fl referenceframe.Flag, stepDelta int) ScheduledFlag {
	if time < 0 {
		time = 0
	}
	scheduled := ScheduledFlag{Step: p.Timing.StepOf(time) + stepDelta, Time: time, Flag: fl}
	p.Flags = append(p.Flags, scheduled)
	return scheduled
}

// Clear drops every objective, switch and flag.
func (p *Plan) Clear() {
	p.Objectives = nil
	p.Switches = nil
	p.Flags = nil
	p.revision++
}

// Clone returns a copy of the plan whose lists can be changed independently. Objectives are shared
// and keep reporting their edits to p.
func (p *Plan) Clone() *Plan {
	c := &Plan{Timing: p.Timing, revision: p.revision}
	c.Objectives = append(c.Objectives, p.Objectives...)
	c.Switches = append(c.Switches, p.Switches...)
	c.Flags = append(c.Flags, p.Flags...)
	return c
}
