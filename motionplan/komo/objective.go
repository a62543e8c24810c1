package komo

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/utils"
)

// StepRef names one configuration of a timeline. It is either a PrefixStep, which is fixed and
// owns no decision variables, or a PlanningStep, which owns a slice of the decision vector.
type StepRef interface {
	// Index is the position of the configuration in a timeline with the given k-order.
	Index(kOrder int) int
	fmt.Stringer
	isStepRef()
}

// PrefixStep is one of the k-order configurations before the first planning step. Step counts
// from the start of the timeline, so it lies in [0, k-order).
type PrefixStep struct {
	Step int
}

// Index returns Step.
func (p PrefixStep) Index(int) int {
	return p.Step
}

func (p PrefixStep) String() string {
	return fmt.Sprintf("prefix[%d]", p.Step)
}

func (PrefixStep) isStepRef() {}

// PlanningStep is planning step T, which lives at timeline index k-order+T.
type PlanningStep struct {
	T int
}

// Index returns kOrder+T.
func (p PlanningStep) Index(kOrder int) int {
	return kOrder + p.T
}

func (p PlanningStep) String() string {
	return fmt.Sprintf("t[%d]", p.T)
}

func (PlanningStep) isStepRef() {}

// RefOf converts a step relative to the first planning step into a StepRef. Negative steps are
// prefix configurations.
func RefOf(rel, kOrder int) StepRef {
	if rel < 0 {
		return PrefixStep{Step: kOrder + rel}
	}
	return PlanningStep{T: rel}
}

// Target is subtracted from a feature value before it is scaled. A single value is broadcast to
// the feature dimension, a vector is used as is, and a matrix holds one target row per planning
// step (or per explicit tuple).
type Target struct {
	Values []float64  `json:"values,omitempty"`
	Rows   *mat.Dense `json:"-"`
}

// ScalarTarget broadcasts v to every feature entry.
func ScalarTarget(v float64) Target {
	return Target{Values: []float64{v}}
}

// VectorTarget uses the same target vector at every step.
func VectorTarget(v ...float64) Target {
	return Target{Values: v}
}

// PerStepTarget uses row t of rows at step t.
func PerStepTarget(rows *mat.Dense) Target {
	return Target{Rows: rows}
}

// IsZero reports whether no target is set.
func (tg Target) IsZero() bool {
	return len(tg.Values) == 0 && tg.Rows == nil
}

// At returns a fresh copy of the target for a feature of dimension dim at the given row, or nil
// when no target is set.
func (tg Target) At(row, dim int) ([]float64, error) {
	switch {
	case tg.Rows != nil:
		r, c := tg.Rows.Dims()
		if row < 0 || row >= r {
			return nil, errors.Wrapf(ErrInconsistentFeature, "target has %d rows, need row %d", r, row)
		}
		if c != dim {
			return nil, errors.Wrapf(ErrInconsistentFeature, "target has %d columns, feature has dimension %d", c, dim)
		}
		out := make([]float64, dim)
		copy(out, tg.Rows.RawRowView(row))
		return out, nil
	case len(tg.Values) == 0:
		return nil, nil
	case len(tg.Values) == 1:
		out := make([]float64, dim)
		for i := range out {
			out[i] = tg.Values[0]
		}
		return out, nil
	case len(tg.Values) != dim:
		return nil, errors.Wrapf(ErrInconsistentFeature, "target has %d values, feature has dimension %d", len(tg.Values), dim)
	default:
		out := make([]float64, dim)
		copy(out, tg.Values)
		return out, nil
	}
}

// Objective is a feature with a term type, an order, a target and a precision per planning step.
// Grid objectives are active where Prec is nonzero. Explicit objectives list the configuration
// tuples they are evaluated on, each with its own precision.
type Objective struct {
	Name    string
	Feature feature.Feature
	Type    solver.TermType
	Order   int
	Target  Target
	Scale   float64

	// Prec has one entry per planning step.
	Prec []float64

	// Tuples are steps relative to the first planning step, Order+1 each. Negative steps refer to
	// the prefix.
	Tuples    [][]int
	TuplePrec []float64

	plan *Plan
}

func (o *Objective) String() string {
	return fmt.Sprintf("%s (%s, order %d, scale %g)", o.Name, o.Type, o.Order, o.Scale)
}

// changed invalidates structure cached from the owning plan.
func (o *Objective) changed() {
	if o.plan != nil {
		o.plan.revision++
	}
}

// SetActiveSteps sets the precision of planning steps from..to, clamped to the horizon.
func (o *Objective) SetActiveSteps(from, to int, prec float64) {
	o.setActiveSteps(from, to, prec)
	o.changed()
}

func (o *Objective) setActiveSteps(from, to int, prec float64) {
	if len(o.Prec) == 0 {
		return
	}
	last := len(o.Prec) - 1
	from = utils.ClampInt(from, 0, last)
	to = utils.ClampInt(to, 0, last)
	for t := from; t <= to; t++ {
		o.Prec[t] = prec
	}
}

// ZeroAt deactivates the objective at planning step t.
func (o *Objective) ZeroAt(t int) {
	if t >= 0 && t < len(o.Prec) && o.Prec[t] != 0 {
		o.Prec[t] = 0
		o.changed()
	}
}

// ActiveSteps returns the planning steps with nonzero precision.
func (o *Objective) ActiveSteps() []int {
	var steps []int
	for t, p := range o.Prec {
		if p != 0 {
			steps = append(steps, t)
		}
	}
	return steps
}

// AddTuple adds an explicit tuple of Order+1 relative steps with the given precision.
func (o *Objective) AddTuple(prec float64, steps ...int) error {
	if err := o.addTuple(prec, steps...); err != nil {
		return err
	}
	o.changed()
	return nil
}

func (o *Objective) addTuple(prec float64, steps ...int) error {
	if len(steps) != o.Order+1 {
		return errors.Errorf("objective %q of order %d needs %d steps per tuple, got %d", o.Name, o.Order, o.Order+1, len(steps))
	}
	tuple := make([]int, len(steps))
	copy(tuple, steps)
	o.Tuples = append(o.Tuples, tuple)
	o.TuplePrec = append(o.TuplePrec, prec)
	return nil
}

// Explicit reports whether the objective is defined by tuples rather than by steps.
func (o *Objective) Explicit() bool {
	return len(o.Tuples) > 0
}

// ObjectiveOption configures an objective at registration.
type ObjectiveOption func(*objectiveArgs)

type objectiveArgs struct {
	name      string
	target    Target
	scale     float64
	order     int
	deltaFrom int
	deltaTo   int
}

func newObjectiveArgs(opts []ObjectiveOption) objectiveArgs {
	args := objectiveArgs{scale: 1, order: -1}
	for _, opt := range opts {
		opt(&args)
	}
	return args
}

// WithName overrides the objective name, which defaults to the feature name.
func WithName(name string) ObjectiveOption {
	return func(args *objectiveArgs) { args.name = name }
}

// WithTarget sets the objective target.
func WithTarget(target Target) ObjectiveOption {
	return func(args *objectiveArgs) { args.target = target }
}

// WithScale sets the precision of every active step. The default is 1.
func WithScale(scale float64) ObjectiveOption {
	return func(args *objectiveArgs) { args.scale = scale }
}

// WithOrder overrides the feature order. A negative order keeps the feature's own.
func WithOrder(order int) ObjectiveOption {
	return func(args *objectiveArgs) { args.order = order }
}

// WithDeltas shifts the first and last active step after the time window is converted to steps.
func WithDeltas(deltaFrom, deltaTo int) ObjectiveOption {
	return func(args *objectiveArgs) {
		args.deltaFrom = deltaFrom
		args.deltaTo = deltaTo
	}
}
