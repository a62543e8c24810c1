package komo

import (
	"math"

	"github.com/pkg/errors"
	"github.com/samber/lo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/solver"
)

// DefaultAnomalyThreshold is the feature magnitude above which an evaluation is logged as a
// numerical anomaly.
const DefaultAnomalyThreshold = 1e10

// Layout is the structure of an assembled problem, known without evaluating any feature. Rows are
// the entries of the feature vector.
type Layout struct {
	NumVars      int
	VariableDims []int
	Types        []solver.TermType
	// Per row: the objective name and index, the planning step the row is reported at, and the
	// steps of its tuple relative to the first planning step.
	Names      []string
	Objectives []int
	Times      []int
	Tuples     [][]int

	terms    []term
	revision int
}

// term is one evaluation of one objective on one tuple.
type term struct {
	objective int
	t         int
	row       int
	prec      float64
	rel       []int
	refs      []StepRef
	offset    int
	dim       int
}

// Assembler turns a plan and its timeline into a constrained problem over the decision vector.
type Assembler interface {
	solver.ConstrainedProblem
	// Layout returns the problem structure. It is recomputed only after the objectives changed.
	Layout() (*Layout, error)
	// Values returns the feature vector of the last evaluation.
	Values() []float64
}

// assembly holds what the grid and tuple assemblers share.
type assembly struct {
	timeline  *Timeline
	plan      *Plan
	logger    logging.Logger
	threshold float64

	enumerate func() ([]term, error)
	layout    *Layout
	values    []float64
}

func newAssembly(tl *Timeline, plan *Plan, logger logging.Logger) assembly {
	return assembly{timeline: tl, plan: plan, logger: logger, threshold: DefaultAnomalyThreshold}
}

// SetAnomalyThreshold changes the magnitude above which feature values are logged.
func (a *assembly) SetAnomalyThreshold(threshold float64) {
	if threshold > 0 {
		a.threshold = threshold
	}
}

// Layout computes the problem structure from the feature dimensions.
func (a *assembly) Layout() (*Layout, error) {
	if a.layout != nil && a.layout.revision == a.plan.Revision() {
		return a.layout, nil
	}
	terms, err := a.enumerate()
	if err != nil {
		return nil, err
	}
	tl := a.timeline
	k := tl.KOrder()
	layout := &Layout{
		NumVars:      tl.NumVars(),
		VariableDims: tl.VariableDims(),
		revision:     a.plan.Revision(),
	}
	offset := 0
	for i := range terms {
		tm := &terms[i]
		o := a.plan.Objectives[tm.objective]
		tm.refs = lo.Map(tm.rel, func(rel, _ int) StepRef { return RefOf(rel, k) })
		dim, err := o.Feature.Dim(tl.Tuple(tm.refs))
		if err != nil {
			return nil, errors.Wrapf(err, "objective %q at step %d", o.Name, tm.t)
		}
		tm.offset, tm.dim = offset, dim
		for r := 0; r < dim; r++ {
			layout.Types = append(layout.Types, o.Type)
			layout.Names = append(layout.Names, o.Name)
			layout.Objectives = append(layout.Objectives, tm.objective)
			layout.Times = append(layout.Times, tm.t)
			layout.Tuples = append(layout.Tuples, tm.rel)
		}
		offset += dim
	}
	layout.terms = terms
	a.layout = layout
	a.values = nil
	return layout, nil
}

// Structure returns the shape the optimizer needs.
func (a *assembly) Structure() (solver.Structure, error) {
	layout, err := a.Layout()
	if err != nil {
		return solver.Structure{}, err
	}
	return solver.Structure{NumVars: layout.NumVars, Types: layout.Types}, nil
}

// Values returns the feature vector of the last evaluation.
func (a *assembly) Values() []float64 {
	return a.values
}

// prepare returns the cached layout for an evaluation at x and writes x into the timeline.
func (a *assembly) prepare(x []float64) (*Layout, error) {
	if a.layout == nil {
		if _, err := a.Layout(); err != nil {
			return nil, err
		}
	}
	if a.layout.revision != a.plan.Revision() {
		return nil, ErrStructureChanged
	}
	if err := a.timeline.SetDecisionVector(x); err != nil {
		return nil, err
	}
	return a.layout, nil
}

// evalTerm evaluates one term and applies the target and the precision. A nil y means the term is
// empty on this tuple.
func (a *assembly) evalTerm(tm term) ([]float64, *mat.Dense, error) {
	o := a.plan.Objectives[tm.objective]
	tuple := a.timeline.Tuple(tm.refs)
	y, jac, err := o.Feature.Eval(tuple)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "objective %q at step %d", o.Name, tm.t)
	}
	if len(y) != tm.dim {
		return nil, nil, errors.Wrapf(ErrInconsistentFeature,
			"objective %q at step %d has dimension %d, structure says %d", o.Name, tm.t, len(y), tm.dim)
	}
	if len(y) == 0 {
		return nil, nil, nil
	}
	if o.Type != a.layout.Types[tm.offset] {
		return nil, nil, errors.Wrapf(ErrInconsistentFeature,
			"objective %q changed type from %s to %s", o.Name, a.layout.Types[tm.offset], o.Type)
	}
	cols := feature.TupleDoF(tuple)
	if jac == nil {
		if cols != 0 {
			return nil, nil, errors.Wrapf(ErrInconsistentFeature,
				"objective %q at step %d returned no jacobian for %d variables", o.Name, tm.t, cols)
		}
	} else if r, c := jac.Dims(); r != len(y) || c != cols {
		return nil, nil, errors.Wrapf(ErrInconsistentFeature,
			"objective %q at step %d: jacobian is %dx%d, want %dx%d", o.Name, tm.t, r, c, len(y), cols)
	}

	if m := floats.Norm(y, math.Inf(1)); m > a.threshold {
		a.logger.Warnw("numerical anomaly in feature value", "objective", o.Name, "step", tm.t, "max_abs", m)
	}

	target, err := o.Target.At(tm.row, len(y))
	if err != nil {
		return nil, nil, errors.Wrapf(err, "objective %q at step %d", o.Name, tm.t)
	}
	if target != nil {
		if flipper, ok := o.Feature.(feature.TargetSignFlipper); ok &&
			flipper.FlipTargetSignOnNegScalarProduct() && floats.Dot(y, target) < 0 {
			floats.Scale(-1, target)
		}
		floats.Sub(y, target)
	}
	floats.Scale(tm.prec, y)
	if jac != nil {
		jac.Scale(tm.prec, jac)
	}
	return y, jac, nil
}

// GridAssembler evaluates every objective on the regular grid: at planning step t an objective of
// order o sees the o+1 configurations ending at t. Columns of prefix configurations are dropped,
// so each row of the Jacobian is one contiguous block.
type GridAssembler struct {
	assembly
}

// NewGridAssembler returns the grid problem of plan on tl.
func NewGridAssembler(tl *Timeline, plan *Plan, logger logging.Logger) *GridAssembler {
	g := &GridAssembler{assembly: newAssembly(tl, plan, logger)}
	g.enumerate = g.terms
	return g
}

func (g *GridAssembler) terms() ([]term, error) {
	var terms []term
	for t := 0; t < g.timeline.T(); t++ {
		for i, o := range g.plan.Objectives {
			if o.Explicit() {
				return nil, errors.Errorf("objective %q has explicit tuples, which need tuple assembly", o.Name)
			}
			if t >= len(o.Prec) || o.Prec[t] == 0 {
				continue
			}
			terms = append(terms, term{objective: i, t: t, row: t, prec: o.Prec[t], rel: window(t, o.Order)})
		}
	}
	return terms, nil
}

// Evaluate returns the feature vector and the banded Jacobian at x.
func (g *GridAssembler) Evaluate(x []float64) ([]float64, mat.Matrix, error) {
	layout, err := g.prepare(x)
	if err != nil {
		return nil, nil, err
	}
	phi := make([]float64, len(layout.Types))
	jac := NewBandedJacobian(len(phi), layout.NumVars)
	for _, tm := range layout.terms {
		y, ty, err := g.evalTerm(tm)
		if err != nil {
			return nil, nil, err
		}
		if y == nil {
			continue
		}
		copy(phi[tm.offset:], y)

		// the tuple is consecutive, so its planning steps are adjacent in x
		prefixCols, first := 0, len(tm.refs)
		for j, ref := range tm.refs {
			if _, ok := ref.(PlanningStep); ok {
				first = j
				break
			}
			prefixCols += g.timeline.At(ref).DoF()
		}
		start := 0
		if first < len(tm.refs) {
			start = g.timeline.Offset(tm.refs[first].(PlanningStep).T)
		}
		for r := range y {
			var vals []float64
			if ty != nil {
				vals = append(vals, ty.RawRowView(r)[prefixCols:]...)
			}
			jac.SetRow(tm.offset+r, start, vals)
		}
	}
	g.values = phi
	return phi, jac, nil
}

// TupleAssembler evaluates objectives on explicit configuration tuples. Grid objectives are
// converted to the tuples they would see on the grid. Jacobian blocks are scattered to the
// variables of each planning step in the tuple; prefix blocks are dropped.
type TupleAssembler struct {
	assembly
}

// NewTupleAssembler returns the tuple problem of plan on tl.
func NewTupleAssembler(tl *Timeline, plan *Plan, logger logging.Logger) *TupleAssembler {
	ta := &TupleAssembler{assembly: newAssembly(tl, plan, logger)}
	ta.enumerate = ta.terms
	return ta
}

func (ta *TupleAssembler) terms() ([]term, error) {
	k, T := ta.timeline.KOrder(), ta.timeline.T()
	var terms []term
	for i, o := range ta.plan.Objectives {
		if !o.Explicit() {
			for t, prec := range o.Prec {
				if prec != 0 {
					terms = append(terms, term{objective: i, t: t, row: t, prec: prec, rel: window(t, o.Order)})
				}
			}
			continue
		}
		for r, rel := range o.Tuples {
			prec := o.TuplePrec[r]
			if prec == 0 {
				continue
			}
			for _, s := range rel {
				if s < -k || s >= T {
					return nil, newBeyondHorizonError("objective "+o.Name, s, T)
				}
			}
			terms = append(terms, term{objective: i, t: rel[len(rel)-1], row: r, prec: prec, rel: rel})
		}
	}
	return terms, nil
}

// Evaluate returns the feature vector and the dense Jacobian at x.
func (ta *TupleAssembler) Evaluate(x []float64) ([]float64, mat.Matrix, error) {
	layout, err := ta.prepare(x)
	if err != nil {
		return nil, nil, err
	}
	phi := make([]float64, len(layout.Types))
	if len(phi) == 0 || layout.NumVars == 0 {
		ta.values = phi
		return phi, NewBandedJacobian(len(phi), layout.NumVars), nil
	}
	jac := mat.NewDense(len(phi), layout.NumVars, nil)
	for _, tm := range layout.terms {
		y, ty, err := ta.evalTerm(tm)
		if err != nil {
			return nil, nil, err
		}
		if y == nil {
			continue
		}
		copy(phi[tm.offset:], y)
		if ty == nil {
			continue
		}
		col := 0
		for _, ref := range tm.refs {
			n := ta.timeline.At(ref).DoF()
			if p, ok := ref.(PlanningStep); ok && n > 0 {
				xo := ta.timeline.Offset(p.T)
				for r := range y {
					floats.Add(jac.RawRowView(tm.offset + r)[xo:xo+n], ty.RawRowView(r)[col:col+n])
				}
			}
			col += n
		}
	}
	ta.values = phi
	return phi, jac, nil
}

// window returns the order+1 relative steps ending at t.
func window(t, order int) []int {
	rel := make([]int, order+1)
	for j := range rel {
		rel[j] = t - order + j
	}
	return rel
}
