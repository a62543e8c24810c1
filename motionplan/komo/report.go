package komo

import (
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/montanaflynn/stats"
	"github.com/samber/lo"

	"go.viam.com/trajopt/motionplan/solver"
)

// ObjectiveReport summarizes one objective after a run. Sum of squares objectives contribute to
// SqrCosts, equality and inequality objectives to Constraints.
type ObjectiveReport struct {
	Name        string          `json:"name"`
	Feature     string          `json:"feature"`
	Order       int             `json:"order"`
	Type        solver.TermType `json:"type"`
	Rows        int             `json:"rows"`
	SqrCosts    float64         `json:"sqr_costs"`
	Constraints float64         `json:"constraints"`
	// Largest and mean contribution of a single step.
	MaxStep  float64 `json:"max_step"`
	MeanStep float64 `json:"mean_step"`
}

// Report is the cost and constraint summary of the current solution.
type Report struct {
	Objectives  []ObjectiveReport `json:"objectives"`
	SqrCosts    float64           `json:"sqr_costs"`
	Constraints float64           `json:"constraints"`
	Evaluated   bool              `json:"evaluated"`
	Iterations  int               `json:"iterations"`
	Converged   bool              `json:"converged"`
	RunTime     time.Duration     `json:"run_time"`

	// StepErrors[t][i] is the cost or violation of objective i at planning step t.
	StepErrors [][]float64 `json:"-"`
	// StepDuals[t][i] is the multiplier of the first row of objective i at step t. It is nil
	// before a run.
	StepDuals [][]float64 `json:"-"`
}

func rowError(typ solver.TermType, v float64) float64 {
	switch typ {
	case solver.TermSOS:
		return v * v
	case solver.TermEq:
		return math.Abs(v)
	case solver.TermIneq:
		return math.Max(0, v)
	}
	return 0
}

// Report summarizes the feature values of the last run. Before a run every value is zero.
func (k *KOMO) Report() (*Report, error) {
	T := k.plan.Timing.T()
	objectives := k.plan.Objectives
	report := &Report{
		Objectives: make([]ObjectiveReport, len(objectives)),
		StepErrors: make([][]float64, T),
		Evaluated:  k.featureValues != nil && k.layout != nil,
	}
	for t := range report.StepErrors {
		report.StepErrors[t] = make([]float64, len(objectives))
	}
	for i, o := range objectives {
		report.Objectives[i] = ObjectiveReport{Name: o.Name, Feature: o.Feature.Name(), Order: o.Order, Type: o.Type}
	}
	if k.result != nil {
		report.Iterations = k.result.Iterations
		report.Converged = k.result.Converged
		report.RunTime = k.runTime
	}
	if !report.Evaluated {
		return report, nil
	}

	layout := k.layout
	if len(layout.Types) != len(k.featureValues) {
		return nil, ErrStructureChanged
	}
	active := make([]map[int]bool, len(objectives))
	for row, v := range k.featureValues {
		i, t := layout.Objectives[row], layout.Times[row]
		e := rowError(layout.Types[row], v)
		or := &report.Objectives[i]
		or.Rows++
		if layout.Types[row] == solver.TermSOS {
			or.SqrCosts += e
		} else {
			or.Constraints += e
		}
		if t >= 0 && t < T {
			report.StepErrors[t][i] += e
			if active[i] == nil {
				active[i] = map[int]bool{}
			}
			active[i][t] = true
		}
	}
	if len(k.dual) == len(k.featureValues) {
		report.StepDuals = make([][]float64, T)
		for t := range report.StepDuals {
			report.StepDuals[t] = make([]float64, len(objectives))
		}
		for _, tm := range layout.terms {
			if tm.dim > 0 && tm.t >= 0 && tm.t < T {
				report.StepDuals[tm.t][tm.objective] = k.dual[tm.offset]
			}
		}
	}
	for i := range report.Objectives {
		or := &report.Objectives[i]
		report.SqrCosts += or.SqrCosts
		report.Constraints += or.Constraints
		perStep := lo.Map(lo.Keys(active[i]), func(t, _ int) float64 { return report.StepErrors[t][i] })
		if len(perStep) == 0 {
			continue
		}
		or.MaxStep, _ = stats.Max(perStep)
		or.MeanStep, _ = stats.Mean(perStep)
	}
	return report, nil
}

// Costs is the total sum of squares cost of the current solution.
func (k *KOMO) Costs() (float64, error) {
	report, err := k.Report()
	if err != nil {
		return 0, err
	}
	return report.SqrCosts, nil
}

// ConstraintViolations is the total equality and inequality violation of the current solution.
func (k *KOMO) ConstraintViolations() (float64, error) {
	report, err := k.Report()
	if err != nil {
		return 0, err
	}
	return report.Constraints, nil
}

// Write renders the report as a table.
func (r *Report) Write(w io.Writer) error {
	t := table.NewWriter()
	t.AppendHeader(table.Row{"#", "Objective", "Feature", "Order", "Type", "Rows", "SqrCosts", "Constraints", "Max/step", "Mean/step"})
	for i, or := range r.Objectives {
		t.AppendRow(table.Row{i, or.Name, or.Feature, or.Order, or.Type, or.Rows,
			fmtFloat(or.SqrCosts), fmtFloat(or.Constraints), fmtFloat(or.MaxStep), fmtFloat(or.MeanStep)})
	}
	t.AppendFooter(table.Row{"", "total", "", "", "", "", fmtFloat(r.SqrCosts), fmtFloat(r.Constraints), "", ""})
	_, err := fmt.Fprintf(w, "%s\niterations: %d  converged: %t  time: %s\n", t.Render(), r.Iterations, r.Converged, r.RunTime)
	return err
}

func fmtFloat(v float64) string {
	return fmt.Sprintf("%.4g", v)
}

// runLengths formats consecutive equal values as value x count.
func runLengths(values []int) string {
	var parts []string
	for i := 0; i < len(values); {
		j := i
		for j < len(values) && values[j] == values[i] {
			j++
		}
		parts = append(parts, fmt.Sprintf("%dx%d", values[i], j-i))
		i = j
	}
	return strings.Join(parts, " ")
}

// WriteProblem describes the declared problem: the timing, the configurations, every objective and
// the scheduled switches and flags. Switches and flags beyond the horizon are logged.
func (k *KOMO) WriteProblem(w io.Writer) error {
	tm := k.plan.Timing
	var b strings.Builder
	fmt.Fprintln(&b, "KOMO problem")
	fmt.Fprintf(&b, "  x-dim: %d  dual-dim: %d\n", len(k.x), len(k.dual))
	fmt.Fprintf(&b, "  T: %d  k: %d  phases: %g  steps per phase: %g  tau: %g\n",
		tm.T(), tm.KOrder, tm.Phases, tm.StepsPerPhase, tm.Tau())
	if tl := k.timeline; tl != nil {
		dims := make([]int, tl.Len())
		for s := range dims {
			dims[s] = tl.Config(s).DoF()
		}
		fmt.Fprintf(&b, "  configurations: %d  q-dims: %s\n", tl.Len(), runLengths(dims))
		if times, err := k.PathTimes(); err == nil {
			fmt.Fprintf(&b, "  times: %v\n", lo.Subset(times, 0, 10))
		}
	}

	objectives := table.NewWriter()
	objectives.SetTitle("objectives")
	objectives.AppendHeader(table.Row{"#", "Name", "Feature", "Type", "Order", "Scale", "Active", "Target"})
	for i, o := range k.plan.Objectives {
		active := fmt.Sprintf("%d steps", len(o.ActiveSteps()))
		if o.Explicit() {
			active = fmt.Sprintf("%d tuples", len(o.Tuples))
		}
		target := ""
		switch {
		case o.Target.Rows != nil:
			r, c := o.Target.Rows.Dims()
			target = fmt.Sprintf("[%dx%d]", r, c)
		case len(o.Target.Values) < 5 && len(o.Target.Values) > 0:
			target = fmt.Sprint(o.Target.Values)
		case len(o.Target.Values) > 0:
			target = "[..]"
		}
		objectives.AppendRow(table.Row{i, o.Name, o.Feature.Name(), o.Type, o.Order, o.Scale, active, target})
	}
	fmt.Fprintln(&b, objectives.Render())

	horizon := tm.T()
	if len(k.plan.Switches) > 0 {
		switches := table.NewWriter()
		switches.SetTitle("switches")
		switches.AppendHeader(table.Row{"Step", "Time", "Switch", ""})
		for _, sw := range k.plan.Switches {
			note := ""
			if sw.Step >= horizon {
				note = "beyond horizon"
				k.logger.Errorw("switch beyond time horizon", "step", sw.Step, "time", sw.Time, "horizon", horizon)
			}
			switches.AppendRow(table.Row{sw.Step, sw.Time, sw.Switch.String(), note})
		}
		fmt.Fprintln(&b, switches.Render())
	}
	if len(k.plan.Flags) > 0 {
		flags := table.NewWriter()
		flags.SetTitle("flags")
		flags.AppendHeader(table.Row{"Step", "Time", "Flag", ""})
		for _, fl := range k.plan.Flags {
			note := ""
			if fl.Step >= horizon {
				note = "beyond horizon"
				k.logger.Errorw("flag beyond time horizon", "step", fl.Step, "time", fl.Time, "horizon", horizon)
			}
			flags.AppendRow(table.Row{fl.Step, fl.Time, fl.Flag.String(), note})
		}
		fmt.Fprintln(&b, flags.Render())
	}
	_, err := io.WriteString(w, b.String())
	return err
}

// ObjectiveSpec is the exported description of one objective.
type ObjectiveSpec struct {
	Name    string          `json:"name"`
	Feature string          `json:"feature"`
	Type    solver.TermType `json:"type"`
	Order   int             `json:"order"`
	Scale   float64         `json:"scale"`
	Target  []float64       `json:"target,omitempty"`
	Steps   []int           `json:"steps,omitempty"`
	Tuples  [][]int         `json:"tuples,omitempty"`
	// Value is the sum of squares of a cost, the absolute sum of an equality, or the positive sum
	// of an inequality, when values are requested and available.
	Value *float64 `json:"value,omitempty"`
}

// ProblemSpec describes every objective, optionally with its current value.
func (k *KOMO) ProblemSpec(includeValues bool) ([]ObjectiveSpec, error) {
	var report *Report
	if includeValues {
		var err error
		if report, err = k.Report(); err != nil {
			return nil, err
		}
		if !report.Evaluated {
			report = nil
		}
	}
	specs := make([]ObjectiveSpec, len(k.plan.Objectives))
	for i, o := range k.plan.Objectives {
		specs[i] = ObjectiveSpec{
			Name:    o.Name,
			Feature: o.Feature.Name(),
			Type:    o.Type,
			Order:   o.Order,
			Scale:   o.Scale,
			Target:  o.Target.Values,
			Steps:   o.ActiveSteps(),
			Tuples:  o.Tuples,
		}
		if report != nil {
			v := report.Objectives[i].SqrCosts + report.Objectives[i].Constraints
			specs[i].Value = &v
		}
	}
	return specs, nil
}
