package komo

import (
	"sort"

	"github.com/pkg/errors"

	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/referenceframe"
	spatial "go.viam.com/trajopt/spatialmath"
)

// Refresher is called for every planning configuration after its joint state was overwritten, to
// update caches that depend on the joint state.
type Refresher func(t int, fs *referenceframe.FrameSystem) error

// Timeline is the materialized sequence of k-order+T configurations of a plan. The first k-order
// configurations are the fixed prefix; the decision vector is the concatenation of the joint states
// of the remaining planning configurations. A Timeline is not safe for concurrent use.
type Timeline struct {
	timing  Timing
	configs []*referenceframe.FrameSystem
	offsets []int

	refresher Refresher
}

type absSwitch struct {
	index int
	ScheduledSwitch
}

type absFlag struct {
	index int
	ScheduledFlag
}

// Materialize builds the timeline of a plan on top of base. Neither base nor plan is modified, and
// identical inputs give identical timelines.
//
// Configuration 0 is a copy of base with the step duration set. Every later configuration starts as
// a copy of its predecessor. At each index the switches scheduled there are applied in declaration
// order, then the persistent flags, after which the joint index is recomputed and the configuration
// is checked. Non-persistent flags are applied in a second pass, so they never carry over.
func Materialize(base *referenceframe.FrameSystem, plan *Plan, logger logging.Logger) (*Timeline, error) {
	tm := plan.Timing
	if err := tm.Validate(); err != nil {
		return nil, err
	}
	if tm.T() == 0 {
		return nil, ErrZeroHorizon
	}
	n := tm.Len()

	switches := make([]absSwitch, 0, len(plan.Switches))
	for _, sw := range plan.Switches {
		idx := max(sw.Step+tm.KOrder, 0)
		if idx >= n {
			logger.Errorw("switch beyond time horizon", "step", sw.Step, "time", sw.Time, "horizon", tm.T(), "switch", sw.Switch.String())
			return nil, newBeyondHorizonError(sw.Switch.String(), sw.Step, tm.T())
		}
		switches = append(switches, absSwitch{idx, sw})
	}
	sort.SliceStable(switches, func(i, j int) bool { return switches[i].index < switches[j].index })

	flags := make([]absFlag, 0, len(plan.Flags))
	for _, fl := range plan.Flags {
		idx := max(fl.Step+tm.KOrder, 0)
		if idx >= n {
			logger.Errorw("flag beyond time horizon", "step", fl.Step, "time", fl.Time, "horizon", tm.T(), "flag", fl.Flag.String())
			return nil, newBeyondHorizonError(fl.Flag.String(), fl.Step, tm.T())
		}
		flags = append(flags, absFlag{idx, fl})
	}
	sort.SliceStable(flags, func(i, j int) bool { return flags[i].index < flags[j].index })

	configs := make([]*referenceframe.FrameSystem, n)
	nextSwitch, nextFlag := 0, 0
	for s := 0; s < n; s++ {
		var fs *referenceframe.FrameSystem
		if s == 0 {
			fs = base.Clone()
			fs.SetTau(tm.Tau())
		} else {
			fs = configs[s-1].Clone()
		}
		for ; nextSwitch < len(switches) && switches[nextSwitch].index == s; nextSwitch++ {
			if err := switches[nextSwitch].Switch.Apply(fs); err != nil {
				return nil, errors.Wrapf(err, "configuration %d", s)
			}
		}
		for ; nextFlag < len(flags) && flags[nextFlag].index == s; nextFlag++ {
			if fl := flags[nextFlag].Flag; fl.Persist {
				if err := fl.Apply(fs); err != nil {
					return nil, errors.Wrapf(err, "configuration %d", s)
				}
			}
		}
		fs.CalcJointIndex()
		if err := fs.CheckConsistency(); err != nil {
			return nil, errors.Wrapf(err, "configuration %d", s)
		}
		configs[s] = fs
	}
	for _, fl := range flags {
		if fl.Flag.Persist {
			continue
		}
		if err := fl.Flag.Apply(configs[fl.index]); err != nil {
			return nil, errors.Wrapf(err, "configuration %d", fl.index)
		}
	}

	tl := &Timeline{timing: tm, configs: configs}
	tl.calcOffsets()
	logger.Debugw("materialized timeline",
		"configurations", n, "k_order", tm.KOrder, "T", tm.T(), "tau", tm.Tau(),
		"switches", len(switches), "flags", len(flags), "variables", tl.NumVars())
	return tl, nil
}

func (tl *Timeline) calcOffsets() {
	T := tl.timing.T()
	tl.offsets = make([]int, T+1)
	for t := 0; t < T; t++ {
		tl.offsets[t+1] = tl.offsets[t] + tl.configs[tl.timing.KOrder+t].DoF()
	}
}

// Timing returns the timing the timeline was built with.
func (tl *Timeline) Timing() Timing {
	return tl.timing
}

// Len is the number of configurations, k-order+T.
func (tl *Timeline) Len() int {
	return len(tl.configs)
}

// KOrder is the number of prefix configurations.
func (tl *Timeline) KOrder() int {
	return tl.timing.KOrder
}

// T is the number of planning configurations.
func (tl *Timeline) T() int {
	return len(tl.configs) - tl.timing.KOrder
}

// Config returns the configuration at timeline index s.
func (tl *Timeline) Config(s int) *referenceframe.FrameSystem {
	return tl.configs[s]
}

// Ref returns the typed reference of timeline index s.
func (tl *Timeline) Ref(s int) StepRef {
	return RefOf(s-tl.timing.KOrder, tl.timing.KOrder)
}

// At returns the configuration a reference points to.
func (tl *Timeline) At(ref StepRef) *referenceframe.FrameSystem {
	return tl.configs[ref.Index(tl.timing.KOrder)]
}

// Tuple returns the configurations of refs in order.
func (tl *Timeline) Tuple(refs []StepRef) []*referenceframe.FrameSystem {
	tuple := make([]*referenceframe.FrameSystem, len(refs))
	for i, ref := range refs {
		tuple[i] = tl.At(ref)
	}
	return tuple
}

// VariableDims returns the joint state dimension of every planning step.
func (tl *Timeline) VariableDims() []int {
	dims := make([]int, tl.T())
	for t := range dims {
		dims[t] = tl.offsets[t+1] - tl.offsets[t]
	}
	return dims
}

// NumVars is the length of the decision vector.
func (tl *Timeline) NumVars() int {
	return tl.offsets[len(tl.offsets)-1]
}

// Offset is the position of planning step t in the decision vector.
func (tl *Timeline) Offset(t int) int {
	return tl.offsets[t]
}

// SetRefresher installs a hook run after every decision vector update.
func (tl *Timeline) SetRefresher(r Refresher) {
	tl.refresher = r
}

// DecisionVector concatenates the joint states of the planning steps.
func (tl *Timeline) DecisionVector() []float64 {
	x := make([]float64, 0, tl.NumVars())
	for t := 0; t < tl.T(); t++ {
		x = append(x, tl.configs[tl.timing.KOrder+t].JointState()...)
	}
	return x
}

// SetDecisionVector writes x into the planning configurations.
func (tl *Timeline) SetDecisionVector(x []float64) error {
	if len(x) != tl.NumVars() {
		return errors.Wrapf(ErrDecisionVectorLength, "got %d, want %d", len(x), tl.NumVars())
	}
	for t := 0; t < tl.T(); t++ {
		fs := tl.configs[tl.timing.KOrder+t]
		if err := fs.SetJointState(x[tl.offsets[t]:tl.offsets[t+1]]); err != nil {
			return err
		}
		if tl.refresher != nil {
			if err := tl.refresher(t, fs); err != nil {
				return errors.Wrapf(err, "refreshing step %d", t)
			}
		}
	}
	return nil
}

// JointState returns the joint state at timeline index s.
func (tl *Timeline) JointState(s int) []float64 {
	return tl.configs[s].JointState()
}

// FrameState returns the world pose of every frame at timeline index s.
func (tl *Timeline) FrameState(s int) (map[string]spatial.Pose, error) {
	return tl.configs[s].FrameState()
}

// UniformDims reports whether every planning step has the same joint state dimension, and which.
func (tl *Timeline) UniformDims() (int, bool) {
	dims := tl.VariableDims()
	for _, d := range dims[1:] {
		if d != dims[0] {
			return 0, false
		}
	}
	return dims[0], true
}

// NonSwitched returns, in joint state order of the last configuration, the frames with degrees of
// freedom whose joint is the same in all configurations between timeline indices from and to.
func (tl *Timeline) NonSwitched(from, to int) []string {
	last := tl.configs[to]
	var names []string
	for _, name := range last.FrameNames() {
		if len(last.Frame(name).DoF()) == 0 {
			continue
		}
		same := true
		for s := from; s < to; s++ {
			if !tl.configs[s].SameJoint(last, name) {
				same = false
				break
			}
		}
		if same {
			names = append(names, name)
		}
	}
	return names
}
