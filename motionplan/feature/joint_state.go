package feature

import (
	"gonum.org/v1/gonum/mat"

	"go.viam.com/trajopt/referenceframe"
)

// JointState is the joint state of the selected frames, or of the whole system when Frames is
// empty. When a switch changes the number of joints inside a tuple, the feature is empty there.
type JointState struct {
	Frames []string
}

// Name returns "qItself".
func (js *JointState) Name() string {
	return "qItself"
}

// Order is zero.
func (js *JointState) Order() int {
	return 0
}

func (js *JointState) dim(fs *referenceframe.FrameSystem) (int, error) {
	if len(js.Frames) == 0 {
		return fs.DoF(), nil
	}
	total := 0
	for _, name := range js.Frames {
		frame := fs.Frame(name)
		if frame == nil {
			return 0, referenceframe.NewFrameMissingError(name)
		}
		total += len(frame.DoF())
	}
	return total, nil
}

// Dim returns the joint count of the selection.
func (js *JointState) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	return dimOf(tuple, js.dim)
}

// Eval returns the finite difference of the selected joint states.
func (js *JointState) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		if len(js.Frames) == 0 {
			return selectJoints(fs, fs.FrameNames())
		}
		return selectJoints(fs, js.Frames)
	})
}

// selectJoints returns the inputs of the named frames and the 0/1 matrix picking them out of the
// joint state.
func selectJoints(fs *referenceframe.FrameSystem, names []string) ([]float64, *mat.Dense, error) {
	q, err := fs.JointStateOf(names)
	if err != nil {
		return nil, nil, err
	}
	if len(q) == 0 || fs.DoF() == 0 {
		return q, nil, nil
	}
	jac := mat.NewDense(len(q), fs.DoF(), nil)
	row := 0
	for _, name := range names {
		idx, err := fs.JointIndex(name)
		if err != nil {
			return nil, nil, err
		}
		for k := range fs.Frame(name).DoF() {
			jac.Set(row, idx+k, 1)
			row++
		}
	}
	return q, jac, nil
}

// Transition penalizes joint velocities or accelerations of every joint that is the same in all
// configurations of the tuple. Joints touched by a switch within the tuple and joints flagged free
// are left out.
type Transition struct{}

// Name returns "transition".
func (tr *Transition) Name() string {
	return "transition"
}

// Order is two: accelerations by default.
func (tr *Transition) Order() int {
	return 2
}

func (tr *Transition) joints(tuple []*referenceframe.FrameSystem) []string {
	last := tuple[len(tuple)-1]
	var names []string
	for _, name := range last.FrameNames() {
		if len(last.Frame(name).DoF()) == 0 || last.Flags(name).Has(referenceframe.FlagFree) {
			continue
		}
		same := true
		for _, fs := range tuple[:len(tuple)-1] {
			if !fs.SameJoint(last, name) {
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

// Dim returns the number of joints that are unchanged over the tuple.
func (tr *Transition) Dim(tuple []*referenceframe.FrameSystem) (int, error) {
	if len(tuple) == 0 {
		return 0, ErrEmptyTuple
	}
	total := 0
	for _, name := range tr.joints(tuple) {
		total += len(tuple[0].Frame(name).DoF())
	}
	return total, nil
}

// Eval returns the finite difference of the unchanged joints.
func (tr *Transition) Eval(tuple []*referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
	if len(tuple) == 0 {
		return nil, nil, ErrEmptyTuple
	}
	names := tr.joints(tuple)
	return finiteDifference(tuple, func(fs *referenceframe.FrameSystem) ([]float64, *mat.Dense, error) {
		return selectJoints(fs, names)
	})
}
