package komo

import (
	"github.com/pkg/errors"

	"go.viam.com/trajopt/referenceframe"
	spatial "go.viam.com/trajopt/spatialmath"
)

func (k *KOMO) materialized() (*Timeline, error) {
	if k.timeline == nil {
		return nil, ErrNotMaterialized
	}
	return k.timeline, nil
}

// Path returns the joint state of every planning step.
func (k *KOMO) Path() ([][]float64, error) {
	tl, err := k.materialized()
	if err != nil {
		return nil, err
	}
	path := make([][]float64, tl.T())
	for t := range path {
		path[t] = tl.JointState(tl.KOrder() + t)
	}
	return path, nil
}

// PathJoints returns, for every planning step, the joint values of the named frames.
func (k *KOMO) PathJoints(names []string) ([][]float64, error) {
	tl, err := k.materialized()
	if err != nil {
		return nil, err
	}
	path := make([][]float64, tl.T())
	for t := range path {
		if path[t], err = tl.Config(tl.KOrder() + t).JointStateOf(names); err != nil {
			return nil, errors.Wrapf(err, "step %d", t)
		}
	}
	return path, nil
}

// PathFrames returns, for every named frame, its world pose at every planning step.
func (k *KOMO) PathFrames(names []string) ([][]spatial.Pose, error) {
	tl, err := k.materialized()
	if err != nil {
		return nil, err
	}
	poses := make([][]spatial.Pose, len(names))
	for i, name := range names {
		poses[i] = make([]spatial.Pose, tl.T())
		for t := range poses[i] {
			if poses[i][t], err = tl.Config(tl.KOrder() + t).WorldPose(name); err != nil {
				return nil, errors.Wrapf(err, "step %d", t)
			}
		}
	}
	return poses, nil
}

// PathTau returns the duration of every planning step.
func (k *KOMO) PathTau() ([]float64, error) {
	tl, err := k.materialized()
	if err != nil {
		return nil, err
	}
	taus := make([]float64, tl.T())
	for t := range taus {
		taus[t] = tl.Config(tl.KOrder() + t).Tau()
	}
	return taus, nil
}

// PathTimes returns the time at the end of every planning step.
func (k *KOMO) PathTimes() ([]float64, error) {
	taus, err := k.PathTau()
	if err != nil {
		return nil, err
	}
	times := make([]float64, len(taus))
	elapsed := 0.
	for t, tau := range taus {
		elapsed += tau
		times[t] = elapsed
	}
	return times, nil
}

// Configuration returns the configuration at a symbolic time.
func (k *KOMO) Configuration(phase float64) (*referenceframe.FrameSystem, error) {
	tl, err := k.materialized()
	if err != nil {
		return nil, err
	}
	s := tl.KOrder() + int(phase*k.plan.Timing.StepsPerPhase)
	if s < 0 || s >= tl.Len() {
		return nil, errors.Errorf("phase %v is outside the timeline", phase)
	}
	return tl.Config(s), nil
}

// JointState returns the joint state at a symbolic time.
func (k *KOMO) JointState(phase float64) ([]float64, error) {
	fs, err := k.Configuration(phase)
	if err != nil {
		return nil, err
	}
	return fs.JointState(), nil
}

// FrameState returns the world pose of every frame at a symbolic time.
func (k *KOMO) FrameState(phase float64) (map[string]spatial.Pose, error) {
	fs, err := k.Configuration(phase)
	if err != nil {
		return nil, err
	}
	return fs.FrameState()
}
