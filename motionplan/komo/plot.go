package komo

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// PlotTrajectory draws every joint of the planning steps over time and saves the plot to path. The
// image format follows the file extension. Joints are labeled by frame, with an index for frames
// with several joints, and are only drawn while the joint layout matches the first planning step.
func (k *KOMO) PlotTrajectory(path string) error {
	tl, err := k.materialized()
	if err != nil {
		return err
	}
	times, err := k.PathTimes()
	if err != nil {
		return err
	}
	first := tl.Config(tl.KOrder())

	var labels []string
	var names []string
	for _, name := range first.FrameNames() {
		dof := len(first.Frame(name).DoF())
		for i := 0; i < dof; i++ {
			names = append(names, name)
			if dof == 1 {
				labels = append(labels, name)
			} else {
				labels = append(labels, fmt.Sprintf("%s[%d]", name, i))
			}
		}
	}

	p := plot.New()
	p.Title.Text = "trajectories"
	p.X.Label.Text = "time"
	p.Y.Label.Text = "q"
	series := make([]plotter.XYs, len(labels))
	for t := 0; t < tl.T(); t++ {
		fs := tl.Config(tl.KOrder() + t)
		if fs.DoF() != first.DoF() {
			continue
		}
		q := fs.JointState()
		for j := range series {
			if !fs.SameJoint(first, names[j]) {
				continue
			}
			series[j] = append(series[j], plotter.XY{X: times[t], Y: q[j]})
		}
	}
	for j, pts := range series {
		if len(pts) == 0 {
			continue
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return errors.Wrapf(err, "joint %s", labels[j])
		}
		line.Color = plotutil.Color(j)
		line.Dashes = plotutil.Dashes(j / 7)
		line.Width = vg.Points(1.5)
		p.Add(line)
		p.Legend.Add(labels[j], line)
	}
	return p.Save(8*vg.Inch, 5*vg.Inch, path)
}
