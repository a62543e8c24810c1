package referenceframe

import (
	"fmt"

	"github.com/pkg/errors"

	spatial "go.viam.com/trajopt/spatialmath"
)

// Switch re-parents a frame onto another frame with a new joint, e.g. a gripper grasping an
// object. By default the relative pose at the moment of the switch is kept, so the frame does not
// jump in the world. A non-nil Relative overrides the new joint origin.
type Switch struct {
	JointType JointType
	From      string
	To        string
	Relative  spatial.Pose
	Limits    []Limit
}

// Apply performs the switch on fs.
func (sw Switch) Apply(fs *FrameSystem) error {
	from := sw.From
	if from == "" {
		from = World
	}
	if fs.Frame(sw.To) == nil {
		return NewFrameMissingError(sw.To)
	}
	if !fs.frameExists(from) {
		return NewParentFrameMissingError(sw.To, from)
	}

	origin := sw.Relative
	if origin == nil {
		fromPose, err := fs.WorldPose(from)
		if err != nil {
			return errors.Wrapf(err, "cannot place switch from %q", from)
		}
		toPose, err := fs.WorldPose(sw.To)
		if err != nil {
			return errors.Wrapf(err, "cannot place switch to %q", sw.To)
		}
		origin = spatial.PoseBetween(fromPose, toPose)
	}

	var frame Frame
	var err error
	if sw.Limits != nil {
		frame, err = NewJointFrameWithLimits(sw.To, sw.JointType, sw.Limits)
	} else {
		frame, err = NewJointFrame(sw.To, sw.JointType)
	}
	if err != nil {
		return err
	}
	return fs.ReplaceJoint(frame, from, origin)
}

func (sw Switch) String() string {
	from := sw.From
	if from == "" {
		from = World
	}
	return fmt.Sprintf("switch %q -> %q (%s)", from, sw.To, sw.JointType)
}
