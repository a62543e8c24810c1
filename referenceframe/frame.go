// Package referenceframe defines kinematic frames, joints and the frame system that connects them
// into a tree. A frame system with its joint inputs is one kinematic configuration of a trajectory.
package referenceframe

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/num/quat"

	spatial "go.viam.com/trajopt/spatialmath"
	"go.viam.com/trajopt/utils"
)

// OOBErrString is a string that all OOB errors should contain, so that they can be checked for
// distinct from other Transform errors.
const OOBErrString = "input out of bounds"

// Limit represents the limits of motion for one degree of freedom.
type Limit struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Unlimited is the limit of a degree of freedom without bounds.
var Unlimited = Limit{Min: math.Inf(-1), Max: math.Inf(1)}

func limitsAlmostEqual(a, b []Limit) bool {
	if len(a) != len(b) {
		return false
	}
	const epsilon = 1e-5
	for idx, x := range a {
		if x.Min != b[idx].Min && !utils.Float64AlmostEqual(x.Min, b[idx].Min, epsilon) {
			return false
		}
		if x.Max != b[idx].Max && !utils.Float64AlmostEqual(x.Max, b[idx].Max, epsilon) {
			return false
		}
	}
	return true
}

// Frame is one joint of a kinematic tree. Its transform maps from the frame to the joint origin on
// its parent link, as a function of the joint inputs.
type Frame interface {
	// Name returns the name of the frame.
	Name() string

	// Transform is the pose from the joint origin to the frame for the given inputs. Out of bounds
	// inputs still produce a pose, together with an error containing OOBErrString.
	Transform([]Input) (spatial.Pose, error)

	// DoF returns one limit per degree of freedom. Static frames return an empty slice.
	DoF() []Limit

	// JointType returns the kind of joint this frame models.
	JointType() JointType

	// AlmostEquals returns if the otherFrame is close to the frame.
	AlmostEquals(otherFrame Frame) bool
}

// JointType enumerates the joint kinds a frame can have.
type JointType int

// Joint types. The planar joint translates in x and y and rotates about z. The free joint has three
// translations followed by a rotation vector.
const (
	JointRigid JointType = iota
	JointHingeX
	JointHingeY
	JointHingeZ
	JointTransX
	JointTransY
	JointTransZ
	JointTransXYPhi
	JointTrans3
	JointFree
)

var jointTypeNames = map[JointType]string{
	JointRigid:      "rigid",
	JointHingeX:     "hingeX",
	JointHingeY:     "hingeY",
	JointHingeZ:     "hingeZ",
	JointTransX:     "transX",
	JointTransY:     "transY",
	JointTransZ:     "transZ",
	JointTransXYPhi: "transXYPhi",
	JointTrans3:     "trans3",
	JointFree:       "free",
}

func (jt JointType) String() string {
	if name, ok := jointTypeNames[jt]; ok {
		return name
	}
	return fmt.Sprintf("JointType(%d)", int(jt))
}

// ParseJointType converts a joint type name to a JointType.
func ParseJointType(name string) (JointType, error) {
	for jt, jtName := range jointTypeNames {
		if jtName == name {
			return jt, nil
		}
	}
	return JointRigid, NewUnsupportedJointTypeError(name)
}

// MarshalText encodes the joint type by name.
func (jt JointType) MarshalText() ([]byte, error) {
	return []byte(jt.String()), nil
}

// UnmarshalText decodes a joint type name.
func (jt *JointType) UnmarshalText(text []byte) error {
	parsed, err := ParseJointType(string(text))
	if err != nil {
		return err
	}
	*jt = parsed
	return nil
}

// DoF returns the number of degrees of freedom of the joint type.
func (jt JointType) DoF() int {
	switch jt {
	case JointRigid:
		return 0
	case JointHingeX, JointHingeY, JointHingeZ, JointTransX, JointTransY, JointTransZ:
		return 1
	case JointTransXYPhi, JointTrans3:
		return 3
	case JointFree:
		return 6
	}
	return 0
}

// NewJointFrame creates an unlimited frame of the given joint type.
func NewJointFrame(name string, jt JointType) (Frame, error) {
	limits := make([]Limit, jt.DoF())
	for i := range limits {
		limits[i] = Unlimited
	}
	return NewJointFrameWithLimits(name, jt, limits)
}

// NewJointFrameWithLimits creates a frame of the given joint type with one limit per DoF.
func NewJointFrameWithLimits(name string, jt JointType, limits []Limit) (Frame, error) {
	if len(limits) != jt.DoF() {
		return nil, NewIncorrectDoFError(len(limits), jt.DoF())
	}
	switch jt {
	case JointRigid:
		return NewZeroStaticFrame(name), nil
	case JointHingeX:
		return &rotationalFrame{name, jt, r3.Vector{X: 1}, limits}, nil
	case JointHingeY:
		return &rotationalFrame{name, jt, r3.Vector{Y: 1}, limits}, nil
	case JointHingeZ:
		return &rotationalFrame{name, jt, r3.Vector{Z: 1}, limits}, nil
	case JointTransX:
		return &translationalFrame{name, jt, r3.Vector{X: 1}, limits}, nil
	case JointTransY:
		return &translationalFrame{name, jt, r3.Vector{Y: 1}, limits}, nil
	case JointTransZ:
		return &translationalFrame{name, jt, r3.Vector{Z: 1}, limits}, nil
	case JointTransXYPhi, JointTrans3, JointFree:
		return &multiDoFFrame{name, jt, limits}, nil
	}
	return nil, NewUnsupportedJointTypeError(jt.String())
}

func checkInputs(name string, input []Input, limits []Limit) error {
	if len(input) != len(limits) {
		return NewIncorrectDoFError(len(input), len(limits))
	}
	var errAll error
	for i, lim := range limits {
		if input[i].Value < lim.Min || input[i].Value > lim.Max {
			multierr.AppendInto(&errAll, errors.Errorf("%s joint %d: %.5f %s %v", name, i, input[i].Value, OOBErrString, lim))
		}
	}
	return errAll
}

// a static Frame is a simple coordinate system that encodes a fixed translation and rotation from
// the joint origin.
type staticFrame struct {
	name      string
	transform spatial.Pose
}

// NewStaticFrame creates a frame given a fixed pose. Pose is not allowed to be nil.
func NewStaticFrame(name string, pose spatial.Pose) (Frame, error) {
	if pose == nil {
		return nil, errors.New("pose is not allowed to be nil")
	}
	return &staticFrame{name, pose}, nil
}

// NewZeroStaticFrame creates a frame with no translation or orientation changes.
func NewZeroStaticFrame(name string) Frame {
	return &staticFrame{name, spatial.NewZeroPose()}
}

func (sf *staticFrame) Name() string {
	return sf.name
}

func (sf *staticFrame) Transform(input []Input) (spatial.Pose, error) {
	if len(input) != 0 {
		return nil, NewIncorrectDoFError(len(input), 0)
	}
	return sf.transform, nil
}

func (sf *staticFrame) DoF() []Limit {
	return []Limit{}
}

func (sf *staticFrame) JointType() JointType {
	return JointRigid
}

func (sf *staticFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*staticFrame)
	return ok && sf.name == other.name && spatial.PoseAlmostEqual(sf.transform, other.transform)
}

// a translationalFrame slides along one axis.
type translationalFrame struct {
	name      string
	jointType JointType
	transAxis r3.Vector
	limit     []Limit
}

func (pf *translationalFrame) Name() string {
	return pf.name
}

// Transform returns a pose translated by the amount specified in the inputs.
func (pf *translationalFrame) Transform(input []Input) (spatial.Pose, error) {
	if len(input) != 1 {
		return nil, NewIncorrectDoFError(len(input), 1)
	}
	// We allow out-of-bounds calculations, but will return a non-nil error
	err := checkInputs(pf.name, input, pf.limit)
	return spatial.NewPoseFromPoint(pf.transAxis.Mul(input[0].Value)), err
}

func (pf *translationalFrame) DoF() []Limit {
	return pf.limit
}

func (pf *translationalFrame) JointType() JointType {
	return pf.jointType
}

func (pf *translationalFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*translationalFrame)
	return ok && pf.name == other.name && pf.jointType == other.jointType && limitsAlmostEqual(pf.limit, other.limit)
}

// a rotationalFrame is a revolute joint about one axis.
type rotationalFrame struct {
	name      string
	jointType JointType
	rotAxis   r3.Vector
	limit     []Limit
}

func (rf *rotationalFrame) Name() string {
	return rf.name
}

// Transform returns the rotation of the joint by the input angle.
func (rf *rotationalFrame) Transform(input []Input) (spatial.Pose, error) {
	if len(input) != 1 {
		return nil, NewIncorrectDoFError(len(input), 1)
	}
	err := checkInputs(rf.name, input, rf.limit)
	return spatial.NewPoseFromAxisAngle(rf.rotAxis, input[0].Value), err
}

func (rf *rotationalFrame) DoF() []Limit {
	return rf.limit
}

func (rf *rotationalFrame) JointType() JointType {
	return rf.jointType
}

func (rf *rotationalFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*rotationalFrame)
	return ok && rf.name == other.name && rf.jointType == other.jointType && limitsAlmostEqual(rf.limit, other.limit)
}

// multiDoFFrame covers the planar, 3D translational and free joints.
type multiDoFFrame struct {
	name      string
	jointType JointType
	limits    []Limit
}

func (mf *multiDoFFrame) Name() string {
	return mf.name
}

func (mf *multiDoFFrame) Transform(input []Input) (spatial.Pose, error) {
	if len(input) != len(mf.limits) {
		return nil, NewIncorrectDoFError(len(input), len(mf.limits))
	}
	err := checkInputs(mf.name, input, mf.limits)
	switch mf.jointType {
	case JointTransXYPhi:
		aa := &spatial.R4AA{Theta: input[2].Value, RZ: 1}
		return spatial.NewPose(r3.Vector{X: input[0].Value, Y: input[1].Value}, aa.ToQuat()), err
	case JointTrans3:
		return spatial.NewPoseFromPoint(r3.Vector{X: input[0].Value, Y: input[1].Value, Z: input[2].Value}), err
	case JointFree:
		pt := r3.Vector{X: input[0].Value, Y: input[1].Value, Z: input[2].Value}
		rv := r3.Vector{X: input[3].Value, Y: input[4].Value, Z: input[5].Value}
		return spatial.NewPoseFromRotationVector(pt, rv), err
	default:
		return spatial.NewPose(r3.Vector{}, quat.Number{Real: 1}), err
	}
}

func (mf *multiDoFFrame) DoF() []Limit {
	return mf.limits
}

func (mf *multiDoFFrame) JointType() JointType {
	return mf.jointType
}

func (mf *multiDoFFrame) AlmostEquals(otherFrame Frame) bool {
	other, ok := otherFrame.(*multiDoFFrame)
	return ok && mf.name == other.name && mf.jointType == other.jointType && limitsAlmostEqual(mf.limits, other.limits)
}
