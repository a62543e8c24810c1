package referenceframe

import (
	"github.com/pkg/errors"
)

// ErrInconsistentTopology is returned when a frame system is not a tree rooted at the world, or
// when joint inputs disagree with joint degrees of freedom.
var ErrInconsistentTopology = errors.New("inconsistent frame system topology")

// NewIncorrectDoFError returns an error indicating that the length of an input slice does not match
// the DoF of the frame or system it is applied to.
func NewIncorrectDoFError(actual, expected int) error {
	return errors.Errorf("number of dof given (%d) does not match dof expected (%d)", actual, expected)
}

// NewFrameMissingError returns an error indicating that the given frame is missing from the system.
func NewFrameMissingError(frameName string) error {
	return errors.Errorf("frame with name %q not in frame system", frameName)
}

// NewFrameAlreadyExistsError returns an error indicating that a frame of the given name already exists.
func NewFrameAlreadyExistsError(frameName string) error {
	return errors.Errorf("frame with name %q already in frame system", frameName)
}

// NewParentFrameMissingError returns an error indicating that the parent of a frame is not in the system.
func NewParentFrameMissingError(frameName, parentName string) error {
	return errors.Errorf("parent frame %q of frame %q not in frame system", parentName, frameName)
}

// NewUnsupportedJointTypeError is used for joint type names that cannot be parsed.
func NewUnsupportedJointTypeError(jointType string) error {
	return errors.Errorf("unsupported joint type detected: %q", jointType)
}
