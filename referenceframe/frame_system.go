package referenceframe

import (
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/simple"
	"gonum.org/v1/gonum/graph/topo"

	spatial "go.viam.com/trajopt/spatialmath"
)

// World is the name of the root frame of every frame system.
const World = "world"

const worldID int64 = 0

// link ties a joint frame to its parent. The origin is the fixed pose of the joint on the parent.
type link struct {
	frame  Frame
	parent string
	origin spatial.Pose
	inputs []Input
	id     int64
}

// FrameSystem is a tree of joint frames rooted at the world together with the current joint
// inputs, per frame flags and the local time step tau. It is one kinematic configuration.
//
// The joint state is the concatenation of the inputs of all frames in insertion order. A frame
// replaced by a switch keeps its slot.
type FrameSystem struct {
	name   string
	order  []string
	frames map[string]*link
	flags  map[string]FlagSet
	tau    float64

	topology *simple.DirectedGraph
	nextID   int64

	qIndex map[string]int
	qDim   int
}

// NewEmptyFrameSystem creates a frame system containing only the world frame.
func NewEmptyFrameSystem(name string) *FrameSystem {
	fs := &FrameSystem{
		name:     name,
		frames:   map[string]*link{},
		flags:    map[string]FlagSet{},
		topology: simple.NewDirectedGraph(),
		nextID:   worldID + 1,
		qIndex:   map[string]int{},
	}
	fs.topology.AddNode(simple.Node(worldID))
	return fs
}

// Name returns the name of the frame system.
func (fs *FrameSystem) Name() string {
	return fs.name
}

// FrameNames returns the frame names in insertion order, excluding the world.
func (fs *FrameSystem) FrameNames() []string {
	names := make([]string, len(fs.order))
	copy(names, fs.order)
	return names
}

// Frame returns the named frame, or nil if it does not exist.
func (fs *FrameSystem) Frame(name string) Frame {
	if l, ok := fs.frames[name]; ok {
		return l.frame
	}
	return nil
}

func (fs *FrameSystem) frameExists(name string) bool {
	if name == World {
		return true
	}
	_, ok := fs.frames[name]
	return ok
}

// Parent returns the name of the parent of the named frame.
func (fs *FrameSystem) Parent(name string) (string, error) {
	l, ok := fs.frames[name]
	if !ok {
		return "", NewFrameMissingError(name)
	}
	return l.parent, nil
}

// Origin returns the fixed pose of the joint of the named frame on its parent.
func (fs *FrameSystem) Origin(name string) (spatial.Pose, error) {
	l, ok := fs.frames[name]
	if !ok {
		return nil, NewFrameMissingError(name)
	}
	return l.origin, nil
}

// AddFrame inserts frame as a child of parent, with its joint placed at origin on the parent. A
// nil origin is the identity. All inputs start at zero.
func (fs *FrameSystem) AddFrame(frame Frame, parent string, origin spatial.Pose) error {
	if frame == nil {
		return errors.New("frame is not allowed to be nil")
	}
	name := frame.Name()
	if fs.frameExists(name) {
		return NewFrameAlreadyExistsError(name)
	}
	if !fs.frameExists(parent) {
		return NewParentFrameMissingError(name, parent)
	}
	if origin == nil {
		origin = spatial.NewZeroPose()
	}
	l := &link{
		frame:  frame,
		parent: parent,
		origin: origin,
		inputs: make([]Input, len(frame.DoF())),
		id:     fs.nextID,
	}
	fs.nextID++
	fs.frames[name] = l
	fs.order = append(fs.order, name)
	fs.topology.AddNode(simple.Node(l.id))
	fs.topology.SetEdge(fs.topology.NewEdge(fs.node(parent), simple.Node(l.id)))
	fs.CalcJointIndex()
	return nil
}

// ReplaceJoint swaps the joint of an existing frame for frame, attached to parent at origin. The
// inputs of the new joint start at zero. This is the primitive used by switches.
func (fs *FrameSystem) ReplaceJoint(frame Frame, parent string, origin spatial.Pose) error {
	name := frame.Name()
	l, ok := fs.frames[name]
	if !ok {
		return NewFrameMissingError(name)
	}
	if !fs.frameExists(parent) {
		return NewParentFrameMissingError(name, parent)
	}
	if parent == name {
		return errors.Wrapf(ErrInconsistentTopology, "frame %q cannot be its own parent", name)
	}
	if origin == nil {
		origin = spatial.NewZeroPose()
	}
	fs.topology.RemoveEdge(fs.node(l.parent).ID(), l.id)
	fs.topology.SetEdge(fs.topology.NewEdge(fs.node(parent), simple.Node(l.id)))
	l.frame = frame
	l.parent = parent
	l.origin = origin
	l.inputs = make([]Input, len(frame.DoF()))
	fs.CalcJointIndex()
	return nil
}

func (fs *FrameSystem) node(name string) graph.Node {
	if name == World {
		return simple.Node(worldID)
	}
	return simple.Node(fs.frames[name].id)
}

// Clone returns a deep copy of topology, inputs, flags and tau. Frames and poses are immutable and
// shared.
func (fs *FrameSystem) Clone() *FrameSystem {
	c := &FrameSystem{
		name:     fs.name,
		order:    make([]string, len(fs.order)),
		frames:   make(map[string]*link, len(fs.frames)),
		flags:    make(map[string]FlagSet, len(fs.flags)),
		tau:      fs.tau,
		topology: simple.NewDirectedGraph(),
		nextID:   fs.nextID,
		qIndex:   make(map[string]int, len(fs.qIndex)),
		qDim:     fs.qDim,
	}
	copy(c.order, fs.order)
	c.topology.AddNode(simple.Node(worldID))
	for _, name := range fs.order {
		l := fs.frames[name]
		inputs := make([]Input, len(l.inputs))
		copy(inputs, l.inputs)
		c.frames[name] = &link{frame: l.frame, parent: l.parent, origin: l.origin, inputs: inputs, id: l.id}
		c.topology.AddNode(simple.Node(l.id))
	}
	for _, name := range fs.order {
		l := c.frames[name]
		c.topology.SetEdge(c.topology.NewEdge(c.node(l.parent), simple.Node(l.id)))
	}
	for name, set := range fs.flags {
		c.flags[name] = set
	}
	for name, idx := range fs.qIndex {
		c.qIndex[name] = idx
	}
	return c
}

// CalcJointIndex recomputes where each frame's inputs live in the joint state.
func (fs *FrameSystem) CalcJointIndex() {
	fs.qIndex = make(map[string]int, len(fs.order))
	offset := 0
	for _, name := range fs.order {
		fs.qIndex[name] = offset
		offset += len(fs.frames[name].inputs)
	}
	fs.qDim = offset
}

// DoF returns the length of the joint state.
func (fs *FrameSystem) DoF() int {
	return fs.qDim
}

// JointIndex returns the offset of the named frame's inputs in the joint state.
func (fs *FrameSystem) JointIndex(name string) (int, error) {
	idx, ok := fs.qIndex[name]
	if !ok {
		return 0, NewFrameMissingError(name)
	}
	return idx, nil
}

// JointState returns the joint state of the whole system.
func (fs *FrameSystem) JointState() []float64 {
	q := make([]float64, 0, fs.qDim)
	for _, name := range fs.order {
		for _, in := range fs.frames[name].inputs {
			q = append(q, in.Value)
		}
	}
	return q
}

// SetJointState overwrites the joint state of the whole system.
func (fs *FrameSystem) SetJointState(q []float64) error {
	if len(q) != fs.qDim {
		return NewIncorrectDoFError(len(q), fs.qDim)
	}
	offset := 0
	for _, name := range fs.order {
		l := fs.frames[name]
		for i := range l.inputs {
			l.inputs[i].Value = q[offset]
			offset++
		}
	}
	return nil
}

// JointStateOf returns the concatenated inputs of the named frames.
func (fs *FrameSystem) JointStateOf(names []string) ([]float64, error) {
	var q []float64
	for _, name := range names {
		l, ok := fs.frames[name]
		if !ok {
			return nil, NewFrameMissingError(name)
		}
		q = append(q, InputsToFloats(l.inputs)...)
	}
	return q, nil
}

// SetJointStateOf overwrites the inputs of the named frames from a concatenated vector.
func (fs *FrameSystem) SetJointStateOf(names []string, q []float64) error {
	dof := 0
	for _, name := range names {
		l, ok := fs.frames[name]
		if !ok {
			return NewFrameMissingError(name)
		}
		dof += len(l.inputs)
	}
	if len(q) != dof {
		return NewIncorrectDoFError(len(q), dof)
	}
	offset := 0
	for _, name := range names {
		l := fs.frames[name]
		for i := range l.inputs {
			l.inputs[i].Value = q[offset]
			offset++
		}
	}
	return nil
}

// Inputs returns a copy of the inputs of the named frame.
func (fs *FrameSystem) Inputs(name string) ([]Input, error) {
	l, ok := fs.frames[name]
	if !ok {
		return nil, NewFrameMissingError(name)
	}
	inputs := make([]Input, len(l.inputs))
	copy(inputs, l.inputs)
	return inputs, nil
}

// SetInputs overwrites the inputs of the named frame.
func (fs *FrameSystem) SetInputs(name string, inputs []Input) error {
	l, ok := fs.frames[name]
	if !ok {
		return NewFrameMissingError(name)
	}
	if len(inputs) != len(l.inputs) {
		return NewIncorrectDoFError(len(inputs), len(l.inputs))
	}
	copy(l.inputs, inputs)
	return nil
}

// Tau returns the local time step of the configuration.
func (fs *FrameSystem) Tau() float64 {
	return fs.tau
}

// SetTau sets the local time step of the configuration.
func (fs *FrameSystem) SetTau(tau float64) {
	fs.tau = tau
}

// Flags returns the flags of the named frame.
func (fs *FrameSystem) Flags(name string) FlagSet {
	return fs.flags[name]
}

// FramesWithFlag returns, in insertion order, the frames carrying kind.
func (fs *FrameSystem) FramesWithFlag(kind FlagKind) []string {
	var names []string
	for _, name := range fs.order {
		if fs.flags[name].Has(kind) {
			names = append(names, name)
		}
	}
	return names
}

// TracebackFrame returns the names from the query frame up to and including the world.
func (fs *FrameSystem) TracebackFrame(name string) ([]string, error) {
	chain := []string{}
	for cur := name; cur != World; {
		l, ok := fs.frames[cur]
		if !ok {
			return nil, NewFrameMissingError(cur)
		}
		chain = append(chain, cur)
		if len(chain) > len(fs.order) {
			return nil, errors.Wrapf(ErrInconsistentTopology, "cycle through frame %q", name)
		}
		cur = l.parent
	}
	return append(chain, World), nil
}

// WorldPose returns the pose of the named frame in the world. Out of bounds joint inputs are
// tolerated.
func (fs *FrameSystem) WorldPose(name string) (spatial.Pose, error) {
	return fs.worldPose(name, map[string]spatial.Pose{}, 0)
}

func (fs *FrameSystem) worldPose(name string, memo map[string]spatial.Pose, depth int) (spatial.Pose, error) {
	if name == World {
		return spatial.NewZeroPose(), nil
	}
	if pose, ok := memo[name]; ok {
		return pose, nil
	}
	l, ok := fs.frames[name]
	if !ok {
		return nil, NewFrameMissingError(name)
	}
	if depth > len(fs.order) {
		return nil, errors.Wrapf(ErrInconsistentTopology, "cycle through frame %q", name)
	}
	parentPose, err := fs.worldPose(l.parent, memo, depth+1)
	if err != nil {
		return nil, err
	}
	jointPose, err := l.frame.Transform(l.inputs)
	if jointPose == nil || (err != nil && !strings.Contains(err.Error(), OOBErrString)) {
		return nil, err
	}
	pose := spatial.Compose(parentPose, spatial.Compose(l.origin, jointPose))
	memo[name] = pose
	return pose, nil
}

// FrameState returns the world pose of every frame.
func (fs *FrameSystem) FrameState() (map[string]spatial.Pose, error) {
	memo := make(map[string]spatial.Pose, len(fs.order))
	for _, name := range fs.order {
		if _, err := fs.worldPose(name, memo, 0); err != nil {
			return nil, err
		}
	}
	return memo, nil
}

// SameJoint reports whether the named frame has the same joint, parent and origin in both systems.
// Frames touched by a switch between two configurations are not the same joint.
func (fs *FrameSystem) SameJoint(other *FrameSystem, name string) bool {
	a, okA := fs.frames[name]
	b, okB := other.frames[name]
	if !okA || !okB {
		return false
	}
	return a.parent == b.parent && a.frame.JointType() == b.frame.JointType() &&
		len(a.inputs) == len(b.inputs) && spatial.PoseAlmostEqual(a.origin, b.origin)
}

// CheckConsistency verifies the system is a tree rooted at the world and that every frame has as
// many inputs as degrees of freedom.
func (fs *FrameSystem) CheckConsistency() error {
	var errAll error
	if len(fs.order) != len(fs.frames) {
		multierr.AppendInto(&errAll, errors.Errorf("%d ordered frames but %d frames", len(fs.order), len(fs.frames)))
	}
	for _, name := range fs.order {
		l, ok := fs.frames[name]
		if !ok {
			multierr.AppendInto(&errAll, NewFrameMissingError(name))
			continue
		}
		if !fs.frameExists(l.parent) {
			multierr.AppendInto(&errAll, NewParentFrameMissingError(name, l.parent))
		}
		if len(l.inputs) != len(l.frame.DoF()) {
			multierr.AppendInto(&errAll, NewIncorrectDoFError(len(l.inputs), len(l.frame.DoF())))
		}
		if idx, ok := fs.qIndex[name]; !ok || idx > fs.qDim {
			multierr.AppendInto(&errAll, errors.Errorf("stale joint index for frame %q", name))
		}
	}
	if _, err := topo.Sort(fs.topology); err != nil {
		multierr.AppendInto(&errAll, err)
	}
	if errAll != nil {
		return errors.Wrap(ErrInconsistentTopology, errAll.Error())
	}
	return nil
}
