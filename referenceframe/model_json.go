package referenceframe

import (
	"encoding/json"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	spatial "go.viam.com/trajopt/spatialmath"
)

// VectorConfig is a 3-vector in config files.
type VectorConfig struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
	Z float64 `json:"z" yaml:"z"`
}

// R3 converts the config to an r3.Vector.
func (cfg VectorConfig) R3() r3.Vector {
	return r3.Vector{X: cfg.X, Y: cfg.Y, Z: cfg.Z}
}

// FrameConfig describes one frame of a model. Rotation is a rotation vector in radians.
type FrameConfig struct {
	Name        string       `json:"name" yaml:"name" jsonschema:"required"`
	Parent      string       `json:"parent,omitempty" yaml:"parent,omitempty"`
	Type        JointType    `json:"type" yaml:"type" jsonschema:"type=string"`
	Translation VectorConfig `json:"translation,omitempty" yaml:"translation,omitempty"`
	Rotation    VectorConfig `json:"rotation,omitempty" yaml:"rotation,omitempty"`
	Limits      []Limit      `json:"limits,omitempty" yaml:"limits,omitempty"`
	Initial     []float64    `json:"initial,omitempty" yaml:"initial,omitempty"`
}

// ModelConfig is a list of frames. Frames may reference parents declared later in the list.
type ModelConfig struct {
	Name   string        `json:"name" yaml:"name"`
	Frames []FrameConfig `json:"frames" yaml:"frames"`
}

// UnmarshalModelJSON parses a json model.
func UnmarshalModelJSON(data []byte) (*ModelConfig, error) {
	cfg := &ModelConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal json model")
	}
	return cfg, nil
}

// ParseConfig builds a frame system from the model and validates it.
func (cfg *ModelConfig) ParseConfig() (*FrameSystem, error) {
	fs := NewEmptyFrameSystem(cfg.Name)

	pending := make([]FrameConfig, len(cfg.Frames))
	copy(pending, cfg.Frames)
	for len(pending) > 0 {
		var next []FrameConfig
		for _, fc := range pending {
			parent := fc.Parent
			if parent == "" {
				parent = World
			}
			if !fs.frameExists(parent) {
				next = append(next, fc)
				continue
			}
			if err := fc.addTo(fs, parent); err != nil {
				return nil, err
			}
		}
		if len(next) == len(pending) {
			return nil, NewParentFrameMissingError(next[0].Name, next[0].Parent)
		}
		pending = next
	}
	if err := fs.CheckConsistency(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fc *FrameConfig) addTo(fs *FrameSystem, parent string) error {
	var frame Frame
	var err error
	if fc.Limits != nil {
		frame, err = NewJointFrameWithLimits(fc.Name, fc.Type, fc.Limits)
	} else {
		frame, err = NewJointFrame(fc.Name, fc.Type)
	}
	if err != nil {
		return errors.Wrapf(err, "frame %q", fc.Name)
	}
	origin := spatial.NewPoseFromRotationVector(fc.Translation.R3(), fc.Rotation.R3())
	if err := fs.AddFrame(frame, parent, origin); err != nil {
		return err
	}
	if fc.Initial != nil {
		return fs.SetInputs(fc.Name, FloatsToInputs(fc.Initial))
	}
	return nil
}
