// Package config reads trajectory optimization problems from YAML or JSON files.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go.viam.com/trajopt/logging"
	"go.viam.com/trajopt/motionplan/feature"
	"go.viam.com/trajopt/motionplan/komo"
	"go.viam.com/trajopt/motionplan/solver"
	"go.viam.com/trajopt/referenceframe"
)

// ObjectiveConfig declares one objective. Times holds zero, one or two symbolic times: the whole
// horizon, a single step, or a window. Steps instead declares one explicit tuple of planning steps,
// negative steps being prefix configurations.
type ObjectiveConfig struct {
	Name    string          `json:"name,omitempty" yaml:"name,omitempty"`
	Feature string          `json:"feature" yaml:"feature" jsonschema:"required"`
	Params  feature.Params  `json:"params,omitempty" yaml:"params,omitempty"`
	Type    solver.TermType `json:"type" yaml:"type" jsonschema:"type=string,enum=sos,enum=eq,enum=ineq"`
	Times   []float64       `json:"times,omitempty" yaml:"times,omitempty"`
	Steps   []int           `json:"steps,omitempty" yaml:"steps,omitempty"`
	Order   *int            `json:"order,omitempty" yaml:"order,omitempty"`
	Scale   float64         `json:"scale,omitempty" yaml:"scale,omitempty"`
	Target  []float64       `json:"target,omitempty" yaml:"target,omitempty"`
}

// SwitchConfig schedules a switch. With Before set the switch applies at the step of Time itself,
// otherwise at the step after.
type SwitchConfig struct {
	Time   float64                  `json:"time" yaml:"time"`
	Before bool                     `json:"before,omitempty" yaml:"before,omitempty"`
	Joint  referenceframe.JointType `json:"joint" yaml:"joint" jsonschema:"type=string"`
	From   string                   `json:"from,omitempty" yaml:"from,omitempty"`
	To     string                   `json:"to" yaml:"to" jsonschema:"required"`
}

// FlagConfig schedules a flag.
type FlagConfig struct {
	Time      float64                 `json:"time" yaml:"time"`
	Kind      referenceframe.FlagKind `json:"kind" yaml:"kind" jsonschema:"type=string"`
	Frame     string                  `json:"frame" yaml:"frame" jsonschema:"required"`
	Persist   bool                    `json:"persist,omitempty" yaml:"persist,omitempty"`
	StepDelta int                     `json:"step_delta,omitempty" yaml:"step_delta,omitempty"`
}

// Problem is the content of a problem file.
type Problem struct {
	Model      referenceframe.ModelConfig `json:"model" yaml:"model" jsonschema:"required"`
	Timing     komo.Timing                `json:"timing" yaml:"timing" jsonschema:"required"`
	Objectives []ObjectiveConfig          `json:"objectives" yaml:"objectives"`
	Switches   []SwitchConfig             `json:"switches,omitempty" yaml:"switches,omitempty"`
	Flags      []FlagConfig               `json:"flags,omitempty" yaml:"flags,omitempty"`
	// Waypoints holds one joint state per phase to initialize the trajectory with.
	Waypoints [][]float64 `json:"waypoints,omitempty" yaml:"waypoints,omitempty"`
	// Options are decoded by komo.NewOptionsFromExtra.
	Options map[string]interface{} `json:"options,omitempty" yaml:"options,omitempty"`
}

// Read loads a problem file. Files ending in .yaml or .yml are YAML, everything else JSON.
func Read(path string) (*Problem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	p, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, errors.Wrapf(err, "problem file %q", path)
	}
	return p, nil
}

// Parse decodes a problem in the format named by a file extension.
func Parse(data []byte, ext string) (*Problem, error) {
	p := &Problem{}
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(p); err != nil {
			return nil, errors.Wrap(err, "failed to decode yaml problem")
		}
	default:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(p); err != nil {
			return nil, errors.Wrap(err, "failed to decode json problem")
		}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks what can be checked without building the model.
func (p *Problem) Validate() error {
	if len(p.Model.Frames) == 0 {
		return errors.New("model has no frames")
	}
	if err := p.Timing.Validate(); err != nil {
		return err
	}
	for i, o := range p.Objectives {
		if o.Feature == "" {
			return errors.Errorf("objective %d has no feature", i)
		}
		if len(o.Times) > 2 {
			return errors.Errorf("objective %d has %d times, at most two are allowed", i, len(o.Times))
		}
		if len(o.Times) > 0 && len(o.Steps) > 0 {
			return errors.Errorf("objective %d sets both times and steps", i)
		}
	}
	for i, sw := range p.Switches {
		if sw.To == "" {
			return errors.Errorf("switch %d has no target frame", i)
		}
	}
	for i, fl := range p.Flags {
		if fl.Frame == "" {
			return errors.Errorf("flag %d has no frame", i)
		}
	}
	return nil
}

// Build creates the KOMO problem: the model becomes the base configuration, then switches, flags
// and objectives are declared in file order. Waypoints, when present, initialize the trajectory.
func (p *Problem) Build(logger logging.Logger) (*komo.KOMO, error) {
	base, err := p.Model.ParseConfig()
	if err != nil {
		return nil, errors.Wrap(err, "invalid model")
	}
	opts, err := komo.NewOptionsFromExtra(p.Options)
	if err != nil {
		return nil, err
	}
	k, err := komo.New(base, p.Timing, opts, logger)
	if err != nil {
		return nil, err
	}

	for i, sw := range p.Switches {
		if _, err := k.AddSwitch(sw.Time, sw.Before, referenceframe.Switch{JointType: sw.Joint, From: sw.From, To: sw.To}); err != nil {
			return nil, errors.Wrapf(err, "switch %d", i)
		}
	}
	for i, fl := range p.Flags {
		flag := referenceframe.Flag{Kind: fl.Kind, Frame: fl.Frame, Persist: fl.Persist}
		if _, err := k.AddFlag(fl.Time, flag, fl.StepDelta); err != nil {
			return nil, errors.Wrapf(err, "flag %d", i)
		}
	}
	for i, oc := range p.Objectives {
		if err := addObjective(k, oc); err != nil {
			name := oc.Name
			if name == "" {
				name = oc.Feature
			}
			return nil, errors.Wrapf(err, "objective %d (%s)", i, name)
		}
	}
	if len(p.Waypoints) > 0 {
		if err := k.SetWaypoints(p.Waypoints); err != nil {
			return nil, errors.Wrap(err, "waypoints")
		}
	}
	return k, nil
}

func addObjective(k *komo.KOMO, oc ObjectiveConfig) error {
	f, err := feature.New(oc.Feature, oc.Params)
	if err != nil {
		return err
	}
	var opts []komo.ObjectiveOption
	if oc.Name != "" {
		opts = append(opts, komo.WithName(oc.Name))
	}
	if oc.Order != nil {
		opts = append(opts, komo.WithOrder(*oc.Order))
	}
	if oc.Scale != 0 {
		opts = append(opts, komo.WithScale(oc.Scale))
	}
	if len(oc.Target) > 0 {
		opts = append(opts, komo.WithTarget(komo.VectorTarget(oc.Target...)))
	}
	if len(oc.Steps) > 0 {
		_, err = k.Plan().AddObjectiveAtSteps(oc.Steps, f, oc.Type, opts...)
		return err
	}
	_, err = k.Plan().AddObjectiveAtTimes(oc.Times, f, oc.Type, opts...)
	return err
}

// Schema returns the JSON schema of problem files.
func Schema() *jsonschema.Schema {
	return jsonschema.Reflect(&Problem{})
}
