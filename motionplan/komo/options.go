package komo

import (
	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"

	"go.viam.com/trajopt/motionplan/solver"
)

// AssemblyMode selects how objectives are turned into a problem.
type AssemblyMode string

// The assembly modes.
const (
	// AssemblyGrid evaluates objectives on the regular step grid with a banded Jacobian.
	AssemblyGrid AssemblyMode = "grid"
	// AssemblyTuples evaluates objectives on explicit configuration tuples with a dense Jacobian.
	AssemblyTuples AssemblyMode = "tuples"
)

// default values for options.
const (
	// Gaussian noise added to the initial decision vector so optimization does not start in a
	// singular configuration.
	defaultInitNoise = 0.01

	defaultSeed = 1
)

// Options configure a KOMO problem. Zero values are replaced by defaults.
type Options struct {
	// Assembly is grid or tuples.
	Assembly AssemblyMode `json:"assembly" mapstructure:"assembly"`

	// Solver is the name of the optimizer, see solver.New.
	Solver        string         `json:"solver" mapstructure:"solver"`
	SolverOptions solver.Options `json:"solver_options" mapstructure:"solver_options"`

	// SplineControlPoints, when positive, optimizes the spline control points instead of every step.
	SplineControlPoints int `json:"spline_control_points" mapstructure:"spline_control_points"`

	// Verbose above zero logs the problem and the report around every optimization.
	Verbose int `json:"verbose" mapstructure:"verbose"`

	// InitNoise is the standard deviation of the noise added by Optimize when it initializes.
	InitNoise float64 `json:"init_noise" mapstructure:"init_noise"`

	// Seed of the noise source.
	Seed uint64 `json:"seed" mapstructure:"seed"`

	// AnomalyThreshold is the feature magnitude that is logged as a numerical anomaly.
	AnomalyThreshold float64 `json:"anomaly_threshold" mapstructure:"anomaly_threshold"`
}

// NewBasicOptions returns the default options.
func NewBasicOptions() *Options {
	return &Options{
		Assembly:         AssemblyGrid,
		Solver:           solver.AugmentedLagrangianName,
		SolverOptions:    solver.NewDefaultOptions(),
		InitNoise:        defaultInitNoise,
		Seed:             defaultSeed,
		AnomalyThreshold: DefaultAnomalyThreshold,
	}
}

// NewOptionsFromExtra overlays a free form map, as found in problem files, on the defaults.
func NewOptionsFromExtra(extra map[string]interface{}) (*Options, error) {
	opts := NewBasicOptions()
	if len(extra) == 0 {
		return opts, nil
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           opts,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(extra); err != nil {
		return nil, errors.Wrap(err, "invalid options")
	}
	return opts, opts.Validate()
}

// Validate checks the options.
func (opts *Options) Validate() error {
	switch opts.Assembly {
	case AssemblyGrid, AssemblyTuples:
	case "":
		opts.Assembly = AssemblyGrid
	default:
		return errors.Errorf("unknown assembly mode %q", opts.Assembly)
	}
	switch opts.Solver {
	case "", solver.AugmentedLagrangianName, solver.SLSQPName:
	default:
		return errors.Errorf("unknown solver %q", opts.Solver)
	}
	if opts.SplineControlPoints < 0 {
		return errors.Errorf("spline control points must be non-negative, got %d", opts.SplineControlPoints)
	}
	if opts.SplineControlPoints > 0 && opts.Assembly == AssemblyTuples {
		return ErrSplineUnsupported
	}
	if opts.InitNoise < 0 {
		return errors.Errorf("init noise must be non-negative, got %v", opts.InitNoise)
	}
	if opts.AnomalyThreshold <= 0 {
		opts.AnomalyThreshold = DefaultAnomalyThreshold
	}
	return nil
}
