package komo

import (
	"math"

	"github.com/pkg/errors"
)

// Timing fixes the discretization of a trajectory. A phase is a unit of symbolic time that is
// split into StepsPerPhase planning steps of duration DurationPerPhase/StepsPerPhase each. KOrder
// is the number of prefix configurations kept before the first planning step, which bounds the
// order of every objective.
type Timing struct {
	Phases           float64 `json:"phases" yaml:"phases" mapstructure:"phases"`
	StepsPerPhase    float64 `json:"steps_per_phase" yaml:"steps_per_phase" mapstructure:"steps_per_phase"`
	DurationPerPhase float64 `json:"duration_per_phase" yaml:"duration_per_phase" mapstructure:"duration_per_phase"`
	KOrder           int     `json:"k_order" yaml:"k_order" mapstructure:"k_order"`
}

// T is the number of planning steps.
func (tm Timing) T() int {
	return int(math.Ceil(tm.StepsPerPhase * tm.Phases))
}

// Tau is the time increment between two steps.
func (tm Timing) Tau() float64 {
	if tm.StepsPerPhase <= 0 {
		return 0
	}
	return tm.DurationPerPhase / tm.StepsPerPhase
}

// Len is the number of configurations of a materialized timeline.
func (tm Timing) Len() int {
	return tm.KOrder + tm.T()
}

// StepOf converts a symbolic time to a planning step. Time 1 with 10 steps per phase is step 9,
// the last step of the first phase. Time 0 maps to -1, the last prefix configuration.
func (tm Timing) StepOf(time float64) int {
	return int(math.Floor(time*tm.StepsPerPhase+.500001)) - 1
}

// TimeOf is the time at the end of planning step t.
func (tm Timing) TimeOf(t int) float64 {
	if tm.StepsPerPhase <= 0 {
		return 0
	}
	return float64(t+1) / tm.StepsPerPhase
}

// Validate checks the values are usable. A zero horizon is valid to declare but fatal to run.
func (tm Timing) Validate() error {
	if tm.Phases < 0 || math.IsNaN(tm.Phases) {
		return errors.Errorf("phases must be non-negative, got %v", tm.Phases)
	}
	if tm.StepsPerPhase < 0 || math.IsNaN(tm.StepsPerPhase) {
		return errors.Errorf("steps per phase must be non-negative, got %v", tm.StepsPerPhase)
	}
	if tm.DurationPerPhase < 0 || math.IsNaN(tm.DurationPerPhase) {
		return errors.Errorf("duration per phase must be non-negative, got %v", tm.DurationPerPhase)
	}
	if tm.KOrder < 0 {
		return errors.Errorf("k-order must be non-negative, got %d", tm.KOrder)
	}
	return nil
}
