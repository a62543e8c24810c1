package komo

import "github.com/pkg/errors"

var (
	// ErrZeroHorizon is returned when the timing leaves no planning steps.
	ErrZeroHorizon = errors.New("trajectory has no planning steps")

	// ErrInsufficientKOrder is returned when an objective needs more history than the problem keeps.
	ErrInsufficientKOrder = errors.New("objective order exceeds k-order")

	// ErrDecisionVectorLength is returned when a decision vector does not match the timeline.
	ErrDecisionVectorLength = errors.New("decision vector length does not match timeline")

	// ErrAlreadyMaterialized is returned when the timeline is built twice.
	ErrAlreadyMaterialized = errors.New("timeline already materialized")

	// ErrNotMaterialized is returned when an operation needs a timeline that does not exist yet.
	ErrNotMaterialized = errors.New("timeline not materialized")

	// ErrBeyondHorizon is returned for a switch or flag scheduled past the last configuration.
	ErrBeyondHorizon = errors.New("scheduled beyond time horizon")

	// ErrInconsistentFeature is returned when a feature's value and Jacobian disagree with each
	// other, with the tuple, or with the cached problem structure.
	ErrInconsistentFeature = errors.New("inconsistent feature evaluation")

	// ErrStructureChanged is returned when a problem is evaluated after its objectives changed.
	ErrStructureChanged = errors.New("problem structure changed since it was computed")

	// ErrSplineUnsupported is returned when a spline is combined with explicit tuple assembly.
	ErrSplineUnsupported = errors.New("spline reparameterization is not supported for tuple assembly")
)

func newBeyondHorizonError(what string, step, horizon int) error {
	return errors.Wrapf(ErrBeyondHorizon, "%s at step %d, configurations end at %d", what, step, horizon)
}
