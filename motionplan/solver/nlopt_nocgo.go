//go:build windows || no_cgo

package solver

import (
	"context"

	"github.com/pkg/errors"

	"go.viam.com/trajopt/logging"
)

// SLSQP mimics the type in the cgo compiled code.
type SLSQP struct{}

// NewSLSQP is not supported on no_cgo builds.
func NewSLSQP(opts Options, logger logging.Logger) (*SLSQP, error) {
	return nil, errors.New("nlopt is not supported on this build")
}

// Solve refuses to solve problems without cgo.
func (s *SLSQP) Solve(ctx context.Context, problem ConstrainedProblem, x0, dual []float64) (*Result, error) {
	return nil, errors.New("cannot solve without cgo")
}
