package oracle

import (
	"github.com/pkg/errors"

	"github.com/n0madic/go-lme-oracle/problem"
)

var (
	// ErrUsage matches every error the caller can fix by changing the call.
	ErrUsage = problem.ErrUsage

	// ErrNumeric matches every error caused by degenerate data or parameters.
	ErrNumeric = problem.ErrNumeric

	// ErrUnsupported is returned by evaluation paths that do not implement
	// a quantity, such as the Hessian on the direct path.
	ErrUnsupported = errors.New("operation not supported by this evaluator")

	// ErrPenaltiesUninitialized is returned when drop penalties are needed
	// before any (β, γ) pair has been supplied.
	ErrPenaltiesUninitialized = errors.Wrap(ErrUsage, "drop penalties are not initialized")
)

// ShapeError represents a dimension mismatch between an argument and the problem.
type ShapeError = problem.ShapeError

func checkLen(v []float64, want int, what string) error {
	if len(v) != want {
		return &ShapeError{Expected: want, Got: len(v), Type: what}
	}
	return nil
}
