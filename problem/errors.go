package problem

import (
	"fmt"

	"github.com/pkg/errors"
)

// Failure classes. Every error returned by this module matches exactly one
// of them under errors.Is.
var (
	// ErrUsage marks errors the caller can fix by changing the call:
	// dimension mismatches, missing state, invalid settings.
	ErrUsage = errors.New("usage error")

	// ErrNumeric marks errors caused by degenerate data or parameters:
	// a covariance that is not positive definite, a singular system.
	ErrNumeric = errors.New("numeric failure")
)

// ShapeError represents a dimension mismatch between an argument and the problem.
type ShapeError struct {
	Expected int
	Got      int
	Type     string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s must have size %d, got %d", e.Type, e.Expected, e.Got)
}

// Is reports ShapeError as a usage error.
func (e *ShapeError) Is(target error) bool {
	return target == ErrUsage
}
