package vae

import "github.com/pkg/errors"

// Sentinel errors. Wrapped errors carry the offending detail; match with
// errors.Is.
var (
	// ErrUnsupportedActivation is returned at construction when the
	// requested activation is not one of the recognized kinds.
	ErrUnsupportedActivation = errors.New("unsupported activation")

	// ErrShapeMismatch is returned when forward inputs disagree on
	// leading dimensions, carry the wrong feature width, or have a rank
	// other than 2 or 3.
	ErrShapeMismatch = errors.New("shape mismatch")

	// ErrDimension is returned at construction when a declared
	// dimension is non-positive or a width list is empty.
	ErrDimension = errors.New("invalid dimension configuration")
)
