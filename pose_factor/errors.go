package posefactor

import "errors"

var (
	// ErrInvalidCovariance is returned when a supplied variance or covariance
	// matrix is not positive-definite.
	ErrInvalidCovariance = errors.New("covariance is not positive-definite")

	// ErrInvalidWeight is returned when a detection weight is negative.
	ErrInvalidWeight = errors.New("detection weight is negative")

	// ErrUnknownKey is returned when a factor is evaluated against a value
	// container missing one of its required keys.
	ErrUnknownKey = errors.New("unknown variable key")

	// ErrDegenerateMixture is returned when a detection factor is constructed
	// with an empty detection list.
	ErrDegenerateMixture = errors.New("detection factor requires at least one detection")

	// ErrDimensionMismatch is returned when a noise model or tangent vector
	// has the wrong dimension for the factor consuming it.
	ErrDimensionMismatch = errors.New("dimension mismatch")
)
