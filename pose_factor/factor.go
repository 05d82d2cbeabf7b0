// Package posefactor implements the measurement factors used by the
// segmented-moving-object pose-graph estimator: a max-mixture detection
// factor that selects the best-matching bounding-box hypothesis on every
// evaluation, plus constant-velocity and stable-pose motion factors. An
// external nonlinear least-squares solver owns the variable estimates and
// repeatedly asks each factor for its error and local linearization.
package posefactor

import "gonum.org/v1/gonum/mat"

// Factor is one constraint contributing a term to a nonlinear least-squares
// objective over pose-valued variables. Implementations are immutable after
// construction; Error and Linearize are pure functions of the supplied
// estimates and are safe to call concurrently across factors.
type Factor interface {
	// Keys returns the variable keys this factor constrains, in a fixed order.
	Keys() []Key

	// Dim returns the dimension of the factor's residual vector.
	Dim() int

	// Error returns the factor's current contribution to the objective.
	Error(values *Values) (float64, error)

	// Linearize returns the local linear approximation of the factor at the
	// supplied estimates.
	Linearize(values *Values) (*LinearFactor, error)

	// Clone returns an independent copy sharing no mutable state.
	Clone() Factor

	// Equals reports whether the other factor is of the same type and equal
	// within the numeric tolerance.
	Equals(other Factor, tol float64) bool

	// Format renders the factor with the given key formatter.
	Format(kf KeyFormatter) string
}

// LinearFactor is a linearized constraint: one whitened Jacobian block per
// participating variable plus the whitened residual, ready for the external
// solver to fold into its normal equations. Jacobians[i] corresponds to
// Keys[i]; each block has Residual-many rows and tangent-dimension columns.
type LinearFactor struct {
	Keys      []Key
	Jacobians []*mat.Dense
	Residual  *mat.VecDense
}

// Jacobian returns the block for the given key, if the key participates.
func (l *LinearFactor) Jacobian(k Key) (*mat.Dense, bool) {
	for i, key := range l.Keys {
		if key == k {
			return l.Jacobians[i], true
		}
	}
	return nil, false
}
