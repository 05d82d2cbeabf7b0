package posefactor

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

// Detection wraps one candidate bounding-box observation into a Gaussian
// observation model: mean, diagonal covariance, information matrix and its
// square root, and a mixture weight. Everything is derived once at
// construction; a Detection is an immutable value afterward.
type Detection struct {
	mean      r3.Vector
	variances r3.Vector
	cov       *mat.SymDense
	info      *mat.SymDense
	sqrtInfo  *mat.Dense
	noise     *NoiseModel
	weight    float64
	box       BoundingBox
}

// NewDetection builds a detection hypothesis from a bounding box and per-axis
// standard deviations. The weight is the hypothesis's relative prior
// plausibility within a mixture; weights need not sum to one across a
// detection set. Returns ErrInvalidCovariance if any sigma is non-positive
// and ErrInvalidWeight if the weight is negative.
func NewDetection(box BoundingBox, sigmas r3.Vector, weight float64) (Detection, error) {
	if weight < 0 || math.IsNaN(weight) {
		return Detection{}, fmt.Errorf("%w: %v", ErrInvalidWeight, weight)
	}

	noise, err := NewDiagonalNoise([]float64{sigmas.X, sigmas.Y, sigmas.Z})
	if err != nil {
		return Detection{}, err
	}

	return Detection{
		mean:      box.Center(),
		variances: r3.Vector{X: sigmas.X * sigmas.X, Y: sigmas.Y * sigmas.Y, Z: sigmas.Z * sigmas.Z},
		cov:       noise.Covariance(),
		info:      noise.Information(),
		sqrtInfo:  noise.SqrtInformation(),
		noise:     noise,
		weight:    weight,
		box:       box,
	}, nil
}

// NewIsotropicDetection builds a detection with the same sigma on all axes.
func NewIsotropicDetection(box BoundingBox, sigma, weight float64) (Detection, error) {
	return NewDetection(box, r3.Vector{X: sigma, Y: sigma, Z: sigma}, weight)
}

// Mean returns the hypothesis's expected value.
func (d Detection) Mean() r3.Vector { return d.mean }

// VarianceVector returns the per-axis variances.
func (d Detection) VarianceVector() r3.Vector { return d.variances }

// VarianceMatrix returns a copy of the 3x3 covariance matrix.
func (d Detection) VarianceMatrix() *mat.SymDense {
	return mat.NewSymDense(3, symData(d.cov))
}

// InformationMatrix returns a copy of the inverse covariance.
func (d Detection) InformationMatrix() *mat.SymDense {
	return mat.NewSymDense(3, symData(d.info))
}

// SqrtInformationMatrix returns a copy of the square-root information U,
// satisfying Uᵀ·U = information.
func (d Detection) SqrtInformationMatrix() *mat.Dense {
	return mat.DenseCopyOf(d.sqrtInfo)
}

// Noise returns the diagonal noise model describing this hypothesis.
func (d Detection) Noise() *NoiseModel { return d.noise }

// Weight returns the hypothesis's mixture weight.
func (d Detection) Weight() float64 { return d.weight }

// BoundingBox returns the source observation.
func (d Detection) BoundingBox() BoundingBox { return d.box }

// Energy returns the max-mixture energy of x under this hypothesis:
// ½·(x−μ)ᵀ·Λ·(x−μ) + γ. The caller supplies γ, the normalization offset
// that makes energies comparable across hypotheses of different weight and
// covariance; without it, tighter covariances always win regardless of true
// likelihood.
func (d Detection) Energy(x r3.Vector, gamma float64) float64 {
	diff := x.Sub(d.mean)
	mahal := diff.X*diff.X/d.variances.X +
		diff.Y*diff.Y/d.variances.Y +
		diff.Z*diff.Z/d.variances.Z
	return 0.5*mahal + gamma
}

// Pose reinterprets the mean as a pose with identity rotation, for
// interfacing with pose-valued variables.
func (d Detection) Pose() spatialmath.Pose {
	return spatialmath.NewPoseFromPoint(d.mean)
}

// Equals reports whether two detections have the same mean, covariance, and
// weight within the tolerance. The source bounding box is bookkeeping and is
// not compared.
func (d Detection) Equals(other Detection, tol float64) bool {
	if !scalar.EqualWithinAbs(d.weight, other.weight, tol) {
		return false
	}
	if !vecEqualWithin(d.mean, other.mean, tol) {
		return false
	}
	return vecEqualWithin(d.variances, other.variances, tol)
}

// logNormalization returns ½·log(det(2π·Σ)), the negative log of the
// Gaussian normalizing constant for this hypothesis.
func (d Detection) logNormalization() float64 {
	return 0.5 * (3*math.Log(2*math.Pi) + d.noise.LogDeterminant())
}

func vecEqualWithin(a, b r3.Vector, tol float64) bool {
	return scalar.EqualWithinAbs(a.X, b.X, tol) &&
		scalar.EqualWithinAbs(a.Y, b.Y, tol) &&
		scalar.EqualWithinAbs(a.Z, b.Z, tol)
}
