package posefactor

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/mat"
)

// NoiseModel is an immutable Gaussian noise model. The information matrix and
// its square root are derived once at construction so that whitening a
// residual or Jacobian every solver iteration is a plain matrix multiply.
// Models are value data owned per factor; nothing mutates them after
// construction, so sharing one across factors is also safe.
type NoiseModel struct {
	dim      int
	sigmas   []float64 // per-axis standard deviations; nil for full models
	cov      *mat.SymDense
	info     *mat.SymDense
	sqrtInfo *mat.Dense
	logDet   float64 // log-determinant of the covariance
}

// NewDiagonalNoise creates a noise model from per-axis standard deviations.
// Returns ErrInvalidCovariance if any sigma is non-positive.
func NewDiagonalNoise(sigmas []float64) (*NoiseModel, error) {
	dim := len(sigmas)
	if dim == 0 {
		return nil, fmt.Errorf("%w: empty sigma vector", ErrInvalidCovariance)
	}

	cov := mat.NewSymDense(dim, nil)
	info := mat.NewSymDense(dim, nil)
	sqrtInfo := mat.NewDense(dim, dim, nil)
	logDet := 0.0
	for i, s := range sigmas {
		if s <= 0 || math.IsNaN(s) || math.IsInf(s, 0) {
			return nil, fmt.Errorf("%w: sigma[%d] = %v", ErrInvalidCovariance, i, s)
		}
		variance := s * s
		cov.SetSym(i, i, variance)
		info.SetSym(i, i, 1/variance)
		sqrtInfo.Set(i, i, 1/s)
		logDet += math.Log(variance)
	}

	return &NoiseModel{
		dim:      dim,
		sigmas:   append([]float64(nil), sigmas...),
		cov:      cov,
		info:     info,
		sqrtInfo: sqrtInfo,
		logDet:   logDet,
	}, nil
}

// NewIsotropicNoise creates a diagonal model with the same sigma on all axes.
func NewIsotropicNoise(dim int, sigma float64) (*NoiseModel, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("%w: dimension %d", ErrInvalidCovariance, dim)
	}
	sigmas := make([]float64, dim)
	for i := range sigmas {
		sigmas[i] = sigma
	}
	return NewDiagonalNoise(sigmas)
}

// NewFullNoise creates a noise model from a full covariance matrix. The
// square-root information is the inverse of the covariance's lower Cholesky
// factor. Returns ErrInvalidCovariance if the matrix is not
// positive-definite.
func NewFullNoise(cov *mat.SymDense) (*NoiseModel, error) {
	if cov == nil {
		return nil, fmt.Errorf("%w: nil covariance", ErrInvalidCovariance)
	}
	dim := cov.SymmetricDim()

	var chol mat.Cholesky
	if ok := chol.Factorize(cov); !ok {
		return nil, ErrInvalidCovariance
	}

	info := mat.NewSymDense(dim, nil)
	if err := chol.InverseTo(info); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCovariance, err)
	}

	var lower mat.TriDense
	chol.LTo(&lower)
	var lowerInv mat.TriDense
	if err := lowerInv.InverseTri(&lower); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCovariance, err)
	}

	return &NoiseModel{
		dim:      dim,
		cov:      mat.NewSymDense(dim, symData(cov)),
		info:     info,
		sqrtInfo: mat.DenseCopyOf(&lowerInv),
		logDet:   chol.LogDet(),
	}, nil
}

// Dim returns the residual dimension the model whitens.
func (n *NoiseModel) Dim() int { return n.dim }

// Sigmas returns the per-axis standard deviations, or nil for a full model.
func (n *NoiseModel) Sigmas() []float64 {
	if n.sigmas == nil {
		return nil
	}
	return append([]float64(nil), n.sigmas...)
}

// Covariance returns a copy of the covariance matrix.
func (n *NoiseModel) Covariance() *mat.SymDense {
	return mat.NewSymDense(n.dim, symData(n.cov))
}

// Information returns a copy of the information (inverse covariance) matrix.
func (n *NoiseModel) Information() *mat.SymDense {
	return mat.NewSymDense(n.dim, symData(n.info))
}

// SqrtInformation returns a copy of the square-root information matrix U,
// satisfying Uᵀ·U = information.
func (n *NoiseModel) SqrtInformation() *mat.Dense {
	return mat.DenseCopyOf(n.sqrtInfo)
}

// LogDeterminant returns the log-determinant of the covariance matrix.
func (n *NoiseModel) LogDeterminant() float64 { return n.logDet }

// Whiten multiplies a residual by the square-root information so that its
// squared norm equals the Mahalanobis distance.
func (n *NoiseModel) Whiten(r *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(n.dim, nil)
	out.MulVec(n.sqrtInfo, r)
	return out
}

// WhitenJacobian multiplies a Jacobian block by the square-root information.
func (n *NoiseModel) WhitenJacobian(j *mat.Dense) *mat.Dense {
	_, cols := j.Dims()
	out := mat.NewDense(n.dim, cols, nil)
	out.Mul(n.sqrtInfo, j)
	return out
}

// Equals reports whether two models have the same dimension and covariance
// within the tolerance.
func (n *NoiseModel) Equals(other *NoiseModel, tol float64) bool {
	if other == nil || n.dim != other.dim {
		return false
	}
	if !mat.EqualApprox(n.cov, other.cov, tol) {
		return false
	}
	return scalar.EqualWithinAbs(n.logDet, other.logDet, tol)
}

// symData flattens a symmetric matrix into the row-major slice NewSymDense
// expects.
func symData(s *mat.SymDense) []float64 {
	dim := s.SymmetricDim()
	data := make([]float64, dim*dim)
	for i := 0; i < dim; i++ {
		for j := 0; j < dim; j++ {
			data[i*dim+j] = s.At(i, j)
		}
	}
	return data
}
