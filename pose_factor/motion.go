package posefactor

import (
	"fmt"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

// poseResidual is the 6-dimensional geodesic difference used by the motion
// factors: e = (Log(R_rel), t_rel) for a relative transform. It is exactly
// zero iff the relative transform is the identity.
func poseResidual(rel spatialmath.Pose) (eRot, eTrans r3.Vector) {
	return logSO3(rotationMatrix(rel)), rel.Point()
}

// betweenJacobians returns the unwhitened Jacobian blocks of poseResidual
// with respect to right perturbations of a and b, where rel = a⁻¹∘b:
//
//	∂e/∂ξ_a = [−Jr⁻¹(e_rot)·R_relᵀ  0;  t̂_rel  −I]
//	∂e/∂ξ_b = [ Jr⁻¹(e_rot)         0;  0       R_rel]
func betweenJacobians(rel spatialmath.Pose, eRot, eTrans r3.Vector) (ja, jb *mat.Dense) {
	relRot := rotationMatrix(rel)
	invJr := invRightJacobianSO3(eRot)

	var negInvJrRelT mat.Dense
	negInvJrRelT.Mul(invJr, relRot.T())
	negInvJrRelT.Scale(-1, &negInvJrRelT)

	tHat := skew(eTrans)

	ja = mat.NewDense(6, 6, nil)
	jb = mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			ja.Set(i, j, negInvJrRelT.At(i, j))
			ja.Set(i+3, j, tHat.At(i, j))
			jb.Set(i, j, invJr.At(i, j))
			jb.Set(i+3, j+3, relRot.At(i, j))
		}
		ja.Set(i+3, i+3, -1)
	}
	return ja, jb
}

func residualVec(eRot, eTrans r3.Vector) *mat.VecDense {
	return mat.NewVecDense(6, []float64{eRot.X, eRot.Y, eRot.Z, eTrans.X, eTrans.Y, eTrans.Z})
}

// motionNoise validates a 6-dof noise model, substituting a unit isotropic
// model when none is supplied.
func motionNoise(noise *NoiseModel) (*NoiseModel, error) {
	if noise == nil {
		return NewIsotropicNoise(6, 1)
	}
	if noise.Dim() != 6 {
		return nil, fmt.Errorf("%w: noise model has dimension %d, want 6", ErrDimensionMismatch, noise.Dim())
	}
	return noise, nil
}

// ConstantVelocityFactor softly penalizes relative motion between two
// consecutive pose variables: its residual is the geodesic difference
// between the identity and the relative transform, standing in for an
// unmodeled constant-velocity assumption.
type ConstantVelocityFactor struct {
	key1, key2 Key
	noise      *NoiseModel
}

// NewConstantVelocityFactor creates the factor. A nil noise model defaults
// to unit isotropic noise on all six axes.
func NewConstantVelocityFactor(key1, key2 Key, noise *NoiseModel) (*ConstantVelocityFactor, error) {
	n, err := motionNoise(noise)
	if err != nil {
		return nil, err
	}
	return &ConstantVelocityFactor{key1: key1, key2: key2, noise: n}, nil
}

// Keys returns the two pose keys in order.
func (f *ConstantVelocityFactor) Keys() []Key { return []Key{f.key1, f.key2} }

// Dim returns the residual dimension.
func (f *ConstantVelocityFactor) Dim() int { return 6 }

// Noise returns the factor's noise model.
func (f *ConstantVelocityFactor) Noise() *NoiseModel { return f.noise }

func (f *ConstantVelocityFactor) evaluate(values *Values) (spatialmath.Pose, r3.Vector, r3.Vector, error) {
	p1, err := values.Pose(f.key1)
	if err != nil {
		return nil, r3.Vector{}, r3.Vector{}, err
	}
	p2, err := values.Pose(f.key2)
	if err != nil {
		return nil, r3.Vector{}, r3.Vector{}, err
	}
	rel := spatialmath.PoseBetween(p1, p2)
	eRot, eTrans := poseResidual(rel)
	return rel, eRot, eTrans, nil
}

// Error returns ½‖whitened residual‖².
func (f *ConstantVelocityFactor) Error(values *Values) (float64, error) {
	_, eRot, eTrans, err := f.evaluate(values)
	if err != nil {
		return 0, err
	}
	w := f.noise.Whiten(residualVec(eRot, eTrans))
	return 0.5 * mat.Dot(w, w), nil
}

// Linearize returns the whitened residual and one 6x6 Jacobian block per
// pose.
func (f *ConstantVelocityFactor) Linearize(values *Values) (*LinearFactor, error) {
	rel, eRot, eTrans, err := f.evaluate(values)
	if err != nil {
		return nil, err
	}
	ja, jb := betweenJacobians(rel, eRot, eTrans)
	return &LinearFactor{
		Keys:      f.Keys(),
		Jacobians: []*mat.Dense{f.noise.WhitenJacobian(ja), f.noise.WhitenJacobian(jb)},
		Residual:  f.noise.Whiten(residualVec(eRot, eTrans)),
	}, nil
}

// Clone returns an independent copy.
func (f *ConstantVelocityFactor) Clone() Factor {
	clone := *f
	return &clone
}

// Equals reports whether the other factor is a ConstantVelocityFactor with
// the same keys and noise within the tolerance.
func (f *ConstantVelocityFactor) Equals(other Factor, tol float64) bool {
	o, ok := other.(*ConstantVelocityFactor)
	if !ok {
		return false
	}
	return f.key1 == o.key1 && f.key2 == o.key2 && f.noise.Equals(o.noise, tol)
}

// Format renders the factor with the given key formatter.
func (f *ConstantVelocityFactor) Format(kf KeyFormatter) string {
	if kf == nil {
		kf = DefaultKeyFormatter
	}
	return fmt.Sprintf("ConstantVelocityFactor(%s,%s)", kf(f.key1), kf(f.key2))
}

func (f *ConstantVelocityFactor) String() string {
	return f.Format(DefaultKeyFormatter)
}

// StablePoseFactor constrains a previous pose, an explicit velocity variable,
// and a next pose to be consistent: its residual is the geodesic difference
// between nextPose and previousPose∘velocity. The velocity is a variable the
// solver may adjust, not a fixed measurement.
type StablePoseFactor struct {
	previousPoseKey Key
	velocityKey     Key
	nextPoseKey     Key
	noise           *NoiseModel
}

// NewStablePoseFactor creates the factor. A nil noise model defaults to unit
// isotropic noise on all six axes.
func NewStablePoseFactor(previousPoseKey, velocityKey, nextPoseKey Key, noise *NoiseModel) (*StablePoseFactor, error) {
	n, err := motionNoise(noise)
	if err != nil {
		return nil, err
	}
	return &StablePoseFactor{
		previousPoseKey: previousPoseKey,
		velocityKey:     velocityKey,
		nextPoseKey:     nextPoseKey,
		noise:           n,
	}, nil
}

// Keys returns the previous-pose, velocity, and next-pose keys in order.
func (f *StablePoseFactor) Keys() []Key {
	return []Key{f.previousPoseKey, f.velocityKey, f.nextPoseKey}
}

// Dim returns the residual dimension.
func (f *StablePoseFactor) Dim() int { return 6 }

// Noise returns the factor's noise model.
func (f *StablePoseFactor) Noise() *NoiseModel { return f.noise }

// PreviousPoseKey returns the key of the earlier pose variable.
func (f *StablePoseFactor) PreviousPoseKey() Key { return f.previousPoseKey }

// VelocityKey returns the key of the velocity variable.
func (f *StablePoseFactor) VelocityKey() Key { return f.velocityKey }

// NextPoseKey returns the key of the later pose variable.
func (f *StablePoseFactor) NextPoseKey() Key { return f.nextPoseKey }

func (f *StablePoseFactor) evaluate(values *Values) (velocity, rel spatialmath.Pose, eRot, eTrans r3.Vector, err error) {
	prev, err := values.Pose(f.previousPoseKey)
	if err != nil {
		return nil, nil, r3.Vector{}, r3.Vector{}, err
	}
	vel, err := values.Pose(f.velocityKey)
	if err != nil {
		return nil, nil, r3.Vector{}, r3.Vector{}, err
	}
	next, err := values.Pose(f.nextPoseKey)
	if err != nil {
		return nil, nil, r3.Vector{}, r3.Vector{}, err
	}

	predicted := spatialmath.Compose(prev, vel)
	rel = spatialmath.PoseBetween(predicted, next)
	eRot, eTrans = poseResidual(rel)
	return vel, rel, eRot, eTrans, nil
}

// Error returns ½‖whitened residual‖².
func (f *StablePoseFactor) Error(values *Values) (float64, error) {
	_, _, eRot, eTrans, err := f.evaluate(values)
	if err != nil {
		return 0, err
	}
	w := f.noise.Whiten(residualVec(eRot, eTrans))
	return 0.5 * mat.Dot(w, w), nil
}

// Linearize returns the whitened residual and three 6x6 Jacobian blocks.
// Perturbing the previous pose enters the predicted pose through the
// velocity's inverse adjoint: prev·Exp(ξ)·vel = (prev∘vel)·Exp(Ad_{vel⁻¹}·ξ).
func (f *StablePoseFactor) Linearize(values *Values) (*LinearFactor, error) {
	vel, rel, eRot, eTrans, err := f.evaluate(values)
	if err != nil {
		return nil, err
	}

	jPredicted, jNext := betweenJacobians(rel, eRot, eTrans)

	var jPrev mat.Dense
	jPrev.Mul(jPredicted, adjoint(spatialmath.PoseInverse(vel)))

	return &LinearFactor{
		Keys: f.Keys(),
		Jacobians: []*mat.Dense{
			f.noise.WhitenJacobian(&jPrev),
			f.noise.WhitenJacobian(jPredicted),
			f.noise.WhitenJacobian(jNext),
		},
		Residual: f.noise.Whiten(residualVec(eRot, eTrans)),
	}, nil
}

// Clone returns an independent copy.
func (f *StablePoseFactor) Clone() Factor {
	clone := *f
	return &clone
}

// Equals reports whether the other factor is a StablePoseFactor with the
// same keys and noise within the tolerance.
func (f *StablePoseFactor) Equals(other Factor, tol float64) bool {
	o, ok := other.(*StablePoseFactor)
	if !ok {
		return false
	}
	return f.previousPoseKey == o.previousPoseKey &&
		f.velocityKey == o.velocityKey &&
		f.nextPoseKey == o.nextPoseKey &&
		f.noise.Equals(o.noise, tol)
}

// Format renders the factor with the given key formatter.
func (f *StablePoseFactor) Format(kf KeyFormatter) string {
	if kf == nil {
		kf = DefaultKeyFormatter
	}
	return fmt.Sprintf("StablePoseFactor(%s,%s,%s)",
		kf(f.previousPoseKey), kf(f.velocityKey), kf(f.nextPoseKey))
}

func (f *StablePoseFactor) String() string {
	return f.Format(DefaultKeyFormatter)
}
