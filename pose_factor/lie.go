package posefactor

import (
	"fmt"
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

// Tangent convention used throughout: right (body-frame) perturbations
// T ← T·Exp(ξ) with ξ = (ω, v), rotation components first. Retract applies
// the matching update, so Jacobians produced by Linearize are consistent
// with solver steps applied through Retract.

// Retract applies a 6-dimensional tangent update delta = (ωx, ωy, ωz, vx,
// vy, vz) to a pose using the right-perturbation convention: the rotation is
// post-multiplied by Exp(ω) and the translation moves by R·v. Returns
// ErrDimensionMismatch unless len(delta) == 6.
func Retract(p spatialmath.Pose, delta []float64) (spatialmath.Pose, error) {
	if len(delta) != 6 {
		return nil, fmt.Errorf("%w: tangent vector has length %d, want 6", ErrDimensionMismatch, len(delta))
	}

	w := r3.Vector{X: delta[0], Y: delta[1], Z: delta[2]}
	v := r3.Vector{X: delta[3], Y: delta[4], Z: delta[5]}

	rot := rotationMatrix(p)
	var newRot mat.Dense
	newRot.Mul(rot, expSO3(w))

	rv := mulVec3(rot, v)
	t := p.Point().Add(rv)

	return spatialmath.NewPose(t, rotationFromDense(&newRot)), nil
}

// rotationMatrix extracts a pose's rotation as a 3x3 gonum matrix.
func rotationMatrix(p spatialmath.Pose) *mat.Dense {
	rm := p.Orientation().RotationMatrix()
	out := mat.NewDense(3, 3, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rm.At(i, j))
		}
	}
	return out
}

// rotationFromDense converts a 3x3 gonum matrix back to a spatialmath
// orientation.
func rotationFromDense(m *mat.Dense) *spatialmath.RotationMatrix {
	data := make([]float64, 9)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			data[i*3+j] = m.At(i, j)
		}
	}
	//nolint:errcheck
	rm, _ := spatialmath.NewRotationMatrix(data)
	return rm
}

// skew returns the 3x3 cross-product matrix of v, satisfying skew(v)·u = v×u.
func skew(v r3.Vector) *mat.Dense {
	return mat.NewDense(3, 3, []float64{
		0, -v.Z, v.Y,
		v.Z, 0, -v.X,
		-v.Y, v.X, 0,
	})
}

// mulVec3 multiplies a 3x3 matrix by a 3-vector.
func mulVec3(m mat.Matrix, v r3.Vector) r3.Vector {
	return r3.Vector{
		X: m.At(0, 0)*v.X + m.At(0, 1)*v.Y + m.At(0, 2)*v.Z,
		Y: m.At(1, 0)*v.X + m.At(1, 1)*v.Y + m.At(1, 2)*v.Z,
		Z: m.At(2, 0)*v.X + m.At(2, 1)*v.Y + m.At(2, 2)*v.Z,
	}
}

// expSO3 is the SO(3) exponential map via Rodrigues' formula:
// R = I + sin(θ)/θ·ŵ + (1-cos(θ))/θ²·ŵ².
func expSO3(w r3.Vector) *mat.Dense {
	theta := w.Norm()

	a := 1.0
	b := 0.5
	if theta > 1e-10 {
		a = math.Sin(theta) / theta
		b = (1 - math.Cos(theta)) / (theta * theta)
	}

	hat := skew(w)
	var hatSq mat.Dense
	hatSq.Mul(hat, hat)

	out := identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, out.At(i, j)+a*hat.At(i, j)+b*hatSq.At(i, j))
		}
	}
	return out
}

// logSO3 is the SO(3) logarithm: the rotation vector ω with |ω| = θ and
// Exp(ω) = R. Near θ = π the off-diagonal formula degenerates, so the axis
// is recovered from the diagonal instead.
func logSO3(R mat.Matrix) r3.Vector {
	trace := R.At(0, 0) + R.At(1, 1) + R.At(2, 2)
	cosTheta := (trace - 1) / 2
	if cosTheta > 1 {
		cosTheta = 1
	} else if cosTheta < -1 {
		cosTheta = -1
	}
	theta := math.Acos(cosTheta)

	vee := r3.Vector{
		X: R.At(2, 1) - R.At(1, 2),
		Y: R.At(0, 2) - R.At(2, 0),
		Z: R.At(1, 0) - R.At(0, 1),
	}

	switch {
	case theta < 1e-10:
		return vee.Mul(0.5)
	case math.Pi-theta < 1e-6:
		// Axis from the dominant diagonal of (R+I)/2 = axis·axisᵀ near θ = π.
		axis := r3.Vector{
			X: math.Sqrt(math.Max(0, (R.At(0, 0)+1)/2)),
			Y: math.Sqrt(math.Max(0, (R.At(1, 1)+1)/2)),
			Z: math.Sqrt(math.Max(0, (R.At(2, 2)+1)/2)),
		}
		// Fix signs using the off-diagonal sums.
		if axis.X >= axis.Y && axis.X >= axis.Z {
			if R.At(0, 1)+R.At(1, 0) < 0 {
				axis.Y = -axis.Y
			}
			if R.At(0, 2)+R.At(2, 0) < 0 {
				axis.Z = -axis.Z
			}
		} else if axis.Y >= axis.X && axis.Y >= axis.Z {
			if R.At(0, 1)+R.At(1, 0) < 0 {
				axis.X = -axis.X
			}
			if R.At(1, 2)+R.At(2, 1) < 0 {
				axis.Z = -axis.Z
			}
		} else {
			if R.At(0, 2)+R.At(2, 0) < 0 {
				axis.X = -axis.X
			}
			if R.At(1, 2)+R.At(2, 1) < 0 {
				axis.Y = -axis.Y
			}
		}
		n := axis.Norm()
		if n < 1e-12 {
			return r3.Vector{}
		}
		return axis.Mul(theta / n)
	default:
		return vee.Mul(theta / (2 * math.Sin(theta)))
	}
}

// invRightJacobianSO3 is the inverse of the right Jacobian of SO(3):
// Jr⁻¹(ω) = I + ½ŵ + (1/θ² − (1+cosθ)/(2θ·sinθ))·ŵ².
func invRightJacobianSO3(w r3.Vector) *mat.Dense {
	theta := w.Norm()
	hat := skew(w)

	out := identity3()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, out.At(i, j)+0.5*hat.At(i, j))
		}
	}

	if theta > 1e-8 {
		c := 1/(theta*theta) - (1+math.Cos(theta))/(2*theta*math.Sin(theta))
		var hatSq mat.Dense
		hatSq.Mul(hat, hat)
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				out.Set(i, j, out.At(i, j)+c*hatSq.At(i, j))
			}
		}
	}
	return out
}

// adjoint returns the 6x6 adjoint of a pose for the (ω, v) tangent ordering:
// [R 0; t̂·R R], satisfying Exp(Ad_T·ξ) = T·Exp(ξ)·T⁻¹.
func adjoint(p spatialmath.Pose) *mat.Dense {
	rot := rotationMatrix(p)
	var tHatR mat.Dense
	tHatR.Mul(skew(p.Point()), rot)

	out := mat.NewDense(6, 6, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, rot.At(i, j))
			out.Set(i+3, j, tHatR.At(i, j))
			out.Set(i+3, j+3, rot.At(i, j))
		}
	}
	return out
}

func identity3() *mat.Dense {
	return mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1})
}
