package posefactor

import (
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

// testPose builds a pose from a position and an axis-angle rotation.
func testPose(x, y, z float64, axis r3.Vector, theta float64) spatialmath.Pose {
	if theta == 0 {
		return spatialmath.NewPoseFromPoint(r3.Vector{X: x, Y: y, Z: z})
	}
	return spatialmath.NewPose(
		r3.Vector{X: x, Y: y, Z: z},
		&spatialmath.R4AA{Theta: theta, RX: axis.X, RY: axis.Y, RZ: axis.Z},
	)
}

// numericJacobian computes a central-difference Jacobian of the residual
// with respect to the variable at key k, using the same retraction the
// analytic Jacobians are derived in.
func numericJacobian(t *testing.T, values *Values, k Key, dim int, eval func(*Values) *mat.VecDense) *mat.Dense {
	t.Helper()

	const eps = 1e-6
	base, err := values.Pose(k)
	if err != nil {
		t.Fatalf("missing key %d: %v", k, err)
	}

	jac := mat.NewDense(dim, 6, nil)
	for col := 0; col < 6; col++ {
		delta := make([]float64, 6)

		delta[col] = eps
		plus, err := Retract(base, delta)
		if err != nil {
			t.Fatalf("retract: %v", err)
		}
		delta[col] = -eps
		minus, err := Retract(base, delta)
		if err != nil {
			t.Fatalf("retract: %v", err)
		}

		values.Set(k, plus)
		rPlus := eval(values)
		values.Set(k, minus)
		rMinus := eval(values)
		values.Set(k, base)

		for row := 0; row < dim; row++ {
			jac.Set(row, col, (rPlus.AtVec(row)-rMinus.AtVec(row))/(2*eps))
		}
	}
	return jac
}

func checkMatApprox(t *testing.T, name string, got, want mat.Matrix, tol float64) {
	t.Helper()
	if !mat.EqualApprox(got, want, tol) {
		t.Errorf("%s mismatch:\ngot:\n%v\nwant:\n%v",
			name, mat.Formatted(got), mat.Formatted(want))
	}
}

func TestExpLogSO3Roundtrip(t *testing.T) {
	vectors := []r3.Vector{
		{X: 0.3, Y: -0.2, Z: 0.5},
		{X: 1e-12, Y: 0, Z: 0},
		{X: 0, Y: 0, Z: 2.5},
		{X: -1.2, Y: 0.7, Z: 0.3},
	}
	for _, w := range vectors {
		got := logSO3(expSO3(w))
		if got.Sub(w).Norm() > 1e-9 {
			t.Errorf("log(exp(%v)) = %v, want %v", w, got, w)
		}
	}
}

func TestLogSO3Identity(t *testing.T) {
	w := logSO3(identity3())
	if w.Norm() != 0 {
		t.Errorf("log of identity = %v, want zero", w)
	}
}

func TestLogSO3NearPi(t *testing.T) {
	axis := r3.Vector{X: 1, Y: 0, Z: 0}
	theta := math.Pi - 1e-9
	w := logSO3(expSO3(axis.Mul(theta)))
	if math.Abs(w.Norm()-theta) > 1e-6 {
		t.Errorf("|log| = %v, want %v", w.Norm(), theta)
	}
	// Near pi the axis sign is ambiguous; accept either direction.
	dot := math.Abs(w.Dot(axis)) / w.Norm()
	if math.Abs(dot-1) > 1e-6 {
		t.Errorf("axis misaligned: %v", w)
	}
}

func TestInvRightJacobianSmallAngle(t *testing.T) {
	got := invRightJacobianSO3(r3.Vector{})
	checkMatApprox(t, "Jr inverse at zero", got, identity3(), 1e-12)
}

func TestInvRightJacobianMatchesNumeric(t *testing.T) {
	// Jr(ω) satisfies Log(Exp(ω)·Exp(δ)) ≈ ω + Jr⁻¹(ω)·δ.
	w := r3.Vector{X: 0.4, Y: -0.1, Z: 0.3}
	R := expSO3(w)

	const eps = 1e-7
	numeric := mat.NewDense(3, 3, nil)
	for col := 0; col < 3; col++ {
		d := r3.Vector{}
		switch col {
		case 0:
			d.X = eps
		case 1:
			d.Y = eps
		case 2:
			d.Z = eps
		}
		var perturbed mat.Dense
		perturbed.Mul(R, expSO3(d))
		wPlus := logSO3(&perturbed)
		numeric.Set(0, col, (wPlus.X-w.X)/eps)
		numeric.Set(1, col, (wPlus.Y-w.Y)/eps)
		numeric.Set(2, col, (wPlus.Z-w.Z)/eps)
	}

	checkMatApprox(t, "Jr inverse", invRightJacobianSO3(w), numeric, 1e-5)
}

func TestRetract(t *testing.T) {
	p := testPose(1, 2, 3, r3.Vector{Z: 1}, 0.5)

	same, err := Retract(p, make([]float64, 6))
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	if !spatialmath.PoseAlmostEqualEps(same, p, 1e-9) {
		t.Errorf("zero retraction moved the pose: %v vs %v", same, p)
	}

	// A pure translation moves the point by R·v.
	moved, err := Retract(p, []float64{0, 0, 0, 1, 0, 0})
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	want := p.Point().Add(mulVec3(rotationMatrix(p), r3.Vector{X: 1}))
	if moved.Point().Sub(want).Norm() > 1e-9 {
		t.Errorf("translated point = %v, want %v", moved.Point(), want)
	}

	if _, err := Retract(p, []float64{1, 2, 3}); err == nil {
		t.Error("expected dimension error for short tangent vector")
	}
}

func TestAdjointIdentity(t *testing.T) {
	ad := adjoint(spatialmath.NewZeroPose())
	want := mat.NewDense(6, 6, nil)
	for i := 0; i < 6; i++ {
		want.Set(i, i, 1)
	}
	checkMatApprox(t, "adjoint of identity", ad, want, 1e-12)
}

func TestAdjointConjugation(t *testing.T) {
	// First-order check of Exp(Ad_T·ξ) = T·Exp(ξ)·T⁻¹ on the translation
	// part with a pure rotation tangent.
	T := testPose(1, -2, 0.5, r3.Vector{X: 1, Y: 1, Z: 0}, 0.7)
	ad := adjoint(T)

	const eps = 1e-7
	xi := []float64{eps, 0, 0, 0, 0, 0}
	inner, err := Retract(spatialmath.NewZeroPose(), xi)
	if err != nil {
		t.Fatalf("retract: %v", err)
	}
	conj := spatialmath.Compose(spatialmath.Compose(T, inner), spatialmath.PoseInverse(T))

	gotTrans := conj.Point().Mul(1 / eps)
	wantTrans := r3.Vector{X: ad.At(3, 0), Y: ad.At(4, 0), Z: ad.At(5, 0)}
	if gotTrans.Sub(wantTrans).Norm() > 1e-5 {
		t.Errorf("adjoint translation column = %v, want %v", gotTrans, wantTrans)
	}
}
