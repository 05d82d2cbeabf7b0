package posefactor

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

func testBox(center r3.Vector) BoundingBox {
	return BoundingBox{
		Pose:      spatialmath.NewPoseFromPoint(center),
		Dims:      r3.Vector{X: 2, Y: 1, Z: 1.5},
		Label:     "car",
		Score:     0.9,
		FrameID:   "lidar",
		Timestamp: time.Unix(1700000000, 0),
	}
}

func TestNewDetection(t *testing.T) {
	box := testBox(r3.Vector{X: 1, Y: 2, Z: 3})
	d, err := NewDetection(box, r3.Vector{X: 0.1, Y: 0.2, Z: 0.5}, 2)
	if err != nil {
		t.Fatalf("NewDetection: %v", err)
	}

	if d.Mean() != (r3.Vector{X: 1, Y: 2, Z: 3}) {
		t.Errorf("mean = %v", d.Mean())
	}
	if d.Weight() != 2 {
		t.Errorf("weight = %v", d.Weight())
	}
	if got := d.VarianceVector(); math.Abs(got.X-0.01) > 1e-12 || math.Abs(got.Y-0.04) > 1e-12 || math.Abs(got.Z-0.25) > 1e-12 {
		t.Errorf("variances = %v", got)
	}
	if d.BoundingBox().Label != "car" {
		t.Errorf("bounding box not retained: %+v", d.BoundingBox())
	}

	var prod mat.Dense
	prod.Mul(d.InformationMatrix(), d.VarianceMatrix())
	checkMatApprox(t, "information * covariance", &prod,
		mat.NewDense(3, 3, []float64{1, 0, 0, 0, 1, 0, 0, 0, 1}), 1e-9)

	sqrt := d.SqrtInformationMatrix()
	var utu mat.Dense
	utu.Mul(sqrt.T(), sqrt)
	checkMatApprox(t, "sqrtInfoT * sqrtInfo", &utu, d.InformationMatrix(), 1e-9)

	if d.Noise().Dim() != 3 {
		t.Errorf("noise dim = %d", d.Noise().Dim())
	}
}

func TestNewDetectionInvalid(t *testing.T) {
	box := testBox(r3.Vector{})

	if _, err := NewDetection(box, r3.Vector{X: 0.1, Y: 0, Z: 0.1}, 1); !errors.Is(err, ErrInvalidCovariance) {
		t.Errorf("zero sigma: got %v, want ErrInvalidCovariance", err)
	}
	if _, err := NewDetection(box, r3.Vector{X: 0.1, Y: -0.1, Z: 0.1}, 1); !errors.Is(err, ErrInvalidCovariance) {
		t.Errorf("negative sigma: got %v, want ErrInvalidCovariance", err)
	}
	if _, err := NewIsotropicDetection(box, 0, 1); !errors.Is(err, ErrInvalidCovariance) {
		t.Errorf("zero isotropic sigma: got %v, want ErrInvalidCovariance", err)
	}
	if _, err := NewIsotropicDetection(box, 0.1, -1); !errors.Is(err, ErrInvalidWeight) {
		t.Errorf("negative weight: got %v, want ErrInvalidWeight", err)
	}
}

func TestDetectionEnergy(t *testing.T) {
	d, err := NewIsotropicDetection(testBox(r3.Vector{X: 1}), 0.5, 1)
	if err != nil {
		t.Fatalf("NewIsotropicDetection: %v", err)
	}

	// At the mean the energy is exactly gamma.
	if got := d.Energy(r3.Vector{X: 1}, 0.25); got != 0.25 {
		t.Errorf("energy at mean = %v, want 0.25", got)
	}

	// One unit away along x: ½·(1/0.25) = 2.
	if got := d.Energy(r3.Vector{X: 2}, 0); math.Abs(got-2) > 1e-12 {
		t.Errorf("energy = %v, want 2", got)
	}

	// Energy matches the quadratic form through the information matrix.
	x := r3.Vector{X: 0.3, Y: -0.7, Z: 1.1}
	diff := x.Sub(d.Mean())
	dv := mat.NewVecDense(3, []float64{diff.X, diff.Y, diff.Z})
	var tmp mat.VecDense
	tmp.MulVec(d.InformationMatrix(), dv)
	want := 0.5 * mat.Dot(&tmp, dv)
	if got := d.Energy(x, 0); math.Abs(got-want) > 1e-12 {
		t.Errorf("energy = %v, want %v", got, want)
	}
}

func TestDetectionPose(t *testing.T) {
	d, err := NewIsotropicDetection(testBox(r3.Vector{X: 4, Y: 5, Z: 6}), 0.1, 1)
	if err != nil {
		t.Fatalf("NewIsotropicDetection: %v", err)
	}
	pose := d.Pose()
	if pose.Point() != (r3.Vector{X: 4, Y: 5, Z: 6}) {
		t.Errorf("pose point = %v", pose.Point())
	}
	if !spatialmath.PoseAlmostEqualEps(pose, spatialmath.NewPoseFromPoint(pose.Point()), 1e-9) {
		t.Error("pose rotation should be identity")
	}
}

func TestDetectionEquals(t *testing.T) {
	a, _ := NewIsotropicDetection(testBox(r3.Vector{X: 1}), 0.1, 1)
	b, _ := NewIsotropicDetection(testBox(r3.Vector{X: 1}), 0.1, 1)
	c, _ := NewIsotropicDetection(testBox(r3.Vector{X: 1.5}), 0.1, 1)
	w, _ := NewIsotropicDetection(testBox(r3.Vector{X: 1}), 0.1, 3)

	if !a.Equals(b, 1e-9) {
		t.Error("identical detections should be equal")
	}
	if a.Equals(c, 1e-9) {
		t.Error("different means should not be equal")
	}
	if a.Equals(w, 1e-9) {
		t.Error("different weights should not be equal")
	}
	if !a.Equals(c, 1) {
		t.Error("means differing by 0.5 should be equal at tolerance 1")
	}
}
