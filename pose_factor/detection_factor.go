package posefactor

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"

	"go.viam.com/rdk/spatialmath"
)

// CouplingMode selects which variables participate in a detection factor's
// residual.
type CouplingMode int

const (
	// TightlyCoupled lets both the detection variable and the robot pose
	// receive non-zero Jacobian blocks, jointly refining the object state and
	// the trajectory from the same residual.
	TightlyCoupled CouplingMode = iota

	// LooselyCoupled treats the detection-variable estimate as a fixed
	// external measurement: its Jacobian block is identically zero and only
	// the robot pose is refined by this factor.
	LooselyCoupled
)

func (m CouplingMode) String() string {
	switch m {
	case TightlyCoupled:
		return "TightlyCoupled"
	case LooselyCoupled:
		return "LooselyCoupled"
	default:
		return fmt.Sprintf("CouplingMode(%d)", int(m))
	}
}

// DetectionFactor is a max-mixture constraint between a detection variable
// and a robot pose. It holds a fixed set of competing detection hypotheses;
// every evaluation selects the hypothesis with the lowest energy under the
// current estimates and linearizes around it alone, treating the mixture as
// locally unimodal at this iterate (Olson & Agarwal, 2013).
//
// The comparison coordinate is the translation of robotPose⁻¹∘detectionPose,
// i.e. the detection variable expressed in the robot body frame, matching
// the body-frame means of the detections. Because the winning hypothesis can
// change as estimates move, nothing is cached across evaluations.
type DetectionFactor struct {
	detectionKey Key
	robotPoseKey Key

	detections []Detection
	gammas     []float64
	zs         []r3.Vector

	mode CouplingMode
}

// NewDetectionFactor creates a max-mixture factor over the given hypotheses.
// Returns ErrDegenerateMixture if detections is empty: a factor that cannot
// select a winner must never reach the solver.
func NewDetectionFactor(detections []Detection, detectionKey, robotPoseKey Key, mode CouplingMode) (*DetectionFactor, error) {
	if len(detections) == 0 {
		return nil, ErrDegenerateMixture
	}

	dets := append([]Detection(nil), detections...)
	gammas := make([]float64, len(dets))
	zs := make([]r3.Vector, len(dets))
	for i, d := range dets {
		// γᵢ = −log(wᵢ) + ½·log(det(2π·Σᵢ)): the negative log of the
		// weighted Gaussian normalizing constant. Adding it to the
		// Mahalanobis term turns each energy into a true negative
		// log-likelihood, so energies are comparable across hypotheses.
		gammas[i] = -math.Log(d.Weight()) + d.logNormalization()
		zs[i] = d.Mean()
	}

	return &DetectionFactor{
		detectionKey: detectionKey,
		robotPoseKey: robotPoseKey,
		detections:   dets,
		gammas:       gammas,
		zs:           zs,
		mode:         mode,
	}, nil
}

// Keys returns the detection key followed by the robot pose key.
func (f *DetectionFactor) Keys() []Key {
	return []Key{f.detectionKey, f.robotPoseKey}
}

// Dim returns the residual dimension.
func (f *DetectionFactor) Dim() int { return 3 }

// Mode returns the coupling mode.
func (f *DetectionFactor) Mode() CouplingMode { return f.mode }

// Detections returns a copy of the hypothesis set.
func (f *DetectionFactor) Detections() []Detection {
	return append([]Detection(nil), f.detections...)
}

// DetectionIndexAndError evaluates every hypothesis against the relative
// pose robotPose⁻¹∘detectionPose and returns the index and energy of the
// minimum-energy (maximum-likelihood) hypothesis. Ties break to the lowest
// index so selection is deterministic.
func (f *DetectionFactor) DetectionIndexAndError(relative spatialmath.Pose) (int, float64) {
	x := relative.Point()

	bestIdx := 0
	bestEnergy := f.detections[0].Energy(x, f.gammas[0])
	for i := 1; i < len(f.detections); i++ {
		if e := f.detections[i].Energy(x, f.gammas[i]); e < bestEnergy {
			bestEnergy = e
			bestIdx = i
		}
	}
	return bestIdx, bestEnergy
}

// DetectionIndexAndErrorFromValues extracts both variable estimates, derives
// the relative pose, and selects the winning hypothesis.
func (f *DetectionFactor) DetectionIndexAndErrorFromValues(values *Values) (int, float64, error) {
	rel, err := f.relativePose(values)
	if err != nil {
		return 0, 0, err
	}
	idx, energy := f.DetectionIndexAndError(rel)
	return idx, energy, nil
}

// Error returns twice the winning hypothesis's energy: the Mahalanobis term
// plus its normalization constant, in the solver's sum-of-squares
// convention.
func (f *DetectionFactor) Error(values *Values) (float64, error) {
	_, energy, err := f.DetectionIndexAndErrorFromValues(values)
	if err != nil {
		return 0, err
	}
	return 2 * energy, nil
}

// Linearize selects the winning hypothesis at the current estimates and
// returns the whitened residual and Jacobian blocks around it. The detection
// block is identically zero under LooselyCoupled.
func (f *DetectionFactor) Linearize(values *Values) (*LinearFactor, error) {
	detectionPose, err := f.DetectionValue(values)
	if err != nil {
		return nil, err
	}
	robotPose, err := f.RobotPoseValue(values)
	if err != nil {
		return nil, err
	}

	rel := spatialmath.PoseBetween(robotPose, detectionPose)
	x := rel.Point()
	idx, _ := f.DetectionIndexAndError(rel)
	winner := f.detections[idx]

	// Whitened residual r = U·(x − μ) for the winning hypothesis.
	diff := x.Sub(f.zs[idx])
	residual := mat.NewVecDense(3, nil)
	residual.MulVec(winner.sqrtInfo, mat.NewVecDense(3, []float64{diff.X, diff.Y, diff.Z}))

	// x = Rᵣᵀ·(t_d − tᵣ) under right perturbations gives
	// ∂x/∂ξᵣ = [x̂ | −I] and ∂x/∂ξ_d = [0 | Rᵣᵀ·R_d].
	jRobot := mat.NewDense(3, 6, nil)
	xHat := skew(x)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			jRobot.Set(i, j, xHat.At(i, j))
		}
		jRobot.Set(i, i+3, -1)
	}

	jDetection := mat.NewDense(3, 6, nil)
	if f.mode == TightlyCoupled {
		var relRot mat.Dense
		relRot.Mul(rotationMatrix(robotPose).T(), rotationMatrix(detectionPose))
		for i := 0; i < 3; i++ {
			for j := 0; j < 3; j++ {
				jDetection.Set(i, j+3, relRot.At(i, j))
			}
		}
	}

	var wRobot, wDetection mat.Dense
	wRobot.Mul(winner.sqrtInfo, jRobot)
	wDetection.Mul(winner.sqrtInfo, jDetection)

	return &LinearFactor{
		Keys:      f.Keys(),
		Jacobians: []*mat.Dense{&wDetection, &wRobot},
		Residual:  residual,
	}, nil
}

// Clone returns an independent copy. Detections are immutable values, so the
// copy shares no mutable state with the original.
func (f *DetectionFactor) Clone() Factor {
	clone := *f
	clone.detections = append([]Detection(nil), f.detections...)
	clone.gammas = append([]float64(nil), f.gammas...)
	clone.zs = append([]r3.Vector(nil), f.zs...)
	return &clone
}

// Equals reports whether the other factor is a DetectionFactor with the same
// keys, mode, and detections within the tolerance.
func (f *DetectionFactor) Equals(other Factor, tol float64) bool {
	o, ok := other.(*DetectionFactor)
	if !ok {
		return false
	}
	if f.detectionKey != o.detectionKey || f.robotPoseKey != o.robotPoseKey || f.mode != o.mode {
		return false
	}
	if len(f.detections) != len(o.detections) {
		return false
	}
	for i := range f.detections {
		if !f.detections[i].Equals(o.detections[i], tol) {
			return false
		}
	}
	return true
}

// Format renders the factor with the given key formatter.
func (f *DetectionFactor) Format(kf KeyFormatter) string {
	if kf == nil {
		kf = DefaultKeyFormatter
	}
	var b strings.Builder
	fmt.Fprintf(&b, "DetectionFactor(%s,%s) mode=%s detections=%d",
		kf(f.detectionKey), kf(f.robotPoseKey), f.mode, len(f.detections))
	for i, d := range f.detections {
		m := d.Mean()
		fmt.Fprintf(&b, "\n  [%d] mean=(%.3f, %.3f, %.3f) weight=%.3f gamma=%.3f",
			i, m.X, m.Y, m.Z, d.Weight(), f.gammas[i])
	}
	return b.String()
}

func (f *DetectionFactor) String() string {
	return f.Format(DefaultKeyFormatter)
}

// DetectionValue returns the current estimate of the detection variable.
func (f *DetectionFactor) DetectionValue(values *Values) (spatialmath.Pose, error) {
	return values.Pose(f.detectionKey)
}

// RobotPoseValue returns the current estimate of the robot pose variable.
func (f *DetectionFactor) RobotPoseValue(values *Values) (spatialmath.Pose, error) {
	return values.Pose(f.robotPoseKey)
}

func (f *DetectionFactor) relativePose(values *Values) (spatialmath.Pose, error) {
	detectionPose, err := f.DetectionValue(values)
	if err != nil {
		return nil, err
	}
	robotPose, err := f.RobotPoseValue(values)
	if err != nil {
		return nil, err
	}
	return spatialmath.PoseBetween(robotPose, detectionPose), nil
}
